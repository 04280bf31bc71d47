package driver

import "fmt"

// VolumeBusyError is returned when a volume cannot be deleted because
// snapshots still depend on it.
type VolumeBusyError struct {
	Volume string
}

func (e *VolumeBusyError) Error() string {
	return fmt.Sprintf("volume %s is busy: snapshots still exist", e.Volume)
}

// SnapshotBusyError is returned when a snapshot cannot be deleted because
// cloned children still depend on it.
type SnapshotBusyError struct {
	Snapshot string
}

func (e *SnapshotBusyError) Error() string {
	return fmt.Sprintf("snapshot %s is busy: clones still depend on it", e.Snapshot)
}

// ImageUnacceptableError is returned when an image location cannot be used
// as a clone source.
type ImageUnacceptableError struct {
	Location string
	Reason   string
}

func (e *ImageUnacceptableError) Error() string {
	return fmt.Sprintf("image location %q unacceptable: %s", e.Location, e.Reason)
}
