package driver

// Volume identifies an RBD image managed by the driver together with its
// requested size. A zero SizeGiB means "smallest usable volume" on create
// and "keep the current size" on clone and restore paths.
type Volume struct {
	Name    string
	SizeGiB uint64
}

// Snapshot identifies a point-in-time snapshot of a volume.
type Snapshot struct {
	VolumeName string
	Name       string
}

const (
	// Version is reported in volume stats and by the CLI.
	Version = "1.1.0"

	// GiB is the unit volume sizes are expressed in externally.
	GiB = 1 << 30

	// minVolumeSize is the image size used when a volume is created with
	// size zero. RBD images cannot be empty and anything smaller is not
	// usable as a block device.
	minVolumeSize = 100 * 1024 * 1024
)
