package driver

import (
	"errors"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/rbd-volume-driver/pkg/rbd"
)

// imageSizeBytes converts the requested volume size to an image size in
// bytes. Zero-sized volumes get the minimum usable image.
func imageSizeBytes(vol Volume) uint64 {
	if vol.SizeGiB == 0 {
		return minVolumeSize
	}
	return vol.SizeGiB * GiB
}

// CreateVolume creates an empty RBD image for the volume. When the backend
// supports layering the image is created in the layered format so it can
// later serve as a clone parent; otherwise a legacy format image is
// created and snapshots of it will not be cloneable.
func (d *Driver) CreateVolume(vol Volume) (err error) {
	start := time.Now()
	defer func() { d.observe("create_volume", start, err) }()

	size := imageSizeBytes(vol)
	if vol.SizeGiB == 0 {
		klog.V(2).Infof("Volume %s requested with size 0, creating with %d bytes", vol.Name, size)
	}

	conn, err := d.connector.Connect("")
	if err != nil {
		return err
	}
	defer conn.Close()

	layered := d.connector.SupportsLayering()
	klog.V(4).Infof("Creating volume %s/%s size=%d layered=%t", conn.Pool().Name(), vol.Name, size, layered)
	if err := conn.Pool().CreateImage(vol.Name, size, layered); err != nil {
		return fmt.Errorf("error creating volume %s: %w", vol.Name, err)
	}
	return nil
}

// CloneVolume creates a copy-on-write clone of a protected snapshot in
// another pool. The source snapshot must already be protected; cloning an
// unprotected snapshot would allow its deletion to corrupt the clone.
func (d *Driver) CloneVolume(destName, srcPool, srcImage, srcSnap string) (err error) {
	start := time.Now()
	defer func() { d.observe("clone_volume", start, err) }()

	srcConn, err := d.connector.Connect(srcPool)
	if err != nil {
		return err
	}
	defer srcConn.Close()

	destConn, err := d.connector.Connect("")
	if err != nil {
		return err
	}
	defer destConn.Close()

	img, err := srcConn.Pool().OpenImage(srcImage, "", true)
	if err != nil {
		return fmt.Errorf("error opening clone source %s/%s: %w", srcPool, srcImage, err)
	}
	protected, err := img.IsSnapshotProtected(srcSnap)
	img.Close()
	if err != nil {
		return fmt.Errorf("error checking snapshot %s@%s: %w", srcImage, srcSnap, err)
	}
	if !protected {
		return fmt.Errorf("%w: cannot clone %s/%s@%s", rbd.ErrSnapshotUnprotected, srcPool, srcImage, srcSnap)
	}

	klog.V(4).Infof("Cloning %s/%s@%s to %s/%s", srcPool, srcImage, srcSnap, destConn.Pool().Name(), destName)
	if err := destConn.Pool().CloneImage(srcConn.Pool(), srcImage, srcSnap, destName); err != nil {
		return fmt.Errorf("error cloning %s/%s@%s: %w", srcPool, srcImage, srcSnap, err)
	}
	return nil
}

// CreateClonedVolume creates a full independent copy of an existing
// volume, no snapshot involved. The source is opened read-only for the
// duration of the copy. If the requested size is larger than the source
// the copy is grown to match.
func (d *Driver) CreateClonedVolume(dest, src Volume) (err error) {
	start := time.Now()
	defer func() { d.observe("create_cloned_volume", start, err) }()

	h, err := rbd.OpenImageHandle(d.connector, src.Name, rbd.OpenOptions{ReadOnly: true})
	if err != nil {
		return err
	}
	defer h.Close()

	klog.V(4).Infof("Copying volume %s to %s", src.Name, dest.Name)
	if err := h.Copy(h.Conn().Pool(), dest.Name); err != nil {
		return fmt.Errorf("error copying volume %s to %s: %w", src.Name, dest.Name, err)
	}

	if dest.SizeGiB != 0 {
		if err := d.ResizeVolume(dest, 0); err != nil {
			return err
		}
	}
	return nil
}

// Flatten copies all data from a clone's parent into the clone, severing
// the copy-on-write dependency on the parent snapshot.
func (d *Driver) Flatten(pool, name string) error {
	h, err := rbd.OpenImageHandle(d.connector, name, rbd.OpenOptions{Pool: pool})
	if err != nil {
		return err
	}
	defer h.Close()

	klog.V(4).Infof("Flattening image %s/%s", pool, name)
	if err := h.Flatten(); err != nil {
		return fmt.Errorf("error flattening %s/%s: %w", pool, name, err)
	}
	return nil
}

// CreateVolumeFromSnapshot creates a new volume as a clone of a snapshot.
// When flatten-on-clone is configured the clone is immediately detached
// from its parent. If the requested size is larger than the snapshot the
// clone is grown to match. Failures after the clone exists are returned
// as-is; the partially created volume is left for the caller to delete.
func (d *Driver) CreateVolumeFromSnapshot(vol Volume, snap Snapshot) (err error) {
	start := time.Now()
	defer func() { d.observe("create_volume_from_snapshot", start, err) }()

	if err := d.CloneVolume(vol.Name, d.opts.Pool, snap.VolumeName, snap.Name); err != nil {
		return err
	}
	if d.opts.FlattenOnSnapshotClone {
		if err := d.Flatten(d.opts.Pool, vol.Name); err != nil {
			return err
		}
	}
	if vol.SizeGiB != 0 {
		if err := d.ResizeVolume(vol, 0); err != nil {
			return err
		}
	}
	return nil
}

// ResizeVolume resizes the volume's image. sizeBytes takes precedence when
// nonzero; otherwise the volume's SizeGiB is used.
func (d *Driver) ResizeVolume(vol Volume, sizeBytes uint64) error {
	size := sizeBytes
	if size == 0 {
		size = vol.SizeGiB * GiB
	}

	h, err := rbd.OpenImageHandle(d.connector, vol.Name, rbd.OpenOptions{})
	if err != nil {
		return err
	}
	defer h.Close()

	if err := h.Resize(size); err != nil {
		return fmt.Errorf("error resizing volume %s to %d bytes: %w", vol.Name, size, err)
	}
	return nil
}

// ExtendVolume grows the volume to the new size.
func (d *Driver) ExtendVolume(vol Volume, newSizeGiB uint64) (err error) {
	start := time.Now()
	defer func() { d.observe("extend_volume", start, err) }()

	if err := d.ResizeVolume(vol, newSizeGiB*GiB); err != nil {
		klog.Errorf("Failed to extend volume %s: %v", vol.Name, err)
		return err
	}
	klog.V(2).Infof("Extended volume %s from %d GiB to %d GiB", vol.Name, vol.SizeGiB, newSizeGiB)
	return nil
}

// DeleteVolume removes the volume's image. A volume with snapshots cannot
// be removed and yields a VolumeBusyError so the caller can retry after
// deleting the snapshots.
func (d *Driver) DeleteVolume(name string) (err error) {
	start := time.Now()
	defer func() { d.observe("delete_volume", start, err) }()

	conn, err := d.connector.Connect("")
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Pool().RemoveImage(name); err != nil {
		if errors.Is(err, rbd.ErrImageHasSnapshots) {
			klog.V(2).Infof("Volume %s still has snapshots, reporting busy", name)
			return &VolumeBusyError{Volume: name}
		}
		return fmt.Errorf("error deleting volume %s: %w", name, err)
	}
	return nil
}

// CreateSnapshot creates a snapshot of the volume. On layered backends the
// snapshot is protected immediately so it can serve as a clone source.
func (d *Driver) CreateSnapshot(snap Snapshot) (err error) {
	start := time.Now()
	defer func() { d.observe("create_snapshot", start, err) }()

	h, err := rbd.OpenImageHandle(d.connector, snap.VolumeName, rbd.OpenOptions{})
	if err != nil {
		return err
	}
	defer h.Close()

	if err := h.CreateSnapshot(snap.Name); err != nil {
		return fmt.Errorf("error creating snapshot %s@%s: %w", snap.VolumeName, snap.Name, err)
	}
	if d.connector.SupportsLayering() {
		if err := h.ProtectSnapshot(snap.Name); err != nil {
			return fmt.Errorf("error protecting snapshot %s@%s: %w", snap.VolumeName, snap.Name, err)
		}
	}
	return nil
}

// DeleteSnapshot unprotects and removes a snapshot. A snapshot with
// surviving clone children cannot be unprotected and yields a
// SnapshotBusyError; flatten or delete the children first.
func (d *Driver) DeleteSnapshot(snap Snapshot) (err error) {
	start := time.Now()
	defer func() { d.observe("delete_snapshot", start, err) }()

	h, err := rbd.OpenImageHandle(d.connector, snap.VolumeName, rbd.OpenOptions{})
	if err != nil {
		return err
	}
	defer h.Close()

	if d.connector.SupportsLayering() {
		if err := h.UnprotectSnapshot(snap.Name); err != nil {
			switch {
			case errors.Is(err, rbd.ErrSnapshotBusy):
				klog.V(2).Infof("Snapshot %s@%s has dependent clones, reporting busy", snap.VolumeName, snap.Name)
				return &SnapshotBusyError{Snapshot: snap.Name}
			case errors.Is(err, rbd.ErrSnapshotUnprotected):
				klog.V(4).Infof("Snapshot %s@%s already unprotected", snap.VolumeName, snap.Name)
			default:
				return fmt.Errorf("error unprotecting snapshot %s@%s: %w", snap.VolumeName, snap.Name, err)
			}
		}
	}

	if err := h.RemoveSnapshot(snap.Name); err != nil {
		return fmt.Errorf("error deleting snapshot %s@%s: %w", snap.VolumeName, snap.Name, err)
	}
	return nil
}
