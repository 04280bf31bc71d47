package driver

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/rbd-volume-driver/pkg/rbd"
	"git.srvlab.io/whiskey/rbd-volume-driver/pkg/stream"
)

func (d *Driver) scratchDir() (string, error) {
	dir := d.opts.TmpDir
	if dir == "" {
		return os.TempDir(), nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating scratch directory %s: %w", dir, err)
	}
	return dir, nil
}

// CopyImageToVolume replaces the volume's contents with an image fetched
// by the caller. fetch must write the raw image to the path it is given.
// The import goes through the rbd tool, which preserves sparseness; the
// placeholder image created for the volume is removed first because
// import refuses to overwrite an existing image.
func (d *Driver) CopyImageToVolume(vol Volume, fetch func(path string) error) (err error) {
	start := time.Now()
	defer func() { d.observe("copy_image_to_volume", start, err) }()

	dir, err := d.scratchDir()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, vol.Name+"-")
	if err != nil {
		return fmt.Errorf("error creating scratch file: %w", err)
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	if err := fetch(path); err != nil {
		return fmt.Errorf("error fetching image for volume %s: %w", vol.Name, err)
	}

	if err := d.DeleteVolume(vol.Name); err != nil {
		return fmt.Errorf("error removing placeholder for volume %s: %w", vol.Name, err)
	}

	args := []string{"import", "--pool", d.opts.Pool, path, vol.Name}
	if d.connector.SupportsLayering() {
		args = append(args, "--new-format")
	}
	args = append(args, d.cephArgs()...)
	klog.V(4).Infof("Importing %s into %s/%s", path, d.opts.Pool, vol.Name)
	if _, err := d.runner.Run("rbd", args...); err != nil {
		return fmt.Errorf("error importing image into volume %s: %w", vol.Name, err)
	}

	if vol.SizeGiB > 0 {
		if err := d.ResizeVolume(vol, 0); err != nil {
			return err
		}
	}
	return nil
}

// CopyVolumeToImage exports the volume to a scratch file and hands it to
// the caller's upload function. The scratch file is removed afterwards
// whether or not the upload succeeds.
func (d *Driver) CopyVolumeToImage(vol Volume, imageID string, upload func(path string) error) (err error) {
	start := time.Now()
	defer func() { d.observe("copy_volume_to_image", start, err) }()

	dir, err := d.scratchDir()
	if err != nil {
		return err
	}
	if imageID == "" {
		imageID = uuid.NewString()
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s", vol.Name, imageID))
	defer os.Remove(path)

	args := append([]string{"export", "--pool", d.opts.Pool, vol.Name, path}, d.cephArgs()...)
	klog.V(4).Infof("Exporting %s/%s to %s", d.opts.Pool, vol.Name, path)
	if _, err := d.runner.Run("rbd", args...); err != nil {
		return fmt.Errorf("error exporting volume %s: %w", vol.Name, err)
	}

	if err := upload(path); err != nil {
		return fmt.Errorf("error uploading image of volume %s: %w", vol.Name, err)
	}
	return nil
}

// BackupVolume opens the volume read-only and hands the backup function a
// sequential stream over its contents.
func (d *Driver) BackupVolume(name string, backup func(*stream.Stream) error) (err error) {
	start := time.Now()
	defer func() { d.observe("backup_volume", start, err) }()

	h, err := rbd.OpenImageHandle(d.connector, name, rbd.OpenOptions{ReadOnly: true})
	if err != nil {
		return err
	}
	defer h.Close()

	s, err := stream.New(stream.Config{Image: h, Metrics: d.metrics})
	if err != nil {
		return err
	}
	if err := backup(s); err != nil {
		return fmt.Errorf("error backing up volume %s: %w", name, err)
	}
	return nil
}

// RestoreBackup opens the volume read-write and hands the restore function
// a sequential stream to write into. The image is flushed when the restore
// function returns successfully.
func (d *Driver) RestoreBackup(name string, restore func(*stream.Stream) error) (err error) {
	start := time.Now()
	defer func() { d.observe("restore_backup", start, err) }()

	h, err := rbd.OpenImageHandle(d.connector, name, rbd.OpenOptions{})
	if err != nil {
		return err
	}
	defer h.Close()

	s, err := stream.New(stream.Config{Image: h, Metrics: d.metrics})
	if err != nil {
		return err
	}
	if err := restore(s); err != nil {
		return fmt.Errorf("error restoring volume %s: %w", name, err)
	}
	return s.Flush()
}
