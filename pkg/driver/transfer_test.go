package driver

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.srvlab.io/whiskey/rbd-volume-driver/pkg/config"
	"git.srvlab.io/whiskey/rbd-volume-driver/pkg/rbd"
	"git.srvlab.io/whiskey/rbd-volume-driver/pkg/stream"
)

func TestCopyImageToVolume(t *testing.T) {
	cluster := rbd.NewFakeCluster(true)
	runner := &fakeRunner{}
	d := newTestDriver(t, cluster, config.Options{TmpDir: t.TempDir()}, runner)

	require.NoError(t, d.CreateVolume(Volume{Name: "volume-1", SizeGiB: 1}))

	var fetched string
	err := d.CopyImageToVolume(Volume{Name: "volume-1"}, func(path string) error {
		fetched = path
		return os.WriteFile(path, []byte("image bits"), 0o600)
	})
	require.NoError(t, err)

	assert.False(t, cluster.ImageExists("rbd", "volume-1"),
		"placeholder removed; the imported image lives outside the fake")
	require.Len(t, runner.commands, 1)
	assert.Contains(t, runner.commands[0], "rbd import --pool rbd")
	assert.Contains(t, runner.commands[0], fetched)
	assert.Contains(t, runner.commands[0], "--new-format")
	_, err = os.Stat(fetched)
	assert.True(t, os.IsNotExist(err), "scratch file removed")
}

func TestCopyImageToVolumeFetchFailure(t *testing.T) {
	cluster := rbd.NewFakeCluster(true)
	runner := &fakeRunner{}
	d := newTestDriver(t, cluster, config.Options{TmpDir: t.TempDir()}, runner)

	require.NoError(t, d.CreateVolume(Volume{Name: "volume-1", SizeGiB: 1}))

	err := d.CopyImageToVolume(Volume{Name: "volume-1"}, func(path string) error {
		return fmt.Errorf("download failed")
	})
	require.Error(t, err)
	assert.True(t, cluster.ImageExists("rbd", "volume-1"), "placeholder kept when the fetch fails")
	assert.Empty(t, runner.commands, "no import attempted")
}

func TestCopyVolumeToImage(t *testing.T) {
	cluster := rbd.NewFakeCluster(true)
	runner := &fakeRunner{}
	d := newTestDriver(t, cluster, config.Options{TmpDir: t.TempDir(), User: "volumes"}, runner)

	var uploaded string
	err := d.CopyVolumeToImage(Volume{Name: "volume-1"}, "image-7", func(path string) error {
		uploaded = path
		return nil
	})
	require.NoError(t, err)

	assert.Contains(t, uploaded, "volume-1-image-7")
	require.Len(t, runner.commands, 1)
	assert.Contains(t, runner.commands[0], "rbd export --pool rbd volume-1")
	assert.Contains(t, runner.commands[0], "--id volumes")
}

func TestCopyVolumeToImageGeneratesID(t *testing.T) {
	cluster := rbd.NewFakeCluster(true)
	d := newTestDriver(t, cluster, config.Options{TmpDir: t.TempDir()}, &fakeRunner{})

	var uploaded string
	err := d.CopyVolumeToImage(Volume{Name: "volume-1"}, "", func(path string) error {
		uploaded = path
		return nil
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uploaded, d.opts.TmpDir))
	assert.Greater(t, len(filepath.Base(uploaded)), len("volume-1-"), "an id was generated")
}

func TestCopyVolumeToImageUploadFailureRemovesScratch(t *testing.T) {
	cluster := rbd.NewFakeCluster(true)
	d := newTestDriver(t, cluster, config.Options{TmpDir: t.TempDir()}, &fakeRunner{})

	var scratch string
	err := d.CopyVolumeToImage(Volume{Name: "volume-1"}, "image-7", func(path string) error {
		scratch = path
		require.NoError(t, os.WriteFile(path, []byte("exported"), 0o600))
		return fmt.Errorf("upload failed")
	})
	require.Error(t, err)
	_, statErr := os.Stat(scratch)
	assert.True(t, os.IsNotExist(statErr), "scratch file removed after failed upload")
}

func TestBackupAndRestoreVolume(t *testing.T) {
	cluster := rbd.NewFakeCluster(true)
	cluster.SeedImage("rbd", "volume-1", []byte("volume contents"))
	d := newTestDriver(t, cluster, config.Options{}, nil)

	var backedUp []byte
	err := d.BackupVolume("volume-1", func(s *stream.Stream) error {
		var readErr error
		backedUp, readErr = io.ReadAll(s)
		return readErr
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("volume contents"), backedUp)

	cluster.SeedImage("rbd", "volume-2", make([]byte, len(backedUp)))
	err = d.RestoreBackup("volume-2", func(s *stream.Stream) error {
		_, writeErr := s.Write(backedUp)
		return writeErr
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("volume contents"), cluster.ImageData("rbd", "volume-2"))
	assert.Equal(t, cluster.ConnectCount(), cluster.ShutdownCount())
}

func TestBackupVolumeMissing(t *testing.T) {
	cluster := rbd.NewFakeCluster(true)
	d := newTestDriver(t, cluster, config.Options{}, nil)

	err := d.BackupVolume("volume-missing", func(s *stream.Stream) error { return nil })
	require.Error(t, err)
	var openErr *rbd.ImageOpenError
	assert.ErrorAs(t, err, &openErr)
}
