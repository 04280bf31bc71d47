package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.srvlab.io/whiskey/rbd-volume-driver/pkg/config"
	"git.srvlab.io/whiskey/rbd-volume-driver/pkg/rbd"
)

func TestCreateVolumeSizes(t *testing.T) {
	tests := []struct {
		name     string
		vol      Volume
		wantSize uint64
	}{
		{"zero size gets minimum", Volume{Name: "volume-0"}, 100 * 1024 * 1024},
		{"one GiB", Volume{Name: "volume-1", SizeGiB: 1}, 1 << 30},
		{"ten GiB", Volume{Name: "volume-10", SizeGiB: 10}, 10 << 30},
	}

	cluster := rbd.NewFakeCluster(true)
	d := newTestDriver(t, cluster, config.Options{}, nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, d.CreateVolume(tt.vol))
			assert.Equal(t, tt.wantSize, cluster.ImageSize("rbd", tt.vol.Name))
		})
	}
}

func TestCreateVolumeReleasesConnection(t *testing.T) {
	cluster := rbd.NewFakeCluster(true)
	d := newTestDriver(t, cluster, config.Options{}, nil)

	require.NoError(t, d.CreateVolume(Volume{Name: "volume-1", SizeGiB: 1}))
	assert.Equal(t, cluster.ConnectCount(), cluster.ShutdownCount())
	assert.Equal(t, cluster.PoolOpenCount(), cluster.PoolCloseCount())
}

func TestCreateVolumeExists(t *testing.T) {
	cluster := rbd.NewFakeCluster(true)
	d := newTestDriver(t, cluster, config.Options{}, nil)

	require.NoError(t, d.CreateVolume(Volume{Name: "volume-1", SizeGiB: 1}))
	err := d.CreateVolume(Volume{Name: "volume-1", SizeGiB: 1})
	assert.ErrorIs(t, err, rbd.ErrImageExists)
}

func TestSnapshotLifecycle(t *testing.T) {
	cluster := rbd.NewFakeCluster(true)
	d := newTestDriver(t, cluster, config.Options{}, nil)

	require.NoError(t, d.CreateVolume(Volume{Name: "volume-1", SizeGiB: 1}))

	snap := Snapshot{VolumeName: "volume-1", Name: "snap-1"}
	require.NoError(t, d.CreateSnapshot(snap))
	assert.True(t, cluster.SnapshotExists("rbd", "volume-1", "snap-1"))
	assert.True(t, cluster.SnapshotProtected("rbd", "volume-1", "snap-1"),
		"snapshots on layered backends are protected at creation")

	require.NoError(t, d.DeleteSnapshot(snap))
	assert.False(t, cluster.SnapshotExists("rbd", "volume-1", "snap-1"))
}

func TestSnapshotNotProtectedWithoutLayering(t *testing.T) {
	cluster := rbd.NewFakeCluster(false)
	d := newTestDriver(t, cluster, config.Options{}, nil)

	require.NoError(t, d.CreateVolume(Volume{Name: "volume-1", SizeGiB: 1}))
	snap := Snapshot{VolumeName: "volume-1", Name: "snap-1"}
	require.NoError(t, d.CreateSnapshot(snap))
	assert.False(t, cluster.SnapshotProtected("rbd", "volume-1", "snap-1"))
	require.NoError(t, d.DeleteSnapshot(snap))
}

func TestDeleteVolumeBusy(t *testing.T) {
	cluster := rbd.NewFakeCluster(true)
	d := newTestDriver(t, cluster, config.Options{}, nil)

	require.NoError(t, d.CreateVolume(Volume{Name: "volume-1", SizeGiB: 1}))
	require.NoError(t, d.CreateSnapshot(Snapshot{VolumeName: "volume-1", Name: "snap-1"}))

	err := d.DeleteVolume("volume-1")
	var busy *VolumeBusyError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, "volume-1", busy.Volume)

	require.NoError(t, d.DeleteSnapshot(Snapshot{VolumeName: "volume-1", Name: "snap-1"}))
	require.NoError(t, d.DeleteVolume("volume-1"))
	assert.False(t, cluster.ImageExists("rbd", "volume-1"))
}

func TestDeleteVolumeNotFound(t *testing.T) {
	cluster := rbd.NewFakeCluster(true)
	d := newTestDriver(t, cluster, config.Options{}, nil)

	err := d.DeleteVolume("volume-missing")
	assert.ErrorIs(t, err, rbd.ErrImageNotFound)
}

func TestCreateVolumeFromSnapshot(t *testing.T) {
	cluster := rbd.NewFakeCluster(true)
	d := newTestDriver(t, cluster, config.Options{}, nil)

	require.NoError(t, d.CreateVolume(Volume{Name: "volume-1", SizeGiB: 1}))
	require.NoError(t, d.CreateSnapshot(Snapshot{VolumeName: "volume-1", Name: "snap-1"}))

	vol := Volume{Name: "volume-2", SizeGiB: 2}
	require.NoError(t, d.CreateVolumeFromSnapshot(vol, Snapshot{VolumeName: "volume-1", Name: "snap-1"}))
	assert.True(t, cluster.ImageExists("rbd", "volume-2"))
	assert.True(t, cluster.HasParent("rbd", "volume-2"), "clone keeps a parent link")
	assert.Equal(t, uint64(2<<30), cluster.ImageSize("rbd", "volume-2"), "clone grown to requested size")
}

func TestCreateVolumeFromSnapshotFlattens(t *testing.T) {
	cluster := rbd.NewFakeCluster(true)
	d := newTestDriver(t, cluster, config.Options{FlattenOnSnapshotClone: true}, nil)

	require.NoError(t, d.CreateVolume(Volume{Name: "volume-1", SizeGiB: 1}))
	require.NoError(t, d.CreateSnapshot(Snapshot{VolumeName: "volume-1", Name: "snap-1"}))

	require.NoError(t, d.CreateVolumeFromSnapshot(Volume{Name: "volume-2"}, Snapshot{VolumeName: "volume-1", Name: "snap-1"}))
	assert.False(t, cluster.HasParent("rbd", "volume-2"), "flatten severs the parent link")

	// with no surviving clones the source snapshot can be deleted right away
	require.NoError(t, d.DeleteSnapshot(Snapshot{VolumeName: "volume-1", Name: "snap-1"}))
}

func TestDeleteSnapshotBusyWithClones(t *testing.T) {
	cluster := rbd.NewFakeCluster(true)
	d := newTestDriver(t, cluster, config.Options{}, nil)

	require.NoError(t, d.CreateVolume(Volume{Name: "volume-1", SizeGiB: 1}))
	require.NoError(t, d.CreateSnapshot(Snapshot{VolumeName: "volume-1", Name: "snap-1"}))
	require.NoError(t, d.CreateVolumeFromSnapshot(Volume{Name: "volume-2"}, Snapshot{VolumeName: "volume-1", Name: "snap-1"}))

	err := d.DeleteSnapshot(Snapshot{VolumeName: "volume-1", Name: "snap-1"})
	var busy *SnapshotBusyError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, "snap-1", busy.Snapshot)
	assert.True(t, cluster.SnapshotExists("rbd", "volume-1", "snap-1"), "busy snapshot is left in place")

	require.NoError(t, d.Flatten("rbd", "volume-2"))
	require.NoError(t, d.DeleteSnapshot(Snapshot{VolumeName: "volume-1", Name: "snap-1"}))
}

func TestCloneVolumeAcrossPools(t *testing.T) {
	cluster := rbd.NewFakeCluster(true)
	cluster.AddPool("images")
	cluster.SeedImage("images", "base", []byte("golden image"))

	d := newTestDriver(t, cluster, config.Options{}, nil)

	h, err := rbd.OpenImageHandle(d.connector, "base", rbd.OpenOptions{Pool: "images"})
	require.NoError(t, err)
	require.NoError(t, h.CreateSnapshot("snap-1"))
	require.NoError(t, h.ProtectSnapshot("snap-1"))
	h.Close()

	require.NoError(t, d.CloneVolume("volume-1", "images", "base", "snap-1"))
	assert.True(t, cluster.ImageExists("rbd", "volume-1"))
	assert.Equal(t, []byte("golden image"), cluster.ImageData("rbd", "volume-1"))
	assert.Equal(t, cluster.ConnectCount(), cluster.ShutdownCount())
}

func TestCloneVolumeRefusesUnprotectedSnapshot(t *testing.T) {
	cluster := rbd.NewFakeCluster(true)
	cluster.AddPool("images")
	cluster.SeedImage("images", "base", []byte("golden image"))

	d := newTestDriver(t, cluster, config.Options{}, nil)

	h, err := rbd.OpenImageHandle(d.connector, "base", rbd.OpenOptions{Pool: "images"})
	require.NoError(t, err)
	require.NoError(t, h.CreateSnapshot("snap-1"))
	h.Close()

	err = d.CloneVolume("volume-1", "images", "base", "snap-1")
	assert.ErrorIs(t, err, rbd.ErrSnapshotUnprotected)
	assert.False(t, cluster.ImageExists("rbd", "volume-1"))
}

func TestCreateClonedVolume(t *testing.T) {
	cluster := rbd.NewFakeCluster(true)
	cluster.SeedImage("rbd", "volume-1", []byte("source contents"))
	d := newTestDriver(t, cluster, config.Options{}, nil)

	require.NoError(t, d.CreateClonedVolume(Volume{Name: "volume-2"}, Volume{Name: "volume-1"}))
	assert.True(t, cluster.ImageExists("rbd", "volume-2"))
	assert.Equal(t, []byte("source contents"), cluster.ImageData("rbd", "volume-2"))
	assert.False(t, cluster.HasParent("rbd", "volume-2"), "a full copy has no parent link")
	assert.Equal(t, cluster.ConnectCount(), cluster.ShutdownCount())
}

func TestCreateClonedVolumeGrows(t *testing.T) {
	cluster := rbd.NewFakeCluster(true)
	d := newTestDriver(t, cluster, config.Options{}, nil)

	require.NoError(t, d.CreateVolume(Volume{Name: "volume-1", SizeGiB: 1}))
	require.NoError(t, d.CreateClonedVolume(Volume{Name: "volume-2", SizeGiB: 2}, Volume{Name: "volume-1"}))
	assert.Equal(t, uint64(2<<30), cluster.ImageSize("rbd", "volume-2"))
	assert.Equal(t, uint64(1<<30), cluster.ImageSize("rbd", "volume-1"), "source untouched")
}

func TestCreateClonedVolumeErrors(t *testing.T) {
	cluster := rbd.NewFakeCluster(true)
	d := newTestDriver(t, cluster, config.Options{}, nil)

	err := d.CreateClonedVolume(Volume{Name: "volume-2"}, Volume{Name: "volume-missing"})
	assert.ErrorIs(t, err, rbd.ErrImageNotFound)

	require.NoError(t, d.CreateVolume(Volume{Name: "volume-1", SizeGiB: 1}))
	require.NoError(t, d.CreateVolume(Volume{Name: "volume-2", SizeGiB: 1}))
	err = d.CreateClonedVolume(Volume{Name: "volume-2"}, Volume{Name: "volume-1"})
	assert.ErrorIs(t, err, rbd.ErrImageExists)
	assert.Equal(t, cluster.ConnectCount(), cluster.ShutdownCount(), "failures release their connections")
}

func TestResizeAndExtendVolume(t *testing.T) {
	cluster := rbd.NewFakeCluster(true)
	d := newTestDriver(t, cluster, config.Options{}, nil)

	require.NoError(t, d.CreateVolume(Volume{Name: "volume-1", SizeGiB: 1}))

	require.NoError(t, d.ResizeVolume(Volume{Name: "volume-1", SizeGiB: 3}, 0))
	assert.Equal(t, uint64(3<<30), cluster.ImageSize("rbd", "volume-1"))

	require.NoError(t, d.ExtendVolume(Volume{Name: "volume-1", SizeGiB: 3}, 5))
	assert.Equal(t, uint64(5<<30), cluster.ImageSize("rbd", "volume-1"))
}
