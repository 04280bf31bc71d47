package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.srvlab.io/whiskey/rbd-volume-driver/pkg/config"
	"git.srvlab.io/whiskey/rbd-volume-driver/pkg/rbd"
)

func TestParseLocation(t *testing.T) {
	tests := []struct {
		name     string
		location string
		want     Location
		wantErr  string
	}{
		{
			name:     "valid",
			location: "rbd://fsid/images/base/snap-1",
			want:     Location{FSID: "fsid", Pool: "images", Image: "base", Snapshot: "snap-1"},
		},
		{
			name:     "percent encoded components",
			location: "rbd://fsid/my%20pool/my%2Fimage/snap",
			want:     Location{FSID: "fsid", Pool: "my pool", Image: "my/image", Snapshot: "snap"},
		},
		{
			name:     "not rbd",
			location: "http://example.com/image",
			wantErr:  "not stored in rbd",
		},
		{
			name:     "empty",
			location: "",
			wantErr:  "not stored in rbd",
		},
		{
			name:     "too few components",
			location: "rbd://fsid/images/base",
			wantErr:  "does not name an rbd snapshot",
		},
		{
			name:     "too many components",
			location: "rbd://fsid/images/base/snap/extra",
			wantErr:  "does not name an rbd snapshot",
		},
		{
			name:     "blank component",
			location: "rbd://fsid//base/snap",
			wantErr:  "blank components",
		},
		{
			name:     "bad escaping",
			location: "rbd://fsid/images/ba%zzse/snap",
			wantErr:  "malformed escaping",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := ParseLocation(tt.location)
			if tt.wantErr != "" {
				require.Error(t, err)
				var unacceptable *ImageUnacceptableError
				require.ErrorAs(t, err, &unacceptable)
				assert.Contains(t, unacceptable.Reason, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, loc)
		})
	}
}

func setupCloneSource(t *testing.T, cluster *rbd.FakeCluster, d *Driver) {
	t.Helper()
	cluster.AddPool("images")
	cluster.SeedImage("images", "base", []byte("golden image"))

	h, err := rbd.OpenImageHandle(d.connector, "base", rbd.OpenOptions{Pool: "images"})
	require.NoError(t, err)
	require.NoError(t, h.CreateSnapshot("snap-1"))
	require.NoError(t, h.ProtectSnapshot("snap-1"))
	h.Close()
}

func TestIsCloneable(t *testing.T) {
	cluster := rbd.NewFakeCluster(true)
	cluster.SetFSID("d19ae032-5f3d-4b4a-b8a5-11ae8d5b815d")

	d := newTestDriver(t, cluster, config.Options{}, nil)
	setupCloneSource(t, cluster, d)

	assert.True(t, d.IsCloneable("rbd://d19ae032-5f3d-4b4a-b8a5-11ae8d5b815d/images/base/snap-1"))
	assert.False(t, d.IsCloneable("rbd://other-cluster/images/base/snap-1"), "foreign cluster")
	assert.False(t, d.IsCloneable("rbd://d19ae032-5f3d-4b4a-b8a5-11ae8d5b815d/images/missing/snap-1"), "missing image")
	assert.False(t, d.IsCloneable("rbd://d19ae032-5f3d-4b4a-b8a5-11ae8d5b815d/images/base/missing"), "missing snapshot")
	assert.False(t, d.IsCloneable("http://example.com/image"), "not an rbd location")
	assert.Equal(t, cluster.ConnectCount(), cluster.ShutdownCount(), "probes release their connections")
}

func TestCloneImage(t *testing.T) {
	cluster := rbd.NewFakeCluster(true)
	cluster.SetFSID("d19ae032-5f3d-4b4a-b8a5-11ae8d5b815d")

	d := newTestDriver(t, cluster, config.Options{}, nil)
	setupCloneSource(t, cluster, d)

	cloned, err := d.CloneImage(Volume{Name: "volume-1", SizeGiB: 1},
		"rbd://d19ae032-5f3d-4b4a-b8a5-11ae8d5b815d/images/base/snap-1")
	require.NoError(t, err)
	assert.True(t, cloned)
	assert.True(t, cluster.ImageExists("rbd", "volume-1"))
	assert.Equal(t, uint64(1<<30), cluster.ImageSize("rbd", "volume-1"))
}

func TestCloneImageFallsBack(t *testing.T) {
	cluster := rbd.NewFakeCluster(true)
	d := newTestDriver(t, cluster, config.Options{}, nil)

	cloned, err := d.CloneImage(Volume{Name: "volume-1"}, "")
	require.NoError(t, err)
	assert.False(t, cloned, "empty location is not cloneable")

	cloned, err = d.CloneImage(Volume{Name: "volume-1"}, "rbd://other/images/base/snap-1")
	require.NoError(t, err)
	assert.False(t, cloned, "foreign cluster is not cloneable")
	assert.False(t, cluster.ImageExists("rbd", "volume-1"))
}
