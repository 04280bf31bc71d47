package driver

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/rbd-volume-driver/pkg/rbd"
)

const locationPrefix = "rbd://"

// Location identifies a snapshot in a specific cluster, as encoded in an
// rbd://fsid/pool/image/snapshot URL.
type Location struct {
	FSID     string
	Pool     string
	Image    string
	Snapshot string
}

// ParseLocation parses an rbd:// image location. Each of the four
// components is percent-decoded. Malformed locations are rejected with an
// ImageUnacceptableError.
func ParseLocation(location string) (Location, error) {
	if !strings.HasPrefix(location, locationPrefix) {
		return Location{}, &ImageUnacceptableError{Location: location, Reason: "image is not stored in rbd"}
	}

	pieces := strings.Split(strings.TrimPrefix(location, locationPrefix), "/")
	for i, p := range pieces {
		if p == "" {
			return Location{}, &ImageUnacceptableError{Location: location, Reason: "location contains blank components"}
		}
		decoded, err := url.PathUnescape(p)
		if err != nil {
			return Location{}, &ImageUnacceptableError{Location: location, Reason: "location contains malformed escaping"}
		}
		pieces[i] = decoded
	}
	if len(pieces) != 4 {
		return Location{}, &ImageUnacceptableError{Location: location, Reason: "location does not name an rbd snapshot"}
	}

	return Location{FSID: pieces[0], Pool: pieces[1], Image: pieces[2], Snapshot: pieces[3]}, nil
}

// clusterID returns the fsid of the configured cluster.
func (d *Driver) clusterID() (string, error) {
	conn, err := d.connector.Connect("")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.Client().FSID()
}

// IsCloneable reports whether the image at the given location can be
// cloned directly: it must parse as an rbd snapshot, live in this cluster,
// and be readable. Any failure makes the location non-cloneable rather
// than an error, since the caller can always fall back to a full copy.
func (d *Driver) IsCloneable(location string) bool {
	loc, err := ParseLocation(location)
	if err != nil {
		klog.V(4).Infof("Location %q not cloneable: %v", location, err)
		return false
	}

	fsid, err := d.clusterID()
	if err != nil {
		klog.V(4).Infof("Unable to read cluster fsid: %v", err)
		return false
	}
	if fsid != loc.FSID {
		klog.V(4).Infof("Location %q belongs to cluster %s, not %s", location, loc.FSID, fsid)
		return false
	}

	h, err := rbd.OpenImageHandle(d.connector, loc.Image, rbd.OpenOptions{
		Pool:     loc.Pool,
		Snapshot: loc.Snapshot,
		ReadOnly: true,
	})
	if err != nil {
		klog.V(4).Infof("Unable to open %s/%s@%s for read: %v", loc.Pool, loc.Image, loc.Snapshot, err)
		return false
	}
	h.Close()
	return true
}

// CloneImage creates the volume as a clone of the image at the given
// location. It returns false without error when the location cannot be
// cloned, so the caller can fall back to downloading the image.
func (d *Driver) CloneImage(vol Volume, location string) (cloned bool, err error) {
	start := time.Now()
	defer func() { d.observe("clone_image", start, err) }()

	if location == "" || !d.IsCloneable(location) {
		return false, nil
	}

	loc, err := ParseLocation(location)
	if err != nil {
		return false, err
	}
	if err := d.CloneVolume(vol.Name, loc.Pool, loc.Image, loc.Snapshot); err != nil {
		return false, fmt.Errorf("error cloning image %s: %w", location, err)
	}
	if vol.SizeGiB > 0 {
		if err := d.ResizeVolume(vol, 0); err != nil {
			return false, err
		}
	}
	return true, nil
}
