// Package rbd provides scoped access to a RADOS cluster and its block
// images.
//
// The backend library is consumed through narrow capability interfaces
// (Provider, ClusterClient, Pool, Image) so that the driver can run against
// different transports: the shell transport in this package, or an
// in-memory fake for tests. Connections are deliberately per-operation;
// there is no pooling or reuse, and every acquisition is paired with a
// release on all exit paths.
package rbd

// Provider creates cluster clients and reports library capabilities.
type Provider interface {
	// NewClient returns an unconnected client for the given identity and
	// configuration file. Both may be empty to use backend defaults.
	NewClient(user, confPath string) (ClusterClient, error)

	// SupportsLayering reports whether the backend supports the layering
	// feature (clone/protect/unprotect).
	SupportsLayering() bool
}

// ClusterClient is a connection to the cluster.
type ClusterClient interface {
	// Connect establishes the connection.
	Connect() error

	// Shutdown tears the connection down. It never fails and is safe to
	// call after a failed Connect.
	Shutdown()

	// OpenPool opens a handle to the named pool.
	OpenPool(name string) (Pool, error)

	// FSID returns the cluster's unique identifier.
	FSID() (string, error)

	// Stats returns cluster capacity information.
	Stats() (ClusterStats, error)
}

// Pool is an open handle to a pool.
type Pool interface {
	// Name returns the pool name.
	Name() string

	// Close releases the pool handle. It never fails.
	Close()

	// CreateImage creates an image of size bytes. A layered image gets
	// the layering feature enabled; otherwise the legacy format is used.
	CreateImage(name string, size uint64, layered bool) error

	// RemoveImage deletes an image. Returns ErrImageHasSnapshots while
	// any snapshot of the image exists.
	RemoveImage(name string) error

	// CloneImage creates a copy-on-write clone of src/srcImage@srcSnap
	// in this pool under name, with the layering feature enabled.
	CloneImage(src Pool, srcImage, srcSnap, name string) error

	// OpenImage opens an image, optionally at a snapshot, optionally
	// read-only.
	OpenImage(name, snapshot string, readOnly bool) (Image, error)
}

// Image is an open image. It exposes exactly the operations the driver
// uses; no dynamic forwarding to the backend object.
type Image interface {
	// Size returns the image size in bytes.
	Size() (uint64, error)

	// Resize changes the image size. No data is copied.
	Resize(size uint64) error

	// ReadAt reads len(p) bytes at offset off. Transports without data
	// access return ErrNotSupported.
	ReadAt(p []byte, off int64) (int, error)

	// WriteAt writes p at offset off. The image is not grown.
	WriteAt(p []byte, off int64) (int, error)

	// Flatten copies all blocks inherited from the parent snapshot into
	// the image, severing the copy-on-write dependency.
	Flatten() error

	// Copy writes a full independent copy of the image into dest under
	// name. The copy has no parent link to this image.
	Copy(dest Pool, name string) error

	// CreateSnapshot takes a snapshot of the image.
	CreateSnapshot(name string) error

	// RemoveSnapshot deletes a snapshot. Returns ErrSnapshotProtected
	// while the snapshot is protected.
	RemoveSnapshot(name string) error

	// ProtectSnapshot marks a snapshot as a clone source.
	ProtectSnapshot(name string) error

	// UnprotectSnapshot clears protection. Returns ErrSnapshotBusy while
	// a clone still depends on the snapshot.
	UnprotectSnapshot(name string) error

	// IsSnapshotProtected reports whether a snapshot is protected.
	IsSnapshotProtected(name string) (bool, error)

	// Flush persists outstanding writes. Returns ErrNotSupported when
	// the connected backend version has no flush.
	Flush() error

	// Close releases the image object.
	Close() error
}

// ClusterStats holds cluster capacity counters.
type ClusterStats struct {
	TotalBytes uint64
	AvailBytes uint64
}
