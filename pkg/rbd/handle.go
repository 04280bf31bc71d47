package rbd

import (
	"k8s.io/klog/v2"
)

// OpenOptions controls how an ImageHandle opens its image.
type OpenOptions struct {
	// Pool overrides the connector's default pool
	Pool string

	// Snapshot opens the image at a snapshot instead of its head
	Snapshot string

	// ReadOnly opens the image read-only
	ReadOnly bool
}

// ImageHandle binds an open image to the connection it was opened through.
// The handle exclusively owns that connection: closing the handle closes
// the connection.
type ImageHandle struct {
	name   string
	image  Image
	conn   *Conn
	closed bool
}

// OpenImageHandle acquires a connection and opens the named image over it.
// If the image cannot be opened, the freshly acquired connection is
// released before the error propagates; open failure never leaks a
// connection.
func OpenImageHandle(connector *Connector, name string, opts OpenOptions) (*ImageHandle, error) {
	conn, err := connector.Connect(opts.Pool)
	if err != nil {
		return nil, err
	}

	image, err := conn.Pool().OpenImage(name, opts.Snapshot, opts.ReadOnly)
	if err != nil {
		klog.Errorf("Error opening image %s: %v", name, err)
		conn.Close()
		return nil, &ImageOpenError{Image: name, Err: err}
	}

	return &ImageHandle{name: name, image: image, conn: conn}, nil
}

// Name returns the image name.
func (h *ImageHandle) Name() string {
	return h.name
}

// Conn returns the owning connection. The connection remains owned by the
// handle; callers must not close it.
func (h *ImageHandle) Conn() *Conn {
	return h.conn
}

// Close releases the image first and then its connection, regardless of
// whether preceding operations succeeded. It never fails; repeat calls are
// no-ops.
func (h *ImageHandle) Close() {
	if h.closed {
		return
	}
	h.closed = true

	if err := h.image.Close(); err != nil {
		klog.Warningf("Error closing image %s: %v", h.name, err)
	}
	h.conn.Close()
}

// Size returns the image size in bytes.
func (h *ImageHandle) Size() (uint64, error) {
	return h.image.Size()
}

// Resize changes the image size.
func (h *ImageHandle) Resize(size uint64) error {
	return h.image.Resize(size)
}

// ReadAt reads from the image at the given offset.
func (h *ImageHandle) ReadAt(p []byte, off int64) (int, error) {
	return h.image.ReadAt(p, off)
}

// WriteAt writes to the image at the given offset.
func (h *ImageHandle) WriteAt(p []byte, off int64) (int, error) {
	return h.image.WriteAt(p, off)
}

// Flatten severs the image's copy-on-write dependency on its parent.
func (h *ImageHandle) Flatten() error {
	return h.image.Flatten()
}

// Copy writes a full independent copy of the image into dest under name.
func (h *ImageHandle) Copy(dest Pool, name string) error {
	return h.image.Copy(dest, name)
}

// CreateSnapshot takes a snapshot of the image.
func (h *ImageHandle) CreateSnapshot(name string) error {
	return h.image.CreateSnapshot(name)
}

// RemoveSnapshot deletes a snapshot of the image.
func (h *ImageHandle) RemoveSnapshot(name string) error {
	return h.image.RemoveSnapshot(name)
}

// ProtectSnapshot marks a snapshot as a clone source.
func (h *ImageHandle) ProtectSnapshot(name string) error {
	return h.image.ProtectSnapshot(name)
}

// UnprotectSnapshot clears snapshot protection.
func (h *ImageHandle) UnprotectSnapshot(name string) error {
	return h.image.UnprotectSnapshot(name)
}

// IsSnapshotProtected reports whether a snapshot is protected.
func (h *ImageHandle) IsSnapshotProtected(name string) (bool, error) {
	return h.image.IsSnapshotProtected(name)
}

// Flush persists outstanding writes.
func (h *ImageHandle) Flush() error {
	return h.image.Flush()
}
