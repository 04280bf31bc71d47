package rbd

import (
	"fmt"
	"io"
	"sync"
)

// FakeCluster is an in-memory Provider implementation for testing. It
// models the copy-on-write behavior the driver depends on (snapshot
// protection, clone children blocking unprotect, snapshots blocking image
// removal) and counts connect/shutdown and pool open/close pairs so tests
// can assert that no acquisition leaks.
type FakeCluster struct {
	mu       sync.Mutex
	fsid     string
	layering bool
	stats    ClusterStats
	pools    map[string]map[string]*fakeImage

	connects   int
	shutdowns  int
	poolOpens  int
	poolCloses int

	newClientErr     error
	connectErr       error
	openPoolErr      error
	flushUnsupported bool
}

type fakeImage struct {
	name    string
	size    uint64
	layered bool
	data    []byte
	snaps   map[string]*fakeSnap
	parent  *fakeSnap
}

type fakeSnap struct {
	name      string
	size      uint64
	data      []byte
	protected bool
	clones    int
}

// NewFakeCluster creates a FakeCluster with a default "rbd" pool.
func NewFakeCluster(layering bool) *FakeCluster {
	return &FakeCluster{
		fsid:     "2f0f9cbb-e77e-4fbb-8ce5-4c1e5e598384",
		layering: layering,
		stats:    ClusterStats{TotalBytes: 1 << 40, AvailBytes: 1 << 39},
		pools:    map[string]map[string]*fakeImage{"rbd": {}},
	}
}

// NewClient implements Provider.
func (c *FakeCluster) NewClient(user, confPath string) (ClusterClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.newClientErr != nil {
		return nil, c.newClientErr
	}
	return &fakeClient{cluster: c}, nil
}

// SupportsLayering implements Provider.
func (c *FakeCluster) SupportsLayering() bool {
	return c.layering
}

// AddPool registers a pool (test helper).
func (c *FakeCluster) AddPool(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pools[name]; !ok {
		c.pools[name] = map[string]*fakeImage{}
	}
}

// SeedImage creates an image holding data (test helper).
func (c *FakeCluster) SeedImage(pool, name string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	img := &fakeImage{
		name:    name,
		size:    uint64(len(data)),
		layered: c.layering,
		data:    append([]byte(nil), data...),
		snaps:   map[string]*fakeSnap{},
	}
	c.pools[pool][name] = img
}

// SetFSID overrides the cluster identifier (test helper).
func (c *FakeCluster) SetFSID(fsid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fsid = fsid
}

// SetStats overrides the reported capacity (test helper).
func (c *FakeCluster) SetStats(stats ClusterStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = stats
}

// SetNewClientError injects a client-creation failure (test helper).
func (c *FakeCluster) SetNewClientError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.newClientErr = err
}

// SetConnectError injects a connect failure (test helper).
func (c *FakeCluster) SetConnectError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectErr = err
}

// SetOpenPoolError injects a pool-open failure (test helper).
func (c *FakeCluster) SetOpenPoolError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openPoolErr = err
}

// SetFlushUnsupported makes image flushes report ErrNotSupported (test helper).
func (c *FakeCluster) SetFlushUnsupported(unsupported bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushUnsupported = unsupported
}

// ConnectCount returns how many client connects succeeded.
func (c *FakeCluster) ConnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

// ShutdownCount returns how many clients were shut down.
func (c *FakeCluster) ShutdownCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdowns
}

// PoolOpenCount returns how many pool handles were opened.
func (c *FakeCluster) PoolOpenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.poolOpens
}

// PoolCloseCount returns how many pool handles were closed.
func (c *FakeCluster) PoolCloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.poolCloses
}

// ImageExists reports whether pool/name exists (test helper).
func (c *FakeCluster) ImageExists(pool, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pools[pool][name]
	return ok
}

// ImageSize returns the size of pool/name (test helper).
func (c *FakeCluster) ImageSize(pool, name string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if img, ok := c.pools[pool][name]; ok {
		return img.size
	}
	return 0
}

// ImageData returns a copy of the content of pool/name (test helper).
func (c *FakeCluster) ImageData(pool, name string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if img, ok := c.pools[pool][name]; ok {
		return append([]byte(nil), img.data...)
	}
	return nil
}

// SnapshotExists reports whether pool/name@snap exists (test helper).
func (c *FakeCluster) SnapshotExists(pool, name, snap string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if img, ok := c.pools[pool][name]; ok {
		_, ok := img.snaps[snap]
		return ok
	}
	return false
}

// SnapshotProtected reports whether pool/name@snap is protected (test helper).
func (c *FakeCluster) SnapshotProtected(pool, name, snap string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if img, ok := c.pools[pool][name]; ok {
		if s, ok := img.snaps[snap]; ok {
			return s.protected
		}
	}
	return false
}

// HasParent reports whether pool/name still depends on a parent snapshot
// (test helper).
func (c *FakeCluster) HasParent(pool, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if img, ok := c.pools[pool][name]; ok {
		return img.parent != nil
	}
	return false
}

type fakeClient struct {
	cluster   *FakeCluster
	connected bool
}

func (f *fakeClient) Connect() error {
	f.cluster.mu.Lock()
	defer f.cluster.mu.Unlock()
	if f.cluster.connectErr != nil {
		return f.cluster.connectErr
	}
	f.connected = true
	f.cluster.connects++
	return nil
}

func (f *fakeClient) Shutdown() {
	f.cluster.mu.Lock()
	defer f.cluster.mu.Unlock()
	if f.connected {
		f.connected = false
		f.cluster.shutdowns++
	}
}

func (f *fakeClient) FSID() (string, error) {
	f.cluster.mu.Lock()
	defer f.cluster.mu.Unlock()
	if !f.connected {
		return "", fmt.Errorf("not connected")
	}
	return f.cluster.fsid, nil
}

func (f *fakeClient) Stats() (ClusterStats, error) {
	f.cluster.mu.Lock()
	defer f.cluster.mu.Unlock()
	if !f.connected {
		return ClusterStats{}, fmt.Errorf("not connected")
	}
	return f.cluster.stats, nil
}

func (f *fakeClient) OpenPool(name string) (Pool, error) {
	f.cluster.mu.Lock()
	defer f.cluster.mu.Unlock()
	if !f.connected {
		return nil, fmt.Errorf("not connected")
	}
	if f.cluster.openPoolErr != nil {
		return nil, f.cluster.openPoolErr
	}
	if _, ok := f.cluster.pools[name]; !ok {
		return nil, fmt.Errorf("pool %s does not exist", name)
	}
	f.cluster.poolOpens++
	return &fakePool{cluster: f.cluster, name: name}, nil
}

type fakePool struct {
	cluster *FakeCluster
	name    string
	closed  bool
}

func (p *fakePool) Name() string { return p.name }

func (p *fakePool) Close() {
	p.cluster.mu.Lock()
	defer p.cluster.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.cluster.poolCloses++
	}
}

func (p *fakePool) CreateImage(name string, size uint64, layered bool) error {
	p.cluster.mu.Lock()
	defer p.cluster.mu.Unlock()
	images := p.cluster.pools[p.name]
	if _, ok := images[name]; ok {
		return fmt.Errorf("%w: %s", ErrImageExists, name)
	}
	images[name] = &fakeImage{
		name:    name,
		size:    size,
		layered: layered,
		data:    make([]byte, size),
		snaps:   map[string]*fakeSnap{},
	}
	return nil
}

func (p *fakePool) RemoveImage(name string) error {
	p.cluster.mu.Lock()
	defer p.cluster.mu.Unlock()
	images := p.cluster.pools[p.name]
	img, ok := images[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrImageNotFound, name)
	}
	if len(img.snaps) > 0 {
		return fmt.Errorf("%w: %s", ErrImageHasSnapshots, name)
	}
	if img.parent != nil {
		img.parent.clones--
	}
	delete(images, name)
	return nil
}

func (p *fakePool) CloneImage(src Pool, srcImage, srcSnap, name string) error {
	p.cluster.mu.Lock()
	defer p.cluster.mu.Unlock()

	srcImages, ok := p.cluster.pools[src.Name()]
	if !ok {
		return fmt.Errorf("pool %s does not exist", src.Name())
	}
	parentImg, ok := srcImages[srcImage]
	if !ok {
		return fmt.Errorf("%w: %s", ErrImageNotFound, srcImage)
	}
	parent, ok := parentImg.snaps[srcSnap]
	if !ok {
		return fmt.Errorf("%w: %s@%s", ErrSnapshotNotFound, srcImage, srcSnap)
	}
	if !parent.protected {
		return fmt.Errorf("%w: %s@%s", ErrSnapshotUnprotected, srcImage, srcSnap)
	}

	destImages := p.cluster.pools[p.name]
	if _, ok := destImages[name]; ok {
		return fmt.Errorf("%w: %s", ErrImageExists, name)
	}

	destImages[name] = &fakeImage{
		name:    name,
		size:    parent.size,
		layered: true,
		data:    append([]byte(nil), parent.data...),
		snaps:   map[string]*fakeSnap{},
		parent:  parent,
	}
	parent.clones++
	return nil
}

func (p *fakePool) OpenImage(name, snapshot string, readOnly bool) (Image, error) {
	p.cluster.mu.Lock()
	defer p.cluster.mu.Unlock()

	img, ok := p.cluster.pools[p.name][name]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrImageNotFound, p.name, name)
	}
	if snapshot != "" {
		if _, ok := img.snaps[snapshot]; !ok {
			return nil, fmt.Errorf("%w: %s/%s@%s", ErrSnapshotNotFound, p.name, name, snapshot)
		}
	}
	return &fakeOpenImage{cluster: p.cluster, img: img, snapshot: snapshot, readOnly: readOnly}, nil
}

type fakeOpenImage struct {
	cluster  *FakeCluster
	img      *fakeImage
	snapshot string
	readOnly bool
	closed   bool
}

// view returns the content and size visible through this open, which is
// the snapshot's frozen copy when opened at a snapshot.
func (o *fakeOpenImage) view() ([]byte, uint64) {
	if o.snapshot != "" {
		snap := o.img.snaps[o.snapshot]
		return snap.data, snap.size
	}
	return o.img.data, o.img.size
}

func (o *fakeOpenImage) Size() (uint64, error) {
	o.cluster.mu.Lock()
	defer o.cluster.mu.Unlock()
	_, size := o.view()
	return size, nil
}

func (o *fakeOpenImage) Resize(size uint64) error {
	o.cluster.mu.Lock()
	defer o.cluster.mu.Unlock()
	if o.readOnly || o.snapshot != "" {
		return fmt.Errorf("cannot resize %s: not opened for writing", o.img.name)
	}
	data := make([]byte, size)
	copy(data, o.img.data)
	o.img.data = data
	o.img.size = size
	return nil
}

func (o *fakeOpenImage) ReadAt(p []byte, off int64) (int, error) {
	o.cluster.mu.Lock()
	defer o.cluster.mu.Unlock()
	data, size := o.view()
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if uint64(off) >= size {
		return 0, io.EOF
	}
	n := copy(p, data[off:size])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (o *fakeOpenImage) WriteAt(p []byte, off int64) (int, error) {
	o.cluster.mu.Lock()
	defer o.cluster.mu.Unlock()
	if o.readOnly || o.snapshot != "" {
		return 0, fmt.Errorf("cannot write %s: not opened for writing", o.img.name)
	}
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if uint64(off)+uint64(len(p)) > o.img.size {
		return 0, fmt.Errorf("write past end of image %s", o.img.name)
	}
	n := copy(o.img.data[off:], p)
	return n, nil
}

func (o *fakeOpenImage) Flatten() error {
	o.cluster.mu.Lock()
	defer o.cluster.mu.Unlock()
	if o.img.parent != nil {
		o.img.parent.clones--
		o.img.parent = nil
	}
	return nil
}

func (o *fakeOpenImage) Copy(dest Pool, name string) error {
	o.cluster.mu.Lock()
	defer o.cluster.mu.Unlock()

	destImages, ok := o.cluster.pools[dest.Name()]
	if !ok {
		return fmt.Errorf("pool %s does not exist", dest.Name())
	}
	if _, ok := destImages[name]; ok {
		return fmt.Errorf("%w: %s", ErrImageExists, name)
	}

	data, size := o.view()
	destImages[name] = &fakeImage{
		name:    name,
		size:    size,
		layered: o.img.layered,
		data:    append([]byte(nil), data...),
		snaps:   map[string]*fakeSnap{},
	}
	return nil
}

func (o *fakeOpenImage) CreateSnapshot(name string) error {
	o.cluster.mu.Lock()
	defer o.cluster.mu.Unlock()
	if _, ok := o.img.snaps[name]; ok {
		return fmt.Errorf("snapshot %s already exists", name)
	}
	o.img.snaps[name] = &fakeSnap{
		name: name,
		size: o.img.size,
		data: append([]byte(nil), o.img.data...),
	}
	return nil
}

func (o *fakeOpenImage) RemoveSnapshot(name string) error {
	o.cluster.mu.Lock()
	defer o.cluster.mu.Unlock()
	snap, ok := o.img.snaps[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
	}
	if snap.protected {
		return fmt.Errorf("%w: %s", ErrSnapshotProtected, name)
	}
	delete(o.img.snaps, name)
	return nil
}

func (o *fakeOpenImage) ProtectSnapshot(name string) error {
	o.cluster.mu.Lock()
	defer o.cluster.mu.Unlock()
	snap, ok := o.img.snaps[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
	}
	snap.protected = true
	return nil
}

func (o *fakeOpenImage) UnprotectSnapshot(name string) error {
	o.cluster.mu.Lock()
	defer o.cluster.mu.Unlock()
	snap, ok := o.img.snaps[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
	}
	if !snap.protected {
		return fmt.Errorf("%w: %s", ErrSnapshotUnprotected, name)
	}
	if snap.clones > 0 {
		return fmt.Errorf("%w: %s", ErrSnapshotBusy, name)
	}
	snap.protected = false
	return nil
}

func (o *fakeOpenImage) IsSnapshotProtected(name string) (bool, error) {
	o.cluster.mu.Lock()
	defer o.cluster.mu.Unlock()
	snap, ok := o.img.snaps[name]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
	}
	return snap.protected, nil
}

func (o *fakeOpenImage) Flush() error {
	o.cluster.mu.Lock()
	defer o.cluster.mu.Unlock()
	if o.cluster.flushUnsupported {
		return fmt.Errorf("%w: flush", ErrNotSupported)
	}
	return nil
}

func (o *fakeOpenImage) Close() error {
	o.closed = true
	return nil
}
