package rbd

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/rbd-volume-driver/pkg/cmdexec"
)

// ShellProviderConfig holds configuration for a ShellProvider.
type ShellProviderConfig struct {
	// Runner executes the rbd/ceph commands (required)
	Runner cmdexec.Runner

	// DisableLayering forces legacy-format behavior even when the
	// installed tooling supports layering
	DisableLayering bool
}

// ShellProvider implements Provider on top of the cluster's rbd and ceph
// command line tools. Lifecycle operations map one-to-one onto CLI
// commands; random-access image data is not reachable over this transport
// and bulk data moves through export/import instead.
type ShellProvider struct {
	runner   cmdexec.Runner
	layering bool
}

// NewShellProvider creates a ShellProvider with the given configuration.
func NewShellProvider(config ShellProviderConfig) (*ShellProvider, error) {
	if config.Runner == nil {
		return nil, fmt.Errorf("Runner is required")
	}
	return &ShellProvider{runner: config.Runner, layering: !config.DisableLayering}, nil
}

// NewClient implements Provider.
func (p *ShellProvider) NewClient(user, confPath string) (ClusterClient, error) {
	return &shellClient{runner: p.runner, args: clusterArgs(user, confPath)}, nil
}

// SupportsLayering implements Provider.
func (p *ShellProvider) SupportsLayering() bool {
	return p.layering
}

// clusterArgs builds the identity/config-file arguments appended to every
// command.
func clusterArgs(user, confPath string) []string {
	var args []string
	if user != "" {
		args = append(args, "--id", user)
	}
	if confPath != "" {
		args = append(args, "--conf", confPath)
	}
	return args
}

type shellClient struct {
	runner cmdexec.Runner
	args   []string
	fsid   string
}

func (c *shellClient) run(name string, args ...string) (string, error) {
	return c.runner.Run(name, append(args, c.args...)...)
}

// Connect verifies the cluster is reachable by asking for its FSID.
func (c *shellClient) Connect() error {
	out, err := c.run("ceph", "fsid", "--format=json")
	if err != nil {
		return fmt.Errorf("error connecting to cluster: %w", err)
	}

	c.fsid = gjson.Get(out, "fsid").String()
	if c.fsid == "" {
		return fmt.Errorf("error connecting to cluster: no fsid in %q", strings.TrimSpace(out))
	}
	klog.V(4).Infof("Connected to cluster %s", c.fsid)
	return nil
}

// Shutdown implements ClusterClient. The CLI transport holds no state.
func (c *shellClient) Shutdown() {}

// FSID implements ClusterClient.
func (c *shellClient) FSID() (string, error) {
	if c.fsid == "" {
		return "", fmt.Errorf("not connected")
	}
	return c.fsid, nil
}

// Stats implements ClusterClient.
func (c *shellClient) Stats() (ClusterStats, error) {
	out, err := c.run("ceph", "df", "--format=json")
	if err != nil {
		return ClusterStats{}, fmt.Errorf("failed to get cluster stats: %w", err)
	}

	stats := gjson.Get(out, "stats")
	if !stats.Exists() {
		return ClusterStats{}, fmt.Errorf("failed to parse cluster stats: %q", strings.TrimSpace(out))
	}

	return ClusterStats{
		TotalBytes: stats.Get("total_bytes").Uint(),
		AvailBytes: stats.Get("total_avail_bytes").Uint(),
	}, nil
}

// OpenPool implements ClusterClient, verifying the pool exists.
func (c *shellClient) OpenPool(name string) (Pool, error) {
	out, err := c.run("ceph", "osd", "lspools", "--format=json")
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}

	found := false
	gjson.Parse(out).ForEach(func(_, pool gjson.Result) bool {
		if pool.Get("poolname").String() == name {
			found = true
			return false
		}
		return true
	})
	if !found {
		return nil, fmt.Errorf("pool %s does not exist", name)
	}

	return &shellPool{client: c, name: name}, nil
}

type shellPool struct {
	client *shellClient
	name   string
}

func (p *shellPool) Name() string { return p.name }

// Close implements Pool. The CLI transport holds no pool state.
func (p *shellPool) Close() {}

// CreateImage implements Pool.
func (p *shellPool) CreateImage(name string, size uint64, layered bool) error {
	args := []string{"create", "--pool", p.name, "--size", fmt.Sprintf("%dB", size)}
	if layered {
		args = append(args, "--image-format", "2", "--image-feature", "layering")
	} else {
		args = append(args, "--image-format", "1")
	}
	args = append(args, name)

	if _, err := p.client.run("rbd", args...); err != nil {
		if strings.Contains(err.Error(), "File exists") {
			return fmt.Errorf("%w: %s", ErrImageExists, name)
		}
		return fmt.Errorf("failed to create image %s: %w", name, err)
	}
	return nil
}

// RemoveImage implements Pool.
func (p *shellPool) RemoveImage(name string) error {
	if _, err := p.client.run("rbd", "rm", "--pool", p.name, "--no-progress", name); err != nil {
		switch {
		case strings.Contains(err.Error(), "has snapshots"):
			return fmt.Errorf("%w: %s", ErrImageHasSnapshots, name)
		case strings.Contains(err.Error(), "No such file or directory"):
			return fmt.Errorf("%w: %s", ErrImageNotFound, name)
		}
		return fmt.Errorf("failed to remove image %s: %w", name, err)
	}
	return nil
}

// CloneImage implements Pool.
func (p *shellPool) CloneImage(src Pool, srcImage, srcSnap, name string) error {
	parent := fmt.Sprintf("%s/%s@%s", src.Name(), srcImage, srcSnap)
	dest := fmt.Sprintf("%s/%s", p.name, name)

	_, err := p.client.run("rbd", "clone", "--image-feature", "layering", parent, dest)
	if err != nil {
		if strings.Contains(err.Error(), "protected") {
			return fmt.Errorf("%w: %s", ErrSnapshotUnprotected, parent)
		}
		return fmt.Errorf("failed to clone %s to %s: %w", parent, dest, err)
	}
	return nil
}

// OpenImage implements Pool. The image (or snapshot view) is verified to
// exist up front so later operations fail at open time, like a library
// open would.
func (p *shellPool) OpenImage(name, snapshot string, readOnly bool) (Image, error) {
	img := &shellImage{pool: p, name: name, snapshot: snapshot, readOnly: readOnly}
	if _, err := img.info(); err != nil {
		return nil, err
	}
	return img, nil
}

type shellImage struct {
	pool     *shellPool
	name     string
	snapshot string
	readOnly bool
}

func (i *shellImage) spec() string {
	if i.snapshot != "" {
		return fmt.Sprintf("%s/%s@%s", i.pool.name, i.name, i.snapshot)
	}
	return fmt.Sprintf("%s/%s", i.pool.name, i.name)
}

func (i *shellImage) info() (gjson.Result, error) {
	out, err := i.pool.client.run("rbd", "info", "--format=json", i.spec())
	if err != nil {
		if strings.Contains(err.Error(), "No such file or directory") {
			return gjson.Result{}, fmt.Errorf("%w: %s", ErrImageNotFound, i.spec())
		}
		return gjson.Result{}, fmt.Errorf("failed to get image info for %s: %w", i.spec(), err)
	}
	return gjson.Parse(out), nil
}

// Size implements Image.
func (i *shellImage) Size() (uint64, error) {
	info, err := i.info()
	if err != nil {
		return 0, err
	}
	return info.Get("size").Uint(), nil
}

// Resize implements Image.
func (i *shellImage) Resize(size uint64) error {
	if i.readOnly {
		return fmt.Errorf("cannot resize %s: image opened read-only", i.spec())
	}

	_, err := i.pool.client.run("rbd", "resize", "--allow-shrink", "--no-progress",
		"--size", fmt.Sprintf("%dB", size), i.spec())
	if err != nil {
		return fmt.Errorf("failed to resize %s: %w", i.spec(), err)
	}
	return nil
}

// ReadAt implements Image. Not reachable over the CLI transport.
func (i *shellImage) ReadAt(p []byte, off int64) (int, error) {
	return 0, fmt.Errorf("%w: random-access read over CLI transport", ErrNotSupported)
}

// WriteAt implements Image. Not reachable over the CLI transport.
func (i *shellImage) WriteAt(p []byte, off int64) (int, error) {
	return 0, fmt.Errorf("%w: random-access write over CLI transport", ErrNotSupported)
}

// Flatten implements Image.
func (i *shellImage) Flatten() error {
	if _, err := i.pool.client.run("rbd", "flatten", "--no-progress", i.spec()); err != nil {
		return fmt.Errorf("failed to flatten %s: %w", i.spec(), err)
	}
	return nil
}

// Copy implements Image.
func (i *shellImage) Copy(dest Pool, name string) error {
	target := fmt.Sprintf("%s/%s", dest.Name(), name)
	if _, err := i.pool.client.run("rbd", "cp", "--no-progress", i.spec(), target); err != nil {
		if strings.Contains(err.Error(), "File exists") {
			return fmt.Errorf("%w: %s", ErrImageExists, target)
		}
		return fmt.Errorf("failed to copy %s to %s: %w", i.spec(), target, err)
	}
	return nil
}

// CreateSnapshot implements Image.
func (i *shellImage) CreateSnapshot(name string) error {
	snap := fmt.Sprintf("%s@%s", i.spec(), name)
	if _, err := i.pool.client.run("rbd", "snap", "create", snap); err != nil {
		if strings.Contains(err.Error(), "File exists") {
			return fmt.Errorf("snapshot %s already exists: %w", snap, err)
		}
		return fmt.Errorf("failed to create snapshot %s: %w", snap, err)
	}
	return nil
}

// RemoveSnapshot implements Image.
func (i *shellImage) RemoveSnapshot(name string) error {
	snap := fmt.Sprintf("%s@%s", i.spec(), name)
	if _, err := i.pool.client.run("rbd", "snap", "rm", "--no-progress", snap); err != nil {
		switch {
		case strings.Contains(err.Error(), "protected"):
			return fmt.Errorf("%w: %s", ErrSnapshotProtected, snap)
		case strings.Contains(err.Error(), "No such file or directory"):
			return fmt.Errorf("%w: %s", ErrSnapshotNotFound, snap)
		}
		return fmt.Errorf("failed to remove snapshot %s: %w", snap, err)
	}
	return nil
}

// ProtectSnapshot implements Image.
func (i *shellImage) ProtectSnapshot(name string) error {
	snap := fmt.Sprintf("%s@%s", i.spec(), name)
	if _, err := i.pool.client.run("rbd", "snap", "protect", snap); err != nil {
		return fmt.Errorf("failed to protect snapshot %s: %w", snap, err)
	}
	return nil
}

// UnprotectSnapshot implements Image.
func (i *shellImage) UnprotectSnapshot(name string) error {
	snap := fmt.Sprintf("%s@%s", i.spec(), name)
	if _, err := i.pool.client.run("rbd", "snap", "unprotect", snap); err != nil {
		if strings.Contains(err.Error(), "children") || strings.Contains(err.Error(), "busy") {
			return fmt.Errorf("%w: %s", ErrSnapshotBusy, snap)
		}
		return fmt.Errorf("failed to unprotect snapshot %s: %w", snap, err)
	}
	return nil
}

// IsSnapshotProtected implements Image.
func (i *shellImage) IsSnapshotProtected(name string) (bool, error) {
	out, err := i.pool.client.run("rbd", "snap", "ls", "--format=json",
		fmt.Sprintf("%s/%s", i.pool.name, i.name))
	if err != nil {
		return false, fmt.Errorf("failed to list snapshots of %s: %w", i.spec(), err)
	}

	var protected, found bool
	gjson.Parse(out).ForEach(func(_, snap gjson.Result) bool {
		if snap.Get("name").String() == name {
			found = true
			// Older tooling reports "true"/"false" strings here.
			protected = snap.Get("protected").Bool()
			return false
		}
		return true
	})
	if !found {
		return false, fmt.Errorf("%w: %s@%s", ErrSnapshotNotFound, i.spec(), name)
	}
	return protected, nil
}

// Flush implements Image. Writes over the CLI transport are synchronous.
func (i *shellImage) Flush() error {
	return nil
}

// Close implements Image. The CLI transport holds no image state.
func (i *shellImage) Close() error {
	return nil
}
