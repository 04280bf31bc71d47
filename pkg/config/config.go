// Package config holds the driver configuration.
//
// Options are loaded once (from a YAML file or assembled by the caller) and
// passed by value into each component's constructor. There is no package
// level registry or mutable global state.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

const (
	// DefaultPool is the pool used when no pool is configured.
	DefaultPool = "rbd"
)

// Options contains the recognized driver options.
type Options struct {
	// Pool is the default storage pool for volumes (default "rbd")
	Pool string `yaml:"pool"`

	// User is the client identity used to authenticate against the
	// cluster. Empty means the backend's own default identity.
	User string `yaml:"user,omitempty"`

	// ConfPath is the path to the backend configuration file. Empty means
	// the backend's default lookup.
	ConfPath string `yaml:"conf_path,omitempty"`

	// FlattenOnSnapshotClone flattens volumes created from snapshots to
	// remove the copy-on-write dependency on the parent.
	FlattenOnSnapshotClone bool `yaml:"flatten_on_snapshot_clone"`

	// SecretID is an opaque credential reference reported back in
	// connection info responses. Never interpreted by the driver.
	SecretID string `yaml:"secret_id,omitempty"`

	// TmpDir is the scratch directory for image import/export. Empty
	// means the system default.
	TmpDir string `yaml:"tmp_dir,omitempty"`

	// BackendName is the name reported in volume stats (default "RBD")
	BackendName string `yaml:"backend_name,omitempty"`
}

// ApplyDefaults fills zero values with their defaults.
func (o *Options) ApplyDefaults() {
	if o.Pool == "" {
		o.Pool = DefaultPool
	}
	if o.BackendName == "" {
		o.BackendName = "RBD"
	}
}

// Validate returns an error if the options are unusable.
func (o *Options) Validate() error {
	if o.Pool == "" {
		return fmt.Errorf("pool is required")
	}
	if o.TmpDir != "" {
		if st, err := os.Stat(o.TmpDir); err == nil && !st.IsDir() {
			return fmt.Errorf("tmp_dir %s is not a directory", o.TmpDir)
		}
	}
	return nil
}

// Load reads options from a YAML file, applies defaults and validates.
func Load(path string) (Options, error) {
	var opts Options

	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return opts, fmt.Errorf("invalid config %s: %w", path, err)
	}

	klog.V(4).Infof("Loaded config from %s (pool=%s, flatten_on_snapshot_clone=%t)",
		path, opts.Pool, opts.FlattenOnSnapshotClone)
	return opts, nil
}
