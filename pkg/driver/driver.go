// Package driver implements the volume lifecycle on top of a Ceph RBD
// backend: create, clone, snapshot, resize, delete, image import and
// export, and connection handoff to consumers of the volumes.
package driver

import (
	"fmt"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/rbd-volume-driver/pkg/cmdexec"
	"git.srvlab.io/whiskey/rbd-volume-driver/pkg/config"
	"git.srvlab.io/whiskey/rbd-volume-driver/pkg/observability"
	"git.srvlab.io/whiskey/rbd-volume-driver/pkg/rbd"
)

// DriverConfig carries the dependencies of a Driver.
type DriverConfig struct {
	// Options is the backend configuration. Defaults are applied and the
	// result validated by NewDriver.
	Options config.Options

	// Provider supplies cluster clients. Required.
	Provider rbd.Provider

	// Runner executes the ceph and rbd command line tools for the
	// operations that have no library equivalent (monitor discovery,
	// sparse image import and export). Required.
	Runner cmdexec.Runner

	// Metrics records operation counts and latencies. Optional.
	Metrics *observability.Metrics
}

// Driver manages RBD-backed volumes in a single Ceph pool.
type Driver struct {
	opts      config.Options
	connector *rbd.Connector
	runner    cmdexec.Runner
	metrics   *observability.Metrics

	statsMu sync.Mutex
	stats   VolumeStats
}

// NewDriver validates the configuration and returns a Driver. No cluster
// connection is made; call CheckForSetupError to verify reachability.
func NewDriver(cfg DriverConfig) (*Driver, error) {
	cfg.Options.ApplyDefaults()
	if err := cfg.Options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid driver options: %w", err)
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("driver requires a provider")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("driver requires a command runner")
	}

	connector, err := rbd.NewConnector(rbd.ConnectorConfig{
		Provider:    cfg.Provider,
		User:        cfg.Options.User,
		ConfPath:    cfg.Options.ConfPath,
		DefaultPool: cfg.Options.Pool,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}

	return &Driver{
		opts:      cfg.Options,
		connector: connector,
		runner:    cfg.Runner,
		metrics:   cfg.Metrics,
		stats: VolumeStats{
			VolumeBackendName: cfg.Options.BackendName,
			VendorName:        "Open Source",
			DriverVersion:     Version,
			StorageProtocol:   "ceph",
		},
	}, nil
}

// CheckForSetupError verifies that the cluster is reachable and the
// configured pool exists.
func (d *Driver) CheckForSetupError() error {
	conn, err := d.connector.Connect("")
	if err != nil {
		return fmt.Errorf("error connecting to ceph cluster: %w", err)
	}
	defer conn.Close()

	klog.V(2).Infof("Ceph cluster reachable, pool %s available", d.opts.Pool)
	return nil
}

// Pool returns the configured default pool.
func (d *Driver) Pool() string {
	return d.opts.Pool
}

// cephArgs returns the authentication and configuration arguments shared
// by every ceph and rbd invocation.
func (d *Driver) cephArgs() []string {
	var args []string
	if d.opts.User != "" {
		args = append(args, "--id", d.opts.User)
	}
	if d.opts.ConfPath != "" {
		args = append(args, "--conf", d.opts.ConfPath)
	}
	return args
}

func (d *Driver) observe(op string, start time.Time, err error) {
	if d.metrics == nil {
		return
	}
	d.metrics.RecordOperation(op, time.Since(start), err)
}
