package rbd

import (
	"fmt"

	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/rbd-volume-driver/pkg/observability"
)

// ConnectorConfig holds configuration for a Connector.
type ConnectorConfig struct {
	// Provider creates cluster clients (required)
	Provider Provider

	// User is the client identity, empty for the backend default
	User string

	// ConfPath is the backend configuration file, empty for the default
	ConfPath string

	// DefaultPool is the pool opened when none is requested (required)
	DefaultPool string

	// Metrics is an optional Prometheus metrics recorder (may be nil)
	Metrics *observability.Metrics
}

// Connector opens per-operation connections to the cluster. Each Connect
// yields a fresh client plus pool handle; nothing is shared or reused
// between operations.
type Connector struct {
	provider    Provider
	user        string
	confPath    string
	defaultPool string
	metrics     *observability.Metrics
}

// NewConnector creates a Connector with the given configuration.
func NewConnector(config ConnectorConfig) (*Connector, error) {
	if config.Provider == nil {
		return nil, fmt.Errorf("Provider is required")
	}
	if config.DefaultPool == "" {
		return nil, fmt.Errorf("DefaultPool is required")
	}

	return &Connector{
		provider:    config.Provider,
		user:        config.User,
		confPath:    config.ConfPath,
		defaultPool: config.DefaultPool,
		metrics:     config.Metrics,
	}, nil
}

// DefaultPool returns the configured default pool name.
func (c *Connector) DefaultPool() string {
	return c.defaultPool
}

// SupportsLayering reports whether the backend supports layering.
func (c *Connector) SupportsLayering() bool {
	return c.provider.SupportsLayering()
}

// Conn is one established connection plus open pool handle. It is owned by
// the call scope that created it and must be closed exactly once on every
// exit path, typically via defer.
type Conn struct {
	client  ClusterClient
	pool    Pool
	metrics *observability.Metrics
	closed  bool
}

// Connect connects to the cluster and opens a pool. An empty pool name
// opens the configured default pool. When pool open fails after a
// successful connect, the client is shut down before the error is
// returned; the caller never sees a connected-but-unreleased client.
func (c *Connector) Connect(pool string) (*Conn, error) {
	client, err := c.provider.NewClient(c.user, c.confPath)
	if err != nil {
		klog.Errorf("Failed to create cluster client: %v", err)
		return nil, &BackendUnavailableError{Reason: "creating client", Err: err}
	}

	if err := client.Connect(); err != nil {
		klog.Errorf("Failed to connect to cluster: %v", err)
		return nil, &BackendUnavailableError{Reason: "connecting to cluster", Err: err}
	}

	poolName := pool
	if poolName == "" {
		poolName = c.defaultPool
	}

	p, err := client.OpenPool(poolName)
	if err != nil {
		// A connected client is not a committed resource; release it
		// before the error propagates. Shutdown never fails.
		client.Shutdown()
		klog.Errorf("Failed to open pool %s: %v", poolName, err)
		return nil, &BackendUnavailableError{Reason: fmt.Sprintf("opening pool %s", poolName), Err: err}
	}

	if c.metrics != nil {
		c.metrics.RecordConnectionOpened()
	}
	klog.V(4).Infof("Connected to cluster (pool=%s)", poolName)
	return &Conn{client: client, pool: p, metrics: c.metrics}, nil
}

// Client returns the underlying cluster client.
func (conn *Conn) Client() ClusterClient {
	return conn.client
}

// Pool returns the open pool handle.
func (conn *Conn) Pool() Pool {
	return conn.pool
}

// Close releases the pool handle and shuts the client down, in that order.
// It never fails; repeat calls are no-ops.
func (conn *Conn) Close() {
	if conn.closed {
		return
	}
	conn.closed = true

	conn.pool.Close()
	conn.client.Shutdown()
	if conn.metrics != nil {
		conn.metrics.RecordConnectionClosed()
	}
	klog.V(4).Infof("Released connection (pool=%s)", conn.pool.Name())
}
