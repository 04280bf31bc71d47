package rbd

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConnector(t *testing.T, cluster *FakeCluster) *Connector {
	t.Helper()
	c, err := NewConnector(ConnectorConfig{
		Provider:    cluster,
		User:        "volumes",
		ConfPath:    "/etc/ceph/ceph.conf",
		DefaultPool: "rbd",
	})
	require.NoError(t, err)
	return c
}

func TestNewConnectorValidation(t *testing.T) {
	_, err := NewConnector(ConnectorConfig{DefaultPool: "rbd"})
	assert.Error(t, err)

	_, err = NewConnector(ConnectorConfig{Provider: NewFakeCluster(true)})
	assert.Error(t, err)
}

func TestConnectDefaultPool(t *testing.T) {
	cluster := NewFakeCluster(true)
	connector := newTestConnector(t, cluster)

	conn, err := connector.Connect("")
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "rbd", conn.Pool().Name())
}

func TestConnectExplicitPoolOverridesDefault(t *testing.T) {
	cluster := NewFakeCluster(true)
	cluster.AddPool("images")
	connector := newTestConnector(t, cluster)

	conn, err := connector.Connect("images")
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "images", conn.Pool().Name())
}

func TestConnectFailure(t *testing.T) {
	cluster := NewFakeCluster(true)
	cluster.SetConnectError(errors.New("monitors unreachable"))
	connector := newTestConnector(t, cluster)

	_, err := connector.Connect("")
	require.Error(t, err)

	var unavailable *BackendUnavailableError
	assert.True(t, errors.As(err, &unavailable))
	assert.Equal(t, 0, cluster.ConnectCount())
	assert.Equal(t, 0, cluster.ShutdownCount())
}

func TestPoolOpenFailureReleasesClient(t *testing.T) {
	cluster := NewFakeCluster(true)
	cluster.SetOpenPoolError(errors.New("permission denied"))
	connector := newTestConnector(t, cluster)

	_, err := connector.Connect("")
	require.Error(t, err)

	var unavailable *BackendUnavailableError
	assert.True(t, errors.As(err, &unavailable))

	// Connect succeeded, pool open failed: the client must have been
	// shut down before the error propagated.
	assert.Equal(t, 1, cluster.ConnectCount())
	assert.Equal(t, 1, cluster.ShutdownCount())
}

func TestConnectMissingPool(t *testing.T) {
	cluster := NewFakeCluster(true)
	connector := newTestConnector(t, cluster)

	_, err := connector.Connect("no-such-pool")
	require.Error(t, err)
	assert.Equal(t, cluster.ConnectCount(), cluster.ShutdownCount())
}

func TestConnCloseExactlyOnce(t *testing.T) {
	cluster := NewFakeCluster(true)
	connector := newTestConnector(t, cluster)

	conn, err := connector.Connect("")
	require.NoError(t, err)

	conn.Close()
	conn.Close()

	assert.Equal(t, 1, cluster.ConnectCount())
	assert.Equal(t, 1, cluster.ShutdownCount())
	assert.Equal(t, 1, cluster.PoolOpenCount())
	assert.Equal(t, 1, cluster.PoolCloseCount())
}
