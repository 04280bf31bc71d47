package cmdexec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRun(t *testing.T) {
	r := NewLocal()

	out, err := r.Run("echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
}

func TestLocalRunExitError(t *testing.T) {
	r := NewLocal()

	_, err := r.Run("sh", "-c", "echo oops >&2; exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit 3")
	assert.Contains(t, err.Error(), "oops")
}

func TestLocalRunMissingBinary(t *testing.T) {
	r := NewLocal()

	_, err := r.Run("definitely-not-a-real-binary-name")
	assert.Error(t, err)
}

func TestNewSSHRunnerValidation(t *testing.T) {
	_, err := NewSSHRunner(SSHConfig{User: "admin"})
	assert.Error(t, err)

	_, err = NewSSHRunner(SSHConfig{Address: "10.0.0.1"})
	assert.Error(t, err)

	_, err = NewSSHRunner(SSHConfig{Address: "10.0.0.1", User: "admin", PrivateKey: []byte("not a key")})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "private key"))
}

func TestSSHRunnerRequiresConnect(t *testing.T) {
	r, err := NewSSHRunner(SSHConfig{Address: "10.0.0.1", User: "admin"})
	require.NoError(t, err)

	_, err = r.Run("ceph", "mon", "dump")
	assert.Error(t, err)

	// Close before Connect is a no-op.
	assert.NoError(t, r.Close())
}
