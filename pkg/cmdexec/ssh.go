package cmdexec

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"k8s.io/klog/v2"
)

// SSHRunner runs commands on a remote admin host over SSH.
type SSHRunner struct {
	address   string
	port      int
	user      string
	timeout   time.Duration
	sshConfig *ssh.ClientConfig
	sshClient *ssh.Client
}

// SSHConfig holds configuration for creating an SSHRunner.
type SSHConfig struct {
	Address    string        // admin host address
	Port       int           // SSH port (default 22)
	User       string        // SSH user
	PrivateKey []byte        // SSH private key content
	Timeout    time.Duration // connection timeout (default 10s)
}

// NewSSHRunner creates a runner for the given admin host. Connect must be
// called before Run.
func NewSSHRunner(config SSHConfig) (*SSHRunner, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}
	if config.User == "" {
		return nil, fmt.Errorf("user is required")
	}

	if config.Port == 0 {
		config.Port = 22
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	sshConfig := &ssh.ClientConfig{
		User:            config.User,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: add host key verification in production
		Timeout:         config.Timeout,
	}

	if len(config.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(config.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		sshConfig.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	} else {
		klog.V(4).Info("No private key provided, attempting connection without authentication")
	}

	return &SSHRunner{
		address:   config.Address,
		port:      config.Port,
		user:      config.User,
		timeout:   config.Timeout,
		sshConfig: sshConfig,
	}, nil
}

// Connect establishes the SSH connection to the admin host.
func (r *SSHRunner) Connect() error {
	addr := fmt.Sprintf("%s:%d", r.address, r.port)
	klog.V(4).Infof("Connecting to admin host at %s as user %s", addr, r.user)

	client, err := ssh.Dial("tcp", addr, r.sshConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	r.sshClient = client
	return nil
}

// Close closes the SSH connection.
func (r *SSHRunner) Close() error {
	if r.sshClient != nil {
		klog.V(4).Infof("Closing SSH connection to %s", r.address)
		return r.sshClient.Close()
	}
	return nil
}

// Run implements Runner, executing the command in a fresh SSH session.
func (r *SSHRunner) Run(name string, args ...string) (string, error) {
	if r.sshClient == nil {
		return "", fmt.Errorf("not connected to %s", r.address)
	}

	command := name
	if len(args) > 0 {
		command = name + " " + strings.Join(args, " ")
	}
	klog.V(5).Infof("Executing remote command: %s", command)

	session, err := r.sshClient.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create SSH session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Run(command); err != nil {
		if exitErr, ok := err.(*ssh.ExitError); ok {
			return stdout.String(), fmt.Errorf("command failed (exit %d): %s",
				exitErr.ExitStatus(), strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("failed to run command: %w", err)
	}

	return stdout.String(), nil
}
