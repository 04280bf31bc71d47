// Package cmdexec runs external commands for the driver.
//
// The cluster ships administrative tooling (rbd, ceph) whose CLI is the
// supported surface for a handful of operations: sparse-preserving image
// import/export and monitor map dumps. A Runner abstracts where those
// commands execute so tests can substitute canned output and deployments can
// point at a remote admin host.
package cmdexec

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"

	"k8s.io/klog/v2"
)

// Runner executes a command and returns its stdout.
type Runner interface {
	// Run executes name with args and returns stdout. A non-zero exit
	// status is an error carrying the command's stderr.
	Run(name string, args ...string) (string, error)
}

// Local runs commands on the local host.
type Local struct{}

// NewLocal returns a Runner executing commands via os/exec.
func NewLocal() *Local {
	return &Local{}
}

// Run implements Runner.
func (l *Local) Run(name string, args ...string) (string, error) {
	klog.V(5).Infof("Executing command: %s %s", name, strings.Join(args, " "))

	cmd := exec.Command(name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return stdout.String(), fmt.Errorf("command %s failed (exit %d): %s",
				name, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("failed to run %s: %w", name, err)
	}

	output := stdout.String()
	klog.V(5).Infof("Command output: %s", output)
	return output, nil
}
