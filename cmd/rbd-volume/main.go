package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/rbd-volume-driver/pkg/cmdexec"
	"git.srvlab.io/whiskey/rbd-volume-driver/pkg/config"
	"git.srvlab.io/whiskey/rbd-volume-driver/pkg/driver"
	"git.srvlab.io/whiskey/rbd-volume-driver/pkg/rbd"
)

var (
	cfgFile      string
	legacyFormat bool

	// Remote execution. When sshHost is empty commands run locally,
	// which requires the ceph and rbd tools on this machine.
	sshHost    string
	sshPort    int
	sshUser    string
	sshKeyFile string
)

func main() {
	klog.InitFlags(nil)
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rbd-volume",
	Short: "Manage RBD-backed volumes in a Ceph cluster",
	Long: `rbd-volume manages block volumes stored as RBD images: creation,
snapshots, copy-on-write clones, resizing, and image import and export.

Commands run the ceph and rbd tools either locally or on a remote admin
host over SSH.`,
	Version:       driver.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to the driver YAML configuration")
	rootCmd.PersistentFlags().BoolVar(&legacyFormat, "legacy-format", false, "Create legacy format images without layering support")
	rootCmd.PersistentFlags().StringVar(&sshHost, "ssh-host", "", "Admin host to run ceph/rbd commands on (empty runs them locally)")
	rootCmd.PersistentFlags().IntVar(&sshPort, "ssh-port", 22, "Admin host SSH port")
	rootCmd.PersistentFlags().StringVar(&sshUser, "ssh-user", "", "Admin host SSH user")
	rootCmd.PersistentFlags().StringVar(&sshKeyFile, "ssh-key-file", "", "Path to the SSH private key for the admin host")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(cloneCmd)
	rootCmd.AddCommand(copyCmd)
	rootCmd.AddCommand(resizeCmd)
	rootCmd.AddCommand(flattenCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(connectionInfoCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(checkCmd)
}

func newRunner() (cmdexec.Runner, error) {
	if sshHost == "" {
		return cmdexec.NewLocal(), nil
	}

	var key []byte
	if sshKeyFile != "" {
		var err error
		key, err = os.ReadFile(sshKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key from %s: %w", sshKeyFile, err)
		}
	}
	runner, err := cmdexec.NewSSHRunner(cmdexec.SSHConfig{
		Address:    sshHost,
		Port:       sshPort,
		User:       sshUser,
		PrivateKey: key,
		Timeout:    10 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	if err := runner.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", sshHost, err)
	}
	return runner, nil
}

func newDriver() (*driver.Driver, error) {
	var opts config.Options
	if cfgFile != "" {
		var err error
		opts, err = config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
	}

	runner, err := newRunner()
	if err != nil {
		return nil, err
	}
	provider, err := rbd.NewShellProvider(rbd.ShellProviderConfig{
		Runner:          runner,
		DisableLayering: legacyFormat,
	})
	if err != nil {
		return nil, err
	}

	return driver.NewDriver(driver.DriverConfig{
		Options:  opts,
		Provider: provider,
		Runner:   runner,
	})
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the cluster is reachable and the pool exists",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDriver()
		if err != nil {
			return err
		}
		if err := d.CheckForSetupError(); err != nil {
			return err
		}
		fmt.Println("Backend is reachable")
		return nil
	},
}
