package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"git.srvlab.io/whiskey/rbd-volume-driver/pkg/driver"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage volume snapshots",
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create <volume-name> <snapshot-name>",
	Short: "Create a snapshot of a volume",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDriver()
		if err != nil {
			return err
		}
		snap := driver.Snapshot{VolumeName: args[0], Name: args[1]}
		if err := d.CreateSnapshot(snap); err != nil {
			return err
		}
		fmt.Printf("Created snapshot %s@%s\n", snap.VolumeName, snap.Name)
		return nil
	},
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete <volume-name> <snapshot-name>",
	Short: "Delete a snapshot",
	Long: `Delete a snapshot of a volume.

A snapshot that still has dependent clones cannot be deleted; flatten or
delete the clones first.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDriver()
		if err != nil {
			return err
		}
		snap := driver.Snapshot{VolumeName: args[0], Name: args[1]}
		if err := d.DeleteSnapshot(snap); err != nil {
			return err
		}
		fmt.Printf("Deleted snapshot %s@%s\n", snap.VolumeName, snap.Name)
		return nil
	},
}

var connectionInfoCmd = &cobra.Command{
	Use:   "connection-info <volume-name>",
	Short: "Print attachment parameters for a volume as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDriver()
		if err != nil {
			return err
		}
		info, err := d.InitializeConnection(args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print backend capacity and identity as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDriver()
		if err != nil {
			return err
		}
		stats := d.GetVolumeStats(true)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotCreateCmd)
	snapshotCmd.AddCommand(snapshotDeleteCmd)
}
