package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"git.srvlab.io/whiskey/rbd-volume-driver/pkg/driver"
)

var createSizeGiB uint64

var createCmd = &cobra.Command{
	Use:   "create <volume-name>",
	Short: "Create an empty volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDriver()
		if err != nil {
			return err
		}
		vol := driver.Volume{Name: args[0], SizeGiB: createSizeGiB}
		if err := d.CreateVolume(vol); err != nil {
			return err
		}
		fmt.Printf("Created volume %s\n", vol.Name)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <volume-name>",
	Short: "Delete a volume",
	Long: `Delete a volume's backing image.

A volume that still has snapshots cannot be deleted; delete the snapshots
first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDriver()
		if err != nil {
			return err
		}
		if err := d.DeleteVolume(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted volume %s\n", args[0])
		return nil
	},
}

var (
	cloneSizeGiB   uint64
	cloneFromImage string
)

var cloneCmd = &cobra.Command{
	Use:   "clone <volume-name> <source-volume> <source-snapshot>",
	Short: "Create a volume as a clone of a snapshot",
	Long: `Create a new volume as a copy-on-write clone of a protected snapshot.

With --from-image the two positional source arguments are dropped and the
source is an rbd://fsid/pool/image/snapshot location instead.`,
	Args: cobra.RangeArgs(1, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDriver()
		if err != nil {
			return err
		}
		vol := driver.Volume{Name: args[0], SizeGiB: cloneSizeGiB}

		if cloneFromImage != "" {
			if len(args) != 1 {
				return fmt.Errorf("--from-image takes no source arguments")
			}
			cloned, err := d.CloneImage(vol, cloneFromImage)
			if err != nil {
				return err
			}
			if !cloned {
				return fmt.Errorf("image %s is not cloneable from this cluster", cloneFromImage)
			}
			fmt.Printf("Cloned %s to volume %s\n", cloneFromImage, vol.Name)
			return nil
		}

		if len(args) != 3 {
			return fmt.Errorf("clone requires <volume-name> <source-volume> <source-snapshot>")
		}
		snap := driver.Snapshot{VolumeName: args[1], Name: args[2]}
		if err := d.CreateVolumeFromSnapshot(vol, snap); err != nil {
			return err
		}
		fmt.Printf("Created volume %s from %s@%s\n", vol.Name, snap.VolumeName, snap.Name)
		return nil
	},
}

var copySizeGiB uint64

var copyCmd = &cobra.Command{
	Use:   "copy <source-volume> <volume-name>",
	Short: "Create a volume as a full copy of another volume",
	Long: `Create a new volume as a full independent copy of an existing one.

Unlike clone, no snapshot is involved and the new volume has no
copy-on-write dependency on the source.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDriver()
		if err != nil {
			return err
		}
		dest := driver.Volume{Name: args[1], SizeGiB: copySizeGiB}
		if err := d.CreateClonedVolume(dest, driver.Volume{Name: args[0]}); err != nil {
			return err
		}
		fmt.Printf("Copied volume %s to %s\n", args[0], dest.Name)
		return nil
	},
}

var resizeCmd = &cobra.Command{
	Use:   "resize <volume-name> <size-gib>",
	Short: "Grow a volume",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var size uint64
		if _, err := fmt.Sscanf(args[1], "%d", &size); err != nil || size == 0 {
			return fmt.Errorf("invalid size %q", args[1])
		}
		d, err := newDriver()
		if err != nil {
			return err
		}
		if err := d.ExtendVolume(driver.Volume{Name: args[0]}, size); err != nil {
			return err
		}
		fmt.Printf("Resized volume %s to %d GiB\n", args[0], size)
		return nil
	},
}

var flattenPool string

var flattenCmd = &cobra.Command{
	Use:   "flatten <volume-name>",
	Short: "Detach a cloned volume from its parent snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDriver()
		if err != nil {
			return err
		}
		pool := flattenPool
		if pool == "" {
			pool = d.Pool()
		}
		if err := d.Flatten(pool, args[0]); err != nil {
			return err
		}
		fmt.Printf("Flattened volume %s\n", args[0])
		return nil
	},
}

var importSizeGiB uint64

var importCmd = &cobra.Command{
	Use:   "import <volume-name> <image-file>",
	Short: "Replace a volume's contents with a raw image file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDriver()
		if err != nil {
			return err
		}
		src := args[1]
		vol := driver.Volume{Name: args[0], SizeGiB: importSizeGiB}
		err = d.CopyImageToVolume(vol, func(path string) error {
			return copyFile(src, path)
		})
		if err != nil {
			return err
		}
		fmt.Printf("Imported %s into volume %s\n", src, vol.Name)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <volume-name> <image-file>",
	Short: "Export a volume to a raw image file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDriver()
		if err != nil {
			return err
		}
		dest := args[1]
		err = d.CopyVolumeToImage(driver.Volume{Name: args[0]}, "", func(path string) error {
			return copyFile(path, dest)
		})
		if err != nil {
			return err
		}
		fmt.Printf("Exported volume %s to %s\n", args[0], dest)
		return nil
	},
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func init() {
	createCmd.Flags().Uint64Var(&createSizeGiB, "size", 0, "Volume size in GiB (0 creates the minimum usable volume)")
	cloneCmd.Flags().Uint64Var(&cloneSizeGiB, "size", 0, "Clone size in GiB (0 keeps the source size)")
	cloneCmd.Flags().StringVar(&cloneFromImage, "from-image", "", "Clone from an rbd:// image location instead of a snapshot")
	copyCmd.Flags().Uint64Var(&copySizeGiB, "size", 0, "Copy size in GiB (0 keeps the source size)")
	flattenCmd.Flags().StringVar(&flattenPool, "pool", "", "Pool holding the volume (defaults to the configured pool)")
	importCmd.Flags().Uint64Var(&importSizeGiB, "size", 0, "Grow the volume to this many GiB after import")
}
