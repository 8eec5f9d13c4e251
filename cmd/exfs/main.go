package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/OXeu/simplefs"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "exfs",
		Short:         "exfs block filesystem tool",
		Long:          "exfs formats, inspects and mounts exfs block filesystem images.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(mkfsCmd(), lsCmd(), catCmd(), infoCmd(), snapshotCmd(), restoreCmd())
	addMountCmd(cmd)
	return cmd
}

func mkfsCmd() *cobra.Command {
	var blocks int
	cmd := &cobra.Command{
		Use:   "mkfs <image>",
		Short: "Format an image file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := simplefs.CreateImage(args[0], blocks)
			if err != nil {
				return err
			}
			fsys, err := simplefs.New(dev)
			if err != nil {
				dev.Close()
				return err
			}
			fsys.Mkfs(blocks)
			return fsys.Close()
		},
	}
	cmd.Flags().IntVar(&blocks, "blocks", 1024, "image size in 4 KiB blocks")
	return cmd
}

func lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <image> [path]",
		Short: "List a directory inside an image",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, err := simplefs.Open(args[0])
			if err != nil {
				return err
			}
			defer fsys.Close()
			path := "/"
			if len(args) > 1 {
				path = args[1]
			}
			entries, err := fsys.Ls(path)
			if err != nil {
				return err
			}
			for _, e := range entries {
				mode := simplefs.UnixToMode(e.Inode.UnixMode())
				mtime := time.Unix(int64(e.Inode.Modified), 0)
				fmt.Printf("%s %8d %s %s\n", mode, e.Inode.Size, mtime.Format("Jan 02 15:04"), e.Name)
			}
			return nil
		},
	}
}

func catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <image> <path>",
		Short: "Print a file from an image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, err := simplefs.Open(args[0])
			if err != nil {
				return err
			}
			defer fsys.Close()
			id, err := resolve(fsys, args[1])
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(fsys.ReadAll(id))
			return err
		},
	}
}

// resolve walks an absolute path to an inode id as root.
func resolve(fsys *simplefs.FS, path string) (int, error) {
	req := simplefs.Req{Uid: 0, Gid: 0, Pid: uint32(os.Getpid())}
	id := simplefs.RootInode
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		_, childID, err := fsys.Lookup(req, id, part)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", path, err)
		}
		id = childID
	}
	return id, nil
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <image>",
		Short: "Show image layout and usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, err := simplefs.Open(args[0])
			if err != nil {
				return err
			}
			defer fsys.Close()
			sb := fsys.Super()
			inodes, dataBlocks := fsys.Usage()
			fmt.Println("exfs image")
			fmt.Println("==========")
			fmt.Printf("Block size:          %d bytes\n", simplefs.BlockSize)
			fmt.Printf("Total blocks:        %d\n", sb.TotalBlocks())
			fmt.Printf("Inode bitmap blocks: %d\n", sb.InodeBitmapBlks)
			fmt.Printf("Data bitmap blocks:  %d\n", sb.DataBitmapBlks)
			fmt.Printf("Inode table blocks:  %d\n", sb.InodeTableBlks)
			fmt.Printf("Data blocks:         %d\n", sb.DataBlks)
			fmt.Printf("Inodes used:         %d / %d\n", inodes, sb.InodeCount())
			fmt.Printf("Data blocks used:    %d / %d\n", dataBlocks, sb.DataBlks)
			return nil
		},
	}
}

func snapshotCmd() *cobra.Command {
	var codecName string
	cmd := &cobra.Command{
		Use:   "snapshot <image> <out>",
		Short: "Write a compressed snapshot of an image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := simplefs.ParseSnapCodec(codecName)
			if err != nil {
				return err
			}
			img, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer img.Close()
			out, err := os.Create(args[1])
			if err != nil {
				return err
			}
			if err := simplefs.Snapshot(img, out, codec); err != nil {
				out.Close()
				return err
			}
			return out.Close()
		},
	}
	cmd.Flags().StringVar(&codecName, "codec", "zstd", "snapshot codec (zstd or xz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <snapshot> <image>",
		Short: "Restore an image from a snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer in.Close()
			img, err := os.Create(args[1])
			if err != nil {
				return err
			}
			if err := simplefs.Restore(in, img); err != nil {
				img.Close()
				return err
			}
			return img.Close()
		},
	}
}
