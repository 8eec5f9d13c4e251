//go:build linux || darwin

package main

import (
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/OXeu/simplefs"
)

type mountFlags struct {
	allowOther bool
	debug      bool
	logFile    string
	cacheSize  int
}

func (f *mountFlags) register(flags *pflag.FlagSet) {
	flags.BoolVar(&f.allowOther, "allow-other", false, "allow other users to access the mount")
	flags.BoolVar(&f.debug, "debug", false, "log the fuse wire traffic")
	flags.StringVar(&f.logFile, "log-file", "", "write logs to a rotated file instead of stderr")
	flags.IntVar(&f.cacheSize, "cache-blocks", 128, "block cache capacity")
}

func addMountCmd(root *cobra.Command) {
	var flags mountFlags
	cmd := &cobra.Command{
		Use:   "mount <image> <mountpoint>",
		Short: "Mount an image through fuse",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(flags.logFile)

			fsys, err := simplefs.Open(args[0], simplefs.WithCacheSize(flags.cacheSize))
			if err != nil {
				return err
			}
			defer fsys.Close()

			opts := &fs.Options{}
			opts.MountOptions.AllowOther = flags.allowOther
			opts.MountOptions.Debug = flags.debug
			opts.MountOptions.FsName = args[0]
			opts.MountOptions.Name = "exfs"

			server, err := simplefs.Mount(args[1], fsys, opts)
			if err != nil {
				return err
			}
			slog.Info("mounted", "image", args[0], "mountpoint", args[1])
			server.Wait()
			return nil
		},
	}
	flags.register(cmd.Flags())
	root.AddCommand(cmd)
}

// setupLogging points both slog and the engine's std log lines at the
// chosen sink; with a file the sink rotates.
func setupLogging(logFile string) {
	var w io.Writer = os.Stderr
	if logFile != "" {
		w = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100, // MiB
			MaxBackups: 3,
		}
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, nil)))
	log.SetOutput(w)
}
