package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/meridian-io/duplicant/config"
	"github.com/meridian-io/duplicant/daemon"
	"github.com/spf13/cobra"
)

var serverCommand = &cobra.Command{
	Use:   "server",
	Short: "Start the duplicant daemon",
	Long: `Start the duplicant daemon server.

The server command starts the HTTP API server that tracks duplication
progress for the local cluster. Configuration is provided via a YAML
config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunServer(context.Background(), flags, os.Stdout)
	},
}

func init() {
	serverCommand.Flags().StringVarP(&flags.ConfigFile, "config", "f",
		"", "path to a YAML config file")
}

func RunServer(ctx context.Context, flags FlagParams, w io.Writer) error {
	file, err := config.LoadFile(flags.ConfigFile)
	if err != nil {
		return fmt.Errorf("while loading config file: %w", err)
	}

	var conf daemon.Config
	if err := config.ApplyConfigFile(&conf, file, w); err != nil {
		return fmt.Errorf("while applying config file: %w", err)
	}
	conf.Version = Version

	conf.Log.Info(fmt.Sprintf("Duplicant %s (%s/%s)", Version, runtime.GOARCH, runtime.GOOS))
	d, err := daemon.NewDaemon(ctx, conf)
	if err != nil {
		return fmt.Errorf("while creating daemon: %w", err)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	select {
	case <-c:
		return d.Shutdown(ctx)
	case <-ctx.Done():
		return d.Shutdown(context.Background())
	}
}
