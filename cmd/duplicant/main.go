package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kapetan-io/tackle/clock"
	"github.com/meridian-io/duplicant"
	"github.com/spf13/cobra"
)

// Version is injected at build time
var Version = "dev-build"

// FlagParams holds every flag the CLI verbs accept. Tests populate this
// struct directly and call the Run* functions, bypassing cobra.
type FlagParams struct {
	Endpoint   string
	ConfigFile string
	Timeout    string
	Partitions int32
}

var flags FlagParams

var rootCommand = &cobra.Command{
	Use:          "duplicant",
	Short:        "Cross cluster duplication progress tracker",
	Version:      Version,
	SilenceUsage: true,
}

func init() {
	rootCommand.PersistentFlags().StringVar(&flags.Endpoint, "endpoint",
		"http://localhost:2919", "Tracker API endpoint")
	rootCommand.PersistentFlags().StringVar(&flags.Timeout, "timeout",
		"30s", "Request timeout")
	rootCommand.AddCommand(serverCommand, appCommand, dupCommand)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func createClient(flags FlagParams) (*duplicant.Client, error) {
	return duplicant.NewClient(duplicant.ClientOptions{
		Endpoint: flags.Endpoint,
	})
}

func requestContext(flags FlagParams) (context.Context, context.CancelFunc, error) {
	timeout := 30 * clock.Second
	if flags.Timeout != "" {
		var err error
		if timeout, err = clock.ParseDuration(flags.Timeout); err != nil {
			return nil, nil, fmt.Errorf("invalid timeout format: %w", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return ctx, cancel, nil
}
