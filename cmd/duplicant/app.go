package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/meridian-io/duplicant/transport"
	"github.com/spf13/cobra"
)

var appCommand = &cobra.Command{
	Use:   "app",
	Short: "Manage apps registered with the tracker",
}

var appCreateCommand = &cobra.Command{
	Use:   "create [flags] <app-name>",
	Short: "Register an app",
	Long: `Register an app with the tracker so duplications can be added to it.
The partition count must match the partition count of the table being
duplicated; per partition progress is tracked against it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunAppCreate(flags, args[0])
	},
}

var appListCommand = &cobra.Command{
	Use:   "list",
	Short: "List registered apps",
	Long:  `List all registered apps. Outputs app information as JSON.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunAppList(flags)
	},
}

func init() {
	appCreateCommand.Flags().Int32Var(&flags.Partitions, "partitions",
		8, "Number of partitions in the app")
	appCommand.AddCommand(appCreateCommand, appListCommand)
}

func RunAppCreate(flags FlagParams, name string) error {
	client, err := createClient(flags)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	ctx, cancel, err := requestContext(flags)
	if err != nil {
		return err
	}
	defer cancel()

	req := &transport.AppInfo{
		Name:           name,
		PartitionCount: int(flags.Partitions),
	}
	if err := client.AppsCreate(ctx, req); err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Successfully created app '%s' (partitions: %d)\n",
		name, flags.Partitions)
	return nil
}

func RunAppList(flags FlagParams) error {
	client, err := createClient(flags)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	ctx, cancel, err := requestContext(flags)
	if err != nil {
		return err
	}
	defer cancel()

	var resp transport.AppsListResponse
	if err := client.AppsList(ctx, &resp); err != nil {
		return fmt.Errorf("failed to list apps: %w", err)
	}

	// Convert to JSON for output
	output := struct {
		Apps  []*transport.AppInfo `json:"apps"`
		Count int                  `json:"count"`
	}{
		Apps:  resp.Apps,
		Count: len(resp.Apps),
	}

	jsonBytes, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	fmt.Println(string(jsonBytes))

	fmt.Fprintf(os.Stderr, "Found %d app(s)\n", len(resp.Apps))
	return nil
}
