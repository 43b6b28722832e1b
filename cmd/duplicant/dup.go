package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/meridian-io/duplicant/transport"
	"github.com/spf13/cobra"
)

var dupCommand = &cobra.Command{
	Use:   "dup",
	Short: "Manage duplications",
}

var dupAddCommand = &cobra.Command{
	Use:   "add <app-name> <remote-cluster>",
	Short: "Start duplicating an app to a remote cluster",
	Long: `Add a duplication mirroring the app from the local cluster to the
named remote cluster. The duplication starts in the START status.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunDupAdd(flags, args[0], args[1])
	},
}

var dupListCommand = &cobra.Command{
	Use:   "list <app-name>",
	Short: "List duplications of an app",
	Long:  `List the duplications of an app. Outputs duplication state as JSON.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunDupList(flags, args[0])
	},
}

var dupPauseCommand = &cobra.Command{
	Use:   "pause <app-name> <dup-id>",
	Short: "Pause a duplication",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunDupPause(flags, args[0], args[1])
	},
}

var dupResumeCommand = &cobra.Command{
	Use:   "resume <app-name> <dup-id>",
	Short: "Resume a paused duplication",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunDupResume(flags, args[0], args[1])
	},
}

var dupRemoveCommand = &cobra.Command{
	Use:   "remove <app-name> <dup-id>",
	Short: "Remove a duplication",
	Long: `Remove a duplication from the tracker. The duplication stops being
reported to partition workers and its progress records are deleted.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunDupRemove(flags, args[0], args[1])
	},
}

var dupFailModeCommand = &cobra.Command{
	Use:   "fail-mode <app-name> <dup-id> <FAIL_SLOW|FAIL_FAST>",
	Short: "Change the fail mode of a duplication",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunDupFailMode(flags, args[0], args[1], args[2])
	},
}

func init() {
	dupCommand.AddCommand(dupAddCommand, dupListCommand, dupPauseCommand,
		dupResumeCommand, dupRemoveCommand, dupFailModeCommand)
}

func RunDupAdd(flags FlagParams, app, remote string) error {
	client, err := createClient(flags)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	ctx, cancel, err := requestContext(flags)
	if err != nil {
		return err
	}
	defer cancel()

	var resp transport.DupsAddResponse
	if err := client.DupsAdd(ctx, &transport.DupsAddRequest{
		App:    app,
		Remote: remote,
	}, &resp); err != nil {
		return fmt.Errorf("failed to add duplication: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Successfully added duplication '%d' mirroring '%s' to '%s'\n",
		resp.Dup.DupID, app, remote)
	return nil
}

func RunDupList(flags FlagParams, app string) error {
	client, err := createClient(flags)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	ctx, cancel, err := requestContext(flags)
	if err != nil {
		return err
	}
	defer cancel()

	var resp transport.DupsQueryResponse
	if err := client.DupsQuery(ctx, &transport.DupsQueryRequest{App: app}, &resp); err != nil {
		return fmt.Errorf("failed to list duplications: %w", err)
	}

	// Convert to JSON for output
	output := struct {
		Dups  []*transport.DupEntry `json:"dups"`
		Count int                   `json:"count"`
	}{
		Dups:  resp.Dups,
		Count: len(resp.Dups),
	}

	jsonBytes, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	fmt.Println(string(jsonBytes))

	fmt.Fprintf(os.Stderr, "Found %d duplication(s)\n", len(resp.Dups))
	return nil
}

func RunDupPause(flags FlagParams, app, id string) error {
	if err := modifyDup(flags, app, id, "PAUSE", ""); err != nil {
		return fmt.Errorf("failed to pause duplication: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Successfully paused duplication '%s' of app '%s'\n", id, app)
	return nil
}

func RunDupResume(flags FlagParams, app, id string) error {
	if err := modifyDup(flags, app, id, "START", ""); err != nil {
		return fmt.Errorf("failed to resume duplication: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Successfully resumed duplication '%s' of app '%s'\n", id, app)
	return nil
}

func RunDupRemove(flags FlagParams, app, id string) error {
	if err := modifyDup(flags, app, id, "REMOVED", ""); err != nil {
		return fmt.Errorf("failed to remove duplication: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Successfully removed duplication '%s' from app '%s'\n", id, app)
	return nil
}

func RunDupFailMode(flags FlagParams, app, id, mode string) error {
	if err := modifyDup(flags, app, id, "", mode); err != nil {
		return fmt.Errorf("failed to change fail mode: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Successfully set fail mode of duplication '%s' to '%s'\n", id, mode)
	return nil
}

func modifyDup(flags FlagParams, app, id, status, mode string) error {
	client, err := createClient(flags)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	ctx, cancel, err := requestContext(flags)
	if err != nil {
		return err
	}
	defer cancel()

	dupID, err := strconv.ParseInt(id, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid dup-id '%s'; must be an integer", id)
	}

	var resp transport.DupsModifyResponse
	return client.DupsModify(ctx, &transport.DupsModifyRequest{
		App:      app,
		DupID:    int32(dupID),
		Status:   status,
		FailMode: mode,
	}, &resp)
}
