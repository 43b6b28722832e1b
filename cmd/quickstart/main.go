/*
Copyright 2025 Meridian Labs

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command quickstart validates the duplication workflow end to end by
// starting an in-process daemon and walking an app through registration,
// duplication add, progress sync, pause and removal.
//
// Usage:
//
//	go run main.go [flags]
//
// Flags:
//
//	--verbose   Print detailed output
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/meridian-io/duplicant/daemon"
	"github.com/meridian-io/duplicant/transport"
)

const (
	appName    = "quickstart-test"
	partitions = 4
)

var verbose = flag.Bool("verbose", false, "Print detailed output")

func main() {
	flag.Parse()

	fmt.Println("Duplicant Quick Start Validation")
	fmt.Println("================================")

	if err := run(); err != nil {
		fmt.Printf("\n[✗] Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nAll checks passed!")
}

func run() error {
	ctx := context.Background()

	d, err := daemon.NewDaemon(ctx, daemon.Config{ListenAddress: "localhost:0"})
	if err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	defer func() { _ = d.Shutdown(ctx) }()
	printCheck("Daemon started on " + d.Listener.Addr().String())

	client := d.MustClient()

	if err := client.AppsCreate(ctx, &transport.AppInfo{
		Name:           appName,
		PartitionCount: partitions,
	}); err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}
	printCheck(fmt.Sprintf("App %q created with %d partitions", appName, partitions))

	var addResp transport.DupsAddResponse
	if err := client.DupsAdd(ctx, &transport.DupsAddRequest{
		App:    appName,
		Remote: "cluster-remote",
	}, &addResp); err != nil {
		return fmt.Errorf("failed to add duplication: %w", err)
	}
	dupID := addResp.Dup.DupID
	printCheck(fmt.Sprintf("Duplication %d added (status: %s)", dupID, addResp.Dup.Status))

	confirmed := make([]transport.ConfirmEntry, partitions)
	for i := range confirmed {
		confirmed[i] = transport.ConfirmEntry{
			DupID:     dupID,
			Partition: i,
			Decree:    int64(100 + i),
		}
	}
	var syncResp transport.DupsSyncResponse
	if err := client.DupsSync(ctx, &transport.DupsSyncRequest{
		App:       appName,
		Confirmed: confirmed,
	}, &syncResp); err != nil {
		return fmt.Errorf("failed to sync progress: %w", err)
	}
	printCheck(fmt.Sprintf("Synced confirmed decrees for %d partitions", partitions))

	var queryResp transport.DupsQueryResponse
	if err := client.DupsQuery(ctx, &transport.DupsQueryRequest{App: appName}, &queryResp); err != nil {
		return fmt.Errorf("failed to query duplications: %w", err)
	}
	if len(queryResp.Dups) != 1 {
		return fmt.Errorf("expected 1 duplication, got %d", len(queryResp.Dups))
	}
	if len(queryResp.Dups[0].Progress) != partitions {
		return fmt.Errorf("expected progress for %d partitions, got %d",
			partitions, len(queryResp.Dups[0].Progress))
	}
	verboseLog("progress: %v", queryResp.Dups[0].Progress)
	printCheck("Query returned the duplication with per partition progress")

	var modResp transport.DupsModifyResponse
	if err := client.DupsModify(ctx, &transport.DupsModifyRequest{
		App:    appName,
		DupID:  dupID,
		Status: "PAUSE",
	}, &modResp); err != nil {
		return fmt.Errorf("failed to pause duplication: %w", err)
	}
	printCheck(fmt.Sprintf("Duplication %d paused (status: %s)", dupID, modResp.Dup.Status))

	if err := client.DupsModify(ctx, &transport.DupsModifyRequest{
		App:    appName,
		DupID:  dupID,
		Status: "REMOVED",
	}, &modResp); err != nil {
		return fmt.Errorf("failed to remove duplication: %w", err)
	}
	printCheck(fmt.Sprintf("Duplication %d removed", dupID))

	return nil
}

func printCheck(msg string) {
	fmt.Printf("[✓] %s\n", msg)
}

func verboseLog(format string, args ...any) {
	if *verbose {
		fmt.Printf("[~] "+format+"\n", args...)
	}
}
