package duplicant_test

import (
	"fmt"
	"testing"

	dup "github.com/meridian-io/duplicant"
	"github.com/meridian-io/duplicant/transport"
	"github.com/kapetan-io/tackle/clock"
	"github.com/kapetan-io/tackle/random"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// FuzzSyncInvariant tests the core progress property: every partition's first
// confirmed decree is written through, durable progress never exceeds what a
// worker actually reported, and it never moves backwards regardless of how
// reports are batched across rounds.
func FuzzSyncInvariant(f *testing.F) {
	f.Add(4, int64(100), uint8(3))
	f.Add(1, int64(0), uint8(1))
	f.Add(64, int64(1)<<40, uint8(8))
	f.Add(7, int64(25), uint8(2))

	f.Fuzz(func(t *testing.T, partitions int, base int64, rounds uint8) {
		if partitions < 1 || partitions > 64 || base < 0 || base > int64(1)<<50 ||
			rounds < 1 || rounds > 8 {
			t.Skip()
		}

		d, c, ctx := newDaemon(t, 10*clock.Second, dup.ServiceConfig{
			StorageConfig: setupMemoryStorage(),
		})
		defer d.Shutdown(t)

		appName := fmt.Sprintf("fuzz-%d-%s", partitions, random.Alpha("", 10))
		createApp(t, ctx, c, appName, partitions)
		entry := addDup(t, ctx, c, appName, "cluster-fuzz")

		// Highest decree reported so far, per partition
		want := make(map[int]int64)

		for round := 0; round < int(rounds); round++ {
			confirmed := make([]transport.ConfirmEntry, 0, partitions)
			for p := 0; p < partitions; p++ {
				dec := base + int64(round*partitions+p)
				if cur, ok := want[p]; !ok || dec > cur {
					want[p] = dec
				}
				confirmed = append(confirmed, transport.ConfirmEntry{
					DupID:     entry.DupID,
					Partition: p,
					Decree:    dec,
				})
			}
			var resp transport.DupsSyncResponse
			require.NoError(t, c.DupsSync(ctx, &transport.DupsSyncRequest{
				App:       appName,
				Confirmed: confirmed,
			}, &resp))
			require.Equal(t, 1, len(resp.Dups))
		}

		dups := queryDups(t, ctx, c, appName)
		require.Equal(t, 1, len(dups))

		// The first round initializes and persists every partition. Later
		// rounds may or may not have been written yet depending on the write
		// window, but durable progress is always bounded by what was reported
		// and is at least the first round's decree.
		require.Equal(t, partitions, len(dups[0].Progress))
		for p, dec := range dups[0].Progress {
			require.Contains(t, want, p)
			assert.GreaterOrEqual(t, dec, base+int64(p))
			assert.LessOrEqual(t, dec, want[p])
		}
	})
}
