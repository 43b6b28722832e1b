package duplicant_test

import (
	"context"
	"flag"
	dup "github.com/meridian-io/duplicant"
	"github.com/meridian-io/duplicant/daemon"
	"github.com/meridian-io/duplicant/internal/store"
	"github.com/meridian-io/duplicant/transport"
	"github.com/kapetan-io/tackle/clock"
	"github.com/kapetan-io/tackle/color"
	"github.com/kapetan-io/tackle/random"
	"github.com/kapetan-io/tackle/set"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

type NewStorageFunc func() store.StorageConfig

var log *slog.Logger

func TestMain(m *testing.M) {

	logFlag := flag.String("logging", "", "indicates the type of logging during tests. "+
		"If unset tests run with debug level colored text log output. "+
		"If set to 'ci' discards logs during tests which greatly reduces logs during CI runs")
	flag.Parse()

	switch *logFlag {
	case "":
		log = slog.New(color.NewLog(&color.LogOptions{
			HandlerOptions: slog.HandlerOptions{
				ReplaceAttr: color.SuppressAttrs(slog.TimeKey),
				Level:       store.LevelDebugAll,
			},
		}))
	case "ci":
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	goleak.VerifyTestMain(m)
}

// ---------------------------------------------------------------------
// TestDaemon
// ---------------------------------------------------------------------

type testDaemon struct {
	cancel context.CancelFunc
	ctx    context.Context
	d      *daemon.Daemon
}

func (td *testDaemon) Shutdown(t *testing.T) {
	t.Helper()

	require.NoError(t, td.d.Shutdown(td.ctx))
	td.cancel()
}

func (td *testDaemon) MustClient() *dup.Client {
	return td.d.MustClient()
}

func (td *testDaemon) Context() context.Context {
	return td.ctx
}

func (td *testDaemon) Service() *dup.Service {
	return td.d.Service()
}

func newDaemon(t *testing.T, duration clock.Duration, conf dup.ServiceConfig) (*testDaemon, *dup.Client, context.Context) {
	t.Helper()

	set.Default(&conf.Log, log)
	td := &testDaemon{}
	var err error

	td.ctx, td.cancel = context.WithTimeout(context.Background(), duration)
	td.d, err = daemon.NewDaemon(td.ctx, daemon.Config{
		ServiceConfig: conf,
		ListenAddress: "localhost:0",
	})
	require.NoError(t, err)
	return td, td.d.MustClient(), td.ctx
}

// ---------------------------------------------------------------------
// Storage test setup
// ---------------------------------------------------------------------

type boltTestSetup struct {
	Dir string
}

func (b *boltTestSetup) Setup() store.StorageConfig {
	if !dirExists(b.Dir) {
		if err := os.Mkdir(b.Dir, 0777); err != nil {
			panic(err)
		}
	}
	b.Dir = filepath.Join(b.Dir, random.String("test-data-", 10))
	if err := os.Mkdir(b.Dir, 0777); err != nil {
		panic(err)
	}
	return store.StorageConfig{
		Driver:     store.DriverBolt,
		StorageDir: b.Dir,
	}
}

func (b *boltTestSetup) Teardown() {
	if err := os.RemoveAll(b.Dir); err != nil {
		panic(err)
	}
}

type badgerTestSetup struct {
	Dir string
}

func (b *badgerTestSetup) Setup() store.StorageConfig {
	if !dirExists(b.Dir) {
		if err := os.Mkdir(b.Dir, 0777); err != nil {
			panic(err)
		}
	}
	b.Dir = filepath.Join(b.Dir, random.String("test-data-", 10))
	if err := os.Mkdir(b.Dir, 0777); err != nil {
		panic(err)
	}
	return store.StorageConfig{
		Driver:     store.DriverBadger,
		StorageDir: b.Dir,
	}
}

func (b *badgerTestSetup) Teardown() {
	if err := os.RemoveAll(b.Dir); err != nil {
		panic(err)
	}
}

type buntTestSetup struct {
	Dir string
}

func (b *buntTestSetup) Setup() store.StorageConfig {
	if !dirExists(b.Dir) {
		if err := os.Mkdir(b.Dir, 0777); err != nil {
			panic(err)
		}
	}
	b.Dir = filepath.Join(b.Dir, random.String("test-data-", 10))
	if err := os.Mkdir(b.Dir, 0777); err != nil {
		panic(err)
	}
	return store.StorageConfig{
		Driver: store.DriverBunt,
		File:   filepath.Join(b.Dir, "bunt.db"),
	}
}

func (b *buntTestSetup) Teardown() {
	if err := os.RemoveAll(b.Dir); err != nil {
		panic(err)
	}
}

func setupMemoryStorage() store.StorageConfig {
	return store.StorageConfig{Driver: store.DriverMemory}
}

// ---------------------------------------------
// Test Helpers
// ---------------------------------------------

func createApp(t *testing.T, ctx context.Context, c *dup.Client, name string, partitions int) {
	t.Helper()
	require.NoError(t, c.AppsCreate(ctx, &transport.AppInfo{
		Name:           name,
		PartitionCount: partitions,
	}))
}

func addDup(t *testing.T, ctx context.Context, c *dup.Client, app, remote string) *transport.DupEntry {
	t.Helper()
	var resp transport.DupsAddResponse
	require.NoError(t, c.DupsAdd(ctx, &transport.DupsAddRequest{App: app, Remote: remote}, &resp))
	require.NotNil(t, resp.Dup)
	return resp.Dup
}

func queryDups(t *testing.T, ctx context.Context, c *dup.Client, app string) []*transport.DupEntry {
	t.Helper()
	var resp transport.DupsQueryResponse
	require.NoError(t, c.DupsQuery(ctx, &transport.DupsQueryRequest{App: app}, &resp))
	return resp.Dups
}

func syncDecree(t *testing.T, ctx context.Context, c *dup.Client, app string, id int32,
	partition int, decree int64) transport.DupsSyncResponse {
	t.Helper()
	var resp transport.DupsSyncResponse
	require.NoError(t, c.DupsSync(ctx, &transport.DupsSyncRequest{
		App: app,
		Confirmed: []transport.ConfirmEntry{
			{DupID: id, Partition: partition, Decree: decree},
		},
	}, &resp))
	return resp
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false
		}
		return false
	}
	return info.IsDir()
}
