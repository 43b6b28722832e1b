package store_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/meridian-io/duplicant/internal/store"
	"github.com/kapetan-io/tackle/random"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type NewStoreFunc func() store.MetaStore

func TestMetaStore(t *testing.T) {
	var dir string

	for _, tc := range []struct {
		Setup    NewStoreFunc
		TearDown func()
		Name     string
	}{
		{
			Name: "Memory",
			Setup: func() store.MetaStore {
				return store.NewMemoryStore(store.MemoryConfig{})
			},
			TearDown: func() {},
		},
		{
			Name: "BuntDB",
			Setup: func() store.MetaStore {
				s, err := store.NewBuntStore(store.BuntConfig{})
				if err != nil {
					panic(err)
				}
				return s
			},
			TearDown: func() {},
		},
		{
			Name: "BoltDB",
			Setup: func() store.MetaStore {
				dir = random.String("test-data-", 10)
				if err := os.Mkdir(dir, 0777); err != nil {
					panic(err)
				}
				s, err := store.NewBoltStore(store.BoltConfig{
					StorageDir: dir,
				})
				if err != nil {
					panic(err)
				}
				return s
			},
			TearDown: func() {
				if err := os.RemoveAll(dir); err != nil {
					panic(err)
				}
			},
		},
		{
			Name: "BadgerDB",
			Setup: func() store.MetaStore {
				dir = random.String("test-data-", 10)
				if err := os.Mkdir(dir, 0777); err != nil {
					panic(err)
				}
				s, err := store.NewBadgerStore(store.BadgerConfig{
					StorageDir: dir,
				})
				if err != nil {
					panic(err)
				}
				return s
			},
			TearDown: func() {
				if err := os.RemoveAll(dir); err != nil {
					panic(err)
				}
			},
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			testMetaStore(t, tc.Setup, tc.TearDown)
		})
	}
}

// TestZKStore runs the shared suite against a real ZooKeeper ensemble.
// Set ZK_ENDPOINTS to a comma separated server list to enable it.
func TestZKStore(t *testing.T) {
	endpoints := os.Getenv("ZK_ENDPOINTS")
	if endpoints == "" {
		t.Skip("ZK_ENDPOINTS not set; skipping zookeeper store tests")
	}
	testMetaStore(t, func() store.MetaStore {
		s, err := store.NewZKStore(store.ZKConfig{
			Endpoints: strings.Split(endpoints, ","),
		})
		require.NoError(t, err)
		return s
	}, func() {})
}

// TestPostgresStore runs the shared suite against a real postgres instance.
// Set POSTGRES_URI to a connection string to enable it.
func TestPostgresStore(t *testing.T) {
	uri := os.Getenv("POSTGRES_URI")
	if uri == "" {
		t.Skip("POSTGRES_URI not set; skipping postgres store tests")
	}
	testMetaStore(t, func() store.MetaStore {
		s, err := store.NewPostgresStore(store.PostgresConfig{URI: uri})
		require.NoError(t, err)
		return s
	}, func() {})
}

func testMetaStore(t *testing.T, setup NewStoreFunc, tearDown func()) {
	s := setup()
	defer func() {
		_ = s.Close()
		tearDown()
	}()

	// A fresh root per run keeps repeated runs against shared backends like
	// zookeeper from tripping over nodes left by a previous run.
	root := "/" + random.String("duplicant-test-", 10)

	t.Run("CreateAndGet", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		path := root + "/apps/stats"
		require.NoError(t, s.Create(ctx, path, []byte(`{"remote":"bjsrv"}`)))

		value, err := s.Get(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"remote":"bjsrv"}`), value)

		// Missing ancestors spring into existence as empty nodes
		value, err = s.Get(ctx, root+"/apps")
		require.NoError(t, err)
		assert.Empty(t, value)

		children, err := s.Children(ctx, root)
		require.NoError(t, err)
		assert.Equal(t, []string{"apps"}, children)
	})

	t.Run("CreateExisting", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		path := root + "/twice"
		require.NoError(t, s.Create(ctx, path, []byte("one")))

		err := s.Create(ctx, path, []byte("two"))
		require.Error(t, err)
		assert.ErrorIs(t, err, store.ErrNodeExists)

		// The original value is untouched
		value, err := s.Get(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, []byte("one"), value)
	})

	t.Run("SetAndGet", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := s.Set(ctx, root+"/missing", []byte("nope"))
		require.Error(t, err)
		assert.ErrorIs(t, err, store.ErrNodeNotExist)

		path := root + "/progress"
		require.NoError(t, s.Create(ctx, path, []byte(`{"stored_decree":-1}`)))
		require.NoError(t, s.Set(ctx, path, []byte(`{"stored_decree":2200}`)))

		value, err := s.Get(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"stored_decree":2200}`), value)
	})

	t.Run("GetMissing", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_, err := s.Get(ctx, root+"/no-such-node")
		require.Error(t, err)
		assert.ErrorIs(t, err, store.ErrNodeNotExist)
	})

	t.Run("Children", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		base := root + "/fleet"
		require.NoError(t, s.Create(ctx, base+"/zebra", []byte("z")))
		require.NoError(t, s.Create(ctx, base+"/alpha", []byte("a")))
		require.NoError(t, s.Create(ctx, base+"/mike/7", []byte("leaf")))

		// Direct children only, sorted by name. The grandchild under mike
		// must not show up.
		children, err := s.Children(ctx, base)
		require.NoError(t, err)
		assert.Equal(t, []string{"alpha", "mike", "zebra"}, children)

		children, err = s.Children(ctx, base+"/alpha")
		require.NoError(t, err)
		assert.Empty(t, children)

		_, err = s.Children(ctx, base+"/oscar")
		require.Error(t, err)
		assert.ErrorIs(t, err, store.ErrNodeNotExist)
	})

	t.Run("Delete", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		base := root + "/remove"
		require.NoError(t, s.Create(ctx, base+"/dup/1", []byte("a")))
		require.NoError(t, s.Create(ctx, base+"/dup/1/0", []byte("p0")))
		require.NoError(t, s.Create(ctx, base+"/dup/2", []byte("b")))

		require.NoError(t, s.Delete(ctx, base+"/dup"))

		for _, path := range []string{base + "/dup", base + "/dup/1", base + "/dup/1/0", base + "/dup/2"} {
			_, err := s.Get(ctx, path)
			assert.ErrorIs(t, err, store.ErrNodeNotExist, "expected '%s' to be gone", path)
		}

		// The parent survives with no children
		children, err := s.Children(ctx, base)
		require.NoError(t, err)
		assert.Empty(t, children)

		err = s.Delete(ctx, base+"/dup")
		require.Error(t, err)
		assert.ErrorIs(t, err, store.ErrNodeNotExist)
	})

	t.Run("PathValidation", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		for _, path := range []string{
			"",
			"relative/path",
			"/trailing/",
			"/double//segment",
			"/" + strings.Repeat("x", 1024),
		} {
			err := s.Create(ctx, path, []byte("value"))
			require.Error(t, err, "expected Create('%s') to fail", path)
			assert.Contains(t, err.Error(), "path is invalid")
		}
	})
}

func TestNewFromConfig(t *testing.T) {
	s, err := store.NewFromConfig(store.StorageConfig{})
	require.NoError(t, err)
	_, ok := s.(*store.MemoryStore)
	assert.True(t, ok, "empty driver should select the memory store")
	_ = s.Close()

	_, err = store.NewFromConfig(store.StorageConfig{Driver: "etcd"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage driver is invalid")
}

func TestNodePaths(t *testing.T) {
	assert.Equal(t, "/duplicant/apps", store.AppsRoot())
	assert.Equal(t, "/duplicant/apps/stats", store.AppPath("stats"))
	assert.Equal(t, "/duplicant/apps/stats/dup", store.DupsRoot("stats"))
	assert.Equal(t, "/duplicant/apps/stats/dup/1754000000", store.DupPath("stats", 1754000000))
	assert.Equal(t, "/duplicant/apps/stats/dup/1754000000/3", store.PartitionPath("stats", 1754000000, 3))

	id, err := store.ParseDupID("1754000000")
	require.NoError(t, err)
	assert.Equal(t, int32(1754000000), id)
	_, err = store.ParseDupID("not-a-number")
	require.Error(t, err)

	p, err := store.ParsePartition("3")
	require.NoError(t, err)
	assert.Equal(t, 3, p)
	_, err = store.ParsePartition("3.5")
	require.Error(t, err)
}
