package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kapetan-io/errors"
	"github.com/kapetan-io/tackle/clock"
	"github.com/kapetan-io/tackle/set"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("meta")

type BoltConfig struct {
	// StorageDir is the directory where bolt will store its data file
	StorageDir string
	// Log is used to log warnings and errors
	Log *slog.Logger
	// Clock is a time provider used to preform time related calculations. It is
	// configurable so that it can be overridden for testing.
	Clock *clock.Provider
}

// BoltStore keeps the node tree in a single bolt file. Keys are full node
// paths, which keeps Children and recursive Delete a simple cursor scan.
type BoltStore struct {
	pathValidation
	conf BoltConfig
	db   *bolt.DB
}

var _ MetaStore = &BoltStore{}

// NewBoltStore creates a bolt backed MetaStore. The data file is opened on
// first use, not here.
func NewBoltStore(conf BoltConfig) (*BoltStore, error) {
	set.Default(&conf.Log, slog.Default())
	set.Default(&conf.Clock, clock.NewProvider())
	return &BoltStore{conf: conf}, nil
}

func (b *BoltStore) getDB() (*bolt.DB, error) {
	if b.db != nil {
		return b.db, nil
	}

	f := errors.Fields{"category", "bolt", "func", "BoltStore.getDB"}
	file := filepath.Join(b.conf.StorageDir, "duplicant.db")

	opts := &bolt.Options{
		FreelistType: bolt.FreelistArrayType,
		Timeout:      clock.Second,
		NoGrowSync:   false,
	}

	db, err := bolt.Open(file, 0600, opts)
	if err != nil {
		return nil, f.Errorf("while opening db '%s': %w", file, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if bucket := tx.Bucket(bucketName); bucket == nil {
			_, err := tx.CreateBucket(bucketName)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, f.Errorf("while creating bucket '%s': %w", file, err)
	}

	b.db = db
	return db, nil
}

func (b *BoltStore) Create(_ context.Context, path string, value []byte) error {
	f := errors.Fields{"category", "bolt", "func", "BoltStore.Create"}

	if err := b.validatePath(path); err != nil {
		return err
	}
	db, err := b.getDB()
	if err != nil {
		return err
	}

	return db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket == nil {
			return f.Error("bucket does not exist in data file")
		}

		if bucket.Get([]byte(path)) != nil {
			return ErrNodeExists
		}
		for _, a := range ancestors(path) {
			if bucket.Get([]byte(a)) == nil {
				if err := bucket.Put([]byte(a), []byte{}); err != nil {
					return f.Errorf("during Put(%s): %w", a, err)
				}
			}
		}
		if err := bucket.Put([]byte(path), value); err != nil {
			return f.Errorf("during Put(%s): %w", path, err)
		}
		return nil
	})
}

func (b *BoltStore) Set(_ context.Context, path string, value []byte) error {
	f := errors.Fields{"category", "bolt", "func", "BoltStore.Set"}

	if err := b.validatePath(path); err != nil {
		return err
	}
	db, err := b.getDB()
	if err != nil {
		return err
	}

	return db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket == nil {
			return f.Error("bucket does not exist in data file")
		}

		if bucket.Get([]byte(path)) == nil {
			return ErrNodeNotExist
		}
		if err := bucket.Put([]byte(path), value); err != nil {
			return f.Errorf("during Put(%s): %w", path, err)
		}
		return nil
	})
}

func (b *BoltStore) Get(_ context.Context, path string) ([]byte, error) {
	f := errors.Fields{"category", "bolt", "func", "BoltStore.Get"}

	if err := b.validatePath(path); err != nil {
		return nil, err
	}
	db, err := b.getDB()
	if err != nil {
		return nil, err
	}

	var out []byte
	err = db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket == nil {
			return f.Error("bucket does not exist in data file")
		}

		v := bucket.Get([]byte(path))
		if v == nil {
			return ErrNodeNotExist
		}
		out = append(out, v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BoltStore) Children(_ context.Context, path string) ([]string, error) {
	f := errors.Fields{"category", "bolt", "func", "BoltStore.Children"}

	if err := b.validatePath(path); err != nil {
		return nil, err
	}
	db, err := b.getDB()
	if err != nil {
		return nil, err
	}

	var out []string
	err = db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket == nil {
			return f.Error("bucket does not exist in data file")
		}

		if bucket.Get([]byte(path)) == nil {
			return ErrNodeNotExist
		}

		seen := make(map[string]struct{})
		prefix := []byte(path + "/")
		c := bucket.Cursor()
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			if name, ok := childOf(path, string(k)); ok {
				seen[name] = struct{}{}
			}
		}
		for name := range seen {
			out = append(out, name)
		}
		sort.Strings(out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BoltStore) Delete(_ context.Context, path string) error {
	f := errors.Fields{"category", "bolt", "func", "BoltStore.Delete"}

	if err := b.validatePath(path); err != nil {
		return err
	}
	db, err := b.getDB()
	if err != nil {
		return err
	}

	return db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket == nil {
			return f.Error("bucket does not exist in data file")
		}

		if bucket.Get([]byte(path)) == nil {
			return ErrNodeNotExist
		}

		// Collect first, deleting while the cursor advances can skip keys
		var keys [][]byte
		prefix := []byte(path + "/")
		c := bucket.Cursor()
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			keys = append(keys, append([]byte{}, k...))
		}
		keys = append(keys, []byte(path))

		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return f.Errorf("during Delete(%s): %w", k, err)
			}
		}
		return nil
	})
}

func (b *BoltStore) Close() error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}
