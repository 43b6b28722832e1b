package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/kapetan-io/errors"
	"github.com/kapetan-io/tackle/clock"
	"github.com/kapetan-io/tackle/set"
)

type BadgerConfig struct {
	// StorageDir is the directory where badger will store its data
	StorageDir string
	// Log is used to log warnings and errors
	Log *slog.Logger
	// Clock is a time provider used to preform time related calculations. It is
	// configurable so that it can be overridden for testing.
	Clock *clock.Provider
}

// BadgerStore keeps the node tree in a badger database under StorageDir.
// Keys are full node paths.
type BadgerStore struct {
	pathValidation
	conf BadgerConfig
	mu   sync.Mutex
	db   *badger.DB
}

var _ MetaStore = &BadgerStore{}

// NewBadgerStore creates a badger backed MetaStore. The database is opened
// on first use, not here.
func NewBadgerStore(conf BadgerConfig) (*BadgerStore, error) {
	set.Default(&conf.Log, slog.Default())
	set.Default(&conf.Clock, clock.NewProvider())
	return &BadgerStore{conf: conf}, nil
}

func (b *BadgerStore) getDB() (*badger.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db != nil {
		return b.db, nil
	}

	dir := filepath.Join(b.conf.StorageDir, "duplicant-badger")
	opts := badger.DefaultOptions(dir)
	opts.Logger = newBadgerLogger(b.conf.Log)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Errorf("while opening db '%s': %w", dir, err)
	}
	b.db = db
	return db, nil
}

func (b *BadgerStore) Create(_ context.Context, path string, value []byte) error {
	if err := b.validatePath(path); err != nil {
		return err
	}
	db, err := b.getDB()
	if err != nil {
		return err
	}

	return db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(path)); err == nil {
			return ErrNodeExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return errors.Errorf("during Get(%s): %w", path, err)
		}

		for _, a := range ancestors(path) {
			_, err := txn.Get([]byte(a))
			if errors.Is(err, badger.ErrKeyNotFound) {
				if err := txn.Set([]byte(a), []byte{}); err != nil {
					return errors.Errorf("during Set(%s): %w", a, err)
				}
				continue
			}
			if err != nil {
				return errors.Errorf("during Get(%s): %w", a, err)
			}
		}

		if err := txn.Set([]byte(path), value); err != nil {
			return errors.Errorf("during Set(%s): %w", path, err)
		}
		return nil
	})
}

func (b *BadgerStore) Set(_ context.Context, path string, value []byte) error {
	if err := b.validatePath(path); err != nil {
		return err
	}
	db, err := b.getDB()
	if err != nil {
		return err
	}

	return db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(path)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNodeNotExist
			}
			return errors.Errorf("during Get(%s): %w", path, err)
		}
		if err := txn.Set([]byte(path), value); err != nil {
			return errors.Errorf("during Set(%s): %w", path, err)
		}
		return nil
	})
}

func (b *BadgerStore) Get(_ context.Context, path string) ([]byte, error) {
	if err := b.validatePath(path); err != nil {
		return nil, err
	}
	db, err := b.getDB()
	if err != nil {
		return nil, err
	}

	var out []byte
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(path))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNodeNotExist
			}
			return errors.Errorf("during Get(%s): %w", path, err)
		}
		out, err = item.ValueCopy(nil)
		if err != nil {
			return errors.Errorf("during ValueCopy(): %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BadgerStore) Children(_ context.Context, path string) ([]string, error) {
	if err := b.validatePath(path); err != nil {
		return nil, err
	}
	db, err := b.getDB()
	if err != nil {
		return nil, err
	}

	var out []string
	err = db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(path)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNodeNotExist
			}
			return errors.Errorf("during Get(%s): %w", path, err)
		}

		seen := make(map[string]struct{})
		iter := txn.NewIterator(badger.IteratorOptions{
			PrefetchValues: false,
			Prefix:         []byte(path + "/"),
		})
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if name, ok := childOf(path, string(iter.Item().Key())); ok {
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

func (b *BadgerStore) Delete(_ context.Context, path string) error {
	if err := b.validatePath(path); err != nil {
		return err
	}
	db, err := b.getDB()
	if err != nil {
		return err
	}

	return db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(path)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNodeNotExist
			}
			return errors.Errorf("during Get(%s): %w", path, err)
		}

		var keys [][]byte
		iter := txn.NewIterator(badger.IteratorOptions{
			PrefetchValues: false,
			Prefix:         []byte(path + "/"),
		})
		for iter.Rewind(); iter.Valid(); iter.Next() {
			keys = append(keys, iter.Item().KeyCopy(nil))
		}
		iter.Close()
		keys = append(keys, []byte(path))

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return errors.Errorf("during Delete(%s): %w", k, err)
			}
		}
		return nil
	})
}

func (b *BadgerStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

type badgerLogger struct {
	log *slog.Logger
}

func newBadgerLogger(log *slog.Logger) *badgerLogger {
	return &badgerLogger{log: log.With("code.namespace", "badger-lib")}
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.log.Error(fmt.Sprintf(strings.Trim(f, "\n"), v...))
}

func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.log.Warn(fmt.Sprintf(strings.Trim(f, "\n"), v...))
}

func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.log.LogAttrs(context.Background(), LevelDebug, fmt.Sprintf(strings.Trim(f, "\n"), v...))
}

func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.log.LogAttrs(context.Background(), LevelDebug, fmt.Sprintf(strings.Trim(f, "\n"), v...))
}
