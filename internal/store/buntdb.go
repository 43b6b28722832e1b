package store

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/kapetan-io/errors"
	"github.com/kapetan-io/tackle/clock"
	"github.com/kapetan-io/tackle/set"
	"github.com/tidwall/buntdb"
)

type BuntConfig struct {
	// File is the data file, ':memory:' keeps the tree in memory only
	File string
	// Log is used to log warnings and errors
	Log *slog.Logger
	// Clock is a time provider used to preform time related calculations. It is
	// configurable so that it can be overridden for testing.
	Clock *clock.Provider
}

// BuntStore keeps the node tree in buntdb. Keys are full node paths, the
// ordered key space makes Children a short AscendGreaterOrEqual walk. No
// secondary indexes are created, values are opaque to bunt.
type BuntStore struct {
	pathValidation
	conf BuntConfig
	db   *buntdb.DB
}

var _ MetaStore = &BuntStore{}

func NewBuntStore(conf BuntConfig) (*BuntStore, error) {
	set.Default(&conf.File, ":memory:")
	set.Default(&conf.Log, slog.Default())
	set.Default(&conf.Clock, clock.NewProvider())

	db, err := buntdb.Open(conf.File)
	if err != nil {
		return nil, errors.Errorf("while opening buntdb '%s': %w", conf.File, err)
	}
	return &BuntStore{conf: conf, db: db}, nil
}

func (s *BuntStore) Create(_ context.Context, path string, value []byte) error {
	if err := s.validatePath(path); err != nil {
		return err
	}

	return s.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Get(path); err == nil {
			return ErrNodeExists
		} else if !errors.Is(err, buntdb.ErrNotFound) {
			return errors.Errorf("during Get(%s): %w", path, err)
		}

		for _, a := range ancestors(path) {
			_, err := tx.Get(a)
			if errors.Is(err, buntdb.ErrNotFound) {
				if _, _, err := tx.Set(a, "", nil); err != nil {
					return errors.Errorf("during Set(%s): %w", a, err)
				}
				continue
			}
			if err != nil {
				return errors.Errorf("during Get(%s): %w", a, err)
			}
		}

		if _, _, err := tx.Set(path, string(value), nil); err != nil {
			return errors.Errorf("during Set(%s): %w", path, err)
		}
		return nil
	})
}

func (s *BuntStore) Set(_ context.Context, path string, value []byte) error {
	if err := s.validatePath(path); err != nil {
		return err
	}

	return s.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Get(path); err != nil {
			if errors.Is(err, buntdb.ErrNotFound) {
				return ErrNodeNotExist
			}
			return errors.Errorf("during Get(%s): %w", path, err)
		}
		if _, _, err := tx.Set(path, string(value), nil); err != nil {
			return errors.Errorf("during Set(%s): %w", path, err)
		}
		return nil
	})
}

func (s *BuntStore) Get(_ context.Context, path string) ([]byte, error) {
	if err := s.validatePath(path); err != nil {
		return nil, err
	}

	var out []byte
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(path)
		if err != nil {
			if errors.Is(err, buntdb.ErrNotFound) {
				return ErrNodeNotExist
			}
			return errors.Errorf("during Get(%s): %w", path, err)
		}
		out = []byte(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BuntStore) Children(_ context.Context, path string) ([]string, error) {
	if err := s.validatePath(path); err != nil {
		return nil, err
	}

	var out []string
	err := s.db.View(func(tx *buntdb.Tx) error {
		if _, err := tx.Get(path); err != nil {
			if errors.Is(err, buntdb.ErrNotFound) {
				return ErrNodeNotExist
			}
			return errors.Errorf("during Get(%s): %w", path, err)
		}

		seen := make(map[string]struct{})
		prefix := path + "/"
		err := tx.AscendGreaterOrEqual("", prefix, func(key, value string) bool {
			if !strings.HasPrefix(key, prefix) {
				return false
			}
			if name, ok := childOf(path, key); ok {
				seen[name] = struct{}{}
			}
			return true
		})
		if err != nil {
			return errors.Errorf("during AscendGreaterOrEqual(): %w", err)
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

func (s *BuntStore) Delete(_ context.Context, path string) error {
	if err := s.validatePath(path); err != nil {
		return err
	}

	return s.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Get(path); err != nil {
			if errors.Is(err, buntdb.ErrNotFound) {
				return ErrNodeNotExist
			}
			return errors.Errorf("during Get(%s): %w", path, err)
		}

		// Collect first, bunt does not allow writes while iterating
		var keys []string
		prefix := path + "/"
		err := tx.AscendGreaterOrEqual("", prefix, func(key, value string) bool {
			if !strings.HasPrefix(key, prefix) {
				return false
			}
			keys = append(keys, key)
			return true
		})
		if err != nil {
			return errors.Errorf("during AscendGreaterOrEqual(): %w", err)
		}
		keys = append(keys, path)

		for _, k := range keys {
			if _, err := tx.Delete(k); err != nil {
				return errors.Errorf("during Delete(%s): %w", k, err)
			}
		}
		return nil
	})
}

func (s *BuntStore) Close() error {
	return s.db.Close()
}
