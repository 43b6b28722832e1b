package store

import (
	"bytes"
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/kapetan-io/tackle/clock"
	"github.com/kapetan-io/tackle/set"
)

type MemoryConfig struct {
	// Log is used to log warnings and errors
	Log *slog.Logger
	// Clock is a time provider used to preform time related calculations. It is
	// configurable so that it can be overridden for testing.
	Clock *clock.Provider
}

// MemoryStore keeps the node tree in process memory. It is the default
// backend and the one the test suites run against.
type MemoryStore struct {
	pathValidation
	conf  MemoryConfig
	mu    sync.Mutex
	nodes map[string][]byte
}

var _ MetaStore = &MemoryStore{}

func NewMemoryStore(conf MemoryConfig) *MemoryStore {
	set.Default(&conf.Log, slog.Default())
	set.Default(&conf.Clock, clock.NewProvider())
	return &MemoryStore{
		nodes: make(map[string][]byte),
		conf:  conf,
	}
}

func (m *MemoryStore) Create(_ context.Context, path string, value []byte) error {
	if err := m.validatePath(path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[path]; ok {
		return ErrNodeExists
	}
	for _, a := range ancestors(path) {
		if _, ok := m.nodes[a]; !ok {
			m.nodes[a] = []byte{}
		}
	}
	m.nodes[path] = bytes.Clone(value)
	return nil
}

func (m *MemoryStore) Set(_ context.Context, path string, value []byte) error {
	if err := m.validatePath(path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[path]; !ok {
		return ErrNodeNotExist
	}
	m.nodes[path] = bytes.Clone(value)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, path string) ([]byte, error) {
	if err := m.validatePath(path); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.nodes[path]
	if !ok {
		return nil, ErrNodeNotExist
	}
	return bytes.Clone(v), nil
}

func (m *MemoryStore) Children(_ context.Context, path string) ([]string, error) {
	if err := m.validatePath(path); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[path]; !ok {
		return nil, ErrNodeNotExist
	}

	seen := make(map[string]struct{})
	for p := range m.nodes {
		if name, ok := childOf(path, p); ok {
			seen[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, path string) error {
	if err := m.validatePath(path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[path]; !ok {
		return ErrNodeNotExist
	}
	prefix := path + "/"
	for p := range m.nodes {
		if strings.HasPrefix(p, prefix) {
			delete(m.nodes, p)
		}
	}
	delete(m.nodes, path)
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = make(map[string][]byte)
	return nil
}
