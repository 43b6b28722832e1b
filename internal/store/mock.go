package store

import (
	"context"
)

// MockConfig intercepts MetaStore methods in tests. A hook that returns an
// error short circuits the call, a nil return falls through to the wrapped
// store. Methods with no hook always fall through.
type MockConfig struct {
	Methods map[string]func(args []any) error
}

// MockStore wraps a real MetaStore, usually a MemoryStore, so tests can
// inject failures on chosen operations while everything else behaves
// normally.
type MockStore struct {
	conf    *MockConfig
	wrapped MetaStore
}

var _ MetaStore = &MockStore{}

func NewMockStore(conf *MockConfig, wrapped MetaStore) *MockStore {
	return &MockStore{conf: conf, wrapped: wrapped}
}

func (m *MockStore) Create(ctx context.Context, path string, value []byte) error {
	if f, ok := m.conf.Methods["MetaStore.Create"]; ok {
		if err := f([]any{ctx, path, value}); err != nil {
			return err
		}
	}
	return m.wrapped.Create(ctx, path, value)
}

func (m *MockStore) Set(ctx context.Context, path string, value []byte) error {
	if f, ok := m.conf.Methods["MetaStore.Set"]; ok {
		if err := f([]any{ctx, path, value}); err != nil {
			return err
		}
	}
	return m.wrapped.Set(ctx, path, value)
}

func (m *MockStore) Get(ctx context.Context, path string) ([]byte, error) {
	if f, ok := m.conf.Methods["MetaStore.Get"]; ok {
		if err := f([]any{ctx, path}); err != nil {
			return nil, err
		}
	}
	return m.wrapped.Get(ctx, path)
}

func (m *MockStore) Children(ctx context.Context, path string) ([]string, error) {
	if f, ok := m.conf.Methods["MetaStore.Children"]; ok {
		if err := f([]any{ctx, path}); err != nil {
			return nil, err
		}
	}
	return m.wrapped.Children(ctx, path)
}

func (m *MockStore) Delete(ctx context.Context, path string) error {
	if f, ok := m.conf.Methods["MetaStore.Delete"]; ok {
		if err := f([]any{ctx, path}); err != nil {
			return err
		}
	}
	return m.wrapped.Delete(ctx, path)
}

func (m *MockStore) Close() error {
	return m.wrapped.Close()
}
