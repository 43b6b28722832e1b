package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kapetan-io/errors"
	"github.com/kapetan-io/tackle/clock"
	"github.com/kapetan-io/tackle/set"
)

// ---------------------------------------------
// Global Pool Manager
// ---------------------------------------------

// Pools are shared per connection string so several stores pointed at the
// same database reuse one pool instead of exhausting server connections.

type postgresPoolManager struct {
	pool     *pgxpool.Pool
	refCount atomic.Int32
}

var (
	globalPoolMu sync.Mutex
	globalPools  = make(map[string]*postgresPoolManager)
)

func acquirePool(connString string, maxConns int32, log *slog.Logger) (*pgxpool.Pool, error) {
	globalPoolMu.Lock()
	defer globalPoolMu.Unlock()

	if manager, exists := globalPools[connString]; exists {
		manager.refCount.Add(1)
		return manager.pool, nil
	}

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Errorf("parse connection string: %w", err)
	}

	if maxConns > 0 {
		config.MaxConns = maxConns
	}

	var pool *pgxpool.Pool
	delays := []time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}

	for attempt, delay := range delays {
		if delay > 0 {
			time.Sleep(delay)
		}

		pool, err = pgxpool.NewWithConfig(context.Background(), config)
		if err == nil {
			break
		}

		if attempt < len(delays)-1 && log != nil {
			log.Warn("failed to create pool, retrying",
				"attempt", attempt+1,
				"error", err,
				"next_delay", delays[attempt+1])
		}
	}

	if err != nil {
		return nil, errors.Errorf("create pool after retries: %w", err)
	}

	manager := &postgresPoolManager{pool: pool}
	manager.refCount.Store(1)
	globalPools[connString] = manager

	return pool, nil
}

func releasePool(connString string) {
	globalPoolMu.Lock()
	defer globalPoolMu.Unlock()

	manager, exists := globalPools[connString]
	if !exists {
		return
	}

	if manager.refCount.Add(-1) == 0 {
		manager.pool.Close()
		delete(globalPools, connString)
	}
}

// ---------------------------------------------
// PostgreSQL MetaStore Implementation
// ---------------------------------------------

type PostgresConfig struct {
	// URI is the postgres connection string
	URI string
	// MaxConns caps the shared pool, zero keeps the pgx default
	MaxConns int32
	// Log is used to log warnings and errors
	Log *slog.Logger
	// Clock is a time provider used to preform time related calculations. It is
	// configurable so that it can be overridden for testing.
	Clock *clock.Provider
}

// PostgresStore keeps the node tree in a single two column table. Prefix
// scans with starts_with() stand in for child lookups, which postgres
// serves efficiently from the primary key index.
type PostgresStore struct {
	pathValidation
	conf  PostgresConfig
	mu    sync.Mutex
	pool  *pgxpool.Pool
	ready bool
}

var _ MetaStore = &PostgresStore{}

func NewPostgresStore(conf PostgresConfig) (*PostgresStore, error) {
	set.Default(&conf.Log, slog.Default())
	set.Default(&conf.Clock, clock.NewProvider())

	if conf.URI == "" {
		return nil, errors.New("postgres uri is invalid; cannot be empty")
	}
	return &PostgresStore{conf: conf}, nil
}

func (p *PostgresStore) getPool(_ context.Context) (*pgxpool.Pool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pool == nil {
		pool, err := acquirePool(p.conf.URI, p.conf.MaxConns, p.conf.Log)
		if err != nil {
			return nil, err
		}
		p.pool = pool
	}

	if !p.ready {
		// Table creation runs on its own deadline so a short lived request
		// context cannot abort DDL half way
		bgCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		query := `
			CREATE TABLE IF NOT EXISTS duplicant_meta (
				path TEXT PRIMARY KEY,
				value BYTEA NOT NULL DEFAULT ''
			)`
		if _, err := p.pool.Exec(bgCtx, query); err != nil {
			return nil, errors.Errorf("while creating table duplicant_meta: %w", err)
		}
		p.ready = true
	}
	return p.pool, nil
}

func (p *PostgresStore) Create(ctx context.Context, path string, value []byte) error {
	if err := p.validatePath(path); err != nil {
		return err
	}
	// pgx encodes a nil slice as NULL and the value column is NOT NULL
	if value == nil {
		value = []byte{}
	}
	pool, err := p.getPool(ctx)
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return errors.Errorf("during Begin(): %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	err = tx.QueryRow(ctx, `SELECT true FROM duplicant_meta WHERE path = $1`, path).Scan(&exists)
	if err == nil {
		return ErrNodeExists
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return errors.Errorf("during select of '%s': %w", path, err)
	}

	for _, a := range ancestors(path) {
		_, err := tx.Exec(ctx,
			`INSERT INTO duplicant_meta (path, value) VALUES ($1, '') ON CONFLICT (path) DO NOTHING`, a)
		if err != nil {
			return errors.Errorf("while creating parent '%s': %w", a, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO duplicant_meta (path, value) VALUES ($1, $2)`, path, value); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrNodeExists
		}
		return errors.Errorf("during insert of '%s': %w", path, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Errorf("during Commit(): %w", err)
	}
	return nil
}

func (p *PostgresStore) Set(ctx context.Context, path string, value []byte) error {
	if err := p.validatePath(path); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	pool, err := p.getPool(ctx)
	if err != nil {
		return err
	}

	tag, err := pool.Exec(ctx,
		`UPDATE duplicant_meta SET value = $2 WHERE path = $1`, path, value)
	if err != nil {
		return errors.Errorf("during update of '%s': %w", path, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNodeNotExist
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, path string) ([]byte, error) {
	if err := p.validatePath(path); err != nil {
		return nil, err
	}
	pool, err := p.getPool(ctx)
	if err != nil {
		return nil, err
	}

	var value []byte
	err = pool.QueryRow(ctx, `SELECT value FROM duplicant_meta WHERE path = $1`, path).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNodeNotExist
		}
		return nil, errors.Errorf("during select of '%s': %w", path, err)
	}
	return value, nil
}

func (p *PostgresStore) Children(ctx context.Context, path string) ([]string, error) {
	if err := p.validatePath(path); err != nil {
		return nil, err
	}
	pool, err := p.getPool(ctx)
	if err != nil {
		return nil, err
	}

	var exists bool
	err = pool.QueryRow(ctx, `SELECT true FROM duplicant_meta WHERE path = $1`, path).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNodeNotExist
		}
		return nil, errors.Errorf("during select of '%s': %w", path, err)
	}

	rows, err := pool.Query(ctx,
		`SELECT path FROM duplicant_meta WHERE starts_with(path, $1 || '/')`, path)
	if err != nil {
		return nil, errors.Errorf("during select of children of '%s': %w", path, err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	for rows.Next() {
		var child string
		if err := rows.Scan(&child); err != nil {
			return nil, errors.Errorf("during Scan(): %w", err)
		}
		if name, ok := childOf(path, child); ok {
			seen[name] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Errorf("while iterating children of '%s': %w", path, err)
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (p *PostgresStore) Delete(ctx context.Context, path string) error {
	if err := p.validatePath(path); err != nil {
		return err
	}
	pool, err := p.getPool(ctx)
	if err != nil {
		return err
	}

	tag, err := pool.Exec(ctx,
		`DELETE FROM duplicant_meta WHERE path = $1 OR starts_with(path, $1 || '/')`, path)
	if err != nil {
		return errors.Errorf("during delete of '%s': %w", path, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNodeNotExist
	}
	return nil
}

func (p *PostgresStore) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		releasePool(p.conf.URI)
		p.pool = nil
		p.ready = false
	}
	return nil
}
