package store

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/kapetan-io/errors"
	"github.com/kapetan-io/tackle/clock"
)

const (
	DriverMemory    = "memory"
	DriverBolt      = "bolt"
	DriverBadger    = "badger"
	DriverBunt      = "buntdb"
	DriverZookeeper = "zookeeper"
	DriverPostgres  = "postgres"
)

// LevelDebug is for our debug output, LevelDebugAll also unmutes the chatty
// embedded database libraries
const (
	LevelDebugAll = slog.LevelDebug
	LevelDebug    = slog.LevelDebug + 1
)

var (
	// ErrNodeNotExist is returned by Get, Set, Children and Delete when no
	// node exists at the requested path
	ErrNodeNotExist = errors.New("node does not exist")
	// ErrNodeExists is returned by Create when the path is already taken
	ErrNodeExists = errors.New("node already exists")
	// ErrStoreBusy indicates a transient backend failure, the caller should
	// back off and retry the operation
	ErrStoreBusy = errors.New("storage is busy; retry the operation")
)

// MetaStore is a small hierarchical metadata store. Paths are absolute,
// '/' separated and rooted at RootPath. The interface is shaped after a
// coordination service node tree so the same call sites work against
// ZooKeeper and against the embedded key/value backends.
//
// Durability is the contract that matters here: when Create or Set returns
// nil the caller may treat the value as surviving a process restart, and only
// then commit the matching in-memory state.
type MetaStore interface {
	// Create writes a new node. Missing ancestors are created as empty
	// nodes. Returns ErrNodeExists if the path is already taken.
	Create(ctx context.Context, path string, value []byte) error

	// Set replaces the value of an existing node
	Set(ctx context.Context, path string, value []byte) error

	// Get returns the value of a node
	Get(ctx context.Context, path string) ([]byte, error)

	// Children returns the sorted names of the direct children of a node
	Children(ctx context.Context, path string) ([]string, error)

	// Delete removes a node and everything below it
	Delete(ctx context.Context, path string) error

	// Close all open database connections or files
	Close() error
}

// StorageConfig selects and configures a MetaStore backend
type StorageConfig struct {
	// Driver is one of the Driver* constants
	Driver string
	// StorageDir is where the bolt and badger backends keep their data files
	StorageDir string
	// File is the buntdb data file, ':memory:' keeps the tree in memory
	File string
	// URI is the postgres connection string
	URI string
	// Endpoints are the zookeeper servers to connect to
	Endpoints []string
	// SessionTimeout is the zookeeper session timeout
	SessionTimeout clock.Duration
	// Log is used to log warnings and errors
	Log *slog.Logger
	// Clock is a time provider used to preform time related calculations. It is
	// configurable so that it can be overridden for testing.
	Clock *clock.Provider
}

// NewFromConfig builds the MetaStore the config asks for
func NewFromConfig(conf StorageConfig) (MetaStore, error) {
	switch conf.Driver {
	case DriverMemory, "":
		return NewMemoryStore(MemoryConfig{Log: conf.Log, Clock: conf.Clock}), nil
	case DriverBolt:
		return NewBoltStore(BoltConfig{StorageDir: conf.StorageDir, Log: conf.Log, Clock: conf.Clock})
	case DriverBadger:
		return NewBadgerStore(BadgerConfig{StorageDir: conf.StorageDir, Log: conf.Log, Clock: conf.Clock})
	case DriverBunt:
		return NewBuntStore(BuntConfig{File: conf.File, Log: conf.Log, Clock: conf.Clock})
	case DriverZookeeper:
		return NewZKStore(ZKConfig{
			Endpoints:      conf.Endpoints,
			SessionTimeout: conf.SessionTimeout,
			Log:            conf.Log,
			Clock:          conf.Clock,
		})
	case DriverPostgres:
		return NewPostgresStore(PostgresConfig{URI: conf.URI, Log: conf.Log, Clock: conf.Clock})
	default:
		return nil, errors.Errorf("storage driver is invalid; '%s' is not one of "+
			"memory, bolt, badger, buntdb, zookeeper, postgres", conf.Driver)
	}
}

// RootPath is the top of the tracker's node tree
const RootPath = "/duplicant"

func AppsRoot() string {
	return RootPath + "/apps"
}

func AppPath(app string) string {
	return AppsRoot() + "/" + app
}

func DupsRoot(app string) string {
	return AppPath(app) + "/dup"
}

func DupPath(app string, id int32) string {
	return fmt.Sprintf("%s/%d", DupsRoot(app), id)
}

func PartitionPath(app string, id int32, partition int) string {
	return fmt.Sprintf("%s/%d", DupPath(app, id), partition)
}

// ParsePartition parses a child name written by PartitionPath
func ParsePartition(name string) (int, error) {
	p, err := strconv.Atoi(name)
	if err != nil {
		return 0, errors.Errorf("'%s' is not a valid partition node name", name)
	}
	return p, nil
}

// ParseDupID parses a child name written by DupPath
func ParseDupID(name string) (int32, error) {
	id, err := strconv.ParseInt(name, 10, 32)
	if err != nil {
		return 0, errors.Errorf("'%s' is not a valid duplication node name", name)
	}
	return int32(id), nil
}

// parent returns the path one level up, or "" when path is the top
func parent(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return ""
	}
	return path[:idx]
}

// ancestors lists every ancestor of path from the top down, excluding path
// itself. ancestors("/a/b/c") returns ["/a", "/a/b"].
func ancestors(path string) []string {
	var out []string
	for p := parent(path); p != ""; p = parent(p) {
		out = append(out, p)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// childOf returns the direct child name of base found in path, and true when
// path is strictly below base
func childOf(base, path string) (string, bool) {
	prefix := base + "/"
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	rest := path[len(prefix):]
	if rest == "" {
		return "", false
	}
	if idx := strings.Index(rest, "/"); idx >= 0 {
		rest = rest[:idx]
	}
	return rest, true
}
