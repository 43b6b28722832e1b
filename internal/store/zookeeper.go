package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/go-zookeeper/zk"
	"github.com/kapetan-io/errors"
	"github.com/kapetan-io/tackle/clock"
	"github.com/kapetan-io/tackle/set"
)

type ZKConfig struct {
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

// ZKStore keeps the node tree in ZooKeeper, the backend a production meta
// service would point at. Node paths map one to one onto znodes.
type ZKStore struct {
	pathValidation
	conf ZKConfig
	conn *zk.Conn
	acl  []zk.ACL
}

var _ MetaStore = &ZKStore{}

func NewZKStore(conf ZKConfig) (*ZKStore, error) {
	set.Default(&conf.SessionTimeout, clock.Second*10)
	set.Default(&conf.Log, slog.Default())
	set.Default(&conf.Clock, clock.NewProvider())

	if len(conf.Endpoints) == 0 {
		return nil, errors.New("zookeeper endpoints is invalid; cannot be empty")
	}

	conn, _, err := zk.Connect(conf.Endpoints, conf.SessionTimeout,
		zk.WithLogger(newZKLogger(conf.Log)))
	if err != nil {
		return nil, errors.Errorf("while connecting to zookeeper %v: %w", conf.Endpoints, err)
	}

	return &ZKStore{
		conf: conf,
		conn: conn,
		acl:  zk.WorldACL(zk.PermAll),
	}, nil
}

// mapErr converts zookeeper errors into the store sentinels. Session level
// failures become ErrStoreBusy so callers retry once the session recovers.
func (z *ZKStore) mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, zk.ErrNoNode):
		return ErrNodeNotExist
	case errors.Is(err, zk.ErrNodeExists):
		return ErrNodeExists
	case errors.Is(err, zk.ErrConnectionClosed), errors.Is(err, zk.ErrSessionExpired),
		errors.Is(err, zk.ErrSessionMoved):
		return ErrStoreBusy
	default:
		return err
	}
}

func (z *ZKStore) Create(_ context.Context, path string, value []byte) error {
	if err := z.validatePath(path); err != nil {
		return err
	}

	for _, a := range ancestors(path) {
		_, err := z.conn.Create(a, []byte{}, 0, z.acl)
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return errors.Errorf("while creating parent '%s': %w", a, z.mapErr(err))
		}
	}

	if _, err := z.conn.Create(path, value, 0, z.acl); err != nil {
		if errors.Is(err, zk.ErrNodeExists) {
			return ErrNodeExists
		}
		return errors.Errorf("during Create(%s): %w", path, z.mapErr(err))
	}
	return nil
}

func (z *ZKStore) Set(_ context.Context, path string, value []byte) error {
	if err := z.validatePath(path); err != nil {
		return err
	}

	if _, err := z.conn.Set(path, value, -1); err != nil {
		if errors.Is(err, zk.ErrNoNode) {
			return ErrNodeNotExist
		}
		return errors.Errorf("during Set(%s): %w", path, z.mapErr(err))
	}
	return nil
}

func (z *ZKStore) Get(_ context.Context, path string) ([]byte, error) {
	if err := z.validatePath(path); err != nil {
		return nil, err
	}

	data, _, err := z.conn.Get(path)
	if err != nil {
		if errors.Is(err, zk.ErrNoNode) {
			return nil, ErrNodeNotExist
		}
		return nil, errors.Errorf("during Get(%s): %w", path, z.mapErr(err))
	}
	return data, nil
}

func (z *ZKStore) Children(_ context.Context, path string) ([]string, error) {
	if err := z.validatePath(path); err != nil {
		return nil, err
	}

	children, _, err := z.conn.Children(path)
	if err != nil {
		if errors.Is(err, zk.ErrNoNode) {
			return nil, ErrNodeNotExist
		}
		return nil, errors.Errorf("during Children(%s): %w", path, z.mapErr(err))
	}
	sort.Strings(children)
	return children, nil
}

func (z *ZKStore) Delete(_ context.Context, path string) error {
	if err := z.validatePath(path); err != nil {
		return err
	}

	// Children must go first, zookeeper refuses to delete a node that
	// still has any
	children, _, err := z.conn.Children(path)
	if err != nil {
		if errors.Is(err, zk.ErrNoNode) {
			return ErrNodeNotExist
		}
		return errors.Errorf("during Children(%s): %w", path, z.mapErr(err))
	}
	for _, child := range children {
		if err := z.Delete(context.Background(), path+"/"+child); err != nil {
			if errors.Is(err, ErrNodeNotExist) {
				continue
			}
			return err
		}
	}

	if err := z.conn.Delete(path, -1); err != nil {
		if errors.Is(err, zk.ErrNoNode) {
			return ErrNodeNotExist
		}
		return errors.Errorf("during Delete(%s): %w", path, z.mapErr(err))
	}
	return nil
}

func (z *ZKStore) Close() error {
	z.conn.Close()
	return nil
}

type zkLogger struct {
	log *slog.Logger
}

func newZKLogger(log *slog.Logger) *zkLogger {
	return &zkLogger{log: log.With("code.namespace", "zk-lib")}
}

func (l *zkLogger) Printf(f string, v ...interface{}) {
	l.log.LogAttrs(context.Background(), LevelDebug, fmt.Sprintf(f, v...))
}
