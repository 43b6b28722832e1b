package internal

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/duh-rpc/duh-go/retry"
	"github.com/kapetan-io/errors"
	"github.com/kapetan-io/tackle/clock"
	"github.com/kapetan-io/tackle/set"
	"github.com/meridian-io/duplicant/internal/store"
	"github.com/meridian-io/duplicant/internal/types"
	"github.com/meridian-io/duplicant/transport"
)

var ErrServiceShutdown = transport.NewRequestFailed("service is shutting down")

// storeRetry governs durable writes. The metadata store may report busy
// during leader churn or short network blips; those are absorbed here and a
// retryable error only reaches the client once every attempt is spent.
var storeRetry = retry.Policy{Interval: retry.Sleep(100 * clock.Millisecond), Attempts: 5}

type DupManagerConfig struct {
	// Store is the metadata store all durable state lives in
	Store store.MetaStore
	// ClusterName is the name of the local cluster. A duplication whose
	// remote is the local cluster is rejected.
	ClusterName string
	// Log is used to log warnings and errors
	Log *slog.Logger
	// Clock is a time provider used to preform time related calculations. It is
	// configurable so that it can be overridden for testing.
	Clock *clock.Provider
}

type appState struct {
	info types.AppInfo
	dups map[types.DupID]*Duplication
}

// DupManager owns every app and duplication task this cluster tracks. All
// mutation follows the same two-phase shape: stage on the task, write the
// durable record, commit on the task. The registry lock is held across the
// durable write so a removal can never interleave with a progress write; the
// per task locks are never held during store I/O.
type DupManager struct {
	conf       DupManagerConfig
	log        *slog.Logger
	apps       map[string]*appState
	lastDupID  types.DupID
	lastAppID  int32
	inShutdown atomic.Bool
	mutex      sync.RWMutex
}

func NewDupManager(conf DupManagerConfig) (*DupManager, error) {
	set.Default(&conf.Log, slog.Default())
	set.Default(&conf.Clock, clock.NewProvider())

	if conf.Store == nil {
		return nil, errors.New("DupManagerConfig.Store cannot be nil")
	}

	return &DupManager{
		apps: make(map[string]*appState),
		log:  conf.Log,
		conf: conf,
	}, nil
}

// CreateApp registers a replication table with the tracker. The partition
// count is fixed for the life of the app.
func (m *DupManager) CreateApp(ctx context.Context, info types.AppInfo) (types.AppInfo, error) {
	if m.inShutdown.Load() {
		return types.AppInfo{}, ErrServiceShutdown
	}
	defer m.mutex.Unlock()
	m.mutex.Lock()

	if _, ok := m.apps[info.Name]; ok {
		return types.AppInfo{}, transport.NewConflict(
			"app already exists; an app named '%s' is registered", info.Name)
	}

	info.AppID = m.lastAppID + 1
	info.CreatedAtMs = m.conf.Clock.Now().UnixMilli()

	data, err := EncodeApp(info)
	if err != nil {
		return types.AppInfo{}, err
	}
	if err := m.storeCreate(ctx, store.AppPath(info.Name), data); err != nil {
		if errors.Is(err, store.ErrNodeExists) {
			return types.AppInfo{}, transport.NewConflict(
				"app already exists; an app named '%s' is registered", info.Name)
		}
		return types.AppInfo{}, err
	}

	m.lastAppID = info.AppID
	m.apps[info.Name] = &appState{
		dups: make(map[types.DupID]*Duplication),
		info: info,
	}
	m.log.Info("app registered", "app", info.Name, "app_id", info.AppID,
		"partitions", info.PartitionCount)
	return info, nil
}

func (m *DupManager) ListApps(_ context.Context) ([]types.AppInfo, error) {
	if m.inShutdown.Load() {
		return nil, ErrServiceShutdown
	}
	defer m.mutex.RUnlock()
	m.mutex.RLock()

	out := make([]types.AppInfo, 0, len(m.apps))
	for _, a := range m.apps {
		out = append(out, a.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AddDup creates a duplication of an app to a remote cluster. The task is
// durably created already in START; INIT exists only in memory between
// construction and the first persist.
func (m *DupManager) AddDup(ctx context.Context, app, remote string) (*types.DupEntry, error) {
	if m.inShutdown.Load() {
		return nil, ErrServiceShutdown
	}
	defer m.mutex.Unlock()
	m.mutex.Lock()

	a, ok := m.apps[app]
	if !ok {
		return nil, transport.NewNotFound("app does not exist; no such app named '%s'", app)
	}
	if remote == m.conf.ClusterName {
		return nil, transport.NewInvalidOption("remote is invalid; '%s' is the local cluster", remote)
	}
	for id, d := range a.dups {
		if d.Remote() == remote {
			return nil, transport.NewConflict(
				"duplication already exists; duplication '%d' already mirrors '%s' to '%s'",
				id, app, remote)
		}
	}

	id := m.nextDupID()
	d := NewDuplication(DupConfig{
		StorePath:      store.DupPath(app, int32(id)),
		CreatedAtMs:    m.conf.Clock.Now().UnixMilli(),
		PartitionCount: a.info.PartitionCount,
		AppID:          a.info.AppID,
		Clock:          m.conf.Clock,
		Remote:         remote,
		Log:            m.log,
		ID:             id,
	})
	d.Start()

	data, err := EncodeDup(d)
	if err != nil {
		d.CancelStatusChange()
		return nil, err
	}
	if err := m.storeCreate(ctx, d.StorePath(), data); err != nil {
		d.CancelStatusChange()
		return nil, err
	}
	d.PersistStatus()

	a.dups[id] = d
	entry := d.Entry()
	return &entry, nil
}

// nextDupID derives a cluster unique id from the wall clock second, bumped by
// one when two creations land in the same second
func (m *DupManager) nextDupID() types.DupID {
	id := types.DupID(m.conf.Clock.Now().Unix())
	if id <= m.lastDupID {
		id = m.lastDupID + 1
	}
	m.lastDupID = id
	return id
}

// ModifyDup stages, persists and commits a status or fail mode change. A nil
// Status or FailMode in the request leaves that part unchanged. Committing
// REMOVED deletes the task's durable subtree and unregisters it; the returned
// entry is nil in that case.
func (m *DupManager) ModifyDup(ctx context.Context, req types.ModifyDupRequest) (*types.DupEntry, error) {
	if m.inShutdown.Load() {
		return nil, ErrServiceShutdown
	}
	defer m.mutex.Unlock()
	m.mutex.Lock()

	a, ok := m.apps[req.App]
	if !ok {
		return nil, transport.NewNotFound("app does not exist; no such app named '%s'", req.App)
	}
	d, ok := a.dups[req.DupID]
	if !ok {
		return nil, transport.NewNotFound(
			"duplication does not exist; no duplication '%d' on app '%s'", req.DupID, req.App)
	}

	next := d.Status()
	if req.Status != nil {
		next = *req.Status
	}
	mode := d.FailMode()
	if req.FailMode != nil {
		mode = *req.FailMode
	}

	staged, err := d.Alter(next, mode)
	if err != nil {
		return nil, err
	}
	if !staged {
		// the request changes nothing, skip the pointless durable write
		entry := d.Entry()
		return &entry, nil
	}

	if next == types.StatusRemoved {
		// The durable step of a removal is deleting the subtree; there is
		// nothing left to write a record into
		if err := m.storeDelete(ctx, d.StorePath()); err != nil {
			d.CancelStatusChange()
			return nil, err
		}
		d.PersistStatus()
		delete(a.dups, req.DupID)
		return nil, nil
	}

	data, err := EncodeDup(d)
	if err != nil {
		d.CancelStatusChange()
		return nil, err
	}
	if err := m.storeSet(ctx, d.StorePath(), data); err != nil {
		d.CancelStatusChange()
		return nil, err
	}
	d.PersistStatus()

	entry := d.Entry()
	return &entry, nil
}

// QueryDups projects the committed state of an app's duplications ordered by
// id. INIT and REMOVED tasks are invisible.
func (m *DupManager) QueryDups(_ context.Context, app string) ([]types.DupEntry, error) {
	if m.inShutdown.Load() {
		return nil, ErrServiceShutdown
	}
	defer m.mutex.RUnlock()
	m.mutex.RLock()

	a, ok := m.apps[app]
	if !ok {
		return nil, transport.NewNotFound("app does not exist; no such app named '%s'", app)
	}
	return m.queryDups(a), nil
}

// queryDups assumes the caller holds at least a read lock on the registry
func (m *DupManager) queryDups(a *appState) []types.DupEntry {
	ids := make([]types.DupID, 0, len(a.dups))
	for id := range a.dups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]types.DupEntry, 0, len(ids))
	for _, id := range ids {
		a.dups[id].AppendIfValid(&out)
	}
	return out
}

// SyncProgress applies a batch of decrees confirmed by the nodes serving an
// app's partitions. Reports for unknown duplications or tasks not in a valid
// status are skipped, not failed; the returned entries carry the app's
// current committed state so workers observe status changes on the same
// round trip.
func (m *DupManager) SyncProgress(ctx context.Context, req types.SyncRequest) ([]types.DupEntry, error) {
	if m.inShutdown.Load() {
		return nil, ErrServiceShutdown
	}
	defer m.mutex.RUnlock()
	m.mutex.RLock()

	a, ok := m.apps[req.App]
	if !ok {
		return nil, transport.NewNotFound("app does not exist; no such app named '%s'", req.App)
	}

	for _, c := range req.Confirmed {
		d, ok := a.dups[c.DupID]
		if !ok {
			m.log.Debug("progress for unknown duplication skipped",
				"app", req.App, "dup", int32(c.DupID))
			continue
		}
		if !d.IsValid() {
			continue
		}

		staged, err := d.AlterProgress(c.Partition, c.Decree)
		if err != nil {
			return nil, err
		}
		if !staged {
			continue
		}
		m.persistProgress(ctx, req.App, d, c.Partition)
	}
	return m.queryDups(a), nil
}

// persistProgress writes the staged decree for one partition and commits it.
// A write failure cancels the staged persist; the worker re-reports on its
// next sync and the throttle window keeps a store outage from busy looping
// writes.
func (m *DupManager) persistProgress(ctx context.Context, app string, d *Duplication, partition int) {
	dec, _ := d.VolatileDecree(partition)
	data, err := EncodeProgress(dec)
	if err != nil {
		d.CancelProgressChange(partition)
		m.log.Error("while encoding progress record", "error", err,
			"app", app, "dup", int32(d.ID()), "partition", partition)
		return
	}

	path := store.PartitionPath(app, int32(d.ID()), partition)
	if err := m.storeSetOrCreate(ctx, path, data); err != nil {
		d.CancelProgressChange(partition)
		m.log.Warn("progress write failed; change cancelled", "error", err,
			"app", app, "dup", int32(d.ID()), "partition", partition)
		return
	}
	d.PersistProgress(partition)
}

// Recover rebuilds the registry from the metadata store at startup. Decoding
// is strict: a record this tracker cannot understand aborts startup rather
// than guessing; a guessed INIT would re-duplicate an entire table from
// scratch.
func (m *DupManager) Recover(ctx context.Context) error {
	defer m.mutex.Unlock()
	m.mutex.Lock()

	apps, err := m.conf.Store.Children(ctx, store.AppsRoot())
	if err != nil {
		if errors.Is(err, store.ErrNodeNotExist) {
			// fresh cluster, nothing recorded yet
			return nil
		}
		return errors.Errorf("while listing apps: %w", err)
	}

	for _, name := range apps {
		if err := m.recoverApp(ctx, name); err != nil {
			return err
		}
	}

	m.log.Info("recovery complete", "apps", len(m.apps), "last_dup_id", int32(m.lastDupID))
	return nil
}

func (m *DupManager) recoverApp(ctx context.Context, name string) error {
	data, err := m.conf.Store.Get(ctx, store.AppPath(name))
	if err != nil {
		return errors.Errorf("while reading app '%s': %w", name, err)
	}
	info, err := DecodeApp(data)
	if err != nil {
		return errors.Errorf("app '%s': %w", name, err)
	}
	if info.Name != name {
		return errors.Errorf("app record at '%s' names a different app '%s'", name, info.Name)
	}

	a := &appState{
		dups: make(map[types.DupID]*Duplication),
		info: info,
	}
	m.apps[name] = a
	if info.AppID > m.lastAppID {
		m.lastAppID = info.AppID
	}

	ids, err := m.conf.Store.Children(ctx, store.DupsRoot(name))
	if err != nil {
		if errors.Is(err, store.ErrNodeNotExist) {
			// the app never had a duplication
			return nil
		}
		return errors.Errorf("while listing duplications of '%s': %w", name, err)
	}

	for _, child := range ids {
		id, err := store.ParseDupID(child)
		if err != nil {
			return errors.Errorf("app '%s': %w", name, err)
		}
		if err := m.recoverDup(ctx, a, id); err != nil {
			return err
		}
		if types.DupID(id) > m.lastDupID {
			m.lastDupID = types.DupID(id)
		}
	}
	return nil
}

func (m *DupManager) recoverDup(ctx context.Context, a *appState, id int32) error {
	path := store.DupPath(a.info.Name, id)
	data, err := m.conf.Store.Get(ctx, path)
	if err != nil {
		return errors.Errorf("while reading duplication '%d' of '%s': %w", id, a.info.Name, err)
	}
	blob, err := DecodeDup(data)
	if err != nil {
		return errors.Errorf("duplication '%d' of '%s': %w", id, a.info.Name, err)
	}

	if !blob.Status.Active() {
		// Can only happen if a crash interleaved a removal, or an older
		// tracker recorded the removal instead of deleting the subtree.
		// Finish the removal now.
		m.log.Warn("dropping duplication left in a dead status",
			"app", a.info.Name, "dup", id, "status", blob.Status.String())
		if err := m.conf.Store.Delete(ctx, path); err != nil && !errors.Is(err, store.ErrNodeNotExist) {
			return errors.Errorf("while dropping duplication '%d' of '%s': %w", id, a.info.Name, err)
		}
		return nil
	}

	d := NewDuplication(DupConfig{
		PartitionCount: a.info.PartitionCount,
		CreatedAtMs:    blob.CreatedAtMs,
		ID:             types.DupID(id),
		AppID:          a.info.AppID,
		Remote:         blob.Remote,
		Clock:          m.conf.Clock,
		StorePath:      path,
		Log:            m.log,
	})
	d.restore(blob.Status, blob.FailMode)

	parts, err := m.conf.Store.Children(ctx, path)
	if err != nil {
		return errors.Errorf("while listing progress of duplication '%d' of '%s': %w",
			id, a.info.Name, err)
	}
	stored := make(map[int]types.Decree, len(parts))
	for _, child := range parts {
		p, err := store.ParsePartition(child)
		if err != nil {
			return errors.Errorf("duplication '%d' of '%s': %w", id, a.info.Name, err)
		}
		if p < 0 || p >= a.info.PartitionCount {
			m.log.Warn("progress record outside the app's partition range skipped",
				"app", a.info.Name, "dup", id, "partition", p)
			continue
		}
		pdata, err := m.conf.Store.Get(ctx, store.PartitionPath(a.info.Name, id, p))
		if err != nil {
			return errors.Errorf("while reading progress of duplication '%d' partition '%d': %w",
				id, p, err)
		}
		dec, err := DecodeProgress(pdata)
		if err != nil {
			return errors.Errorf("duplication '%d' partition '%d' of '%s': %w",
				id, p, a.info.Name, err)
		}
		stored[p] = dec
	}

	for p := 0; p < a.info.PartitionCount; p++ {
		dec, ok := stored[p]
		if !ok {
			dec = types.InvalidDecree
		}
		if err := d.InitProgress(p, dec); err != nil {
			return err
		}
	}

	a.dups[types.DupID(id)] = d
	return nil
}

// ReportAll logs aggregate progress for every duplication whose report period
// has elapsed. Called from the daemon's periodic sweep.
func (m *DupManager) ReportAll(_ context.Context) {
	if m.inShutdown.Load() {
		return
	}
	m.mutex.RLock()
	var dups []*Duplication
	for _, a := range m.apps {
		for _, d := range a.dups {
			dups = append(dups, d)
		}
	}
	m.mutex.RUnlock()

	for _, d := range dups {
		d.ReportProgressIfTimeUp()
	}
}

func (m *DupManager) Shutdown(ctx context.Context) error {
	if m.inShutdown.Load() {
		return nil
	}
	m.inShutdown.Store(true)
	defer m.mutex.Unlock()
	m.mutex.Lock()

	wait := make(chan error)
	go func() {
		if err := m.conf.Store.Close(); err != nil {
			wait <- err
			return
		}
		close(wait)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-wait:
		return err
	}
}

// storeWrite runs op under the retry policy, retrying only while the store
// reports busy. Any other failure is final on the first attempt.
func (m *DupManager) storeWrite(ctx context.Context, op func(ctx context.Context) error) error {
	var final error
	err := retry.On(ctx, storeRetry, func(ctx context.Context, _ int) error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrStoreBusy) {
			return err
		}
		final = err
		return nil
	})
	if final != nil {
		return final
	}
	if err != nil {
		m.log.Warn("metadata store stayed busy through every retry", "error", err)
		return transport.NewRetryRequest("metadata store is busy, try your request again")
	}
	return nil
}

func (m *DupManager) storeCreate(ctx context.Context, path string, value []byte) error {
	return m.storeWrite(ctx, func(ctx context.Context) error {
		return m.conf.Store.Create(ctx, path, value)
	})
}

func (m *DupManager) storeSet(ctx context.Context, path string, value []byte) error {
	return m.storeWrite(ctx, func(ctx context.Context) error {
		return m.conf.Store.Set(ctx, path, value)
	})
}

// storeSetOrCreate writes a node that may not exist yet. The common case is
// Set; the first progress write for a partition falls back to Create.
func (m *DupManager) storeSetOrCreate(ctx context.Context, path string, value []byte) error {
	return m.storeWrite(ctx, func(ctx context.Context) error {
		err := m.conf.Store.Set(ctx, path, value)
		if errors.Is(err, store.ErrNodeNotExist) {
			return m.conf.Store.Create(ctx, path, value)
		}
		return err
	})
}

// storeDelete removes a subtree. A node already gone counts as success so
// removal stays idempotent across a crash.
func (m *DupManager) storeDelete(ctx context.Context, path string) error {
	return m.storeWrite(ctx, func(ctx context.Context) error {
		err := m.conf.Store.Delete(ctx, path)
		if errors.Is(err, store.ErrNodeNotExist) {
			return nil
		}
		return err
	})
}
