package internal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kapetan-io/tackle/clock"
	"github.com/kapetan-io/tackle/set"
	"github.com/meridian-io/duplicant/internal/types"
	"github.com/meridian-io/duplicant/transport"
)

const (
	// ProgressUpdatePeriod caps how often one partition's progress record is
	// written to the metadata store. Workers confirm decrees far faster than
	// the store should be written.
	ProgressUpdatePeriod = 5 * clock.Second
	// ProgressReportPeriod is how often a duplication logs its aggregate
	// progress.
	ProgressReportPeriod = 5 * clock.Minute
)

// partitionProgress is one partition's confirmed decree pair. volatile is the
// newest decree the worker confirmed in memory, stored the newest known
// durable. stored never exceeds volatile and both only grow.
type partitionProgress struct {
	volatile types.Decree
	stored   types.Decree
	// altering is true while a persist of this slot is in flight
	altering bool
	// updatedAt anchors the persistence throttle, not the last report
	updatedAt clock.Time
	// inited is false until recovery or the first report seeds the slot
	inited bool
}

// DupConfig carries the immutable identity of a duplication
type DupConfig struct {
	ID             types.DupID
	AppID          int32
	PartitionCount int
	Remote         string
	StorePath      string
	CreatedAtMs    int64
	Log            *slog.Logger
	Clock          *clock.Provider
}

// Duplication is the state machine for one duplication task: the committed
// and staged status pair, the fail mode pair, and every partition's decree
// progress. All mutation is two-phase: stage in memory, let the caller write
// the durable record, then commit. Nothing observable ever reflects a staged
// but unpersisted value.
//
// Every method takes the task lock; HTTP handlers query concurrently with
// worker progress reports and admin status changes.
type Duplication struct {
	mu   sync.RWMutex
	conf DupConfig
	log  *slog.Logger

	// remote and createdAtMs are lifted out of conf because the codec and
	// the hot paths read them constantly
	remote      string
	createdAtMs int64

	status       types.Status
	nextStatus   types.Status
	failMode     types.FailMode
	nextFailMode types.FailMode
	// altering is true exactly while a status change persist is outstanding
	altering bool

	progress     []partitionProgress
	lastReportAt clock.Time
}

func NewDuplication(conf DupConfig) *Duplication {
	set.Default(&conf.Log, slog.Default())
	set.Default(&conf.Clock, clock.NewProvider())

	d := &Duplication{
		log:         conf.Log.With("dup", int32(conf.ID), "app", conf.AppID),
		progress:    make([]partitionProgress, conf.PartitionCount),
		remote:      conf.Remote,
		createdAtMs: conf.CreatedAtMs,
		conf:        conf,
	}
	for i := range d.progress {
		d.progress[i] = partitionProgress{
			volatile: types.InvalidDecree,
			stored:   types.InvalidDecree,
		}
	}
	return d
}

func (d *Duplication) ID() types.DupID {
	return d.conf.ID
}

func (d *Duplication) Remote() string {
	return d.remote
}

func (d *Duplication) StorePath() string {
	return d.conf.StorePath
}

func (d *Duplication) PartitionCount() int {
	return d.conf.PartitionCount
}

func (d *Duplication) CreatedAtMs() int64 {
	return d.createdAtMs
}

// Start stages the initial INIT to START transition. It is called exactly
// once, on a freshly built task before its first durable write; every later
// change goes through Alter.
func (d *Duplication) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextStatus = types.StatusStart
	d.altering = true
}

// Alter stages a status and fail mode change. Callers that want to change
// only one of the two pass the current committed value for the other; a fail
// mode only change rides a self transition, which the transition table allows
// on active statuses only. Returns true when a change was staged and the
// caller must now write the durable record and call PersistStatus, false with
// a nil error when the request changes nothing.
func (d *Duplication) Alter(next types.Status, mode types.FailMode) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.altering {
		return false, transport.NewConflict("duplication '%d' is busy; a previous status change"+
			" has not finished persisting", d.conf.ID)
	}
	if !canTransition(d.status, next) {
		return false, transport.NewConflict("cannot alter duplication '%d' status from %s to %s",
			d.conf.ID, d.status, next)
	}
	if d.status == next && d.failMode == mode {
		return false, nil
	}

	d.nextStatus = next
	d.nextFailMode = mode
	d.altering = true
	return true, nil
}

// PersistStatus commits a staged status change. The caller asserts the record
// encoding the staged pair was durably written; there is no failure path
// here, commit of an already durable fact cannot fail.
func (d *Duplication) PersistStatus() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.log.Info("duplication status changed",
		"from", d.status.String(),
		"to", d.nextStatus.String(),
		"fail_mode", d.nextFailMode.String())

	d.status = d.nextStatus
	d.failMode = d.nextFailMode
	d.altering = false
}

// CancelStatusChange drops a staged status change after the durable write
// failed for good. Without it a permanent store failure would leave the task
// altering forever, rejecting every further request.
func (d *Duplication) CancelStatusChange() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.altering {
		return
	}
	d.log.Warn("duplication status change abandoned",
		"status", d.status.String(),
		"next", d.nextStatus.String())

	d.nextStatus = d.status
	d.nextFailMode = d.failMode
	d.altering = false
}

func (d *Duplication) Status() types.Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

func (d *Duplication) FailMode() types.FailMode {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.failMode
}

func (d *Duplication) IsAltering() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.altering
}

// IsValid reports whether the committed status accepts progress reports and
// is visible to queries
func (d *Duplication) IsValid() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status.Active()
}

// restore seeds the committed pair from a decoded durable record during
// recovery. The staged copy mirrors the committed value so the task comes
// back not altering; a durably read record is the truth, there is no half
// applied transition to resume.
func (d *Duplication) restore(status types.Status, mode types.FailMode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = status
	d.nextStatus = status
	d.failMode = mode
	d.nextFailMode = mode
}

// InitProgress seeds one partition from recovery. Both decrees start at the
// recovered value, InvalidDecree when the store had no record for the
// partition. No persist is implied; the slot comes back not altering.
func (d *Duplication) InitProgress(partition int, confirmed types.Decree) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if partition < 0 || partition >= len(d.progress) {
		return transport.NewInvalidOption("partition is invalid; '%d' is out of range for '%d' partitions",
			partition, len(d.progress))
	}
	p := &d.progress[partition]
	p.volatile = confirmed
	p.stored = confirmed
	p.inited = true
	p.altering = false
	return nil
}

// AlterProgress records a decree confirmed by a partition worker and decides
// whether the caller should persist it. Returns true only when a persist was
// staged; the caller must then write the progress record and call
// PersistProgress, or CancelProgressChange when the write fails.
//
// False is not an error. A persist already in flight, a stale or duplicate
// report, and a report inside the throttle window all return false and the
// worker simply reports again later.
func (d *Duplication) AlterProgress(partition int, dec types.Decree) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if partition < 0 || partition >= len(d.progress) {
		return false, transport.NewInvalidOption("partition is invalid; '%d' is out of range for '%d' partitions",
			partition, len(d.progress))
	}
	p := &d.progress[partition]

	if p.altering {
		return false, nil
	}
	if !p.inited {
		p.volatile = dec
		p.inited = true
	} else if p.volatile < dec {
		p.volatile = dec
	}
	if p.volatile == p.stored {
		return false, nil
	}

	now := d.conf.Clock.Now()
	if !p.updatedAt.IsZero() && now.Sub(p.updatedAt) < ProgressUpdatePeriod {
		return false, nil
	}
	p.altering = true
	p.updatedAt = now
	return true, nil
}

// PersistProgress commits a staged progress persist. Reports are rejected
// while the slot is altering, so volatile still holds the staged value here.
func (d *Duplication) PersistProgress(partition int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := &d.progress[partition]
	p.stored = p.volatile
	p.altering = false
}

// CancelProgressChange drops a staged progress persist after the durable
// write failed. stored and updatedAt stay untouched; the throttle window
// still applies, so a store outage cannot busy loop writes.
func (d *Duplication) CancelProgressChange(partition int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := &d.progress[partition]
	p.altering = false
}

// StoredDecree returns the committed decree for a partition and whether the
// partition has been initialized
func (d *Duplication) StoredDecree(partition int) (types.Decree, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if partition < 0 || partition >= len(d.progress) {
		return types.InvalidDecree, false
	}
	p := &d.progress[partition]
	if !p.inited {
		return types.InvalidDecree, false
	}
	return p.stored, true
}

// VolatileDecree returns the in-memory confirmed decree for a partition. The
// query projection never uses this; it exists for progress reporting and
// tests.
func (d *Duplication) VolatileDecree(partition int) (types.Decree, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if partition < 0 || partition >= len(d.progress) {
		return types.InvalidDecree, false
	}
	p := &d.progress[partition]
	if !p.inited {
		return types.InvalidDecree, false
	}
	return p.volatile, true
}

// ReportProgressIfTimeUp logs one aggregate progress line when the report
// period has elapsed. Driven by the daemon's periodic sweep; a no-op
// observer, it never mutates decrees.
func (d *Duplication) ReportProgressIfTimeUp() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.conf.Clock.Now()
	if !d.lastReportAt.IsZero() && now.Sub(d.lastReportAt) < ProgressReportPeriod {
		return false
	}
	d.lastReportAt = now

	var sb strings.Builder
	for i := range d.progress {
		p := &d.progress[i]
		if i != 0 {
			sb.WriteByte(' ')
		}
		if !p.inited {
			fmt.Fprintf(&sb, "%d=-", i)
			continue
		}
		fmt.Fprintf(&sb, "%d=%d/%d", i, p.stored, p.volatile)
	}

	d.log.Info("duplication progress",
		"status", d.status.String(),
		"remote", d.remote,
		"age", humanize.Time(time.UnixMilli(d.createdAtMs)),
		"stored/volatile", sb.String())
	return true
}

// Entry builds the committed-state projection of this duplication. Staged
// values are never included and Progress carries stored decrees only; a query
// never reports progress the cluster could lose on crash.
func (d *Duplication) Entry() types.DupEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.entry()
}

// AppendIfValid appends the projection to out when the committed status is
// visible to queries. INIT and REMOVED tasks are invisible.
func (d *Duplication) AppendIfValid(out *[]types.DupEntry) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.status.Active() {
		return
	}
	*out = append(*out, d.entry())
}

// entry assumes the caller holds at least a read lock
func (d *Duplication) entry() types.DupEntry {
	e := types.DupEntry{
		DupID:       d.conf.ID,
		AppID:       d.conf.AppID,
		Remote:      d.remote,
		Status:      d.status,
		FailMode:    d.failMode,
		CreatedAtMs: d.createdAtMs,
		Progress:    make(map[int]types.Decree),
	}
	for i := range d.progress {
		p := &d.progress[i]
		// A partition seeded with InvalidDecree stays out of the projection
		// until a worker reports a real decree
		if !p.inited || p.stored == types.InvalidDecree {
			continue
		}
		e.Progress[i] = p.stored
	}
	return e
}

// String renders the committed and staged state as compact JSON. Tests
// compare tasks through it.
func (d *Duplication) String() string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out, _ := json.Marshal(struct {
		DupID        int32  `json:"dup_id"`
		AppID        int32  `json:"app_id"`
		Remote       string `json:"remote"`
		Status       string `json:"status"`
		NextStatus   string `json:"next_status"`
		FailMode     string `json:"fail_mode"`
		NextFailMode string `json:"next_fail_mode"`
		Altering     bool   `json:"altering"`
		CreatedAtMs  int64  `json:"create_timestamp_ms"`
	}{
		DupID:        int32(d.conf.ID),
		AppID:        d.conf.AppID,
		Remote:       d.remote,
		Status:       d.status.String(),
		NextStatus:   d.nextStatus.String(),
		FailMode:     d.failMode.String(),
		NextFailMode: d.nextFailMode.String(),
		Altering:     d.altering,
		CreatedAtMs:  d.createdAtMs,
	})
	return string(out)
}
