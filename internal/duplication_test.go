package internal

import (
	"testing"

	"github.com/kapetan-io/tackle/clock"
	"github.com/meridian-io/duplicant/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDup(cp *clock.Provider) *Duplication {
	return NewDuplication(DupConfig{
		StorePath:      "/duplicant/apps/ledger/dup/1700000000",
		CreatedAtMs:    1700000000000,
		ID:             1700000000,
		PartitionCount: 4,
		Remote:         "cluster-bj",
		AppID:          2,
		Clock:          cp,
	})
}

func TestStatusTransitions(t *testing.T) {
	allowed := map[types.Status][]types.Status{
		types.StatusInit:        {types.StatusStart, types.StatusRemoved},
		types.StatusStart:       {types.StatusStart, types.StatusPause, types.StatusLogComplete, types.StatusRemoved},
		types.StatusPause:       {types.StatusStart, types.StatusPause, types.StatusRemoved},
		types.StatusLogComplete: {types.StatusLogComplete, types.StatusAppComplete, types.StatusRemoved},
		types.StatusAppComplete: {types.StatusAppComplete, types.StatusRemoved},
		types.StatusRemoved:     {},
	}
	all := []types.Status{types.StatusInit, types.StatusStart, types.StatusPause,
		types.StatusLogComplete, types.StatusAppComplete, types.StatusRemoved}

	for _, from := range all {
		for _, next := range all {
			var want bool
			for _, s := range allowed[from] {
				if s == next {
					want = true
				}
			}
			assert.Equal(t, want, canTransition(from, next),
				"transition %s -> %s", from.String(), next.String())
		}
	}
}

func TestAlterStatus(t *testing.T) {
	d := newTestDup(nil)

	// a freshly built task is INIT and invisible
	assert.Equal(t, types.StatusInit, d.Status())
	assert.False(t, d.IsValid())

	d.Start()
	assert.True(t, d.IsAltering())
	assert.Equal(t, types.StatusInit, d.Status())

	// a second change cannot begin until the first commits
	_, err := d.Alter(types.StatusPause, types.FailSlow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "busy")

	d.PersistStatus()
	assert.False(t, d.IsAltering())
	assert.Equal(t, types.StatusStart, d.Status())
	assert.Equal(t, types.FailSlow, d.FailMode())
	assert.True(t, d.IsValid())

	// requesting the current state changes nothing
	staged, err := d.Alter(types.StatusStart, types.FailSlow)
	require.NoError(t, err)
	assert.False(t, staged)

	// a fail mode only change rides a self transition
	staged, err = d.Alter(types.StatusStart, types.FailFast)
	require.NoError(t, err)
	require.True(t, staged)
	assert.Equal(t, types.FailSlow, d.FailMode())
	d.PersistStatus()
	assert.Equal(t, types.FailFast, d.FailMode())

	// skipping ahead in the lifecycle is not allowed
	_, err = d.Alter(types.StatusAppComplete, types.FailFast)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot alter duplication")

	staged, err = d.Alter(types.StatusPause, types.FailFast)
	require.NoError(t, err)
	require.True(t, staged)
	d.PersistStatus()
	assert.Equal(t, types.StatusPause, d.Status())

	staged, err = d.Alter(types.StatusStart, types.FailFast)
	require.NoError(t, err)
	require.True(t, staged)
	d.PersistStatus()

	for _, s := range []types.Status{types.StatusLogComplete, types.StatusAppComplete, types.StatusRemoved} {
		staged, err = d.Alter(s, types.FailFast)
		require.NoError(t, err)
		require.True(t, staged)
		d.PersistStatus()
		assert.Equal(t, s, d.Status())
	}

	// REMOVED is absorbing
	_, err = d.Alter(types.StatusStart, types.FailFast)
	require.Error(t, err)
	assert.False(t, d.IsValid())
}

func TestCancelStatusChange(t *testing.T) {
	d := newTestDup(nil)
	d.Start()
	d.PersistStatus()

	staged, err := d.Alter(types.StatusPause, types.FailFast)
	require.NoError(t, err)
	require.True(t, staged)

	// the durable write failed, the staged change is dropped whole
	d.CancelStatusChange()
	assert.False(t, d.IsAltering())
	assert.Equal(t, types.StatusStart, d.Status())
	assert.Equal(t, types.FailSlow, d.FailMode())

	// the task accepts changes again
	staged, err = d.Alter(types.StatusPause, types.FailSlow)
	require.NoError(t, err)
	require.True(t, staged)
	d.PersistStatus()
	assert.Equal(t, types.StatusPause, d.Status())
}

func TestAlterProgress(t *testing.T) {
	time := clock.NewProvider()
	time.Freeze(clock.Now())
	defer time.UnFreeze()

	d := newTestDup(time)
	d.Start()
	d.PersistStatus()

	// out of range partitions are the caller's bug
	_, err := d.AlterProgress(4, 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "partition is invalid")
	_, err = d.AlterProgress(-1, 100)
	require.Error(t, err)

	// the first report seeds the slot and stages a persist immediately
	staged, err := d.AlterProgress(0, 5)
	require.NoError(t, err)
	require.True(t, staged)

	// reports for a slot with a persist in flight are dropped
	staged, err = d.AlterProgress(0, 6)
	require.NoError(t, err)
	assert.False(t, staged)

	d.PersistProgress(0)
	dec, ok := d.StoredDecree(0)
	require.True(t, ok)
	assert.Equal(t, types.Decree(5), dec)

	// inside the throttle window the volatile decree advances but nothing
	// is staged for persistence
	staged, err = d.AlterProgress(0, 6)
	require.NoError(t, err)
	assert.False(t, staged)
	dec, ok = d.VolatileDecree(0)
	require.True(t, ok)
	assert.Equal(t, types.Decree(6), dec)
	dec, _ = d.StoredDecree(0)
	assert.Equal(t, types.Decree(5), dec)

	// once the window passes the pending decree stages
	time.Advance(ProgressUpdatePeriod)
	staged, err = d.AlterProgress(0, 6)
	require.NoError(t, err)
	require.True(t, staged)
	d.PersistProgress(0)
	dec, _ = d.StoredDecree(0)
	assert.Equal(t, types.Decree(6), dec)

	// decrees never regress, a stale report is a no-op
	time.Advance(ProgressUpdatePeriod)
	staged, err = d.AlterProgress(0, 3)
	require.NoError(t, err)
	assert.False(t, staged)
	dec, _ = d.VolatileDecree(0)
	assert.Equal(t, types.Decree(6), dec)

	// nothing to do when stored already matches
	staged, err = d.AlterProgress(0, 6)
	require.NoError(t, err)
	assert.False(t, staged)
}

func TestCancelProgressChange(t *testing.T) {
	time := clock.NewProvider()
	time.Freeze(clock.Now())
	defer time.UnFreeze()

	d := newTestDup(time)
	d.Start()
	d.PersistStatus()

	staged, err := d.AlterProgress(1, 10)
	require.NoError(t, err)
	require.True(t, staged)

	// the write failed; stored stays put and the throttle window still
	// applies, a store outage must not busy loop writes
	d.CancelProgressChange(1)
	dec, ok := d.StoredDecree(1)
	require.True(t, ok)
	assert.Equal(t, types.InvalidDecree, dec)

	staged, err = d.AlterProgress(1, 11)
	require.NoError(t, err)
	assert.False(t, staged)

	time.Advance(ProgressUpdatePeriod)
	staged, err = d.AlterProgress(1, 11)
	require.NoError(t, err)
	require.True(t, staged)
	d.PersistProgress(1)
	dec, _ = d.StoredDecree(1)
	assert.Equal(t, types.Decree(11), dec)
}

func TestInitProgress(t *testing.T) {
	time := clock.NewProvider()
	time.Freeze(clock.Now())
	defer time.UnFreeze()

	d := newTestDup(time)
	d.restore(types.StatusPause, types.FailFast)
	assert.Equal(t, types.StatusPause, d.Status())
	assert.Equal(t, types.FailFast, d.FailMode())
	assert.False(t, d.IsAltering())

	require.NoError(t, d.InitProgress(0, 42))
	require.NoError(t, d.InitProgress(1, types.InvalidDecree))
	require.Error(t, d.InitProgress(9, 1))

	dec, ok := d.StoredDecree(0)
	require.True(t, ok)
	assert.Equal(t, types.Decree(42), dec)

	// recovery does not anchor the throttle; the first report after a
	// restart persists immediately
	staged, err := d.AlterProgress(0, 50)
	require.NoError(t, err)
	assert.True(t, staged)

	// a report equal to the recovered decree changes nothing
	staged, err = d.AlterProgress(1, types.InvalidDecree)
	require.NoError(t, err)
	assert.False(t, staged)
}

func TestEntryProjection(t *testing.T) {
	d := newTestDup(nil)
	d.Start()
	d.PersistStatus()

	// stage a pause but do not commit; the projection must not show it
	staged, err := d.Alter(types.StatusPause, types.FailFast)
	require.NoError(t, err)
	require.True(t, staged)

	e := d.Entry()
	assert.Equal(t, types.DupID(1700000000), e.DupID)
	assert.Equal(t, int32(2), e.AppID)
	assert.Equal(t, "cluster-bj", e.Remote)
	assert.Equal(t, types.StatusStart, e.Status)
	assert.Equal(t, types.FailSlow, e.FailMode)
	assert.Equal(t, int64(1700000000000), e.CreatedAtMs)
	assert.Empty(t, e.Progress)
	d.CancelStatusChange()

	// staged but unpersisted progress is invisible too
	staged, err = d.AlterProgress(2, 7)
	require.NoError(t, err)
	require.True(t, staged)
	e = d.Entry()
	assert.Empty(t, e.Progress)

	d.PersistProgress(2)
	e = d.Entry()
	assert.Equal(t, map[int]types.Decree{2: 7}, e.Progress)

	// a partition recovered without a progress record stays hidden until a
	// worker reports a real decree
	require.NoError(t, d.InitProgress(3, types.InvalidDecree))
	e = d.Entry()
	assert.Equal(t, map[int]types.Decree{2: 7}, e.Progress)
}

func TestAppendIfValid(t *testing.T) {
	d := newTestDup(nil)

	// INIT is invisible
	var out []types.DupEntry
	d.AppendIfValid(&out)
	assert.Empty(t, out)

	d.Start()
	d.PersistStatus()
	d.AppendIfValid(&out)
	require.Len(t, out, 1)
	assert.Equal(t, types.StatusStart, out[0].Status)

	staged, err := d.Alter(types.StatusRemoved, types.FailSlow)
	require.NoError(t, err)
	require.True(t, staged)
	d.PersistStatus()

	// so is REMOVED
	out = out[:0]
	d.AppendIfValid(&out)
	assert.Empty(t, out)
}

func TestReportProgressIfTimeUp(t *testing.T) {
	time := clock.NewProvider()
	time.Freeze(clock.Now())
	defer time.UnFreeze()

	d := newTestDup(time)
	d.Start()
	d.PersistStatus()

	assert.True(t, d.ReportProgressIfTimeUp())
	assert.False(t, d.ReportProgressIfTimeUp())

	time.Advance(ProgressReportPeriod - clock.Second)
	assert.False(t, d.ReportProgressIfTimeUp())

	time.Advance(clock.Second)
	assert.True(t, d.ReportProgressIfTimeUp())
}
