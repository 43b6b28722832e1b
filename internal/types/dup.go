package types

import (
	"encoding/json"

	"github.com/kapetan-io/errors"
)

// Decree is the position of a write in a partition's replicated log. Decrees
// are assigned by the partition primary and increase monotonically, so "the
// remote cluster has confirmed decree N" means every write up to and
// including N is safe on the remote side.
type Decree int64

// InvalidDecree marks a partition for which no duplication progress is known
// yet. A partition recovered without a progress record starts here and is
// excluded from query projections until a worker reports a real decree.
const InvalidDecree Decree = -1

// DupID identifies a duplication within the cluster. IDs are derived from the
// creation wall clock second and bumped when two creations collide, so they
// are unique and roughly sortable by age.
type DupID int32

// Status is the lifecycle state of a duplication. Durable and wire forms are
// the upper case tokens returned by String. Decoding an unknown token is an
// error, never a silent reset; a tracker that guessed INIT would re-duplicate
// an entire table from scratch.
type Status int

const (
	// StatusInit is the in-memory state of a freshly constructed duplication
	// before its first durable write. It is never stored and never visible
	// to queries.
	StatusInit Status = iota
	// StatusStart is the normal shipping state.
	StatusStart
	// StatusPause keeps the duplication but stops shipping.
	StatusPause
	// StatusLogComplete means all writes in the local log up to the
	// duplication horizon are confirmed remote.
	StatusLogComplete
	// StatusAppComplete means the entire table is confirmed remote.
	StatusAppComplete
	// StatusRemoved is absorbing. A removed duplication can only be
	// re-created under a fresh ID.
	StatusRemoved
)

var statusNames = map[Status]string{
	StatusInit:        "INIT",
	StatusStart:       "START",
	StatusPause:       "PAUSE",
	StatusLogComplete: "LOG_COMPLETE",
	StatusAppComplete: "APP_COMPLETE",
	StatusRemoved:     "REMOVED",
}

var statusValues = map[string]Status{
	"INIT":         StatusInit,
	"START":        StatusStart,
	"PAUSE":        StatusPause,
	"LOG_COMPLETE": StatusLogComplete,
	"APP_COMPLETE": StatusAppComplete,
	"REMOVED":      StatusRemoved,
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// Active reports whether the status accepts progress reports and is visible
// to queries. INIT and REMOVED are not active.
func (s Status) Active() bool {
	switch s {
	case StatusStart, StatusPause, StatusLogComplete, StatusAppComplete:
		return true
	}
	return false
}

// ParseStatus returns the Status for a wire or storage token.
func ParseStatus(s string) (Status, error) {
	v, ok := statusValues[s]
	if !ok {
		return StatusInit, errors.Errorf("'%s' is not a valid duplication status", s)
	}
	return v, nil
}

func (s Status) MarshalJSON() ([]byte, error) {
	n, ok := statusNames[s]
	if !ok {
		return nil, errors.Errorf("cannot encode unknown duplication status '%d'", int(s))
	}
	return json.Marshal(n)
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var token string
	if err := json.Unmarshal(data, &token); err != nil {
		return err
	}
	v, err := ParseStatus(token)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// FailMode controls how a duplication reacts when the remote cluster rejects
// or cannot accept writes.
type FailMode int

const (
	// FailSlow stalls progress and retries until the remote recovers. This
	// is the default; no confirmed write is ever skipped.
	FailSlow FailMode = iota
	// FailFast skips the failing writes and advances, trading completeness
	// for liveness.
	FailFast
)

var failModeNames = map[FailMode]string{
	FailSlow: "FAIL_SLOW",
	FailFast: "FAIL_FAST",
}

var failModeValues = map[string]FailMode{
	"FAIL_SLOW": FailSlow,
	"FAIL_FAST": FailFast,
}

func (m FailMode) String() string {
	if n, ok := failModeNames[m]; ok {
		return n
	}
	return "UNKNOWN"
}

// ParseFailMode returns the FailMode for a wire or storage token.
func ParseFailMode(s string) (FailMode, error) {
	v, ok := failModeValues[s]
	if !ok {
		return FailSlow, errors.Errorf("'%s' is not a valid fail mode", s)
	}
	return v, nil
}

func (m FailMode) MarshalJSON() ([]byte, error) {
	n, ok := failModeNames[m]
	if !ok {
		return nil, errors.Errorf("cannot encode unknown fail mode '%d'", int(m))
	}
	return json.Marshal(n)
}

func (m *FailMode) UnmarshalJSON(data []byte) error {
	var token string
	if err := json.Unmarshal(data, &token); err != nil {
		return err
	}
	v, err := ParseFailMode(token)
	if err != nil {
		return err
	}
	*m = v
	return nil
}
