package types

import (
	"github.com/meridian-io/duplicant/transport"
)

// AppInfo describes a replicated table registered with the tracker. The
// partition count is fixed at creation; duplication progress is tracked per
// partition.
type AppInfo struct {
	// Name is the unique table name within the cluster
	Name string
	// AppID is assigned by the tracker when the app is created
	AppID int32
	// PartitionCount is the number of partitions the table is split into
	PartitionCount int
	// CreatedAtMs is the creation time in milliseconds since epoch
	CreatedAtMs int64
}

func (a *AppInfo) ToWire(in *transport.AppInfo) *transport.AppInfo {
	in.Name = a.Name
	in.AppID = a.AppID
	in.PartitionCount = a.PartitionCount
	in.CreatedAtMs = a.CreatedAtMs
	return in
}

func (a *AppInfo) FromWire(in *transport.AppInfo) *AppInfo {
	a.Name = in.Name
	a.AppID = in.AppID
	a.PartitionCount = in.PartitionCount
	a.CreatedAtMs = in.CreatedAtMs
	return a
}

// DupEntry is the committed-state projection of a duplication. Staged values
// are never present; Progress holds stored decrees only, and only for
// partitions whose progress has been initialized.
type DupEntry struct {
	DupID       DupID
	AppID       int32
	Remote      string
	Status      Status
	FailMode    FailMode
	CreatedAtMs int64
	Progress    map[int]Decree
}

func (e *DupEntry) ToWire(in *transport.DupEntry) *transport.DupEntry {
	in.DupID = int32(e.DupID)
	in.AppID = e.AppID
	in.Remote = e.Remote
	in.Status = e.Status.String()
	in.FailMode = e.FailMode.String()
	in.CreatedAtMs = e.CreatedAtMs
	in.Progress = make(map[int]int64, len(e.Progress))
	for p, d := range e.Progress {
		in.Progress[p] = int64(d)
	}
	return in
}
