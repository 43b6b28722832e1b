package transport

// AppInfo is the wire form of a registered table.
type AppInfo struct {
	// Name is the unique table name within the cluster
	Name string `json:"name"`
	// AppID is assigned by the tracker when the app is created
	AppID int32 `json:"app_id"`
	// PartitionCount is the number of partitions the table is split into
	PartitionCount int `json:"partition_count"`
	// CreatedAtMs is the creation time in milliseconds since epoch
	CreatedAtMs int64 `json:"create_timestamp_ms"`
}

// DupEntry is the wire form of a duplication as seen by queries. It only ever
// carries committed state; values still waiting on a durable write are not
// visible here.
type DupEntry struct {
	DupID  int32  `json:"dup_id"`
	AppID  int32  `json:"app_id"`
	Remote string `json:"remote"`
	// Status is one of INIT, START, PAUSE, LOG_COMPLETE, APP_COMPLETE, REMOVED
	Status string `json:"status"`
	// FailMode is FAIL_SLOW or FAIL_FAST
	FailMode    string `json:"fail_mode"`
	CreatedAtMs int64  `json:"create_timestamp_ms"`
	// Progress maps partition index to the stored confirmed decree. Partitions
	// with no initialized progress are absent.
	Progress map[int]int64 `json:"progress,omitempty"`
}

type AppsListRequest struct{}

type AppsListResponse struct {
	Apps []*AppInfo `json:"apps"`
}

type DupsAddRequest struct {
	// App is the table to duplicate
	App string `json:"app"`
	// Remote is the name of the destination cluster
	Remote string `json:"remote"`
}

type DupsAddResponse struct {
	Dup *DupEntry `json:"dup"`
}

// DupsModifyRequest alters the status or fail mode of an existing
// duplication. Empty fields are left unchanged; at least one must be set.
type DupsModifyRequest struct {
	App      string `json:"app"`
	DupID    int32  `json:"dup_id"`
	Status   string `json:"status,omitempty"`
	FailMode string `json:"fail_mode,omitempty"`
}

type DupsModifyResponse struct {
	// Dup is the committed state after the change, nil once removed
	Dup *DupEntry `json:"dup,omitempty"`
}

type DupsQueryRequest struct {
	App string `json:"app"`
}

type DupsQueryResponse struct {
	Dups []*DupEntry `json:"dups"`
}

// ConfirmEntry is one partition worker report: the newest decree the remote
// cluster has confirmed for a partition of a duplication.
type ConfirmEntry struct {
	DupID     int32 `json:"dup_id"`
	Partition int   `json:"partition"`
	Decree    int64 `json:"decree"`
}

type DupsSyncRequest struct {
	App       string         `json:"app"`
	Confirmed []ConfirmEntry `json:"confirmed"`
}

// DupsSyncResponse returns the app's current duplications so workers observe
// status and fail mode changes on the same round trip as their report.
type DupsSyncResponse struct {
	Dups []*DupEntry `json:"dups"`
}

// Reply is the body of every error response and of acknowledgements that
// carry no other payload.
type Reply struct {
	Code     int    `json:"code"`
	CodeText string `json:"code_text"`
	Message  string `json:"message"`
}
