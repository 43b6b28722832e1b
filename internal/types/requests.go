package types

// ModifyDupRequest asks the manager to change the status or the fail mode of
// a duplication. A nil field means leave that part unchanged.
type ModifyDupRequest struct {
	// App is the replication table the duplication belongs to
	App string
	// DupID identifies the duplication within the app
	DupID DupID
	// Status is the requested status, nil leaves the status alone
	Status *Status
	// FailMode is the requested fail mode, nil leaves the fail mode alone
	FailMode *FailMode
}

// ConfirmEntry is one partition's acknowledgement from the remote cluster
type ConfirmEntry struct {
	// DupID identifies the duplication the decree belongs to
	DupID DupID
	// Partition is the partition index within the app
	Partition int
	// Decree is the highest log decree the remote cluster has confirmed
	Decree Decree
}

// SyncRequest carries a batch of confirmed decrees reported by the nodes
// serving an app's partitions
type SyncRequest struct {
	// App is the replication table the confirmations are for
	App string
	// Confirmed is the batch of per partition confirmations
	Confirmed []ConfirmEntry
}
