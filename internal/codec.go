package internal

import (
	"encoding/json"

	"github.com/kapetan-io/errors"
	"github.com/meridian-io/duplicant/internal/types"
)

// DupBlob is the durable record of one duplication, written to the metadata
// store on every status change. Status and FailMode carry the staged values;
// the blob is written before the change commits, so what is durable is what
// the task is becoming. Partition progress is persisted separately because it
// changes far more often.
type DupBlob struct {
	Remote      string         `json:"remote"`
	Status      types.Status   `json:"status"`
	CreatedAtMs int64          `json:"create_timestamp_ms"`
	FailMode    types.FailMode `json:"fail_mode"`
}

// EncodeDup encodes the staged state of a duplication for durable storage
func EncodeDup(d *Duplication) ([]byte, error) {
	d.mu.RLock()
	b := DupBlob{
		Remote:      d.remote,
		Status:      d.nextStatus,
		CreatedAtMs: d.createdAtMs,
		FailMode:    d.nextFailMode,
	}
	d.mu.RUnlock()

	out, err := json.Marshal(b)
	if err != nil {
		return nil, errors.Errorf("while encoding duplication record: %w", err)
	}
	return out, nil
}

// DecodeDup decodes a durable duplication record. Decoding is strict; a
// record this tracker cannot understand must fail recovery rather than
// default to INIT, a tracker that guessed INIT would re-duplicate an entire
// table from scratch. The one exception is a missing fail_mode, which older
// records do not carry and which defaults to FAIL_SLOW.
func DecodeDup(data []byte) (DupBlob, error) {
	var raw struct {
		Remote      *string `json:"remote"`
		Status      *string `json:"status"`
		CreatedAtMs *int64  `json:"create_timestamp_ms"`
		FailMode    *string `json:"fail_mode"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return DupBlob{}, errors.Errorf("duplication record is malformed: %w", err)
	}
	if raw.Remote == nil || *raw.Remote == "" {
		return DupBlob{}, errors.New("duplication record is malformed; 'remote' is missing")
	}
	if raw.Status == nil {
		return DupBlob{}, errors.New("duplication record is malformed; 'status' is missing")
	}

	status, err := types.ParseStatus(*raw.Status)
	if err != nil {
		return DupBlob{}, errors.Errorf("duplication record is malformed: %w", err)
	}

	b := DupBlob{
		Remote:   *raw.Remote,
		Status:   status,
		FailMode: types.FailSlow,
	}
	if raw.CreatedAtMs != nil {
		b.CreatedAtMs = *raw.CreatedAtMs
	}
	if raw.FailMode != nil {
		b.FailMode, err = types.ParseFailMode(*raw.FailMode)
		if err != nil {
			return DupBlob{}, errors.Errorf("duplication record is malformed: %w", err)
		}
	}
	return b, nil
}

// appRecord mirrors types.AppInfo in the durable store
type appRecord struct {
	Name           string `json:"name"`
	AppID          int32  `json:"app_id"`
	PartitionCount int    `json:"partition_count"`
	CreatedAtMs    int64  `json:"create_timestamp_ms"`
}

// EncodeApp encodes an app registration for durable storage
func EncodeApp(info types.AppInfo) ([]byte, error) {
	out, err := json.Marshal(appRecord{
		Name:           info.Name,
		AppID:          info.AppID,
		PartitionCount: info.PartitionCount,
		CreatedAtMs:    info.CreatedAtMs,
	})
	if err != nil {
		return nil, errors.Errorf("while encoding app record: %w", err)
	}
	return out, nil
}

// DecodeApp decodes a durable app registration. Strict; an app record the
// tracker cannot understand aborts recovery.
func DecodeApp(data []byte) (types.AppInfo, error) {
	var raw appRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return types.AppInfo{}, errors.Errorf("app record is malformed: %w", err)
	}
	if raw.Name == "" {
		return types.AppInfo{}, errors.New("app record is malformed; 'name' is missing")
	}
	if raw.PartitionCount < 1 {
		return types.AppInfo{}, errors.Errorf(
			"app record is malformed; partition count '%d' is not positive", raw.PartitionCount)
	}
	return types.AppInfo{
		Name:           raw.Name,
		AppID:          raw.AppID,
		PartitionCount: raw.PartitionCount,
		CreatedAtMs:    raw.CreatedAtMs,
	}, nil
}

type progressRecord struct {
	StoredDecree types.Decree `json:"stored_decree"`
}

// EncodeProgress encodes one partition's confirmed decree for durable storage
func EncodeProgress(d types.Decree) ([]byte, error) {
	out, err := json.Marshal(progressRecord{StoredDecree: d})
	if err != nil {
		return nil, errors.Errorf("while encoding progress record: %w", err)
	}
	return out, nil
}

// DecodeProgress decodes one partition's durable progress record
func DecodeProgress(data []byte) (types.Decree, error) {
	var raw struct {
		StoredDecree *types.Decree `json:"stored_decree"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return types.InvalidDecree, errors.Errorf("progress record is malformed: %w", err)
	}
	if raw.StoredDecree == nil {
		return types.InvalidDecree, errors.New("progress record is malformed; 'stored_decree' is missing")
	}
	return *raw.StoredDecree, nil
}
