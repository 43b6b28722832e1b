package internal

import (
	"encoding/json"
	"testing"

	"github.com/meridian-io/duplicant/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDupRecordCodec(t *testing.T) {
	d := newTestDup(nil)
	d.Start()

	// the record is written before the change commits, so it must carry the
	// staged status
	data, err := EncodeDup(d)
	require.NoError(t, err)
	assert.Equal(t,
		`{"remote":"cluster-bj","status":"START","create_timestamp_ms":1700000000000,"fail_mode":"FAIL_SLOW"}`,
		string(data))

	blob, err := DecodeDup(data)
	require.NoError(t, err)
	assert.Equal(t, "cluster-bj", blob.Remote)
	assert.Equal(t, types.StatusStart, blob.Status)
	assert.Equal(t, types.FailSlow, blob.FailMode)
	assert.Equal(t, int64(1700000000000), blob.CreatedAtMs)
}

func TestDecodeDupErrors(t *testing.T) {
	for _, test := range []struct {
		Name string
		Data string
		Err  string
	}{
		{
			Name: "Garbage",
			Data: `{#!`,
			Err:  "duplication record is malformed",
		},
		{
			Name: "MissingRemote",
			Data: `{"status":"START","create_timestamp_ms":1,"fail_mode":"FAIL_SLOW"}`,
			Err:  "'remote' is missing",
		},
		{
			Name: "EmptyRemote",
			Data: `{"remote":"","status":"START"}`,
			Err:  "'remote' is missing",
		},
		{
			Name: "MissingStatus",
			Data: `{"remote":"cluster-bj","create_timestamp_ms":1}`,
			Err:  "'status' is missing",
		},
		{
			Name: "UnknownStatus",
			Data: `{"remote":"cluster-bj","status":"PAUSED"}`,
			Err:  "'PAUSED' is not a valid duplication status",
		},
		{
			Name: "UnknownFailMode",
			Data: `{"remote":"cluster-bj","status":"START","fail_mode":"EXPLODE"}`,
			Err:  "'EXPLODE' is not a valid fail mode",
		},
	} {
		t.Run(test.Name, func(t *testing.T) {
			_, err := DecodeDup([]byte(test.Data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), test.Err)
		})
	}
}

func TestDecodeDupDefaults(t *testing.T) {
	// records written before fail modes existed decode as FAIL_SLOW
	blob, err := DecodeDup([]byte(`{"remote":"cluster-bj","status":"PAUSE"}`))
	require.NoError(t, err)
	assert.Equal(t, types.StatusPause, blob.Status)
	assert.Equal(t, types.FailSlow, blob.FailMode)
	assert.Equal(t, int64(0), blob.CreatedAtMs)
}

func TestDupRecordTokens(t *testing.T) {
	// every status and fail mode the tracker can persist must survive the
	// durable format, dead statuses included; recovery decides what to do
	// with them, the codec does not
	statuses := []types.Status{
		types.StatusInit,
		types.StatusStart,
		types.StatusPause,
		types.StatusLogComplete,
		types.StatusAppComplete,
		types.StatusRemoved,
	}
	for _, status := range statuses {
		for _, mode := range []types.FailMode{types.FailSlow, types.FailFast} {
			data, err := json.Marshal(DupBlob{
				Remote:      "cluster-bj",
				Status:      status,
				CreatedAtMs: 1700000000000,
				FailMode:    mode,
			})
			require.NoError(t, err)
			blob, err := DecodeDup(data)
			require.NoError(t, err, "status %s fail mode %s", status, mode)
			assert.Equal(t, status, blob.Status)
			assert.Equal(t, mode, blob.FailMode)
		}
	}
}

func TestAppRecordCodec(t *testing.T) {
	info := types.AppInfo{
		Name:           "ledger",
		AppID:          7,
		PartitionCount: 8,
		CreatedAtMs:    1700000000000,
	}
	data, err := EncodeApp(info)
	require.NoError(t, err)
	assert.Equal(t,
		`{"name":"ledger","app_id":7,"partition_count":8,"create_timestamp_ms":1700000000000}`,
		string(data))

	got, err := DecodeApp(data)
	require.NoError(t, err)
	assert.Equal(t, info, got)
}

func TestDecodeAppErrors(t *testing.T) {
	for _, test := range []struct {
		Name string
		Data string
		Err  string
	}{
		{
			Name: "Garbage",
			Data: `!`,
			Err:  "app record is malformed",
		},
		{
			Name: "MissingName",
			Data: `{"app_id":1,"partition_count":4}`,
			Err:  "'name' is missing",
		},
		{
			Name: "ZeroPartitions",
			Data: `{"name":"ledger","app_id":1,"partition_count":0}`,
			Err:  "partition count '0' is not positive",
		},
	} {
		t.Run(test.Name, func(t *testing.T) {
			_, err := DecodeApp([]byte(test.Data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), test.Err)
		})
	}
}

func TestProgressRecordCodec(t *testing.T) {
	data, err := EncodeProgress(12345)
	require.NoError(t, err)
	assert.Equal(t, `{"stored_decree":12345}`, string(data))

	dec, err := DecodeProgress(data)
	require.NoError(t, err)
	assert.Equal(t, types.Decree(12345), dec)

	_, err = DecodeProgress([]byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'stored_decree' is missing")

	_, err = DecodeProgress([]byte(`#`))
	require.Error(t, err)
}
