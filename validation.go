package duplicant

import (
	"strings"

	"github.com/meridian-io/duplicant/internal/types"
	"github.com/meridian-io/duplicant/transport"
)

const maxAppNameLength = 255

// validateAppName enforces the rules app names must follow to be usable as a
// node name in the metadata store
func validateAppName(name string) error {
	if name == "" {
		return transport.NewInvalidOption("app name is invalid; app name cannot be empty")
	}
	if len(name) > maxAppNameLength {
		return transport.NewInvalidOption("app name is invalid; cannot be greater than '%d' characters",
			maxAppNameLength)
	}
	if strings.Contains(name, "/") {
		return transport.NewInvalidOption("app name is invalid; '%s' cannot contain '/' character", name)
	}
	if strings.ContainsAny(name, " \t\r\n") {
		return transport.NewInvalidOption("app name is invalid; '%s' cannot contain whitespace", name)
	}
	return nil
}

func validateAppsCreate(in *transport.AppInfo, out *types.AppInfo) error {
	if err := validateAppName(in.Name); err != nil {
		return err
	}
	if in.PartitionCount < 1 {
		return transport.NewInvalidOption("partition count is invalid; '%d' must be greater than '0'",
			in.PartitionCount)
	}

	// AppID and the creation timestamp are assigned by the tracker, anything
	// the client sent for them is ignored
	out.Name = in.Name
	out.PartitionCount = in.PartitionCount
	return nil
}

func validateDupsAdd(in *transport.DupsAddRequest) error {
	if err := validateAppName(in.App); err != nil {
		return err
	}
	if in.Remote == "" {
		return transport.NewInvalidOption("remote is invalid; remote cluster name cannot be empty")
	}
	return nil
}

func validateDupsModify(in *transport.DupsModifyRequest, out *types.ModifyDupRequest) error {
	if err := validateAppName(in.App); err != nil {
		return err
	}
	if in.DupID <= 0 {
		return transport.NewInvalidOption("dup_id is invalid; '%d' must be greater than '0'", in.DupID)
	}
	if in.Status == "" && in.FailMode == "" {
		return transport.NewInvalidOption("request is invalid; at least one of status or fail_mode must be set")
	}

	if in.Status != "" {
		status, err := types.ParseStatus(in.Status)
		if err != nil {
			return transport.NewInvalidOption("status is invalid; %s", err.Error())
		}
		out.Status = &status
	}
	if in.FailMode != "" {
		mode, err := types.ParseFailMode(in.FailMode)
		if err != nil {
			return transport.NewInvalidOption("fail_mode is invalid; %s", err.Error())
		}
		out.FailMode = &mode
	}

	out.App = in.App
	out.DupID = types.DupID(in.DupID)
	return nil
}

func validateDupsSync(in *transport.DupsSyncRequest, out *types.SyncRequest) error {
	if err := validateAppName(in.App); err != nil {
		return err
	}
	out.App = in.App

	for i, c := range in.Confirmed {
		if c.DupID <= 0 {
			return transport.NewInvalidOption("Confirmed[%d].dup_id is invalid; '%d' must be greater than '0'",
				i, c.DupID)
		}
		if c.Partition < 0 {
			return transport.NewInvalidOption("Confirmed[%d].partition is invalid; cannot be negative", i)
		}
		if c.Decree < 0 {
			return transport.NewInvalidOption("Confirmed[%d].decree is invalid; cannot be negative", i)
		}
		out.Confirmed = append(out.Confirmed, types.ConfirmEntry{
			DupID:     types.DupID(c.DupID),
			Partition: c.Partition,
			Decree:    types.Decree(c.Decree),
		})
	}
	return nil
}
