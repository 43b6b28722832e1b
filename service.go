/*
Copyright 2025 Meridian Labs

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package duplicant

import (
	"context"
	"log/slog"

	"github.com/kapetan-io/errors"
	"github.com/kapetan-io/tackle/clock"
	"github.com/kapetan-io/tackle/set"
	"github.com/meridian-io/duplicant/internal"
	"github.com/meridian-io/duplicant/internal/store"
	"github.com/meridian-io/duplicant/internal/types"
	"github.com/meridian-io/duplicant/transport"
)

type ServiceConfig struct {
	// Log is the logging implementation used by this instance
	Log *slog.Logger
	// StorageConfig selects and configures the metadata store all durable
	// state lives in
	StorageConfig store.StorageConfig
	// ClusterName is the name of the local cluster. Duplications name their
	// destination by cluster name; a duplication of a table to its own
	// cluster is rejected.
	ClusterName string
	// InstanceID is a unique id for this instance of the tracker
	InstanceID string
	// Clock is a time provider used to preform time related calculations. It is
	// configurable so that it can be overridden for testing.
	Clock *clock.Provider
}

// Service is the public API of the tracker. It translates between the wire
// types in `transport` and the internal types, validates requests, and
// delegates to the duplication manager. The HTTP handler only ever talks to
// this type.
type Service struct {
	dups *internal.DupManager
	conf ServiceConfig
}

var _ transport.Service = &Service{}

func NewService(conf ServiceConfig) (*Service, error) {
	set.Default(&conf.Log, slog.Default())
	set.Default(&conf.Clock, clock.NewProvider())

	if conf.ClusterName == "" {
		return nil, errors.New("ClusterName is required; duplications must know which cluster is local")
	}

	conf.StorageConfig.Log = conf.Log
	conf.StorageConfig.Clock = conf.Clock
	s, err := store.NewFromConfig(conf.StorageConfig)
	if err != nil {
		return nil, err
	}

	dm, err := internal.NewDupManager(internal.DupManagerConfig{
		ClusterName: conf.ClusterName,
		Clock:       conf.Clock,
		Store:       s,
		Log:         conf.Log,
	})
	if err != nil {
		return nil, err
	}

	return &Service{
		conf: conf,
		dups: dm,
	}, nil
}

// Recover rebuilds the in-memory registry from the metadata store. It must be
// called once, before the service is exposed to clients; a store holding
// records this version cannot decode fails recovery rather than guessing.
func (s *Service) Recover(ctx context.Context) error {
	return s.dups.Recover(ctx)
}

func (s *Service) AppsCreate(ctx context.Context, req *transport.AppInfo) error {
	var info types.AppInfo
	if err := validateAppsCreate(req, &info); err != nil {
		return err
	}

	if _, err := s.dups.CreateApp(ctx, info); err != nil {
		return err
	}
	return nil
}

func (s *Service) AppsList(ctx context.Context, req *transport.AppsListRequest,
	resp *transport.AppsListResponse) error {

	apps, err := s.dups.ListApps(ctx)
	if err != nil {
		return err
	}

	for i := range apps {
		resp.Apps = append(resp.Apps, apps[i].ToWire(new(transport.AppInfo)))
	}
	return nil
}

func (s *Service) DupsAdd(ctx context.Context, req *transport.DupsAddRequest,
	resp *transport.DupsAddResponse) error {

	if err := validateDupsAdd(req); err != nil {
		return err
	}

	entry, err := s.dups.AddDup(ctx, req.App, req.Remote)
	if err != nil {
		return err
	}

	resp.Dup = entry.ToWire(new(transport.DupEntry))
	return nil
}

func (s *Service) DupsModify(ctx context.Context, req *transport.DupsModifyRequest,
	resp *transport.DupsModifyResponse) error {

	var r types.ModifyDupRequest
	if err := validateDupsModify(req, &r); err != nil {
		return err
	}

	entry, err := s.dups.ModifyDup(ctx, r)
	if err != nil {
		return err
	}

	// entry is nil once the duplication is removed
	if entry != nil {
		resp.Dup = entry.ToWire(new(transport.DupEntry))
	}
	return nil
}

func (s *Service) DupsQuery(ctx context.Context, req *transport.DupsQueryRequest,
	resp *transport.DupsQueryResponse) error {

	if err := validateAppName(req.App); err != nil {
		return err
	}

	entries, err := s.dups.QueryDups(ctx, req.App)
	if err != nil {
		return err
	}

	for i := range entries {
		resp.Dups = append(resp.Dups, entries[i].ToWire(new(transport.DupEntry)))
	}
	return nil
}

func (s *Service) DupsSync(ctx context.Context, req *transport.DupsSyncRequest,
	resp *transport.DupsSyncResponse) error {

	var r types.SyncRequest
	if err := validateDupsSync(req, &r); err != nil {
		return err
	}

	entries, err := s.dups.SyncProgress(ctx, r)
	if err != nil {
		return err
	}

	for i := range entries {
		resp.Dups = append(resp.Dups, entries[i].ToWire(new(transport.DupEntry)))
	}
	return nil
}

// ReportProgress logs aggregate progress for every duplication whose report
// period has elapsed. The daemon calls this on a schedule.
func (s *Service) ReportProgress(ctx context.Context) {
	s.dups.ReportAll(ctx)
}

func (s *Service) Shutdown(ctx context.Context) error {
	return s.dups.Shutdown(ctx)
}
