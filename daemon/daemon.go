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

package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/duh-rpc/duh-go"
	"github.com/meridian-io/duplicant"
	"github.com/meridian-io/duplicant/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
)

type Daemon struct {
	service  *duplicant.Service
	client   *duplicant.Client
	servers  []*http.Server
	cron     *cron.Cron
	wg       sync.WaitGroup
	Listener net.Listener
	conf     Config
}

func NewDaemon(ctx context.Context, conf Config) (*Daemon, error) {
	conf.SetDefaults()

	s, err := duplicant.NewService(conf.ServiceConfig)
	if err != nil {
		return nil, err
	}

	conf.Log = conf.Log.With("code.namespace", "Daemon")
	d := &Daemon{
		conf:    conf,
		service: s,
	}
	return d, d.Start(ctx)
}

func (d *Daemon) Start(ctx context.Context) error {
	// Replay the metadata store before accepting requests; a tracker that
	// answers queries from an empty registry would report every duplication
	// as gone.
	if err := d.service.Recover(ctx); err != nil {
		return fmt.Errorf("during metadata recovery: %w", err)
	}

	registry := prometheus.NewRegistry()

	handler := transport.NewHTTPHandler(d.service, promhttp.InstrumentMetricHandler(
		registry, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	), d.conf.Version, d.conf.Log)
	registry.MustRegister(handler)

	if d.conf.ServerTLS() != nil {
		if err := d.spawnHTTPS(ctx, handler); err != nil {
			return err
		}
	} else {
		if err := d.spawnHTTP(ctx, handler); err != nil {
			return err
		}
	}

	d.cron = cron.New()
	if _, err := d.cron.AddFunc(d.conf.ReportSchedule, func() {
		d.service.ReportProgress(context.Background())
	}); err != nil {
		return fmt.Errorf("ReportSchedule is invalid: %w", err)
	}
	d.cron.Start()

	return nil
}

func (d *Daemon) Shutdown(ctx context.Context) error {
	if d.cron != nil {
		<-d.cron.Stop().Done()
		d.cron = nil
	}

	if err := d.service.Shutdown(ctx); err != nil {
		return err
	}
	for _, srv := range d.servers {
		d.conf.Log.Info("Shutting down server", "address", srv.Addr)
		_ = srv.Shutdown(ctx)
	}
	d.wg.Wait()
	d.conf.Log.LogAttrs(ctx, slog.LevelDebug, "Shutdown complete")
	d.servers = nil
	return nil
}

func (d *Daemon) Service() *duplicant.Service {
	return d.service
}

func (d *Daemon) MustClient() *duplicant.Client {
	c, err := d.Client()
	if err != nil {
		panic(fmt.Sprintf("[%s] failed to init daemon client - '%s'", d.conf.InstanceID, err))
	}
	return c
}

func (d *Daemon) Client() (*duplicant.Client, error) {
	var err error
	if d.client != nil {
		return d.client, nil
	}

	if d.conf.TLS != nil {
		d.client, err = duplicant.NewClient(duplicant.WithTLS(d.conf.ClientTLS(), d.Listener.Addr().String()))
		return d.client, err
	}
	d.client, err = duplicant.NewClient(duplicant.WithNoTLS(d.Listener.Addr().String()))
	return d.client, err
}

func (d *Daemon) spawnHTTPS(ctx context.Context, mux http.Handler) error {
	srv := &http.Server{
		ErrorLog:  slog.NewLogLogger(d.conf.Log.Handler(), slog.LevelError),
		TLSConfig: d.conf.ServerTLS().Clone(),
		Addr:      d.conf.ListenAddress,
		Handler:   mux,
	}

	var err error
	d.Listener, err = net.Listen("tcp", d.conf.ListenAddress)
	if err != nil {
		return fmt.Errorf("while starting HTTPS listener: %w", err)
	}
	srv.Addr = d.Listener.Addr().String()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.conf.Log.Info("HTTPS Listening ...", "address", d.Listener.Addr().String())
		if err := srv.ServeTLS(d.Listener, "", ""); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				d.conf.Log.Error("while starting TLS HTTP server", "error", err)
			}
		}
	}()
	if err := duh.WaitForConnect(ctx, d.Listener.Addr().String(), d.conf.ClientTLS()); err != nil {
		return err
	}

	d.servers = append(d.servers, srv)

	return nil
}

func (d *Daemon) spawnHTTP(ctx context.Context, h http.Handler) error {
	srv := &http.Server{
		ErrorLog: slog.NewLogLogger(d.conf.Log.Handler(), slog.LevelError),
		Addr:     d.conf.ListenAddress,
		Handler:  h,
	}
	var err error
	d.Listener, err = net.Listen("tcp", d.conf.ListenAddress)
	if err != nil {
		return fmt.Errorf("while starting HTTP listener: %w", err)
	}
	srv.Addr = d.Listener.Addr().String()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.conf.Log.Info("HTTP Listening ...", "address", d.Listener.Addr().String())
		if err := srv.Serve(d.Listener); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				d.conf.Log.Error("while starting HTTP server", "error", err)
			}
		}
	}()

	if err := duh.WaitForConnect(ctx, d.Listener.Addr().String(), nil); err != nil {
		return err
	}

	d.servers = append(d.servers, srv)
	return nil
}
