package daemon

import (
	"crypto/tls"
	"log/slog"

	"github.com/duh-rpc/duh-go"
	"github.com/kapetan-io/tackle/set"
	"github.com/meridian-io/duplicant"
)

type Config struct {
	// See ServiceConfig for a list of possible options
	duplicant.ServiceConfig
	// TLS is the TLS config used for the public server and clients
	TLS *duh.TLSConfig
	// ListenAddress is the address:port the tracker will listen on for public HTTP requests
	ListenAddress string
	// Version is reported by the health endpoint
	Version string
	// ReportSchedule is the cron spec for the sweep that writes the periodic
	// aggregate progress report to the log. Each duplication additionally
	// throttles itself, so a frequent sweep is cheap.
	ReportSchedule string
}

func (c *Config) ClientTLS() *tls.Config {
	if c.TLS != nil {
		return c.TLS.ClientTLS
	}
	return nil
}

func (c *Config) ServerTLS() *tls.Config {
	if c.TLS != nil {
		return c.TLS.ServerTLS
	}
	return nil
}

func (c *Config) SetDefaults() error {
	set.Default(&c.Log, slog.Default())
	set.Default(&c.ListenAddress, "localhost:2919")
	set.Default(&c.ReportSchedule, "@every 1m")
	set.Default(&c.ClusterName, "local")
	set.Default(&c.Version, "dev-build")
	return nil
}
