// Package config provides functionality for loading and parsing duplicant
// daemon configuration from a YAML file. The package includes utilities to
// convert the parsed configuration into a form usable by the duplicant daemon
// runtime, selecting the metadata store backend and setting up logging.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/duh-rpc/duh-go"
	"github.com/kapetan-io/tackle/clock"
	"github.com/kapetan-io/tackle/color"
	"github.com/meridian-io/duplicant/daemon"
	"github.com/meridian-io/duplicant/internal/store"
	"gopkg.in/yaml.v3"
)

type File struct {
	Logging Logging `yaml:"logging"`
	Cluster Cluster `yaml:"cluster"`
	Storage Storage `yaml:"storage"`
	TLS     TLS     `yaml:"tls"`
	// ListenAddress is the address:port the tracker will listen on
	ListenAddress string `yaml:"listen-address"`
	// ReportSchedule overrides the cron spec for the periodic progress report
	ReportSchedule string `yaml:"report-schedule"`
	// ConfigFile is the path to the config file that was loaded
	ConfigFile string
}

type Logging struct {
	Level   string `yaml:"level"`
	Handler string `yaml:"handler"`
}

type Cluster struct {
	// Name is the name of the local cluster. Duplications mirror FROM this
	// cluster TO the remote named when the duplication is added.
	Name string `yaml:"name"`
}

type Storage struct {
	Driver string            `yaml:"driver"`
	Config map[string]string `yaml:"config"`
}

type TLS struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
	CA   string `yaml:"ca"`
}

// LoadFile accepts a path string to a predefined config yaml file
func LoadFile(path string) (File, error) {
	if path == "" {
		return File{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return File{}, ErrFileNotExist{Msg: err.Error()}
	}
	defer func() { _ = f.Close() }()

	var file File
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&file); err != nil {
		return File{}, ErrYAMLParse{Msg: err.Error()}
	}
	file.ConfigFile = path
	return file, nil
}

func ApplyConfigFile(conf *daemon.Config, file File, w io.Writer) error {
	if err := setupLogger(file, w, conf); err != nil {
		return err
	}

	if err := setupStorage(file, conf); err != nil {
		return err
	}

	if err := setupTLS(file, conf); err != nil {
		return err
	}

	conf.ClusterName = file.Cluster.Name
	conf.ListenAddress = file.ListenAddress
	conf.ReportSchedule = file.ReportSchedule

	// Apply defaults if there are required config items missing from the provided config file
	_ = conf.SetDefaults()

	if file.ConfigFile != "" {
		conf.Log.Info("Loaded config from file", "file", file.ConfigFile)
	}
	return nil
}

func setupLogger(file File, w io.Writer, d *daemon.Config) error {
	switch file.Logging.Handler {
	case "color", "":
		d.Log = slog.New(color.NewLog(&color.LogOptions{
			HandlerOptions: slog.HandlerOptions{
				Level: toLogLevel(file.Logging.Level),
			},
			Writer: w,
		}))
		return nil
	case "text":
		d.Log = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: toLogLevel(file.Logging.Level),
		}))
		return nil
	case "json":
		d.Log = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: toLogLevel(file.Logging.Level),
		}))
		return nil
	default:
		return fmt.Errorf("invalid handler; '%s' is not one of (color, text, json)",
			file.Logging.Handler)
	}
}

func toLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "error":
		return slog.LevelError
	case "warn":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}

func setupStorage(file File, d *daemon.Config) error {
	switch strings.ToLower(file.Storage.Driver) {
	case "memory", "":
		d.StorageConfig.Driver = store.DriverMemory
	case "bolt":
		d.StorageConfig.Driver = store.DriverBolt
		d.StorageConfig.StorageDir = file.Storage.Config["storage-dir"]
	case "badger":
		d.StorageConfig.Driver = store.DriverBadger
		d.StorageConfig.StorageDir = file.Storage.Config["storage-dir"]
	case "buntdb":
		d.StorageConfig.Driver = store.DriverBunt
		d.StorageConfig.File = file.Storage.Config["file"]
	case "zookeeper":
		d.StorageConfig.Driver = store.DriverZookeeper
		for _, ep := range strings.Split(file.Storage.Config["endpoints"], ",") {
			if ep = strings.TrimSpace(ep); ep != "" {
				d.StorageConfig.Endpoints = append(d.StorageConfig.Endpoints, ep)
			}
		}
		if timeout := file.Storage.Config["session-timeout"]; timeout != "" {
			st, err := clock.ParseDuration(timeout)
			if err != nil {
				return fmt.Errorf("invalid session-timeout; %s", err)
			}
			d.StorageConfig.SessionTimeout = st
		}
	case "postgres":
		d.StorageConfig.Driver = store.DriverPostgres
		d.StorageConfig.URI = file.Storage.Config["uri"]
	default:
		return fmt.Errorf("invalid driver; '%s' is not one of "+
			"(Memory, Bolt, Badger, BuntDB, ZooKeeper, Postgres)", file.Storage.Driver)
	}
	d.StorageConfig.Log = d.Log
	return nil
}

func setupTLS(file File, d *daemon.Config) error {
	t := file.TLS
	if t.Cert == "" && t.Key == "" && t.CA == "" {
		return nil
	}
	if t.Cert == "" || t.Key == "" {
		return fmt.Errorf("invalid tls; both cert and key must be provided")
	}

	cert, err := tls.LoadX509KeyPair(t.Cert, t.Key)
	if err != nil {
		return fmt.Errorf("invalid tls; while loading key pair: %s", err)
	}
	serverTLS := &tls.Config{Certificates: []tls.Certificate{cert}}
	clientTLS := &tls.Config{}

	if t.CA != "" {
		pem, err := os.ReadFile(t.CA)
		if err != nil {
			return fmt.Errorf("invalid tls; while reading ca file: %s", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return fmt.Errorf("invalid tls; '%s' contains no usable certificates", t.CA)
		}
		clientTLS.RootCAs = pool
	}

	d.TLS = &duh.TLSConfig{
		ServerTLS: serverTLS,
		ClientTLS: clientTLS,
	}
	return nil
}
