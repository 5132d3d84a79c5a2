// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads the ledger configuration from defaults, a YAML
// file, the environment and command-line flags.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/ledger/internal/logging"
	"github.com/holomush/ledger/internal/xdg"
)

// CodeInvalid is the error code for unusable configuration.
const CodeInvalid = "CONFIG_INVALID"

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
	DriverMemory   = "memory"
)

// Config is the full ledger configuration.
type Config struct {
	Log      LogConfig      `koanf:"log"`
	Storage  StorageConfig  `koanf:"storage"`
	Preview  PreviewConfig  `koanf:"preview"`
	Recorder RecorderConfig `koanf:"recorder"`
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

// LogConfig selects log output.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// StorageConfig selects and locates the action store.
type StorageConfig struct {
	Driver         string `koanf:"driver"`
	DSN            string `koanf:"dsn"`
	Path           string `koanf:"path"`
	ConnectRetries uint64 `koanf:"connect_retries"`
	AutoMigrate    bool   `koanf:"auto_migrate"`
}

// PreviewConfig tunes the preview engine.
type PreviewConfig struct {
	Shards int           `koanf:"shards"`
	TTL    time.Duration `koanf:"ttl"`
}

// RecorderConfig tunes the recorder.
type RecorderConfig struct {
	QueueSize   int           `koanf:"queue_size"`
	BatchSize   int           `koanf:"batch_size"`
	FlushPeriod time.Duration `koanf:"flush_period"`
	SpoolPath   string        `koanf:"spool_path"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

// MetricsConfig configures the observability listener. Empty disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// defaults apply to keys no other source set.
var defaults = map[string]any{
	"log.format":              "json",
	"log.level":               "info",
	"storage.driver":          DriverPostgres,
	"storage.connect_retries": uint64(5),
	"storage.auto_migrate":    true,
	"preview.shards":          64,
	"preview.ttl":             "0s",
	"recorder.queue_size":     1024,
	"recorder.batch_size":     128,
	"recorder.flush_period":   "200ms",
	"http.addr":               "127.0.0.1:8080",
	"metrics.addr":            "127.0.0.1:9100",
}

// flagKeys maps command-line flag names to config keys. Flags not listed
// are not configuration.
var flagKeys = map[string]string{
	"log-format":   "log.format",
	"log-level":    "log.level",
	"storage":      "storage.driver",
	"dsn":          "storage.dsn",
	"data-path":    "storage.path",
	"auto-migrate": "storage.auto_migrate",
	"spool":        "recorder.spool_path",
	"preview-ttl":  "preview.ttl",
	"http-addr":    "http.addr",
	"metrics-addr": "metrics.addr",
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("log-format", "json", "log format (json or text)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("storage", DriverPostgres, "action store driver (postgres, badger or memory)")
	fs.String("dsn", "", "PostgreSQL connection string (or DATABASE_URL)")
	fs.String("data-path", "", "badger data directory")
	fs.Bool("auto-migrate", true, "apply pending schema migrations when serve starts (postgres)")
	fs.String("spool", "", "recorder spool file")
	fs.Duration("preview-ttl", 0, "discard staged previews older than this (0 keeps them)")
	fs.String("http-addr", "127.0.0.1:8080", "API listen address")
	fs.String("metrics-addr", "127.0.0.1:9100", "metrics and health listen address (empty disables)")
}

// Load builds the configuration. path names a YAML file; empty means the
// default config file, which may be absent. flags may be nil.
//
// Precedence, highest first: changed flags, DATABASE_URL for storage.dsn,
// the file, flag defaults, built-in defaults.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		if p, err := xdg.ConfigFile(); err == nil {
			path = p
		}
	}
	if path != "" {
		err := k.Load(file.Provider(path), yaml.Parser())
		switch {
		case err == nil:
		case !explicit && errors.Is(err, fs.ErrNotExist):
		default:
			return nil, oops.Code(CodeInvalid).With("path", path).Wrapf(err, "load config file")
		}
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		if err := k.Set("storage.dsn", dsn); err != nil {
			return nil, oops.Code(CodeInvalid).Wrap(err)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code(CodeInvalid).Wrapf(err, "load flags")
		}
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			if err := k.Set(key, value); err != nil {
				return nil, oops.Code(CodeInvalid).With("key", key).Wrap(err)
			}
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code(CodeInvalid).Wrapf(err, "decode config")
	}
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolvePaths fills the badger directory from the XDG data directory.
// The spool path is left to the recorder.
func (c *Config) resolvePaths() error {
	if c.Storage.Driver == DriverBadger && c.Storage.Path == "" {
		dir, err := xdg.DataDir()
		if err != nil {
			return oops.Code(CodeInvalid).Wrapf(err, "resolve badger path")
		}
		c.Storage.Path = filepath.Join(dir, "actions")
	}
	return nil
}

// Validate rejects unusable settings.
func (c *Config) Validate() error {
	fail := func(key string, format string, args ...any) error {
		return oops.Code(CodeInvalid).With("key", key).Errorf(format, args...)
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return fail("log.format", "log format must be json or text, got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return oops.Code(CodeInvalid).With("key", "log.level").Wrap(err)
	}

	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return fail("storage.dsn", "postgres storage needs a DSN (storage.dsn or DATABASE_URL)")
		}
	case DriverBadger, DriverMemory:
	default:
		return fail("storage.driver", "unknown storage driver %q", c.Storage.Driver)
	}

	if c.Preview.Shards <= 0 {
		return fail("preview.shards", "preview shards must be positive, got %d", c.Preview.Shards)
	}
	if c.Preview.TTL < 0 {
		return fail("preview.ttl", "preview ttl must not be negative")
	}
	if c.Recorder.QueueSize <= 0 || c.Recorder.BatchSize <= 0 {
		return fail("recorder", "recorder queue and batch sizes must be positive")
	}
	if c.Recorder.FlushPeriod <= 0 {
		return fail("recorder.flush_period", "recorder flush period must be positive")
	}
	if c.HTTP.Addr == "" {
		return fail("http.addr", "http address is required")
	}
	return nil
}
