// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/ledger/pkg/errutil"
)

func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("DATABASE_URL", "")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	fs.String("unrelated", "x", "not configuration")
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("", newFlags(t, "--storage", "memory"))
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, uint64(5), cfg.Storage.ConnectRetries)
	assert.True(t, cfg.Storage.AutoMigrate)
	assert.Equal(t, 64, cfg.Preview.Shards)
	assert.Zero(t, cfg.Preview.TTL)
	assert.Equal(t, 1024, cfg.Recorder.QueueSize)
	assert.Equal(t, 128, cfg.Recorder.BatchSize)
	assert.Equal(t, 200*time.Millisecond, cfg.Recorder.FlushPeriod)
	assert.Equal(t, "127.0.0.1:8080", cfg.HTTP.Addr)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Addr)
}

func TestLoad_NilFlags(t *testing.T) {
	isolate(t)
	t.Setenv("DATABASE_URL", "postgres://env/ledger")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://env/ledger", cfg.Storage.DSN)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
log:
  format: text
  level: debug
storage:
  driver: postgres
  dsn: postgres://file/ledger
  connect_retries: 2
preview:
  shards: 8
  ttl: 5m
recorder:
  flush_period: 1s
http:
  addr: ":9000"
`)

	cfg, err := Load(path, newFlags(t))
	require.NoError(t, err)

	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "postgres://file/ledger", cfg.Storage.DSN)
	assert.Equal(t, uint64(2), cfg.Storage.ConnectRetries)
	assert.Equal(t, 8, cfg.Preview.Shards)
	assert.Equal(t, 5*time.Minute, cfg.Preview.TTL)
	assert.Equal(t, time.Second, cfg.Recorder.FlushPeriod)
	assert.Equal(t, ":9000", cfg.HTTP.Addr, "unchanged flag must not override the file")
	assert.Equal(t, 1024, cfg.Recorder.QueueSize)
}

func TestLoad_Precedence(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
storage:
  dsn: postgres://file/ledger
http:
  addr: ":9000"
`)
	t.Setenv("DATABASE_URL", "postgres://env/ledger")

	cfg, err := Load(path, newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/ledger", cfg.Storage.DSN, "environment beats the file")

	cfg, err = Load(path, newFlags(t, "--dsn", "postgres://flag/ledger", "--http-addr", ":7000", "--auto-migrate=false"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://flag/ledger", cfg.Storage.DSN, "flag beats the environment")
	assert.Equal(t, ":7000", cfg.HTTP.Addr)
	assert.False(t, cfg.Storage.AutoMigrate)
}

func TestLoad_DefaultFileIsOptionalButExplicitIsNot(t *testing.T) {
	isolate(t)

	_, err := Load("", newFlags(t, "--storage", "memory"))
	require.NoError(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), newFlags(t, "--storage", "memory"))
	errutil.AssertErrorCode(t, err, CodeInvalid)
}

func TestLoad_DefaultFileIsRead(t *testing.T) {
	isolate(t)
	dir := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "ledger")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("storage:\n  driver: memory\n"), 0o600))

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
}

func TestLoad_BadgerPathDefaultsToDataDir(t *testing.T) {
	isolate(t)

	cfg, err := Load("", newFlags(t, "--storage", "badger"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(os.Getenv("XDG_DATA_HOME"), "ledger", "actions"), cfg.Storage.Path)

	cfg, err = Load("", newFlags(t, "--storage", "badger", "--data-path", "/srv/ledger"))
	require.NoError(t, err)
	assert.Equal(t, "/srv/ledger", cfg.Storage.Path)
}

func TestLoad_MalformedFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "storage: [unclosed\n")

	_, err := Load(path, nil)
	errutil.AssertErrorCode(t, err, CodeInvalid)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Log:      LogConfig{Format: "json", Level: "info"},
			Storage:  StorageConfig{Driver: DriverPostgres, DSN: "postgres://x"},
			Preview:  PreviewConfig{Shards: 4},
			Recorder: RecorderConfig{QueueSize: 1, BatchSize: 1, FlushPeriod: time.Second},
			HTTP:     HTTPConfig{Addr: ":8080"},
		}
	}
	c := valid()
	require.NoError(t, c.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		key    string
	}{
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"postgres without dsn", func(c *Config) { c.Storage.DSN = "" }, "storage.dsn"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "sqlite" }, "storage.driver"},
		{"zero shards", func(c *Config) { c.Preview.Shards = 0 }, "preview.shards"},
		{"negative ttl", func(c *Config) { c.Preview.TTL = -time.Second }, "preview.ttl"},
		{"zero queue", func(c *Config) { c.Recorder.QueueSize = 0 }, "recorder"},
		{"zero flush", func(c *Config) { c.Recorder.FlushPeriod = 0 }, "recorder.flush_period"},
		{"no http addr", func(c *Config) { c.HTTP.Addr = "" }, "http.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			errutil.AssertErrorCode(t, err, CodeInvalid)
			errutil.AssertErrorContext(t, err, "key", tt.key)
		})
	}
}
