package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zerrors "github.com/alexisbeaulieu97/zenify/pkg/errors"
)

func TestLoadValidFile(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "valid.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 30*time.Second, cfg.Query.StaleTime)
	assert.Equal(t, 10*time.Minute, cfg.Query.CacheTime)
	assert.Equal(t, 500*time.Millisecond, cfg.Query.RetryDelay)
	assert.False(t, cfg.Query.RefetchOnReconnect)
	assert.Equal(t, "sqlite", cfg.Queue.Storage)
	assert.Equal(t, "app.mutations", cfg.Queue.StorageKey)
	assert.Equal(t, "api.example.com:443", cfg.Connectivity.ProbeAddress)

	q := cfg.QueryDefaults()
	assert.Equal(t, 2, q.RetryCount)
	assert.Equal(t, 5*time.Second, q.MaxRetryDelay)
	assert.Equal(t, time.Minute, q.RefetchInterval)
}

func TestParseEmptyDocumentUsesDefaults(t *testing.T) {
	cfg, err := Parse("empty.yaml", nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
	assert.True(t, cfg.Query.RefetchOnReconnect)
}

func TestParsePartialDocumentKeepsDefaults(t *testing.T) {
	cfg, err := Parse("partial.yaml", []byte("version: \"1.2.0\"\nquery:\n  stale_time: 1m\n"))
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.Query.StaleTime)
	assert.Equal(t, Default().Query.CacheTime, cfg.Query.CacheTime)
	assert.Equal(t, "memory", cfg.Queue.Storage)
}

func TestLoadRejectsUnknownFieldWithLine(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "unknown_field.yaml"))
	var parseErr *zerrors.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, 4, parseErr.Line)
	assert.Contains(t, parseErr.Message, "colour")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	var parseErr *zerrors.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Zero(t, parseErr.Line)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadRequiresPathForPersistentStorage(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "missing_path.yaml"))
	var validationErr *zerrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "queue.path", validationErr.Field)
}

func TestValidateRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad version", func(c *Config) { c.Version = "v1" }, "version"},
		{"bad level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"too many retries", func(c *Config) { c.Query.RetryCount = 11 }, "query.retry_count"},
		{"negative stale time", func(c *Config) { c.Query.StaleTime = -time.Second }, "query.stale_time"},
		{"max delay below delay", func(c *Config) {
			c.Query.RetryDelay = 10 * time.Second
			c.Query.MaxRetryDelay = time.Second
		}, "query.max_retry_delay"},
		{"bad backend", func(c *Config) { c.Queue.Storage = "redis" }, "queue.storage"},
		{"bad storage key", func(c *Config) { c.Queue.StorageKey = "has space" }, "queue.storage_key"},
		{"bad probe address", func(c *Config) { c.Connectivity.ProbeAddress = "no-port" }, "connectivity.probe_address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := Validate(&cfg)
			var validationErr *zerrors.ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.field, validationErr.Field)
		})
	}
}

func TestValidateNil(t *testing.T) {
	require.Error(t, Validate(nil))
}

func TestMarshalRoundTrips(t *testing.T) {
	original, err := Load(filepath.Join("testdata", "valid.yaml"))
	require.NoError(t, err)

	data, err := Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(data), "stale_time: 30s")

	reparsed, err := Parse("roundtrip.yaml", data)
	require.NoError(t, err)
	assert.Equal(t, original, reparsed)
}

func TestGetValidatorIsShared(t *testing.T) {
	assert.Same(t, GetValidator(), GetValidator())
}
