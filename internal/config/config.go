// Package config loads the YAML file that configures the zenify runtime and
// CLI.
package config

import (
	"time"

	"github.com/alexisbeaulieu97/zenify/internal/mutation"
	"github.com/alexisbeaulieu97/zenify/internal/query"
	"github.com/alexisbeaulieu97/zenify/internal/storage"
)

// CurrentVersion is written by Default and accepted by Load.
const CurrentVersion = "1.0.0"

// Config is the root configuration document.
type Config struct {
	Version      string             `yaml:"version" validate:"required,semver"`
	Log          LogConfig          `yaml:"log"`
	Query        QueryConfig        `yaml:"query"`
	Queue        QueueConfig        `yaml:"queue"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
}

// LogConfig selects the log level and output format. Format "auto" renders
// human readable output on terminals and JSON elsewhere.
type LogConfig struct {
	Level  string `yaml:"level" validate:"required,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"required,oneof=auto json console"`
}

// QueryConfig holds the query cache defaults.
type QueryConfig struct {
	StaleTime          time.Duration `yaml:"stale_time" validate:"gte=0s"`
	CacheTime          time.Duration `yaml:"cache_time" validate:"gte=0s"`
	RetryCount         int           `yaml:"retry_count" validate:"gte=0,lte=10"`
	RetryDelay         time.Duration `yaml:"retry_delay" validate:"gte=0s"`
	MaxRetryDelay      time.Duration `yaml:"max_retry_delay" validate:"gte=0s"`
	RefetchInterval    time.Duration `yaml:"refetch_interval" validate:"gte=0s"`
	RefetchOnReconnect bool          `yaml:"refetch_on_reconnect"`
}

// QueueConfig selects where the mutation queue is persisted.
type QueueConfig struct {
	Storage    string `yaml:"storage" validate:"required,oneof=memory file sqlite"`
	Path       string `yaml:"path" validate:"required_unless=Storage memory"`
	StorageKey string `yaml:"storage_key" validate:"required,storage_key"`
}

// ConnectivityConfig enables polling a TCP address to derive the online
// flag. An empty ProbeAddress disables polling.
type ConnectivityConfig struct {
	ProbeAddress  string        `yaml:"probe_address" validate:"omitempty,hostname_port"`
	ProbeInterval time.Duration `yaml:"probe_interval" validate:"gte=0s"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout" validate:"gte=0s"`
}

// Default returns a configuration that passes validation.
func Default() Config {
	q := query.DefaultConfig()
	return Config{
		Version: CurrentVersion,
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Query: QueryConfig{
			StaleTime:          q.StaleTime,
			CacheTime:          q.CacheTime,
			RetryCount:         q.RetryCount,
			RetryDelay:         q.RetryDelay,
			MaxRetryDelay:      q.MaxRetryDelay,
			RefetchInterval:    q.RefetchInterval,
			RefetchOnReconnect: q.RefetchOnReconnect,
		},
		Queue: QueueConfig{
			Storage:    storage.BackendMemory,
			StorageKey: mutation.DefaultStorageKey,
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: 30 * time.Second,
			ProbeTimeout:  3 * time.Second,
		},
	}
}

// QueryDefaults converts the query section for the cache.
func (c Config) QueryDefaults() query.Config {
	return query.Config{
		StaleTime:          c.Query.StaleTime,
		CacheTime:          c.Query.CacheTime,
		RetryCount:         c.Query.RetryCount,
		RetryDelay:         c.Query.RetryDelay,
		MaxRetryDelay:      c.Query.MaxRetryDelay,
		RefetchInterval:    c.Query.RefetchInterval,
		RefetchOnReconnect: c.Query.RefetchOnReconnect,
	}
}
