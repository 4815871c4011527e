// Package config loads the syncq configuration.
// Values are layered: defaults -> optional YAML file -> SYNCQ_ env vars.
package config

import (
	"time"

	"github.com/guido-cesarano/syncq/pkg/remote"
)

// Config holds all configuration for the agent and the CLI.
type Config struct {
	Log          LogConfig          `koanf:"log"`
	Storage      StorageConfig      `koanf:"storage"`
	Sync         SyncConfig         `koanf:"sync"`
	Remote       remote.Config      `koanf:"remote"`
	Connectivity ConnectivityConfig `koanf:"connectivity"`
	Admin        AdminConfig        `koanf:"admin"`
	Metrics      MetricsConfig      `koanf:"metrics"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// StorageConfig selects the durable backend of the queue.
type StorageConfig struct {
	// Driver is one of "memory", "sqlite" or "redis".
	Driver    string `koanf:"driver"`
	Path      string `koanf:"path"`
	RedisAddr string `koanf:"redis_addr"`
	Key       string `koanf:"key"`
}

// SyncConfig holds retry policy settings.
type SyncConfig struct {
	MaxRetries int           `koanf:"max_retries"`
	RetryDelay time.Duration `koanf:"retry_delay"`
	// Schedule is a cron descriptor for periodic runs while online, so
	// actions waiting out their backoff are retried without a reconnect.
	// Empty, the default, disables it.
	Schedule string `koanf:"schedule"`
}

// ConnectivityConfig holds health probe settings.
type ConnectivityConfig struct {
	ProbeInterval time.Duration `koanf:"probe_interval"`
	ProbeTimeout  time.Duration `koanf:"probe_timeout"`
}

// AdminConfig holds the admin HTTP API settings. An empty Addr disables it.
type AdminConfig struct {
	Addr   string `koanf:"addr"`
	APIKey string `koanf:"api_key"`
}

// MetricsConfig holds metrics collection settings.
type MetricsConfig struct {
	DepthSchedule string `koanf:"depth_schedule"`
}
