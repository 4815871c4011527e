package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	env "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "SYNCQ_"

func defaults() map[string]any {
	return map[string]any{
		"log.level":  "info",
		"log.format": "console",

		"storage.driver":     "sqlite",
		"storage.path":       "syncq.db",
		"storage.redis_addr": "localhost:6379",
		"storage.key":        "syncq:actions",

		"sync.max_retries": 3,
		"sync.retry_delay": "10s",
		"sync.schedule":    "",

		"remote.base_url":                "http://localhost:8080",
		"remote.api_key":                 "",
		"remote.timeout":                 "10s",
		"remote.breaker.max_failures":    5,
		"remote.breaker.timeout":         "30s",
		"remote.breaker.half_open_limit": 1,

		"connectivity.probe_interval": "5s",
		"connectivity.probe_timeout":  "2s",

		"admin.addr":    ":9090",
		"admin.api_key": "",

		"metrics.depth_schedule": "@every 15s",
	}
}

// Load reads configuration (highest precedence last):
//
//  1. Built-in defaults
//  2. The YAML file at path, if path is not empty
//  3. Environment variables with the SYNCQ_ prefix
//
// Env keys are matched against known keys so that field-internal underscores
// survive:
//
//	SYNCQ_SYNC_RETRY_DELAY        -> sync.retry_delay
//	SYNCQ_REMOTE_BREAKER_TIMEOUT  -> remote.breaker.timeout
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, v := range defaults() {
		if err := k.Set(key, v); err != nil {
			return nil, fmt.Errorf("setting default %s: %w", key, err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	}

	envLookup := buildEnvLookup(k.Keys())
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			if koanfKey, ok := envLookup[key]; ok {
				return koanfKey, value
			}
			return strings.ReplaceAll(key, "_", "."), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func buildEnvLookup(keys []string) map[string]string {
	lookup := make(map[string]string, len(keys))
	for _, key := range keys {
		lookup[strings.ReplaceAll(key, ".", "_")] = key
	}
	return lookup
}

// Validate checks all values and returns the aggregated errors.
func (c *Config) Validate() error {
	var errs []error

	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be one of: json, console; got %q", c.Log.Format))
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path must not be empty for sqlite"))
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			errs = append(errs, errors.New("storage.redis_addr must not be empty for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be one of: memory, sqlite, redis; got %q", c.Storage.Driver))
	}
	if c.Storage.Key == "" {
		errs = append(errs, errors.New("storage.key must not be empty"))
	}

	if c.Sync.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("sync.max_retries must be >= 0, got %d", c.Sync.MaxRetries))
	}
	if c.Sync.RetryDelay < 0 {
		errs = append(errs, errors.New("sync.retry_delay must not be negative"))
	}

	if c.Remote.BaseURL == "" {
		errs = append(errs, errors.New("remote.base_url must not be empty"))
	}
	if c.Remote.Timeout <= 0 {
		errs = append(errs, errors.New("remote.timeout must be positive"))
	}
	if c.Remote.Breaker.MaxFailures < 1 {
		errs = append(errs, fmt.Errorf("remote.breaker.max_failures must be >= 1, got %d", c.Remote.Breaker.MaxFailures))
	}

	if c.Connectivity.ProbeInterval <= 0 {
		errs = append(errs, errors.New("connectivity.probe_interval must be positive"))
	}
	if c.Connectivity.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("connectivity.probe_timeout must be positive"))
	}

	if c.Metrics.DepthSchedule == "" {
		errs = append(errs, errors.New("metrics.depth_schedule must not be empty"))
	}

	return errors.Join(errs...)
}
