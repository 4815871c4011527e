package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guido-cesarano/syncq/pkg/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "syncq.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "syncq:actions", cfg.Storage.Key)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Sync.RetryDelay)
	assert.Empty(t, cfg.Sync.Schedule, "periodic runs are opt-in")
	assert.Equal(t, 5, cfg.Remote.Breaker.MaxFailures)
	assert.Equal(t, 30*time.Second, cfg.Remote.Breaker.Timeout)
	assert.Equal(t, "@every 15s", cfg.Metrics.DepthSchedule)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: redis
  redis_addr: 10.0.0.5:6379
sync:
  retry_delay: 30s
  schedule: "@every 1m"
remote:
  base_url: https://api.example.com
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Storage.Driver)
	assert.Equal(t, "10.0.0.5:6379", cfg.Storage.RedisAddr)
	assert.Equal(t, 30*time.Second, cfg.Sync.RetryDelay)
	assert.Equal(t, 3, cfg.Sync.MaxRetries, "untouched keys keep their default")
	assert.Equal(t, "@every 1m", cfg.Sync.Schedule)
	assert.Equal(t, "https://api.example.com", cfg.Remote.BaseURL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "sync:\n  max_retries: 7\n")
	t.Setenv("SYNCQ_SYNC_MAX_RETRIES", "5")
	t.Setenv("SYNCQ_REMOTE_BREAKER_HALF_OPEN_LIMIT", "3")
	t.Setenv("SYNCQ_ADMIN_API_KEY", "s3cret")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Sync.MaxRetries)
	assert.Equal(t, 3, cfg.Remote.Breaker.HalfOpenLimit)
	assert.Equal(t, "s3cret", cfg.Admin.APIKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := config.Load("../../configs/syncq.yaml")
	require.NoError(t, err)
	assert.Empty(t, cfg.Sync.Schedule)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9090", cfg.Admin.Addr)
}

func TestValidate(t *testing.T) {
	path := writeConfig(t, `
log:
  format: xml
storage:
  driver: postgres
sync:
  max_retries: -1
remote:
  base_url: ""
`)

	_, err := config.Load(path)
	require.Error(t, err)
	for _, want := range []string{
		"log.format",
		"storage.driver",
		"sync.max_retries",
		"remote.base_url",
	} {
		assert.Contains(t, err.Error(), want)
	}
}
