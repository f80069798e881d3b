package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/api", cfg.Server.Prefix)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, 5, cfg.RateLimit.Max)
	assert.Equal(t, time.Second, cfg.RateLimit.Window)
	assert.True(t, cfg.RateLimit.FailOpen)
	assert.Equal(t, 60*time.Second, cfg.Cache.TTL)
	assert.Zero(t, cfg.Cache.DestinationTTL)
	assert.Zero(t, cfg.Fanout().DestinationCacheTTL)
	assert.Equal(t, "bp:events", cfg.Queue.Prefix)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "json", cfg.Logging.Format)

	fc := cfg.Fanout()
	assert.Equal(t, 5, fc.RateLimit)
	assert.Equal(t, time.Second, fc.RateWindow)
	assert.Equal(t, cfg.Queue.MaxAttempts, fc.Retry.MaxAttempts)
	assert.Equal(t, 30*time.Second, fc.ShutdownTimeout)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fanout.yaml")
	yaml := `
server:
  port: 9090
ratelimit:
  max: 10
  window: 2s
queue:
  backend: jetstream
dispatch:
  destination_rps: 2.5
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("FANOUT_RATELIMIT_MAX", "20")
	t.Setenv("FANOUT_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 20, cfg.RateLimit.Max, "env overrides file")
	assert.Equal(t, 2*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, "jetstream", cfg.Queue.Backend)
	assert.InDelta(t, 2.5, cfg.Dispatch.DestinationRPS, 0.001)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FANOUT_QUEUE_BACKEND", "kafka")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue.backend")
}
