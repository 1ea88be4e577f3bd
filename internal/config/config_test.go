package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Run from a directory with no config file so only defaults apply.
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "https://api.apify.com/v2", cfg.Apify.BaseURL)
	assert.Equal(t, 500, cfg.Apify.PageSize)
	assert.Equal(t, 1, cfg.Breaker.FailureThreshold)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
store:
  driver: sqlite
  database_url: file:leadgen.db
breaker:
  failure_threshold: 3
rate_limit:
  enabled: true
  requests: 50
worker:
  concurrency: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	t.Chdir(dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "file:leadgen.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 50, cfg.RateLimit.Requests)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	// Untouched keys keep defaults.
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	require.Error(t, InitLogger(LogConfig{Level: "not-a-level", Format: "json"}))
}
