package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")

	require.NoError(t, err)
	assert.Equal(t, "./catalog.yaml", cfg.Catalog.Path)
	assert.Equal(t, "ssh", cfg.Executor.Kind)
	assert.Equal(t, 10*time.Second, cfg.Executor.ConnectTimeout)
	assert.Equal(t, 3, cfg.Retry.Limit)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 15*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 2*time.Minute, cfg.Timeouts.Transition)
	assert.Equal(t, 15*time.Minute, cfg.Timeouts.Host)
	assert.Equal(t, 90*time.Second, cfg.Timeouts.Verify)
	assert.Equal(t, 0.5, cfg.Abort.FailureThreshold)
	assert.False(t, cfg.Abort.RollbackOnAbort)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
catalog:
  path: /etc/rollout/catalog.yaml
executor:
  kind: docker
retry:
  limit: 5
abort:
  failure_threshold: 0.25
  rollback_on_abort: true
log:
  level: debug
  format: text
`), 0644))

	cfg, err := LoadConfig(path)

	require.NoError(t, err)
	assert.Equal(t, "/etc/rollout/catalog.yaml", cfg.Catalog.Path)
	assert.Equal(t, "docker", cfg.Executor.Kind)
	assert.Equal(t, 5, cfg.Retry.Limit)
	assert.Equal(t, 0.25, cfg.Abort.FailureThreshold)
	assert.True(t, cfg.Abort.RollbackOnAbort)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Unset values keep their defaults.
	assert.Equal(t, 2*time.Minute, cfg.Timeouts.Transition)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("ROLLOUT_EXECUTOR_KIND", "docker")
	t.Setenv("ROLLOUT_RETRY_LIMIT", "7")
	t.Setenv("ROLLOUT_LOG_LEVEL", "warn")

	cfg, err := LoadConfig("")

	require.NoError(t, err)
	assert.Equal(t, "docker", cfg.Executor.Kind)
	assert.Equal(t, 7, cfg.Retry.Limit)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("catalog: ["), 0644))

	_, err := LoadConfig(path)

	assert.Error(t, err)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/config.yaml")

	require.NoError(t, err)
	assert.Equal(t, "ssh", cfg.Executor.Kind)
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
	}{
		{"debug"}, {"info"}, {"warn"}, {"error"}, {"bogus"},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{Log: LogConfig{Level: tt.level, Format: "text"}}
			logger := SetupLogger(cfg)
			assert.NotNil(t, logger)
		})
	}
}
