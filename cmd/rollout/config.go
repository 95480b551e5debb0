package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Timeouts TimeoutConfig  `mapstructure:"timeouts"`
	Abort    AbortConfig    `mapstructure:"abort"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
}

// CatalogConfig locates the service catalog.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// ExecutorConfig selects and tunes the host executor.
type ExecutorConfig struct {
	// Kind is "ssh" (remote fleets) or "docker" (local daemon).
	Kind           string        `mapstructure:"kind"`
	DockerHost     string        `mapstructure:"docker_host"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// RetryConfig tunes per-transition retry behavior.
type RetryConfig struct {
	Limit     int           `mapstructure:"limit"`
	BaseDelay time.Duration `mapstructure:"base_delay"`
	MaxDelay  time.Duration `mapstructure:"max_delay"`
}

// TimeoutConfig bounds transition, host, and verification durations.
type TimeoutConfig struct {
	Transition time.Duration `mapstructure:"transition"`
	Host       time.Duration `mapstructure:"host"`
	Verify     time.Duration `mapstructure:"verify"`
}

// AbortConfig tunes fleet-level failure handling.
type AbortConfig struct {
	// FailureThreshold is the failed fraction of a batch above which the
	// run aborts.
	FailureThreshold float64 `mapstructure:"failure_threshold"`

	// RollbackOnAbort rolls already-succeeded hosts back when a run aborts.
	RollbackOnAbort bool `mapstructure:"rollback_on_abort"`
}

// DatabaseConfig holds the history database configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("catalog.path", "./catalog.yaml")
	v.SetDefault("executor.kind", "ssh")
	v.SetDefault("executor.docker_host", "")
	v.SetDefault("executor.connect_timeout", "10s")
	v.SetDefault("retry.limit", 3)
	v.SetDefault("retry.base_delay", "500ms")
	v.SetDefault("retry.max_delay", "15s")
	v.SetDefault("timeouts.transition", "2m")
	v.SetDefault("timeouts.host", "15m")
	v.SetDefault("timeouts.verify", "90s")
	v.SetDefault("abort.failure_threshold", 0.5)
	v.SetDefault("abort.rollback_on_abort", false)
	v.SetDefault("database.dsn", "./data/rollout.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("ROLLOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
