// Package config provides configuration management for gospawn engines.
package config

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/victoralfred/gospawn/observability"
	"github.com/victoralfred/gospawn/pool"
	"github.com/victoralfred/gospawn/resilience"
)

// Config is the main configuration for a gospawn engine.
type Config struct {
	RateLimiter resilience.RateLimiterConfig
	Telemetry   observability.TelemetryConfig
	Audit       observability.AuditConfig
	Manifest    ManifestConfig
	Logging     LogConfig
	Engine      EngineConfig
	Pool        pool.Config
}

// EngineConfig toggles the engine's built-in observers and admission
// control.
type EngineConfig struct {
	EnableMetrics      bool
	EnableTracing      bool
	EnableAudit        bool
	EnableRateLimiting bool
	EnableValidation   bool
}

// ManifestConfig locates the declarative command manifest.
type ManifestConfig struct {
	// BasePath confines manifest file access.
	BasePath string

	// FilePath is the manifest file, relative to BasePath. Empty
	// disables manifest loading.
	FilePath string

	// Watch re-applies the manifest at its reload_interval.
	Watch bool
}

// LogConfig configures the engine logger.
type LogConfig struct {
	// Level is a zerolog level name: trace, debug, info, warn, error.
	Level string

	// Pretty switches to the human-readable console writer.
	Pretty bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Engine: EngineConfig{
			EnableMetrics:      true,
			EnableTracing:      true,
			EnableAudit:        true,
			EnableRateLimiting: true,
			EnableValidation:   true,
		},
		Pool:        pool.Config{MaxIdleWorkers: pool.DefaultMaxIdleWorkers},
		RateLimiter: resilience.DefaultRateLimiterConfig(),
		Telemetry:   observability.DefaultTelemetryConfig(),
		Audit:       observability.DefaultAuditConfig(),
		Manifest: ManifestConfig{
			BasePath: "/etc/gospawn",
			FilePath: "commands.yaml",
		},
		Logging: LogConfig{Level: "info"},
	}
}

// DevelopmentConfig returns configuration suitable for development.
func DevelopmentConfig() Config {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.Pretty = true
	cfg.RateLimiter.DefaultLimit = 1000
	cfg.RateLimiter.DefaultBurst = 2000
	cfg.Engine.EnableAudit = false
	cfg.Audit.Enabled = false
	cfg.Telemetry.Environment = "development"
	return cfg
}

// ProductionConfig returns configuration suitable for production.
func ProductionConfig() Config {
	cfg := DefaultConfig()
	cfg.RateLimiter.DefaultLimit = 100
	cfg.RateLimiter.DefaultBurst = 150
	cfg.Audit.LogLevel = observability.AuditLogAll
	cfg.Telemetry.Environment = "production"
	return cfg
}

// Validate checks the configuration and normalizes zero values.
func (c *Config) Validate() error {
	if c.Logging.Level != "" {
		if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
			return fmt.Errorf("invalid log level %q: %w", c.Logging.Level, err)
		}
	}

	if c.Manifest.Watch && c.Manifest.FilePath == "" {
		return fmt.Errorf("manifest watch requires a manifest file")
	}

	if c.Pool.MaxIdleWorkers <= 0 {
		c.Pool.MaxIdleWorkers = pool.DefaultMaxIdleWorkers
	}

	if c.Engine.EnableRateLimiting {
		if c.RateLimiter.DefaultBurst <= 0 {
			c.RateLimiter.DefaultBurst = 1
		}
	}

	return nil
}
