package config

import (
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.Engine.EnableMetrics || !cfg.Engine.EnableTracing {
		t.Error("defaults should enable the built-in observers")
	}
	if cfg.Pool.MaxIdleWorkers <= 0 {
		t.Error("defaults should configure the pool")
	}
	if cfg.RateLimiter.DefaultBurst <= 0 {
		t.Error("defaults should configure the rate limiter")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("the default configuration should validate, got %v", err)
	}
}

func TestDevelopmentConfig(t *testing.T) {
	cfg := DevelopmentConfig()

	if cfg.Logging.Level != "debug" || !cfg.Logging.Pretty {
		t.Errorf("development logging = %+v", cfg.Logging)
	}
	if cfg.Engine.EnableAudit {
		t.Error("development should disable auditing")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("the development configuration should validate, got %v", err)
	}
}

func TestConfig_Validate_LogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "nonsense"

	if err := cfg.Validate(); err == nil {
		t.Error("an unknown log level should be rejected")
	}
}

func TestConfig_Validate_WatchRequiresFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Manifest.Watch = true
	cfg.Manifest.FilePath = ""

	if err := cfg.Validate(); err == nil {
		t.Error("watching without a manifest file should be rejected")
	}
}

func TestConfig_Validate_Normalizes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pool.MaxIdleWorkers = 0
	cfg.RateLimiter.DefaultBurst = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.Pool.MaxIdleWorkers <= 0 {
		t.Error("Validate should normalize the pool idle cap")
	}
	if cfg.RateLimiter.DefaultBurst <= 0 {
		t.Error("Validate should normalize the rate limiter burst")
	}
}
