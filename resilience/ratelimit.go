// Package resilience provides run admission control. Its rate limiter
// satisfies the command.RateLimiter collaborator interface.
package resilience

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter controls run admission rate.
type RateLimiter interface {
	// Allow checks if a run is allowed for the given executable path.
	Allow(path string) bool

	// Wait blocks until a run is allowed or the context is canceled.
	Wait(ctx context.Context, path string) error

	// SetLimit updates the rate limit for a path.
	SetLimit(path string, limit rate.Limit, burst int)
}

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// DefaultLimit is the default runs per second.
	DefaultLimit float64

	// DefaultBurst is the default burst size.
	DefaultBurst int

	// PerPath enables per-executable rate limiting. When disabled a
	// single bucket covers all commands.
	PerPath bool

	// PathLimits contains per-executable rate limits.
	PathLimits map[string]PathLimit
}

// PathLimit defines the rate limit for a specific executable.
type PathLimit struct {
	Limit float64
	Burst int
}

// DefaultRateLimiterConfig returns default configuration.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		DefaultLimit: 100,
		DefaultBurst: 150,
		PerPath:      true,
		PathLimits:   make(map[string]PathLimit),
	}
}

// rateLimiter implements RateLimiter.
type rateLimiter struct {
	config       RateLimiterConfig
	global       *rate.Limiter
	pathLimiters map[string]*rate.Limiter
	mu           sync.RWMutex
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(config RateLimiterConfig) RateLimiter {
	rl := &rateLimiter{
		config:       config,
		global:       rate.NewLimiter(rate.Limit(config.DefaultLimit), config.DefaultBurst),
		pathLimiters: make(map[string]*rate.Limiter),
	}

	for path, limit := range config.PathLimits {
		rl.pathLimiters[path] = rate.NewLimiter(rate.Limit(limit.Limit), limit.Burst)
	}

	return rl
}

// Allow implements RateLimiter.Allow.
func (rl *rateLimiter) Allow(path string) bool {
	if !rl.config.PerPath {
		return rl.global.Allow()
	}

	return rl.getLimiter(path).Allow()
}

// Wait implements RateLimiter.Wait.
func (rl *rateLimiter) Wait(ctx context.Context, path string) error {
	if !rl.config.PerPath {
		return rl.global.Wait(ctx)
	}

	return rl.getLimiter(path).Wait(ctx)
}

// SetLimit implements RateLimiter.SetLimit.
func (rl *rateLimiter) SetLimit(path string, limit rate.Limit, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, ok := rl.pathLimiters[path]; ok {
		limiter.SetLimit(limit)
		limiter.SetBurst(burst)
	} else {
		rl.pathLimiters[path] = rate.NewLimiter(limit, burst)
	}
}

func (rl *rateLimiter) getLimiter(path string) *rate.Limiter {
	rl.mu.RLock()
	limiter, ok := rl.pathLimiters[path]
	rl.mu.RUnlock()

	if ok {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock
	if existing, ok := rl.pathLimiters[path]; ok {
		return existing
	}

	limiter = rate.NewLimiter(rate.Limit(rl.config.DefaultLimit), rl.config.DefaultBurst)
	rl.pathLimiters[path] = limiter
	return limiter
}
