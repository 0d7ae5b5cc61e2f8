package command

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/victoralfred/gospawn/pool"
)

// commandIDPattern bounds registry IDs to names that survive address
// parsing and configuration files.
var commandIDPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidCommandID reports whether id is usable as a registry command ID.
func ValidCommandID(id string) bool {
	return commandIDPattern.MatchString(id)
}

// RegistryConfig configures a command registry. The zero value is usable:
// the registry then owns its task pool and logging is disabled.
type RegistryConfig struct {
	// Pool runs the background work of every command in the registry.
	// When nil the registry creates a pool of its own and shuts it down
	// in Close.
	Pool TaskPool

	// Logger is the root logger commands derive theirs from. When nil,
	// logging is disabled.
	Logger *zerolog.Logger

	// Observers are attached to every command the registry creates.
	Observers []RunObserver

	// Limiter gates run admission for every command the registry
	// creates.
	Limiter RateLimiter
}

// Registry holds named commands. Commands are created once and never
// removed, so a lookup result stays valid for the life of the registry.
// All methods are safe for concurrent use.
type Registry struct {
	pool      TaskPool
	ownedPool *pool.Pool
	log       zerolog.Logger
	observers []RunObserver
	limiter   RateLimiter

	mu       sync.RWMutex
	commands map[string]*Command
}

// NewRegistry creates a registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	r := &Registry{
		pool:      cfg.Pool,
		log:       zerolog.Nop(),
		observers: cfg.Observers,
		limiter:   cfg.Limiter,
		commands:  make(map[string]*Command),
	}
	if cfg.Logger != nil {
		r.log = *cfg.Logger
	}
	if r.pool == nil {
		r.ownedPool = pool.New(pool.Config{})
		r.pool = AdaptPool(r.ownedPool)
	}
	return r
}

// Create builds a command wired to the registry's pool, logger, observers
// and limiter and registers it under id. The ID must match [A-Za-z0-9_]+
// and must not be in use. Options are applied on top of the registry
// defaults; the command ID always stays id.
func (r *Registry) Create(id, path string, opts ...Option) (*Command, error) {
	if !ValidCommandID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCommandID, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.commands[id]; exists {
		return nil, fmt.Errorf("%w: %q", ErrCommandIDInUse, id)
	}

	all := make([]Option, 0, len(opts)+5)
	all = append(all,
		WithPool(r.pool),
		WithLogger(r.log),
		WithObservers(r.observers...),
		WithLimiter(r.limiter),
	)
	all = append(all, opts...)
	all = append(all, WithCommandID(id))

	cmd, err := New(path, all...)
	if err != nil {
		return nil, err
	}
	r.commands[id] = cmd

	r.log.Info().
		Str("command_id", id).
		Str("path", path).
		Bool("wait", cmd.WaitMode()).
		Msg("command registered")
	return cmd, nil
}

// Lookup returns the command registered under id.
func (r *Registry) Lookup(id string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[id]
	return cmd, ok
}

// IDs returns the registered command IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.commands))
	for id := range r.commands {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Close shuts down the pool owned by the registry, if any. An injected
// pool is left alone. Idempotent.
func (r *Registry) Close() {
	if r.ownedPool != nil {
		r.ownedPool.Shutdown()
	}
}
