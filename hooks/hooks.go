// Package hooks provides extension points around the command run
// lifecycle. A hook Registry implements command.RunObserver, so it plugs
// into commands like any other observer.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/victoralfred/gospawn/command"
)

// ErrUnsupportedHook indicates a hook implementing no lifecycle interface.
var ErrUnsupportedHook = errors.New("hook implements no lifecycle interface")

// Hook identifies an extension point implementation.
type Hook interface {
	// Name returns a unique identifier for the hook.
	Name() string

	// Priority determines execution order (lower = earlier).
	Priority() int
}

// BeforeRunHook is called before the child process is started. Returning
// an error vetoes the run. The returned context is passed to later hooks
// and carried through the run.
type BeforeRunHook interface {
	Hook
	BeforeRun(ctx context.Context, start command.RunStart) (context.Context, error)
}

// AfterRunHook is called once the run call has finished. The run outcome
// is already fixed; AfterRun cannot change it.
type AfterRunHook interface {
	Hook
	AfterRun(ctx context.Context, report command.Report)
}

// Registry manages hook registration and invocation.
type Registry struct {
	beforeRun []BeforeRunHook
	afterRun  []AfterRunHook
	mu        sync.RWMutex
}

// NewRegistry creates a new hook registry.
func NewRegistry() *Registry {
	return &Registry{
		beforeRun: make([]BeforeRunHook, 0),
		afterRun:  make([]AfterRunHook, 0),
	}
}

// Register adds a hook to the registry. A hook may implement several
// lifecycle interfaces; implementing none is an error.
func (r *Registry) Register(hook Hook) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	registered := false

	if h, ok := hook.(BeforeRunHook); ok {
		r.beforeRun = append(r.beforeRun, h)
		sort.Slice(r.beforeRun, func(i, j int) bool {
			return r.beforeRun[i].Priority() < r.beforeRun[j].Priority()
		})
		registered = true
	}

	if h, ok := hook.(AfterRunHook); ok {
		r.afterRun = append(r.afterRun, h)
		sort.Slice(r.afterRun, func(i, j int) bool {
			return r.afterRun[i].Priority() < r.afterRun[j].Priority()
		})
		registered = true
	}

	if !registered {
		return fmt.Errorf("%w: %s", ErrUnsupportedHook, hook.Name())
	}
	return nil
}

// Unregister removes a hook by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.beforeRun = removeBefore(r.beforeRun, name)
	r.afterRun = removeAfter(r.afterRun, name)
}

// RunStarted implements command.RunObserver by running the before-run
// hooks in priority order. The first error vetoes the run.
func (r *Registry) RunStarted(ctx context.Context, start command.RunStart) (context.Context, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, hook := range r.beforeRun {
		next, err := hook.BeforeRun(ctx, start)
		if err != nil {
			return ctx, fmt.Errorf("hook %s: %w", hook.Name(), err)
		}
		if next != nil {
			ctx = next
		}
	}
	return ctx, nil
}

// RunCompleted implements command.RunObserver by running the after-run
// hooks in priority order.
func (r *Registry) RunCompleted(ctx context.Context, report command.Report) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, hook := range r.afterRun {
		hook.AfterRun(ctx, report)
	}
}

func removeBefore(hooks []BeforeRunHook, name string) []BeforeRunHook {
	result := make([]BeforeRunHook, 0, len(hooks))
	for _, h := range hooks {
		if h.Name() != name {
			result = append(result, h)
		}
	}
	return result
}

func removeAfter(hooks []AfterRunHook, name string) []AfterRunHook {
	result := make([]AfterRunHook, 0, len(hooks))
	for _, h := range hooks {
		if h.Name() != name {
			result = append(result, h)
		}
	}
	return result
}

// LoggingHook is a built-in hook that logs run starts and outcomes.
type LoggingHook struct {
	log zerolog.Logger
}

// NewLoggingHook creates a new logging hook.
func NewLoggingHook(log zerolog.Logger) *LoggingHook {
	return &LoggingHook{log: log}
}

func (h *LoggingHook) Name() string  { return "logging" }
func (h *LoggingHook) Priority() int { return 1000 }

// BeforeRun implements BeforeRunHook.
func (h *LoggingHook) BeforeRun(ctx context.Context, start command.RunStart) (context.Context, error) {
	h.log.Debug().
		Str("command_id", start.CommandID).
		Str("run_id", start.RunID).
		Strs("argv", start.Argv).
		Bool("wait", start.WaitMode).
		Msg("run starting")
	return ctx, nil
}

// AfterRun implements AfterRunHook.
func (h *LoggingHook) AfterRun(ctx context.Context, report command.Report) {
	if report.Failed() {
		h.log.Error().
			Str("command_id", report.CommandID).
			Str("run_id", report.RunID).
			Err(report.Err).
			Dur("duration", report.Duration).
			Msg("run failed")
		return
	}
	h.log.Info().
		Str("command_id", report.CommandID).
		Str("run_id", report.RunID).
		Int("exit_code", report.ExitCode).
		Dur("duration", report.Duration).
		Msg("run completed")
}
