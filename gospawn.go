package gospawn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/victoralfred/gospawn/binding"
	"github.com/victoralfred/gospawn/command"
	"github.com/victoralfred/gospawn/config"
	"github.com/victoralfred/gospawn/hooks"
	"github.com/victoralfred/gospawn/manifest"
	"github.com/victoralfred/gospawn/observability"
	"github.com/victoralfred/gospawn/pool"
	"github.com/victoralfred/gospawn/resilience"
	"github.com/victoralfred/gospawn/validation"
)

// =============================================================================
// Re-exported types
// =============================================================================

// Core types, aliased so most callers only import this package.
type (
	// Command is a configured external executable. See package command.
	Command = command.Command

	// Option configures a Command at creation time.
	Option = command.Option

	// RunStart describes a run that is about to launch.
	RunStart = command.RunStart

	// Report describes a finished or rejected run.
	Report = command.Report

	// RunObserver receives run lifecycle callbacks.
	RunObserver = command.RunObserver

	// Future tracks a detached unit of background work.
	Future = command.Future

	// Manifest is a parsed command declaration file.
	Manifest = manifest.Manifest

	// Definition is a single command entry inside a Manifest.
	Definition = manifest.Definition

	// Config carries the full engine configuration.
	Config = config.Config

	// MetricsSnapshot is a point-in-time copy of the run counters.
	MetricsSnapshot = observability.MetricsSnapshot

	// Parameter is a bound argument or environment slot.
	Parameter = binding.Parameter

	// Trigger starts and waits on a bound command.
	Trigger = binding.Trigger

	// Output reads captured stdout or stderr of a bound command.
	Output = binding.Output

	// ExitCode reads the recorded exit code of a bound command.
	ExitCode = binding.ExitCode

	// Stdin sets the stdin payload of a bound command.
	Stdin = binding.Stdin

	// Address is a parsed binding address.
	Address = binding.Address
)

// Synthetic exit codes recorded when the child did not exit normally.
const (
	ExitCodeKilledBySignal = command.ExitCodeKilledBySignal
	ExitCodeSystemError    = command.ExitCodeSystemError
)

// Re-exported command sentinels, usable with errors.Is.
var (
	ErrInvalidPath         = command.ErrInvalidPath
	ErrInvalidCommandID    = command.ErrInvalidCommandID
	ErrCommandIDInUse      = command.ErrCommandIDInUse
	ErrCommandNotFound     = command.ErrCommandNotFound
	ErrArgumentPosition    = command.ErrArgumentPosition
	ErrInvalidEnvName      = command.ErrInvalidEnvName
	ErrInvalidCapacity     = command.ErrInvalidCapacity
	ErrCaptureRequiresWait = command.ErrCaptureRequiresWait
	ErrRunInProgress       = command.ErrRunInProgress
	ErrRateLimited         = command.ErrRateLimited
	ErrHookRejected        = command.ErrHookRejected
)

// ErrNoManifest is returned by LoadManifest when the engine was built
// without a manifest file path.
var ErrNoManifest = errors.New("no manifest configured")

// NoWait marks the command as fire-and-forget. See command.NoWait.
func NoWait() Option { return command.NoWait() }

// WithCommandID overrides the generated command ID. See command.WithCommandID.
func WithCommandID(id string) Option { return command.WithCommandID(id) }

// =============================================================================
// Engine
// =============================================================================

const (
	defaultReloadInterval = 30 * time.Second
	defaultCaptureBytes   = 64 << 10
)

// Engine wires the command registry, worker pool, manifest loader,
// admission control and observability chain into one runtime. Build it
// with New and release its resources with Shutdown.
type Engine struct {
	cfg config.Config
	log zerolog.Logger

	pool     *pool.Pool
	registry *command.Registry
	hooks    *hooks.Registry
	loader   *manifest.Loader

	limiter   resilience.RateLimiter
	metrics   *observability.Metrics
	telemetry *observability.Telemetry
	audit     observability.AuditLogger

	watchCtx    context.Context
	watchCancel context.CancelFunc
	watchMu     sync.Mutex
	watching    bool

	closed atomic.Bool
}

// New builds an engine from cfg. The zero config.Config is not usable;
// start from config.DefaultConfig or one of the other presets.
func New(cfg config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}

	e := &Engine{
		cfg:   cfg,
		log:   newLogger(cfg.Logging),
		pool:  pool.New(cfg.Pool),
		hooks: hooks.NewRegistry(),
		audit: observability.NoopAuditLogger(),
	}
	e.watchCtx, e.watchCancel = context.WithCancel(context.Background())

	var observers []command.RunObserver
	if cfg.Engine.EnableMetrics {
		e.metrics = observability.NewMetrics()
		observers = append(observers, e.metrics)
	}
	if cfg.Engine.EnableTracing {
		telemetry, err := observability.NewTelemetry(cfg.Telemetry)
		if err != nil {
			e.pool.Shutdown()
			return nil, fmt.Errorf("telemetry: %w", err)
		}
		e.telemetry = telemetry
		observers = append(observers, telemetry)
	}
	if cfg.Engine.EnableAudit && cfg.Audit.Enabled {
		auditLog, err := observability.NewFileAuditLogger(cfg.Audit)
		if err != nil {
			e.pool.Shutdown()
			return nil, fmt.Errorf("audit log: %w", err)
		}
		e.audit = auditLog
		observers = append(observers, observability.NewAuditor(auditLog, e.log))
	}
	// Hooks run last so a BeforeRun veto unwinds through audit,
	// telemetry and metrics and the rejection is recorded everywhere.
	observers = append(observers, e.hooks)

	var limiter command.RateLimiter
	if cfg.Engine.EnableRateLimiting {
		e.limiter = resilience.NewRateLimiter(cfg.RateLimiter)
		limiter = &countingLimiter{limiter: e.limiter, metrics: e.metrics}
	}

	e.registry = command.NewRegistry(command.RegistryConfig{
		Pool:      command.AdaptPool(e.pool),
		Logger:    &e.log,
		Observers: observers,
		Limiter:   limiter,
	})

	if cfg.Manifest.FilePath != "" {
		opts := []manifest.LoaderOption{
			manifest.WithLogger(e.log),
			manifest.WithOnChange(e.applyManifest),
		}
		if cfg.Engine.EnableValidation {
			opts = append(opts, manifest.WithValidator(validation.NewManifestValidator(nil)))
		}
		loader, err := manifest.NewLoader(cfg.Manifest.BasePath, cfg.Manifest.FilePath, opts...)
		if err != nil {
			e.pool.Shutdown()
			return nil, fmt.Errorf("manifest loader: %w", err)
		}
		e.loader = loader
	}

	return e, nil
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	var out io.Writer = os.Stderr
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// countingLimiter surfaces admission denials to the metrics collector.
// Denials happen before the observer chain runs, so the collector never
// sees them through RunCompleted.
type countingLimiter struct {
	limiter resilience.RateLimiter
	metrics *observability.Metrics
}

func (c *countingLimiter) Allow(path string) bool {
	if c.limiter.Allow(path) {
		return true
	}
	if c.metrics != nil {
		c.metrics.RecordRateLimited(path)
	}
	return false
}

// =============================================================================
// Command operations
// =============================================================================

// Create registers a new command under id. Engine-level observers, the
// rate limiter and the shared pool are attached automatically.
func (e *Engine) Create(id, path string, opts ...Option) (*Command, error) {
	return e.registry.Create(id, path, opts...)
}

// Lookup returns the command registered under id.
func (e *Engine) Lookup(id string) (*Command, bool) {
	return e.registry.Lookup(id)
}

// CommandIDs returns the registered command IDs in sorted order.
func (e *Engine) CommandIDs() []string {
	return e.registry.IDs()
}

// Run looks up a registered command and runs it, blocking until the
// child exits when the command waits.
func (e *Engine) Run(ctx context.Context, id string) error {
	cmd, ok := e.registry.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %q", ErrCommandNotFound, id)
	}
	return cmd.Run(ctx)
}

// RunAsync looks up a registered command and starts it on the pool.
func (e *Engine) RunAsync(ctx context.Context, id string) (Future, error) {
	cmd, ok := e.registry.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCommandNotFound, id)
	}
	return cmd.RunAsync(ctx), nil
}

// =============================================================================
// Manifest operations
// =============================================================================

// LoadManifest reads the manifest file, applies it to the registry and,
// when watching is configured, starts the reload loop. Apply is
// idempotent, so calling LoadManifest again is safe.
func (e *Engine) LoadManifest(ctx context.Context) error {
	if e.loader == nil {
		return ErrNoManifest
	}
	m, err := e.loader.Load(ctx)
	if err != nil {
		return err
	}
	if err := m.Apply(e.registry); err != nil {
		return err
	}
	if e.cfg.Manifest.Watch {
		e.startWatch(m)
	}
	return nil
}

// applyManifest is the loader change callback. It covers reloads picked
// up by the watcher, where there is no caller to return an error to.
func (e *Engine) applyManifest(m *manifest.Manifest) {
	if err := m.Apply(e.registry); err != nil {
		e.log.Error().Err(err).Str("version", m.Version).Msg("manifest apply failed")
		return
	}
	e.log.Info().Str("version", m.Version).Int("commands", e.registry.Len()).Msg("manifest applied")
}

func (e *Engine) startWatch(m *manifest.Manifest) {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	if e.watching {
		return
	}
	interval := m.ReloadInterval.Duration
	if interval <= 0 {
		interval = defaultReloadInterval
	}
	e.loader.Watch(e.watchCtx, interval)
	e.watching = true
}

// =============================================================================
// Bindings
// =============================================================================

// Parameter binds an argument or environment slot of a registered
// command, for example "backup arg 1" or "backup env TZ".
func (e *Engine) Parameter(address string) (*Parameter, error) {
	return binding.NewParameter(e.registry, address)
}

// Trigger binds the run slot of a registered command, for example
// "backup run" or "backup run wait".
func (e *Engine) Trigger(address string) (*Trigger, error) {
	return binding.NewTrigger(e.registry, address)
}

// Output binds captured stdout or stderr of a registered command and
// reserves capacity bytes for it, for example "backup stdout".
func (e *Engine) Output(address string, capacity int) (*Output, error) {
	return binding.NewOutput(e.registry, address, capacity)
}

// ExitCode binds the recorded exit code of a registered command, for
// example "backup exit_code".
func (e *Engine) ExitCode(address string) (*ExitCode, error) {
	return binding.NewExitCode(e.registry, address)
}

// Stdin binds the stdin payload slot of a registered command, for
// example "backup stdin".
func (e *Engine) Stdin(address string) (*Stdin, error) {
	return binding.NewStdin(e.registry, address)
}

// =============================================================================
// Accessors
// =============================================================================

// Registry exposes the underlying command registry.
func (e *Engine) Registry() *command.Registry { return e.registry }

// Hooks exposes the hook registry. Hooks registered here apply to every
// run started after registration.
func (e *Engine) Hooks() *hooks.Registry { return e.hooks }

// Metrics returns the in-process metrics collector, or nil when metrics
// are disabled in the configuration.
func (e *Engine) Metrics() *observability.Metrics { return e.metrics }

// AuditLog returns the audit logger. It is a no-op logger when auditing
// is disabled.
func (e *Engine) AuditLog() observability.AuditLogger { return e.audit }

// RateLimiter returns the admission limiter, or nil when rate limiting
// is disabled.
func (e *Engine) RateLimiter() resilience.RateLimiter { return e.limiter }

// Loader returns the manifest loader, or nil when no manifest file is
// configured.
func (e *Engine) Loader() *manifest.Loader { return e.loader }

// Logger returns the engine's root logger.
func (e *Engine) Logger() zerolog.Logger { return e.log }

// =============================================================================
// Shutdown
// =============================================================================

// Shutdown stops the manifest watcher, retires idle pool workers and
// closes the audit log. Runs already in flight finish on their own
// goroutines. Shutdown is idempotent.
func (e *Engine) Shutdown() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.watchCancel()
	if e.loader != nil {
		e.loader.StopWatch()
	}
	e.registry.Close()
	e.pool.Shutdown()
	if err := e.audit.Close(); err != nil {
		return fmt.Errorf("closing audit log: %w", err)
	}
	return nil
}

// =============================================================================
// Convenience
// =============================================================================

// NewCommand builds a standalone command outside any engine. It gets a
// private worker pool and no observers; prefer Engine.Create for
// long-lived commands.
func NewCommand(path string, opts ...Option) (*Command, error) {
	return command.New(path, opts...)
}

// RunOnce spawns path with the given positional arguments, waits for
// the child to exit and returns its exit code and captured stdout.
func RunOnce(ctx context.Context, path string, args ...string) (int, []byte, error) {
	p := pool.New(pool.Config{MaxIdleWorkers: 1})
	defer p.Shutdown()

	cmd, err := command.New(path, command.WithPool(command.AdaptPool(p)))
	if err != nil {
		return 0, nil, err
	}
	for i, arg := range args {
		if err := cmd.SetArgument(i+1, arg); err != nil {
			return 0, nil, err
		}
	}
	if err := cmd.EnsureStdoutCapacity(defaultCaptureBytes); err != nil {
		return 0, nil, err
	}
	if err := cmd.Run(ctx); err != nil {
		return cmd.ExitCode(), cmd.StdoutBuffer(), err
	}
	return cmd.ExitCode(), cmd.StdoutBuffer(), nil
}

// Version reports the library version.
func Version() string {
	return "1.0.0"
}
