// Package command implements named, long-lived definitions of external
// program invocations. A command fixes its executable path and wait flag at
// construction; arguments, environment overrides, the stdin payload and the
// capture capacities stay mutable between runs. After each wait-mode run
// the exit code and the captured output are retained on the command until
// the next run replaces them.
package command

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/victoralfred/gospawn/internal/envutil"
	"github.com/victoralfred/gospawn/pool"
)

// Exit code sentinels recorded in place of a normal exit code.
const (
	// ExitCodeKilledBySignal is recorded when the child was terminated
	// by a signal.
	ExitCodeKilledBySignal = -1

	// ExitCodeSystemError is recorded when an OS-level failure kept the
	// run from producing a regular exit code.
	ExitCodeSystemError = -2
)

// Command is a reusable definition of one external program invocation.
// All methods are safe for concurrent use.
type Command struct {
	id   string
	path string
	wait bool

	pool      TaskPool
	log       zerolog.Logger
	observers []RunObserver
	limiter   RateLimiter

	mu             sync.Mutex
	arguments      map[int]string
	envOverrides   map[string]string
	stdinPayload   []byte
	stdoutCapacity int
	stderrCapacity int
	exitCode       int
	stdoutBuffer   []byte
	stderrBuffer   []byte
	running        bool
}

// options collects the construction-time settings of a command.
type options struct {
	id        string
	noWait    bool
	pool      TaskPool
	logger    *zerolog.Logger
	observers []RunObserver
	limiter   RateLimiter
}

// Option configures a command at construction.
type Option func(*options)

// NoWait makes the command detach from its children: runs return right
// after the start, no result is recorded, and output capture is
// unavailable. Detached children are still reaped in the background.
func NoWait() Option {
	return func(o *options) { o.noWait = true }
}

// WithCommandID sets the command ID. Without it a random UUID is assigned.
func WithCommandID(id string) Option {
	return func(o *options) { o.id = id }
}

// WithPool sets the task pool that runs the command's background work.
// Without it the command creates a pool of its own.
func WithPool(p TaskPool) Option {
	return func(o *options) { o.pool = p }
}

// WithLogger sets the logger. Without it logging is disabled.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.logger = &log }
}

// WithObservers attaches run observers.
func WithObservers(observers ...RunObserver) Option {
	return func(o *options) { o.observers = append(o.observers, observers...) }
}

// WithLimiter sets the run rate limiter.
func WithLimiter(l RateLimiter) Option {
	return func(o *options) { o.limiter = l }
}

// New creates a command for the given executable path. The path must be
// absolute; it is not required to exist until the command runs.
func New(path string, opts ...Option) (*Command, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: executable path is required", ErrInvalidPath)
	}
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrInvalidPath, path)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if o.id == "" {
		o.id = uuid.New().String()
	}
	if o.pool == nil {
		o.pool = AdaptPool(pool.New(pool.Config{}))
	}
	logger := zerolog.Nop()
	if o.logger != nil {
		logger = *o.logger
	}

	return &Command{
		id:           o.id,
		path:         path,
		wait:         !o.noWait,
		pool:         o.pool,
		log:          logger.With().Str("command_id", o.id).Logger(),
		observers:    o.observers,
		limiter:      o.limiter,
		arguments:    make(map[int]string),
		envOverrides: make(map[string]string),
	}, nil
}

// ID returns the command ID.
func (c *Command) ID() string {
	return c.id
}

// Path returns the executable path.
func (c *Command) Path() string {
	return c.path
}

// WaitMode reports whether runs collect the child and record a result.
func (c *Command) WaitMode() bool {
	return c.wait
}

// SetArgument sets the argument at the given position. Position zero is
// reserved for the executable path, so positions start at one. Positions
// may be set in any order and re-set; unset positions below the highest one
// become empty strings in the argument vector.
func (c *Command) SetArgument(position int, value string) error {
	if position <= 0 {
		return fmt.Errorf("%w: %d", ErrArgumentPosition, position)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.arguments[position] = value
	return nil
}

// SetEnvVar sets an environment override. Overrides are layered over the
// engine process environment when a run starts; an override for an existing
// variable replaces it.
func (c *Command) SetEnvVar(name, value string) error {
	if !envutil.ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidEnvName, name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envOverrides[name] = value
	return nil
}

// SetStdinPayload sets the bytes delivered to the child's standard input.
// The payload is copied; an empty payload means the child gets immediate
// end of input from the null device.
func (c *Command) SetStdinPayload(p []byte) {
	copied := make([]byte, len(p))
	copy(copied, p)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stdinPayload = copied
}

// EnsureStdoutCapacity grows the stdout capture capacity to at least n
// bytes. Capacities never shrink. Requesting capture on a no-wait command
// is a contract error.
func (c *Command) EnsureStdoutCapacity(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, n)
	}
	if n > 0 && !c.wait {
		return fmt.Errorf("%w: stdout", ErrCaptureRequiresWait)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > c.stdoutCapacity {
		c.stdoutCapacity = n
	}
	return nil
}

// EnsureStderrCapacity grows the stderr capture capacity to at least n
// bytes. Capacities never shrink. Requesting capture on a no-wait command
// is a contract error.
func (c *Command) EnsureStderrCapacity(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, n)
	}
	if n > 0 && !c.wait {
		return fmt.Errorf("%w: stderr", ErrCaptureRequiresWait)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > c.stderrCapacity {
		c.stderrCapacity = n
	}
	return nil
}

// StdoutCapacity returns the current stdout capture capacity.
func (c *Command) StdoutCapacity() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stdoutCapacity
}

// StderrCapacity returns the current stderr capture capacity.
func (c *Command) StderrCapacity() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stderrCapacity
}

// ExitCode returns the exit code recorded by the most recent completed
// wait-mode run, or zero if none has completed yet. The sentinel values
// ExitCodeKilledBySignal and ExitCodeSystemError mark abnormal outcomes.
func (c *Command) ExitCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitCode
}

// StdoutBuffer returns a copy of the stdout captured by the most recent
// completed wait-mode run.
func (c *Command) StdoutBuffer() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyBytes(c.stdoutBuffer)
}

// StderrBuffer returns a copy of the stderr captured by the most recent
// completed wait-mode run.
func (c *Command) StderrBuffer() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyBytes(c.stderrBuffer)
}

// runSnapshot is the frozen configuration a run operates on. Mutations
// after the snapshot affect only subsequent runs.
type runSnapshot struct {
	argv           []string
	env            []string
	stdin          []byte
	stdoutCapacity int
	stderrCapacity int
}

// snapshot freezes the mutable configuration under the lock. The argument
// vector is materialized from position zero up to the highest set position,
// with unset gaps as empty strings; the environment is the engine process
// environment with the overrides applied.
func (c *Command) snapshot() runSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	maxPosition := 0
	for position := range c.arguments {
		if position > maxPosition {
			maxPosition = position
		}
	}
	argv := make([]string, maxPosition+1)
	argv[0] = c.path
	for position, value := range c.arguments {
		argv[position] = value
	}

	return runSnapshot{
		argv:           argv,
		env:            envutil.Merge(os.Environ(), c.envOverrides),
		stdin:          copyBytes(c.stdinPayload),
		stdoutCapacity: c.stdoutCapacity,
		stderrCapacity: c.stderrCapacity,
	}
}

// recordResult stores the outcome of a wait-mode run. Buffers are stored
// as given; nil stands for no captured data and is normalized to empty.
func (c *Command) recordResult(exitCode int, stdout, stderr []byte) {
	if stdout == nil {
		stdout = []byte{}
	}
	if stderr == nil {
		stderr = []byte{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exitCode = exitCode
	c.stdoutBuffer = stdout
	c.stderrBuffer = stderr
}

// tryAcquireRun takes the running flag. It returns false if a run already
// holds it.
func (c *Command) tryAcquireRun() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return false
	}
	c.running = true
	return true
}

// releaseRun returns the running flag.
func (c *Command) releaseRun() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
}

// copyBytes preserves nil, so a buffer that was never recorded stays
// distinguishable from a recorded empty one.
func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	copied := make([]byte, len(b))
	copy(copied, b)
	return copied
}

// String returns a short description for logs and errors.
func (c *Command) String() string {
	return fmt.Sprintf("%s (%s)", c.id, c.path)
}
