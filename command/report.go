package command

import (
	"context"
	"time"

	"github.com/victoralfred/gospawn/pool"
)

// TaskPool runs the background work of commands: capture reads, stdin
// feeds, detached reaping, and asynchronous runs.
type TaskPool interface {
	// Submit queues a task and returns its future. It must not block.
	Submit(name string, task func() error) Future
}

// Future is the handle of a submitted task.
type Future interface {
	// Wait blocks until the task has finished and returns its error.
	Wait() error

	// Done returns a channel that is closed when the task has finished.
	Done() <-chan struct{}

	// Err returns the task error once finished and nil before that.
	Err() error
}

// AdaptPool wraps a concrete *pool.Pool as a TaskPool.
func AdaptPool(p *pool.Pool) TaskPool {
	return poolAdapter{p}
}

type poolAdapter struct {
	p *pool.Pool
}

func (a poolAdapter) Submit(name string, task func() error) Future {
	return a.p.Submit(name, task)
}

// RateLimiter controls the run admission rate.
type RateLimiter interface {
	// Allow reports whether a run of the given executable may start now.
	Allow(path string) bool
}

// RunObserver is notified around every run of a command. Telemetry,
// metrics, auditing and lifecycle hooks attach through this interface.
type RunObserver interface {
	// RunStarted is called before the child is started. The returned
	// context is passed to subsequent observers and carried through the
	// run. Returning an error vetoes the run.
	RunStarted(ctx context.Context, start RunStart) (context.Context, error)

	// RunCompleted is called once the run call finishes, after the
	// result was recorded in wait mode. Observers are completed in
	// reverse registration order.
	RunCompleted(ctx context.Context, report Report)
}

// RunStart describes a run that is about to begin.
type RunStart struct {
	// RunID uniquely identifies this run.
	RunID string

	// CommandID identifies the command being run.
	CommandID string

	// Path is the executable path.
	Path string

	// Argv is the materialized argument vector, program name included.
	Argv []string

	// WaitMode reports whether the run collects the child.
	WaitMode bool

	// StdinBytes is the size of the stdin payload.
	StdinBytes int

	// StdoutCapacity and StderrCapacity are the capture limits.
	StdoutCapacity int
	StderrCapacity int

	// StartedAt is the wall clock time the run began.
	StartedAt time.Time
}

// Report describes a finished run call.
type Report struct {
	RunStart

	// Recorded reports whether a result was recorded on the command.
	// Detached runs never record one.
	Recorded bool

	// ExitCode is the recorded exit code, including the sentinel values.
	// Meaningful only when Recorded is set.
	ExitCode int

	// Signal names the terminating signal when the child was killed.
	Signal string

	// StdoutBytes and StderrBytes are the captured output sizes.
	StdoutBytes int
	StderrBytes int

	// Err is the error returned by the run call, if any.
	Err error

	// Duration is the wall clock time of the run call.
	Duration time.Duration
}

// Failed reports whether the run call returned an error.
func (r Report) Failed() bool {
	return r.Err != nil
}

// KilledBySignal reports whether the recorded result marks a signal death.
func (r Report) KilledBySignal() bool {
	return r.Recorded && r.ExitCode == ExitCodeKilledBySignal
}
