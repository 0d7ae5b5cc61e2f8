// Package pool provides the task pool that runs the engine's background
// work: pipe reads and writes, detached child reaping, and asynchronous
// command runs.
//
// The pool keeps up to a configured number of idle workers. Submitting a
// task never blocks: an idle worker is woken when one exists, otherwise a
// new worker goroutine is started. Workers that finish a task while the
// idle set is full exit instead of parking, so the pool shrinks back to its
// idle cap after a burst.
package pool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Common errors.
var (
	// ErrPoolShutdown rejects tasks submitted after Shutdown.
	ErrPoolShutdown = errors.New("task pool is shut down")

	// ErrTaskPanic wraps the recovered value of a panicking task.
	ErrTaskPanic = errors.New("task panicked")
)

// DefaultMaxIdleWorkers is the idle cap used when none is configured.
const DefaultMaxIdleWorkers = 4

// Config configures the task pool.
type Config struct {
	// MaxIdleWorkers is the number of workers kept parked between tasks.
	// More workers are still created on demand; they exit once the idle
	// set is full. Zero or negative selects DefaultMaxIdleWorkers.
	MaxIdleWorkers int
}

// Stats contains pool statistics.
type Stats struct {
	Submitted      int64
	Completed      int64
	Failed         int64
	Panicked       int64
	Rejected       int64
	WorkersSpawned int64
	IdleWorkers    int
	QueueDepth     int
}

// Pool runs submitted tasks on pooled worker goroutines in FIFO order.
type Pool struct {
	maxIdle int

	mu       sync.Mutex
	wake     *sync.Cond
	pending  []*Future
	idle     int
	shutdown bool

	submitted int64
	completed int64
	failed    int64
	panicked  int64
	rejected  int64
	spawned   int64
}

// New creates a task pool.
func New(config Config) *Pool {
	maxIdle := config.MaxIdleWorkers
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdleWorkers
	}
	p := &Pool{maxIdle: maxIdle}
	p.wake = sync.NewCond(&p.mu)
	return p
}

// Submit queues a task for execution and returns its future. The name is
// carried on the future for diagnostics. Submit never blocks; after
// Shutdown it returns a future that has already failed with
// ErrPoolShutdown.
func (p *Pool) Submit(name string, task func() error) *Future {
	fut := &Future{name: name, task: task, done: make(chan struct{})}

	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		atomic.AddInt64(&p.rejected, 1)
		fut.complete(ErrPoolShutdown)
		return fut
	}
	atomic.AddInt64(&p.submitted, 1)
	p.pending = append(p.pending, fut)
	if p.idle > 0 {
		// The idle count is decremented here instead of in the woken
		// worker. Otherwise a second submission could arrive before the
		// woken worker reacquires the mutex and see a stale count,
		// skipping the spawn it actually needs.
		p.idle--
		p.wake.Signal()
	} else {
		atomic.AddInt64(&p.spawned, 1)
		go p.worker()
	}
	p.mu.Unlock()

	return fut
}

// Shutdown marks the pool as shut down and wakes all parked workers. Queued
// tasks are still drained by the existing workers; in-flight tasks finish
// in the background. Shutdown does not wait for either and is safe to call
// more than once.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.shutdown = true
	// Every parked worker is woken below and exits; none of them comes
	// back to decrement the count itself.
	p.idle = 0
	p.mu.Unlock()
	p.wake.Broadcast()
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	idle := p.idle
	depth := len(p.pending)
	p.mu.Unlock()

	return Stats{
		Submitted:      atomic.LoadInt64(&p.submitted),
		Completed:      atomic.LoadInt64(&p.completed),
		Failed:         atomic.LoadInt64(&p.failed),
		Panicked:       atomic.LoadInt64(&p.panicked),
		Rejected:       atomic.LoadInt64(&p.rejected),
		WorkersSpawned: atomic.LoadInt64(&p.spawned),
		IdleWorkers:    idle,
		QueueDepth:     depth,
	}
}

// worker is the loop run by each worker goroutine. It pops queued tasks in
// FIFO order; when the queue is empty it parks, unless the pool is shut
// down or the idle set is already full, in which case it exits.
func (p *Pool) worker() {
	p.mu.Lock()
	counted := false
	for {
		if len(p.pending) == 0 {
			if p.shutdown {
				break
			}
			if !counted {
				if p.idle == p.maxIdle {
					break
				}
				p.idle++
				counted = true
			}
			p.wake.Wait()
			// A submitter's claim decremented the count before the
			// signal; the shutdown broadcast zeroed it. Either way this
			// worker is no longer in it.
			counted = false
			continue
		}
		fut := p.pending[0]
		p.pending[0] = nil
		p.pending = p.pending[1:]
		if len(p.pending) == 0 {
			p.pending = nil
		}
		p.mu.Unlock()
		p.execute(fut)
		p.mu.Lock()
	}
	p.mu.Unlock()
}

// execute runs one task, capturing its error or panic into the future. A
// panicking task never kills the worker.
func (p *Pool) execute(fut *Future) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.panicked, 1)
				err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
			}
		}()
		err = fut.task()
	}()
	if err != nil {
		atomic.AddInt64(&p.failed, 1)
	}
	atomic.AddInt64(&p.completed, 1)
	fut.complete(err)
}

// Future is the handle of a submitted task.
type Future struct {
	name string
	task func() error
	done chan struct{}
	err  error
}

// Name returns the diagnostic name given at submission.
func (f *Future) Name() string {
	return f.name
}

// Wait blocks until the task has finished and returns its error.
func (f *Future) Wait() error {
	<-f.done
	return f.err
}

// Done returns a channel that is closed when the task has finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err returns the task error once it has finished and nil before that. Use
// Wait or Done to synchronize.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

func (f *Future) complete(err error) {
	f.err = err
	f.task = nil
	close(f.done)
}
