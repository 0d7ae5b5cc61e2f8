package pool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// waitFor polls cond until it returns true or the deadline expires.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_DefaultsIdleCap(t *testing.T) {
	p := New(Config{})
	defer p.Shutdown()

	if p.maxIdle != DefaultMaxIdleWorkers {
		t.Errorf("maxIdle = %d, want %d", p.maxIdle, DefaultMaxIdleWorkers)
	}
}

func TestPool_Submit_RunsTask(t *testing.T) {
	p := New(Config{MaxIdleWorkers: 2})
	defer p.Shutdown()

	var executed int32
	fut := p.Submit("unit", func() error {
		atomic.AddInt32(&executed, 1)
		return nil
	})

	if err := fut.Wait(); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if atomic.LoadInt32(&executed) != 1 {
		t.Error("task was not executed")
	}
	if fut.Name() != "unit" {
		t.Errorf("Name() = %q, want %q", fut.Name(), "unit")
	}

	stats := p.Stats()
	if stats.Submitted != 1 || stats.Completed != 1 || stats.Failed != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestPool_Submit_TaskError(t *testing.T) {
	p := New(Config{MaxIdleWorkers: 1})
	defer p.Shutdown()

	wantErr := errors.New("task failed")
	fut := p.Submit("failing", func() error { return wantErr })

	if err := fut.Wait(); !errors.Is(err, wantErr) {
		t.Errorf("Wait() = %v, want %v", err, wantErr)
	}
	if p.Stats().Failed != 1 {
		t.Errorf("Failed = %d, want 1", p.Stats().Failed)
	}
}

func TestPool_IdleWorkerIsReused(t *testing.T) {
	p := New(Config{MaxIdleWorkers: 2})
	defer p.Shutdown()

	if err := p.Submit("first", func() error { return nil }).Wait(); err != nil {
		t.Fatalf("first task: %v", err)
	}

	// The worker parks after finishing; the next submission must wake it
	// instead of spawning a second one.
	waitFor(t, "worker to park", func() bool { return p.Stats().IdleWorkers == 1 })

	if err := p.Submit("second", func() error { return nil }).Wait(); err != nil {
		t.Fatalf("second task: %v", err)
	}
	if spawned := p.Stats().WorkersSpawned; spawned != 1 {
		t.Errorf("WorkersSpawned = %d, want 1 (reuse)", spawned)
	}
}

func TestPool_SpawnsWhenAllWorkersBusy(t *testing.T) {
	p := New(Config{MaxIdleWorkers: 4})
	defer p.Shutdown()

	gate := make(chan struct{})
	first := p.Submit("blocker", func() error {
		<-gate
		return nil
	})

	waitFor(t, "first task to start", func() bool { return p.Stats().QueueDepth == 0 })

	second := p.Submit("concurrent", func() error { return nil })
	if err := second.Wait(); err != nil {
		t.Fatalf("second task: %v", err)
	}
	if spawned := p.Stats().WorkersSpawned; spawned != 2 {
		t.Errorf("WorkersSpawned = %d, want 2", spawned)
	}

	close(gate)
	if err := first.Wait(); err != nil {
		t.Fatalf("first task: %v", err)
	}
}

func TestPool_IdleCapBoundsParkedWorkers(t *testing.T) {
	p := New(Config{MaxIdleWorkers: 2})
	defer p.Shutdown()

	const tasks = 6
	gate := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(tasks)
	for i := 0; i < tasks; i++ {
		fut := p.Submit(fmt.Sprintf("burst-%d", i), func() error {
			<-gate
			return nil
		})
		go func() {
			defer wg.Done()
			_ = fut.Wait()
		}()
	}

	waitFor(t, "all workers to spawn", func() bool {
		return p.Stats().WorkersSpawned == tasks
	})
	close(gate)
	wg.Wait()

	// Excess workers exit once the idle set is full.
	waitFor(t, "idle set to settle at the cap", func() bool {
		return p.Stats().IdleWorkers == 2
	})
}

func TestPool_Shutdown_RejectsNewTasks(t *testing.T) {
	p := New(Config{MaxIdleWorkers: 1})
	p.Shutdown()

	fut := p.Submit("late", func() error {
		t.Error("task must not run after shutdown")
		return nil
	})

	if err := fut.Wait(); !errors.Is(err, ErrPoolShutdown) {
		t.Errorf("Wait() = %v, want ErrPoolShutdown", err)
	}
	if p.Stats().Rejected != 1 {
		t.Errorf("Rejected = %d, want 1", p.Stats().Rejected)
	}
}

func TestPool_Shutdown_InFlightTaskFinishes(t *testing.T) {
	p := New(Config{MaxIdleWorkers: 1})

	gate := make(chan struct{})
	fut := p.Submit("slow", func() error {
		<-gate
		return nil
	})

	p.Shutdown()
	close(gate)

	if err := fut.Wait(); err != nil {
		t.Errorf("in-flight task error after shutdown: %v", err)
	}
}

func TestPool_Shutdown_Idempotent(t *testing.T) {
	p := New(Config{MaxIdleWorkers: 1})
	p.Shutdown()
	p.Shutdown()
}

func TestPool_TaskPanicIsRecovered(t *testing.T) {
	p := New(Config{MaxIdleWorkers: 1})
	defer p.Shutdown()

	fut := p.Submit("exploding", func() error {
		panic("boom")
	})

	err := fut.Wait()
	if !errors.Is(err, ErrTaskPanic) {
		t.Fatalf("Wait() = %v, want ErrTaskPanic", err)
	}

	// The pool must survive the panic.
	if err := p.Submit("survivor", func() error { return nil }).Wait(); err != nil {
		t.Errorf("task after panic: %v", err)
	}
	if p.Stats().Panicked != 1 {
		t.Errorf("Panicked = %d, want 1", p.Stats().Panicked)
	}
}

func TestFuture_ErrBeforeAndAfterCompletion(t *testing.T) {
	p := New(Config{MaxIdleWorkers: 1})
	defer p.Shutdown()

	gate := make(chan struct{})
	wantErr := errors.New("deferred failure")
	fut := p.Submit("gated", func() error {
		<-gate
		return wantErr
	})

	if err := fut.Err(); err != nil {
		t.Errorf("Err() before completion = %v, want nil", err)
	}

	close(gate)
	<-fut.Done()

	if err := fut.Err(); !errors.Is(err, wantErr) {
		t.Errorf("Err() after completion = %v, want %v", err, wantErr)
	}
}

func TestPool_ConcurrentSubmit(t *testing.T) {
	p := New(Config{MaxIdleWorkers: 4})
	defer p.Shutdown()

	const goroutines = 20
	const perGoroutine = 25

	var executed int64
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				fut := p.Submit(fmt.Sprintf("load-%d-%d", g, i), func() error {
					atomic.AddInt64(&executed, 1)
					return nil
				})
				if err := fut.Wait(); err != nil {
					t.Errorf("task error: %v", err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	if got := atomic.LoadInt64(&executed); got != goroutines*perGoroutine {
		t.Errorf("executed = %d, want %d", got, goroutines*perGoroutine)
	}

	stats := p.Stats()
	if stats.Completed != goroutines*perGoroutine {
		t.Errorf("Completed = %d, want %d", stats.Completed, goroutines*perGoroutine)
	}
	if stats.IdleWorkers > 4 {
		t.Errorf("IdleWorkers = %d, exceeds the cap", stats.IdleWorkers)
	}
}
