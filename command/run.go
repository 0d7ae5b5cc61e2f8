package command

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/victoralfred/gospawn/internal/pipe"
	"github.com/victoralfred/gospawn/internal/spawn"
)

// Run executes the command once with its current configuration. Arguments,
// environment overrides, the stdin payload and the capture capacities are
// frozen when the run starts; later mutations affect only subsequent runs.
//
// In wait mode Run blocks until the child has been collected and records
// the exit code and the captured output on the command. A nonzero exit code
// or a signal death is a recorded outcome, not an error; Run returns an
// error only when the run machinery itself failed. At most one wait-mode
// run may be in flight per command.
//
// In no-wait mode Run returns as soon as the child has started. Stdin
// delivery and reaping continue on the task pool, nothing is recorded, and
// concurrent runs are allowed.
//
// The context is consulted before the child starts; a running child is
// never killed on cancellation.
func (c *Command) Run(ctx context.Context) (err error) {
	if c.wait {
		if !c.tryAcquireRun() {
			return &CommandError{
				Op:        "run",
				CommandID: c.id,
				Path:      c.path,
				Err:       ErrRunInProgress,
				Code:      ErrCodeContract,
			}
		}
		defer c.releaseRun()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return &CommandError{
			Op:        "run",
			CommandID: c.id,
			Path:      c.path,
			Err:       ctxErr,
			Code:      ErrCodeCanceled,
		}
	}

	if c.limiter != nil && !c.limiter.Allow(c.path) {
		return NewRateLimitError(c.id, c.path)
	}

	snap := c.snapshot()
	start := RunStart{
		RunID:          uuid.New().String(),
		CommandID:      c.id,
		Path:           c.path,
		Argv:           snap.argv,
		WaitMode:       c.wait,
		StdinBytes:     len(snap.stdin),
		StdoutCapacity: snap.stdoutCapacity,
		StderrCapacity: snap.stderrCapacity,
		StartedAt:      time.Now(),
	}

	obsCtx, finish, obsErr := c.observeStart(ctx, start)
	if obsErr != nil {
		return obsErr
	}

	report := Report{RunStart: start}
	defer func() {
		report.Err = err
		report.Duration = time.Since(start.StartedAt)
		finish(obsCtx, report)
	}()

	return c.launch(snap, &report)
}

// RunAsync submits Run to the task pool and returns its future. The run
// error is reported through the future.
func (c *Command) RunAsync(ctx context.Context) Future {
	return c.pool.Submit("run:"+c.id, func() error {
		return c.Run(ctx)
	})
}

// observeStart notifies the observers that a run is about to begin. When
// one of them vetoes, the observers that already saw the start are
// completed in reverse order and the veto is returned. On success the
// returned finish function delivers the final report to all observers.
func (c *Command) observeStart(ctx context.Context, start RunStart) (context.Context, func(context.Context, Report), error) {
	for i, obs := range c.observers {
		next, err := obs.RunStarted(ctx, start)
		if err != nil {
			veto := NewHookRejectedError(c.id, c.path, err.Error())
			report := Report{RunStart: start, Err: veto}
			for j := i - 1; j >= 0; j-- {
				c.observers[j].RunCompleted(ctx, report)
			}
			return ctx, nil, veto
		}
		if next != nil {
			ctx = next
		}
	}
	finish := func(ctx context.Context, report Report) {
		for i := len(c.observers) - 1; i >= 0; i-- {
			c.observers[i].RunCompleted(ctx, report)
		}
	}
	return ctx, finish, nil
}

// launch builds the stdio plumbing, starts the child and hands off to the
// wait or the detached path.
func (c *Command) launch(snap runSnapshot, report *Report) error {
	feed, err := pipe.NewFeed(snap.stdin)
	if err != nil {
		return c.fail(report, "stdin-pipe", ErrCodeSpawnFailed, err)
	}
	defer feed.Close()

	stdout, err := pipe.NewCapture(snap.stdoutCapacity)
	if err != nil {
		return c.fail(report, "stdout-pipe", ErrCodeSpawnFailed, err)
	}
	defer stdout.Close()

	stderr, err := pipe.NewCapture(snap.stderrCapacity)
	if err != nil {
		return c.fail(report, "stderr-pipe", ErrCodeSpawnFailed, err)
	}
	defer stderr.Close()

	cfg := spawn.Config{Path: c.path, Argv: snap.argv, Env: snap.env}
	if len(snap.stdin) > 0 {
		cfg.Stdin = feed.ReadEnd()
	}
	if snap.stdoutCapacity > 0 {
		cfg.Stdout = stdout.WriteEnd()
	}
	if snap.stderrCapacity > 0 {
		cfg.Stderr = stderr.WriteEnd()
	}

	proc, startErr := spawn.Start(cfg)
	// The child holds its own copies of the descriptors now. Ours must go
	// either way: keeping a write end open would hold the capture reads
	// short of EOF for as long as the command lives.
	closeChildEnds(cfg)
	if startErr != nil {
		return c.fail(report, "spawn", ErrCodeSpawnFailed, startErr)
	}

	c.log.Debug().
		Str("run_id", report.RunID).
		Int("pid", proc.Pid()).
		Strs("argv", snap.argv).
		Bool("wait", c.wait).
		Msg("child started")

	if !c.wait {
		c.detach(proc, feed, report.RunID)
		return nil
	}
	return c.awaitResult(proc, feed, stdout, stderr, report)
}

// closeChildEnds releases the parent copies of the descriptors that were
// handed to the child.
func closeChildEnds(cfg spawn.Config) {
	for _, f := range []*os.File{cfg.Stdin, cfg.Stdout, cfg.Stderr} {
		if f != nil {
			f.Close()
		}
	}
}

// awaitResult drives a wait-mode run to completion: deliver stdin, collect
// the captures, reap the child, classify the outcome and record it.
func (c *Command) awaitResult(proc *spawn.Process, feed *pipe.Feed, stdout, stderr *pipe.Capture, report *Report) error {
	errFuture := c.pool.Submit("stderr-capture:"+c.id, stderr.ReadTask())
	outFuture := c.pool.Submit("stdout-capture:"+c.id, stdout.ReadTask())
	inFuture := c.pool.Submit("stdin-feed:"+c.id, feed.WriteTask())

	st := proc.Wait()
	if st.Err != nil {
		return c.fail(report, "wait", ErrCodeWaitFailed, st.Err)
	}

	// The child is gone, so both captures terminate on their own: either
	// at EOF or on a read error. A failed capture makes the output
	// unreliable and the run is recorded as a system failure.
	if err := outFuture.Wait(); err != nil {
		return c.fail(report, "stdout-capture", ErrCodeCaptureFailed, err)
	}
	if err := errFuture.Wait(); err != nil {
		return c.fail(report, "stderr-capture", ErrCodeCaptureFailed, err)
	}

	exitCode := st.ExitCode
	switch {
	case st.Signaled:
		exitCode = ExitCodeKilledBySignal
		report.Signal = st.Signal
	case st.Unknown:
		return c.fail(report, "wait", ErrCodeInternalError, ErrUnexpectedWaitStatus)
	}

	outBytes := stdout.Bytes()
	errBytes := stderr.Bytes()
	c.recordResult(exitCode, outBytes, errBytes)
	report.Recorded = true
	report.ExitCode = exitCode
	report.StdoutBytes = len(outBytes)
	report.StderrBytes = len(errBytes)

	c.log.Debug().
		Str("run_id", report.RunID).
		Int("exit_code", exitCode).
		Str("signal", report.Signal).
		Dur("duration", st.Duration).
		Msg("child collected")

	// The recorded result stands even when the payload was cut short, for
	// example because the child exited without reading its input.
	if err := inFuture.Wait(); err != nil {
		return &CommandError{
			Op:        "stdin-feed",
			CommandID: c.id,
			Path:      c.path,
			Err:       err,
			Code:      ErrCodeStdinFailed,
			Details:   "result recorded, stdin payload not fully delivered",
		}
	}
	return nil
}

// detach hands a no-wait child to the task pool: the payload is delivered,
// the child is reaped, and the outcome is logged. The write task must be
// detached here, before launch releases the feed.
func (c *Command) detach(proc *spawn.Process, feed *pipe.Feed, runID string) {
	write := feed.WriteTask()
	log := c.log.With().Str("run_id", runID).Int("pid", proc.Pid()).Logger()
	c.pool.Submit("detached-run:"+c.id, func() error {
		if err := write(); err != nil {
			log.Warn().Err(err).Msg("detached run: stdin payload not fully delivered")
		}
		logDetachedOutcome(log, proc.Wait())
		return nil
	})
}

func logDetachedOutcome(log zerolog.Logger, st spawn.Status) {
	switch {
	case st.Err != nil:
		log.Error().Err(st.Err).Msg("detached run: wait failed")
	case st.Signaled:
		log.Info().Str("signal", st.Signal).Dur("duration", st.Duration).Msg("detached run: child killed by signal")
	case st.Unknown:
		log.Error().Dur("duration", st.Duration).Msg("detached run: unexpected wait status")
	case st.ExitCode != 0:
		log.Info().Int("exit_code", st.ExitCode).Dur("duration", st.Duration).Msg("detached run: child exited with nonzero code")
	default:
		log.Debug().Dur("duration", st.Duration).Msg("detached run: child exited")
	}
}

// fail marks the run as a system failure. In wait mode the sentinel result
// is recorded first so the command never carries a stale result past a
// failed run.
func (c *Command) fail(report *Report, op string, code ErrorCode, err error) error {
	if c.wait {
		c.recordResult(ExitCodeSystemError, nil, nil)
		report.Recorded = true
		report.ExitCode = ExitCodeSystemError
	}
	return &CommandError{
		Op:        op,
		CommandID: c.id,
		Path:      c.path,
		Err:       err,
		Code:      code,
	}
}
