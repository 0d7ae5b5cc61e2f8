// Package spawn starts external processes.
// This is the ONLY package in the entire library that imports os/exec.
// All process invocation MUST go through this package.
package spawn

import (
	"os"
	"os/exec"
	"time"
)

// Config describes one process invocation.
type Config struct {
	// Path is the absolute path to the executable. No PATH lookup and no
	// shell are involved.
	Path string

	// Argv is the full argument vector, including the program name at
	// index 0.
	Argv []string

	// Env is the complete environment for the child in "KEY=VALUE" form.
	Env []string

	// Stdin, Stdout and Stderr are the child's standard descriptors. A
	// nil file connects the descriptor to the null device.
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File
}

// Process is a started child process awaiting collection.
type Process struct {
	cmd     *exec.Cmd
	started time.Time
}

// Start launches the process described by cfg. Launch-level failures
// (missing binary, permission denied, resource exhaustion) are reported
// synchronously here; nothing about the child's own behavior is.
func Start(cfg Config) (*Process, error) {
	cmd := &exec.Cmd{
		Path:        cfg.Path,
		Args:        cfg.Argv,
		Env:         cfg.Env,
		Stdin:       cfg.Stdin,
		Stdout:      cfg.Stdout,
		Stderr:      cfg.Stderr,
		SysProcAttr: defaultSysProcAttr(),
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &Process{cmd: cmd, started: time.Now()}, nil
}

// Pid returns the OS process ID of the child.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Status describes how a child terminated.
type Status struct {
	// ExitCode is the code of a normal exit. Meaningful only when Err is
	// nil and neither Signaled nor Unknown is set.
	ExitCode int

	// Signaled reports that the child was terminated by a signal.
	Signaled bool

	// Signal names the terminating signal when Signaled is set.
	Signal string

	// Unknown reports a wait status that is neither a normal exit nor a
	// signal termination.
	Unknown bool

	// Err is set when collecting the child itself failed.
	Err error

	// Duration is the wall clock time from start to termination.
	Duration time.Duration
}

// Wait blocks until the child terminates, reaps it, and classifies the
// outcome. All stdio is wired as plain files, so the only error source
// besides the wait call is the child's own status.
func (p *Process) Wait() Status {
	err := p.cmd.Wait()
	st := Status{Duration: time.Since(p.started)}
	state := p.cmd.ProcessState
	if state == nil {
		st.Err = err
		return st
	}
	classify(state, &st)
	return st
}
