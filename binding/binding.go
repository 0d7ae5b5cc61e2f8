package binding

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/victoralfred/gospawn/command"
)

// ErrRequiresWaitMode indicates an address aspect that only exists on
// commands that wait for their child.
var ErrRequiresWaitMode = errors.New("binding requires a command that waits for its child")

// Resolver looks up commands by ID. *command.Registry satisfies it.
type Resolver interface {
	Lookup(id string) (*command.Command, bool)
}

func resolve(r Resolver, addr Address) (*command.Command, error) {
	cmd, ok := r.Lookup(addr.CommandID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", command.ErrCommandNotFound, addr.CommandID)
	}
	return cmd, nil
}

// Parameter writes a string-shaped value into one argument position or one
// environment override of a command. The target is resolved once, at
// construction.
type Parameter struct {
	addr Address
	set  func(value string) error
}

// NewParameter builds a parameter binding from an "arg" or "env" address.
func NewParameter(r Resolver, text string) (*Parameter, error) {
	addr, err := ParseAddress(text, KindArgument|KindEnvVar)
	if err != nil {
		return nil, err
	}
	cmd, err := resolve(r, addr)
	if err != nil {
		return nil, err
	}

	var set func(string) error
	switch addr.Kind {
	case KindArgument:
		set = func(value string) error {
			return cmd.SetArgument(addr.Position, value)
		}
	case KindEnvVar:
		set = func(value string) error {
			return cmd.SetEnvVar(addr.EnvName, value)
		}
	}
	return &Parameter{addr: addr, set: set}, nil
}

// Set writes the value.
func (p *Parameter) Set(value string) error {
	return p.set(value)
}

// SetInt writes an integer value in decimal form.
func (p *Parameter) SetInt(value int64) error {
	return p.set(strconv.FormatInt(value, 10))
}

// SetFloat writes a float value in the shortest form that round-trips.
func (p *Parameter) SetFloat(value float64) error {
	return p.set(strconv.FormatFloat(value, 'g', -1, 64))
}

// Address returns the parsed address of the binding.
func (p *Parameter) Address() Address {
	return p.addr
}

// Trigger starts runs of a command from a "run" address. For a wait-mode
// command the run is submitted to the command's task pool; with the "wait"
// address option Start additionally blocks until the run has completed.
// For a no-wait command Start calls the command synchronously, which
// returns as soon as the child has started.
type Trigger struct {
	cmd  *command.Command
	wait bool

	mu   sync.Mutex
	last command.Future
}

// NewTrigger builds a trigger binding from a "run" address.
func NewTrigger(r Resolver, text string) (*Trigger, error) {
	addr, err := ParseAddress(text, KindRun)
	if err != nil {
		return nil, err
	}
	cmd, err := resolve(r, addr)
	if err != nil {
		return nil, err
	}
	if addr.Wait && !cmd.WaitMode() {
		return nil, fmt.Errorf("%w: the wait option", ErrRequiresWaitMode)
	}
	return &Trigger{cmd: cmd, wait: addr.Wait}, nil
}

// Start begins a run.
func (t *Trigger) Start(ctx context.Context) error {
	if !t.cmd.WaitMode() {
		return t.cmd.Run(ctx)
	}

	fut := t.cmd.RunAsync(ctx)
	t.mu.Lock()
	t.last = fut
	t.mu.Unlock()

	if t.wait {
		return fut.Wait()
	}
	return nil
}

// Running reports whether a run started through this trigger is still in
// flight.
func (t *Trigger) Running() bool {
	t.mu.Lock()
	fut := t.last
	t.mu.Unlock()
	if fut == nil {
		return false
	}
	select {
	case <-fut.Done():
		return false
	default:
		return true
	}
}

// Wait blocks until the most recently started run has completed or the
// context is done. It returns nil when no run was started.
func (t *Trigger) Wait(ctx context.Context) error {
	t.mu.Lock()
	fut := t.last
	t.mu.Unlock()
	if fut == nil {
		return nil
	}
	select {
	case <-fut.Done():
		return fut.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Output reads the captured stdout or stderr of a command from a "stdout"
// or "stderr" address. The capture capacity is ensured at construction, so
// a binding built before the first run sees output up to its capacity.
type Output struct {
	cmd  *command.Command
	kind Kind
}

// NewOutput builds an output binding and grows the matching capture
// capacity of the command to at least capacity bytes.
func NewOutput(r Resolver, text string, capacity int) (*Output, error) {
	addr, err := ParseAddress(text, KindStdout|KindStderr)
	if err != nil {
		return nil, err
	}
	cmd, err := resolve(r, addr)
	if err != nil {
		return nil, err
	}

	switch addr.Kind {
	case KindStdout:
		err = cmd.EnsureStdoutCapacity(capacity)
	case KindStderr:
		err = cmd.EnsureStderrCapacity(capacity)
	}
	if err != nil {
		return nil, err
	}
	return &Output{cmd: cmd, kind: addr.Kind}, nil
}

// Bytes returns a copy of the captured output of the most recent completed
// run.
func (o *Output) Bytes() []byte {
	if o.kind == KindStderr {
		return o.cmd.StderrBuffer()
	}
	return o.cmd.StdoutBuffer()
}

// String returns the captured output as a string.
func (o *Output) String() string {
	return string(o.Bytes())
}

// ExitCode reads the recorded exit code of a command from an "exit_code"
// address. It requires a wait-mode command; no-wait commands never record
// one.
type ExitCode struct {
	cmd *command.Command
}

// NewExitCode builds an exit code binding.
func NewExitCode(r Resolver, text string) (*ExitCode, error) {
	addr, err := ParseAddress(text, KindExitCode)
	if err != nil {
		return nil, err
	}
	cmd, err := resolve(r, addr)
	if err != nil {
		return nil, err
	}
	if !cmd.WaitMode() {
		return nil, fmt.Errorf("%w: exit_code", ErrRequiresWaitMode)
	}
	return &ExitCode{cmd: cmd}, nil
}

// Value returns the exit code recorded by the most recent completed run.
// The sentinels command.ExitCodeKilledBySignal and
// command.ExitCodeSystemError mark abnormal outcomes.
func (e *ExitCode) Value() int {
	return e.cmd.ExitCode()
}

// Stdin writes the stdin payload of a command from a "stdin" address. With
// the "null_terminated" address option every payload gets a trailing NUL
// byte appended.
type Stdin struct {
	cmd            *command.Command
	nullTerminated bool
}

// NewStdin builds a stdin binding.
func NewStdin(r Resolver, text string) (*Stdin, error) {
	addr, err := ParseAddress(text, KindStdin)
	if err != nil {
		return nil, err
	}
	cmd, err := resolve(r, addr)
	if err != nil {
		return nil, err
	}
	return &Stdin{cmd: cmd, nullTerminated: addr.NullTerminated}, nil
}

// Set stores the payload on the command.
func (s *Stdin) Set(payload []byte) {
	if s.nullTerminated {
		terminated := make([]byte, len(payload)+1)
		copy(terminated, payload)
		s.cmd.SetStdinPayload(terminated)
		return
	}
	s.cmd.SetStdinPayload(payload)
}

// SetString stores the string as the payload.
func (s *Stdin) SetString(payload string) {
	s.Set([]byte(payload))
}
