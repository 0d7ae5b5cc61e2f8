package command

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrInvalidPath indicates a missing or non-absolute executable path.
	ErrInvalidPath = errors.New("invalid executable path")

	// ErrInvalidCommandID indicates a command ID outside the allowed
	// character set.
	ErrInvalidCommandID = errors.New("invalid command ID")

	// ErrCommandIDInUse indicates the registry already holds a command
	// with that ID.
	ErrCommandIDInUse = errors.New("command ID is already in use")

	// ErrCommandNotFound indicates a lookup for an unknown command ID.
	ErrCommandNotFound = errors.New("command not found")

	// ErrArgumentPosition indicates an argument position of zero or less.
	// Position zero always holds the executable path.
	ErrArgumentPosition = errors.New("argument position must be greater than zero")

	// ErrInvalidEnvName indicates an unusable environment variable name.
	ErrInvalidEnvName = errors.New("invalid environment variable name")

	// ErrInvalidCapacity indicates a negative capture capacity.
	ErrInvalidCapacity = errors.New("capture capacity must not be negative")

	// ErrCaptureRequiresWait indicates a capture request on a command
	// that does not wait for its child.
	ErrCaptureRequiresWait = errors.New("output capture requires wait mode")

	// ErrRunInProgress indicates a second synchronous run while the
	// previous one has not finished.
	ErrRunInProgress = errors.New("run already in progress")

	// ErrRateLimited indicates the run was denied by the rate limiter.
	ErrRateLimited = errors.New("run rate limit exceeded")

	// ErrHookRejected indicates a run observer vetoed the run before the
	// child was started.
	ErrHookRejected = errors.New("run rejected before start")

	// ErrUnexpectedWaitStatus indicates the child terminated with a wait
	// status that is neither a normal exit nor a signal.
	ErrUnexpectedWaitStatus = errors.New("child reported an unexpected wait status")
)

// ErrorCode provides structured error classification.
type ErrorCode string

const (
	// ErrCodeConfiguration indicates an invalid command configuration.
	ErrCodeConfiguration ErrorCode = "INVALID_CONFIGURATION"

	// ErrCodeContract indicates a violated usage contract.
	ErrCodeContract ErrorCode = "CONTRACT_VIOLATION"

	// ErrCodeCanceled indicates the context was canceled before start.
	ErrCodeCanceled ErrorCode = "CANCELED"

	// ErrCodeRateLimited indicates rate limiting.
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"

	// ErrCodeHookRejected indicates an observer veto.
	ErrCodeHookRejected ErrorCode = "HOOK_REJECTED"

	// ErrCodeSpawnFailed indicates the child could not be started.
	ErrCodeSpawnFailed ErrorCode = "SPAWN_FAILED"

	// ErrCodeWaitFailed indicates collecting the child failed.
	ErrCodeWaitFailed ErrorCode = "WAIT_FAILED"

	// ErrCodeCaptureFailed indicates reading captured output failed.
	ErrCodeCaptureFailed ErrorCode = "CAPTURE_FAILED"

	// ErrCodeStdinFailed indicates the stdin payload was not delivered.
	ErrCodeStdinFailed ErrorCode = "STDIN_FAILED"

	// ErrCodeInternalError indicates an internal error.
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// CommandError provides detailed error information for a failed operation
// on a command.
type CommandError struct {
	// Op is the operation that failed.
	Op string

	// CommandID identifies the command.
	CommandID string

	// Path is the executable path of the command.
	Path string

	// Err is the underlying error.
	Err error

	// Code is the structured error code.
	Code ErrorCode

	// Details provides human-readable details.
	Details string
}

// Error returns the error message.
func (e *CommandError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.CommandID, e.Details)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.CommandID, e.Err)
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target.
func (e *CommandError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// Error constructors for consistent error creation.

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(commandID, path string) error {
	return &CommandError{
		Op:        "run",
		CommandID: commandID,
		Path:      path,
		Err:       ErrRateLimited,
		Code:      ErrCodeRateLimited,
		Details:   "rate limit exceeded, retry later",
	}
}

// NewHookRejectedError creates an observer veto error.
func NewHookRejectedError(commandID, path, reason string) error {
	return &CommandError{
		Op:        "run",
		CommandID: commandID,
		Path:      path,
		Err:       ErrHookRejected,
		Code:      ErrCodeHookRejected,
		Details:   reason,
	}
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code
	}
	return ErrCodeInternalError
}
