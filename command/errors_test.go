package command

import (
	"errors"
	"strings"
	"testing"
)

func TestCommandError_ErrorMessage(t *testing.T) {
	err := &CommandError{
		Op:        "spawn",
		CommandID: "backup",
		Path:      "/bin/tar",
		Err:       errors.New("no such file or directory"),
		Code:      ErrCodeSpawnFailed,
	}

	msg := err.Error()
	if !strings.Contains(msg, "spawn") {
		t.Errorf("Message should contain the operation, got %q", msg)
	}
	if !strings.Contains(msg, "backup") {
		t.Errorf("Message should contain the command ID, got %q", msg)
	}
	if !strings.Contains(msg, "no such file") {
		t.Errorf("Message should contain the cause, got %q", msg)
	}
}

func TestCommandError_DetailsTakePrecedence(t *testing.T) {
	err := &CommandError{
		Op:        "run",
		CommandID: "backup",
		Err:       ErrRateLimited,
		Code:      ErrCodeRateLimited,
		Details:   "rate limit exceeded, retry later",
	}

	msg := err.Error()
	if !strings.Contains(msg, "retry later") {
		t.Errorf("Message should contain the details, got %q", msg)
	}
}

func TestCommandError_Unwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := &CommandError{Op: "wait", CommandID: "x", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the underlying error")
	}
	if errors.Unwrap(err) != cause {
		t.Error("Unwrap should return the underlying error")
	}
}

func TestNewRateLimitError(t *testing.T) {
	err := NewRateLimitError("backup", "/bin/tar")
	if err == nil {
		t.Fatal("NewRateLimitError returned nil")
	}

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatal("Error should be a CommandError")
	}
	if cmdErr.CommandID != "backup" {
		t.Errorf("Expected command ID 'backup', got %q", cmdErr.CommandID)
	}
	if cmdErr.Path != "/bin/tar" {
		t.Errorf("Expected path '/bin/tar', got %q", cmdErr.Path)
	}
	if cmdErr.Code != ErrCodeRateLimited {
		t.Errorf("Expected code %s, got %s", ErrCodeRateLimited, cmdErr.Code)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Error("Error should wrap ErrRateLimited")
	}
}

func TestNewHookRejectedError(t *testing.T) {
	err := NewHookRejectedError("backup", "/bin/tar", "maintenance window")
	if err == nil {
		t.Fatal("NewHookRejectedError returned nil")
	}

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatal("Error should be a CommandError")
	}
	if cmdErr.Code != ErrCodeHookRejected {
		t.Errorf("Expected code %s, got %s", ErrCodeHookRejected, cmdErr.Code)
	}
	if !errors.Is(err, ErrHookRejected) {
		t.Error("Error should wrap ErrHookRejected")
	}
	if !strings.Contains(err.Error(), "maintenance window") {
		t.Errorf("Message should carry the reason, got %q", err.Error())
	}
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{
			name: "command error",
			err:  NewRateLimitError("x", "/bin/x"),
			want: ErrCodeRateLimited,
		},
		{
			name: "wrapped command error",
			err: &CommandError{
				Op:   "spawn",
				Err:  errors.New("boom"),
				Code: ErrCodeSpawnFailed,
			},
			want: ErrCodeSpawnFailed,
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: ErrCodeInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetErrorCode(tt.err); got != tt.want {
				t.Errorf("GetErrorCode() = %s, want %s", got, tt.want)
			}
		})
	}
}
