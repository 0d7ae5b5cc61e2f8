package validation

import (
	"fmt"

	"github.com/victoralfred/gospawn/command"
	"github.com/victoralfred/gospawn/manifest"
)

// CaptureValidatorConfig configures the capture validator.
type CaptureValidatorConfig struct {
	// MaxStdinBytes limits the size of a definition's stdin payload.
	MaxStdinBytes int
}

// CaptureValidator validates capture capacities and stdin payloads.
type CaptureValidator struct {
	config *CaptureValidatorConfig
}

// NewCaptureValidator creates a new capture validator.
func NewCaptureValidator(config *CaptureValidatorConfig) *CaptureValidator {
	if config == nil {
		config = &CaptureValidatorConfig{
			MaxStdinBytes: 1 << 20,
		}
	}
	return &CaptureValidator{config: config}
}

// Name returns the validator name.
func (v *CaptureValidator) Name() string {
	return "capture_validator"
}

// Priority returns the execution priority.
func (v *CaptureValidator) Priority() int {
	return 30
}

// Validate checks the definition's capture capacities and stdin payload.
func (v *CaptureValidator) Validate(def *manifest.Definition) error {
	if def.StdoutCapacity.Bytes < 0 {
		return fmt.Errorf("%w: stdout", command.ErrInvalidCapacity)
	}
	if def.StderrCapacity.Bytes < 0 {
		return fmt.Errorf("%w: stderr", command.ErrInvalidCapacity)
	}

	if def.NoWait && (def.StdoutCapacity.Bytes > 0 || def.StderrCapacity.Bytes > 0) {
		return fmt.Errorf("%w: %q does not wait", command.ErrCaptureRequiresWait, def.ID)
	}

	if len(def.Stdin) > v.config.MaxStdinBytes {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrStdinTooLarge,
			len(def.Stdin), v.config.MaxStdinBytes)
	}

	return nil
}
