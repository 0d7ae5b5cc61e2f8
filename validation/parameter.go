package validation

import (
	"fmt"

	"github.com/victoralfred/gospawn/command"
	"github.com/victoralfred/gospawn/internal/envutil"
	"github.com/victoralfred/gospawn/manifest"
)

// maxArgumentPosition caps argument positions at four digits. Every
// position below the highest one gets an argument vector slot, so an
// absurdly large position would pin memory for thousands of empty
// arguments.
const maxArgumentPosition = 9999

// ParameterValidator validates argument positions and environment
// variable names.
type ParameterValidator struct{}

// NewParameterValidator creates a new parameter validator.
func NewParameterValidator() *ParameterValidator {
	return &ParameterValidator{}
}

// Name returns the validator name.
func (v *ParameterValidator) Name() string {
	return "parameter_validator"
}

// Priority returns the execution priority.
func (v *ParameterValidator) Priority() int {
	return 20
}

// Validate checks the definition's arguments and environment overrides.
func (v *ParameterValidator) Validate(def *manifest.Definition) error {
	seen := make(map[int]bool, len(def.Args))
	for _, arg := range def.Args {
		if arg.Position < 1 {
			return fmt.Errorf("%w: %d", command.ErrArgumentPosition, arg.Position)
		}
		if arg.Position > maxArgumentPosition {
			return fmt.Errorf("%w: %d exceeds %d", command.ErrArgumentPosition,
				arg.Position, maxArgumentPosition)
		}
		if seen[arg.Position] {
			return fmt.Errorf("%w: %d defined twice", command.ErrArgumentPosition, arg.Position)
		}
		seen[arg.Position] = true
	}

	for name := range def.Env {
		if !envutil.ValidName(name) {
			return fmt.Errorf("%w: %q", command.ErrInvalidEnvName, name)
		}
	}

	return nil
}
