package validation

import (
	"fmt"
	"path/filepath"

	"github.com/victoralfred/gospawn/command"
	"github.com/victoralfred/gospawn/manifest"
)

// IdentifierValidator validates command IDs and executable paths. It
// applies the same rules a registry enforces, so a manifest that passes
// never fails Create on these fields.
type IdentifierValidator struct{}

// NewIdentifierValidator creates a new identifier validator.
func NewIdentifierValidator() *IdentifierValidator {
	return &IdentifierValidator{}
}

// Name returns the validator name.
func (v *IdentifierValidator) Name() string {
	return "identifier_validator"
}

// Priority returns the execution priority.
func (v *IdentifierValidator) Priority() int {
	return 10
}

// Validate checks the definition's ID and path.
func (v *IdentifierValidator) Validate(def *manifest.Definition) error {
	if !command.ValidCommandID(def.ID) {
		return fmt.Errorf("%w: %q", command.ErrInvalidCommandID, def.ID)
	}

	if def.Path == "" {
		return fmt.Errorf("%w: executable path is required", command.ErrInvalidPath)
	}
	if !filepath.IsAbs(def.Path) {
		return fmt.Errorf("%w: %q is not absolute", command.ErrInvalidPath, def.Path)
	}

	return nil
}
