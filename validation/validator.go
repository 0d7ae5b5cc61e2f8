// Package validation checks manifest command definitions before they are
// applied to a registry.
package validation

import (
	"errors"
	"fmt"
	"sync"

	"github.com/victoralfred/gospawn/manifest"
)

var (
	// ErrVersionRequired indicates a manifest without a version field.
	ErrVersionRequired = errors.New("manifest version is required")

	// ErrDuplicateCommandID indicates two definitions sharing one ID.
	ErrDuplicateCommandID = errors.New("duplicate command id")

	// ErrStdinTooLarge indicates a stdin payload above the configured limit.
	ErrStdinTooLarge = errors.New("stdin payload too large")
)

// Validator validates a single command definition.
type Validator interface {
	// Name returns the validator name.
	Name() string

	// Validate validates a command definition.
	Validate(def *manifest.Definition) error

	// Priority determines execution order (lower = earlier).
	Priority() int
}

// Registry manages custom validators.
type Registry struct {
	validators []Validator
	mu         sync.RWMutex
}

// NewRegistry creates a new validator registry.
func NewRegistry() *Registry {
	return &Registry{
		validators: make([]Validator, 0),
	}
}

// Register adds a validator to the registry.
func (r *Registry) Register(v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.validators = append(r.validators, v)

	// Sort by priority
	for i := len(r.validators) - 1; i > 0; i-- {
		if r.validators[i].Priority() < r.validators[i-1].Priority() {
			r.validators[i], r.validators[i-1] = r.validators[i-1], r.validators[i]
		}
	}
}

// Unregister removes a validator by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, v := range r.validators {
		if v.Name() == name {
			r.validators = append(r.validators[:i], r.validators[i+1:]...)
			return
		}
	}
}

// ValidateAll runs all validators against a definition.
func (r *Registry) ValidateAll(def *manifest.Definition) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for _, v := range r.validators {
		if err := v.Validate(def); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", v.Name(), err))
		}
	}

	if len(errs) > 0 {
		return &Errors{Errors: errs}
	}
	return nil
}

// Errors contains multiple validation errors.
type Errors struct {
	Errors []error
}

// Error returns the error message.
func (e *Errors) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d validation errors occurred", len(e.Errors))
}

// Unwrap returns all contained errors so that errors.Is and errors.As
// reach every one of them, not only the first.
func (e *Errors) Unwrap() []error {
	return e.Errors
}

// DefaultRegistry creates a registry with default validators.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewIdentifierValidator())
	r.Register(NewParameterValidator())
	r.Register(NewCaptureValidator(nil))
	return r
}

// ManifestValidator validates whole manifests for a Loader. It checks
// manifest-level fields, rejects duplicate command IDs and runs a
// validator registry over every definition.
type ManifestValidator struct {
	registry *Registry
}

// NewManifestValidator creates a manifest validator backed by the given
// registry. A nil registry selects DefaultRegistry.
func NewManifestValidator(r *Registry) *ManifestValidator {
	if r == nil {
		r = DefaultRegistry()
	}
	return &ManifestValidator{registry: r}
}

// Validate checks the manifest and every definition in it. All failures
// are collected before returning.
func (v *ManifestValidator) Validate(m *manifest.Manifest) error {
	var errs []error

	if m.Version == "" {
		errs = append(errs, ErrVersionRequired)
	}

	seen := make(map[string]int, len(m.Commands))
	for i := range m.Commands {
		def := &m.Commands[i]

		if first, dup := seen[def.ID]; dup {
			errs = append(errs, fmt.Errorf("command %d (%s): %w: first defined at index %d",
				i, def.ID, ErrDuplicateCommandID, first))
		} else {
			seen[def.ID] = i
		}

		if err := v.registry.ValidateAll(def); err != nil {
			errs = append(errs, fmt.Errorf("command %d (%s): %w", i, def.ID, err))
		}
	}

	if len(errs) > 0 {
		return &Errors{Errors: errs}
	}
	return nil
}
