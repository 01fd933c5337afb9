// Package orcherr defines the error kinds shared by the control plane and the
// transport that maps them to status codes.
package orcherr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks missing or malformed input. The operation had no side effect.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an unknown node, workload or certificate id.
	ErrNotFound = errors.New("not found")
	// ErrNoEligibleTarget is returned when scheduling finds zero matching nodes.
	ErrNoEligibleTarget = errors.New("no eligible target")
	// ErrAuth marks a missing, invalid or expired credential.
	ErrAuth = errors.New("authentication failed")
)

// ValidationError describes a single invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error { return ErrValidation }

// Invalid is shorthand for returning a ValidationError.
func Invalid(field, format string, args ...any) error {
	return ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFound wraps ErrNotFound with the kind and id of the missing entity.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}
