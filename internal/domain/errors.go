package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// ErrValidation marks malformed or out-of-range input. Nothing was written.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a referenced entity that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a unique-constraint collision. Engine code treats it
	// as "someone else already did this".
	ErrConflict = errors.New("conflict")

	ErrProfileNotFound      = fmt.Errorf("profile %w", ErrNotFound)
	ErrAwardNotFound        = fmt.Errorf("active award %w", ErrNotFound)
	ErrTemplateNotFound     = fmt.Errorf("challenge template %w", ErrNotFound)
	ErrNotificationNotFound = fmt.Errorf("notification %w", ErrNotFound)
	ErrFocusSessionNotFound = fmt.Errorf("focus session %w", ErrNotFound)
)

// ValidationError describes which input field was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

// Invalid builds a *ValidationError.
func Invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
