package apperr

import (
	"errors"
	"fmt"
)

// Error kinds shared by every repository and the orchestrator. Callers test for them
// with errors.Is; the HTTP layer maps them to status codes.
var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrStorage    = errors.New("storage failure")
)

// ValidationError carries a caller-correctable message.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Validation builds a ValidationError for field.
func Validation(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// Storage wraps a driver error so it matches ErrStorage while keeping the cause.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
