package config

import (
	"errors"
	"fmt"
)

// ErrMissingRequiredField indicates a required field is missing.
var ErrMissingRequiredField = errors.New("missing required field")

// ValidationError wraps configuration validation errors with context.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %q: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
