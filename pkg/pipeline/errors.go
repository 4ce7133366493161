package pipeline

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Mutate after Close.
var ErrClosed = errors.New("pipeline: record closed")

// ValidationError rejects an action before any state changes.
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

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// PersistenceError reports a write that the store rejected after the state
// was already applied locally.
type PersistenceError struct {
	Action string
	Key    string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to save %s (%s): %v", e.Key, e.Action, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
