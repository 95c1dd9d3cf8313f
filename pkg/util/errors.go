// Package util holds the logger, error types and small helpers shared by
// the daemon and the CLI.
package util

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for errors.Is. The API layer maps each to an HTTP status.
var (
	ErrNotConnected         = errors.New("backend not connected")
	ErrNotFound             = errors.New("resource not found")
	ErrValidationFailed     = errors.New("validation failed")
	ErrConflict             = errors.New("conflicting request")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
)

// ValidationError carries every problem found in one request.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a validation error from messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// NewValidationErrorf creates a single-message validation error
func NewValidationErrorf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Errors: []string{fmt.Sprintf(format, args...)}}
}

// ValidationBuilder collects messages so a caller can report all of them
// at once instead of stopping at the first.
type ValidationBuilder struct {
	errors []string
}

// Add records message when ok is false.
func (v *ValidationBuilder) Add(ok bool, message string) *ValidationBuilder {
	if !ok {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddErrorf records a formatted message.
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// Merge folds err into the builder. Each message of a *ValidationError is
// kept separately; any other error contributes its text; nil is ignored.
func (v *ValidationBuilder) Merge(err error) *ValidationBuilder {
	if err == nil {
		return v
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		v.errors = append(v.errors, ve.Errors...)
		return v
	}
	v.errors = append(v.errors, err.Error())
	return v
}

func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns nil when nothing was recorded.
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}

// NotFoundError names the kind and identifier of a missing resource.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s '%s' not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// ConflictError rejects a request that is well formed but collides with
// current state: a claimed UNI pair, an archived circuit.
type ConflictError struct {
	Resource string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Resource, e.Reason)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

func NewConflictError(resource, reason string) *ConflictError {
	return &ConflictError{Resource: resource, Reason: reason}
}
