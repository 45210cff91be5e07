package domain

import (
	"errors"
	"sort"
	"strings"
)

// Sentinel errors returned by stores and services. Callers match them with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrSessionCompleted  = errors.New("session already completed")
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")
)

// ValidationError reports malformed input with per-field detail.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, problem string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: problem}}
}

// Add records another field problem and returns the receiver.
func (e *ValidationError) Add(field, problem string) *ValidationError {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = problem
	return e
}

// HasErrors reports whether any field problem was recorded.
func (e *ValidationError) HasErrors() bool {
	return e != nil && len(e.Fields) > 0
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
