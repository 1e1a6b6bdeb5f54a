package service

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// FieldError is a single rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every failed field of a request, never only the first.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Add records a failed field.
func (e *ValidationError) Add(field, format string, args ...interface{}) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Err returns nil when nothing failed, so callers can write `if err := v.Err(); err != nil`.
func (e *ValidationError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// InvalidStateError means the operation is not legal in the entity's current state.
type InvalidStateError struct {
	Entity string
	State  string
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s: %s is %s", e.Op, e.Entity, e.State)
}

// PreconditionError means an external dependency of the operation is not satisfied.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "precondition failed: " + e.Reason
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ForbiddenError means the actor may not perform the operation.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return "forbidden: " + e.Reason
}

// notFoundOr maps gorm's missing-row error to NotFoundError and wraps anything else.
func notFoundOr(err error, entity, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &NotFoundError{Entity: entity, ID: id}
	}
	return fmt.Errorf("failed to load %s: %w", entity, err)
}
