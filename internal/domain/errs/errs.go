// Package errs is the engine error taxonomy.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrLocked    = errors.New("trading locked")
	ErrDuplicate = errors.New("already applied")
	ErrNotFound  = errors.New("not found")
)

// ValidationError rejects an input before execution. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError.
func Validation(field, format string, a ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, a...)}
}

// TransientError is a collaborator timeout or outage. The caller falls back and retries next tick.
type TransientError struct {
	Collaborator string
	Err          error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Collaborator, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError of collaborator.
func Transient(collaborator string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Collaborator: collaborator, Err: err}
}

// ConsistencyError is a persistence write that did not durably succeed.
// The transition it guarded must be treated as not committed.
type ConsistencyError struct {
	Op  string
	Err error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency: %s: %v", e.Op, e.Err)
}

func (e *ConsistencyError) Unwrap() error { return e.Err }

// Consistency wraps err as a ConsistencyError of op.
func Consistency(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ConsistencyError{Op: op, Err: err}
}

// CriticalRiskEvent forces lockout and an emergency flatten.
type CriticalRiskEvent struct {
	Reason string
	Detail string
}

func (e *CriticalRiskEvent) Error() string {
	if e.Detail == "" {
		return "critical risk event: " + e.Reason
	}
	return fmt.Sprintf("critical risk event: %s (%s)", e.Reason, e.Detail)
}

// IsValidation reports a ValidationError in the chain.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsTransient reports a TransientError in the chain.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsConsistency reports a ConsistencyError in the chain.
func IsConsistency(err error) bool {
	var c *ConsistencyError
	return errors.As(err, &c)
}
