package model

import (
	"errors"
	"fmt"
)

// ErrModelNotFound is returned both for genuinely missing records and for
// access denials, so restricted models are indistinguishable from absent ones
var ErrModelNotFound = errors.New("model not found")

// ValidationError represents a bad request that is never retried
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a validation error with a formatted message
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// InvalidStateTransitionError is returned when an operation would move a
// model between statuses the transition table does not allow
type InvalidStateTransitionError struct {
	ModelID string
	From    Status
	To      Status
	Reason  string
}

func (e *InvalidStateTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("model %s: invalid state transition %s -> %s: %s", e.ModelID, e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("model %s: invalid state transition %s -> %s", e.ModelID, e.From, e.To)
}

// MaxPollsExceededError is returned when a bounded poll budget runs out
// before the watched resource reaches a terminal state
type MaxPollsExceededError struct {
	ModelID  string
	Resource string
}

func (e *MaxPollsExceededError) Error() string {
	return fmt.Sprintf("model %s: poll budget exhausted waiting for %s", e.ModelID, e.Resource)
}

// StackFailedToCreateError is returned when the infrastructure backend
// accepts a stack submission but returns no handle
type StackFailedToCreateError struct {
	ModelID string
}

func (e *StackFailedToCreateError) Error() string {
	return fmt.Sprintf("model %s: infrastructure backend returned no stack handle", e.ModelID)
}

// UnexpectedStackStateError is returned when a stack reaches a terminal
// state other than the expected completion state
type UnexpectedStackStateError struct {
	ModelID string
	Handle  string
	State   string
}

func (e *UnexpectedStackStateError) Error() string {
	return fmt.Sprintf("model %s: stack %s entered unexpected state %s", e.ModelID, e.Handle, e.State)
}
