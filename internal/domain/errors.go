package domain

import (
	"errors"
	"fmt"
)

// NotFoundError reports a missing route, stop, pickup or other entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// InvalidTransitionError reports an attempt to mutate a stop whose status
// is terminal, outside the documented no-op paths.
type InvalidTransitionError struct {
	StopID string
	From   StopStatus
	To     StopStatus
}

func (e *InvalidTransitionError) Error() string {
	if e.To == "" {
		return fmt.Sprintf("stop %q: status %q is terminal", e.StopID, e.From)
	}
	return fmt.Sprintf("stop %q: invalid transition %q -> %q", e.StopID, e.From, e.To)
}

// PersistenceError wraps a failure from the external persistence API.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsInvalidTransition reports whether err is (or wraps) an
// InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var it *InvalidTransitionError
	return errors.As(err, &it)
}
