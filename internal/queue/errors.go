package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition marks a file state change not present in the edge
	// table. The stored state is never coerced.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNotFound marks a missing file or job.
	ErrNotFound = errors.New("not found")

	// ErrInvalidOperation marks an operation applied to a row in the wrong
	// state, such as retrying a job that has not failed.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrClaimConflict marks a lost optimistic claim race. Callers recover by
	// moving on to the next candidate; it never surfaces as a failure.
	ErrClaimConflict = errors.New("claim conflict")

	// ErrDuplicateJob marks an enqueue attempt while an active job for the
	// same file and kind already exists.
	ErrDuplicateJob = errors.New("active job already exists")
)

// TransitionError describes a rejected file state transition.
type TransitionError struct {
	From FileState
	To   FileState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
