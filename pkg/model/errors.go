package model

import (
	"errors"
	"fmt"
)

// ErrScoringUnavailable marks a transient scoring-collaborator failure.
// The orchestrator retries a bounded number of times; after that the
// affected comparisons go back to avail and the job fails recoverably.
var ErrScoringUnavailable = errors.New("scoring collaborator unavailable")

// ErrConflict marks a collision with concurrent state, e.g. cancelling a
// running job or reusing a collection name. Never retried automatically.
var ErrConflict = errors.New("conflict")

// ErrNotFound marks a reference to a collection, job or phage that does
// not exist.
var ErrNotFound = errors.New("not found")

// ValidationError rejects bad input data before a job ever starts.
type ValidationError struct {
	Line    int
	Message string
}

func (e *ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("validation error at line %d: %s", e.Line, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// InconsistencyError reports a violated data-model invariant. Fatal for
// the current job: it aborts without committing.
type InconsistencyError struct {
	Msg string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("internal inconsistency: %s", e.Msg)
}

func Inconsistency(format string, args ...any) error {
	return &InconsistencyError{Msg: fmt.Sprintf(format, args...)}
}
