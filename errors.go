package taskgroup

import (
	"errors"
	"fmt"
)

// Structural errors are programmer errors: they are raised synchronously
// from the offending call and the graph is left unmodified. They are never
// retried and never swallowed.
var (
	ErrCycleDetected = errors.New("taskgroup: cycle detected, composition would make the graph non-acyclic")
	ErrDuplicateKey  = errors.New("taskgroup: duplicate entry key")
	ErrUnknownKey    = errors.New("taskgroup: unknown entry key")
	ErrInvalidState  = errors.New("taskgroup: entry is not in the expected state for this operation")
)

// WorkItemFailure wraps the error returned by a TaskItem's InvokeAsync
// stream. It is surfaced through InvocationDriver's output stream, never
// raised synchronously, and its handling downstream follows the owning
// TaskGroup's TerminationStrategy.
type WorkItemFailure[K comparable] struct {
	Key   K
	Cause error
}

func (e *WorkItemFailure[K]) Error() string {
	return fmt.Sprintf("taskgroup: task %v failed: %v", e.Key, e.Cause)
}

func (e *WorkItemFailure[K]) Unwrap() error {
	return e.Cause
}
