package status

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no row exists for the requested job id.
	ErrNotFound = errors.New("job not found")

	// ErrDuplicateID is returned when Create collides on an existing job id.
	ErrDuplicateID = errors.New("job id already exists")

	// ErrNotTerminal is returned when Delete is called on a row that is
	// still in a live state.
	ErrNotTerminal = errors.New("job is not in a terminal state")
)

// StaleStateError is returned by Transition when the row's current state no
// longer matches the expected state, meaning another writer moved it first.
type StaleStateError struct {
	ID       string
	Expected State
	Actual   State
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("stale state for job %s: expected %s, found %s", e.ID, e.Expected, e.Actual)
}

// InvalidTransitionError is returned when the requested edge is not part of
// the state machine at all, regardless of what the row currently holds.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition %s -> %s", e.From, e.To)
}
