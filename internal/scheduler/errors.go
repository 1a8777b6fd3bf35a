package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownJobClass is returned when a submission names a job class
	// with no registered policy.
	ErrUnknownJobClass = errors.New("no policy registered for job class")

	// ErrOwnerRequired is returned when a unique-per-owner job class is
	// submitted without an owner id.
	ErrOwnerRequired = errors.New("owner id is required for this job class")

	// ErrAlreadyTerminal is returned when a caller tries to cancel a job
	// that already reached a final state.
	ErrAlreadyTerminal = errors.New("job is already in a terminal state")
)

// AdmissionRaceError means the conditional state transition kept failing
// after a retry. It should not happen under correct per-key locking and
// indicates a store consistency bug.
type AdmissionRaceError struct {
	ID string
}

func (e *AdmissionRaceError) Error() string {
	return fmt.Sprintf("admission raced repeatedly for job %s", e.ID)
}

// DispatchError means the execution engine rejected the dispatch call. The
// row has been rolled back so a later submission or promotion can retry it.
type DispatchError struct {
	ID  string
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("failed to dispatch job %s: %v", e.ID, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
