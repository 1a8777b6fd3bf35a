package status

import (
	"context"
	"time"
)

// Update carries the optional fields a Transition may set alongside the
// state change.
type Update struct {
	Result   *string // opaque result payload or error message, terminal states only
	WorkerID *string // claiming worker, set on PENDING -> RUNNING
}

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	OwnerID  string
	JobClass string
	State    State
	PageSize int
	Cursor   *Cursor
}

// Cursor is an opaque pagination position: rows strictly older than
// (CreatedAt, JobID) in the list ordering.
type Cursor struct {
	CreatedAt time.Time
	JobID     string
}

// Store is the durable job status store every admission decision reads and
// writes. Transition is the sole synchronization primitive: all state
// changes are compare-and-swap on the row's current state.
type Store interface {
	// Create inserts a new row. Fails with ErrDuplicateID on id collision.
	Create(ctx context.Context, job *JobStatus) error

	// Get returns the row for id, or ErrNotFound.
	Get(ctx context.Context, id string) (*JobStatus, error)

	// Transition conditionally moves a row from one state to another. It
	// fails with *StaleStateError if the current state differs from the
	// expected one, *InvalidTransitionError if the edge is not in the state
	// machine, and ErrNotFound for unknown ids. Timestamps are maintained by
	// the store: started_at on entering RUNNING, finished_at on entering a
	// terminal state.
	Transition(ctx context.Context, id string, from, to State, upd *Update) (*JobStatus, error)

	// CountActiveByTarget counts rows for (jobClass, targetID) in state
	// PENDING or RUNNING.
	CountActiveByTarget(ctx context.Context, jobClass, targetID string) (int, error)

	// FindActiveByOwnerAndClass returns the most recent row for
	// (ownerID, jobClass) in state CREATED, PENDING, WAITING or RUNNING,
	// or nil when none exists.
	FindActiveByOwnerAndClass(ctx context.Context, ownerID, jobClass string) (*JobStatus, error)

	// FindOldestWaiting returns the WAITING row for (ownerID, jobClass)
	// with the earliest creation time, or nil when none exists.
	FindOldestWaiting(ctx context.Context, ownerID, jobClass string) (*JobStatus, error)

	// List returns rows matching the filter, newest first, up to
	// PageSize+1 rows so callers can detect a further page.
	List(ctx context.Context, filter Filter) ([]JobStatus, error)

	// RequestCancel flags an in-flight row for cancellation by the
	// execution engine. No-op on rows already flagged.
	RequestCancel(ctx context.Context, id string) error

	// Heartbeat bumps last_heartbeat_at for a RUNNING row.
	Heartbeat(ctx context.Context, id string) error

	// Delete removes a terminal row. Fails with ErrNotTerminal for live
	// rows and ErrNotFound for unknown ids.
	Delete(ctx context.Context, id string) error
}
