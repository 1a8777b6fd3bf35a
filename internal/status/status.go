package status

import "time"

// State is the lifecycle state of a job status row.
type State string

const (
	StateCreated  State = "CREATED"
	StatePending  State = "PENDING"
	StateWaiting  State = "WAITING"
	StateRunning  State = "RUNNING"
	StateFinished State = "FINISHED"
	StateFailed   State = "FAILED"
	StateCanceled State = "CANCELED"
)

// Target types a job can operate on.
const (
	TargetConsumer    = "CONSUMER"
	TargetOwner       = "OWNER"
	TargetEntitlement = "ENTITLEMENT"
	TargetPool        = "POOL"
)

// IsTerminal reports whether s is a final state.
func (s State) IsTerminal() bool {
	switch s {
	case StateFinished, StateFailed, StateCanceled:
		return true
	}
	return false
}

// allowedTransitions is the forward-only state machine. The two backward
// edges out of PENDING exist solely to roll back a row whose dispatch to the
// execution engine failed, so a later submission or promotion can retry it.
var allowedTransitions = map[State][]State{
	StateCreated: {StatePending, StateWaiting, StateCanceled},
	StateWaiting: {StatePending, StateCanceled},
	StatePending: {StateRunning, StateCreated, StateWaiting, StateFinished, StateFailed, StateCanceled},
	StateRunning: {StateFinished, StateFailed, StateCanceled},
}

// CanTransition reports whether the state machine permits moving from one
// state to another. Terminal states have no outgoing edges.
func CanTransition(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Key identifies a job request for grouping and admission decisions. It is
// derived from JobStatus fields, never persisted on its own.
type Key struct {
	JobClass   string
	TargetType string
	TargetID   string
	OwnerID    string // empty for jobs not scoped to an owner
}

// JobStatus is the durable record of a submitted job. Exactly one row exists
// per submitted request; folded duplicates carry CorrelatesTo pointing at the
// job they queued behind.
type JobStatus struct {
	ID              string     `db:"job_id"`
	JobClass        string     `db:"job_class"`
	TargetType      string     `db:"target_type"`
	TargetID        string     `db:"target_id"`
	OwnerID         string     `db:"owner_id"`
	State           State      `db:"state"`
	Payload         string     `db:"payload"`
	Result          *string    `db:"result"`
	CorrelatesTo    *string    `db:"correlates_to"`
	CancelRequested bool       `db:"cancel_requested"`
	WorkerID        *string    `db:"worker_id"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
	StartedAt       *time.Time `db:"started_at"`
	FinishedAt      *time.Time `db:"finished_at"`
	LastHeartbeatAt *time.Time `db:"last_heartbeat_at"`
}

// Key returns the grouping key derived from the row's identity fields.
func (j *JobStatus) Key() Key {
	return Key{
		JobClass:   j.JobClass,
		TargetType: j.TargetType,
		TargetID:   j.TargetID,
		OwnerID:    j.OwnerID,
	}
}
