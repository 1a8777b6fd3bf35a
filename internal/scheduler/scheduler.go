package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mvoss/jobgate/internal/status"
)

// Dispatcher hands an admitted job to the external execution engine. The
// call is fire-and-forget: it must not block on job completion.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID, jobClass, payload string) error
}

// Scheduler decides, for each submission, whether to dispatch the job now,
// park it as a waiting duplicate, or leave it for the caller to retry. All
// state lives in the status store; the scheduler itself is stateless apart
// from per-key serialization.
type Scheduler struct {
	store      status.Store
	dispatcher Dispatcher
	registry   *Registry
	logger     *slog.Logger
	keys       *keyLock
}

// New creates a Scheduler.
func New(store status.Store, dispatcher Dispatcher, registry *Registry, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		registry:   registry,
		logger:     logger,
		keys:       newKeyLock(),
	}
}

// Submit records a new job request and applies the admission policy bound to
// its class. The returned JobStatus reflects the outcome: PENDING when the
// job was dispatched, WAITING when it was folded behind an active peer, and
// CREATED when a throttle rejected it (the caller may resubmit later; a
// throttle rejection is not an error).
func (s *Scheduler) Submit(ctx context.Context, key status.Key, payload string) (*status.JobStatus, error) {
	policy, err := s.registry.Lookup(key.JobClass)
	if err != nil {
		return nil, err
	}

	if key.TargetID == "" {
		return nil, fmt.Errorf("target id is required")
	}
	if policy.Kind == PolicyUniquePerOwner && key.OwnerID == "" {
		return nil, ErrOwnerRequired
	}

	unlock := s.keys.lock(admissionKey(policy.Kind, key))
	defer unlock()

	switch policy.Kind {
	case PolicyThrottle:
		return s.submitThrottled(ctx, key, payload, policy.ThrottleLimit)
	default:
		return s.submitUnique(ctx, key, payload)
	}
}

// submitThrottled admits the job iff fewer than limit peers for the same
// (job class, target id) are active. A rejected job keeps its CREATED row
// and produces no trigger; there is no promotion for throttle classes, the
// check is simply re-evaluated on the next submission attempt.
func (s *Scheduler) submitThrottled(ctx context.Context, key status.Key, payload string, limit int) (*status.JobStatus, error) {
	job := newJob(key, payload, status.StateCreated)
	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}

	running, err := s.store.CountActiveByTarget(ctx, key.JobClass, key.TargetID)
	if err != nil {
		return nil, err
	}

	if running >= limit {
		s.logger.Info("Job throttled, leaving in CREATED",
			slog.String("job_id", job.ID),
			slog.String("job_class", key.JobClass),
			slog.String("target_id", key.TargetID),
			slog.Int("running", running),
			slog.Int("limit", limit),
		)
		return job, nil
	}

	return s.dispatchPending(ctx, job, status.StateCreated)
}

// submitUnique applies the uniqueness policy: at most one active job per
// (owner id, job class). Every submission gets its own row; duplicates of an
// active peer become WAITING placeholders, with a back-reference to the peer
// when the peer has not started running yet.
func (s *Scheduler) submitUnique(ctx context.Context, key status.Key, payload string) (*status.JobStatus, error) {
	existing, err := s.store.FindActiveByOwnerAndClass(ctx, key.OwnerID, key.JobClass)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		job := newJob(key, payload, status.StateCreated)
		if err := s.store.Create(ctx, job); err != nil {
			return nil, err
		}
		return s.dispatchPending(ctx, job, status.StateCreated)
	}

	// Under per-key serialization a CREATED peer can only be a
	// failed-dispatch leftover. Retry its dispatch instead of queueing
	// behind a row nothing would ever promote.
	if existing.State == status.StateCreated {
		revived, err := s.dispatchPending(ctx, existing, status.StateCreated)
		if err != nil {
			return nil, err
		}
		existing = revived
	}

	job := newJob(key, payload, status.StateWaiting)
	if existing.State != status.StateRunning {
		job.CorrelatesTo = &existing.ID
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("Duplicate submission parked as WAITING",
		slog.String("job_id", job.ID),
		slog.String("job_class", key.JobClass),
		slog.String("owner_id", key.OwnerID),
		slog.String("active_job_id", existing.ID),
		slog.String("active_state", string(existing.State)),
	)

	return job, nil
}

// dispatchPending moves a row into PENDING and hands it to the execution
// engine. A failed dispatch rolls the row back to its previous state so a
// later submission or promotion can retry it; the row is never left stuck
// in PENDING with no corresponding work in flight.
func (s *Scheduler) dispatchPending(ctx context.Context, job *status.JobStatus, from status.State) (*status.JobStatus, error) {
	updated, err := s.store.Transition(ctx, job.ID, from, status.StatePending, nil)

	var stale *status.StaleStateError
	if errors.As(err, &stale) {
		// Another writer moved the row first. Re-read once and decide
		// against the new state; a second race is a consistency bug.
		fresh, getErr := s.store.Get(ctx, job.ID)
		if getErr != nil {
			return nil, getErr
		}
		if fresh.State != status.StateCreated && fresh.State != status.StateWaiting {
			return fresh, nil
		}
		updated, err = s.store.Transition(ctx, fresh.ID, fresh.State, status.StatePending, nil)
		if err != nil {
			if errors.As(err, &stale) {
				return nil, &AdmissionRaceError{ID: job.ID}
			}
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	if dispatchErr := s.dispatcher.Dispatch(ctx, updated.ID, updated.JobClass, updated.Payload); dispatchErr != nil {
		if _, rbErr := s.store.Transition(ctx, updated.ID, status.StatePending, from, nil); rbErr != nil {
			s.logger.Error("Failed to roll back undispatched job",
				slog.String("job_id", updated.ID),
				slog.Any("error", rbErr),
			)
		}
		return nil, &DispatchError{ID: updated.ID, Err: dispatchErr}
	}

	s.logger.Info("Job dispatched",
		slog.String("job_id", updated.ID),
		slog.String("job_class", updated.JobClass),
	)

	return updated, nil
}

// Get returns the status row for a job id.
func (s *Scheduler) Get(ctx context.Context, id string) (*status.JobStatus, error) {
	return s.store.Get(ctx, id)
}

// Cancel cancels a job. CREATED and WAITING rows are canceled directly with
// no side effects beyond the status row. PENDING and RUNNING rows are only
// flagged: the execution engine owns in-flight work and confirms the
// cancellation through its terminal callback.
func (s *Scheduler) Cancel(ctx context.Context, id string) (*status.JobStatus, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if job.State.IsTerminal() {
		return job, ErrAlreadyTerminal
	}

	if job.State == status.StateCreated || job.State == status.StateWaiting {
		canceled, err := s.store.Transition(ctx, id, job.State, status.StateCanceled, nil)

		var stale *status.StaleStateError
		if errors.As(err, &stale) {
			// The row moved while we were looking at it; fall through to
			// the in-flight path against its current state.
			job, err = s.store.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			if job.State.IsTerminal() {
				return job, ErrAlreadyTerminal
			}
		} else if err != nil {
			return nil, err
		} else {
			s.logger.Info("Job canceled",
				slog.String("job_id", id),
				slog.String("previous_state", string(job.State)),
			)
			return canceled, nil
		}
	}

	if err := s.store.RequestCancel(ctx, id); err != nil {
		return nil, err
	}

	s.logger.Info("Cancellation requested for in-flight job",
		slog.String("job_id", id),
		slog.String("state", string(job.State)),
	)

	return s.store.Get(ctx, id)
}

func newJob(key status.Key, payload string, state status.State) *status.JobStatus {
	now := time.Now()
	return &status.JobStatus{
		ID:         uuid.New().String(),
		JobClass:   key.JobClass,
		TargetType: key.TargetType,
		TargetID:   key.TargetID,
		OwnerID:    key.OwnerID,
		State:      state,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// admissionKey is the serialization key for a submission: throttle classes
// serialize per (class, target), unique classes per (class, owner).
func admissionKey(kind PolicyKind, key status.Key) string {
	if kind == PolicyThrottle {
		return "t:" + key.JobClass + ":" + key.TargetID
	}
	return "u:" + key.JobClass + ":" + key.OwnerID
}
