package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mvoss/jobgate/internal/status"
)

// OnJobTerminal is the completion callback the execution engine invokes when
// a job reaches a final state. It records the outcome and, for
// unique-per-owner classes, promotes the next waiting job for the same key.
// Duplicate callbacks for an already-terminal job are idempotent no-ops;
// completion delivery may happen more than once.
func (s *Scheduler) OnJobTerminal(ctx context.Context, id string, final status.State, result string) error {
	if !final.IsTerminal() {
		return fmt.Errorf("final state %s is not terminal", final)
	}

	job, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if job.State.IsTerminal() {
		// The terminal transition is a no-op now, but a redelivered
		// callback may still owe the key a promotion when the earlier
		// attempt lost its dispatch.
		s.logger.Debug("Duplicate completion callback",
			slog.String("job_id", id),
			slog.String("state", string(job.State)),
		)
		return s.promoteIfIdle(ctx, job)
	}

	upd := &status.Update{Result: &result}
	if _, err := s.store.Transition(ctx, id, job.State, final, upd); err != nil {
		var stale *status.StaleStateError
		if errors.As(err, &stale) && stale.Actual.IsTerminal() {
			return nil
		}
		return err
	}

	s.logger.Info("Job reached terminal state",
		slog.String("job_id", id),
		slog.String("job_class", job.JobClass),
		slog.String("final_state", string(final)),
	)

	policy, err := s.registry.Lookup(job.JobClass)
	if err != nil {
		// A class can disappear from configuration between submission and
		// completion across a restart; the terminal transition stands.
		s.logger.Warn("No policy for finished job class, skipping promotion",
			slog.String("job_id", id),
			slog.String("job_class", job.JobClass),
		)
		return nil
	}

	// Throttle classes have no promotion step: slot availability is
	// discovered lazily on the next submission.
	if policy.Kind != PolicyUniquePerOwner {
		return nil
	}

	unlock := s.keys.lock(admissionKey(policy.Kind, job.Key()))
	defer unlock()

	return s.promoteNext(ctx, job.OwnerID, job.JobClass)
}

// promoteIfIdle promotes the oldest WAITING job for the key when nothing is
// dispatched or running for it. The PENDING/RUNNING guard makes the retry
// safe against double promotion.
func (s *Scheduler) promoteIfIdle(ctx context.Context, job *status.JobStatus) error {
	policy, err := s.registry.Lookup(job.JobClass)
	if err != nil || policy.Kind != PolicyUniquePerOwner {
		return nil
	}

	unlock := s.keys.lock(admissionKey(policy.Kind, job.Key()))
	defer unlock()

	active, err := s.store.FindActiveByOwnerAndClass(ctx, job.OwnerID, job.JobClass)
	if err != nil {
		return err
	}
	if active != nil && (active.State == status.StatePending || active.State == status.StateRunning) {
		return nil
	}

	return s.promoteNext(ctx, job.OwnerID, job.JobClass)
}

// promoteNext moves the oldest WAITING job for (ownerID, jobClass) to
// PENDING and dispatches it. Exactly one job is promoted per completion;
// FIFO by creation time. Losing the WAITING -> PENDING swap to a concurrent
// sweeper means that sweeper owns the promotion, so the next candidate is
// tried once and a second loss is left to the winner.
func (s *Scheduler) promoteNext(ctx context.Context, ownerID, jobClass string) error {
	for attempt := 0; attempt < 2; attempt++ {
		next, err := s.store.FindOldestWaiting(ctx, ownerID, jobClass)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}

		promoted, err := s.store.Transition(ctx, next.ID, status.StateWaiting, status.StatePending, nil)
		if err != nil {
			var stale *status.StaleStateError
			if errors.As(err, &stale) {
				continue
			}
			return err
		}

		if dispatchErr := s.dispatcher.Dispatch(ctx, promoted.ID, promoted.JobClass, promoted.Payload); dispatchErr != nil {
			if _, rbErr := s.store.Transition(ctx, promoted.ID, status.StatePending, status.StateWaiting, nil); rbErr != nil {
				s.logger.Error("Failed to roll back undispatched promotion",
					slog.String("job_id", promoted.ID),
					slog.Any("error", rbErr),
				)
			}
			return &DispatchError{ID: promoted.ID, Err: dispatchErr}
		}

		s.logger.Info("Waiting job promoted",
			slog.String("job_id", promoted.ID),
			slog.String("job_class", jobClass),
			slog.String("owner_id", ownerID),
		)
		return nil
	}

	return nil
}
