package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mvoss/jobgate/internal/status"
)

// processJob claims, executes and reports a single job. Returning nil means
// the delivery is acknowledged; the requeue decision for errors is made in
// the pool from the error kind.
func (w *Worker) processJob(ctx context.Context, msg *jobMessage) error {
	w.logger.Info("Processing job",
		slog.String("job_id", msg.JobID),
		slog.String("job_class", msg.JobClass),
		slog.String("worker_id", w.workerID),
	)

	job, err := w.store.Get(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, status.ErrNotFound) {
			w.logger.Warn("Dispatch message for unknown job, dropping",
				slog.String("job_id", msg.JobID),
			)
			return nil
		}
		return NewRetryableError(fmt.Errorf("failed to load job: %w", err))
	}

	// A redelivered message for an already-finished job means an earlier
	// completion report may not have finished its follow-up work. Replay
	// it; duplicates are no-ops on the scheduler side.
	if job.State.IsTerminal() {
		result := ""
		if job.Result != nil {
			result = *job.Result
		}
		if err := w.reporter.OnJobTerminal(ctx, job.ID, job.State, result); err != nil {
			return NewRetryableError(fmt.Errorf("failed to replay terminal report: %w", err))
		}
		return nil
	}

	// The caller asked for cancellation while the job sat in the queue;
	// confirm it instead of starting the work.
	if job.CancelRequested && job.State == status.StatePending {
		w.logger.Info("Cancellation requested before execution, confirming",
			slog.String("job_id", job.ID),
		)
		if err := w.reporter.OnJobTerminal(ctx, job.ID, status.StateCanceled, "canceled before execution"); err != nil {
			return NewRetryableError(fmt.Errorf("failed to confirm cancellation: %w", err))
		}
		return nil
	}

	claimed, err := w.claimJob(ctx, job)
	if err != nil {
		return err
	}

	result, execErr := w.executeJob(ctx, claimed)

	final := status.StateFinished
	if execErr != nil {
		final = status.StateFailed
		result = execErr.Error()
		w.logger.Error("Job execution failed",
			slog.String("job_id", claimed.ID),
			slog.String("job_class", claimed.JobClass),
			slog.String("error", execErr.Error()),
		)
	} else {
		w.logger.Info("Job completed successfully",
			slog.String("job_id", claimed.ID),
			slog.String("job_class", claimed.JobClass),
		)
	}

	// The completion callback also promotes the next waiting job for
	// unique-per-owner classes; failing to deliver it would strand them.
	if err := w.reporter.OnJobTerminal(ctx, claimed.ID, final, result); err != nil {
		return NewRetryableError(fmt.Errorf("failed to report terminal state: %w", err))
	}

	return nil
}

// claimJob swaps the row PENDING -> RUNNING. Losing the swap means another
// worker got the redelivered message first.
func (w *Worker) claimJob(ctx context.Context, job *status.JobStatus) (*status.JobStatus, error) {
	if job.State != status.StatePending {
		w.logger.Warn("Job is not pending, skipping",
			slog.String("job_id", job.ID),
			slog.String("state", string(job.State)),
		)
		return nil, fmt.Errorf("%w: state %s", ErrJobAlreadyClaimed, job.State)
	}

	workerID := w.workerID
	claimed, err := w.store.Transition(ctx, job.ID, status.StatePending, status.StateRunning, &status.Update{
		WorkerID: &workerID,
	})
	if err != nil {
		var stale *status.StaleStateError
		if errors.As(err, &stale) {
			return nil, fmt.Errorf("%w: state %s", ErrJobAlreadyClaimed, stale.Actual)
		}
		return nil, NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	w.logger.Info("Job claimed",
		slog.String("job_id", claimed.ID),
		slog.String("worker_id", w.workerID),
	)

	return claimed, nil
}

// executeJob runs the executor registered for the job's class with a
// per-job timeout and a heartbeat goroutine.
func (w *Worker) executeJob(ctx context.Context, job *status.JobStatus) (string, error) {
	executor, ok := w.executors[job.JobClass]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoExecutor, job.JobClass)
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(jobCtx, job.ID, heartbeatDone)
	defer close(heartbeatDone)

	return executor(jobCtx, job)
}

// sendJobHeartbeat periodically bumps the job's heartbeat timestamp while
// the executor runs.
func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := w.store.Heartbeat(ctx, jobID); err != nil {
				w.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
