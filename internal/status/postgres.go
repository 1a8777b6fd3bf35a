package status

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const jobColumns = `
	job_id, job_class, target_type, target_id, owner_id, state,
	payload, result, correlates_to, cancel_requested, worker_id,
	created_at, updated_at, started_at, finished_at, last_heartbeat_at
`

// PostgresStore is the durable Store implementation backed by PostgreSQL.
// Conditional UPDATEs on the state column provide the compare-and-swap
// semantics Transition requires.
type PostgresStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore on an established connection pool.
func NewPostgresStore(db *sqlx.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

func (s *PostgresStore) Create(ctx context.Context, job *JobStatus) error {
	query := `
		INSERT INTO jobs (
			job_id, job_class, target_type, target_id, owner_id, state,
			payload, correlates_to, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.JobClass,
		job.TargetType,
		job.TargetID,
		job.OwnerID,
		job.State,
		job.Payload,
		job.CorrelatesTo,
		job.CreatedAt,
		job.UpdatedAt,
	)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateID
		}
		return fmt.Errorf("failed to create job status: %w", err)
	}

	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*JobStatus, error) {
	var job JobStatus
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`

	err := s.db.GetContext(ctx, &job, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job status: %w", err)
	}

	return &job, nil
}

func (s *PostgresStore) Transition(ctx context.Context, id string, from, to State, upd *Update) (*JobStatus, error) {
	if !CanTransition(from, to) {
		return nil, &InvalidTransitionError{From: from, To: to}
	}

	if upd == nil {
		upd = &Update{}
	}

	query := `
		UPDATE jobs
		SET state = $1,
			result = COALESCE($2, result),
			worker_id = COALESCE($3, worker_id),
			started_at = CASE WHEN $1 = 'RUNNING' THEN NOW() ELSE started_at END,
			finished_at = CASE WHEN $1 IN ('FINISHED', 'FAILED', 'CANCELED') THEN NOW() ELSE finished_at END,
			last_heartbeat_at = CASE WHEN $1 = 'RUNNING' THEN NOW() ELSE last_heartbeat_at END,
			updated_at = NOW()
		WHERE job_id = $4
		  AND state = $5
		RETURNING ` + jobColumns

	var job JobStatus
	err := s.db.GetContext(ctx, &job, query, to, upd.Result, upd.WorkerID, id, from)
	if err == nil {
		return &job, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to transition job status: %w", err)
	}

	// No row matched: either the id is unknown or another writer already
	// moved the row. Distinguish the two for the caller.
	current, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}

	return nil, &StaleStateError{ID: id, Expected: from, Actual: current.State}
}

func (s *PostgresStore) CountActiveByTarget(ctx context.Context, jobClass, targetID string) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM jobs
		WHERE job_class = $1 AND target_id = $2
		  AND state IN ('PENDING', 'RUNNING')
	`

	if err := s.db.GetContext(ctx, &count, query, jobClass, targetID); err != nil {
		return 0, fmt.Errorf("failed to count active jobs by target: %w", err)
	}

	return count, nil
}

func (s *PostgresStore) FindActiveByOwnerAndClass(ctx context.Context, ownerID, jobClass string) (*JobStatus, error) {
	var job JobStatus
	query := `
		SELECT ` + jobColumns + ` FROM jobs
		WHERE owner_id = $1 AND job_class = $2
		  AND state IN ('CREATED', 'PENDING', 'WAITING', 'RUNNING')
		ORDER BY created_at DESC, job_id DESC
		LIMIT 1
	`

	err := s.db.GetContext(ctx, &job, query, ownerID, jobClass)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find active job: %w", err)
	}

	return &job, nil
}

func (s *PostgresStore) FindOldestWaiting(ctx context.Context, ownerID, jobClass string) (*JobStatus, error) {
	var job JobStatus
	query := `
		SELECT ` + jobColumns + ` FROM jobs
		WHERE owner_id = $1 AND job_class = $2
		  AND state = 'WAITING'
		ORDER BY created_at ASC, job_id ASC
		LIMIT 1
	`

	err := s.db.GetContext(ctx, &job, query, ownerID, jobClass)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find oldest waiting job: %w", err)
	}

	return &job, nil
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]JobStatus, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.OwnerID != "" {
		query += fmt.Sprintf(" AND owner_id = $%d", argIdx)
		args = append(args, filter.OwnerID)
		argIdx++
	}

	if filter.JobClass != "" {
		query += fmt.Sprintf(" AND job_class = $%d", argIdx)
		args = append(args, filter.JobClass)
		argIdx++
	}

	if filter.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, filter.State)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order by created_at DESC, job_id DESC for consistent pagination.
	query += " ORDER BY created_at DESC, job_id DESC"

	// Fetch one extra to determine if there are more results.
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []JobStatus
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

func (s *PostgresStore) RequestCancel(ctx context.Context, id string) error {
	query := `
		UPDATE jobs
		SET cancel_requested = TRUE,
		    updated_at = NOW()
		WHERE job_id = $1
	`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to request cancellation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStore) Heartbeat(ctx context.Context, id string) error {
	query := `
		UPDATE jobs
		SET last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $1 AND state = 'RUNNING'
	`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to update job heartbeat: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		s.logger.Warn("Heartbeat update - no rows affected (job may not be running)",
			slog.String("job_id", id),
		)
	}

	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	query := `
		DELETE FROM jobs
		WHERE job_id = $1
		  AND state IN ('FINISHED', 'FAILED', 'CANCELED')
	`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrNotTerminal
	}

	return nil
}
