package worker

import "errors"

var (
	// ErrJobAlreadyClaimed is returned when the PENDING -> RUNNING swap is
	// lost to another worker. The redelivery is dropped, not requeued.
	ErrJobAlreadyClaimed = errors.New("job already claimed or no longer pending")

	// ErrNoExecutor is returned when no executor is registered for the
	// job's class. The job is failed, not requeued.
	ErrNoExecutor = errors.New("no executor registered for job class")
)

// RetryableError wraps transient errors that should trigger a requeue.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
