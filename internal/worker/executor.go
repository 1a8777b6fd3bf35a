package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mvoss/jobgate/internal/status"
)

// ExecutorFunc runs the business logic of one job class. It returns an
// opaque result payload recorded on the status row, or an error that marks
// the job FAILED.
type ExecutorFunc func(ctx context.Context, job *status.JobStatus) (string, error)

// Executors maps job class identifiers to their implementations. The worker
// fails jobs of unregistered classes instead of guessing.
type Executors map[string]ExecutorFunc

// Register binds an executor to a job class, replacing any previous binding.
func (e Executors) Register(jobClass string, fn ExecutorFunc) {
	e[jobClass] = fn
}

// WebhookExecutor POSTs the job payload to the URL found in the payload's
// "url" field and records the response status. It covers job classes whose
// work lives behind an HTTP endpoint.
func WebhookExecutor(client *http.Client) ExecutorFunc {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return func(ctx context.Context, job *status.JobStatus) (string, error) {
		var payload struct {
			URL  string          `json:"url"`
			Body json.RawMessage `json:"body"`
		}
		if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
			return "", fmt.Errorf("invalid webhook payload: %w", err)
		}
		if payload.URL == "" {
			return "", fmt.Errorf("webhook payload is missing url")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, payload.URL, bytes.NewReader(payload.Body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("webhook call failed: %w", err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 300 {
			return "", fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}

		return fmt.Sprintf("webhook delivered, status %d", resp.StatusCode), nil
	}
}

// SleepExecutor simulates work for the given duration, honoring context
// cancellation. Useful for load and admission testing.
func SleepExecutor(d time.Duration) ExecutorFunc {
	return func(ctx context.Context, job *status.JobStatus) (string, error) {
		select {
		case <-time.After(d):
			return fmt.Sprintf("slept %s", d), nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
