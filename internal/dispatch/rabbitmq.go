package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mvoss/jobgate/shared/rabbitmq"
)

// Message is the dispatch instruction published for an admitted job and
// consumed by the worker service.
type Message struct {
	JobID    string `json:"job_id"`
	JobClass string `json:"job_class"`
	Payload  string `json:"payload"`
}

// RabbitMQDispatcher publishes dispatch instructions to the jobs exchange.
// Publishing is fire-and-forget: the scheduler never waits for execution.
type RabbitMQDispatcher struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewRabbitMQDispatcher creates a dispatcher on an established client.
func NewRabbitMQDispatcher(client *rabbitmq.Client, logger *slog.Logger) *RabbitMQDispatcher {
	return &RabbitMQDispatcher{
		client: client,
		logger: logger,
	}
}

func (d *RabbitMQDispatcher) Dispatch(ctx context.Context, jobID, jobClass, payload string) error {
	body, err := json.Marshal(Message{
		JobID:    jobID,
		JobClass: jobClass,
		Payload:  payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch message: %w", err)
	}

	if err := d.client.Publish(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish dispatch message: %w", err)
	}

	d.logger.Debug("Dispatch message published",
		slog.String("job_id", jobID),
		slog.String("job_class", jobClass),
	)

	return nil
}
