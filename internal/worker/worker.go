package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mvoss/jobgate/internal/status"
	"github.com/mvoss/jobgate/shared/rabbitmq"
)

// TerminalReporter receives the completion callback once a job reaches a
// final state. The scheduler's promotion sweep sits behind this interface.
type TerminalReporter interface {
	OnJobTerminal(ctx context.Context, id string, final status.State, result string) error
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Store             status.Store
	RabbitClient      *rabbitmq.Client
	Reporter          TerminalReporter
	Executors         Executors
	Concurrency       int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
	PrefetchCount     int
}

// Worker is the execution engine: it consumes dispatch messages, claims
// jobs, runs their executors and reports terminal states back through the
// completion callback.
type Worker struct {
	logger            *slog.Logger
	store             status.Store
	rabbitClient      *rabbitmq.Client
	reporter          TerminalReporter
	executors         Executors
	concurrency       int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	prefetchCount     int
	workerID          string
	jobsChan          chan *jobMessage
	wg                sync.WaitGroup
	stopChan          chan struct{}
}

// jobMessage is one dispatch instruction pulled off the queue.
type jobMessage struct {
	JobID       string
	JobClass    string
	Payload     string
	DeliveryTag uint64
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}

	return &Worker{
		logger:            cfg.Logger,
		store:             cfg.Store,
		rabbitClient:      cfg.RabbitClient,
		reporter:          cfg.Reporter,
		executors:         cfg.Executors,
		concurrency:       cfg.Concurrency,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: heartbeat,
		prefetchCount:     cfg.PrefetchCount,
		workerID:          fmt.Sprintf("worker-%s", uuid.New().String()[:8]),
		jobsChan:          make(chan *jobMessage),
		stopChan:          make(chan struct{}),
	}
}

// Start begins consuming and processing jobs. It blocks until the context
// is canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)
	go w.startMessageDispatcher(ctx, deliveries)

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")

	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
