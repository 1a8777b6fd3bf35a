package handler

import (
	"log/slog"

	"github.com/mvoss/jobgate/internal/scheduler"
	"github.com/mvoss/jobgate/internal/status"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Scheduler *scheduler.Scheduler
	Store     status.Store
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	scheduler *scheduler.Scheduler
	store     status.Store
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		scheduler: deps.Scheduler,
		store:     deps.Store,
	}
}
