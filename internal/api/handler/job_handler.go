package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mvoss/jobgate/internal/api/dto"
	"github.com/mvoss/jobgate/internal/scheduler"
	"github.com/mvoss/jobgate/internal/status"
)

const defaultPageSize = 20

// SubmitJob handles POST /api/v1/jobs.
// Admitted jobs respond 202 with state PENDING; throttled (CREATED) and
// folded (WAITING) submissions respond 200 — non-admission is a normal
// outcome, not an error.
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	key := status.Key{
		JobClass:   req.JobClass,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		OwnerID:    req.OwnerID,
	}

	job, err := h.scheduler.Submit(c.Request.Context(), key, req.Payload)
	if err != nil {
		h.logger.Error("Failed to submit job",
			slog.String("job_class", req.JobClass),
			slog.String("error", err.Error()),
		)

		var dispatchErr *scheduler.DispatchError
		switch {
		case errors.Is(err, scheduler.ErrUnknownJobClass), errors.Is(err, scheduler.ErrOwnerRequired):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.As(err, &dispatchErr):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to dispatch job, please retry"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit job"})
		}
		return
	}

	code := http.StatusOK
	if job.State == status.StatePending {
		code = http.StatusAccepted
	}

	c.JSON(code, dto.FromStatus(job))
}

// GetJob handles GET /api/v1/jobs/:job_id.
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.scheduler.Get(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, status.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get job"})
		return
	}

	c.JSON(http.StatusOK, dto.FromStatus(job))
}

// ListJobs handles GET /api/v1/jobs with filtering and cursor pagination.
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}

	if req.PageSize <= 0 || req.PageSize > 100 {
		req.PageSize = defaultPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cursor"})
		return
	}

	jobs, err := h.store.List(c.Request.Context(), status.Filter{
		OwnerID:  req.OwnerID,
		JobClass: req.JobClass,
		State:    status.State(req.State),
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs"})
		return
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, 0, len(jobs))}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	for i := range jobs {
		resp.Jobs = append(resp.Jobs, dto.FromStatus(&jobs[i]))
	}

	if hasMore {
		last := jobs[len(jobs)-1]
		next, err := EncodeJobCursor(&status.Cursor{CreatedAt: last.CreatedAt, JobID: last.ID})
		if err != nil {
			h.logger.Error("Failed to encode cursor", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs"})
			return
		}
		resp.NextCursor = next
	}

	c.JSON(http.StatusOK, resp)
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel. CREATED and WAITING
// jobs are canceled immediately; in-flight jobs are flagged and the worker
// confirms the cancellation.
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.scheduler.Cancel(c.Request.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		case errors.Is(err, scheduler.ErrAlreadyTerminal):
			c.JSON(http.StatusConflict, gin.H{"error": "Job is already in a terminal state"})
		default:
			h.logger.Error("Failed to cancel job", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel job"})
		}
		return
	}

	code := http.StatusOK
	if !job.State.IsTerminal() {
		// Cancellation was only requested; the execution engine confirms.
		code = http.StatusAccepted
	}

	c.JSON(code, dto.FromStatus(job))
}

// DeleteJob handles DELETE /api/v1/jobs/:job_id. Only terminal rows may be
// removed.
func (h *JobHandler) DeleteJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	if err := h.store.Delete(c.Request.Context(), jobID); err != nil {
		switch {
		case errors.Is(err, status.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		case errors.Is(err, status.ErrNotTerminal):
			c.JSON(http.StatusConflict, gin.H{"error": "Job is not in a terminal state"})
		default:
			h.logger.Error("Failed to delete job", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete job"})
		}
		return
	}

	c.Status(http.StatusNoContent)
}
