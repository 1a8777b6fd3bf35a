package dto

import (
	"time"

	"github.com/mvoss/jobgate/internal/status"
)

type SubmitJobRequest struct {
	JobClass   string `json:"job_class" binding:"required"`
	TargetType string `json:"target_type" binding:"required"`
	TargetID   string `json:"target_id" binding:"required"`
	OwnerID    string `json:"owner_id"`
	Payload    string `json:"payload"`
}

type ListJobsRequest struct {
	OwnerID  string `form:"owner_id"`
	JobClass string `form:"job_class"`
	State    string `form:"state"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID           string     `json:"job_id"`
	JobClass        string     `json:"job_class"`
	TargetType      string     `json:"target_type"`
	TargetID        string     `json:"target_id"`
	OwnerID         string     `json:"owner_id,omitempty"`
	State           string     `json:"state"`
	Payload         string     `json:"payload,omitempty"`
	Result          *string    `json:"result,omitempty"`
	CorrelatesToID  *string    `json:"correlates_to_id,omitempty"`
	CancelRequested bool       `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// FromStatus maps a status row to its API read model. Result is only
// surfaced once the job is terminal.
func FromStatus(job *status.JobStatus) JobDTO {
	d := JobDTO{
		JobID:           job.ID,
		JobClass:        job.JobClass,
		TargetType:      job.TargetType,
		TargetID:        job.TargetID,
		OwnerID:         job.OwnerID,
		State:           string(job.State),
		Payload:         job.Payload,
		CorrelatesToID:  job.CorrelatesTo,
		CancelRequested: job.CancelRequested,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
		StartedAt:       job.StartedAt,
		FinishedAt:      job.FinishedAt,
	}
	if job.State.IsTerminal() {
		d.Result = job.Result
	}
	return d
}
