package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus represents the current state of a background job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a transition from s to next is legal.
// Legal paths: pending -> processing, pending/processing -> any terminal state.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case JobStatusProcessing:
		return s == JobStatusPending
	case JobStatusCompleted, JobStatusFailed:
		return s == JobStatusProcessing
	case JobStatusCancelled:
		return s == JobStatusPending || s == JobStatusProcessing
	default:
		return false
	}
}

// JobType identifies the kind of work a job performs.
type JobType string

const (
	JobTypeFetchLeads  JobType = "fetch_leads"
	JobTypeEnrichLeads JobType = "enrich_leads"
)

// Job represents one persisted unit of asynchronous work.
type Job struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Type        JobType         `json:"job_type"`
	CampaignID  *string         `json:"campaign_id,omitempty"`
	Status      JobStatus       `json:"status"`
	TaskID      string          `json:"task_id,omitempty"`
	Params      json.RawMessage `json:"params,omitempty"`
	Result      string          `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// ParamsMap decodes the job's params JSON into a map. A job with no params
// yields an empty map.
func (j *Job) ParamsMap() (map[string]any, error) {
	if len(j.Params) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(j.Params, &m); err != nil {
		return nil, fmt.Errorf("job %d: decode params: %w", j.ID, err)
	}
	return m, nil
}

// Progress is the best-effort, ephemeral progress snapshot for a running job.
// It lives in a TTL'd side channel and is never part of the durable Job row.
type Progress struct {
	Current   int       `json:"current"`
	Total     int       `json:"total"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
