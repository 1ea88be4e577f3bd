package store

import (
	"context"

	"github.com/prospect-labs/leadgen-cli/internal/model"
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status     model.JobStatus `json:"status,omitempty"`
	CampaignID string          `json:"campaign_id,omitempty"`
	Limit      int             `json:"limit,omitempty"`
	Offset     int             `json:"offset,omitempty"`
}

// LeadFilter specifies criteria for listing leads.
type LeadFilter struct {
	CampaignID string `json:"campaign_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the campaign manager.
//
// Job lookups return (nil, nil) when the row does not exist; callers decide
// whether absence is an error. Terminal-state job writes are guarded: writing
// into a job already in a terminal state is an ignored no-op, reported via the
// applied return value, never an overwrite.
type Store interface {
	// Organizations
	CreateOrganization(ctx context.Context, name string) (*model.Organization, error)
	GetOrganization(ctx context.Context, id string) (*model.Organization, error)

	// Campaigns
	CreateCampaign(ctx context.Context, c model.Campaign) (*model.Campaign, error)
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)

	// Jobs
	CreateJob(ctx context.Context, j model.Job) (*model.Job, error)
	GetJob(ctx context.Context, id int64) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)
	// MarkJobProcessing transitions pending -> processing and records the
	// queue task handle. Returns false if the job was not pending.
	MarkJobProcessing(ctx context.Context, id int64, taskID string) (bool, error)
	// CompleteJob writes a terminal status, result/error text, and
	// completed_at. Returns false (without error) when the job is already
	// terminal, so a late completion never overwrites a cancellation.
	CompleteJob(ctx context.Context, id int64, status model.JobStatus, result, errMsg string) (bool, error)

	// Leads
	CreateLead(ctx context.Context, l model.Lead) (*model.Lead, error)
	// CreateLeads persists the batch in a single transaction; on failure the
	// whole batch is rolled back and the error propagates.
	CreateLeads(ctx context.Context, leads []model.Lead) error
	// ExistingEmails returns which of the given normalized emails already
	// exist anywhere in the lead table, in one bulk lookup.
	ExistingEmails(ctx context.Context, emails []string) (map[string]struct{}, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
