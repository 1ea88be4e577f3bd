package model

import (
	"encoding/json"
	"time"
)

// Lead is a prospect record scoped to exactly one campaign.
//
// Email is nullable; when present it is stored normalized (trimmed,
// lower-cased) and is unique across the whole lead table. The storage layer
// enforces that with a partial unique index as a safety net behind the dedup
// engine.
type Lead struct {
	ID               string          `json:"id"`
	CampaignID       string          `json:"campaign_id"`
	FirstName        string          `json:"first_name,omitempty"`
	LastName         string          `json:"last_name,omitempty"`
	Email            string          `json:"email,omitempty"`
	Phone            string          `json:"phone,omitempty"`
	Company          string          `json:"company,omitempty"`
	Title            string          `json:"title,omitempty"`
	LinkedInURL      string          `json:"linkedin_url,omitempty"`
	SourceURL        string          `json:"source_url,omitempty"`
	RawData          json.RawMessage `json:"raw_data,omitempty"`
	EnrichmentData   json.RawMessage `json:"enrichment_data,omitempty"`
	VerificationData json.RawMessage `json:"verification_data,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// IngestSummary reports the outcome of one lead ingestion batch.
type IngestSummary struct {
	Created        int      `json:"created"`
	Skipped        int      `json:"skipped"`
	Errors         int      `json:"errors"`
	TotalProcessed int      `json:"total_processed"`
	CreatedIDs     []string `json:"created_ids,omitempty"`
	Messages       []string `json:"messages,omitempty"`
}
