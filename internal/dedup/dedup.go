// Package dedup decides which raw provider records become new Lead rows. It
// enforces a global email-uniqueness policy (not just per campaign) and stays
// resilient to storage trouble: a failed duplicate lookup degrades to
// best-effort, a single bad record never sinks the batch, and only a failed
// final commit propagates as a hard error.
package dedup

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/prospect-labs/leadgen-cli/internal/fault"
	"github.com/prospect-labs/leadgen-cli/internal/model"
)

// LeadStore is the slice of the store the engine needs.
type LeadStore interface {
	// ExistingEmails returns which of the given normalized emails already
	// exist anywhere in the lead table.
	ExistingEmails(ctx context.Context, emails []string) (map[string]struct{}, error)
	// CreateLeads persists the batch in one transaction, rolling the whole
	// batch back on failure.
	CreateLeads(ctx context.Context, leads []model.Lead) error
}

// Engine ingests raw record batches for one campaign at a time.
type Engine struct {
	store LeadStore
}

// New creates an Engine. A nil store makes every Ingest a no-op.
func New(store LeadStore) *Engine {
	return &Engine{store: store}
}

// NormalizeEmail trims surrounding whitespace and lower-cases. An empty
// result means the record carries no usable email.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Ingest runs the batch through dedup and persists the survivors atomically.
//
// Records are processed strictly in input order; the first occurrence of an
// email within the batch wins and later duplicates are skipped. Returns the
// batch summary, or an error only when the final commit fails (the one
// non-recoverable case: the whole batch is rolled back and nothing was
// created).
func (e *Engine) Ingest(ctx context.Context, campaignID string, records []map[string]any) (*model.IngestSummary, error) {
	summary := &model.IngestSummary{TotalProcessed: len(records)}
	if e == nil || e.store == nil {
		// No store wired: nothing to dedup against, nothing to persist.
		return &model.IngestSummary{}, nil
	}
	if len(records) == 0 {
		return summary, nil
	}

	existing := e.lookupExisting(ctx, records)

	seen := make(map[string]struct{})
	var staged []model.Lead
	for _, rec := range records {
		email := NormalizeEmail(stringField(rec, "email"))
		if email == "" {
			summary.Skipped++
			continue
		}
		if _, dup := existing[email]; dup {
			summary.Skipped++
			continue
		}
		if _, dup := seen[email]; dup {
			summary.Skipped++
			continue
		}

		lead, err := buildLead(campaignID, email, rec)
		if err != nil {
			summary.Errors++
			zap.L().Warn("lead construction failed",
				zap.String("campaign_id", campaignID),
				zap.String("email", email),
				zap.Error(err),
			)
			continue
		}
		staged = append(staged, *lead)
		seen[email] = struct{}{}
	}

	if len(staged) > 0 {
		if err := e.store.CreateLeads(ctx, staged); err != nil {
			// A failed commit rolled the whole batch back; nothing was
			// created and the failure is the caller's to handle.
			return nil, fault.Wrap(fault.KindCommit, err, "dedup: persist batch")
		}
		summary.Created = len(staged)
		for _, l := range staged {
			summary.CreatedIDs = append(summary.CreatedIDs, l.ID)
		}
	}

	if summary.Skipped > 0 {
		summary.Messages = append(summary.Messages,
			fmt.Sprintf("Skipped %d duplicate/invalid emails", summary.Skipped))
	}
	return summary, nil
}

// lookupExisting performs the one bulk duplicate-check query. On storage
// failure duplicate prevention degrades to within-batch only: log and treat
// as "no existing emails found" rather than blocking ingestion.
func (e *Engine) lookupExisting(ctx context.Context, records []map[string]any) map[string]struct{} {
	var emails []string
	for _, rec := range records {
		if email := NormalizeEmail(stringField(rec, "email")); email != "" {
			emails = append(emails, email)
		}
	}
	if len(emails) == 0 {
		return map[string]struct{}{}
	}

	existing, err := e.store.ExistingEmails(ctx, emails)
	if err != nil {
		zap.L().Warn("duplicate-check lookup failed, proceeding without stored-email dedup",
			zap.Int("batch_emails", len(emails)),
			zap.Error(err),
		)
		return map[string]struct{}{}
	}
	return existing
}
