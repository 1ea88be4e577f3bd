package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/prospect-labs/leadgen-cli/internal/model"
)

func TestFormatJobsList(t *testing.T) {
	campaignID := "0b5c9e4a-1111-2222-3333-444455556666"
	created := time.Date(2026, 8, 27, 10, 30, 0, 0, time.UTC)

	jobs := []model.Job{
		{
			ID:         1,
			Name:       "fetch batch 1",
			Type:       model.JobTypeFetchLeads,
			CampaignID: &campaignID,
			Status:     model.JobStatusCompleted,
			CreatedAt:  created,
		},
		{
			ID:        2,
			Name:      "fetch batch 2",
			Type:      model.JobTypeFetchLeads,
			Status:    model.JobStatusFailed,
			Error:     "apify: HTTP 502: upstream unavailable and some very long trailing detail",
			CreatedAt: created,
		},
	}

	var buf bytes.Buffer
	formatJobsList(&buf, jobs)
	out := buf.String()

	assert.Contains(t, out, "fetch batch 1")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "0b5c9e4a", "campaign id shown truncated")
	assert.NotContains(t, out, "44445555", "full campaign uuid not shown")
	assert.Contains(t, out, "2026-08-27 10:30")
	assert.Contains(t, out, "...", "long error text truncated")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 4, "header, separator, two rows")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "0b5c9e4a", truncateID("0b5c9e4a-1111-2222-3333-444455556666"))
	assert.Equal(t, "short", truncateID("short"))
}
