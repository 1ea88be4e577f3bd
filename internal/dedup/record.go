package dedup

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/prospect-labs/leadgen-cli/internal/model"
)

// buildLead maps one raw provider record onto a Lead scoped to the campaign.
// The email argument is already normalized. The full record is preserved in
// RawData for later enrichment stages.
func buildLead(campaignID, email string, rec map[string]any) (*model.Lead, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, eris.Wrap(err, "encode raw record")
	}

	return &model.Lead{
		ID:          uuid.New().String(),
		CampaignID:  campaignID,
		FirstName:   stringField(rec, "first_name", "firstName"),
		LastName:    stringField(rec, "last_name", "lastName"),
		Email:       email,
		Phone:       stringField(rec, "phone", "phone_number"),
		Company:     companyName(rec),
		Title:       stringField(rec, "title", "headline"),
		LinkedInURL: stringField(rec, "linkedin_url", "linkedinUrl"),
		SourceURL:   stringField(rec, "source_url", "url"),
		RawData:     raw,
	}, nil
}

// companyName resolves the two shapes providers emit for "company": a flat
// organization_name string, or a nested organization object with a name
// field. The flat field wins when both are present.
func companyName(rec map[string]any) string {
	if name := stringField(rec, "organization_name"); name != "" {
		return name
	}
	if org, ok := rec["organization"].(map[string]any); ok {
		if name, ok := org["name"].(string); ok {
			return name
		}
	}
	return ""
}

// stringField returns the first of the given keys holding a non-empty string.
func stringField(rec map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := rec[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
