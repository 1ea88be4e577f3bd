package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusProcessing.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.True(t, JobStatusCancelled.Terminal())
}

func TestJobStatusCanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusPending, JobStatusProcessing, true},
		{JobStatusPending, JobStatusCancelled, true},
		{JobStatusPending, JobStatusCompleted, false},
		{JobStatusPending, JobStatusFailed, false},
		{JobStatusProcessing, JobStatusCompleted, true},
		{JobStatusProcessing, JobStatusFailed, true},
		{JobStatusProcessing, JobStatusCancelled, true},
		{JobStatusProcessing, JobStatusPending, false},
		{JobStatusCompleted, JobStatusCancelled, false},
		{JobStatusFailed, JobStatusProcessing, false},
		{JobStatusCancelled, JobStatusCompleted, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestJobParamsMap(t *testing.T) {
	j := &Job{ID: 1, Params: json.RawMessage(`{"fileName":"leads.csv","totalResults":500}`)}

	params, err := j.ParamsMap()
	require.NoError(t, err)
	assert.Equal(t, "leads.csv", params["fileName"])
	assert.Equal(t, float64(500), params["totalResults"])
}

func TestJobParamsMapEmpty(t *testing.T) {
	j := &Job{ID: 1}

	params, err := j.ParamsMap()
	require.NoError(t, err)
	assert.Empty(t, params)
}

func TestJobParamsMapMalformed(t *testing.T) {
	j := &Job{ID: 7, Params: json.RawMessage(`{not json`)}

	_, err := j.ParamsMap()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job 7")
}
