package apify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prospect-labs/leadgen-cli/internal/resilience"
)

// newTestClient disables retries so call-count assertions stay exact; retry
// behavior has its own test.
func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-token",
		WithBaseURL(srv.URL),
		WithRetryConfig(resilience.RetryConfig{MaxAttempts: 1}),
	)
}

func TestRunActor(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantDSID   string
		wantErr    bool
		wantAPIErr bool
	}{
		{
			name: "happy path",
			handler: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/acts/acme~lead-scraper/runs", r.URL.Path)
				assert.Equal(t, "300", r.URL.Query().Get("waitForFinish"))
				assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

				var input map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&input))
				assert.Equal(t, "leads.csv", input["fileName"])

				json.NewEncoder(w).Encode(runEnvelope{Data: Run{
					ID:               "run-1",
					Status:           "SUCCEEDED",
					DefaultDatasetID: "ds-99",
				}})
			},
			wantDSID: "ds-99",
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "actor exploded", http.StatusBadGateway)
			},
			wantErr:    true,
			wantAPIErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			run, err := c.RunActor(context.Background(), "acme~lead-scraper", map[string]any{"fileName": "leads.csv"})
			if tt.wantErr {
				require.Error(t, err)
				if tt.wantAPIErr {
					assert.Contains(t, err.Error(), "HTTP 502")
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDSID, run.DefaultDatasetID)
		})
	}
}

func TestRunActorRetriesTransientFailure(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(runEnvelope{Data: Run{ID: "run-1", DefaultDatasetID: "ds-1"}})
	}))
	t.Cleanup(srv.Close)

	c := NewClient("test-token",
		WithBaseURL(srv.URL),
		WithRetryConfig(resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
		}),
	)

	run, err := c.RunActor(context.Background(), "acme~lead-scraper", nil)
	require.NoError(t, err)
	assert.Equal(t, "ds-1", run.DefaultDatasetID)
	assert.Equal(t, 2, calls, "first 502 retried, second attempt succeeded")
}

func TestRunActorNoRetryOnClientError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad input", http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	c := NewClient("test-token",
		WithBaseURL(srv.URL),
		WithRetryConfig(resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
		}),
	)

	_, err := c.RunActor(context.Background(), "acme~lead-scraper", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
	assert.Equal(t, 1, calls, "client errors are permanent")
}

func TestDatasetItems(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/datasets/ds-1/items", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("clean"))
		assert.Equal(t, "10", r.URL.Query().Get("offset"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `[{"email":"a@x.com"},{"email":"b@x.com"}]`)
	})

	items, err := c.DatasetItems(context.Background(), "ds-1", 10, 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a@x.com", items[0]["email"])
}

func TestDatasetIteratorPagination(t *testing.T) {
	// Three records, page size two: one full page then one short page.
	records := []string{`{"email":"a@x.com"}`, `{"email":"b@x.com"}`, `{"email":"c@x.com"}`}
	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		offset, limit := 0, 0
		fmt.Sscan(r.URL.Query().Get("offset"), &offset)
		fmt.Sscan(r.URL.Query().Get("limit"), &limit)
		end := offset + limit
		if end > len(records) {
			end = len(records)
		}
		if offset > len(records) {
			offset = len(records)
		}
		w.Write([]byte("["))
		for i := offset; i < end; i++ {
			if i > offset {
				w.Write([]byte(","))
			}
			w.Write([]byte(records[i]))
		}
		w.Write([]byte("]"))
	})

	it := NewDatasetIterator(c, "ds-1", 2)
	var emails []string
	for it.Next(context.Background()) {
		emails = append(emails, it.Record()["email"].(string))
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"a@x.com", "b@x.com", "c@x.com"}, emails)
	assert.Equal(t, 2, calls)
}

func TestDatasetIteratorEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})

	it := NewDatasetIterator(c, "ds-empty", 0)
	assert.False(t, it.Next(context.Background()))
	assert.NoError(t, it.Err())
}

func TestDatasetIteratorError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "dataset gone", http.StatusNotFound)
	})

	it := NewDatasetIterator(c, "ds-gone", 5)
	assert.False(t, it.Next(context.Background()))
	require.Error(t, it.Err())
	assert.Contains(t, it.Err().Error(), "HTTP 404")
	// Subsequent Next calls stay false.
	assert.False(t, it.Next(context.Background()))
}
