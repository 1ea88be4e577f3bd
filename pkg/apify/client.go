// Package apify is a minimal client for the Apify actor API: start an actor
// run, then page through the run's default dataset.
package apify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/prospect-labs/leadgen-cli/internal/resilience"
)

// Default base URL for the Apify v2 API.
const defaultBaseURL = "https://api.apify.com/v2"

// Client defines the Apify API operations used by the fetch pipeline.
type Client interface {
	// RunActor starts an actor run with the given input and waits for it to
	// finish (up to the server-side waitForFinish window).
	RunActor(ctx context.Context, actorID string, input map[string]any) (*Run, error)
	// DatasetItems returns one page of clean dataset items.
	DatasetItems(ctx context.Context, datasetID string, offset, limit int) ([]map[string]any, error)
}

// Run describes an actor run. DefaultDatasetID is the handle for the run's
// output dataset; an empty value means the actor produced no usable dataset.
type Run struct {
	ID               string `json:"id"`
	ActID            string `json:"actId"`
	Status           string `json:"status"`
	DefaultDatasetID string `json:"defaultDatasetId"`
}

type runEnvelope struct {
	Data Run `json:"data"`
}

// APIError is returned when Apify responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("apify: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithWaitForFinish sets how long the API holds the run request open waiting
// for the actor to finish, in seconds.
func WithWaitForFinish(secs int) Option {
	return func(c *httpClient) {
		c.waitForFinish = secs
	}
}

// WithRetryConfig overrides the retry policy for transient failures.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	token         string
	baseURL       string
	waitForFinish int
	http          *http.Client
	limiter       *rate.Limiter
	retry         resilience.RetryConfig
}

// NewClient creates a new Apify client.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:         token,
		baseURL:       defaultBaseURL,
		waitForFinish: 300,
		retry:         resilience.DefaultRetryConfig(),
		http: &http.Client{
			Timeout: 120 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) RunActor(ctx context.Context, actorID string, input map[string]any) (*Run, error) {
	path := fmt.Sprintf("/acts/%s/runs?waitForFinish=%d", url.PathEscape(actorID), c.waitForFinish)

	var env runEnvelope
	if err := c.post(ctx, path, input, &env); err != nil {
		return nil, eris.Wrapf(err, "apify: run actor %s", actorID)
	}
	return &env.Data, nil
}

func (c *httpClient) DatasetItems(ctx context.Context, datasetID string, offset, limit int) ([]map[string]any, error) {
	path := fmt.Sprintf("/datasets/%s/items?clean=true&format=json&offset=%d&limit=%d",
		url.PathEscape(datasetID), offset, limit)

	var items []map[string]any
	if err := c.get(ctx, path, &items); err != nil {
		return nil, eris.Wrapf(err, "apify: dataset items %s", datasetID)
	}
	return items, nil
}

func (c *httpClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}
	return c.do(ctx, http.MethodPost, path, payload, out)
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// do runs the request under the retry policy; each attempt rebuilds the
// request so the body can be replayed.
func (c *httpClient) do(ctx context.Context, method, path string, payload []byte, out any) error {
	cfg := c.retry
	cfg.OnRetry = resilience.RetryLogger("apify", method+" "+path)
	return resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return c.doOnce(ctx, method, path, payload, out)
	})
}

func (c *httpClient) doOnce(ctx context.Context, method, path string, payload []byte, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limit wait")
		}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return eris.Wrap(err, "build request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "http request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return apiErr
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return eris.Wrap(err, "decode response")
		}
	}
	return nil
}
