// Package executor runs fetch jobs end to end: load the Job row, gate on the
// circuit breaker, call the scraping provider, stream the resulting dataset
// through the dedup engine, and write the terminal outcome back to the row.
//
// Outcome policy follows the shared fault taxonomy: policy rejections (open
// circuit, exhausted rate budget) end the attempt early without counting as a
// provider failure; validation, provider, and commit faults mark the job
// FAILED with the original error text preserved; per-record trouble only shows
// up in the result counters.
package executor

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/prospect-labs/leadgen-cli/internal/fault"
	"github.com/prospect-labs/leadgen-cli/internal/model"
	"github.com/prospect-labs/leadgen-cli/internal/ratelimit"
	"github.com/prospect-labs/leadgen-cli/pkg/apify"
)

// progressEvery is how many streamed records pass between progress snapshots.
const progressEvery = 250

// JobStore is the slice of the store the executor needs.
type JobStore interface {
	GetJob(ctx context.Context, id int64) (*model.Job, error)
	MarkJobProcessing(ctx context.Context, id int64, taskID string) (bool, error)
	CompleteJob(ctx context.Context, id int64, status model.JobStatus, result, errMsg string) (bool, error)
}

// CircuitBreaker gates dispatch and tracks provider health.
type CircuitBreaker interface {
	Allow(ctx context.Context) (bool, error)
	RecordFailure(ctx context.Context, reason string) (bool, error)
	RecordSuccess(ctx context.Context) error
}

// RateLimiter is the optional pre-dispatch request budget.
type RateLimiter interface {
	Check(ctx context.Context, key string) (*ratelimit.Result, error)
}

// Ingestor turns raw provider records into Lead rows.
type Ingestor interface {
	Ingest(ctx context.Context, campaignID string, records []map[string]any) (*model.IngestSummary, error)
}

// ProgressPublisher is the optional best-effort progress side channel.
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, jobID int64, p model.Progress) error
}

// Revoker marks queued task handles as revoked on cancellation.
type Revoker interface {
	Revoke(ctx context.Context, taskID string) error
}

// rateLimitKey is the shared budget key for provider calls.
const rateLimitKey = "apify"

// Config wires the executor's collaborators. Limiter, Progress, and Revoker
// are optional; a nil value disables that concern.
type Config struct {
	Store    JobStore
	Breaker  CircuitBreaker
	Provider apify.Client
	Engine   Ingestor
	Limiter  RateLimiter
	Progress ProgressPublisher
	Revoker  Revoker

	// ActorID is the provider actor started for fetch jobs.
	ActorID string
	// PageSize overrides the dataset page size; <= 0 uses the client default.
	PageSize int
}

// Executor executes and cancels jobs.
type Executor struct {
	cfg Config
}

// New creates an Executor from the given wiring.
func New(cfg Config) *Executor {
	return &Executor{cfg: cfg}
}

// fetchResult is the JSON stored in Job.Result on success.
type fetchResult struct {
	Count          int      `json:"count"`
	Skipped        int      `json:"skipped,omitempty"`
	Errors         int      `json:"errors,omitempty"`
	TotalProcessed int      `json:"total_processed"`
	Messages       []string `json:"messages,omitempty"`
}

// rateLimitedResult is the soft COMPLETED result written when the request
// budget is exhausted before dispatch.
type rateLimitedResult struct {
	Count             int  `json:"count"`
	RateLimited       bool `json:"rate_limited"`
	RetryAfterSeconds int  `json:"retry_after_seconds"`
	RemainingRequests int  `json:"remaining_requests"`
}

// Execute runs the job to a terminal state. The returned error reports fatal
// faults for the caller's logging; the authoritative outcome is always the Job
// row, which Execute has already updated by the time it returns.
func (e *Executor) Execute(ctx context.Context, jobID int64, taskID string) error {
	log := zap.L().With(zap.Int64("job_id", jobID))

	job, err := e.cfg.Store.GetJob(ctx, jobID)
	if err != nil {
		return fault.Wrap(fault.KindInfra, err, "executor: load job")
	}
	if job == nil {
		return fault.Newf(fault.KindNotFound, "executor: job %d not found", jobID)
	}

	applied, err := e.cfg.Store.MarkJobProcessing(ctx, jobID, taskID)
	if err != nil {
		return fault.Wrap(fault.KindInfra, err, "executor: mark processing")
	}
	if !applied {
		// Not pending anymore: cancelled before pickup, or a duplicate
		// delivery. Either way this execution has nothing to do.
		log.Warn("job not pending, skipping execution", zap.String("status", string(job.Status)))
		return nil
	}

	allowed, err := e.cfg.Breaker.Allow(ctx)
	if err != nil {
		// Breaker backend unreachable is an infra fault for this job, not a
		// provider failure: nothing to record against the circuit.
		return e.fail(ctx, log, jobID, err)
	}
	if !allowed {
		log.Warn("dispatch blocked, circuit breaker open")
		e.complete(ctx, log, jobID, model.JobStatusFailed, "", "circuit breaker open")
		return nil
	}

	params, err := job.ParamsMap()
	if err != nil {
		return e.fail(ctx, log, jobID, fault.Wrap(fault.KindValidation, err, "executor: decode params"))
	}
	if name, _ := params["fileName"].(string); name == "" {
		return e.fail(ctx, log, jobID,
			fault.New(fault.KindValidation, `executor: missing required parameter "fileName"`))
	}

	if done := e.checkRateLimit(ctx, log, jobID); done {
		return nil
	}

	campaignID := ""
	if job.CampaignID != nil {
		campaignID = *job.CampaignID
	}

	summary, err := e.fetchAndIngest(ctx, log, jobID, campaignID, params)
	if err != nil {
		return e.fail(ctx, log, jobID, err)
	}

	result, _ := json.Marshal(fetchResult{
		Count:          summary.Created,
		Skipped:        summary.Skipped,
		Errors:         summary.Errors,
		TotalProcessed: summary.TotalProcessed,
		Messages:       summary.Messages,
	})
	e.complete(ctx, log, jobID, model.JobStatusCompleted, string(result), "")
	log.Info("job completed",
		zap.Int("created", summary.Created),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors),
	)
	return nil
}

// checkRateLimit consults the optional limiter. Returns true when the job was
// finished with a soft rate-limited result. Limiter failures never block the
// fetch: log and proceed as if no limiter were configured.
func (e *Executor) checkRateLimit(ctx context.Context, log *zap.Logger, jobID int64) bool {
	if e.cfg.Limiter == nil {
		return false
	}
	res, err := e.cfg.Limiter.Check(ctx, rateLimitKey)
	if err != nil {
		log.Warn("rate limiter unavailable, proceeding without limit", zap.Error(err))
		return false
	}
	if res.Allowed {
		return false
	}

	payload, _ := json.Marshal(rateLimitedResult{
		RateLimited:       true,
		RetryAfterSeconds: int(res.RetryAfter.Seconds()),
		RemainingRequests: res.Remaining,
	})
	log.Warn("request budget exhausted", zap.Duration("retry_after", res.RetryAfter))
	e.complete(ctx, log, jobID, model.JobStatusCompleted, string(payload), "")
	return true
}

// fetchAndIngest performs the provider call, streams the dataset, and hands
// the accumulated batch to the dedup engine.
func (e *Executor) fetchAndIngest(ctx context.Context, log *zap.Logger, jobID int64, campaignID string, params map[string]any) (*model.IngestSummary, error) {
	run, err := e.cfg.Provider.RunActor(ctx, e.cfg.ActorID, params)
	if err != nil {
		// Tag, don't wrap: operators diagnose from the provider's own text.
		return nil, e.providerFailure(ctx, log, fault.Tag(fault.KindProvider, err))
	}
	if run.DefaultDatasetID == "" {
		return nil, e.providerFailure(ctx, log,
			fault.New(fault.KindProvider, "no dataset returned"))
	}
	if err := e.cfg.Breaker.RecordSuccess(ctx); err != nil {
		log.Warn("breaker success reset failed", zap.Error(err))
	}

	e.publishProgress(ctx, log, jobID, model.Progress{Message: "fetching dataset"})

	var records []map[string]any
	it := apify.NewDatasetIterator(e.cfg.Provider, run.DefaultDatasetID, e.cfg.PageSize)
	for it.Next(ctx) {
		records = append(records, it.Record())
		if len(records)%progressEvery == 0 {
			e.publishProgress(ctx, log, jobID, model.Progress{
				Current: len(records),
				Message: "fetching dataset",
			})
		}
	}
	if err := it.Err(); err != nil {
		return nil, e.providerFailure(ctx, log, fault.Tag(fault.KindProvider, err))
	}

	e.publishProgress(ctx, log, jobID, model.Progress{
		Current: len(records),
		Total:   len(records),
		Message: "ingesting leads",
	})

	summary, err := e.cfg.Engine.Ingest(ctx, campaignID, records)
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// Cancel moves a non-terminal job to CANCELLED and best-effort revokes its
// queue task. Cancelling a terminal job is an invalid-state error and leaves
// the row untouched.
func (e *Executor) Cancel(ctx context.Context, jobID int64) error {
	job, err := e.cfg.Store.GetJob(ctx, jobID)
	if err != nil {
		return fault.Wrap(fault.KindInfra, err, "executor: load job")
	}
	if job == nil {
		return fault.Newf(fault.KindNotFound, "executor: job %d not found", jobID)
	}
	if !job.Status.CanTransition(model.JobStatusCancelled) {
		return fault.Newf(fault.KindInvalidState, "cannot cancel job in %s state", job.Status)
	}

	applied, err := e.cfg.Store.CompleteJob(ctx, jobID, model.JobStatusCancelled, "", "cancelled by user")
	if err != nil {
		return fault.Wrap(fault.KindInfra, err, "executor: cancel job")
	}
	if !applied {
		// Lost the race against a concurrent terminal write.
		return fault.Newf(fault.KindInvalidState, "cannot cancel job %d, already finished", jobID)
	}

	if e.cfg.Revoker != nil && job.TaskID != "" {
		if err := e.cfg.Revoker.Revoke(ctx, job.TaskID); err != nil {
			// Revocation is advisory; the terminal-state guard already
			// protects against a late completion overwrite.
			zap.L().Warn("task revocation failed",
				zap.Int64("job_id", jobID),
				zap.String("task_id", job.TaskID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// providerFailure records the failure against the circuit breaker (exactly
// once per job attempt) and passes the fault through. Local cancellation is
// not provider-health data: a worker shutting down mid-fetch must not latch
// the shared circuit open for every other worker.
func (e *Executor) providerFailure(ctx context.Context, log *zap.Logger, ferr error) error {
	if ctx.Err() != nil || errors.Is(ferr, context.Canceled) || errors.Is(ferr, context.DeadlineExceeded) {
		log.Warn("provider call interrupted by cancellation", zap.Error(ferr))
		return ferr
	}
	opened, err := e.cfg.Breaker.RecordFailure(ctx, ferr.Error())
	if err != nil {
		log.Error("recording provider failure failed", zap.Error(err))
	} else if opened {
		log.Warn("circuit breaker opened")
	}
	return ferr
}

// fail writes the terminal FAILED state with the fault's text verbatim and
// returns the fault for the caller's logging.
func (e *Executor) fail(ctx context.Context, log *zap.Logger, jobID int64, ferr error) error {
	e.complete(ctx, log, jobID, model.JobStatusFailed, "", ferr.Error())
	return ferr
}

// complete performs the guarded terminal write. A no-op result (the job went
// terminal underneath us, e.g. a concurrent cancel) is logged and dropped.
func (e *Executor) complete(ctx context.Context, log *zap.Logger, jobID int64, status model.JobStatus, result, errMsg string) {
	applied, err := e.cfg.Store.CompleteJob(ctx, jobID, status, result, errMsg)
	if err != nil {
		log.Error("terminal write failed", zap.String("status", string(status)), zap.Error(err))
		return
	}
	if !applied {
		log.Warn("terminal write ignored, job already terminal", zap.String("status", string(status)))
	}
}

func (e *Executor) publishProgress(ctx context.Context, log *zap.Logger, jobID int64, p model.Progress) {
	if e.cfg.Progress == nil {
		return
	}
	if err := e.cfg.Progress.PublishProgress(ctx, jobID, p); err != nil {
		log.Debug("progress publish failed", zap.Error(err))
	}
}
