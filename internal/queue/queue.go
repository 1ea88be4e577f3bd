// Package queue is the redis-backed task queue the workers consume. It also
// carries the two ephemeral side channels attached to task execution:
// best-effort revocation and best-effort progress reporting.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/prospect-labs/leadgen-cli/internal/fault"
	"github.com/prospect-labs/leadgen-cli/internal/model"
)

const (
	queueKey    = "leadgen:queue"
	revokedKey  = "leadgen:revoked"
	progressKey = "leadgen:progress:"

	// revokedTTL bounds how long revocation markers linger after the tasks
	// they refer to are long gone.
	revokedTTL = 24 * time.Hour
)

// Task is one queued unit of work: a job id plus the opaque task handle that
// correlates the Job row with this queue entry.
type Task struct {
	ID    string `json:"id"`
	JobID int64  `json:"job_id"`
}

// Queue wraps the redis list and side channels.
type Queue struct {
	rdb         *redis.Client
	progressTTL time.Duration
}

// New creates a Queue. progressTTL <= 0 defaults to one hour.
func New(rdb *redis.Client, progressTTL time.Duration) *Queue {
	if progressTTL <= 0 {
		progressTTL = time.Hour
	}
	return &Queue{rdb: rdb, progressTTL: progressTTL}
}

// Enqueue pushes a task for the job and returns the new task handle.
func (q *Queue) Enqueue(ctx context.Context, jobID int64) (string, error) {
	task := Task{ID: uuid.New().String(), JobID: jobID}
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fault.Wrap(fault.KindInfra, err, "queue: encode task")
	}
	if err := q.rdb.LPush(ctx, queueKey, payload).Err(); err != nil {
		return "", fault.Wrap(fault.KindInfra, err, "queue: enqueue")
	}
	return task.ID, nil
}

// Dequeue pops the next task, blocking up to block. Returns (nil, nil) when
// the wait times out with nothing queued.
func (q *Queue) Dequeue(ctx context.Context, block time.Duration) (*Task, error) {
	res, err := q.rdb.BRPop(ctx, block, queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindInfra, err, "queue: dequeue")
	}
	if len(res) != 2 {
		return nil, fault.Newf(fault.KindInfra, "queue: unexpected BRPOP reply of %d elements", len(res))
	}

	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, fault.Wrap(fault.KindInfra, err, "queue: decode task")
	}
	return &task, nil
}

// Revoke marks a task handle as revoked. Workers consult IsRevoked before
// starting; an execution already past that check runs to completion and its
// late result is discarded by the store's terminal-state guard.
func (q *Queue) Revoke(ctx context.Context, taskID string) error {
	pipe := q.rdb.TxPipeline()
	pipe.SAdd(ctx, revokedKey, taskID)
	pipe.Expire(ctx, revokedKey, revokedTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fault.Wrap(fault.KindInfra, err, "queue: revoke")
	}
	return nil
}

// IsRevoked reports whether the task handle has been revoked.
func (q *Queue) IsRevoked(ctx context.Context, taskID string) (bool, error) {
	revoked, err := q.rdb.SIsMember(ctx, revokedKey, taskID).Result()
	if err != nil {
		return false, fault.Wrap(fault.KindInfra, err, "queue: check revoked")
	}
	return revoked, nil
}

// PublishProgress writes the job's progress snapshot to its TTL'd side
// channel. Progress is advisory telemetry: it is lost on restart and is never
// part of the durable Job record.
func (q *Queue) PublishProgress(ctx context.Context, jobID int64, p model.Progress) error {
	p.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(p)
	if err != nil {
		return fault.Wrap(fault.KindInfra, err, "queue: encode progress")
	}
	if err := q.rdb.Set(ctx, progressField(jobID), payload, q.progressTTL).Err(); err != nil {
		return fault.Wrap(fault.KindInfra, err, "queue: publish progress")
	}
	return nil
}

// GetProgress returns the job's progress snapshot, or nil when none exists
// (never published, expired, or worker restarted).
func (q *Queue) GetProgress(ctx context.Context, jobID int64) (*model.Progress, error) {
	raw, err := q.rdb.Get(ctx, progressField(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindInfra, err, "queue: get progress")
	}

	var p model.Progress
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fault.Wrap(fault.KindInfra, err, "queue: decode progress")
	}
	return &p, nil
}

func progressField(jobID int64) string {
	return progressKey + strconv.FormatInt(jobID, 10)
}
