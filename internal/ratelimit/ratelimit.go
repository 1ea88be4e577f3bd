// Package ratelimit is an optional fixed-window request limiter over redis,
// consulted by the executor before contacting the scraping provider. Limiter
// failures never block a fetch: callers degrade to proceeding unlimited.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prospect-labs/leadgen-cli/internal/fault"
)

const keyPrefix = "leadgen:ratelimit:"

// Result reports one check-and-increment outcome.
type Result struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after"`
}

// Limiter enforces at most Requests calls per Window, counted in a shared
// redis key so the budget spans all workers.
type Limiter struct {
	rdb      *redis.Client
	requests int
	window   time.Duration
}

// New creates a Limiter allowing requests calls per window.
func New(rdb *redis.Client, requests int, window time.Duration) *Limiter {
	if requests <= 0 {
		requests = 100
	}
	if window <= 0 {
		window = time.Hour
	}
	return &Limiter{rdb: rdb, requests: requests, window: window}
}

// Check increments the window counter for key and reports whether the call is
// within budget. The first hit of a window sets its expiry; RetryAfter is the
// window's remaining lifetime when the budget is exhausted.
func (l *Limiter) Check(ctx context.Context, key string) (*Result, error) {
	rkey := keyPrefix + key

	count, err := l.rdb.Incr(ctx, rkey).Result()
	if err != nil {
		return nil, fault.Wrap(fault.KindInfra, err, "ratelimit: incr")
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, rkey, l.window).Err(); err != nil {
			return nil, fault.Wrap(fault.KindInfra, err, "ratelimit: set window expiry")
		}
	}

	remaining := l.requests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	if count > int64(l.requests) {
		ttl, err := l.rdb.TTL(ctx, rkey).Result()
		if err != nil {
			return nil, fault.Wrap(fault.KindInfra, err, "ratelimit: read ttl")
		}
		if ttl < 0 {
			ttl = l.window
		}
		return &Result{Allowed: false, Remaining: 0, RetryAfter: ttl}, nil
	}

	return &Result{Allowed: true, Remaining: remaining}, nil
}
