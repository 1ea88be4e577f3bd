// Package breaker implements the global circuit breaker that gates all job
// dispatch. State lives in a single redis key so every worker process observes
// the same authoritative value; every mutation is an optimistic compare-and-set
// (WATCH transaction), making transitions atomic with respect to concurrent
// readers and writers.
package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/prospect-labs/leadgen-cli/internal/fault"
)

// State is the circuit state. There are exactly two: closed (allow) and open
// (block). No half-open probe state in this design.
type State string

const (
	StateClosed State = "closed"
	StateOpen   State = "open"
)

// Status is the authoritative circuit snapshot.
type Status struct {
	State    State             `json:"state"`
	OpenedAt *time.Time        `json:"opened_at,omitempty"`
	ClosedAt *time.Time        `json:"closed_at,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

const (
	defaultKey = "leadgen:circuit_breaker"

	metaLastReason    = "last_reason"
	metaFailureCount  = "consecutive_failures"
	metaLastFailureAt = "last_failure_at"

	// casRetries bounds optimistic-lock retries under contention.
	casRetries = 5
)

// Config controls breaker behavior.
type Config struct {
	// FailureThreshold is the number of consecutive recorded failures before
	// the circuit auto-opens. Values below 1 are treated as 1: the first
	// failure opens the circuit.
	FailureThreshold int
	// Key overrides the redis key, mainly for tests.
	Key string
}

// Breaker is the redis-backed circuit breaker.
type Breaker struct {
	rdb       *redis.Client
	key       string
	threshold int

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New creates a breaker over the given redis client.
func New(rdb *redis.Client, cfg Config) *Breaker {
	key := cfg.Key
	if key == "" {
		key = defaultKey
	}
	threshold := cfg.FailureThreshold
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{
		rdb:       rdb,
		key:       key,
		threshold: threshold,
		nowFunc:   time.Now,
	}
}

func (b *Breaker) initial() Status {
	now := b.nowFunc().UTC()
	return Status{
		State:    StateClosed,
		ClosedAt: &now,
		Metadata: map[string]string{},
	}
}

// Status returns the current authoritative state, initializing it CLOSED on
// first use. Side-effect-free apart from that initialization.
func (b *Breaker) Status(ctx context.Context) (*Status, error) {
	raw, err := b.rdb.Get(ctx, b.key).Result()
	if errors.Is(err, redis.Nil) {
		st := b.initial()
		payload, _ := json.Marshal(st)
		// SetNX so a concurrent initializer wins exactly once.
		if err := b.rdb.SetNX(ctx, b.key, payload, 0).Err(); err != nil {
			return nil, fault.Wrap(fault.KindInfra, err, "breaker: initialize state")
		}
		return &st, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindInfra, err, "breaker: read state")
	}

	var st Status
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fault.Wrap(fault.KindInfra, err, "breaker: decode state")
	}
	return &st, nil
}

// Allow reports whether new job dispatch may proceed: true iff CLOSED.
func (b *Breaker) Allow(ctx context.Context) (bool, error) {
	st, err := b.Status(ctx)
	if err != nil {
		return false, err
	}
	return st.State == StateClosed, nil
}

// ManuallyOpen transitions CLOSED -> OPEN. Returns true if a transition
// occurred, false if the circuit was already open (idempotent no-op).
func (b *Breaker) ManuallyOpen(ctx context.Context, reason string) (bool, error) {
	return b.update(ctx, func(st *Status) bool {
		if st.State == StateOpen {
			return false
		}
		b.open(st, reason)
		return true
	})
}

// ManuallyClose transitions OPEN -> CLOSED. Returns true if a transition
// occurred, false if the circuit was already closed.
func (b *Breaker) ManuallyClose(ctx context.Context, reason string) (bool, error) {
	return b.update(ctx, func(st *Status) bool {
		if st.State == StateClosed {
			return false
		}
		now := b.nowFunc().UTC()
		st.State = StateClosed
		st.ClosedAt = &now
		st.OpenedAt = nil
		if st.Metadata == nil {
			st.Metadata = map[string]string{}
		}
		if reason != "" {
			st.Metadata[metaLastReason] = reason
		}
		st.Metadata[metaFailureCount] = "0"
		return true
	})
}

// RecordFailure notes one provider failure. When consecutive failures reach
// the configured threshold the circuit auto-opens. Returns true if this call
// opened the circuit.
func (b *Breaker) RecordFailure(ctx context.Context, reason string) (bool, error) {
	return b.update(ctx, func(st *Status) bool {
		if st.Metadata == nil {
			st.Metadata = map[string]string{}
		}
		count, _ := strconv.Atoi(st.Metadata[metaFailureCount])
		count++
		st.Metadata[metaFailureCount] = strconv.Itoa(count)
		st.Metadata[metaLastFailureAt] = b.nowFunc().UTC().Format(time.RFC3339)
		if reason != "" {
			st.Metadata[metaLastReason] = reason
		}

		if st.State == StateClosed && count >= b.threshold {
			b.open(st, reason)
			return true
		}
		return false
	})
}

// RecordSuccess resets the consecutive-failure counter after a successful
// provider call. A no-op when the circuit is open.
func (b *Breaker) RecordSuccess(ctx context.Context) error {
	_, err := b.update(ctx, func(st *Status) bool {
		if st.State != StateClosed {
			return false
		}
		if st.Metadata == nil {
			st.Metadata = map[string]string{}
		}
		st.Metadata[metaFailureCount] = "0"
		return false
	})
	return err
}

func (b *Breaker) open(st *Status, reason string) {
	now := b.nowFunc().UTC()
	st.State = StateOpen
	st.OpenedAt = &now
	st.ClosedAt = nil
	if st.Metadata == nil {
		st.Metadata = map[string]string{}
	}
	if reason != "" {
		st.Metadata[metaLastReason] = reason
	}
}

// update runs mutate under an optimistic WATCH transaction. The boolean the
// mutation returns is passed through (true = a state transition occurred);
// the new status is always written so metadata updates persist either way.
func (b *Breaker) update(ctx context.Context, mutate func(*Status) bool) (bool, error) {
	var transitioned bool

	txn := func(tx *redis.Tx) error {
		st := b.initial()
		raw, err := tx.Get(ctx, b.key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			// First touch; start from the initial closed state.
		case err != nil:
			return err
		default:
			if err := json.Unmarshal([]byte(raw), &st); err != nil {
				return eris.Wrap(err, "decode state")
			}
		}

		transitioned = mutate(&st)

		payload, err := json.Marshal(st)
		if err != nil {
			return eris.Wrap(err, "encode state")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, b.key, payload, 0)
			return nil
		})
		return err
	}

	for i := 0; i < casRetries; i++ {
		err := b.rdb.Watch(ctx, txn, b.key)
		if err == nil {
			return transitioned, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue // lost the race, re-read and retry
		}
		return false, fault.Wrap(fault.KindInfra, err, "breaker: update state")
	}
	return false, fault.New(fault.KindInfra, "breaker: update state: too much contention")
}
