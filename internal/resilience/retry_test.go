package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(eris.New("HTTP 502"), 502)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := eris.New("HTTP 400: bad request")
	err := Do(context.Background(), fastConfig(3), func(ctx context.Context) error {
		calls++
		return permanent
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "permanent errors are not retried")
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func(ctx context.Context) error {
		calls++
		return NewTransientError(eris.New("HTTP 503"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Do(ctx, fastConfig(5), func(ctx context.Context) error {
		calls++
		cancel()
		return NewTransientError(eris.New("HTTP 503"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "no retry after cancellation")
}

func TestDoOnRetryCallback(t *testing.T) {
	var attempts []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, err error) {
		attempts = append(attempts, attempt)
	}

	_ = Do(context.Background(), cfg, func(ctx context.Context) error {
		return NewTransientError(eris.New("HTTP 502"), 502)
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestComputeBackoffCapped(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     2 * time.Second,
		Multiplier:     10,
		JitterFraction: 0,
	})
	assert.Equal(t, 2*time.Second, computeBackoff(5, cfg))
}
