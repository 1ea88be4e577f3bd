package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prospect-labs/leadgen-cli/internal/fault"
)

func newTestBreaker(t *testing.T, threshold int) (*Breaker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, Config{FailureThreshold: threshold}), mr
}

func TestStatusInitializesClosed(t *testing.T) {
	b, _ := newTestBreaker(t, 1)

	st, err := b.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateClosed, st.State)
	assert.NotNil(t, st.ClosedAt)
	assert.Nil(t, st.OpenedAt)

	allowed, err := b.Allow(context.Background())
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestManualOpenIsIdempotent(t *testing.T) {
	b, _ := newTestBreaker(t, 1)
	ctx := context.Background()

	transitioned, err := b.ManuallyOpen(ctx, "maintenance window")
	require.NoError(t, err)
	assert.True(t, transitioned)

	st, err := b.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, st.State)
	require.NotNil(t, st.OpenedAt)
	assert.Nil(t, st.ClosedAt)
	assert.Equal(t, "maintenance window", st.Metadata["last_reason"])
	firstOpenedAt := *st.OpenedAt

	// Second open: no transition, state stays OPEN.
	transitioned, err = b.ManuallyOpen(ctx, "again")
	require.NoError(t, err)
	assert.False(t, transitioned)

	st, err = b.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, st.State)
	assert.Equal(t, firstOpenedAt, *st.OpenedAt)

	allowed, err := b.Allow(ctx)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestManualCloseIsIdempotent(t *testing.T) {
	b, _ := newTestBreaker(t, 1)
	ctx := context.Background()

	// Already closed: success with no transition, not an error.
	transitioned, err := b.ManuallyClose(ctx, "")
	require.NoError(t, err)
	assert.False(t, transitioned)

	_, err = b.ManuallyOpen(ctx, "incident")
	require.NoError(t, err)

	transitioned, err = b.ManuallyClose(ctx, "incident resolved")
	require.NoError(t, err)
	assert.True(t, transitioned)

	st, err := b.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, st.State)
	assert.Nil(t, st.OpenedAt)
	require.NotNil(t, st.ClosedAt)
	assert.Equal(t, "incident resolved", st.Metadata["last_reason"])
	assert.Equal(t, "0", st.Metadata["consecutive_failures"])
}

func TestRecordFailureOpensAtThresholdOne(t *testing.T) {
	b, _ := newTestBreaker(t, 1)
	ctx := context.Background()

	opened, err := b.RecordFailure(ctx, "provider 502")
	require.NoError(t, err)
	assert.True(t, opened)

	st, err := b.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, st.State)
	assert.Equal(t, "provider 502", st.Metadata["last_reason"])
	assert.Equal(t, "1", st.Metadata["consecutive_failures"])
}

func TestRecordFailureThresholdThree(t *testing.T) {
	b, _ := newTestBreaker(t, 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		opened, err := b.RecordFailure(ctx, "timeout")
		require.NoError(t, err)
		assert.False(t, opened)

		allowed, err := b.Allow(ctx)
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	opened, err := b.RecordFailure(ctx, "timeout")
	require.NoError(t, err)
	assert.True(t, opened)

	allowed, err := b.Allow(ctx)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRecordSuccessResetsCounter(t *testing.T) {
	b, _ := newTestBreaker(t, 3)
	ctx := context.Background()

	_, err := b.RecordFailure(ctx, "blip")
	require.NoError(t, err)
	_, err = b.RecordFailure(ctx, "blip")
	require.NoError(t, err)

	require.NoError(t, b.RecordSuccess(ctx))

	st, err := b.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0", st.Metadata["consecutive_failures"])

	// Two more failures still below threshold after the reset.
	for i := 0; i < 2; i++ {
		opened, err := b.RecordFailure(ctx, "blip")
		require.NoError(t, err)
		assert.False(t, opened)
	}
}

func TestBackendErrorIsInfraFault(t *testing.T) {
	b, mr := newTestBreaker(t, 1)
	mr.Close()

	_, err := b.Status(context.Background())
	require.Error(t, err)
	assert.Equal(t, fault.KindInfra, fault.KindOf(err))

	_, err = b.ManuallyOpen(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, fault.KindInfra, fault.KindOf(err))
}

func TestReadAfterWriteAcrossClients(t *testing.T) {
	// Two breaker instances over separate connections to the same redis:
	// once ManuallyOpen returns, the other instance must observe OPEN.
	mr := miniredis.RunT(t)
	rdb1 := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rdb2 := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb1.Close(); rdb2.Close() })

	b1 := New(rdb1, Config{FailureThreshold: 1})
	b2 := New(rdb2, Config{FailureThreshold: 1})
	ctx := context.Background()

	transitioned, err := b1.ManuallyOpen(ctx, "drill")
	require.NoError(t, err)
	require.True(t, transitioned)

	allowed, err := b2.Allow(ctx)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestOpenedAtUsesInjectedClock(t *testing.T) {
	b, _ := newTestBreaker(t, 1)
	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	b.nowFunc = func() time.Time { return fixed }

	_, err := b.ManuallyOpen(context.Background(), "clock test")
	require.NoError(t, err)

	st, err := b.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fixed, st.OpenedAt.UTC())
}
