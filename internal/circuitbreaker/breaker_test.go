package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(threshold int, cooldown time.Duration, now *time.Time) *Breaker {
	return New("test", Config{
		FailureThreshold: threshold,
		Cooldown:         cooldown,
		now:              func() time.Time { return *now },
	}, zerolog.Nop())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(3, time.Minute, &now)
	boom := errors.New("boom")
	fail := func(context.Context) error { return boom }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.ErrorIs(t, b.Do(ctx, fail), boom)
	}
	assert.Equal(t, StateOpen, b.State())

	// Open circuit rejects without invoking the call.
	called := false
	err := b.Do(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(1, time.Minute, &now)
	ctx := context.Background()

	require.Error(t, b.Do(ctx, func(context.Context) error { return errors.New("boom") }))
	require.Equal(t, StateOpen, b.State())

	now = now.Add(time.Minute)
	assert.Equal(t, StateHalfOpen, b.State())

	// A successful probe closes the circuit.
	require.NoError(t, b.Do(ctx, func(context.Context) error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(1, time.Minute, &now)
	ctx := context.Background()

	require.Error(t, b.Do(ctx, func(context.Context) error { return errors.New("boom") }))
	now = now.Add(time.Minute)
	require.Equal(t, StateHalfOpen, b.State())

	require.Error(t, b.Do(ctx, func(context.Context) error { return errors.New("still down") }))
	assert.Equal(t, StateOpen, b.State())

	// And stays open until the next cooldown.
	assert.ErrorIs(t, b.Do(ctx, func(context.Context) error { return nil }), ErrOpen)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(3, time.Minute, &now)
	ctx := context.Background()
	boom := errors.New("boom")

	require.Error(t, b.Do(ctx, func(context.Context) error { return boom }))
	require.Error(t, b.Do(ctx, func(context.Context) error { return boom }))
	require.NoError(t, b.Do(ctx, func(context.Context) error { return nil }))
	require.Error(t, b.Do(ctx, func(context.Context) error { return boom }))
	require.Error(t, b.Do(ctx, func(context.Context) error { return boom }))

	assert.Equal(t, StateClosed, b.State(), "two failures after a success stay under the threshold")
}
