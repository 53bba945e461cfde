package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestBreaker_SuccessPassesThrough(t *testing.T) {
	b := New(DefaultConfig("test"), nil, zerolog.Nop())
	out, err := b.Call(context.Background(), func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.Equal(t, uint64(1), b.Metrics().Successes)
}

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig("test")
	cfg.FailureThreshold = 3
	b := New(cfg, nil, zerolog.Nop())

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		_, err := b.Call(context.Background(), func(ctx context.Context) (any, error) {
			return nil, boom
		})
		require.Error(t, err)
	}

	require.Equal(t, uint64(1), b.Metrics().Trips)

	// circuit is now open: the function must not even be invoked
	called := false
	_, err := b.Call(context.Background(), func(ctx context.Context) (any, error) {
		called = true
		return "unreachable", nil
	})
	require.Error(t, err)
	require.False(t, called)
}

func TestBreaker_FallbackRunsWhenPrimaryFails(t *testing.T) {
	b := New(DefaultConfig("test"), func(ctx context.Context) (any, error) {
		return "degraded", nil
	}, zerolog.Nop())

	out, err := b.Call(context.Background(), func(ctx context.Context) (any, error) {
		return nil, errors.New("primary down")
	})
	require.NoError(t, err)
	require.Equal(t, "degraded", out)
	require.Equal(t, uint64(1), b.Metrics().FallbackInvocations)
}

func TestBreaker_NoFallbackReturnsErrNoFallbackWhenOpen(t *testing.T) {
	cfg := DefaultConfig("test")
	cfg.FailureThreshold = 1
	b := New(cfg, nil, zerolog.Nop())

	_, err := b.Call(context.Background(), func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)

	_, err = b.Call(context.Background(), func(ctx context.Context) (any, error) {
		return "unreachable", nil
	})
	require.ErrorIs(t, err, ErrNoFallback)
}

func TestBreaker_CallTimeoutCancelsContext(t *testing.T) {
	cfg := DefaultConfig("test")
	cfg.CallTimeout = 10 * time.Millisecond
	b := New(cfg, nil, zerolog.Nop())

	_, err := b.Call(context.Background(), func(ctx context.Context) (any, error) {
		select {
		case <-time.After(100 * time.Millisecond):
			return "too slow", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	require.Error(t, err)
}
