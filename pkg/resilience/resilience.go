// Package resilience wraps external calls (ML model endpoints, correlation
// state stores, event buses) with a circuit breaker, a fallback, and a
// per-call timeout so one misbehaving dependency degrades the pipeline
// instead of stalling it.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// ErrNoFallback is returned when a call fails open and no fallback was
// registered.
var ErrNoFallback = errors.New("resilience: circuit open and no fallback registered")

// Metrics counts a breaker's lifetime call outcomes.
type Metrics struct {
	Calls               uint64
	Successes           uint64
	Failures            uint64
	FallbackInvocations uint64
	Trips               uint64
}

// Config tunes a Breaker's circuit behavior and per-call timeout.
type Config struct {
	Name             string
	FailureThreshold uint32        // consecutive failures before opening
	RecoveryTimeout  time.Duration // time OPEN before trying HALF_OPEN
	SuccessThreshold uint32        // successes in HALF_OPEN before closing
	CallTimeout      time.Duration // per-call deadline
}

// DefaultConfig mirrors the documented defaults: 5 failures to open, 60s
// recovery, 3 successes to close, 30s call timeout.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 3,
		CallTimeout:      30 * time.Second,
	}
}

// Fallback produces a degraded result when the primary call is unavailable.
type Fallback func(ctx context.Context) (any, error)

// Breaker wraps a sony/gobreaker circuit breaker with a per-call timeout, an
// optional fallback, and outcome metrics.
type Breaker struct {
	name     string
	cb       *gobreaker.CircuitBreaker
	timeout  time.Duration
	fallback Fallback
	log      zerolog.Logger

	mu      sync.Mutex
	metrics Metrics
}

// New builds a Breaker. fallback may be nil, in which case a tripped circuit
// returns ErrNoFallback.
func New(cfg Config, fallback Fallback, log zerolog.Logger) *Breaker {
	b := &Breaker{name: cfg.Name, timeout: cfg.CallTimeout, fallback: fallback, log: log}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.SuccessThreshold,
		Interval:    0,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				b.mu.Lock()
				b.metrics.Trips++
				b.mu.Unlock()
			}
			b.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	}
	b.cb = gobreaker.NewCircuitBreaker(settings)
	return b
}

// Call runs fn under the circuit breaker with the configured timeout. If the
// circuit is open or fn fails, the fallback (if any) runs instead; if both
// fail, the fallback's error is returned.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	b.mu.Lock()
	b.metrics.Calls++
	b.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	result, err := b.cb.Execute(func() (any, error) {
		return fn(callCtx)
	})

	if err == nil {
		b.mu.Lock()
		b.metrics.Successes++
		b.mu.Unlock()
		return result, nil
	}

	b.mu.Lock()
	b.metrics.Failures++
	b.mu.Unlock()

	if b.fallback == nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrNoFallback
		}
		return nil, err
	}

	fallbackResult, fallbackErr := b.fallback(ctx)
	if fallbackErr != nil {
		b.log.Error().Err(fallbackErr).Str("breaker", b.name).Msg("fallback failed")
		return nil, fallbackErr
	}
	b.mu.Lock()
	b.metrics.FallbackInvocations++
	b.mu.Unlock()
	return fallbackResult, nil
}

// State returns the breaker's current state.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

// Metrics returns a snapshot of the breaker's lifetime counters.
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metrics
}
