// Package mlclient implements Tier 2: a pool of ML model clients (isolation
// forest, LSTM, or any future model) each wrapped with health tracking so a
// misbehaving model degrades gracefully instead of blocking the batch.
package mlclient

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/activecm/flowguard/pkg/flow"
)

// ModelClient is implemented by a single ML model's wire client.
type ModelClient interface {
	Name() string
	DetectAnomalies(ctx context.Context, batch []flow.FlowRecord) ([]flow.Anomaly, error)
	HealthCheck(ctx context.Context) (bool, error)
}

// Clock is injected so health-check gating is testable.
type Clock func() time.Time

// Health is a point-in-time snapshot of a model client's health record.
type Health struct {
	Healthy      bool
	LastCheck    time.Time
	ErrorCount   int
	ResponseTime time.Duration
}

type health struct {
	healthy      bool
	lastCheck    time.Time
	errorCount   int
	responseTime time.Duration
	disabled     bool
}

// Manager runs every registered ModelClient against a batch, gating on
// health and never letting one client's failure mask another's results.
type Manager struct {
	mu                  sync.Mutex
	clients             map[string]ModelClient
	health              map[string]*health
	healthCheckInterval time.Duration
	maxErrorCount       int
	clock               Clock
	log                 zerolog.Logger
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithHealthCheckInterval overrides the default 300s health re-check gate.
func WithHealthCheckInterval(d time.Duration) Option {
	return func(m *Manager) { m.healthCheckInterval = d }
}

// WithMaxErrorCount overrides the default error-count ceiling of 5.
func WithMaxErrorCount(n int) Option {
	return func(m *Manager) { m.maxErrorCount = n }
}

// WithClock overrides the manager's time source.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// NewManager builds a Manager over the given clients, all initially healthy.
func NewManager(clients []ModelClient, opts ...Option) *Manager {
	m := &Manager{
		clients:             make(map[string]ModelClient, len(clients)),
		health:              make(map[string]*health, len(clients)),
		healthCheckInterval: 300 * time.Second,
		maxErrorCount:       5,
		clock:               time.Now,
		log:                 zerolog.New(io.Discard).With().Str("component", "mlclient").Logger(),
	}
	for _, c := range clients {
		m.clients[c.Name()] = c
		m.health[c.Name()] = &health{healthy: true, lastCheck: m.clock()}
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SetLogger attaches a destination logger; the zero value discards output.
func (m *Manager) SetLogger(l zerolog.Logger) { m.log = l }

// DetectAll runs every eligible client concurrently and concatenates their
// anomalies. A client error is logged and reflected in its health record but
// never suppresses another client's output — a failing LSTM endpoint must
// not hide what isolation forest already found.
func (m *Manager) DetectAll(ctx context.Context, batch []flow.FlowRecord) ([]flow.Anomaly, error) {
	names := m.eligibleNames(ctx)

	results := make([][]flow.Anomaly, len(names))
	group, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		group.Go(func() error {
			client := m.clientFor(name)
			if client == nil {
				return nil
			}
			start := m.clock()
			anomalies, err := client.DetectAnomalies(gctx, batch)
			elapsed := m.clock().Sub(start)
			if err != nil {
				m.recordResult(name, false, elapsed)
				m.log.Error().Err(err).Str("model", name).Msg("model detection failed")
				return nil
			}
			m.recordResult(name, true, elapsed)
			results[i] = anomalies
			return nil
		})
	}
	// errgroup.Group.Go never returns a non-nil error above; Wait always
	// succeeds, but the call is kept so a future fail-fast client can use it.
	_ = group.Wait()

	var all []flow.Anomaly
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

// eligibleNames returns the sorted names of clients currently eligible to
// run, performing any health checks whose interval has elapsed.
func (m *Manager) eligibleNames(ctx context.Context) []string {
	m.mu.Lock()
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	due := make([]string, 0)
	for _, name := range names {
		h := m.health[name]
		if m.clock().Sub(h.lastCheck) > m.healthCheckInterval {
			due = append(due, name)
		}
	}
	m.mu.Unlock()

	for _, name := range due {
		m.performHealthCheck(ctx, name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	eligible := make([]string, 0, len(names))
	for _, name := range names {
		h := m.health[name]
		if !h.disabled && h.healthy && h.errorCount < m.maxErrorCount {
			eligible = append(eligible, name)
		}
	}
	return eligible
}

func (m *Manager) clientFor(name string) ModelClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[name]
}

// performHealthCheck pings a client and updates its health record.
// On success the error count decrements toward zero rather than resetting,
// so one good check doesn't erase a real streak of failures.
func (m *Manager) performHealthCheck(ctx context.Context, name string) {
	client := m.clientFor(name)
	if client == nil {
		return
	}

	start := m.clock()
	ok, err := client.HealthCheck(ctx)
	elapsed := m.clock().Sub(start)

	m.mu.Lock()
	defer m.mu.Unlock()
	h, exists := m.health[name]
	if !exists {
		return
	}
	h.lastCheck = m.clock()
	h.responseTime = elapsed
	if err != nil || !ok {
		h.healthy = false
		h.errorCount++
		m.log.Warn().Err(err).Str("model", name).Int("errors", h.errorCount).Msg("health check failed")
		return
	}
	h.healthy = true
	if h.errorCount > 0 {
		h.errorCount--
	}
	m.log.Info().Str("model", name).Dur("response_time", elapsed).Int("errors", h.errorCount).Msg("health check passed")
}

// recordResult updates a client's health record following a detection call,
// mirroring performHealthCheck's error-count decay on success.
func (m *Manager) recordResult(name string, success bool, responseTime time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.health[name]
	if !ok {
		return
	}
	h.responseTime = responseTime
	if success {
		if h.errorCount > 0 {
			h.errorCount--
		}
		return
	}
	h.errorCount++
	h.healthy = false
}

// Status returns a snapshot of every registered client's health.
func (m *Manager) Status() map[string]Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Health, len(m.health))
	for name, h := range m.health {
		out[name] = Health{Healthy: h.healthy, LastCheck: h.lastCheck, ErrorCount: h.errorCount, ResponseTime: h.responseTime}
	}
	return out
}

// ResetErrors clears a client's error count and marks it healthy again.
func (m *Manager) ResetErrors(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.health[name]; ok {
		h.errorCount = 0
		h.healthy = true
	}
}

// Disable temporarily excludes a client from DetectAll regardless of health.
func (m *Manager) Disable(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.health[name]; ok {
		h.disabled = true
		h.healthy = false
	}
}

// Enable re-admits a previously disabled client and resets its error count.
func (m *Manager) Enable(ctx context.Context, name string) {
	m.mu.Lock()
	if h, ok := m.health[name]; ok {
		h.disabled = false
		h.errorCount = 0
		h.healthy = true
	}
	m.mu.Unlock()
	m.performHealthCheck(ctx, name)
}
