package mlclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/activecm/flowguard/pkg/flow"
)

type fakeClient struct {
	name        string
	anomalies   []flow.Anomaly
	detectErr   error
	healthy     bool
	healthErr   error
	healthCalls int
	detectCalls int
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) DetectAnomalies(ctx context.Context, batch []flow.FlowRecord) ([]flow.Anomaly, error) {
	f.detectCalls++
	if f.detectErr != nil {
		return nil, f.detectErr
	}
	return f.anomalies, nil
}

func (f *fakeClient) HealthCheck(ctx context.Context) (bool, error) {
	f.healthCalls++
	return f.healthy, f.healthErr
}

func TestManager_DetectAll_ConcatenatesAcrossClients(t *testing.T) {
	a := &fakeClient{name: "isolation_forest", healthy: true, anomalies: []flow.Anomaly{{ID: "a1", Kind: flow.KindMLBehavioral}}}
	b := &fakeClient{name: "lstm", healthy: true, anomalies: []flow.Anomaly{{ID: "b1", Kind: flow.KindMLBehavioral}}}

	m := NewManager([]ModelClient{a, b})
	out, err := m.DetectAll(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func TestManager_DetectAll_OneFailureDoesNotMaskOthers(t *testing.T) {
	good := &fakeClient{name: "isolation_forest", healthy: true, anomalies: []flow.Anomaly{{ID: "a1"}}}
	bad := &fakeClient{name: "lstm", healthy: true, detectErr: errors.New("endpoint unavailable")}

	m := NewManager([]ModelClient{good, bad})
	out, err := m.DetectAll(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "a1", out[0].ID)

	status := m.Status()
	require.Equal(t, 1, status["lstm"].ErrorCount)
	require.False(t, status["lstm"].Healthy)
	require.Equal(t, 0, status["isolation_forest"].ErrorCount)
}

func TestManager_FailureExcludesClientUntilNextHealthCheck(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }

	bad := &fakeClient{name: "lstm", healthy: true, detectErr: errors.New("boom")}
	m := NewManager([]ModelClient{bad}, WithClock(clock), WithHealthCheckInterval(300*time.Second))

	_, err := m.DetectAll(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, bad.detectCalls)
	require.False(t, m.Status()["lstm"].Healthy)

	// same instant: no health-check interval has elapsed, so the client
	// stays marked unhealthy and is skipped rather than invoked again
	_, err = m.DetectAll(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, bad.detectCalls, "unhealthy client must not be invoked before its next health check")

	// once the interval elapses and the endpoint recovers, it's re-admitted
	now = now.Add(301 * time.Second)
	bad.healthy = true
	bad.detectErr = nil
	_, err = m.DetectAll(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 2, bad.detectCalls)
	require.True(t, m.Status()["lstm"].Healthy)
	require.Equal(t, 0, m.Status()["lstm"].ErrorCount)
}

func TestManager_HealthCheckGatesOnInterval(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }

	c := &fakeClient{name: "isolation_forest", healthy: true, anomalies: []flow.Anomaly{{ID: "a1"}}}
	m := NewManager([]ModelClient{c}, WithClock(clock), WithHealthCheckInterval(300*time.Second))

	_, err := m.DetectAll(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 0, c.healthCalls, "fresh client should not re-check before the interval elapses")

	now = now.Add(301 * time.Second)
	_, err = m.DetectAll(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, c.healthCalls)
}

func TestManager_HealthCheckErrorCountDecaysTowardZero(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }

	c := &fakeClient{name: "isolation_forest", healthy: false}
	m := NewManager([]ModelClient{c}, WithClock(clock), WithHealthCheckInterval(300*time.Second))

	// two failed health checks, each a full interval apart, build up errorCount
	now = now.Add(301 * time.Second)
	_, _ = m.DetectAll(context.Background(), nil)
	require.Equal(t, 1, m.Status()["isolation_forest"].ErrorCount)

	now = now.Add(301 * time.Second)
	_, _ = m.DetectAll(context.Background(), nil)
	require.Equal(t, 2, m.Status()["isolation_forest"].ErrorCount)

	// recovery: the passing check and the successful detection call that
	// follows it each decrement the count by one, never below zero
	c.healthy = true
	now = now.Add(301 * time.Second)
	_, _ = m.DetectAll(context.Background(), nil)
	require.Equal(t, 0, m.Status()["isolation_forest"].ErrorCount)

	now = now.Add(301 * time.Second)
	_, _ = m.DetectAll(context.Background(), nil)
	require.Equal(t, 0, m.Status()["isolation_forest"].ErrorCount)
}

func TestManager_DisableExcludesClient(t *testing.T) {
	c := &fakeClient{name: "lstm", healthy: true, anomalies: []flow.Anomaly{{ID: "b1"}}}
	m := NewManager([]ModelClient{c})

	m.Disable("lstm")
	out, err := m.DetectAll(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, out)

	m.Enable(context.Background(), "lstm")
	out, err = m.DetectAll(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
}
