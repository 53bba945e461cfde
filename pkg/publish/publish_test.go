package publish

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/activecm/flowguard/pkg/flow"
)

type fakeBus struct {
	name       string
	failErr    error
	findings   [][]flow.Finding
	sysEvents  []SystemEvent
}

func (b *fakeBus) Name() string { return b.name }

func (b *fakeBus) PublishFindings(ctx context.Context, findings []flow.Finding) error {
	if b.failErr != nil {
		return b.failErr
	}
	b.findings = append(b.findings, findings)
	return nil
}

func (b *fakeBus) PublishSystemEvent(ctx context.Context, event SystemEvent) error {
	if b.failErr != nil {
		return b.failErr
	}
	b.sysEvents = append(b.sysEvents, event)
	return nil
}

func mkFindings(n int) []flow.Finding {
	findings := make([]flow.Finding, n)
	for i := range findings {
		findings[i] = flow.Finding{ID: string(rune('a' + i))}
	}
	return findings
}

func TestPublisher_PrimarySucceedsNoFallback(t *testing.T) {
	primary := &fakeBus{name: "primary"}
	p := NewPublisher(primary, nil, nil, nil, zerolog.Nop())

	err := p.PublishFindings(context.Background(), mkFindings(3))
	require.NoError(t, err)
	require.Len(t, primary.findings, 1)
	require.Len(t, primary.findings[0], 3)
}

func TestPublisher_ChunksAtTenPerCall(t *testing.T) {
	primary := &fakeBus{name: "primary"}
	p := NewPublisher(primary, nil, nil, nil, zerolog.Nop())

	err := p.PublishFindings(context.Background(), mkFindings(25))
	require.NoError(t, err)
	require.Len(t, primary.findings, 3)
	require.Len(t, primary.findings[0], 10)
	require.Len(t, primary.findings[1], 10)
	require.Len(t, primary.findings[2], 5)
}

func TestPublisher_FailsOverToFallback(t *testing.T) {
	primary := &fakeBus{name: "primary", failErr: errors.New("down")}
	fallback := &fakeBus{name: "fallback"}
	p := NewPublisher(primary, fallback, nil, nil, zerolog.Nop())

	err := p.PublishFindings(context.Background(), mkFindings(2))
	require.NoError(t, err)
	require.Empty(t, primary.findings)
	require.Len(t, fallback.findings, 1)
}

func TestPublisher_BothBusesFailWritesToOutbox(t *testing.T) {
	dir := t.TempDir()
	outboxPath := filepath.Join(dir, "outbox.jsonl")
	outbox, err := NewOutbox(outboxPath, nil, zerolog.Nop())
	require.NoError(t, err)
	defer outbox.Close()

	primary := &fakeBus{name: "primary", failErr: errors.New("down")}
	fallback := &fakeBus{name: "fallback", failErr: errors.New("also down")}
	p := NewPublisher(primary, fallback, outbox, nil, zerolog.Nop())

	err = p.PublishFindings(context.Background(), mkFindings(2))
	require.NoError(t, err)

	f, err := os.Open(outboxPath)
	require.NoError(t, err)
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
	}
	require.Equal(t, 2, lines)
}

func TestPublisher_NoBusAndNoOutboxReturnsError(t *testing.T) {
	primary := &fakeBus{name: "primary", failErr: errors.New("down")}
	p := NewPublisher(primary, nil, nil, nil, zerolog.Nop())

	err := p.PublishFindings(context.Background(), mkFindings(1))
	require.Error(t, err)
}

func TestPublisher_SystemEventFallsOverOnPrimaryFailure(t *testing.T) {
	primary := &fakeBus{name: "primary", failErr: errors.New("down")}
	fallback := &fakeBus{name: "fallback"}
	p := NewPublisher(primary, fallback, nil, nil, zerolog.Nop())

	err := p.PublishSystemEvent(context.Background(), "breaker_trip", "flowguard", map[string]any{"breaker": "ml-client"})
	require.NoError(t, err)
	require.Len(t, fallback.sysEvents, 1)
	require.Equal(t, "breaker_trip", fallback.sysEvents[0].EventType)
}

func TestMetrics_RegistersWithoutPanicking(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NotNil(t, m)
}
