// Package publish emits validated Findings to a downstream event bus. It
// chunks batches to the bus's per-call limit, fails over from a primary bus
// to a fallback, and writes anything that survives both to an on-disk outbox
// so no Finding is silently dropped.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/activecm/flowguard/pkg/flow"
)

// maxChunkSize is the largest batch a Bus is asked to accept in one call,
// matching EventBridge's PutEvents entry limit.
const maxChunkSize = 10

// SystemEvent is an operational event (health, breaker trip, pipeline
// failure) published alongside Findings.
type SystemEvent struct {
	EventType string
	Timestamp time.Time
	Service   string
	Details   map[string]any
}

// Bus delivers findings and system events to a downstream collaborator (an
// event bus, message queue, or webhook sink). Implementations should treat a
// non-nil error as a total failure of the call; Publisher does not attempt
// partial-batch retry within a single Bus.Publish call.
type Bus interface {
	Name() string
	PublishFindings(ctx context.Context, findings []flow.Finding) error
	PublishSystemEvent(ctx context.Context, event SystemEvent) error
}

// Outbox persists findings that neither the primary nor fallback bus could
// accept, as newline-delimited JSON, so they can be replayed later instead of
// being lost.
type Outbox struct {
	mu      sync.Mutex
	file    io.WriteCloser
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewOutbox opens (creating if necessary) an append-only JSONL file at path.
// limiter paces how fast the outbox accepts writes, mirroring the batch
// writer's rate-limited flush.
func NewOutbox(path string, limiter *rate.Limiter, log zerolog.Logger) (*Outbox, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("publish: open outbox: %w", err)
	}
	return &Outbox{file: f, limiter: limiter, log: log}, nil
}

// Write appends one Finding to the outbox, waiting on the rate limiter first.
func (o *Outbox) Write(ctx context.Context, finding flow.Finding) error {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	data, err := json.Marshal(finding)
	if err != nil {
		return fmt.Errorf("publish: marshal finding for outbox: %w", err)
	}
	data = append(data, '\n')

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, err := o.file.Write(data); err != nil {
		return fmt.Errorf("publish: write outbox entry: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (o *Outbox) Close() error { return o.file.Close() }

// Metrics are the Prometheus collectors a Publisher reports against.
type Metrics struct {
	Published       prometheus.Counter
	Failed          prometheus.Counter
	Failovers       prometheus.Counter
	OutboxWrites    prometheus.Counter
	SuccessRatio    prometheus.Gauge
}

// NewMetrics builds and registers a fresh Metrics set against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowguard_publish_findings_total",
			Help: "Total findings successfully published to a bus.",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowguard_publish_failed_total",
			Help: "Total findings that neither the primary nor fallback bus accepted.",
		}),
		Failovers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowguard_publish_failovers_total",
			Help: "Total batches that fell back to the secondary bus.",
		}),
		OutboxWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowguard_publish_outbox_writes_total",
			Help: "Total findings written to the on-disk outbox after both buses failed.",
		}),
		SuccessRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowguard_publish_success_ratio",
			Help: "Rolling ratio of findings published successfully to findings attempted.",
		}),
	}
	reg.MustRegister(m.Published, m.Failed, m.Failovers, m.OutboxWrites, m.SuccessRatio)
	return m
}

// Publisher delivers Findings through a primary Bus, failing over to an
// optional secondary Bus, and finally to an Outbox if both buses reject a
// chunk.
type Publisher struct {
	Primary  Bus
	Fallback Bus
	Outbox   *Outbox
	Metrics  *Metrics
	log      zerolog.Logger

	mu        sync.Mutex
	attempted uint64
	succeeded uint64
}

// NewPublisher builds a Publisher. fallback and outbox may be nil.
func NewPublisher(primary, fallback Bus, outbox *Outbox, metrics *Metrics, log zerolog.Logger) *Publisher {
	return &Publisher{Primary: primary, Fallback: fallback, Outbox: outbox, Metrics: metrics, log: log}
}

// PublishFindings chunks findings into groups of at most 10 and publishes
// each chunk, trying the fallback bus if the primary fails, and writing to
// the outbox anything that clears neither.
func (p *Publisher) PublishFindings(ctx context.Context, findings []flow.Finding) error {
	var firstErr error
	for start := 0; start < len(findings); start += maxChunkSize {
		end := start + maxChunkSize
		if end > len(findings) {
			end = len(findings)
		}
		if err := p.publishChunk(ctx, findings[start:end]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Publisher) publishChunk(ctx context.Context, chunk []flow.Finding) error {
	p.recordAttempt(len(chunk))

	if p.Primary != nil {
		if err := p.Primary.PublishFindings(ctx, chunk); err == nil {
			p.recordSuccess(len(chunk))
			return nil
		} else {
			p.log.Warn().Err(err).Str("bus", p.Primary.Name()).Int("count", len(chunk)).Msg("primary publish failed")
		}
	}

	if p.Fallback != nil {
		if p.Metrics != nil {
			p.Metrics.Failovers.Inc()
		}
		if err := p.Fallback.PublishFindings(ctx, chunk); err == nil {
			p.recordSuccess(len(chunk))
			return nil
		}
		p.log.Warn().Str("bus", p.Fallback.Name()).Int("count", len(chunk)).Msg("fallback publish failed")
	}

	return p.outboxChunk(ctx, chunk)
}

func (p *Publisher) outboxChunk(ctx context.Context, chunk []flow.Finding) error {
	if p.Outbox == nil {
		if p.Metrics != nil {
			p.Metrics.Failed.Add(float64(len(chunk)))
		}
		return fmt.Errorf("publish: all buses failed and no outbox configured for %d findings", len(chunk))
	}

	var firstErr error
	for _, f := range chunk {
		if err := p.Outbox.Write(ctx, f); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if p.Metrics != nil {
				p.Metrics.Failed.Inc()
			}
			continue
		}
		if p.Metrics != nil {
			p.Metrics.OutboxWrites.Inc()
		}
	}
	return firstErr
}

// PublishSystemEvent publishes a system event to the primary bus, falling
// back to the secondary bus on failure. System events are never outboxed:
// they describe transient operational state, not durable findings.
func (p *Publisher) PublishSystemEvent(ctx context.Context, eventType string, service string, details map[string]any) error {
	event := SystemEvent{EventType: eventType, Timestamp: time.Now().UTC(), Service: service, Details: details}

	if p.Primary != nil {
		if err := p.Primary.PublishSystemEvent(ctx, event); err == nil {
			return nil
		}
	}
	if p.Fallback != nil {
		return p.Fallback.PublishSystemEvent(ctx, event)
	}
	return fmt.Errorf("publish: no bus accepted system event %q", eventType)
}

func (p *Publisher) recordAttempt(n int) {
	p.mu.Lock()
	p.attempted += uint64(n)
	p.mu.Unlock()
}

func (p *Publisher) recordSuccess(n int) {
	p.mu.Lock()
	p.succeeded += uint64(n)
	ratio := float64(p.succeeded) / float64(p.attempted)
	p.mu.Unlock()

	if p.Metrics != nil {
		p.Metrics.Published.Add(float64(n))
		p.Metrics.SuccessRatio.Set(ratio)
	}
}
