package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/activecm/flowguard/pkg/flow"
)

// HTTPBus delivers findings and system events as JSON POSTs to a downstream
// webhook collector. It is the default Bus implementation: no message broker
// or cloud event bus is assumed, only an HTTP endpoint the consumer exposes.
type HTTPBus struct {
	name            string
	findingsURL     string
	systemEventsURL string
	client          *http.Client
}

// NewHTTPBus builds an HTTPBus posting findings to findingsURL and system
// events to systemEventsURL. name identifies the bus in logs and metrics
// (e.g. "primary", "fallback").
func NewHTTPBus(name, findingsURL, systemEventsURL string, timeout time.Duration) *HTTPBus {
	return &HTTPBus{
		name:            name,
		findingsURL:     findingsURL,
		systemEventsURL: systemEventsURL,
		client:          &http.Client{Timeout: timeout},
	}
}

func (b *HTTPBus) Name() string { return b.name }

// findingsPayload mirrors the wire shape of one chunk of findings.
type findingsPayload struct {
	Findings []flow.Finding `json:"findings"`
}

func (b *HTTPBus) PublishFindings(ctx context.Context, findings []flow.Finding) error {
	return b.postJSON(ctx, b.findingsURL, findingsPayload{Findings: findings})
}

// systemEventPayload mirrors the wire shape of one SystemEvent.
type systemEventPayload struct {
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Service   string         `json:"service"`
	Details   map[string]any `json:"details"`
}

func (b *HTTPBus) PublishSystemEvent(ctx context.Context, event SystemEvent) error {
	return b.postJSON(ctx, b.systemEventsURL, systemEventPayload{
		EventType: event.EventType,
		Timestamp: event.Timestamp,
		Service:   event.Service,
		Details:   event.Details,
	})
}

func (b *HTTPBus) postJSON(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("publish: %s: encode payload: %w", b.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("publish: %s: build request: %w", b.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("publish: %s: %w", b.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("publish: %s: unexpected status %d from %s", b.name, resp.StatusCode, url)
	}
	return nil
}
