package mlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/activecm/flowguard/pkg/flow"
	"github.com/activecm/flowguard/util"
)

// newAnomalyID derives a deterministic anomaly ID from the model name and
// flagged entities, mirroring the fixed-string IDs the Tier 1 detectors mint.
func newAnomalyID(model, src, dst string, now time.Time) (string, error) {
	h, err := util.NewFixedStringHash(model, src, dst, now.Format(time.RFC3339Nano))
	if err != nil {
		return "", err
	}
	return h.Hex(), nil
}

// HTTPModelClient wires a single ML model's wire client over HTTP REST/JSON,
// the shape of the Tier-2 model endpoints (isolation forest, LSTM, or any
// model exposing the same request/response contract).
type HTTPModelClient struct {
	name    string
	baseURL string
	client  *http.Client
}

// NewHTTPModelClient builds a client for the model reachable at baseURL.
// name identifies the model in health snapshots and evidence tags.
func NewHTTPModelClient(name, baseURL string, timeout time.Duration) *HTTPModelClient {
	return &HTTPModelClient{name: name, baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

func (c *HTTPModelClient) Name() string { return c.name }

// detectRequest mirrors one flow record on the wire.
type detectRequest struct {
	Timestamp   time.Time `json:"timestamp"`
	SrcAddr     string    `json:"src_addr"`
	DstAddr     string    `json:"dst_addr"`
	SrcPort     uint16    `json:"src_port"`
	DstPort     uint16    `json:"dst_port"`
	Protocol    string    `json:"protocol"`
	Action      string    `json:"action"`
	PacketCount uint64    `json:"packet_count"`
	ByteCount   uint64    `json:"byte_count"`
}

// detectResponse mirrors one model-flagged anomaly on the wire.
type detectResponse struct {
	SrcAddr     string   `json:"src_addr"`
	DstAddr     string   `json:"dst_addr"`
	DstPort     uint16   `json:"dst_port"`
	Score       float64  `json:"score"`
	Deviant     bool     `json:"deviant"`
	FeatureTags []string `json:"feature_tags"`
}

// DetectAnomalies POSTs the batch to the model's /detect endpoint and maps
// each flagged record back into a KindMLBehavioral (or KindBehavioralDeviant,
// if the model marks it deviant) Anomaly.
func (c *HTTPModelClient) DetectAnomalies(ctx context.Context, batch []flow.FlowRecord) ([]flow.Anomaly, error) {
	reqBody := make([]detectRequest, len(batch))
	for i, rec := range batch {
		reqBody[i] = detectRequest{
			Timestamp:   rec.Timestamp,
			SrcAddr:     rec.SrcAddr.String(),
			DstAddr:     rec.DstAddr.String(),
			SrcPort:     rec.SrcPort,
			DstPort:     rec.DstPort,
			Protocol:    string(rec.Protocol),
			Action:      string(rec.Action),
			PacketCount: rec.PacketCount,
			ByteCount:   rec.ByteCount,
		}
	}

	var results []detectResponse
	if err := c.postJSON(ctx, "/detect", reqBody, &results); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	anomalies := make([]flow.Anomaly, 0, len(results))
	for _, r := range results {
		kind := flow.KindMLBehavioral
		if r.Deviant {
			kind = flow.KindBehavioralDeviant
		}
		id, err := newAnomalyID(c.name, r.SrcAddr, r.DstAddr, now)
		if err != nil {
			continue
		}
		anomalies = append(anomalies, flow.Anomaly{
			ID:         id,
			Kind:       kind,
			Confidence: r.Score,
			DetectedAt: now,
			SrcAddr:    net.ParseIP(r.SrcAddr),
			DstAddr:    net.ParseIP(r.DstAddr),
			DstPort:    r.DstPort,
			HasDst:     r.DstPort != 0,
			Evidence: flow.MLBehavioralEvidence{
				ModelName:   c.name,
				Score:       r.Score,
				FeatureTags: r.FeatureTags,
			},
			Detector: c.name,
		})
	}
	return anomalies, nil
}

// HealthCheck calls the model's /healthz endpoint.
func (c *HTTPModelClient) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (c *HTTPModelClient) postJSON(ctx context.Context, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("mlclient: %s: encode request: %w", c.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("mlclient: %s: build request: %w", c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("mlclient: %s: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("mlclient: %s: unexpected status %d", c.name, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("mlclient: %s: decode response: %w", c.name, err)
	}
	return nil
}
