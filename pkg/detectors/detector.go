// Package detectors implements the five Tier-1 statistical detectors:
// port-scan, DDoS, C2 beaconing, crypto-mining, and Tor usage. Each shares a
// two-phase shape — pattern enumeration over the batch, then multi-indicator
// confidence validation — and emits an anomaly only once its confidence
// clears the detector's threshold.
package detectors

import (
	"context"
	"time"

	"github.com/activecm/flowguard/pkg/flow"
)

// Detector screens a batch and returns the anomalies it found. A detector
// must be safe to invoke concurrently with other detectors over the same
// batch; it must not mutate the batch.
type Detector interface {
	Name() string
	Detect(ctx context.Context, batch []flow.FlowRecord, now time.Time) ([]flow.Anomaly, error)
}

// Clock is injected so tests can fix "now" and keep detectors pure.
type Clock func() time.Time

const defaultConfidenceThreshold = 0.8

// wellKnownPorts mirrors the original detector's list used to score port
// diversity for the port-scan heuristic.
var wellKnownPorts = map[uint16]struct{}{
	21: {}, 22: {}, 23: {}, 25: {}, 53: {}, 80: {}, 110: {}, 143: {},
	443: {}, 993: {}, 995: {},
}

func isWellKnownPort(p uint16) bool {
	_, ok := wellKnownPorts[p]
	return ok
}

// clampConfidence keeps a validation score within [0,1].
func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
