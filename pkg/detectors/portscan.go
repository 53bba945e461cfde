package detectors

import (
	"context"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/activecm/flowguard/pkg/flow"
	"github.com/activecm/flowguard/util"
)

// PortScanDetector flags a source address that touches an unusually large
// number of distinct destination ports within a short window.
type PortScanDetector struct {
	PortThreshold       int
	TimeWindow          time.Duration
	ConfidenceThreshold float64
}

// NewPortScanDetector builds a detector with the documented defaults.
func NewPortScanDetector() *PortScanDetector {
	return &PortScanDetector{
		PortThreshold:       20,
		TimeWindow:          60 * time.Second,
		ConfidenceThreshold: defaultConfidenceThreshold,
	}
}

func (d *PortScanDetector) Name() string { return "port_scan" }

type portScanCandidate struct {
	firstSeen   time.Time
	ports       map[uint16]struct{}
	connections []flow.SampleConn
}

// Detect groups records by source address and emits a PORT_SCAN anomaly the
// first time, within TimeWindow of a source's first connection, its unique
// destination port count exceeds PortThreshold and the multi-indicator
// validation score clears ConfidenceThreshold. A source is reset after
// emission so repeated scans in later windows are detected again.
func (d *PortScanDetector) Detect(ctx context.Context, batch []flow.FlowRecord, now time.Time) ([]flow.Anomaly, error) {
	candidates := make(map[string]*portScanCandidate)
	var anomalies []flow.Anomaly

	for _, rec := range batch {
		select {
		case <-ctx.Done():
			return anomalies, ctx.Err()
		default:
		}

		src := rec.SrcAddr.String()
		c, ok := candidates[src]
		if !ok {
			c = &portScanCandidate{firstSeen: rec.Timestamp, ports: make(map[uint16]struct{})}
			candidates[src] = c
		}

		c.ports[rec.DstPort] = struct{}{}
		c.connections = append(c.connections, flow.SampleConn{DstPort: rec.DstPort, Action: rec.Action})

		timeDiff := rec.Timestamp.Sub(c.firstSeen)
		if timeDiff <= d.TimeWindow && len(c.ports) > d.PortThreshold {
			score := d.validate(c)
			if score > d.ConfidenceThreshold {
				id, err := util.NewFixedStringHash("port_scan", src, fmt.Sprint(rec.Timestamp.Unix()))
				if err != nil {
					return anomalies, err
				}

				anomalies = append(anomalies, flow.Anomaly{
					ID:         id.Hex(),
					Kind:       flow.KindPortScan,
					Confidence: score,
					DetectedAt: rec.Timestamp,
					SrcAddr:    net.ParseIP(src),
					Detector:   d.Name(),
					Evidence: flow.PortScanEvidence{
						UniquePorts:     len(c.ports),
						TimeWindow:      timeDiff,
						SampleConns:     c.connections,
						SuccessRate:     successRate(c.connections),
						SequentialRatio: sequentialRatio(c.ports),
					},
				})

				// reset the candidate to avoid duplicate detections in the same window
				delete(candidates, src)
			}
		}
	}

	return anomalies, nil
}

func (d *PortScanDetector) validate(c *portScanCandidate) float64 {
	score := 0.0
	score += portDiversity(c.ports) * 0.3

	if successRate(c.connections) < 0.1 {
		score += 0.4
	}

	score += sequentialRatio(c.ports) * 0.3
	return clampConfidence(score)
}

func portDiversity(ports map[uint16]struct{}) float64 {
	if len(ports) < 5 {
		return 0.0
	}

	wellKnownCount := 0
	for p := range ports {
		if isWellKnownPort(p) {
			wellKnownCount++
		}
	}

	ratio := float64(wellKnownCount) / float64(len(ports))
	switch {
	case ratio >= 0.2 && ratio <= 0.8:
		return 0.8
	case ratio < 0.2:
		return 0.6
	default:
		return 0.4
	}
}

func successRate(conns []flow.SampleConn) float64 {
	if len(conns) == 0 {
		return 0.0
	}
	success := 0
	for _, c := range conns {
		if c.Action == flow.ActionAccept {
			success++
		}
	}
	return float64(success) / float64(len(conns))
}

func sequentialRatio(ports map[uint16]struct{}) float64 {
	if len(ports) < 5 {
		return 0.0
	}

	sorted := make([]int, 0, len(ports))
	for p := range ports {
		sorted = append(sorted, int(p))
	}
	sort.Ints(sorted)

	sequential := 0
	for i := 0; i < len(sorted)-1; i++ {
		if sorted[i+1]-sorted[i] == 1 {
			sequential++
		}
	}

	ratio := float64(sequential) / float64(len(sorted)-1)
	return clampConfidence(ratio * 2)
}
