package detectors

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/activecm/flowguard/pkg/flow"
	"github.com/activecm/flowguard/util"
)

// DDoSDetector flags a destination address:port receiving an unusually high
// packet rate from a diverse set of sources within a short window.
type DDoSDetector struct {
	PacketRateThreshold float64
	CriticalThreshold   float64
	HighThreshold       float64
	TimeWindow          time.Duration
	ConfidenceThreshold float64
}

// NewDDoSDetector builds a detector with the documented defaults.
func NewDDoSDetector() *DDoSDetector {
	return &DDoSDetector{
		PacketRateThreshold: 1000,
		CriticalThreshold:   5000,
		HighThreshold:       2000,
		TimeWindow:          60 * time.Second,
		ConfidenceThreshold: defaultConfidenceThreshold,
	}
}

func (d *DDoSDetector) Name() string { return "ddos" }

type ddosConn struct {
	timestamp time.Time
	packets   uint64
	action    flow.Action
	protocol  flow.Protocol
}

type ddosTraffic struct {
	packetCount uint64
	byteCount   uint64
	sourceIPs   map[string]struct{}
	firstPacket time.Time
	lastPacket  time.Time
	connections []ddosConn
}

// Detect groups records by destination address:port and emits a DDOS
// anomaly when the packet rate over the observed window exceeds
// PacketRateThreshold and validation clears ConfidenceThreshold.
func (d *DDoSDetector) Detect(ctx context.Context, batch []flow.FlowRecord, now time.Time) ([]flow.Anomaly, error) {
	traffic := make(map[string]*ddosTraffic)
	var anomalies []flow.Anomaly

	for _, rec := range batch {
		select {
		case <-ctx.Done():
			return anomalies, ctx.Err()
		default:
		}

		destKey := fmt.Sprintf("%s:%d", rec.DstAddr.String(), rec.DstPort)
		t, ok := traffic[destKey]
		if !ok {
			t = &ddosTraffic{sourceIPs: make(map[string]struct{}), firstPacket: rec.Timestamp, lastPacket: rec.Timestamp}
			traffic[destKey] = t
		}

		t.packetCount += rec.PacketCount
		t.byteCount += rec.ByteCount
		t.sourceIPs[rec.SrcAddr.String()] = struct{}{}
		if rec.Timestamp.After(t.lastPacket) {
			t.lastPacket = rec.Timestamp
		}
		t.connections = append(t.connections, ddosConn{
			timestamp: rec.Timestamp,
			packets:   rec.PacketCount,
			action:    rec.Action,
			protocol:  rec.Protocol,
		})

		timeDiff := t.lastPacket.Sub(t.firstPacket).Seconds()
		if timeDiff > 0 && timeDiff <= d.TimeWindow.Seconds() {
			packetRate := float64(t.packetCount) / timeDiff
			if packetRate > d.PacketRateThreshold {
				score, err := d.validate(t, packetRate)
				if err != nil {
					return anomalies, err
				}

				if score > d.ConfidenceThreshold {
					id, err := util.NewFixedStringHash("ddos", destKey, fmt.Sprint(rec.Timestamp.Unix()))
					if err != nil {
						return anomalies, err
					}

					anomalies = append(anomalies, flow.Anomaly{
						ID:         id.Hex(),
						Kind:       flow.KindDDoS,
						Confidence: score,
						DetectedAt: rec.Timestamp,
						DstAddr:    net.ParseIP(rec.DstAddr.String()),
						DstPort:    rec.DstPort,
						HasDst:     true,
						Detector:   d.Name(),
						Evidence: flow.DDoSEvidence{
							PacketRate:    packetRate,
							SourceCount:   len(t.sourceIPs),
							AvgPacketSize: float64(t.byteCount) / float64(max64(t.packetCount, 1)),
							RejectionRate: rejectionRate(t.connections),
							SubType:       classifyDDoS(t),
						},
					})

					delete(traffic, destKey)
				}
			}
		}
	}

	return anomalies, nil
}

func (d *DDoSDetector) validate(t *ddosTraffic, packetRate float64) (float64, error) {
	score := 0.0

	switch {
	case packetRate > d.CriticalThreshold:
		score += 0.5
	case packetRate > d.HighThreshold:
		score += 0.3
	default:
		score += 0.1
	}

	switch sourceDiversity := len(t.sourceIPs); {
	case sourceDiversity > 100:
		score += 0.3
	case sourceDiversity > 10:
		score += 0.2
	default:
		score += 0.1
	}

	patternScore, err := analyzeDDoSPatterns(t.connections)
	if err != nil {
		return 0, err
	}
	score += patternScore * 0.2

	return clampConfidence(score), nil
}

func classifyDDoS(t *ddosTraffic) flow.DDoSSubType {
	sourceCount := len(t.sourceIPs)
	avgPacketSize := float64(t.byteCount) / float64(max64(t.packetCount, 1))

	protocols := make(map[flow.Protocol]struct{})
	for _, c := range t.connections {
		protocols[c.protocol] = struct{}{}
	}
	_, hasTCP := protocols[flow.ProtocolTCP]
	_, hasUDP := protocols[flow.ProtocolUDP]

	switch {
	case sourceCount > 100:
		if avgPacketSize < 100 {
			return flow.DDoSVolumetricFlood
		}
		return flow.DDoSAmplificationAttk
	case sourceCount > 10:
		switch {
		case hasTCP:
			return flow.DDoSSynFlood
		case hasUDP:
			return flow.DDoSUDPFlood
		default:
			return flow.DDoSProtocolAttack
		}
	default:
		return flow.DDoSSingleSourceFlood
	}
}

// analyzeDDoSPatterns scores automation indicators: uniform packet sizes,
// sub-second interarrival, and high rejection rate.
func analyzeDDoSPatterns(conns []ddosConn) (float64, error) {
	if len(conns) < 10 {
		return 0.0, nil
	}

	score := 0.0

	sizes := make(map[uint64]struct{})
	for _, c := range conns {
		sizes[c.packets] = struct{}{}
	}
	if float64(len(sizes)) < float64(len(conns))*0.3 {
		score += 0.3
	}

	intervals := make([]float64, 0, len(conns)-1)
	for i := 1; i < len(conns); i++ {
		intervals = append(intervals, conns[i].timestamp.Sub(conns[i-1].timestamp).Seconds())
	}
	if len(intervals) > 0 {
		avgInterval, err := stats.Mean(intervals)
		if err != nil {
			return 0, fmt.Errorf("computing mean interarrival: %w", err)
		}
		if avgInterval < 1.0 {
			score += 0.4
		}
	}

	if rejectionRate(conns) > 0.7 {
		score += 0.3
	}

	return clampConfidence(score), nil
}

func rejectionRate(conns []ddosConn) float64 {
	if len(conns) == 0 {
		return 0
	}
	rejected := 0
	for _, c := range conns {
		if c.action == flow.ActionReject {
			rejected++
		}
	}
	return float64(rejected) / float64(len(conns))
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
