package detectors

import (
	"context"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/activecm/flowguard/pkg/flow"
	"github.com/activecm/flowguard/util"
)

var torPorts = map[uint16]struct{}{
	9001: {}, 9030: {}, 9050: {}, 9051: {}, 9150: {},
	443: {}, 80: {}, 8080: {}, 8443: {},
	9040: {}, 9053: {}, 9063: {}, 9090: {},
}

var torDirectoryPorts = map[uint16]struct{}{9030: {}, 80: {}, 443: {}}
var torBridgePorts = map[uint16]struct{}{443: {}, 80: {}, 8080: {}, 8443: {}}

// TorUsageDetector flags a source whose connections cluster around known Tor
// ports with circuit-building timing and keep-alive characteristics.
type TorUsageDetector struct {
	MinConnections      int
	ConfidenceThreshold float64
}

// NewTorUsageDetector builds a detector with the documented defaults.
func NewTorUsageDetector() *TorUsageDetector {
	return &TorUsageDetector{
		MinConnections:      3,
		ConfidenceThreshold: defaultConfidenceThreshold,
	}
}

func (d *TorUsageDetector) Name() string { return "tor_usage" }

type torConn struct {
	destKey   string
	timestamp time.Time
	bytes     uint64
	dstPort   uint16
}

type torActivity struct {
	connections  []torConn
	torDests     map[string]struct{}
	portsUsed    map[uint16]struct{}
}

func isPotentialTorNode(dstPort uint16) bool {
	_, ok := torPorts[dstPort]
	return ok
}

func (d *TorUsageDetector) Detect(ctx context.Context, batch []flow.FlowRecord, now time.Time) ([]flow.Anomaly, error) {
	activities := make(map[string]*torActivity)

	for _, rec := range batch {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		src := rec.SrcAddr.String()
		a, ok := activities[src]
		if !ok {
			a = &torActivity{torDests: make(map[string]struct{}), portsUsed: make(map[uint16]struct{})}
			activities[src] = a
		}

		destKey := fmt.Sprintf("%s:%d", rec.DstAddr.String(), rec.DstPort)
		a.connections = append(a.connections, torConn{destKey: destKey, timestamp: rec.Timestamp, bytes: rec.ByteCount, dstPort: rec.DstPort})
		a.portsUsed[rec.DstPort] = struct{}{}

		if isPotentialTorNode(rec.DstPort) {
			a.torDests[destKey] = struct{}{}
		}
	}

	srcs := make([]string, 0, len(activities))
	for k := range activities {
		srcs = append(srcs, k)
	}
	sort.Strings(srcs)

	var anomalies []flow.Anomaly
	for _, src := range srcs {
		a := activities[src]
		if len(a.connections) < d.MinConnections || len(a.torDests) == 0 {
			continue
		}

		score, indicators, keepAlive, err := d.validate(a)
		if err != nil {
			return anomalies, err
		}
		if score <= d.ConfidenceThreshold {
			continue
		}

		id, err := util.NewFixedStringHash("tor_usage", src, fmt.Sprint(now.Unix()))
		if err != nil {
			return anomalies, err
		}

		anomalies = append(anomalies, flow.Anomaly{
			ID:         id.Hex(),
			Kind:       flow.KindTorUsage,
			Confidence: score,
			DetectedAt: a.connections[len(a.connections)-1].timestamp,
			SrcAddr:    net.ParseIP(src),
			Detector:   d.Name(),
			Evidence: flow.TorUsageEvidence{
				ConnectionCount:  len(a.connections),
				TorIndicators:    indicators,
				DestDiversity:    len(a.torDests),
				UsageType:        classifyTorUsage(a),
				KeepAliveSeconds: keepAlive,
			},
		})
	}

	return anomalies, nil
}

// validate returns the confidence score, the count of positive indicator
// categories (port match, destination diversity, timing pattern — used by
// Tier-4 Stage 3's "tor indicators >= 2" rule), and the mean keep-alive
// interval observed, if any.
func (d *TorUsageDetector) validate(a *torActivity) (float64, int, float64, error) {
	score := 0.0
	indicators := 0

	torPortConns := 0
	for _, c := range a.connections {
		if _, ok := torPorts[c.dstPort]; ok {
			torPortConns++
		}
	}
	if torPortConns > 0 {
		ratio := float64(torPortConns) / float64(len(a.connections)) * 0.5
		if ratio > 0.4 {
			ratio = 0.4
		}
		score += ratio
		indicators++
	}

	switch diversity := len(a.torDests); {
	case diversity >= 3:
		score += 0.3
		indicators++
	case diversity >= 2:
		score += 0.2
		indicators++
	}

	timingScore, keepAlive, err := analyzeTorTiming(a.connections)
	if err != nil {
		return 0, 0, 0, err
	}
	if timingScore > 0 {
		indicators++
	}
	score += timingScore * 0.2

	volumeScore := analyzeTorVolume(a.connections)
	score += volumeScore * 0.1

	return clampConfidence(score), indicators, keepAlive, nil
}

func analyzeTorTiming(conns []torConn) (float64, float64, error) {
	if len(conns) < 3 {
		return 0, 0, nil
	}

	score := 0.0
	keepAlive := 0.0

	allTimestamps := make([]time.Time, 0, len(conns))
	for _, c := range conns {
		allTimestamps = append(allTimestamps, c.timestamp)
	}
	sort.Slice(allTimestamps, func(i, j int) bool { return allTimestamps[i].Before(allTimestamps[j]) })
	if len(allTimestamps) >= 3 {
		firstThreeSpan := allTimestamps[2].Sub(allTimestamps[0]).Seconds()
		if firstThreeSpan <= 30 {
			score += 0.5
		}
	}

	byDest := make(map[string][]time.Time)
	for _, c := range conns {
		byDest[c.destKey] = append(byDest[c.destKey], c.timestamp)
	}
	for _, timestamps := range byDest {
		if len(timestamps) <= 2 {
			continue
		}
		sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].Before(timestamps[j]) })
		intervals := make([]float64, 0, len(timestamps)-1)
		for i := 1; i < len(timestamps); i++ {
			intervals = append(intervals, timestamps[i].Sub(timestamps[i-1]).Seconds())
		}
		if len(intervals) == 0 {
			continue
		}
		meanInterval, err := stats.Mean(intervals)
		if err != nil {
			return 0, 0, fmt.Errorf("computing mean keep-alive interval: %w", err)
		}
		if meanInterval >= 60 && meanInterval <= 600 {
			score += 0.3
			keepAlive = meanInterval
		}
	}

	return clampConfidence(score), keepAlive, nil
}

func analyzeTorVolume(conns []torConn) float64 {
	if len(conns) == 0 {
		return 0
	}

	score := 0.0

	initial := append([]torConn(nil), conns...)
	sort.Slice(initial, func(i, j int) bool { return initial[i].timestamp.Before(initial[j].timestamp) })
	if len(initial) > 3 {
		initial = initial[:3]
	}
	smallPackets := 0
	for _, c := range initial {
		if c.bytes < 1000 {
			smallPackets++
		}
	}
	if smallPackets >= 2 {
		score += 0.4
	}

	sizeRanges := make(map[string]struct{})
	count := 0
	for _, c := range conns {
		if c.bytes == 0 {
			continue
		}
		count++
		switch {
		case c.bytes < 100:
			sizeRanges["small"] = struct{}{}
		case c.bytes < 1000:
			sizeRanges["medium"] = struct{}{}
		default:
			sizeRanges["large"] = struct{}{}
		}
	}
	if count > 5 && len(sizeRanges) >= 2 {
		score += 0.3
	}

	return clampConfidence(score)
}

func classifyTorUsage(a *torActivity) flow.TorUsageType {
	for port := range torDirectoryPorts {
		if _, ok := a.portsUsed[port]; ok {
			return flow.TorDirectoryAccess
		}
	}

	_, has9001 := a.portsUsed[9001]
	_, has9030 := a.portsUsed[9030]
	if has9001 || has9030 {
		return flow.TorRelayConnection
	}

	_, has9050 := a.portsUsed[9050]
	_, has9150 := a.portsUsed[9150]
	if has9050 || has9150 {
		return flow.TorSocksProxy
	}

	for port := range torBridgePorts {
		if _, ok := a.portsUsed[port]; ok {
			return flow.TorBridgeConnection
		}
	}

	if len(a.connections) >= 5 {
		return flow.TorCircuitBuilding
	}

	return flow.TorGeneralUsage
}
