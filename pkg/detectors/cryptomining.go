package detectors

import (
	"context"
	"fmt"
	"math"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/activecm/flowguard/pkg/flow"
	"github.com/activecm/flowguard/util"
)

var miningPorts = map[uint16]struct{}{
	3333: {}, 4444: {}, 8333: {}, 8080: {}, 9999: {},
	14444: {}, 25565: {}, 30303: {}, 8545: {},
}

var miningPoolPatterns = []string{
	"stratum", "pool", "mining", "mine", "crypto",
	"btc", "eth", "xmr", "monero", "bitcoin", "ethereum",
}

// CryptoMiningDetector flags a source sustaining persistent, high-volume
// connections to known mining ports or pool-like destinations.
type CryptoMiningDetector struct {
	MinConnections      int
	DataThreshold       uint64
	ConfidenceThreshold float64
}

// NewCryptoMiningDetector builds a detector with the documented defaults.
func NewCryptoMiningDetector() *CryptoMiningDetector {
	return &CryptoMiningDetector{
		MinConnections:      5,
		DataThreshold:       1024 * 1024,
		ConfidenceThreshold: defaultConfidenceThreshold,
	}
}

func (d *CryptoMiningDetector) Name() string { return "crypto_mining" }

type miningConn struct {
	destKey   string
	timestamp time.Time
	bytes     uint64
	protocol  flow.Protocol
	dstPort   uint16
}

type miningActivity struct {
	connections  []miningConn
	totalBytes   uint64
	miningDests  map[string]struct{}
	protocols    map[flow.Protocol]struct{}
}

func isPotentialMiningDestination(dstAddr net.IP, dstPort uint16) bool {
	if _, ok := miningPorts[dstPort]; ok {
		return true
	}
	lower := strings.ToLower(dstAddr.String())
	for _, pattern := range miningPoolPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

func (d *CryptoMiningDetector) Detect(ctx context.Context, batch []flow.FlowRecord, now time.Time) ([]flow.Anomaly, error) {
	activities := make(map[string]*miningActivity)

	for _, rec := range batch {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		src := rec.SrcAddr.String()
		a, ok := activities[src]
		if !ok {
			a = &miningActivity{miningDests: make(map[string]struct{}), protocols: make(map[flow.Protocol]struct{})}
			activities[src] = a
		}

		destKey := fmt.Sprintf("%s:%d", rec.DstAddr.String(), rec.DstPort)
		a.connections = append(a.connections, miningConn{
			destKey:   destKey,
			timestamp: rec.Timestamp,
			bytes:     rec.ByteCount,
			protocol:  rec.Protocol,
			dstPort:   rec.DstPort,
		})
		a.totalBytes += rec.ByteCount
		a.protocols[rec.Protocol] = struct{}{}

		if isPotentialMiningDestination(rec.DstAddr, rec.DstPort) {
			a.miningDests[destKey] = struct{}{}
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
		if len(a.connections) < d.MinConnections || a.totalBytes < d.DataThreshold || len(a.miningDests) == 0 {
			continue
		}

		score, err := d.validate(a)
		if err != nil {
			return anomalies, err
		}
		if score <= d.ConfidenceThreshold {
			continue
		}

		id, err := util.NewFixedStringHash("crypto_mining", src, fmt.Sprint(now.Unix()))
		if err != nil {
			return anomalies, err
		}

		anomalies = append(anomalies, flow.Anomaly{
			ID:         id.Hex(),
			Kind:       flow.KindCryptoMining,
			Confidence: score,
			DetectedAt: a.connections[len(a.connections)-1].timestamp,
			SrcAddr:    net.ParseIP(src),
			Detector:   d.Name(),
			Evidence: flow.CryptoMiningEvidence{
				ConnectionCount: len(a.connections),
				TotalBytes:      a.totalBytes,
				MiningPortHit:   true,
				Protocol:        identifyMiningProtocol(a),
				PersistMinutes:  connectionPersistence(a.connections) / 60,
			},
		})
	}

	return anomalies, nil
}

func (d *CryptoMiningDetector) validate(a *miningActivity) (float64, error) {
	score := 0.0

	miningPortConns := 0
	for _, c := range a.connections {
		if _, ok := miningPorts[c.dstPort]; ok {
			miningPortConns++
		}
	}
	if miningPortConns > 0 {
		ratio := float64(miningPortConns) / float64(len(a.connections))
		if ratio > 0.4 {
			ratio = 0.4
		}
		score += ratio
	}

	persistence := connectionPersistence(a.connections)
	switch {
	case persistence > 300:
		score += 0.3
	case persistence > 60:
		score += 0.2
	}

	dataPatternScore, err := analyzeMiningDataPatterns(a.connections)
	if err != nil {
		return 0, err
	}
	score += dataPatternScore * 0.2

	if _, ok := a.protocols[flow.ProtocolTCP]; ok {
		score += 0.1
	}

	return clampConfidence(score), nil
}

func connectionPersistence(conns []miningConn) float64 {
	if len(conns) < 2 {
		return 0
	}

	byDest := make(map[string][]time.Time)
	for _, c := range conns {
		byDest[c.destKey] = append(byDest[c.destKey], c.timestamp)
	}

	maxDuration := 0.0
	for _, timestamps := range byDest {
		if len(timestamps) <= 1 {
			continue
		}
		sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].Before(timestamps[j]) })
		duration := timestamps[len(timestamps)-1].Sub(timestamps[0]).Seconds()
		if duration > maxDuration {
			maxDuration = duration
		}
	}
	return maxDuration
}

func analyzeMiningDataPatterns(conns []miningConn) (float64, error) {
	if len(conns) == 0 {
		return 0, nil
	}

	score := 0.0

	byteSizes := make([]float64, 0, len(conns))
	for _, c := range conns {
		if c.bytes > 0 {
			byteSizes = append(byteSizes, float64(c.bytes))
		}
	}
	if len(byteSizes) > 5 {
		meanSize, err := stats.Mean(byteSizes)
		if err != nil {
			return 0, fmt.Errorf("computing mean byte size: %w", err)
		}
		if meanSize > 0 {
			variance := 0.0
			if len(byteSizes) > 1 {
				v, err := stats.Variance(byteSizes)
				if err != nil {
					return 0, fmt.Errorf("computing byte size variance: %w", err)
				}
				variance = v
			}
			cv := math.Sqrt(variance) / meanSize
			if cv < 0.5 {
				score += 0.5
			}
		}
	}

	outboundBytes := uint64(0)
	for _, c := range conns {
		outboundBytes += c.bytes
	}
	if outboundBytes > 1000 {
		score += 0.3
	}

	timestamps := make([]time.Time, 0, len(conns))
	for _, c := range conns {
		timestamps = append(timestamps, c.timestamp)
	}
	if len(timestamps) > 3 {
		sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].Before(timestamps[j]) })
		intervals := make([]float64, 0, len(timestamps)-1)
		for i := 1; i < len(timestamps); i++ {
			intervals = append(intervals, timestamps[i].Sub(timestamps[i-1]).Seconds())
		}
		if len(intervals) > 0 {
			meanInterval, err := stats.Mean(intervals)
			if err != nil {
				return 0, fmt.Errorf("computing mean interval: %w", err)
			}
			if meanInterval >= 10 && meanInterval <= 300 {
				score += 0.2
			}
		}
	}

	return clampConfidence(score), nil
}

func identifyMiningProtocol(a *miningActivity) flow.MiningProtocol {
	portsUsed := make(map[uint16]struct{})
	for _, c := range a.connections {
		portsUsed[c.dstPort] = struct{}{}
	}

	_, has3333 := portsUsed[3333]
	_, has4444 := portsUsed[4444]
	if has3333 || has4444 {
		return flow.MiningStratum
	}
	if _, ok := portsUsed[8333]; ok {
		return flow.MiningBitcoinRPC
	}
	if _, ok := portsUsed[30303]; ok {
		return flow.MiningEthereum
	}
	_, has8080 := portsUsed[8080]
	_, has8545 := portsUsed[8545]
	if has8080 || has8545 {
		return flow.MiningHTTP
	}
	return flow.MiningUnknown
}
