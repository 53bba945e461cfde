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

// C2BeaconDetector flags a (source, destination, destination port) triple
// whose connection timestamps are spaced with low-variance intervals —
// characteristic of command-and-control check-ins.
type C2BeaconDetector struct {
	MinConnections      int
	CVThreshold         float64
	ConfidenceThreshold float64
}

// NewC2BeaconDetector builds a detector with the documented defaults.
func NewC2BeaconDetector() *C2BeaconDetector {
	return &C2BeaconDetector{
		MinConnections:      10,
		CVThreshold:         15.0,
		ConfidenceThreshold: defaultConfidenceThreshold,
	}
}

func (d *C2BeaconDetector) Name() string { return "c2_beacon" }

type beaconKey struct {
	src     string
	dst     string
	dstPort uint16
}

func (d *C2BeaconDetector) Detect(ctx context.Context, batch []flow.FlowRecord, now time.Time) ([]flow.Anomaly, error) {
	patterns := make(map[beaconKey][]time.Time)

	for _, rec := range batch {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		key := beaconKey{src: rec.SrcAddr.String(), dst: rec.DstAddr.String(), dstPort: rec.DstPort}
		patterns[key] = append(patterns[key], rec.Timestamp)
	}

	// deterministic iteration order for reproducible output
	keys := make([]beaconKey, 0, len(patterns))
	for k := range patterns {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].src != keys[j].src {
			return keys[i].src < keys[j].src
		}
		if keys[i].dst != keys[j].dst {
			return keys[i].dst < keys[j].dst
		}
		return keys[i].dstPort < keys[j].dstPort
	})

	var anomalies []flow.Anomaly
	for _, key := range keys {
		timestamps := patterns[key]
		if len(timestamps) < d.MinConnections {
			continue
		}

		sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].Before(timestamps[j]) })

		intervals := make([]float64, 0, len(timestamps)-1)
		for i := 1; i < len(timestamps); i++ {
			intervals = append(intervals, timestamps[i].Sub(timestamps[i-1]).Seconds())
		}
		if len(intervals) <= 1 {
			continue
		}

		meanInterval, err := stats.Mean(intervals)
		if err != nil {
			return anomalies, fmt.Errorf("computing mean interval: %w", err)
		}
		stdInterval, err := stats.StandardDeviation(intervals)
		if err != nil {
			return anomalies, fmt.Errorf("computing interval stddev: %w", err)
		}
		if meanInterval <= 0 {
			continue
		}

		cv := (stdInterval / meanInterval) * 100
		if cv >= d.CVThreshold {
			continue
		}

		score := d.validate(intervals, meanInterval, cv, timestamps)
		if score <= d.ConfidenceThreshold {
			continue
		}

		id, err := util.NewFixedStringHash("c2_beacon", key.src, key.dst, fmt.Sprint(timestamps[0].Unix()))
		if err != nil {
			return anomalies, err
		}

		anomalies = append(anomalies, flow.Anomaly{
			ID:         id.Hex(),
			Kind:       flow.KindC2Beacon,
			Confidence: score,
			DetectedAt: timestamps[0],
			SrcAddr:    net.ParseIP(key.src),
			DstAddr:    net.ParseIP(key.dst),
			DstPort:    key.dstPort,
			HasDst:     true,
			Detector:   d.Name(),
			Evidence: flow.C2BeaconEvidence{
				MeanInterval:      meanInterval,
				CoefficientOfVar:  cv,
				ConnectionCount:   len(timestamps),
				TotalDuration:     timestamps[len(timestamps)-1].Sub(timestamps[0]),
				BucketConsistency: timingConsistency(intervals),
			},
		})
	}

	return anomalies, nil
}

func (d *C2BeaconDetector) validate(intervals []float64, meanInterval, cv float64, timestamps []time.Time) float64 {
	score := 0.0

	switch {
	case cv < 5:
		score += 0.5
	case cv < 10:
		score += 0.3
	case cv < 15:
		score += 0.2
	}

	switch {
	case meanInterval >= 60 && meanInterval <= 3600:
		score += 0.3
	case meanInterval >= 30 && meanInterval <= 7200:
		score += 0.2
	case meanInterval >= 10 && meanInterval <= 14400:
		score += 0.1
	}

	totalDuration := timestamps[len(timestamps)-1].Sub(timestamps[0]).Seconds()
	switch {
	case totalDuration > 3600:
		score += 0.2
	case totalDuration > 1800:
		score += 0.1
	}

	score += timingConsistency(intervals) * 0.1

	return clampConfidence(score)
}

// timingConsistency buckets intervals to the nearest 10 seconds and scores
// how tightly they cluster — a tell for automated, regular beaconing.
func timingConsistency(intervals []float64) float64 {
	if len(intervals) < 5 {
		return 0.0
	}

	buckets := make(map[int]int)
	for _, interval := range intervals {
		bucket := int(roundToNearest(interval, 10))
		buckets[bucket]++
	}

	maxCount := 0
	for _, count := range buckets {
		if count > maxCount {
			maxCount = count
		}
	}

	consistencyRatio := float64(maxCount) / float64(len(intervals))
	return clampConfidence(consistencyRatio * 2)
}

func roundToNearest(v, step float64) float64 {
	return float64(int(v/step+0.5)) * step
}
