// Package correlate implements Tier 3: multi-dimensional correlation of
// anomalies into groups sharing temporal proximity, entity overlap, and
// related threat kinds.
package correlate

import (
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/activecm/flowguard/pkg/flow"
	"github.com/activecm/flowguard/util"
)

// kindWeights gives the threat-type correlation score between a pair of
// distinct anomaly kinds. A pair absent from the inner map scores 0.
var kindWeights = map[flow.Kind]map[flow.Kind]float64{
	flow.KindPortScan: {
		flow.KindDDoS:         0.8,
		flow.KindC2Beacon:     0.3,
		flow.KindCryptoMining: 0.2,
	},
	flow.KindDDoS: {
		flow.KindPortScan:     0.8,
		flow.KindCryptoMining: 0.2,
		flow.KindTorUsage:     0.3,
	},
	flow.KindC2Beacon: {
		flow.KindCryptoMining: 0.6,
		flow.KindTorUsage:     0.7,
		flow.KindPortScan:     0.3,
	},
	flow.KindCryptoMining: {
		flow.KindC2Beacon: 0.6,
		flow.KindTorUsage: 0.5,
		flow.KindDDoS:     0.2,
	},
	flow.KindTorUsage: {
		flow.KindC2Beacon:     0.7,
		flow.KindCryptoMining: 0.5,
		flow.KindPortScan:     0.4,
	},
	flow.KindMLBehavioral: {
		flow.KindPortScan: 0.5,
		flow.KindDDoS:     0.5,
		flow.KindC2Beacon: 0.6,
	},
	flow.KindBehavioralDeviant: {
		flow.KindC2Beacon:     0.7,
		flow.KindCryptoMining: 0.6,
		flow.KindTorUsage:     0.5,
	},
}

const (
	defaultEntityThreshold = 0.7
	defaultTimeWindow      = 300 * time.Second
	defaultConfidence      = 0.5
)

// Engine groups anomalies that are plausibly related across time, entity,
// and threat-type dimensions.
type Engine struct {
	TimeWindow       time.Duration
	EntityThreshold  float64
	DefaultConfidence float64
}

// NewEngine builds an Engine with the documented defaults.
func NewEngine() *Engine {
	return &Engine{
		TimeWindow:        defaultTimeWindow,
		EntityThreshold:   defaultEntityThreshold,
		DefaultConfidence: defaultConfidence,
	}
}

// Correlate groups anomalies and returns one CorrelationGroup per cluster. A
// single anomaly becomes its own one-member group. Input order does not
// matter: anomalies are sorted by (timestamp, detector, id) before pairing
// so the same anomaly set always produces the same groups in the same order.
func (e *Engine) Correlate(anomalies []flow.Anomaly, now time.Time) ([]flow.CorrelationGroup, error) {
	if len(anomalies) == 0 {
		return nil, nil
	}

	sorted := append([]flow.Anomaly(nil), anomalies...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].DetectedAt.Equal(sorted[j].DetectedAt) {
			return sorted[i].DetectedAt.Before(sorted[j].DetectedAt)
		}
		if sorted[i].Detector != sorted[j].Detector {
			return sorted[i].Detector < sorted[j].Detector
		}
		return sorted[i].ID < sorted[j].ID
	})

	processed := make([]bool, len(sorted))
	var groups []flow.CorrelationGroup

	for i, anomaly := range sorted {
		if processed[i] {
			continue
		}
		processed[i] = true

		group := flow.CorrelationGroup{
			Primary:   anomaly,
			CreatedAt: now,
			UpdatedAt: now,
		}

		for j := i + 1; j < len(sorted); j++ {
			if processed[j] {
				continue
			}
			score := e.score(anomaly, sorted[j])
			if score > e.EntityThreshold {
				group.Related = append(group.Related, flow.RelatedAnomaly{Anomaly: sorted[j], Score: score})
				processed[j] = true
			}
		}

		id, err := util.NewFixedStringHash("corr", anomaly.ID, fmt.Sprint(now.UnixNano()), fmt.Sprint(i))
		if err != nil {
			return groups, err
		}
		group.ID = id.Hex()
		group.Confidence = e.groupConfidence(group)
		groups = append(groups, group)
	}

	return groups, nil
}

// score computes the combined temporal/entity/threat-type correlation score
// between two anomalies: 0.4*temporal + 0.4*entity + 0.2*kind-weight.
func (e *Engine) score(a, b flow.Anomaly) float64 {
	total := e.temporalScore(a, b)*0.4 + e.entityScore(a, b)*0.4 + threatScore(a, b)*0.2
	if total > 1.0 {
		return 1.0
	}
	return total
}

func (e *Engine) temporalScore(a, b flow.Anomaly) float64 {
	diff := a.DetectedAt.Sub(b.DetectedAt)
	if diff < 0 {
		diff = -diff
	}
	if diff > e.TimeWindow {
		return 0.0
	}
	correlation := 1.0 - (float64(diff) / float64(e.TimeWindow))
	if correlation < 0 {
		return 0.0
	}
	return correlation
}

func (e *Engine) entityScore(a, b flow.Anomaly) float64 {
	similarity := 0.0

	if a.SrcAddr != nil && b.SrcAddr != nil && a.SrcAddr.Equal(b.SrcAddr) {
		similarity += 0.5
	}
	if a.HasDst && b.HasDst && a.DstAddr != nil && b.DstAddr != nil && a.DstAddr.Equal(b.DstAddr) {
		similarity += 0.3
	}
	if a.HasDst && b.HasDst && a.DstPort != 0 && a.DstPort == b.DstPort {
		similarity += 0.2
	}
	if a.SrcAddr != nil && b.SrcAddr != nil && sameSubnet24(a.SrcAddr, b.SrcAddr) {
		similarity += 0.1
	}

	if similarity > 1.0 {
		return 1.0
	}
	return similarity
}

func sameSubnet24(a, b net.IP) bool {
	a4, b4 := a.To4(), b.To4()
	if a4 == nil || b4 == nil {
		return false
	}
	return a4[0] == b4[0] && a4[1] == b4[1] && a4[2] == b4[2]
}

func threatScore(a, b flow.Anomaly) float64 {
	if a.Kind == b.Kind {
		return 1.0
	}
	if weights, ok := kindWeights[a.Kind]; ok {
		return weights[b.Kind]
	}
	return 0.0
}

// groupConfidence combines the primary anomaly's confidence (weight 0.5)
// with each related anomaly's confidence (weighted by its correlation score,
// split evenly across the related set) plus a correlation-size bonus capped
// at 0.3.
func (e *Engine) groupConfidence(g flow.CorrelationGroup) float64 {
	if len(g.Related) == 0 {
		if g.Primary.Confidence > 0 {
			return g.Primary.Confidence
		}
		return e.DefaultConfidence
	}

	primaryConfidence := g.Primary.Confidence
	if primaryConfidence == 0 {
		primaryConfidence = e.DefaultConfidence
	}

	totalScore := primaryConfidence * 0.5
	totalWeight := 0.5

	n := float64(len(g.Related))
	for _, rel := range g.Related {
		confidence := rel.Anomaly.Confidence
		if confidence == 0 {
			confidence = e.DefaultConfidence
		}
		weight := rel.Score * 0.5 / n
		totalScore += confidence * weight
		totalWeight += weight
	}

	bonus := float64(len(g.Related)) * 0.1
	if bonus > 0.3 {
		bonus = 0.3
	}

	final := (totalScore / totalWeight) + bonus
	if final > 1.0 {
		return 1.0
	}
	return final
}
