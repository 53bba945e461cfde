// Package validate implements Tier 4: four-stage validation of correlation
// groups (whitelist, contextual, threat-specific, historical) followed by
// severity and priority assignment for groups that pass.
package validate

import (
	"fmt"
	"time"

	"github.com/activecm/flowguard/pkg/flow"
	"github.com/activecm/flowguard/util"
)

// ThreatRule holds the threat-specific thresholds Stage 3 checks for one
// anomaly kind.
type ThreatRule struct {
	MinPorts             int
	MinPacketRate        float64
	MinSourceDiversity   int
	MinRegularity        float64
	MinDataVolume        uint64
	MinTorIndicators     int
	MaxFalsePositiveRate float64
}

// defaultRules mirrors the threat-specific thresholds used by Stage 3 and
// Stage 4's per-kind false-positive ceiling.
func defaultRules() map[flow.Kind]ThreatRule {
	return map[flow.Kind]ThreatRule{
		flow.KindPortScan:     {MinPorts: 10, MaxFalsePositiveRate: 0.03},
		flow.KindDDoS:         {MinPacketRate: 500, MinSourceDiversity: 5, MaxFalsePositiveRate: 0.02},
		flow.KindC2Beacon:     {MinRegularity: 0.8, MaxFalsePositiveRate: 0.04},
		flow.KindCryptoMining: {MinDataVolume: 1024, MaxFalsePositiveRate: 0.05},
		flow.KindTorUsage:     {MinTorIndicators: 2, MaxFalsePositiveRate: 0.03},
	}
}

// HistoricalRateFunc looks up a source's historical false-positive rate for
// a threat kind. NewValidator sets it to AlwaysZeroHistoricalRate until a
// historical feedback store is wired in.
type HistoricalRateFunc func(srcIP string, kind flow.Kind) float64

// AlwaysZeroHistoricalRate is the conservative default: absent a historical
// feedback store, nothing is assumed to be a repeat false positive.
func AlwaysZeroHistoricalRate(string, flow.Kind) float64 { return 0.0 }

// PatternRepetitionFunc scores how repetitive a correlation group's shape
// looks compared to prior groups; a high score suggests an automated false
// positive pattern rather than a one-off.
type PatternRepetitionFunc func(flow.CorrelationGroup) float64

// AlwaysLowPatternRepetition is the conservative default absent a pattern
// history store: never flags a group for repetition alone.
func AlwaysLowPatternRepetition(flow.CorrelationGroup) float64 { return 0.0 }

// Clock is injected so contextual (business-hours) validation is testable.
type Clock func() time.Time

// Validator runs the four-stage validation pipeline and assigns severity and
// priority to groups that pass.
type Validator struct {
	MinConfidence       float64
	WhitelistedIPs      map[string]struct{}
	WhitelistedSubnets  []util.Subnet
	TrustedDomains      []string
	BusinessHoursStart  int
	BusinessHoursEnd    int
	WeekendFactor       float64
	Rules               map[flow.Kind]ThreatRule
	HistoricalRate      HistoricalRateFunc
	PatternRepetition   PatternRepetitionFunc
	Clock               Clock
}

// NewValidator builds a Validator with the documented defaults and no
// whitelist entries.
func NewValidator() *Validator {
	return &Validator{
		MinConfidence:      0.8,
		WhitelistedIPs:     make(map[string]struct{}),
		BusinessHoursStart: 8,
		BusinessHoursEnd:   18,
		WeekendFactor:      0.8,
		Rules:              defaultRules(),
		HistoricalRate:     AlwaysZeroHistoricalRate,
		PatternRepetition:  AlwaysLowPatternRepetition,
		Clock:              time.Now,
	}
}

// Validate runs all four stages against the group's primary anomaly and
// returns the combined result. A group whose Valid is false must not be
// published as a finding.
func (v *Validator) Validate(group flow.CorrelationGroup) flow.ValidationResult {
	primary := group.Primary
	metadata := make(map[string]any)
	var reasons []string

	whitelistPassed, whitelistReasons, whitelistMeta := v.stageWhitelist(primary)
	reasons = append(reasons, whitelistReasons...)
	metadata["whitelist"] = whitelistMeta

	contextualPassed, contextualReasons, contextualMeta := v.stageContextual(primary)
	reasons = append(reasons, contextualReasons...)
	metadata["contextual"] = contextualMeta

	threatPassed, threatReasons, threatMeta := v.stageThreatSpecific(primary)
	reasons = append(reasons, threatReasons...)
	metadata["threat_specific"] = threatMeta

	historicalPassed, historicalReasons, historicalMeta := v.stageHistorical(group, primary)
	reasons = append(reasons, historicalReasons...)
	metadata["historical"] = historicalMeta

	valid := whitelistPassed && contextualPassed && threatPassed && historicalPassed

	return flow.ValidationResult{
		Valid:            valid,
		WhitelistPassed:  whitelistPassed,
		ContextualPassed: contextualPassed,
		ThreatSpecific:   threatPassed,
		HistoricalPassed: historicalPassed,
		FailureReasons:   reasons,
		StageMetadata:    metadata,
	}
}

// ValidationConfidence weights each passed stage: whitelist 0.3, contextual
// 0.2, threat-specific 0.3, historical 0.2.
func ValidationConfidence(r flow.ValidationResult) float64 {
	confidence := 0.0
	if r.WhitelistPassed {
		confidence += 0.3
	}
	if r.ContextualPassed {
		confidence += 0.2
	}
	if r.ThreatSpecific {
		confidence += 0.3
	}
	if r.HistoricalPassed {
		confidence += 0.2
	}
	return confidence
}

// Stage 1: whitelist and trusted-entity validation.
func (v *Validator) stageWhitelist(primary flow.Anomaly) (bool, []string, map[string]any) {
	passed := true
	var reasons []string

	if primary.SrcAddr != nil {
		src := primary.SrcAddr.String()
		if _, ok := v.WhitelistedIPs[src]; ok {
			passed = false
			reasons = append(reasons, fmt.Sprintf("source IP %s is whitelisted", src))
		}
		if util.ContainsIP(v.WhitelistedSubnets, primary.SrcAddr) {
			passed = false
			reasons = append(reasons, fmt.Sprintf("source IP %s is in a whitelisted subnet", src))
		}
	}

	if primary.HasDst && primary.DstAddr != nil {
		dst := primary.DstAddr.String()
		if _, ok := v.WhitelistedIPs[dst]; ok {
			passed = false
			reasons = append(reasons, fmt.Sprintf("destination IP %s is whitelisted", dst))
		}
	}

	meta := map[string]any{
		"whitelist_matches": len(reasons),
	}
	return passed, reasons, meta
}

// Stage 2: business-hours/weekend context validation. Port scans observed
// during business hours on a weekday are downgraded unless confidence is
// high, since these overlap with legitimate network scanning activity.
func (v *Validator) stageContextual(primary flow.Anomaly) (bool, []string, map[string]any) {
	passed := true
	var reasons []string

	hour := primary.DetectedAt.Hour()
	isBusinessHours := hour >= v.BusinessHoursStart && hour <= v.BusinessHoursEnd
	weekday := primary.DetectedAt.Weekday()
	isWeekend := weekday == time.Saturday || weekday == time.Sunday

	contextFactor := 1.0
	if !isBusinessHours {
		contextFactor *= 0.9
	}
	if isWeekend {
		contextFactor *= v.WeekendFactor
	}

	if primary.Kind == flow.KindPortScan && isBusinessHours && !isWeekend {
		confidence := primary.Confidence
		if confidence == 0 {
			confidence = 1.0
		}
		if confidence < 0.9 {
			passed = false
			reasons = append(reasons, "port scanning during business hours with low confidence")
		}
	}

	meta := map[string]any{
		"detection_hour":    hour,
		"is_business_hours": isBusinessHours,
		"is_weekend":        isWeekend,
		"context_factor":    contextFactor,
	}
	return passed, reasons, meta
}

// Stage 3: per-kind threat-specific thresholds.
func (v *Validator) stageThreatSpecific(primary flow.Anomaly) (bool, []string, map[string]any) {
	rule, ok := v.Rules[primary.Kind]
	if !ok {
		return true, nil, map[string]any{"validation_rule": "none"}
	}

	passed := true
	var reasons []string
	meta := map[string]any{"validation_rule": string(primary.Kind)}

	switch ev := primary.Evidence.(type) {
	case flow.PortScanEvidence:
		if ev.UniquePorts < rule.MinPorts {
			passed = false
			reasons = append(reasons, fmt.Sprintf("port scanning: insufficient ports (%d < %d)", ev.UniquePorts, rule.MinPorts))
		}
	case flow.DDoSEvidence:
		if ev.PacketRate < rule.MinPacketRate {
			passed = false
			reasons = append(reasons, fmt.Sprintf("ddos: insufficient packet rate (%.1f < %.1f)", ev.PacketRate, rule.MinPacketRate))
		}
		if ev.SourceCount < rule.MinSourceDiversity {
			passed = false
			reasons = append(reasons, fmt.Sprintf("ddos: insufficient source diversity (%d < %d)", ev.SourceCount, rule.MinSourceDiversity))
		}
	case flow.C2BeaconEvidence:
		regularity := 1.0 - (ev.CoefficientOfVar / 100.0)
		if regularity < rule.MinRegularity {
			passed = false
			reasons = append(reasons, fmt.Sprintf("c2 beaconing: insufficient regularity (%.2f < %.2f)", regularity, rule.MinRegularity))
		}
	case flow.CryptoMiningEvidence:
		if ev.TotalBytes < rule.MinDataVolume {
			passed = false
			reasons = append(reasons, fmt.Sprintf("crypto mining: insufficient data volume (%d < %d)", ev.TotalBytes, rule.MinDataVolume))
		}
	case flow.TorUsageEvidence:
		if ev.TorIndicators < rule.MinTorIndicators {
			passed = false
			reasons = append(reasons, fmt.Sprintf("tor usage: insufficient indicators (%d < %d)", ev.TorIndicators, rule.MinTorIndicators))
		}
	}

	return passed, reasons, meta
}

// Stage 4: historical false-positive rate and pattern-repetition checks.
func (v *Validator) stageHistorical(group flow.CorrelationGroup, primary flow.Anomaly) (bool, []string, map[string]any) {
	passed := true
	var reasons []string
	meta := make(map[string]any)

	if primary.SrcAddr != nil {
		fpRate := v.HistoricalRate(primary.SrcAddr.String(), primary.Kind)
		if rule, ok := v.Rules[primary.Kind]; ok && fpRate > rule.MaxFalsePositiveRate {
			passed = false
			reasons = append(reasons, fmt.Sprintf("historical false positive rate too high (%.3f > %.3f)", fpRate, rule.MaxFalsePositiveRate))
		}
		meta["historical_fp_rate"] = fpRate
	}

	patternScore := v.PatternRepetition(group)
	if patternScore > 0.8 {
		passed = false
		reasons = append(reasons, fmt.Sprintf("high pattern repetition score (%.2f)", patternScore))
	}
	meta["pattern_repetition_score"] = patternScore

	return passed, reasons, meta
}

// GroupConfidence recombines a correlation group's confidence for final
// threat assessment: primary weight 0.6, average correlation-weighted
// related confidence weight 0.4, plus a bonus of 0.05 per related anomaly
// capped at 0.2.
func GroupConfidence(group flow.CorrelationGroup) float64 {
	primaryConfidence := group.Primary.Confidence
	if len(group.Related) == 0 {
		return primaryConfidence
	}

	total := 0.0
	for _, rel := range group.Related {
		total += rel.Anomaly.Confidence * rel.Score
	}
	avgRelated := total / float64(len(group.Related))

	groupConfidence := primaryConfidence*0.6 + avgRelated*0.4

	bonus := float64(len(group.Related)) * 0.05
	if bonus > 0.2 {
		bonus = 0.2
	}

	final := groupConfidence + bonus
	if final > 1.0 {
		return 1.0
	}
	return final
}

var severityLevels = []flow.Severity{flow.SeverityLow, flow.SeverityMedium, flow.SeverityHigh, flow.SeverityCritical}

var baseSeverity = map[flow.Kind]flow.Severity{
	flow.KindDDoS:              flow.SeverityHigh,
	flow.KindC2Beacon:          flow.SeverityHigh,
	flow.KindPortScan:          flow.SeverityMedium,
	flow.KindCryptoMining:      flow.SeverityMedium,
	flow.KindTorUsage:          flow.SeverityLow,
	flow.KindMLBehavioral:      flow.SeverityMedium,
	flow.KindBehavioralDeviant: flow.SeverityLow,
}

// AssessThreat assigns a final severity and priority to a validated group,
// adjusting the kind's base severity up for high confidence and for large
// correlation groups.
func AssessThreat(group flow.CorrelationGroup, confidence float64) (flow.Severity, int) {
	severity, ok := baseSeverity[group.Primary.Kind]
	if !ok {
		severity = flow.SeverityLow
	}

	modifier := -1
	switch {
	case confidence > 0.9:
		modifier = 1
	case confidence > 0.8:
		modifier = 0
	}

	if group.Size() > 3 {
		modifier++
	}

	index := severityIndex(severity) + modifier
	if index < 0 {
		index = 0
	}
	if index > len(severityLevels)-1 {
		index = len(severityLevels) - 1
	}
	finalSeverity := severityLevels[index]

	return finalSeverity, Priority(finalSeverity, confidence)
}

func severityIndex(s flow.Severity) int {
	for i, level := range severityLevels {
		if level == s {
			return i
		}
	}
	return 0
}

var severityScore = map[flow.Severity]int{
	flow.SeverityLow:      2,
	flow.SeverityMedium:   5,
	flow.SeverityHigh:     8,
	flow.SeverityCritical: 10,
}

// Priority maps severity and confidence to a 1-10 urgency score.
func Priority(severity flow.Severity, confidence float64) int {
	base, ok := severityScore[severity]
	if !ok {
		base = 1
	}

	modifier := int((confidence - 0.5) * 4)
	priority := base + modifier
	if priority < 1 {
		return 1
	}
	if priority > 10 {
		return 10
	}
	return priority
}
