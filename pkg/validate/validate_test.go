package validate

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/activecm/flowguard/pkg/flow"
	"github.com/activecm/flowguard/util"
)

func group(primary flow.Anomaly) flow.CorrelationGroup {
	return flow.CorrelationGroup{Primary: primary}
}

func TestValidator_WhitelistedSourceFailsStage1(t *testing.T) {
	v := NewValidator()
	v.WhitelistedIPs["10.0.0.1"] = struct{}{}

	primary := flow.Anomaly{
		Kind:       flow.KindPortScan,
		Confidence: 0.95,
		SrcAddr:    net.ParseIP("10.0.0.1"),
		DetectedAt: time.Date(2026, 1, 5, 3, 0, 0, 0, time.UTC), // Monday, off-hours
		Evidence:   flow.PortScanEvidence{UniquePorts: 25},
	}

	result := v.Validate(group(primary))
	require.False(t, result.WhitelistPassed)
	require.False(t, result.Valid)
	require.NotEmpty(t, result.FailureReasons)
}

func TestValidator_WhitelistedSubnetFailsStage1(t *testing.T) {
	v := NewValidator()
	subnets, err := util.ParseSubnets([]string{"10.0.0.0/24"})
	require.NoError(t, err)
	v.WhitelistedSubnets = subnets

	primary := flow.Anomaly{
		Kind:       flow.KindPortScan,
		SrcAddr:    net.ParseIP("10.0.0.42"),
		DetectedAt: time.Date(2026, 1, 5, 3, 0, 0, 0, time.UTC),
		Evidence:   flow.PortScanEvidence{UniquePorts: 25},
	}

	result := v.Validate(group(primary))
	require.False(t, result.WhitelistPassed)
}

func TestValidator_PortScanDuringBusinessHoursNeedsHighConfidence(t *testing.T) {
	v := NewValidator()

	// Monday 10:00 UTC, within business hours (8-18), weekday
	businessHours := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	lowConfidence := flow.Anomaly{
		Kind: flow.KindPortScan, Confidence: 0.85, DetectedAt: businessHours,
		SrcAddr: net.ParseIP("10.0.0.5"), Evidence: flow.PortScanEvidence{UniquePorts: 25},
	}
	result := v.Validate(group(lowConfidence))
	require.False(t, result.ContextualPassed)

	highConfidence := lowConfidence
	highConfidence.Confidence = 0.95
	result = v.Validate(group(highConfidence))
	require.True(t, result.ContextualPassed)
}

func TestValidator_ThreatSpecificPortScanBoundary(t *testing.T) {
	v := NewValidator()
	ts := time.Date(2026, 1, 3, 3, 0, 0, 0, time.UTC) // Saturday, off-hours

	under := flow.Anomaly{Kind: flow.KindPortScan, DetectedAt: ts, Evidence: flow.PortScanEvidence{UniquePorts: 9}}
	result := v.Validate(group(under))
	require.False(t, result.ThreatSpecific)

	atMin := flow.Anomaly{Kind: flow.KindPortScan, DetectedAt: ts, Evidence: flow.PortScanEvidence{UniquePorts: 10}}
	result = v.Validate(group(atMin))
	require.True(t, result.ThreatSpecific)
}

func TestValidator_HistoricalRateRejectsHighFalsePositiveSources(t *testing.T) {
	v := NewValidator()
	v.HistoricalRate = func(ip string, kind flow.Kind) float64 { return 0.9 }

	primary := flow.Anomaly{
		Kind: flow.KindDDoS, SrcAddr: net.ParseIP("10.0.0.7"),
		DetectedAt: time.Date(2026, 1, 3, 3, 0, 0, 0, time.UTC),
		Evidence:   flow.DDoSEvidence{PacketRate: 10000, SourceCount: 50},
	}
	result := v.Validate(group(primary))
	require.False(t, result.HistoricalPassed)
	require.False(t, result.Valid)
}

func TestValidator_DefaultHistoricalRateNeverRejects(t *testing.T) {
	v := NewValidator()
	primary := flow.Anomaly{
		Kind: flow.KindDDoS, SrcAddr: net.ParseIP("10.0.0.7"),
		DetectedAt: time.Date(2026, 1, 3, 3, 0, 0, 0, time.UTC),
		Evidence:   flow.DDoSEvidence{PacketRate: 10000, SourceCount: 50},
	}
	result := v.Validate(group(primary))
	require.True(t, result.HistoricalPassed)
	require.True(t, result.Valid)
}

func TestValidationConfidence_AllStagesPassed(t *testing.T) {
	result := flow.ValidationResult{WhitelistPassed: true, ContextualPassed: true, ThreatSpecific: true, HistoricalPassed: true}
	require.InDelta(t, 1.0, ValidationConfidence(result), 1e-9)
}

func TestGroupConfidence_SingleAnomaly(t *testing.T) {
	g := group(flow.Anomaly{Confidence: 0.77})
	require.InDelta(t, 0.77, GroupConfidence(g), 1e-9)
}

func TestGroupConfidence_WithRelatedAnomalies(t *testing.T) {
	g := flow.CorrelationGroup{
		Primary: flow.Anomaly{Confidence: 0.9},
		Related: []flow.RelatedAnomaly{
			{Anomaly: flow.Anomaly{Confidence: 0.8}, Score: 0.9},
		},
	}
	// 0.9*0.6 + (0.8*0.9)*0.4 + bonus(0.05) = 0.54 + 0.288 + 0.05 = 0.878
	require.InDelta(t, 0.878, GroupConfidence(g), 1e-6)
}

func TestAssessThreat_HighConfidenceLargeGroupEscalates(t *testing.T) {
	g := flow.CorrelationGroup{
		Primary: flow.Anomaly{Kind: flow.KindTorUsage},
		Related: make([]flow.RelatedAnomaly, 4), // group size 5 > 3
	}
	severity, priority := AssessThreat(g, 0.95)
	// base LOW(idx0) + modifier(confidence>0.9 => +1) + group-size bonus(+1) = idx2 = HIGH
	require.Equal(t, flow.SeverityHigh, severity)
	require.Greater(t, priority, 5)
}

func TestAssessThreat_LowConfidenceDowngrades(t *testing.T) {
	g := group(flow.Anomaly{Kind: flow.KindDDoS})
	severity, _ := AssessThreat(g, 0.5)
	// base HIGH(idx2) + modifier(-1) = idx1 = MEDIUM
	require.Equal(t, flow.SeverityMedium, severity)
}

func TestPriority_ClampedToRange(t *testing.T) {
	require.Equal(t, 1, Priority(flow.SeverityLow, 0.0))
	require.Equal(t, 10, Priority(flow.SeverityCritical, 1.0))
}
