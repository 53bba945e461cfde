// Package flow holds the data model shared by every pipeline tier: the
// immutable ingress record, the tagged-union anomaly type, correlation
// groups, validation results, and the finding emitted to downstream
// consumers.
package flow

import (
	"net"
	"time"
)

// Protocol identifies the transport protocol of a FlowRecord.
type Protocol string

const (
	ProtocolTCP   Protocol = "TCP"
	ProtocolUDP   Protocol = "UDP"
	ProtocolICMP  Protocol = "ICMP"
	ProtocolGRE   Protocol = "GRE"
	ProtocolOther Protocol = "OTHER"
)

// Action is the accept/reject verdict recorded against a FlowRecord.
type Action string

const (
	ActionAccept Action = "ACCEPT"
	ActionReject Action = "REJECT"
)

// FlowRecord is one immutable network flow observation. It is consumed by a
// batch and never retained past the tier that reads it.
type FlowRecord struct {
	Timestamp   time.Time
	SrcAddr     net.IP
	DstAddr     net.IP
	SrcPort     uint16
	DstPort     uint16
	Protocol    Protocol
	Action      Action
	PacketCount uint64
	ByteCount   uint64
	// Duration is the flow's observed duration, if known.
	Duration time.Duration
	HasDur   bool
}

// Validate checks the range/type invariants a FlowRecord must satisfy to be
// accepted into a batch. A record failing this check is an InputMalformed
// condition: skipped and counted, never aborting the batch.
func (f FlowRecord) Validate() error {
	if f.SrcAddr == nil || f.DstAddr == nil {
		return ErrMalformedRecord
	}
	if f.Action != ActionAccept && f.Action != ActionReject {
		return ErrMalformedRecord
	}
	return nil
}

// Kind identifies the variant of an Anomaly's evidence payload.
type Kind string

const (
	KindPortScan           Kind = "PORT_SCAN"
	KindDDoS               Kind = "DDOS"
	KindC2Beacon           Kind = "C2_BEACON"
	KindCryptoMining       Kind = "CRYPTO_MINING"
	KindTorUsage           Kind = "TOR_USAGE"
	KindMLBehavioral       Kind = "ML_BEHAVIORAL"
	KindBehavioralDeviant  Kind = "BEHAVIORAL_DEVIATION"
)

// Evidence is implemented by each kind-specific payload type below. It
// marks the disjoint-variant relationship: detectors set Kind and Evidence
// together, and consumers may dispatch on either Anomaly.Kind or the
// Evidence's dynamic type.
type Evidence interface {
	isEvidence()
}

// PortScanEvidence is the evidence payload for KindPortScan.
type PortScanEvidence struct {
	UniquePorts      int
	TimeWindow       time.Duration
	SampleConns      []SampleConn
	SuccessRate      float64
	SequentialRatio  float64
	WellKnownPortHit bool
}

func (PortScanEvidence) isEvidence() {}

// SampleConn is a representative connection attached to detector evidence.
type SampleConn struct {
	DstPort uint16
	Action  Action
}

// DDoSEvidence is the evidence payload for KindDDoS.
type DDoSEvidence struct {
	PacketRate     float64 // packets per second
	SourceCount    int
	AvgPacketSize  float64
	RejectionRate  float64
	SubType        DDoSSubType
}

func (DDoSEvidence) isEvidence() {}

// DDoSSubType classifies a DDOS anomaly.
type DDoSSubType string

const (
	DDoSVolumetricFlood   DDoSSubType = "VOLUMETRIC_FLOOD"
	DDoSAmplificationAttk DDoSSubType = "AMPLIFICATION_ATTACK"
	DDoSSynFlood          DDoSSubType = "SYN_FLOOD"
	DDoSUDPFlood          DDoSSubType = "UDP_FLOOD"
	DDoSProtocolAttack    DDoSSubType = "PROTOCOL_ATTACK"
	DDoSSingleSourceFlood DDoSSubType = "SINGLE_SOURCE_FLOOD"
)

// C2BeaconEvidence is the evidence payload for KindC2Beacon.
type C2BeaconEvidence struct {
	MeanInterval      float64 // seconds
	CoefficientOfVar  float64 // CV, percent
	ConnectionCount   int
	TotalDuration     time.Duration
	BucketConsistency float64
}

func (C2BeaconEvidence) isEvidence() {}

// CryptoMiningEvidence is the evidence payload for KindCryptoMining.
type CryptoMiningEvidence struct {
	ConnectionCount int
	TotalBytes      uint64
	MiningPortHit   bool
	Protocol        MiningProtocol
	SizeVariance    float64
	PersistMinutes  float64
}

func (CryptoMiningEvidence) isEvidence() {}

// MiningProtocol identifies the inferred mining wire protocol.
type MiningProtocol string

const (
	MiningStratum    MiningProtocol = "STRATUM"
	MiningBitcoinRPC MiningProtocol = "BITCOIN_RPC"
	MiningEthereum   MiningProtocol = "ETHEREUM"
	MiningHTTP       MiningProtocol = "HTTP_MINING"
	MiningUnknown    MiningProtocol = "UNKNOWN_MINING_PROTOCOL"
)

// TorUsageEvidence is the evidence payload for KindTorUsage.
type TorUsageEvidence struct {
	ConnectionCount  int
	TorIndicators    int
	DestDiversity    int
	UsageType        TorUsageType
	KeepAliveSeconds float64
}

func (TorUsageEvidence) isEvidence() {}

// TorUsageType classifies a TOR_USAGE anomaly.
type TorUsageType string

const (
	TorDirectoryAccess  TorUsageType = "TOR_DIRECTORY_ACCESS"
	TorRelayConnection  TorUsageType = "TOR_RELAY_CONNECTION"
	TorSocksProxy       TorUsageType = "TOR_SOCKS_PROXY"
	TorBridgeConnection TorUsageType = "TOR_BRIDGE_CONNECTION"
	TorCircuitBuilding  TorUsageType = "TOR_CIRCUIT_BUILDING"
	TorGeneralUsage     TorUsageType = "TOR_GENERAL_USAGE"
)

// MLBehavioralEvidence is the evidence payload for KindMLBehavioral and
// KindBehavioralDeviant, produced by Tier 2 model clients.
type MLBehavioralEvidence struct {
	ModelName   string
	Score       float64
	FeatureTags []string
}

func (MLBehavioralEvidence) isEvidence() {}

// Anomaly is produced by a detector or model client. The Kind determines
// which fields of Evidence are meaningful; variants are disjoint.
type Anomaly struct {
	ID         string
	Kind       Kind
	Confidence float64
	DetectedAt time.Time
	SrcAddr    net.IP
	DstAddr    net.IP
	DstPort    uint16
	HasDst     bool
	Evidence   Evidence
	Detector   string
}

// RelatedAnomaly pairs an Anomaly with its correlation score to a group's primary.
type RelatedAnomaly struct {
	Anomaly Anomaly
	Score   float64
}

// CorrelationGroup is a set of anomalies judged related by Tier 3.
type CorrelationGroup struct {
	ID         string
	Primary    Anomaly
	Related    []RelatedAnomaly
	Confidence float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Size returns the number of anomalies represented by the group (primary + related).
func (g CorrelationGroup) Size() int {
	return 1 + len(g.Related)
}

// ValidationResult is the outcome of running a CorrelationGroup through the
// four-stage validator.
type ValidationResult struct {
	Valid            bool
	WhitelistPassed  bool
	ContextualPassed bool
	ThreatSpecific   bool
	HistoricalPassed bool
	FailureReasons   []string
	StageMetadata    map[string]any
	Fallback         bool
}

// Severity is the assigned threat level of a Finding.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Finding is a validated CorrelationGroup ready for publication.
type Finding struct {
	ID               string
	BatchID          string
	SchemaVersion    int
	ProducerID       string
	PublishedAt      time.Time
	Kind             Kind
	Severity         Severity
	Priority         int
	Confidence       float64
	Primary          Anomaly
	Related          []RelatedAnomaly
	GroupSize        int
	Validation       ValidationResult
	Fallback         bool
}

// ErrMalformedRecord is returned by FlowRecord.Validate for an out-of-range record.
var ErrMalformedRecord = malformedRecordError{}

type malformedRecordError struct{}

func (malformedRecordError) Error() string { return "flow record failed range/type validation" }
