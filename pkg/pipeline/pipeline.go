// Package pipeline orchestrates the four detection tiers end to end: Tier 1
// statistical screening, Tier 2 ML analysis, Tier 3 correlation, and Tier 4
// validation, with per-tier deadlines and graceful degradation so a failing
// tier narrows the result instead of aborting the batch.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/activecm/flowguard/pkg/correlate"
	"github.com/activecm/flowguard/pkg/detectors"
	"github.com/activecm/flowguard/pkg/flow"
	"github.com/activecm/flowguard/pkg/mlclient"
	"github.com/activecm/flowguard/pkg/validate"
	"github.com/activecm/flowguard/util"
)

// Clock is injected so tier timings are testable.
type Clock func() time.Time

// Timeouts bounds how long each tier is given before its context is
// cancelled. Detectors and the ML manager observe cancellation cooperatively;
// a tier that misses its deadline degrades rather than failing the batch: a
// detector or model call cut off by its deadline contributes no output.
type Timeouts struct {
	Tier1 time.Duration
	Tier2 time.Duration
	Tier3 time.Duration
	Tier4 time.Duration
	Batch time.Duration
}

// DefaultTimeouts mirrors the documented per-tier and overall batch budgets.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Tier1: 30 * time.Second,
		Tier2: 120 * time.Second,
		Tier3: 180 * time.Second,
		Tier4: 120 * time.Second,
		Batch: 300 * time.Second,
	}
}

// Result summarizes one Process call: the published findings plus the
// per-tier counts and timings needed for the processing statistics surface.
type Result struct {
	Findings          []flow.Finding
	Tier1Count        int
	Tier2Count        int
	CorrelationGroups int
	ValidatedCount    int
	TierTimings       map[string]time.Duration
	TotalTime         time.Duration
	Metadata          map[string]any
}

// Processor wires the four tiers together.
type Processor struct {
	Detectors  []detectors.Detector
	MLManager  *mlclient.Manager
	Correlator *correlate.Engine
	Validator  *validate.Validator
	Timeouts   Timeouts
	Clock      Clock
	ProducerID string
	log        zerolog.Logger
}

// Option configures a Processor at construction time.
type Option func(*Processor)

// WithTimeouts overrides DefaultTimeouts.
func WithTimeouts(t Timeouts) Option { return func(p *Processor) { p.Timeouts = t } }

// WithClock overrides the processor's time source.
func WithClock(c Clock) Option { return func(p *Processor) { p.Clock = c } }

// WithLogger attaches a destination logger; the zero value discards output.
func WithLogger(l zerolog.Logger) Option { return func(p *Processor) { p.log = l } }

// WithProducerID tags every Finding with the producer that generated it.
func WithProducerID(id string) Option { return func(p *Processor) { p.ProducerID = id } }

// NewProcessor builds a Processor from its tier components. mlManager may be
// nil, in which case Tier 2 is skipped entirely.
func NewProcessor(dets []detectors.Detector, mlManager *mlclient.Manager, correlator *correlate.Engine, validator *validate.Validator, opts ...Option) *Processor {
	p := &Processor{
		Detectors:  dets,
		MLManager:  mlManager,
		Correlator: correlator,
		Validator:  validator,
		Timeouts:   DefaultTimeouts(),
		Clock:      time.Now,
		ProducerID: "flowguard",
		log:        zerolog.New(io.Discard).With().Str("component", "pipeline").Logger(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Process runs batch through all four tiers. It never returns an error for a
// single tier's failure: each tier degrades gracefully and logs the failure;
// Result.Metadata does not record it.
func (p *Processor) Process(ctx context.Context, batch []flow.FlowRecord) (*Result, error) {
	batchCtx, cancel := context.WithTimeout(ctx, p.Timeouts.Batch)
	defer cancel()

	start := p.Clock()
	result := &Result{TierTimings: make(map[string]time.Duration), Metadata: make(map[string]any)}

	tier1Start := p.Clock()
	tier1Anomalies := p.tier1(batchCtx, batch)
	result.TierTimings["tier1"] = p.Clock().Sub(tier1Start)
	result.Tier1Count = len(tier1Anomalies)
	p.log.Info().Int("anomalies", len(tier1Anomalies)).Dur("elapsed", result.TierTimings["tier1"]).Msg("tier1 completed")

	if len(tier1Anomalies) == 0 {
		result.TotalTime = p.Clock().Sub(start)
		return result, nil
	}

	tier2Start := p.Clock()
	tier2Anomalies := p.tier2(batchCtx, batch)
	result.TierTimings["tier2"] = p.Clock().Sub(tier2Start)
	result.Tier2Count = len(tier2Anomalies)
	p.log.Info().Int("anomalies", len(tier2Anomalies)).Dur("elapsed", result.TierTimings["tier2"]).Msg("tier2 completed")

	allAnomalies := append(append([]flow.Anomaly(nil), tier1Anomalies...), tier2Anomalies...)

	tier3Start := p.Clock()
	groups := p.tier3(batchCtx, allAnomalies)
	result.TierTimings["tier3"] = p.Clock().Sub(tier3Start)
	result.CorrelationGroups = len(groups)
	p.log.Info().Int("groups", len(groups)).Dur("elapsed", result.TierTimings["tier3"]).Msg("tier3 completed")

	tier4Start := p.Clock()
	findings := p.tier4(batchCtx, groups)
	result.TierTimings["tier4"] = p.Clock().Sub(tier4Start)
	result.ValidatedCount = len(findings)
	p.log.Info().Int("validated", len(findings)).Dur("elapsed", result.TierTimings["tier4"]).Msg("tier4 completed")

	result.Findings = findings
	result.TotalTime = p.Clock().Sub(start)
	result.Metadata["input_records"] = len(batch)
	result.Metadata["sla_compliance"] = result.TotalTime <= p.Timeouts.Batch
	if len(batch) > 0 {
		result.Metadata["efficiency_ratio"] = float64(len(findings)) / float64(len(batch))
	} else {
		result.Metadata["efficiency_ratio"] = 0.0
	}

	return result, nil
}

// tier1 runs every statistical detector concurrently under the tier 1
// deadline. A detector that errors is logged and excluded; the others'
// results are never masked.
func (p *Processor) tier1(ctx context.Context, batch []flow.FlowRecord) []flow.Anomaly {
	tierCtx, cancel := context.WithTimeout(ctx, p.Timeouts.Tier1)
	defer cancel()

	now := p.Clock()
	results := make([][]flow.Anomaly, len(p.Detectors))
	group, gctx := errgroup.WithContext(tierCtx)
	for i, d := range p.Detectors {
		i, d := i, d
		group.Go(func() error {
			anomalies, err := d.Detect(gctx, batch, now)
			if err != nil {
				p.log.Error().Err(err).Str("detector", d.Name()).Msg("tier1 detector failed")
				return nil
			}
			results[i] = anomalies
			return nil
		})
	}
	_ = group.Wait()

	var all []flow.Anomaly
	for _, r := range results {
		all = append(all, r...)
	}
	return all
}

// tier2 runs ML model analysis if a manager is configured. A nil manager or
// a tier2 failure degrades to no ML anomalies, leaving tier1's findings
// intact.
func (p *Processor) tier2(ctx context.Context, batch []flow.FlowRecord) []flow.Anomaly {
	if p.MLManager == nil {
		return nil
	}

	tierCtx, cancel := context.WithTimeout(ctx, p.Timeouts.Tier2)
	defer cancel()

	anomalies, err := p.MLManager.DetectAll(tierCtx, batch)
	if err != nil {
		p.log.Error().Err(err).Msg("tier2 ml analysis failed, continuing with tier1 results only")
		return nil
	}
	return anomalies
}

// tier3 correlates all anomalies. On failure it falls back to one group per
// anomaly, matching the degraded-but-complete behavior of the tier it
// replaces.
func (p *Processor) tier3(ctx context.Context, anomalies []flow.Anomaly) []flow.CorrelationGroup {
	tierCtx, cancel := context.WithTimeout(ctx, p.Timeouts.Tier3)
	defer cancel()

	now := p.Clock()
	groups, err := p.Correlator.Correlate(anomalies, now)
	if err != nil {
		p.log.Error().Err(err).Msg("tier3 correlation failed, falling back to single-anomaly groups")
		return singleAnomalyGroups(anomalies, now)
	}
	if tierCtx.Err() != nil {
		p.log.Warn().Msg("tier3 correlation exceeded its deadline")
	}
	return groups
}

func singleAnomalyGroups(anomalies []flow.Anomaly, now time.Time) []flow.CorrelationGroup {
	groups := make([]flow.CorrelationGroup, 0, len(anomalies))
	for i, a := range anomalies {
		id, err := util.NewFixedStringHash("corr-fallback", a.ID, fmt.Sprint(i))
		groupID := ""
		if err == nil {
			groupID = id.Hex()
		}
		groups = append(groups, flow.CorrelationGroup{
			ID:         groupID,
			Primary:    a,
			Confidence: a.Confidence,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	return groups
}

// fallbackMinConfidence is the degraded-path admission threshold used when
// Tier 4 cannot complete normally: lower than the 0.8 minimum group
// confidence gate, and always tagged Fallback on the resulting Finding.
const fallbackMinConfidence = 0.7

// tier4 validates every group and builds a Finding for each one that passes
// both the four validation stages and the minimum group confidence gate. If
// the tier's deadline is exceeded before a group is reached, the tier "could
// not complete" for that group the way the engine it replaces would raise;
// remaining groups are instead run through a confidence-gate-only fallback
// admission at MEDIUM severity, tagged Fallback on the Finding.
func (p *Processor) tier4(ctx context.Context, groups []flow.CorrelationGroup) []flow.Finding {
	tierCtx, cancel := context.WithTimeout(ctx, p.Timeouts.Tier4)
	defer cancel()

	if len(groups) == 0 {
		return nil
	}

	now := p.Clock()
	degraded := false
	findings := make([]flow.Finding, 0, len(groups))
	for _, g := range groups {
		var finding flow.Finding
		var ok bool

		select {
		case <-tierCtx.Done():
			degraded = true
			finding, ok = p.fallbackFinding(g, now)
		default:
			finding, ok = p.validateGroup(g, now)
		}

		if ok {
			findings = append(findings, finding)
		}
	}
	if degraded {
		p.log.Warn().Msg("tier4 validation exceeded its deadline, admitting remaining groups via confidence-gate fallback")
	}
	return findings
}

// validateGroup runs the full four-stage validation and, for groups that
// pass, the minimum group confidence gate (spec: 0.8, Validator.MinConfidence).
// A group that fails either is not published as a Finding.
func (p *Processor) validateGroup(g flow.CorrelationGroup, now time.Time) (flow.Finding, bool) {
	result := p.Validator.Validate(g)
	if !result.Valid {
		return flow.Finding{}, false
	}

	confidence := validate.GroupConfidence(g)
	if confidence < p.Validator.MinConfidence {
		return flow.Finding{}, false
	}

	severity, priority := validate.AssessThreat(g, confidence)
	return p.buildFinding(g, now, confidence, severity, priority, result, false), true
}

// fallbackFinding admits a group without running the four validation stages,
// on primary confidence alone, at a fixed MEDIUM severity. It is only used
// once Tier 4 can no longer complete its normal per-group validation within
// its deadline.
func (p *Processor) fallbackFinding(g flow.CorrelationGroup, now time.Time) (flow.Finding, bool) {
	confidence := g.Primary.Confidence
	if confidence <= fallbackMinConfidence {
		return flow.Finding{}, false
	}

	priority := validate.Priority(flow.SeverityMedium, confidence)
	return p.buildFinding(g, now, confidence, flow.SeverityMedium, priority, flow.ValidationResult{}, true), true
}

func (p *Processor) buildFinding(g flow.CorrelationGroup, now time.Time, confidence float64, severity flow.Severity, priority int, result flow.ValidationResult, fallback bool) flow.Finding {
	id, err := util.NewFixedStringHash("finding", g.ID, g.Primary.ID)
	findingID := g.ID
	if err == nil {
		findingID = id.Hex()
	}

	return flow.Finding{
		ID:            findingID,
		SchemaVersion: 1,
		ProducerID:    p.ProducerID,
		PublishedAt:   now,
		Kind:          g.Primary.Kind,
		Severity:      severity,
		Priority:      priority,
		Confidence:    confidence,
		Primary:       g.Primary,
		Related:       g.Related,
		GroupSize:     g.Size(),
		Validation:    result,
		Fallback:      fallback,
	}
}
