package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/activecm/flowguard/config"
	"github.com/activecm/flowguard/database"
	"github.com/activecm/flowguard/pkg/correlate"
	"github.com/activecm/flowguard/pkg/corrstate"
	"github.com/activecm/flowguard/pkg/detectors"
	"github.com/activecm/flowguard/pkg/flow"
	"github.com/activecm/flowguard/pkg/mlclient"
	"github.com/activecm/flowguard/pkg/pipeline"
	"github.com/activecm/flowguard/pkg/publish"
	"github.com/activecm/flowguard/pkg/resilience"
	"github.com/activecm/flowguard/pkg/validate"
	"github.com/activecm/flowguard/util"
)

// buildDetectors constructs the five Tier-1 detectors, applying the config's
// per-kind overrides on top of each detector's documented defaults.
func buildDetectors(cfg *config.Config) []detectors.Detector {
	ps := detectors.NewPortScanDetector()
	ps.PortThreshold = cfg.Detection.PortScan.UniquePortThreshold
	ps.TimeWindow = time.Duration(cfg.Detection.PortScan.TimeWindowSeconds) * time.Second
	ps.ConfidenceThreshold = cfg.Detection.PortScan.ConfidenceThreshold

	ddos := detectors.NewDDoSDetector()
	ddos.PacketRateThreshold = cfg.Detection.DDoS.PacketRateThreshold
	ddos.CriticalThreshold = cfg.Detection.DDoS.CriticalThreshold
	ddos.HighThreshold = cfg.Detection.DDoS.HighThreshold
	ddos.ConfidenceThreshold = cfg.Detection.DDoS.ConfidenceThreshold

	c2 := detectors.NewC2BeaconDetector()
	c2.CVThreshold = cfg.Detection.C2Beacon.CoefficientOfVarThreshold
	c2.ConfidenceThreshold = cfg.Detection.C2Beacon.ConfidenceThreshold

	mining := detectors.NewCryptoMiningDetector()
	mining.MinConnections = cfg.Detection.CryptoMining.MinConnections
	mining.DataThreshold = cfg.Detection.CryptoMining.DataThresholdBytes
	mining.ConfidenceThreshold = cfg.Detection.CryptoMining.ConfidenceThreshold

	tor := detectors.NewTorUsageDetector()
	tor.MinConnections = cfg.Detection.TorUsage.MinConnections
	tor.ConfidenceThreshold = cfg.Detection.TorUsage.ConfidenceThreshold

	return []detectors.Detector{ps, ddos, c2, mining, tor}
}

// buildMLManager constructs the Tier-2 model manager over every configured
// model endpoint. It returns nil when no models are configured, which tells
// pipeline.Processor to skip Tier 2 entirely.
func buildMLManager(cfg *config.Config, log zerolog.Logger) *mlclient.Manager {
	if len(cfg.MLClients.Models) == 0 {
		return nil
	}

	timeout := time.Duration(cfg.MLClients.RequestTimeoutSec) * time.Second
	clients := make([]mlclient.ModelClient, 0, len(cfg.MLClients.Models))
	for _, model := range cfg.MLClients.Models {
		clients = append(clients, mlclient.NewHTTPModelClient(model.Name, model.BaseURL, timeout))
	}

	manager := mlclient.NewManager(clients,
		mlclient.WithHealthCheckInterval(time.Duration(cfg.MLClients.HealthCheckIntervalSec)*time.Second),
		mlclient.WithMaxErrorCount(cfg.MLClients.MaxErrorCount),
	)
	manager.SetLogger(log)
	return manager
}

// buildValidator constructs Tier 4's validator, wiring the whitelist from
// config and the historical/pattern-repetition lookups against the archive
// database so repeat false positives lose confidence over time.
// HistoricalFPRateCeiling is applied as an upper bound on every
// ThreatRule's MaxFalsePositiveRate: a rule whose per-kind rate is above the
// operator-wide ceiling is lowered to it, and the others keep their own rate.
func buildValidator(cfg *config.Config, db *database.DB) (*validate.Validator, error) {
	v := validate.NewValidator()
	v.WhitelistedIPs = make(map[string]struct{}, len(cfg.Validation.WhitelistedIPs))
	for _, ip := range cfg.Validation.WhitelistedIPs {
		v.WhitelistedIPs[ip] = struct{}{}
	}

	subnets, err := util.ParseSubnets(subnetStrings(cfg.Validation.WhitelistedSubnets))
	if err != nil {
		return nil, fmt.Errorf("parsing whitelisted subnets: %w", err)
	}
	v.WhitelistedSubnets = subnets

	v.BusinessHoursStart = cfg.Validation.BusinessHoursStart
	v.BusinessHoursEnd = cfg.Validation.BusinessHoursEnd

	lookback := time.Duration(cfg.Validation.PatternLookbackDays) * 24 * time.Hour
	if db != nil {
		v.HistoricalRate = db.HistoricalRateFunc(lookback)
		v.PatternRepetition = db.PatternRepetitionFunc(lookback, cfg.Validation.PatternRepetitionCap)
	}

	for kind, rule := range v.Rules {
		if rule.MaxFalsePositiveRate > cfg.Validation.HistoricalFPRateCeiling {
			rule.MaxFalsePositiveRate = cfg.Validation.HistoricalFPRateCeiling
		}
		v.Rules[kind] = rule
	}

	return v, nil
}

func subnetStrings(subnets []util.Subnet) []string {
	out := make([]string, len(subnets))
	for i, s := range subnets {
		out[i] = s.ToString()
	}
	return out
}

// buildCorrstateStore constructs the cross-instance correlation state store.
// A Redis address configures a RedisStore; an empty address falls back to a
// single-process MemoryStore, letting flowguard run standalone with no
// external dependencies.
func buildCorrstateStore(cfg *config.Config) corrstate.Store {
	opts := []corrstate.RedisOption{
		corrstate.WithTTL(time.Duration(cfg.CorrelationState.TTLMinutes) * time.Minute),
		corrstate.WithMaxHistory(cfg.CorrelationState.MaxHistory),
		corrstate.WithCleanupInterval(time.Duration(cfg.CorrelationState.CleanupIntervalMins) * time.Minute),
	}

	if cfg.CorrelationState.RedisAddr == "" {
		return corrstate.NewMemoryStore(opts...)
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.CorrelationState.RedisAddr})
	return corrstate.NewRedisStore(client, opts...)
}

// recordCorrelationState folds each published finding's primary anomaly into
// the cross-instance correlation state store, keyed by source address, so
// later batches (on this instance or another) see the entity's history.
func recordCorrelationState(ctx context.Context, store corrstate.Store, findings []flow.Finding) {
	for _, f := range findings {
		if f.Primary.SrcAddr == nil {
			continue
		}
		entry := corrstate.Entry{
			AnomalyID:  f.Primary.ID,
			Kind:       f.Kind,
			Confidence: f.Confidence,
			Timestamp:  f.Primary.DetectedAt,
			SrcAddr:    f.Primary.SrcAddr.String(),
		}
		if f.Primary.HasDst {
			entry.DstAddr = f.Primary.DstAddr.String()
			entry.DstPort = f.Primary.DstPort
		}
		_ = store.Update(ctx, f.Primary.SrcAddr.String(), entry, nil)
	}
}

// buildProcessor assembles the full four-tier pipeline from config.
func buildProcessor(cfg *config.Config, db *database.DB, log zerolog.Logger) (*pipeline.Processor, error) {
	validator, err := buildValidator(cfg, db)
	if err != nil {
		return nil, err
	}

	t1, t2, t3, t4, batch := cfg.Pipeline.TierTimeouts()

	engine := correlate.NewEngine()
	engine.EntityThreshold = cfg.Correlation.EntityThreshold

	return pipeline.NewProcessor(
		buildDetectors(cfg),
		buildMLManager(cfg, log),
		engine,
		validator,
		pipeline.WithTimeouts(pipeline.Timeouts{Tier1: t1, Tier2: t2, Tier3: t3, Tier4: t4, Batch: batch}),
		pipeline.WithLogger(log),
		pipeline.WithProducerID(cfg.Publishing.ProducerID),
	), nil
}

// breakerBus wraps a publish.Bus call in a circuit breaker, so a bus that
// starts failing stops absorbing the publisher's per-call timeout on every
// finding and instead fails fast until it recovers.
type breakerBus struct {
	inner   publish.Bus
	breaker *resilience.Breaker
}

func newBreakerBus(inner publish.Bus, cfg *config.Config, log zerolog.Logger) *breakerBus {
	rcfg := resilience.Config{
		Name:             "publish-" + inner.Name(),
		FailureThreshold: cfg.Resilience.FailureThreshold,
		RecoveryTimeout:  time.Duration(cfg.Resilience.RecoveryTimeoutSec) * time.Second,
		SuccessThreshold: cfg.Resilience.SuccessThreshold,
		CallTimeout:      time.Duration(cfg.Resilience.CallTimeoutSec) * time.Second,
	}
	return &breakerBus{inner: inner, breaker: resilience.New(rcfg, nil, log)}
}

func (b *breakerBus) Name() string { return b.inner.Name() }

func (b *breakerBus) PublishFindings(ctx context.Context, findings []flow.Finding) error {
	_, err := b.breaker.Call(ctx, func(ctx context.Context) (any, error) {
		return nil, b.inner.PublishFindings(ctx, findings)
	})
	return err
}

func (b *breakerBus) PublishSystemEvent(ctx context.Context, event publish.SystemEvent) error {
	_, err := b.breaker.Call(ctx, func(ctx context.Context) (any, error) {
		return nil, b.inner.PublishSystemEvent(ctx, event)
	})
	return err
}

// buildPublisher assembles the publisher: a primary bus (circuit-breaker
// wrapped), an optional fallback bus, and an on-disk outbox as the last
// resort so a finding is never silently dropped.
func buildPublisher(cfg *config.Config, log zerolog.Logger, reg prometheus.Registerer) (*publish.Publisher, error) {
	timeout := time.Duration(cfg.Publishing.BusTimeoutSec) * time.Second

	var primary publish.Bus
	if cfg.Publishing.PrimaryBusURL != "" {
		primary = newBreakerBus(publish.NewHTTPBus("primary", cfg.Publishing.PrimaryBusURL+"/findings", cfg.Publishing.PrimaryBusURL+"/events", timeout), cfg, log)
	}

	var fallback publish.Bus
	if cfg.Publishing.FallbackBusURL != "" {
		fallback = newBreakerBus(publish.NewHTTPBus("fallback", cfg.Publishing.FallbackBusURL+"/findings", cfg.Publishing.FallbackBusURL+"/events", timeout), cfg, log)
	}

	outboxLimiter := rate.NewLimiter(rate.Limit(cfg.Publishing.OutboxRatePerSecond), 1)
	outbox, err := publish.NewOutbox(cfg.Publishing.OutboxPath, outboxLimiter, log)
	if err != nil {
		return nil, fmt.Errorf("building outbox: %w", err)
	}

	metrics := publish.NewMetrics(reg)
	return publish.NewPublisher(primary, fallback, outbox, metrics, log), nil
}
