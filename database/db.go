package database

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/activecm/flowguard/config"
	zlog "github.com/activecm/flowguard/logger"
	"github.com/activecm/flowguard/pkg/flow"
	"github.com/activecm/flowguard/pkg/validate"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

var ErrInvalidDatabaseConnection = fmt.Errorf("database connection is nil")

// DB is the ClickHouse-backed archive for Findings and analyst feedback. It
// serves two purposes: durable storage of published Findings for later
// review, and a historical-rate source that pkg/validate's Tier 4 feeds
// into HistoricalRateFunc and PatternRepetitionFunc.
type DB struct {
	Conn     driver.Conn
	selected string
	ctx      context.Context
	cancel   context.CancelFunc
}

// GetSelectedDB returns the name of the target database of this connection.
func (db *DB) GetSelectedDB() string {
	return db.selected
}

// QueryParameters attaches ClickHouse query parameters to the connection's context.
func (db *DB) QueryParameters(params clickhouse.Parameters) context.Context {
	return clickhouse.Context(db.ctx, clickhouse.WithParameters(params))
}

// GetContext returns the context bound to this connection.
func (db *DB) GetContext() context.Context {
	return db.ctx
}

// getConn returns the driver connection; used by BulkWriter to obtain a
// worker-local handle.
func (db *DB) getConn() driver.Conn {
	return db.Conn
}

// ConnectToDB opens a connection to the named ClickHouse database and
// confirms it's reachable.
func ConnectToDB(ctx context.Context, dbName string, cfg *config.Config, cancel context.CancelFunc) (*DB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Env.DBConnection},
		Auth: clickhouse.Auth{
			Database: dbName,
			Username: cfg.Env.DBUsername,
			Password: cfg.Env.DBPassword,
		},
		DialContext: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
		Debug: false,
		Debugf: func(format string, v ...any) {
			log.Println(format, v)
		},
		Settings: clickhouse.Settings{
			"max_execution_time": cfg.Database.MaxQueryExecutionTime,
			"mutations_sync":     1,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:          time.Second * 120,
		MaxOpenConns:         50,
		MaxIdleConns:         50,
		ConnMaxLifetime:      time.Hour,
		ConnOpenStrategy:     clickhouse.ConnOpenInOrder,
		BlockBufferSize:      10,
		MaxCompressionBuffer: 10240,
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{
				{Name: "flowguard", Version: "0.1"},
			},
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, err
	}

	return &DB{Conn: conn, ctx: ctx, cancel: cancel, selected: dbName}, nil
}

// EnsureSchema creates the findings and feedback tables if they don't
// already exist. Safe to call on every startup.
func (db *DB) EnsureSchema(ctx context.Context) error {
	ctx = db.QueryParameters(clickhouse.Parameters{"database": db.selected})

	if err := db.Conn.Exec(ctx, `--sql
		CREATE TABLE IF NOT EXISTS {database:Identifier}.findings (
			id                String,
			batch_id          String,
			schema_version    UInt8,
			producer_id       String,
			published_at      DateTime64(3),
			kind              String,
			severity          String,
			priority          UInt8,
			confidence        Float64,
			primary_anomaly_id String,
			src_addr          String,
			dst_addr          String,
			dst_port          UInt16,
			group_size        UInt16,
			valid             UInt8,
			fallback          UInt8
		) ENGINE = MergeTree()
		ORDER BY (published_at, id)
	`); err != nil {
		return fmt.Errorf("database: create findings table: %w", err)
	}

	if err := db.Conn.Exec(ctx, `--sql
		CREATE TABLE IF NOT EXISTS {database:Identifier}.feedback (
			finding_id       String,
			kind             String,
			entity_key       String,
			false_positive   UInt8,
			recorded_at      DateTime64(3)
		) ENGINE = MergeTree()
		ORDER BY (entity_key, recorded_at)
	`); err != nil {
		return fmt.Errorf("database: create feedback table: %w", err)
	}

	return nil
}

// FindingRecord is the ClickHouse row shape for an archived flow.Finding.
type FindingRecord struct {
	ID                string    `ch:"id"`
	BatchID           string    `ch:"batch_id"`
	SchemaVersion     uint8     `ch:"schema_version"`
	ProducerID        string    `ch:"producer_id"`
	PublishedAt       time.Time `ch:"published_at"`
	Kind              string    `ch:"kind"`
	Severity          string    `ch:"severity"`
	Priority          uint8     `ch:"priority"`
	Confidence        float64   `ch:"confidence"`
	PrimaryAnomalyID  string    `ch:"primary_anomaly_id"`
	SrcAddr           string    `ch:"src_addr"`
	DstAddr           string    `ch:"dst_addr"`
	DstPort           uint16    `ch:"dst_port"`
	GroupSize         uint16    `ch:"group_size"`
	Valid             uint8     `ch:"valid"`
	Fallback          uint8     `ch:"fallback"`
}

// NewFindingRecord flattens a flow.Finding into its archival row shape.
func NewFindingRecord(f flow.Finding) FindingRecord {
	var valid, fallback uint8
	if f.Validation.Valid {
		valid = 1
	}
	if f.Fallback {
		fallback = 1
	}

	srcAddr, dstAddr := "", ""
	if f.Primary.SrcAddr != nil {
		srcAddr = f.Primary.SrcAddr.String()
	}
	if f.Primary.DstAddr != nil {
		dstAddr = f.Primary.DstAddr.String()
	}

	return FindingRecord{
		ID:               f.ID,
		BatchID:          f.BatchID,
		SchemaVersion:    uint8(f.SchemaVersion),
		ProducerID:       f.ProducerID,
		PublishedAt:      f.PublishedAt,
		Kind:             string(f.Kind),
		Severity:         string(f.Severity),
		Priority:         uint8(f.Priority),
		Confidence:       f.Confidence,
		PrimaryAnomalyID: f.Primary.ID,
		SrcAddr:          srcAddr,
		DstAddr:          dstAddr,
		DstPort:          f.Primary.DstPort,
		GroupSize:        uint16(f.GroupSize),
		Valid:            valid,
		Fallback:         fallback,
	}
}

// FeedbackRecord is the ClickHouse row shape for one analyst feedback entry.
type FeedbackRecord struct {
	FindingID     string    `ch:"finding_id"`
	Kind          string    `ch:"kind"`
	EntityKey     string    `ch:"entity_key"`
	FalsePositive uint8     `ch:"false_positive"`
	RecordedAt    time.Time `ch:"recorded_at"`
}

// RecordFeedback appends a single analyst verdict for a Finding. It is a
// direct Exec rather than going through BulkWriter: feedback trickles in one
// record at a time from an analyst's review, not as part of a batch import.
func (db *DB) RecordFeedback(ctx context.Context, findingID string, kind flow.Kind, entityKey string, falsePositive bool, recordedAt time.Time) error {
	if db.Conn == nil {
		return ErrInvalidDatabaseConnection
	}

	var fp uint8
	if falsePositive {
		fp = 1
	}

	qCtx := db.QueryParameters(clickhouse.Parameters{"database": db.selected})
	batch, err := db.Conn.PrepareBatch(qCtx, `INSERT INTO {database:Identifier}.feedback`)
	if err != nil {
		return fmt.Errorf("database: prepare feedback insert: %w", err)
	}
	if err := batch.AppendStruct(&FeedbackRecord{
		FindingID: findingID, Kind: string(kind), EntityKey: entityKey,
		FalsePositive: fp, RecordedAt: recordedAt,
	}); err != nil {
		return fmt.Errorf("database: append feedback row: %w", err)
	}
	return batch.Send()
}

// HistoricalFalsePositiveRate returns the fraction of feedback entries for
// entityKey+kind marked as false positives within lookback of now.
// HistoricalRateFunc binds it into a validate.HistoricalRateFunc. An entity with no recorded feedback returns 0, the same
// conservative default as validate.AlwaysZeroHistoricalRate.
func (db *DB) HistoricalFalsePositiveRate(ctx context.Context, kind flow.Kind, entityKey string, lookback time.Duration, now time.Time) (float64, error) {
	if db.Conn == nil {
		return 0, ErrInvalidDatabaseConnection
	}

	qCtx := db.QueryParameters(clickhouse.Parameters{
		"database":   db.selected,
		"kind":       string(kind),
		"entity_key": entityKey,
		"since":      fmt.Sprintf("%d", now.Add(-lookback).UTC().Unix()),
	})

	var total, falsePositives uint64
	row := struct {
		Total uint64 `ch:"total"`
		FP    uint64 `ch:"fp"`
	}{}
	err := db.Conn.QueryRow(qCtx, `--sql
		SELECT count() AS total, sum(false_positive) AS fp FROM {database:Identifier}.feedback
		WHERE kind = {kind:String} AND entity_key = {entity_key:String}
			AND recorded_at >= fromUnixTimestamp({since:Int64})
	`).ScanStruct(&row)
	if err != nil {
		return 0, fmt.Errorf("database: query historical false positive rate: %w", err)
	}
	total, falsePositives = row.Total, row.FP

	if total == 0 {
		return 0, nil
	}
	return float64(falsePositives) / float64(total), nil
}

// PatternRepetitionScore returns how often the same kind+entity combination
// has recurred within lookback, normalized to [0,1] by capping at
// repetitionCap occurrences. PatternRepetitionFunc binds it into a
// validate.PatternRepetitionFunc.
func (db *DB) PatternRepetitionScore(ctx context.Context, kind flow.Kind, entityKey string, lookback time.Duration, now time.Time, repetitionCap int) (float64, error) {
	if db.Conn == nil {
		return 0, ErrInvalidDatabaseConnection
	}
	if repetitionCap <= 0 {
		repetitionCap = 10
	}

	qCtx := db.QueryParameters(clickhouse.Parameters{
		"database":   db.selected,
		"kind":       string(kind),
		"entity_key": entityKey,
		"since":      fmt.Sprintf("%d", now.Add(-lookback).UTC().Unix()),
	})

	var count uint64
	err := db.Conn.QueryRow(qCtx, `--sql
		SELECT count() AS count FROM {database:Identifier}.findings
		WHERE kind = {kind:String} AND src_addr = {entity_key:String}
			AND published_at >= fromUnixTimestamp({since:Int64})
	`).Scan(&count)
	if err != nil {
		logger := zlog.GetLogger()
		logger.Err(err).Str("database", db.selected).Msg("failed to compute pattern repetition score")
		return 0, fmt.Errorf("database: query pattern repetition score: %w", err)
	}

	if count == 0 {
		return 0, nil
	}
	score := float64(count) / float64(repetitionCap)
	if score > 1 {
		score = 1
	}
	return score, nil
}

// HistoricalRateFunc adapts HistoricalFalsePositiveRate to
// validate.HistoricalRateFunc's signature. A query failure degrades to the
// conservative AlwaysZeroHistoricalRate default rather than rejecting every
// group out of Tier 4, logging the failure instead.
func (db *DB) HistoricalRateFunc(lookback time.Duration) validate.HistoricalRateFunc {
	logger := zlog.GetLogger()
	return func(srcIP string, kind flow.Kind) float64 {
		rate, err := db.HistoricalFalsePositiveRate(db.ctx, kind, srcIP, lookback, time.Now().UTC())
		if err != nil {
			logger.Warn().Err(err).Str("src", srcIP).Str("kind", string(kind)).Msg("historical false positive lookup failed, defaulting to zero")
			return 0
		}
		return rate
	}
}

// PatternRepetitionFunc adapts PatternRepetitionScore to
// validate.PatternRepetitionFunc's signature, scoring a group's primary
// anomaly against its own source address.
func (db *DB) PatternRepetitionFunc(lookback time.Duration, repetitionCap int) validate.PatternRepetitionFunc {
	logger := zlog.GetLogger()
	return func(g flow.CorrelationGroup) float64 {
		srcAddr := ""
		if g.Primary.SrcAddr != nil {
			srcAddr = g.Primary.SrcAddr.String()
		}
		score, err := db.PatternRepetitionScore(db.ctx, g.Primary.Kind, srcAddr, lookback, time.Now().UTC(), repetitionCap)
		if err != nil {
			logger.Warn().Err(err).Str("src", srcAddr).Str("kind", string(g.Primary.Kind)).Msg("pattern repetition lookup failed, defaulting to zero")
			return 0
		}
		return score
	}
}
