package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/activecm/flowguard/config"
	"github.com/activecm/flowguard/database"
	"github.com/activecm/flowguard/pkg/flow"

	"github.com/stretchr/testify/suite"
)

// DatabaseTestSuite exercises the findings/feedback archive against a live
// ClickHouse instance, the same integration-test convention the network
// analysis tables were tested with: no mock driver, a real connection per
// suite run.
type DatabaseTestSuite struct {
	suite.Suite
	cfg *config.Config
	db  *database.DB
}

func (d *DatabaseTestSuite) SetupSuite() {
	t := d.T()
	cfg, err := config.ReadFileConfig(nil, config.DefaultConfigPath)
	if err != nil {
		t.Skipf("skipping database suite: could not load config: %v", err)
	}
	d.cfg = cfg

	db, err := database.ConnectToDB(context.Background(), "flowguard_test", cfg, nil)
	if err != nil {
		t.Skipf("skipping database suite: could not connect to clickhouse: %v", err)
	}
	d.db = db

	err = db.EnsureSchema(context.Background())
	d.Require().NoError(err, "schema creation should not error")
}

func TestDatabaseSuite(t *testing.T) {
	suite.Run(t, new(DatabaseTestSuite))
}

func (d *DatabaseTestSuite) TestRecordFeedbackAndHistoricalRate() {
	ctx := context.Background()
	now := time.Now().UTC()

	err := d.db.RecordFeedback(ctx, "finding-1", flow.KindPortScan, "10.0.0.5", true, now)
	require := d.Require()
	require.NoError(err, "recording feedback should not error")

	err = d.db.RecordFeedback(ctx, "finding-2", flow.KindPortScan, "10.0.0.5", false, now)
	require.NoError(err, "recording feedback should not error")

	rate, err := d.db.HistoricalFalsePositiveRate(ctx, flow.KindPortScan, "10.0.0.5", 24*time.Hour, now.Add(time.Minute))
	require.NoError(err, "computing historical rate should not error")
	require.InDelta(0.5, rate, 0.01, "two entries, one false positive, should yield a 0.5 rate")
}

func (d *DatabaseTestSuite) TestHistoricalRateWithNoFeedbackIsZero() {
	ctx := context.Background()
	rate, err := d.db.HistoricalFalsePositiveRate(ctx, flow.KindDDoS, "192.0.2.1", 24*time.Hour, time.Now().UTC())
	d.Require().NoError(err)
	d.Require().Equal(0.0, rate, "an entity with no recorded feedback should report a zero rate")
}

func (d *DatabaseTestSuite) TestPatternRepetitionScoreCapsAtOne() {
	ctx := context.Background()
	score, err := d.db.PatternRepetitionScore(ctx, flow.KindCryptoMining, "10.0.0.9", 24*time.Hour, time.Now().UTC(), 0)
	d.Require().NoError(err)
	d.Require().GreaterOrEqual(score, 0.0)
	d.Require().LessOrEqual(score, 1.0)
}

func TestNilConnectionMethodsReturnErrInvalidConnection(t *testing.T) {
	db := database.DB{}
	_, err := db.HistoricalFalsePositiveRate(context.Background(), flow.KindPortScan, "10.0.0.1", time.Hour, time.Now())
	if err != database.ErrInvalidDatabaseConnection {
		t.Fatalf("expected ErrInvalidDatabaseConnection, got %v", err)
	}
}
