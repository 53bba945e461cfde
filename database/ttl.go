package database

import (
	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
)

// Check the status of a table's TTL:
// SELECT delete_ttl_info_min, delete_ttl_info_max FROM system.parts
// WHERE database='flowguard' AND table='findings'

// FindingsRetentionDays and FeedbackRetentionDays are the default archive windows.
// Findings are kept long enough to support trend analysis; feedback is kept
// longer since it's the input to HistoricalFalsePositiveRate.
const (
	FindingsRetentionDays = 180
	FeedbackRetentionDays = 365
)

// EnsureTTLs sets retention policies on the findings and feedback tables.
func (db *DB) EnsureTTLs() error {
	ctx := db.QueryParameters(clickhouse.Parameters{
		"database": db.selected,
	})

	if err := db.Conn.Exec(ctx, `--sql
		ALTER TABLE {database:Identifier}.findings MODIFY TTL published_at + INTERVAL 180 DAY`); err != nil {
		return err
	}

	if err := db.Conn.Exec(ctx, `--sql
		ALTER TABLE {database:Identifier}.feedback MODIFY TTL recorded_at + INTERVAL 365 DAY`); err != nil {
		return err
	}

	return nil
}
