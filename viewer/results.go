package viewer

import (
	"fmt"
	"strings"
	"time"

	"github.com/activecm/flowguard/database"
	"github.com/activecm/flowguard/pkg/flow"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/charmbracelet/bubbles/list"
)

// Item is one archived finding as rendered in the list/sidebar.
type Item database.FindingRecord

func (i Item) FilterValue() string { return i.SrcAddr }

func (i Item) GetSeverity(color bool) string {
	if !color {
		return strings.Title(strings.ToLower(i.Severity)) //nolint:staticcheck // matches the teacher's title-casing of severities
	}
	return renderSeverity(flow.Severity(i.Severity), strings.Title(strings.ToLower(i.Severity)))
}

func (i Item) GetKind() string { return i.Kind }
func (i Item) GetSrc() string  { return i.SrcAddr }
func (i Item) GetDst() string {
	if i.DstPort == 0 {
		return i.DstAddr
	}
	return fmt.Sprintf("%s:%d", i.DstAddr, i.DstPort)
}
func (i Item) GetConfidence() string { return fmt.Sprintf("%1.2f%%", i.Confidence*100) }
func (i Item) GetPublishedAt() string { return i.PublishedAt.Format("2006-01-02 15:04:05") }
func (i Item) GetValid() string {
	if i.Valid == 1 {
		return "✓"
	}
	return ""
}

// GetResults pages through the findings table, most recent first, applying
// the given filter.
func GetResults(db *database.DB, filter Filter, currentPage, pageSize int, minTimestamp time.Time) ([]list.Item, bool, error) {
	query, params, appliedFilter := BuildResultsQuery(filter, currentPage, pageSize, minTimestamp)

	ctx := clickhouse.Context(db.GetContext(), clickhouse.WithParameters(params))

	rows, err := db.Conn.Query(ctx, query)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var items []list.Item
	for rows.Next() {
		var res Item
		if err := rows.ScanStruct(&res); err != nil {
			return nil, false, fmt.Errorf("could not read finding row for viewer: %w", err)
		}
		items = append(items, list.Item(res))
	}

	return items, appliedFilter, nil
}

// BuildResultsQuery builds a paginated, filtered query against the findings
// table.
func BuildResultsQuery(filter Filter, currentPage, pageSize int, minTimestamp time.Time) (string, clickhouse.Parameters, bool) {
	params := clickhouse.Parameters{}

	query := `--sql
		SELECT id, batch_id, schema_version, producer_id, published_at, kind, severity, priority,
			confidence, primary_anomaly_id, src_addr, dst_addr, dst_port, group_size, valid, fallback
		FROM findings
		WHERE published_at >= fromUnixTimestamp({min_ts:Int64})
	`

	var whereConditions []string
	if filter.Src != "" {
		whereConditions = append(whereConditions, "src_addr = {src:String}")
		params["src"] = filter.Src
	}
	if filter.Kind != "" {
		whereConditions = append(whereConditions, "kind = {kind:String}")
		params["kind"] = filter.Kind
	}
	if filter.Severity != "" {
		whereConditions = append(whereConditions, "severity = {severity:String}")
		params["severity"] = filter.Severity
	}
	if len(whereConditions) > 0 {
		query += " AND " + strings.Join(whereConditions, " AND ")
	}

	if filter.SortPublished != "" {
		query += " ORDER BY published_at " + filter.SortPublished
	} else if filter.SortConfidence != "" {
		query += " ORDER BY confidence " + filter.SortConfidence
	} else {
		query += " ORDER BY published_at DESC"
	}

	offset := currentPage * pageSize
	if offset > 0 {
		query += " OFFSET {skip:Int32} ROWS FETCH NEXT {page_size:Int32} ROWS ONLY"
		params["skip"] = fmt.Sprintf("%d", offset)
	} else {
		query += " LIMIT {page_size:Int32}"
	}
	params["page_size"] = fmt.Sprint(pageSize)
	params["min_ts"] = fmt.Sprintf("%d", minTimestamp.UTC().Unix())

	appliedFilter := len(whereConditions) > 0 || filter.SortPublished != "" || filter.SortConfidence != ""
	return query, params, appliedFilter
}
