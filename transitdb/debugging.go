package transitdb

import (
	"fmt"
	"log/slog"

	"github.com/mlcsinaga/ttc-transit-punctuality/internal/logging"
)

// countedTables are the tables TableCounts reports on, in a fixed order.
var countedTables = []string{
	"agencies",
	"routes",
	"stops",
	"trips",
	"stop_times",
	"calendar",
	"calendar_dates",
	"shapes",
	"import_metadata",
	"vehicle_positions",
	"delay_records",
	"headway_records",
	"aggregate_metrics",
}

// TableCounts returns the row count of every table in the database. Counts
// are used for post-import verification and verbose diagnostics.
func (c *Client) TableCounts() (map[string]int, error) {
	rows, err := c.DB.Query("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return nil, fmt.Errorf("failed to query table names: %w", err)
	}
	defer logging.SafeCloseWithLogging(rows,
		slog.Default().With(slog.String("component", "debugging")),
		"database_rows")

	present := make(map[string]bool)
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		present[tableName] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, table := range countedTables {
		if !present[table] {
			continue
		}

		var count int
		// Table names come from the fixed list above, never from input.
		if err := c.DB.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			return nil, err
		}
		counts[table] = count
	}

	return counts, nil
}
