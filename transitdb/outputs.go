package transitdb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mlcsinaga/ttc-transit-punctuality/internal/logging"
	"github.com/mlcsinaga/ttc-transit-punctuality/internal/otp"
)

// SaveMetricsResult replaces the stored metric outputs with the given run's
// results in a single transaction. Outputs are always rebuilt whole; a
// partially-updated metrics table is never observable.
func (s *Store) SaveMetricsResult(ctx context.Context, result *otp.Result) error {
	logger := slog.Default().With(slog.String("component", "transit_store"))

	tx, err := s.client.DB.Begin()
	if err != nil {
		return err
	}
	defer logging.SafeRollbackWithLogging(tx, logger, "save_metrics_result")

	for _, table := range []string{"delay_records", "headway_records", "aggregate_metrics"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	const insertDelay = `
INSERT INTO delay_records (route_id, stop_id, ts, scheduled_ts, delay_seconds, classification)
VALUES (?, ?, ?, ?, ?, ?)
`
	for _, d := range result.Delays {
		if _, err := tx.ExecContext(ctx, insertDelay,
			d.RouteID, d.StopID, d.Timestamp.Unix(), d.ScheduledTime.Unix(),
			d.DelaySeconds, d.Classification.String()); err != nil {
			return fmt.Errorf("inserting delay record: %w", err)
		}
	}

	const insertHeadway = `
INSERT INTO headway_records (
    route_id, stop_id, ts, scheduled_ts,
    scheduled_headway_seconds, actual_headway_seconds, bunching
) VALUES (?, ?, ?, ?, ?, ?, ?)
`
	for _, h := range result.Headways {
		if _, err := tx.ExecContext(ctx, insertHeadway,
			h.RouteID, h.StopID, h.Timestamp.Unix(), h.ScheduledTime.Unix(),
			h.ScheduledHeadwaySeconds, h.ActualHeadwaySeconds, boolToInt(h.Bunching)); err != nil {
			return fmt.Errorf("inserting headway record: %w", err)
		}
	}

	const insertAggregate = `
INSERT INTO aggregate_metrics (
    route_id, group_key, otp_percent, avg_delay_seconds, delay_stddev,
    bunching_rate, reliability_score, sample_count
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`
	for _, m := range result.Aggregates {
		if _, err := tx.ExecContext(ctx, insertAggregate,
			m.RouteID, m.GroupKey, m.OTPPercent, m.AvgDelaySeconds, m.DelayStdDev,
			m.BunchingRate, m.ReliabilityScore, m.SampleCount); err != nil {
			return fmt.Errorf("inserting aggregate metric: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	logging.LogOperation(logger, "metrics_result_saved",
		slog.Int("delays", len(result.Delays)),
		slog.Int("headways", len(result.Headways)),
		slog.Int("aggregates", len(result.Aggregates)))

	return nil
}

const listDelayRecords = `
SELECT route_id, stop_id, ts, scheduled_ts, delay_seconds, classification
FROM delay_records
ORDER BY route_id, stop_id, ts
`

// ListDelayRecords returns the stored delay records in export order.
func (s *Store) ListDelayRecords(ctx context.Context) ([]otp.DelayRecord, error) {
	rows, err := s.client.DB.QueryContext(ctx, listDelayRecords)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // closing is also checked explicitly below

	var items []otp.DelayRecord
	for rows.Next() {
		var (
			d              otp.DelayRecord
			ts             int64
			scheduledTs    int64
			classification string
		)
		if err := rows.Scan(&d.RouteID, &d.StopID, &ts, &scheduledTs, &d.DelaySeconds, &classification); err != nil {
			return nil, err
		}
		d.Timestamp = time.Unix(ts, 0).UTC()
		d.ScheduledTime = time.Unix(scheduledTs, 0).UTC()
		d.Classification = classificationFromString(classification)
		items = append(items, d)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listHeadwayRecords = `
SELECT route_id, stop_id, ts, scheduled_ts,
       scheduled_headway_seconds, actual_headway_seconds, bunching
FROM headway_records
ORDER BY route_id, stop_id, ts
`

// ListHeadwayRecords returns the stored headway records in export order.
func (s *Store) ListHeadwayRecords(ctx context.Context) ([]otp.HeadwayRecord, error) {
	rows, err := s.client.DB.QueryContext(ctx, listHeadwayRecords)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // closing is also checked explicitly below

	var items []otp.HeadwayRecord
	for rows.Next() {
		var (
			h           otp.HeadwayRecord
			ts          int64
			scheduledTs int64
			bunching    int64
		)
		if err := rows.Scan(&h.RouteID, &h.StopID, &ts, &scheduledTs,
			&h.ScheduledHeadwaySeconds, &h.ActualHeadwaySeconds, &bunching); err != nil {
			return nil, err
		}
		h.Timestamp = time.Unix(ts, 0).UTC()
		h.ScheduledTime = time.Unix(scheduledTs, 0).UTC()
		h.Bunching = bunching != 0
		items = append(items, h)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listAggregateMetrics = `
SELECT route_id, group_key, otp_percent, avg_delay_seconds, delay_stddev,
       bunching_rate, reliability_score, sample_count
FROM aggregate_metrics
ORDER BY route_id, group_key
`

// ListAggregateMetrics returns the stored aggregate rows in export order.
func (s *Store) ListAggregateMetrics(ctx context.Context) ([]otp.AggregateMetric, error) {
	rows, err := s.client.DB.QueryContext(ctx, listAggregateMetrics)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // closing is also checked explicitly below

	var items []otp.AggregateMetric
	for rows.Next() {
		var m otp.AggregateMetric
		if err := rows.Scan(&m.RouteID, &m.GroupKey, &m.OTPPercent, &m.AvgDelaySeconds,
			&m.DelayStdDev, &m.BunchingRate, &m.ReliabilityScore, &m.SampleCount); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func classificationFromString(s string) otp.Classification {
	switch s {
	case "early":
		return otp.Early
	case "late":
		return otp.Late
	default:
		return otp.OnTime
	}
}
