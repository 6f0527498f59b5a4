// Package export writes computed metrics and route geometry to CSV files,
// optionally gzip-compressed, for downstream analysis tools.
package export

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/twpayne/go-polyline"

	"github.com/mlcsinaga/ttc-transit-punctuality/internal/logging"
	"github.com/mlcsinaga/ttc-transit-punctuality/internal/otp"
)

// RouteShape is one route's geometry, ready for polyline encoding.
type RouteShape struct {
	RouteID string
	ShapeID string
	// Coords are {lat, lon} pairs in drawing order.
	Coords [][]float64
}

// Exporter writes CSV files into a single output directory.
type Exporter struct {
	dir      string
	compress bool
	logger   *slog.Logger
}

func New(dir string, compress bool) *Exporter {
	return &Exporter{
		dir:      dir,
		compress: compress,
		logger:   slog.Default().With(slog.String("component", "csv_exporter")),
	}
}

// writeCSV creates name (plus a .gz suffix when compressing) under the output
// directory and streams rows through the given writer function.
func (e *Exporter) writeCSV(name string, rows int, write func(w *csv.Writer) error) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating export directory: %w", err)
	}

	path := filepath.Join(e.dir, name)
	if e.compress {
		path += ".gz"
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", path, err)
	}

	var w *csv.Writer
	var gz *gzip.Writer
	if e.compress {
		gz = gzip.NewWriter(f)
		w = csv.NewWriter(gz)
	} else {
		w = csv.NewWriter(f)
	}

	if err := write(w); err != nil {
		logging.SafeCloseWithLogging(f, e.logger, "export_file")
		return "", err
	}

	w.Flush()
	if err := w.Error(); err != nil {
		logging.SafeCloseWithLogging(f, e.logger, "export_file")
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			logging.SafeCloseWithLogging(f, e.logger, "export_file")
			return "", fmt.Errorf("compressing %s: %w", path, err)
		}
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", path, err)
	}

	logging.LogOperation(e.logger, "csv_export_completed",
		slog.String("path", path),
		slog.Int("rows", rows))

	return path, nil
}

// ExportDelays writes delays.csv and returns the written path.
func (e *Exporter) ExportDelays(records []otp.DelayRecord) (string, error) {
	return e.writeCSV("delays.csv", len(records), func(w *csv.Writer) error {
		if err := w.Write([]string{"route_id", "stop_id", "timestamp", "delay_seconds", "classification"}); err != nil {
			return err
		}
		for _, d := range records {
			row := []string{
				d.RouteID,
				d.StopID,
				d.Timestamp.UTC().Format(time.RFC3339),
				strconv.FormatInt(d.DelaySeconds, 10),
				d.Classification.String(),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

// ExportHeadways writes headways.csv and returns the written path.
func (e *Exporter) ExportHeadways(records []otp.HeadwayRecord) (string, error) {
	return e.writeCSV("headways.csv", len(records), func(w *csv.Writer) error {
		header := []string{
			"route_id", "stop_id", "timestamp",
			"scheduled_headway_seconds", "actual_headway_seconds", "bunching",
		}
		if err := w.Write(header); err != nil {
			return err
		}
		for _, h := range records {
			row := []string{
				h.RouteID,
				h.StopID,
				h.Timestamp.UTC().Format(time.RFC3339),
				strconv.FormatInt(h.ScheduledHeadwaySeconds, 10),
				strconv.FormatInt(h.ActualHeadwaySeconds, 10),
				strconv.FormatBool(h.Bunching),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

// ExportAggregates writes aggregates.csv and returns the written path.
func (e *Exporter) ExportAggregates(rows []otp.AggregateMetric) (string, error) {
	return e.writeCSV("aggregates.csv", len(rows), func(w *csv.Writer) error {
		header := []string{
			"route_id", "group_key", "otp_percent", "avg_delay_seconds",
			"delay_stddev", "bunching_rate", "reliability_score", "sample_count",
		}
		if err := w.Write(header); err != nil {
			return err
		}
		for _, m := range rows {
			row := []string{
				m.RouteID,
				m.GroupKey,
				formatFloat(m.OTPPercent),
				formatFloat(m.AvgDelaySeconds),
				formatFloat(m.DelayStdDev),
				formatFloat(m.BunchingRate),
				formatFloat(m.ReliabilityScore),
				strconv.Itoa(m.SampleCount),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

// ExportRouteShapes writes route_shapes.csv with each route's geometry as an
// encoded polyline, and returns the written path.
func (e *Exporter) ExportRouteShapes(shapes []RouteShape) (string, error) {
	return e.writeCSV("route_shapes.csv", len(shapes), func(w *csv.Writer) error {
		if err := w.Write([]string{"route_id", "shape_id", "polyline"}); err != nil {
			return err
		}
		for _, s := range shapes {
			row := []string{
				s.RouteID,
				s.ShapeID,
				string(polyline.EncodeCoords(s.Coords)),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

// ExportResult writes every metric output file for a run and returns the
// written paths.
func (e *Exporter) ExportResult(result *otp.Result) ([]string, error) {
	var paths []string

	p, err := e.ExportDelays(result.Delays)
	if err != nil {
		return nil, err
	}
	paths = append(paths, p)

	p, err = e.ExportHeadways(result.Headways)
	if err != nil {
		return nil, err
	}
	paths = append(paths, p)

	p, err = e.ExportAggregates(result.Aggregates)
	if err != nil {
		return nil, err
	}
	paths = append(paths, p)

	return paths, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
