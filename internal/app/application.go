// Package app wires the storage, engine, and instrumentation layers together
// for the command binaries.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/mlcsinaga/ttc-transit-punctuality/internal/appconf"
	"github.com/mlcsinaga/ttc-transit-punctuality/internal/clock"
	"github.com/mlcsinaga/ttc-transit-punctuality/internal/export"
	"github.com/mlcsinaga/ttc-transit-punctuality/internal/metrics"
	"github.com/mlcsinaga/ttc-transit-punctuality/internal/otp"
	"github.com/mlcsinaga/ttc-transit-punctuality/transitdb"
)

// Application holds the shared dependencies of the command binaries.
type Application struct {
	Config  appconf.Config
	Logger  *slog.Logger
	DB      *transitdb.Client
	Store   *transitdb.Store
	Engine  *otp.Engine
	Clock   clock.Clock
	Metrics *metrics.Metrics
}

func New(config appconf.Config, db *transitdb.Client, logger *slog.Logger) *Application {
	if logger == nil {
		logger = slog.Default()
	}

	store := transitdb.NewStore(db)

	return &Application{
		Config:  config,
		Logger:  logger,
		DB:      db,
		Store:   store,
		Engine:  otp.NewEngine(store, store, logger),
		Clock:   clock.RealClock{},
		Metrics: metrics.NewWithLogger(logger),
	}
}

// RunMetrics computes the metrics for one service date and observation
// window, persists the result, and records run instrumentation.
func (app *Application) RunMetrics(ctx context.Context, serviceDate string, start, end time.Time, opts otp.Options) (*otp.Result, error) {
	runStart := app.Clock.Now()

	result, err := app.Engine.ComputeMetrics(ctx, serviceDate, start, end, opts)
	if err != nil {
		return nil, err
	}

	if err := app.Store.SaveMetricsResult(ctx, result); err != nil {
		return nil, fmt.Errorf("persisting metrics result: %w", err)
	}

	app.recordRunMetrics(app.Clock.Now().Sub(runStart), result.Diagnostics)

	return result, nil
}

func (app *Application) recordRunMetrics(duration time.Duration, diag otp.RunDiagnostics) {
	app.Metrics.MetricsRunsTotal.Inc()
	app.Metrics.MetricsRunDuration.Observe(duration.Seconds())
	app.Metrics.ArrivalsInferredTotal.
		WithLabelValues(metrics.MethodSequence).Add(float64(diag.SequenceMatches))
	app.Metrics.ArrivalsInferredTotal.
		WithLabelValues(metrics.MethodGeographic).Add(float64(diag.GeographicMatches))
	app.Metrics.RecordsSkippedTotal.
		WithLabelValues(metrics.SkipUnknownTrip).Add(float64(diag.UnknownTripObservations))
	app.Metrics.RecordsSkippedTotal.
		WithLabelValues(metrics.SkipMissingRoute).Add(float64(diag.EventsMissingRoute))
	app.Metrics.RecordsSkippedTotal.
		WithLabelValues(metrics.SkipOffRoute).Add(float64(diag.OffRouteObservations))
	app.Metrics.RecordsSkippedTotal.
		WithLabelValues(metrics.SkipNoCoverage).Add(float64(diag.MissingArrivals))
}

// RouteShapes loads every route's shape geometry for export. Rows arrive
// ordered by route, shape, and point sequence, so grouping is a single pass.
func (app *Application) RouteShapes(ctx context.Context) ([]export.RouteShape, error) {
	rows, err := app.DB.Queries.ListRouteShapePoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading route shape points: %w", err)
	}

	var shapes []export.RouteShape
	for _, row := range rows {
		n := len(shapes)
		if n == 0 || shapes[n-1].RouteID != row.RouteID || shapes[n-1].ShapeID != row.ShapeID {
			shapes = append(shapes, export.RouteShape{
				RouteID: row.RouteID,
				ShapeID: row.ShapeID,
			})
			n++
		}
		shapes[n-1].Coords = append(shapes[n-1].Coords, []float64{row.Lat, row.Lon})
	}
	return shapes, nil
}

// DumpDiagnostics writes a verbose dump of the run diagnostics.
func (app *Application) DumpDiagnostics(w io.Writer, diag otp.RunDiagnostics) {
	spew.Fdump(w, diag)
}
