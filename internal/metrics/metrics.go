// Package metrics provides Prometheus metrics for the punctuality pipeline.
package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Registry is the Prometheus registry for this metrics instance
	Registry *prometheus.Registry

	// Pipeline metrics
	MetricsRunsTotal       prometheus.Counter
	MetricsRunDuration     prometheus.Histogram
	ArrivalsInferredTotal  *prometheus.CounterVec
	RecordsSkippedTotal    *prometheus.CounterVec
	PositionsIngestedTotal prometheus.Counter

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
	DBWaitSecondsTotal prometheus.Counter

	// logger for error reporting
	logger *slog.Logger

	// collectorStarted prevents spawning multiple collector goroutines
	collectorStarted atomic.Bool

	// cancel stops the DB stats collector goroutine
	cancel context.CancelFunc

	// wg tracks the DB stats collector goroutine for graceful shutdown
	wg sync.WaitGroup
}

// Arrival inference method labels for ArrivalsInferredTotal.
const (
	MethodSequence   = "sequence"
	MethodGeographic = "geographic"
)

// Skip reason labels for RecordsSkippedTotal.
const (
	SkipUnknownTrip  = "unknown_trip"
	SkipMissingRoute = "missing_route"
	SkipOffRoute     = "off_route"
	SkipNoCoverage   = "no_coverage"
)

// New creates and registers all application metrics with a new registry.
func New() *Metrics {
	return NewWithLogger(nil)
}

// NewWithLogger creates metrics with a logger for error reporting.
func NewWithLogger(logger *slog.Logger) *Metrics {
	registry := prometheus.NewRegistry()

	metricsRunsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ttc_metrics_runs_total",
		Help: "Total number of completed metrics computation runs",
	})

	metricsRunDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ttc_metrics_run_duration_seconds",
		Help:    "Metrics computation run duration distribution",
		Buckets: prometheus.DefBuckets,
	})

	arrivalsInferredTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ttc_arrivals_inferred_total",
			Help: "Total inferred arrivals by inference method",
		},
		[]string{"method"},
	)

	recordsSkippedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ttc_records_skipped_total",
			Help: "Total input records skipped during a run, by reason",
		},
		[]string{"reason"},
	)

	positionsIngestedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ttc_positions_ingested_total",
		Help: "Total vehicle position observations written to the log",
	})

	dbConnectionsOpen := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ttc_db_connections_open",
		Help: "Number of open database connections",
	})

	dbConnectionsInUse := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ttc_db_connections_in_use",
		Help: "Number of database connections currently in use",
	})

	dbConnectionsIdle := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ttc_db_connections_idle",
		Help: "Number of idle database connections",
	})

	dbWaitSecondsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ttc_db_wait_seconds_total",
		Help: "Total time blocked waiting for a database connection",
	})

	registry.MustRegister(
		metricsRunsTotal,
		metricsRunDuration,
		arrivalsInferredTotal,
		recordsSkippedTotal,
		positionsIngestedTotal,
		dbConnectionsOpen,
		dbConnectionsInUse,
		dbConnectionsIdle,
		dbWaitSecondsTotal,
	)

	return &Metrics{
		Registry:               registry,
		MetricsRunsTotal:       metricsRunsTotal,
		MetricsRunDuration:     metricsRunDuration,
		ArrivalsInferredTotal:  arrivalsInferredTotal,
		RecordsSkippedTotal:    recordsSkippedTotal,
		PositionsIngestedTotal: positionsIngestedTotal,
		DBConnectionsOpen:      dbConnectionsOpen,
		DBConnectionsInUse:     dbConnectionsInUse,
		DBConnectionsIdle:      dbConnectionsIdle,
		DBWaitSecondsTotal:     dbWaitSecondsTotal,
		logger:                 logger,
	}
}

// StartDBStatsCollector starts a goroutine that periodically collects database
// connection pool statistics and updates the corresponding metrics.
// This method is idempotent; call Shutdown() to stop the collector.
func (m *Metrics) StartDBStatsCollector(db *sql.DB, interval time.Duration) {
	if db == nil {
		return
	}

	if !m.collectorStarted.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	var lastWaitDuration time.Duration

	// Add to WaitGroup BEFORE exposing cancel to avoid race with Shutdown
	m.wg.Add(1)
	m.cancel = cancel

	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				if m.logger != nil {
					m.logger.Error("panic in DB stats collector", "error", r)
				}
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				stats := db.Stats()
				m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
				m.DBConnectionsInUse.Set(float64(stats.InUse))
				m.DBConnectionsIdle.Set(float64(stats.Idle))

				// Add the delta of wait duration since last check
				waitDelta := stats.WaitDuration - lastWaitDuration
				if waitDelta > 0 {
					m.DBWaitSecondsTotal.Add(waitDelta.Seconds())
				}
				lastWaitDuration = stats.WaitDuration

			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the DB stats collector goroutine and waits for it to exit.
// This method is safe to call multiple times.
func (m *Metrics) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
