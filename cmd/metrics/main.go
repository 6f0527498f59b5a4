// Command metrics computes on-time-performance and headway metrics for one
// service date from the transit database, persists them, and optionally
// exports CSV files.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mlcsinaga/ttc-transit-punctuality/internal/app"
	"github.com/mlcsinaga/ttc-transit-punctuality/internal/appconf"
	"github.com/mlcsinaga/ttc-transit-punctuality/internal/export"
	"github.com/mlcsinaga/ttc-transit-punctuality/internal/logging"
	"github.com/mlcsinaga/ttc-transit-punctuality/internal/otp"
	"github.com/mlcsinaga/ttc-transit-punctuality/transitdb"
)

func main() {
	_ = godotenv.Load()

	defaults := otp.DefaultOptions()

	var (
		dbPath      = flag.String("db", envOrDefault("TTC_DB_PATH", "transit.db"), "SQLite database path")
		envName     = flag.String("env", envOrDefault("TTC_ENV", "development"), "environment (development|test|production)")
		verbose     = flag.Bool("verbose", false, "verbose logging and a diagnostics dump")
		serviceDate = flag.String("date", time.Now().Format("20060102"), "service date (YYYYMMDD)")
		startStr    = flag.String("start", "", "observation window start (RFC3339, default 24h before end)")
		endStr      = flag.String("end", "", "observation window end (RFC3339, default now)")
		exportDir   = flag.String("export-dir", envOrDefault("TTC_EXPORT_DIR", ""), "directory for CSV export (optional)")
		compress    = flag.Bool("gzip", false, "gzip-compress exported CSV files")
		withShapes  = flag.Bool("shapes", false, "also export route shape polylines")

		window      = flag.Int("window-seconds", defaults.MatchWindowSeconds, "observation match window in seconds")
		late        = flag.Int("late-threshold", defaults.LateThresholdSeconds, "late threshold in seconds")
		early       = flag.Int("early-threshold", defaults.EarlyThresholdSeconds, "early threshold in seconds (negative)")
		bunching    = flag.Float64("bunching-ratio", defaults.BunchingRatio, "bunching ratio of scheduled headway")
		workerCount = flag.Int("workers", defaults.Workers, "trip inference workers (0 = NumCPU)")
	)
	flag.Parse()

	logger := newLogger(*verbose)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = logging.WithLogger(ctx, logger)

	end := time.Now().UTC()
	if *endStr != "" {
		parsed, err := time.Parse(time.RFC3339, *endStr)
		if err != nil {
			logging.LogError(logger, "Invalid -end value", err)
			os.Exit(1)
		}
		end = parsed
	}
	start := end.Add(-24 * time.Hour)
	if *startStr != "" {
		parsed, err := time.Parse(time.RFC3339, *startStr)
		if err != nil {
			logging.LogError(logger, "Invalid -start value", err)
			os.Exit(1)
		}
		start = parsed
	}

	opts := otp.Options{
		MatchWindowSeconds:    *window,
		LateThresholdSeconds:  *late,
		EarlyThresholdSeconds: *early,
		BunchingRatio:         *bunching,
		ScoreClampMin:         defaults.ScoreClampMin,
		ScoreClampMax:         defaults.ScoreClampMax,
		Workers:               *workerCount,
	}

	config := appconf.Config{Env: appconf.EnvFromString(*envName), Verbose: *verbose}

	client, err := transitdb.NewClient(transitdb.NewConfig(*dbPath, config.Env, *verbose))
	if err != nil {
		logging.LogError(logger, "Failed to open database", err)
		os.Exit(1)
	}
	defer logging.SafeCloseWithLogging(client, logger, "database")

	application := app.New(config, client, logger)

	result, err := application.RunMetrics(ctx, *serviceDate, start, end, opts)
	if err != nil {
		logging.LogError(logger, "Metrics run failed", err)
		os.Exit(1)
	}

	logging.LogOperation(logger, "metrics_run_persisted",
		slog.String("service_date", *serviceDate),
		slog.Int("delays", len(result.Delays)),
		slog.Int("headways", len(result.Headways)),
		slog.Int("aggregates", len(result.Aggregates)))

	if *verbose {
		application.DumpDiagnostics(os.Stderr, result.Diagnostics)
	}

	if *exportDir == "" {
		return
	}

	exporter := export.New(*exportDir, *compress)
	paths, err := exporter.ExportResult(result)
	if err != nil {
		logging.LogError(logger, "CSV export failed", err)
		os.Exit(1)
	}

	if *withShapes {
		shapes, err := application.RouteShapes(ctx)
		if err != nil {
			logging.LogError(logger, "Loading route shapes failed", err)
			os.Exit(1)
		}
		path, err := exporter.ExportRouteShapes(shapes)
		if err != nil {
			logging.LogError(logger, "Route shape export failed", err)
			os.Exit(1)
		}
		paths = append(paths, path)
	}

	for _, p := range paths {
		logger.Info("export_written", slog.String("path", p))
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
