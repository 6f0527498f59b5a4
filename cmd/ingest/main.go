// Command ingest loads a GTFS schedule into the transit database and
// optionally polls a GTFS-RT vehicle positions feed into the position log.
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

	"github.com/mlcsinaga/ttc-transit-punctuality/internal/appconf"
	"github.com/mlcsinaga/ttc-transit-punctuality/internal/ingest"
	"github.com/mlcsinaga/ttc-transit-punctuality/internal/logging"
	"github.com/mlcsinaga/ttc-transit-punctuality/internal/metrics"
	"github.com/mlcsinaga/ttc-transit-punctuality/transitdb"
)

func main() {
	_ = godotenv.Load()

	var (
		dbPath       = flag.String("db", envOrDefault("TTC_DB_PATH", "transit.db"), "SQLite database path")
		envName      = flag.String("env", envOrDefault("TTC_ENV", "development"), "environment (development|test|production)")
		verbose      = flag.Bool("verbose", false, "verbose logging")
		gtfsURL      = flag.String("gtfs-url", envOrDefault("TTC_GTFS_URL", ""), "static GTFS zip URL to import")
		gtfsFile     = flag.String("gtfs-file", envOrDefault("TTC_GTFS_FILE", ""), "local static GTFS zip to import")
		rtURL        = flag.String("rt-url", envOrDefault("TTC_RT_VEHICLES_URL", ""), "GTFS-RT vehicle positions feed URL")
		pollInterval = flag.Duration("poll-interval", 30*time.Second, "vehicle position poll interval")
		archiveDir   = flag.String("archive-dir", envOrDefault("TTC_ARCHIVE_DIR", ""), "directory for raw feed snapshots (optional)")
		once         = flag.Bool("once", false, "poll the realtime feed once and exit")
	)
	flag.Parse()

	logger := newLogger(*verbose)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = logging.WithLogger(ctx, logger)

	client, err := transitdb.NewClient(transitdb.NewConfig(*dbPath, appconf.EnvFromString(*envName), *verbose))
	if err != nil {
		logging.LogError(logger, "Failed to open database", err)
		os.Exit(1)
	}
	defer logging.SafeCloseWithLogging(client, logger, "database")

	switch {
	case *gtfsFile != "":
		if err := client.ImportFromFile(ctx, *gtfsFile); err != nil {
			logging.LogError(logger, "Static GTFS import failed", err, slog.String("file", *gtfsFile))
			os.Exit(1)
		}
	case *gtfsURL != "":
		if err := client.DownloadAndStore(ctx, *gtfsURL); err != nil {
			logging.LogError(logger, "Static GTFS download failed", err, slog.String("url", *gtfsURL))
			os.Exit(1)
		}
	}

	if *verbose {
		counts, err := client.TableCounts()
		if err != nil {
			logging.LogError(logger, "Failed to read table counts", err)
		} else {
			for table, count := range counts {
				logger.Info("table_count", slog.String("table", table), slog.Int("rows", count))
			}
		}
	}

	if *rtURL == "" {
		return
	}

	m := metrics.NewWithLogger(logger)
	m.StartDBStatsCollector(client.DB, 15*time.Second)
	defer m.Shutdown()

	var archiver *ingest.Archiver
	if *archiveDir != "" {
		archiver = ingest.NewArchiver(*archiveDir)
	}

	store := transitdb.NewStore(client)
	poller := ingest.NewPoller(ingest.PollerConfig{
		VehiclePositionsURL: *rtURL,
		Interval:            *pollInterval,
		Archiver:            archiver,
		Metrics:             m,
	}, store)

	if *once {
		count, err := poller.PollOnce(ctx)
		if err != nil {
			logging.LogError(logger, "Vehicle position poll failed", err)
			os.Exit(1)
		}
		logging.LogOperation(logger, "vehicle_positions_polled", slog.Int("observations", count))
		return
	}

	poller.Start()
	logging.LogOperation(logger, "position_polling_started",
		slog.String("url", *rtURL),
		slog.Duration("interval", *pollInterval))

	<-ctx.Done()
	poller.Stop()
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
