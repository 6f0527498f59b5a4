package ingest

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/mlcsinaga/ttc-transit-punctuality/internal/logging"
)

// Archiver writes raw GTFS-RT feed snapshots to disk, gzip-compressed, so
// runs can be replayed against historical feed data.
type Archiver struct {
	dir    string
	logger *slog.Logger
}

func NewArchiver(dir string) *Archiver {
	return &Archiver{
		dir:    dir,
		logger: slog.Default().With(slog.String("component", "feed_archiver")),
	}
}

// Archive writes one snapshot and returns its path. Snapshot names carry the
// fetch time in UTC, so one file per fetch second.
func (a *Archiver) Archive(raw []byte, fetchedAt time.Time) (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating archive directory: %w", err)
	}

	name := fmt.Sprintf("vehicle_positions_%s.pb.gz", fetchedAt.UTC().Format("20060102T150405Z"))
	path := filepath.Join(a.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", path, err)
	}

	gz := gzip.NewWriter(f)
	if _, err := gz.Write(raw); err != nil {
		logging.SafeCloseWithLogging(f, a.logger, "archive_file")
		return "", fmt.Errorf("compressing snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		logging.SafeCloseWithLogging(f, a.logger, "archive_file")
		return "", fmt.Errorf("finishing snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", path, err)
	}

	logging.LogOperation(a.logger, "feed_snapshot_archived",
		slog.String("path", path),
		slog.Int("raw_bytes", len(raw)))

	return path, nil
}
