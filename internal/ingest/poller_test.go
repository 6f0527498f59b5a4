package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlcsinaga/ttc-transit-punctuality/internal/clock"
	"github.com/mlcsinaga/ttc-transit-punctuality/internal/otp"
)

// zeroEntityFeed is a serialized FeedMessage containing only the required
// header (gtfs_realtime_version "2.0"): a valid feed with no entities.
var zeroEntityFeed = []byte{0x0a, 0x05, 0x0a, 0x03, '2', '.', '0'}

type fakeWriter struct {
	mu       sync.Mutex
	recorded [][]otp.PositionObservation
}

func (w *fakeWriter) RecordVehiclePositions(_ context.Context, observations []otp.PositionObservation) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recorded = append(w.recorded, observations)
	return nil
}

func TestPollOnceEmptyFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(zeroEntityFeed)
	}))
	defer server.Close()

	writer := &fakeWriter{}
	poller := NewPoller(PollerConfig{VehiclePositionsURL: server.URL}, writer)

	count, err := poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, writer.recorded, "no observations should be recorded for an empty feed")
}

func TestPollOnceServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	poller := NewPoller(PollerConfig{VehiclePositionsURL: server.URL}, &fakeWriter{})

	_, err := poller.PollOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestPollOnceArchivesSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(zeroEntityFeed)
	}))
	defer server.Close()

	dir := t.TempDir()
	mock := clock.NewMockClock(time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC))
	poller := NewPoller(PollerConfig{
		VehiclePositionsURL: server.URL,
		Archiver:            NewArchiver(dir),
		Clock:               mock,
	}, &fakeWriter{})

	_, err := poller.PollOnce(context.Background())
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "vehicle_positions_20240315T120000Z.pb.gz", entries[0].Name())
}

func TestNewPollerDefaults(t *testing.T) {
	poller := NewPoller(PollerConfig{VehiclePositionsURL: "http://example.invalid"}, &fakeWriter{})

	assert.Equal(t, 30*time.Second, poller.config.Interval)
	assert.NotNil(t, poller.clock)
}

func TestArchiverRoundTrip(t *testing.T) {
	dir := t.TempDir()
	archiver := NewArchiver(dir)

	raw := []byte("snapshot-bytes")
	path, err := archiver.Archive(raw, time.Date(2024, 3, 15, 8, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "vehicle_positions_20240315T083000Z.pb.gz"), path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer func() { _ = gz.Close() }()

	got := make([]byte, len(raw)+1)
	n, _ := gz.Read(got)
	assert.Equal(t, raw, got[:n])
}
