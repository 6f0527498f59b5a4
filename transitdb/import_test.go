package transitdb

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlcsinaga/ttc-transit-punctuality/internal/appconf"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	client, err := NewClient(NewConfig(":memory:", appconf.Test, false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

// buildGTFSZip produces an in-memory GTFS feed zip from file name/content pairs.
func buildGTFSZip(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	return buf.Bytes()
}

func minimalFeedFiles() map[string]string {
	return map[string]string{
		"agency.txt": "agency_id,agency_name,agency_url,agency_timezone\n" +
			"ttc,Toronto Transit Commission,https://www.ttc.ca,America/Toronto\n",
		"stops.txt": "stop_id,stop_name,stop_lat,stop_lon\n" +
			"S1,King St At Yonge St,43.6487,-79.3817\n" +
			"S2,Queen St At Bay St,43.6529,-79.3849\n",
		"routes.txt": "route_id,agency_id,route_short_name,route_long_name,route_type\n" +
			"501,ttc,501,Queen,0\n",
		"trips.txt": "route_id,service_id,trip_id\n" +
			"501,WD,T1\n",
		"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
			"T1,08:00:00,08:00:30,S1,1\n" +
			"T1,08:05:00,08:05:30,S2,2\n",
		"calendar.txt": "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n" +
			"WD,1,1,1,1,1,0,0,20240101,20241231\n",
		"calendar_dates.txt": "service_id,date,exception_type\n" +
			"WD,20240401,2\n",
	}
}

func TestValidateRequiredFiles(t *testing.T) {
	t.Run("complete feed passes", func(t *testing.T) {
		b := buildGTFSZip(t, minimalFeedFiles())
		assert.NoError(t, validateRequiredFiles(b))
	})

	t.Run("missing files are named", func(t *testing.T) {
		files := minimalFeedFiles()
		delete(files, "stop_times.txt")
		delete(files, "calendar.txt")
		b := buildGTFSZip(t, files)

		err := validateRequiredFiles(b)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stop_times.txt")
		assert.Contains(t, err.Error(), "calendar.txt")
	})

	t.Run("garbage bytes are rejected", func(t *testing.T) {
		err := validateRequiredFiles([]byte("not a zip"))
		assert.Error(t, err)
	})
}

func TestImportGTFSData(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	b := buildGTFSZip(t, minimalFeedFiles())
	require.NoError(t, client.importGTFSData(ctx, b, "test-feed"))

	counts, err := client.TableCounts()
	require.NoError(t, err)
	assert.Equal(t, 1, counts["agencies"])
	assert.Equal(t, 1, counts["routes"])
	assert.Equal(t, 2, counts["stops"])
	assert.Equal(t, 1, counts["trips"])
	assert.Equal(t, 2, counts["stop_times"])
	assert.Equal(t, 1, counts["calendar"])
	assert.Equal(t, 1, counts["calendar_dates"])
	assert.Equal(t, 1, counts["import_metadata"])

	tz, err := client.Queries.GetAgencyTimezone(ctx)
	require.NoError(t, err)
	assert.Equal(t, "America/Toronto", tz)
}

func TestImportGTFSDataSkipsUnchangedFeed(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	b := buildGTFSZip(t, minimalFeedFiles())
	require.NoError(t, client.importGTFSData(ctx, b, "test-feed"))

	first, err := client.Queries.GetImportMetadata(ctx)
	require.NoError(t, err)

	// Re-importing the identical bytes from the same source is a no-op.
	require.NoError(t, client.importGTFSData(ctx, b, "test-feed"))

	second, err := client.Queries.GetImportMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestImportGTFSDataReplacesChangedFeed(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.importGTFSData(ctx, buildGTFSZip(t, minimalFeedFiles()), "test-feed"))

	files := minimalFeedFiles()
	files["stops.txt"] = "stop_id,stop_name,stop_lat,stop_lon\n" +
		"S1,King St At Yonge St,43.6487,-79.3817\n"
	files["stop_times.txt"] = "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
		"T1,08:00:00,08:00:30,S1,1\n"
	require.NoError(t, client.importGTFSData(ctx, buildGTFSZip(t, files), "test-feed"))

	counts, err := client.TableCounts()
	require.NoError(t, err)
	assert.Equal(t, 1, counts["stops"], "old feed rows should be cleared before reimport")
	assert.Equal(t, 1, counts["stop_times"])
}

func TestImportGTFSDataRejectsIncompleteFeed(t *testing.T) {
	client := newTestClient(t)

	files := minimalFeedFiles()
	delete(files, "trips.txt")

	err := client.importGTFSData(context.Background(), buildGTFSZip(t, files), "test-feed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trips.txt")
}

func TestNewClientRequiresMemoryDBInTests(t *testing.T) {
	_, err := NewClient(NewConfig("/tmp/should-not-exist.db", appconf.Test, false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in-memory")
}
