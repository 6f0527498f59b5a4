package transitdb

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/OneBusAway/go-gtfs"

	"github.com/mlcsinaga/ttc-transit-punctuality/internal/logging"
)

// requiredGTFSFiles are the feed files the importer refuses to proceed
// without. Feeds missing any of these cannot produce a usable schedule.
var requiredGTFSFiles = []string{
	"agency.txt",
	"stops.txt",
	"routes.txt",
	"trips.txt",
	"stop_times.txt",
	"calendar.txt",
	"calendar_dates.txt",
}

const maxStaticFeedBytes = 200 * 1024 * 1024

// DownloadAndStore downloads a GTFS zip from the given URL and imports it.
func (c *Client) DownloadAndStore(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}

	client := &http.Client{
		Timeout: 5 * time.Minute,
		Transport: &http.Transport{
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		}}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStaticFeedBytes+1))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > maxStaticFeedBytes {
		return fmt.Errorf("static GTFS response exceeds size limit of %d bytes", maxStaticFeedBytes)
	}

	return c.importGTFSData(ctx, body, url)
}

// ImportFromFile imports GTFS data from a local zip file into the database.
func (c *Client) ImportFromFile(ctx context.Context, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	return c.importGTFSData(ctx, data, filePath)
}

// validateRequiredFiles checks the zip archive contains every required GTFS
// file before any parsing or inserting happens.
func validateRequiredFiles(b []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return fmt.Errorf("invalid GTFS archive: %w", err)
	}

	present := make(map[string]bool, len(zr.File))
	for _, f := range zr.File {
		present[path.Base(f.Name)] = true
	}

	var missing []string
	for _, name := range requiredGTFSFiles {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("GTFS archive missing required files: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c *Client) importGTFSData(ctx context.Context, b []byte, source string) error {
	logger := slog.Default().With(slog.String("component", "gtfs_importer"))

	startTime := time.Now()
	defer func() {
		logging.LogOperation(logger, "gtfs_data_import_completed",
			slog.Duration("duration", time.Since(startTime)),
			slog.String("source", source))
	}()

	hash := sha256.Sum256(b)
	hashStr := hex.EncodeToString(hash[:])

	existingMetadata, err := c.Queries.GetImportMetadata(ctx)
	if err == nil {
		if existingMetadata.FileHash == hashStr && existingMetadata.FileSource == source {
			logging.LogOperation(logger, "gtfs_data_unchanged_skipping_import",
				slog.String("hash", hashStr[:8]))
			return nil
		}
		logging.LogOperation(logger, "gtfs_data_changed_reimporting",
			slog.String("old_hash", existingMetadata.FileHash[:8]),
			slog.String("new_hash", hashStr[:8]))
		if err := c.clearAllGTFSData(ctx); err != nil {
			return fmt.Errorf("error clearing existing GTFS data: %w", err)
		}
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("error checking import metadata: %w", err)
	}
	// sql.ErrNoRows means this is the first import.

	if err := validateRequiredFiles(b); err != nil {
		return err
	}

	staticData, err := gtfs.ParseStatic(b, gtfs.ParseStaticOptions{})
	if err != nil {
		return fmt.Errorf("error parsing static GTFS: %w", err)
	}

	logging.LogOperation(logger, "starting_database_import",
		slog.Int("agencies", len(staticData.Agencies)),
		slog.Int("routes", len(staticData.Routes)),
		slog.Int("stops", len(staticData.Stops)),
		slog.Int("trips", len(staticData.Trips)),
		slog.Int("warnings", len(staticData.Warnings)))

	for _, a := range staticData.Agencies {
		params := CreateAgencyParams{
			ID:       a.Id,
			Name:     a.Name,
			Url:      toNullString(a.Url),
			Timezone: toNullString(a.Timezone),
		}
		if err := c.Queries.CreateAgency(ctx, params); err != nil {
			return fmt.Errorf("unable to create agency: %w", err)
		}
	}

	singleAgencyID := ""
	if len(staticData.Agencies) == 1 {
		singleAgencyID = staticData.Agencies[0].Id
	}

	for _, r := range staticData.Routes {
		params := CreateRouteParams{
			ID:        r.Id,
			AgencyID:  toNullString(pickFirstAvailable(r.Agency.Id, singleAgencyID)),
			ShortName: toNullString(r.ShortName),
			LongName:  toNullString(r.LongName),
			Type:      int64(r.Type),
		}
		if err := c.Queries.CreateRoute(ctx, params); err != nil {
			return fmt.Errorf("unable to create route: %w", err)
		}
	}

	var allStopParams []CreateStopParams
	for _, s := range staticData.Stops {
		// Stops without coordinates (generic nodes, boarding areas) cannot
		// participate in arrival inference, so skip them.
		if s.Latitude == nil || s.Longitude == nil {
			continue
		}
		allStopParams = append(allStopParams, CreateStopParams{
			ID:   s.Id,
			Code: toNullString(s.Code),
			Name: toNullString(s.Name),
			Lat:  *s.Latitude,
			Lon:  *s.Longitude,
		})
	}
	if err := c.bulkInsertStops(ctx, allStopParams); err != nil {
		return fmt.Errorf("unable to create stops: %w", err)
	}

	for _, s := range staticData.Services {
		params := CreateCalendarParams{
			ServiceID: s.Id,
			Monday:    boolToInt(s.Monday),
			Tuesday:   boolToInt(s.Tuesday),
			Wednesday: boolToInt(s.Wednesday),
			Thursday:  boolToInt(s.Thursday),
			Friday:    boolToInt(s.Friday),
			Saturday:  boolToInt(s.Saturday),
			Sunday:    boolToInt(s.Sunday),
			StartDate: s.StartDate.Format("20060102"),
			EndDate:   s.EndDate.Format("20060102"),
		}
		if err := c.Queries.CreateCalendar(ctx, params); err != nil {
			return fmt.Errorf("unable to create calendar: %w", err)
		}
	}

	var allCalendarDateParams []CreateCalendarDateParams
	for _, service := range staticData.Services {
		for _, date := range service.AddedDates {
			allCalendarDateParams = append(allCalendarDateParams, CreateCalendarDateParams{
				ServiceID:     service.Id,
				Date:          date.Format("20060102"),
				ExceptionType: 1,
			})
		}
		for _, date := range service.RemovedDates {
			allCalendarDateParams = append(allCalendarDateParams, CreateCalendarDateParams{
				ServiceID:     service.Id,
				Date:          date.Format("20060102"),
				ExceptionType: 2,
			})
		}
	}
	if err := c.bulkInsertCalendarDates(ctx, allCalendarDateParams); err != nil {
		return fmt.Errorf("unable to create calendar dates: %w", err)
	}

	var allTripParams []CreateTripParams
	for _, t := range staticData.Trips {
		var shapeID string
		if t.Shape != nil {
			shapeID = t.Shape.ID
		}
		allTripParams = append(allTripParams, CreateTripParams{
			ID:          t.ID,
			RouteID:     t.Route.Id,
			ServiceID:   t.Service.Id,
			Headsign:    toNullString(t.Headsign),
			DirectionID: toNullInt64(int64(t.DirectionId)),
			ShapeID:     toNullString(shapeID),
		})
	}
	if err := c.bulkInsertTrips(ctx, allTripParams); err != nil {
		return fmt.Errorf("unable to create trips: %w", err)
	}

	var allStopTimeParams []CreateStopTimeParams
	for _, t := range staticData.Trips {
		for _, st := range t.StopTimes {
			allStopTimeParams = append(allStopTimeParams, CreateStopTimeParams{
				TripID:        t.ID,
				ArrivalTime:   int64(st.ArrivalTime / time.Second),
				DepartureTime: int64(st.DepartureTime / time.Second),
				StopID:        st.Stop.Id,
				StopSequence:  int64(st.StopSequence),
			})
		}
	}
	if err := c.bulkInsertStopTimes(ctx, allStopTimeParams); err != nil {
		return fmt.Errorf("unable to create stop times: %w", err)
	}

	var allShapeParams []CreateShapePointParams
	for _, s := range staticData.Shapes {
		for idx, pt := range s.Points {
			allShapeParams = append(allShapeParams, CreateShapePointParams{
				ShapeID:         s.ID,
				Lat:             pt.Latitude,
				Lon:             pt.Longitude,
				ShapePtSequence: int64(idx),
			})
		}
	}
	if err := c.bulkInsertShapes(ctx, allShapeParams); err != nil {
		return fmt.Errorf("unable to create shapes: %w", err)
	}

	if err := c.Queries.UpsertImportMetadata(ctx, UpsertImportMetadataParams{
		FileHash:   hashStr,
		ImportTime: time.Now().Unix(),
		FileSource: source,
	}); err != nil {
		logging.LogError(logger, "Error updating import metadata", err)
		return fmt.Errorf("error updating import metadata: %w", err)
	}

	return nil
}

// clearAllGTFSData deletes schedule data in reverse dependency order so
// foreign key constraints are never violated mid-clear.
func (c *Client) clearAllGTFSData(ctx context.Context) error {
	if err := c.Queries.ClearStopTimes(ctx); err != nil {
		return fmt.Errorf("error clearing stop_times: %w", err)
	}
	if err := c.Queries.ClearShapes(ctx); err != nil {
		return fmt.Errorf("error clearing shapes: %w", err)
	}
	if err := c.Queries.ClearTrips(ctx); err != nil {
		return fmt.Errorf("error clearing trips: %w", err)
	}
	if err := c.Queries.ClearCalendar(ctx); err != nil {
		return fmt.Errorf("error clearing calendar: %w", err)
	}
	if err := c.Queries.ClearCalendarDates(ctx); err != nil {
		return fmt.Errorf("error clearing calendar_dates: %w", err)
	}
	if err := c.Queries.ClearStops(ctx); err != nil {
		return fmt.Errorf("error clearing stops: %w", err)
	}
	if err := c.Queries.ClearRoutes(ctx); err != nil {
		return fmt.Errorf("error clearing routes: %w", err)
	}
	if err := c.Queries.ClearAgencies(ctx); err != nil {
		return fmt.Errorf("error clearing agencies: %w", err)
	}
	return nil
}

func (c *Client) bulkInsertStops(ctx context.Context, stops []CreateStopParams) error {
	logger := slog.Default().With(slog.String("component", "bulk_insert"))

	tx, err := c.DB.Begin()
	if err != nil {
		return err
	}
	defer logging.SafeRollbackWithLogging(tx, logger, "bulk_insert_stops")

	qtx := c.Queries.WithTx(tx)
	for _, params := range stops {
		if err := qtx.CreateStop(ctx, params); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	logging.LogOperation(logger, "stops_inserted", slog.Int("count", len(stops)))
	return nil
}

func (c *Client) bulkInsertTrips(ctx context.Context, trips []CreateTripParams) error {
	logger := slog.Default().With(slog.String("component", "bulk_insert"))

	tx, err := c.DB.Begin()
	if err != nil {
		return err
	}
	defer logging.SafeRollbackWithLogging(tx, logger, "bulk_insert_trips")

	qtx := c.Queries.WithTx(tx)
	for _, params := range trips {
		if err := qtx.CreateTrip(ctx, params); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	logging.LogOperation(logger, "trips_inserted", slog.Int("count", len(trips)))
	return nil
}

func (c *Client) bulkInsertCalendarDates(ctx context.Context, calendarDates []CreateCalendarDateParams) error {
	if len(calendarDates) == 0 {
		return nil
	}

	logger := slog.Default().With(slog.String("component", "bulk_insert"))

	tx, err := c.DB.Begin()
	if err != nil {
		return err
	}
	defer logging.SafeRollbackWithLogging(tx, logger, "bulk_insert_calendar_dates")

	qtx := c.Queries.WithTx(tx)
	for _, params := range calendarDates {
		if err := qtx.CreateCalendarDate(ctx, params); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// preparedBatch holds a multi-row INSERT statement with its arguments.
type preparedBatch struct {
	query string
	args  []interface{}
	index int // original index, for ordered execution
	end   int // end position, for progress logging
}

// bulkInsertStopTimes prepares multi-row INSERT batches on a worker pool and
// executes them sequentially inside a single transaction. stop_times is by
// far the largest table in a feed, so preparation overlaps with execution.
func (c *Client) bulkInsertStopTimes(ctx context.Context, stopTimes []CreateStopTimeParams) error {
	logger := slog.Default().With(slog.String("component", "bulk_insert"))

	logging.LogOperation(logger, "inserting_stop_times",
		slog.Int("count", len(stopTimes)))

	batchSize := c.config.GetBulkInsertBatchSize()
	const baseQuery = `INSERT INTO stop_times (
		trip_id, arrival_time, departure_time, stop_id, stop_sequence
	) VALUES `

	numBatches := (len(stopTimes) + batchSize - 1) / batchSize

	tx, err := c.DB.Begin()
	if err != nil {
		return err
	}
	defer logging.SafeRollbackWithLogging(tx, logger, "bulk_insert_stop_times")

	numWorkers := runtime.NumCPU()
	batchChan := make(chan int, numWorkers)
	resultsChan := make(chan preparedBatch, numWorkers*4)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batchIndex := range batchChan {
				select {
				case <-ctx.Done():
					return
				default:
				}

				start := batchIndex * batchSize
				end := start + batchSize
				if end > len(stopTimes) {
					end = len(stopTimes)
				}
				batch := stopTimes[start:end]

				// Only placeholders go into the statement; values stay in args.
				var query strings.Builder
				query.WriteString(baseQuery)
				args := make([]interface{}, 0, len(batch)*5)

				for j, params := range batch {
					if j > 0 {
						query.WriteString(", ")
					}
					query.WriteString("(?, ?, ?, ?, ?)")
					args = append(args,
						params.TripID,
						params.ArrivalTime,
						params.DepartureTime,
						params.StopID,
						params.StopSequence,
					)
				}

				resultsChan <- preparedBatch{
					query: query.String(),
					args:  args,
					index: batchIndex,
					end:   end,
				}
			}
		}()
	}

	go func() {
		defer close(batchChan)
		for i := 0; i < numBatches; i++ {
			select {
			case <-ctx.Done():
				return
			case batchChan <- i:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	preparedBatches := make([]preparedBatch, 0, numBatches)
	for batch := range resultsChan {
		preparedBatches = append(preparedBatches, batch)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	// Execute in original order for deterministic rowids.
	sort.Slice(preparedBatches, func(i, j int) bool {
		return preparedBatches[i].index < preparedBatches[j].index
	})

	for _, batch := range preparedBatches {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := tx.ExecContext(ctx, batch.query, batch.args...); err != nil {
			return fmt.Errorf("failed to insert stop_times batch: %w", err)
		}
		if batch.end%100000 == 0 || batch.end == len(stopTimes) {
			logging.LogOperation(logger, "stop_times_progress",
				slog.Int("inserted", batch.end),
				slog.Int("total", len(stopTimes)))
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	logging.LogOperation(logger, "stop_times_inserted",
		slog.Int("count", len(stopTimes)))

	return nil
}

// bulkInsertShapes uses multi-row INSERT batches in a single transaction.
// Shape tables are much smaller than stop_times, so batches are built inline.
func (c *Client) bulkInsertShapes(ctx context.Context, shapes []CreateShapePointParams) error {
	if len(shapes) == 0 {
		return nil
	}

	logger := slog.Default().With(slog.String("component", "bulk_insert"))

	batchSize := c.config.GetBulkInsertBatchSize()
	const baseQuery = `INSERT INTO shapes (
		shape_id, lat, lon, shape_pt_sequence
	) VALUES `

	tx, err := c.DB.Begin()
	if err != nil {
		return err
	}
	defer logging.SafeRollbackWithLogging(tx, logger, "bulk_insert_shapes")

	for start := 0; start < len(shapes); start += batchSize {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		end := start + batchSize
		if end > len(shapes) {
			end = len(shapes)
		}
		batch := shapes[start:end]

		var query strings.Builder
		query.WriteString(baseQuery)
		args := make([]interface{}, 0, len(batch)*4)

		for j, params := range batch {
			if j > 0 {
				query.WriteString(", ")
			}
			query.WriteString("(?, ?, ?, ?)")
			args = append(args, params.ShapeID, params.Lat, params.Lon, params.ShapePtSequence)
		}

		if _, err := tx.ExecContext(ctx, query.String(), args...); err != nil {
			return fmt.Errorf("failed to insert shapes batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	logging.LogOperation(logger, "shapes_inserted", slog.Int("count", len(shapes)))
	return nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func toNullInt64(i int64) sql.NullInt64 {
	if i != 0 {
		return sql.NullInt64{Int64: i, Valid: true}
	}
	return sql.NullInt64{}
}

func toNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func pickFirstAvailable(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
