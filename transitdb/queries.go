package transitdb

// Hand-written query implementations over the transit schema. The SQL lives
// next to the Go types that scan it; if a table changes in schema.sql the
// matching query and row struct here must be updated by hand.

import (
	"context"
	"database/sql"
	"strings"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a Queries bound to the given transaction.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const createAgency = `
INSERT INTO agencies (id, name, url, timezone) VALUES (?, ?, ?, ?)
`

type CreateAgencyParams struct {
	ID       string
	Name     string
	Url      sql.NullString
	Timezone sql.NullString
}

func (q *Queries) CreateAgency(ctx context.Context, arg CreateAgencyParams) error {
	_, err := q.db.ExecContext(ctx, createAgency, arg.ID, arg.Name, arg.Url, arg.Timezone)
	return err
}

const createRoute = `
INSERT INTO routes (id, agency_id, short_name, long_name, type) VALUES (?, ?, ?, ?, ?)
`

type CreateRouteParams struct {
	ID        string
	AgencyID  sql.NullString
	ShortName sql.NullString
	LongName  sql.NullString
	Type      int64
}

func (q *Queries) CreateRoute(ctx context.Context, arg CreateRouteParams) error {
	_, err := q.db.ExecContext(ctx, createRoute,
		arg.ID, arg.AgencyID, arg.ShortName, arg.LongName, arg.Type)
	return err
}

const createStop = `
INSERT INTO stops (id, code, name, lat, lon) VALUES (?, ?, ?, ?, ?)
`

type CreateStopParams struct {
	ID   string
	Code sql.NullString
	Name sql.NullString
	Lat  float64
	Lon  float64
}

func (q *Queries) CreateStop(ctx context.Context, arg CreateStopParams) error {
	_, err := q.db.ExecContext(ctx, createStop, arg.ID, arg.Code, arg.Name, arg.Lat, arg.Lon)
	return err
}

const createTrip = `
INSERT INTO trips (id, route_id, service_id, headsign, direction_id, shape_id)
VALUES (?, ?, ?, ?, ?, ?)
`

type CreateTripParams struct {
	ID          string
	RouteID     string
	ServiceID   string
	Headsign    sql.NullString
	DirectionID sql.NullInt64
	ShapeID     sql.NullString
}

func (q *Queries) CreateTrip(ctx context.Context, arg CreateTripParams) error {
	_, err := q.db.ExecContext(ctx, createTrip,
		arg.ID, arg.RouteID, arg.ServiceID, arg.Headsign, arg.DirectionID, arg.ShapeID)
	return err
}

type CreateStopTimeParams struct {
	TripID        string
	ArrivalTime   int64
	DepartureTime int64
	StopID        string
	StopSequence  int64
}

const createCalendar = `
INSERT INTO calendar (
    service_id, monday, tuesday, wednesday, thursday, friday, saturday, sunday,
    start_date, end_date
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

type CreateCalendarParams struct {
	ServiceID string
	Monday    int64
	Tuesday   int64
	Wednesday int64
	Thursday  int64
	Friday    int64
	Saturday  int64
	Sunday    int64
	StartDate string
	EndDate   string
}

func (q *Queries) CreateCalendar(ctx context.Context, arg CreateCalendarParams) error {
	_, err := q.db.ExecContext(ctx, createCalendar,
		arg.ServiceID, arg.Monday, arg.Tuesday, arg.Wednesday, arg.Thursday,
		arg.Friday, arg.Saturday, arg.Sunday, arg.StartDate, arg.EndDate)
	return err
}

const createCalendarDate = `
INSERT INTO calendar_dates (service_id, date, exception_type) VALUES (?, ?, ?)
`

type CreateCalendarDateParams struct {
	ServiceID     string
	Date          string
	ExceptionType int64
}

func (q *Queries) CreateCalendarDate(ctx context.Context, arg CreateCalendarDateParams) error {
	_, err := q.db.ExecContext(ctx, createCalendarDate, arg.ServiceID, arg.Date, arg.ExceptionType)
	return err
}

type CreateShapePointParams struct {
	ShapeID         string
	Lat             float64
	Lon             float64
	ShapePtSequence int64
}

const getImportMetadata = `
SELECT file_hash, import_time, file_source FROM import_metadata WHERE id = 1
`

type ImportMetadata struct {
	FileHash   string
	ImportTime int64
	FileSource string
}

func (q *Queries) GetImportMetadata(ctx context.Context) (ImportMetadata, error) {
	var meta ImportMetadata
	err := q.db.QueryRowContext(ctx, getImportMetadata).
		Scan(&meta.FileHash, &meta.ImportTime, &meta.FileSource)
	return meta, err
}

const upsertImportMetadata = `
INSERT INTO import_metadata (id, file_hash, import_time, file_source)
VALUES (1, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    file_hash = excluded.file_hash,
    import_time = excluded.import_time,
    file_source = excluded.file_source
`

type UpsertImportMetadataParams struct {
	FileHash   string
	ImportTime int64
	FileSource string
}

func (q *Queries) UpsertImportMetadata(ctx context.Context, arg UpsertImportMetadataParams) error {
	_, err := q.db.ExecContext(ctx, upsertImportMetadata, arg.FileHash, arg.ImportTime, arg.FileSource)
	return err
}

const getAgencyTimezone = `
SELECT timezone FROM agencies WHERE timezone IS NOT NULL ORDER BY id LIMIT 1
`

// GetAgencyTimezone returns the feed's agency timezone, used to anchor
// scheduled seconds-past-midnight times to absolute instants.
func (q *Queries) GetAgencyTimezone(ctx context.Context) (string, error) {
	var tz string
	err := q.db.QueryRowContext(ctx, getAgencyTimezone).Scan(&tz)
	return tz, err
}

const insertVehiclePosition = `
INSERT INTO vehicle_positions (trip_id, ts, lat, lon, current_stop_sequence)
VALUES (?, ?, ?, ?, ?)
`

type InsertVehiclePositionParams struct {
	TripID              string
	Ts                  int64
	Lat                 float64
	Lon                 float64
	CurrentStopSequence sql.NullInt64
}

func (q *Queries) InsertVehiclePosition(ctx context.Context, arg InsertVehiclePositionParams) error {
	_, err := q.db.ExecContext(ctx, insertVehiclePosition,
		arg.TripID, arg.Ts, arg.Lat, arg.Lon, arg.CurrentStopSequence)
	return err
}

const scheduledStopEventsBase = `
WITH active_services AS (
    SELECT service_id FROM calendar
    WHERE start_date <= ?1 AND end_date >= ?1
      AND CASE ?2
          WHEN 0 THEN sunday
          WHEN 1 THEN monday
          WHEN 2 THEN tuesday
          WHEN 3 THEN wednesday
          WHEN 4 THEN thursday
          WHEN 5 THEN friday
          ELSE saturday
      END = 1
    UNION
    SELECT service_id FROM calendar_dates WHERE date = ?1 AND exception_type = 1
    EXCEPT
    SELECT service_id FROM calendar_dates WHERE date = ?1 AND exception_type = 2
)
SELECT
    st.trip_id,
    st.stop_id,
    st.stop_sequence,
    st.arrival_time,
    st.departure_time,
    t.route_id,
    s.lat,
    s.lon
FROM stop_times st
JOIN trips t ON t.id = st.trip_id
JOIN stops s ON s.id = st.stop_id
WHERE t.service_id IN (SELECT service_id FROM active_services)
`

const scheduledStopEventsOrder = `
ORDER BY st.trip_id, st.stop_sequence
`

type ScheduledStopEventRow struct {
	TripID        string
	StopID        string
	StopSequence  int64
	ArrivalTime   int64
	DepartureTime int64
	RouteID       string
	StopLat       float64
	StopLon       float64
}

// ScheduledStopEventsForDate returns the ordered scheduled stop events for a
// service date (YYYYMMDD). Arrival and departure times are seconds past
// midnight and may exceed 24h for trips running past it.
func (q *Queries) ScheduledStopEventsForDate(ctx context.Context, serviceDate string, weekday int, routeFilter []string) ([]ScheduledStopEventRow, error) {
	var query strings.Builder
	query.WriteString(scheduledStopEventsBase)

	args := []interface{}{serviceDate, weekday}
	if len(routeFilter) > 0 {
		query.WriteString(" AND t.route_id IN (")
		for i, routeID := range routeFilter {
			if i > 0 {
				query.WriteString(", ")
			}
			query.WriteString("?")
			args = append(args, routeID)
		}
		query.WriteString(")")
	}
	query.WriteString(scheduledStopEventsOrder)

	rows, err := q.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // closing is also checked explicitly below

	var items []ScheduledStopEventRow
	for rows.Next() {
		var i ScheduledStopEventRow
		if err := rows.Scan(
			&i.TripID,
			&i.StopID,
			&i.StopSequence,
			&i.ArrivalTime,
			&i.DepartureTime,
			&i.RouteID,
			&i.StopLat,
			&i.StopLon,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const vehiclePositionsBase = `
SELECT trip_id, ts, lat, lon, current_stop_sequence
FROM vehicle_positions
WHERE ts >= ? AND ts <= ?
`

const vehiclePositionsOrder = `
ORDER BY trip_id, ts, id
`

type VehiclePositionRow struct {
	TripID              string
	Ts                  int64
	Lat                 float64
	Lon                 float64
	CurrentStopSequence sql.NullInt64
}

// VehiclePositionsBetween returns position observations with timestamps in
// [start, end] (Unix seconds), ordered by trip then time.
func (q *Queries) VehiclePositionsBetween(ctx context.Context, start, end int64, tripFilter []string) ([]VehiclePositionRow, error) {
	var query strings.Builder
	query.WriteString(vehiclePositionsBase)

	args := []interface{}{start, end}
	if len(tripFilter) > 0 {
		query.WriteString(" AND trip_id IN (")
		for i, tripID := range tripFilter {
			if i > 0 {
				query.WriteString(", ")
			}
			query.WriteString("?")
			args = append(args, tripID)
		}
		query.WriteString(")")
	}
	query.WriteString(vehiclePositionsOrder)

	rows, err := q.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // closing is also checked explicitly below

	var items []VehiclePositionRow
	for rows.Next() {
		var i VehiclePositionRow
		if err := rows.Scan(&i.TripID, &i.Ts, &i.Lat, &i.Lon, &i.CurrentStopSequence); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listRouteShapes = `
SELECT DISTINCT t.route_id, sh.shape_id, sh.lat, sh.lon, sh.shape_pt_sequence
FROM trips t
JOIN shapes sh ON sh.shape_id = t.shape_id
ORDER BY t.route_id, sh.shape_id, sh.shape_pt_sequence
`

type RouteShapePointRow struct {
	RouteID         string
	ShapeID         string
	Lat             float64
	Lon             float64
	ShapePtSequence int64
}

// ListRouteShapePoints returns every route's shape points in drawing order.
func (q *Queries) ListRouteShapePoints(ctx context.Context) ([]RouteShapePointRow, error) {
	rows, err := q.db.QueryContext(ctx, listRouteShapes)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // closing is also checked explicitly below

	var items []RouteShapePointRow
	for rows.Next() {
		var i RouteShapePointRow
		if err := rows.Scan(&i.RouteID, &i.ShapeID, &i.Lat, &i.Lon, &i.ShapePtSequence); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (q *Queries) clearTable(ctx context.Context, stmt string) error {
	_, err := q.db.ExecContext(ctx, stmt)
	return err
}

func (q *Queries) ClearStopTimes(ctx context.Context) error {
	return q.clearTable(ctx, "DELETE FROM stop_times")
}

func (q *Queries) ClearShapes(ctx context.Context) error {
	return q.clearTable(ctx, "DELETE FROM shapes")
}

func (q *Queries) ClearTrips(ctx context.Context) error {
	return q.clearTable(ctx, "DELETE FROM trips")
}

func (q *Queries) ClearCalendar(ctx context.Context) error {
	return q.clearTable(ctx, "DELETE FROM calendar")
}

func (q *Queries) ClearCalendarDates(ctx context.Context) error {
	return q.clearTable(ctx, "DELETE FROM calendar_dates")
}

func (q *Queries) ClearStops(ctx context.Context) error {
	return q.clearTable(ctx, "DELETE FROM stops")
}

func (q *Queries) ClearRoutes(ctx context.Context) error {
	return q.clearTable(ctx, "DELETE FROM routes")
}

func (q *Queries) ClearAgencies(ctx context.Context) error {
	return q.clearTable(ctx, "DELETE FROM agencies")
}
