package transitdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mlcsinaga/ttc-transit-punctuality/internal/logging"
	"github.com/mlcsinaga/ttc-transit-punctuality/internal/otp"
)

// Store adapts the database to the metrics engine's read interfaces. It
// anchors scheduled seconds-past-midnight times in the feed agency's
// timezone so they compare directly against UTC observation timestamps.
type Store struct {
	client *Client

	tzOnce sync.Once
	loc    *time.Location
}

func NewStore(client *Client) *Store {
	return &Store{client: client}
}

// location resolves the agency timezone once per Store. A feed without a
// usable timezone falls back to UTC.
func (s *Store) location(ctx context.Context) *time.Location {
	s.tzOnce.Do(func() {
		s.loc = time.UTC

		logger := slog.Default().With(slog.String("component", "transit_store"))

		tz, err := s.client.Queries.GetAgencyTimezone(ctx)
		if err != nil {
			logging.LogError(logger, "No agency timezone found, using UTC", err)
			return
		}
		loc, err := time.LoadLocation(tz)
		if err != nil {
			logging.LogError(logger, "Invalid agency timezone, using UTC", err)
			return
		}
		s.loc = loc
	})
	return s.loc
}

// ScheduledStopEvents returns the scheduled stop events for a service date
// (YYYYMMDD), optionally filtered to a set of routes.
func (s *Store) ScheduledStopEvents(ctx context.Context, serviceDate string, routeFilter []string) ([]otp.ScheduledStopEvent, error) {
	loc := s.location(ctx)

	day, err := time.ParseInLocation("20060102", serviceDate, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid service date %q: %w", serviceDate, err)
	}

	// GTFS measures stop times from noon minus 12 hours so that trips
	// spanning a DST transition keep their scheduled local times.
	anchor := time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, loc).
		Add(-12 * time.Hour)

	rows, err := s.client.Queries.ScheduledStopEventsForDate(ctx, serviceDate, int(day.Weekday()), routeFilter)
	if err != nil {
		return nil, fmt.Errorf("loading scheduled stop events: %w", err)
	}

	events := make([]otp.ScheduledStopEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, otp.ScheduledStopEvent{
			TripID:             r.TripID,
			StopID:             r.StopID,
			StopSequence:       int(r.StopSequence),
			RouteID:            r.RouteID,
			ServiceDate:        serviceDate,
			ScheduledArrival:   anchor.Add(time.Duration(r.ArrivalTime) * time.Second),
			ScheduledDeparture: anchor.Add(time.Duration(r.DepartureTime) * time.Second),
			StopLat:            r.StopLat,
			StopLon:            r.StopLon,
		})
	}
	return events, nil
}

// PositionObservations returns vehicle positions observed in [start, end].
func (s *Store) PositionObservations(ctx context.Context, start, end time.Time, tripFilter []string) ([]otp.PositionObservation, error) {
	rows, err := s.client.Queries.VehiclePositionsBetween(ctx, start.Unix(), end.Unix(), tripFilter)
	if err != nil {
		return nil, fmt.Errorf("loading vehicle positions: %w", err)
	}

	observations := make([]otp.PositionObservation, 0, len(rows))
	for _, r := range rows {
		obs := otp.PositionObservation{
			TripID:    r.TripID,
			Timestamp: time.Unix(r.Ts, 0).UTC(),
			Latitude:  r.Lat,
			Longitude: r.Lon,
		}
		if r.CurrentStopSequence.Valid {
			seq := int(r.CurrentStopSequence.Int64)
			obs.CurrentStopSequence = &seq
		}
		observations = append(observations, obs)
	}
	return observations, nil
}

// RecordVehiclePositions appends a batch of position observations to the log
// in a single transaction.
func (s *Store) RecordVehiclePositions(ctx context.Context, observations []otp.PositionObservation) error {
	if len(observations) == 0 {
		return nil
	}

	logger := slog.Default().With(slog.String("component", "transit_store"))

	tx, err := s.client.DB.Begin()
	if err != nil {
		return err
	}
	defer logging.SafeRollbackWithLogging(tx, logger, "record_vehicle_positions")

	qtx := s.client.Queries.WithTx(tx)
	for _, obs := range observations {
		params := InsertVehiclePositionParams{
			TripID: obs.TripID,
			Ts:     obs.Timestamp.Unix(),
			Lat:    obs.Latitude,
			Lon:    obs.Longitude,
		}
		if obs.CurrentStopSequence != nil {
			params.CurrentStopSequence = sql.NullInt64{
				Int64: int64(*obs.CurrentStopSequence),
				Valid: true,
			}
		}
		if err := qtx.InsertVehiclePosition(ctx, params); err != nil {
			return fmt.Errorf("inserting vehicle position: %w", err)
		}
	}

	return tx.Commit()
}
