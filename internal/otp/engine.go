package otp

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/mlcsinaga/ttc-transit-punctuality/internal/logging"
)

// Engine runs the batch metrics computation. It holds no cross-run state:
// every ComputeMetrics call is a pure transform over the input snapshot, so
// re-runs on identical inputs are idempotent.
type Engine struct {
	schedule  ScheduleStore
	positions PositionLog
	logger    *slog.Logger
}

func NewEngine(schedule ScheduleStore, positions PositionLog, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		schedule:  schedule,
		positions: positions,
		logger:    logger.With(slog.String("component", "otp_engine")),
	}
}

// Result is the complete output of one metrics run.
type Result struct {
	Arrivals    []InferredArrival
	Delays      []DelayRecord
	Headways    []HeadwayRecord
	Aggregates  []AggregateMetric
	Diagnostics RunDiagnostics
}

// ComputeMetrics reconciles the service date's schedule against the position
// log in [start, end] and produces delay, headway, and aggregate records.
//
// Invalid options are fatal and surface before any computation. Data
// sparsity and input inconsistencies never abort the batch; they are counted
// in the result's diagnostics.
func (e *Engine) ComputeMetrics(ctx context.Context, serviceDate string, start, end time.Time, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid metrics options: %w", err)
	}

	events, err := e.schedule.ScheduledStopEvents(ctx, serviceDate, nil)
	if err != nil {
		return nil, fmt.Errorf("loading scheduled stop events: %w", err)
	}

	observations, err := e.positions.PositionObservations(ctx, start, end, nil)
	if err != nil {
		return nil, fmt.Errorf("loading position observations: %w", err)
	}

	result := &Result{}
	diag := &result.Diagnostics
	diag.ScheduledEvents = len(events)
	diag.Observations = len(observations)

	// A scheduled event with no route mapping cannot contribute to any
	// route-keyed metric. Skip it locally and keep going.
	eventsByTrip := make(map[string][]ScheduledStopEvent)
	tripStops := make(map[string]map[string]struct{})
	var keptEvents []ScheduledStopEvent
	for _, event := range events {
		if event.RouteID == "" {
			diag.EventsMissingRoute++
			continue
		}
		keptEvents = append(keptEvents, event)
		eventsByTrip[event.TripID] = append(eventsByTrip[event.TripID], event)
		stops, ok := tripStops[event.TripID]
		if !ok {
			stops = make(map[string]struct{})
			tripStops[event.TripID] = stops
		}
		stops[event.StopID] = struct{}{}
	}

	stops := newStopIndex(keptEvents)

	// An observation referencing a trip absent from the schedule is an
	// input inconsistency, not an error: count it and move on.
	obsByTrip := make(map[string][]PositionObservation)
	for _, obs := range observations {
		stopsForTrip, known := tripStops[obs.TripID]
		if !known {
			diag.UnknownTripObservations++
			continue
		}
		if nearest, ok := stops.nearestWithin(obs.Latitude, obs.Longitude, offRouteRadiusMeters); !ok {
			diag.OffRouteObservations++
		} else if _, onTrip := stopsForTrip[nearest]; !onTrip {
			diag.OffRouteObservations++
		}
		obsByTrip[obs.TripID] = append(obsByTrip[obs.TripID], obs)
	}

	result.Arrivals = e.inferAllArrivals(ctx, eventsByTrip, obsByTrip, opts, diag)
	diag.ArrivalsInferred = len(result.Arrivals)

	// The aggregator and the headway analyzer read the same immutable
	// arrival set and are independent of each other.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		result.Delays = buildDelayRecords(result.Arrivals, opts)
	}()
	go func() {
		defer wg.Done()
		result.Headways = buildHeadwayRecords(result.Arrivals, opts)
	}()
	wg.Wait()

	result.Aggregates = buildAggregates(result.Delays, result.Headways, opts)

	logging.LogOperation(e.logger, "metrics_run_completed",
		slog.String("service_date", serviceDate),
		slog.Int("scheduled_events", diag.ScheduledEvents),
		slog.Int("observations", diag.Observations),
		slog.Int("arrivals_inferred", diag.ArrivalsInferred),
		slog.Int("missing_arrivals", diag.MissingArrivals),
		slog.Int("unknown_trip_observations", diag.UnknownTripObservations),
		slog.Int("off_route_observations", diag.OffRouteObservations),
		slog.Int("aggregate_rows", len(result.Aggregates)))

	return result, nil
}

// inferAllArrivals fans trips out to a bounded worker pool. Trips are
// independent work units, so results merge by concatenation; a final sort
// restores a deterministic order.
func (e *Engine) inferAllArrivals(ctx context.Context, eventsByTrip map[string][]ScheduledStopEvent, obsByTrip map[string][]PositionObservation, opts Options, diag *RunDiagnostics) []InferredArrival {
	tripIDs := make([]string, 0, len(eventsByTrip))
	for tripID := range eventsByTrip {
		tripIDs = append(tripIDs, tripID)
	}
	sort.Strings(tripIDs)
	diag.TripsProcessed = len(tripIDs)

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(tripIDs) && len(tripIDs) > 0 {
		workers = len(tripIDs)
	}

	tripChan := make(chan string, workers)

	var mu sync.Mutex
	var arrivals []InferredArrival

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tripID := range tripChan {
				select {
				case <-ctx.Done():
					return
				default:
				}

				tripArrivals, stats := inferTripArrivals(eventsByTrip[tripID], obsByTrip[tripID], opts)

				mu.Lock()
				arrivals = append(arrivals, tripArrivals...)
				diag.SequenceMatches += stats.sequenceMatches
				diag.GeographicMatches += stats.geographicMatches
				diag.MissingArrivals += stats.missing
				mu.Unlock()
			}
		}()
	}

	for _, tripID := range tripIDs {
		tripChan <- tripID
	}
	close(tripChan)
	wg.Wait()

	sort.Slice(arrivals, func(i, j int) bool {
		if arrivals[i].TripID != arrivals[j].TripID {
			return arrivals[i].TripID < arrivals[j].TripID
		}
		return arrivals[i].StopSequence < arrivals[j].StopSequence
	})

	return arrivals
}
