// Package otp computes on-time-performance and headway-adherence metrics by
// reconciling scheduled GTFS stop times against observed real-time vehicle
// positions.
package otp

import (
	"context"
	"time"
)

// ScheduledStopEvent is a single scheduled (trip, stop) visit for a service date.
// Immutable once loaded; unique per (TripID, StopSequence).
type ScheduledStopEvent struct {
	TripID             string
	StopID             string
	StopSequence       int
	RouteID            string
	ServiceDate        string
	ScheduledArrival   time.Time
	ScheduledDeparture time.Time
	StopLat            float64
	StopLon            float64
}

// PositionObservation is one time-stamped vehicle position report.
// Observations are ordered by timestamp within a trip.
type PositionObservation struct {
	TripID    string
	Timestamp time.Time
	Latitude  float64
	Longitude float64
	// CurrentStopSequence is nil when the feed omits it.
	CurrentStopSequence *int
}

// Confidence levels for inferred arrivals. Sequence-tagged matches are
// trusted more than plain geographic proximity.
const (
	ConfidenceSequenceMatch = 1.0
	ConfidenceGeographic    = 0.5
)

// InferredArrival is the estimated actual arrival for one scheduled stop
// event. A scheduled event with no observation coverage produces no
// InferredArrival at all; absence is never encoded as a zero delay.
type InferredArrival struct {
	TripID        string
	StopID        string
	StopSequence  int
	RouteID       string
	ScheduledTime time.Time
	InferredTime  time.Time
	Confidence    float64
}

// DelaySeconds returns the signed delay of the inferred arrival.
func (a InferredArrival) DelaySeconds() int64 {
	return int64(a.InferredTime.Sub(a.ScheduledTime) / time.Second)
}

// Classification buckets a delay into early, on-time, or late.
type Classification int

const (
	Early Classification = iota
	OnTime
	Late
)

func (c Classification) String() string {
	switch c {
	case Early:
		return "early"
	case Late:
		return "late"
	default:
		return "on_time"
	}
}

// DelayRecord is one classified delay observation, traceable to exactly one
// InferredArrival. ScheduledTime carries the agency-local scheduled arrival;
// hour and day-of-week group keys derive from it, not from the UTC Timestamp.
type DelayRecord struct {
	RouteID        string
	StopID         string
	Timestamp      time.Time
	ScheduledTime  time.Time
	DelaySeconds   int64
	Classification Classification
}

// HeadwayRecord compares actual inter-vehicle spacing at a stop to the
// scheduled spacing. Requires two consecutive inferred arrivals of the same
// route at the same stop; its Timestamp is the trailing arrival's time and
// its ScheduledTime the trailing arrival's agency-local scheduled time.
type HeadwayRecord struct {
	RouteID                 string
	StopID                  string
	Timestamp               time.Time
	ScheduledTime           time.Time
	ScheduledHeadwaySeconds int64
	ActualHeadwaySeconds    int64
	Bunching                bool
}

// Aggregation group keys. Hour and day-of-week keys are produced by
// hourGroupKey and weekdayGroupKey.
const (
	GroupOverall = "overall"

	// RouteAll identifies the network-wide total row.
	RouteAll = "all"
)

// AggregateMetric is one rolled-up metric row for a (route, group) pair.
// Rows exist only for groups with at least one classified arrival; rebuilt
// from scratch every run.
type AggregateMetric struct {
	RouteID          string
	GroupKey         string
	OTPPercent       float64
	AvgDelaySeconds  float64
	DelayStdDev      float64
	BunchingRate     float64
	ReliabilityScore float64
	SampleCount      int
}

// ScheduleStore provides read-only access to the scheduled stop events for a
// service date. Events are returned ordered by (trip, stop sequence).
type ScheduleStore interface {
	ScheduledStopEvents(ctx context.Context, serviceDate string, routeFilter []string) ([]ScheduledStopEvent, error)
}

// PositionLog provides read-only access to vehicle position observations in
// a time range, ordered by timestamp within each trip.
type PositionLog interface {
	PositionObservations(ctx context.Context, start, end time.Time, tripFilter []string) ([]PositionObservation, error)
}

// RunDiagnostics summarizes data quality conditions encountered during a
// run. Sparsity and inconsistency never abort a batch; they are counted here.
type RunDiagnostics struct {
	TripsProcessed          int
	ScheduledEvents         int
	Observations            int
	ArrivalsInferred        int
	SequenceMatches         int
	GeographicMatches       int
	MissingArrivals         int
	UnknownTripObservations int
	EventsMissingRoute      int
	OffRouteObservations    int
}
