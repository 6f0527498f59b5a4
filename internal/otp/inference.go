package otp

import (
	"math"
	"sort"
	"time"

	"github.com/mlcsinaga/ttc-transit-punctuality/internal/utils"
)

// distanceTieEpsilonMeters treats two observations as equally close when
// their distances to the stop differ by less than this. Ties go to the later
// timestamp: the conservative assumption is that the vehicle has not yet
// departed.
const distanceTieEpsilonMeters = 1.0

type tripInferenceStats struct {
	sequenceMatches   int
	geographicMatches int
	missing           int
}

// inferTripArrivals estimates the actual arrival time for each scheduled
// stop of a single trip. It produces zero or one InferredArrival per
// scheduled event and is deterministic for a fixed input set.
func inferTripArrivals(events []ScheduledStopEvent, observations []PositionObservation, opts Options) ([]InferredArrival, tripInferenceStats) {
	var stats tripInferenceStats

	if len(events) == 0 {
		return nil, stats
	}
	if len(observations) == 0 {
		stats.missing = len(events)
		return nil, stats
	}

	// Inputs may arrive in store order. Sort local copies so the scan below
	// is deterministic regardless of how the caller assembled the slices.
	sortedEvents := make([]ScheduledStopEvent, len(events))
	copy(sortedEvents, events)
	sort.Slice(sortedEvents, func(i, j int) bool {
		return sortedEvents[i].StopSequence < sortedEvents[j].StopSequence
	})

	sortedObs := make([]PositionObservation, len(observations))
	copy(sortedObs, observations)
	sort.Slice(sortedObs, func(i, j int) bool {
		return sortedObs[i].Timestamp.Before(sortedObs[j].Timestamp)
	})

	window := opts.MatchWindow()
	arrivals := make([]InferredArrival, 0, len(sortedEvents))

	for _, event := range sortedEvents {
		windowStart := event.ScheduledArrival.Add(-window)
		windowEnd := event.ScheduledArrival.Add(window)

		// Preferred path: the feed tagged the observation with a stop
		// sequence. Vehicles never move backward in sequence, so the
		// earliest observation at or past the target sequence is the
		// arrival proxy.
		if proxy, ok := earliestSequenceMatch(sortedObs, event.StopSequence, windowStart, windowEnd); ok {
			arrivals = append(arrivals, InferredArrival{
				TripID:        event.TripID,
				StopID:        event.StopID,
				StopSequence:  event.StopSequence,
				RouteID:       event.RouteID,
				ScheduledTime: event.ScheduledArrival,
				InferredTime:  proxy.Timestamp,
				Confidence:    ConfidenceSequenceMatch,
			})
			stats.sequenceMatches++
			continue
		}

		// Fallback: geographically closest observation in the window,
		// secondarily closest in time (via the tie-break on timestamp).
		if proxy, ok := closestGeographicMatch(sortedObs, event, windowStart, windowEnd); ok {
			arrivals = append(arrivals, InferredArrival{
				TripID:        event.TripID,
				StopID:        event.StopID,
				StopSequence:  event.StopSequence,
				RouteID:       event.RouteID,
				ScheduledTime: event.ScheduledArrival,
				InferredTime:  proxy.Timestamp,
				Confidence:    ConfidenceGeographic,
			})
			stats.geographicMatches++
			continue
		}

		// No observation in the window. The arrival stays absent; inferring
		// a zero delay here would silently corrupt the aggregates.
		stats.missing++
	}

	return arrivals, stats
}

// earliestSequenceMatch returns the first observation inside the window
// whose tagged stop sequence is at or past the target sequence.
func earliestSequenceMatch(observations []PositionObservation, targetSequence int, windowStart, windowEnd time.Time) (PositionObservation, bool) {
	for _, obs := range observations {
		if obs.Timestamp.Before(windowStart) {
			continue
		}
		if obs.Timestamp.After(windowEnd) {
			break
		}
		if obs.CurrentStopSequence != nil && *obs.CurrentStopSequence >= targetSequence {
			return obs, true
		}
	}
	return PositionObservation{}, false
}

// closestGeographicMatch returns the observation inside the window closest
// to the stop's location. Observations beyond offRouteRadiusMeters are never
// candidates: a vehicle that far from the stop is no evidence of an arrival,
// so the event stays absent rather than gaining a wildly wrong proxy. When
// two observations are equally close, the later timestamp wins.
func closestGeographicMatch(observations []PositionObservation, event ScheduledStopEvent, windowStart, windowEnd time.Time) (PositionObservation, bool) {
	var best PositionObservation
	bestDist := math.Inf(1)
	found := false

	for _, obs := range observations {
		if obs.Timestamp.Before(windowStart) {
			continue
		}
		if obs.Timestamp.After(windowEnd) {
			break
		}

		d := utils.Distance(obs.Latitude, obs.Longitude, event.StopLat, event.StopLon)
		if d > offRouteRadiusMeters {
			continue
		}
		switch {
		case !found || d < bestDist-distanceTieEpsilonMeters:
			best = obs
			bestDist = d
			found = true
		case math.Abs(d-bestDist) <= distanceTieEpsilonMeters:
			// Equally close. The scan runs in timestamp order, so this
			// observation is the later one.
			best = obs
			if d < bestDist {
				bestDist = d
			}
		}
	}

	return best, found
}
