package otp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var serviceMorning = time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)

func seqPtr(seq int) *int {
	return &seq
}

func scheduledEvent(tripID, stopID string, seq int, arrival time.Time, lat, lon float64) ScheduledStopEvent {
	return ScheduledStopEvent{
		TripID:             tripID,
		StopID:             stopID,
		StopSequence:       seq,
		RouteID:            "501",
		ServiceDate:        "20240315",
		ScheduledArrival:   arrival,
		ScheduledDeparture: arrival.Add(30 * time.Second),
		StopLat:            lat,
		StopLon:            lon,
	}
}

func observation(tripID string, ts time.Time, lat, lon float64, seq *int) PositionObservation {
	return PositionObservation{
		TripID:              tripID,
		Timestamp:           ts,
		Latitude:            lat,
		Longitude:           lon,
		CurrentStopSequence: seq,
	}
}

func TestInferTripArrivals_PrefersSequenceTaggedMatch(t *testing.T) {
	events := []ScheduledStopEvent{
		scheduledEvent("t1", "s5", 5, serviceMorning, 43.6532, -79.3832),
	}
	observations := []PositionObservation{
		observation("t1", serviceMorning.Add(-90*time.Second), 43.6530, -79.3830, seqPtr(4)),
		observation("t1", serviceMorning.Add(70*time.Second), 43.6600, -79.3900, seqPtr(5)),
	}

	arrivals, stats := inferTripArrivals(events, observations, DefaultOptions())

	assert.Len(t, arrivals, 1)
	arrival := arrivals[0]
	assert.Equal(t, serviceMorning.Add(70*time.Second), arrival.InferredTime)
	assert.Equal(t, ConfidenceSequenceMatch, arrival.Confidence)
	assert.Equal(t, int64(70), arrival.DelaySeconds())
	assert.Equal(t, 1, stats.sequenceMatches)
	assert.Equal(t, 0, stats.geographicMatches)
}

func TestInferTripArrivals_SequenceMatchPicksEarliestAtOrPastTarget(t *testing.T) {
	events := []ScheduledStopEvent{
		scheduledEvent("t1", "s3", 3, serviceMorning, 43.6532, -79.3832),
	}
	observations := []PositionObservation{
		observation("t1", serviceMorning.Add(1*time.Minute), 43.6540, -79.3840, seqPtr(3)),
		observation("t1", serviceMorning.Add(3*time.Minute), 43.6560, -79.3860, seqPtr(4)),
	}

	arrivals, _ := inferTripArrivals(events, observations, DefaultOptions())

	assert.Len(t, arrivals, 1)
	assert.Equal(t, serviceMorning.Add(1*time.Minute), arrivals[0].InferredTime)
}

func TestInferTripArrivals_GeographicFallback(t *testing.T) {
	events := []ScheduledStopEvent{
		scheduledEvent("t1", "s1", 1, serviceMorning, 43.6532, -79.3832),
	}
	observations := []PositionObservation{
		// Roughly 1.2km away.
		observation("t1", serviceMorning.Add(-5*time.Minute), 43.6640, -79.3832, nil),
		// Right at the stop.
		observation("t1", serviceMorning.Add(2*time.Minute), 43.6533, -79.3833, nil),
	}

	arrivals, stats := inferTripArrivals(events, observations, DefaultOptions())

	assert.Len(t, arrivals, 1)
	assert.Equal(t, serviceMorning.Add(2*time.Minute), arrivals[0].InferredTime)
	assert.Equal(t, ConfidenceGeographic, arrivals[0].Confidence)
	assert.Equal(t, 1, stats.geographicMatches)
}

func TestInferTripArrivals_TiePrefersLaterTimestamp(t *testing.T) {
	events := []ScheduledStopEvent{
		scheduledEvent("t1", "s1", 1, serviceMorning, 43.6532, -79.3832),
	}
	// Identical coordinates, so identical distance to the stop.
	observations := []PositionObservation{
		observation("t1", serviceMorning.Add(-1*time.Minute), 43.6535, -79.3835, nil),
		observation("t1", serviceMorning.Add(1*time.Minute), 43.6535, -79.3835, nil),
	}

	arrivals, _ := inferTripArrivals(events, observations, DefaultOptions())

	assert.Len(t, arrivals, 1)
	assert.Equal(t, serviceMorning.Add(1*time.Minute), arrivals[0].InferredTime)
}

func TestInferTripArrivals_FarObservationNeverMatches(t *testing.T) {
	events := []ScheduledStopEvent{
		scheduledEvent("t1", "s1", 1, serviceMorning, 43.6532, -79.3832),
	}
	// Inside the time window but roughly 11km from the stop. A vehicle that
	// far away is no evidence of an arrival: the event must stay absent.
	observations := []PositionObservation{
		observation("t1", serviceMorning.Add(time.Minute), 43.7532, -79.3832, nil),
	}

	arrivals, stats := inferTripArrivals(events, observations, DefaultOptions())

	assert.Empty(t, arrivals)
	assert.Equal(t, 0, stats.geographicMatches)
	assert.Equal(t, 1, stats.missing)
}

func TestInferTripArrivals_NoObservationInWindowIsAbsent(t *testing.T) {
	events := []ScheduledStopEvent{
		scheduledEvent("t1", "s1", 1, serviceMorning, 43.6532, -79.3832),
	}
	observations := []PositionObservation{
		observation("t1", serviceMorning.Add(-45*time.Minute), 43.6532, -79.3832, seqPtr(1)),
		observation("t1", serviceMorning.Add(45*time.Minute), 43.6532, -79.3832, seqPtr(2)),
	}

	arrivals, stats := inferTripArrivals(events, observations, DefaultOptions())

	assert.Empty(t, arrivals)
	assert.Equal(t, 1, stats.missing)
}

func TestInferTripArrivals_ZeroObservations(t *testing.T) {
	events := []ScheduledStopEvent{
		scheduledEvent("t1", "s1", 1, serviceMorning, 43.6532, -79.3832),
		scheduledEvent("t1", "s2", 2, serviceMorning.Add(5*time.Minute), 43.6560, -79.3860),
	}

	arrivals, stats := inferTripArrivals(events, nil, DefaultOptions())

	assert.Empty(t, arrivals)
	assert.Equal(t, 2, stats.missing)
}

func TestInferTripArrivals_WideningWindowNeverDecreasesArrivals(t *testing.T) {
	events := []ScheduledStopEvent{
		scheduledEvent("t1", "s1", 1, serviceMorning, 43.6532, -79.3832),
		scheduledEvent("t1", "s2", 2, serviceMorning.Add(10*time.Minute), 43.6560, -79.3860),
		scheduledEvent("t1", "s3", 3, serviceMorning.Add(20*time.Minute), 43.6590, -79.3890),
	}
	observations := []PositionObservation{
		observation("t1", serviceMorning.Add(2*time.Minute), 43.6533, -79.3833, seqPtr(1)),
		observation("t1", serviceMorning.Add(14*time.Minute), 43.6561, -79.3861, nil),
		observation("t1", serviceMorning.Add(55*time.Minute), 43.6591, -79.3891, seqPtr(3)),
	}

	previous := 0
	for _, windowSeconds := range []int{60, 300, 600, 1200, 2400, 3600} {
		opts := DefaultOptions()
		opts.MatchWindowSeconds = windowSeconds

		arrivals, _ := inferTripArrivals(events, observations, opts)
		assert.GreaterOrEqual(t, len(arrivals), previous,
			"window %ds produced fewer arrivals than a narrower window", windowSeconds)
		previous = len(arrivals)
	}
}

func TestInferTripArrivals_DeterministicAcrossInputOrder(t *testing.T) {
	events := []ScheduledStopEvent{
		scheduledEvent("t1", "s1", 1, serviceMorning, 43.6532, -79.3832),
		scheduledEvent("t1", "s2", 2, serviceMorning.Add(8*time.Minute), 43.6560, -79.3860),
	}
	observations := []PositionObservation{
		observation("t1", serviceMorning.Add(1*time.Minute), 43.6533, -79.3833, nil),
		observation("t1", serviceMorning.Add(9*time.Minute), 43.6561, -79.3861, nil),
		observation("t1", serviceMorning.Add(4*time.Minute), 43.6545, -79.3845, nil),
	}

	forward, _ := inferTripArrivals(events, observations, DefaultOptions())

	reversedEvents := []ScheduledStopEvent{events[1], events[0]}
	reversedObs := []PositionObservation{observations[2], observations[0], observations[1]}
	reversed, _ := inferTripArrivals(reversedEvents, reversedObs, DefaultOptions())

	assert.Equal(t, forward, reversed)
}

func TestInferredArrival_TracesToScheduledEvent(t *testing.T) {
	events := []ScheduledStopEvent{
		scheduledEvent("t1", "s1", 1, serviceMorning, 43.6532, -79.3832),
		scheduledEvent("t1", "s2", 2, serviceMorning.Add(6*time.Minute), 43.6560, -79.3860),
	}
	observations := []PositionObservation{
		observation("t1", serviceMorning.Add(30*time.Second), 43.6533, -79.3833, seqPtr(1)),
		observation("t1", serviceMorning.Add(7*time.Minute), 43.6561, -79.3861, seqPtr(2)),
	}

	arrivals, _ := inferTripArrivals(events, observations, DefaultOptions())

	byKey := make(map[int]ScheduledStopEvent)
	for _, event := range events {
		byKey[event.StopSequence] = event
	}
	for _, arrival := range arrivals {
		source := byKey[arrival.StopSequence]
		assert.Equal(t, source.ScheduledArrival, arrival.ScheduledTime)
		assert.Equal(t, source.StopID, arrival.StopID)
		assert.Equal(t, source.TripID, arrival.TripID)
	}
}
