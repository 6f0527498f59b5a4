package otp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	opts := DefaultOptions()

	testCases := []struct {
		name         string
		delaySeconds int64
		expected     Classification
	}{
		{name: "WellEarly", delaySeconds: -300, expected: Early},
		{name: "JustBelowEarlyThreshold", delaySeconds: -61, expected: Early},
		{name: "AtEarlyThreshold", delaySeconds: -60, expected: OnTime},
		{name: "ZeroDelay", delaySeconds: 0, expected: OnTime},
		{name: "SeventySeconds", delaySeconds: 70, expected: OnTime},
		{name: "AtLateThreshold", delaySeconds: 300, expected: OnTime},
		{name: "JustAboveLateThreshold", delaySeconds: 301, expected: Late},
		{name: "VeryLate", delaySeconds: 1800, expected: Late},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, classify(tc.delaySeconds, opts))
		})
	}
}

func TestBuildDelayRecords_OnePerArrival(t *testing.T) {
	arrivals := []InferredArrival{
		{
			TripID: "t1", StopID: "s1", StopSequence: 1, RouteID: "501",
			ScheduledTime: serviceMorning,
			InferredTime:  serviceMorning.Add(70 * time.Second),
			Confidence:    ConfidenceSequenceMatch,
		},
		{
			TripID: "t2", StopID: "s1", StopSequence: 1, RouteID: "501",
			ScheduledTime: serviceMorning.Add(10 * time.Minute),
			InferredTime:  serviceMorning.Add(4 * time.Minute),
			Confidence:    ConfidenceGeographic,
		},
	}

	records := buildDelayRecords(arrivals, DefaultOptions())

	assert.Len(t, records, 2)
	assert.Equal(t, int64(70), records[0].DelaySeconds)
	assert.Equal(t, OnTime, records[0].Classification)
	assert.Equal(t, int64(-360), records[1].DelaySeconds)
	assert.Equal(t, Early, records[1].Classification)
}

func delayAt(routeID string, scheduled time.Time, delaySeconds int64, opts Options) DelayRecord {
	return DelayRecord{
		RouteID:        routeID,
		StopID:         "s1",
		Timestamp:      scheduled.UTC().Add(time.Duration(delaySeconds) * time.Second),
		ScheduledTime:  scheduled,
		DelaySeconds:   delaySeconds,
		Classification: classify(delaySeconds, opts),
	}
}

func TestBuildAggregates_OTPWithinBounds(t *testing.T) {
	opts := DefaultOptions()
	delays := []DelayRecord{
		delayAt("501", serviceMorning, 0, opts),
		delayAt("501", serviceMorning.Add(5*time.Minute), 400, opts),
		delayAt("501", serviceMorning.Add(10*time.Minute), -90, opts),
	}

	aggregates := buildAggregates(delays, nil, opts)

	assert.NotEmpty(t, aggregates)
	for _, row := range aggregates {
		assert.GreaterOrEqual(t, row.OTPPercent, 0.0)
		assert.LessOrEqual(t, row.OTPPercent, 100.0)
	}
}

func TestBuildAggregates_RouteOverallRow(t *testing.T) {
	opts := DefaultOptions()
	delays := []DelayRecord{
		delayAt("501", serviceMorning, 0, opts),
		delayAt("501", serviceMorning.Add(time.Minute), 0, opts),
		delayAt("501", serviceMorning.Add(2*time.Minute), 600, opts),
	}

	aggregates := buildAggregates(delays, nil, opts)

	var overall *AggregateMetric
	for i := range aggregates {
		if aggregates[i].RouteID == "501" && aggregates[i].GroupKey == GroupOverall {
			overall = &aggregates[i]
		}
	}

	assert.NotNil(t, overall)
	assert.InDelta(t, 66.666, overall.OTPPercent, 0.01)
	assert.Equal(t, 3, overall.SampleCount)
	assert.InDelta(t, 200, overall.AvgDelaySeconds, 0.001)
}

func TestBuildAggregates_EmptyGroupProducesNoRow(t *testing.T) {
	aggregates := buildAggregates(nil, nil, DefaultOptions())
	assert.Empty(t, aggregates)
}

func TestBuildAggregates_HeadwaysAloneProduceNoRow(t *testing.T) {
	headways := []HeadwayRecord{
		{
			RouteID: "501", StopID: "s1", Timestamp: serviceMorning, ScheduledTime: serviceMorning,
			ScheduledHeadwaySeconds: 600, ActualHeadwaySeconds: 250, Bunching: true,
		},
	}

	aggregates := buildAggregates(nil, headways, DefaultOptions())
	assert.Empty(t, aggregates)
}

func TestBuildAggregates_BunchingRate(t *testing.T) {
	opts := DefaultOptions()
	delays := []DelayRecord{
		delayAt("501", serviceMorning, 0, opts),
		delayAt("501", serviceMorning.Add(2*time.Minute), 30, opts),
	}
	headways := []HeadwayRecord{
		{RouteID: "501", StopID: "s1", Timestamp: serviceMorning.Add(2 * time.Minute),
			ScheduledTime:           serviceMorning.Add(2 * time.Minute),
			ScheduledHeadwaySeconds: 600, ActualHeadwaySeconds: 120, Bunching: true},
		{RouteID: "501", StopID: "s1", Timestamp: serviceMorning.Add(12 * time.Minute),
			ScheduledTime:           serviceMorning.Add(12 * time.Minute),
			ScheduledHeadwaySeconds: 600, ActualHeadwaySeconds: 620, Bunching: false},
	}

	aggregates := buildAggregates(delays, headways, opts)

	for _, row := range aggregates {
		if row.RouteID == "501" && row.GroupKey == GroupOverall {
			assert.InDelta(t, 0.5, row.BunchingRate, 0.001)
			return
		}
	}
	t.Fatal("expected a 501/overall aggregate row")
}

func TestBuildAggregates_OrderIndependent(t *testing.T) {
	opts := DefaultOptions()
	delays := []DelayRecord{
		delayAt("501", serviceMorning, 45, opts),
		delayAt("504", serviceMorning.Add(3*time.Minute), -120, opts),
		delayAt("501", serviceMorning.Add(7*time.Minute), 520, opts),
		delayAt("504", serviceMorning.Add(11*time.Minute), 15, opts),
	}

	forward := buildAggregates(delays, nil, opts)

	shuffled := []DelayRecord{delays[2], delays[0], delays[3], delays[1]}
	reversed := buildAggregates(shuffled, nil, opts)

	assert.Equal(t, forward, reversed)
}

func TestBuildAggregates_GroupKeys(t *testing.T) {
	opts := DefaultOptions()
	// 2024-03-15 is a Friday.
	delays := []DelayRecord{
		delayAt("501", serviceMorning, 0, opts),
	}

	aggregates := buildAggregates(delays, nil, opts)

	keys := make(map[aggregateKey]bool)
	for _, row := range aggregates {
		keys[aggregateKey{routeID: row.RouteID, groupKey: row.GroupKey}] = true
	}

	assert.True(t, keys[aggregateKey{"501", "overall"}])
	assert.True(t, keys[aggregateKey{"501", "hour:08"}])
	assert.True(t, keys[aggregateKey{"501", "dow:Friday"}])
	assert.True(t, keys[aggregateKey{RouteAll, "overall"}])
}

func TestBuildAggregates_GroupKeysUseLocalScheduledTime(t *testing.T) {
	toronto, err := time.LoadLocation("America/Toronto")
	require.NoError(t, err)

	opts := DefaultOptions()
	// Friday 23:30 in Toronto is Saturday 03:30 UTC. The hour and weekday
	// buckets must follow the local schedule, not the UTC wall clock.
	lateEvening := time.Date(2024, 3, 15, 23, 30, 0, 0, toronto)
	delays := []DelayRecord{
		delayAt("501", lateEvening, 90, opts),
	}

	aggregates := buildAggregates(delays, nil, opts)

	keys := make(map[aggregateKey]bool)
	for _, row := range aggregates {
		keys[aggregateKey{routeID: row.RouteID, groupKey: row.GroupKey}] = true
	}

	assert.True(t, keys[aggregateKey{"501", "hour:23"}])
	assert.True(t, keys[aggregateKey{"501", "dow:Friday"}])
	assert.False(t, keys[aggregateKey{"501", "hour:03"}])
	assert.False(t, keys[aggregateKey{"501", "dow:Saturday"}])
}
