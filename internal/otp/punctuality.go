package otp

import (
	"fmt"
	"sort"
	"time"
)

// buildDelayRecords converts inferred arrivals into classified delay records.
// Exactly one record per arrival; arrivals that were never inferred simply
// produce nothing, shrinking the OTP denominator instead of inflating it.
func buildDelayRecords(arrivals []InferredArrival, opts Options) []DelayRecord {
	records := make([]DelayRecord, 0, len(arrivals))
	for _, arrival := range arrivals {
		delay := arrival.DelaySeconds()
		records = append(records, DelayRecord{
			RouteID:        arrival.RouteID,
			StopID:         arrival.StopID,
			Timestamp:      arrival.InferredTime,
			ScheduledTime:  arrival.ScheduledTime,
			DelaySeconds:   delay,
			Classification: classify(delay, opts),
		})
	}
	return records
}

func classify(delaySeconds int64, opts Options) Classification {
	switch {
	case delaySeconds > int64(opts.LateThresholdSeconds):
		return Late
	case delaySeconds < int64(opts.EarlyThresholdSeconds):
		return Early
	default:
		return OnTime
	}
}

// Hour and day-of-week keys are derived from the scheduled time, which the
// store loads in the agency's timezone. Keying on the UTC inferred time
// would shift late-evening service onto the wrong hour and weekday.
func hourGroupKey(t time.Time) string {
	return fmt.Sprintf("hour:%02d", t.Hour())
}

func weekdayGroupKey(t time.Time) string {
	return "dow:" + t.Weekday().String()
}

// aggregateKey identifies one (route, group) accumulator.
type aggregateKey struct {
	routeID  string
	groupKey string
}

// groupAccumulator accumulates one group's statistics. Delay mean and
// variance use Welford's online algorithm, which is order-independent in
// result (up to float rounding of a fixed iteration order) and avoids
// storing every observation.
type groupAccumulator struct {
	welford  welfordState
	onTime   int
	headways int
	bunched  int
}

// buildAggregates rolls delay and headway records up into per-route and
// network-wide aggregate metrics. Output ordering is deterministic: rows are
// sorted by (route, group key), and input records are sorted by stable keys
// before accumulation so identical inputs yield byte-identical aggregates.
func buildAggregates(delays []DelayRecord, headways []HeadwayRecord, opts Options) []AggregateMetric {
	sortedDelays := make([]DelayRecord, len(delays))
	copy(sortedDelays, delays)
	sort.Slice(sortedDelays, func(i, j int) bool {
		a, b := sortedDelays[i], sortedDelays[j]
		if a.RouteID != b.RouteID {
			return a.RouteID < b.RouteID
		}
		if a.StopID != b.StopID {
			return a.StopID < b.StopID
		}
		return a.Timestamp.Before(b.Timestamp)
	})

	groups := make(map[aggregateKey]*groupAccumulator)
	accumulator := func(key aggregateKey) *groupAccumulator {
		acc, ok := groups[key]
		if !ok {
			acc = &groupAccumulator{}
			groups[key] = acc
		}
		return acc
	}

	for _, record := range sortedDelays {
		for _, key := range groupKeysFor(record.RouteID, record.ScheduledTime) {
			acc := accumulator(key)
			acc.welford.update(float64(record.DelaySeconds))
			if record.Classification == OnTime {
				acc.onTime++
			}
		}
	}

	for _, record := range headways {
		for _, key := range groupKeysFor(record.RouteID, record.ScheduledTime) {
			// Headways only annotate groups that have classified arrivals;
			// a group with headways but no delays still yields no row.
			acc, ok := groups[key]
			if !ok {
				continue
			}
			acc.headways++
			if record.Bunching {
				acc.bunched++
			}
		}
	}

	metrics := make([]AggregateMetric, 0, len(groups))
	for key, acc := range groups {
		classified := acc.welford.count
		if classified == 0 {
			continue
		}

		otpPercent := 100 * float64(acc.onTime) / float64(classified)
		stddev := acc.welford.stddev()

		bunchingRate := 0.0
		if acc.headways > 0 {
			bunchingRate = float64(acc.bunched) / float64(acc.headways)
		}

		metrics = append(metrics, AggregateMetric{
			RouteID:          key.routeID,
			GroupKey:         key.groupKey,
			OTPPercent:       otpPercent,
			AvgDelaySeconds:  acc.welford.mean,
			DelayStdDev:      stddev,
			BunchingRate:     bunchingRate,
			ReliabilityScore: reliabilityScore(otpPercent, stddev, opts),
			SampleCount:      classified,
		})
	}

	sort.Slice(metrics, func(i, j int) bool {
		if metrics[i].RouteID != metrics[j].RouteID {
			return metrics[i].RouteID < metrics[j].RouteID
		}
		return metrics[i].GroupKey < metrics[j].GroupKey
	})

	return metrics
}

// groupKeysFor lists every (route, group) bucket one record contributes to:
// the route's overall, hour-of-day, and day-of-week groups plus the
// network-wide total.
func groupKeysFor(routeID string, t time.Time) []aggregateKey {
	return []aggregateKey{
		{routeID: routeID, groupKey: GroupOverall},
		{routeID: routeID, groupKey: hourGroupKey(t)},
		{routeID: routeID, groupKey: weekdayGroupKey(t)},
		{routeID: RouteAll, groupKey: GroupOverall},
	}
}
