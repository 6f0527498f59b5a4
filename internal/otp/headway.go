package otp

import "sort"

type routeStopKey struct {
	routeID string
	stopID  string
}

// buildHeadwayRecords computes actual inter-vehicle spacing per (route, stop)
// and compares it to the scheduled spacing of the same two trips. A
// route/stop pair with fewer than two inferred arrivals produces nothing:
// its headway is undefined, not zero.
func buildHeadwayRecords(arrivals []InferredArrival, opts Options) []HeadwayRecord {
	byStop := make(map[routeStopKey][]InferredArrival)
	for _, arrival := range arrivals {
		key := routeStopKey{routeID: arrival.RouteID, stopID: arrival.StopID}
		byStop[key] = append(byStop[key], arrival)
	}

	keys := make([]routeStopKey, 0, len(byStop))
	for key := range byStop {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].routeID != keys[j].routeID {
			return keys[i].routeID < keys[j].routeID
		}
		return keys[i].stopID < keys[j].stopID
	})

	var records []HeadwayRecord
	for _, key := range keys {
		group := byStop[key]
		if len(group) < 2 {
			continue
		}

		sort.Slice(group, func(i, j int) bool {
			if !group[i].InferredTime.Equal(group[j].InferredTime) {
				return group[i].InferredTime.Before(group[j].InferredTime)
			}
			return group[i].TripID < group[j].TripID
		})

		for i := 1; i < len(group); i++ {
			leading, trailing := group[i-1], group[i]

			actual := int64(trailing.InferredTime.Sub(leading.InferredTime).Seconds())
			scheduled := int64(trailing.ScheduledTime.Sub(leading.ScheduledTime).Seconds())

			// Observed order can contradict the schedule (an overtake).
			// There is no meaningful scheduled headway for that pair.
			if scheduled <= 0 {
				continue
			}

			records = append(records, HeadwayRecord{
				RouteID:                 key.routeID,
				StopID:                  key.stopID,
				Timestamp:               trailing.InferredTime,
				ScheduledTime:           trailing.ScheduledTime,
				ScheduledHeadwaySeconds: scheduled,
				ActualHeadwaySeconds:    actual,
				Bunching:                float64(actual) < opts.BunchingRatio*float64(scheduled),
			})
		}
	}

	return records
}
