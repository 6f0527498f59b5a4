package otp

import (
	"math"

	"github.com/tidwall/rtree"

	"github.com/mlcsinaga/ttc-transit-punctuality/internal/utils"
)

// offRouteRadiusMeters is how far an observation may sit from a stop before
// it is off-route: counted in diagnostics and rejected as a geographic
// fallback candidate.
const offRouteRadiusMeters = 500.0

// stopIndex is a spatial index over stop locations, used to attribute
// observations to their nearest scheduled stop for diagnostics.
type stopIndex struct {
	tr rtree.RTree
}

type indexedStop struct {
	stopID string
	lat    float64
	lon    float64
}

func newStopIndex(events []ScheduledStopEvent) *stopIndex {
	idx := &stopIndex{}
	seen := make(map[string]struct{}, len(events))
	for _, event := range events {
		if _, ok := seen[event.StopID]; ok {
			continue
		}
		seen[event.StopID] = struct{}{}
		point := [2]float64{event.StopLon, event.StopLat}
		idx.tr.Insert(point, point, indexedStop{
			stopID: event.StopID,
			lat:    event.StopLat,
			lon:    event.StopLon,
		})
	}
	return idx
}

// nearestWithin returns the stop closest to (lat, lon) within the given
// radius in meters, or false when none is that close.
func (idx *stopIndex) nearestWithin(lat, lon, radius float64) (string, bool) {
	bounds := utils.CalculateBounds(lat, lon, radius)

	bestDist := math.Inf(1)
	var bestID string
	found := false

	idx.tr.Search(
		[2]float64{bounds.MinLon, bounds.MinLat},
		[2]float64{bounds.MaxLon, bounds.MaxLat},
		func(min, max [2]float64, value interface{}) bool {
			stop := value.(indexedStop)
			d := utils.Distance(lat, lon, stop.lat, stop.lon)
			if d <= radius && d < bestDist {
				bestDist = d
				bestID = stop.stopID
				found = true
			}
			return true
		},
	)

	return bestID, found
}
