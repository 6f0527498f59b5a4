// Package ingest polls a GTFS-RT vehicle positions feed and appends the
// observations to the position log.
package ingest

import (
	"time"

	"github.com/OneBusAway/go-gtfs"

	"github.com/mlcsinaga/ttc-transit-punctuality/internal/otp"
)

// observationsFromVehicles converts GTFS-RT vehicles into position
// observations. Vehicles without a trip assignment or coordinates carry no
// information for arrival inference and are dropped. Vehicles without a
// feed timestamp get the fetch time.
func observationsFromVehicles(vehicles []gtfs.Vehicle, fetchedAt time.Time) []otp.PositionObservation {
	observations := make([]otp.PositionObservation, 0, len(vehicles))
	for _, v := range vehicles {
		if v.Trip == nil || v.Trip.ID.ID == "" {
			continue
		}
		if v.Position == nil || v.Position.Latitude == nil || v.Position.Longitude == nil {
			continue
		}

		ts := fetchedAt
		if v.Timestamp != nil {
			ts = *v.Timestamp
		}

		obs := otp.PositionObservation{
			TripID:    v.Trip.ID.ID,
			Timestamp: ts.UTC(),
			Latitude:  float64(*v.Position.Latitude),
			Longitude: float64(*v.Position.Longitude),
		}
		if v.CurrentStopSequence != nil {
			seq := int(*v.CurrentStopSequence)
			obs.CurrentStopSequence = &seq
		}
		observations = append(observations, obs)
	}
	return observations
}
