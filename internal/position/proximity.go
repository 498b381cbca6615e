package position

import (
	"math"

	"github.com/stormfeed/stormfeed/internal/event"
)

const earthRadiusKm = 6371.0

// Nearest returns the buffered event closest to pos and its great-circle
// distance in kilometers. Returns false when events is empty.
func Nearest(events []event.Event, pos Position) (event.Event, float64, bool) {
	if len(events) == 0 {
		return event.Event{}, 0, false
	}

	best := events[0]
	bestDist := Haversine(pos.Lat, pos.Lon, best.Lat, best.Lon)
	for _, e := range events[1:] {
		if d := Haversine(pos.Lat, pos.Lon, e.Lat, e.Lon); d < bestDist {
			best, bestDist = e, d
		}
	}
	return best, bestDist, true
}

// Haversine computes the great-circle distance in kilometers between two
// coordinates.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const degToRad = math.Pi / 180

	dLat := (lat2 - lat1) * degToRad
	dLon := (lon2 - lon1) * degToRad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
