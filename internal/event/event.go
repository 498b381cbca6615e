// Package event defines the decoded geographic event shared by every feed
// pipeline.
package event

import (
	"math"

	"github.com/google/uuid"
)

// Event is a single decoded feed event. Immutable once constructed.
type Event struct {
	ID     string  `json:"id"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	TimeMs int64   `json:"time"`
}

// New validates coordinates and constructs an Event with a fresh opaque ID.
// The ID is only used for client-side list keying, not deduplication.
func New(lat, lon float64, timeMs int64) (Event, bool) {
	if !ValidCoords(lat, lon) {
		return Event{}, false
	}
	return Event{
		ID:     uuid.NewString()[:8],
		Lat:    lat,
		Lon:    lon,
		TimeMs: timeMs,
	}, true
}

// ValidCoords reports whether lat/lon are finite and within range.
func ValidCoords(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
