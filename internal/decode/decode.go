// Package decode turns raw upstream frames into events.
//
// The lightning upstream deliberately obfuscates its frames: two non-ASCII
// code points stand in for the structural ':' and ',' and further non-ASCII
// code points are spliced inside numbers and key names as noise. Decoding is
// intentionally permissive — the format is undocumented and unversioned, so
// anything that cannot be extracted is dropped rather than treated as an
// error.
package decode

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/stormfeed/stormfeed/internal/event"
)

const (
	// Substitute code points used by the lightning upstream in place of the
	// structural delimiters.
	colonSubstitute = 'ː'
	commaSubstitute = '‚'

	// Timestamps with a magnitude above this are assumed to be nanoseconds
	// and are converted to milliseconds. Heuristic with no upstream
	// guarantee; kept as a single constant so it can be retuned.
	nanosecondThreshold = int64(1_000_000_000_000_000)
)

// Noise is injected inside tokens, never at token boundaries, so after the
// delimiter substitution pass it is safe to drop every remaining non-ASCII
// rune: the split digit runs reassemble into contiguous numbers. Keys may
// arrive with or without quotes, hence the loose key:value patterns instead
// of a structured parse.
var (
	timePattern = regexp.MustCompile(`time[a-z]*"?\s*:\s*(-?\d+)`)
	latPattern  = regexp.MustCompile(`lat[a-z]*"?\s*:\s*(-?\d+(?:\.\d+)?)`)
	lonPattern  = regexp.MustCompile(`lon[a-z]*"?\s*:\s*(-?\d+(?:\.\d+)?)`)
)

// Func decodes one raw frame into zero or one event.
type Func func(frame []byte) (event.Event, bool)

// Lightning decodes one obfuscated lightning frame. Returns false for any
// frame the fields cannot be extracted from — a frequent, expected outcome.
func Lightning(frame []byte) (event.Event, bool) {
	cleaned := deobfuscate(string(frame))

	ts, ok := extractInt(timePattern, cleaned)
	if !ok {
		return event.Event{}, false
	}
	lat, ok := extractFloat(latPattern, cleaned)
	if !ok {
		return event.Event{}, false
	}
	lon, ok := extractFloat(lonPattern, cleaned)
	if !ok {
		return event.Event{}, false
	}

	return event.New(lat, lon, normalizeMillis(ts))
}

// Vessel decodes one vessel position report. The vessel upstream sends
// regular JSON, either flat or with the position nested under a metadata
// object.
func Vessel(frame []byte) (event.Event, bool) {
	var report struct {
		Lat  *float64 `json:"lat"`
		Lon  *float64 `json:"lon"`
		Time *int64   `json:"time"`
		Meta *struct {
			Lat  *float64 `json:"latitude"`
			Lon  *float64 `json:"longitude"`
			Time *int64   `json:"time"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(frame, &report); err != nil {
		return event.Event{}, false
	}

	lat, lon, ts := report.Lat, report.Lon, report.Time
	if report.Meta != nil {
		if lat == nil {
			lat = report.Meta.Lat
		}
		if lon == nil {
			lon = report.Meta.Lon
		}
		if ts == nil {
			ts = report.Meta.Time
		}
	}
	if lat == nil || lon == nil || ts == nil {
		return event.Event{}, false
	}

	return event.New(*lat, *lon, normalizeMillis(*ts))
}

// deobfuscate maps the substitute delimiters back to ':' and ',' and strips
// every remaining non-ASCII rune.
func deobfuscate(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == colonSubstitute:
			b.WriteByte(':')
		case r == commaSubstitute:
			b.WriteByte(',')
		case r < 128:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizeMillis converts nanosecond-resolution timestamps to milliseconds,
// truncating toward zero. Millisecond inputs pass through unchanged.
func normalizeMillis(ts int64) int64 {
	if ts > nanosecondThreshold || ts < -nanosecondThreshold {
		return ts / 1_000_000
	}
	return ts
}

func extractInt(re *regexp.Regexp, s string) (int64, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func extractFloat(re *regexp.Regexp, s string) (float64, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
