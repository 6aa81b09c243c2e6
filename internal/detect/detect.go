// Package detect finds threshold anomalies in sensor readings and groups them
// into spatial clusters.
package detect

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
)

// Detect returns the readings whose value is strictly greater than threshold,
// in input order.
func Detect(readings []model.Reading, threshold float64) []model.Reading {
	var out []model.Reading
	for _, r := range readings {
		if r.Value > threshold {
			out = append(out, r)
		}
	}
	return out
}

// FilterRecent keeps readings observed at or after now-window.
func FilterRecent(readings []model.Reading, window time.Duration, now time.Time) []model.Reading {
	cutoff := now.UTC().Add(-window)
	var out []model.Reading
	for _, r := range readings {
		if !r.Timestamp.UTC().Before(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

// timestampLayouts are tried in order. Layouts without a zone parse as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
}

// ParseTimestamp parses an ISO-8601 timestamp. A trailing "Z" is UTC and
// timestamps without an offset are assumed to be UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("detect: unparseable timestamp %q", s)
}
