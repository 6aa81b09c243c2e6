package model

import (
	"strings"
	"time"
)

// Source identifies the sensor feed a reading came from.
type Source string

const (
	SourceFlood     Source = "flood"
	SourceHydrology Source = "hydrology"
	SourceRainfall  Source = "rainfall"
)

// ParseSource maps a free-form source label onto a known Source.
func ParseSource(s string) (Source, bool) {
	switch Source(strings.ToLower(strings.TrimSpace(s))) {
	case SourceFlood:
		return SourceFlood, true
	case SourceHydrology:
		return SourceHydrology, true
	case SourceRainfall:
		return SourceRainfall, true
	default:
		return "", false
	}
}

// Reading is a single sensor observation.
type Reading struct {
	StationID string    `json:"station_id"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Source    Source    `json:"source,omitempty"`
	Easting   *int      `json:"easting,omitempty"`  // British National Grid
	Northing  *int      `json:"northing,omitempty"` // British National Grid
	Lat       *float64  `json:"lat,omitempty"`      // WGS84
	Lon       *float64  `json:"lon,omitempty"`      // WGS84
}

// HasCoords reports whether the reading carries both WGS84 coordinates.
func (r Reading) HasCoords() bool {
	return r.Lat != nil && r.Lon != nil
}

// HasGridRef reports whether the reading carries both grid coordinates.
func (r Reading) HasGridRef() bool {
	return r.Easting != nil && r.Northing != nil
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
