package model

import "time"

// Station is catalog metadata for a monitoring station, keyed by (Source, StationID).
type Station struct {
	Source    Source    `json:"source" yaml:"source"`
	StationID string    `json:"station_id" yaml:"station_id"`
	Label     string    `json:"label,omitempty" yaml:"label"`
	Lat       *float64  `json:"lat,omitempty" yaml:"lat"`
	Lon       *float64  `json:"lon,omitempty" yaml:"lon"`
	Easting   *int      `json:"easting,omitempty" yaml:"easting"`
	Northing  *int      `json:"northing,omitempty" yaml:"northing"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Key returns the catalog key "source:station_id".
func (s Station) Key() string {
	return string(s.Source) + ":" + s.StationID
}

// Locate copies the station's coordinates onto r.
func (s Station) Locate(r *Reading) {
	r.Lat = s.Lat
	r.Lon = s.Lon
	r.Easting = s.Easting
	r.Northing = s.Northing
}
