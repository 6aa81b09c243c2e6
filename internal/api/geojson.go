package api

import (
	"time"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/detect"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
)

// FeatureCollection maps each incident to a Point at the centroid of its
// readings. Incidents whose readings carry no coordinates are left out.
func FeatureCollection(incidents []model.Incident) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{}}
	for _, inc := range incidents {
		if !anyCoords(inc.Readings) {
			continue
		}
		lat, lon := detect.Center(inc.Readings)
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       inc.ID,
			Geometry: geom.NewPointFlat(geom.XY, []float64{lon, lat}),
			Properties: map[string]any{
				"priority":      string(inc.Priority()),
				"summary":       inc.Summary(),
				"content_hash":  inc.ContentHash,
				"station_ids":   detect.StationIDs(inc.Readings),
				"reading_count": len(inc.Readings),
				"permit_count":  len(inc.Permits),
				"created_at":    inc.CreatedAt.UTC().Format(time.RFC3339),
			},
		})
	}
	return fc
}

func anyCoords(readings []model.Reading) bool {
	for _, r := range readings {
		if r.HasCoords() {
			return true
		}
	}
	return false
}
