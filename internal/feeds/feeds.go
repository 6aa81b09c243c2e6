// Package feeds talks to the Environment Agency sensor, station and public
// register APIs and turns their payloads into model readings, stations and
// permits.
package feeds

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/dedup"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/detect"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
)

// StationSource supplies catalog metadata used to place readings on the map.
type StationSource interface {
	GetStations(ctx context.Context, source model.Source) ([]model.Station, error)
}

// readingsEnvelope is the shared shape of the flood-monitoring and hydrology
// "latest readings" responses.
type readingsEnvelope struct {
	Items []readingItem `json:"items"`
}

type readingItem struct {
	Measure  json.RawMessage `json:"measure"`
	DateTime string          `json:"dateTime"`
	Value    json.RawMessage `json:"value"`
}

// measureURL accepts either a bare URL string or a linked-data object with
// an "@id".
func measureURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		ID string `json:"@id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

// number decodes a JSON number. Arrays yield their first element.
func number(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) > 0 {
		return number(arr[0])
	}
	return 0, false
}

// text decodes a JSON string. Arrays yield their first element.
func text(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) > 0 {
		return text(arr[0])
	}
	return ""
}

// toReadings converts feed items into readings for source. Items missing a
// measure, timestamp or numeric value are skipped.
func toReadings(items []readingItem, source model.Source) []model.Reading {
	out := make([]model.Reading, 0, len(items))
	var skipped int
	for _, item := range items {
		id := dedup.NormalizeStationID(measureURL(item.Measure))
		if id == "" || item.DateTime == "" {
			skipped++
			continue
		}
		value, ok := number(item.Value)
		if !ok {
			skipped++
			continue
		}
		ts, err := detect.ParseTimestamp(item.DateTime)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, model.Reading{
			StationID: id,
			Value:     value,
			Timestamp: ts,
			Source:    source,
		})
	}
	if skipped > 0 {
		zap.L().Debug("feeds: skipped unusable items",
			zap.String("source", string(source)),
			zap.Int("skipped", skipped),
		)
	}
	return out
}

// catalog indexes stations by "source:station_id".
type catalog map[string]model.Station

func loadCatalog(ctx context.Context, src StationSource, sources ...model.Source) (catalog, error) {
	c := make(catalog)
	if src == nil {
		return c, nil
	}
	for _, s := range sources {
		stations, err := src.GetStations(ctx, s)
		if err != nil {
			return nil, eris.Wrapf(err, "feeds: load %s stations", s)
		}
		for _, st := range stations {
			c[st.Key()] = st
		}
	}
	return c, nil
}

// locate copies coordinates from the first of sources whose catalog knows
// the reading's station.
func (c catalog) locate(r *model.Reading, sources ...model.Source) bool {
	for _, s := range sources {
		st, ok := c[string(s)+":"+r.StationID]
		if !ok {
			continue
		}
		st.Locate(r)
		return true
	}
	return false
}
