package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/dedup"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/fetcher"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
)

// StationWriter persists catalog stations.
type StationWriter interface {
	UpsertStations(ctx context.Context, stations []model.Station) (int64, error)
}

// SyncResult counts the stations stored per source.
type SyncResult map[model.Source]int

// StationSync refreshes the station catalog from the flood-monitoring and
// hydrology station lists.
type StationSync struct {
	fetcher   fetcher.Fetcher
	floodBase string
	hydroBase string
	pageSize  int
	now       func() time.Time
}

// NewStationSync creates a StationSync. pageSize <= 0 uses 1000.
func NewStationSync(f fetcher.Fetcher, floodBase, hydroBase string, pageSize int) *StationSync {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &StationSync{
		fetcher:   f,
		floodBase: strings.TrimRight(floodBase, "/"),
		hydroBase: strings.TrimRight(hydroBase, "/"),
		pageSize:  pageSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type stationsPage struct {
	Items []stationItem `json:"items"`
	Links []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"links"`
}

type stationItem struct {
	StationReference string          `json:"stationReference"`
	StationGUID      string          `json:"stationGuid"`
	Label            json.RawMessage `json:"label"`
	Lat              json.RawMessage `json:"lat"`
	Long             json.RawMessage `json:"long"`
	Easting          json.RawMessage `json:"easting"`
	Northing         json.RawMessage `json:"northing"`
	Measures         json.RawMessage `json:"measures"`
}

// hasParameter reports whether any of the station's measures is for parameter.
func (s stationItem) hasParameter(parameter string) bool {
	var measures []struct {
		Parameter string `json:"parameter"`
	}
	if err := json.Unmarshal(s.Measures, &measures); err != nil {
		return false
	}
	for _, m := range measures {
		if m.Parameter == parameter {
			return true
		}
	}
	return false
}

func (s stationItem) toStation(source model.Source, now time.Time) (model.Station, bool) {
	ref := s.StationReference
	if ref == "" {
		ref = s.StationGUID
	}
	id := dedup.NormalizeStationID(ref)
	if id == "" {
		return model.Station{}, false
	}
	st := model.Station{
		Source:    source,
		StationID: id,
		Label:     text(s.Label),
		UpdatedAt: now,
	}
	if v, ok := number(s.Lat); ok {
		st.Lat = model.Float(v)
	}
	if v, ok := number(s.Long); ok {
		st.Lon = model.Float(v)
	}
	if v, ok := number(s.Easting); ok {
		st.Easting = model.Int(int(v))
	}
	if v, ok := number(s.Northing); ok {
		st.Northing = model.Int(int(v))
	}
	return st, true
}

// Run pages through both station lists and upserts flood, rainfall and
// hydrology stations. Rainfall stations are the flood stations carrying a
// rainfall measure.
func (s *StationSync) Run(ctx context.Context, w StationWriter) (SyncResult, error) {
	res := make(SyncResult)
	now := s.now()

	floodItems, err := s.fetchAll(ctx, s.floodBase+"/id/stations")
	if err != nil {
		return res, eris.Wrap(err, "feeds: flood stations")
	}
	var flood, rainfall []model.Station
	for _, item := range floodItems {
		st, ok := item.toStation(model.SourceFlood, now)
		if !ok {
			continue
		}
		flood = append(flood, st)
		if item.hasParameter(ParameterRainfall) {
			st.Source = model.SourceRainfall
			rainfall = append(rainfall, st)
		}
	}

	hydroItems, err := s.fetchAll(ctx, s.hydroBase+"/id/stations")
	if err != nil {
		return res, eris.Wrap(err, "feeds: hydrology stations")
	}
	var hydrology []model.Station
	for _, item := range hydroItems {
		if st, ok := item.toStation(model.SourceHydrology, now); ok {
			hydrology = append(hydrology, st)
		}
	}

	for _, batch := range []struct {
		source   model.Source
		stations []model.Station
	}{
		{model.SourceFlood, flood},
		{model.SourceRainfall, rainfall},
		{model.SourceHydrology, hydrology},
	} {
		if len(batch.stations) == 0 {
			res[batch.source] = 0
			continue
		}
		n, err := w.UpsertStations(ctx, batch.stations)
		if err != nil {
			return res, eris.Wrapf(err, "feeds: store %s stations", batch.source)
		}
		res[batch.source] = int(n)
		zap.L().Info("stations synced",
			zap.String("source", string(batch.source)),
			zap.Int64("stored", n),
		)
	}
	return res, nil
}

// fetchAll follows rel=next links. When the API omits them, a full page is
// taken as a hint to request the next offset.
func (s *StationSync) fetchAll(ctx context.Context, base string) ([]stationItem, error) {
	var all []stationItem
	next := fmt.Sprintf("%s?_limit=%d", base, s.pageSize)
	offset := 0

	for next != "" {
		page, err := fetcher.GetJSON[stationsPage](ctx, s.fetcher, next)
		if err != nil {
			return all, err
		}
		all = append(all, page.Items...)
		offset += len(page.Items)

		next = ""
		for _, l := range page.Links {
			if l.Rel == "next" && l.Href != "" {
				next = l.Href
				break
			}
		}
		if next == "" && len(page.Items) == s.pageSize {
			q := url.Values{}
			q.Set("_limit", strconv.Itoa(s.pageSize))
			q.Set("_offset", strconv.Itoa(offset))
			next = base + "?" + q.Encode()
		}
	}
	return all, nil
}
