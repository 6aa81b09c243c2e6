package feeds

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/fetcher"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
)

// Flood-monitoring parameters.
const (
	ParameterLevel    = "level"
	ParameterRainfall = "rainfall"
)

// FloodClient reads the flood-monitoring "latest readings" feed.
type FloodClient struct {
	fetcher  fetcher.Fetcher
	baseURL  string
	stations StationSource
}

// NewFloodClient creates a flood-monitoring client. stations may be nil, in
// which case readings carry no coordinates.
func NewFloodClient(f fetcher.Fetcher, baseURL string, stations StationSource) *FloodClient {
	return &FloodClient{
		fetcher:  f,
		baseURL:  strings.TrimRight(baseURL, "/"),
		stations: stations,
	}
}

// FetchLatest returns the latest reading of every measure for parameter.
// The level parameter yields flood readings; rainfall yields rainfall
// readings, which are dropped when the station catalog cannot place them.
func (c *FloodClient) FetchLatest(ctx context.Context, parameter string) ([]model.Reading, error) {
	u := fmt.Sprintf("%s/data/readings?latest&parameter=%s", c.baseURL, url.QueryEscape(parameter))

	env, err := fetcher.GetJSON[readingsEnvelope](ctx, c.fetcher, u)
	if err != nil {
		return nil, eris.Wrapf(err, "feeds: flood %s readings", parameter)
	}

	if parameter == ParameterRainfall {
		return c.rainfall(ctx, env.Items)
	}

	readings := toReadings(env.Items, model.SourceFlood)
	cat, err := loadCatalog(ctx, c.stations, model.SourceFlood)
	if err != nil {
		return nil, err
	}
	for i := range readings {
		cat.locate(&readings[i], model.SourceFlood)
	}
	return readings, nil
}

func (c *FloodClient) rainfall(ctx context.Context, items []readingItem) ([]model.Reading, error) {
	readings := toReadings(items, model.SourceRainfall)
	cat, err := loadCatalog(ctx, c.stations, model.SourceRainfall, model.SourceFlood)
	if err != nil {
		return nil, err
	}
	out := readings[:0]
	for _, r := range readings {
		if cat.locate(&r, model.SourceRainfall, model.SourceFlood) && r.HasCoords() {
			out = append(out, r)
		}
	}
	return out, nil
}
