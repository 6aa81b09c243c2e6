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

// ObservedWaterLevel is the hydrology property polled each cycle.
const ObservedWaterLevel = "waterLevel"

// HydrologyClient reads the hydrology "latest readings" feed.
type HydrologyClient struct {
	fetcher  fetcher.Fetcher
	baseURL  string
	stations StationSource
}

// NewHydrologyClient creates a hydrology client.
func NewHydrologyClient(f fetcher.Fetcher, baseURL string, stations StationSource) *HydrologyClient {
	return &HydrologyClient{
		fetcher:  f,
		baseURL:  strings.TrimRight(baseURL, "/"),
		stations: stations,
	}
}

// FetchLatest returns the latest reading of every measure of observedProperty.
func (c *HydrologyClient) FetchLatest(ctx context.Context, observedProperty string) ([]model.Reading, error) {
	u := fmt.Sprintf("%s/data/readings.json?latest&observedProperty=%s", c.baseURL, url.QueryEscape(observedProperty))

	env, err := fetcher.GetJSON[readingsEnvelope](ctx, c.fetcher, u)
	if err != nil {
		return nil, eris.Wrapf(err, "feeds: hydrology %s readings", observedProperty)
	}

	readings := toReadings(env.Items, model.SourceHydrology)
	cat, err := loadCatalog(ctx, c.stations, model.SourceHydrology)
	if err != nil {
		return nil, err
	}
	for i := range readings {
		cat.locate(&readings[i], model.SourceHydrology)
	}
	return readings, nil
}
