package feeds

import (
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/dedup"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
)

// catalogFile is the on-disk station seed format:
//
//	stations:
//	  - source: flood
//	    station_id: "1029TH"
//	    label: Bourton Dickler
//	    lat: 51.874767
//	    lon: -1.740083
//	    easting: 417650
//	    northing: 219440
type catalogFile struct {
	Stations []model.Station `yaml:"stations"`
}

// LoadCatalogFile reads a YAML station seed file.
func LoadCatalogFile(path string) ([]model.Station, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "feeds: open catalog %s", path)
	}
	defer f.Close() //nolint:errcheck

	return ParseCatalog(f, time.Now().UTC())
}

// ParseCatalog decodes a YAML station seed. Station ids are normalized and
// every entry must name a known source.
func ParseCatalog(r io.Reader, now time.Time) ([]model.Station, error) {
	var doc catalogFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, eris.Wrap(err, "feeds: decode catalog")
	}

	out := make([]model.Station, 0, len(doc.Stations))
	for i, st := range doc.Stations {
		src, ok := model.ParseSource(string(st.Source))
		if !ok {
			return nil, eris.Errorf("feeds: catalog entry %d: unknown source %q", i, st.Source)
		}
		id := dedup.NormalizeStationID(st.StationID)
		if id == "" {
			return nil, eris.Errorf("feeds: catalog entry %d: station_id is required", i)
		}
		st.Source = src
		st.StationID = id
		st.UpdatedAt = now
		out = append(out, st)
	}
	return out, nil
}
