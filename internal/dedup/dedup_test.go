package dedup

import (
	"math/rand/v2"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
)

func TestNormalizeStationID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "E7050", "E7050"},
		{"measure url", "http://environment.data.gov.uk/flood-monitoring/id/stations/E7050-level-stage-i-15_min-mASD", "E7050"},
		{"https station url", "https://environment.data.gov.uk/hydrology/id/stations/0a3b1c2d", "0a3b1c2d"},
		{"trailing slash", "https://example.org/stations/F1906/", "F1906"},
		{"hyphenated", "1491TH-level-stage-i-15_min-mAOD", "1491TH"},
		{"whitespace", "  L1207 ", "L1207"},
		{"empty", "", ""},
		{"blank", "   ", ""},
		{"leading hyphen", "-abc", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NormalizeStationID(tt.raw))
		})
	}
}

func TestNormalizeStationID_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"E7050", "http://x/y/E7050-level", "https://a/b/", "http://", "a - b", " -x- ",
		"https://host", "3400TH-flow--i-15_min-m3_s", "",
	}
	for _, in := range inputs {
		once := NormalizeStationID(in)
		assert.Equal(t, once, NormalizeStationID(once), "input %q", in)
	}
}

func readings(ids []string, source model.Source) []model.Reading {
	out := make([]model.Reading, len(ids))
	for i, id := range ids {
		out[i] = model.Reading{StationID: id, Source: source, Value: float64(i), Timestamp: time.Unix(int64(i), 0)}
	}
	return out
}

func TestContentHash_KnownValue(t *testing.T) {
	t.Parallel()

	h := ContentHash(readings([]string{"B", "A"}, model.SourceFlood))
	assert.Equal(t, "9d41aba816fe147d", h)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{16}$`), h)
}

func TestContentHash_OrderAndValueInvariant(t *testing.T) {
	t.Parallel()

	base := readings([]string{"A", "B", "C", "http://x/stations/D-level"}, model.SourceFlood)
	want := ContentHash(base)

	shuffled := append([]model.Reading(nil), base...)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	for i := range shuffled {
		shuffled[i].Value = 1000 + float64(i)
		shuffled[i].Timestamp = time.Now().Add(time.Duration(i) * time.Hour)
	}
	assert.Equal(t, want, ContentHash(shuffled))

	// Duplicates and alternate spellings of the same station collapse.
	extra := append(shuffled, model.Reading{StationID: "D-flow-i", Source: model.SourceFlood})
	assert.Equal(t, want, ContentHash(extra))
}

func TestContentHash_SensitiveToStationsAndSources(t *testing.T) {
	t.Parallel()

	flood := ContentHash(readings([]string{"A", "B"}, model.SourceFlood))
	hydro := ContentHash(readings([]string{"A", "B"}, model.SourceHydrology))
	other := ContentHash(readings([]string{"A", "C"}, model.SourceFlood))

	assert.NotEqual(t, flood, hydro)
	assert.NotEqual(t, flood, other)
}

func TestContentHash_EmptyStationIDsExcluded(t *testing.T) {
	t.Parallel()

	with := ContentHash(append(readings([]string{"A", "B"}, model.SourceFlood), model.Reading{StationID: "  ", Source: model.SourceFlood}))
	assert.Equal(t, ContentHash(readings([]string{"A", "B"}, model.SourceFlood)), with)
}
