// Package dedup derives the content fingerprint that identifies a recurring
// incident across polling cycles.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
)

// HashLen is the number of hex characters kept from the digest.
const HashLen = 16

// NormalizeStationID reduces a raw station identifier to its bare station code.
// URLs keep their last path segment, measure ids keep the token before the
// first hyphen, and the result is trimmed:
//
//	http://environment.data.gov.uk/flood-monitoring/id/measures/E7050-level-stage-i-15_min-mASD -> E7050
func NormalizeStationID(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		s = strings.TrimRight(s, "/")
		if i := strings.LastIndex(s, "/"); i >= 0 {
			s = s[i+1:]
		}
	}
	if i := strings.Index(s, "-"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// ContentHash fingerprints the set of normalized stations and sources in
// readings. Timestamps and values never contribute, so the same elevated
// stations seen in a later cycle hash identically.
func ContentHash(readings []model.Reading) string {
	stations := make(map[string]struct{}, len(readings))
	sources := make(map[string]struct{}, 2)
	for _, r := range readings {
		if id := NormalizeStationID(r.StationID); id != "" {
			stations[id] = struct{}{}
		}
		if r.Source != "" {
			sources[string(r.Source)] = struct{}{}
		}
	}

	canonical := `{"sources": ` + jsonList(sortedKeys(sources)) +
		`, "stations": ` + jsonList(sortedKeys(stations)) + `}`

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])[:HashLen]
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// jsonList renders a string list with ", " separators, matching the
// canonical form written by the earlier deployment so existing hashes stay
// comparable.
func jsonList(items []string) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, s := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		enc, _ := json.Marshal(s)
		b.Write(enc)
	}
	b.WriteByte(']')
	return b.String()
}
