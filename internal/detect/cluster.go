package detect

import (
	"sort"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/geo"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
)

// Cluster groups anomalies into proximity clusters using greedy seed-and-grow.
//
// Candidates are visited in input order. Each unclaimed candidate seeds a new
// cluster and every later unclaimed candidate within maxDistanceKM of the seed
// joins it. Membership is measured against the seed only, so clusters are not
// transitive. The seed and its members are claimed whether or not the cluster
// reaches minSize, so an undersized cluster permanently drops its members.
// Readings without lat/lon never take part. Kept clusters are returned
// largest first; ties keep discovery order.
func Cluster(anomalies []model.Reading, maxDistanceKM float64, minSize int) [][]model.Reading {
	candidates := make([]model.Reading, 0, len(anomalies))
	for _, r := range anomalies {
		if r.HasCoords() {
			candidates = append(candidates, r)
		}
	}

	used := make([]bool, len(candidates))
	var clusters [][]model.Reading

	for i, seed := range candidates {
		if used[i] {
			continue
		}
		used[i] = true
		members := []model.Reading{seed}

		for j := i + 1; j < len(candidates); j++ {
			if used[j] {
				continue
			}
			c := candidates[j]
			if geo.Distance(*seed.Lat, *seed.Lon, *c.Lat, *c.Lon) <= maxDistanceKM {
				members = append(members, c)
				used[j] = true
			}
		}

		if len(members) >= minSize {
			clusters = append(clusters, members)
		}
	}

	sort.SliceStable(clusters, func(a, b int) bool {
		return len(clusters[a]) > len(clusters[b])
	})
	return clusters
}

// Center returns the mean lat/lon of the members that carry coordinates, or
// (0, 0) when none do.
func Center(cluster []model.Reading) (lat, lon float64) {
	var n int
	for _, r := range cluster {
		if !r.HasCoords() {
			continue
		}
		lat += *r.Lat
		lon += *r.Lon
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return lat / float64(n), lon / float64(n)
}

// Anchor returns the first member with both easting and northing. Permit
// search is centred on it.
func Anchor(cluster []model.Reading) (easting, northing int, ok bool) {
	for _, r := range cluster {
		if r.HasGridRef() {
			return *r.Easting, *r.Northing, true
		}
	}
	return 0, 0, false
}

// StationIDs lists member station ids in cluster order.
func StationIDs(cluster []model.Reading) []string {
	ids := make([]string, len(cluster))
	for i, r := range cluster {
		ids[i] = r.StationID
	}
	return ids
}
