package model

import "time"

// ClusterDetail summarizes one cluster found during a cycle.
type ClusterDetail struct {
	StationCount int      `json:"station_count"`
	StationIDs   []string `json:"station_ids"`
	CenterLat    float64  `json:"center_lat"`
	CenterLon    float64  `json:"center_lon"`
}

// RunLog records what a single detection cycle did. One per cycle, append-only.
type RunLog struct {
	RunID           string    `json:"run_id"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds float64   `json:"duration_seconds"`

	ReadingsFetched  int            `json:"readings_fetched"`
	ReadingsBySource map[Source]int `json:"readings_by_source"`
	AnomaliesFound   int            `json:"anomalies_found"`
	RecentAnomalies  int            `json:"recent_anomalies"`

	ClustersFound  int             `json:"clusters_found"`
	ClusterDetails []ClusterDetail `json:"cluster_details"`

	IncidentsCreated     int      `json:"incidents_created"`
	IncidentsDuplicate   int      `json:"incidents_duplicate"`
	IncidentIDsCreated   []string `json:"incident_ids_created"`
	IncidentIDsDuplicate []string `json:"incident_ids_duplicate"`

	IndexedCount       int `json:"indexed_count"`
	GraphStoredCount   int `json:"graph_stored_count"`
	SimilaritySearches int `json:"similarity_searches"`

	Errors []string `json:"errors,omitempty"`
}

// RunStats aggregates run logs over a lookback window.
type RunStats struct {
	TotalRuns          int     `json:"total_runs"`
	TotalReadings      int     `json:"total_readings"`
	TotalAnomalies     int     `json:"total_anomalies"`
	TotalClusters      int     `json:"total_clusters"`
	IncidentsCreated   int     `json:"incidents_created"`
	IncidentsDuplicate int     `json:"incidents_duplicate"`
	TotalErrors        int     `json:"total_errors"`
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`
	DuplicateRate      float64 `json:"duplicate_rate"` // percent of resolved incidents that were duplicates
	LookbackDays       int     `json:"lookback_days"`
}
