// Package store persists incidents, run logs and the station catalog.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = eris.New("store: not found")

// IncidentFilter specifies criteria for listing incidents.
type IncidentFilter struct {
	Since  time.Time `json:"since,omitempty"`
	Limit  int       `json:"limit,omitempty"`
	Offset int       `json:"offset,omitempty"`
}

// Store defines the persistence interface for the incident pipeline.
type Store interface {
	// Incidents
	FindIncidentByHash(ctx context.Context, hash string, since time.Time) (*model.Incident, error)
	InsertIncident(ctx context.Context, inc *model.Incident) error
	GetIncident(ctx context.Context, id string) (*model.Incident, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]model.Incident, error)

	// Run logs
	SaveRunLog(ctx context.Context, log *model.RunLog) error
	GetRunLog(ctx context.Context, runID string) (*model.RunLog, error)
	ListRunLogs(ctx context.Context, limit int) ([]model.RunLog, error)
	RunLogsSince(ctx context.Context, since time.Time) ([]model.RunLog, error)

	// Station catalog
	UpsertStations(ctx context.Context, stations []model.Station) (int64, error)
	GetStations(ctx context.Context, source model.Source) ([]model.Station, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
