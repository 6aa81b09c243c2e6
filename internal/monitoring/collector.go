package monitoring

import (
	"context"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
)

// RunLogQuerier is the slice of the store the collector reads.
type RunLogQuerier interface {
	RunLogsSince(ctx context.Context, since time.Time) ([]model.RunLog, error)
}

// Collector aggregates run logs into operational statistics.
type Collector struct {
	store RunLogQuerier
	clock clockwork.Clock
}

// NewCollector creates a collector. A nil clock uses the wall clock.
func NewCollector(st RunLogQuerier, clock clockwork.Clock) *Collector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Collector{store: st, clock: clock}
}

// Stats totals the run logs started within the last days days. Average
// duration is rounded to 2 decimals and the duplicate rate, a percentage of
// resolved incidents, to 1 decimal.
func (c *Collector) Stats(ctx context.Context, days int) (*model.RunStats, error) {
	if days <= 0 {
		days = 7
	}
	cutoff := c.clock.Now().UTC().AddDate(0, 0, -days)

	logs, err := c.store.RunLogsSince(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: run logs")
	}

	stats := &model.RunStats{LookbackDays: days}
	var duration float64
	for _, l := range logs {
		stats.TotalRuns++
		stats.TotalReadings += l.ReadingsFetched
		stats.TotalAnomalies += l.AnomaliesFound
		stats.TotalClusters += l.ClustersFound
		stats.IncidentsCreated += l.IncidentsCreated
		stats.IncidentsDuplicate += l.IncidentsDuplicate
		stats.TotalErrors += len(l.Errors)
		duration += l.DurationSeconds
	}

	if stats.TotalRuns > 0 {
		stats.AvgDurationSeconds = round(duration/float64(stats.TotalRuns), 2)
	}
	if resolved := stats.IncidentsCreated + stats.IncidentsDuplicate; resolved > 0 {
		stats.DuplicateRate = round(float64(stats.IncidentsDuplicate)/float64(resolved)*100, 1)
	}
	return stats, nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
