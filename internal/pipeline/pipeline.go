// Package pipeline runs detection cycles: fetch the latest sensor readings,
// find anomalies, cluster them and turn each cluster into an incident.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/config"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/detect"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/feeds"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/monitoring"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/notify"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/summarize"
)

// ReadingSource fetches the latest readings for one feed parameter.
type ReadingSource interface {
	FetchLatest(ctx context.Context, parameter string) ([]model.Reading, error)
}

// PermitSearcher finds permits around a British National Grid point.
type PermitSearcher interface {
	PermitsNear(ctx context.Context, easting, northing int, radiusKM float64) ([]model.Permit, error)
}

// Recorder creates incidents, resolving duplicates by content hash.
type Recorder interface {
	Create(ctx context.Context, readings []model.Reading, alerts []model.Alert, permits []model.Permit) (*model.Incident, bool, error)
}

// Indexer writes similarity embeddings for an incident, reporting whether
// anything was written.
type Indexer interface {
	Index(ctx context.Context, inc *model.Incident) (bool, error)
}

// GraphWriter writes an incident subgraph.
type GraphWriter interface {
	Store(ctx context.Context, inc *model.Incident) (bool, error)
}

// RunLogSink persists one run log per cycle.
type RunLogSink interface {
	SaveRunLog(ctx context.Context, log *model.RunLog) error
}

// Deps are the collaborators of a Pipeline. Index, Graph, Notify and Metrics
// are optional.
type Deps struct {
	Flood      ReadingSource
	Hydrology  ReadingSource
	Permits    PermitSearcher
	Summarizer summarize.Summarizer
	Recorder   Recorder
	Index      Indexer
	Graph      GraphWriter
	Notify     notify.Publisher
	RunLogs    RunLogSink
	Metrics    *monitoring.Metrics
	Clock      clockwork.Clock
}

// Pipeline orchestrates a detection cycle.
type Pipeline struct {
	detection  config.DetectionConfig
	enrichment config.EnrichmentConfig
	deps       Deps
	newRunID   func() string
}

// New creates a Pipeline.
func New(detection config.DetectionConfig, enrichment config.EnrichmentConfig, deps Deps) *Pipeline {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Notify == nil {
		deps.Notify = notify.Noop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewMetricsForTesting()
	}
	return &Pipeline{
		detection:  detection,
		enrichment: enrichment,
		deps:       deps,
		newRunID:   uuid.NewString,
	}
}

// Result is the outcome of one cycle.
type Result struct {
	RunLog *model.RunLog

	// Incidents holds created and duplicate incidents in cluster order.
	Incidents []model.Incident

	// Failed counts clusters that produced no incident.
	Failed int
}

// Run executes one cycle. It returns an error only when a required feed
// cannot be fetched; per-cluster failures are recorded in the run log and
// counted in Result.Failed.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := p.deps.Clock.Now()
	runLog := &model.RunLog{
		RunID:            p.newRunID(),
		StartedAt:        start.UTC(),
		ReadingsBySource: make(map[model.Source]int),
	}
	res := &Result{RunLog: runLog}
	log := zap.L().With(zap.String("run_id", runLog.RunID))
	log.Info("pipeline: cycle starting")

	readings, err := p.fetch(ctx, log)
	if err != nil {
		runLog.Errors = append(runLog.Errors, err.Error())
		p.finish(ctx, log, res, start, false)
		return res, err
	}

	runLog.ReadingsFetched = len(readings)
	for _, r := range readings {
		runLog.ReadingsBySource[r.Source]++
	}
	for src, n := range runLog.ReadingsBySource {
		p.deps.Metrics.ReadingsFetched.WithLabelValues(string(src)).Add(float64(n))
	}

	anomalies := detect.Detect(readings, p.detection.Threshold)
	runLog.AnomaliesFound = len(anomalies)
	p.deps.Metrics.Anomalies.Add(float64(len(anomalies)))
	if len(anomalies) == 0 {
		log.Info("pipeline: no anomalies", zap.Int("readings", len(readings)))
		p.finish(ctx, log, res, start, true)
		return res, nil
	}

	recent := detect.FilterRecent(anomalies, p.detection.RecencyWindow, p.deps.Clock.Now())
	runLog.RecentAnomalies = len(recent)

	clusters := detect.Cluster(recent, p.detection.MaxDistanceKM, p.detection.MinClusterSize)
	runLog.ClustersFound = len(clusters)
	p.deps.Metrics.Clusters.Add(float64(len(clusters)))
	for _, c := range clusters {
		lat, lon := detect.Center(c)
		runLog.ClusterDetails = append(runLog.ClusterDetails, model.ClusterDetail{
			StationCount: len(c),
			StationIDs:   detect.StationIDs(c),
			CenterLat:    lat,
			CenterLon:    lon,
		})
	}
	log.Info("pipeline: clusters found",
		zap.Int("anomalies", len(anomalies)),
		zap.Int("recent", len(recent)),
		zap.Int("clusters", len(clusters)),
	)
	if len(clusters) == 0 {
		p.finish(ctx, log, res, start, true)
		return res, nil
	}

	for _, out := range p.processAll(ctx, clusters) {
		p.collect(res, out)
	}

	p.finish(ctx, log, res, start, true)
	return res, nil
}

// fetch pulls flood and hydrology readings concurrently, plus rainfall when
// enabled. Rainfall is optional: its failure is logged and skipped.
func (p *Pipeline) fetch(ctx context.Context, log *zap.Logger) ([]model.Reading, error) {
	var flood, hydrology, rainfall []model.Reading

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		flood, err = p.deps.Flood.FetchLatest(gCtx, feeds.ParameterLevel)
		return eris.Wrap(err, "pipeline: fetch flood")
	})
	g.Go(func() error {
		var err error
		hydrology, err = p.deps.Hydrology.FetchLatest(gCtx, feeds.ObservedWaterLevel)
		return eris.Wrap(err, "pipeline: fetch hydrology")
	})
	if p.detection.IncludeRainfall {
		g.Go(func() error {
			var err error
			rainfall, err = p.deps.Flood.FetchLatest(gCtx, feeds.ParameterRainfall)
			if err != nil && gCtx.Err() == nil {
				log.Warn("pipeline: rainfall fetch failed, continuing without it", zap.Error(err))
				rainfall = nil
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info("pipeline: readings fetched",
		zap.Int("flood", len(flood)),
		zap.Int("hydrology", len(hydrology)),
		zap.Int("rainfall", len(rainfall)),
	)

	all := make([]model.Reading, 0, len(flood)+len(hydrology)+len(rainfall))
	all = append(all, flood...)
	all = append(all, hydrology...)
	all = append(all, rainfall...)
	return all, nil
}

// processAll handles clusters sequentially, or across cluster_workers
// goroutines when configured. Outcomes keep cluster order.
func (p *Pipeline) processAll(ctx context.Context, clusters [][]model.Reading) []clusterOutcome {
	outcomes := make([]clusterOutcome, len(clusters))

	workers := p.detection.ClusterWorkers
	if workers <= 1 {
		for i, c := range clusters {
			outcomes[i] = p.processCluster(ctx, i, c)
		}
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i, c := range clusters {
		g.Go(func() error {
			outcomes[i] = p.processCluster(ctx, i, c)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (p *Pipeline) collect(res *Result, out clusterOutcome) {
	rl := res.RunLog
	rl.Errors = append(rl.Errors, out.errors...)

	if out.incident == nil {
		res.Failed++
		p.deps.Metrics.ClusterFailures.Inc()
		return
	}

	res.Incidents = append(res.Incidents, *out.incident)
	if out.created {
		rl.IncidentsCreated++
		rl.IncidentIDsCreated = append(rl.IncidentIDsCreated, out.incident.ID)
		p.deps.Metrics.Incidents.WithLabelValues("created").Inc()
	} else {
		rl.IncidentsDuplicate++
		rl.IncidentIDsDuplicate = append(rl.IncidentIDsDuplicate, out.incident.ID)
		p.deps.Metrics.Incidents.WithLabelValues("duplicate").Inc()
	}
	if out.indexed {
		rl.IndexedCount++
	}
	if out.graphStored {
		rl.GraphStoredCount++
	}
}

// finish stamps the duration, saves the run log and updates cycle metrics.
// A run log that cannot be saved is logged, not returned.
func (p *Pipeline) finish(ctx context.Context, log *zap.Logger, res *Result, start time.Time, ok bool) {
	rl := res.RunLog
	elapsed := p.deps.Clock.Since(start)
	rl.DurationSeconds = elapsed.Seconds()

	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	p.deps.Metrics.CyclesTotal.WithLabelValues(outcome).Inc()
	p.deps.Metrics.CycleDuration.Observe(elapsed.Seconds())
	p.deps.Metrics.LastCycleUnix.Set(float64(p.deps.Clock.Now().Unix()))

	if p.deps.RunLogs != nil {
		if err := p.deps.RunLogs.SaveRunLog(context.WithoutCancel(ctx), rl); err != nil {
			log.Error("pipeline: save run log failed", zap.Error(err))
		}
	}

	log.Info("pipeline: cycle complete",
		zap.String("outcome", outcome),
		zap.Int("created", rl.IncidentsCreated),
		zap.Int("duplicate", rl.IncidentsDuplicate),
		zap.Int("failed_clusters", res.Failed),
		zap.Int("errors", len(rl.Errors)),
		zap.Duration("duration", elapsed),
	)
}
