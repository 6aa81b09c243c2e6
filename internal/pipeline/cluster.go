package pipeline

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/dedup"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/detect"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
)

type clusterOutcome struct {
	incident    *model.Incident
	created     bool
	indexed     bool
	graphStored bool
	errors      []string
}

func (o *clusterOutcome) fail(format string, args ...any) {
	o.errors = append(o.errors, fmt.Sprintf(format, args...))
}

var errNoAlerts = eris.New("summarizer returned no alerts")

// processCluster runs enrich, summarize, store, then the side effects for
// one cluster. Enrichment and side-effect failures degrade; summarize and
// store failures abandon the cluster. A panic is recorded as an error and
// keeps any incident already stored.
func (p *Pipeline) processCluster(ctx context.Context, idx int, cluster []model.Reading) (out clusterOutcome) {
	stored := cluster
	if n := p.detection.MaxReadings; n > 0 && len(stored) > n {
		stored = stored[:n]
	}
	log := zap.L().With(zap.Int("cluster", idx), zap.String("content_hash", dedup.ContentHash(stored)))

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline: cluster panicked", zap.Any("panic", r))
			out.fail("cluster %d: panic: %v", idx, r)
		}
	}()

	permits := p.enrich(ctx, log, cluster, &out, idx)

	alerts, err := p.deps.Summarizer.Summarize(ctx, cluster, permits)
	if err == nil && len(alerts) == 0 {
		err = errNoAlerts
	}
	if err != nil {
		log.Error("pipeline: summarize failed", zap.Error(err))
		out.fail("cluster %d: summarize: %v", idx, err)
		return out
	}

	inc, created, err := p.deps.Recorder.Create(ctx, stored, alerts, permits)
	if err != nil {
		log.Error("pipeline: store incident failed", zap.Error(err))
		out.fail("cluster %d: store: %v", idx, err)
		return out
	}
	out.incident = inc
	out.created = created
	log = log.With(zap.String("incident_id", inc.ID), zap.Bool("created", created))

	if p.deps.Index != nil {
		indexed, err := p.deps.Index.Index(ctx, inc)
		if err != nil {
			log.Warn("pipeline: index failed", zap.Error(err))
			out.fail("cluster %d: index %s: %v", idx, inc.ID, err)
			p.deps.Metrics.StageFailures.WithLabelValues("index").Inc()
		}
		out.indexed = indexed
	}

	if p.deps.Graph != nil {
		ok, err := p.deps.Graph.Store(ctx, inc)
		if err != nil {
			log.Warn("pipeline: graph store failed", zap.Error(err))
			out.fail("cluster %d: graph %s: %v", idx, inc.ID, err)
			p.deps.Metrics.StageFailures.WithLabelValues("graph").Inc()
		}
		out.graphStored = ok
	}

	if created {
		if err := p.deps.Notify.Publish(ctx, inc); err != nil {
			log.Warn("pipeline: notify failed", zap.Error(err))
			out.fail("cluster %d: notify %s: %v", idx, inc.ID, err)
			p.deps.Metrics.StageFailures.WithLabelValues("notify").Inc()
		}
	}

	log.Info("pipeline: cluster resolved",
		zap.Int("readings", len(stored)),
		zap.Int("permits", len(permits)),
		zap.String("priority", string(inc.Priority())),
	)
	return out
}

// enrich searches for permits around the cluster anchor. Any failure, or a
// cluster without grid references, yields no permits.
func (p *Pipeline) enrich(ctx context.Context, log *zap.Logger, cluster []model.Reading, out *clusterOutcome, idx int) []model.Permit {
	if p.deps.Permits == nil {
		return []model.Permit{}
	}
	easting, northing, ok := detect.Anchor(cluster)
	if !ok {
		log.Debug("pipeline: no grid reference, skipping permit search")
		return []model.Permit{}
	}

	permits, err := p.deps.Permits.PermitsNear(ctx, easting, northing, p.enrichment.PermitRadiusKM)
	if err != nil {
		log.Warn("pipeline: permit search failed, continuing without permits",
			zap.Int("easting", easting),
			zap.Int("northing", northing),
			zap.Error(err),
		)
		out.fail("cluster %d: enrich: %v", idx, err)
		p.deps.Metrics.StageFailures.WithLabelValues("enrich").Inc()
		return []model.Permit{}
	}
	if n := p.enrichment.MaxPermits; n > 0 && len(permits) > n {
		permits = permits[:n]
	}
	if permits == nil {
		permits = []model.Permit{}
	}
	return permits
}
