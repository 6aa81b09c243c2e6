package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/db"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/feeds"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/fetcher"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/graph"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/incident"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/monitoring"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/notify"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/pipeline"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/resilience"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/similarity"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/store"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/summarize"
	anthropicpkg "github.com/steve-dickinson/agentic-environmental-intelligence/pkg/anthropic"
	"github.com/steve-dickinson/agentic-environmental-intelligence/pkg/embedding"
)

// cycleEnv holds everything the cycle and watch commands need.
type cycleEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Metrics  *monitoring.Metrics
	closers  []func()
}

// Close releases resources in reverse order of acquisition.
func (e *cycleEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func (e *cycleEnv) onClose(fn func()) {
	e.closers = append(e.closers, fn)
}

// initCycle wires stores, feed clients, summarizers and side-effect writers
// into a Pipeline. Callers should defer env.Close().
func initCycle(ctx context.Context, mode string, reg prometheus.Registerer) (*cycleEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &cycleEnv{Store: st, Metrics: monitoring.NewMetrics(reg)}
	env.onClose(func() { _ = st.Close() })

	policy := resilience.PolicyFromConfig(cfg.Retry)
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:         cfg.Feeds.UserAgent,
		Timeout:           cfg.Feeds.Timeout,
		Policy:            policy,
		RequestsPerSecond: cfg.Feeds.RequestsPerSecond,
	})
	breaker := resilience.NewCircuitBreaker(resilience.BreakerFromConfig(
		cfg.Enrichment.BreakerThreshold, cfg.Enrichment.BreakerReset))

	deps := pipeline.Deps{
		Flood:      feeds.NewFloodClient(f, cfg.Feeds.FloodBaseURL, st),
		Hydrology:  feeds.NewHydrologyClient(f, cfg.Feeds.HydrologyBaseURL, st),
		Permits:    feeds.NewRegisterClient(f, cfg.Feeds.RegistersBaseURL, breaker, cfg.Enrichment.MaxPermits),
		Summarizer: initSummarizer(policy),
		Recorder:   incident.NewRecorder(st, incident.WithWindow(cfg.Detection.DedupWindow)),
		RunLogs:    st,
		Metrics:    env.Metrics,
	}

	if ix, err := initIndexer(ctx, env, st, policy); err != nil {
		zap.L().Warn("similarity index unavailable, skipping indexing", zap.Error(err))
	} else if ix != nil {
		deps.Index = ix
	}

	if cfg.Graph.Enabled {
		w, err := graph.NewWriter(ctx, cfg.Graph)
		if err != nil {
			zap.L().Warn("graph store unavailable, skipping graph writes", zap.Error(err))
		} else {
			if err := w.InitSchema(ctx); err != nil {
				zap.L().Warn("graph schema init failed", zap.Error(err))
			}
			deps.Graph = w
			env.onClose(func() { _ = w.Close(context.Background()) })
		}
	}

	pub, err := notify.New(cfg.Notify, policy)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init notify")
	}
	deps.Notify = pub
	env.onClose(func() { _ = pub.Close() })

	env.Pipeline = pipeline.New(cfg.Detection, cfg.Enrichment, deps)
	return env, nil
}

// initSummarizer prefers the LLM with the template as fallback, or the
// template alone when no Anthropic key is configured.
func initSummarizer(policy resilience.Policy) summarize.Summarizer {
	tmpl := summarize.NewTemplate(cfg.Detection.Threshold, cfg.Enrichment.PermitRadiusKM)
	if cfg.Anthropic.Key == "" {
		zap.L().Debug("ENVINTEL_ANTHROPIC_KEY not set, using template alerts")
		return tmpl
	}
	llm := summarize.NewLLM(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model, cfg.Anthropic.MaxTokens, policy)
	return &summarize.Fallback{Primary: llm, Secondary: tmpl}
}

// initIndexer returns nil when vector indexing is disabled or unusable with
// the configured store.
func initIndexer(ctx context.Context, env *cycleEnv, st store.Store, policy resilience.Policy) (*similarity.Indexer, error) {
	if !cfg.Vector.Enabled {
		return nil, nil
	}
	if cfg.Embedding.BaseURL == "" {
		zap.L().Debug("embedding.base_url not set, similarity indexing disabled")
		return nil, nil
	}

	var pool db.Pool
	if ps, ok := st.(*store.PostgresStore); ok && cfg.Vector.DatabaseURL == cfg.Store.DatabaseURL {
		pool = ps.Pool()
	} else {
		if cfg.Vector.DatabaseURL == "" {
			return nil, nil
		}
		p, err := store.NewPool(ctx, cfg.Vector.DatabaseURL, nil)
		if err != nil {
			return nil, err
		}
		env.onClose(p.Close)
		pool = p
	}
	return newIndexer(ctx, pool, policy)
}

// newIndexer migrates the embeddings table on pool and builds an Indexer
// against the configured embeddings endpoint. The API key is optional.
func newIndexer(ctx context.Context, pool db.Pool, policy resilience.Policy) (*similarity.Indexer, error) {
	vs := similarity.NewPgVectorStore(pool, cfg.Vector.Dimensions)
	if err := vs.Migrate(ctx); err != nil {
		return nil, err
	}

	embedder := embedding.NewClient(cfg.Embedding.Key,
		embedding.WithBaseURL(cfg.Embedding.BaseURL),
		embedding.WithModel(cfg.Embedding.Model),
		embedding.WithDimensions(cfg.Vector.Dimensions),
	)
	return similarity.NewIndexer(vs, embedder, policy), nil
}
