package similarity

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/resilience"
	"github.com/steve-dickinson/agentic-environmental-intelligence/pkg/embedding"
)

// Indexer embeds incident alert summaries once per incident.
type Indexer struct {
	store    VectorStore
	embedder embedding.Client
	policy   resilience.Policy
	newID    func() string
}

// NewIndexer creates an Indexer. Embedding calls are retried under policy.
func NewIndexer(store VectorStore, embedder embedding.Client, policy resilience.Policy) *Indexer {
	policy.ShouldRetry = retryableEmbedError
	return &Indexer{
		store:    store,
		embedder: embedder,
		policy:   policy.Named("embedding", "embed"),
		newID:    uuid.NewString,
	}
}

// Index stores one embedding per alert summary. It reports false without
// error when the incident has no alerts or already has embeddings.
func (ix *Indexer) Index(ctx context.Context, inc *model.Incident) (bool, error) {
	if len(inc.Alerts) == 0 {
		return false, nil
	}

	n, err := ix.store.CountEmbeddings(ctx, inc.ID)
	if err != nil {
		return false, err
	}
	if n > 0 {
		zap.L().Debug("similarity: already indexed", zap.String("incident_id", inc.ID), zap.Int("rows", n))
		return false, nil
	}

	texts := make([]string, len(inc.Alerts))
	for i, a := range inc.Alerts {
		texts[i] = a.Summary
	}

	vectors, err := resilience.RetryValue(ctx, ix.policy, func(ctx context.Context) ([][]float32, error) {
		return ix.embedder.Embed(ctx, texts)
	})
	if err != nil {
		return false, eris.Wrapf(err, "similarity: embed incident %s", inc.ID)
	}

	rows := make([]Embedding, len(texts))
	for i := range texts {
		rows[i] = Embedding{ID: ix.newID(), IncidentID: inc.ID, Summary: texts[i], Vector: vectors[i]}
	}
	if err := ix.store.InsertEmbeddings(ctx, rows); err != nil {
		return false, err
	}
	return true, nil
}

func retryableEmbedError(err error) bool {
	var se *embedding.StatusError
	if errors.As(err, &se) {
		return resilience.IsTransientHTTPStatus(se.StatusCode)
	}
	return resilience.IsTransient(err)
}
