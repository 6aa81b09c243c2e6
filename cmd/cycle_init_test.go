package main

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/config"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/resilience"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/summarize"
)

func TestCycleEnv_CloseReverseOrder(t *testing.T) {
	var order []int
	env := &cycleEnv{}
	env.onClose(func() { order = append(order, 1) })
	env.onClose(func() { order = append(order, 2) })
	env.onClose(func() { order = append(order, 3) })

	env.Close()
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestInitSummarizer_TemplateWithoutKey(t *testing.T) {
	cfg = &config.Config{}
	cfg.Detection.Threshold = 3
	cfg.Enrichment.PermitRadiusKM = 1

	s := initSummarizer(resilience.Policy{MaxAttempts: 1})
	_, ok := s.(*summarize.Template)
	assert.True(t, ok, "expected template summarizer, got %T", s)
}

func TestInitSummarizer_FallbackWithKey(t *testing.T) {
	cfg = &config.Config{}
	cfg.Anthropic.Key = "sk-test"
	cfg.Anthropic.Model = "claude-haiku-4-5-20251001"
	cfg.Anthropic.MaxTokens = 1024

	s := initSummarizer(resilience.Policy{MaxAttempts: 1})
	fb, ok := s.(*summarize.Fallback)
	require.True(t, ok, "expected fallback summarizer, got %T", s)
	assert.IsType(t, &summarize.LLM{}, fb.Primary)
	assert.IsType(t, &summarize.Template{}, fb.Secondary)
}

func TestInitIndexer_DisabledReturnsNil(t *testing.T) {
	cfg = &config.Config{}
	ix, err := initIndexer(context.Background(), &cycleEnv{}, nil, resilience.Policy{})
	require.NoError(t, err)
	assert.Nil(t, ix)

	cfg.Vector.Enabled = true
	ix, err = initIndexer(context.Background(), &cycleEnv{}, nil, resilience.Policy{})
	require.NoError(t, err)
	assert.Nil(t, ix, "no embedding endpoint disables indexing")
}

func TestInitIndexer_KeylessEndpointEnabled(t *testing.T) {
	cfg = &config.Config{}
	cfg.Vector.Enabled = true
	cfg.Vector.Dimensions = 768
	cfg.Embedding.BaseURL = "http://localhost:11434/v1"
	cfg.Embedding.Model = "nomic-embed-text"

	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()
	pool.ExpectExec("CREATE EXTENSION IF NOT EXISTS vector").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	pool.ExpectExec("CREATE TABLE IF NOT EXISTS incident_embeddings").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	pool.ExpectExec("CREATE INDEX IF NOT EXISTS idx_incident_embeddings_incident").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	ix, err := newIndexer(context.Background(), pool, resilience.Policy{})
	require.NoError(t, err)
	assert.NotNil(t, ix)
	assert.NoError(t, pool.ExpectationsWereMet())
}
