// Package similarity writes incident alert embeddings to a pgvector table.
package similarity

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	"github.com/rotisserie/eris"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/db"
)

// Embedding is one stored alert vector.
type Embedding struct {
	ID         string
	IncidentID string
	Summary    string
	Vector     []float32
}

// VectorStore is the embedding table the indexer writes to.
type VectorStore interface {
	CountEmbeddings(ctx context.Context, incidentID string) (int, error)
	InsertEmbeddings(ctx context.Context, rows []Embedding) error
}

// PgVectorStore stores embeddings in Postgres with the vector extension.
type PgVectorStore struct {
	pool       db.Pool
	dimensions int
}

// NewPgVectorStore creates a store over pool. dimensions sizes the vector column.
func NewPgVectorStore(pool db.Pool, dimensions int) *PgVectorStore {
	return &PgVectorStore{pool: pool, dimensions: dimensions}
}

// Migrate creates the extension, table and lookup index.
func (s *PgVectorStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS incident_embeddings (
	id          UUID PRIMARY KEY,
	incident_id TEXT NOT NULL,
	summary     TEXT NOT NULL,
	embedding   vector(%d) NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.dimensions),
		`CREATE INDEX IF NOT EXISTS idx_incident_embeddings_incident ON incident_embeddings(incident_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return eris.Wrap(err, "similarity: migrate")
		}
	}
	return nil
}

func (s *PgVectorStore) CountEmbeddings(ctx context.Context, incidentID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM incident_embeddings WHERE incident_id = $1`, incidentID).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "similarity: count embeddings for %s", incidentID)
	}
	return n, nil
}

// InsertEmbeddings writes rows in one transaction.
func (s *PgVectorStore) InsertEmbeddings(ctx context.Context, rows []Embedding) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "similarity: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, r := range rows {
		if err := insertEmbedding(ctx, tx, r); err != nil {
			return err
		}
	}
	return eris.Wrap(tx.Commit(ctx), "similarity: commit")
}

func insertEmbedding(ctx context.Context, tx pgx.Tx, r Embedding) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO incident_embeddings (id, incident_id, summary, embedding) VALUES ($1, $2, $3, $4)`,
		r.ID, r.IncidentID, r.Summary, pgvector.NewVector(r.Vector),
	)
	return eris.Wrapf(err, "similarity: insert embedding for %s", r.IncidentID)
}
