package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/db"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const incidentColumns = `id, content_hash, readings, alerts, permits, created_at`

// queries holds the per-cluster hot-path statements. pgx caches their
// prepared forms per connection.
var queries = map[string]string{
	"find_incident_by_hash": `SELECT ` + incidentColumns + ` FROM incidents WHERE content_hash = $1 AND created_at >= $2 ORDER BY created_at DESC LIMIT 1`,
	"insert_incident":       `INSERT INTO incidents (id, content_hash, priority, readings, alerts, permits, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"get_incident":          `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pool, err := NewPool(ctx, connString, poolCfg)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPool opens a tuned pgx pool. The similarity index shares it when it
// lives in the same database.
func NewPool(ctx context.Context, connString string, poolCfg *PoolConfig) (*pgxpool.Pool, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return pool, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS incidents (
	id           TEXT PRIMARY KEY,
	content_hash TEXT NOT NULL,
	priority     TEXT NOT NULL DEFAULT '',
	readings     JSONB NOT NULL,
	alerts       JSONB NOT NULL,
	permits      JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_incidents_hash_created ON incidents(content_hash, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_incidents_created_at ON incidents(created_at DESC);

CREATE TABLE IF NOT EXISTS run_logs (
	run_id           TEXT PRIMARY KEY,
	started_at       TIMESTAMPTZ NOT NULL,
	duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
	data             JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_logs_started_at ON run_logs(started_at DESC);

CREATE TABLE IF NOT EXISTS stations (
	source     TEXT NOT NULL,
	station_id TEXT NOT NULL,
	label      TEXT NOT NULL DEFAULT '',
	lat        DOUBLE PRECISION,
	lon        DOUBLE PRECISION,
	easting    INTEGER,
	northing   INTEGER,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (source, station_id)
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// FindIncidentByHash returns the newest incident with hash created at or
// after since, or nil when there is none.
func (s *PostgresStore) FindIncidentByHash(ctx context.Context, hash string, since time.Time) (*model.Incident, error) {
	row := s.pool.QueryRow(ctx, queries["find_incident_by_hash"], hash, since.UTC())
	inc, err := scanIncident(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find incident by hash %s", hash)
	}
	return inc, nil
}

func (s *PostgresStore) InsertIncident(ctx context.Context, inc *model.Incident) error {
	readings, alerts, permits, err := marshalIncident(inc)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, queries["insert_incident"],
		inc.ID, inc.ContentHash, string(inc.Priority()), readings, alerts, permits, inc.CreatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert incident %s", inc.ID)
	}
	return nil
}

func (s *PostgresStore) GetIncident(ctx context.Context, id string) (*model.Incident, error) {
	inc, err := scanIncident(s.pool.QueryRow(ctx, queries["get_incident"], id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: incident %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get incident %s", id)
	}
	return inc, nil
}

func (s *PostgresStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]model.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE true`
	args := []any{}
	argIdx := 1

	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list incidents")
	}
	defer rows.Close()

	var out []model.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan incident")
		}
		out = append(out, *inc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list incidents iterate")
}

// SaveRunLog upserts by run id.
func (s *PostgresStore) SaveRunLog(ctx context.Context, log *model.RunLog) error {
	data, err := json.Marshal(log)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run log")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO run_logs (run_id, started_at, duration_seconds, data) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (run_id) DO UPDATE SET started_at = EXCLUDED.started_at, duration_seconds = EXCLUDED.duration_seconds, data = EXCLUDED.data`,
		log.RunID, log.StartedAt.UTC(), log.DurationSeconds, data,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save run log %s", log.RunID)
	}
	return nil
}

func (s *PostgresStore) GetRunLog(ctx context.Context, runID string) (*model.RunLog, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM run_logs WHERE run_id = $1`, runID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: run log %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run log %s", runID)
	}
	return unmarshalRunLog(data)
}

func (s *PostgresStore) ListRunLogs(ctx context.Context, limit int) ([]model.RunLog, error) {
	return s.queryRunLogs(ctx, `SELECT data FROM run_logs ORDER BY started_at DESC LIMIT $1`, listLimit(limit))
}

func (s *PostgresStore) RunLogsSince(ctx context.Context, since time.Time) ([]model.RunLog, error) {
	return s.queryRunLogs(ctx, `SELECT data FROM run_logs WHERE started_at >= $1 ORDER BY started_at DESC`, since.UTC())
}

func (s *PostgresStore) queryRunLogs(ctx context.Context, query string, args ...any) ([]model.RunLog, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list run logs")
	}
	defer rows.Close()

	var out []model.RunLog
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run log")
		}
		log, err := unmarshalRunLog(data)
		if err != nil {
			return nil, err
		}
		out = append(out, *log)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list run logs iterate")
}

var stationUpsert = db.UpsertConfig{
	Table:        "stations",
	Columns:      []string{"source", "station_id", "label", "lat", "lon", "easting", "northing", "updated_at"},
	ConflictKeys: []string{"source", "station_id"},
}

// UpsertStations bulk-loads catalog stations through a COPY staging table.
func (s *PostgresStore) UpsertStations(ctx context.Context, stations []model.Station) (int64, error) {
	rows := make([][]any, 0, len(stations))
	for _, st := range stations {
		rows = append(rows, []any{
			string(st.Source), st.StationID, st.Label, st.Lat, st.Lon, st.Easting, st.Northing, st.UpdatedAt.UTC(),
		})
	}
	n, err := db.BulkUpsert(ctx, s.pool, stationUpsert, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert stations")
	}
	return n, nil
}

func (s *PostgresStore) GetStations(ctx context.Context, source model.Source) ([]model.Station, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source, station_id, label, lat, lon, easting, northing, updated_at FROM stations WHERE source = $1`,
		string(source),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get %s stations", source)
	}
	defer rows.Close()

	var out []model.Station
	for rows.Next() {
		var (
			st                model.Station
			src               string
			easting, northing *int32
		)
		if err := rows.Scan(&src, &st.StationID, &st.Label, &st.Lat, &st.Lon, &easting, &northing, &st.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan station")
		}
		st.Source = model.Source(src)
		st.Easting = intPtr(easting)
		st.Northing = intPtr(northing)
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "postgres: get stations iterate")
}

func intPtr(v *int32) *int {
	if v == nil {
		return nil
	}
	return model.Int(int(*v))
}

type scannable interface {
	Scan(dest ...any) error
}

func scanIncident(row scannable) (*model.Incident, error) {
	var (
		inc                       model.Incident
		readings, alerts, permits []byte
	)
	if err := row.Scan(&inc.ID, &inc.ContentHash, &readings, &alerts, &permits, &inc.CreatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalIncident(&inc, readings, alerts, permits); err != nil {
		return nil, err
	}
	inc.CreatedAt = inc.CreatedAt.UTC()
	return &inc, nil
}

func marshalIncident(inc *model.Incident) (readings, alerts, permits []byte, err error) {
	if readings, err = json.Marshal(nonNil(inc.Readings)); err != nil {
		return nil, nil, nil, eris.Wrap(err, "store: marshal readings")
	}
	if alerts, err = json.Marshal(nonNil(inc.Alerts)); err != nil {
		return nil, nil, nil, eris.Wrap(err, "store: marshal alerts")
	}
	if permits, err = json.Marshal(nonNil(inc.Permits)); err != nil {
		return nil, nil, nil, eris.Wrap(err, "store: marshal permits")
	}
	return readings, alerts, permits, nil
}

func unmarshalIncident(inc *model.Incident, readings, alerts, permits []byte) error {
	if err := json.Unmarshal(readings, &inc.Readings); err != nil {
		return eris.Wrap(err, "store: unmarshal readings")
	}
	if err := json.Unmarshal(alerts, &inc.Alerts); err != nil {
		return eris.Wrap(err, "store: unmarshal alerts")
	}
	if err := json.Unmarshal(permits, &inc.Permits); err != nil {
		return eris.Wrap(err, "store: unmarshal permits")
	}
	return nil
}

func unmarshalRunLog(data []byte) (*model.RunLog, error) {
	var log model.RunLog
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal run log")
	}
	return &log, nil
}

// nonNil keeps empty collections as [] rather than null in stored JSON.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
