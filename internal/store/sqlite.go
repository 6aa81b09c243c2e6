package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
)

// sqliteTime is fixed-width so stored timestamps compare lexically.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS incidents (
	id           TEXT PRIMARY KEY,
	content_hash TEXT NOT NULL,
	priority     TEXT NOT NULL DEFAULT '',
	readings     TEXT NOT NULL,
	alerts       TEXT NOT NULL,
	permits      TEXT NOT NULL,
	created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_incidents_hash_created ON incidents(content_hash, created_at);
CREATE INDEX IF NOT EXISTS idx_incidents_created_at ON incidents(created_at);

CREATE TABLE IF NOT EXISTS run_logs (
	run_id           TEXT PRIMARY KEY,
	started_at       TEXT NOT NULL,
	duration_seconds REAL NOT NULL DEFAULT 0,
	data             TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_logs_started_at ON run_logs(started_at);

CREATE TABLE IF NOT EXISTS stations (
	source     TEXT NOT NULL,
	station_id TEXT NOT NULL,
	label      TEXT NOT NULL DEFAULT '',
	lat        REAL,
	lon        REAL,
	easting    INTEGER,
	northing   INTEGER,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (source, station_id)
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTime, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse time %q", s)
	}
	return t, nil
}

func (s *SQLiteStore) FindIncidentByHash(ctx context.Context, hash string, since time.Time) (*model.Incident, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+incidentColumns+` FROM incidents
		 WHERE content_hash = ? AND created_at >= ?
		 ORDER BY created_at DESC LIMIT 1`,
		hash, formatTime(since),
	)
	inc, err := scanSQLiteIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find incident by hash %s", hash)
	}
	return inc, nil
}

func (s *SQLiteStore) InsertIncident(ctx context.Context, inc *model.Incident) error {
	readings, alerts, permits, err := marshalIncident(inc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO incidents (id, content_hash, priority, readings, alerts, permits, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inc.ID, inc.ContentHash, string(inc.Priority()), string(readings), string(alerts), string(permits), formatTime(inc.CreatedAt),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert incident %s", inc.ID)
	}
	return nil
}

func (s *SQLiteStore) GetIncident(ctx context.Context, id string) (*model.Incident, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, id)
	inc, err := scanSQLiteIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: incident %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get incident %s", id)
	}
	return inc, nil
}

func (s *SQLiteStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]model.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	var args []any

	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, formatTime(filter.Since))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list incidents")
	}
	defer rows.Close()

	var out []model.Incident
	for rows.Next() {
		inc, err := scanSQLiteIncident(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan incident")
		}
		out = append(out, *inc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list incidents iterate")
}

func (s *SQLiteStore) SaveRunLog(ctx context.Context, log *model.RunLog) error {
	data, err := json.Marshal(log)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run log")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_logs (run_id, started_at, duration_seconds, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT (run_id) DO UPDATE SET started_at = excluded.started_at, duration_seconds = excluded.duration_seconds, data = excluded.data`,
		log.RunID, formatTime(log.StartedAt), log.DurationSeconds, string(data),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save run log %s", log.RunID)
	}
	return nil
}

func (s *SQLiteStore) GetRunLog(ctx context.Context, runID string) (*model.RunLog, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM run_logs WHERE run_id = ?`, runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: run log %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run log %s", runID)
	}
	return unmarshalRunLog([]byte(data))
}

func (s *SQLiteStore) ListRunLogs(ctx context.Context, limit int) ([]model.RunLog, error) {
	return s.queryRunLogs(ctx, `SELECT data FROM run_logs ORDER BY started_at DESC LIMIT ?`, listLimit(limit))
}

func (s *SQLiteStore) RunLogsSince(ctx context.Context, since time.Time) ([]model.RunLog, error) {
	return s.queryRunLogs(ctx, `SELECT data FROM run_logs WHERE started_at >= ? ORDER BY started_at DESC`, formatTime(since))
}

func (s *SQLiteStore) queryRunLogs(ctx context.Context, query string, args ...any) ([]model.RunLog, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list run logs")
	}
	defer rows.Close()

	var out []model.RunLog
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run log")
		}
		log, err := unmarshalRunLog([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, *log)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list run logs iterate")
}

// UpsertStations writes the batch in a single transaction.
func (s *SQLiteStore) UpsertStations(ctx context.Context, stations []model.Station) (int64, error) {
	if len(stations) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin station upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO stations (source, station_id, label, lat, lon, easting, northing, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (source, station_id) DO UPDATE SET
		   label = excluded.label, lat = excluded.lat, lon = excluded.lon,
		   easting = excluded.easting, northing = excluded.northing, updated_at = excluded.updated_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare station upsert")
	}
	defer stmt.Close()

	var n int64
	for _, st := range stations {
		res, err := stmt.ExecContext(ctx,
			string(st.Source), st.StationID, st.Label,
			nullFloat(st.Lat), nullFloat(st.Lon), nullInt(st.Easting), nullInt(st.Northing),
			formatTime(st.UpdatedAt),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert station %s", st.Key())
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit station upsert")
	}
	return n, nil
}

func (s *SQLiteStore) GetStations(ctx context.Context, source model.Source) ([]model.Station, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, station_id, label, lat, lon, easting, northing, updated_at FROM stations WHERE source = ?`,
		string(source),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get %s stations", source)
	}
	defer rows.Close()

	var out []model.Station
	for rows.Next() {
		var (
			st                model.Station
			src, updated      string
			lat, lon          sql.NullFloat64
			easting, northing sql.NullInt64
		)
		if err := rows.Scan(&src, &st.StationID, &st.Label, &lat, &lon, &easting, &northing, &updated); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan station")
		}
		st.Source = model.Source(src)
		if lat.Valid {
			st.Lat = model.Float(lat.Float64)
		}
		if lon.Valid {
			st.Lon = model.Float(lon.Float64)
		}
		if easting.Valid {
			st.Easting = model.Int(int(easting.Int64))
		}
		if northing.Valid {
			st.Northing = model.Int(int(northing.Int64))
		}
		if st.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: get stations iterate")
}

func scanSQLiteIncident(row scannable) (*model.Incident, error) {
	var (
		inc                       model.Incident
		readings, alerts, permits string
		created                   string
	)
	if err := row.Scan(&inc.ID, &inc.ContentHash, &readings, &alerts, &permits, &created); err != nil {
		return nil, err
	}
	if err := unmarshalIncident(&inc, []byte(readings), []byte(alerts), []byte(permits)); err != nil {
		return nil, err
	}
	t, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	inc.CreatedAt = t
	return &inc, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
