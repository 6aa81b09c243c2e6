// Package graph writes each incident into a Neo4j knowledge graph of
// incidents, stations, readings and permits.
package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/config"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
)

// Statement is one parameterised Cypher statement.
type Statement struct {
	Cypher string
	Params map[string]any
}

var schema = []string{
	"CREATE CONSTRAINT station_id_unique IF NOT EXISTS FOR (s:MonitoringStation) REQUIRE s.station_id IS UNIQUE",
	"CREATE CONSTRAINT incident_id_unique IF NOT EXISTS FOR (i:Incident) REQUIRE i.incident_id IS UNIQUE",
	"CREATE CONSTRAINT permit_id_unique IF NOT EXISTS FOR (p:Permit) REQUIRE p.permit_id IS UNIQUE",
	"CREATE POINT INDEX station_location IF NOT EXISTS FOR (s:MonitoringStation) ON (s.location)",
	"CREATE INDEX incident_timestamp IF NOT EXISTS FOR (i:Incident) ON (i.timestamp)",
	"CREATE INDEX incident_priority IF NOT EXISTS FOR (i:Incident) ON (i.priority)",
	"CREATE INDEX reading_timestamp IF NOT EXISTS FOR (r:Reading) ON (r.timestamp)",
}

const (
	existsCypher = `MATCH (i:Incident {incident_id: $incident_id}) RETURN count(i) AS count`

	incidentCypher = `CREATE (i:Incident {
	incident_id: $incident_id,
	content_hash: $content_hash,
	timestamp: $timestamp,
	priority: $priority,
	summary: $summary,
	created_at: datetime()
})`

	readingCypher = `MERGE (s:MonitoringStation {station_id: $station_id})
ON CREATE SET
	s.lat = $lat,
	s.lon = $lon,
	s.location = point({latitude: $lat, longitude: $lon}),
	s.source = $source,
	s.created_at = datetime()
ON MATCH SET
	s.last_seen = datetime()
WITH s
MATCH (i:Incident {incident_id: $incident_id})
CREATE (r:Reading {value: $value, timestamp: $timestamp, source: $source})
CREATE (i)-[:HAS_READING]->(r)
CREATE (r)-[:AT_STATION]->(s)`

	permitCypher = `MERGE (p:Permit {permit_id: $permit_id})
ON CREATE SET
	p.operator = $operator,
	p.permit_type = $permit_type,
	p.register = $register,
	p.postcode = $postcode,
	p.address = $address,
	p.created_at = datetime()
WITH p
MATCH (i:Incident {incident_id: $incident_id})
MERGE (i)-[r:NEAR_PERMIT]->(p)
ON CREATE SET r.distance_km = $distance_km`
)

// IncidentStatements builds the write transaction for inc. Readings without
// coordinates are left out since stations are located by point.
func IncidentStatements(inc *model.Incident) []Statement {
	priority := string(inc.Priority())
	if priority == "" {
		priority = "unknown"
	}

	stmts := []Statement{{
		Cypher: incidentCypher,
		Params: map[string]any{
			"incident_id":  inc.ID,
			"content_hash": inc.ContentHash,
			"timestamp":    inc.CreatedAt.UTC(),
			"priority":     priority,
			"summary":      inc.Summary(),
		},
	}}

	for _, r := range inc.Readings {
		if !r.HasCoords() {
			continue
		}
		source := string(r.Source)
		if source == "" {
			source = "unknown"
		}
		stmts = append(stmts, Statement{
			Cypher: readingCypher,
			Params: map[string]any{
				"station_id":  r.StationID,
				"lat":         *r.Lat,
				"lon":         *r.Lon,
				"source":      source,
				"incident_id": inc.ID,
				"value":       r.Value,
				"timestamp":   r.Timestamp.UTC(),
			},
		})
	}

	for _, p := range inc.Permits {
		permitType := p.RegistrationType
		if permitType == "" {
			permitType = "unknown"
		}
		var distance any
		if p.DistanceKm != nil {
			distance = *p.DistanceKm
		}
		stmts = append(stmts, Statement{
			Cypher: permitCypher,
			Params: map[string]any{
				"permit_id":   p.PermitID,
				"operator":    p.OperatorName,
				"permit_type": permitType,
				"register":    p.RegisterLabel,
				"postcode":    p.SitePostcode,
				"address":     p.SiteAddress,
				"incident_id": inc.ID,
				"distance_km": distance,
			},
		})
	}
	return stmts
}

// Writer stores incident subgraphs in Neo4j.
type Writer struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewWriter connects to Neo4j and verifies connectivity.
func NewWriter(ctx context.Context, cfg config.GraphConfig) (*Writer, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, eris.Wrap(err, "graph: create driver")
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx) //nolint:errcheck
		return nil, eris.Wrapf(err, "graph: connect %s", cfg.URI)
	}
	return &Writer{driver: driver, database: cfg.Database}, nil
}

// InitSchema creates uniqueness constraints and lookup indexes.
func (w *Writer) InitSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := neo4j.ExecuteQuery(ctx, w.driver, stmt, nil,
			neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(w.database)); err != nil {
			return eris.Wrap(err, "graph: init schema")
		}
	}
	return nil
}

// Store writes inc as one transaction. It returns false without writing
// when an Incident node with the same id already exists.
func (w *Writer) Store(ctx context.Context, inc *model.Incident) (bool, error) {
	res, err := neo4j.ExecuteQuery(ctx, w.driver, existsCypher,
		map[string]any{"incident_id": inc.ID},
		neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(w.database))
	if err != nil {
		return false, eris.Wrapf(err, "graph: check incident %s", inc.ID)
	}
	if existingCount(res.Records) > 0 {
		zap.L().Debug("graph: incident already stored", zap.String("incident_id", inc.ID))
		return false, nil
	}

	session := w.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: w.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx) //nolint:errcheck

	stmts := IncidentStatements(inc)
	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, s := range stmts {
			res, err := tx.Run(ctx, s.Cypher, s.Params)
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return false, eris.Wrapf(err, "graph: store incident %s", inc.ID)
	}
	return true, nil
}

// Close releases the driver.
func (w *Writer) Close(ctx context.Context) error {
	return w.driver.Close(ctx)
}

func existingCount(records []*neo4j.Record) int64 {
	if len(records) == 0 {
		return 0
	}
	v, ok := records[0].Get("count")
	if !ok {
		return 0
	}
	n, _ := v.(int64)
	return n
}
