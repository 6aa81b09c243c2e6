// Package notify publishes newly created incidents to downstream consumers.
package notify

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/config"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/detect"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/resilience"
)

// Publisher announces an incident. Duplicates are never published.
type Publisher interface {
	Publish(ctx context.Context, inc *model.Incident) error
	Close() error
}

// Event is the wire form of a published incident.
type Event struct {
	IncidentID  string         `json:"incident_id"`
	ContentHash string         `json:"content_hash"`
	Priority    model.Priority `json:"priority"`
	Summary     string         `json:"summary"`
	StationIDs  []string       `json:"station_ids"`
	Sources     []model.Source `json:"sources"`
	CenterLat   float64        `json:"center_lat"`
	CenterLon   float64        `json:"center_lon"`
	PermitCount int            `json:"permit_count"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewEvent summarises inc for publication.
func NewEvent(inc *model.Incident) Event {
	lat, lon := detect.Center(inc.Readings)

	seen := make(map[model.Source]bool)
	var sources []model.Source
	for _, r := range inc.Readings {
		if r.Source != "" && !seen[r.Source] {
			seen[r.Source] = true
			sources = append(sources, r.Source)
		}
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })

	return Event{
		IncidentID:  inc.ID,
		ContentHash: inc.ContentHash,
		Priority:    inc.Priority(),
		Summary:     inc.Summary(),
		StationIDs:  detect.StationIDs(inc.Readings),
		Sources:     sources,
		CenterLat:   lat,
		CenterLon:   lon,
		PermitCount: len(inc.Permits),
		CreatedAt:   inc.CreatedAt,
	}
}

// Noop discards incidents.
type Noop struct{}

func (Noop) Publish(context.Context, *model.Incident) error { return nil }
func (Noop) Close() error                                   { return nil }

// New builds the publisher selected by cfg.Driver.
func New(cfg config.NotifyConfig, policy resilience.Policy) (Publisher, error) {
	switch cfg.Driver {
	case "", "none":
		return Noop{}, nil
	case "kafka":
		return NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case "nats":
		p, err := NewNATS(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "webhook":
		return NewWebhook(cfg.WebhookURL, nil, policy), nil
	default:
		return nil, eris.Errorf("notify: unknown driver %q", cfg.Driver)
	}
}
