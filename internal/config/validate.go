package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks that the fields required by the given command mode are
// present and in range. Mode is one of cycle, watch, serve, migrate or
// stations.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "cycle", "watch":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateDetection()...)
		errs = append(errs, c.validateNotify()...)
		if c.Graph.Enabled && c.Graph.URI == "" {
			errs = append(errs, "graph.uri is required when graph.enabled is set")
		}
		if c.Vector.Enabled && c.Vector.Dimensions <= 0 {
			errs = append(errs, "vector.dimensions must be > 0")
		}
		if mode == "watch" && c.Schedule.Interval <= 0 {
			errs = append(errs, "schedule.interval must be > 0")
		}
	case "serve":
		errs = append(errs, c.validateStore()...)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "migrate", "stations":
		errs = append(errs, c.validateStore()...)
	default:
		errs = append(errs, fmt.Sprintf("unknown mode %q", mode))
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
	}
	return errs
}

func (c *Config) validateDetection() []string {
	var errs []string
	d := c.Detection
	if d.Threshold <= 0 {
		errs = append(errs, "detection.threshold must be > 0")
	}
	if d.MaxDistanceKM <= 0 {
		errs = append(errs, "detection.max_distance_km must be > 0")
	}
	if d.MinClusterSize < 1 {
		errs = append(errs, "detection.min_cluster_size must be >= 1")
	}
	if d.ClusterWorkers < 1 || d.ClusterWorkers > 32 {
		errs = append(errs, "detection.cluster_workers must be between 1 and 32")
	}
	if d.MaxReadings < 1 {
		errs = append(errs, "detection.max_readings must be >= 1")
	}
	if c.Enrichment.MaxPermits < 0 {
		errs = append(errs, "enrichment.max_permits must be >= 0")
	}
	return errs
}

func (c *Config) validateNotify() []string {
	n := c.Notify
	switch n.Driver {
	case "", "none":
	case "kafka":
		if len(n.KafkaBrokers) == 0 {
			return []string{"notify.kafka_brokers is required for the kafka driver"}
		}
	case "nats":
		if n.NATSURL == "" {
			return []string{"notify.nats_url is required for the nats driver"}
		}
	case "webhook":
		if n.WebhookURL == "" {
			return []string{"notify.webhook_url is required for the webhook driver"}
		}
	default:
		return []string{fmt.Sprintf("notify.driver %q is not supported", n.Driver)}
	}
	return nil
}
