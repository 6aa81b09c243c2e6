package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Vector     VectorConfig     `yaml:"vector" mapstructure:"vector"`
	Graph      GraphConfig      `yaml:"graph" mapstructure:"graph"`
	Detection  DetectionConfig  `yaml:"detection" mapstructure:"detection"`
	Enrichment EnrichmentConfig `yaml:"enrichment" mapstructure:"enrichment"`
	Feeds      FeedsConfig      `yaml:"feeds" mapstructure:"feeds"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Embedding  EmbeddingConfig  `yaml:"embedding" mapstructure:"embedding"`
	Notify     NotifyConfig     `yaml:"notify" mapstructure:"notify"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the incident document store.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// VectorConfig configures the pgvector similarity index.
type VectorConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"` // falls back to store.database_url
	Dimensions  int    `yaml:"dimensions" mapstructure:"dimensions"`
}

// GraphConfig configures the Neo4j incident graph.
type GraphConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	URI      string `yaml:"uri" mapstructure:"uri"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
}

// DetectionConfig controls anomaly detection, clustering and deduplication.
type DetectionConfig struct {
	Threshold       float64       `yaml:"threshold" mapstructure:"threshold"`
	MaxDistanceKM   float64       `yaml:"max_distance_km" mapstructure:"max_distance_km"`
	MinClusterSize  int           `yaml:"min_cluster_size" mapstructure:"min_cluster_size"`
	RecencyWindow   time.Duration `yaml:"recency_window" mapstructure:"recency_window"`
	DedupWindow     time.Duration `yaml:"dedup_window" mapstructure:"dedup_window"`
	MaxReadings     int           `yaml:"max_readings" mapstructure:"max_readings"`
	ClusterWorkers  int           `yaml:"cluster_workers" mapstructure:"cluster_workers"`
	IncludeRainfall bool          `yaml:"include_rainfall" mapstructure:"include_rainfall"`
}

// EnrichmentConfig controls the permit search around each cluster.
type EnrichmentConfig struct {
	PermitRadiusKM   float64       `yaml:"permit_radius_km" mapstructure:"permit_radius_km"`
	MaxPermits       int           `yaml:"max_permits" mapstructure:"max_permits"`
	BreakerThreshold int           `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerReset     time.Duration `yaml:"breaker_reset" mapstructure:"breaker_reset"`
}

// FeedsConfig holds Environment Agency API endpoints and HTTP tuning.
type FeedsConfig struct {
	FloodBaseURL      string        `yaml:"flood_base_url" mapstructure:"flood_base_url"`
	HydrologyBaseURL  string        `yaml:"hydrology_base_url" mapstructure:"hydrology_base_url"`
	RegistersBaseURL  string        `yaml:"registers_base_url" mapstructure:"registers_base_url"`
	UserAgent         string        `yaml:"user_agent" mapstructure:"user_agent"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	StationPageSize   int           `yaml:"station_page_size" mapstructure:"station_page_size"`
}

// RetryConfig is the retry policy applied to every network collaborator.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	Factor      float64       `yaml:"factor" mapstructure:"factor"`
	Jitter      float64       `yaml:"jitter" mapstructure:"jitter"`
}

// AnthropicConfig holds Anthropic API settings for alert generation.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// EmbeddingConfig holds the embeddings API settings.
type EmbeddingConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// NotifyConfig selects where new incidents are announced.
type NotifyConfig struct {
	Driver       string   `yaml:"driver" mapstructure:"driver"` // none, kafka, nats, webhook
	KafkaBrokers []string `yaml:"kafka_brokers" mapstructure:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic" mapstructure:"kafka_topic"`
	NATSURL      string   `yaml:"nats_url" mapstructure:"nats_url"`
	NATSSubject  string   `yaml:"nats_subject" mapstructure:"nats_subject"`
	WebhookURL   string   `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// ServerConfig configures the read API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// ScheduleConfig configures the watch loop.
type ScheduleConfig struct {
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config.yaml and ENVINTEL_* variables,
// in increasing order of precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ENVINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if cfg.Vector.DatabaseURL == "" {
		cfg.Vector.DatabaseURL = cfg.Store.DatabaseURL
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("vector.enabled", true)
	v.SetDefault("vector.dimensions", 1536)
	v.SetDefault("graph.enabled", false)
	v.SetDefault("graph.uri", "neo4j://localhost:7687")
	v.SetDefault("graph.username", "neo4j")
	v.SetDefault("graph.database", "neo4j")

	v.SetDefault("detection.threshold", 3.0)
	v.SetDefault("detection.max_distance_km", 10.0)
	v.SetDefault("detection.min_cluster_size", 2)
	v.SetDefault("detection.recency_window", "24h")
	v.SetDefault("detection.dedup_window", "24h")
	v.SetDefault("detection.max_readings", 20)
	v.SetDefault("detection.cluster_workers", 1)
	v.SetDefault("detection.include_rainfall", false)

	v.SetDefault("enrichment.permit_radius_km", 1.0)
	v.SetDefault("enrichment.max_permits", 10)
	v.SetDefault("enrichment.breaker_threshold", 5)
	v.SetDefault("enrichment.breaker_reset", "60s")

	v.SetDefault("feeds.flood_base_url", "https://environment.data.gov.uk/flood-monitoring")
	v.SetDefault("feeds.hydrology_base_url", "https://environment.data.gov.uk/hydrology")
	v.SetDefault("feeds.registers_base_url", "https://environment.data.gov.uk/public-register")
	v.SetDefault("feeds.user_agent", "envintel/1.0")
	v.SetDefault("feeds.timeout", "30s")
	v.SetDefault("feeds.requests_per_second", 5.0)
	v.SetDefault("feeds.station_page_size", 1000)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("retry.factor", 2.0)
	v.SetDefault("retry.jitter", 0.25)

	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)

	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.model", "text-embedding-3-small")

	v.SetDefault("notify.driver", "none")
	v.SetDefault("notify.kafka_topic", "incidents")
	v.SetDefault("notify.nats_subject", "envintel.incidents")

	v.SetDefault("server.port", 8080)
	v.SetDefault("schedule.interval", "15m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
