// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/wiki-character-crawler/internal/crawler"
)

// Storage backends for the page archive.
const (
	StorageNone   = "none"
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Config captures every knob of a crawl run.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	DB       DBConfig       `mapstructure:"db"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Progress ProgressConfig `mapstructure:"progress"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig controls the ops HTTP server. An empty Addr disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// CrawlerConfig governs the crawl pipeline and its politeness.
type CrawlerConfig struct {
	ListingURL        string  `mapstructure:"listing_url"`
	BaseURL           string  `mapstructure:"base_url"`
	UserAgent         string  `mapstructure:"user_agent"`
	Concurrency       int     `mapstructure:"concurrency"`
	MaxInFlight       int     `mapstructure:"max_in_flight"`
	QueueDepth        int     `mapstructure:"queue_depth"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	DelayMs           int     `mapstructure:"delay_ms"`
	IgnoreRobots      bool    `mapstructure:"ignore_robots"`
	MaxRecords        int     `mapstructure:"max_records"`
}

// HTTPConfig configures the fetch client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// DBConfig controls access to Postgres. An empty DSN selects the in-memory
// store (dry run).
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
	// RecordRuns persists run history to the crawl_runs table.
	RecordRuns bool `mapstructure:"record_runs"`
}

// StorageConfig selects where fetched pages are archived.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds the upsert notification target. An empty TopicName
// disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ProgressConfig sizes the progress event hub.
type ProgressConfig struct {
	BufferSize     int  `mapstructure:"buffer_size"`
	MaxBatchEvents int  `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int  `mapstructure:"max_batch_wait_ms"`
	LogEvents      bool `mapstructure:"log_events"`
}

// TracingConfig controls OpenTelemetry span recording.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "")
	v.SetDefault("crawler.listing_url", crawler.DefaultListingURL)
	v.SetDefault("crawler.base_url", crawler.DefaultBaseURL)
	v.SetDefault("crawler.user_agent", "wiki-character-crawler/0.1")
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.max_in_flight", 8)
	v.SetDefault("crawler.queue_depth", 32)
	v.SetDefault("crawler.requests_per_second", 2.0)
	v.SetDefault("crawler.burst", 2)
	v.SetDefault("crawler.delay_ms", 250)
	v.SetDefault("crawler.ignore_robots", false)
	v.SetDefault("crawler.max_records", 0)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "characters")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_seconds", 1800)
	v.SetDefault("db.record_runs", true)
	v.SetDefault("storage.backend", StorageNone)
	v.SetDefault("storage.local_dir", "pages")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait_ms", 1000)
	v.SetDefault("progress.log_events", false)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "charcrawler")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.MaxInFlight <= 0 {
		return fmt.Errorf("crawler.max_in_flight must be > 0")
	}
	if c.Crawler.QueueDepth < 2*c.Crawler.MaxInFlight {
		return fmt.Errorf("crawler.queue_depth (%d) must be >= 2*crawler.max_in_flight (%d)",
			c.Crawler.QueueDepth, 2*c.Crawler.MaxInFlight)
	}
	if c.Crawler.RequestsPerSecond < 0 || c.Crawler.Burst < 0 || c.Crawler.DelayMs < 0 {
		return fmt.Errorf("crawler.requests_per_second, burst and delay_ms must be >= 0")
	}
	if c.Crawler.MaxRecords < 0 {
		return fmt.Errorf("crawler.max_records must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.DB.DSN != "" && c.DB.MaxConns <= 0 {
		return fmt.Errorf("db.max_conns must be > 0 when db.dsn is set")
	}
	switch c.Storage.Backend {
	case StorageNone, StorageMemory:
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q must be one of none, memory, local, gcs", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Progress.BufferSize <= 0 {
		return fmt.Errorf("progress.buffer_size must be > 0")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}

// Engine converts the crawl settings into the engine's configuration.
func (c Config) Engine() crawler.Config {
	cfg := crawler.Config{
		ListingURL:    c.Crawler.ListingURL,
		BaseURL:       c.Crawler.BaseURL,
		MaxInFlight:   c.Crawler.MaxInFlight,
		MaxRecords:    c.Crawler.MaxRecords,
		ArchivePrefix: c.Storage.Prefix,
		ContentType:   c.Storage.ContentType,
	}
	if c.PubSub.ProjectID != "" {
		cfg.Topic = c.PubSub.TopicName
	}
	return cfg
}

// FetchTimeout returns the per-request timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// Delay returns the colly per-request delay.
func (c Config) Delay() time.Duration {
	return time.Duration(c.Crawler.DelayMs) * time.Millisecond
}

// ConnLifetime returns the pool's maximum connection lifetime.
func (c Config) ConnLifetime() time.Duration {
	return time.Duration(c.DB.MaxConnLifetimeSeconds) * time.Second
}

// BatchWait returns the progress hub's maximum batch wait.
func (c Config) BatchWait() time.Duration {
	return time.Duration(c.Progress.MaxBatchWaitMs) * time.Millisecond
}
