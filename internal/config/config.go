// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all engine configuration knobs loaded via Viper.
type Config struct {
	Target   TargetConfig   `mapstructure:"target"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Rate     RateConfig     `mapstructure:"rate"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Gate     GateConfig     `mapstructure:"gate"`
	State    StateConfig    `mapstructure:"state"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Sink     SinkConfig     `mapstructure:"sink"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// TargetConfig identifies the site under crawl.
type TargetConfig struct {
	SitemapURL string `mapstructure:"sitemap_url"`
	Host       string `mapstructure:"host"`
	UserAgent  string `mapstructure:"user_agent"`
}

// CrawlConfig governs the worker pool, admission rules, and the global run
// budget.
type CrawlConfig struct {
	Workers           int      `mapstructure:"workers"`
	RetryPassWorkers  int      `mapstructure:"retry_pass_workers"`
	QueueDepth        int      `mapstructure:"queue_depth"`
	RunTimeoutMinutes int      `mapstructure:"run_timeout_minutes"`
	DenyPaths         []string `mapstructure:"deny_paths"`
}

// RateConfig controls upstream request pacing.
type RateConfig struct {
	MinIntervalMs  int     `mapstructure:"min_interval_ms"`
	JitterFraction float64 `mapstructure:"jitter_fraction"`
}

// RetryConfig controls per-URL retry behavior.
type RetryConfig struct {
	MaxAttempts           int `mapstructure:"max_attempts"`
	AttemptTimeoutSeconds int `mapstructure:"attempt_timeout_seconds"`
	BackoffBaseMs         int `mapstructure:"backoff_base_ms"`
	BackoffMaxMs          int `mapstructure:"backoff_max_ms"`
	SlowThresholdSeconds  int `mapstructure:"slow_threshold_seconds"`
}

// GateConfig sets the safety gate thresholds.
type GateConfig struct {
	MinRecordURLs int `mapstructure:"min_record_urls"`
}

// StateConfig locates persistent run state (checkpoint, fingerprints,
// cached classification).
type StateConfig struct {
	Dir string `mapstructure:"dir"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	MaxParallel     int     `mapstructure:"max_parallel"`
	NavTimeoutSec   int     `mapstructure:"nav_timeout_seconds"`
	NavQPS          float64 `mapstructure:"nav_qps"`
	PromotionThresh int     `mapstructure:"promotion_threshold"`
}

// ArchiveConfig selects the raw HTML snapshot backend.
type ArchiveConfig struct {
	Backend     string `mapstructure:"backend"`
	Bucket      string `mapstructure:"bucket"`
	BaseDir     string `mapstructure:"base_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// SinkConfig configures record persistence backends.
type SinkConfig struct {
	Postgres PostgresSinkConfig `mapstructure:"postgres"`
	CSV      CSVSinkConfig      `mapstructure:"csv"`
}

// PostgresSinkConfig controls the Postgres record sink.
type PostgresSinkConfig struct {
	DSN                string `mapstructure:"dsn"`
	Table              string `mapstructure:"table"`
	MaxConns           int    `mapstructure:"max_conns"`
	MinConns           int    `mapstructure:"min_conns"`
	MaxConnLifetimeMin int    `mapstructure:"max_conn_lifetime_minutes"`
}

// CSVSinkConfig controls the buffered CSV export.
type CSVSinkConfig struct {
	Path string `mapstructure:"path"`
}

// PubSubConfig holds metadata for record-change notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the optional ops HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
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
	v.SetDefault("target.sitemap_url", "https://www.framer.com/sitemap.xml")
	v.SetDefault("target.host", "www.framer.com")
	v.SetDefault("target.user_agent", "marketscraper/0.1")
	v.SetDefault("crawl.workers", 4)
	v.SetDefault("crawl.retry_pass_workers", 3)
	v.SetDefault("crawl.queue_depth", 256)
	v.SetDefault("crawl.run_timeout_minutes", 15)
	v.SetDefault("rate.min_interval_ms", 1200)
	v.SetDefault("rate.jitter_fraction", 0.2)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.attempt_timeout_seconds", 25)
	v.SetDefault("retry.backoff_base_ms", 500)
	v.SetDefault("retry.backoff_max_ms", 30000)
	v.SetDefault("retry.slow_threshold_seconds", 10)
	v.SetDefault("gate.min_record_urls", 50)
	v.SetDefault("state.dir", ".scraper-state")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.nav_qps", 0.5)
	v.SetDefault("headless.promotion_threshold", 60)
	v.SetDefault("archive.backend", "memory")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("sink.postgres.table", "marketplace_records")
	v.SetDefault("sink.postgres.max_conns", 4)
	v.SetDefault("sink.postgres.min_conns", 1)
	v.SetDefault("sink.postgres.max_conn_lifetime_minutes", 30)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Target.SitemapURL == "" {
		return fmt.Errorf("target.sitemap_url must be set")
	}
	if c.Target.Host == "" {
		return fmt.Errorf("target.host must be set")
	}
	if c.Target.UserAgent == "" {
		return fmt.Errorf("target.user_agent must be set")
	}
	if c.Crawl.Workers <= 0 {
		return fmt.Errorf("crawl.workers must be > 0")
	}
	if c.Crawl.RetryPassWorkers <= 0 {
		return fmt.Errorf("crawl.retry_pass_workers must be > 0")
	}
	if c.Crawl.RunTimeoutMinutes <= 0 {
		return fmt.Errorf("crawl.run_timeout_minutes must be > 0")
	}
	if c.Rate.MinIntervalMs <= 0 {
		return fmt.Errorf("rate.min_interval_ms must be > 0")
	}
	if c.Rate.JitterFraction < 0 || c.Rate.JitterFraction > 1 {
		return fmt.Errorf("rate.jitter_fraction must be in [0, 1]")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Retry.AttemptTimeoutSeconds <= 0 {
		return fmt.Errorf("retry.attempt_timeout_seconds must be > 0")
	}
	if c.Gate.MinRecordURLs < 0 {
		return fmt.Errorf("gate.min_record_urls must be >= 0")
	}
	if c.State.Dir == "" {
		return fmt.Errorf("state.dir must be set")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the ops server is enabled")
	}
	switch c.Archive.Backend {
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs backend")
		}
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set for the local backend")
		}
	case "memory", "":
	default:
		return fmt.Errorf("archive.backend must be one of gcs, local, memory")
	}
	return nil
}

// RunTimeout returns the global run budget as a duration.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.Crawl.RunTimeoutMinutes) * time.Minute
}

// MinInterval returns the pacing interval as a duration.
func (c Config) MinInterval() time.Duration {
	return time.Duration(c.Rate.MinIntervalMs) * time.Millisecond
}

// AttemptTimeout returns the per-attempt fetch budget as a duration.
func (c Config) AttemptTimeout() time.Duration {
	return time.Duration(c.Retry.AttemptTimeoutSeconds) * time.Second
}

// SlowThreshold returns the slow-attempt threshold as a duration.
func (c Config) SlowThreshold() time.Duration {
	return time.Duration(c.Retry.SlowThresholdSeconds) * time.Second
}
