package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Target.Host != "www.framer.com" {
		t.Fatalf("expected default host, got %q", cfg.Target.Host)
	}
	if cfg.Crawl.Workers != 4 || cfg.Crawl.RetryPassWorkers != 3 {
		t.Fatalf("expected default worker counts, got %+v", cfg.Crawl)
	}
	if cfg.Gate.MinRecordURLs != 50 {
		t.Fatalf("expected default gate threshold 50, got %d", cfg.Gate.MinRecordURLs)
	}
	if got := cfg.RunTimeout(); got != 15*time.Minute {
		t.Fatalf("expected run timeout 15m, got %v", got)
	}
	if got := cfg.MinInterval(); got != 1200*time.Millisecond {
		t.Fatalf("expected min interval 1.2s, got %v", got)
	}
	if got := cfg.AttemptTimeout(); got != 25*time.Second {
		t.Fatalf("expected attempt timeout 25s, got %v", got)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
target:
  sitemap_url: https://staging.framer.com/sitemap.xml
  host: staging.framer.com
  user_agent: test-agent
crawl:
  workers: 6
  retry_pass_workers: 2
  queue_depth: 64
  run_timeout_minutes: 5
  deny_paths:
    - /marketplace/experts/*
rate:
  min_interval_ms: 200
  jitter_fraction: 0.1
retry:
  max_attempts: 3
  attempt_timeout_seconds: 10
  backoff_base_ms: 100
  backoff_max_ms: 2000
  slow_threshold_seconds: 4
gate:
  min_record_urls: 10
state:
  dir: /tmp/scraper-state
headless:
  enabled: true
  max_parallel: 2
  nav_timeout_seconds: 30
  promotion_threshold: 70
archive:
  backend: local
  base_dir: /tmp/archive
sink:
  csv:
    path: /tmp/records.csv
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Target.Host != "staging.framer.com" {
		t.Fatalf("expected host override, got %q", cfg.Target.Host)
	}
	if cfg.Crawl.Workers != 6 || cfg.Crawl.RetryPassWorkers != 2 {
		t.Fatalf("expected crawl overrides to apply: %+v", cfg.Crawl)
	}
	if len(cfg.Crawl.DenyPaths) != 1 || cfg.Crawl.DenyPaths[0] != "/marketplace/experts/*" {
		t.Fatalf("expected deny path override, got %v", cfg.Crawl.DenyPaths)
	}
	if cfg.Rate.JitterFraction != 0.1 {
		t.Fatalf("expected jitter override, got %v", cfg.Rate.JitterFraction)
	}
	if cfg.Archive.Backend != "local" || cfg.Archive.BaseDir != "/tmp/archive" {
		t.Fatalf("expected archive overrides: %+v", cfg.Archive)
	}
	if cfg.Sink.CSV.Path != "/tmp/records.csv" {
		t.Fatalf("expected csv path override, got %q", cfg.Sink.CSV.Path)
	}
	if got := cfg.SlowThreshold(); got != 4*time.Second {
		t.Fatalf("expected slow threshold 4s, got %v", got)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Target: TargetConfig{
			SitemapURL: "https://www.framer.com/sitemap.xml",
			Host:       "www.framer.com",
			UserAgent:  "agent",
		},
		Crawl: CrawlConfig{Workers: 4, RetryPassWorkers: 3, RunTimeoutMinutes: 15},
		Rate:  RateConfig{MinIntervalMs: 1200, JitterFraction: 0.2},
		Retry: RetryConfig{MaxAttempts: 5, AttemptTimeoutSeconds: 25},
		State: StateConfig{Dir: ".scraper-state"},
	}

	tests := []struct {
		name string
		cfg  func() Config
		want string
	}{
		{
			name: "missing sitemap url",
			cfg: func() Config {
				c := base
				c.Target.SitemapURL = ""
				return c
			},
			want: "target.sitemap_url",
		},
		{
			name: "invalid workers",
			cfg: func() Config {
				c := base
				c.Crawl.Workers = 0
				return c
			},
			want: "crawl.workers",
		},
		{
			name: "invalid jitter",
			cfg: func() Config {
				c := base
				c.Rate.JitterFraction = 1.5
				return c
			},
			want: "rate.jitter_fraction",
		},
		{
			name: "invalid attempts",
			cfg: func() Config {
				c := base
				c.Retry.MaxAttempts = 0
				return c
			},
			want: "retry.max_attempts",
		},
		{
			name: "headless missing max parallel",
			cfg: func() Config {
				c := base
				c.Headless.Enabled = true
				c.Headless.MaxParallel = 0
				return c
			},
			want: "headless.max_parallel",
		},
		{
			name: "gcs archive missing bucket",
			cfg: func() Config {
				c := base
				c.Archive.Backend = "gcs"
				return c
			},
			want: "archive.bucket",
		},
		{
			name: "unknown archive backend",
			cfg: func() Config {
				c := base
				c.Archive.Backend = "s3"
				return c
			},
			want: "archive.backend",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg().Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
