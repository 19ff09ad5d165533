package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Reporter.BatchThreshold != 10 {
		t.Fatalf("expected batch threshold 10, got %d", cfg.Reporter.BatchThreshold)
	}
	if cfg.Reporter.DebounceDelay != 1500*time.Millisecond {
		t.Fatalf("expected debounce 1500ms, got %v", cfg.Reporter.DebounceDelay)
	}
	if cfg.Batch.Concurrency != 3 {
		t.Fatalf("expected concurrency 3, got %d", cfg.Batch.Concurrency)
	}
	if cfg.Storage.Backend != BackendLocal {
		t.Fatalf("expected local backend, got %q", cfg.Storage.Backend)
	}
	pc := cfg.ProgressConfig()
	if pc.RunningLabel != "running" || pc.MaxInFlightShown != 5 {
		t.Fatalf("unexpected progress config %+v", pc)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
reporter:
  batch_threshold: 25
  debounce_delay: 2s
  running_label: working
batch:
  concurrency: 6
  blob_prefix: nightly
webhook:
  url: https://chat.example.com/api/webhooks/1/token
  requests_per_second: 0.5
storage:
  backend: gcs
  gcs_bucket: bucket
pubsub:
  project_id: proj
  topic_name: batch-events
  fallback_topic: progress-fallback
logging:
  development: false
  level: warn
tracing:
  enabled: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Reporter.BatchThreshold != 25 || cfg.Reporter.DebounceDelay != 2*time.Second {
		t.Fatalf("expected reporter overrides, got %+v", cfg.Reporter)
	}
	if cfg.Batch.Concurrency != 6 || cfg.Batch.BlobPrefix != "nightly" {
		t.Fatalf("expected batch overrides, got %+v", cfg.Batch)
	}
	if cfg.Webhook.RequestsPerSecond != 0.5 || cfg.Webhook.Burst != 2 {
		t.Fatalf("expected webhook overrides with default burst, got %+v", cfg.Webhook)
	}
	if cfg.PubSub.FallbackTopic != "progress-fallback" {
		t.Fatalf("expected fallback topic, got %q", cfg.PubSub.FallbackTopic)
	}
	if opts := cfg.LoggingOptions(); opts.Development || opts.Level != "warn" {
		t.Fatalf("unexpected logging options %+v", opts)
	}
	if opts := cfg.TracingOptions(); !opts.Enabled || opts.ServiceName != "batchprogress" {
		t.Fatalf("unexpected tracing options %+v", opts)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BATCHPROGRESS_REPORTER_BATCH_THRESHOLD", "4")
	t.Setenv("BATCHPROGRESS_STORAGE_BACKEND", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Reporter.BatchThreshold != 4 {
		t.Fatalf("expected env threshold 4, got %d", cfg.Reporter.BatchThreshold)
	}
	if cfg.Storage.Backend != BackendMemory {
		t.Fatalf("expected memory backend, got %q", cfg.Storage.Backend)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080},
		Reporter: ReporterConfig{BatchThreshold: 10, DebounceDelay: time.Second},
		Batch:    BatchConfig{Concurrency: 1},
		Storage:  StorageConfig{Backend: BackendMemory},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"invalid threshold", func(c *Config) { c.Reporter.BatchThreshold = 0 }, "reporter.batch_threshold"},
		{"invalid debounce", func(c *Config) { c.Reporter.DebounceDelay = 0 }, "reporter.debounce_delay"},
		{"invalid concurrency", func(c *Config) { c.Batch.Concurrency = 0 }, "batch.concurrency"},
		{"relative webhook", func(c *Config) { c.Webhook.URL = "/api/webhooks/1" }, "webhook.url"},
		{"bad fallback", func(c *Config) { c.Webhook.FallbackURL = "mailto:x@example.com" }, "webhook.fallback_url"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"local without dir", func(c *Config) { c.Storage.Backend = BackendLocal }, "storage.base_dir"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = BackendGCS }, "storage.gcs_bucket"},
		{"pubsub without topic", func(c *Config) { c.PubSub.ProjectID = "p" }, "pubsub.topic_name"},
		{"fallback topic without project", func(c *Config) { c.PubSub.FallbackTopic = "f" }, "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
