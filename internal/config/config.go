// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/batch-progress/internal/logging"
	"github.com/JakeFAU/batch-progress/internal/progress"
	"github.com/JakeFAU/batch-progress/internal/telemetry"
)

// Storage backends accepted by storage.backend.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Reporter ReporterConfig `mapstructure:"reporter"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ReporterConfig tunes render coalescing.
type ReporterConfig struct {
	BatchThreshold   int           `mapstructure:"batch_threshold"`
	DebounceDelay    time.Duration `mapstructure:"debounce_delay"`
	MaxInFlightShown int           `mapstructure:"max_in_flight_shown"`
	RenderTimeout    time.Duration `mapstructure:"render_timeout"`
	RunningLabel     string        `mapstructure:"running_label"`
	Title            string        `mapstructure:"title"`
}

// BatchConfig governs the backup runner.
type BatchConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	SourceDir   string `mapstructure:"source_dir"`
	BlobPrefix  string `mapstructure:"blob_prefix"`
}

// WebhookConfig points progress renders at a chat webhook. An empty URL
// renders to the log instead.
type WebhookConfig struct {
	URL               string        `mapstructure:"url"`
	FallbackURL       string        `mapstructure:"fallback_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// StorageConfig selects the blob backend.
type StorageConfig struct {
	Backend           string `mapstructure:"backend"`
	BaseDir           string `mapstructure:"base_dir"`
	GCSBucket         string `mapstructure:"gcs_bucket"`
	ReportContentType string `mapstructure:"report_content_type"`
}

// DBConfig controls access to Postgres. An empty DSN keeps runs in memory.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// PubSubConfig holds metadata for run events and fallback notices.
type PubSubConfig struct {
	ProjectID     string `mapstructure:"project_id"`
	TopicName     string `mapstructure:"topic_name"`
	FallbackTopic string `mapstructure:"fallback_topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig toggles the OpenTelemetry SDK.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BATCHPROGRESS")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("reporter.batch_threshold", 10)
	v.SetDefault("reporter.debounce_delay", "1500ms")
	v.SetDefault("reporter.max_in_flight_shown", 5)
	v.SetDefault("reporter.render_timeout", "10s")
	v.SetDefault("reporter.running_label", "running")
	v.SetDefault("reporter.title", "📊 Backup progress")
	v.SetDefault("batch.concurrency", 3)
	v.SetDefault("batch.source_dir", "")
	v.SetDefault("batch.blob_prefix", "backups")
	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.fallback_url", "")
	v.SetDefault("webhook.timeout", "10s")
	v.SetDefault("webhook.requests_per_second", 1)
	v.SetDefault("webhook.burst", 2)
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.report_content_type", "application/json")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.migrate", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("pubsub.fallback_topic", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "batchprogress")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Reporter.BatchThreshold <= 0 {
		return fmt.Errorf("reporter.batch_threshold must be > 0")
	}
	if c.Reporter.DebounceDelay <= 0 {
		return fmt.Errorf("reporter.debounce_delay must be > 0")
	}
	if c.Batch.Concurrency <= 0 {
		return fmt.Errorf("batch.concurrency must be > 0")
	}
	if c.Webhook.URL != "" {
		if err := validateURL(c.Webhook.URL); err != nil {
			return fmt.Errorf("webhook.url: %w", err)
		}
	}
	if c.Webhook.FallbackURL != "" {
		if err := validateURL(c.Webhook.FallbackURL); err != nil {
			return fmt.Errorf("webhook.fallback_url: %w", err)
		}
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if strings.TrimSpace(c.Storage.BaseDir) == "" {
			return fmt.Errorf("storage.base_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend must be one of local, gcs, memory; got %q", c.Storage.Backend)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	if c.PubSub.FallbackTopic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.fallback_topic is set")
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("must be an absolute http(s) URL")
	}
	return nil
}

// ProgressConfig converts the reporter section into progress.Config.
func (c Config) ProgressConfig() progress.Config {
	return progress.Config{
		BatchThreshold:   c.Reporter.BatchThreshold,
		DebounceDelay:    c.Reporter.DebounceDelay,
		MaxInFlightShown: c.Reporter.MaxInFlightShown,
		RenderTimeout:    c.Reporter.RenderTimeout,
		RunningLabel:     c.Reporter.RunningLabel,
	}
}

// LoggingOptions converts the logging section into logging.Config.
func (c Config) LoggingOptions() logging.Config {
	return logging.Config{Development: c.Logging.Development, Level: c.Logging.Level}
}

// TracingOptions converts the tracing section into telemetry.Config.
func (c Config) TracingOptions() telemetry.Config {
	return telemetry.Config{Enabled: c.Tracing.Enabled, ServiceName: c.Tracing.ServiceName}
}
