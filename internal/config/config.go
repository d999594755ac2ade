// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Engine names accepted by crawler.engine.
const (
	EngineHeadless = "headless"
	EngineHTTP     = "http"
	EngineAuto     = "auto"
)

// Sink failure policies accepted by crawler.sink_failure_policy.
const (
	SinkFailureCount = "count"
	SinkFailureFatal = "fatal"
)

// Storage backends accepted by storage.backend.
const (
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Record store drivers accepted by db.driver.
const (
	DBNone     = ""
	DBPostgres = "postgres"
	DBSQLite   = "sqlite"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Content  ContentConfig  `mapstructure:"content"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig controls the optional status server. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs the batch orchestrator and fetch pipeline.
type CrawlerConfig struct {
	Concurrency           int      `mapstructure:"concurrency"`
	Engine                string   `mapstructure:"engine"`
	UserAgent             string   `mapstructure:"user_agent"`
	CacheMode             string   `mapstructure:"cache_mode"`
	TaskTimeoutSeconds    int      `mapstructure:"task_timeout_seconds"`
	SitemapTimeoutSeconds int      `mapstructure:"sitemap_timeout_seconds"`
	SitemapMaxDepth       int      `mapstructure:"sitemap_max_depth"`
	PerHostRPS            float64  `mapstructure:"per_host_rps"`
	PerHostBurst          int      `mapstructure:"per_host_burst"`
	SinkFailurePolicy     string   `mapstructure:"sink_failure_policy"`
	BlockedDomains        []string `mapstructure:"blocked_domains"`
	MaxBodyBytes          int      `mapstructure:"max_body_bytes"`
}

// HeadlessConfig configures the browser engine.
type HeadlessConfig struct {
	NavTimeoutSeconds  int      `mapstructure:"nav_timeout_seconds"`
	WaitSelector       string   `mapstructure:"wait_selector"`
	SettleMillis       int      `mapstructure:"settle_ms"`
	ExtraFlags         []string `mapstructure:"extra_flags"`
	PromotionThreshold int      `mapstructure:"promotion_threshold"`
	ExecPath           string   `mapstructure:"exec_path"`
}

// ContentConfig controls HTML to text conversion.
type ContentConfig struct {
	Format           string   `mapstructure:"format"`
	Readability      bool     `mapstructure:"readability"`
	ExcludeSelectors []string `mapstructure:"exclude_selectors"`
}

// StorageConfig sets paths and content types for document bodies.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to the relational record store.
type DBConfig struct {
	Driver         string `mapstructure:"driver"`
	DSN            string `mapstructure:"dsn"`
	DocumentsTable string `mapstructure:"documents_table"`
	RunsTable      string `mapstructure:"runs_table"`
	MaxConns       int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for stored-document notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize int  `mapstructure:"buffer_size"`
	LogEvents  bool `mapstructure:"log_events"`
}

// LoggingConfig toggles zap development features. An empty Level keeps the
// encoder default: debug in development, info otherwise.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig toggles the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from defaults, an optional file, and CRAWLER_* environment
// variables. With no path it looks for config.{yaml,json,toml} in the working
// directory, $HOME/.sitemapcrawler and /etc/sitemapcrawler.
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
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.sitemapcrawler")
		v.AddConfigPath("/etc/sitemapcrawler/")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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

// DefaultBrowserFlags are the Chrome switches applied to every headless launch.
var DefaultBrowserFlags = []string{
	"disable-gpu",
	"disable-dev-shm-usage",
	"no-sandbox",
	"log-level=3",
	"silent",
	"disable-logging",
	"disable-default-apps",
	"disable-extensions",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 0)
	v.SetDefault("crawler.concurrency", 10)
	v.SetDefault("crawler.engine", EngineHeadless)
	v.SetDefault("crawler.user_agent", "sitemap-crawler/0.1")
	v.SetDefault("crawler.cache_mode", "bypass")
	v.SetDefault("crawler.task_timeout_seconds", 60)
	v.SetDefault("crawler.sitemap_timeout_seconds", 30)
	v.SetDefault("crawler.sitemap_max_depth", 2)
	v.SetDefault("crawler.per_host_rps", 0)
	v.SetDefault("crawler.per_host_burst", 1)
	v.SetDefault("crawler.sink_failure_policy", SinkFailureCount)
	v.SetDefault("crawler.max_body_bytes", 10<<20)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.wait_selector", "body")
	v.SetDefault("headless.settle_ms", 500)
	v.SetDefault("headless.extra_flags", DefaultBrowserFlags)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("content.format", "markdown")
	v.SetDefault("content.readability", false)
	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.local_dir", "data/documents")
	v.SetDefault("storage.prefix", "documents")
	v.SetDefault("storage.content_type", "text/markdown; charset=utf-8")
	v.SetDefault("db.driver", DBNone)
	v.SetDefault("db.documents_table", "documents")
	v.SetDefault("db.runs_table", "crawl_runs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.log_events", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "sitemap-crawler")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port < 0 {
		return fmt.Errorf("server.port must be >= 0")
	}
	if err := c.Crawler.validate(); err != nil {
		return err
	}
	if c.Crawler.Engine != EngineHTTP && c.Headless.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("headless.nav_timeout_seconds must be > 0")
	}
	switch c.Content.Format {
	case "markdown", "text":
	default:
		return fmt.Errorf("content.format must be markdown or text, got %q", c.Content.Format)
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	switch c.DB.Driver {
	case DBNone:
	case DBPostgres, DBSQLite:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.driver is %q", c.DB.Driver)
		}
	default:
		return fmt.Errorf("db.driver must be postgres or sqlite, got %q", c.DB.Driver)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	if c.Logging.Level != "" {
		if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
			return fmt.Errorf("logging.level: %w", err)
		}
	}
	return nil
}

func (c CrawlerConfig) validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	switch c.Engine {
	case EngineHeadless, EngineHTTP, EngineAuto:
	default:
		return fmt.Errorf("crawler.engine must be headless, http or auto, got %q", c.Engine)
	}
	switch c.CacheMode {
	case "bypass", "enabled":
	default:
		return fmt.Errorf("crawler.cache_mode must be bypass or enabled, got %q", c.CacheMode)
	}
	if c.TaskTimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.task_timeout_seconds must be > 0")
	}
	if c.SitemapTimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.sitemap_timeout_seconds must be > 0")
	}
	if c.PerHostRPS < 0 {
		return fmt.Errorf("crawler.per_host_rps must be >= 0")
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("crawler.max_body_bytes must be >= 0")
	}
	switch c.SinkFailurePolicy {
	case SinkFailureCount, SinkFailureFatal:
	default:
		return fmt.Errorf("crawler.sink_failure_policy must be count or fatal, got %q", c.SinkFailurePolicy)
	}
	return nil
}

func (c StorageConfig) validate() error {
	switch c.Backend {
	case StorageMemory:
	case StorageLocal:
		if strings.TrimSpace(c.LocalDir) == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case StorageGCS:
		if c.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be memory, local or gcs, got %q", c.Backend)
	}
	return nil
}

// TaskTimeout is the budget for one fetch-and-convert task.
func (c Config) TaskTimeout() time.Duration {
	return time.Duration(c.Crawler.TaskTimeoutSeconds) * time.Second
}

// SitemapTimeout bounds the sitemap download.
func (c Config) SitemapTimeout() time.Duration {
	return time.Duration(c.Crawler.SitemapTimeoutSeconds) * time.Second
}

// NavTimeout bounds a single browser navigation.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSeconds) * time.Second
}
