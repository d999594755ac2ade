package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 10, cfg.Crawler.Concurrency)
	require.Equal(t, EngineHeadless, cfg.Crawler.Engine)
	require.Equal(t, "bypass", cfg.Crawler.CacheMode)
	require.Equal(t, SinkFailureCount, cfg.Crawler.SinkFailurePolicy)
	require.Equal(t, StorageMemory, cfg.Storage.Backend)
	require.Equal(t, DefaultBrowserFlags, cfg.Headless.ExtraFlags)
	require.Equal(t, 0, cfg.Server.Port)
	require.Equal(t, 60*time.Second, cfg.TaskTimeout())
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
crawler:
  concurrency: 3
  engine: auto
  user_agent: docs-bot
  task_timeout_seconds: 20
  sitemap_timeout_seconds: 5
  per_host_rps: 2.5
  sink_failure_policy: fatal
headless:
  nav_timeout_seconds: 30
  extra_flags: ["no-sandbox"]
  promotion_threshold: 1024
content:
  format: text
  readability: true
storage:
  backend: local
  local_dir: /tmp/docs
  prefix: kb
db:
  driver: sqlite
  dsn: file:crawl.db
pubsub:
  project_id: proj
  topic_name: documents
logging:
  development: false
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 3, cfg.Crawler.Concurrency)
	require.Equal(t, EngineAuto, cfg.Crawler.Engine)
	require.Equal(t, "docs-bot", cfg.Crawler.UserAgent)
	require.InDelta(t, 2.5, cfg.Crawler.PerHostRPS, 1e-9)
	require.Equal(t, SinkFailureFatal, cfg.Crawler.SinkFailurePolicy)
	require.Equal(t, []string{"no-sandbox"}, cfg.Headless.ExtraFlags)
	require.Equal(t, "text", cfg.Content.Format)
	require.True(t, cfg.Content.Readability)
	require.Equal(t, StorageLocal, cfg.Storage.Backend)
	require.Equal(t, DBSQLite, cfg.DB.Driver)
	require.Equal(t, "documents", cfg.DB.DocumentsTable)
	require.Equal(t, "documents", cfg.PubSub.TopicName)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, "warn", cfg.Logging.Level)
	require.Equal(t, 20*time.Second, cfg.TaskTimeout())
	require.Equal(t, 5*time.Second, cfg.SitemapTimeout())
	require.Equal(t, 30*time.Second, cfg.NavTimeout())
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "read config")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Crawler: CrawlerConfig{
			Concurrency:           1,
			Engine:                EngineHeadless,
			CacheMode:             "bypass",
			TaskTimeoutSeconds:    10,
			SitemapTimeoutSeconds: 10,
			SinkFailurePolicy:     SinkFailureCount,
		},
		Headless: HeadlessConfig{NavTimeoutSeconds: 10},
		Content:  ContentConfig{Format: "markdown"},
		Storage:  StorageConfig{Backend: StorageMemory},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "negative port", mutate: func(c *Config) { c.Server.Port = -1 }, want: "server.port"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Crawler.Concurrency = 0 }, want: "crawler.concurrency"},
		{name: "unknown engine", mutate: func(c *Config) { c.Crawler.Engine = "lynx" }, want: "crawler.engine"},
		{name: "unknown cache mode", mutate: func(c *Config) { c.Crawler.CacheMode = "sometimes" }, want: "crawler.cache_mode"},
		{name: "zero task timeout", mutate: func(c *Config) { c.Crawler.TaskTimeoutSeconds = 0 }, want: "crawler.task_timeout_seconds"},
		{name: "zero sitemap timeout", mutate: func(c *Config) { c.Crawler.SitemapTimeoutSeconds = 0 }, want: "crawler.sitemap_timeout_seconds"},
		{name: "negative rps", mutate: func(c *Config) { c.Crawler.PerHostRPS = -1 }, want: "crawler.per_host_rps"},
		{name: "unknown sink policy", mutate: func(c *Config) { c.Crawler.SinkFailurePolicy = "ignore" }, want: "crawler.sink_failure_policy"},
		{name: "zero nav timeout", mutate: func(c *Config) { c.Headless.NavTimeoutSeconds = 0 }, want: "headless.nav_timeout_seconds"},
		{name: "unknown format", mutate: func(c *Config) { c.Content.Format = "pdf" }, want: "content.format"},
		{name: "local without dir", mutate: func(c *Config) { c.Storage.Backend = StorageLocal }, want: "storage.local_dir"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Backend = StorageGCS }, want: "storage.gcs_bucket"},
		{name: "unknown backend", mutate: func(c *Config) { c.Storage.Backend = "s3" }, want: "storage.backend"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.DB.Driver = DBPostgres }, want: "db.dsn"},
		{name: "unknown driver", mutate: func(c *Config) { c.DB.Driver = "mysql" }, want: "db.driver"},
		{name: "topic without project", mutate: func(c *Config) { c.PubSub.TopicName = "docs" }, want: "pubsub.project_id"},
		{name: "sample ratio above one", mutate: func(c *Config) { c.Tracing.SampleRatio = 1.5 }, want: "tracing.sample_ratio"},
		{name: "unknown log level", mutate: func(c *Config) { c.Logging.Level = "chatty" }, want: "logging.level"},
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

func TestValidateHTTPEngineIgnoresNavTimeout(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Crawler: CrawlerConfig{
			Concurrency:           2,
			Engine:                EngineHTTP,
			CacheMode:             "enabled",
			TaskTimeoutSeconds:    1,
			SitemapTimeoutSeconds: 1,
			SinkFailurePolicy:     SinkFailureFatal,
		},
		Content: ContentConfig{Format: "text"},
		Storage: StorageConfig{Backend: StorageMemory},
	}
	require.NoError(t, cfg.Validate())
}
