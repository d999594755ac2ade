// Package app builds the crawler's long-lived services from configuration and
// runs crawls against them.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gcsstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/api"
	"github.com/JakeFAU/sitemap-crawler/internal/cleaner"
	"github.com/JakeFAU/sitemap-crawler/internal/clock/system"
	"github.com/JakeFAU/sitemap-crawler/internal/config"
	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/sitemap-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/sitemap-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/sitemap-crawler/internal/fetcher/promote"
	"github.com/JakeFAU/sitemap-crawler/internal/hash/sha256"
	"github.com/JakeFAU/sitemap-crawler/internal/id/uuid"
	"github.com/JakeFAU/sitemap-crawler/internal/metrics"
	"github.com/JakeFAU/sitemap-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/sitemap-crawler/internal/progress"
	"github.com/JakeFAU/sitemap-crawler/internal/progress/sinks"
	"github.com/JakeFAU/sitemap-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/sitemap-crawler/internal/sink"
	"github.com/JakeFAU/sitemap-crawler/internal/sitemap"
	"github.com/JakeFAU/sitemap-crawler/internal/storage/gcs"
	"github.com/JakeFAU/sitemap-crawler/internal/storage/local"
	"github.com/JakeFAU/sitemap-crawler/internal/storage/memory"
	"github.com/JakeFAU/sitemap-crawler/internal/storage/postgres"
	"github.com/JakeFAU/sitemap-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/sitemap-crawler/internal/telemetry"
	"github.com/JakeFAU/sitemap-crawler/internal/worker"
)

const (
	closeTimeout    = 15 * time.Second
	storeRunTimeout = 10 * time.Second
)

// recordStore persists both document rows and run summaries.
type recordStore interface {
	crawler.DocumentStore
	crawler.RunStore
}

// EngineFactory builds a fresh engine for each run.
type EngineFactory func() (crawler.Engine, error)

// CrawlRequest is one sitemap crawl with its operator labels.
type CrawlRequest struct {
	SitemapURL string
	Category   string
	Title      string
}

// Validate rejects requests with missing fields.
func (r CrawlRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.SitemapURL) == "" {
		missing = append(missing, "sitemap url")
	}
	if strings.TrimSpace(r.Category) == "" {
		missing = append(missing, "category")
	}
	if strings.TrimSpace(r.Title) == "" {
		missing = append(missing, "title")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Option overrides a service built by New.
type Option func(*App)

// WithEngineFactory replaces the configured fetch engine.
func WithEngineFactory(f EngineFactory) Option {
	return func(a *App) { a.newEngine = f }
}

// WithURLSource replaces the sitemap source.
func WithURLSource(src crawler.URLSource) Option {
	return func(a *App) { a.source = src }
}

// WithBlobStore replaces the configured blob backend.
func WithBlobStore(store crawler.BlobStore) Option {
	return func(a *App) { a.blobs = store }
}

// WithMemorySampler replaces the process memory sampler.
func WithMemorySampler(s crawler.MemorySampler) Option {
	return func(a *App) { a.sampler = s }
}

// WithRegistry uses reg for every collector instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(a *App) { a.registry = reg }
}

// App holds the shared services for crawl runs.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	registry   *prometheus.Registry
	collectors *metrics.Collectors
	hub        *progress.Hub
	tracer     *sdktrace.TracerProvider

	source    crawler.URLSource
	blocklist *sitemap.Blocklist
	converter crawler.Converter
	limiter   crawler.RateLimiter
	blobs     crawler.BlobStore
	records   recordStore
	publisher crawler.Publisher
	sampler   crawler.MemorySampler
	hasher    crawler.Hasher
	ids       crawler.IDGenerator
	clock     crawler.Clock
	newEngine EngineFactory

	closers []func(context.Context) error
	closed  atomic.Bool

	mu      sync.Mutex
	current *dispatcher.Dispatcher
}

// New validates cfg and builds every service it names. Failures wrap
// crawler.ErrSetup; services opened before the failure are closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", crawler.ErrSetup, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:     cfg,
		logger:  logger,
		hasher: sha256.New(),
		ids:    uuid.New(),
		clock:  system.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.init(ctx); err != nil {
		if closeErr := a.Close(context.WithoutCancel(ctx)); closeErr != nil {
			logger.Warn("cleanup after failed setup", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("%w: %w", crawler.ErrSetup, err)
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	var err error
	if a.collectors, err = metrics.New(a.registry); err != nil {
		return err
	}

	if a.cfg.Tracing.Enabled {
		tp, tpErr := telemetry.NewTracerProvider(ctx, telemetry.TracingOptions{
			ServiceName: a.cfg.Tracing.ServiceName,
			SampleRatio: a.cfg.Tracing.SampleRatio,
		})
		if tpErr != nil {
			return fmt.Errorf("init tracing: %w", tpErr)
		}
		a.tracer = tp
		a.closers = append(a.closers, tp.Shutdown)
	}

	if err := a.initProgress(ctx); err != nil {
		return err
	}

	if a.source == nil {
		a.source = sitemap.New(sitemap.Config{
			UserAgent: a.cfg.Crawler.UserAgent,
			Timeout:   a.cfg.SitemapTimeout(),
			MaxDepth:  a.cfg.Crawler.SitemapMaxDepth,
		}, a.logger.Named("sitemap"))
	}
	a.blocklist = sitemap.NewBlocklist(a.cfg.Crawler.BlockedDomains)
	if a.sampler == nil {
		a.sampler = telemetry.NewMemorySampler(a.logger.Named("memory"))
	}

	conv, err := cleaner.New(cleaner.Config{
		Format:           a.cfg.Content.Format,
		Readability:      a.cfg.Content.Readability,
		ExcludeSelectors: a.cfg.Content.ExcludeSelectors,
	}, a.logger.Named("cleaner"))
	if err != nil {
		return fmt.Errorf("build converter: %w", err)
	}
	a.converter = conv

	a.limiter = ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.Crawler.PerHostRPS,
		DefaultBurst: a.cfg.Crawler.PerHostBurst,
		OnDelay:      a.collectors.ObserveRateLimitDelay,
	})

	if a.blobs == nil {
		if err := a.initBlobStore(ctx); err != nil {
			return err
		}
	}
	if err := a.initRecordStore(ctx); err != nil {
		return err
	}
	if err := a.initPublisher(ctx); err != nil {
		return err
	}
	if a.newEngine == nil {
		a.newEngine = a.configuredEngine
	}
	return nil
}

func (a *App) initProgress(ctx context.Context) error {
	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("progress metrics: %w", err)
	}
	hubSinks := []progress.Sink{promSink}
	if a.cfg.Progress.LogEvents {
		hubSinks = append(hubSinks, sinks.NewLogSink(a.logger.Named("progress")))
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:  a.cfg.Progress.BufferSize,
		BaseContext: context.WithoutCancel(ctx),
		Logger:      a.logger.Named("progress"),
	}, hubSinks...)
	a.closers = append(a.closers, a.hub.Close)
	return nil
}

func (a *App) initBlobStore(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.StorageLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("local blob store: %w", err)
		}
		a.blobs = store
		a.logger.Info("using local blob store", zap.String("dir", a.cfg.Storage.LocalDir))
	case config.StorageGCS:
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs blob store: %w", err)
		}
		a.blobs = store
		a.logger.Info("using gcs blob store", zap.String("bucket", a.cfg.Storage.GCSBucket))
	default:
		a.blobs = memory.NewBlobStore()
		a.logger.Info("using in-memory blob store; documents are discarded on exit")
	}
	return nil
}

func (a *App) initRecordStore(ctx context.Context) error {
	switch a.cfg.DB.Driver {
	case config.DBPostgres:
		store, err := postgres.NewStore(ctx, postgres.Config{
			DSN:            a.cfg.DB.DSN,
			DocumentsTable: a.cfg.DB.DocumentsTable,
			RunsTable:      a.cfg.DB.RunsTable,
			MaxConns:       a.cfg.DB.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("postgres store: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { store.Close(); return nil })
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("postgres schema: %w", err)
		}
		a.records = store
	case config.DBSQLite:
		store, err := sqlite.Open(ctx, sqlite.Config{
			DSN:            a.cfg.DB.DSN,
			DocumentsTable: a.cfg.DB.DocumentsTable,
			RunsTable:      a.cfg.DB.RunsTable,
		})
		if err != nil {
			return fmt.Errorf("sqlite store: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		a.records = store
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" {
		return nil
	}
	pub, err := pubsub.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("pubsub publisher: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return pub.Close() })
	a.publisher = pub
	return nil
}

// configuredEngine builds the engine named by crawler.engine.
func (a *App) configuredEngine() (crawler.Engine, error) {
	switch a.cfg.Crawler.Engine {
	case config.EngineHTTP:
		return a.httpEngine(), nil
	case config.EngineAuto:
		detector := promote.NewHeuristic(a.cfg.Headless.PromotionThreshold)
		return promote.New(a.httpEngine(), a.headlessEngine(), detector, a.logger.Named("promote")), nil
	case config.EngineHeadless:
		return a.headlessEngine(), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", a.cfg.Crawler.Engine)
	}
}

func (a *App) httpEngine() crawler.Engine {
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:    a.cfg.Crawler.UserAgent,
		Timeout:      a.cfg.TaskTimeout(),
		MaxBodyBytes: a.cfg.Crawler.MaxBodyBytes,
	}, a.logger.Named("colly"))
}

func (a *App) headlessEngine() crawler.Engine {
	return headless.New(headless.Config{
		UserAgent:         a.cfg.Crawler.UserAgent,
		NavigationTimeout: a.cfg.NavTimeout(),
		WaitSelector:      a.cfg.Headless.WaitSelector,
		Settle:            time.Duration(a.cfg.Headless.SettleMillis) * time.Millisecond,
		Flags:             a.cfg.Headless.ExtraFlags,
		ExecPath:          a.cfg.Headless.ExecPath,
	}, a.logger.Named("headless"))
}

// ListURLs returns the URLs a crawl of the sitemap would visit.
func (a *App) ListURLs(ctx context.Context, sitemapURL string) []string {
	urls, _ := a.blocklist.Filter(a.source.URLs(ctx, sitemapURL))
	return urls
}

// Crawl discovers the sitemap's URLs and runs them through the dispatcher.
// Per-page failures are counted in the summary; the error is non-nil only for
// setup failures, a fatal sink failure, or cancellation.
func (a *App) Crawl(ctx context.Context, req CrawlRequest) (crawler.RunSummary, error) {
	if err := req.Validate(); err != nil {
		return crawler.RunSummary{}, err
	}
	if a.closed.Load() {
		return crawler.RunSummary{}, errors.New("app is closed")
	}
	runID, err := a.ids.NewID()
	if err != nil {
		return crawler.RunSummary{}, fmt.Errorf("%w: run id: %w", crawler.ErrSetup, err)
	}
	labels := crawler.Labels{Category: req.Category, Title: req.Title}
	logger := a.logger.With(zap.String("run_id", runID))

	summary := crawler.RunSummary{
		ID:         runID,
		SitemapURL: req.SitemapURL,
		Labels:     labels,
		StartedAt:  a.clock.Now(),
	}

	urls, blocked := a.blocklist.Filter(a.source.URLs(ctx, req.SitemapURL))
	a.collectors.ObserveSitemap(len(urls), blocked)
	if blocked > 0 {
		logger.Info("skipped URLs on blocked domains", zap.Int("blocked", blocked))
	}
	summary.Submitted = len(urls)
	if len(urls) == 0 {
		logger.Warn("sitemap yielded no URLs", zap.String("sitemap", req.SitemapURL))
	} else {
		logger.Info("crawl starting",
			zap.String("sitemap", req.SitemapURL),
			zap.Int("urls", len(urls)),
			zap.String("category", req.Category),
			zap.String("title", req.Title),
		)
	}

	engine, err := a.newEngine()
	if err != nil {
		return summary, fmt.Errorf("%w: build engine: %w", crawler.ErrSetup, err)
	}
	pipeline, err := sink.New(sink.Config{
		Prefix:      a.cfg.Storage.Prefix,
		ContentType: a.cfg.Storage.ContentType,
		Topic:       a.cfg.PubSub.TopicName,
	}, a.blobs, a.records, a.publisher, a.hasher, a.ids, a.clock, logger.Named("sink"))
	if err != nil {
		return summary, fmt.Errorf("%w: build sink: %w", crawler.ErrSetup, err)
	}
	resolver := worker.New(engine, a.converter, a.limiter, worker.Config{
		TaskTimeout: a.cfg.TaskTimeout(),
		CacheMode:   crawler.CacheMode(a.cfg.Crawler.CacheMode),
	}, a.logger.Named("worker"))

	d := dispatcher.New(dispatcher.Config{
		Concurrency:       a.cfg.Crawler.Concurrency,
		SinkFailurePolicy: a.cfg.Crawler.SinkFailurePolicy,
		RunID:             runID,
		Labels:            labels,
	}, engine, resolver, pipeline, a.sampler, a.hub, a.clock, a.logger.Named("dispatcher"))
	a.setCurrent(d)

	tally, runErr := d.Run(ctx, urls)
	summary.Succeeded = tally.Succeeded
	summary.Failed = tally.Failed
	summary.Batches = tally.Batches
	summary.PeakMemory = tally.PeakMemory
	summary.FinishedAt = a.clock.Now()
	if runErr != nil {
		summary.ErrorText = runErr.Error()
	}
	a.storeRun(ctx, summary, logger)
	return summary, runErr
}

func (a *App) storeRun(ctx context.Context, summary crawler.RunSummary, logger *zap.Logger) {
	if a.records == nil {
		return
	}
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeRunTimeout)
	defer cancel()
	if err := a.records.StoreRun(storeCtx, summary); err != nil {
		logger.Warn("failed to record run summary", zap.Error(err))
	}
}

func (a *App) setCurrent(d *dispatcher.Dispatcher) {
	a.mu.Lock()
	a.current = d
	a.mu.Unlock()
}

// Current reports the status of the most recent run.
func (a *App) Current() (dispatcher.Status, bool) {
	a.mu.Lock()
	d := a.current
	a.mu.Unlock()
	if d == nil {
		return dispatcher.Status{}, false
	}
	return d.Snapshot(), true
}

// ServeStatus runs the status server on server.port until ctx ends. It
// returns immediately when the port is 0.
func (a *App) ServeStatus(ctx context.Context) error {
	if a.cfg.Server.Port == 0 {
		return nil
	}
	srv := api.NewServer(api.Options{
		Runs:     a,
		Events:   a.hub,
		Ready:    a.ready,
		Gatherer: a.registry,
		Metrics:  a.collectors,
		Logger:   a.logger.Named("api"),
	})
	return srv.ListenAndServe(ctx, fmt.Sprintf(":%d", a.cfg.Server.Port))
}

func (a *App) ready(context.Context) error {
	if a.closed.Load() {
		return errors.New("shutting down")
	}
	return nil
}

// Registry exposes the Prometheus registry backing /metrics.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Close releases every service in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
