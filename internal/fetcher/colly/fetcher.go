// Package collyfetcher implements the plain HTTP fetch engine using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

const (
	defaultTimeout  = 15 * time.Second
	defaultMaxBytes = 10 << 20
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBodyBytes truncates larger bodies. Zero uses 10 MiB.
	MaxBodyBytes int
}

// Engine fetches pages over plain HTTP. Every Fetch runs on its own collector
// with a fresh cookie jar; collectors share only the connection pool.
type Engine struct {
	cfg       Config
	transport *http.Transport
	started   atomic.Bool
	logger    *zap.Logger
}

// New builds an Engine.
func New(cfg Config, logger *zap.Logger) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Engine{cfg: cfg, transport: transport, logger: logger}
}

// newCollector builds the collector for one session. Colly clones share their
// parent's HTTP backend and with it the cookie jar, so sessions never clone.
func (e *Engine) newCollector() *colly.Collector {
	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(e.cfg.MaxBodyBytes),
	)
	if e.cfg.UserAgent != "" {
		c.UserAgent = e.cfg.UserAgent
	}
	c.WithTransport(e.transport)
	c.SetRequestTimeout(e.cfg.Timeout)
	return c
}

// Start marks the engine ready.
func (e *Engine) Start(context.Context) error {
	e.started.Store(true)
	return nil
}

// Stop drops pooled connections.
func (e *Engine) Stop(context.Context) error {
	if e.started.Swap(false) {
		e.transport.CloseIdleConnections()
	}
	return nil
}

// Fetch GETs request.URL. HTTP error statuses come back as responses, not errors.
func (e *Engine) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if !e.started.Load() {
		return crawler.FetchResponse{}, crawler.ErrEngineNotStarted
	}

	v := &visit{request: request, start: time.Now()}
	collector := e.newCollector()
	collector.Context = ctx
	collector.OnRequest(v.onRequest)
	collector.OnResponse(v.onResponse)
	collector.OnError(v.onError)

	// Visit only returns once the transport gives up, so race it against ctx.
	done := make(chan error, 1)
	go func() { done <- collector.Visit(request.URL) }()
	select {
	case <-ctx.Done():
		return crawler.FetchResponse{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("colly visit failed: %w", err)
		}
	}
	if v.err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("colly response failed: %w", v.err)
	}

	e.logger.Debug("page fetched",
		zap.String("session", string(request.Session)),
		zap.String("url", v.result.URL),
		zap.Int("status", v.result.StatusCode),
		zap.Int("bytes", len(v.result.Body)),
	)
	return v.result, nil
}

// visit collects the callbacks of one collector run.
type visit struct {
	request crawler.FetchRequest
	start   time.Time
	result  crawler.FetchResponse
	err     error
}

func (v *visit) onRequest(r *colly.Request) {
	if v.request.CacheMode == crawler.CacheBypass {
		r.Headers.Set("Cache-Control", "no-cache")
		r.Headers.Set("Pragma", "no-cache")
	}
	for key, values := range v.request.Headers {
		for _, value := range values {
			r.Headers.Add(key, value)
		}
	}
}

func (v *visit) onResponse(r *colly.Response) {
	v.result = crawler.FetchResponse{
		URL:        r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Headers:    r.Headers.Clone(),
		Body:       append([]byte(nil), r.Body...),
		Duration:   time.Since(v.start),
	}
}

func (v *visit) onError(_ *colly.Response, err error) {
	v.err = err
}
