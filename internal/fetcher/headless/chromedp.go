// Package headless implements the browser fetch engine on top of chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

const (
	defaultNavTimeout   = 45 * time.Second
	defaultWaitSelector = "body"
)

// Config controls the behavior of the browser engine.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
	// WaitSelector must be ready before the DOM is captured.
	WaitSelector string
	// Settle is an extra pause after WaitSelector for late scripts.
	Settle time.Duration
	// Flags are Chrome switches in "name" or "name=value" form.
	Flags []string
	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
}

// Engine implements crawler.Engine with one shared browser and one tab per session.
type Engine struct {
	cfg    Config
	logger *zap.Logger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	launched      bool
	active        map[crawler.SessionID]struct{}
}

// New creates an engine. The browser is not launched until Start.
func New(cfg Config, logger *zap.Logger) *Engine {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = defaultWaitSelector
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg,
		logger: logger,
		active: make(map[crawler.SessionID]struct{}),
	}
}

// Start launches the browser. A failed Start still leaves state that Stop releases.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.browserCtx != nil {
		return nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:], allocatorFlags(e.cfg.Flags)...)
	if e.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(e.cfg.UserAgent))
	}
	if e.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(e.cfg.ExecPath))
	}
	// The browser outlives the caller's start context.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	e.allocCancel = allocCancel
	e.browserCtx = browserCtx
	e.browserCancel = browserCancel

	launched := make(chan error, 1)
	go func() {
		launched <- chromedp.Run(browserCtx)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("launch browser: %w", ctx.Err())
	case err := <-launched:
		if err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
	}
	e.launched = true
	e.logger.Info("browser started", zap.Int("flags", len(e.cfg.Flags)))
	return nil
}

// Stop closes the browser. It is safe to call more than once and after a failed Start.
func (e *Engine) Stop(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.browserCtx == nil {
		return nil
	}

	var err error
	if e.launched {
		if cerr := chromedp.Cancel(e.browserCtx); cerr != nil && !errors.Is(cerr, context.Canceled) {
			err = fmt.Errorf("close browser: %w", cerr)
		}
	}
	e.browserCancel()
	e.allocCancel()
	e.browserCtx, e.browserCancel, e.allocCancel = nil, nil, nil
	e.launched = false
	e.logger.Info("browser stopped")
	return err
}

// Fetch opens a fresh tab in a disposable browser context for the session,
// renders the page, and returns its DOM.
func (e *Engine) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	browserCtx, err := e.claim(request.Session)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	defer e.release(request.Session)

	tabCtx, tabCancel := chromedp.NewContext(browserCtx, tabOptions()...)
	defer tabCancel()
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	tabCtx, cancel := context.WithTimeout(tabCtx, e.cfg.NavigationTimeout)
	defer cancel()

	doc := &documentTracker{}
	chromedp.ListenTarget(tabCtx, doc.listen)

	start := time.Now()
	html, finalURL, err := e.render(tabCtx, request)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.FetchResponse{}, fmt.Errorf("headless fetch canceled: %w", ctx.Err())
		}
		return crawler.FetchResponse{}, err
	}

	status, headers, responseURL := doc.result(request.URL, finalURL)
	e.logger.Debug("page rendered",
		zap.String("session", string(request.Session)),
		zap.String("url", responseURL),
		zap.Int("status", status),
		zap.Int("bytes", len(html)),
	)

	return crawler.FetchResponse{
		URL:          responseURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

// tabOptions opens each session's tab in its own browser context, so
// concurrent sessions never share cookies, storage or cache. The context is
// disposed when the tab is canceled.
func tabOptions() []chromedp.ContextOption {
	return []chromedp.ContextOption{chromedp.WithNewBrowserContext()}
}

func (e *Engine) claim(session crawler.SessionID) (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.browserCtx == nil || !e.launched {
		return nil, crawler.ErrEngineNotStarted
	}
	if _, busy := e.active[session]; busy {
		return nil, fmt.Errorf("%w: %s", crawler.ErrSessionInUse, session)
	}
	e.active[session] = struct{}{}
	return e.browserCtx, nil
}

func (e *Engine) release(session crawler.SessionID) {
	e.mu.Lock()
	delete(e.active, session)
	e.mu.Unlock()
}

func (e *Engine) render(ctx context.Context, request crawler.FetchRequest) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		e.networkSetupAction(request),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady(e.cfg.WaitSelector, chromedp.ByQuery),
	}
	if e.cfg.Settle > 0 {
		actions = append(actions, chromedp.Sleep(e.cfg.Settle))
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (e *Engine) networkSetupAction(request crawler.FetchRequest) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if request.CacheMode == crawler.CacheBypass {
			if err := network.SetCacheDisabled(true).Do(ctx); err != nil {
				return fmt.Errorf("disable cache: %w", err)
			}
		}
		if e.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(e.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(request.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(cdpHeaders(request.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// allocatorFlags turns "name" and "name=value" switches into allocator options.
func allocatorFlags(flags []string) []chromedp.ExecAllocatorOption {
	opts := make([]chromedp.ExecAllocatorOption, 0, len(flags))
	for _, raw := range flags {
		name, value, hasValue := strings.Cut(strings.TrimLeft(strings.TrimSpace(raw), "-"), "=")
		if name == "" {
			continue
		}
		if !hasValue {
			opts = append(opts, chromedp.Flag(name, true))
			continue
		}
		if b, err := strconv.ParseBool(value); err == nil {
			opts = append(opts, chromedp.Flag(name, b))
			continue
		}
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}
