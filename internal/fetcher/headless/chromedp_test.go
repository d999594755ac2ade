package headless

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	engine := New(Config{}, nil)
	require.Equal(t, defaultNavTimeout, engine.cfg.NavigationTimeout)
	require.Equal(t, defaultWaitSelector, engine.cfg.WaitSelector)

	engine = New(Config{NavigationTimeout: time.Second, WaitSelector: "#app"}, zap.NewNop())
	require.Equal(t, time.Second, engine.cfg.NavigationTimeout)
	require.Equal(t, "#app", engine.cfg.WaitSelector)
}

func TestFetchBeforeStart(t *testing.T) {
	t.Parallel()

	engine := New(Config{}, zap.NewNop())
	_, err := engine.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com", Session: "run-0"})
	require.ErrorIs(t, err, crawler.ErrEngineNotStarted)
}

func TestFetchRejectsActiveSession(t *testing.T) {
	t.Parallel()

	engine := New(Config{}, zap.NewNop())
	engine.browserCtx = context.Background()
	engine.launched = true
	engine.active["run-3"] = struct{}{}

	_, err := engine.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com", Session: "run-3"})
	require.ErrorIs(t, err, crawler.ErrSessionInUse)
	require.Contains(t, err.Error(), "run-3")

	// Releasing the session frees it for reuse.
	engine.release("run-3")
	_, err = engine.claim("run-3")
	require.NoError(t, err)
}

// TestTabOptionsRequestNewBrowserContext ensures every session tab asks for its
// own browser context. chromedp rejects a new browser context combined with an
// existing target, which only happens when the option is present.
func TestTabOptionsRequestNewBrowserContext(t *testing.T) {
	t.Parallel()

	parent, cancel := chromedp.NewRemoteAllocator(context.Background(), "ws://127.0.0.1:9222/devtools/browser/test")
	t.Cleanup(cancel)

	require.NotPanics(t, func() {
		tab, tabCancel := chromedp.NewContext(parent, tabOptions()...)
		require.NotNil(t, chromedp.FromContext(tab))
		tabCancel()
	})
	require.PanicsWithValue(t, "WithNewBrowserContext can not be used when WithTargetID is specified", func() {
		opts := append(tabOptions(), chromedp.WithTargetID("existing"))
		_, _ = chromedp.NewContext(parent, opts...)
	})
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()

	engine := New(Config{}, zap.NewNop())
	require.NoError(t, engine.Stop(context.Background()))
	require.NoError(t, engine.Stop(context.Background()))
}

func TestStopReleasesUnlaunchedBrowser(t *testing.T) {
	t.Parallel()

	engine := New(Config{}, zap.NewNop())
	var browserCanceled, allocCanceled bool
	engine.browserCtx = context.Background()
	engine.browserCancel = func() { browserCanceled = true }
	engine.allocCancel = func() { allocCanceled = true }

	require.NoError(t, engine.Stop(context.Background()))
	require.True(t, browserCanceled)
	require.True(t, allocCanceled)
	require.Nil(t, engine.browserCtx)
}

func TestAllocatorFlags(t *testing.T) {
	t.Parallel()

	opts := allocatorFlags([]string{"no-sandbox", "--log-level=3", "headless=false", " ", "="})
	require.Len(t, opts, 3)
	require.Empty(t, allocatorFlags(nil))
}

func TestFetchCanceledContextBeforeClaim(t *testing.T) {
	t.Parallel()

	engine := New(Config{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Fetch(ctx, crawler.FetchRequest{Session: "x"})
	require.True(t, errors.Is(err, crawler.ErrEngineNotStarted))
}
