package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://Docs.Example.com/a?b=c": "docs.example.com",
		"example.com/path":               "example.com",
		"example.com:8080":               "example.com",
		"ftp://files.example.org":        "files.example.org",
		"10.0.0.7":                       "10.0.0.7",
		"http://%":                       "unknown",
		"":                               "unknown",
	}
	for in, want := range cases {
		require.Equal(t, want, SanitizeSite(in), "input %q", in)
	}
}

func FuzzSanitizeSite(f *testing.F) {
	for _, seed := range []string{"https://example.com", "example.com:1", "::", "%zz"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, raw string) {
		site := SanitizeSite(raw)
		if site == "" || site != strings.ToLower(site) {
			t.Errorf("SanitizeSite(%q) = %q", raw, site)
		}
	})
}

func TestNewRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	require.ErrorContains(t, err, "register metrics collector")
}

func TestObserveRateLimitDelay(t *testing.T) {
	t.Parallel()

	c, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	c.ObserveRateLimitDelay("https://Docs.example.com/a", 250*time.Millisecond)
	c.ObserveRateLimitDelay("docs.example.com", time.Second)
	require.Equal(t, 1, testutil.CollectAndCount(c.rateLimitWait, "crawler_rate_limit_wait_seconds"))
}

func TestObserveSitemap(t *testing.T) {
	t.Parallel()

	c, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	c.ObserveSitemap(12, 3)
	c.ObserveSitemap(4, 0)
	require.InDelta(t, 16.0, testutil.ToFloat64(c.sitemapURLs.WithLabelValues("queued")), 1e-9)
	require.InDelta(t, 3.0, testutil.ToFloat64(c.sitemapURLs.WithLabelValues("blocked")), 1e-9)
}

func TestHandlerServesRegistry(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)
	c.ObserveSitemap(1, 0)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `crawler_sitemap_urls_total{result="queued"} 1`)
}
