// Package metrics owns the Prometheus collectors that sit outside the progress
// stream: status server traffic, rate-limit waits and sitemap intake.
package metrics

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors groups the collectors registered on one registry.
type Collectors struct {
	statusRequests *prometheus.CounterVec
	statusLatency  *prometheus.HistogramVec
	rateLimitWait  *prometheus.HistogramVec
	sitemapURLs    *prometheus.CounterVec
}

// New registers the collectors against reg, or the default registerer when reg is nil.
func New(reg prometheus.Registerer) (*Collectors, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collectors{
		statusRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_status_requests_total",
			Help: "Status server requests by method, route and response code.",
		}, []string{"method", "route", "code"}),
		statusLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_status_request_duration_seconds",
			Help:    "Status server latency by route.",
			Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.5, 2},
		}, []string{"route"}),
		rateLimitWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_rate_limit_wait_seconds",
			Help:    "Time tasks spent waiting for a per-host token.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"site"}),
		sitemapURLs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_sitemap_urls_total",
			Help: "URLs read from sitemaps, split into queued and blocked.",
		}, []string{"result"}),
	}
	for _, collector := range []prometheus.Collector{c.statusRequests, c.statusLatency, c.rateLimitWait, c.sitemapURLs} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register metrics collector: %w", err)
		}
	}
	return c, nil
}

// Handler serves the metrics gathered by g, or the default gatherer when g is nil.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// SanitizeSite reduces a URL or bare host to a lowercase hostname for use as a
// label value, or "unknown".
func SanitizeSite(raw string) string {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObserveStatusRequest records one status server request.
func (c *Collectors) ObserveStatusRequest(method, route string, code int, d time.Duration) {
	c.statusRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	c.statusLatency.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveRateLimitDelay records a per-host token wait.
func (c *Collectors) ObserveRateLimitDelay(site string, d time.Duration) {
	c.rateLimitWait.WithLabelValues(SanitizeSite(site)).Observe(d.Seconds())
}

// ObserveSitemap records how many sitemap URLs were queued and how many were
// skipped by the domain blocklist.
func (c *Collectors) ObserveSitemap(queued, blocked int) {
	c.sitemapURLs.WithLabelValues("queued").Add(float64(queued))
	c.sitemapURLs.WithLabelValues("blocked").Add(float64(blocked))
}
