// Package sitemap discovers page URLs from sitemap.xml documents.
package sitemap

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultMaxDepth = 2

	urlsetLocs  = "//urlset/url/loc"
	indexLocs   = "//sitemapindex/sitemap/loc"
	anyLocation = "//loc"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Config controls sitemap discovery.
type Config struct {
	UserAgent string
	// Timeout bounds the whole discovery, nested sitemaps included.
	Timeout time.Duration
	// MaxDepth limits how many sitemap index levels are followed.
	MaxDepth int
}

// Source implements crawler.URLSource.
type Source struct {
	cfg       Config
	collector *colly.Collector
	logger    *zap.Logger
}

// New builds a Source.
func New(cfg Config, logger *zap.Logger) *Source {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)
	return &Source{cfg: cfg, collector: c, logger: logger}
}

// URLs returns every page location declared by the sitemap at endpoint, in
// document order. Failures are logged and yield whatever was collected so far.
func (s *Source) URLs(ctx context.Context, endpoint string) []string {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	seen := make(map[string]struct{})
	urls, err := s.collect(ctx, endpoint, 0, seen)
	if err != nil {
		s.logger.Error("error fetching sitemap", zap.String("sitemap", endpoint), zap.Error(err))
	}
	s.logger.Info("found URLs in sitemap", zap.String("sitemap", endpoint), zap.Int("total", len(urls)))
	return urls
}

func (s *Source) collect(ctx context.Context, endpoint string, depth int, seen map[string]struct{}) ([]string, error) {
	seen[endpoint] = struct{}{}
	body, err := s.fetch(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse sitemap %s: %w", endpoint, err)
	}

	if children := locations(doc, indexLocs); len(children) > 0 {
		return s.collectIndex(ctx, endpoint, children, depth, seen)
	}
	if urls := locations(doc, urlsetLocs); len(urls) > 0 {
		return urls, nil
	}
	return locations(doc, anyLocation), nil
}

func (s *Source) collectIndex(
	ctx context.Context,
	endpoint string,
	children []string,
	depth int,
	seen map[string]struct{},
) ([]string, error) {
	if depth+1 > s.cfg.MaxDepth {
		s.logger.Warn("sitemap index depth exceeded; skipping children",
			zap.String("sitemap", endpoint),
			zap.Int("children", len(children)),
			zap.Int("max_depth", s.cfg.MaxDepth),
		)
		return nil, nil
	}
	var urls []string
	for _, child := range children {
		if _, dup := seen[child]; dup {
			continue
		}
		found, err := s.collect(ctx, child, depth+1, seen)
		urls = append(urls, found...)
		if err != nil {
			if ctx.Err() != nil {
				return urls, err
			}
			s.logger.Warn("skipping nested sitemap", zap.String("sitemap", child), zap.Error(err))
		}
	}
	return urls, nil
}

func (s *Source) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	var (
		body     []byte
		fetchErr error
	)
	c := s.collector.Clone()
	c.Context = ctx
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(endpoint)
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch sitemap %s: %w", endpoint, ctx.Err())
	case err := <-done:
		if err == nil {
			err = fetchErr
		}
		if err != nil {
			return nil, fmt.Errorf("fetch sitemap %s: %w", endpoint, err)
		}
	}
	return decompress(body)
}

// decompress inflates .xml.gz payloads served without a gzip Content-Encoding.
func decompress(body []byte) ([]byte, error) {
	if !bytes.HasPrefix(body, gzipMagic) {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("open gzip sitemap: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("read gzip sitemap: %w", err)
	}
	return out, nil
}

func locations(doc *xmlquery.Node, expr string) []string {
	nodes := xmlquery.Find(doc, expr)
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if loc := strings.TrimSpace(n.InnerText()); loc != "" {
			out = append(out, loc)
		}
	}
	return out
}
