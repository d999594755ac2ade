// Package cleaner converts fetched HTML into the normalized text handed to the
// document sink: Markdown by default, or collapsed plain text.
package cleaner

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

// Output formats.
const (
	FormatMarkdown = "markdown"
	FormatText     = "text"
)

// minArticleLength is the shortest readability text accepted before falling
// back to the full document.
const minArticleLength = 50

// nonContent is always stripped before plain-text extraction.
const nonContent = "script, style, noscript, template, svg"

// Config controls conversion.
type Config struct {
	Format string
	// Readability narrows the page to its main article before conversion.
	Readability bool
	// ExcludeSelectors are removed from the DOM before conversion.
	ExcludeSelectors []string
}

// Cleaner implements crawler.Converter. It is safe for concurrent use.
type Cleaner struct {
	cfg      Config
	excludes []cascadia.Selector
	md       *converter.Converter
	logger   *zap.Logger
}

// New builds a Cleaner with a shared Markdown converter.
func New(cfg Config, logger *zap.Logger) (*Cleaner, error) {
	switch cfg.Format {
	case "":
		cfg.Format = FormatMarkdown
	case FormatMarkdown, FormatText:
	default:
		return nil, fmt.Errorf("unsupported content format %q", cfg.Format)
	}
	excludes := make([]cascadia.Selector, 0, len(cfg.ExcludeSelectors))
	for _, raw := range cfg.ExcludeSelectors {
		sel, err := cascadia.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("compile exclude selector %q: %w", raw, err)
		}
		excludes = append(excludes, sel)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{
		cfg:      cfg,
		excludes: excludes,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal)),
			),
		),
		logger: logger,
	}, nil
}

// Convert turns raw HTML into normalized text. An empty result is not an
// error; callers decide whether empty text is a failure.
func (c *Cleaner) Convert(rawHTML, sourceURL string) (crawler.Content, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return crawler.Content{}, fmt.Errorf("parse html: %w", err)
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	for _, sel := range c.excludes {
		doc.FindMatcher(sel).Remove()
	}

	html, err := doc.Html()
	if err != nil {
		return crawler.Content{}, fmt.Errorf("render html: %w", err)
	}
	if c.cfg.Readability {
		if article, ok := c.extractArticle(html, sourceURL); ok {
			html = article.Content
			if article.Title != "" {
				title = article.Title
			}
		}
	}

	var text string
	switch c.cfg.Format {
	case FormatText:
		text, err = plainText(html)
	default:
		text, err = c.md.ConvertString(html, converter.WithDomain(sourceURL))
		if err != nil {
			err = fmt.Errorf("convert markdown: %w", err)
		}
	}
	if err != nil {
		return crawler.Content{}, err
	}
	return crawler.Content{
		Title:  title,
		Text:   strings.TrimSpace(text),
		Format: c.cfg.Format,
	}, nil
}

func (c *Cleaner) extractArticle(html, sourceURL string) (readability.Article, bool) {
	parsed, err := url.Parse(sourceURL)
	if err != nil {
		c.logger.Debug("readability skipped: invalid url", zap.String("url", sourceURL), zap.Error(err))
		return readability.Article{}, false
	}
	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		c.logger.Debug("readability failed; using full document", zap.String("url", sourceURL), zap.Error(err))
		return readability.Article{}, false
	}
	if len(strings.TrimSpace(article.TextContent)) < minArticleLength {
		c.logger.Debug("readability article too short; using full document",
			zap.String("url", sourceURL),
			zap.Int("length", len(article.TextContent)),
		)
		return readability.Article{}, false
	}
	return article, true
}

func plainText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find(nonContent).Remove()
	return strings.Join(strings.Fields(doc.Text()), " "), nil
}
