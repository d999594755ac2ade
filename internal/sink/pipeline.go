// Package sink persists converted documents: body to blob storage, metadata to
// the record store, and an optional notification to Pub/Sub.
package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

// Config controls blob naming and notification.
type Config struct {
	// Prefix is prepended to every blob path.
	Prefix string
	// ContentType overrides the format-derived content type when set.
	ContentType string
	// Topic enables notifications when non-empty.
	Topic string
}

// Pipeline implements crawler.DocumentSink.
type Pipeline struct {
	cfg       Config
	blobs     crawler.BlobStore
	records   crawler.DocumentStore
	publisher crawler.Publisher
	hasher    crawler.Hasher
	ids       crawler.IDGenerator
	clock     crawler.Clock
	logger    *zap.Logger
}

// New wires a Pipeline. records and publisher may be nil.
func New(
	cfg Config,
	blobs crawler.BlobStore,
	records crawler.DocumentStore,
	publisher crawler.Publisher,
	hasher crawler.Hasher,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	logger *zap.Logger,
) (*Pipeline, error) {
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if hasher == nil || ids == nil || clock == nil {
		return nil, errors.New("hasher, id generator and clock are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:       cfg,
		blobs:     blobs,
		records:   records,
		publisher: publisher,
		hasher:    hasher,
		ids:       ids,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Store writes one document. Any stage failing fails the whole store.
func (p *Pipeline) Store(ctx context.Context, doc crawler.Document) error {
	body := []byte(doc.Content)
	hash, err := p.hasher.Hash(body)
	if err != nil {
		return fmt.Errorf("hash content: %w", err)
	}

	blobPath := p.blobPath(doc, hash)
	uri, err := p.blobs.PutObject(ctx, blobPath, p.contentType(doc.Format), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}

	fetchedAt := doc.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = p.clock.Now()
	}
	id, err := p.ids.NewID()
	if err != nil {
		return fmt.Errorf("document id: %w", err)
	}
	record := crawler.DocumentRecord{
		ID:         id,
		RunID:      doc.RunID,
		URL:        doc.URL,
		FinalURL:   doc.FinalURL,
		Category:   doc.Labels.Category,
		Title:      doc.Labels.Title,
		PageTitle:  doc.PageTitle,
		Format:     doc.Format,
		Hash:       hash,
		BlobURI:    uri,
		StatusCode: doc.StatusCode,
		Bytes:      len(body),
		Headless:   doc.Headless,
		FetchedAt:  fetchedAt,
	}
	if p.records != nil {
		if err := p.records.StoreDocument(ctx, record); err != nil {
			return fmt.Errorf("record document: %w", err)
		}
	}
	if err := p.publish(ctx, record); err != nil {
		return err
	}

	p.logger.Debug("document stored",
		zap.String("url", doc.URL),
		zap.String("blob_uri", uri),
		zap.String("hash", hash),
		zap.Int("bytes", len(body)),
	)
	return nil
}

func (p *Pipeline) publish(ctx context.Context, record crawler.DocumentRecord) error {
	if p.cfg.Topic == "" || p.publisher == nil {
		return nil
	}
	payload := map[string]any{
		"document_id": record.ID,
		"run_id":      record.RunID,
		"url":         record.URL,
		"category":    record.Category,
		"title":       record.Title,
		"blob_uri":    record.BlobURI,
		"hash":        record.Hash,
		"format":      record.Format,
		"bytes":       record.Bytes,
		"headless":    record.Headless,
		"timestamp":   record.FetchedAt.Format(time.RFC3339),
	}
	if _, err := p.publisher.Publish(ctx, p.cfg.Topic, payload); err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	return nil
}

// blobPath builds prefix/category/run/hash.ext, skipping empty segments.
func (p *Pipeline) blobPath(doc crawler.Document, hash string) string {
	parts := make([]string, 0, 4)
	if prefix := strings.Trim(p.cfg.Prefix, "/"); prefix != "" {
		parts = append(parts, prefix)
	}
	if category := slug(doc.Labels.Category); category != "" {
		parts = append(parts, category)
	}
	if doc.RunID != "" {
		parts = append(parts, doc.RunID)
	}
	parts = append(parts, hash+extension(doc.Format))
	return strings.Join(parts, "/")
}

func (p *Pipeline) contentType(format string) string {
	if p.cfg.ContentType != "" && format != "text" {
		return p.cfg.ContentType
	}
	if format == "text" {
		return "text/plain; charset=utf-8"
	}
	return "text/markdown; charset=utf-8"
}

func extension(format string) string {
	if format == "text" {
		return ".txt"
	}
	return ".md"
}

// slug lowercases s and keeps letters, digits, dashes and underscores.
func slug(s string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			b.WriteRune(r)
			lastDash = false
		case !lastDash && b.Len() > 0:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
