package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Engine is a Fetcher with an explicit lifecycle. Start is called once before
// any Fetch and Stop exactly once afterwards, even when Start failed.
type Engine interface {
	Fetcher
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// DocumentSink persists converted page text.
type DocumentSink interface {
	Store(ctx context.Context, doc Document) error
}

// URLSource lists the URLs declared by a sitemap. It never fails; problems are
// logged and yield an empty list.
type URLSource interface {
	URLs(ctx context.Context, endpoint string) []string
}

// MemorySampler reports the resident memory of the current process in bytes.
type MemorySampler interface {
	Sample() uint64
}

// Converter turns raw HTML into normalized text.
type Converter interface {
	Convert(rawHTML, sourceURL string) (Content, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// RateLimiter throttles fetches per host.
type RateLimiter interface {
	Wait(ctx context.Context, url string) error
}

// BlobStore writes document bodies and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// DocumentStore records metadata for stored documents.
type DocumentStore interface {
	StoreDocument(ctx context.Context, record DocumentRecord) error
}

// RunStore records run summaries.
type RunStore interface {
	StoreRun(ctx context.Context, summary RunSummary) error
}

// Publisher pushes stored-document notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
