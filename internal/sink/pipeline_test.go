package sink

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/clock/system"
	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/hash/sha256"
	pubmemory "github.com/JakeFAU/sitemap-crawler/internal/publisher/memory"
	"github.com/JakeFAU/sitemap-crawler/internal/storage/memory"
)

type recordStore struct {
	records []crawler.DocumentRecord
	err     error
}

func (s *recordStore) StoreDocument(_ context.Context, record crawler.DocumentRecord) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}

type seqIDs struct{ n int }

func (g *seqIDs) NewID() (string, error) {
	g.n++
	return "doc-" + string(rune('0'+g.n)), nil
}

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket unavailable")
}

var fetchedAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleDoc() crawler.Document {
	return crawler.Document{
		RunID:      "run-1",
		URL:        "https://example.com/a",
		FinalURL:   "https://example.com/a/",
		StatusCode: 200,
		Labels:     crawler.Labels{Category: "Product Docs", Title: "Guide"},
		PageTitle:  "A",
		Content:    "hello world",
		Format:     "markdown",
		FetchedAt:  fetchedAt,
	}
}

const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func newPipeline(t *testing.T, cfg Config, blobs crawler.BlobStore, records crawler.DocumentStore, pub crawler.Publisher) *Pipeline {
	t.Helper()
	p, err := New(cfg, blobs, records, pub, sha256.New(), &seqIDs{}, system.NewFixed(fetchedAt), zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestStoreWritesBlobRecordAndNotification(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	records := &recordStore{}
	pub := pubmemory.New()
	p := newPipeline(t, Config{Prefix: "/kb/", Topic: "documents"}, blobs, records, pub)

	require.NoError(t, p.Store(context.Background(), sampleDoc()))

	wantPath := "kb/product-docs/run-1/" + helloDigest + ".md"
	obj, ok := blobs.Get(wantPath)
	require.True(t, ok, "stored paths: %v", blobs.Paths())
	require.Equal(t, "hello world", string(obj.Data))
	require.Equal(t, "text/markdown; charset=utf-8", obj.ContentType)

	require.Len(t, records.records, 1)
	rec := records.records[0]
	require.Equal(t, "doc-1", rec.ID)
	require.Equal(t, "memory://"+wantPath, rec.BlobURI)
	require.Equal(t, helloDigest, rec.Hash)
	require.Equal(t, "Product Docs", rec.Category)
	require.Equal(t, "Guide", rec.Title)
	require.Equal(t, 11, rec.Bytes)
	require.Equal(t, fetchedAt, rec.FetchedAt)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "documents", msgs[0].Topic)
	var payload map[string]any
	require.NoError(t, pub.Decode(0, &payload))
	require.Equal(t, "https://example.com/a", payload["url"])
	require.Equal(t, "memory://"+wantPath, payload["blob_uri"])
	require.Equal(t, "2025-03-01T12:00:00Z", payload["timestamp"])
}

func TestStoreTextFormatWithoutOptionalStages(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	p := newPipeline(t, Config{ContentType: "text/markdown"}, blobs, nil, nil)

	doc := sampleDoc()
	doc.Format = "text"
	doc.Labels = crawler.Labels{}
	doc.FetchedAt = time.Time{}
	require.NoError(t, p.Store(context.Background(), doc))

	obj, ok := blobs.Get("run-1/" + helloDigest + ".txt")
	require.True(t, ok, "stored paths: %v", blobs.Paths())
	require.Equal(t, "text/plain; charset=utf-8", obj.ContentType)
}

func TestStoreSkipsPublishWithoutTopic(t *testing.T) {
	t.Parallel()

	pub := pubmemory.New()
	p := newPipeline(t, Config{}, memory.NewBlobStore(), nil, pub)
	require.NoError(t, p.Store(context.Background(), sampleDoc()))
	require.Empty(t, pub.Messages())
}

func TestStoreFailures(t *testing.T) {
	t.Parallel()

	t.Run("blob", func(t *testing.T) {
		t.Parallel()
		p := newPipeline(t, Config{}, failingBlobs{}, nil, nil)
		err := p.Store(context.Background(), sampleDoc())
		require.ErrorContains(t, err, "put object")
	})

	t.Run("record", func(t *testing.T) {
		t.Parallel()
		records := &recordStore{err: errors.New("db down")}
		p := newPipeline(t, Config{}, memory.NewBlobStore(), records, nil)
		err := p.Store(context.Background(), sampleDoc())
		require.ErrorContains(t, err, "record document")
	})

	t.Run("publish", func(t *testing.T) {
		t.Parallel()
		pub := pubmemory.New()
		pub.FailWith(errors.New("broker down"))
		p := newPipeline(t, Config{Topic: "documents"}, memory.NewBlobStore(), nil, pub)
		err := p.Store(context.Background(), sampleDoc())
		require.ErrorContains(t, err, "publish payload")
	})
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, nil, nil, sha256.New(), &seqIDs{}, system.New(), nil)
	require.Error(t, err)
	_, err = New(Config{}, memory.NewBlobStore(), nil, nil, nil, &seqIDs{}, system.New(), nil)
	require.Error(t, err)
}

func TestSlug(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Product Docs":  "product-docs",
		"  API / v2  ":  "api-v2",
		"release_notes": "release_notes",
		"../../etc":     "etc",
		"":              "",
		"Café Menu!":    "café-menu",
	}
	for in, want := range cases {
		require.Equal(t, want, slug(in), "slug(%q)", in)
	}
}
