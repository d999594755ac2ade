package crawler

import (
	"bytes"
	"net/http"
	"time"
)

// CacheMode controls whether the fetch engine may serve a cached copy.
type CacheMode string

// Supported cache modes.
const (
	CacheBypass  CacheMode = "bypass"
	CacheEnabled CacheMode = "enabled"
)

// SessionID names the fetch-engine session of a single task. Engines give each
// session its own state: a disposable browser context in the headless engine
// and a fresh cookie jar in the HTTP engine.
type SessionID string

// FetchRequest describes a single page fetch.
type FetchRequest struct {
	URL       string
	Session   SessionID
	CacheMode CacheMode
	Headers   http.Header
}

// FetchResponse captures the result of a fetch.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// OK reports whether the response carries usable page content.
func (r FetchResponse) OK() bool {
	if r.StatusCode < 200 || r.StatusCode >= 400 {
		return false
	}
	return len(bytes.TrimSpace(r.Body)) > 0
}

// Task is one URL scheduled inside a batch.
type Task struct {
	// Index is the position of the URL in the full input list.
	Index   int
	URL     string
	Session SessionID
}

// OutcomeKind tags how a task resolved.
type OutcomeKind int

// Outcome kinds.
const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeContentFailure
	OutcomeRaisedError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeContentFailure:
		return "content_failure"
	case OutcomeRaisedError:
		return "raised_error"
	default:
		return "unknown"
	}
}

// Content is normalized page text produced by a Converter.
type Content struct {
	Title  string
	Text   string
	Format string
}

// Outcome is the resolved result of a single task.
type Outcome struct {
	Kind    OutcomeKind
	Content Content
	Page    FetchResponse
	// Err is set for raised errors and carries a reason for content failures.
	Err error
}

// Tally accumulates run-level counters. It is owned by a single goroutine.
type Tally struct {
	Succeeded  int
	Failed     int
	Batches    int
	PeakMemory uint64
}

// ObserveMemory folds a resident-memory sample into the peak and returns it.
func (t *Tally) ObserveMemory(sample uint64) uint64 {
	if sample > t.PeakMemory {
		t.PeakMemory = sample
	}
	return t.PeakMemory
}

// Total returns the number of URLs accounted for.
func (t Tally) Total() int {
	return t.Succeeded + t.Failed
}

// Labels are the operator-supplied tags attached to every stored document.
type Labels struct {
	Category string `json:"category"`
	Title    string `json:"title"`
}

// Document is what the document sink persists for a successful task.
type Document struct {
	RunID      string
	URL        string
	FinalURL   string
	StatusCode int
	Labels     Labels
	PageTitle  string
	Content    string
	Format     string
	Headless   bool
	FetchedAt  time.Time
}

// DocumentRecord is the metadata row written once a document body is stored.
type DocumentRecord struct {
	ID         string
	RunID      string
	URL        string
	FinalURL   string
	Category   string
	Title      string
	PageTitle  string
	Format     string
	Hash       string
	BlobURI    string
	StatusCode int
	Bytes      int
	Headless   bool
	FetchedAt  time.Time
}

// RunSummary is the persisted outcome of one crawl run.
type RunSummary struct {
	ID         string    `json:"id"`
	SitemapURL string    `json:"sitemap_url"`
	Labels     Labels    `json:"labels"`
	Submitted  int       `json:"submitted"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Batches    int       `json:"batches"`
	PeakMemory uint64    `json:"peak_memory_bytes"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	ErrorText  string    `json:"error,omitempty"`
}
