// Package sqlite persists document and run records in an embedded SQLite
// database for single-host deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config selects the database file and table names.
type Config struct {
	// DSN is a file path or a modernc.org/sqlite URI such as "file:crawl.db".
	DSN            string
	DocumentsTable string
	RunsTable      string
}

// Store implements crawler.DocumentStore and crawler.RunStore.
type Store struct {
	db        *sql.DB
	documents string
	runs      string
}

// Open opens (creating if needed) the database and its tables.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	if cfg.DocumentsTable == "" {
		cfg.DocumentsTable = "documents"
	}
	if cfg.RunsTable == "" {
		cfg.RunsTable = "crawl_runs"
	}
	for _, table := range []string{cfg.DocumentsTable, cfg.RunsTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	if dir := fileDir(cfg.DSN); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; the driver serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000; PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}

	s := &Store{db: db, documents: cfg.DocumentsTable, runs: cfg.RunsTable}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

func (s *Store) createTables(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	url TEXT NOT NULL,
	final_url TEXT NOT NULL,
	category TEXT NOT NULL,
	title TEXT NOT NULL,
	page_title TEXT NOT NULL,
	format TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	blob_uri TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	bytes INTEGER NOT NULL,
	headless INTEGER NOT NULL,
	fetched_at TEXT NOT NULL
)`, s.documents),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_run_id_idx ON %[1]s (run_id)`, s.documents),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	sitemap_url TEXT NOT NULL,
	category TEXT NOT NULL,
	title TEXT NOT NULL,
	submitted INTEGER NOT NULL,
	succeeded INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	batches INTEGER NOT NULL,
	peak_memory_bytes INTEGER NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	error_text TEXT
)`, s.runs),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

// StoreDocument inserts a document row. Re-inserting the same ID is a no-op.
func (s *Store) StoreDocument(ctx context.Context, record crawler.DocumentRecord) error {
	if record.ID == "" {
		return errors.New("record id is required")
	}
	query := fmt.Sprintf(`INSERT OR IGNORE INTO %s (
	id, run_id, url, final_url, category, title, page_title, format,
	content_hash, blob_uri, status_code, bytes, headless, fetched_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.documents)
	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.RunID,
		record.URL,
		record.FinalURL,
		record.Category,
		record.Title,
		record.PageTitle,
		record.Format,
		record.Hash,
		record.BlobURI,
		record.StatusCode,
		record.Bytes,
		record.Headless,
		formatTime(record.FetchedAt),
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// StoreRun upserts a run summary.
func (s *Store) StoreRun(ctx context.Context, summary crawler.RunSummary) error {
	if summary.ID == "" {
		return errors.New("run id is required")
	}
	query := fmt.Sprintf(`INSERT INTO %s (
	id, sitemap_url, category, title, submitted, succeeded, failed, batches,
	peak_memory_bytes, started_at, finished_at, error_text
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	succeeded = excluded.succeeded,
	failed = excluded.failed,
	batches = excluded.batches,
	peak_memory_bytes = excluded.peak_memory_bytes,
	finished_at = excluded.finished_at,
	error_text = excluded.error_text`, s.runs)

	var errText sql.NullString
	if summary.ErrorText != "" {
		errText = sql.NullString{String: summary.ErrorText, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query,
		summary.ID,
		summary.SitemapURL,
		summary.Labels.Category,
		summary.Labels.Title,
		summary.Submitted,
		summary.Succeeded,
		summary.Failed,
		summary.Batches,
		int64(summary.PeakMemory), //nolint:gosec // resident memory never approaches 2^63
		formatTime(summary.StartedAt),
		formatTime(summary.FinishedAt),
		errText,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Run loads a run summary by ID.
func (s *Store) Run(ctx context.Context, id string) (crawler.RunSummary, error) {
	query := fmt.Sprintf(`SELECT id, sitemap_url, category, title, submitted, succeeded, failed,
	batches, peak_memory_bytes, started_at, finished_at, error_text FROM %s WHERE id = ?`, s.runs)
	var (
		summary           crawler.RunSummary
		peak              int64
		started, finished string
		errText           sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&summary.ID,
		&summary.SitemapURL,
		&summary.Labels.Category,
		&summary.Labels.Title,
		&summary.Submitted,
		&summary.Succeeded,
		&summary.Failed,
		&summary.Batches,
		&peak,
		&started,
		&finished,
		&errText,
	)
	if err != nil {
		return crawler.RunSummary{}, fmt.Errorf("load run %s: %w", id, err)
	}
	summary.PeakMemory = uint64(peak) //nolint:gosec // stored from a uint64
	summary.ErrorText = errText.String
	if summary.StartedAt, err = parseTime(started); err != nil {
		return crawler.RunSummary{}, err
	}
	if summary.FinishedAt, err = parseTime(finished); err != nil {
		return crawler.RunSummary{}, err
	}
	return summary, nil
}

// CountDocuments returns how many documents a run stored.
func (s *Store) CountDocuments(ctx context.Context, runID string) (int, error) {
	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE run_id = ?`, s.documents)
	if err := s.db.QueryRowContext(ctx, query, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}

// fileDir returns the parent directory of a file-backed DSN, or "" for
// in-memory databases.
func fileDir(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" || strings.HasPrefix(dsn, "file::memory:") {
		return ""
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return ""
	}
	return dir
}
