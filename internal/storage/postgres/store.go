// Package postgres persists document and run records in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

const (
	defaultDocumentsTable = "documents"
	defaultRunsTable      = "crawl_runs"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	DocumentsTable  string
	RunsTable       string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Store implements crawler.DocumentStore and crawler.RunStore.
type Store struct {
	pool      execCloser
	documents string
	runs      string
}

// NewStore connects a pool using cfg.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewStoreWithPool(pool, cfg.DocumentsTable, cfg.RunsTable)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(pool execCloser, documentsTable, runsTable string) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if documentsTable == "" {
		documentsTable = defaultDocumentsTable
	}
	if runsTable == "" {
		runsTable = defaultRunsTable
	}
	for _, table := range []string{documentsTable, runsTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &Store{pool: pool, documents: documentsTable, runs: runsTable}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the record tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
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
	headless BOOLEAN NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL
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
	peak_memory_bytes BIGINT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	error_text TEXT
)`, s.runs),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// StoreDocument inserts a document row. Re-inserting the same ID is a no-op.
func (s *Store) StoreDocument(ctx context.Context, record crawler.DocumentRecord) error {
	if record.ID == "" {
		return errors.New("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	run_id,
	url,
	final_url,
	category,
	title,
	page_title,
	format,
	content_hash,
	blob_uri,
	status_code,
	bytes,
	headless,
	fetched_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
) ON CONFLICT (id) DO NOTHING`, s.documents)

	args := []any{
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
		record.FetchedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// StoreRun upserts a run summary.
func (s *Store) StoreRun(ctx context.Context, summary crawler.RunSummary) error {
	if summary.ID == "" {
		return errors.New("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	sitemap_url,
	category,
	title,
	submitted,
	succeeded,
	failed,
	batches,
	peak_memory_bytes,
	started_at,
	finished_at,
	error_text
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
) ON CONFLICT (id) DO UPDATE SET
	succeeded = EXCLUDED.succeeded,
	failed = EXCLUDED.failed,
	batches = EXCLUDED.batches,
	peak_memory_bytes = EXCLUDED.peak_memory_bytes,
	finished_at = EXCLUDED.finished_at,
	error_text = EXCLUDED.error_text`, s.runs)

	args := []any{
		summary.ID,
		summary.SitemapURL,
		summary.Labels.Category,
		summary.Labels.Title,
		summary.Submitted,
		summary.Succeeded,
		summary.Failed,
		summary.Batches,
		int64(summary.PeakMemory), //nolint:gosec // resident memory never approaches 2^63
		summary.StartedAt,
		summary.FinishedAt,
		nullableText(summary.ErrorText),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
