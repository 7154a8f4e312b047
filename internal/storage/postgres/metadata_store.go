// Package postgres mirrors run metadata into Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/pdfcrawler/internal/crawler"
)

const defaultTable = "document_fetches"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for metadata rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// MetadataStore writes metadata records and run summaries into Postgres.
type MetadataStore struct {
	pool  execCloser
	table string
}

// New creates a Postgres-backed MetadataStore using the provided config.
func New(ctx context.Context, cfg Config) (*MetadataStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("metadata.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	return &MetadataStore{pool: pool, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table string) (*MetadataStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &MetadataStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Table returns the metadata table name; run summaries live in Table()+"_runs".
func (s *MetadataStore) Table() string {
	return s.table
}

// EnsureSchema creates the metadata and run tables when missing.
func (s *MetadataStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id         TEXT        NOT NULL,
	document_url   TEXT        NOT NULL,
	source_url     TEXT        NOT NULL,
	outcome        TEXT        NOT NULL,
	local_path     TEXT,
	byte_size      BIGINT,
	content_sha256 TEXT,
	failure_reason TEXT,
	completed_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, document_url)
)`, s.table),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s_runs (
	run_id              TEXT PRIMARY KEY,
	started_at          TIMESTAMPTZ NOT NULL,
	finished_at         TIMESTAMPTZ,
	status              TEXT        NOT NULL,
	pages_visited       BIGINT      NOT NULL DEFAULT 0,
	documents_succeeded BIGINT      NOT NULL DEFAULT 0,
	documents_failed    BIGINT      NOT NULL DEFAULT 0
)`, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure metadata schema: %w", err)
		}
	}
	return nil
}

// Insert writes one metadata record. Re-inserting the same document for a run
// is a no-op.
func (s *MetadataStore) Insert(ctx context.Context, rec crawler.MetadataRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("metadata store is not configured")
	}
	if rec.RunID == "" || rec.DocumentURL == "" {
		return fmt.Errorf("run id and document url are required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	document_url,
	source_url,
	outcome,
	local_path,
	byte_size,
	content_sha256,
	failure_reason,
	completed_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
) ON CONFLICT (run_id, document_url) DO NOTHING`, s.table)

	args := []any{
		rec.RunID,
		rec.DocumentURL,
		rec.SourceURL,
		string(rec.Outcome),
		nullable(rec.LocalPath),
		rec.ByteSize,
		nullable(rec.ContentSHA256),
		nullable(string(rec.FailureReason)),
		rec.CompletedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert metadata: %w", err)
	}
	return nil
}

// StartRun records that a run began.
func (s *MetadataStore) StartRun(ctx context.Context, runID string, startedAt time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s_runs (run_id, started_at, status)
VALUES ($1, $2, $3)
ON CONFLICT (run_id) DO UPDATE SET status = EXCLUDED.status`, s.table)
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, "running"); err != nil {
		return fmt.Errorf("insert run start: %w", err)
	}
	return nil
}

// RunTotals are the counters stored with a finished run.
type RunTotals struct {
	PagesVisited       int64
	DocumentsSucceeded int64
	DocumentsFailed    int64
}

// FinishRun stores the final status and totals of a run.
func (s *MetadataStore) FinishRun(ctx context.Context, runID string, finishedAt time.Time, status string, totals RunTotals) error {
	query := fmt.Sprintf(`
UPDATE %s_runs
SET finished_at = $2,
	status = $3,
	pages_visited = $4,
	documents_succeeded = $5,
	documents_failed = $6
WHERE run_id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, runID, finishedAt, status,
		totals.PagesVisited, totals.DocumentsSucceeded, totals.DocumentsFailed)
	if err != nil {
		return fmt.Errorf("update run finish: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *MetadataStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
