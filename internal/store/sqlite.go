package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"jobmate/scrape-service/internal/scrapejob"
)

// SQLiteSchema creates the scrape_jobs table. Timestamps are unix nanoseconds.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS scrape_jobs (
	id               TEXT    PRIMARY KEY,
	user_id          TEXT    NOT NULL,
	search_params    TEXT    NOT NULL,
	status           TEXT    NOT NULL,
	raw_results      TEXT,
	filtered_results TEXT,
	enriched_results TEXT,
	error_message    TEXT,
	abort_requested  INTEGER NOT NULL DEFAULT 0,
	provider_handle  TEXT    NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scrape_jobs_updated ON scrape_jobs(status, updated_at);
`

const sqliteColumns = `id, user_id, search_params, status, raw_results, filtered_results,
	enriched_results, error_message, abort_requested, provider_handle, created_at, updated_at`

// SQLite stores requests in a local SQLite database (modernc driver).
type SQLite struct {
	db    *sql.DB
	clock func() time.Time
}

// NewSQLite returns a SQLite store on an open database.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db, clock: time.Now}
}

// WithClock replaces the timestamp source.
func (s *SQLite) WithClock(clock func() time.Time) *SQLite {
	s.clock = clock
	return s
}

// Migrate applies SQLiteSchema.
func (s *SQLite) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, SQLiteSchema); err != nil {
		return fmt.Errorf("migrate scrape_jobs: %w", err)
	}
	return nil
}

func (s *SQLite) Create(ctx context.Context, req *scrapejob.JobRequest) error {
	params, err := json.Marshal(req.SearchParams)
	if err != nil {
		return fmt.Errorf("encode search_params: %w", err)
	}
	now := s.clock().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scrape_jobs (id, user_id, search_params, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		req.ID, req.UserID, string(params), string(req.Status), now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert scrape_job: %w", err)
	}
	req.CreatedAt = time.Unix(0, now.UnixNano()).UTC()
	req.UpdatedAt = req.CreatedAt
	return nil
}

func (s *SQLite) Get(ctx context.Context, id string) (*scrapejob.JobRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM scrape_jobs WHERE id = ?`, id)
	req, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, scrapejob.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scrape_job: %w", err)
	}
	return req, nil
}

func (s *SQLite) Advance(ctx context.Context, id string, from, to scrapejob.Status, u scrapejob.Update) (*scrapejob.JobRequest, error) {
	if !scrapejob.IsTransitionAllowed(from, to) {
		return nil, fmt.Errorf("transition %s → %s is not allowed", from, to)
	}
	cols, err := updateArgs(u)
	if err != nil {
		return nil, err
	}

	args := append([]any{id, string(from), string(to)}, cols...)
	args = append(args, s.clock().UTC().UnixNano())
	row := s.db.QueryRowContext(ctx,
		`UPDATE scrape_jobs
		 SET status           = ?3,
		     raw_results      = COALESCE(?4, raw_results),
		     filtered_results = COALESCE(?5, filtered_results),
		     enriched_results = COALESCE(?6, enriched_results),
		     error_message    = COALESCE(?7, error_message),
		     provider_handle  = COALESCE(?8, provider_handle),
		     updated_at       = ?9
		 WHERE id = ?1
		   AND status = ?2
		   AND (abort_requested = 0 OR ?3 IN ('failed', 'cancelled'))
		 RETURNING `+sqliteColumns,
		args...,
	)
	req, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.advanceRejection(ctx, id, from)
	}
	if err != nil {
		return nil, fmt.Errorf("advance scrape_job: %w", err)
	}
	return req, nil
}

func (s *SQLite) advanceRejection(ctx context.Context, id string, from scrapejob.Status) error {
	var (
		status  string
		aborted bool
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT status, abort_requested FROM scrape_jobs WHERE id = ?`, id,
	).Scan(&status, &aborted)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return scrapejob.ErrNotFound
	case err != nil:
		return fmt.Errorf("advance scrape_job: %w", err)
	case status != string(from):
		return scrapejob.ErrConflict
	case aborted:
		return scrapejob.ErrAborted
	}
	return scrapejob.ErrConflict
}

func (s *SQLite) RequestAbort(ctx context.Context, id string) (*scrapejob.JobRequest, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scrape_jobs SET abort_requested = 1
		 WHERE id = ? AND status IN `+activeStatuses,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("request abort: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *SQLite) ListStale(ctx context.Context, before time.Time) ([]scrapejob.JobRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+`
		 FROM scrape_jobs
		 WHERE status IN `+activeStatuses+` AND updated_at < ?
		 ORDER BY updated_at`,
		before.UTC().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("list stale scrape_jobs: %w", err)
	}
	defer rows.Close()

	var out []scrapejob.JobRequest
	for rows.Next() {
		req, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("list stale scan: %w", err)
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (*scrapejob.JobRequest, error) {
	var (
		req              scrapejob.JobRequest
		raw              rawRow
		created, updated int64
	)
	if err := row.Scan(
		&req.ID, &req.UserID, &raw.params, &raw.status, &raw.raw, &raw.filtered,
		&raw.enriched, &raw.errorMessage, &req.AbortRequested, &req.ProviderHandle,
		&created, &updated,
	); err != nil {
		return nil, err
	}
	if err := raw.decode(&req); err != nil {
		return nil, err
	}
	req.CreatedAt = time.Unix(0, created).UTC()
	req.UpdatedAt = time.Unix(0, updated).UTC()
	return &req, nil
}

var _ scrapejob.Store = (*SQLite)(nil)
