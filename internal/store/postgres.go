package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobmate/scrape-service/internal/scrapejob"
)

// PostgresSchema creates the scrape_jobs table. It is idempotent.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS scrape_jobs (
	id               TEXT        PRIMARY KEY,
	user_id          TEXT        NOT NULL,
	search_params    JSONB       NOT NULL,
	status           TEXT        NOT NULL CHECK (status IN
	                 ('pending', 'processing', 'filtering', 'enriching', 'completed', 'failed', 'cancelled')),
	raw_results      JSONB,
	filtered_results JSONB,
	enriched_results JSONB,
	error_message    TEXT,
	abort_requested  BOOLEAN     NOT NULL DEFAULT false,
	provider_handle  TEXT        NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS scrape_jobs_user_idx ON scrape_jobs (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS scrape_jobs_active_idx ON scrape_jobs (updated_at)
	WHERE status IN ('pending', 'processing', 'filtering', 'enriching');
`

const pgColumns = `id, user_id, search_params, status, raw_results, filtered_results,
	enriched_results, error_message, abort_requested, provider_handle, created_at, updated_at`

// Postgres stores requests in the scrape_jobs table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres returns a Postgres store on an open pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate applies PostgresSchema.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("migrate scrape_jobs: %w", err)
	}
	return nil
}

func (p *Postgres) Create(ctx context.Context, req *scrapejob.JobRequest) error {
	params, err := json.Marshal(req.SearchParams)
	if err != nil {
		return fmt.Errorf("encode search_params: %w", err)
	}
	err = p.pool.QueryRow(ctx,
		`INSERT INTO scrape_jobs (id, user_id, search_params, status)
		 VALUES ($1, $2, $3::jsonb, $4)
		 RETURNING created_at, updated_at`,
		req.ID, req.UserID, string(params), string(req.Status),
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert scrape_job: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*scrapejob.JobRequest, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+pgColumns+` FROM scrape_jobs WHERE id = $1`, id)
	req, err := scanPG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, scrapejob.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scrape_job: %w", err)
	}
	return req, nil
}

func (p *Postgres) Advance(ctx context.Context, id string, from, to scrapejob.Status, u scrapejob.Update) (*scrapejob.JobRequest, error) {
	if !scrapejob.IsTransitionAllowed(from, to) {
		return nil, fmt.Errorf("transition %s → %s is not allowed", from, to)
	}
	cols, err := updateArgs(u)
	if err != nil {
		return nil, err
	}

	args := append([]any{id, string(from), string(to)}, cols...)
	row := p.pool.QueryRow(ctx,
		`UPDATE scrape_jobs
		 SET status           = $3,
		     raw_results      = COALESCE($4::jsonb, raw_results),
		     filtered_results = COALESCE($5::jsonb, filtered_results),
		     enriched_results = COALESCE($6::jsonb, enriched_results),
		     error_message    = COALESCE($7::text, error_message),
		     provider_handle  = COALESCE($8::text, provider_handle),
		     updated_at       = NOW()
		 WHERE id = $1
		   AND status = $2
		   AND (NOT abort_requested OR $3 IN ('failed', 'cancelled'))
		 RETURNING `+pgColumns,
		args...,
	)
	req, err := scanPG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, p.advanceRejection(ctx, id, from)
	}
	if err != nil {
		return nil, fmt.Errorf("advance scrape_job: %w", err)
	}
	return req, nil
}

// advanceRejection explains why a conditional UPDATE matched no row.
func (p *Postgres) advanceRejection(ctx context.Context, id string, from scrapejob.Status) error {
	var (
		status  string
		aborted bool
	)
	err := p.pool.QueryRow(ctx,
		`SELECT status, abort_requested FROM scrape_jobs WHERE id = $1`, id,
	).Scan(&status, &aborted)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
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

func (p *Postgres) RequestAbort(ctx context.Context, id string) (*scrapejob.JobRequest, error) {
	_, err := p.pool.Exec(ctx,
		`UPDATE scrape_jobs
		 SET abort_requested = true
		 WHERE id = $1 AND status IN `+activeStatuses,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("request abort: %w", err)
	}
	return p.Get(ctx, id)
}

func (p *Postgres) ListStale(ctx context.Context, before time.Time) ([]scrapejob.JobRequest, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+pgColumns+`
		 FROM scrape_jobs
		 WHERE status IN `+activeStatuses+` AND updated_at < $1
		 ORDER BY updated_at`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("list stale scrape_jobs: %w", err)
	}
	defer rows.Close()

	var out []scrapejob.JobRequest
	for rows.Next() {
		req, err := scanPG(rows)
		if err != nil {
			return nil, fmt.Errorf("list stale scan: %w", err)
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

func scanPG(row pgx.Row) (*scrapejob.JobRequest, error) {
	var (
		req scrapejob.JobRequest
		raw rawRow
	)
	if err := row.Scan(
		&req.ID, &req.UserID, &raw.params, &raw.status, &raw.raw, &raw.filtered,
		&raw.enriched, &raw.errorMessage, &req.AbortRequested, &req.ProviderHandle,
		&req.CreatedAt, &req.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := raw.decode(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

var _ scrapejob.Store = (*Postgres)(nil)
