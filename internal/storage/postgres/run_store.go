package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/michalporada/framer-marketplace-scraper/internal/store"
)

type dbPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RunStore persists run lifecycle rows so the HTTP API can report on
// past and in-flight runs. It implements store.RunRepository.
type RunStore struct {
	pool dbPool
}

// NewRunStore creates a Postgres-backed RunStore using the provided config.
// The run table name is fixed; only the connection settings vary.
func NewRunStore(ctx context.Context, cfg RecordStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sink.postgres.dsn is required")
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
	return &RunStore{pool: pool}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool dbPool) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// UpsertRunStart records that a run has started. A resumed run reuses
// its predecessor's ID, so the conflict path flips the row back to
// running without disturbing the original start time.
func (s *RunStore) UpsertRunStart(ctx context.Context, runID, target string, startedAt time.Time) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	const query = `
INSERT INTO scrape_runs (id, target, started_at, status)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	finished_at = NULL,
	outcome = NULL`
	if _, err := s.pool.Exec(ctx, query, runID, target, startedAt, string(store.RunRunning)); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished and stores its final summary document.
func (s *RunStore) CompleteRun(ctx context.Context, runID string, finishedAt time.Time, outcome string, summary []byte) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	const query = `
UPDATE scrape_runs
SET status = $2, finished_at = $3, outcome = $4, summary = $5
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, runID, string(store.RunFinished), finishedAt, outcome, summary)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetRun fetches one run row by ID.
func (s *RunStore) GetRun(ctx context.Context, runID string) (store.RunRecord, error) {
	const query = `
SELECT id, target, started_at, finished_at, status, outcome, summary
FROM scrape_runs
WHERE id = $1`
	row := s.pool.QueryRow(ctx, query, runID)
	rec, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.RunRecord{}, store.ErrNotFound
		}
		return store.RunRecord{}, fmt.Errorf("get run: %w", err)
	}
	return rec, nil
}

// ListRuns returns run rows ordered most recent first.
func (s *RunStore) ListRuns(ctx context.Context, limit, offset int) ([]store.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	const query = `
SELECT id, target, started_at, finished_at, status, outcome, summary
FROM scrape_runs
ORDER BY started_at DESC
LIMIT $1 OFFSET $2`
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []store.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return out, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func scanRun(row pgx.Row) (store.RunRecord, error) {
	var (
		rec    store.RunRecord
		status string
	)
	if err := row.Scan(&rec.ID, &rec.Target, &rec.StartedAt, &rec.FinishedAt, &status, &rec.Outcome, &rec.Summary); err != nil {
		return store.RunRecord{}, err
	}
	rec.Status = store.RunStatus(status)
	return rec, nil
}
