// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RecordStoreConfig controls the Postgres connection pool used for
// marketplace record rows.
type RecordStoreConfig struct {
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

// RecordStore streams marketplace records into Postgres as idempotent
// upserts keyed by the record's dedup key. Rows are only ever added or
// refreshed, never deleted, so a partial run cannot lose earlier data.
type RecordStore struct {
	pool  execCloser
	table string
}

// NewRecordStore creates a Postgres-backed RecordStore using the provided config.
func NewRecordStore(ctx context.Context, cfg RecordStoreConfig) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sink.postgres.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "marketplace_records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
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
	return &RecordStore{
		pool:  pool,
		table: table,
	}, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(pool execCloser, table string) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "marketplace_records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{pool: pool, table: table}, nil
}

// Write upserts one record row.
func (s *RecordStore) Write(ctx context.Context, record scraper.Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("record store is not configured")
	}
	key := record.DedupKey()
	if key == "" {
		return fmt.Errorf("record key is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	record_key,
	run_id,
	kind,
	marketplace_id,
	url,
	slug,
	title,
	owner_handle,
	category,
	description,
	price_cents,
	currency,
	rating,
	rating_count,
	archive_uri,
	captured_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
)
ON CONFLICT (record_key) DO UPDATE SET
	run_id = EXCLUDED.run_id,
	kind = EXCLUDED.kind,
	marketplace_id = EXCLUDED.marketplace_id,
	url = EXCLUDED.url,
	slug = EXCLUDED.slug,
	title = EXCLUDED.title,
	owner_handle = EXCLUDED.owner_handle,
	category = EXCLUDED.category,
	description = EXCLUDED.description,
	price_cents = EXCLUDED.price_cents,
	currency = EXCLUDED.currency,
	rating = EXCLUDED.rating,
	rating_count = EXCLUDED.rating_count,
	archive_uri = EXCLUDED.archive_uri,
	captured_at = EXCLUDED.captured_at`, s.table)

	args := []any{
		key,
		record.RunID,
		string(record.Kind),
		record.ID,
		record.URL,
		record.Slug,
		record.Title,
		record.OwnerHandle,
		record.Category,
		record.Description,
		record.PriceCents,
		record.Currency,
		record.Rating,
		record.RatingCount,
		record.ArchiveURI,
		record.CapturedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// Flush is a no-op: every Write is already durable, and an upsert-only
// table needs no finalize step for the publish gate to protect.
func (s *RecordStore) Flush(_ context.Context) error {
	return nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
