// Package storage builds archive and sink backends from configuration.
// The selection lives here so the run orchestrator stays independent of
// any specific backend (Google Cloud Storage, the local filesystem,
// Postgres, CSV exports).
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/michalporada/framer-marketplace-scraper/internal/config"
	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
	"github.com/michalporada/framer-marketplace-scraper/internal/storage/csv"
	"github.com/michalporada/framer-marketplace-scraper/internal/storage/gcs"
	"github.com/michalporada/framer-marketplace-scraper/internal/storage/local"
	"github.com/michalporada/framer-marketplace-scraper/internal/storage/memory"
	"github.com/michalporada/framer-marketplace-scraper/internal/storage/postgres"
)

// NewArchive selects the page archive backend named by the config.
func NewArchive(ctx context.Context, cfg config.ArchiveConfig) (scraper.Archive, error) {
	switch cfg.Backend {
	case "gcs":
		return gcs.Dial(ctx, gcs.Config{Bucket: cfg.Bucket})
	case "local":
		return local.New(local.Config{BaseDir: cfg.BaseDir})
	case "memory", "":
		return memory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
}

// NewSink assembles the record sink from the configured backends. With
// both Postgres and CSV configured the returned sink fans out to both;
// with neither, records land in an in-memory sink so dry runs still
// exercise the full pipeline.
func NewSink(ctx context.Context, cfg config.SinkConfig) (scraper.Sink, error) {
	var sinks []scraper.Sink

	if cfg.Postgres.DSN != "" {
		pg, err := postgres.NewRecordStore(ctx, postgres.RecordStoreConfig{
			DSN:             cfg.Postgres.DSN,
			Table:           cfg.Postgres.Table,
			MaxConns:        int32(cfg.Postgres.MaxConns),
			MinConns:        int32(cfg.Postgres.MinConns),
			MaxConnLifetime: time.Duration(cfg.Postgres.MaxConnLifetimeMin) * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("build postgres sink: %w", err)
		}
		sinks = append(sinks, pg)
	}

	if cfg.CSV.Path != "" {
		cs, err := csv.New(cfg.CSV.Path)
		if err != nil {
			return nil, fmt.Errorf("build csv sink: %w", err)
		}
		sinks = append(sinks, cs)
	}

	switch len(sinks) {
	case 0:
		return memory.NewRecordSink(), nil
	case 1:
		return sinks[0], nil
	default:
		return NewFanOut(sinks...), nil
	}
}
