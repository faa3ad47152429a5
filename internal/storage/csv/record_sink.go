// Package csv implements a buffered CSV record sink.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
)

var header = []string{
	"record_key",
	"run_id",
	"kind",
	"marketplace_id",
	"url",
	"slug",
	"title",
	"owner_handle",
	"category",
	"description",
	"price_cents",
	"currency",
	"rating",
	"rating_count",
	"archive_uri",
	"captured_at",
}

// RecordSink buffers records in memory and writes them out as a single
// CSV file on Flush. Nothing touches disk until Flush, so an aborted run
// leaves any previous export untouched.
type RecordSink struct {
	mu      sync.Mutex
	path    string
	order   []string
	records map[string]scraper.Record
}

// New creates a CSV sink writing to the given file path.
func New(path string) (*RecordSink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("csv path is required")
	}
	return &RecordSink{
		path:    path,
		records: make(map[string]scraper.Record),
	}, nil
}

// Write buffers one record, upserting by dedup key.
func (s *RecordSink) Write(_ context.Context, record scraper.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := record.DedupKey()
	if _, exists := s.records[key]; !exists {
		s.order = append(s.order, key)
	}
	s.records[key] = record
	return nil
}

// Flush writes the buffered records to the configured path. The file is
// written to a temp sibling and renamed so readers never observe a
// half-written export.
func (s *RecordSink) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open temp export: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, key := range s.order {
		if err := w.Write(row(key, s.records[key])); err != nil {
			f.Close()
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp export: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("publish export: %w", err)
	}
	return nil
}

// Close discards the buffer without writing.
func (s *RecordSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.records = nil
	return nil
}

// Pending returns how many distinct records are buffered.
func (s *RecordSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

func row(key string, rec scraper.Record) []string {
	return []string{
		key,
		rec.RunID,
		string(rec.Kind),
		rec.ID,
		rec.URL,
		rec.Slug,
		rec.Title,
		rec.OwnerHandle,
		rec.Category,
		rec.Description,
		strconv.Itoa(rec.PriceCents),
		rec.Currency,
		strconv.FormatFloat(rec.Rating, 'f', -1, 64),
		strconv.Itoa(rec.RatingCount),
		rec.ArchiveURI,
		rec.CapturedAt.UTC().Format(time.RFC3339),
	}
}
