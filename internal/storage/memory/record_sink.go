package memory

import (
	"context"
	"sync"

	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
)

// RecordSink provides an in-memory record sink for development/testing.
// Records are upserted by dedup key so a re-written record replaces the
// earlier row instead of duplicating it.
type RecordSink struct {
	mu      sync.RWMutex
	order   []string
	records map[string]scraper.Record
	flushes int
	closed  bool
}

// NewRecordSink constructs a RecordSink.
func NewRecordSink() *RecordSink {
	return &RecordSink{
		records: make(map[string]scraper.Record),
	}
}

// Write upserts one record.
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

// Flush counts flush calls; nothing is buffered.
func (s *RecordSink) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

// Close marks the sink closed.
func (s *RecordSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Records returns the stored records in first-write order.
func (s *RecordSink) Records() []scraper.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scraper.Record, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.records[key])
	}
	return out
}

// Flushes returns how many times Flush has been called.
func (s *RecordSink) Flushes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flushes
}

// Closed reports whether Close has been called.
func (s *RecordSink) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
