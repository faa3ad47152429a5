package storage

import (
	"context"
	"fmt"

	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
)

// FanOut forwards every sink operation to each child in order. The first
// child error stops the call and is returned, so a failed Postgres write
// surfaces as a failed pipeline step instead of silently diverging from
// the CSV export.
type FanOut struct {
	sinks []scraper.Sink
}

// NewFanOut builds a fan-out over the given sinks.
func NewFanOut(sinks ...scraper.Sink) *FanOut {
	return &FanOut{sinks: sinks}
}

// Write forwards the record to every child sink.
func (f *FanOut) Write(ctx context.Context, record scraper.Record) error {
	for i, s := range f.sinks {
		if err := s.Write(ctx, record); err != nil {
			return fmt.Errorf("sink %d write: %w", i, err)
		}
	}
	return nil
}

// Flush flushes every child sink.
func (f *FanOut) Flush(ctx context.Context) error {
	for i, s := range f.sinks {
		if err := s.Flush(ctx); err != nil {
			return fmt.Errorf("sink %d flush: %w", i, err)
		}
	}
	return nil
}

// Close closes every child sink, returning the first error after all
// children have been given the chance to close.
func (f *FanOut) Close() error {
	var firstErr error
	for i, s := range f.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sink %d close: %w", i, err)
		}
	}
	return firstErr
}
