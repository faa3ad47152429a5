package sinks

import (
	"context"
	"sync"

	"github.com/michalporada/framer-marketplace-scraper/internal/progress"
	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
)

// Stats is the aggregate view of one run's fetch outcomes. The orchestrator
// folds a snapshot into the run summary after the hub drains.
type Stats struct {
	Fetched          int
	SkippedUnchanged int
	Duplicates       int
	Failed           int
	Retries          int
	SlowAttempts     int
	BytesFetched     int64
	RecordsWritten   int
	Failures         map[string]int
}

// StatsSink accumulates run counters from the event stream. Counters are
// collapsed in memory, so consuming a batch is cheap and the final snapshot
// is a single struct copy.
type StatsSink struct {
	mu    sync.Mutex
	stats Stats
}

// NewStatsSink constructs an empty StatsSink.
func NewStatsSink() *StatsSink {
	return &StatsSink{
		stats: Stats{Failures: make(map[string]int)},
	}
}

// Consume folds the batch into the running counters.
func (s *StatsSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageFetchDone:
			s.applyOutcome(evt)
		case progress.StageRecordWritten:
			s.stats.RecordsWritten++
		}
	}
	return nil
}

func (s *StatsSink) applyOutcome(evt progress.Event) {
	switch evt.Status {
	case scraper.OutcomeSuccess:
		s.stats.Fetched++
	case scraper.OutcomeSkippedUnchanged:
		s.stats.SkippedUnchanged++
	case scraper.OutcomeDuplicate:
		s.stats.Duplicates++
	case scraper.OutcomeRetryableFailure, scraper.OutcomeTerminalFailure:
		s.stats.Failed++
		reason := string(evt.Reason)
		if reason == "" {
			reason = string(scraper.ReasonNetworkError)
		}
		s.stats.Failures[reason]++
	}
	if evt.Attempts > 1 {
		s.stats.Retries += evt.Attempts - 1
	}
	s.stats.SlowAttempts += evt.SlowAttempts
	s.stats.BytesFetched += evt.Bytes
}

// Snapshot returns a copy of the accumulated counters.
func (s *StatsSink) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.Failures = make(map[string]int, len(s.stats.Failures))
	for reason, count := range s.stats.Failures {
		out.Failures[reason] = count
	}
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *StatsSink) Close(context.Context) error {
	return nil
}
