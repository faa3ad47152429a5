package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/michalporada/framer-marketplace-scraper/internal/store"
)

// RunStore provides an in-memory run repository for development/testing.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]store.RunRecord
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]store.RunRecord),
	}
}

// UpsertRunStart records a run as running. A resumed run reuses its
// predecessor's ID and keeps the original start time.
func (s *RunStore) UpsertRunStart(_ context.Context, runID, target string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[runID]
	if !ok {
		rec = store.RunRecord{ID: runID, Target: target, StartedAt: startedAt}
	}
	rec.Status = store.RunRunning
	rec.FinishedAt = nil
	rec.Outcome = nil
	s.runs[runID] = rec
	return nil
}

// CompleteRun marks a run finished with its outcome and summary document.
func (s *RunStore) CompleteRun(_ context.Context, runID string, finishedAt time.Time, outcome string, summary []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	rec.Status = store.RunFinished
	rec.FinishedAt = pointerTime(finishedAt)
	rec.Outcome = pointerString(outcome)
	rec.Summary = append([]byte(nil), summary...)
	s.runs[runID] = rec
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (store.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[runID]
	if !ok {
		return store.RunRecord{}, store.ErrNotFound
	}
	return rec, nil
}

// ListRuns returns runs ordered most recent first.
func (s *RunStore) ListRuns(_ context.Context, limit, offset int) ([]store.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]store.RunRecord, 0, len(s.runs))
	for _, rec := range s.runs {
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].StartedAt.After(all[j].StartedAt)
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	out := make([]store.RunRecord, len(all))
	copy(out, all)
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func pointerString(s string) *string {
	v := s
	return &v
}
