// Package checkpoint persists per-URL completion state so an interrupted
// run can resume without refetching finished work.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
)

// Record is the serialized checkpoint document. Processed holds URLs that
// reached a successful final outcome (including unchanged skips and
// duplicates); Failed maps URLs whose final outcome was a failure to the
// reason, so the next run retries exactly those.
type Record struct {
	RunID     string            `json:"run_id"`
	Target    string            `json:"target"`
	StartedAt time.Time         `json:"started_at"`
	Processed []string          `json:"processed"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// Store owns the checkpoint file for one crawl target. The orchestrator is
// the only writer; the mutex guards against accidental concurrent use.
type Store struct {
	mu        sync.Mutex
	path      string
	rec       Record
	processed map[string]struct{}
}

// NewStore places the checkpoint under dir.
func NewStore(dir string) *Store {
	return &Store{
		path:      filepath.Join(dir, "checkpoint.json"),
		processed: make(map[string]struct{}),
	}
}

// Load reads an existing checkpoint document without installing it.
// ok is false when no checkpoint exists.
func (s *Store) Load() (Record, bool, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("read checkpoint: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode checkpoint: %w", err)
	}
	return rec, true, nil
}

// Begin starts a fresh checkpoint and persists it immediately, so the run
// ID is durable before the first fetch.
func (s *Store) Begin(runID, target string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = Record{
		RunID:     runID,
		Target:    target,
		StartedAt: startedAt,
		Failed:    make(map[string]string),
	}
	s.processed = make(map[string]struct{})
	return s.persistLocked()
}

// Resume installs a previously loaded record as the current state. The
// resumed run adopts its run ID and skips everything already processed.
func (s *Store) Resume(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.Failed == nil {
		rec.Failed = make(map[string]string)
	}
	s.rec = rec
	s.processed = make(map[string]struct{}, len(rec.Processed))
	for _, u := range rec.Processed {
		s.processed[u] = struct{}{}
	}
}

// RunID returns the current checkpoint's run ID.
func (s *Store) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.RunID
}

// IsProcessed reports whether url already completed in this or a prior run.
func (s *Store) IsProcessed(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[url]
	return ok
}

// Failed returns a copy of the failed set for re-enqueueing on resume.
func (s *Store) Failed() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.rec.Failed))
	for u, reason := range s.rec.Failed {
		out[u] = reason
	}
	return out
}

// Append records url's final outcome and persists the document. An empty
// reason marks success; any other reason files the URL for retry on the
// next run. A URL that failed before and now succeeded leaves the failed
// set.
func (s *Store) Append(url string, reason scraper.FailureReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reason == scraper.ReasonNone {
		if _, dup := s.processed[url]; !dup {
			s.processed[url] = struct{}{}
			s.rec.Processed = append(s.rec.Processed, url)
		}
		delete(s.rec.Failed, url)
	} else {
		s.rec.Failed[url] = string(reason)
	}
	return s.persistLocked()
}

// Clear removes the checkpoint after a fully successful run.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = Record{}
	s.processed = make(map[string]struct{})
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

// persistLocked writes the document atomically (temp file + rename), so a
// crash mid-write leaves the previous checkpoint intact.
func (s *Store) persistLocked() error {
	payload, err := json.MarshalIndent(s.rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}
