package run

import (
	"sync"
	"time"

	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
)

// Status is the orchestrator's externally visible lifecycle state, served
// by the ops API while a run is in flight.
type Status struct {
	RunID     string           `json:"run_id"`
	State     scraper.RunState `json:"state"`
	Resumed   bool             `json:"resumed"`
	StartedAt time.Time        `json:"started_at"`
}

// Tracker publishes live run status. The orchestrator goroutine is the only
// writer; the ops API reads snapshots.
type Tracker struct {
	mu     sync.RWMutex
	status Status
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) begin(runID string, resumed bool, startedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = Status{
		RunID:     runID,
		State:     scraper.StateDiscovering,
		Resumed:   resumed,
		StartedAt: startedAt,
	}
}

func (t *Tracker) setState(state scraper.RunState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.State = state
}

// Snapshot returns a copy of the current status.
func (t *Tracker) Snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}
