// Package dedup tracks record identity keys claimed within a single run.
package dedup

import "sync"

// Tracker hands each identity key to exactly one claimant. Keys come from
// scraper.Record.DedupKey, so two listing pages that resolve to the same
// product produce one written record.
type Tracker struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{seen: make(map[string]struct{})}
}

// Claim reports whether key was free and claims it. Later calls with the
// same key return false.
func (t *Tracker) Claim(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.seen[key]; dup {
		return false
	}
	t.seen[key] = struct{}{}
	return true
}

// Len returns the number of distinct keys claimed so far.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}
