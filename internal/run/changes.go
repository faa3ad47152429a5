package run

import (
	"sync"

	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
)

// changeLog collects the records the fetch passes write, so nothing is
// published while the pre-publish gate can still abort the run.
type changeLog struct {
	mu   sync.Mutex
	recs []scraper.Record
}

func newChangeLog() *changeLog {
	return &changeLog{}
}

// Add implements worker.RecordCollector.
func (c *changeLog) Add(rec scraper.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
}

func (c *changeLog) drain() []scraper.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.recs
	c.recs = nil
	return out
}
