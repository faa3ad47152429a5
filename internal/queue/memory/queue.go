// Package memory provides the in-process work queue used by a single run.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
)

// Queue is a bounded in-memory queue with context-aware operations. The
// orchestrator is the only producer and closes the queue after the last
// enqueue.
type Queue struct {
	ch      chan scraper.WorkItem
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan scraper.WorkItem, capacity),
	}
}

// Enqueue pushes an item into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item scraper.WorkItem) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next item, respecting context cancellation. It returns
// scraper.ErrQueueClosed after the queue is closed and every item has been
// consumed.
func (q *Queue) Dequeue(ctx context.Context) (scraper.WorkItem, error) {
	select {
	case <-ctx.Done():
		return scraper.WorkItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return scraper.WorkItem{}, scraper.ErrQueueClosed
		}
		return item, nil
	}
}

// Len reports how many items are currently waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown. Safe to call twice.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
