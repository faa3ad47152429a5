package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan scraper.WorkItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to start
	item := scraper.WorkItem{URL: "https://www.framer.com/marketplace/plugins/chart-kit/", Kind: scraper.KindPlugin}
	if err := q.Enqueue(context.Background(), item); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got.URL != item.URL || got.Kind != scraper.KindPlugin {
			t.Fatalf("expected %+v, got %+v", item, got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := qDequeue.Dequeue(ctx); err == nil ||
		err.Error() != "dequeue canceled: context canceled" {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}

	qEnqueue := NewQueue(1)
	if err := qEnqueue.Enqueue(context.Background(), scraper.WorkItem{URL: "primed"}); err != nil {
		t.Fatalf("failed to prime enqueue queue: %v", err)
	}
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if err := qEnqueue.Enqueue(ctx, scraper.WorkItem{}); err == nil ||
		err.Error() != "enqueue canceled: context canceled" {
		t.Fatalf("expected enqueue cancel error, got %v", err)
	}
}

func TestQueueCloseDrains(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	if err := q.Enqueue(context.Background(), scraper.WorkItem{URL: "last"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	q.Close()

	got, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("Dequeue() before drain error = %v", err)
	}
	if got.URL != "last" {
		t.Fatalf("expected queued item before close sentinel, got %+v", got)
	}

	if _, err := q.Dequeue(context.Background()); !errors.Is(err, scraper.ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	// Closing twice should be safe.
	q.Close()
}

func TestQueueLen(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got len %d", q.Len())
	}
	for i := 0; i < 3; i++ {
		if err := q.Enqueue(context.Background(), scraper.WorkItem{URL: "u"}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("expected len 3, got %d", q.Len())
	}
}
