package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/michalporada/framer-marketplace-scraper/internal/store"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	rs := NewRunStore()
	ctx := context.Background()
	started := time.Unix(1700000000, 0).UTC()

	if err := rs.UpsertRunStart(ctx, "run-1", "https://www.framer.com/marketplace/", started); err != nil {
		t.Fatalf("UpsertRunStart() error = %v", err)
	}
	rec, err := rs.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if rec.Status != store.RunRunning || rec.FinishedAt != nil {
		t.Fatalf("expected running run, got %+v", rec)
	}

	finished := started.Add(5 * time.Minute)
	if err := rs.CompleteRun(ctx, "run-1", finished, "success", []byte(`{"run_id":"run-1"}`)); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}
	rec, err = rs.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() after complete error = %v", err)
	}
	if rec.Status != store.RunFinished || rec.FinishedAt == nil || rec.Outcome == nil {
		t.Fatalf("expected finished run, got %+v", rec)
	}
	if *rec.Outcome != "success" {
		t.Fatalf("expected success outcome, got %q", *rec.Outcome)
	}

	// Resuming flips the run back to running and keeps the original start.
	if err := rs.UpsertRunStart(ctx, "run-1", "https://www.framer.com/marketplace/", started.Add(time.Hour)); err != nil {
		t.Fatalf("UpsertRunStart() resume error = %v", err)
	}
	rec, err = rs.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() after resume error = %v", err)
	}
	if rec.Status != store.RunRunning || rec.FinishedAt != nil || rec.Outcome != nil {
		t.Fatalf("expected run flipped back to running, got %+v", rec)
	}
	if !rec.StartedAt.Equal(started) {
		t.Fatalf("expected original start time preserved, got %v", rec.StartedAt)
	}
}

func TestRunStoreNotFound(t *testing.T) {
	t.Parallel()

	rs := NewRunStore()
	ctx := context.Background()

	if _, err := rs.GetRun(ctx, "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetRun() error = %v, want ErrNotFound", err)
	}
	if err := rs.CompleteRun(ctx, "ghost", time.Now().UTC(), "failed", nil); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("CompleteRun() error = %v, want ErrNotFound", err)
	}
}

func TestRunStoreListRunsOrdersAndPaginates(t *testing.T) {
	t.Parallel()

	rs := NewRunStore()
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()

	for i, id := range []string{"run-1", "run-2", "run-3"} {
		err := rs.UpsertRunStart(ctx, id, "https://www.framer.com/marketplace/", base.Add(time.Duration(i)*time.Hour))
		if err != nil {
			t.Fatalf("UpsertRunStart(%s) error = %v", id, err)
		}
	}

	out, err := rs.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(out) != 2 || out[0].ID != "run-3" || out[1].ID != "run-2" {
		t.Fatalf("expected [run-3 run-2], got %+v", out)
	}

	out, err = rs.ListRuns(ctx, 2, 2)
	if err != nil {
		t.Fatalf("ListRuns() offset error = %v", err)
	}
	if len(out) != 1 || out[0].ID != "run-1" {
		t.Fatalf("expected [run-1], got %+v", out)
	}

	out, err = rs.ListRuns(ctx, 2, 10)
	if err != nil || out != nil {
		t.Fatalf("expected empty page, got %+v err=%v", out, err)
	}
}
