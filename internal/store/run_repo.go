// Package store declares interfaces for persisting run history.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the scrape_runs status column.
type RunStatus string

// Run statuses persisted in scrape_runs.status.
const (
	RunRunning  RunStatus = "running"
	RunFinished RunStatus = "finished"
)

// RunRecord models the scrape_runs table for API responses.
type RunRecord struct {
	// ID is the run UUID; a resumed run reuses its predecessor's ID.
	ID string
	// Target is the sitemap URL the run crawled.
	Target string
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run completes or aborts.
	FinishedAt *time.Time
	// Status is running or finished.
	Status RunStatus
	// Outcome holds the final outcome label, nil while running.
	Outcome *string
	// Summary holds the run summary JSON document, nil while running.
	Summary []byte
}

// RunRepository persists run lifecycle events for the ops API.
type RunRepository interface {
	// UpsertRunStart inserts the run or flips a resumed run back to running.
	UpsertRunStart(ctx context.Context, runID, target string, startedAt time.Time) error
	// CompleteRun marks the run finished with its outcome and summary.
	CompleteRun(ctx context.Context, runID string, finishedAt time.Time, outcome string, summary []byte) error
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID string) (RunRecord, error)
	// ListRuns returns recent runs ordered by start time, newest first.
	ListRuns(ctx context.Context, limit, offset int) ([]RunRecord, error)
}
