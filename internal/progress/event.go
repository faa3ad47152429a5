// Package progress defines the event structures emitted by the scrape
// pipeline.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart      Stage = "RUN_START"
	StageRunDone       Stage = "RUN_DONE"
	StageRunError      Stage = "RUN_ERROR"
	StageFetchDone     Stage = "FETCH_DONE"
	StageRecordWritten Stage = "RECORD_WRITTEN"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single milestone of scrape progress.
type Event struct {
	// RunID identifies the run that emitted the event.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or fetch milestone occurred.
	Stage Stage
	// Kind is the URL classification for fetch and record events.
	Kind scraper.URLKind
	// URL is the optional page URL; it should not contain credentials.
	URL string
	// Status is the final per-URL outcome for fetch completions.
	Status scraper.OutcomeStatus
	// Reason labels failures; empty for successful outcomes.
	Reason scraper.FailureReason
	// StatusClass groups HTTP response codes (2xx, 3xx, etc).
	StatusClass StatusClass
	// Bytes carries the response size for the fetch.
	Bytes int64
	// Attempts is how many fetch attempts the outcome consumed.
	Attempts int
	// SlowAttempts counts attempts that crossed the slow threshold.
	SlowAttempts int
	// UsedHeadless marks outcomes that required headless rendering.
	UsedHeadless bool
	// Dur captures execution latency for fetches and run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageFetchDone:
		if e.URL == "" {
			return errors.New("fetch done requires url")
		}
		if e.Status == "" {
			return errors.New("fetch done requires outcome status")
		}
	case StageRecordWritten:
		if e.Kind == "" {
			return errors.New("record written requires kind")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// FromOutcome builds a FETCH_DONE event from one finished work item.
func FromOutcome(runID string, ts time.Time, outcome scraper.FetchOutcome) Event {
	return Event{
		RunID:        runID,
		TS:           ts,
		Stage:        StageFetchDone,
		Kind:         outcome.Kind,
		URL:          outcome.URL,
		Status:       outcome.Status,
		Reason:       outcome.Reason,
		StatusClass:  ClassifyStatus(outcome.HTTPStatus),
		Bytes:        outcome.Bytes,
		Attempts:     outcome.Attempts,
		SlowAttempts: outcome.SlowAttempts,
		UsedHeadless: outcome.UsedHeadless,
		Dur:          outcome.Duration,
	}
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
