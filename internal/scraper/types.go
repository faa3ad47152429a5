// Package scraper defines core types shared across subsystems.
package scraper

import (
	"net/http"
	"time"
)

// URLKind is the closed classification assigned to every discovered URL.
// Classification happens exactly once, at discovery; downstream stages
// switch on the kind and never re-derive it.
type URLKind string

// URL kinds produced by the classifier.
const (
	KindPlugin   URLKind = "plugin"
	KindTemplate URLKind = "template"
	KindCategory URLKind = "category"
	KindCreator  URLKind = "creator"
	KindInfo     URLKind = "info"
)

// IsRecord reports whether pages of this kind yield marketplace records.
func (k URLKind) IsRecord() bool {
	return k == KindPlugin || k == KindTemplate
}

// Fingerprinted reports whether pages of this kind participate in change
// detection. Category pages churn constantly and are only used for
// discovery cross-checks, so they are excluded.
func (k URLKind) Fingerprinted() bool {
	return k != KindCategory
}

// WorkItem is one classified URL queued for fetching.
type WorkItem struct {
	URL     string     `json:"url"`
	Kind    URLKind    `json:"kind"`
	LastMod *time.Time `json:"last_mod,omitempty"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL         string
	Kind        URLKind
	UseHeadless bool
}

// Page is the raw result of fetching a URL.
type Page struct {
	URL          string
	FinalURL     string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// ContentLength returns the body size in bytes.
func (p Page) ContentLength() int {
	return len(p.Body)
}

// OutcomeStatus is the verdict the retry loop reaches for one URL.
type OutcomeStatus string

// Outcome statuses reported per work item.
const (
	OutcomeSuccess          OutcomeStatus = "success"
	OutcomeRetryableFailure OutcomeStatus = "retryable_failure"
	OutcomeTerminalFailure  OutcomeStatus = "terminal_failure"
	OutcomeSkippedUnchanged OutcomeStatus = "skipped_unchanged"
	OutcomeDuplicate        OutcomeStatus = "duplicate"
)

// FailureReason labels why an attempt or outcome failed.
type FailureReason string

// Failure reasons carried on outcomes and checkpoint entries.
const (
	ReasonNone         FailureReason = ""
	ReasonTimeout      FailureReason = "timeout"
	ReasonHTTPStatus   FailureReason = "http_status"
	ReasonNetworkError FailureReason = "network_error"
	ReasonParseError   FailureReason = "parse_error"
)

// FetchOutcome is the final result for one work item after the retry loop.
type FetchOutcome struct {
	URL          string
	Kind         URLKind
	Status       OutcomeStatus
	Reason       FailureReason
	HTTPStatus   int
	Attempts     int
	SlowAttempts int
	Bytes        int64
	Duration     time.Duration
	UsedHeadless bool
}

// Failed reports whether the outcome is any failure variant.
func (o FetchOutcome) Failed() bool {
	return o.Status == OutcomeRetryableFailure || o.Status == OutcomeTerminalFailure
}

// Record is one structured marketplace listing extracted from a detail page.
type Record struct {
	ID          string    `json:"id,omitempty"`
	Kind        URLKind   `json:"kind"`
	URL         string    `json:"url"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	OwnerHandle string    `json:"owner_handle,omitempty"`
	Category    string    `json:"category,omitempty"`
	Description string    `json:"description,omitempty"`
	PriceCents  int       `json:"price_cents"`
	Currency    string    `json:"currency,omitempty"`
	Rating      float64   `json:"rating,omitempty"`
	RatingCount int       `json:"rating_count,omitempty"`
	ArchiveURI  string    `json:"archive_uri,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
	RunID       string    `json:"run_id"`
}

// DedupKey derives the claim key used by the deduplication tracker.
// The marketplace-assigned ID wins when present; the canonical URL is the
// usual fallback; owner handle plus slug covers pages that expose neither.
func (r Record) DedupKey() string {
	switch {
	case r.ID != "":
		return "id:" + r.ID
	case r.URL != "":
		return "url:" + r.URL
	default:
		return "owner:" + r.OwnerHandle + "/" + r.Slug
	}
}

// PageFingerprint is the persisted change-detection state for one URL.
// Hash is hex-encoded: a raw uint64 would lose precision as a JSON number.
type PageFingerprint struct {
	Hash       string    `json:"hash"`
	CapturedAt time.Time `json:"captured_at"`
}

// GateResult records one safety gate decision for the run summary.
type GateResult string

// Gate results.
const (
	GatePassed  GateResult = "passed"
	GateFailed  GateResult = "failed"
	GateSkipped GateResult = "skipped"
)

// RunState is the orchestrator's current phase.
type RunState string

// Orchestrator states.
const (
	StateDiscovering    RunState = "discovering"
	StateGatedPreFetch  RunState = "gated_pre_fetch"
	StateFetching       RunState = "fetching"
	StateRetryingFailed RunState = "retrying_failed"
	StateGatedPublish   RunState = "gated_pre_publish"
	StatePublishing     RunState = "publishing"
	StateReporting      RunState = "reporting"
	StateDone           RunState = "done"
	StateAborted        RunState = "aborted"
)

// RunSummary is the single metrics record emitted at the end of a run.
// It is serialized as one JSON line; downstream log scrapers parse that
// line, so field names are part of the contract.
type RunSummary struct {
	RunID            string         `json:"run_id"`
	Resumed          bool           `json:"resumed"`
	StartedAt        time.Time      `json:"started_at"`
	FinishedAt       time.Time      `json:"finished_at"`
	DurationMs       int64          `json:"duration_ms"`
	Outcome          string         `json:"outcome"`
	AbortReason      string         `json:"abort_reason,omitempty"`
	Discovered       int            `json:"discovered"`
	ByKind           map[string]int `json:"by_kind,omitempty"`
	DroppedForeign   int            `json:"dropped_foreign"`
	Enqueued         int            `json:"enqueued"`
	Fetched          int            `json:"fetched"`
	Retries          int            `json:"retries"`
	SlowAttempts     int            `json:"slow_attempts"`
	SkippedUnchanged int            `json:"skipped_unchanged"`
	Duplicates       int            `json:"duplicates"`
	RecordsWritten   int            `json:"records_written"`
	Failures         map[string]int `json:"failures,omitempty"`
	BytesFetched     int64          `json:"bytes_fetched"`
	GatePreFetch     GateResult     `json:"gate_pre_fetch"`
	GatePrePublish   GateResult     `json:"gate_pre_publish"`
	ExitCode         int            `json:"exit_code"`
}

// Run outcome values recorded in RunSummary.Outcome.
const (
	RunOutcomeSuccess         = "success"
	RunOutcomeAbortedGate     = "aborted_gate"
	RunOutcomeAbortedUpstream = "aborted_upstream"
	RunOutcomeAbortedTimeout  = "aborted_timeout"
	RunOutcomeFailed          = "failed"
)

// Exit codes reported by the binary.
const (
	ExitOK                  = 0
	ExitFailure             = 1
	ExitUpstreamUnavailable = 2
)
