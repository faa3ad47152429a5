package scraper

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (Page, error)
}

// Parser extracts a structured record from a fetched page.
type Parser interface {
	Parse(page Page, kind URLKind) (Record, error)
}

// Sink persists extracted records. Write must be idempotent per record key;
// Flush finalizes buffered output and is only invoked after the pre-publish
// gate has passed.
type Sink interface {
	Write(ctx context.Context, record Record) error
	Flush(ctx context.Context) error
	Close() error
}

// Archive writes raw page snapshots and returns a URI.
type Archive interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes record-change events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for work items.
type Queue interface {
	Enqueue(ctx context.Context, item WorkItem) error
	Dequeue(ctx context.Context) (WorkItem, error)
}

// Limiter spaces upstream requests. Wait blocks until the caller's grant
// time arrives or ctx is canceled.
type Limiter interface {
	Wait(ctx context.Context) error
}

// HeadlessDetector decides whether a headless re-fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe Page) bool
}

// CrawlPolicy gates which classified URLs enter the work list and which of
// them may be promoted to a headless fetch.
type CrawlPolicy interface {
	AllowFetch(kind URLKind, url string) bool
	AllowHeadless(kind URLKind, url string) bool
}

// Hasher digests raw bytes into a stable hex string, used to derive archive
// object names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// FingerprintCache persists page fingerprints across runs.
type FingerprintCache interface {
	Get(url string) (PageFingerprint, bool)
	Put(url string, fp PageFingerprint)
	Save() error
}

// DedupTracker claims record keys; the first claim wins.
type DedupTracker interface {
	Claim(key string) bool
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
