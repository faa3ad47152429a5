// Package worker implements the fetch pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/michalporada/framer-marketplace-scraper/internal/fingerprint"
	"github.com/michalporada/framer-marketplace-scraper/internal/hash/sha256"
	"github.com/michalporada/framer-marketplace-scraper/internal/metrics"
	"github.com/michalporada/framer-marketplace-scraper/internal/policy/simple"
	"github.com/michalporada/framer-marketplace-scraper/internal/progress"
	"github.com/michalporada/framer-marketplace-scraper/internal/retry"
	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
)

// Checkpointer records each URL's final outcome. An empty reason marks the
// URL processed; any other reason files it for retry.
type Checkpointer interface {
	Append(url string, reason scraper.FailureReason) error
}

// RecordCollector receives every record that lands in the sinks. The
// orchestrator drains it after the pre-publish gate to send change
// notifications, so nothing leaves the process while the gate can still
// abort the run.
type RecordCollector interface {
	Add(rec scraper.Record)
}

// Deps are the collaborators one pool shares across its workers. Queue,
// Fetcher, Parser, Sink, Limiter, Retry, Checkpoint and Clock are required;
// the rest degrade gracefully when nil.
type Deps struct {
	Queue        scraper.Queue
	Fetcher      scraper.Fetcher
	Headless     scraper.Fetcher
	Detector     scraper.HeadlessDetector
	Policy       scraper.CrawlPolicy
	Parser       scraper.Parser
	Archive      scraper.Archive
	Hasher       scraper.Hasher
	Sink         scraper.Sink
	Fingerprints scraper.FingerprintCache
	Dedup        scraper.DedupTracker
	Limiter      scraper.Limiter
	Retry        *retry.Policy
	Checkpoint   Checkpointer
	Clock        scraper.Clock
	Progress     progress.Emitter
	Changes      RecordCollector
}

// Config controls pool behavior for one pass.
type Config struct {
	RunID              string
	Workers            int
	ArchivePrefix      string
	ArchiveContentType string
}

// Pool runs a bounded set of workers over the shared queue. Each worker
// drives one URL at a time through fetch-with-retry, extraction, change
// detection, dedup, archive and sink, then appends the checkpoint and emits
// the outcome. The pool is single-use: construct one per pass.
type Pool struct {
	deps     Deps
	cfg      Config
	logger   *zap.Logger
	outcomes chan scraper.FetchOutcome
}

// NewPool constructs a pool.
func NewPool(deps Deps, cfg Config, logger *zap.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ArchiveContentType == "" {
		cfg.ArchiveContentType = "text/html; charset=utf-8"
	}
	if deps.Policy == nil {
		deps.Policy = simple.New()
	}
	if deps.Hasher == nil {
		deps.Hasher = sha256.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		deps:     deps,
		cfg:      cfg,
		logger:   logger,
		outcomes: make(chan scraper.FetchOutcome, cfg.Workers*2),
	}
}

// Outcomes returns the channel final per-URL outcomes are delivered on. The
// channel closes when Run returns.
func (p *Pool) Outcomes() <-chan scraper.FetchOutcome {
	return p.outcomes
}

// Run blocks until the queue is closed and drained or the context ends.
// A canceled context is returned as an error; URLs in flight at the time
// reach no final outcome and stay out of the checkpoint.
func (p *Pool) Run(ctx context.Context) error {
	defer close(p.outcomes)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		logger := p.logger.With(zap.Int("worker", i))
		g.Go(func() error {
			return p.workerLoop(ctx, logger)
		})
	}
	return g.Wait()
}

func (p *Pool) workerLoop(ctx context.Context, logger *zap.Logger) error {
	for {
		item, err := p.deps.Queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, scraper.ErrQueueClosed) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		p.reportQueueDepth()

		outcome, err := p.process(ctx, item, logger)
		if err != nil {
			return err
		}
		p.deliver(ctx, outcome)
	}
}

// process drives one work item to its final outcome. The error return is
// reserved for run shutdown; every upstream failure folds into the outcome.
func (p *Pool) process(ctx context.Context, item scraper.WorkItem, logger *zap.Logger) (scraper.FetchOutcome, error) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	start := time.Now()

	outcome := scraper.FetchOutcome{URL: item.URL, Kind: item.Kind}

	if p.unchangedSinceLastMod(item) {
		outcome.Status = scraper.OutcomeSkippedUnchanged
		p.appendCheckpoint(item.URL, scraper.ReasonNone, logger)
		logger.Debug("skipped by lastmod", zap.String("url", item.URL))
		return outcome, nil
	}

	res, err := p.deps.Retry.Do(ctx, p.deps.Fetcher, p.deps.Limiter, scraper.FetchRequest{
		URL:  item.URL,
		Kind: item.Kind,
	})
	if err != nil {
		return scraper.FetchOutcome{}, err
	}

	outcome.Status = res.Status
	outcome.Reason = res.Reason
	outcome.HTTPStatus = res.HTTPStatus
	outcome.Attempts = res.Attempts
	outcome.SlowAttempts = res.SlowAttempts
	outcome.Duration = time.Since(start)

	if res.Status != scraper.OutcomeSuccess {
		p.appendCheckpoint(item.URL, res.Reason, logger)
		logger.Warn("fetch failed",
			zap.String("url", item.URL),
			zap.String("status", string(res.Status)),
			zap.String("reason", string(res.Reason)),
			zap.Int("attempts", res.Attempts),
			zap.Error(res.Err),
		)
		return outcome, nil
	}

	page := p.maybePromote(ctx, item, res.Page, logger)
	outcome.UsedHeadless = page.UsedHeadless
	outcome.Bytes = int64(page.ContentLength())

	rec, err := p.deps.Parser.Parse(page, item.Kind)
	if err != nil {
		// A 200 body the parser cannot use is deterministic; no retry.
		outcome.Status = scraper.OutcomeTerminalFailure
		outcome.Reason = scraper.ReasonParseError
		outcome.Duration = time.Since(start)
		p.appendCheckpoint(item.URL, scraper.ReasonParseError, logger)
		logger.Warn("parse failed", zap.String("url", item.URL), zap.Error(err))
		return outcome, nil
	}
	rec.RunID = p.cfg.RunID
	rec.CapturedAt = p.deps.Clock.Now()

	hash := fingerprint.Hash(rec)
	if p.unchangedSinceLastFetch(item, hash, rec.CapturedAt) {
		outcome.Status = scraper.OutcomeSkippedUnchanged
		outcome.Duration = time.Since(start)
		p.appendCheckpoint(item.URL, scraper.ReasonNone, logger)
		logger.Debug("skipped unchanged content", zap.String("url", item.URL))
		return outcome, nil
	}

	if item.Kind.IsRecord() {
		if !p.deps.Dedup.Claim(rec.DedupKey()) {
			outcome.Status = scraper.OutcomeDuplicate
			outcome.Duration = time.Since(start)
			p.appendCheckpoint(item.URL, scraper.ReasonNone, logger)
			logger.Debug("duplicate record", zap.String("url", item.URL), zap.String("key", rec.DedupKey()))
			return outcome, nil
		}

		rec.ArchiveURI = p.archivePage(ctx, item.URL, page, logger)

		if err := p.deps.Sink.Write(ctx, rec); err != nil {
			outcome.Status = scraper.OutcomeTerminalFailure
			outcome.Reason = scraper.ReasonNetworkError
			outcome.Duration = time.Since(start)
			p.appendCheckpoint(item.URL, scraper.ReasonNetworkError, logger)
			logger.Error("record write failed", zap.String("url", item.URL), zap.Error(err))
			return outcome, nil
		}
		if p.deps.Changes != nil {
			p.deps.Changes.Add(rec)
		}
		p.emitRecordWritten(rec)
	}

	if item.Kind.Fingerprinted() {
		p.deps.Fingerprints.Put(item.URL, scraper.PageFingerprint{Hash: hash, CapturedAt: rec.CapturedAt})
	}

	p.appendCheckpoint(item.URL, scraper.ReasonNone, logger)
	outcome.Duration = time.Since(start)
	logger.Debug("page processed",
		zap.String("url", item.URL),
		zap.String("kind", string(item.Kind)),
		zap.Bool("headless", page.UsedHeadless),
		zap.Int64("bytes", outcome.Bytes),
	)
	return outcome, nil
}

// unchangedSinceLastMod implements the pre-fetch skip: a sitemap lastmod at
// or before the stored fingerprint's capture time means the page cannot have
// changed since it was last extracted.
func (p *Pool) unchangedSinceLastMod(item scraper.WorkItem) bool {
	if item.LastMod == nil || !item.Kind.Fingerprinted() || p.deps.Fingerprints == nil {
		return false
	}
	fp, ok := p.deps.Fingerprints.Get(item.URL)
	if !ok {
		return false
	}
	return !item.LastMod.After(fp.CapturedAt)
}

// unchangedSinceLastFetch implements the post-fetch skip: an identical
// significant-region hash skips persistence and refreshes captured_at.
// Checked before the dedup claim so an unchanged page never blocks a changed
// page that resolves to the same record.
func (p *Pool) unchangedSinceLastFetch(item scraper.WorkItem, hash string, capturedAt time.Time) bool {
	if !item.Kind.Fingerprinted() || p.deps.Fingerprints == nil {
		return false
	}
	stored, ok := p.deps.Fingerprints.Get(item.URL)
	if !ok || stored.Hash != hash {
		return false
	}
	p.deps.Fingerprints.Put(item.URL, scraper.PageFingerprint{Hash: hash, CapturedAt: capturedAt})
	return true
}

// maybePromote re-fetches script-only detail pages through the headless
// renderer. Promotion is best-effort enrichment: any failure keeps the
// static page.
func (p *Pool) maybePromote(ctx context.Context, item scraper.WorkItem, page scraper.Page, logger *zap.Logger) scraper.Page {
	if p.deps.Headless == nil || p.deps.Detector == nil {
		return page
	}
	if !p.deps.Policy.AllowHeadless(item.Kind, item.URL) {
		return page
	}
	if !p.deps.Detector.ShouldPromote(page) {
		return page
	}
	if err := p.deps.Limiter.Wait(ctx); err != nil {
		return page
	}

	rendered, err := p.deps.Headless.Fetch(ctx, scraper.FetchRequest{
		URL:         item.URL,
		Kind:        item.Kind,
		UseHeadless: true,
	})
	if err != nil {
		logger.Warn("headless promotion failed", zap.String("url", item.URL), zap.Error(err))
		return page
	}
	if rendered.StatusCode != http.StatusOK {
		logger.Warn("headless promotion returned non-200",
			zap.String("url", item.URL),
			zap.Int("status", rendered.StatusCode),
		)
		return page
	}
	logger.Info("headless promotion applied", zap.String("url", item.URL))
	return rendered
}

// archivePage snapshots the raw HTML. Archiving is enrichment; a failure
// costs only the URI on the record.
func (p *Pool) archivePage(ctx context.Context, rawURL string, page scraper.Page, logger *zap.Logger) string {
	if p.deps.Archive == nil {
		return ""
	}
	urlHash, err := p.deps.Hasher.Hash([]byte(rawURL))
	if err != nil {
		logger.Warn("archive naming failed", zap.String("url", rawURL), zap.Error(err))
		return ""
	}
	uri, err := p.deps.Archive.PutObject(ctx, p.blobPath(urlHash), p.cfg.ArchiveContentType, page.Body)
	if err != nil {
		logger.Warn("archive snapshot failed", zap.String("url", rawURL), zap.Error(err))
		return ""
	}
	return uri
}

// blobPath keys snapshots as <prefix>/<date>/<urlhash>.html so reruns of the
// same day overwrite instead of piling up.
func (p *Pool) blobPath(urlHash string) string {
	day := p.deps.Clock.Now().UTC().Format("2006-01-02")
	prefix := strings.Trim(p.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return day + "/" + urlHash + ".html"
	}
	return prefix + "/" + day + "/" + urlHash + ".html"
}

func (p *Pool) appendCheckpoint(url string, reason scraper.FailureReason, logger *zap.Logger) {
	if p.deps.Checkpoint == nil {
		return
	}
	if err := p.deps.Checkpoint.Append(url, reason); err != nil {
		// Losing a checkpoint entry costs a refetch on resume, not data.
		logger.Error("checkpoint append failed", zap.String("url", url), zap.Error(err))
	}
}

func (p *Pool) deliver(ctx context.Context, outcome scraper.FetchOutcome) {
	select {
	case p.outcomes <- outcome:
	case <-ctx.Done():
		return
	}
	if p.deps.Progress != nil {
		p.deps.Progress.Emit(progress.FromOutcome(p.cfg.RunID, p.deps.Clock.Now(), outcome))
	}
}

func (p *Pool) emitRecordWritten(rec scraper.Record) {
	if p.deps.Progress == nil {
		return
	}
	p.deps.Progress.Emit(progress.Event{
		RunID: p.cfg.RunID,
		TS:    p.deps.Clock.Now(),
		Stage: progress.StageRecordWritten,
		Kind:  rec.Kind,
		URL:   rec.URL,
	})
}

func (p *Pool) reportQueueDepth() {
	if q, ok := p.deps.Queue.(interface{ Len() int }); ok {
		metrics.SetQueueDepth(q.Len())
	}
}
