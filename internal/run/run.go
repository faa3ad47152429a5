// Package run sequences one complete crawl: discovery, the safety gates,
// the bounded fetch passes, publishing, and the final summary line.
package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/michalporada/framer-marketplace-scraper/internal/checkpoint"
	"github.com/michalporada/framer-marketplace-scraper/internal/config"
	"github.com/michalporada/framer-marketplace-scraper/internal/gate"
	"github.com/michalporada/framer-marketplace-scraper/internal/metrics"
	"github.com/michalporada/framer-marketplace-scraper/internal/policy/simple"
	"github.com/michalporada/framer-marketplace-scraper/internal/progress"
	queuememory "github.com/michalporada/framer-marketplace-scraper/internal/queue/memory"
	"github.com/michalporada/framer-marketplace-scraper/internal/retry"
	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
	"github.com/michalporada/framer-marketplace-scraper/internal/sitemap"
	"github.com/michalporada/framer-marketplace-scraper/internal/store"
	"github.com/michalporada/framer-marketplace-scraper/internal/worker"
)

// Discoverer produces the classified URL index for a run.
type Discoverer interface {
	Discover(ctx context.Context, sitemapURL string) (*sitemap.Index, error)
}

// ClassificationCache persists the last successful discovery so a transient
// sitemap failure can reuse it.
type ClassificationCache interface {
	Save(ix *sitemap.Index) error
	Load() (*sitemap.Index, error)
}

// Deps are the orchestrator's collaborators. Discovery, Gate, Checkpoint,
// Classifier, Fetcher, Parser, Sink, Limiter, Retry, Clock and IDs are
// required; the rest degrade gracefully when nil.
type Deps struct {
	Discovery    Discoverer
	Cache        ClassificationCache
	Classifier   *scraper.Classifier
	Gate         *gate.Gate
	Checkpoint   *checkpoint.Store
	Fingerprints scraper.FingerprintCache
	Dedup        scraper.DedupTracker
	Fetcher      scraper.Fetcher
	Headless     scraper.Fetcher
	Detector     scraper.HeadlessDetector
	Policy       scraper.CrawlPolicy
	Parser       scraper.Parser
	Archive      scraper.Archive
	Hasher       scraper.Hasher
	Sink         scraper.Sink
	Publisher    scraper.Publisher
	Runs         store.RunRepository
	Limiter      scraper.Limiter
	Retry        *retry.Policy
	Clock        scraper.Clock
	IDs          scraper.IDGenerator
	Progress     progress.Emitter
	Tracker      *Tracker

	// Out receives the single summary line; defaults to stdout. Logs go to
	// stderr, so the line stays machine-parseable.
	Out io.Writer
	// Timeout bounds the fetch and retry phases; zero falls back to
	// crawl.run_timeout_minutes.
	Timeout time.Duration
}

// Orchestrator drives the run state machine. One instance performs one run.
type Orchestrator struct {
	deps   Deps
	cfg    config.Config
	logger *zap.Logger
}

// New constructs an orchestrator.
func New(deps Deps, cfg config.Config, logger *zap.Logger) *Orchestrator {
	if deps.Tracker == nil {
		deps.Tracker = NewTracker()
	}
	if deps.Policy == nil {
		deps.Policy = simple.New(cfg.Crawl.DenyPaths...)
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if deps.Timeout <= 0 {
		deps.Timeout = cfg.RunTimeout()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: logger}
}

// Tracker returns the live status tracker for the ops API.
func (o *Orchestrator) Tracker() *Tracker {
	return o.deps.Tracker
}

// execution carries per-run state between phases.
type execution struct {
	runID    string
	resumed  bool
	started  time.Time
	tally    *tally
	preFetch scraper.GateResult
	prePub   scraper.GateResult
}

// Execute performs the run and returns its summary. A non-success run also
// returns the error that ended it; callers exit with Summary.ExitCode
// either way.
func (o *Orchestrator) Execute(ctx context.Context) (scraper.RunSummary, error) {
	ex := &execution{
		started:  o.deps.Clock.Now(),
		tally:    newTally(),
		preFetch: scraper.GateSkipped,
		prePub:   scraper.GateSkipped,
	}

	if err := o.beginOrResume(ex); err != nil {
		return o.finish(ex, scraper.RunOutcomeFailed, "checkpoint", err)
	}
	o.deps.Tracker.begin(ex.runID, ex.resumed, ex.started)
	o.recordRunStart(ctx, ex)

	ix, err := o.discover(ctx)
	if err != nil {
		var derr *scraper.DiscoveryError
		if errors.As(err, &derr) && derr.Failure == scraper.DiscoveryUpstreamUnavailable {
			return o.finish(ex, scraper.RunOutcomeAbortedUpstream, string(derr.Failure),
				fmt.Errorf("%w: %v", scraper.ErrUpstreamUnavailable, err))
		}
		return o.finish(ex, scraper.RunOutcomeFailed, discoveryAbortReason(err), err)
	}
	ex.tally.discovered = len(ix.Items)
	ex.tally.droppedForeign = ix.Dropped
	for kind, n := range ix.ByKind {
		ex.tally.byKind[string(kind)] = n
	}

	o.setState(scraper.StateGatedPreFetch)
	ex.preFetch = o.deps.Gate.PreFetch(ix.RecordURLCount())
	metrics.ObserveGate("pre_fetch", string(ex.preFetch))
	if ex.preFetch != scraper.GatePassed {
		return o.finish(ex, scraper.RunOutcomeAbortedGate, "pre_fetch_gate",
			fmt.Errorf("%w: found %d record urls, required %d",
				scraper.ErrGateFailed, ix.RecordURLCount(), o.cfg.Gate.MinRecordURLs))
	}

	items := o.buildWorkList(ix)
	ex.tally.enqueued = len(items)
	changes := newChangeLog()

	// The run budget covers fetching and the failed-URL retry pass only;
	// discovery and publication carry their own shorter timeouts.
	fetchCtx, cancel := context.WithTimeout(ctx, o.deps.Timeout)
	defer cancel()

	o.setState(scraper.StateFetching)
	if err := o.runPass(fetchCtx, ex, items, o.cfg.Crawl.Workers, changes); err != nil {
		return o.finishInterrupted(ex, err)
	}

	if failed := ex.tally.failedItems(); len(failed) > 0 {
		o.setState(scraper.StateRetryingFailed)
		o.logger.Info("retrying failed urls",
			zap.Int("urls", len(failed)),
			zap.Int("workers", o.cfg.Crawl.RetryPassWorkers),
		)
		if err := o.runPass(fetchCtx, ex, failed, o.cfg.Crawl.RetryPassWorkers, changes); err != nil {
			return o.finishInterrupted(ex, err)
		}
	}

	o.setState(scraper.StateGatedPublish)
	ex.prePub = o.deps.Gate.PrePublish(ex.tally.recordsWritten())
	metrics.ObserveGate("pre_publish", string(ex.prePub))
	if ex.prePub != scraper.GatePassed {
		return o.finish(ex, scraper.RunOutcomeAbortedGate, "pre_publish_gate",
			fmt.Errorf("%w: zero records extracted", scraper.ErrGateFailed))
	}

	o.setState(scraper.StatePublishing)
	if err := o.deps.Sink.Flush(ctx); err != nil {
		return o.finish(ex, scraper.RunOutcomeFailed, "sink_flush", fmt.Errorf("flush sinks: %w", err))
	}
	o.publishChanges(ctx, ex.runID, changes.drain())

	if err := o.deps.Checkpoint.Clear(); err != nil {
		o.logger.Warn("checkpoint clear failed", zap.Error(err))
	}
	return o.finish(ex, scraper.RunOutcomeSuccess, "", nil)
}

// beginOrResume loads any leftover checkpoint. A checkpoint for the same
// target resumes under its run ID; a missing checkpoint, or one for another
// target, starts a fresh run.
func (o *Orchestrator) beginOrResume(ex *execution) error {
	rec, ok, err := o.deps.Checkpoint.Load()
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if ok && rec.RunID != "" && rec.Target == o.cfg.Target.SitemapURL {
		o.deps.Checkpoint.Resume(rec)
		ex.runID = rec.RunID
		ex.resumed = true
		o.logger.Info("resuming interrupted run",
			zap.String("run_id", rec.RunID),
			zap.Int("processed", len(rec.Processed)),
			zap.Int("failed", len(rec.Failed)),
		)
		return nil
	}

	runID, err := o.deps.IDs.NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	if err := o.deps.Checkpoint.Begin(runID, o.cfg.Target.SitemapURL, ex.started); err != nil {
		return fmt.Errorf("begin checkpoint: %w", err)
	}
	ex.runID = runID
	return nil
}

// discover runs sitemap discovery, handling the transient-failure cache
// substitution locally. Upstream-unavailable and malformed failures pass
// through to the caller's dispatch.
func (o *Orchestrator) discover(ctx context.Context) (*sitemap.Index, error) {
	o.setState(scraper.StateDiscovering)

	ix, err := o.deps.Discovery.Discover(ctx, o.cfg.Target.SitemapURL)
	if err == nil {
		if o.deps.Cache != nil {
			if serr := o.deps.Cache.Save(ix); serr != nil {
				o.logger.Warn("classification cache save failed", zap.Error(serr))
			}
		}
		return ix, nil
	}

	var derr *scraper.DiscoveryError
	if !errors.As(err, &derr) || derr.Failure != scraper.DiscoveryTransient || o.deps.Cache == nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, err
	}
	cached, cerr := o.deps.Cache.Load()
	if cerr != nil {
		o.logger.Warn("classification cache load failed", zap.Error(cerr))
		return nil, err
	}
	if cached == nil || len(cached.Items) == 0 {
		return nil, err
	}
	o.logger.Warn("sitemap unreachable, substituting cached classification",
		zap.Int("cached_urls", len(cached.Items)),
		zap.Error(err),
	)
	return cached, nil
}

// buildWorkList seeds the queue from the discovery index. The admission
// policy drops category pages and configured deny paths; URLs the checkpoint
// already settled are skipped. Failed URLs from the interrupted run re-enter
// even when the fresh sitemap no longer lists them.
func (o *Orchestrator) buildWorkList(ix *sitemap.Index) []scraper.WorkItem {
	items := make([]scraper.WorkItem, 0, len(ix.Items))
	queued := make(map[string]struct{}, len(ix.Items))
	for _, item := range ix.Items {
		if !o.deps.Policy.AllowFetch(item.Kind, item.URL) {
			continue
		}
		if o.deps.Checkpoint.IsProcessed(item.URL) {
			continue
		}
		items = append(items, item)
		queued[item.URL] = struct{}{}
	}
	for rawURL := range o.deps.Checkpoint.Failed() {
		if _, ok := queued[rawURL]; ok {
			continue
		}
		if o.deps.Checkpoint.IsProcessed(rawURL) {
			continue
		}
		kind, canonical, err := o.deps.Classifier.Classify(rawURL)
		if err != nil {
			o.logger.Debug("dropping unclassifiable failed url", zap.String("url", rawURL), zap.Error(err))
			continue
		}
		if !o.deps.Policy.AllowFetch(kind, canonical) {
			o.logger.Debug("dropping policy-blocked failed url", zap.String("url", canonical))
			continue
		}
		items = append(items, scraper.WorkItem{URL: canonical, Kind: kind})
		queued[canonical] = struct{}{}
	}
	return items
}

// runPass drains one worker pool over items. The queue is seeded from a
// goroutine so outcomes can be folded while workers are still producing
// them; seeding inline against a bounded queue and a bounded outcome
// channel would deadlock.
func (o *Orchestrator) runPass(ctx context.Context, ex *execution, items []scraper.WorkItem, workers int, changes *changeLog) error {
	q := queuememory.NewQueue(o.cfg.Crawl.QueueDepth)
	pool := worker.NewPool(worker.Deps{
		Queue:        q,
		Fetcher:      o.deps.Fetcher,
		Headless:     o.deps.Headless,
		Detector:     o.deps.Detector,
		Policy:       o.deps.Policy,
		Parser:       o.deps.Parser,
		Archive:      o.deps.Archive,
		Hasher:       o.deps.Hasher,
		Sink:         o.deps.Sink,
		Fingerprints: o.deps.Fingerprints,
		Dedup:        o.deps.Dedup,
		Limiter:      o.deps.Limiter,
		Retry:        o.deps.Retry,
		Checkpoint:   o.deps.Checkpoint,
		Clock:        o.deps.Clock,
		Progress:     o.deps.Progress,
		Changes:      changes,
	}, worker.Config{
		RunID:              ex.runID,
		Workers:            workers,
		ArchivePrefix:      o.cfg.Archive.Prefix,
		ArchiveContentType: o.cfg.Archive.ContentType,
	}, o.logger.Named("worker"))

	go func() {
		defer q.Close()
		for _, item := range items {
			if err := q.Enqueue(ctx, item); err != nil {
				return
			}
		}
	}()

	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	for outcome := range pool.Outcomes() {
		ex.tally.fold(outcome)
	}
	return <-done
}

// finishInterrupted maps a pass abort to its outcome class. Work already
// checkpointed stays durable; the next run resumes from it.
func (o *Orchestrator) finishInterrupted(ex *execution, err error) (scraper.RunSummary, error) {
	if errors.Is(err, context.DeadlineExceeded) {
		return o.finish(ex, scraper.RunOutcomeAbortedTimeout, "run_timeout",
			fmt.Errorf("%w after %s", scraper.ErrRunTimeout, o.deps.Timeout))
	}
	return o.finish(ex, scraper.RunOutcomeFailed, "canceled", err)
}

// finish closes out the run on every path: persist fingerprints, emit the
// summary line, update the run store, and signal progress consumers.
func (o *Orchestrator) finish(ex *execution, outcome, abortReason string, cause error) (scraper.RunSummary, error) {
	o.setState(scraper.StateReporting)

	if o.deps.Fingerprints != nil {
		if err := o.deps.Fingerprints.Save(); err != nil {
			o.logger.Warn("fingerprint save failed", zap.Error(err))
		}
	}

	finished := o.deps.Clock.Now()
	summary := o.buildSummary(ex, outcome, abortReason, finished)

	o.emitSummary(summary)
	o.completeRun(summary)
	o.emitRunEnd(summary, cause)

	if outcome == scraper.RunOutcomeSuccess {
		o.setState(scraper.StateDone)
	} else {
		o.setState(scraper.StateAborted)
	}
	o.logger.Info("run finished",
		zap.String("run_id", summary.RunID),
		zap.String("outcome", summary.Outcome),
		zap.Int("exit_code", summary.ExitCode),
		zap.Int("fetched", summary.Fetched),
		zap.Int("records_written", summary.RecordsWritten),
		zap.Int("skipped_unchanged", summary.SkippedUnchanged),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int64("duration_ms", summary.DurationMs),
	)
	return summary, cause
}

func (o *Orchestrator) buildSummary(ex *execution, outcome, abortReason string, finished time.Time) scraper.RunSummary {
	t := ex.tally
	byKind := t.byKind
	if len(byKind) == 0 {
		byKind = nil
	}
	return scraper.RunSummary{
		RunID:            ex.runID,
		Resumed:          ex.resumed,
		StartedAt:        ex.started,
		FinishedAt:       finished,
		DurationMs:       finished.Sub(ex.started).Milliseconds(),
		Outcome:          outcome,
		AbortReason:      abortReason,
		Discovered:       t.discovered,
		ByKind:           byKind,
		DroppedForeign:   t.droppedForeign,
		Enqueued:         t.enqueued,
		Fetched:          t.fetched(),
		Retries:          t.retries,
		SlowAttempts:     t.slowAttempts,
		SkippedUnchanged: t.skippedUnchanged(),
		Duplicates:       t.duplicates(),
		RecordsWritten:   t.recordsWritten(),
		Failures:         t.failures(),
		BytesFetched:     t.bytes,
		GatePreFetch:     ex.preFetch,
		GatePrePublish:   ex.prePub,
		ExitCode:         exitCodeFor(outcome),
	}
}

// emitSummary writes the one machine-parseable line this process prints to
// stdout.
func (o *Orchestrator) emitSummary(summary scraper.RunSummary) {
	payload, err := json.Marshal(summary)
	if err != nil {
		o.logger.Error("marshal run summary", zap.Error(err))
		return
	}
	fmt.Fprintln(o.deps.Out, string(payload))
}

// completeRun persists the final run row. It runs on a fresh context with
// its own short budget: the run's contexts may already be dead.
func (o *Orchestrator) completeRun(summary scraper.RunSummary) {
	if o.deps.Runs == nil || summary.RunID == "" {
		return
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		o.logger.Error("marshal run summary", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.deps.Runs.CompleteRun(ctx, summary.RunID, summary.FinishedAt, summary.Outcome, payload); err != nil {
		o.logger.Warn("run store update failed", zap.Error(err))
	}
}

func (o *Orchestrator) recordRunStart(ctx context.Context, ex *execution) {
	if o.deps.Runs != nil {
		if err := o.deps.Runs.UpsertRunStart(ctx, ex.runID, o.cfg.Target.SitemapURL, ex.started); err != nil {
			o.logger.Warn("run store insert failed", zap.Error(err))
		}
	}
	if o.deps.Progress != nil {
		note := ""
		if ex.resumed {
			note = "resumed"
		}
		o.deps.Progress.Emit(progress.Event{
			RunID: ex.runID,
			TS:    ex.started,
			Stage: progress.StageRunStart,
			Note:  note,
		})
	}
	o.logger.Info("run starting",
		zap.String("run_id", ex.runID),
		zap.Bool("resumed", ex.resumed),
		zap.String("sitemap", o.cfg.Target.SitemapURL),
	)
}

func (o *Orchestrator) emitRunEnd(summary scraper.RunSummary, cause error) {
	if o.deps.Progress == nil || summary.RunID == "" {
		return
	}
	evt := progress.Event{
		RunID: summary.RunID,
		TS:    summary.FinishedAt,
		Stage: progress.StageRunDone,
		Dur:   summary.FinishedAt.Sub(summary.StartedAt),
		Note:  summary.Outcome,
	}
	if summary.ExitCode != scraper.ExitOK {
		evt.Stage = progress.StageRunError
		if cause != nil {
			evt.Note = summary.Outcome + ": " + cause.Error()
		}
	}
	o.deps.Progress.Emit(evt)
}

// publishChanges notifies downstream consumers about every record the run
// wrote. The sinks stay authoritative; a publish failure is logged and
// skipped.
func (o *Orchestrator) publishChanges(ctx context.Context, runID string, recs []scraper.Record) {
	if o.deps.Publisher == nil || o.cfg.PubSub.TopicName == "" || len(recs) == 0 {
		return
	}
	published := 0
	for _, rec := range recs {
		payload := map[string]any{
			"run_id":      runID,
			"kind":        rec.Kind,
			"url":         rec.URL,
			"dedup_key":   rec.DedupKey(),
			"archive_uri": rec.ArchiveURI,
			"captured_at": rec.CapturedAt,
		}
		if _, err := o.deps.Publisher.Publish(ctx, o.cfg.PubSub.TopicName, payload); err != nil {
			o.logger.Warn("record publish failed", zap.String("url", rec.URL), zap.Error(err))
			continue
		}
		published++
	}
	o.logger.Info("record changes published",
		zap.Int("published", published),
		zap.Int("records", len(recs)),
		zap.String("topic", o.cfg.PubSub.TopicName),
	)
}

func (o *Orchestrator) setState(state scraper.RunState) {
	o.deps.Tracker.setState(state)
	o.logger.Debug("state transition", zap.String("state", string(state)))
}

func discoveryAbortReason(err error) string {
	var derr *scraper.DiscoveryError
	if errors.As(err, &derr) {
		return "discovery_" + string(derr.Failure)
	}
	return "discovery"
}

func exitCodeFor(outcome string) int {
	switch outcome {
	case scraper.RunOutcomeSuccess:
		return scraper.ExitOK
	case scraper.RunOutcomeAbortedUpstream:
		return scraper.ExitUpstreamUnavailable
	default:
		return scraper.ExitFailure
	}
}
