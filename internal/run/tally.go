package run

import "github.com/michalporada/framer-marketplace-scraper/internal/scraper"

// tally folds worker outcomes into the counters the run summary reports.
// Retries, slow attempts, and bytes accumulate across both fetch passes;
// per-URL verdicts keep only the latest outcome, so a retry pass success
// supersedes the first pass failure it repairs.
type tally struct {
	discovered     int
	byKind         map[string]int
	droppedForeign int
	enqueued       int

	retries      int
	slowAttempts int
	bytes        int64

	final map[string]scraper.FetchOutcome
}

func newTally() *tally {
	return &tally{
		byKind: make(map[string]int),
		final:  make(map[string]scraper.FetchOutcome),
	}
}

func (t *tally) fold(outcome scraper.FetchOutcome) {
	if outcome.Attempts > 1 {
		t.retries += outcome.Attempts - 1
	}
	t.slowAttempts += outcome.SlowAttempts
	t.bytes += outcome.Bytes
	t.final[outcome.URL] = outcome
}

// failedItems returns the work items whose latest outcome failed. The
// second pass re-queues all of them, terminal failures included: a page
// that 404ed mid-run can be back by the time the pass starts.
func (t *tally) failedItems() []scraper.WorkItem {
	var items []scraper.WorkItem
	for url, outcome := range t.final {
		if outcome.Failed() {
			items = append(items, scraper.WorkItem{URL: url, Kind: outcome.Kind})
		}
	}
	return items
}

func (t *tally) fetched() int {
	n := 0
	for _, outcome := range t.final {
		if outcome.Status == scraper.OutcomeSuccess {
			n++
		}
	}
	return n
}

func (t *tally) skippedUnchanged() int {
	n := 0
	for _, outcome := range t.final {
		if outcome.Status == scraper.OutcomeSkippedUnchanged {
			n++
		}
	}
	return n
}

func (t *tally) duplicates() int {
	n := 0
	for _, outcome := range t.final {
		if outcome.Status == scraper.OutcomeDuplicate {
			n++
		}
	}
	return n
}

// recordsWritten counts record pages that completed successfully. The
// workers only report success after the sink write lands, so this equals
// the number of records handed to the sinks.
func (t *tally) recordsWritten() int {
	n := 0
	for _, outcome := range t.final {
		if outcome.Status == scraper.OutcomeSuccess && outcome.Kind.IsRecord() {
			n++
		}
	}
	return n
}

func (t *tally) failures() map[string]int {
	out := make(map[string]int)
	for _, outcome := range t.final {
		if !outcome.Failed() {
			continue
		}
		reason := string(outcome.Reason)
		if reason == "" {
			reason = string(scraper.ReasonNetworkError)
		}
		out[reason]++
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
