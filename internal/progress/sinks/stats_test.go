package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/michalporada/framer-marketplace-scraper/internal/progress"
	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
)

// TestStatsSinkAggregatesOutcomes ensures outcome events collapse into run counters.
func TestStatsSinkAggregatesOutcomes(t *testing.T) {
	t.Parallel()

	sink := NewStatsSink()
	now := time.Now()

	batch := []progress.Event{
		fetchEvent(now, scraper.OutcomeSuccess, "", 1, 0, 2048),
		fetchEvent(now, scraper.OutcomeSuccess, "", 3, 1, 4096),
		fetchEvent(now, scraper.OutcomeSkippedUnchanged, "", 1, 0, 1024),
		fetchEvent(now, scraper.OutcomeDuplicate, "", 1, 0, 512),
		fetchEvent(now, scraper.OutcomeTerminalFailure, scraper.ReasonHTTPStatus, 1, 0, 0),
		fetchEvent(now, scraper.OutcomeRetryableFailure, scraper.ReasonTimeout, 5, 2, 0),
		{RunID: "run-1", TS: now, Stage: progress.StageRecordWritten, Kind: scraper.KindPlugin},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	stats := sink.Snapshot()
	require.Equal(t, 2, stats.Fetched)
	require.Equal(t, 1, stats.SkippedUnchanged)
	require.Equal(t, 1, stats.Duplicates)
	require.Equal(t, 2, stats.Failed)
	require.Equal(t, 6, stats.Retries)
	require.Equal(t, 3, stats.SlowAttempts)
	require.Equal(t, int64(7680), stats.BytesFetched)
	require.Equal(t, 1, stats.RecordsWritten)
	require.Equal(t, map[string]int{
		"http_status": 1,
		"timeout":     1,
	}, stats.Failures)
}

// TestStatsSinkSnapshotIsACopy ensures mutating a snapshot cannot corrupt the sink.
func TestStatsSinkSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	sink := NewStatsSink()
	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		fetchEvent(now, scraper.OutcomeTerminalFailure, scraper.ReasonParseError, 1, 0, 0),
	}))

	snap := sink.Snapshot()
	snap.Failures["parse_error"] = 99
	snap.Fetched = 42

	again := sink.Snapshot()
	require.Equal(t, 1, again.Failures["parse_error"])
	require.Equal(t, 0, again.Fetched)
}

func fetchEvent(
	ts time.Time,
	status scraper.OutcomeStatus,
	reason scraper.FailureReason,
	attempts, slow int,
	bytes int64,
) progress.Event {
	return progress.Event{
		RunID:        "run-1",
		TS:           ts,
		Stage:        progress.StageFetchDone,
		Kind:         scraper.KindPlugin,
		URL:          "https://www.framer.com/marketplace/plugins/form-builder/",
		Status:       status,
		Reason:       reason,
		StatusClass:  progress.Status2xx,
		Bytes:        bytes,
		Attempts:     attempts,
		SlowAttempts: slow,
		Dur:          150 * time.Millisecond,
	}
}
