package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/michalporada/framer-marketplace-scraper/internal/scraper"
)

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	_, ok, err := store.Load()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBeginPersistsRunID(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := NewStore(dir)
	started := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Begin("run-1", "https://www.framer.com/sitemap.xml", started))

	reloaded := NewStore(dir)
	rec, ok, err := reloaded.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "run-1", rec.RunID)
	require.Equal(t, "https://www.framer.com/sitemap.xml", rec.Target)
	require.True(t, started.Equal(rec.StartedAt))
	require.Empty(t, rec.Processed)
}

func TestAppendTracksOutcomes(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	require.NoError(t, store.Begin("run-1", "target", time.Now()))

	require.NoError(t, store.Append("https://a.example/1", scraper.ReasonNone))
	require.NoError(t, store.Append("https://a.example/2", scraper.ReasonTimeout))

	require.True(t, store.IsProcessed("https://a.example/1"))
	require.False(t, store.IsProcessed("https://a.example/2"))
	require.Equal(t, map[string]string{"https://a.example/2": "timeout"}, store.Failed())
}

func TestAppendSuccessClearsEarlierFailure(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	require.NoError(t, store.Begin("run-1", "target", time.Now()))

	require.NoError(t, store.Append("https://a.example/1", scraper.ReasonHTTPStatus))
	require.NoError(t, store.Append("https://a.example/1", scraper.ReasonNone))

	require.True(t, store.IsProcessed("https://a.example/1"))
	require.Empty(t, store.Failed())
}

func TestResumeRestoresState(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first := NewStore(dir)
	require.NoError(t, first.Begin("run-7", "target", time.Now()))
	require.NoError(t, first.Append("https://a.example/done", scraper.ReasonNone))
	require.NoError(t, first.Append("https://a.example/broken", scraper.ReasonNetworkError))

	second := NewStore(dir)
	rec, ok, err := second.Load()
	require.NoError(t, err)
	require.True(t, ok)
	second.Resume(rec)

	require.Equal(t, "run-7", second.RunID())
	require.True(t, second.IsProcessed("https://a.example/done"))
	require.Equal(t, map[string]string{"https://a.example/broken": "network_error"}, second.Failed())

	// The retried URL succeeds this time and moves out of the failed set.
	require.NoError(t, second.Append("https://a.example/broken", scraper.ReasonNone))
	require.Empty(t, second.Failed())
	require.True(t, second.IsProcessed("https://a.example/broken"))
}

func TestClearRemovesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := NewStore(dir)
	require.NoError(t, store.Begin("run-1", "target", time.Now()))
	require.NoError(t, store.Clear())

	_, err := os.Stat(filepath.Join(dir, "checkpoint.json"))
	require.True(t, os.IsNotExist(err))

	_, ok, err := store.Load()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAppendSurvivesDuplicateSuccess(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	require.NoError(t, store.Begin("run-1", "target", time.Now()))
	require.NoError(t, store.Append("https://a.example/1", scraper.ReasonNone))
	require.NoError(t, store.Append("https://a.example/1", scraper.ReasonNone))

	rec, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"https://a.example/1"}, rec.Processed)
}
