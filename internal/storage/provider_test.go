package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/michalporada/framer-marketplace-scraper/internal/config"
	"github.com/michalporada/framer-marketplace-scraper/internal/storage/csv"
	"github.com/michalporada/framer-marketplace-scraper/internal/storage/local"
	"github.com/michalporada/framer-marketplace-scraper/internal/storage/memory"
)

func TestNewArchiveSelectsBackend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	archive, err := NewArchive(ctx, config.ArchiveConfig{Backend: "memory"})
	require.NoError(t, err)
	require.IsType(t, &memory.BlobStore{}, archive)

	archive, err = NewArchive(ctx, config.ArchiveConfig{})
	require.NoError(t, err)
	require.IsType(t, &memory.BlobStore{}, archive)

	archive, err = NewArchive(ctx, config.ArchiveConfig{Backend: "local", BaseDir: t.TempDir()})
	require.NoError(t, err)
	require.IsType(t, &local.BlobStore{}, archive)

	_, err = NewArchive(ctx, config.ArchiveConfig{Backend: "s3"})
	require.Error(t, err)
}

func TestNewSinkDefaultsToMemory(t *testing.T) {
	t.Parallel()

	sink, err := NewSink(context.Background(), config.SinkConfig{})
	require.NoError(t, err)
	require.IsType(t, &memory.RecordSink{}, sink)
}

func TestNewSinkSelectsCSV(t *testing.T) {
	t.Parallel()

	sink, err := NewSink(context.Background(), config.SinkConfig{
		CSV: config.CSVSinkConfig{Path: t.TempDir() + "/records.csv"},
	})
	require.NoError(t, err)
	require.IsType(t, &csv.RecordSink{}, sink)
}
