package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kelsos/media-import/internal/models"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "data", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndContains(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	found, err := store.Contains(ctx, "abc")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.Record(ctx, models.ImportRecord{
		Hash:       "abc",
		SourcePath: "/card/a.jpg",
		DestPath:   "/photos/2024-05-01/a.jpg",
		Size:       42,
		TaskID:     "task-1",
	}))

	found, err = store.Contains(ctx, "abc")
	require.NoError(t, err)
	require.True(t, found)

	// Same content again keeps the original entry
	require.NoError(t, store.Record(ctx, models.ImportRecord{Hash: "abc", SourcePath: "/other/a.jpg", DestPath: "/x", TaskID: "task-2"}))
	count, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	records, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "/card/a.jpg", records[0].SourcePath)
	require.Equal(t, "task-1", records[0].TaskID)
	require.False(t, records[0].ImportedAt.IsZero())
}

func TestRecentOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, hash := range []string{"h1", "h2", "h3"} {
		require.NoError(t, store.Record(ctx, models.ImportRecord{
			Hash:       hash,
			SourcePath: "/card/" + hash,
			DestPath:   "/dest/" + hash,
			TaskID:     "t",
			ImportedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	records, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "h3", records[0].Hash)
	require.Equal(t, "h2", records[1].Hash)
	require.True(t, records[0].ImportedAt.Equal(base.Add(2*time.Minute)))
}

func TestReopenKeepsHistory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Record(ctx, models.ImportRecord{Hash: "h", SourcePath: "/a", DestPath: "/b", TaskID: "t"}))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()

	found, err := store.Contains(ctx, "h")
	require.NoError(t, err)
	require.True(t, found)
}
