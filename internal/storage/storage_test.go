package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatermarkRoundTrip(t *testing.T) {
	stateDir := filepath.Join(t.TempDir(), "state")

	last, err := GetLastWatermark(stateDir, "/media/card")
	require.NoError(t, err)
	require.True(t, last.IsZero())

	mark := time.Date(2024, 5, 1, 12, 30, 0, 123, time.UTC)
	require.NoError(t, SaveWatermark(stateDir, "/media/card", mark))

	last, err = GetLastWatermark(stateDir, "/media/card/")
	require.NoError(t, err)
	require.True(t, last.Equal(mark))

	other, err := GetLastWatermark(stateDir, "/media/other")
	require.NoError(t, err)
	require.True(t, other.IsZero())
}

func TestCorruptWatermark(t *testing.T) {
	stateDir := t.TempDir()
	require.NoError(t, os.WriteFile(GetWatermarkFilePath(stateDir, "/src"), []byte("{"), 0600))

	_, err := GetLastWatermark(stateDir, "/src")
	require.Error(t, err)
}

func TestGetAppDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	got, err := GetAppDataDir(dir)
	require.NoError(t, err)
	require.Equal(t, dir, got)
	require.DirExists(t, dir)
}
