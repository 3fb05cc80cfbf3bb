package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigIsValid(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.WatchDebounce)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	content := `
data_dir = "/var/lib/media-import"
dest_dir = "/srv/photos"
sources = ["/media/card0", "/media/card1"]
batch_size = 10
hash_workers = 2
max_bytes_per_second = 1048576
watch_debounce_ms = 500
log_level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg := NewConfig()
	require.NoError(t, cfg.LoadFile(path, false))

	assert.Equal(t, "/var/lib/media-import", cfg.DataDir)
	assert.Equal(t, "/srv/photos", cfg.DestDir)
	assert.Equal(t, []string{"/media/card0", "/media/card1"}, cfg.Sources)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, 2, cfg.HashWorkers)
	assert.EqualValues(t, 1048576, cfg.MaxBytesPerSecond)
	assert.Equal(t, 500*time.Millisecond, cfg.WatchDebounce)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/var/lib/media-import/history.db", cfg.HistoryPath())
}

func TestLoadFileMissing(t *testing.T) {
	cfg := NewConfig()
	missing := filepath.Join(t.TempDir(), "nope.toml")
	require.NoError(t, cfg.LoadFile(missing, true))
	require.Error(t, cfg.LoadFile(missing, false))
}

func TestLoadFileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("batch_size = [oops"), 0600))
	require.Error(t, NewConfig().LoadFile(path, false))
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MEDIA_IMPORT_DATA_DIR", "/data")
	t.Setenv("MEDIA_IMPORT_DEST_DIR", "/dest")
	t.Setenv("MEDIA_IMPORT_SOURCES", "/a"+string(os.PathListSeparator)+"/b")
	t.Setenv("MEDIA_IMPORT_BATCH_SIZE", "7")
	t.Setenv("MEDIA_IMPORT_HASH_WORKERS", "not-a-number")
	t.Setenv("MEDIA_IMPORT_MAX_RATE", "4096")
	t.Setenv("MEDIA_IMPORT_WATCH_DEBOUNCE", "250")
	t.Setenv("MEDIA_IMPORT_LOG_LEVEL", "WARN")

	cfg := NewConfig()
	cfg.LoadFromEnvironment()

	assert.Equal(t, "/data", cfg.DataDir)
	assert.Equal(t, "/dest", cfg.DestDir)
	assert.Equal(t, []string{"/a", "/b"}, cfg.Sources)
	assert.Equal(t, 7, cfg.BatchSize)
	assert.Equal(t, 4, cfg.HashWorkers, "invalid numbers keep the default")
	assert.EqualValues(t, 4096, cfg.MaxBytesPerSecond)
	assert.Equal(t, 250*time.Millisecond, cfg.WatchDebounce)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"empty dest dir", func(c *Config) { c.DestDir = "" }},
		{"zero batch size", func(c *Config) { c.BatchSize = 0 }},
		{"zero hash workers", func(c *Config) { c.HashWorkers = 0 }},
		{"negative rate", func(c *Config) { c.MaxBytesPerSecond = -1 }},
		{"negative debounce", func(c *Config) { c.WatchDebounce = -time.Second }},
		{"source is dest", func(c *Config) { c.Sources = []string{c.DestDir + "/"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.modify(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestValidateSources(t *testing.T) {
	cfg := NewConfig()
	cfg.DestDir = "/srv/photos"

	require.NoError(t, cfg.ValidateSources([]string{"/media/card", "/srv/photos/inbox"}))
	require.NoError(t, cfg.ValidateSources(nil))

	err := cfg.ValidateSources([]string{"/media/card", "/srv/photos/"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/srv/photos/")
}
