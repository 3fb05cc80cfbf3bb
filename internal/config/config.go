package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/kelsos/media-import/internal/utils"
)

// FileName is the name of the config file looked up inside the data directory
const FileName = "config.toml"

// Config holds all application configuration
type Config struct {
	// Locations
	DataDir   string   `toml:"data_dir"`
	DestDir   string   `toml:"dest_dir"`
	BackupDir string   `toml:"backup_dir"`
	Sources   []string `toml:"sources"`

	// Import settings
	BatchSize         int   `toml:"batch_size"`
	HashWorkers       int   `toml:"hash_workers"`
	MaxBytesPerSecond int64 `toml:"max_bytes_per_second"`

	// Watch settings
	WatchDebounce time.Duration `toml:"-"`
	DebounceMs    int           `toml:"watch_debounce_ms"`

	LogLevel string `toml:"log_level"`
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	return &Config{
		DataDir:       "~/.media-import",
		DestDir:       "~/Pictures/Imports",
		BackupDir:     "~/backups",
		BatchSize:     50,
		HashWorkers:   4,
		WatchDebounce: 2 * time.Second,
		LogLevel:      "info",
	}
}

// LoadFile merges the TOML file at path into the configuration. A missing file
// is not an error when optional is true.
func (c *Config) LoadFile(path string, optional bool) error {
	path = utils.ExpandHome(path)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && optional {
		return nil
	}

	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	if c.DebounceMs > 0 {
		c.WatchDebounce = time.Duration(c.DebounceMs) * time.Millisecond
	}
	return nil
}

// LoadFromEnvironment loads configuration from environment variables
func (c *Config) LoadFromEnvironment() {
	if dataDir := os.Getenv("MEDIA_IMPORT_DATA_DIR"); dataDir != "" {
		c.DataDir = dataDir
	}

	if destDir := os.Getenv("MEDIA_IMPORT_DEST_DIR"); destDir != "" {
		c.DestDir = destDir
	}

	if backupDir := os.Getenv("MEDIA_IMPORT_BACKUP_DIR"); backupDir != "" {
		c.BackupDir = backupDir
	}

	if sources := os.Getenv("MEDIA_IMPORT_SOURCES"); sources != "" {
		c.Sources = filepath.SplitList(sources)
	}

	if batch := os.Getenv("MEDIA_IMPORT_BATCH_SIZE"); batch != "" {
		if b, err := strconv.Atoi(batch); err == nil {
			c.BatchSize = b
		}
	}

	if workers := os.Getenv("MEDIA_IMPORT_HASH_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			c.HashWorkers = w
		}
	}

	if maxRate := os.Getenv("MEDIA_IMPORT_MAX_RATE"); maxRate != "" {
		if r, err := strconv.ParseInt(maxRate, 10, 64); err == nil {
			c.MaxBytesPerSecond = r
		}
	}

	if debounce := os.Getenv("MEDIA_IMPORT_WATCH_DEBOUNCE"); debounce != "" {
		if d, err := strconv.Atoi(debounce); err == nil {
			c.WatchDebounce = time.Duration(d) * time.Millisecond
		}
	}

	if level := os.Getenv("MEDIA_IMPORT_LOG_LEVEL"); level != "" {
		c.LogLevel = strings.ToLower(level)
	}
}

// ExpandPaths resolves a leading ~ in every configured path
func (c *Config) ExpandPaths() {
	c.DataDir = utils.ExpandHome(c.DataDir)
	c.DestDir = utils.ExpandHome(c.DestDir)
	c.BackupDir = utils.ExpandHome(c.BackupDir)
	for i, source := range c.Sources {
		c.Sources[i] = utils.ExpandHome(source)
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	if c.DestDir == "" {
		return fmt.Errorf("destination directory cannot be empty")
	}

	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got: %d", c.BatchSize)
	}

	if c.HashWorkers <= 0 {
		return fmt.Errorf("hash workers must be positive, got: %d", c.HashWorkers)
	}

	if c.MaxBytesPerSecond < 0 {
		return fmt.Errorf("max rate must be non-negative, got: %d", c.MaxBytesPerSecond)
	}

	if c.WatchDebounce < 0 {
		return fmt.Errorf("watch debounce must be non-negative, got: %v", c.WatchDebounce)
	}

	return c.ValidateSources(c.Sources)
}

// ValidateSources checks that none of sources is the destination directory
func (c *Config) ValidateSources(sources []string) error {
	for _, source := range sources {
		if filepath.Clean(source) == filepath.Clean(c.DestDir) {
			return fmt.Errorf("source %s cannot also be the destination", source)
		}
	}
	return nil
}

// FilePath returns the default config file location inside the data directory
func (c *Config) FilePath() string {
	return filepath.Join(c.DataDir, FileName)
}

// HistoryPath returns the location of the import history database
func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// StateDir returns the directory holding per-source watermarks
func (c *Config) StateDir() string {
	return filepath.Join(c.DataDir, "state")
}

// LogDir returns the directory used for file logging in TUI mode
func (c *Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}
