// Package history records imported files so later imports can skip duplicates.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/kelsos/media-import/internal/logger"
	"github.com/kelsos/media-import/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS imports (
	hash        TEXT PRIMARY KEY,
	source_path TEXT NOT NULL,
	dest_path   TEXT NOT NULL,
	size        INTEGER NOT NULL,
	task_id     TEXT NOT NULL,
	imported_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_imports_imported_at ON imports(imported_at);
`

// Store is the import history backed by SQLite
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the history database at path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}

	logger.Debug("Opened import history at %s", path)
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Contains reports whether a file with the given hash was imported before
func (s *Store) Contains(ctx context.Context, hash string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM imports WHERE hash = ?", hash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query history: %w", err)
	}
	return true, nil
}

// Record stores an import. Recording the same hash again keeps the first entry.
func (s *Store) Record(ctx context.Context, rec models.ImportRecord) error {
	if rec.ImportedAt.IsZero() {
		rec.ImportedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO imports (hash, source_path, dest_path, size, task_id, imported_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Hash, rec.SourcePath, rec.DestPath, rec.Size, rec.TaskID, rec.ImportedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record import of %s: %w", rec.SourcePath, err)
	}
	return nil
}

// Recent returns up to limit records, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]models.ImportRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hash, source_path, dest_path, size, task_id, imported_at
		 FROM imports ORDER BY imported_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var records []models.ImportRecord
	for rows.Next() {
		var (
			rec        models.ImportRecord
			importedAt int64
		)
		if err := rows.Scan(&rec.Hash, &rec.SourcePath, &rec.DestPath, &rec.Size, &rec.TaskID, &importedAt); err != nil {
			return nil, fmt.Errorf("failed to read history row: %w", err)
		}
		rec.ImportedAt = time.Unix(0, importedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the number of recorded imports
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM imports").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return count, nil
}
