// Package importer implements the queue task that copies media into the
// destination library.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/kelsos/media-import/internal/logger"
	"github.com/kelsos/media-import/internal/models"
	"github.com/kelsos/media-import/internal/scanner"
	"github.com/kelsos/media-import/internal/taskqueue"
)

const chunkSize = 32 * 1024

// History is the duplicate check and ledger used by import tasks
type History interface {
	Contains(ctx context.Context, hash string) (bool, error)
	Record(ctx context.Context, rec models.ImportRecord) error
}

// FileError is the payload of ERROR updates
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// Options configures an import task
type Options struct {
	ID      string
	Source  string
	Files   []models.MediaFile
	DestDir string
	Fs      afero.Fs
	History History
	// Limiter throttles copied bytes. Nil copies at full speed.
	Limiter *rate.Limiter
	// Now is used to name the dated destination directory
	Now func() time.Time
}

// ImportTask copies a batch of media files, skipping files already in history
type ImportTask struct {
	*taskqueue.BaseTask

	source  string
	files   []models.MediaFile
	destDir string
	fs      afero.Fs
	history History
	limiter *rate.Limiter
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	stats models.ImportStats
}

// NewImportTask creates an import task. Canceling ctx cancels the task.
func NewImportTask(ctx context.Context, opts Options) *ImportTask {
	taskCtx, cancel := context.WithCancel(ctx)
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &ImportTask{
		BaseTask: taskqueue.NewBaseTask(opts.ID),
		source:   opts.Source,
		files:    opts.Files,
		destDir:  opts.DestDir,
		fs:       opts.Fs,
		history:  opts.History,
		limiter:  opts.Limiter,
		now:      opts.Now,
		ctx:      taskCtx,
		cancel:   cancel,
		stats:    models.ImportStats{Remaining: len(opts.Files)},
	}
}

// Source returns the source directory the files were scanned from
func (t *ImportTask) Source() string {
	return t.source
}

// Files returns the files of the batch
func (t *ImportTask) Files() []models.MediaFile {
	return t.files
}

// TotalBytes returns the size of the batch
func (t *ImportTask) TotalBytes() int64 {
	var total int64
	for _, file := range t.files {
		total += file.Size
	}
	return total
}

// Stats returns a snapshot of the task statistics
func (t *ImportTask) Stats() models.ImportStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// RequestCancel asks the task to stop; it reports CANCELED at the next file boundary
func (t *ImportTask) RequestCancel() {
	t.cancel()
}

// Run starts the copy on its own goroutine
func (t *ImportTask) Run() {
	go t.run()
}

func (t *ImportTask) run() {
	defer t.cancel()

	progress := models.Progress{
		TaskID:     t.ID(),
		Total:      len(t.files),
		TotalBytes: t.TotalBytes(),
	}
	destDir := filepath.Join(t.destDir, t.now().Format("2006-01-02"))
	logger.Info("Importing %d files from %s into %s", len(t.files), t.source, destDir)

	for _, file := range t.files {
		if t.ctx.Err() != nil {
			t.finishCanceled()
			return
		}

		progress.Current = file.Path
		err := t.importFile(file, destDir)
		if err != nil && t.ctx.Err() != nil {
			t.finishCanceled()
			return
		}

		t.mu.Lock()
		t.stats.Remaining--
		if err != nil {
			t.stats.Failed++
		}
		t.mu.Unlock()

		if err != nil {
			logger.Error("Failed to import %s: %v", file.Path, err)
			t.Notify(taskqueue.UpdateError, &FileError{Path: file.Path, Err: err})
		}

		progress.Processed++
		progress.ProcessedBytes += file.Size
		t.Notify(taskqueue.UpdateProgress, progress)
	}

	stats := t.Stats()
	logger.Info("Import task %s complete: %d imported, %d duplicates, %d failed",
		t.ID(), stats.Imported, stats.Duplicates, stats.Failed)
	t.Notify(taskqueue.UpdateComplete, stats)
}

func (t *ImportTask) finishCanceled() {
	stats := t.Stats()
	logger.Info("Import task %s canceled with %d files remaining", t.ID(), stats.Remaining)
	t.Notify(taskqueue.UpdateCanceled, stats)
}

func (t *ImportTask) importFile(file models.MediaFile, destDir string) error {
	hash := file.Hash
	if hash == "" {
		var err error
		if hash, err = scanner.HashFile(t.ctx, t.fs, file.Path); err != nil {
			return err
		}
	}

	if t.history != nil {
		seen, err := t.history.Contains(t.ctx, hash)
		if err != nil {
			return err
		}
		if seen {
			logger.Debug("Skipping duplicate %s", file.Path)
			t.mu.Lock()
			t.stats.Duplicates++
			t.mu.Unlock()
			return nil
		}
	}

	destPath, err := uniqueDestPath(t.fs, destDir, filepath.Base(file.Path))
	if err != nil {
		return err
	}

	written, err := t.copyFile(file, destPath)
	if err != nil {
		return err
	}

	if t.history != nil {
		err := t.history.Record(t.ctx, models.ImportRecord{
			Hash:       hash,
			SourcePath: file.Path,
			DestPath:   destPath,
			Size:       written,
			TaskID:     t.ID(),
			ImportedAt: t.now(),
		})
		if err != nil {
			return err
		}
	}

	t.mu.Lock()
	t.stats.Imported++
	t.stats.BytesImported += written
	t.mu.Unlock()
	return nil
}

func (t *ImportTask) copyFile(file models.MediaFile, destPath string) (written int64, err error) {
	in, err := t.fs.Open(file.Path)
	if err != nil {
		return 0, fmt.Errorf("failed to open source file: %w", err)
	}
	defer in.Close()

	if err := t.fs.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create destination directory: %w", err)
	}

	out, err := t.fs.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create destination file: %w", err)
	}
	closed := false
	defer func() {
		if !closed {
			out.Close()
		}
		if err != nil {
			_ = t.fs.Remove(destPath)
		}
	}()

	buf := make([]byte, chunkSize)
	for {
		n, readErr := in.Read(buf)
		if n > 0 {
			if t.limiter != nil {
				if err := t.limiter.WaitN(t.ctx, n); err != nil {
					return written, fmt.Errorf("copy throttling interrupted: %w", err)
				}
			}
			if _, err := out.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("failed to write destination file: %w", err)
			}
			written += int64(n)
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return written, fmt.Errorf("failed to read source file: %w", readErr)
		}
	}

	// Some filesystems stamp the modification time on close
	closed = true
	if err := out.Close(); err != nil {
		return written, fmt.Errorf("failed to close destination file: %w", err)
	}

	if !file.ModTime.IsZero() {
		if err := t.fs.Chtimes(destPath, file.ModTime, file.ModTime); err != nil {
			logger.Warn("Could not preserve modification time of %s: %v", destPath, err)
		}
	}

	return written, nil
}

// uniqueDestPath returns dir/name, or dir/name_N.ext when the name is taken
func uniqueDestPath(fs afero.Fs, dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	candidate := filepath.Join(dir, name)
	for i := 1; ; i++ {
		exists, err := afero.Exists(fs, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check destination %s: %w", candidate, err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
	}
}

// NewLimiter returns a byte rate limiter, or nil when bytesPerSecond is zero
func NewLimiter(bytesPerSecond int64) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := chunkSize
	if bytesPerSecond > int64(burst) {
		burst = int(bytesPerSecond)
	}
	return rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
}

// Batch splits files into consecutive batches of at most size files
func Batch(files []models.MediaFile, size int) [][]models.MediaFile {
	if size <= 0 {
		size = len(files)
	}
	var batches [][]models.MediaFile
	for start := 0; start < len(files); start += size {
		end := start + size
		if end > len(files) {
			end = len(files)
		}
		batches = append(batches, files[start:end])
	}
	return batches
}
