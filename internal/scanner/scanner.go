// Package scanner finds media files on an import source.
package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/kelsos/media-import/internal/logger"
	"github.com/kelsos/media-import/internal/models"
)

var mediaExtensions = map[string]struct{}{
	// images
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".heic": {}, ".heif": {},
	".webp": {}, ".tif": {}, ".tiff": {}, ".bmp": {},
	// raw formats
	".arw": {}, ".cr2": {}, ".cr3": {}, ".dng": {}, ".nef": {}, ".nrw": {},
	".orf": {}, ".raf": {}, ".rw2": {},
	// video
	".3gp": {}, ".avi": {}, ".m4v": {}, ".mkv": {}, ".mov": {}, ".mp4": {},
	".mpg": {}, ".mts": {}, ".webm": {},
}

// Options controls a scan
type Options struct {
	// Since skips files not modified after it. Zero scans everything.
	Since time.Time
	// Workers bounds concurrent hashing.
	Workers int
}

// IsMediaFile reports whether name has a known image, raw or video extension
func IsMediaFile(name string) bool {
	_, ok := mediaExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Scan walks root and returns its media files, hashed and sorted by path.
// Hidden files and directories are skipped. Files that cannot be hashed are
// returned with an empty Hash.
func Scan(ctx context.Context, fs afero.Fs, root string, opts Options) ([]models.MediaFile, error) {
	info, err := fs.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat source %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %s is not a directory", root)
	}

	var files []models.MediaFile
	err = afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if path != root && strings.HasPrefix(info.Name(), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() || !IsMediaFile(info.Name()) {
			return nil
		}
		if !opts.Since.IsZero() && !info.ModTime().After(opts.Since) {
			return nil
		}

		files = append(files, models.MediaFile{
			Path:    path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk source %s: %w", root, err)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range files {
		g.Go(func() error {
			hash, err := HashFile(gctx, fs, files[i].Path)
			if err != nil {
				if gctx.Err() != nil {
					return err
				}
				// Left unhashed; the import task hashes again and reports the failure
				logger.Warn("Could not hash %s: %v", files[i].Path, err)
				return nil
			}
			files[i].Hash = hash
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to hash media files: %w", err)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})

	logger.Debug("Found %d media files in %s", len(files), root)
	return files, nil
}

// HashFile returns the hex encoded SHA-256 of the file contents
func HashFile(ctx context.Context, fs afero.Fs, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	file, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Newest returns the latest modification time among files
func Newest(files []models.MediaFile) time.Time {
	var newest time.Time
	for _, file := range files {
		if file.ModTime.After(newest) {
			newest = file.ModTime
		}
	}
	return newest
}
