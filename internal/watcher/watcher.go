// Package watcher reports import sources whose contents changed and then
// settled.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kelsos/media-import/internal/logger"
	"github.com/kelsos/media-import/internal/scanner"
)

const maxTick = 100 * time.Millisecond

// Watcher watches source directories recursively and reports a source once no
// media change happened in it for the debounce period.
type Watcher struct {
	watcher  *fsnotify.Watcher
	sources  []string
	debounce time.Duration
	pending  map[string]time.Time
}

// New creates a watcher for sources. Every existing subdirectory is watched.
func New(sources []string, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		watcher:  fsw,
		debounce: debounce,
		pending:  make(map[string]time.Time),
	}

	for _, source := range sources {
		source = filepath.Clean(source)
		if err := w.addRecursive(source); err != nil {
			fsw.Close()
			return nil, err
		}
		w.sources = append(w.sources, source)
	}

	return w, nil
}

// addRecursive adds dir and all of its non-hidden subdirectories
func (w *Watcher) addRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("failed to watch %s: %w", dir, err)
			}
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(info.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			if path == dir {
				return fmt.Errorf("failed to watch %s: %w", dir, err)
			}
			logger.Warn("Could not watch %s: %v", path, err)
		}
		return nil
	})
}

// sourceOf returns the watched source containing path, preferring the deepest one
func (w *Watcher) sourceOf(path string) (string, bool) {
	best := ""
	for _, source := range w.sources {
		if path == source || strings.HasPrefix(path, source+string(filepath.Separator)) {
			if len(source) > len(best) {
				best = source
			}
		}
	}
	return best, best != ""
}

// Run delivers settled sources to onSettled until ctx is done. onSettled is
// called from Run's goroutine.
func (w *Watcher) Run(ctx context.Context, onSettled func(source string)) error {
	tick := w.debounce / 2
	if tick <= 0 || tick > maxTick {
		tick = maxTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("File watcher error: %v", err)

		case now := <-ticker.C:
			for _, source := range w.settled(now) {
				logger.Info("Source %s settled, importing", source)
				onSettled(source)
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}

	source, ok := w.sourceOf(event.Name)
	if !ok {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				logger.Warn("Could not watch new directory %s: %v", event.Name, err)
			}
			// Files copied together with the directory produce no events of their own
			w.pending[source] = time.Now()
			return
		}
	}

	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || !scanner.IsMediaFile(name) {
		return
	}

	logger.Debug("Change in %s: %s", source, event)
	w.pending[source] = time.Now()
}

// settled removes and returns the sources quiet for at least the debounce period
func (w *Watcher) settled(now time.Time) []string {
	var ready []string
	for source, changed := range w.pending {
		if now.Sub(changed) >= w.debounce {
			ready = append(ready, source)
			delete(w.pending, source)
		}
	}
	return ready
}

// Close stops watching and releases resources
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
