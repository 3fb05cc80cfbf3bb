package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/kelsos/media-import/internal/config"
	"github.com/kelsos/media-import/internal/eventloop"
	"github.com/kelsos/media-import/internal/importer"
	"github.com/kelsos/media-import/internal/logger"
	"github.com/kelsos/media-import/internal/models"
	"github.com/kelsos/media-import/internal/scanner"
	"github.com/kelsos/media-import/internal/storage"
	"github.com/kelsos/media-import/internal/taskqueue"
	"github.com/kelsos/media-import/internal/watcher"
)

// Monitor receives queue events. Methods are called from the loop goroutine
// and from task goroutines, so implementations must not block.
type Monitor interface {
	TaskQueued(task *importer.ImportTask)
	TaskUpdated(updateType taskqueue.UpdateType, task *importer.ImportTask, data any)
	QueueActive()
	QueueIdle()
}

// Summary aggregates the outcome of the tasks run by the service
type Summary struct {
	Sources    int
	ScanErrors int
	Files      int
	Tasks      int
	Completed  int
	Canceled   int
	Errors     int
	Stats      models.ImportStats
}

// sourceRun tracks the tasks queued from one scan of a source
type sourceRun struct {
	source    string
	newest    time.Time
	remaining int
	clean     bool
}

// ImportService orchestrates scanning sources and running import tasks
type ImportService struct {
	config  *config.Config
	fs      afero.Fs
	history importer.History
	limiter *rate.Limiter
	loop    *eventloop.Loop
	queue   *taskqueue.Queue

	// FullScan ignores source watermarks
	FullScan bool

	mu      sync.Mutex
	monitor Monitor
	runs    map[string]*sourceRun
	summary Summary
}

// NewImportService creates an import service with all dependencies
func NewImportService(cfg *config.Config, history importer.History) *ImportService {
	loop := eventloop.New()
	s := &ImportService{
		config:  cfg,
		fs:      afero.NewOsFs(),
		history: history,
		limiter: importer.NewLimiter(cfg.MaxBytesPerSecond),
		loop:    loop,
		queue:   taskqueue.New(loop),
		runs:    make(map[string]*sourceRun),
	}

	s.queue.AddUpdateCallback(s.onTaskUpdate)
	s.queue.SetActiveCallback(s.onQueueActive)
	s.queue.SetIdleCallback(s.onQueueIdle)
	return s
}

// SetFs replaces the filesystem sources are read from and copied to
func (s *ImportService) SetFs(fs afero.Fs) {
	s.fs = fs
}

// SetMonitor registers the monitor notified about queue events
func (s *ImportService) SetMonitor(monitor Monitor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitor = monitor
}

// GetConfig returns the current configuration
func (s *ImportService) GetConfig() *config.Config {
	return s.config
}

// Queue returns the task queue
func (s *ImportService) Queue() *taskqueue.Queue {
	return s.queue
}

// Summary returns the outcome of everything run so far
func (s *ImportService) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// ImportSources scans every source, queues its files as import tasks and
// runs the queue until it drains. Canceling ctx cancels the running task and
// every queued one; the queue still drains before ImportSources returns.
func (s *ImportService) ImportSources(ctx context.Context, sources []string) (Summary, error) {
	s.queueSources(ctx, sources)

	if err := s.loop.Run(context.WithoutCancel(ctx)); err != nil {
		return s.Summary(), fmt.Errorf("task queue failed: %w", err)
	}

	return s.Summary(), ctx.Err()
}

// Watch imports sources once, then keeps importing whenever new media settles
// in one of them, until ctx is done.
func (s *ImportService) Watch(ctx context.Context, sources []string) (Summary, error) {
	w, err := watcher.New(sources, s.config.WatchDebounce)
	if err != nil {
		return Summary{}, err
	}
	defer w.Close()

	// Keeps the loop running while the watcher can still queue tasks
	release := s.loop.RegisterCallback()

	watchCtx, stop := context.WithCancel(ctx)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer release(func() error { return nil })

		err := w.Run(watchCtx, func(source string) {
			s.queueSources(watchCtx, []string{source})
		})
		if err != nil {
			logger.Error("File watcher stopped: %v", err)
		}
	}()

	s.queueSources(watchCtx, sources)
	logger.Info("Watching %d sources for new media", len(sources))

	err = s.loop.Run(context.WithoutCancel(ctx))
	stop()
	<-done

	if err != nil {
		return s.Summary(), fmt.Errorf("task queue failed: %w", err)
	}
	return s.Summary(), nil
}

func (s *ImportService) queueSources(ctx context.Context, sources []string) {
	for _, source := range sources {
		if ctx.Err() != nil {
			return
		}
		if err := s.queueSource(ctx, source); err != nil {
			logger.Error("Failed to scan source %s: %v", source, err)
			s.mu.Lock()
			s.summary.ScanErrors++
			s.mu.Unlock()
		}
	}
}

// queueSource scans source and queues one import task per batch
func (s *ImportService) queueSource(ctx context.Context, source string) error {
	since := time.Time{}
	if !s.FullScan {
		var err error
		if since, err = storage.GetLastWatermark(s.config.StateDir(), source); err != nil {
			logger.Warn("Ignoring unreadable watermark of %s: %v", source, err)
			since = time.Time{}
		}
	}

	files, err := scanner.Scan(ctx, s.fs, source, scanner.Options{
		Since:   since,
		Workers: s.config.HashWorkers,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.summary.Sources++
	s.summary.Files += len(files)
	s.mu.Unlock()

	if len(files) == 0 {
		logger.Info("No new media in %s", source)
		return nil
	}

	batches := importer.Batch(files, s.config.BatchSize)
	run := &sourceRun{
		source:    source,
		newest:    scanner.Newest(files),
		remaining: len(batches),
		clean:     true,
	}
	logger.Info("Found %d new files in %s, queuing %d import tasks", len(files), source, len(batches))

	for _, batch := range batches {
		task := importer.NewImportTask(ctx, importer.Options{
			Source:  source,
			Files:   batch,
			DestDir: s.config.DestDir,
			Fs:      s.fs,
			History: s.history,
			Limiter: s.limiter,
		})

		s.mu.Lock()
		s.runs[task.ID()] = run
		s.summary.Tasks++
		monitor := s.monitor
		s.mu.Unlock()

		if monitor != nil {
			monitor.TaskQueued(task)
		}
		s.queue.QueueTask(task)
	}
	return nil
}

func (s *ImportService) onTaskUpdate(updateType taskqueue.UpdateType, task taskqueue.Task, data any) {
	importTask, ok := task.(*importer.ImportTask)
	if !ok {
		logger.Warn("Ignoring update from unknown task %s", task.ID())
		return
	}

	s.mu.Lock()
	monitor := s.monitor
	var finishedRun *sourceRun
	switch updateType {
	case taskqueue.UpdateError:
		s.summary.Errors++
	case taskqueue.UpdateComplete, taskqueue.UpdateCanceled:
		finishedRun = s.finishTask(importTask, updateType)
	}
	s.mu.Unlock()

	if monitor != nil {
		monitor.TaskUpdated(updateType, importTask, data)
	}

	if finishedRun != nil {
		s.advanceWatermark(finishedRun)
	}
}

// finishTask accounts a terminal update and returns the source run when it
// was the last task of a clean run. Must be called with s.mu held.
func (s *ImportService) finishTask(task *importer.ImportTask, updateType taskqueue.UpdateType) *sourceRun {
	stats := task.Stats()
	s.summary.Stats.Add(stats)
	if updateType == taskqueue.UpdateComplete {
		s.summary.Completed++
	} else {
		s.summary.Canceled++
	}

	run, ok := s.runs[task.ID()]
	if !ok {
		return nil
	}
	delete(s.runs, task.ID())

	if updateType != taskqueue.UpdateComplete || stats.Failed > 0 {
		run.clean = false
	}
	run.remaining--
	if run.remaining > 0 || !run.clean {
		return nil
	}
	return run
}

func (s *ImportService) advanceWatermark(run *sourceRun) {
	stateDir := s.config.StateDir()
	current, err := storage.GetLastWatermark(stateDir, run.source)
	if err == nil && !run.newest.After(current) {
		return
	}

	if err := storage.SaveWatermark(stateDir, run.source, run.newest); err != nil {
		logger.Error("Failed to save watermark of %s: %v", run.source, err)
		return
	}
	logger.Debug("Advanced watermark of %s to %s", run.source, run.newest.Format(time.RFC3339))
}

func (s *ImportService) onQueueActive() {
	logger.Info("Import queue started")
	s.mu.Lock()
	monitor := s.monitor
	s.mu.Unlock()
	if monitor != nil {
		monitor.QueueActive()
	}
}

func (s *ImportService) onQueueIdle() {
	summary := s.Summary()
	logger.Info("Import queue idle: %d imported, %d duplicates, %d failed",
		summary.Stats.Imported, summary.Stats.Duplicates, summary.Stats.Failed)
	s.mu.Lock()
	monitor := s.monitor
	s.mu.Unlock()
	if monitor != nil {
		monitor.QueueIdle()
	}
}

// IsTaskQueueError reports whether err came from a broken queue invariant
func IsTaskQueueError(err error) bool {
	return errors.Is(err, taskqueue.ErrTaskNotHead)
}
