package services

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kelsos/media-import/internal/config"
	"github.com/kelsos/media-import/internal/history"
	"github.com/kelsos/media-import/internal/importer"
	"github.com/kelsos/media-import/internal/storage"
	"github.com/kelsos/media-import/internal/taskqueue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type event struct {
	kind   string
	taskID string
}

type recordingMonitor struct {
	mu     sync.Mutex
	events []event
	done   chan string
}

func newRecordingMonitor() *recordingMonitor {
	return &recordingMonitor{done: make(chan string, 64)}
}

func (m *recordingMonitor) record(kind, taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event{kind: kind, taskID: taskID})
}

func (m *recordingMonitor) TaskQueued(task *importer.ImportTask) {
	m.record("queued", task.ID())
}

func (m *recordingMonitor) TaskUpdated(updateType taskqueue.UpdateType, task *importer.ImportTask, _ any) {
	m.record(updateType.String(), task.ID())
	if updateType.IsTerminal() {
		m.done <- task.ID()
	}
}

func (m *recordingMonitor) QueueActive() {
	m.record("active", "")
}

func (m *recordingMonitor) QueueIdle() {
	m.record("idle", "")
}

func (m *recordingMonitor) kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kinds []string
	for _, e := range m.events {
		kinds = append(kinds, e.kind)
	}
	return kinds
}

type fixture struct {
	cfg     *config.Config
	source  string
	store   *history.Store
	service *ImportService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	cfg := config.NewConfig()
	cfg.DataDir = filepath.Join(root, "data")
	cfg.DestDir = filepath.Join(root, "library")
	cfg.HashWorkers = 2
	cfg.WatchDebounce = 50 * time.Millisecond

	source := filepath.Join(root, "card")
	require.NoError(t, os.MkdirAll(filepath.Join(source, "DCIM"), 0755))

	store, err := history.Open(cfg.HistoryPath())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &fixture{
		cfg:     cfg,
		source:  source,
		store:   store,
		service: NewImportService(cfg, store),
	}
}

func (f *fixture) writeMedia(t *testing.T, name, content string, modTime time.Time) {
	t.Helper()
	path := filepath.Join(f.source, "DCIM", name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, os.Chtimes(path, modTime, modTime))
}

func TestImportSources(t *testing.T) {
	f := newFixture(t)
	shot := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f.writeMedia(t, "IMG_0001.JPG", "one", shot)
	f.writeMedia(t, "IMG_0002.JPG", "two", shot.Add(time.Minute))
	f.writeMedia(t, "notes.txt", "not media", shot)

	summary, err := f.service.ImportSources(context.Background(), []string{f.source})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Sources)
	assert.Equal(t, 2, summary.Files)
	assert.Equal(t, 1, summary.Tasks)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 2, summary.Stats.Imported)

	count, err := f.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	watermark, err := storage.GetLastWatermark(f.cfg.StateDir(), f.source)
	require.NoError(t, err)
	assert.True(t, watermark.Equal(shot.Add(time.Minute)))

	matches, err := filepath.Glob(filepath.Join(f.cfg.DestDir, "*", "IMG_000*.JPG"))
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestImportSourcesUsesWatermark(t *testing.T) {
	f := newFixture(t)
	shot := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f.writeMedia(t, "IMG_0001.JPG", "one", shot)

	_, err := f.service.ImportSources(context.Background(), []string{f.source})
	require.NoError(t, err)

	f.writeMedia(t, "IMG_0002.JPG", "two", shot.Add(time.Hour))
	summary, err := f.service.ImportSources(context.Background(), []string{f.source})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Stats.Imported)
	assert.Equal(t, 2, summary.Files, "second scan only finds the newer file")

	full := NewImportService(f.cfg, f.store)
	full.FullScan = true
	summary, err = full.ImportSources(context.Background(), []string{f.source})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Stats.Duplicates)
	assert.Zero(t, summary.Stats.Imported)
}

func TestImportSourcesMonitorOrder(t *testing.T) {
	f := newFixture(t)
	f.cfg.BatchSize = 1
	shot := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f.writeMedia(t, "a.jpg", "a", shot)
	f.writeMedia(t, "b.jpg", "b", shot)

	monitor := newRecordingMonitor()
	f.service.SetMonitor(monitor)

	summary, err := f.service.ImportSources(context.Background(), []string{f.source})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Tasks)
	assert.Equal(t, 2, summary.Completed)

	assert.Equal(t, []string{
		"queued", "queued", "active",
		"PROGRESS", "COMPLETE",
		"PROGRESS", "COMPLETE",
		"idle",
	}, monitor.kinds())
	assert.Zero(t, f.service.Queue().Len())
	assert.False(t, f.service.Queue().IsActive())
}

func TestImportSourcesMissingSource(t *testing.T) {
	f := newFixture(t)
	monitor := newRecordingMonitor()
	f.service.SetMonitor(monitor)

	summary, err := f.service.ImportSources(context.Background(), []string{filepath.Join(f.source, "missing")})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ScanErrors)
	assert.Zero(t, summary.Tasks)
	assert.Empty(t, monitor.kinds())
}

func TestImportSourcesFailuresKeepWatermark(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(f.cfg.DestDir), 0755))
	require.NoError(t, os.WriteFile(f.cfg.DestDir, []byte("not a directory"), 0644))
	f.writeMedia(t, "a.jpg", "a", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	summary, err := f.service.ImportSources(context.Background(), []string{f.source})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 1, summary.Stats.Failed)

	watermark, err := storage.GetLastWatermark(f.cfg.StateDir(), f.source)
	require.NoError(t, err)
	assert.True(t, watermark.IsZero())
}

func TestImportSourcesCanceled(t *testing.T) {
	f := newFixture(t)
	f.writeMedia(t, "a.jpg", "a", time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := f.service.ImportSources(ctx, []string{f.source})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, summary.Tasks)
}

func TestWatchImportsNewMedia(t *testing.T) {
	f := newFixture(t)
	shot := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f.writeMedia(t, "a.jpg", "a", shot)

	monitor := newRecordingMonitor()
	f.service.SetMonitor(monitor)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	type result struct {
		summary Summary
		err     error
	}
	results := make(chan result, 1)
	go func() {
		summary, err := f.service.Watch(ctx, []string{f.source})
		results <- result{summary, err}
	}()

	select {
	case <-monitor.done:
	case <-ctx.Done():
		t.Fatal("initial import never finished")
	}

	f.writeMedia(t, "b.jpg", "b", shot.Add(time.Hour))

	select {
	case <-monitor.done:
	case <-ctx.Done():
		t.Fatal("new media was never imported")
	}

	cancel()
	res := <-results
	require.NoError(t, res.err)
	assert.Equal(t, 2, res.summary.Completed)
	assert.Equal(t, 2, res.summary.Stats.Imported)
}

func TestIsTaskQueueError(t *testing.T) {
	assert.True(t, IsTaskQueueError(taskqueue.ErrTaskNotHead))
	assert.False(t, IsTaskQueueError(context.Canceled))
}
