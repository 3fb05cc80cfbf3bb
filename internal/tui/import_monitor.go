package tui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kelsos/media-import/internal/importer"
	"github.com/kelsos/media-import/internal/logger"
	"github.com/kelsos/media-import/internal/taskqueue"
)

var errInterrupted = errors.New("import interrupted")

// ImportMonitor forwards queue events to the terminal UI
type ImportMonitor struct {
	program *tea.Program
}

// NewImportMonitor creates a monitor, defaulting to the alternate screen
func NewImportMonitor(opts ...tea.ProgramOption) *ImportMonitor {
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	return &ImportMonitor{
		program: tea.NewProgram(NewModel(), opts...),
	}
}

// TaskQueued adds a task to the task list
func (im *ImportMonitor) TaskQueued(task *importer.ImportTask) {
	im.program.Send(TaskQueuedMsg{
		TaskID:     task.ID(),
		Source:     task.Source(),
		Files:      len(task.Files()),
		TotalBytes: task.TotalBytes(),
	})
}

// TaskUpdated relays a task update to the UI
func (im *ImportMonitor) TaskUpdated(updateType taskqueue.UpdateType, task *importer.ImportTask, data any) {
	im.program.Send(TaskUpdateMsg{
		TaskID: task.ID(),
		Type:   updateType,
		Data:   data,
	})
}

// QueueActive marks the queue as running
func (im *ImportMonitor) QueueActive() {
	im.program.Send(QueueStateMsg{Active: true})
}

// QueueIdle marks the queue as drained
func (im *ImportMonitor) QueueIdle() {
	im.program.Send(QueueStateMsg{Active: false})
	im.AddLog("Queue drained")
}

// AddLog appends a line to the recent logs pane
func (im *ImportMonitor) AddLog(message string) {
	im.program.Send(LogMessage{Message: message})
}

// Run runs work while the UI is shown. Quitting the UI cancels the context
// passed to work, and Run waits for work to return.
func (im *ImportMonitor) Run(ctx context.Context, work func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		err := work(ctx)
		if err != nil && ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", errInterrupted, err)
		}
		if err != nil {
			logger.Error("Import failed: %v", err)
		}
		im.program.Send(FinishedMsg{Err: err})
		done <- err
	}()

	_, runErr := im.program.Run()
	cancel()
	err := <-done

	if runErr != nil {
		return fmt.Errorf("failed to run TUI: %w", runErr)
	}
	if errors.Is(err, errInterrupted) {
		return nil
	}
	return err
}
