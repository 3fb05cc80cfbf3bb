package tui

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/kelsos/media-import/internal/models"
	"github.com/kelsos/media-import/internal/taskqueue"
)

const maxLogs = 10

type TaskState string

const (
	StateQueued   TaskState = "queued"
	StateRunning  TaskState = "running"
	StateComplete TaskState = "complete"
	StateCanceled TaskState = "canceled"
)

type TaskStatus struct {
	ID         string
	Source     string
	Files      int
	TotalBytes int64
	State      TaskState
	Progress   models.Progress
	Errors     int
	LastError  error
	Stats      models.ImportStats
	StartTime  time.Time
	EndTime    time.Time
}

type Model struct {
	order       []string
	tasks       map[string]*TaskStatus
	queueActive bool
	finished    bool
	finishErr   error
	totals      models.ImportStats
	logs        []string
	spinner     spinner.Model
	progress    progress.Model
	width       int
	height      int
	quit        bool
}

type TaskQueuedMsg struct {
	TaskID     string
	Source     string
	Files      int
	TotalBytes int64
}

type TaskUpdateMsg struct {
	TaskID string
	Type   taskqueue.UpdateType
	Data   any
}

type QueueStateMsg struct {
	Active bool
}

type LogMessage struct {
	Message string
}

type FinishedMsg struct {
	Err error
}

func NewModel() Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	pr := progress.New(progress.WithDefaultGradient())

	return Model{
		tasks:    make(map[string]*TaskStatus),
		spinner:  sp,
		progress: pr,
		width:    80,
		height:   24,
	}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.handleKeyMsg(msg) {
			m.quit = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m = m.handleWindowSizeMsg(msg)

	case TaskQueuedMsg:
		m = m.handleTaskQueued(msg)

	case TaskUpdateMsg:
		m = m.handleTaskUpdate(msg)

	case QueueStateMsg:
		m.queueActive = msg.Active

	case LogMessage:
		m = m.handleLogMessage(msg)

	case FinishedMsg:
		m.finished = true
		m.finishErr = msg.Err
		if errors.Is(msg.Err, errInterrupted) {
			m.quit = true
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		if progressModel, ok := progressModel.(progress.Model); ok {
			m.progress = progressModel
		}
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m Model) handleKeyMsg(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "q", "ctrl+c":
		return true
	}
	return false
}

func (m Model) handleWindowSizeMsg(msg tea.WindowSizeMsg) Model {
	m.width = msg.Width
	m.height = msg.Height
	m.progress.Width = max(msg.Width-90, 10)
	return m
}

func (m Model) handleTaskQueued(msg TaskQueuedMsg) Model {
	if _, exists := m.tasks[msg.TaskID]; exists {
		return m
	}
	m.order = append(m.order, msg.TaskID)
	m.tasks[msg.TaskID] = &TaskStatus{
		ID:         msg.TaskID,
		Source:     msg.Source,
		Files:      msg.Files,
		TotalBytes: msg.TotalBytes,
		State:      StateQueued,
	}
	return m
}

func (m Model) handleTaskUpdate(msg TaskUpdateMsg) Model {
	status, exists := m.tasks[msg.TaskID]
	if !exists {
		return m
	}

	if status.State == StateQueued {
		status.State = StateRunning
		status.StartTime = time.Now()
	}

	switch msg.Type {
	case taskqueue.UpdateProgress:
		if p, ok := msg.Data.(models.Progress); ok {
			status.Progress = p
		}

	case taskqueue.UpdateError:
		status.Errors++
		if err, ok := msg.Data.(error); ok {
			status.LastError = err
			m = m.handleLogMessage(LogMessage{Message: fmt.Sprintf("❌ %v", err)})
		}

	case taskqueue.UpdateComplete, taskqueue.UpdateCanceled:
		status.State = StateComplete
		if msg.Type == taskqueue.UpdateCanceled {
			status.State = StateCanceled
		}
		status.EndTime = time.Now()
		if stats, ok := msg.Data.(models.ImportStats); ok {
			status.Stats = stats
			m.totals.Add(stats)
		}
		m = m.handleLogMessage(LogMessage{Message: fmt.Sprintf("%s %s: %d imported, %d duplicates, %d failed",
			getStateIcon(status.State), shortID(status.ID),
			status.Stats.Imported, status.Stats.Duplicates, status.Stats.Failed)})
	}
	return m
}

func (m Model) handleLogMessage(msg LogMessage) Model {
	m.logs = append(m.logs, fmt.Sprintf("[%s] %s",
		time.Now().Format("15:04:05"), msg.Message))
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
	return m
}

func (m Model) pendingCount() int {
	count := 0
	for _, status := range m.tasks {
		if status.State == StateQueued || status.State == StateRunning {
			count++
		}
	}
	return count
}

func (m Model) View() string {
	if m.quit {
		return "Shutting down...\n"
	}

	var s strings.Builder

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("39")).
		MarginBottom(1)

	s.WriteString(headerStyle.Render("📷 Media Import Monitor"))
	s.WriteString("\n\n")

	summaryStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	queueState := "idle"
	if m.queueActive {
		queueState = m.spinner.View() + " active"
	}
	summary := fmt.Sprintf("Queue: %s | Tasks: %d | ⏳ Pending: %d | ✅ Imported: %d (%s) | ♻️ Duplicates: %d | ❌ Failed: %d",
		queueState, len(m.order), m.pendingCount(), m.totals.Imported,
		humanize.Bytes(uint64(m.totals.BytesImported)), m.totals.Duplicates, m.totals.Failed)
	s.WriteString(summaryStyle.Render(summary))
	s.WriteString("\n\n")

	taskSectionStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1).
		Width(m.width - 2)

	var taskStatus strings.Builder
	taskStatus.WriteString("📊 Import Tasks\n")
	taskStatus.WriteString(strings.Repeat("─", 60) + "\n")

	for _, id := range m.visibleTasks() {
		status := m.tasks[id]
		taskLine := fmt.Sprintf("%s %-8s %-20s %-9s",
			getStateIcon(status.State),
			shortID(status.ID),
			truncate(filepath.Base(status.Source), 20),
			status.State)

		switch status.State {
		case StateRunning:
			taskLine += fmt.Sprintf(" %s %d/%d files %s/%s",
				m.progress.ViewAs(status.Progress.Fraction()),
				status.Progress.Processed, status.Files,
				humanize.Bytes(uint64(status.Progress.ProcessedBytes)),
				humanize.Bytes(uint64(status.TotalBytes)))
		case StateQueued:
			taskLine += fmt.Sprintf(" %d files, %s", status.Files, humanize.Bytes(uint64(status.TotalBytes)))
		default:
			taskLine += fmt.Sprintf(" %d imported, %d duplicates in %s",
				status.Stats.Imported, status.Stats.Duplicates,
				status.EndTime.Sub(status.StartTime).Round(time.Millisecond))
		}

		if status.LastError != nil {
			errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
			taskLine += " " + errorStyle.Render(fmt.Sprintf("%d errors", status.Errors))
		}

		stateStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(getStateColor(status.State)))
		taskStatus.WriteString(stateStyle.Render(taskLine) + "\n")
	}

	s.WriteString(taskSectionStyle.Render(taskStatus.String()))
	s.WriteString("\n\n")

	logSectionStyle := lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1).
		Width(m.width - 2).
		Height(8)

	var logSection strings.Builder
	logSection.WriteString("📝 Recent Logs\n")
	for _, log := range m.logs {
		logSection.WriteString(log + "\n")
	}

	s.WriteString(logSectionStyle.Render(logSection.String()))
	s.WriteString("\n\n")

	footerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	footer := "Press 'q' to quit | Logs: logs/media-import_*.log"
	if m.finished {
		footer = "Import finished, press 'q' to exit | Logs: logs/media-import_*.log"
		if m.finishErr != nil {
			footer = fmt.Sprintf("Import failed: %v | press 'q' to exit", m.finishErr)
		}
	}
	s.WriteString(footerStyle.Render(footer))

	return s.String()
}

// visibleTasks returns the task IDs that fit the terminal, keeping the newest
func (m Model) visibleTasks() []string {
	limit := m.height - 24
	if limit < 5 {
		limit = 5
	}
	if len(m.order) <= limit {
		return m.order
	}
	return m.order[len(m.order)-limit:]
}

func getStateIcon(state TaskState) string {
	switch state {
	case StateQueued:
		return "⏸"
	case StateRunning:
		return "🔄"
	case StateComplete:
		return "✅"
	case StateCanceled:
		return "🛑"
	default:
		return "❓"
	}
}

func getStateColor(state TaskState) string {
	switch state {
	case StateQueued:
		return "244"
	case StateComplete:
		return "82"
	case StateCanceled:
		return "214"
	default:
		return "39"
	}
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
