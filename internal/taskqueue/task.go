package taskqueue

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/kelsos/media-import/internal/logger"
)

// UpdateType is the kind of status report a task emits.
type UpdateType string

const (
	UpdateProgress UpdateType = "PROGRESS"
	UpdateComplete UpdateType = "COMPLETE"
	UpdateError    UpdateType = "ERROR"
	UpdateCanceled UpdateType = "CANCELED"
)

// IsTerminal reports whether the update ends the task.
func (u UpdateType) IsTerminal() bool {
	return u == UpdateComplete || u == UpdateCanceled
}

func (u UpdateType) String() string {
	return string(u)
}

// Observer receives every update a task emits, with optional payload.
type Observer func(updateType UpdateType, data any)

// Task is a unit of asynchronous work run by a Queue.
//
// Run is called once, on the queue's loop, when the task reaches the head of
// the queue. It must not block: long work belongs on a goroutine started by
// Run. The task reports its progress through its observers and must eventually
// report UpdateComplete or UpdateCanceled.
type Task interface {
	ID() string
	AddObserver(observer Observer)
	Run()
}

// BaseTask implements the observer plumbing of Task. Concrete tasks embed it
// and provide Run.
type BaseTask struct {
	id string

	mu        sync.Mutex
	observers []Observer
	final     UpdateType
	finished  chan struct{}
}

// NewBaseTask creates a base task with the given ID, generating one when id is empty.
func NewBaseTask(id string) *BaseTask {
	if id == "" {
		id = uuid.New().String()
	}
	return &BaseTask{
		id:       id,
		finished: make(chan struct{}),
	}
}

// ID returns the task identifier.
func (t *BaseTask) ID() string {
	return t.id
}

// AddObserver registers an observer for future updates.
func (t *BaseTask) AddObserver(observer Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, observer)
}

// Notify delivers an update to all observers in registration order. A terminal
// update also resolves WhenFinished. Updates after the terminal one are dropped.
func (t *BaseTask) Notify(updateType UpdateType, data any) {
	t.mu.Lock()
	if t.final != "" {
		final := t.final
		t.mu.Unlock()
		logger.Warn("Task %s already finished with %s, dropping %s update", t.id, final, updateType)
		return
	}
	if updateType.IsTerminal() {
		t.final = updateType
	}
	observers := make([]Observer, len(t.observers))
	copy(observers, t.observers)
	t.mu.Unlock()

	for _, observer := range observers {
		observer(updateType, data)
	}

	if updateType.IsTerminal() {
		close(t.finished)
	}
}

// WhenFinished returns a channel that is closed once the task reported a terminal update.
func (t *BaseTask) WhenFinished() <-chan struct{} {
	return t.finished
}

// FinalUpdate returns the terminal update type, or an empty value while the task is unfinished.
func (t *BaseTask) FinalUpdate() UpdateType {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.final
}

// Wait blocks until the task finishes or ctx is done.
func (t *BaseTask) Wait(ctx context.Context) (UpdateType, error) {
	select {
	case <-t.finished:
		return t.FinalUpdate(), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
