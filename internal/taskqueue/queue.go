// Package taskqueue runs asynchronous tasks strictly one at a time, in the
// order they were queued, and reports their updates to listeners.
//
// Every transition of the queue (insertion, removal, the active and idle
// callbacks and the call to a task's Run) executes on the loop the queue was
// created with. Update callbacks fire synchronously from the task's Notify.
package taskqueue

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kelsos/media-import/internal/logger"
)

// ErrTaskNotHead is returned through the loop when a task that is not running
// at the head of the queue reports a terminal update.
var ErrTaskNotHead = errors.New("task finished out of turn")

// Scheduler is the loop the queue defers its work to. The returned function
// enqueues a callback and must be called exactly once.
type Scheduler interface {
	RegisterCallback() func(func() error)
}

// UpdateCallback receives every update of the running task.
type UpdateCallback func(updateType UpdateType, task Task, data any)

type taskState int

const (
	statePending taskState = iota
	stateRunning
	stateDone
)

type entry struct {
	task   Task
	state  taskState
	finish func(func() error)
}

// Queue is a serialized FIFO of tasks.
type Queue struct {
	scheduler Scheduler

	mu              sync.Mutex
	tasks           []*entry
	updateCallbacks []UpdateCallback
	activeCallback  func()
	idleCallback    func()
	active          bool
}

// New creates an empty queue that schedules its work on scheduler.
func New(scheduler Scheduler) *Queue {
	return &Queue{
		scheduler: scheduler,
	}
}

// QueueTask appends task to the queue. The queue subscribes to the task right
// away, but the insertion happens on a later loop turn, so the task never runs
// as a direct side effect of this call. Safe for concurrent use.
func (q *Queue) QueueTask(task Task) {
	e := &entry{task: task}
	task.AddObserver(func(updateType UpdateType, data any) {
		q.onTaskUpdate(e, updateType, data)
	})

	q.scheduler.RegisterCallback()(func() error {
		q.mu.Lock()
		q.tasks = append(q.tasks, e)
		wasIdle := len(q.tasks) == 1
		q.mu.Unlock()

		logger.Debug("Queued task %s", task.ID())
		if wasIdle {
			q.runPending()
		}
		return nil
	})
}

// AddUpdateCallback registers cb for the updates of every task while it runs.
// Callbacks are invoked in registration order.
func (q *Queue) AddUpdateCallback(cb UpdateCallback) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.updateCallbacks = append(q.updateCallbacks, cb)
}

// SetActiveCallback sets the callback fired when the queue goes from empty to
// non-empty, before the first task runs. It replaces any previous callback.
func (q *Queue) SetActiveCallback(cb func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.activeCallback = cb
}

// SetIdleCallback sets the callback fired when the queue drains. It replaces
// any previous callback.
func (q *Queue) SetIdleCallback(cb func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.idleCallback = cb
}

// Len returns the number of tasks in the queue, including the running one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// IsActive reports whether the queue has pending work.
func (q *Queue) IsActive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// runPending starts the head task. Runs on the loop.
func (q *Queue) runPending() {
	q.mu.Lock()
	if len(q.tasks) == 0 {
		q.mu.Unlock()
		return
	}
	activated := !q.active
	q.active = true
	activeCallback := q.activeCallback
	head := q.tasks[0]
	head.state = stateRunning
	// Keeps the loop alive until the task reports its terminal update.
	head.finish = q.scheduler.RegisterCallback()
	q.mu.Unlock()

	if activated {
		logger.Debug("Task queue active")
		if activeCallback != nil {
			activeCallback()
		}
	}

	logger.Debug("Running task %s", head.task.ID())
	head.task.Run()
}

func (q *Queue) onTaskUpdate(e *entry, updateType UpdateType, data any) {
	q.mu.Lock()
	state := e.state
	if state == stateRunning && updateType.IsTerminal() {
		e.state = stateDone
	}
	finish := e.finish
	callbacks := make([]UpdateCallback, len(q.updateCallbacks))
	copy(callbacks, q.updateCallbacks)
	q.mu.Unlock()

	switch state {
	case stateDone:
		logger.Warn("Ignoring %s update from finished task %s", updateType, e.task.ID())
		return
	case statePending:
		if updateType.IsTerminal() {
			q.scheduler.RegisterCallback()(func() error {
				return fmt.Errorf("%w: %s reported %s before it started", ErrTaskNotHead, e.task.ID(), updateType)
			})
			return
		}
		logger.Warn("Ignoring %s update from task %s before it started", updateType, e.task.ID())
		return
	}

	for _, cb := range callbacks {
		cb(updateType, e.task, data)
	}

	if updateType.IsTerminal() {
		finish(func() error {
			return q.onTaskFinished(e)
		})
	}
}

// onTaskFinished removes the finished head and advances. Runs on the loop.
func (q *Queue) onTaskFinished(e *entry) error {
	q.mu.Lock()
	if len(q.tasks) == 0 || q.tasks[0] != e {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s is not at the head of the queue", ErrTaskNotHead, e.task.ID())
	}
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	drained := len(q.tasks) == 0
	var idleCallback func()
	if drained {
		q.active = false
		idleCallback = q.idleCallback
	}
	q.mu.Unlock()

	logger.Debug("Task %s finished", e.task.ID())
	if !drained {
		q.runPending()
		return nil
	}

	logger.Debug("Task queue idle")
	if idleCallback != nil {
		idleCallback()
	}
	return nil
}
