// Package eventloop implements a single goroutine callback loop.
//
// Callbacks are executed one at a time, in the order they were enqueued, on the
// goroutine that called Run. Work that happens elsewhere reserves a slot with
// RegisterCallback first, which keeps Run from returning until the reserved
// callback has been enqueued and executed.
package eventloop

import (
	"context"
	"sync"
)

// Loop is a FIFO callback executor.
type Loop struct {
	mu         sync.Mutex
	queue      []func() error
	registered int
	wakeup     chan struct{}
}

// New returns an empty loop.
func New() *Loop {
	return &Loop{
		wakeup: make(chan struct{}, 1),
	}
}

// RegisterCallback reserves a callback on the loop and returns the function used
// to enqueue it. The returned function can be called from any goroutine and must
// be called exactly once; extra calls are ignored. Until it is called, Run keeps
// waiting even when the queue is empty.
func (l *Loop) RegisterCallback() func(func() error) {
	l.mu.Lock()
	l.registered++
	l.mu.Unlock()

	called := false
	return func(fn func() error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if called {
			return
		}
		called = true
		l.registered--
		l.queue = append(l.queue, fn)
		l.signal()
	}
}

// Schedule enqueues fn to run on a later turn of the loop.
func (l *Loop) Schedule(fn func() error) {
	l.RegisterCallback()(fn)
}

// Pending returns the number of enqueued callbacks plus outstanding reservations.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue) + l.registered
}

// Run executes callbacks until nothing is queued or reserved, a callback
// returns an error, or ctx is done. Callbacks still queued when Run returns
// early stay queued for the next Run.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		if len(l.queue) == 0 {
			idle := l.registered == 0
			l.mu.Unlock()
			if idle {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.wakeup:
			}
			continue
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		if fn == nil {
			continue
		}
		if err := fn(); err != nil {
			return err
		}
	}
}

// signal must be called with l.mu held.
func (l *Loop) signal() {
	select {
	case l.wakeup <- struct{}{}:
	default:
	}
}
