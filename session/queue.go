package session

import (
	"context"
	"sync"
)

// taskQueue runs posted functions one at a time, in posting order, on a
// single goroutine. post never blocks, so it is safe to call from provider
// callbacks and from tasks running on the queue itself.
type taskQueue struct {
	mu      sync.Mutex
	tasks   []func()
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go q.run()
	return q
}

// post appends fn to the queue. It reports false once the queue is stopped.
func (q *taskQueue) post(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// sync waits until every task posted before the call has run.
func (q *taskQueue) sync(ctx context.Context) error {
	reached := make(chan struct{})
	if !q.post(func() { close(reached) }) {
		return ErrClosed
	}
	select {
	case <-reached:
		return nil
	case <-q.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *taskQueue) run() {
	defer close(q.stopped)
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}
		for {
			fn, ok := q.next()
			if !ok {
				break
			}
			fn()
			select {
			case <-q.done:
				return
			default:
			}
		}
	}
}

func (q *taskQueue) next() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, false
	}
	fn := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return fn, true
}

// stop discards pending tasks and waits for the running one to finish.
// It must not be called from a task.
func (q *taskQueue) stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.stopped
		return
	}
	q.closed = true
	q.tasks = nil
	q.mu.Unlock()

	close(q.done)
	<-q.stopped
}
