// Package queue provides the serial execution context each story list owns
// and a timer that keeps counting while the process is suspended.
package queue

import (
	"sync"

	"github.com/gammazero/workerpool"
)

// Queue runs submitted functions one at a time in submission order.
type Queue struct {
	pool    *workerpool.WorkerPool
	stopped chan struct{}

	mu     sync.Mutex
	closed bool
}

func New() *Queue {
	return &Queue{
		pool:    workerpool.New(1),
		stopped: make(chan struct{}),
	}
}

// Async schedules fn and reports whether the queue accepted it.
func (q *Queue) Async(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.pool.Submit(fn)
	return true
}

// Sync schedules fn and waits for it to finish. It returns false if the
// queue was closed before fn ran. Never call Sync from a queued function.
func (q *Queue) Sync(fn func()) bool {
	done := make(chan struct{})
	if !q.Async(func() {
		fn()
		close(done)
	}) {
		return false
	}
	select {
	case <-done:
		return true
	case <-q.stopped:
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
}

// Close waits for the running function and drops everything still pending.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.pool.Stop()
	close(q.stopped)
}

func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
