package pipeline

import (
	"sync"
	"time"
)

// CallbackQueue serializes webhook callback handling. Providers deliver
// callbacks concurrently and out of order under load; the queue runs handlers
// one at a time in arrival order with a minimum spacing between them, so
// progress writes for one interior never race each other.
type CallbackQueue struct {
	mu       sync.Mutex
	items    []func()
	draining bool
	spacing  time.Duration
}

// NewCallbackQueue creates a queue with the given minimum gap between
// handler invocations. Non-positive spacing falls back to 300ms.
func NewCallbackQueue(spacing time.Duration) *CallbackQueue {
	if spacing <= 0 {
		spacing = 300 * time.Millisecond
	}
	return &CallbackQueue{spacing: spacing}
}

// Enqueue appends fn and starts the drain loop unless one is already
// running. A running drain picks up items enqueued mid-drain before exiting.
func (q *CallbackQueue) Enqueue(fn func()) {
	q.mu.Lock()
	q.items = append(q.items, fn)
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()

	go q.drain()
}

func (q *CallbackQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		fn := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		fn()

		// The gap only matters between two handlers; after the last item
		// the loop must wind down immediately so a fresh Enqueue can
		// restart it.
		q.mu.Lock()
		if len(q.items) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()
		time.Sleep(q.spacing)
	}
}

// Pending reports the number of callbacks waiting to run.
func (q *CallbackQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
