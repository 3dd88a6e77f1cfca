package propagate

import (
	"sync"
)

// queue is a thread-safe FIFO used for received entries and for outgoing
// broadcasts.
//
// The queue is unbounded so a burst never blocks the goroutine feeding it
// (for outgoing broadcasts that is the bus publisher, which must not
// block). The single consumer drains everything queued so far in one call,
// which is what turns a burst of received entries into one batch.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the worker loop.
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{} // Signals availability (buffered, size 1)
}

// newQueue creates an empty queue.
func newQueue[T any]() *queue[T] {
	return &queue[T]{
		items:  make([]T, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends items to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *queue[T]) Enqueue(items ...T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if len(items) == 0 {
		return true
	}

	q.items = append(q.items, items...)

	// Signal availability (non-blocking - buffer of 1 coalesces multiple signals)
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// DrainAll removes and returns every queued item in arrival order.
// Returns nil if the queue is empty.
func (q *queue[T]) DrainAll() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	// Fresh backing array: the drained slice is handed to the consumer and
	// must not be overwritten by later appends.
	q.items = make([]T, 0, cap(out))
	return out
}

// Wait returns a channel that signals when items may be available.
// Use with select for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // DrainAll
//	}
func (q *queue[T]) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close signals that no more items will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return // Already closed
	}

	q.closed = true
	close(q.signal) // Wakes all waiters
}
