// Package pipeline contains the bounded concurrency primitives and the
// typestate-enforced indexing pipeline built on them: scan -> split -> embed
// -> upsert with per-stage caps, backpressure, and cooperative cancellation.
package pipeline

import (
	"sync"

	"github.com/dshills/sca/pkg/types"
)

// BoundedQueue is a fixed-capacity FIFO queue. Enqueue blocks when the queue
// is full and Dequeue blocks when it is empty; Close wakes every blocked
// producer and consumer with core:bounded_queue_closed. Items buffered at
// close time remain dequeueable, so a producer can close after its last
// enqueue and the consumer still drains the tail.
type BoundedQueue[T any] struct {
	ch   chan T
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewBoundedQueue creates a queue with the given capacity (>= 1).
func NewBoundedQueue[T any](capacity int) (*BoundedQueue[T], *types.ErrorEnvelope) {
	if capacity < 1 {
		return nil, types.Expected(types.CodeInvalidValue, "queue capacity must be >= 1")
	}
	return &BoundedQueue[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}, nil
}

// Capacity returns the configured capacity.
func (q *BoundedQueue[T]) Capacity() int { return cap(q.ch) }

// Len returns the number of buffered items.
func (q *BoundedQueue[T]) Len() int { return len(q.ch) }

// Enqueue adds an item, blocking while the queue is full. It fails when the
// queue is closed or the request is cancelled.
func (q *BoundedQueue[T]) Enqueue(rc *types.RequestContext, item T) *types.ErrorEnvelope {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return queueClosed()
	}

	select {
	case q.ch <- item:
		return nil
	case <-q.done:
		return queueClosed()
	case <-rc.Done():
		return rc.EnsureNotCancelled("queue.enqueue")
	}
}

// Dequeue removes the oldest item, blocking while the queue is empty. After
// Close it drains remaining items, then fails with
// core:bounded_queue_closed.
func (q *BoundedQueue[T]) Dequeue(rc *types.RequestContext) (T, *types.ErrorEnvelope) {
	var zero T

	// Buffered items win over the closed signal.
	select {
	case item := <-q.ch:
		return item, nil
	default:
	}

	select {
	case item := <-q.ch:
		return item, nil
	case <-q.done:
		select {
		case item := <-q.ch:
			return item, nil
		default:
			return zero, queueClosed()
		}
	case <-rc.Done():
		return zero, rc.EnsureNotCancelled("queue.dequeue")
	}
}

// Close closes the queue. Idempotent.
func (q *BoundedQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}

// Closed reports whether Close has been called.
func (q *BoundedQueue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func queueClosed() *types.ErrorEnvelope {
	return types.Expected(types.CodeQueueClosed, "bounded queue is closed")
}
