// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package queue provides a blocking multi-producer multi-consumer
// FIFO used to hand work from transport delivery callbacks to worker
// goroutines.
package queue

import (
	"sync"

	"github.com/juju/collections/deque"
)

// Queue is an unbounded blocking FIFO. Producers Push without ever
// blocking; consumers Pull and block until an item arrives or the
// queue is closed. The queue is deliberately unbounded: every item
// accepted is delivered to exactly one consumer, so a slow consumer
// shows up as memory growth rather than message loss.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  *deque.Deque
	closed bool
}

// New returns an empty open queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{
		items: deque.New(),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends item and wakes one waiting consumer. It reports
// whether the item was accepted; items pushed after Close are
// dropped and false is returned so the caller can release anything
// the item owns.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items.PushBack(item)
	q.cond.Signal()
	return true
}

// Pull blocks until an item is available or the queue has been
// closed and drained. The second return value is false only at
// end-of-stream; items accepted before Close are always delivered,
// each to exactly one caller.
func (q *Queue[T]) Pull() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Len() == 0 && !q.closed {
		q.cond.Wait()
	}
	if item, ok := q.items.PopFront(); ok {
		return item.(T), true
	}
	var zero T
	return zero, false
}

// Close marks the queue closed and wakes every blocked and future
// Pull. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of items waiting to be pulled.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
