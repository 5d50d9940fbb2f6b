package dispatch

import (
	"sync"

	"github.com/songseungho-v/ai-clothes-sorter/internal/types"
)

// EventQueue is a bounded per-device FIFO with drop-oldest admission.
//
// Semantics:
//   - Enqueue never blocks: when the queue is full the oldest queued
//     event is removed (dropped) before the new one is inserted, so the
//     queue always keeps its most-recent-first character.
//   - Dequeue blocks the (single) worker goroutine until an event is
//     available or the queue is closed.
//
// Thread-safety: Enqueue is safe for concurrent callers (the bus
// callback); Dequeue MUST be called from a single worker goroutine.
type EventQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	// ring buffer of capacity cap(buf); head is the oldest element,
	// count the number of occupied slots.
	buf   []*types.DeviceEvent
	head  int
	count int

	drops  uint64
	closed bool
}

// NewEventQueue creates a queue with the given capacity (minimum 1).
func NewEventQueue(capacity int) *EventQueue {
	if capacity < 1 {
		capacity = 1
	}
	q := &EventQueue{buf: make([]*types.DeviceEvent, capacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue inserts ev, dropping the oldest queued event first if the
// queue is full. Never blocks. Events enqueued after Close are
// silently dropped.
func (q *EventQueue) Enqueue(ev *types.DeviceEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.drops++
		return
	}

	if q.count == len(q.buf) {
		// Drop the oldest entry, keep the slot for the new one.
		q.buf[q.head] = nil
		q.head = (q.head + 1) % len(q.buf)
		q.count--
		q.drops++
	}

	q.buf[(q.head+q.count)%len(q.buf)] = ev
	q.count++
	q.cond.Signal()
}

// Dequeue removes and returns the oldest event, blocking until one is
// available. Returns nil after Close once the queue has drained.
func (q *EventQueue) Dequeue() *types.DeviceEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}

	if q.count == 0 {
		// Closed and drained.
		return nil
	}

	ev := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return ev
}

// Close marks the queue closed and wakes a blocked Dequeue. Already
// queued events remain dequeueable; Enqueue becomes a no-op.
// Idempotent.
func (q *EventQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Len returns the current number of queued events.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the queue capacity.
func (q *EventQueue) Cap() int {
	return len(q.buf)
}

// Drops returns the lifetime count of events dropped at admission.
func (q *EventQueue) Drops() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drops
}
