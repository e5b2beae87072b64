// Package queue holds the FIFO and priority message queues, both thin
// wrappers around a pair of ksync.Semaphore the way original_source's
// FifoQueue.hpp wraps a semaphore pair around a ring buffer: one
// semaphore counts free slots, the other counts stored items, so Push
// blocks on free-slot availability and Pop blocks on item availability.
// The semaphores only reserve a slot; with more than one producer or
// consumer, two holders of distinct permits could still race on the
// shared index bookkeeping, so the actual store/take step runs inside
// its own critical section, same as FifoQueue.hpp takes its own lock
// around pushImplementation/popImplementation.
package queue

import (
	"time"

	"github.com/gko123/distortos/critsec"
	"github.com/gko123/distortos/kernel"
	"github.com/gko123/distortos/ksync"
)

// FifoQueue is a bounded ring buffer of T, FIFO ordered.
type FifoQueue[T any] struct {
	buf   []T
	head  int
	count int

	pushSlots *ksync.Semaphore // free slots
	popItems  *ksync.Semaphore // stored items
}

func NewFifoQueue[T any](sched *kernel.Scheduler, capacity int) *FifoQueue[T] {
	return &FifoQueue[T]{
		buf:       make([]T, capacity),
		pushSlots: ksync.NewSemaphore(sched, uint(capacity), uint(capacity)),
		popItems:  ksync.NewSemaphore(sched, 0, uint(capacity)),
	}
}

func (q *FifoQueue[T]) Cap() int { return len(q.buf) }
func (q *FifoQueue[T]) Len() int { return q.count }

// Push blocks until a slot is free, then stores v.
func (q *FifoQueue[T]) Push(v T) kernel.ErrorCode {
	if err := q.pushSlots.Wait(); !err.IsZero() {
		return err
	}
	q.store(v)
	return q.popItems.Post()
}

// TryPush stores v only if a slot is immediately free.
func (q *FifoQueue[T]) TryPush(v T) kernel.ErrorCode {
	if err := q.pushSlots.TryWait(); !err.IsZero() {
		return err
	}
	q.store(v)
	return q.popItems.Post()
}

// PushFor stores v if a slot becomes free within timeout, otherwise
// returns ETIMEDOUT.
func (q *FifoQueue[T]) PushFor(v T, timeout time.Duration, ticksPerSecond uint64) kernel.ErrorCode {
	if err := q.pushSlots.TryWaitFor(timeout, ticksPerSecond); !err.IsZero() {
		return err
	}
	q.store(v)
	return q.popItems.Post()
}

// PopFor removes and returns the oldest item if one becomes available
// within timeout, otherwise returns ETIMEDOUT.
func (q *FifoQueue[T]) PopFor(timeout time.Duration, ticksPerSecond uint64) (T, kernel.ErrorCode) {
	var zero T
	if err := q.popItems.TryWaitFor(timeout, ticksPerSecond); !err.IsZero() {
		return zero, err
	}
	v := q.take()
	if err := q.pushSlots.Post(); !err.IsZero() {
		return v, err
	}
	return v, kernel.ErrorCode{}
}

func (q *FifoQueue[T]) store(v T) {
	critsec.Enter()
	defer critsec.Exit()

	idx := (q.head + q.count) % len(q.buf)
	q.buf[idx] = v
	q.count++
}

// Pop blocks until an item is available, then removes and returns the
// oldest one.
func (q *FifoQueue[T]) Pop() (T, kernel.ErrorCode) {
	var zero T
	if err := q.popItems.Wait(); !err.IsZero() {
		return zero, err
	}
	v := q.take()
	if err := q.pushSlots.Post(); !err.IsZero() {
		return v, err
	}
	return v, kernel.ErrorCode{}
}

// TryPop removes and returns the oldest item only if one is immediately
// available.
func (q *FifoQueue[T]) TryPop() (T, kernel.ErrorCode) {
	var zero T
	if err := q.popItems.TryWait(); !err.IsZero() {
		return zero, err
	}
	v := q.take()
	if err := q.pushSlots.Post(); !err.IsZero() {
		return v, err
	}
	return v, kernel.ErrorCode{}
}

func (q *FifoQueue[T]) take() T {
	critsec.Enter()
	defer critsec.Exit()

	v := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return v
}
