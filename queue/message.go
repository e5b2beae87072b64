package queue

import (
	"time"

	"github.com/gko123/distortos/critsec"
	"github.com/gko123/distortos/kernel"
	"github.com/gko123/distortos/ksync"
)

type message[T any] struct {
	priority int
	value    T
}

// MessageQueue is a bounded queue ordered by caller-supplied priority,
// FIFO among equal priorities, the priority-queue sibling of FifoQueue —
// same semaphore-pair wrapper, an ordered slice instead of a ring buffer
// behind it.
type MessageQueue[T any] struct {
	items []message[T]
	cap   int

	pushSlots *ksync.Semaphore
	popItems  *ksync.Semaphore
}

func NewMessageQueue[T any](sched *kernel.Scheduler, capacity int) *MessageQueue[T] {
	return &MessageQueue[T]{
		cap:       capacity,
		pushSlots: ksync.NewSemaphore(sched, uint(capacity), uint(capacity)),
		popItems:  ksync.NewSemaphore(sched, 0, uint(capacity)),
	}
}

func (q *MessageQueue[T]) Cap() int { return q.cap }
func (q *MessageQueue[T]) Len() int { return len(q.items) }

func (q *MessageQueue[T]) Push(priority int, v T) kernel.ErrorCode {
	if err := q.pushSlots.Wait(); !err.IsZero() {
		return err
	}
	q.insert(priority, v)
	return q.popItems.Post()
}

func (q *MessageQueue[T]) TryPush(priority int, v T) kernel.ErrorCode {
	if err := q.pushSlots.TryWait(); !err.IsZero() {
		return err
	}
	q.insert(priority, v)
	return q.popItems.Post()
}

// PushFor inserts (priority, v) if a slot becomes free within timeout,
// otherwise returns ETIMEDOUT, the same deadline-with-slack contract
// FifoQueue.PushFor gives its callers.
func (q *MessageQueue[T]) PushFor(priority int, v T, timeout time.Duration, ticksPerSecond uint64) kernel.ErrorCode {
	if err := q.pushSlots.TryWaitFor(timeout, ticksPerSecond); !err.IsZero() {
		return err
	}
	q.insert(priority, v)
	return q.popItems.Post()
}

// insert places (priority, v) after every existing entry at the same or
// higher priority, preserving FIFO order among equal priorities, the
// same "tail of its group" rule kernel.ThreadList.Insert uses.
func (q *MessageQueue[T]) insert(priority int, v T) {
	critsec.Enter()
	defer critsec.Exit()

	i := 0
	for ; i < len(q.items); i++ {
		if q.items[i].priority < priority {
			break
		}
	}
	q.items = append(q.items, message[T]{})
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = message[T]{priority: priority, value: v}
}

// Pop blocks until a message is available, then removes and returns the
// highest-priority one (oldest among ties).
func (q *MessageQueue[T]) Pop() (T, int, kernel.ErrorCode) {
	var zero T
	if err := q.popItems.Wait(); !err.IsZero() {
		return zero, 0, err
	}
	v, p := q.take()
	if err := q.pushSlots.Post(); !err.IsZero() {
		return v, p, err
	}
	return v, p, kernel.ErrorCode{}
}

func (q *MessageQueue[T]) TryPop() (T, int, kernel.ErrorCode) {
	var zero T
	if err := q.popItems.TryWait(); !err.IsZero() {
		return zero, 0, err
	}
	v, p := q.take()
	if err := q.pushSlots.Post(); !err.IsZero() {
		return v, p, err
	}
	return v, p, kernel.ErrorCode{}
}

// PopFor removes and returns the highest-priority message if one becomes
// available within timeout, otherwise returns ETIMEDOUT.
func (q *MessageQueue[T]) PopFor(timeout time.Duration, ticksPerSecond uint64) (T, int, kernel.ErrorCode) {
	var zero T
	if err := q.popItems.TryWaitFor(timeout, ticksPerSecond); !err.IsZero() {
		return zero, 0, err
	}
	v, p := q.take()
	if err := q.pushSlots.Post(); !err.IsZero() {
		return v, p, err
	}
	return v, p, kernel.ErrorCode{}
}

func (q *MessageQueue[T]) take() (T, int) {
	critsec.Enter()
	defer critsec.Exit()

	m := q.items[0]
	q.items = q.items[1:]
	return m.value, m.priority
}
