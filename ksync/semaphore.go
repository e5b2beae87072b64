// Package ksync holds the blocking primitives built directly on top of
// the scheduler's block/unblock protocol: counting semaphores, mutexes
// with the three priority protocols, and condition variables. Each
// primitive masks interrupts (via critsec) around its own bookkeeping
// before ever touching kernel.Scheduler, the same layering
// original_source keeps between synchronization/Semaphore.cpp (which
// takes its own InterruptMaskingLock) and scheduler::block underneath it.
package ksync

import (
	"time"

	"github.com/gko123/distortos/critsec"
	"github.com/gko123/distortos/kernel"
)

// Semaphore is a counting semaphore: Post increments the count or wakes
// the highest-priority waiter, Wait decrements it or blocks.
type Semaphore struct {
	sched   *kernel.Scheduler
	value   uint
	max     uint
	waiters kernel.ThreadList
}

func NewSemaphore(sched *kernel.Scheduler, initial, max uint) *Semaphore {
	return &Semaphore{sched: sched, value: initial, max: max}
}

func (s *Semaphore) Value() uint { return s.value }

// Post increments the semaphore, or — if a thread is already waiting —
// hands the count directly to the highest-priority waiter instead of
// incrementing value at all, matching Semaphore::post's "unblock the
// head of the blocked list if non-empty, else increment" ordering.
func (s *Semaphore) Post() kernel.ErrorCode {
	critsec.Enter()
	defer critsec.Exit()

	if w := s.waiters.Front(); w != nil {
		s.sched.Unblock(w, kernel.UnblockRequest)
		return kernel.ErrorCode{}
	}
	if s.value == s.max {
		return kernel.NewError(kernel.SubsystemSemaphore, kernel.NameOverflow)
	}
	s.value++
	return kernel.ErrorCode{}
}

// TryWait decrements the semaphore if its count is non-zero, otherwise
// fails immediately with EAGAIN rather than blocking.
func (s *Semaphore) TryWait() kernel.ErrorCode {
	critsec.Enter()
	defer critsec.Exit()

	if s.value == 0 {
		return kernel.NewError(kernel.SubsystemSemaphore, kernel.NameAgain)
	}
	s.value--
	return kernel.ErrorCode{}
}

// Wait decrements the semaphore, blocking the calling thread until it is
// non-zero.
func (s *Semaphore) Wait() kernel.ErrorCode {
	critsec.Enter()
	defer critsec.Exit()

	if s.value > 0 {
		s.value--
		return kernel.ErrorCode{}
	}
	t := s.sched.Current()
	s.sched.Block(t, kernel.StateBlockedOnSemaphore, &s.waiters, nil, false, 0)

	if t.UnblockReason() == kernel.UnblockTimeout {
		return kernel.NewError(kernel.SubsystemSemaphore, kernel.NameTimedOut)
	}
	return kernel.ErrorCode{}
}

// TryWaitFor blocks until the semaphore becomes available or timeout
// elapses. The deadline is computed as now + timeout ticks + one extra
// tick of slack, mirroring Semaphore::tryWaitFor's
// "TickClock::now() + duration + TickClock::duration{1}": without the
// extra tick, a wait requested for exactly N ticks could time out
// anywhere between N-1 and N ticks later depending on phase against the
// tick interrupt, which tryWaitFor's callers do not expect.
func (s *Semaphore) TryWaitFor(timeout time.Duration, ticksPerSecond uint64) kernel.ErrorCode {
	critsec.Enter()
	defer critsec.Exit()

	if s.value > 0 {
		s.value--
		return kernel.ErrorCode{}
	}
	ticks := kernel.Tick(uint64(timeout.Seconds()*float64(ticksPerSecond))) + 1
	deadline := s.sched.Now() + ticks

	t := s.sched.Current()
	s.sched.Block(t, kernel.StateBlockedOnSemaphore, &s.waiters, nil, true, deadline)

	if t.UnblockReason() == kernel.UnblockTimeout {
		return kernel.NewError(kernel.SubsystemSemaphore, kernel.NameTimedOut)
	}
	return kernel.ErrorCode{}
}
