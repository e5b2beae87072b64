package ksync

import (
	"time"

	"github.com/gko123/distortos/critsec"
	"github.com/gko123/distortos/kernel"
)

// CondVar is a condition variable used together with a Mutex: Wait
// atomically unlocks the mutex and blocks, and always reacquires the
// mutex before returning, whether it was woken by Notify or by a
// timeout — the same contract pthread_cond_wait and
// ConditionVariable::wait give callers.
type CondVar struct {
	sched   *kernel.Scheduler
	waiters kernel.ThreadList
}

func NewCondVar(sched *kernel.Scheduler) *CondVar {
	return &CondVar{sched: sched}
}

func (c *CondVar) Wait(m *Mutex) kernel.ErrorCode {
	critsec.Enter()
	defer critsec.Exit()

	t := c.sched.Current()

	if err := m.Unlock(); !err.IsZero() {
		return err
	}

	c.sched.Block(t, kernel.StateBlockedOnConditionVariable, &c.waiters, nil, false, 0)
	reason := t.UnblockReason()

	if err := m.Lock(); !err.IsZero() {
		return err
	}
	if reason == kernel.UnblockTimeout {
		return kernel.NewError(kernel.SubsystemCondVar, kernel.NameTimedOut)
	}
	return kernel.ErrorCode{}
}

// WaitFor is Wait with a timeout, expressed the same deadline-with-slack
// way ksync.Semaphore.TryWaitFor is: now + timeout ticks + one extra tick,
// so a timeout requested for N ticks never fires before N ticks have
// genuinely elapsed.
func (c *CondVar) WaitFor(m *Mutex, timeout time.Duration, ticksPerSecond uint64) kernel.ErrorCode {
	critsec.Enter()
	defer critsec.Exit()

	t := c.sched.Current()

	if err := m.Unlock(); !err.IsZero() {
		return err
	}

	ticks := kernel.Tick(uint64(timeout.Seconds()*float64(ticksPerSecond))) + 1
	deadline := c.sched.Now() + ticks
	c.sched.Block(t, kernel.StateBlockedOnConditionVariable, &c.waiters, nil, true, deadline)
	reason := t.UnblockReason()

	if err := m.Lock(); !err.IsZero() {
		return err
	}
	if reason == kernel.UnblockTimeout {
		return kernel.NewError(kernel.SubsystemCondVar, kernel.NameTimedOut)
	}
	return kernel.ErrorCode{}
}

// NotifyOne wakes the highest-priority waiter, if any.
func (c *CondVar) NotifyOne() {
	critsec.Enter()
	defer critsec.Exit()

	if w := c.waiters.Front(); w != nil {
		c.sched.Unblock(w, kernel.UnblockRequest)
	}
}

// NotifyAll wakes every current waiter.
func (c *CondVar) NotifyAll() {
	critsec.Enter()
	defer critsec.Exit()

	for {
		w := c.waiters.Front()
		if w == nil {
			return
		}
		c.sched.Unblock(w, kernel.UnblockRequest)
	}
}
