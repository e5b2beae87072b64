// Package kernel holds the scheduler core: the thread control block, the
// sorted thread list, the software timer set and the scheduler itself —
// the part of the system spec.md calls out as the core, everything else
// in ksync/queue/signals is a thin wrapper blocking and unblocking
// through the primitives defined here.
package kernel

import (
	"github.com/gko123/distortos/arch"
	"github.com/gko123/distortos/critsec"
	"github.com/gko123/distortos/trust"
)

// Scheduler owns the ready list, the tick clock, the timeout queue and
// the software timer set, and drives every context switch through an
// arch.Backend. A Scheduler stands for the one scheduler of a single
// core, the same shape as scheduler::getScheduler() in the original, but
// it is an ordinary value passed explicitly rather than a package-level
// singleton, so each test builds its own independent instance.
type Scheduler struct {
	backend arch.Backend

	clock    TickClock
	ready    ThreadList
	timeouts threadTimeoutQueue
	Timers   TimerSet

	current   *TCB
	idle      *TCB
	bootStack arch.Stack
	started   bool

	contextSwitchCount uint64

	all []*TCB
}

// NewScheduler builds a scheduler backed by backend, with idle as the
// thread that runs whenever nothing else is runnable. idle must never
// terminate and is not tracked on the ready list; dispatch falls back to
// it directly.
func NewScheduler(backend arch.Backend, idle *TCB) *Scheduler {
	idle.state = StateRunnable
	return &Scheduler{
		backend: backend,
		idle:    idle,
	}
}

func (s *Scheduler) Now() Tick { return s.clock.Now() }

// ContextSwitchCount returns the number of times dispatch has actually
// handed control from one thread's stack to a different one, the counter
// spec.md's priority-preemption scenario asserts against.
func (s *Scheduler) ContextSwitchCount() uint64 { return s.contextSwitchCount }

// Run hands control to the scheduler and does not return in the normal
// case: it performs the first dispatch and parks the calling goroutine
// exactly like any other thread the scheduler switches away from. Call
// it once, after every initial thread has been added, from a goroutine
// set aside for it (cmd/demo and the tests start one with go sched.Run()).
//
// Before Run is called, Add only enqueues: nothing actually gets
// dispatched, the same way adding static threads before
// Scheduler::start() in the original just registers them. This keeps
// thread construction order-independent instead of racing the first
// Add call against whatever else is being set up.
func (s *Scheduler) Run() {
	if b, ok := s.backend.(interface{ MakeBootStack() arch.Stack }); ok {
		s.bootStack = b.MakeBootStack()
	}

	critsec.Enter()
	s.started = true
	s.dispatch()
	critsec.Exit()
}

// Current returns the thread the scheduler believes is presently
// running. Valid to call from anywhere inside a critical section, since
// only one goroutine is ever let past critsec.Enter at a time.
func (s *Scheduler) Current() *TCB { return s.current }

// Threads returns every thread ever added to the scheduler, in add
// order, for tools that want to report on the whole system rather than
// drive it (cmd/ktop's live table).
func (s *Scheduler) Threads() []*TCB {
	critsec.Enter()
	defer critsec.Exit()
	return append([]*TCB(nil), s.all...)
}

// Add transitions t from New to Runnable and makes it eligible for
// dispatch, the scheduler::add() step StaticThread::start ultimately
// calls.
func (s *Scheduler) Add(t *TCB) ErrorCode {
	critsec.Enter()
	defer critsec.Exit()

	if t.state != StateNew {
		return NewError(SubsystemScheduler, NameInval)
	}
	t.state = StateRunnable
	t.quantumRemaining = RoundRobinQuantumTicks
	s.ready.Insert(t)
	s.all = append(s.all, t)
	trust.Debugf("scheduler: added %s prio=%d", t.Name, t.priority)

	s.maybeDispatch()
	return ErrorCode{}
}

// Block removes the calling thread t from the ready list, marks it in
// state, optionally enqueues it on waitList (nil when the primitive keeps
// its own notion of who is waiting, e.g. a mutex, which inserts the caller
// on its wait list itself, or a signal wait) and
// arranges for functor to run at the moment t is unblocked. If
// hasTimeout, t is also armed on the internal timeout queue so a timeout
// unblock happens even with no explicit Unblock call.
//
// Block must be called with t == s.Current(): it switches away from t
// and does not return to the caller until t is unblocked again.
func (s *Scheduler) Block(t *TCB, state ThreadState, waitList *ThreadList, functor UnblockFunctor, hasTimeout bool, timeout Tick) {
	critsec.Enter()

	s.ready.Remove(t)
	t.state = state
	t.unblockFunc = functor
	if waitList != nil {
		waitList.Insert(t)
	}
	if hasTimeout {
		s.timeouts.insert(t, timeout)
	}

	trust.Debugf("scheduler: %s blocked state=%d", t.Name, state)
	s.dispatch()

	critsec.Exit()
}

// Unblock makes a blocked thread runnable again, running its unblock
// functor first (so the primitive it was blocked on can remove it from
// its own bookkeeping) and preempting the current thread if t now
// outranks it.
func (s *Scheduler) Unblock(t *TCB, reason UnblockReason) {
	critsec.Enter()
	defer critsec.Exit()

	if t.state == StateRunnable || t.state == StateTerminated {
		return
	}

	if t.list != nil {
		t.list.Remove(t)
	}
	s.timeouts.remove(t)

	t.unblockReason = reason
	if fn := t.unblockFunc; fn != nil {
		t.unblockFunc = nil
		fn(t, reason)
	}

	t.state = StateRunnable
	t.quantumRemaining = RoundRobinQuantumTicks
	s.ready.Insert(t)

	trust.Debugf("scheduler: %s unblocked reason=%d", t.Name, reason)
	s.maybeDispatch()
}

// Sleep blocks the calling thread purely on the timeout queue, no wait
// list involved, for ticks ticks.
func (s *Scheduler) Sleep(t *TCB, ticks Tick) {
	s.Block(t, StateSleeping, nil, nil, true, s.clock.Now()+ticks)
}

// Suspend removes t from scheduling entirely until a matching Resume.
func (s *Scheduler) Suspend(t *TCB) {
	critsec.Enter()
	defer critsec.Exit()

	if t.state != StateRunnable {
		return
	}
	s.ready.Remove(t)
	t.state = StateSuspended
	if s.current == t {
		s.dispatch()
	}
}

func (s *Scheduler) Resume(t *TCB) {
	critsec.Enter()
	defer critsec.Exit()

	if t.state != StateSuspended {
		return
	}
	t.state = StateRunnable
	t.quantumRemaining = RoundRobinQuantumTicks
	s.ready.Insert(t)
	s.maybeDispatch()
}

// Terminate moves t to its final state and switches away from it if it
// was the running thread. Called once, by the thread package's runner
// wrapper, after a thread's entry function returns.
func (s *Scheduler) Terminate(t *TCB) {
	critsec.Enter()

	s.ready.Remove(t)
	t.state = StateTerminated
	trust.Debugf("scheduler: %s terminated", t.Name)
	if s.current == t {
		s.dispatch()
	}

	critsec.Exit()
}

// Tick advances the tick clock by one, fires any software timers and
// thread timeouts due, and rotates the running thread behind its peers
// once its round-robin quantum is spent.
func (s *Scheduler) Tick() {
	critsec.Enter()
	defer critsec.Exit()

	now := s.clock.Advance()
	s.Timers.Advance(now)

	for _, t := range s.timeouts.expired(now) {
		s.unblockLocked(t, UnblockTimeout)
	}

	if s.current != nil && s.current != s.idle {
		s.current.quantumRemaining--
		if s.current.quantumRemaining <= 0 {
			s.current.quantumRemaining = RoundRobinQuantumTicks
			s.ready.Remove(s.current)
			s.ready.Insert(s.current)
			s.dispatch()
		}
	}
}

// unblockLocked is Unblock's body for callers that already hold critsec
// (Tick's timeout sweep), so Unblock itself stays the only public,
// self-locking entry point.
func (s *Scheduler) unblockLocked(t *TCB, reason UnblockReason) {
	if t.state == StateRunnable || t.state == StateTerminated {
		return
	}
	if t.list != nil {
		t.list.Remove(t)
	}
	s.timeouts.remove(t)

	t.unblockReason = reason
	if fn := t.unblockFunc; fn != nil {
		t.unblockFunc = nil
		fn(t, reason)
	}

	t.state = StateRunnable
	t.quantumRemaining = RoundRobinQuantumTicks
	s.ready.Insert(t)
	s.maybeDispatch()
}

// maybeDispatch switches to the newly-ready/resumed thread only if it
// now outranks whatever is currently running (or nothing is running
// yet), avoiding a pointless context switch on every Add/Unblock.
func (s *Scheduler) maybeDispatch() {
	if !s.started {
		return
	}
	if s.current == nil {
		s.dispatch()
		return
	}
	if front := s.ready.Front(); front != nil && front.EffectivePriority() > s.current.EffectivePriority() {
		s.dispatch()
	}
}

// dispatch switches the running context to the highest-priority runnable
// thread, falling back to idle if none is ready. A no-op if that thread
// is already running.
//
// The caller must hold critsec on entry, possibly several Enter calls
// deep (a semaphore wait calling through a block call calling through
// here). The handoff has two independent halves, and each can only be
// performed under a specific condition:
//
//   - Waking next only makes sense if next's goroutine is actually
//     parked on its own resume channel waiting for the signal (or has
//     never been started). next.runningFree tracks the opposite: once a
//     thread is woken, it is marked runningFree and stays that way until
//     it parks itself again, however many further dispatches come and go
//     in between. A second wake attempt while runningFree is still true
//     would hang the caller, so it is skipped: the thread is already
//     executing, it just isn't s.current's concern until it blocks.
//
//   - Parking old (the calling goroutine) on its own resume channel only
//     makes sense if the calling goroutine really is old's own: true for
//     a thread blocking itself (Block, Sleep, Terminate, Suspend acting
//     on s.current, or a post/tick handled from inside that thread's own
//     body), false for a timer tick or a post arriving from outside any
//     thread's body, which runs on a goroutine with no relationship to
//     s.current. Parking the wrong goroutine there would hang it forever,
//     so an external caller never parks; it fires whatever wake is due
//     and returns immediately, leaving the preempted thread running in
//     the background until it next blocks itself.
func (s *Scheduler) dispatch() {
	next := s.ready.Front()
	if next == nil {
		next = s.idle
	}
	if next == s.current {
		return
	}

	oldTCB := s.current
	selfBlocking := oldTCB == nil || oldTCB.gid == critsec.CurrentGoroutineID()

	var oldStack arch.Stack
	if oldTCB != nil {
		oldStack = oldTCB.stack
	} else {
		oldStack = s.bootStack
	}
	s.current = next
	s.contextSwitchCount++

	needsWake := !next.runningFree
	if needsWake {
		next.runningFree = true
	}
	needsPark := selfBlocking && oldStack != nil

	if needsPark && oldTCB != nil {
		oldTCB.runningFree = false
	}

	switch {
	case needsWake && needsPark:
		depth := critsec.Suspend()
		s.backend.SwitchContext(oldStack, next.stack)
		critsec.Resume(depth)
	case needsWake:
		if b, ok := s.backend.(interface{ Wake(arch.Stack) }); ok {
			b.Wake(next.stack)
		}
	case needsPark:
		if p, ok := s.backend.(interface{ ParkSelf(arch.Stack) }); ok {
			depth := critsec.Suspend()
			p.ParkSelf(oldStack)
			critsec.Resume(depth)
		}
	}

	if !selfBlocking && oldTCB != nil {
		oldTCB.runningFree = true
	}
}
