package kernel

import (
	"unsafe"

	"github.com/gko123/distortos/arch"
	"github.com/gko123/distortos/critsec"
	"github.com/gko123/distortos/signals"
)

// ThreadState enumerates a thread's lifecycle position, the same set
// ThreadControlBlock::State names: a thread is either on the ready list
// (Runnable), blocked on exactly one of a semaphore/mutex/condition
// variable/signal wait, sleeping until a tick, suspended by an explicit
// call, New before its first dispatch, or Terminated after its body
// returns.
type ThreadState int

const (
	StateNew ThreadState = iota
	StateRunnable
	StateSleeping
	StateBlockedOnSemaphore
	StateBlockedOnMutex
	StateBlockedOnConditionVariable
	StateWaitingForSignal
	StateSuspended
	StateTerminated
)

func (s ThreadState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateRunnable:
		return "runnable"
	case StateSleeping:
		return "sleeping"
	case StateBlockedOnSemaphore:
		return "blocked-semaphore"
	case StateBlockedOnMutex:
		return "blocked-mutex"
	case StateBlockedOnConditionVariable:
		return "blocked-condvar"
	case StateWaitingForSignal:
		return "waiting-signal"
	case StateSuspended:
		return "suspended"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// UnblockReason says why a blocked thread was made runnable again: an
// explicit post/signal/notify, or a timeout the thread itself requested.
type UnblockReason int

const (
	UnblockRequest UnblockReason = iota
	UnblockTimeout
)

// listLink is the intrusive node a TCB carries so it can live on a
// ThreadList without a separately allocated node (the timeout queue uses
// the separate timerLink), the same
// idea as ThreadControlBlock::Link (a fixed-size array of pointers
// embedded directly in the control block).
type listLink struct {
	prev, next *TCB
}

// ProtocolMutex is the minimal view the kernel needs of a mutex a thread
// owns, to fold it into that thread's boosted priority: how much
// priority (if any) ownership of this mutex currently contributes.
// ksync.Mutex implements this without kernel importing ksync.
type ProtocolMutex interface {
	BoostedPriorityContribution() int
}

// BlockedOnMutex is the minimal view the kernel needs of a mutex a
// thread is blocked on, to walk the inheritance chain to that mutex's
// current owner.
type BlockedOnMutex interface {
	Owner() *TCB
}

// UnblockFunctor is called on a thread at the moment it is unblocked,
// before its state changes, letting the blocked-on primitive do
// bookkeeping (e.g. removing itself from a semaphore's wait list) without
// the kernel scheduler knowing anything about semaphores, mutexes, queues
// or condition variables. This realizes ThreadControlBlock's type-erased
// unblock functor without an actual union: both fields are present on
// TCB and state says which is meaningful.
type UnblockFunctor func(t *TCB, reason UnblockReason)

// TCB is a thread control block: the kernel's view of one thread,
// independent of anything the thread package layers on top for the
// public Start/Join API (with termination when the body returns).
type TCB struct {
	link listLink
	list *ThreadList

	priority        int
	boostedPriority int
	state           ThreadState

	ownedMutexes  []ProtocolMutex
	blockedMutex  BlockedOnMutex
	unblockFunc   UnblockFunctor
	unblockReason UnblockReason

	timer timerLink

	pendingSignals signals.Set
	awaitedSignals signals.Set

	stack arch.Stack

	quantumRemaining int

	// runningFree is true whenever this thread's goroutine is currently
	// executing without being parked on its own resume channel: either
	// it was started (or re-woken) and has not yet reached a blocking
	// call of its own, or it was preempted by a caller other than itself
	// and so was never asked to park in the first place. The scheduler
	// consults this before trying to hand it the CPU again: signaling a
	// resume channel nobody is listening on would hang the signaler
	// forever, so a thread in this state is left running in the
	// background and only gets a fresh signal once it parks itself.
	runningFree bool

	// gid is the id of the goroutine running this thread's body, captured
	// the first time that body actually executes. One goroutine backs a
	// TCB for its entire life (arch/host.go spawns it once and parks it on
	// a channel between dispatches), so the value recorded on first entry
	// stays valid forever after. The scheduler compares it against the
	// calling goroutine to tell a thread blocking itself (safe to park)
	// apart from a timer tick or an external post reaching in from outside
	// any thread's own body (which cannot safely park the caller, since a
	// goroutine can only block itself).
	gid int64

	Name string
}

// NewTCB builds a new thread in state New with the given base priority
// and entry point; entry is handed to the backend to build the thread's
// execution context.
func NewTCB(name string, priority int, backend arch.Backend, entry func(arg unsafe.Pointer), arg unsafe.Pointer) *TCB {
	t := &TCB{
		Name:            name,
		priority:        priority,
		boostedPriority: priority,
		state:           StateNew,
	}
	wrapped := func(a unsafe.Pointer) {
		t.gid = critsec.CurrentGoroutineID()
		entry(a)
	}
	t.stack = backend.MakeStack(wrapped, arg)
	return t
}

// UnblockReason reports why t was last unblocked. Meaningful only
// immediately after a blocking call on t returns.
func (t *TCB) UnblockReason() UnblockReason { return t.unblockReason }

func (t *TCB) PendingSignals() signals.Set { return t.pendingSignals }
func (t *TCB) AwaitedSignals() signals.Set { return t.awaitedSignals }
func (t *TCB) SetAwaitedSignals(s signals.Set) { t.awaitedSignals = s }
func (t *TCB) AddPendingSignal(n int)          { t.pendingSignals.Add(n) }
func (t *TCB) ClearPendingSignal(n int)        { t.pendingSignals.Clear(n) }

func (t *TCB) Priority() int          { return t.priority }
func (t *TCB) EffectivePriority() int { return t.boostedPriority }
func (t *TCB) State() ThreadState     { return t.state }
func (t *TCB) Stack() arch.Stack      { return t.stack }

// SetPriority changes the thread's base priority and recomputes its
// boosted priority, repositioning it on whatever list it currently lives
// on if its effective priority changed.
func (t *TCB) SetPriority(priority int) {
	t.priority = priority
	t.UpdateBoostedPriority()
}

// AddOwnedMutex records that t now owns m, for priority-inheritance and
// priority-ceiling accounting. Callers must add to this list before
// calling UpdateBoostedPriority so the recompute below picks up the new
// mutex's contribution.
func (t *TCB) AddOwnedMutex(m ProtocolMutex) {
	t.ownedMutexes = append(t.ownedMutexes, m)
}

// RemoveOwnedMutex undoes AddOwnedMutex, again before the caller recomputes
// boosted priority.
func (t *TCB) RemoveOwnedMutex(m ProtocolMutex) {
	for i, owned := range t.ownedMutexes {
		if owned == m {
			t.ownedMutexes = append(t.ownedMutexes[:i], t.ownedMutexes[i+1:]...)
			return
		}
	}
}

// SetBlockedMutex records which mutex t is now blocked on (nil when t is
// not blocked on a mutex), so UpdateBoostedPriority can walk to that
// mutex's owner when t's own boosted priority changes.
func (t *TCB) SetBlockedMutex(m BlockedOnMutex) {
	t.blockedMutex = m
}

// UpdateBoostedPriority recomputes t's boosted priority as the max of its
// own base priority and every owned mutex's current contribution, the
// single recompute distortos splits across lock-time boost, unlock-time
// shrink and transitive propagation. Ownership-list or waiter-list
// mutations must already be applied before calling this: the function
// only reads the current state, it does not know what changed.
//
// If the recomputed value differs from before, t is repositioned on
// whatever list it is on and, if t is itself blocked on a mutex, the walk
// continues into that mutex's owner — this is what makes priority
// inheritance transitive across a chain of blocked owners. The walk
// terminates naturally once a step produces no change.
func (t *TCB) UpdateBoostedPriority() {
	newBoosted := t.priority
	for _, m := range t.ownedMutexes {
		if c := m.BoostedPriorityContribution(); c > newBoosted {
			newBoosted = c
		}
	}

	if newBoosted == t.boostedPriority {
		return
	}

	loweringBefore := newBoosted < t.boostedPriority
	t.boostedPriority = newBoosted

	if t.list != nil {
		t.list.Reposition(t, loweringBefore)
	}

	if t.state == StateBlockedOnMutex && t.blockedMutex != nil {
		if owner := t.blockedMutex.Owner(); owner != nil {
			owner.UpdateBoostedPriority()
		}
	}
}
