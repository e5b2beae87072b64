package ksync

import (
	"github.com/gko123/distortos/critsec"
	"github.com/gko123/distortos/kernel"
)

// Protocol selects how a Mutex affects its owner's priority while held,
// the three priority protocols spec.md names.
type Protocol int

const (
	ProtocolNone Protocol = iota
	ProtocolPriorityInheritance
	ProtocolPriorityCeiling
)

// Type selects how a Mutex behaves when its own owner locks it again, the
// mutex "type" spec.md's Mutex(type, protocol[, ceiling]) constructor
// names alongside the priority protocol.
type Type int

const (
	// TypeNormal gives no protection at all against a recursive lock by
	// the owner: the caller blocks on a mutex only it could ever unlock,
	// which deadlocks it forever. Matches the type's documented undefined
	// behavior in that case.
	TypeNormal Type = iota
	// TypeErrorChecking rejects a recursive lock by the owner immediately
	// with EDEADLK instead of blocking.
	TypeErrorChecking
	// TypeRecursive lets the owner lock again, incrementing a depth
	// counter; Unlock only actually releases once the counter reaches
	// zero.
	TypeRecursive
)

// noBoost is returned by BoostedPriorityContribution when a mutex is
// currently contributing nothing to its owner's boosted priority
// (None protocol, or Inheritance protocol with no waiters). -1 is below
// every priority from 0 up, so it never raises the boosted priority of an
// owner whose base priority is 0 or more.
const noBoost = -1

// Mutex is a lock with a recursion type and an optional priority protocol.
// It implements kernel.ProtocolMutex (so its owner's TCB can fold its
// contribution into a boosted-priority recompute) and kernel.BlockedOnMutex
// (so a thread blocked on it can be walked to its current owner for
// transitive priority inheritance).
type Mutex struct {
	sched    *kernel.Scheduler
	kind     Type
	protocol Protocol
	ceiling  int

	owner   *kernel.TCB
	depth   int
	waiters kernel.ThreadList
}

func NewMutex(sched *kernel.Scheduler, kind Type, protocol Protocol, ceiling int) *Mutex {
	return &Mutex{sched: sched, kind: kind, protocol: protocol, ceiling: ceiling}
}

func (m *Mutex) Owner() *kernel.TCB { return m.owner }

func (m *Mutex) BoostedPriorityContribution() int {
	switch m.protocol {
	case ProtocolPriorityCeiling:
		return m.ceiling
	case ProtocolPriorityInheritance:
		if w := m.waiters.Front(); w != nil {
			return w.EffectivePriority()
		}
		return noBoost
	default:
		return noBoost
	}
}

// transferTo gives ownership of m to t at depth 1, folding m's
// contribution into t's boosted priority. Ownership-list mutation happens
// before the recompute call, as TCB.UpdateBoostedPriority requires.
func (m *Mutex) transferTo(t *kernel.TCB) {
	m.owner = t
	m.depth = 1
	if m.protocol != ProtocolNone {
		t.AddOwnedMutex(m)
		t.UpdateBoostedPriority()
	}
}

// Lock acquires m, blocking if it is already held. A priority-ceiling
// mutex rejects a caller whose effective priority exceeds the ceiling
// outright, contended or not — the protocol's whole point is that nothing
// may ever run above the ceiling while m is reachable, and a thread
// already boosted above it is just as much a violation as one that
// started there.
func (m *Mutex) Lock() kernel.ErrorCode {
	critsec.Enter()
	defer critsec.Exit()

	t := m.sched.Current()

	if m.protocol == ProtocolPriorityCeiling && t.EffectivePriority() > m.ceiling {
		return kernel.NewError(kernel.SubsystemMutex, kernel.NameInval)
	}

	if m.owner == nil {
		m.transferTo(t)
		return kernel.ErrorCode{}
	}

	if m.owner == t {
		switch m.kind {
		case TypeRecursive:
			m.depth++
			return kernel.ErrorCode{}
		case TypeErrorChecking:
			return kernel.NewError(kernel.SubsystemMutex, kernel.NameDeadlk)
		}
		// TypeNormal: fall through to the contended path below and block
		// on a mutex only this same thread could ever unlock.
	}

	// Insert into the wait list and fold the new waiter into the owner's
	// boosted priority before parking, so a higher-priority waiter's
	// arrival is never lost: Block's own waitList insertion happens
	// atomically with its dispatch, leaving no point to recompute in
	// between.
	t.SetBlockedMutex(m)
	m.waiters.Insert(t)
	m.owner.UpdateBoostedPriority()
	m.sched.Block(t, kernel.StateBlockedOnMutex, nil, nil, false, 0)
	t.SetBlockedMutex(nil)

	if t.UnblockReason() == kernel.UnblockTimeout {
		return kernel.NewError(kernel.SubsystemMutex, kernel.NameTimedOut)
	}
	// Unlock already performed the ownership handoff before waking us.
	return kernel.ErrorCode{}
}

// TryLock acquires m only if it is immediately available, or if it is
// already held by the caller and m is recursive.
func (m *Mutex) TryLock() kernel.ErrorCode {
	critsec.Enter()
	defer critsec.Exit()

	t := m.sched.Current()

	if m.protocol == ProtocolPriorityCeiling && t.EffectivePriority() > m.ceiling {
		return kernel.NewError(kernel.SubsystemMutex, kernel.NameInval)
	}
	if m.owner == t {
		if m.kind == TypeRecursive {
			m.depth++
			return kernel.ErrorCode{}
		}
		return kernel.NewError(kernel.SubsystemMutex, kernel.NameDeadlk)
	}
	if m.owner != nil {
		return kernel.NewError(kernel.SubsystemMutex, kernel.NameBusy)
	}
	m.transferTo(t)
	return kernel.ErrorCode{}
}

// Unlock releases m. A recursive mutex locked more than once by its owner
// only decrements the depth counter; the mutex is actually released, and a
// waiter considered, once the counter reaches zero. If a thread is
// waiting at that point, ownership is handed directly to the
// highest-priority one before it is woken — no third thread can barge in
// and steal the mutex out from under an already queued waiter, which
// would reopen exactly the unbounded priority inversion this protocol
// exists to bound.
func (m *Mutex) Unlock() kernel.ErrorCode {
	critsec.Enter()
	defer critsec.Exit()

	t := m.sched.Current()
	if m.owner != t {
		return kernel.NewError(kernel.SubsystemMutex, kernel.NamePerm)
	}

	if m.kind == TypeRecursive && m.depth > 1 {
		m.depth--
		return kernel.ErrorCode{}
	}
	m.depth = 0

	if m.protocol != ProtocolNone {
		t.RemoveOwnedMutex(m)
	}

	if w := m.waiters.Front(); w != nil {
		m.owner = nil
		t.UpdateBoostedPriority()
		m.transferTo(w)
		m.sched.Unblock(w, kernel.UnblockRequest)
		return kernel.ErrorCode{}
	}

	m.owner = nil
	t.UpdateBoostedPriority()
	return kernel.ErrorCode{}
}
