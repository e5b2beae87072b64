package arch

import (
	"unsafe"

	"github.com/gko123/distortos/critsec"
)

// hostStack backs a thread's execution context with a real goroutine
// parked on a resume channel, generalizing the teacher's
// iansmith-mazarin timer-channel pattern of handing events to a parked
// goroutine over a channel from full timer delivery to a full
// context-switch handoff.
type hostStack struct {
	resume  chan struct{}
	started bool
	entry   func(arg unsafe.Pointer)
	arg     unsafe.Pointer
}

func (s *hostStack) Start() {
	if s.started {
		return
	}
	s.started = true
	go func() {
		<-s.resume
		s.entry(s.arg)
	}()
}

// HostBackend is the only arch.Backend implementation in this repo: it
// backs every thread with a goroutine and uses critsec for interrupt
// masking. A bare-metal backend would implement the same interface
// against real registers and a PendSV-style exception.
type HostBackend struct{}

func NewHostBackend() *HostBackend {
	return &HostBackend{}
}

func (*HostBackend) Mask() InterruptMask {
	critsec.Enter()
	return 0
}

func (*HostBackend) Restore(InterruptMask) {
	critsec.Exit()
}

func (*HostBackend) MakeStack(entry func(arg unsafe.Pointer), arg unsafe.Pointer) Stack {
	return &hostStack{
		resume: make(chan struct{}),
		entry:  entry,
		arg:    arg,
	}
}

// MakeBootStack wraps whatever goroutine calls it (expected to be the one
// calling Scheduler.Run) as an already-running Stack, so the very first
// dispatch has a real "old" context to park once the scheduler takes
// over — the boot goroutine's job ends there, the same way control never
// returns from a bare-metal kernel's Scheduler::start(). Not part of the
// Backend interface: it is a capability kernel.Scheduler looks for via an
// optional-interface check, since a bare-metal backend would bootstrap
// differently (typically by simply never returning from its own start
// routine).
func (*HostBackend) MakeBootStack() Stack {
	return &hostStack{resume: make(chan struct{}), started: true}
}

// SwitchContext hands control to new and parks the calling goroutine
// (old) until it is switched back in. new is started lazily on first
// switch if it has not run yet, the same "New -> Runnable on first
// dispatch" transition the thread state machine describes. It is the
// composition of Wake and ParkSelf below; the scheduler calls those
// separately when it needs only one half.
func (*HostBackend) SwitchContext(old, new Stack) {
	(&HostBackend{}).Wake(new)
	if old == nil {
		return
	}
	(&HostBackend{}).ParkSelf(old)
}

// RequestContextSwitch does nothing in host mode: the backend has no
// deferred interrupt to pend, and kernel.Scheduler never calls it, since
// its dispatch switches synchronously through SwitchContext, Wake and
// ParkSelf.
func (*HostBackend) RequestContextSwitch() {}

// Wake sends new its resume signal, starting it first if this is its
// first activation, without parking the caller. The scheduler uses this
// alone, instead of SwitchContext, when the caller is not the goroutine
// behind the thread being switched away from (a timer tick or an
// interrupt-simulated post reaching in from outside any thread's own
// body): a goroutine can only block itself, so trying to park some
// unrelated caller on the preempted thread's resume channel would block
// the wrong goroutine forever. The preempted thread's own goroutine keeps
// running in the background exactly as real hardware leaves a preempted
// thread's register file untouched until it is switched back in; it
// resynchronizes itself through critsec the next time it reaches one of
// its own blocking calls.
func (*HostBackend) Wake(new Stack) {
	ns := new.(*hostStack)
	ns.Start()
	ns.resume <- struct{}{}
}

// ParkSelf blocks the calling goroutine on old's own resume channel, the
// other half of SwitchContext. The scheduler uses this alone when old is
// switching itself away with nothing further to wake: the idle thread
// loops forever from its one and only resume read and is never woken a
// second time, so a self-blocking thread falling back to idle only needs
// to park, not to signal idle again.
func (*HostBackend) ParkSelf(old Stack) {
	os := old.(*hostStack)
	<-os.resume
}
