// Package thread is the public thread API: Start/Join, with the thread
// terminated through kernel.Scheduler.Terminate when its body returns,
// layered over kernel.TCB and kernel.Scheduler, generalizing the teacher's
// TaskImpl/family/DomainControlBlock trio (three different names for the
// same "control block plus a thin public wrapper" shape) into one type.
package thread

import (
	"unsafe"

	"github.com/gko123/distortos/arch"
	"github.com/gko123/distortos/critsec"
	"github.com/gko123/distortos/kernel"
)

// Thread is a schedulable unit of execution: a TCB plus the bookkeeping
// Join needs, grounded on original_source's ThreadBase (threadRunner,
// terminationHook, join's loop around a termination semaphore) but with
// the termination semaphore replaced by a plain close-on-exit channel,
// since Go already gives every goroutine exactly that primitive.
type Thread struct {
	tcb  *kernel.TCB
	sched *kernel.Scheduler
	done chan struct{}
}

// New builds a thread in state New; it is not schedulable until Start is
// called. body runs on the thread's own stack; when it returns, the
// thread terminates and every blocked Join returns.
func New(sched *kernel.Scheduler, backend arch.Backend, name string, priority int, body func()) *Thread {
	th := &Thread{sched: sched, done: make(chan struct{})}
	th.tcb = kernel.NewTCB(name, priority, backend, func(unsafe.Pointer) {
		body()
		close(th.done)
		sched.Terminate(th.tcb)
	}, nil)
	return th
}

// Start adds the thread to the scheduler. EINVAL if called more than
// once, mirroring ThreadBase::start's "EINVAL unless state == New".
func (th *Thread) Start() kernel.ErrorCode {
	return th.sched.Add(th.tcb)
}

// Join blocks the calling goroutine (not a kernel-scheduled thread — this
// is meant to be called from outside the simulated kernel, e.g. cmd/demo's
// main or a test) until th's body returns.
func (th *Thread) Join() {
	<-th.done
}

func (th *Thread) TCB() *kernel.TCB { return th.tcb }

// Priority returns the thread's current base priority.
func (th *Thread) Priority() int { return th.tcb.Priority() }

// SetPriority changes the thread's base priority, immediately
// recomputing its boosted priority and, if it is currently waiting
// somewhere, its position on that wait list. Takes the critical section
// itself since it reaches directly into TCB/list state that every other
// mutator (Block, Unblock, the mutex protocols) only ever touches while
// already holding it.
func (th *Thread) SetPriority(priority int) {
	critsec.Enter()
	defer critsec.Exit()
	th.tcb.SetPriority(priority)
}
