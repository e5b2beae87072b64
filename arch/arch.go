// Package arch defines the seam between the kernel core and whatever runs
// a thread's machine context. It mirrors the shape of the teacher's
// lib/upbeat interrupt-masking primitives and TaskImpl stack setup, but
// abstracted to an interface so a bare-metal backend could be dropped in
// behind the same scheduler code that host mode exercises with goroutines.
package arch

import "unsafe"

// InterruptMask is an opaque token returned by Mask and consumed by a
// matching Restore, the same save/restore shape as upbeat.MaskDAIF's
// return value.
type InterruptMask uint32

// Stack is an opaque handle to a thread's execution context. On the host
// backend it wraps a goroutine and its resumption channel; on a bare-metal
// backend it would wrap a stack pointer and saved registers.
type Stack interface {
	// Start begins running the stack's entry function on whatever backs
	// it, separate from construction so a scheduler can build every TCB's
	// stack up front and start threads independently later.
	Start()
}

// Backend supplies the machine-dependent operations the kernel core needs:
// masking interrupts, building a new thread's initial context and
// switching the running context from one thread to another.
type Backend interface {
	// Mask disables interrupts (ticks, in host mode) and returns a token
	// that restores the previous mask state.
	Mask() InterruptMask
	Restore(InterruptMask)

	// MakeStack prepares a not-yet-started execution context that will
	// run entry(arg) once Start is called on the returned Stack.
	MakeStack(entry func(arg unsafe.Pointer), arg unsafe.Pointer) Stack

	// SwitchContext transfers control from the currently running context
	// to new, parking old until it is switched back to.
	SwitchContext(old, new Stack)

	// RequestContextSwitch asks the backend to run the scheduler's
	// context-switch decision at the next safe point. On host mode this
	// is synchronous; a bare-metal backend would pend a PendSV-style
	// exception.
	RequestContextSwitch()
}
