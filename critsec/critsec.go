// Package critsec simulates the kernel's critical section primitive on
// top of a real multi-goroutine Go runtime. On the hardware this module
// is modeled after (see the teacher's lib/upbeat.MaskDAIF/UnmaskDAIF), a
// critical section is "disable interrupts, do a short bounded amount of
// work, restore interrupts" on a single core — nestable only because the
// DAIF register save/restore discipline is itself nestable by the caller
// saving the old mask.
//
// Host mode has no interrupts to mask, but it does have the scheduler
// handing the "currently executing" token from one goroutine to another
// inside a single critical section (a context switch performed while
// still notionally inside Enter/Exit). Enter/Exit below are built so that
// holds true: Enter supports real same-goroutine nesting and blocks a
// genuinely concurrent different-goroutine caller, while Exit performs no
// ownership check at all, because a scheduler-driven handoff unlocks from
// a different goroutine than the one that locked.
package critsec

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

var (
	mu     sync.Mutex
	depth  int
	holder int64
)

// Enter begins or extends a critical section. It is safe to call again
// from the same goroutine before a matching Exit (true reentrancy); a
// call from a different goroutine blocks until the section is vacated.
func Enter() {
	gid := goroutineID()
	for {
		mu.Lock()
		if depth == 0 || holder == gid {
			depth++
			holder = gid
			mu.Unlock()
			return
		}
		mu.Unlock()
		runtime.Gosched()
	}
}

// Exit leaves one level of critical section. It deliberately does not
// verify that the calling goroutine matches the one that called the
// matching Enter: the scheduler may switch the running thread to a
// different goroutine while still logically inside the same section (a
// context switch performed with interrupts masked), and that goroutine is
// the one that eventually calls Exit.
func Exit() {
	mu.Lock()
	depth--
	mu.Unlock()
}

// Suspend fully vacates the critical section regardless of nesting depth
// and returns the depth that was in effect, so a later Resume can put it
// back. Used only by the scheduler immediately before a context switch:
// the goroutine about to be parked may be several Enter calls deep (a
// semaphore wait calling through to a block call calling through to
// dispatch), and a single Exit would leave the section still held while
// this goroutine sits parked indefinitely — exactly the stale-holder
// livelock a partial release would cause. Suspend/Resume bracket the
// switch itself rather than one logical Enter/Exit pair.
func Suspend() int {
	mu.Lock()
	n := depth
	depth = 0
	holder = 0
	mu.Unlock()
	return n
}

// Resume reacquires the section for the calling goroutine at nesting
// depth n, undoing a prior Suspend once this goroutine runs again.
func Resume(n int) {
	gid := goroutineID()
	for {
		mu.Lock()
		if depth == 0 {
			depth = n
			holder = gid
			mu.Unlock()
			return
		}
		mu.Unlock()
		runtime.Gosched()
	}
}

// CurrentGoroutineID exposes the calling goroutine's id. The scheduler
// uses it to tell "this thread acting on itself" apart from "a genuinely
// different goroutine forcing a switch" (a timer tick or an interrupt
// simulated from outside any thread's own body): only the former can
// safely park on a channel, since only a goroutine can block itself.
func CurrentGoroutineID() int64 { return goroutineID() }

// InSection reports whether any goroutine currently holds the section.
// Used by tests to assert balanced Enter/Exit pairs.
func InSection() bool {
	mu.Lock()
	defer mu.Unlock()
	return depth > 0
}

// goroutineID extracts the calling goroutine's id from runtime.Stack's
// header line ("goroutine 123 [running]:"). There is no supported API for
// this; it is used here only to distinguish "same goroutine re-entering"
// from "a different goroutine contending", which sync.Mutex alone cannot
// tell apart.
func goroutineID() int64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]
	fields := bytes.Fields(buf)
	if len(fields) < 2 {
		return -1
	}
	id, err := strconv.ParseInt(string(fields[1]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
