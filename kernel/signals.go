package kernel

import (
	"time"

	"github.com/gko123/distortos/critsec"
	"github.com/gko123/distortos/signals"
)

// RaiseSignal adds num to target's pending set and, if target is
// currently waiting for it, wakes it immediately. The signals.Set type
// itself lives in its own dependency-free package; the blocking
// wait/raise operations live here instead of there because they need
// direct access to Scheduler.Block/Unblock, and kernel already depends
// on signals for TCB's pending/awaited fields — a signals package that
// imported kernel back would be a cycle.
func (s *Scheduler) RaiseSignal(target *TCB, num int) ErrorCode {
	critsec.Enter()
	defer critsec.Exit()

	if num < 0 || num > MaxSignalNumber {
		return NewError(SubsystemSignals, NameInval)
	}

	target.AddPendingSignal(num)
	if target.State() == StateWaitingForSignal && target.AwaitedSignals().Has(num) {
		s.Unblock(target, UnblockRequest)
	}
	return ErrorCode{}
}

// WaitSignal blocks the calling thread until one of the signals in mask
// is pending, consumes it, and returns its number.
func (s *Scheduler) WaitSignal(mask signals.Set) (int, ErrorCode) {
	critsec.Enter()
	defer critsec.Exit()

	t := s.Current()

	if already := t.PendingSignals() & mask; already != 0 {
		n, _ := already.Lowest()
		t.ClearPendingSignal(n)
		return n, ErrorCode{}
	}

	t.SetAwaitedSignals(mask)
	s.Block(t, StateWaitingForSignal, nil, nil, false, 0)
	t.SetAwaitedSignals(0)

	return s.consumeAwaited(t, mask)
}

// WaitSignalFor is WaitSignal with a timeout, using the same
// now+timeout+one-tick deadline convention as the rest of the blocking
// API so a caller-specified wait of N ticks never fires early.
func (s *Scheduler) WaitSignalFor(mask signals.Set, timeout time.Duration, ticksPerSecond uint64) (int, ErrorCode) {
	critsec.Enter()
	defer critsec.Exit()

	t := s.Current()

	if already := t.PendingSignals() & mask; already != 0 {
		n, _ := already.Lowest()
		t.ClearPendingSignal(n)
		return n, ErrorCode{}
	}

	ticks := Tick(uint64(timeout.Seconds()*float64(ticksPerSecond))) + 1
	deadline := s.Now() + ticks

	t.SetAwaitedSignals(mask)
	s.Block(t, StateWaitingForSignal, nil, nil, true, deadline)
	t.SetAwaitedSignals(0)

	if t.UnblockReason() == UnblockTimeout {
		return 0, NewError(SubsystemSignals, NameTimedOut)
	}
	return s.consumeAwaited(t, mask)
}

func (s *Scheduler) consumeAwaited(t *TCB, mask signals.Set) (int, ErrorCode) {
	pending := t.PendingSignals() & mask
	n, ok := pending.Lowest()
	if !ok {
		return 0, NewError(SubsystemSignals, NameInval)
	}
	t.ClearPendingSignal(n)
	return n, ErrorCode{}
}
