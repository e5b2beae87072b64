package kernel

import "github.com/gko123/distortos/critsec"

// timerLink is the intrusive node a TCB carries for the scheduler's
// internal timeout queue (threads sleeping or blocked-with-timeout),
// ascending by expiry tick with FIFO tie-breaking, mirroring
// TickClock-driven unblockHooks in the original design.
type timerLink struct {
	prev, next *TCB
	expiry     Tick
	armed      bool
}

// threadTimeoutQueue holds every TCB currently waiting for a tick
// deadline (Sleep, or a blocking call made with a timeout), separate from
// the ready/blocked-on-primitive lists a TCB also belongs to at the same
// time.
type threadTimeoutQueue struct {
	head, tail *TCB
}

func (q *threadTimeoutQueue) insert(t *TCB, expiry Tick) {
	t.timer.expiry = expiry
	t.timer.armed = true

	var cur *TCB
	for cur = q.head; cur != nil; cur = cur.timer.next {
		if cur.timer.expiry > expiry {
			break
		}
	}
	if cur == nil {
		t.timer.prev = q.tail
		t.timer.next = nil
		if q.tail != nil {
			q.tail.timer.next = t
		} else {
			q.head = t
		}
		q.tail = t
		return
	}
	t.timer.next = cur
	t.timer.prev = cur.timer.prev
	if cur.timer.prev != nil {
		cur.timer.prev.timer.next = t
	} else {
		q.head = t
	}
	cur.timer.prev = t
}

func (q *threadTimeoutQueue) remove(t *TCB) {
	if !t.timer.armed {
		return
	}
	if t.timer.prev != nil {
		t.timer.prev.timer.next = t.timer.next
	} else if q.head == t {
		q.head = t.timer.next
	}
	if t.timer.next != nil {
		t.timer.next.timer.prev = t.timer.prev
	} else if q.tail == t {
		q.tail = t.timer.prev
	}
	t.timer.prev = nil
	t.timer.next = nil
	t.timer.armed = false
}

// expired pops and returns every TCB whose expiry is at or before now, in
// ascending expiry order.
func (q *threadTimeoutQueue) expired(now Tick) []*TCB {
	var out []*TCB
	for q.head != nil && q.head.timer.expiry <= now {
		t := q.head
		q.remove(t)
		out = append(out, t)
	}
	return out
}

// SoftwareTimer is the user-visible periodic/one-shot timer facility from
// spec.md's software timer component: a callback run by the scheduler
// when its expiry tick is reached, optionally rearmed relative to its own
// previous firing tick so a periodic timer does not drift under jitter in
// when Advance is actually called.
type SoftwareTimer struct {
	prev, next *SoftwareTimer
	set        *TimerSet

	expiry Tick
	period Tick // 0 means one-shot

	callback func()
}

// TimerSet holds every armed SoftwareTimer, ascending by expiry with FIFO
// tie-breaking among equal expiries.
type TimerSet struct {
	head, tail *SoftwareTimer
}

// NewTimer creates a timer that is not yet armed; call Start to arm it.
func NewTimer(callback func()) *SoftwareTimer {
	return &SoftwareTimer{callback: callback}
}

func (s *TimerSet) insert(tm *SoftwareTimer) {
	tm.set = s
	var cur *SoftwareTimer
	for cur = s.head; cur != nil; cur = cur.next {
		if cur.expiry > tm.expiry {
			break
		}
	}
	if cur == nil {
		tm.prev = s.tail
		tm.next = nil
		if s.tail != nil {
			s.tail.next = tm
		} else {
			s.head = tm
		}
		s.tail = tm
		return
	}
	tm.next = cur
	tm.prev = cur.prev
	if cur.prev != nil {
		cur.prev.next = tm
	} else {
		s.head = tm
	}
	cur.prev = tm
}

func (s *TimerSet) remove(tm *SoftwareTimer) {
	if tm.set != s {
		return
	}
	if tm.prev != nil {
		tm.prev.next = tm.next
	} else if s.head == tm {
		s.head = tm.next
	}
	if tm.next != nil {
		tm.next.prev = tm.prev
	} else if s.tail == tm {
		s.tail = tm.prev
	}
	tm.prev, tm.next, tm.set = nil, nil, nil
}

// Start arms tm to fire at now+delay, replacing any previous arming. Takes
// the critical section itself: callers reach this directly off
// Scheduler.Timers rather than through a Scheduler method, and Advance
// walks the same list from inside Tick.
func (s *TimerSet) Start(tm *SoftwareTimer, now Tick, delay Tick, period Tick) {
	critsec.Enter()
	defer critsec.Exit()

	s.remove(tm)
	tm.expiry = now + delay
	tm.period = period
	s.insert(tm)
}

// Stop disarms tm; a no-op if it was not armed in this set.
func (s *TimerSet) Stop(tm *SoftwareTimer) {
	critsec.Enter()
	defer critsec.Exit()

	s.remove(tm)
}

func (tm *SoftwareTimer) IsRunning() bool {
	critsec.Enter()
	defer critsec.Exit()
	return tm.set != nil
}

// Advance fires every timer whose expiry is at or before now, rearming
// periodic ones relative to their own previous expiry (not to now) so a
// late Advance call does not compound drift into later firings.
func (s *TimerSet) Advance(now Tick) {
	for s.head != nil && s.head.expiry <= now {
		tm := s.head
		s.remove(tm)
		tm.callback()
		if tm.period > 0 {
			tm.expiry += tm.period
			s.insert(tm)
		}
	}
}
