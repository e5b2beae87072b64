package kernel

import "testing"

func TestTimerSetFiresInAscendingOrder(t *testing.T) {
	var set TimerSet
	var order []string

	t1 := NewTimer(func() { order = append(order, "t1") })
	t2 := NewTimer(func() { order = append(order, "t2") })
	t3 := NewTimer(func() { order = append(order, "t3") })

	set.Start(t2, 0, 20, 0)
	set.Start(t1, 0, 10, 0)
	set.Start(t3, 0, 10, 0) // same expiry as t1, must fire after it (FIFO)

	set.Advance(15)
	if got := []string{"t1", "t3"}; !eq(order, got) {
		t.Fatalf("expected %v, got %v", got, order)
	}

	set.Advance(20)
	if got := []string{"t1", "t3", "t2"}; !eq(order, got) {
		t.Fatalf("expected %v, got %v", got, order)
	}
}

func TestPeriodicTimerReschedulesFromPreviousExpiry(t *testing.T) {
	var set TimerSet
	fireCount := 0
	tm := NewTimer(func() { fireCount++ })

	set.Start(tm, 0, 10, 10)

	set.Advance(10)
	if fireCount != 1 {
		t.Fatalf("expected 1 firing, got %d", fireCount)
	}
	if tm.expiry != 20 {
		t.Fatalf("expected next expiry 20 (10+period), got %d", tm.expiry)
	}

	// A late Advance call (at 25 instead of 20) must not push the next
	// firing past 30: rescheduling is relative to the timer's own last
	// expiry, not to the tick Advance happened to be called at.
	set.Advance(25)
	if fireCount != 2 {
		t.Fatalf("expected 2 firings, got %d", fireCount)
	}
	if tm.expiry != 30 {
		t.Fatalf("expected drift-free next expiry 30, got %d", tm.expiry)
	}
}

func TestStopDisarmsTimer(t *testing.T) {
	var set TimerSet
	fired := false
	tm := NewTimer(func() { fired = true })
	set.Start(tm, 0, 5, 0)
	set.Stop(tm)
	set.Advance(100)
	if fired {
		t.Fatal("expected stopped timer not to fire")
	}
	if tm.IsRunning() {
		t.Fatal("expected IsRunning false after Stop")
	}
}

func TestThreadTimeoutQueueExpiredOrder(t *testing.T) {
	q := &threadTimeoutQueue{}
	a := tcbAt("a", 1)
	b := tcbAt("b", 1)
	c := tcbAt("c", 1)

	q.insert(a, 30)
	q.insert(b, 10)
	q.insert(c, 20)

	expired := q.expired(20)
	if len(expired) != 2 || expired[0] != b || expired[1] != c {
		t.Fatalf("expected [b c] expired at tick 20, got %v", expired)
	}
	if q.head != a {
		t.Fatalf("expected only a left in queue")
	}
}
