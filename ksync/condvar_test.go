package ksync_test

import (
	"testing"
	"time"

	"github.com/gko123/distortos/arch"
	"github.com/gko123/distortos/kernel"
	"github.com/gko123/distortos/ksync"
)

func TestCondVarWaitBlocksUntilNotify(t *testing.T) {
	sched := newRunningScheduler()
	backend := arch.NewHostBackend()
	m := ksync.NewMutex(sched, ksync.TypeNormal, ksync.ProtocolNone, 0)
	cv := ksync.NewCondVar(sched)

	ready := make(chan struct{})
	woke := make(chan struct{})
	spawn(t, sched, backend, "waiter", 1, func() {
		m.Lock()
		close(ready)
		cv.Wait(m)
		m.Unlock()
		close(woke)
	})

	go sched.Run()
	awaitClosed(t, ready, "waiter to lock and start waiting")
	time.Sleep(10 * time.Millisecond) // let it reach cv.Wait and release m

	select {
	case <-woke:
		t.Fatal("waiter woke before NotifyOne")
	case <-time.After(20 * time.Millisecond):
	}

	spawn(t, sched, backend, "notifier", 1, func() {
		m.Lock()
		cv.NotifyOne()
		m.Unlock()
	})

	awaitClosed(t, woke, "waiter to wake after NotifyOne")
}

func TestCondVarNotifyAllWakesEveryWaiter(t *testing.T) {
	sched := newRunningScheduler()
	backend := arch.NewHostBackend()
	m := ksync.NewMutex(sched, ksync.TypeNormal, ksync.ProtocolNone, 0)
	cv := ksync.NewCondVar(sched)

	const n = 3
	ready := make(chan struct{}, n)
	woke := make(chan struct{}, n)

	for i := 0; i < n; i++ {
		spawn(t, sched, backend, "waiter", 1, func() {
			m.Lock()
			ready <- struct{}{}
			cv.Wait(m)
			m.Unlock()
			woke <- struct{}{}
		})
	}

	go sched.Run()
	for i := 0; i < n; i++ {
		awaitClosed2(t, ready, "a waiter to start waiting")
	}
	time.Sleep(10 * time.Millisecond)

	spawn(t, sched, backend, "notifier", 1, func() {
		m.Lock()
		cv.NotifyAll()
		m.Unlock()
	})

	for i := 0; i < n; i++ {
		awaitClosed2(t, woke, "a waiter to wake after NotifyAll")
	}
}

func TestCondVarWaitForTimesOut(t *testing.T) {
	sched := newRunningScheduler()
	backend := arch.NewHostBackend()
	m := ksync.NewMutex(sched, ksync.TypeNormal, ksync.ProtocolNone, 0)
	cv := ksync.NewCondVar(sched)

	result := make(chan kernel.ErrorCode, 1)
	spawn(t, sched, backend, "waiter", 1, func() {
		m.Lock()
		result <- cv.WaitFor(m, time.Millisecond, 1000)
		m.Unlock()
	})

	go sched.Run()
	go func() {
		for i := 0; i < 200; i++ {
			sched.Tick()
			time.Sleep(time.Millisecond)
		}
	}()

	err := waitForValue(t, result, "WaitFor to time out")
	if err.Name != kernel.NameTimedOut {
		t.Fatalf("expected ETIMEDOUT, got %v", err)
	}
}

func awaitClosed2(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}
