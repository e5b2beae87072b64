package ksync_test

import (
	"testing"
	"time"
	"unsafe"

	"github.com/gko123/distortos/arch"
	"github.com/gko123/distortos/kernel"
	"github.com/gko123/distortos/ksync"
)

func newRunningScheduler() *kernel.Scheduler {
	backend := arch.NewHostBackend()
	idle := kernel.NewTCB("idle", -1000, backend, func(unsafe.Pointer) {
		for {
			time.Sleep(time.Millisecond)
		}
	}, nil)
	sched := kernel.NewScheduler(backend, idle)
	return sched
}

func spawn(t *testing.T, sched *kernel.Scheduler, backend arch.Backend, name string, priority int, body func()) {
	t.Helper()
	var tcb *kernel.TCB
	tcb = kernel.NewTCB(name, priority, backend, func(unsafe.Pointer) {
		body()
		sched.Terminate(tcb)
	}, nil)
	if err := sched.Add(tcb); !err.IsZero() {
		t.Fatalf("Add(%s): %v", name, err)
	}
}

func awaitClosed(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestSemaphoreWaitBlocksUntilPost(t *testing.T) {
	sched := newRunningScheduler()
	backend := arch.NewHostBackend()
	sem := ksync.NewSemaphore(sched, 0, 1)

	acquired := make(chan struct{})
	spawn(t, sched, backend, "waiter", 1, func() {
		sem.Wait()
		close(acquired)
	})

	posted := make(chan struct{})
	spawn(t, sched, backend, "poster", 1, func() {
		<-posted // wait for the test to say go, so Wait definitely blocks first
		sem.Post()
	})

	go sched.Run()

	select {
	case <-acquired:
		t.Fatal("waiter acquired before Post")
	case <-time.After(20 * time.Millisecond):
	}

	close(posted)
	awaitClosed(t, acquired, "waiter to acquire after Post")
}

func TestSemaphoreTryWaitFailsWhenEmpty(t *testing.T) {
	sched := newRunningScheduler()
	sem := ksync.NewSemaphore(sched, 0, 1)

	if err := sem.TryWait(); err.Name != kernel.NameAgain {
		t.Fatalf("expected EAGAIN on empty semaphore, got %v", err)
	}
}

func TestSemaphorePostWakesHighestPriorityWaiterFirst(t *testing.T) {
	sched := newRunningScheduler()
	backend := arch.NewHostBackend()
	sem := ksync.NewSemaphore(sched, 0, 2)

	order := make(chan string, 2)
	ready := make(chan struct{}, 2)

	spawn(t, sched, backend, "low", 1, func() {
		ready <- struct{}{}
		sem.Wait()
		order <- "low"
	})
	spawn(t, sched, backend, "high", 5, func() {
		ready <- struct{}{}
		sem.Wait()
		order <- "high"
	})

	go sched.Run()

	<-ready
	<-ready
	time.Sleep(10 * time.Millisecond) // let both threads reach Wait and block

	sem.Post()
	first := waitForValue(t, order, "first waiter woken")
	if first != "high" {
		t.Fatalf("expected higher-priority waiter woken first, got %q", first)
	}

	sem.Post()
	second := waitForValue(t, order, "second waiter woken")
	if second != "low" {
		t.Fatalf("expected remaining waiter woken second, got %q", second)
	}
}

func waitForValue[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}
