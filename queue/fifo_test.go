package queue_test

import (
	"testing"
	"time"
	"unsafe"

	"github.com/gko123/distortos/arch"
	"github.com/gko123/distortos/kernel"
	"github.com/gko123/distortos/queue"
)

func newRunningScheduler() *kernel.Scheduler {
	backend := arch.NewHostBackend()
	idle := kernel.NewTCB("idle", -1000, backend, func(unsafe.Pointer) {
		for {
			time.Sleep(time.Millisecond)
		}
	}, nil)
	return kernel.NewScheduler(backend, idle)
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

func TestFifoQueuePushPopInOrder(t *testing.T) {
	sched := newRunningScheduler()
	q := queue.NewFifoQueue[int](sched, 4)
	backend := arch.NewHostBackend()

	got := make(chan int, 3)
	spawn(t, sched, backend, "consumer", 1, func() {
		for i := 0; i < 3; i++ {
			v, err := q.Pop()
			if !err.IsZero() {
				t.Errorf("Pop: %v", err)
			}
			got <- v
		}
	})
	spawn(t, sched, backend, "producer", 1, func() {
		q.Push(1)
		q.Push(2)
		q.Push(3)
	})

	go sched.Run()

	for i, want := range []int{1, 2, 3} {
		select {
		case v := <-got:
			if v != want {
				t.Fatalf("item %d: got %d, want %d", i, v, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for item %d", i)
		}
	}
}

func TestFifoQueuePushBlocksWhenFull(t *testing.T) {
	sched := newRunningScheduler()
	q := queue.NewFifoQueue[int](sched, 1)
	backend := arch.NewHostBackend()

	if err := q.TryPush(1); !err.IsZero() {
		t.Fatalf("TryPush into empty queue: %v", err)
	}

	secondPushed := make(chan struct{})
	spawn(t, sched, backend, "producer", 1, func() {
		q.Push(2)
		close(secondPushed)
	})
	go sched.Run()

	select {
	case <-secondPushed:
		t.Fatal("second push completed while queue was full")
	case <-time.After(20 * time.Millisecond):
	}

	v, err := q.TryPop()
	if !err.IsZero() || v != 1 {
		t.Fatalf("TryPop: got (%d, %v), want (1, nil)", v, err)
	}
	awaitClosed(t, secondPushed, "blocked push to complete after a slot freed")
}

func TestFifoQueueTryPopFailsWhenEmpty(t *testing.T) {
	sched := newRunningScheduler()
	q := queue.NewFifoQueue[int](sched, 2)

	if _, err := q.TryPop(); err.Name != kernel.NameAgain {
		t.Fatalf("expected EAGAIN popping an empty queue, got %v", err)
	}
}
