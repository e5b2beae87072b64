// Command demo runs every end-to-end scenario the kernel is built against
// as a narrated walkthrough, logging each step through trust the way the
// teacher's own boot sequence logs its stages rather than staying silent
// until something goes wrong.
package main

import (
	"time"
	"unsafe"

	"github.com/gko123/distortos/arch"
	"github.com/gko123/distortos/kernel"
	"github.com/gko123/distortos/ksync"
	"github.com/gko123/distortos/queue"
	"github.com/gko123/distortos/signals"
	"github.com/gko123/distortos/thread"
	"github.com/gko123/distortos/trust"
)

// newDemoScheduler builds a scheduler with a dedicated idle thread, the
// same shape every scenario below needs and no scenario should have to
// repeat.
func newDemoScheduler() (*kernel.Scheduler, *arch.HostBackend) {
	backend := arch.NewHostBackend()
	idle := kernel.NewTCB("idle", -1000, backend, func(unsafe.Pointer) {
		for {
			time.Sleep(time.Millisecond)
		}
	}, nil)
	return kernel.NewScheduler(backend, idle), backend
}

func main() {
	trust.Infof("demo: starting kernel walkthrough")

	priorityPreemption()
	roundRobin()
	priorityInheritance()
	fifoQueueBlocking()
	signalWithTimeout()
	semaphoreOverflow()

	trust.Infof("demo: all scenarios completed")
}

// priorityPreemption starts a low-priority thread, lets a higher-priority
// one block on a semaphore, then posts to it from outside any thread's
// body (an "ISR") and shows the high-priority thread runs before the low
// one gets another turn.
func priorityPreemption() {
	trust.Infof("--- priority preemption ---")
	sched, backend := newDemoScheduler()
	sem := ksync.NewSemaphore(sched, 0, 1)

	lowRunning := make(chan struct{})
	lowDone := make(chan struct{})
	low := thread.New(sched, backend, "low", 10, func() {
		close(lowRunning)
		trust.Infof("low: running at priority 10")
		<-lowDone
	})
	low.Start()
	go sched.Run()

	mainDone := make(chan struct{})
	main := thread.New(sched, backend, "main", 50, func() {
		<-lowRunning
		trust.Infof("main: waiting on semaphore at priority 50")
		sem.Wait()
		trust.Infof("main: woke from semaphore, preempting low")
		close(mainDone)
	})

	<-lowRunning
	main.Start()
	time.Sleep(10 * time.Millisecond)
	trust.Infof("demo: posting semaphore from outside any thread body")
	sem.Post()

	<-mainDone
	close(lowDone)
	trust.Infof("priority preemption: done, %d context switches so far", sched.ContextSwitchCount())
}

// roundRobin starts four equal-priority threads and lets the tick clock
// rotate them, printing whichever thread the scheduler picks after each
// quantum.
func roundRobin() {
	trust.Infof("--- round robin within a priority level ---")
	sched, backend := newDemoScheduler()

	for _, name := range []string{"A", "B", "C", "D"} {
		th := thread.New(sched, backend, name, 5, func() {
			for {
				time.Sleep(100 * time.Microsecond)
			}
		})
		th.Start()
	}
	go sched.Run()

	time.Sleep(time.Millisecond)
	trust.Infof("round robin: %s runs first", sched.Current().Name)
	for i := 0; i < 7; i++ {
		for tick := 0; tick < kernel.RoundRobinQuantumTicks; tick++ {
			sched.Tick()
		}
		time.Sleep(time.Millisecond)
		trust.Infof("round robin: quantum %d ends, %s runs next", i+1, sched.Current().Name)
	}
}

// priorityInheritance shows a low-priority owner's effective priority
// climb to a high-priority waiter's level while a mid-priority thread that
// would otherwise starve the owner spins in the background.
func priorityInheritance() {
	trust.Infof("--- priority inheritance propagation ---")
	sched, backend := newDemoScheduler()
	m := ksync.NewMutex(sched, ksync.TypeNormal, ksync.ProtocolPriorityInheritance, 0)
	release := ksync.NewSemaphore(sched, 0, 1)

	lowLocked := make(chan struct{})
	low := thread.New(sched, backend, "L", 10, func() {
		m.Lock()
		trust.Infof("L: acquired the mutex at base priority 10")
		close(lowLocked)
		release.Wait()
		m.Unlock()
		trust.Infof("L: released the mutex")
	})
	low.Start()
	go sched.Run()

	midSpinning := make(chan struct{})
	stopMid := make(chan struct{})
	mid := thread.New(sched, backend, "M", 50, func() {
		close(midSpinning)
		trust.Infof("M: spinning at priority 50, ready to starve L if nothing intervenes")
		for {
			select {
			case <-stopMid:
				return
			default:
				time.Sleep(100 * time.Microsecond)
			}
		}
	})

	highAcquired := make(chan struct{})
	high := thread.New(sched, backend, "H", 100, func() {
		trust.Infof("H: blocking on L's mutex at priority 100")
		m.Lock()
		trust.Infof("H: acquired the mutex")
		close(highAcquired)
		m.Unlock()
	})

	<-lowLocked
	mid.Start()
	<-midSpinning
	high.Start()
	time.Sleep(20 * time.Millisecond)

	trust.Infof("priority inheritance: L's effective priority is now %d", low.TCB().EffectivePriority())
	release.Post()

	<-highAcquired
	close(stopMid)
}

// fifoQueueBlocking fills a two-slot queue, blocks a third push until a
// consumer drains a slot, and shows values come out in the order they went
// in.
func fifoQueueBlocking() {
	trust.Infof("--- FIFO queue blocking ---")
	sched, backend := newDemoScheduler()
	q := queue.NewFifoQueue[int](sched, 2)

	thirdPushed := make(chan struct{})
	producer := thread.New(sched, backend, "producer", 1, func() {
		q.Push(1)
		q.Push(2)
		trust.Infof("producer: queue full, pushing a third value blocks")
		if err := q.PushFor(3, 50*time.Millisecond, 1000); !err.IsZero() {
			trust.Errorf("producer: third push failed: %v", err)
		} else {
			trust.Infof("producer: third push landed once a slot freed")
		}
		close(thirdPushed)
	})
	producer.Start()

	consumerDone := make(chan struct{})
	consumer := thread.New(sched, backend, "consumer", 1, func() {
		time.Sleep(15 * time.Millisecond)
		for i := 0; i < 3; i++ {
			v, err := q.Pop()
			if !err.IsZero() {
				trust.Errorf("consumer: pop %d failed: %v", i, err)
				continue
			}
			trust.Infof("consumer: popped %d", v)
		}
		close(consumerDone)
	})
	consumer.Start()

	go sched.Run()

	<-thirdPushed
	<-consumerDone
}

// signalWithTimeout arms a software timer that raises a signal a thread is
// already waiting on, showing the wait wakes with the signal's number
// rather than timing out.
func signalWithTimeout() {
	trust.Infof("--- signal delivery via a software timer ---")
	sched, backend := newDemoScheduler()

	var waiterTCB *kernel.TCB
	waiterReady := make(chan struct{})
	done := make(chan struct{})
	waiter := thread.New(sched, backend, "waiter", 1, func() {
		waiterTCB = sched.Current()
		close(waiterReady)
		var mask signals.Set
		mask.Add(5)
		trust.Infof("waiter: waiting on signal 5")
		n, err := sched.WaitSignal(mask)
		trust.Infof("waiter: woke with signal %d, err=%v", n, err)
		close(done)
	})
	waiter.Start()
	go sched.Run()

	<-waiterReady
	time.Sleep(10 * time.Millisecond)

	tm := kernel.NewTimer(func() {
		trust.Infof("timer: firing, raising signal 5")
		sched.RaiseSignal(waiterTCB, 5)
	})
	sched.Timers.Start(tm, sched.Now(), 10, 0)

	go func() {
		for i := 0; i < 50; i++ {
			sched.Tick()
			time.Sleep(time.Millisecond)
		}
	}()

	<-done
}

// semaphoreOverflow shows posting an already-full counting semaphore fails
// rather than silently wrapping.
func semaphoreOverflow() {
	trust.Infof("--- semaphore overflow ---")
	sched, _ := newDemoScheduler()
	sem := ksync.NewSemaphore(sched, 3, 3)

	if err := sem.Post(); !err.IsZero() {
		trust.Infof("semaphore overflow: post on a full semaphore failed as expected: %v", err)
	} else {
		trust.Errorf("semaphore overflow: post on a full semaphore unexpectedly succeeded")
	}
}
