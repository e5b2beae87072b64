// Command ktop is a host-side interactive monitor for a running kernel: it
// puts the terminal in raw mode with go-tty, the same way the teacher's own
// serial line handlers do (ioproto.go, outhandler.go), and instead of
// talking to a bootloader over that line it renders a live table of a
// demo kernel's threads and turns keypresses into signals raised against
// them.
package main

import (
	"fmt"
	"log"
	"time"
	"unsafe"

	tty "github.com/mattn/go-tty"

	"github.com/gko123/distortos/arch"
	"github.com/gko123/distortos/kernel"
	"github.com/gko123/distortos/signals"
	"github.com/gko123/distortos/thread"
)

// worker waits on its own signal number forever, doing a short burst of
// simulated work each time it is signaled, so the table has something
// changing state in it to watch.
func newWorker(sched *kernel.Scheduler, backend arch.Backend, name string, priority, signalNum int) *thread.Thread {
	return thread.New(sched, backend, name, priority, func() {
		var mask signals.Set
		mask.Add(signalNum)
		for {
			sched.WaitSignal(mask)
			time.Sleep(30 * time.Millisecond)
		}
	})
}

func main() {
	ttyObj, err := tty.OpenDevice("/dev/tty")
	if err != nil {
		log.Fatalf("ktop: opening controlling tty: %v", err)
	}
	defer ttyObj.Close()
	_ = ttyObj.MustRaw()

	backend := arch.NewHostBackend()
	idle := kernel.NewTCB("idle", -1000, backend, func(unsafe.Pointer) {
		for {
			time.Sleep(time.Millisecond)
		}
	}, nil)
	sched := kernel.NewScheduler(backend, idle)

	workers := []*thread.Thread{
		newWorker(sched, backend, "worker-0", 10, 0),
		newWorker(sched, backend, "worker-1", 20, 1),
		newWorker(sched, backend, "worker-2", 30, 2),
	}
	for _, w := range workers {
		w.Start()
	}
	go sched.Run()

	keys := make(chan rune)
	go func() {
		for {
			r, err := ttyObj.ReadRune()
			if err != nil {
				close(keys)
				return
			}
			keys <- r
		}
	}()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	fmt.Fprint(ttyObj.Output(), "\x1b[2J")
	status := "press 0/1/2 to signal a worker, q to quit"

loop:
	for {
		select {
		case r, ok := <-keys:
			if !ok {
				break loop
			}
			switch r {
			case 'q', 'Q', 3: // 3 is Ctrl-C under a raw tty
				break loop
			case '0', '1', '2':
				n := int(r - '0')
				sched.RaiseSignal(workers[n].TCB(), n)
				status = fmt.Sprintf("raised signal %d on worker-%d", n, n)
			default:
				status = fmt.Sprintf("unrecognized key %q", r)
			}
		case <-ticker.C:
		}
		render(ttyObj, sched, status)
	}

	fmt.Fprint(ttyObj.Output(), "\x1b[2J\x1b[H")
}

// render redraws the whole screen: move the cursor home, clear to end of
// screen, print the thread table and the status line below it.
func render(ttyObj *tty.TTY, sched *kernel.Scheduler, status string) {
	out := ttyObj.Output()
	fmt.Fprint(out, "\x1b[H\x1b[J")
	fmt.Fprintf(out, "ktop  switches=%d\r\n", sched.ContextSwitchCount())
	fmt.Fprintf(out, "%-12s %6s %6s %s\r\n", "NAME", "PRIO", "EFFPRI", "STATE")
	for _, t := range sched.Threads() {
		fmt.Fprintf(out, "%-12s %6d %6d %s\r\n", t.Name, t.Priority(), t.EffectivePriority(), t.State())
	}
	fmt.Fprintf(out, "\r\n%s\r\n", status)
}
