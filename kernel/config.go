package kernel

// Compile-time kernel configuration, collected the way the teacher
// collects quanta/MaxDomains/TaskListSize as package-level constants
// rather than a runtime config file: the kernel core has no notion of
// config beyond these bounds.
const (
	// RoundRobinQuantumTicks is how many ticks a thread runs before the
	// scheduler rotates it behind any other runnable thread at the same
	// priority.
	RoundRobinQuantumTicks = 4

	// MaxPriority is the highest priority value of the nominal 0..31
	// range for threads and priority-ceiling mutexes. Nothing checks
	// priorities against it: NewTCB, SetPriority and NewMutex accept any
	// int, and the idle threads in this repository run at -1000.
	MaxPriority = 31

	// MaxSignalNumber is the highest signal number threads can raise or
	// wait for.
	MaxSignalNumber = 31
)
