package kernel

// ErrorCode is the kernel's error type: a comparable, subsystem-tagged
// code in the spirit of src/joy/error.go's errorValue(subsystem, number)
// bit-packing. A freestanding kernel without fmt packed the subsystem and
// number into a single integer so it stayed a zero-cost scalar; a hosted
// Go kernel can afford a small comparable struct instead and gets a
// readable Error() string for free, so that is what this does.
type ErrorCode struct {
	Subsystem string
	Name      string
}

func (e ErrorCode) Error() string {
	return e.Subsystem + ": " + e.Name
}

// IsZero reports whether e is the zero ErrorCode, the value every kernel
// call returns on success.
func (e ErrorCode) IsZero() bool {
	return e == (ErrorCode{})
}

// Error name constants, the POSIX-ish codes spec.md's external interfaces
// and error handling design name.
const (
	NameAgain    = "EAGAIN"
	NameTimedOut = "ETIMEDOUT"
	NameBusy     = "EBUSY"
	NameDeadlk   = "EDEADLK"
	NameOverflow = "EOVERFLOW"
	NameInval    = "EINVAL"
	NamePerm     = "EPERM"
)

// Subsystem tags, one per kernel component, so a log line or failing test
// assertion names which component produced a given code.
const (
	SubsystemScheduler = "scheduler"
	SubsystemSemaphore = "semaphore"
	SubsystemMutex     = "mutex"
	SubsystemQueue     = "queue"
	SubsystemSignals   = "signals"
	SubsystemTimer     = "timer"
	SubsystemThread    = "thread"
	SubsystemCondVar   = "condvar"
)

func NewError(subsystem, name string) ErrorCode {
	return ErrorCode{Subsystem: subsystem, Name: name}
}
