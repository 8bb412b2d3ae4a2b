package pruntime

import "fmt"

// ErrorKind is a structured classification of a fatal runtime error. The
// core performs no local recovery: once an error of any kind is surfaced
// through the process error callback, the process transitions to
// terminating and every subsequent dispatch call reports StepTerminating.
type ErrorKind uint8

const (
	// QueueOverflow means a send would grow a machine's event queue past
	// its declared maximum size.
	QueueOverflow ErrorKind = iota

	// EventMaxInstancesExceeded means a send would exceed the declared
	// bound on unconsumed copies of one event in a single queue.
	EventMaxInstancesExceeded

	// UnhandledEvent means a dequeued event matched no defer, transition
	// or do handler in the current state and the state stack was empty.
	UnhandledEvent

	// IllegalParamStatus means an argument was passed with the reserved
	// swap status.
	IllegalParamStatus

	// InvalidMachineID means a machine lookup used a value that is not a
	// machine identifier, an identifier from another process, or an
	// identifier out of bounds.
	InvalidMachineID

	// InvalidPolicy means a scheduling policy value outside the two
	// supported policies was requested.
	InvalidPolicy

	// SendToHalted means an event was sent to a machine that has halted.
	SendToHalted

	// InvalidProgramTable means the program tables are malformed.
	InvalidProgramTable
)

// String returns the name of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case QueueOverflow:
		return "QueueOverflow"
	case EventMaxInstancesExceeded:
		return "EventMaxInstancesExceeded"
	case UnhandledEvent:
		return "UnhandledEvent"
	case IllegalParamStatus:
		return "IllegalParamStatus"
	case InvalidMachineID:
		return "InvalidMachineID"
	case InvalidPolicy:
		return "InvalidPolicy"
	case SendToHalted:
		return "SendToHalted"
	case InvalidProgramTable:
		return "InvalidProgramTable"
	default:
		return fmt.Sprintf("ErrorKind(%d)", uint8(k))
	}
}

// MachineState is a read-only snapshot of where a machine was when an
// observable event or error occurred. It is the shape handed to both the
// error and the log callbacks.
type MachineState struct {
	// MachineID is the 1-based identifier of the machine.
	MachineID uint32

	// MachineName is the name of the machine's declaration.
	MachineName string

	// StateID is the index of the machine's current state.
	StateID uint32

	// StateName is the name of the machine's current state.
	StateName string
}

// String renders the snapshot for logs.
func (s MachineState) String() string {
	return fmt.Sprintf("%s(%d)@%s", s.MachineName, s.MachineID,
		s.StateName)
}

// RuntimeError is a fatal runtime error surfaced through the process error
// callback.
type RuntimeError struct {
	// Kind classifies the failure.
	Kind ErrorKind

	// Machine is a snapshot of the machine involved, if any.
	Machine MachineState

	// Detail is a human readable elaboration.
	Detail string
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("runtime error %v in %v", e.Kind, e.Machine)
	}
	return fmt.Sprintf("runtime error %v in %v: %s", e.Kind, e.Machine,
		e.Detail)
}

// ErrorFunc is the host-provided callback for fatal runtime errors. The
// callback must not call back into the process in a way that re-enters the
// lock of the machine named in the error.
type ErrorFunc func(err *RuntimeError)

// LogKind enumerates the observable dispatcher events reported to the log
// callback.
type LogKind uint8

const (
	// LogEntry is reported when a state's entry function is about to run.
	LogEntry LogKind = iota

	// LogExit is reported when a state's exit function is about to run.
	LogExit

	// LogDequeue is reported when an event is removed from a queue for
	// handling.
	LogDequeue

	// LogHalt is reported when a machine halts.
	LogHalt

	// LogPush is reported when a push transition stacks the current
	// state.
	LogPush

	// LogPop is reported when the state stack is popped.
	LogPop
)

// String returns the name of the log kind.
func (k LogKind) String() string {
	switch k {
	case LogEntry:
		return "ENTRY"
	case LogExit:
		return "EXIT"
	case LogDequeue:
		return "DEQUEUE"
	case LogHalt:
		return "HALT"
	case LogPush:
		return "PUSH"
	case LogPop:
		return "POP"
	default:
		return fmt.Sprintf("LogKind(%d)", uint8(k))
	}
}

// LogFunc is the host-provided callback for observable dispatcher events.
// The same re-entrancy restriction as ErrorFunc applies.
type LogFunc func(kind LogKind, state MachineState, extra string)
