package pruntime

import (
	"fmt"
	"sync"
	"time"

	"github.com/VimanyuAgg/P/pvalue"
	"github.com/lightningnetwork/lnd/fn"
)

// Status is the scheduling status of a machine instance.
type Status uint8

const (
	// StatusRunnable means the machine has work and is waiting to be
	// picked by the scheduler.
	StatusRunnable Status = iota

	// StatusRunning means a dispatcher is currently advancing the
	// machine.
	StatusRunning

	// StatusBlocked means the machine has no deliverable event: its
	// queue is empty modulo defers, or it is parked at a receive with no
	// matching event queued.
	StatusBlocked

	// StatusHalted means the machine executed a halt and will never run
	// again. Sending to a halted machine is a fatal error.
	StatusHalted
)

// String returns the name of the status.
func (s Status) String() string {
	switch s {
	case StatusRunnable:
		return "runnable"
	case StatusRunning:
		return "running"
	case StatusBlocked:
		return "blocked"
	case StatusHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// frame is one activation record on a machine's call stack. Locals live in
// a heap-allocated tuple so a function can suspend at a receive point and
// be re-entered later without losing its state.
type frame struct {
	fun *FunDecl

	// locals is the function's locals tuple, owned by the frame.
	locals *pvalue.Value

	// resumeTo is where a re-entered implementation picks up: zero on
	// first entry, receiveIndex+1 after the matching receive completes.
	resumeTo uint16

	// next is the dispatcher operation to run once this function
	// returns normally.
	next dispatchOp
}

func (f *frame) free() {
	pvalue.Free(f.locals)
	f.locals = nil
}

// Machine is one machine instance: an actor with its own queue, state and
// execution context. Instances are created through a Process and owned by
// it; they are never destroyed before process teardown.
type Machine struct {
	process *Process

	// id is the 1-based dense index of the instance within its process.
	id uint32

	// symbolicName is the symbolic name the instance was created under.
	// Children the machine creates resolve their own names through the
	// link map relative to it.
	symbolicName uint32

	// instanceOf is the index of the machine's declaration.
	instanceOf uint32

	decl *MachineDecl

	createdAt time.Time

	// mtx serializes enqueue and dispatcher entry for this instance.
	// While it is held, no other goroutine mutates the queue or the
	// execution state.
	mtx sync.Mutex

	status       Status
	currentState uint32

	// stateStack records parent states across push transitions.
	stateStack []uint32

	// vars is the machine-variables tuple, owned by the machine.
	vars *pvalue.Value

	queue eventQueue

	// trigEvent and trigPayload are the machine's current trigger: the
	// most recently dequeued event and its payload. The payload is owned
	// by the machine and replaced on the next dequeue.
	trigEvent   uint32
	trigPayload *pvalue.Value

	// receive, when non-nil, is the receive point the machine is parked
	// at; only events in its case set are deliverable.
	receive *ReceiveDecl

	// frames is the call stack of active functions.
	frames []*frame

	// op is the dispatcher's resumption point for this machine.
	op dispatchOp

	// pending describes the transition in flight between an exit and the
	// destination's entry.
	pending pendingTransition

	// ctl carries control-flow requests out of a running function body
	// back to the dispatcher. It is only touched by the goroutine
	// currently advancing the machine.
	ctl ctlRequest

	// lastReturn is the saved return value of the most recently
	// completed function, owned by the machine.
	lastReturn *pvalue.Value
}

// pendingTransition is the dispatcher's note-to-self between steps of a
// state change.
type pendingTransition struct {
	dest uint32
	fun  *FunDecl
	pop  bool
}

// ctlKind enumerates the control-flow requests a function body can raise.
type ctlKind uint8

const (
	ctlNone ctlKind = iota
	ctlReceive
	ctlPop
	ctlHalt
)

type ctlRequest struct {
	kind    ctlKind
	receive *ReceiveDecl
}

// ID returns the machine's 1-based identifier.
func (m *Machine) ID() uint32 {
	return m.id
}

// SymbolicName returns the symbolic name the machine was created under.
func (m *Machine) SymbolicName() uint32 {
	return m.symbolicName
}

// InstanceOf returns the index of the machine's declaration within the
// program.
func (m *Machine) InstanceOf() uint32 {
	return m.instanceOf
}

// CreatedAt returns the process-clock time the machine was created.
func (m *Machine) CreatedAt() time.Time {
	return m.createdAt
}

// Value returns a fresh machine-id value naming this instance.
func (m *Machine) Value() *pvalue.Value {
	return pvalue.MkMachine(pvalue.MachineID{
		ProcessGUID: m.process.guid,
		ID:          m.id,
	})
}

// Status returns the machine's scheduling status.
func (m *Machine) Status() Status {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.status
}

// CurrentState returns the index of the machine's current state.
func (m *Machine) CurrentState() uint32 {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.currentState
}

// QueueLen returns the number of undelivered events in the machine's
// queue.
func (m *Machine) QueueLen() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.queue.size()
}

// Receiving returns the index of the receive point the machine is parked
// at, if any.
func (m *Machine) Receiving() fn.Option[uint16] {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.receive == nil {
		return fn.None[uint16]()
	}
	return fn.Some(m.receive.ReceiveIndex)
}

// State returns a read-only snapshot of the machine's identity and current
// state.
func (m *Machine) State() MachineState {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.snapshotLocked()
}

// snapshotLocked builds the callback-facing state snapshot. The machine
// lock must be held.
func (m *Machine) snapshotLocked() MachineState {
	return MachineState{
		MachineID:   m.id,
		MachineName: m.decl.Name,
		StateID:     m.currentState,
		StateName:   m.decl.States[m.currentState].Name,
	}
}

// stateDecl returns the declaration of the machine's current state. The
// machine lock must be held.
func (m *Machine) stateDecl() *StateDecl {
	return &m.decl.States[m.currentState]
}

// setTrigger replaces the machine's current trigger, freeing the previous
// payload. The machine lock must be held.
func (m *Machine) setTrigger(event uint32, payload *pvalue.Value) {
	pvalue.Free(m.trigPayload)
	m.trigEvent = event
	m.trigPayload = payload
}

// enqueue appends an event to the machine's queue on behalf of a sender,
// taking ownership of the payload, and wakes the machine if it is blocked.
// Bound violations and sends to a halted machine are fatal.
func (m *Machine) enqueue(sender MachineState, event uint32,
	payload *pvalue.Value) error {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.status == StatusHalted {
		pvalue.Free(payload)
		return m.process.fatal(&RuntimeError{
			Kind:    SendToHalted,
			Machine: sender,
			Detail: fmt.Sprintf("send of event %q to halted "+
				"machine %d",
				m.process.program.Events[event].Name, m.id),
		})
	}

	evDecl := m.process.program.Events[event]
	if evDecl.MaxInstances > 0 &&
		m.queue.counts[event]+1 > evDecl.MaxInstances {

		pvalue.Free(payload)
		return m.process.fatal(&RuntimeError{
			Kind:    EventMaxInstancesExceeded,
			Machine: m.snapshotLocked(),
			Detail: fmt.Sprintf("event %q exceeds max instances "+
				"%d", evDecl.Name, evDecl.MaxInstances),
		})
	}

	if m.queue.full() {
		pvalue.Free(payload)
		return m.process.fatal(&RuntimeError{
			Kind:    QueueOverflow,
			Machine: m.snapshotLocked(),
			Detail: fmt.Sprintf("queue limit %d reached on send "+
				"of event %q", m.decl.MaxQueueSize,
				evDecl.Name),
		})
	}

	m.queue.push(queueEntry{event: event, payload: payload})
	eventsEnqueued.Inc()

	log.Tracef("machine %v(%d): enqueued event %v from %v: %v",
		m.decl.Name, m.id, evDecl.Name, sender, dumpPayload(payload))

	// Wake a blocked machine without inspecting the queue, whether it is
	// blocked between states or parked at a receive; the dispatcher
	// re-checks under the lock and blocks it again if nothing is
	// deliverable.
	if m.status != StatusBlocked {
		return nil
	}

	m.status = StatusRunnable
	m.process.signalWork()

	return nil
}

// haltLocked halts the machine: the queue is drained with every payload
// freed, the execution state is released, and the status becomes halted.
// The machine lock must be held.
func (m *Machine) haltLocked() {
	snapshot := m.snapshotLocked()
	m.releaseLocked()
	m.process.notifyLog(LogHalt, snapshot, "")
}

// releaseLocked frees everything the machine owns: queued payloads, call
// frames, the current trigger, the machine variables, and the saved return
// value. It is safe to call more than once. The machine lock must be held.
func (m *Machine) releaseLocked() {
	m.queue.drain()

	for _, f := range m.frames {
		f.free()
	}
	m.frames = nil

	pvalue.Free(m.trigPayload)
	m.trigPayload = nil
	pvalue.Free(m.vars)
	m.vars = nil
	pvalue.Free(m.lastReturn)
	m.lastReturn = nil

	m.receive = nil
	m.stateStack = nil
	m.status = StatusHalted
}
