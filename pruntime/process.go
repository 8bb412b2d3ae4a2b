// Package pruntime implements the execution core of an actor-style
// state-machine runtime: machine instances with bounded event queues, the
// dispatcher that drives each machine through its state graph, and the
// process-level scheduler that decides which machine runs next.
//
// A Process owns a set of machine instances executing one immutable
// Program. External code creates machines and sends events through the
// process; the scheduler hands runnable machines to the dispatcher, which
// executes until the machine blocks on an empty queue or an unmatched
// receive.
package pruntime

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/VimanyuAgg/P/pvalue"
	goerrors "github.com/go-errors/errors"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn"
)

// Config bundles everything a process needs to start.
type Config struct {
	// GUID identifies the process. Machine-id values carry it, and
	// lookups reject identifiers minted by another process.
	GUID uuid.UUID

	// Program is the initialized program to execute.
	Program *Program

	// OnError receives fatal runtime errors. Optional.
	OnError ErrorFunc

	// OnLog receives observable dispatcher events. Optional.
	OnLog LogFunc

	// Clock is the time source used for bookkeeping such as machine
	// creation times. Defaults to the system clock.
	Clock clock.Clock
}

// Process owns a program's machine instances and drives their execution.
type Process struct {
	guid    uuid.UUID
	program *Program
	onError ErrorFunc
	onLog   LogFunc
	clk     clock.Clock

	// mu protects the machines table, the scheduler cursor, and the
	// scheduling policy record. It is never held while a machine lock is
	// being acquired.
	mu           sync.Mutex
	machines     []*Machine
	machineCount uint32
	cursor       int

	policy SchedulingPolicy
	coop   *coopScheduler

	// terminating flips once, on Stop or on the first fatal error, and
	// is observed at dispatch boundaries and at wait-for-work.
	terminating atomic.Bool

	stopOnce sync.Once
}

// StartProcess creates a process executing the given program. The program
// must already have been initialized.
func StartProcess(cfg Config) (*Process, error) {
	if cfg.Program == nil {
		return nil, fmt.Errorf("pruntime: config has no program")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	p := &Process{
		guid:    cfg.GUID,
		program: cfg.Program,
		onError: cfg.OnError,
		onLog:   cfg.OnLog,
		clk:     cfg.Clock,
		policy:  PolicyTaskNeutral,
	}

	log.Infof("process %v: started with %d machine decls, %d events",
		p.guid, len(cfg.Program.Machines), len(cfg.Program.Events))

	return p, nil
}

// GUID returns the process identifier.
func (p *Process) GUID() uuid.UUID {
	return p.guid
}

// Program returns the program the process executes.
func (p *Process) Program() *Program {
	return p.program
}

// fatal surfaces a fatal runtime error: it is counted, logged with a stack
// trace, reported through the error callback, and flips the process to
// terminating. The error is returned for callers that propagate it.
func (p *Process) fatal(err *RuntimeError) error {
	fatalErrors.WithLabelValues(err.Kind.String()).Inc()

	log.Errorf("process %v: %v\n%s", p.guid, err,
		goerrors.Wrap(err, 1).ErrorStack())

	if p.onError != nil {
		p.onError(err)
	}
	p.terminating.Store(true)

	return err
}

// MkMachine creates a machine instance from a symbolic machine name.
// Arguments follow the clone/move convention; the payload of a
// multi-argument creation is packed using the payload type of the initial
// state's entry function. The new machine is runnable; its entry function
// runs with the payload on first dispatch.
func (p *Process) MkMachine(symbolicName uint32,
	args ...pvalue.Arg) (*Machine, error) {

	if symbolicName >= uint32(len(p.program.MachineDefMap)) {
		return nil, p.fatal(&RuntimeError{
			Kind: InvalidProgramTable,
			Detail: fmt.Sprintf("symbolic machine name %d out "+
				"of range", symbolicName),
		})
	}
	instanceOf := p.program.MachineDefMap[symbolicName]

	payload, err := p.collectPayload(
		p.entryPayloadType(instanceOf), MachineState{}, args,
	)
	if err != nil {
		return nil, err
	}

	return p.mkMachine(symbolicName, instanceOf, payload), nil
}

// MkSymbolicMachine creates a machine on behalf of creator, resolving the
// child's symbolic name through the link map relative to the creator's own
// symbolic name.
func (p *Process) MkSymbolicMachine(creator *Machine, iorM uint32,
	args ...pvalue.Arg) (*Machine, error) {

	row := creator.symbolicName
	if row >= uint32(len(p.program.LinkMap)) ||
		iorM >= uint32(len(p.program.LinkMap[row])) {

		return nil, p.fatal(&RuntimeError{
			Kind:    InvalidProgramTable,
			Machine: creator.State(),
			Detail: fmt.Sprintf("link map has no entry [%d][%d]",
				row, iorM),
		})
	}

	symbolicName := p.program.LinkMap[row][iorM]
	instanceOf := p.program.MachineDefMap[symbolicName]

	payload, err := p.collectPayload(
		p.entryPayloadType(instanceOf), creator.State(), args,
	)
	if err != nil {
		return nil, err
	}

	return p.mkMachine(symbolicName, instanceOf, payload), nil
}

// entryPayloadType returns the payload type of the initial state's entry
// function of the given machine declaration, used to pack multi-argument
// creation payloads.
func (p *Process) entryPayloadType(instanceOf uint32) *pvalue.Type {
	decl := p.program.Machines[instanceOf]
	entry := decl.States[decl.InitStateIndex].EntryFun
	if entry == nil {
		return nil
	}
	return entry.PayloadType
}

// collectPayload gathers a tagged argument list into a payload, mapping
// intake failures onto fatal runtime errors.
func (p *Process) collectPayload(payloadType *pvalue.Type,
	sender MachineState, args []pvalue.Arg) (*pvalue.Value, error) {

	payload, err := pvalue.CollectArgs(payloadType, args)
	if err == nil {
		return payload, nil
	}

	kind := InvalidProgramTable
	if err == pvalue.ErrSwapParam {
		kind = IllegalParamStatus
	}
	return nil, p.fatal(&RuntimeError{
		Kind:    kind,
		Machine: sender,
		Detail:  err.Error(),
	})
}

// mkMachine allocates the instance, assigns it the next 1-based machine
// id, and marks it runnable. It takes ownership of the payload, which
// becomes the trigger of the initial entry function.
func (p *Process) mkMachine(symbolicName, instanceOf uint32,
	payload *pvalue.Value) *Machine {

	decl := p.program.Machines[instanceOf]

	m := &Machine{
		process:      p,
		symbolicName: symbolicName,
		instanceOf:   instanceOf,
		decl:         decl,
		createdAt:    p.clk.Now(),
		status:       StatusRunnable,
		currentState: decl.InitStateIndex,
		vars:         pvalue.MkDefault(decl.localsType()),
		queue: newEventQueue(
			decl.MaxQueueSize, len(p.program.Events),
		),
		trigEvent:   nullEvent,
		trigPayload: payload,
		op:          opEnter,
	}

	p.mu.Lock()
	p.machineCount++
	m.id = p.machineCount
	p.machines = append(p.machines, m)
	p.mu.Unlock()

	machinesCreated.Inc()
	log.Debugf("process %v: created machine %v(%d), symbolic name %d",
		p.guid, decl.Name, m.id, symbolicName)

	// The fresh machine has its entry function to run, so cooperative
	// workers have work.
	p.signalWork()

	return m
}

// GetMachine resolves a machine-id value into the instance it names. The
// value must be of machine kind, carry this process's GUID, and hold an id
// in range; anything else is fatal.
func (p *Process) GetMachine(id *pvalue.Value) (*Machine, error) {
	if id.Kind() != pvalue.KindMachine {
		return nil, p.fatal(&RuntimeError{
			Kind: InvalidMachineID,
			Detail: fmt.Sprintf("value of kind %v is not a "+
				"machine id", id.Kind()),
		})
	}

	mid := id.Machine()
	if mid.ProcessGUID != p.guid {
		return nil, p.fatal(&RuntimeError{
			Kind: InvalidMachineID,
			Detail: fmt.Sprintf("machine id %d belongs to "+
				"process %v, not %v", mid.ID,
				mid.ProcessGUID, p.guid),
		})
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if mid.ID == 0 || mid.ID > p.machineCount {
		return nil, p.fatal(&RuntimeError{
			Kind: InvalidMachineID,
			Detail: fmt.Sprintf("machine id %d out of range "+
				"1..%d", mid.ID, p.machineCount),
		})
	}

	return p.machines[mid.ID-1], nil
}

// MachineByID returns the instance with the given 1-based id, or None if
// no such machine exists. Unlike GetMachine, a miss is not fatal.
func (p *Process) MachineByID(id uint32) fn.Option[*Machine] {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id == 0 || id > p.machineCount {
		return fn.None[*Machine]()
	}
	return fn.Some(p.machines[id-1])
}

// NumMachines returns the number of machine instances created so far.
func (p *Process) NumMachines() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.machineCount
}

// Send sends an event to the receiver on behalf of sender, which is a
// read-only snapshot of the sending machine (or the zero snapshot for
// host-originated sends). The event value is borrowed; arguments follow
// the clone/move convention and multi-argument payloads are packed using
// the event's declared payload type.
func (p *Process) Send(sender MachineState, receiver *Machine,
	event *pvalue.Value, args ...pvalue.Arg) error {

	return p.sendFrom(sender, receiver, event, args)
}

// sendFrom implements Send for both the host surface and the context
// surface.
func (p *Process) sendFrom(sender MachineState, receiver *Machine,
	event *pvalue.Value, args []pvalue.Arg) error {

	if event.Kind() != pvalue.KindEvent {
		return p.fatal(&RuntimeError{
			Kind:    InvalidProgramTable,
			Machine: sender,
			Detail: fmt.Sprintf("send requires an event value, "+
				"got %v", event.Kind()),
		})
	}
	ev := event.Event()
	if ev >= uint32(len(p.program.Events)) {
		return p.fatal(&RuntimeError{
			Kind:    InvalidProgramTable,
			Machine: sender,
			Detail: fmt.Sprintf("event index %d out of range",
				ev),
		})
	}

	payload, err := p.collectPayload(
		p.program.Events[ev].PayloadType, sender, args,
	)
	if err != nil {
		return err
	}

	return receiver.enqueue(sender, ev, payload)
}

// Stop terminates the process: it flips the terminating flag, unparks
// every cooperative worker, waits for them to report stopped, then tears
// down all instances. Stop is idempotent; a second call is a no-op.
func (p *Process) Stop() {
	p.stopOnce.Do(p.doStop)
}

func (p *Process) doStop() {
	log.Infof("process %v: stopping", p.guid)

	p.terminating.Store(true)

	p.mu.Lock()
	coop := p.coop
	var waiters int
	if p.policy == PolicyCooperative && coop != nil {
		waiters = coop.threadsWaiting
		for i := 0; i < waiters; i++ {
			coop.release()
		}
	}
	p.coop = nil
	p.mu.Unlock()

	if waiters > 0 {
		<-coop.allStopped
	}

	p.mu.Lock()
	machines := append([]*Machine(nil), p.machines...)
	p.mu.Unlock()

	for _, m := range machines {
		m.mtx.Lock()
		m.releaseLocked()
		m.mtx.Unlock()
	}

	log.Infof("process %v: stopped", p.guid)
}
