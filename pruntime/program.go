package pruntime

import (
	"fmt"

	"github.com/VimanyuAgg/P/pvalue"
)

// nullEvent is the internal trigger index used when a machine is between
// events, such as while running the entry function of its initial state.
// It never collides with a program event index.
const nullEvent = ^uint32(0)

// Fun is the implementation callback of a function declaration. The body is
// emitted by the code generator and calls back into the runtime through the
// context. A function that reaches a receive point records it via
// Context.Receive and returns; the runtime re-enters the same
// implementation once a matching event has been consumed, with
// Context.ResumePoint reporting where to pick up.
type Fun func(ctx *Context) *pvalue.Value

// EventSet is a set of event declaration indices packed into a bit vector.
// A nil set is empty.
type EventSet struct {
	words []uint32
}

// NewEventSet returns an empty set sized for a program with numEvents
// events.
func NewEventSet(numEvents int) *EventSet {
	return &EventSet{words: make([]uint32, (numEvents+31)/32)}
}

// NewEventSetOf returns a set containing exactly the given event indices.
func NewEventSetOf(numEvents int, events ...uint32) *EventSet {
	s := NewEventSet(numEvents)
	for _, ev := range events {
		s.Add(ev)
	}
	return s
}

// Add inserts an event index into the set.
func (s *EventSet) Add(event uint32) {
	s.words[event/32] |= 1 << (event % 32)
}

// Contains reports whether the set holds the given event index.
func (s *EventSet) Contains(event uint32) bool {
	if s == nil {
		return false
	}
	word := event / 32
	if word >= uint32(len(s.words)) {
		return false
	}
	return s.words[word]&(1<<(event%32)) != 0
}

// EventDecl declares an event.
type EventDecl struct {
	// DeclIndex is the dense index of the event within the program,
	// assigned by Initialize.
	DeclIndex uint32

	// Name is the event name.
	Name string

	// MaxInstances bounds how many unconsumed copies of this event may
	// coexist in any one queue. Zero means unbounded.
	MaxInstances uint32

	// PayloadType is the type of the event payload. Multi-argument sends
	// are packed into a tuple of this type.
	PayloadType *pvalue.Type
}

// VarDecl declares a machine-local variable.
type VarDecl struct {
	// Name is the variable name.
	Name string

	// Type is the variable type.
	Type *pvalue.Type
}

// CaseDecl binds one event of a receive's case set to its handler.
type CaseDecl struct {
	// TriggerEvent is the event index this case consumes.
	TriggerEvent uint32

	// Fun runs with the consumed event's payload as trigger.
	Fun *FunDecl
}

// ReceiveDecl describes one receive point within a function body.
type ReceiveDecl struct {
	// ReceiveIndex identifies the receive point within its function.
	ReceiveIndex uint16

	// CaseSet is the set of events the receive accepts.
	CaseSet *EventSet

	// Cases are the per-event handlers, one per member of CaseSet.
	Cases []CaseDecl
}

// FunDecl declares a function of a machine.
type FunDecl struct {
	// Name is the function name; empty for anonymous functions.
	Name string

	// Impl is the implementation callback.
	Impl Fun

	// NumParams is the declared parameter count.
	NumParams uint32

	// MaxNumLocals is the number of local slots including nested scopes.
	MaxNumLocals uint32

	// PayloadType is the parameter payload type of anonymous functions;
	// nil for named functions.
	PayloadType *pvalue.Type

	// LocalsTupType is the named-tuple type of the function's locals
	// frame, not including nested scopes.
	LocalsTupType *pvalue.Type

	// Receives are the receive points appearing in the body.
	Receives []*ReceiveDecl
}

// TransDecl declares a transition out of a state.
type TransDecl struct {
	// TriggerEvent is the event index that triggers the transition.
	TriggerEvent uint32

	// DestStateIndex is the destination state within the owner machine.
	DestStateIndex uint32

	// TransFun optionally runs between the source's exit and the
	// destination's entry, with the trigger payload.
	TransFun *FunDecl

	// Push marks a push transition: the source state is recorded on the
	// state stack, its exit function does not run, and a later pop
	// resumes it.
	Push bool
}

// DoDecl declares an in-place handler for an event within a state.
type DoDecl struct {
	// TriggerEvent is the event index the handler consumes.
	TriggerEvent uint32

	// Fun runs with the event payload; the machine stays in its state.
	Fun *FunDecl
}

// StateDecl declares a state of a machine.
type StateDecl struct {
	// Name is the state name.
	Name string

	// Transitions is the ordered transition set; on a trigger matched by
	// several entries the first in declaration order wins.
	Transitions []TransDecl

	// Dos is the ordered set of do handlers.
	Dos []DoDecl

	// DefersSet holds the events deferred while this state is current.
	DefersSet *EventSet

	// TransSet caches the transition triggers for fast membership tests.
	// Initialize derives it from Transitions when nil.
	TransSet *EventSet

	// DoSet caches the do triggers for fast membership tests. Initialize
	// derives it from Dos when nil.
	DoSet *EventSet

	// EntryFun optionally runs on entry, with the trigger payload.
	EntryFun *FunDecl

	// ExitFun optionally runs on exit. Exit functions never see events.
	ExitFun *FunDecl
}

// MachineDecl declares a machine.
type MachineDecl struct {
	// DeclIndex is the dense index of the machine within the program,
	// assigned by Initialize.
	DeclIndex uint32

	// Name is the machine name.
	Name string

	// Vars declares the machine-local variables.
	Vars []VarDecl

	// States is the state array; state indices index into it.
	States []StateDecl

	// Funs is the function table.
	Funs []*FunDecl

	// MaxQueueSize bounds the machine's event queue.
	MaxQueueSize uint32

	// InitStateIndex is the initial state.
	InitStateIndex uint32
}

// Program is the static description of a program: event and machine
// declarations plus the linking layer resolving symbolic names to concrete
// machines. A program is immutable after Initialize and shared read-only by
// every process that runs it.
type Program struct {
	// Events declares the program's events.
	Events []*EventDecl

	// Machines declares the program's machines.
	Machines []*MachineDecl

	// ForeignTypes declares the opaque externally defined types.
	ForeignTypes []*pvalue.ForeignTypeDecl

	// LinkMap resolves a symbolic child name relative to a symbolic
	// parent into a new symbolic name.
	LinkMap [][]uint32

	// MachineDefMap resolves a symbolic name to an index into Machines.
	MachineDefMap []uint32
}

// Initialize assigns dense declaration indices to the program's events,
// machines and foreign types, derives any trigger sets left nil, and
// validates the table shape. It must be called once before the program is
// handed to a process; a malformed table yields a RuntimeError of kind
// InvalidProgramTable.
func Initialize(p *Program) error {
	for i, ev := range p.Events {
		ev.DeclIndex = uint32(i)
	}
	for i, m := range p.Machines {
		m.DeclIndex = uint32(i)
	}
	for i, ft := range p.ForeignTypes {
		ft.DeclIndex = uint32(i)
	}

	numEvents := len(p.Events)
	bad := func(format string, args ...interface{}) error {
		return &RuntimeError{
			Kind:   InvalidProgramTable,
			Detail: fmt.Sprintf(format, args...),
		}
	}

	for _, m := range p.Machines {
		if len(m.States) == 0 {
			return bad("machine %q has no states", m.Name)
		}
		if m.InitStateIndex >= uint32(len(m.States)) {
			return bad("machine %q: init state %d out of range",
				m.Name, m.InitStateIndex)
		}
		if m.MaxQueueSize == 0 {
			return bad("machine %q: max queue size must be "+
				"positive", m.Name)
		}

		for si := range m.States {
			st := &m.States[si]
			if st.TransSet == nil {
				st.TransSet = NewEventSet(numEvents)
			}
			if st.DoSet == nil {
				st.DoSet = NewEventSet(numEvents)
			}
			for _, t := range st.Transitions {
				if t.TriggerEvent >= uint32(numEvents) {
					return bad("machine %q state %q: "+
						"transition trigger %d out "+
						"of range", m.Name, st.Name,
						t.TriggerEvent)
				}
				if t.DestStateIndex >= uint32(len(m.States)) {
					return bad("machine %q state %q: "+
						"transition dest %d out of "+
						"range", m.Name, st.Name,
						t.DestStateIndex)
				}
				st.TransSet.Add(t.TriggerEvent)
			}
			for _, d := range st.Dos {
				if d.TriggerEvent >= uint32(numEvents) {
					return bad("machine %q state %q: do "+
						"trigger %d out of range",
						m.Name, st.Name,
						d.TriggerEvent)
				}
				st.DoSet.Add(d.TriggerEvent)
			}
		}
	}

	for sym, def := range p.MachineDefMap {
		if def >= uint32(len(p.Machines)) {
			return bad("machine def map: symbolic name %d "+
				"resolves to machine %d, out of range", sym,
				def)
		}
	}
	for parent, row := range p.LinkMap {
		for child, sym := range row {
			if sym >= uint32(len(p.MachineDefMap)) {
				return bad("link map[%d][%d]: symbolic name "+
					"%d out of range", parent, child, sym)
			}
		}
	}

	return nil
}

// findTransition returns the first transition of the state triggered by the
// given event, in declaration order.
func (s *StateDecl) findTransition(event uint32) *TransDecl {
	for i := range s.Transitions {
		if s.Transitions[i].TriggerEvent == event {
			return &s.Transitions[i]
		}
	}
	return nil
}

// findDo returns the first do handler of the state triggered by the given
// event, in declaration order.
func (s *StateDecl) findDo(event uint32) *DoDecl {
	for i := range s.Dos {
		if s.Dos[i].TriggerEvent == event {
			return &s.Dos[i]
		}
	}
	return nil
}

// findCase returns the case handler of the receive for the given event.
func (r *ReceiveDecl) findCase(event uint32) *CaseDecl {
	for i := range r.Cases {
		if r.Cases[i].TriggerEvent == event {
			return &r.Cases[i]
		}
	}
	return nil
}

// localsType returns the named tuple type describing the machine's local
// variables.
func (m *MachineDecl) localsType() *pvalue.Type {
	names := make([]string, len(m.Vars))
	types := make([]*pvalue.Type, len(m.Vars))
	for i, v := range m.Vars {
		names[i] = v.Name
		types[i] = v.Type
	}
	return pvalue.MkTupleType(names, types)
}
