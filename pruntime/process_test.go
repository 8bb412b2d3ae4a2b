package pruntime

import (
	"testing"
	"time"

	"github.com/VimanyuAgg/P/pvalue"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

// Scenario: queue overflow. With a queue bound of two, the third send
// before any dispatch is fatal.
func TestQueueOverflow(t *testing.T) {
	t.Parallel()

	prog := singleMachineProgram(1, &MachineDecl{
		Name:         "Tiny",
		MaxQueueSize: 2,
		States: []StateDecl{{
			Name: "S0",
			Dos: []DoDecl{{
				TriggerEvent: 0,
				Fun:          &FunDecl{Name: "noop"},
			}},
		}},
	})

	h := newHarness(t, prog)

	m, err := h.proc.MkMachine(0)
	require.NoError(t, err)

	require.NoError(t, h.send(m, 0))
	require.NoError(t, h.send(m, 0))

	err = h.send(m, 0)
	require.Error(t, err)

	var rtErr *RuntimeError
	require.ErrorAs(t, err, &rtErr)
	require.Equal(t, QueueOverflow, rtErr.Kind)
	h.requireErrorKind(QueueOverflow)
}

// Exceeding an event's max-instances bound within one queue is fatal even
// when the queue itself has room.
func TestEventMaxInstancesExceeded(t *testing.T) {
	t.Parallel()

	prog := singleMachineProgram(1, &MachineDecl{
		Name:         "M",
		MaxQueueSize: 8,
		States:       []StateDecl{{Name: "S0"}},
	})
	prog.Events[0].MaxInstances = 1

	h := newHarness(t, prog)

	m, err := h.proc.MkMachine(0)
	require.NoError(t, err)

	require.NoError(t, h.send(m, 0))

	err = h.send(m, 0)
	require.Error(t, err)
	h.requireErrorKind(EventMaxInstancesExceeded)
}

// Sending to a machine that has halted is fatal.
func TestSendToHalted(t *testing.T) {
	t.Parallel()

	const evDie = 0

	prog := singleMachineProgram(1, &MachineDecl{
		Name:         "Mortal",
		MaxQueueSize: 4,
		States: []StateDecl{{
			Name: "S0",
			Dos: []DoDecl{{
				TriggerEvent: evDie,
				Fun: &FunDecl{
					Name: "die",
					Impl: func(ctx *Context) *pvalue.Value {
						return ctx.Halt()
					},
				},
			}},
		}},
	})

	h := newHarness(t, prog)

	m, err := h.proc.MkMachine(0)
	require.NoError(t, err)

	require.NoError(t, h.send(m, evDie))
	h.stepUntilIdle()

	require.Equal(t, StatusHalted, m.Status())
	require.Equal(t, 0, m.QueueLen())
	h.requireLogSubseq("DEQUEUE:evt0", "HALT:")

	err = h.send(m, evDie)
	require.Error(t, err)
	h.requireErrorKind(SendToHalted)
}

// Law: clone/move equivalence. For payloads without shared sub-values the
// receiver observes the same payload either way, and a move nulls the
// caller's slot.
func TestCloneMoveEquivalence(t *testing.T) {
	t.Parallel()

	const evData = 0

	var got []int64
	record := &FunDecl{
		Name: "record",
		Impl: func(ctx *Context) *pvalue.Value {
			got = append(got, ctx.TriggerPayload().Int())
			return nil
		},
	}

	prog := singleMachineProgram(1, &MachineDecl{
		Name:         "Sink",
		MaxQueueSize: 4,
		States: []StateDecl{{
			Name: "S0",
			Dos:  []DoDecl{{TriggerEvent: evData, Fun: record}},
		}},
	})

	h := newHarness(t, prog)

	m, err := h.proc.MkMachine(0)
	require.NoError(t, err)

	cloned := pvalue.MkInt(13)
	require.NoError(t, h.send(m, evData, pvalue.ByClone(cloned)))

	// The cloned original is still the caller's to use.
	require.EqualValues(t, 13, cloned.Int())
	pvalue.Free(cloned)

	moved := pvalue.MkInt(13)
	require.NoError(t, h.send(m, evData, pvalue.ByMove(&moved)))
	require.Nil(t, moved)

	h.stepUntilIdle()

	require.Equal(t, []int64{13, 13}, got)
	h.requireNoErrors()
}

// Scenario: symbolic linking. A parent machine's symbolic name and the
// link map together pick both the child's symbolic name and its concrete
// declaration.
func TestSymbolicLinking(t *testing.T) {
	t.Parallel()

	const (
		symParent = 0
		iorChild  = 1
		symChild  = 2
	)

	machines := make([]*MachineDecl, 6)
	for i := range machines {
		machines[i] = &MachineDecl{
			Name:         "M",
			MaxQueueSize: 4,
			States:       []StateDecl{{Name: "S0"}},
		}
	}
	machines[5].Name = "Child"

	prog := &Program{
		Events:   []*EventDecl{{Name: "evt0"}},
		Machines: machines,
		// Symbolic name 0 is the parent (machine 0), symbolic name
		// 2 resolves to machine 5.
		MachineDefMap: []uint32{0, 0, 5},
		LinkMap: [][]uint32{
			{0, symChild},
		},
	}

	h := newHarness(t, prog)

	parent, err := h.proc.MkMachine(symParent)
	require.NoError(t, err)

	child, err := h.proc.MkSymbolicMachine(parent, iorChild)
	require.NoError(t, err)

	require.EqualValues(t, 5, child.InstanceOf())
	require.EqualValues(t, symChild, child.SymbolicName())
	require.EqualValues(t, 2, child.ID())
	h.requireNoErrors()
}

// GetMachine requires a machine-kind value, a matching process GUID, and
// an id within 1..machineCount.
func TestGetMachine(t *testing.T) {
	t.Parallel()

	prog := singleMachineProgram(1, &MachineDecl{
		Name:         "M",
		MaxQueueSize: 4,
		States:       []StateDecl{{Name: "S0"}},
	})

	h := newHarness(t, prog)

	m, err := h.proc.MkMachine(0)
	require.NoError(t, err)

	idVal := m.Value()
	defer pvalue.Free(idVal)

	got, err := h.proc.GetMachine(idVal)
	require.NoError(t, err)
	require.Same(t, m, got)

	// Not a machine value.
	notID := pvalue.MkInt(1)
	defer pvalue.Free(notID)
	_, err = h.proc.GetMachine(notID)
	require.Error(t, err)

	// Identifier minted by another process.
	foreign := pvalue.MkMachine(pvalue.MachineID{
		ProcessGUID: uuid.New(),
		ID:          1,
	})
	defer pvalue.Free(foreign)
	_, err = h.proc.GetMachine(foreign)
	require.Error(t, err)

	// Out of bounds.
	stale := pvalue.MkMachine(pvalue.MachineID{
		ProcessGUID: h.proc.GUID(),
		ID:          2,
	})
	defer pvalue.Free(stale)
	_, err = h.proc.GetMachine(stale)
	require.Error(t, err)

	for _, e := range h.errors() {
		require.Equal(t, InvalidMachineID, e.Kind)
	}
	require.Len(t, h.errors(), 3)
}

// Law: idempotent termination. A second Stop is a no-op, and stepping a
// stopped process reports terminating.
func TestStopIdempotent(t *testing.T) {
	t.Parallel()

	prog := singleMachineProgram(1, &MachineDecl{
		Name:         "M",
		MaxQueueSize: 4,
		States:       []StateDecl{{Name: "S0"}},
	})

	h := newHarness(t, prog)

	_, err := h.proc.MkMachine(0)
	require.NoError(t, err)

	h.proc.Stop()
	h.proc.Stop()

	require.Equal(t, StepTerminating, h.proc.Step())
}

// Creation payloads reach the initial state's entry function, with
// multiple arguments packed by the entry function's payload type.
func TestCreationPayload(t *testing.T) {
	t.Parallel()

	payloadType := pvalue.MkTupleType(
		[]string{"id", "name"},
		[]*pvalue.Type{
			pvalue.MkPrimitiveType(pvalue.TypeInt),
			pvalue.MkPrimitiveType(pvalue.TypeString),
		},
	)

	var gotID int64
	var gotName string

	entryFun := &FunDecl{
		Name:        "init",
		NumParams:   2,
		PayloadType: payloadType,
		Impl: func(ctx *Context) *pvalue.Value {
			payload := ctx.TriggerPayload()
			gotID = payload.TupleGet(0).Int()
			gotName = payload.TupleGet(1).Str()
			return nil
		},
	}

	prog := singleMachineProgram(1, &MachineDecl{
		Name:         "M",
		MaxQueueSize: 4,
		States:       []StateDecl{{Name: "S0", EntryFun: entryFun}},
	})

	h := newHarness(t, prog)

	_, err := h.proc.MkMachine(0,
		pvalue.ByClone(pvalue.MkInt(9)),
		pvalue.ByClone(pvalue.MkString("nine")),
	)
	require.NoError(t, err)

	h.stepUntilIdle()

	require.EqualValues(t, 9, gotID)
	require.Equal(t, "nine", gotName)
	h.requireNoErrors()
}

// Machine creation times come from the process clock.
func TestMachineCreatedAtUsesClock(t *testing.T) {
	t.Parallel()

	prog := singleMachineProgram(1, &MachineDecl{
		Name:         "M",
		MaxQueueSize: 4,
		States:       []StateDecl{{Name: "S0"}},
	})
	require.NoError(t, Initialize(prog))

	now := time.Unix(42, 0)
	proc, err := StartProcess(Config{
		GUID:    uuid.New(),
		Program: prog,
		Clock:   clock.NewTestClock(now),
	})
	require.NoError(t, err)
	t.Cleanup(proc.Stop)

	m, err := proc.MkMachine(0)
	require.NoError(t, err)
	require.Equal(t, now, m.CreatedAt())
}

// Initialize rejects malformed program tables.
func TestInitializeValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		prog *Program
	}{
		{
			name: "no states",
			prog: singleMachineProgram(1, &MachineDecl{
				Name:         "M",
				MaxQueueSize: 4,
			}),
		},
		{
			name: "init state out of range",
			prog: singleMachineProgram(1, &MachineDecl{
				Name:           "M",
				MaxQueueSize:   4,
				InitStateIndex: 7,
				States:         []StateDecl{{Name: "S0"}},
			}),
		},
		{
			name: "zero queue bound",
			prog: singleMachineProgram(1, &MachineDecl{
				Name:   "M",
				States: []StateDecl{{Name: "S0"}},
			}),
		},
		{
			name: "transition trigger out of range",
			prog: singleMachineProgram(1, &MachineDecl{
				Name:         "M",
				MaxQueueSize: 4,
				States: []StateDecl{{
					Name: "S0",
					Transitions: []TransDecl{{
						TriggerEvent: 5,
					}},
				}},
			}),
		},
		{
			name: "def map out of range",
			prog: &Program{
				Events: []*EventDecl{{Name: "evt0"}},
				Machines: []*MachineDecl{{
					Name:         "M",
					MaxQueueSize: 4,
					States:       []StateDecl{{Name: "S0"}},
				}},
				MachineDefMap: []uint32{3},
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := Initialize(tc.prog)
			require.Error(t, err)

			var rtErr *RuntimeError
			require.ErrorAs(t, err, &rtErr)
			require.Equal(t, InvalidProgramTable, rtErr.Kind)
		})
	}
}
