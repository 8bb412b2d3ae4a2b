package pruntime

import (
	"testing"
	"time"

	"github.com/VimanyuAgg/P/pvalue"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/stretchr/testify/require"
)

// waitTimeout bounds every blocking wait in the scheduler tests.
const waitTimeout = 5 * time.Second

// Step reports MORE while runnable work remains and IDLE once every
// machine is blocked; a stopped process reports TERMINATING.
func TestStepResults(t *testing.T) {
	t.Parallel()

	prog := singleMachineProgram(1, &MachineDecl{
		Name:         "M",
		MaxQueueSize: 4,
		States:       []StateDecl{{Name: "S0"}},
	})

	h := newHarness(t, prog)

	_, err := h.proc.MkMachine(0)
	require.NoError(t, err)
	_, err = h.proc.MkMachine(0)
	require.NoError(t, err)

	require.Equal(t, StepMore, h.proc.Step())
	require.Equal(t, StepIdle, h.proc.Step())
	require.Equal(t, StepIdle, h.proc.Step())

	h.proc.Stop()
	require.Equal(t, StepTerminating, h.proc.Step())
}

// Only the two defined policies are accepted.
func TestInvalidPolicyRejected(t *testing.T) {
	t.Parallel()

	prog := singleMachineProgram(1, &MachineDecl{
		Name:         "M",
		MaxQueueSize: 4,
		States:       []StateDecl{{Name: "S0"}},
	})

	h := newHarness(t, prog)

	err := h.proc.SetSchedulingPolicy(SchedulingPolicy(9))
	require.Error(t, err)
	h.requireErrorKind(InvalidPolicy)
}

// Switching from cooperative back to task-neutral destroys the
// cooperative scheduler state.
func TestPolicySwitchDestroysCoopState(t *testing.T) {
	t.Parallel()

	prog := singleMachineProgram(1, &MachineDecl{
		Name:         "M",
		MaxQueueSize: 4,
		States:       []StateDecl{{Name: "S0"}},
	})

	h := newHarness(t, prog)

	require.NoError(t, h.proc.SetSchedulingPolicy(PolicyCooperative))
	require.NoError(t, h.proc.SetSchedulingPolicy(PolicyTaskNeutral))

	h.proc.mu.Lock()
	defer h.proc.mu.Unlock()
	require.Nil(t, h.proc.coop)
}

// Scenario: cooperative wake. Two workers drive a process with one
// machine; a send while the machine is blocked wakes a worker to process
// it, and Stop makes both workers exit within bounded time.
func TestCooperativeWake(t *testing.T) {
	t.Parallel()

	const evGo = 0

	// Handler invocations are collected through a concurrent queue since
	// they run on worker goroutines.
	handled := queue.NewConcurrentQueue(4)
	handled.Start()
	defer handled.Stop()

	onGo := &FunDecl{
		Name: "onGo",
		Impl: func(ctx *Context) *pvalue.Value {
			handled.ChanIn() <- ctx.TriggerEvent().UnwrapOr(99)
			return nil
		},
	}

	prog := singleMachineProgram(1, &MachineDecl{
		Name:         "Worker",
		MaxQueueSize: 4,
		States: []StateDecl{{
			Name: "S0",
			Dos:  []DoDecl{{TriggerEvent: evGo, Fun: onGo}},
		}},
	})

	h := newHarness(t, prog)

	require.NoError(t, h.proc.SetSchedulingPolicy(PolicyCooperative))

	m, err := h.proc.MkMachine(0)
	require.NoError(t, err)

	workerDone := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			h.proc.Run()
			workerDone <- struct{}{}
		}()
	}

	// Wait for the workers to drain the initial entry and park.
	require.Eventually(t, func() bool {
		return m.Status() == StatusBlocked
	}, waitTimeout, time.Millisecond)

	// An external send must wake a parked worker to run the handler.
	require.NoError(t, h.send(m, evGo))

	select {
	case got := <-handled.ChanOut():
		require.EqualValues(t, evGo, got)
	case <-time.After(waitTimeout):
		t.Fatal("handler did not run after send")
	}

	// Both workers exit once the process stops.
	h.proc.Stop()
	for i := 0; i < 2; i++ {
		select {
		case <-workerDone:
		case <-time.After(waitTimeout):
			t.Fatal("worker did not exit after stop")
		}
	}

	h.requireNoErrors()
}

// RunWorkers blocks until the process is stopped.
func TestRunWorkers(t *testing.T) {
	t.Parallel()

	const evGo = 0

	processed := queue.NewConcurrentQueue(4)
	processed.Start()
	defer processed.Stop()

	onGo := &FunDecl{
		Name: "onGo",
		Impl: func(ctx *Context) *pvalue.Value {
			processed.ChanIn() <- struct{}{}
			return nil
		},
	}

	prog := singleMachineProgram(1, &MachineDecl{
		Name:         "Worker",
		MaxQueueSize: 4,
		States: []StateDecl{{
			Name: "S0",
			Dos:  []DoDecl{{TriggerEvent: evGo, Fun: onGo}},
		}},
	})

	h := newHarness(t, prog)

	require.NoError(t, h.proc.SetSchedulingPolicy(PolicyCooperative))

	m, err := h.proc.MkMachine(0)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		h.proc.RunWorkers(3)
		close(done)
	}()

	require.NoError(t, h.send(m, evGo))

	select {
	case <-processed.ChanOut():
	case <-time.After(waitTimeout):
		t.Fatal("event was not processed")
	}

	h.proc.Stop()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("RunWorkers did not return after stop")
	}

	h.requireNoErrors()
}
