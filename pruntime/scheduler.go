package pruntime

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// SchedulingPolicy selects how machine execution is driven.
type SchedulingPolicy uint8

const (
	// PolicyTaskNeutral means the host drives execution by calling Step;
	// the runtime owns no goroutines.
	PolicyTaskNeutral SchedulingPolicy = iota

	// PolicyCooperative means host goroutines enter Run and park on a
	// work-available semaphore whenever no machine is runnable.
	PolicyCooperative
)

// String returns the name of the policy.
func (s SchedulingPolicy) String() string {
	switch s {
	case PolicyTaskNeutral:
		return "task-neutral"
	case PolicyCooperative:
		return "cooperative"
	default:
		return fmt.Sprintf("SchedulingPolicy(%d)", uint8(s))
	}
}

// StepResult is the outcome of a single scheduling step.
type StepResult uint8

const (
	// StepMore means more runnable work exists.
	StepMore StepResult = iota

	// StepIdle means no machine is currently runnable.
	StepIdle

	// StepTerminating means the process has been stopped.
	StepTerminating
)

// String returns the name of the step result.
func (r StepResult) String() string {
	switch r {
	case StepMore:
		return "MORE"
	case StepIdle:
		return "IDLE"
	case StepTerminating:
		return "TERMINATING"
	default:
		return fmt.Sprintf("StepResult(%d)", uint8(r))
	}
}

// workPermits caps the buffered work-available semaphore. Releases past
// the cap are dropped, which is harmless: a parked worker re-scans every
// machine once it wakes.
const workPermits = 1<<15 - 1

// coopScheduler is the state of the cooperative policy: a counting
// semaphore workers park on, a signal that the last waiting worker has
// observed termination, and the count of parked workers. The count is
// guarded by the process lock.
type coopScheduler struct {
	workAvailable  chan struct{}
	allStopped     chan struct{}
	threadsWaiting int
}

func newCoopScheduler() *coopScheduler {
	return &coopScheduler{
		workAvailable: make(chan struct{}, workPermits),
		allStopped:    make(chan struct{}, 1),
	}
}

// release adds one permit to the work-available semaphore.
func (c *coopScheduler) release() {
	select {
	case c.workAvailable <- struct{}{}:
	default:
	}
}

// SetSchedulingPolicy switches the process between the two scheduling
// policies. Switching destroys any cooperative state. A value outside the
// two policies is fatal.
func (p *Process) SetSchedulingPolicy(policy SchedulingPolicy) error {
	if policy != PolicyTaskNeutral && policy != PolicyCooperative {
		return p.fatal(&RuntimeError{
			Kind:   InvalidPolicy,
			Detail: fmt.Sprintf("unknown policy %d", policy),
		})
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.policy == policy {
		return nil
	}
	p.policy = policy

	if policy == PolicyCooperative {
		p.coop = newCoopScheduler()
	} else {
		p.coop = nil
	}

	log.Debugf("process %v: scheduling policy set to %v", p.guid, policy)

	return nil
}

// signalWork releases one cooperative work permit. Sends that make a
// machine newly runnable call it so that exactly one parked worker wakes.
// Under the task-neutral policy it is a no-op.
func (p *Process) signalWork() {
	p.mu.Lock()
	coop := p.coop
	p.mu.Unlock()

	if coop != nil {
		coop.release()
	}
}

// Step picks a runnable machine and advances it once under that machine's
// lock. The cursor round-robins over the dense machines table so that no
// individual machine is starved. Step is the whole scheduling surface of
// the task-neutral policy; the host drives the loop.
func (p *Process) Step() StepResult {
	res := p.step()
	stepsTotal.WithLabelValues(res.String()).Inc()
	return res
}

func (p *Process) step() StepResult {
	if p.terminating.Load() {
		return StepTerminating
	}

	p.mu.Lock()
	machines := append([]*Machine(nil), p.machines...)
	start := p.cursor
	p.cursor++
	p.mu.Unlock()

	n := len(machines)
	if n == 0 {
		return StepIdle
	}

	for i := 0; i < n; i++ {
		m := machines[(start+i)%n]
		if !p.advance(m) {
			continue
		}

		if p.terminating.Load() {
			return StepTerminating
		}

		// Machines created during the advance count as well.
		p.mu.Lock()
		all := append([]*Machine(nil), p.machines...)
		p.mu.Unlock()
		for _, other := range all {
			if other.Status() == StatusRunnable {
				return StepMore
			}
		}
		return StepIdle
	}

	return StepIdle
}

// Run is the cooperative worker entry point. It steps the process until
// termination, yielding between productive steps and parking on the
// work-available semaphore when idle. Multiple goroutines may run it
// concurrently.
func (p *Process) Run() {
	for {
		switch p.Step() {
		case StepTerminating:
			return

		case StepIdle:
			if p.waitForWork() {
				return
			}

		case StepMore:
			runtime.Gosched()
		}
	}
}

// RunWorkers runs n cooperative workers and blocks until all of them have
// exited, which happens once the process is stopped.
func (p *Process) RunWorkers(n int) {
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			p.Run()
			return nil
		})
	}
	_ = g.Wait()
}

// waitForWork parks the calling worker on the work-available semaphore
// until a send produces work or the process terminates. It returns true
// when the worker should exit. The last waiting worker to observe
// termination signals all-stopped.
func (p *Process) waitForWork() bool {
	if p.terminating.Load() {
		return true
	}

	p.mu.Lock()
	coop := p.coop
	if p.policy != PolicyCooperative || coop == nil {
		p.mu.Unlock()
		if p.terminating.Load() {
			return true
		}
		p.fatal(&RuntimeError{
			Kind: InvalidPolicy,
			Detail: "wait-for-work requires the cooperative " +
				"scheduling policy",
		})
		return true
	}
	coop.threadsWaiting++
	p.mu.Unlock()

	<-coop.workAvailable

	p.mu.Lock()
	coop.threadsWaiting--
	waiting := coop.threadsWaiting
	p.mu.Unlock()

	terminating := p.terminating.Load()
	if terminating && waiting == 0 {
		select {
		case coop.allStopped <- struct{}{}:
		default:
		}
	}

	return terminating
}
