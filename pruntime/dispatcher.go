package pruntime

import (
	"github.com/davecgh/go-spew/spew"

	"github.com/VimanyuAgg/P/pvalue"
)

// dispatchOp is the dispatcher's resumption point for a machine. An
// advance is a loop over these operations; the machine records the next
// one so the scheduler can call advance again later without losing
// position.
type dispatchOp uint8

const (
	// opEnter runs the current state's entry function with the trigger
	// payload.
	opEnter dispatchOp = iota

	// opDrain examines the queue for the next deliverable event.
	opDrain

	// opExit runs the current state's exit function ahead of a pending
	// transition or pop.
	opExit

	// opAfterExit applies the pending transition bookkeeping once the
	// exit function has returned.
	opAfterExit

	// opTransFun runs the pending transition's function, if any.
	opTransFun

	// opEnterDest moves the machine to the pending destination state.
	opEnterDest

	// opReceiveScan looks for a queued event matching the machine's
	// active receive point.
	opReceiveScan

	// opResumeTop re-enters the function suspended at the top of the
	// call stack.
	opResumeTop
)

// advance drives one machine from its recorded resumption point until it
// becomes non-runnable: queue empty while not in receive, in receive with
// no matching queued event, halted, or the process is terminating. The
// machine's lock is held throughout, except while a function
// implementation runs. It reports whether the machine was advanced at
// all: a machine that was not runnable is left untouched.
func (p *Process) advance(m *Machine) bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.status != StatusRunnable {
		return false
	}
	m.status = StatusRunning

	for {
		if p.terminating.Load() {
			if m.status == StatusRunning {
				m.status = StatusRunnable
			}
			return true
		}

		switch m.op {
		case opEnter:
			st := m.stateDecl()
			p.notifyLog(LogEntry, m.snapshotLocked(), st.Name)
			if p.call(m, st.EntryFun, opDrain) == ctlHalt {
				return true
			}

		case opDrain:
			if !p.drainStep(m) {
				return true
			}

		case opExit:
			st := m.stateDecl()
			p.notifyLog(LogExit, m.snapshotLocked(), st.Name)
			if p.call(m, st.ExitFun, opAfterExit) == ctlHalt {
				return true
			}

		case opAfterExit:
			if m.pending.pop {
				top := len(m.stateStack) - 1
				if top < 0 {
					m.status = StatusRunnable
					p.fatal(&RuntimeError{
						Kind:    InvalidProgramTable,
						Machine: m.snapshotLocked(),
						Detail: "pop with an empty " +
							"state stack",
					})
					return true
				}
				m.currentState = m.stateStack[top]
				m.stateStack = m.stateStack[:top]
				m.pending = pendingTransition{}
				m.op = opDrain
				p.notifyLog(LogPop, m.snapshotLocked(), "")
			} else {
				m.op = opTransFun
			}

		case opTransFun:
			f := m.pending.fun
			m.pending.fun = nil
			if p.call(m, f, opEnterDest) == ctlHalt {
				return true
			}

		case opEnterDest:
			m.currentState = m.pending.dest
			m.pending = pendingTransition{}
			m.op = opEnter

		case opReceiveScan:
			if !p.receiveStep(m) {
				return true
			}

		case opResumeTop:
			if p.resumeTop(m) == ctlHalt {
				return true
			}
		}
	}
}

// drainStep examines the head of the queue, skipping deferred events, and
// routes the first deliverable event to its transition or do handler.
// Unhandled events pop the state stack; with an empty stack they are
// fatal. It returns false when the advance loop should stop.
func (p *Process) drainStep(m *Machine) bool {
	st := m.stateDecl()

	idx, ok := m.queue.firstNonDeferred(st.DefersSet)
	if !ok {
		m.status = StatusBlocked
		return false
	}
	if idx > 0 {
		eventsDeferred.Add(float64(idx))
	}

	ev := m.queue.entries[idx].event

	switch {
	case st.TransSet.Contains(ev):
		entry := m.queue.removeAt(idx)
		eventsDequeued.Inc()
		p.notifyLog(LogDequeue, m.snapshotLocked(),
			p.program.Events[ev].Name)
		m.setTrigger(entry.event, entry.payload)

		t := st.findTransition(ev)
		m.pending = pendingTransition{
			dest: t.DestStateIndex,
			fun:  t.TransFun,
		}
		if t.Push {
			m.stateStack = append(m.stateStack, m.currentState)
			p.notifyLog(LogPush, m.snapshotLocked(),
				m.decl.States[t.DestStateIndex].Name)
			m.op = opTransFun
		} else {
			m.op = opExit
		}

	case st.DoSet.Contains(ev):
		entry := m.queue.removeAt(idx)
		eventsDequeued.Inc()
		p.notifyLog(LogDequeue, m.snapshotLocked(),
			p.program.Events[ev].Name)
		m.setTrigger(entry.event, entry.payload)

		d := st.findDo(ev)
		return p.call(m, d.Fun, opDrain) != ctlHalt

	default:
		// The head event is unhandled here. If the machine has
		// pushed states to return to, exit the current state and
		// retry dispatch in the parent; the event keeps its queue
		// position. With no parent the program is broken.
		if len(m.stateStack) > 0 {
			m.pending = pendingTransition{pop: true}
			m.op = opExit
			return true
		}

		m.status = StatusRunnable
		p.fatal(&RuntimeError{
			Kind:    UnhandledEvent,
			Machine: m.snapshotLocked(),
			Detail: "event " + p.program.Events[ev].Name +
				" is not handled in state " + st.Name,
		})
		return false
	}

	return true
}

// receiveStep scans the queue for the first event in the active receive's
// case set, respecting the current state's defers. On a match the case
// handler runs and the suspended function is resumed afterwards; with no
// match the machine blocks in receive. It returns false when the advance
// loop should stop.
func (p *Process) receiveStep(m *Machine) bool {
	st := m.stateDecl()

	idx, ok := m.queue.firstMatching(m.receive.CaseSet, st.DefersSet)
	if !ok {
		m.status = StatusBlocked
		return false
	}

	entry := m.queue.removeAt(idx)
	eventsDequeued.Inc()
	p.notifyLog(LogDequeue, m.snapshotLocked(),
		p.program.Events[entry.event].Name)

	cs := m.receive.findCase(entry.event)
	m.receive = nil
	m.setTrigger(entry.event, entry.payload)

	return p.call(m, cs.Fun, opResumeTop) != ctlHalt
}

// call pushes a fresh frame for fun and runs it. A nil fun completes
// immediately: the machine proceeds straight to next.
func (p *Process) call(m *Machine, fun *FunDecl, next dispatchOp) ctlKind {
	if fun == nil {
		m.op = next
		return ctlNone
	}

	f := &frame{
		fun:    fun,
		locals: pvalue.MkDefault(fun.LocalsTupType),
		next:   next,
	}
	m.frames = append(m.frames, f)

	return p.runTop(m)
}

// resumeTop re-enters the function suspended at the top of the call stack.
func (p *Process) resumeTop(m *Machine) ctlKind {
	if len(m.frames) == 0 {
		// Nothing to resume; the suspended function has already
		// completed. Fall back to draining.
		m.op = opDrain
		return ctlNone
	}
	return p.runTop(m)
}

// runTop invokes the implementation of the top frame with the machine lock
// released, then applies the control-flow request the body raised, if any.
func (p *Process) runTop(m *Machine) ctlKind {
	f := m.frames[len(m.frames)-1]
	ctx := &Context{m: m, frame: f}
	m.ctl = ctlRequest{}

	log.Tracef("machine %v(%d): running fun %q (resume=%d)", m.decl.Name,
		m.id, f.fun.Name, f.resumeTo)

	m.mtx.Unlock()
	ret := f.fun.Impl(ctx)
	m.mtx.Lock()

	// Stop may have torn the machine down while the body ran; its frames
	// are gone and there is nothing left to apply.
	if m.status == StatusHalted {
		pvalue.Free(ret)
		return ctlHalt
	}

	switch m.ctl.kind {
	case ctlReceive:
		// Publish the receive point under the lock; senders may now
		// match against its case set.
		m.receive = m.ctl.receive
		m.ctl = ctlRequest{}
		m.op = opReceiveScan
		pvalue.Free(ret)
		return ctlReceive

	case ctlPop:
		m.ctl = ctlRequest{}
		m.popFrame()
		m.pending = pendingTransition{pop: true}
		m.op = opExit
		pvalue.Free(ret)
		return ctlPop

	case ctlHalt:
		m.ctl = ctlRequest{}
		pvalue.Free(ret)
		m.haltLocked()
		return ctlHalt

	default:
		pvalue.Free(m.lastReturn)
		m.lastReturn = ret
		next := f.next
		m.popFrame()
		m.op = next
		return ctlNone
	}
}

// popFrame removes and frees the top activation frame.
func (m *Machine) popFrame() {
	top := len(m.frames) - 1
	m.frames[top].free()
	m.frames[top] = nil
	m.frames = m.frames[:top]
}

// notifyLog reports an observable dispatcher event to the host log
// callback and to the package logger.
func (p *Process) notifyLog(kind LogKind, state MachineState, extra string) {
	log.Debugf("%v %v %s", kind, state, extra)

	if p.onLog != nil {
		p.onLog(kind, state, extra)
	}
}

// dumpPayload defers an expensive payload dump until the trace level is
// actually enabled.
func dumpPayload(v *pvalue.Value) logClosure {
	return newLogClosure(func() string {
		return spew.Sdump(v)
	})
}
