package pruntime

import (
	"fmt"

	"github.com/VimanyuAgg/P/pvalue"
	"github.com/lightningnetwork/lnd/fn"
)

// Context is the execution context handed to function implementations. It
// carries the running machine and the function's activation frame, and is
// the only surface through which generated code touches the runtime.
//
// A Context is only valid for the duration of one implementation call; it
// must not be retained.
type Context struct {
	m     *Machine
	frame *frame
}

// ResumePoint reports where a re-entered implementation should pick up:
// zero on first entry, receiveIndex+1 once the receive with that index has
// been satisfied.
func (c *Context) ResumePoint() uint16 {
	return c.frame.resumeTo
}

// Local borrows the i'th slot of the function's locals tuple.
func (c *Context) Local(i int) *pvalue.Value {
	return c.frame.locals.TupleGet(i)
}

// SetLocal stores v into the i'th slot of the function's locals tuple,
// taking ownership of v and freeing the previous occupant.
func (c *Context) SetLocal(i int, v *pvalue.Value) {
	c.frame.locals.TupleSet(i, v)
}

// Var borrows the i'th machine variable.
func (c *Context) Var(i int) *pvalue.Value {
	return c.m.vars.TupleGet(i)
}

// SetVar stores v into the i'th machine variable, taking ownership of v
// and freeing the previous occupant.
func (c *Context) SetVar(i int, v *pvalue.Value) {
	c.m.vars.TupleSet(i, v)
}

// TriggerEvent returns the declaration index of the event that triggered
// the current handling, or None while the machine is between events (for
// example in the entry function of the initial state).
func (c *Context) TriggerEvent() fn.Option[uint32] {
	if c.m.trigEvent == nullEvent {
		return fn.None[uint32]()
	}
	return fn.Some(c.m.trigEvent)
}

// TriggerPayload borrows the payload of the machine's current trigger. The
// payload stays owned by the machine and is replaced at the next dequeue;
// implementations that need it longer must clone it.
func (c *Context) TriggerPayload() *pvalue.Value {
	return c.m.trigPayload
}

// TakeReturn takes ownership of the saved return value of the most
// recently completed function, or nil if there is none. Resumed functions
// use it to pick up what a receive case handler returned.
func (c *Context) TakeReturn() *pvalue.Value {
	ret := c.m.lastReturn
	c.m.lastReturn = nil
	return ret
}

// Self returns a fresh machine-id value naming the running machine. The
// caller owns the returned value.
func (c *Context) Self() *pvalue.Value {
	return c.m.Value()
}

// Process returns the owning process.
func (c *Context) Process() *Process {
	return c.m.process
}

// Receive parks the machine at the receive point with the given index
// within the current function. The implementation must return the result
// of Receive immediately; the runtime re-enters the same implementation
// once a matching event has been consumed, with ResumePoint reporting
// receiveIndex+1.
func (c *Context) Receive(receiveIndex uint16) *pvalue.Value {
	var decl *ReceiveDecl
	for _, r := range c.frame.fun.Receives {
		if r.ReceiveIndex == receiveIndex {
			decl = r
			break
		}
	}
	if decl == nil {
		panic(fmt.Sprintf("pruntime: function %q has no receive "+
			"point %d", c.frame.fun.Name, receiveIndex))
	}

	c.frame.resumeTo = receiveIndex + 1
	c.m.ctl = ctlRequest{kind: ctlReceive, receive: decl}

	return nil
}

// Pop requests a pop transition: the current state's exit function runs and
// the machine resumes dispatching in the state below it on the state
// stack. The implementation must return the result of Pop immediately.
func (c *Context) Pop() *pvalue.Value {
	c.m.ctl = ctlRequest{kind: ctlPop}
	return nil
}

// Halt halts the machine. The implementation must return the result of
// Halt immediately.
func (c *Context) Halt() *pvalue.Value {
	c.m.ctl = ctlRequest{kind: ctlHalt}
	return nil
}

// Send sends an event to the machine named by target, with the running
// machine recorded as the sender. Arguments follow the clone/move
// convention; multiple arguments are packed into a tuple of the event's
// declared payload type.
func (c *Context) Send(target, event *pvalue.Value,
	args ...pvalue.Arg) error {

	receiver, err := c.m.process.GetMachine(target)
	if err != nil {
		return err
	}

	return c.m.process.sendFrom(c.senderState(), receiver, event, args)
}

// NewMachine creates a machine from the running machine, resolving the
// child's symbolic name through the link map relative to the creator. It
// returns a machine-id value for the new instance, owned by the caller.
func (c *Context) NewMachine(iorM uint32,
	args ...pvalue.Arg) (*pvalue.Value, error) {

	child, err := c.m.process.MkSymbolicMachine(c.m, iorM, args...)
	if err != nil {
		return nil, err
	}
	return child.Value(), nil
}

// senderState snapshots the running machine for the send path. The machine
// lock is not held while an implementation runs, but the dispatcher owns
// the execution state, so reading it from the running goroutine is stable.
func (c *Context) senderState() MachineState {
	return c.m.snapshotLocked()
}
