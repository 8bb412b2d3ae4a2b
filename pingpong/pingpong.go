// Package pingpong is a small, complete program for the runtime: a client
// machine that spawns a server through the symbolic link map, plays one
// round of ping/pong with it, and halts. It doubles as an executable
// reference for how generated program tables are expected to wire events,
// states, variables and receive-free handler functions together.
package pingpong

import (
	"github.com/VimanyuAgg/P/pruntime"
	"github.com/VimanyuAgg/P/pvalue"
)

// Event declaration indices.
const (
	// EventPing asks the server for a reply. Its payload is the machine
	// id of the requester.
	EventPing uint32 = iota

	// EventPong is the server's reply. Its payload is the server's
	// round counter.
	EventPong
)

// Symbolic machine names.
const (
	// SymClient is the client's symbolic name; hosts create clients
	// directly under it.
	SymClient uint32 = iota

	// SymServer is the symbolic name the link map assigns to servers
	// created by a client.
	SymServer
)

// IorServer is the link-map slot a client uses to create its server.
const IorServer uint32 = 0

// Client state indices.
const (
	clientStarting uint32 = iota
	clientFinished
)

// Client variable slots.
const (
	clientVarServer = iota
)

// Server variable slots.
const (
	serverVarRounds = iota
)

// NewProgram builds and initializes the ping/pong program tables.
func NewProgram() (*pruntime.Program, error) {
	clientEntry := &pruntime.FunDecl{
		Name: "clientStart",
		Impl: clientStart,
	}
	clientDone := &pruntime.FunDecl{
		Name: "clientFinish",
		Impl: clientFinish,
	}
	serverServe := &pruntime.FunDecl{
		Name: "serverServe",
		Impl: serverServePing,
	}

	client := &pruntime.MachineDecl{
		Name:         "Client",
		MaxQueueSize: 8,
		Vars: []pruntime.VarDecl{{
			Name: "server",
			Type: pvalue.MkPrimitiveType(pvalue.TypeMachine),
		}},
		Funs: []*pruntime.FunDecl{clientEntry, clientDone},
		States: []pruntime.StateDecl{
			{
				Name:     "Starting",
				EntryFun: clientEntry,
				Transitions: []pruntime.TransDecl{{
					TriggerEvent:   EventPong,
					DestStateIndex: clientFinished,
				}},
			},
			{
				Name:     "Finished",
				EntryFun: clientDone,
			},
		},
	}

	server := &pruntime.MachineDecl{
		Name:         "Server",
		MaxQueueSize: 8,
		Vars: []pruntime.VarDecl{{
			Name: "rounds",
			Type: pvalue.MkPrimitiveType(pvalue.TypeInt),
		}},
		Funs: []*pruntime.FunDecl{serverServe},
		States: []pruntime.StateDecl{{
			Name: "Serving",
			Dos: []pruntime.DoDecl{{
				TriggerEvent: EventPing,
				Fun:          serverServe,
			}},
		}},
	}

	prog := &pruntime.Program{
		Events: []*pruntime.EventDecl{
			{
				Name: "PING",
				PayloadType: pvalue.MkPrimitiveType(
					pvalue.TypeMachine,
				),
			},
			{
				Name: "PONG",
				PayloadType: pvalue.MkPrimitiveType(
					pvalue.TypeInt,
				),
			},
		},
		Machines:      []*pruntime.MachineDecl{client, server},
		MachineDefMap: []uint32{0, 1},
		LinkMap: [][]uint32{
			// A client's IorServer slot resolves to SymServer.
			{SymServer},
		},
	}

	if err := pruntime.Initialize(prog); err != nil {
		return nil, err
	}
	return prog, nil
}

// clientStart spawns the server through the link map, remembers its id,
// and sends it a ping carrying our own machine id.
func clientStart(ctx *pruntime.Context) *pvalue.Value {
	serverID, err := ctx.NewMachine(IorServer)
	if err != nil {
		return nil
	}
	ctx.SetVar(clientVarServer, serverID)

	self := ctx.Self()
	defer pvalue.Free(self)

	ping := pvalue.MkEvent(EventPing)
	defer pvalue.Free(ping)

	_ = ctx.Send(ctx.Var(clientVarServer), ping, pvalue.ByClone(self))

	return nil
}

// clientFinish runs on entry of Finished, once the pong has arrived, and
// halts the client.
func clientFinish(ctx *pruntime.Context) *pvalue.Value {
	return ctx.Halt()
}

// serverServePing counts the round and replies to the machine named in the
// ping payload.
func serverServePing(ctx *pruntime.Context) *pvalue.Value {
	rounds := ctx.Var(serverVarRounds).Int() + 1
	ctx.SetVar(serverVarRounds, pvalue.MkInt(rounds))

	pong := pvalue.MkEvent(EventPong)
	defer pvalue.Free(pong)

	reply := pvalue.MkInt(rounds)
	_ = ctx.Send(ctx.TriggerPayload(), pong, pvalue.ByMove(&reply))

	return nil
}
