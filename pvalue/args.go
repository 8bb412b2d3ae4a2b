package pvalue

import (
	"errors"
	"fmt"
)

var (
	// ErrSwapParam is returned when an argument is passed with the
	// reserved swap status. No operation accepts swapped arguments.
	ErrSwapParam = errors.New("pvalue: swap parameter status is not " +
		"supported")

	// ErrArityMismatch is returned when a multi-argument payload does
	// not match the arity of the declared payload tuple type.
	ErrArityMismatch = errors.New("pvalue: argument count does not " +
		"match payload tuple arity")
)

// ParamStatus states how an argument crosses an API boundary: by deep copy,
// or by transferring ownership out of the caller's slot.
type ParamStatus uint8

const (
	// ParamClone passes the argument by deep copy. The caller retains
	// ownership of the original.
	ParamClone ParamStatus = iota

	// ParamMove transfers ownership of the argument to the callee and
	// nulls the caller's slot.
	ParamMove

	// ParamSwap is reserved. Every operation rejects it.
	ParamSwap
)

// Arg is a single tagged argument. Build args with ByClone and ByMove.
type Arg struct {
	// Status states how the argument is passed.
	Status ParamStatus

	value *Value
	slot  **Value
}

// ByClone passes v by deep copy.
func ByClone(v *Value) Arg {
	return Arg{Status: ParamClone, value: v}
}

// ByMove transfers ownership of the value in *slot to the callee. The slot
// is nulled once the argument is collected.
func ByMove(slot **Value) Arg {
	return Arg{Status: ParamMove, slot: slot}
}

// CollectArgs gathers a tagged argument list into a single payload value,
// owned by the caller of CollectArgs. Zero arguments yield a fresh null, a
// single argument becomes the payload directly, and multiple arguments are
// packed into a tuple of payloadType. Swap-status arguments are rejected;
// on any error, values collected so far are freed and moved slots stay
// nulled.
func CollectArgs(payloadType *Type, args []Arg) (*Value, error) {
	if len(args) == 0 {
		return MkNull(), nil
	}

	collected := make([]*Value, 0, len(args))
	fail := func(err error) (*Value, error) {
		for _, v := range collected {
			Free(v)
		}
		return nil, err
	}

	for i, arg := range args {
		switch arg.Status {
		case ParamClone:
			collected = append(collected, Clone(arg.value))

		case ParamMove:
			if arg.slot == nil {
				return fail(fmt.Errorf("pvalue: moved "+
					"argument %d has no source slot", i))
			}
			collected = append(collected, *arg.slot)
			*arg.slot = nil

		default:
			return fail(ErrSwapParam)
		}
	}

	if len(collected) == 1 {
		return collected[0], nil
	}

	if payloadType.NumFields() != len(collected) {
		return fail(ErrArityMismatch)
	}
	return MkTuple(payloadType, collected), nil
}
