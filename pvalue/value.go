// Package pvalue implements the dynamic value system consumed by the
// execution core. Values are acyclic trees with explicit ownership: every
// value held inside a container (an event queue slot, a locals frame, a
// tuple element) is exclusively owned by that container. Transferring a
// value nulls the source slot; sharing requires an explicit deep Clone.
package pvalue

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind discriminates the representation of a Value.
type Kind uint8

const (
	// KindNull is the null value.
	KindNull Kind = iota

	// KindBool is a boolean value.
	KindBool

	// KindInt is a signed integer value.
	KindInt

	// KindFloat is a floating point value.
	KindFloat

	// KindString is a string value.
	KindString

	// KindEvent is a first-class reference to an event declaration,
	// carried as the event's dense declaration index.
	KindEvent

	// KindMachine is a machine identifier.
	KindMachine

	// KindTuple is a fixed-arity tuple of heterogeneous values.
	KindTuple

	// KindForeign is an opaque value managed through the hooks of its
	// foreign type declaration.
	KindForeign
)

// String returns a short human readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindEvent:
		return "event"
	case KindMachine:
		return "machine"
	case KindTuple:
		return "tuple"
	case KindForeign:
		return "foreign"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// MachineID identifies a machine instance within a process. IDs are dense
// and 1-based; the zero ID never names a machine.
type MachineID struct {
	// ProcessGUID is the GUID of the owning process.
	ProcessGUID uuid.UUID

	// ID is the 1-based index of the machine within its process.
	ID uint32
}

// Value is a dynamically typed value. The zero Value is not meaningful;
// values are built with the Mk constructors.
type Value struct {
	kind Kind

	b   bool
	i   int64
	f   float64
	s   string
	ev  uint32
	mid MachineID

	// tup holds the elements of a tuple value, each exclusively owned by
	// this value. typ records the tuple's declared type.
	tup []*Value
	typ *Type

	// foreign holds opaque host data together with the declaration whose
	// hooks manage it.
	foreign     any
	foreignDecl *ForeignTypeDecl
}

// Kind returns the discriminator of the value. A nil value is null.
func (v *Value) Kind() Kind {
	if v == nil {
		return KindNull
	}
	return v.kind
}

// MkNull returns a fresh null value.
func MkNull() *Value {
	return &Value{kind: KindNull}
}

// MkBool returns a fresh boolean value.
func MkBool(b bool) *Value {
	return &Value{kind: KindBool, b: b}
}

// MkInt returns a fresh integer value.
func MkInt(i int64) *Value {
	return &Value{kind: KindInt, i: i}
}

// MkFloat returns a fresh float value.
func MkFloat(f float64) *Value {
	return &Value{kind: KindFloat, f: f}
}

// MkString returns a fresh string value.
func MkString(s string) *Value {
	return &Value{kind: KindString, s: s}
}

// MkEvent returns a fresh event reference for the given event declaration
// index.
func MkEvent(declIndex uint32) *Value {
	return &Value{kind: KindEvent, ev: declIndex}
}

// MkMachine returns a fresh machine identifier value.
func MkMachine(id MachineID) *Value {
	return &Value{kind: KindMachine, mid: id}
}

// MkForeign returns a fresh foreign value wrapping data managed by the
// given declaration. The value takes ownership of data.
func MkForeign(decl *ForeignTypeDecl, data any) *Value {
	return &Value{kind: KindForeign, foreign: data, foreignDecl: decl}
}

// MkTuple packs the given elements into a tuple of the given type, taking
// ownership of every element. The element count must match the type arity.
func MkTuple(typ *Type, elems []*Value) *Value {
	if typ == nil || typ.Kind != TypeTuple {
		panic("pvalue: MkTuple requires a tuple type")
	}
	if len(elems) != len(typ.FieldTypes) {
		panic(fmt.Sprintf("pvalue: tuple arity mismatch: %d elements "+
			"for %d fields", len(elems), len(typ.FieldTypes)))
	}

	tup := make([]*Value, len(elems))
	copy(tup, elems)
	return &Value{kind: KindTuple, tup: tup, typ: typ}
}

// MkDefault returns the default value of the given type: null for null/any,
// zero for scalars, and a tuple of recursive defaults for tuple types.
func MkDefault(typ *Type) *Value {
	if typ == nil {
		return MkNull()
	}
	switch typ.Kind {
	case TypeBool:
		return MkBool(false)
	case TypeInt:
		return MkInt(0)
	case TypeFloat:
		return MkFloat(0)
	case TypeString:
		return MkString("")
	case TypeEvent:
		return MkEvent(0)
	case TypeMachine:
		return MkMachine(MachineID{})
	case TypeTuple:
		elems := make([]*Value, len(typ.FieldTypes))
		for i, ft := range typ.FieldTypes {
			elems[i] = MkDefault(ft)
		}
		return MkTuple(typ, elems)
	default:
		return MkNull()
	}
}

// Bool returns the boolean payload.
func (v *Value) Bool() bool { return v.b }

// Int returns the integer payload.
func (v *Value) Int() int64 { return v.i }

// Float returns the float payload.
func (v *Value) Float() float64 { return v.f }

// Str returns the string payload.
func (v *Value) Str() string { return v.s }

// Event returns the event declaration index of an event value.
func (v *Value) Event() uint32 { return v.ev }

// Machine returns the machine identifier of a machine value.
func (v *Value) Machine() MachineID { return v.mid }

// Foreign returns the opaque payload of a foreign value. The caller
// borrows the data; ownership stays with the value.
func (v *Value) Foreign() any { return v.foreign }

// NumElems returns the arity of a tuple value, and zero otherwise.
func (v *Value) NumElems() int {
	if v == nil || v.kind != KindTuple {
		return 0
	}
	return len(v.tup)
}

// TupleGet borrows the i'th element of a tuple value. Ownership stays with
// the tuple.
func (v *Value) TupleGet(i int) *Value {
	if v.kind != KindTuple {
		panic("pvalue: TupleGet on non-tuple value")
	}
	return v.tup[i]
}

// TupleSet stores elem into the i'th slot of a tuple value, taking
// ownership of elem and freeing the previous occupant.
func (v *Value) TupleSet(i int, elem *Value) {
	if v.kind != KindTuple {
		panic("pvalue: TupleSet on non-tuple value")
	}
	Free(v.tup[i])
	v.tup[i] = elem
}

// Clone deep copies a value. Cloning a nil value yields a fresh null.
func Clone(v *Value) *Value {
	if v == nil {
		return MkNull()
	}
	switch v.kind {
	case KindTuple:
		elems := make([]*Value, len(v.tup))
		for i, e := range v.tup {
			elems[i] = Clone(e)
		}
		return &Value{kind: KindTuple, tup: elems, typ: v.typ}

	case KindForeign:
		var data any
		if v.foreignDecl != nil && v.foreignDecl.CloneFn != nil {
			data = v.foreignDecl.CloneFn(v.foreign)
		} else {
			data = v.foreign
		}
		return MkForeign(v.foreignDecl, data)

	default:
		clone := *v
		return &clone
	}
}

// Free releases a value and everything it owns. Freeing nil is a no-op.
// After Free the value must not be used again.
func Free(v *Value) {
	if v == nil {
		return
	}
	switch v.kind {
	case KindTuple:
		for i, e := range v.tup {
			Free(e)
			v.tup[i] = nil
		}
		v.tup = nil

	case KindForeign:
		if v.foreignDecl != nil && v.foreignDecl.FreeFn != nil {
			v.foreignDecl.FreeFn(v.foreign)
		}
		v.foreign = nil
	}
}

// Equal reports structural equality of two values. Foreign values compare
// by identity of their opaque payload.
func Equal(a, b *Value) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch a.Kind() {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindInt:
		return a.i == b.i
	case KindFloat:
		return a.f == b.f
	case KindString:
		return a.s == b.s
	case KindEvent:
		return a.ev == b.ev
	case KindMachine:
		return a.mid == b.mid
	case KindTuple:
		if len(a.tup) != len(b.tup) {
			return false
		}
		for i := range a.tup {
			if !Equal(a.tup[i], b.tup[i]) {
				return false
			}
		}
		return true
	case KindForeign:
		return a.foreign == b.foreign
	default:
		return false
	}
}

// String renders the value for logs and test failures.
func (v *Value) String() string {
	switch v.Kind() {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%v", v.b)
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindEvent:
		return fmt.Sprintf("event(%d)", v.ev)
	case KindMachine:
		return fmt.Sprintf("machine(%d)", v.mid.ID)
	case KindTuple:
		var b strings.Builder
		b.WriteString("(")
		for i, e := range v.tup {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(e.String())
		}
		b.WriteString(")")
		return b.String()
	case KindForeign:
		name := "?"
		if v.foreignDecl != nil {
			name = v.foreignDecl.Name
		}
		return fmt.Sprintf("foreign(%s)", name)
	default:
		return fmt.Sprintf("value(kind=%d)", uint8(v.kind))
	}
}
