package pvalue

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// testTupType returns a two-field tuple type used across the tests.
func testTupType() *Type {
	return MkTupleType(
		[]string{"count", "label"},
		[]*Type{MkPrimitiveType(TypeInt), MkPrimitiveType(TypeString)},
	)
}

// TestCloneIsDeep asserts that cloning a tuple copies every element, so
// mutating the clone leaves the original untouched.
func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	orig := MkTuple(testTupType(), []*Value{MkInt(7), MkString("a")})
	clone := Clone(orig)

	clone.TupleSet(0, MkInt(99))

	require.EqualValues(t, 7, orig.TupleGet(0).Int())
	require.EqualValues(t, 99, clone.TupleGet(0).Int())
	require.True(t, Equal(orig.TupleGet(1), clone.TupleGet(1)))
}

// TestEqualByStructure asserts structural equality across kinds.
func TestEqualByStructure(t *testing.T) {
	t.Parallel()

	require.True(t, Equal(MkNull(), nil))
	require.True(t, Equal(MkInt(3), MkInt(3)))
	require.False(t, Equal(MkInt(3), MkInt(4)))
	require.False(t, Equal(MkInt(3), MkString("3")))

	id := MachineID{ProcessGUID: uuid.New(), ID: 2}
	require.True(t, Equal(MkMachine(id), MkMachine(id)))

	a := MkTuple(testTupType(), []*Value{MkInt(1), MkString("x")})
	b := MkTuple(testTupType(), []*Value{MkInt(1), MkString("x")})
	require.True(t, Equal(a, b))
}

// TestMkDefault asserts that defaults recurse through tuple types.
func TestMkDefault(t *testing.T) {
	t.Parallel()

	v := MkDefault(testTupType())
	require.Equal(t, KindTuple, v.Kind())
	require.EqualValues(t, 0, v.TupleGet(0).Int())
	require.Equal(t, "", v.TupleGet(1).Str())

	require.Equal(t, KindNull, MkDefault(nil).Kind())
}

// TestForeignHooks asserts that foreign values clone and free through the
// hooks of their declaration.
func TestForeignHooks(t *testing.T) {
	t.Parallel()

	var clones, frees int
	decl := &ForeignTypeDecl{
		Name: "blob",
		CloneFn: func(data any) any {
			clones++
			return data
		},
		FreeFn: func(data any) {
			frees++
		},
	}

	v := MkForeign(decl, "payload")
	c := Clone(v)
	require.Equal(t, 1, clones)
	require.Equal(t, "payload", c.Foreign())

	Free(v)
	Free(c)
	require.Equal(t, 2, frees)
}

// TestCollectArgsSingle asserts that a single argument becomes the payload
// directly, cloned or moved per its status.
func TestCollectArgsSingle(t *testing.T) {
	t.Parallel()

	v := MkInt(5)
	payload, err := CollectArgs(nil, []Arg{ByClone(v)})
	require.NoError(t, err)
	require.True(t, Equal(v, payload))

	// The original survives a clone.
	require.Equal(t, KindInt, v.Kind())

	slot := MkString("moved")
	payload, err = CollectArgs(nil, []Arg{ByMove(&slot)})
	require.NoError(t, err)
	require.Equal(t, "moved", payload.Str())

	// After a move the caller's slot is null.
	require.Nil(t, slot)
}

// TestCollectArgsEmpty asserts that zero arguments yield a fresh null.
func TestCollectArgsEmpty(t *testing.T) {
	t.Parallel()

	payload, err := CollectArgs(nil, nil)
	require.NoError(t, err)
	require.Equal(t, KindNull, payload.Kind())
}

// TestCollectArgsTuple asserts that multiple arguments pack into a tuple
// of the declared payload type.
func TestCollectArgsTuple(t *testing.T) {
	t.Parallel()

	slot := MkString("b")
	payload, err := CollectArgs(testTupType(), []Arg{
		ByClone(MkInt(1)), ByMove(&slot),
	})
	require.NoError(t, err)

	require.Equal(t, KindTuple, payload.Kind())
	require.EqualValues(t, 1, payload.TupleGet(0).Int())
	require.Equal(t, "b", payload.TupleGet(1).Str())
	require.Nil(t, slot)
}

// TestCollectArgsRejectsSwap asserts that the reserved swap status is
// rejected by argument intake.
func TestCollectArgsRejectsSwap(t *testing.T) {
	t.Parallel()

	_, err := CollectArgs(nil, []Arg{{Status: ParamSwap}})
	require.ErrorIs(t, err, ErrSwapParam)
}

// TestCollectArgsArity asserts that a multi-argument payload must match
// the declared tuple arity.
func TestCollectArgsArity(t *testing.T) {
	t.Parallel()

	_, err := CollectArgs(testTupType(), []Arg{
		ByClone(MkInt(1)), ByClone(MkInt(2)), ByClone(MkInt(3)),
	})
	require.ErrorIs(t, err, ErrArityMismatch)
}

// TestTupleSetFreesOld asserts that storing into a tuple slot releases the
// previous occupant's foreign resources.
func TestTupleSetFreesOld(t *testing.T) {
	t.Parallel()

	var frees int
	decl := &ForeignTypeDecl{
		Name:   "res",
		FreeFn: func(any) { frees++ },
	}

	typ := MkTupleType([]string{"r"}, []*Type{MkForeignType(decl)})
	tup := MkTuple(typ, []*Value{MkForeign(decl, 1)})

	tup.TupleSet(0, MkForeign(decl, 2))
	require.Equal(t, 1, frees)

	Free(tup)
	require.Equal(t, 2, frees)
}
