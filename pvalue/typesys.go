package pvalue

// TypeKind enumerates the payload types the runtime can describe. The set
// mirrors the value kinds, with tuple and foreign types carrying extra
// structure.
type TypeKind uint8

const (
	// TypeNull is the type of the null value.
	TypeNull TypeKind = iota

	// TypeBool is the boolean type.
	TypeBool

	// TypeInt is the signed integer type.
	TypeInt

	// TypeFloat is the floating point type.
	TypeFloat

	// TypeString is the string type.
	TypeString

	// TypeEvent is the type of first-class event references.
	TypeEvent

	// TypeMachine is the type of machine identifiers.
	TypeMachine

	// TypeAny admits a value of any kind.
	TypeAny

	// TypeTuple is a named tuple type with a fixed field layout.
	TypeTuple

	// TypeForeign is an opaque, externally defined type. Values of a
	// foreign type are managed through the hooks on its declaration.
	TypeForeign
)

// ForeignTypeDecl describes an opaque type defined outside the runtime. The
// runtime never inspects foreign data; it only clones and frees it through
// the declared hooks.
type ForeignTypeDecl struct {
	// DeclIndex is the dense index of this type within the program. It is
	// assigned when the program is initialized.
	DeclIndex uint32

	// Name is the name of the foreign type.
	Name string

	// CloneFn deep copies the foreign representation.
	CloneFn func(data any) any

	// FreeFn releases the foreign representation.
	FreeFn func(data any)
}

// Type describes the shape of a value. Types are built once as part of the
// program tables and shared read-only afterwards.
type Type struct {
	// Kind discriminates the type.
	Kind TypeKind

	// FieldNames holds the field names of a tuple type, in order.
	FieldNames []string

	// FieldTypes holds the field types of a tuple type, in order.
	FieldTypes []*Type

	// Foreign points at the declaration of a foreign type.
	Foreign *ForeignTypeDecl
}

// NumFields returns the arity of a tuple type, and zero for any other kind.
func (t *Type) NumFields() int {
	if t == nil || t.Kind != TypeTuple {
		return 0
	}
	return len(t.FieldTypes)
}

// MkPrimitiveType returns a new type of the given non-structured kind.
func MkPrimitiveType(kind TypeKind) *Type {
	return &Type{Kind: kind}
}

// MkTupleType returns a new named tuple type. The two slices must have the
// same length and are retained by the returned type.
func MkTupleType(names []string, types []*Type) *Type {
	return &Type{
		Kind:       TypeTuple,
		FieldNames: names,
		FieldTypes: types,
	}
}

// MkForeignType returns a new type backed by the given foreign declaration.
func MkForeignType(decl *ForeignTypeDecl) *Type {
	return &Type{Kind: TypeForeign, Foreign: decl}
}
