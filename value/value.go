// Package value defines the tagged Value union shared by every Nyar VM
// component. Primitive variants (Null, Boolean) are stored inline; every
// composite variant names a heap cell by index (a Handle) and never by
// direct pointer, so the mark-compact collector in package heap can move
// composites freely and rewrite every reference in lockstep.
package value

import "fmt"

// Type discriminates the variants of Value. The set is closed. The As*
// projections fail closed with a TypeMismatchError on any variant other
// than the one they name, matching the fail-closed projection behavior
// of the original oovm/nyar-vm value model; helpers such as Truthy,
// Equal and String handle Null and Boolean explicitly and treat every
// other tag as a composite.
type Type byte

const (
	Null Type = iota
	Boolean
	Integer
	String
	Vector
	Object
	Function
	Class
	Trait
	Enum
	Coroutine
	Handler
)

func (t Type) String() string {
	switch t {
	case Null:
		return "null"
	case Boolean:
		return "boolean"
	case Integer:
		return "integer"
	case String:
		return "string"
	case Vector:
		return "vector"
	case Object:
		return "object"
	case Function:
		return "function"
	case Class:
		return "class"
	case Trait:
		return "trait"
	case Enum:
		return "enum"
	case Coroutine:
		return "coroutine"
	case Handler:
		return "handler"
	default:
		return fmt.Sprintf("type(%d)", byte(t))
	}
}

// Handle names a heap cell by index. Handles are cheap to copy; the
// heap owns every object they refer to. A handle is meaningless on its
// own without knowing which Value.Type it was carried by, exactly as
// spec.md's "phantom type" handle is meaningless without its T.
type Handle uint32

// Value is the tagged union every stack slot, variable, and record
// field holds. Composite variants carry a Handle; Null carries
// nothing; Boolean carries its bit inline.
type Value struct {
	typ  Type
	b    bool
	h    Handle
}

// Of builds a Value from an explicit Type and Handle; used by callers
// (chiefly package heap's allocators) that already hold the Handle for
// a freshly allocated composite.
func Of(t Type, h Handle) Value {
	return Value{typ: t, h: h}
}

func NewNull() Value { return Value{typ: Null} }

func NewBool(b bool) Value { return Value{typ: Boolean, b: b} }

// Type reports the variant tag.
func (v Value) Type() Type { return v.typ }

// IsNull reports whether v is the unique Null value.
func (v Value) IsNull() bool { return v.typ == Null }

// Handle returns the heap handle for a composite Value. Callers must
// check Type() first; Handle panics if v does not carry one, since
// calling it on an inline variant is always a programming error in
// this module, never a runtime condition an embedder can trigger.
func (v Value) Handle() Handle {
	if v.typ == Null || v.typ == Boolean {
		panic(fmt.Sprintf("value: Handle() called on inline variant %s", v.typ))
	}
	return v.h
}

// AsBool projects v as a Boolean, failing closed on any other variant.
func (v Value) AsBool() (bool, error) {
	if v.typ != Boolean {
		return false, &TypeMismatchError{Expected: Boolean, Found: v.typ}
	}
	return v.b, nil
}

// Truthy implements the Glossary's truthiness rule: Null and
// Boolean(false) are falsy, every other Value is truthy.
func (v Value) Truthy() bool {
	switch v.typ {
	case Null:
		return false
	case Boolean:
		return v.b
	default:
		return true
	}
}

// TypeMismatchError is returned by every As* projection and by
// declared-type checks throughout the interpreter, surfaced at the
// external boundary as the TypeMismatch error kind.
type TypeMismatchError struct {
	Expected Type
	Found    Type
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch: expected %s, found %s", e.Expected, e.Found)
}

// Equal reports shallow equality: identical type and, for inline
// variants, identical payload; for composite variants, identical
// handle (same cell, not merely structurally-equal contents; comparing
// contents means resolving both handles through the heap).
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case Null:
		return true
	case Boolean:
		return v.b == o.b
	default:
		return v.h == o.h
	}
}

func (v Value) String() string {
	switch v.typ {
	case Null:
		return "null"
	case Boolean:
		if v.b {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%s(#%d)", v.typ, v.h)
	}
}
