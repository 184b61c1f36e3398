package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nyar-lang/nyarvm/heap"
	"github.com/nyar-lang/nyarvm/opcodes"
)

func TestArrayIndexRoundTrip(t *testing.T) {
	program := Program{
		Constants: []opcodes.Constant{opcodes.Int("10"), opcodes.Int("20"), opcodes.Int("99")},
		Instructions: []opcodes.Instruction{
			opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 0),
			opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 1),
			opcodes.NewA(opcodes.OP_CREATE_ARRAY, 2),
			opcodes.NewA(opcodes.OP_DUP, 0),
			opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 2),
			opcodes.NewA(opcodes.OP_SET_INDEX, 1),
			opcodes.NewA(opcodes.OP_GET_INDEX, 1),
			opcodes.New(opcodes.OP_HALT),
		},
	}
	m := New()
	result, err := m.Execute(program)
	require.NoError(t, err)
	cell, err := m.Heap().View(result.Handle())
	require.NoError(t, err)
	require.Equal(t, "99", cell.(*heap.IntegerCell).Big.String())
}

func TestArrayIndexOutOfBoundsFails(t *testing.T) {
	program := Program{
		Constants: []opcodes.Constant{opcodes.Int("1")},
		Instructions: []opcodes.Instruction{
			opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 0),
			opcodes.NewA(opcodes.OP_CREATE_ARRAY, 1),
			opcodes.NewA(opcodes.OP_GET_INDEX, 5),
			opcodes.New(opcodes.OP_HALT),
		},
	}
	m := New()
	_, err := m.Execute(program)
	require.Error(t, err)
	require.True(t, isErr(err, ErrIndexOutOfBounds))
}

func TestObjectPropertyRoundTrip(t *testing.T) {
	program := Program{
		Constants: []opcodes.Constant{opcodes.Str("name"), opcodes.Str("nyar"), opcodes.Str("other")},
		Instructions: []opcodes.Instruction{
			opcodes.NewA(opcodes.OP_CREATE_OBJECT, 0),
			opcodes.NewA(opcodes.OP_DUP, 0),
			opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 1),
			opcodes.NewA(opcodes.OP_SET_PROPERTY, 0),
			opcodes.NewA(opcodes.OP_GET_PROPERTY, 0),
			opcodes.New(opcodes.OP_HALT),
		},
	}
	m := New()
	result, err := m.Execute(program)
	require.NoError(t, err)
	s, err := m.Heap().ResolveString(result)
	require.NoError(t, err)
	require.Equal(t, "nyar", s)
}

func TestUndefinedPropertyFails(t *testing.T) {
	program := Program{
		Constants: []opcodes.Constant{opcodes.Str("missing")},
		Instructions: []opcodes.Instruction{
			opcodes.NewA(opcodes.OP_CREATE_OBJECT, 0),
			opcodes.NewA(opcodes.OP_GET_PROPERTY, 0),
			opcodes.New(opcodes.OP_HALT),
		},
	}
	m := New()
	_, err := m.Execute(program)
	require.Error(t, err)
	require.True(t, isErr(err, ErrUndefinedProperty))
}

func isErr(err error, kind error) bool {
	e, ok := err.(*Error)
	return ok && e.Is(kind)
}
