package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nyar-lang/nyarvm/heap"
	"github.com/nyar-lang/nyarvm/opcodes"
	"github.com/nyar-lang/nyarvm/value"
)

// callIntrinsic assembles "push global(name), push each constant arg,
// CALL" and runs it, returning the terminal Value.
func callIntrinsic(t *testing.T, name string, args ...opcodes.Constant) (*VM, value.Value) {
	t.Helper()
	constants := append([]opcodes.Constant{opcodes.Str(name)}, args...)
	instrs := []opcodes.Instruction{opcodes.NewA(opcodes.OP_PUSH_VARIABLE, 0)}
	for i := range args {
		instrs = append(instrs, opcodes.NewA(opcodes.OP_PUSH_CONSTANT, uint32(i+1)))
	}
	instrs = append(instrs, opcodes.NewA(opcodes.OP_CALL, uint32(len(args))), opcodes.New(opcodes.OP_HALT))
	m := New()
	result, err := m.Execute(Program{Constants: constants, Instructions: instrs})
	require.NoError(t, err)
	return m, result
}

func TestIntAddIntrinsic(t *testing.T) {
	m, result := callIntrinsic(t, "int_add", opcodes.Int("3"), opcodes.Int("4"))
	cell, err := m.Heap().View(result.Handle())
	require.NoError(t, err)
	require.Equal(t, "7", cell.(*heap.IntegerCell).Big.String())
}

func TestIntMulIntrinsic(t *testing.T) {
	m, result := callIntrinsic(t, "int_mul", opcodes.Int("6"), opcodes.Int("7"))
	cell, err := m.Heap().View(result.Handle())
	require.NoError(t, err)
	require.Equal(t, "42", cell.(*heap.IntegerCell).Big.String())
}

func TestIntLtIntrinsic(t *testing.T) {
	m, result := callIntrinsic(t, "int_lt", opcodes.Int("3"), opcodes.Int("4"))
	b, err := result.AsBool()
	require.NoError(t, err)
	require.True(t, b)
	_ = m
}

func TestIntDivByZeroIntrinsicFails(t *testing.T) {
	constants := []opcodes.Constant{opcodes.Str("int_div"), opcodes.Int("1"), opcodes.Int("0")}
	instrs := []opcodes.Instruction{
		opcodes.NewA(opcodes.OP_PUSH_VARIABLE, 0),
		opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 1),
		opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 2),
		opcodes.NewA(opcodes.OP_CALL, 2),
		opcodes.New(opcodes.OP_HALT),
	}
	m := New()
	_, err := m.Execute(Program{Constants: constants, Instructions: instrs})
	require.Error(t, err)
}

func TestStringConcatIntrinsic(t *testing.T) {
	m, result := callIntrinsic(t, "string_concat", opcodes.Str("foo"), opcodes.Str("bar"))
	s, err := m.Heap().ResolveString(result)
	require.NoError(t, err)
	require.Equal(t, "foobar", s)
}

func TestVectorLengthIntrinsic(t *testing.T) {
	constants := []opcodes.Constant{opcodes.Str("vector_length"), opcodes.Int("1"), opcodes.Int("2"), opcodes.Int("3")}
	instrs := []opcodes.Instruction{
		opcodes.NewA(opcodes.OP_PUSH_VARIABLE, 0),
		opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 1),
		opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 2),
		opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 3),
		opcodes.NewA(opcodes.OP_CREATE_ARRAY, 3),
		opcodes.NewA(opcodes.OP_CALL, 1),
		opcodes.New(opcodes.OP_HALT),
	}
	m := New()
	result, err := m.Execute(Program{Constants: constants, Instructions: instrs})
	require.NoError(t, err)
	cell, err := m.Heap().View(result.Handle())
	require.NoError(t, err)
	require.Equal(t, "3", cell.(*heap.IntegerCell).Big.String())
}
