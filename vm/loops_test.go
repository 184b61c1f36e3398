package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nyar-lang/nyarvm/heap"
	"github.com/nyar-lang/nyarvm/opcodes"
)

// TestLoopBreakAtThree builds: i = 0; loop { if i == 3 break; i = i+1 };
// result i, using int_add/int_eq intrinsics and an unlabeled loop.
func TestLoopBreakAtThree(t *testing.T) {
	constants := []opcodes.Constant{
		opcodes.Int("0"),       // 0: initial i
		opcodes.Str("i"),       // 1: variable name
		opcodes.Str("int_eq"),  // 2
		opcodes.Int("3"),       // 3
		opcodes.Str("int_add"), // 4
		opcodes.Int("1"),       // 5
	}
	instrs := []opcodes.Instruction{
		opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 0),    // 0: push 0
		opcodes.NewA(opcodes.OP_STORE_VARIABLE, 1),   // 1: i = 0
		opcodes.NewA(opcodes.OP_LOOP_START, opcodes.NoLabel), // 2
		opcodes.NewA(opcodes.OP_PUSH_VARIABLE, 2),    // 3: push int_eq
		opcodes.NewA(opcodes.OP_PUSH_VARIABLE, 1),    // 4: push i
		opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 3),    // 5: push 3
		opcodes.NewA(opcodes.OP_CALL, 2),             // 6: int_eq(i, 3)
		opcodes.NewOffset(opcodes.OP_JUMP_IF_FALSE, 1), // 7: if not equal, skip break
		opcodes.NewA(opcodes.OP_BREAK, opcodes.NoLabel), // 8
		opcodes.NewA(opcodes.OP_PUSH_VARIABLE, 4),    // 9: push int_add
		opcodes.NewA(opcodes.OP_PUSH_VARIABLE, 1),    // 10: push i
		opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 5),    // 11: push 1
		opcodes.NewA(opcodes.OP_CALL, 2),             // 12: int_add(i, 1)
		opcodes.NewA(opcodes.OP_STORE_VARIABLE, 1),   // 13: i = i+1
		opcodes.NewA(opcodes.OP_CONTINUE, opcodes.NoLabel), // 14
		opcodes.New(opcodes.OP_LOOP_END),             // 15
		opcodes.NewA(opcodes.OP_PUSH_VARIABLE, 1),    // 16: push i
		opcodes.New(opcodes.OP_HALT),                 // 17
	}

	m := New()
	result, err := m.Execute(Program{Constants: constants, Instructions: instrs})
	require.NoError(t, err)
	cell, err := m.Heap().View(result.Handle())
	require.NoError(t, err)
	require.Equal(t, "3", cell.(*heap.IntegerCell).Big.String())
}
