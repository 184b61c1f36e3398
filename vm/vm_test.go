package vm

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nyar-lang/nyarvm/heap"
	"github.com/nyar-lang/nyarvm/opcodes"
	"github.com/nyar-lang/nyarvm/value"
)

// TestPrimitiveRoundTrip is spec.md §8 scenario 1: push a constant,
// store it, read it back.
func TestPrimitiveRoundTrip(t *testing.T) {
	program := Program{
		Constants: []opcodes.Constant{opcodes.Int("42"), opcodes.Str("x")},
		Instructions: []opcodes.Instruction{
			opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 0),
			opcodes.NewA(opcodes.OP_STORE_VARIABLE, 1),
			opcodes.NewA(opcodes.OP_PUSH_VARIABLE, 1),
			opcodes.New(opcodes.OP_HALT),
		},
	}
	m := New()
	result, err := m.Execute(program)
	require.NoError(t, err)
	require.Equal(t, value.Integer, result.Type())
	cell, err := m.Heap().View(result.Handle())
	require.NoError(t, err)
	require.Equal(t, "42", cell.(*heap.IntegerCell).Big.String())
}

// TestConditional is spec.md §8 scenario 2, both branches.
func TestConditional(t *testing.T) {
	build := func(cond bool) Program {
		return Program{
			Constants: []opcodes.Constant{opcodes.Bool(cond), opcodes.Int("1"), opcodes.Int("2")},
			Instructions: []opcodes.Instruction{
				opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 0),
				opcodes.NewOffset(opcodes.OP_JUMP_IF_FALSE, 2),
				opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 1),
				opcodes.NewOffset(opcodes.OP_JUMP, 1),
				opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 2),
				opcodes.New(opcodes.OP_HALT),
			},
		}
	}

	m := New()
	result, err := m.Execute(build(true))
	require.NoError(t, err)
	cell, _ := m.Heap().View(result.Handle())
	require.Equal(t, "1", cell.(*heap.IntegerCell).Big.String())

	m2 := New()
	result2, err := m2.Execute(build(false))
	require.NoError(t, err)
	cell2, _ := m2.Heap().View(result2.Handle())
	require.Equal(t, "2", cell2.(*heap.IntegerCell).Big.String())
}

// TestCompactingCollection is spec.md §8 scenario 3, run through an
// executing VM rather than a bare heap: with the GC threshold set to
// fire after every allocation, a value stored only in a global binding
// must still be found by vm.Collect's root walk and survive each of
// several automatic collections triggered mid-run, while the garbage
// pushed-then-popped alongside it is reclaimed and the heap stays
// compacted down to the value plus what New itself allocated (the
// global environment and the pinned native intrinsics).
func TestCompactingCollection(t *testing.T) {
	constants := []opcodes.Constant{opcodes.Int("7"), opcodes.Str("x")}
	instrs := []opcodes.Instruction{
		opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 0),
		opcodes.NewA(opcodes.OP_STORE_VARIABLE, 1), // x = 7, rooted through the global environment
	}
	for i := 0; i < 5; i++ {
		instrs = append(instrs,
			opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 0), // garbage: allocated, then discarded
			opcodes.New(opcodes.OP_POP),
		)
	}
	instrs = append(instrs, opcodes.NewA(opcodes.OP_PUSH_VARIABLE, 1), opcodes.New(opcodes.OP_HALT))

	m := New(WithGCThreshold(1))
	baseline := m.Heap().Len() // global environment + pinned intrinsics
	result, err := m.Execute(Program{Constants: constants, Instructions: instrs})
	require.NoError(t, err)
	m.Collect() // reclaim the last garbage push, popped after its own allocation's collect ran
	cell, err := m.Heap().View(result.Handle())
	require.NoError(t, err)
	require.Equal(t, "7", cell.(*heap.IntegerCell).Big.String())
	require.Equal(t, baseline+1, m.Heap().Len())
}

// TestCoroutineGenerator is spec.md §8 scenario 4: a coroutine whose
// body yields 1, then 2, then returns 3. Three resumes produce those
// three values in order; a fourth, against a Completed coroutine,
// fails with CoroutineError.
func TestCoroutineGenerator(t *testing.T) {
	build := func(resumeCount int) Program {
		instrs := []opcodes.Instruction{
			opcodes.NewABC(opcodes.OP_CREATE_FUNCTION, opcodes.NoLabel, 0, 6),
			opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 0),
			opcodes.NewA(opcodes.OP_YIELD_COROUTINE, 1),
			opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 1),
			opcodes.NewA(opcodes.OP_YIELD_COROUTINE, 1),
			opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 2),
			opcodes.New(opcodes.OP_RETURN),
			opcodes.New(opcodes.OP_CREATE_COROUTINE),
			opcodes.NewA(opcodes.OP_STORE_VARIABLE, 3),
		}
		for i := 0; i < resumeCount; i++ {
			instrs = append(instrs,
				opcodes.NewA(opcodes.OP_PUSH_VARIABLE, 3),
				opcodes.NewA(opcodes.OP_RESUME_COROUTINE, 0),
			)
		}
		instrs = append(instrs, opcodes.New(opcodes.OP_HALT))
		return Program{
			Constants:    []opcodes.Constant{opcodes.Int("1"), opcodes.Int("2"), opcodes.Int("3"), opcodes.Str("co")},
			Instructions: instrs,
		}
	}

	for i, want := range []string{"1", "2", "3"} {
		m := New()
		result, err := m.Execute(build(i + 1))
		require.NoError(t, err)
		cell, err := m.Heap().View(result.Handle())
		require.NoError(t, err)
		require.Equal(t, want, cell.(*heap.IntegerCell).Big.String())
	}

	m := New()
	_, err := m.Execute(build(4))
	require.Error(t, err)
	var vmErr *Error
	require.True(t, errors.As(err, &vmErr))
	require.ErrorIs(t, vmErr, ErrCoroutineError)
}

// TestGCTransparencyUnderSuspension is spec.md §8's "GC transparency
// under suspension" property: suspending a coroutine, running collect,
// then resuming yields the same observable sequence as running without
// the intervening collect. The coroutine handle is stashed in a global
// (persists across Execute calls on the same VM) so collect can run
// between resumes with no other reference to it on any live stack.
func TestGCTransparencyUnderSuspension(t *testing.T) {
	createProgram := Program{
		Constants: []opcodes.Constant{opcodes.Int("1"), opcodes.Int("2"), opcodes.Int("3"), opcodes.Str("co")},
		Instructions: []opcodes.Instruction{
			opcodes.NewABC(opcodes.OP_CREATE_FUNCTION, opcodes.NoLabel, 0, 6),
			opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 0),
			opcodes.NewA(opcodes.OP_YIELD_COROUTINE, 1),
			opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 1),
			opcodes.NewA(opcodes.OP_YIELD_COROUTINE, 1),
			opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 2),
			opcodes.New(opcodes.OP_RETURN),
			opcodes.New(opcodes.OP_CREATE_COROUTINE),
			opcodes.NewA(opcodes.OP_STORE_VARIABLE, 3),
			opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 0),
			opcodes.New(opcodes.OP_HALT),
		},
	}
	resumeProgram := Program{
		Constants: []opcodes.Constant{opcodes.Str("co")},
		Instructions: []opcodes.Instruction{
			opcodes.NewA(opcodes.OP_PUSH_VARIABLE, 0),
			opcodes.NewA(opcodes.OP_RESUME_COROUTINE, 0),
			opcodes.New(opcodes.OP_HALT),
		},
	}
	intAt := func(m *VM, v value.Value) string {
		cell, err := m.Heap().View(v.Handle())
		require.NoError(t, err)
		return cell.(*heap.IntegerCell).Big.String()
	}

	withCollect := New(WithGCThreshold(1))
	_, err := withCollect.Execute(createProgram)
	require.NoError(t, err)
	var gotWithCollect []string
	for i := 0; i < 3; i++ {
		withCollect.Collect()
		v, err := withCollect.Execute(resumeProgram)
		require.NoError(t, err)
		gotWithCollect = append(gotWithCollect, intAt(withCollect, v))
	}

	withoutCollect := New()
	_, err = withoutCollect.Execute(createProgram)
	require.NoError(t, err)
	var gotWithoutCollect []string
	for i := 0; i < 3; i++ {
		v, err := withoutCollect.Execute(resumeProgram)
		require.NoError(t, err)
		gotWithoutCollect = append(gotWithoutCollect, intAt(withoutCollect, v))
	}

	require.Equal(t, []string{"1", "2", "3"}, gotWithoutCollect)
	require.Equal(t, gotWithoutCollect, gotWithCollect)
}

// TestEffectResume is spec.md §8 scenario 5: a raiser calls
// RAISE_EFFECT, the installed handler resumes it with a value, and
// that value flows back out as the raiser's own result.
func TestEffectResume(t *testing.T) {
	program := Program{
		Constants: []opcodes.Constant{
			opcodes.Str("n"), opcodes.Int("42"), opcodes.Str("double"), opcodes.Int("21"),
		},
		Instructions: []opcodes.Instruction{
			opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 0),
			opcodes.NewABC(opcodes.OP_CREATE_FUNCTION, opcodes.NoLabel, 1, 2),
			opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 1),
			opcodes.NewA(opcodes.OP_RESUME_EFFECT, 1),
			opcodes.NewA(opcodes.OP_HANDLE_EFFECT, 2),
			opcodes.NewABC(opcodes.OP_CREATE_FUNCTION, opcodes.NoLabel, 0, 3),
			opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 3),
			opcodes.NewAB(opcodes.OP_RAISE_EFFECT, 2, 1),
			opcodes.New(opcodes.OP_RETURN),
			opcodes.NewA(opcodes.OP_CALL, 0),
			opcodes.New(opcodes.OP_HALT),
		},
	}
	m := New()
	result, err := m.Execute(program)
	require.NoError(t, err)
	cell, err := m.Heap().View(result.Handle())
	require.NoError(t, err)
	require.Equal(t, "42", cell.(*heap.IntegerCell).Big.String())
}

// TestUnhandledEffectFails exercises the "no matching handler" miss
// path of OP_RAISE_EFFECT.
func TestUnhandledEffectFails(t *testing.T) {
	program := Program{
		Constants: []opcodes.Constant{opcodes.Str("missing")},
		Instructions: []opcodes.Instruction{
			opcodes.NewAB(opcodes.OP_RAISE_EFFECT, 0, 0),
			opcodes.New(opcodes.OP_HALT),
		},
	}
	m := New()
	_, err := m.Execute(program)
	require.Error(t, err)
	var vmErr *Error
	require.True(t, errors.As(err, &vmErr))
	require.ErrorIs(t, vmErr, ErrUnhandledEffect)
}

// TestHandlerScopingViaReturn proves a handler installed inside a
// called function is invisible once that function returns: the
// installing frame's return (here the implicit one at the end of its
// body) truncates the handler chain back to its call-time length, so a
// later raise at the call site misses.
func TestHandlerScopingViaReturn(t *testing.T) {
	program := Program{
		Constants: []opcodes.Constant{
			opcodes.Str("e"), opcodes.Int("1"),
		},
		Instructions: []opcodes.Instruction{
			opcodes.NewABC(opcodes.OP_CREATE_FUNCTION, opcodes.NoLabel, 0, 3), // installer
			opcodes.NewABC(opcodes.OP_CREATE_FUNCTION, opcodes.NoLabel, 0, 1), // handler fn (installer body)
			opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 1),                        // handler body: push 1
			opcodes.NewA(opcodes.OP_HANDLE_EFFECT, 0),                        // installer body: install for "e"
			opcodes.NewA(opcodes.OP_CALL, 0),                                 // call installer
			opcodes.New(opcodes.OP_POP),                                      // discard installer's Null return
			opcodes.NewAB(opcodes.OP_RAISE_EFFECT, 0, 0),                     // must be unhandled now
			opcodes.New(opcodes.OP_HALT),
		},
	}
	m := New()
	_, err := m.Execute(program)
	require.Error(t, err)
	var vmErr *Error
	require.True(t, errors.As(err, &vmErr))
	require.ErrorIs(t, vmErr, ErrUnhandledEffect)
}

// TestCyclicVectors is spec.md §8 scenario 6, built and collected
// through a running VM: two vectors stored in globals are wired to
// reference each other, several automatic collections run while they
// sit only in the global environment (never on the stack), and the
// cycle must still resolve correctly afterward, proving the collector
// traces through a cycle rather than mistaking mutual reference for
// reachability from nothing.
func TestCyclicVectors(t *testing.T) {
	constants := []opcodes.Constant{
		opcodes.Null(),   // 0: array placeholder element
		opcodes.Str("a"), // 1
		opcodes.Str("b"), // 2
		opcodes.Int("0"), // 3: garbage filler
	}
	instrs := []opcodes.Instruction{
		opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 0),
		opcodes.NewA(opcodes.OP_CREATE_ARRAY, 1),
		opcodes.NewA(opcodes.OP_STORE_VARIABLE, 1), // a = [null]
		opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 0),
		opcodes.NewA(opcodes.OP_CREATE_ARRAY, 1),
		opcodes.NewA(opcodes.OP_STORE_VARIABLE, 2), // b = [null]
		opcodes.NewA(opcodes.OP_PUSH_VARIABLE, 1),
		opcodes.NewA(opcodes.OP_PUSH_VARIABLE, 2),
		opcodes.NewA(opcodes.OP_SET_INDEX, 0), // a[0] = b
		opcodes.NewA(opcodes.OP_PUSH_VARIABLE, 2),
		opcodes.NewA(opcodes.OP_PUSH_VARIABLE, 1),
		opcodes.NewA(opcodes.OP_SET_INDEX, 0), // b[0] = a
	}
	for i := 0; i < 5; i++ {
		instrs = append(instrs,
			opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 3),
			opcodes.New(opcodes.OP_POP),
		)
	}
	instrs = append(instrs, opcodes.NewA(opcodes.OP_PUSH_VARIABLE, 1), opcodes.New(opcodes.OP_HALT))

	m := New(WithGCThreshold(1))
	baseline := m.Heap().Len() // global environment + pinned intrinsics
	result, err := m.Execute(Program{Constants: constants, Instructions: instrs})
	require.NoError(t, err)
	m.Collect() // reclaim the last garbage filler, popped after its own allocation's collect ran

	aCell, err := m.Heap().View(result.Handle())
	require.NoError(t, err)
	bHandle := aCell.(*heap.VectorCell).Elems[0].Handle()
	bCell, err := m.Heap().View(bHandle)
	require.NoError(t, err)
	require.Equal(t, result.Handle(), bCell.(*heap.VectorCell).Elems[0].Handle())
	require.Equal(t, baseline+2, m.Heap().Len())
}

func TestStackOverflowIsSurfacedNotPanicked(t *testing.T) {
	var instrs []opcodes.Instruction
	for i := 0; i < 5; i++ {
		instrs = append(instrs, opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 0))
	}
	instrs = append(instrs, opcodes.New(opcodes.OP_HALT))
	program := Program{
		Constants:    []opcodes.Constant{opcodes.Int("1")},
		Instructions: instrs,
	}
	m := New(WithMaxStackDepth(3))
	_, err := m.Execute(program)
	require.Error(t, err)
	var vmErr *Error
	require.True(t, errors.As(err, &vmErr))
	require.ErrorIs(t, vmErr, ErrStackOverflow)
}

func TestStackUnderflowIsSurfacedNotPanicked(t *testing.T) {
	program := Program{
		Instructions: []opcodes.Instruction{
			opcodes.New(opcodes.OP_POP),
			opcodes.New(opcodes.OP_HALT),
		},
	}
	m := New()
	_, err := m.Execute(program)
	require.Error(t, err)
	var vmErr *Error
	require.True(t, errors.As(err, &vmErr))
	require.ErrorIs(t, vmErr, ErrStackUnderflow)
}

func TestUndefinedVariableFails(t *testing.T) {
	program := Program{
		Constants: []opcodes.Constant{opcodes.Str("nope")},
		Instructions: []opcodes.Instruction{
			opcodes.NewA(opcodes.OP_PUSH_VARIABLE, 0),
			opcodes.New(opcodes.OP_HALT),
		},
	}
	m := New()
	_, err := m.Execute(program)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUndefinedVariable))
}

func TestGlobalsRoundTrip(t *testing.T) {
	m := New()
	h := m.Heap().Allocate(&heap.IntegerCell{Big: big.NewInt(9)})
	require.NoError(t, m.SetGlobal("g", value.Of(value.Integer, h)))
	got, err := m.GetGlobal("g")
	require.NoError(t, err)
	require.Equal(t, value.Integer, got.Type())
}

func TestGetGlobalUndefinedFails(t *testing.T) {
	m := New()
	_, err := m.GetGlobal("nope")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUndefinedVariable))
}
