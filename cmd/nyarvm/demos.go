package main

import (
	"github.com/nyar-lang/nyarvm/opcodes"
	"github.com/nyar-lang/nyarvm/vm"
)

// The demo programs below are assembled directly as opcodes.Instruction
// sequences, never parsed from source text — this command drives the
// VM core the way an embedder would, consistent with spec.md §1's
// exclusion of parsing and compilation from the core.

// demoPrimitiveRoundTrip assembles spec.md §8 scenario 1: store 42
// into a variable, read it back, halt with it on top of stack.
func demoPrimitiveRoundTrip() vm.Program {
	return vm.Program{
		Constants: []opcodes.Constant{
			opcodes.Int("42"), // 0
			opcodes.Str("x"),  // 1
		},
		Instructions: []opcodes.Instruction{
			opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 0),
			opcodes.NewA(opcodes.OP_STORE_VARIABLE, 1),
			opcodes.NewA(opcodes.OP_PUSH_VARIABLE, 1),
			opcodes.New(opcodes.OP_HALT),
		},
	}
}

// demoConditional assembles spec.md §8 scenario 2: a JumpIfFalse over
// one of two PushConstant branches, gated by cond.
func demoConditional(cond bool) vm.Program {
	return vm.Program{
		Constants: []opcodes.Constant{
			opcodes.Bool(cond), // 0
			opcodes.Int("1"),   // 1
			opcodes.Int("2"),   // 2
		},
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

// demoCoroutineGenerator assembles spec.md §8 scenario 4: a coroutine
// body that yields 1, then 2, then returns 3. The driving program
// resumes it three times and collects the three observed values
// (1, 2, the completion result 3) into a Vector so `run` has a single
// terminal Value to print.
func demoCoroutineGenerator() vm.Program {
	return vm.Program{
		Constants: []opcodes.Constant{
			opcodes.Int("1"),  // 0
			opcodes.Int("2"),  // 1
			opcodes.Int("3"),  // 2
			opcodes.Str("co"), // 3
		},
		Instructions: []opcodes.Instruction{
			opcodes.NewABC(opcodes.OP_CREATE_FUNCTION, opcodes.NoLabel, 0, 6), // idx0
			opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 0),                        // idx1 (body)
			opcodes.NewA(opcodes.OP_YIELD_COROUTINE, 1),                      // idx2
			opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 1),                        // idx3
			opcodes.NewA(opcodes.OP_YIELD_COROUTINE, 1),                      // idx4
			opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 2),                        // idx5
			opcodes.New(opcodes.OP_RETURN),                                   // idx6
			opcodes.New(opcodes.OP_CREATE_COROUTINE),                         // idx7
			opcodes.NewA(opcodes.OP_STORE_VARIABLE, 3),                       // idx8
			opcodes.NewA(opcodes.OP_PUSH_VARIABLE, 3),                        // idx9
			opcodes.NewA(opcodes.OP_RESUME_COROUTINE, 0),                     // idx10
			opcodes.NewA(opcodes.OP_PUSH_VARIABLE, 3),                        // idx11
			opcodes.NewA(opcodes.OP_RESUME_COROUTINE, 0),                     // idx12
			opcodes.NewA(opcodes.OP_PUSH_VARIABLE, 3),                        // idx13
			opcodes.NewA(opcodes.OP_RESUME_COROUTINE, 0),                     // idx14
			opcodes.NewA(opcodes.OP_CREATE_ARRAY, 3),                         // idx15
			opcodes.New(opcodes.OP_HALT),                                     // idx16
		},
	}
}

// demoEffectResume assembles spec.md §8 scenario 5: a handler for
// "double" that ignores its argument and resumes with 42; a function
// that raises "double" with 21 and returns whatever the resume
// injected.
func demoEffectResume() vm.Program {
	return vm.Program{
		Constants: []opcodes.Constant{
			opcodes.Str("n"),      // 0: handler's unused parameter name
			opcodes.Int("42"),     // 1
			opcodes.Str("double"), // 2: effect name
			opcodes.Int("21"),     // 3
		},
		Instructions: []opcodes.Instruction{
			opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 0),                   // idx0: "n"
			opcodes.NewABC(opcodes.OP_CREATE_FUNCTION, opcodes.NoLabel, 1, 2), // idx1: handler
			opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 1),                   // idx2 (body): 42
			opcodes.NewA(opcodes.OP_RESUME_EFFECT, 1),                   // idx3
			opcodes.NewA(opcodes.OP_HANDLE_EFFECT, 2),                   // idx4: install for "double"
			opcodes.NewABC(opcodes.OP_CREATE_FUNCTION, opcodes.NoLabel, 0, 3), // idx5: raiser
			opcodes.NewA(opcodes.OP_PUSH_CONSTANT, 3),                   // idx6 (body): 21
			opcodes.NewAB(opcodes.OP_RAISE_EFFECT, 2, 1),                // idx7
			opcodes.New(opcodes.OP_RETURN),                              // idx8
			opcodes.NewA(opcodes.OP_CALL, 0),                            // idx9
			opcodes.New(opcodes.OP_HALT),                                // idx10
		},
	}
}
