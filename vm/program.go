package vm

import "github.com/nyar-lang/nyarvm/opcodes"

// FunctionTemplate is a top-level, pre-assembled function the front
// end registers with a Program so that a Constant of kind
// ConstFunctionRef can name it — the path for mutually-recursive or
// forward-referenced top-level functions, as distinct from
// OP_CREATE_FUNCTION's inline closure-capturing form.
type FunctionTemplate struct {
	Name      string
	Params    []string
	Body      []opcodes.Instruction
	Constants []opcodes.Constant
}

// Program is the prepared input spec.md §6 describes: a flat
// instruction sequence and a constant pool, plus the function table
// that ConstFunctionRef constants index into.
type Program struct {
	Instructions []opcodes.Instruction
	Constants    []opcodes.Constant
	Functions    []FunctionTemplate
}
