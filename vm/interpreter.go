package vm

import (
	"fmt"
	"math/big"

	"github.com/nyar-lang/nyarvm/heap"
	"github.com/nyar-lang/nyarvm/opcodes"
	"github.com/nyar-lang/nyarvm/value"
)

// stepSignal reports what a single dispatched instruction asks the
// driving loop to do next — the suspend-mid-instruction contract
// spec.md §4.4 and §5 require, generalized from the teacher's
// ExecutionResult{ShouldAdvanceIP, JumpTo} by adding the two ways a
// fiber's drive loop actually ends (sigHalt, sigReturnTerminal) and the
// one way it suspends outward to a coroutine resumer (sigYield).
type stepSignal int

const (
	sigContinue stepSignal = iota
	sigHalt
	sigReturnTerminal
	sigYield
)

// push appends v to ctx's value stack, enforcing the configured
// max_stack_depth guard (spec.md §4.4: "fail if value stack exceeds
// max_stack_depth") rather than growing without bound.
func (vm *VM) push(ctx *Context, v value.Value) error {
	if len(ctx.Stack) >= vm.maxStackDepth {
		return &Error{Kind: ErrStackOverflow, Message: fmt.Sprintf("value stack exceeds %d", vm.maxStackDepth)}
	}
	ctx.Stack = append(ctx.Stack, v)
	return nil
}

func pop(ctx *Context) (value.Value, error) {
	if len(ctx.Stack) == 0 {
		return value.Value{}, &Error{Kind: ErrStackUnderflow}
	}
	n := len(ctx.Stack) - 1
	v := ctx.Stack[n]
	ctx.Stack = ctx.Stack[:n]
	return v, nil
}

// popN pops n values and returns them in call/push order (the first
// pushed is index 0), matching CALL/RaiseEffect/YieldCoroutine's
// "stack order = call order, top-of-stack is last" contract.
func popN(ctx *Context, n uint32) ([]value.Value, error) {
	if uint32(len(ctx.Stack)) < n {
		return nil, &Error{Kind: ErrStackUnderflow}
	}
	out := make([]value.Value, n)
	for i := int(n) - 1; i >= 0; i-- {
		v, err := pop(ctx)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// currentInstructions resolves the instruction slice the topmost
// activation is executing: the root program (or coroutine body) when
// no frame is active, otherwise the called function's or the
// in-flight handler's body.
func (vm *VM) currentInstructions(ctx *Context) ([]opcodes.Instruction, error) {
	if len(ctx.Frames) == 0 {
		return ctx.rootInstructions, nil
	}
	f := ctx.Frames[len(ctx.Frames)-1]
	fn, err := vm.frameFunction(f)
	if err != nil {
		return nil, err
	}
	return fn.Body, nil
}

func (vm *VM) currentConstants(ctx *Context) ([]opcodes.Constant, error) {
	if len(ctx.Frames) == 0 {
		return ctx.rootConstants, nil
	}
	f := ctx.Frames[len(ctx.Frames)-1]
	fn, err := vm.frameFunction(f)
	if err != nil {
		return nil, err
	}
	return fn.Constants, nil
}

// frameFunction resolves the FunctionCell backing a frame — directly
// for an ordinary call, or via its HandlerCell for a handler dispatch.
func (vm *VM) frameFunction(f heap.Frame) (*heap.FunctionCell, error) {
	handle := f.FuncHandle
	if f.IsHandlerFrame {
		cell, err := vm.heap.View(f.HandlingHandler)
		if err != nil {
			return nil, translateHeapError(err)
		}
		hc, ok := cell.(*heap.HandlerCell)
		if !ok {
			return nil, &Error{Kind: ErrRuntimeError, Message: "handler frame does not name a HandlerCell"}
		}
		handle = hc.HandlerFunc
	}
	cell, err := vm.heap.View(handle)
	if err != nil {
		return nil, translateHeapError(err)
	}
	fn, ok := cell.(*heap.FunctionCell)
	if !ok {
		return nil, &Error{Kind: ErrNotCallable, Message: "frame does not name a function"}
	}
	return fn, nil
}

func (vm *VM) materializeConstant(c opcodes.Constant) (value.Value, error) {
	switch c.Kind {
	case opcodes.ConstNull:
		return value.NewNull(), nil
	case opcodes.ConstBool:
		return value.NewBool(c.Bool), nil
	case opcodes.ConstInt:
		i, ok := new(big.Int).SetString(c.Int, 10)
		if !ok {
			return value.Value{}, &Error{Kind: ErrRuntimeError, Message: "malformed integer constant: " + c.Int}
		}
		h := vm.allocate(&heap.IntegerCell{Big: i})
		return value.Of(value.Integer, h), nil
	case opcodes.ConstString:
		h := vm.allocate(&heap.StringCell{S: c.Str})
		return value.Of(value.String, h), nil
	case opcodes.ConstFunctionRef:
		if int(c.FuncRefIdx) >= len(vm.functionValues) {
			return value.Value{}, &Error{Kind: ErrRuntimeError, Message: "function reference out of range"}
		}
		return vm.functionValues[c.FuncRefIdx], nil
	default:
		return value.Value{}, &Error{Kind: ErrRuntimeError, Message: "unknown constant kind"}
	}
}

func (vm *VM) resolveConstantName(ctx *Context, idx uint32) (string, error) {
	consts, err := vm.currentConstants(ctx)
	if err != nil {
		return "", err
	}
	if idx == opcodes.NoLabel {
		return "", nil
	}
	if int(idx) >= len(consts) {
		return "", &Error{Kind: ErrRuntimeError, Message: "constant index out of range"}
	}
	c := consts[idx]
	if c.Kind != opcodes.ConstString {
		return "", &Error{Kind: ErrRuntimeError, Message: "expected a string constant for a name operand"}
	}
	return c.Str, nil
}

// step executes exactly one instruction against ctx, per spec.md
// §4.4's fetch-advance-execute contract, and reports what the driving
// loop should do next.
func (vm *VM) step(ctx *Context) (stepSignal, error) {
	instrs, err := vm.currentInstructions(ctx)
	if err != nil {
		return sigContinue, err
	}
	if ctx.IP < 0 {
		return sigContinue, &Error{Kind: ErrInvalidJumpTarget, IP: ctx.IP}
	}
	if ctx.IP >= len(instrs) {
		// Falling off the end of a called function's body with no
		// explicit Return is treated as an implicit `return null`; falling
		// off the end of a fiber's root instructions (the main program, or
		// a coroutine's own body) is treated as an implicit Halt that
		// completes with the top of stack, or Null if the stack is empty.
		if len(ctx.Frames) == 0 {
			ctx.ReturnValue = peekOrNull(ctx)
			return sigHalt, nil
		}
		return vm.execReturn(ctx, value.NewNull())
	}

	in := instrs[ctx.IP]
	ip := ctx.IP
	ctx.IP++

	switch in.Op {
	case opcodes.OP_NOP:
		return sigContinue, nil

	case opcodes.OP_PUSH_CONSTANT:
		consts, err := vm.currentConstants(ctx)
		if err != nil {
			return sigContinue, err
		}
		if int(in.A) >= len(consts) {
			return sigContinue, newError(ErrRuntimeError, ip, in.Op, "constant index %d out of range", in.A)
		}
		v, err := vm.materializeConstant(consts[in.A])
		if err != nil {
			return sigContinue, err
		}
		if err := vm.push(ctx, v); err != nil {
			return sigContinue, wrapAt(err, ip, in.Op)
		}
		return sigContinue, nil

	case opcodes.OP_POP:
		if _, err := pop(ctx); err != nil {
			return sigContinue, wrapAt(err, ip, in.Op)
		}
		return sigContinue, nil

	case opcodes.OP_DUP:
		if len(ctx.Stack) == 0 {
			return sigContinue, newError(ErrStackUnderflow, ip, in.Op, "dup on empty stack")
		}
		if err := vm.push(ctx, ctx.Stack[len(ctx.Stack)-1]); err != nil {
			return sigContinue, wrapAt(err, ip, in.Op)
		}
		return sigContinue, nil

	case opcodes.OP_SWAP:
		n := len(ctx.Stack)
		if n < 2 {
			return sigContinue, newError(ErrStackUnderflow, ip, in.Op, "swap needs two values")
		}
		ctx.Stack[n-1], ctx.Stack[n-2] = ctx.Stack[n-2], ctx.Stack[n-1]
		return sigContinue, nil

	case opcodes.OP_PUSH_VARIABLE:
		name, err := vm.resolveConstantName(ctx, in.A)
		if err != nil {
			return sigContinue, err
		}
		v, err := lookupVariable(vm.heap, ctx, name)
		if err != nil {
			return sigContinue, wrapAt(err, ip, in.Op)
		}
		if err := vm.push(ctx, v); err != nil {
			return sigContinue, wrapAt(err, ip, in.Op)
		}
		return sigContinue, nil

	case opcodes.OP_STORE_VARIABLE:
		name, err := vm.resolveConstantName(ctx, in.A)
		if err != nil {
			return sigContinue, err
		}
		v, err := pop(ctx)
		if err != nil {
			return sigContinue, wrapAt(err, ip, in.Op)
		}
		if err := storeVariable(vm.heap, ctx, name, v); err != nil {
			return sigContinue, wrapAt(err, ip, in.Op)
		}
		return sigContinue, nil

	case opcodes.OP_GET_INDEX:
		return sigContinue, vm.execGetIndex(ctx, ip, in)
	case opcodes.OP_SET_INDEX:
		return sigContinue, vm.execSetIndex(ctx, ip, in)
	case opcodes.OP_GET_PROPERTY:
		return sigContinue, vm.execGetProperty(ctx, ip, in)
	case opcodes.OP_SET_PROPERTY:
		return sigContinue, vm.execSetProperty(ctx, ip, in)

	case opcodes.OP_CREATE_ARRAY:
		elems, err := popN(ctx, in.A)
		if err != nil {
			return sigContinue, wrapAt(err, ip, in.Op)
		}
		h := vm.allocate(&heap.VectorCell{Elems: elems})
		if err := vm.push(ctx, value.Of(value.Vector, h)); err != nil {
			return sigContinue, wrapAt(err, ip, in.Op)
		}
		return sigContinue, nil

	case opcodes.OP_CREATE_OBJECT:
		return sigContinue, vm.execCreateObject(ctx, ip, in)

	case opcodes.OP_CREATE_FUNCTION:
		return sigContinue, vm.execCreateFunction(ctx, ip, in)

	case opcodes.OP_CREATE_CLASS:
		return sigContinue, vm.execCreateClass(ctx, ip, in)
	case opcodes.OP_CREATE_TRAIT:
		return sigContinue, vm.execCreateTrait(ctx, ip, in)
	case opcodes.OP_CREATE_ENUM:
		return sigContinue, vm.execCreateEnum(ctx, ip, in)

	case opcodes.OP_CALL:
		return sigContinue, vm.execCall(ctx, ip, in)

	case opcodes.OP_RETURN:
		v, err := pop(ctx)
		if err != nil {
			return sigContinue, wrapAt(err, ip, in.Op)
		}
		return vm.execReturn(ctx, v)

	case opcodes.OP_JUMP:
		ctx.IP = ip + 1 + int(in.Offset)
		return sigContinue, nil

	case opcodes.OP_JUMP_IF_FALSE:
		v, err := pop(ctx)
		if err != nil {
			return sigContinue, wrapAt(err, ip, in.Op)
		}
		if !v.Truthy() {
			ctx.IP = ip + 1 + int(in.Offset)
		}
		return sigContinue, nil

	case opcodes.OP_LOOP_START:
		return sigContinue, vm.execLoopStart(ctx, ip, in)
	case opcodes.OP_LOOP_END:
		return sigContinue, vm.execLoopEnd(ctx, ip, in)
	case opcodes.OP_BREAK:
		return sigContinue, vm.execBreak(ctx, ip, in)
	case opcodes.OP_CONTINUE:
		return sigContinue, vm.execContinue(ctx, ip, in)

	case opcodes.OP_MATCH_START:
		return sigContinue, nil
	case opcodes.OP_MATCH_CASE:
		return sigContinue, vm.execMatchCase(ctx, ip, in)
	case opcodes.OP_MATCH_END:
		return sigContinue, nil

	case opcodes.OP_CREATE_COROUTINE:
		return sigContinue, vm.execCreateCoroutine(ctx, ip, in)
	case opcodes.OP_RESUME_COROUTINE:
		return sigContinue, vm.execResumeCoroutine(ctx, ip, in)
	case opcodes.OP_YIELD_COROUTINE:
		vals, err := popN(ctx, in.A)
		if err != nil {
			return sigContinue, wrapAt(err, ip, in.Op)
		}
		ctx.YieldedValues = vals
		return sigYield, nil

	case opcodes.OP_RAISE_EFFECT:
		return sigContinue, vm.execRaiseEffect(ctx, ip, in)
	case opcodes.OP_HANDLE_EFFECT:
		return sigContinue, vm.execHandleEffect(ctx, ip, in)
	case opcodes.OP_RESUME_EFFECT:
		return sigContinue, vm.execResumeEffect(ctx, ip, in)

	case opcodes.OP_AWAIT, opcodes.OP_BLOCK_ON, opcodes.OP_FIRE_THEN_IGNORE:
		// DESIGN.md Open Question 2: the calling convention for these is
		// explicitly undecided in spec.md §9; the opcodes exist so a
		// front end can reference them, but dispatching one is a runtime
		// error rather than silently doing nothing.
		return sigContinue, newError(ErrRuntimeError, ip, in.Op, "await: calling convention not defined")

	case opcodes.OP_HALT:
		ctx.ReturnValue = peekOrNull(ctx)
		ctx.Frames = nil
		return sigHalt, nil

	default:
		return sigContinue, newError(ErrRuntimeError, ip, in.Op, "unimplemented opcode")
	}
}

func peekOrNull(ctx *Context) value.Value {
	if len(ctx.Stack) == 0 {
		return value.NewNull()
	}
	return ctx.Stack[len(ctx.Stack)-1]
}

func wrapAt(err error, ip int, op opcodes.Opcode) error {
	if e, ok := err.(*Error); ok {
		if e.Op == opcodes.OP_NOP && e.IP == 0 {
			e.IP = ip
			e.Op = op
		}
		return e
	}
	return newError(ErrRuntimeError, ip, op, "%s", err.Error())
}
