package vm

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/nyar-lang/nyarvm/heap"
	"github.com/nyar-lang/nyarvm/opcodes"
	"github.com/nyar-lang/nyarvm/value"
)

// fiberOutcomeKind reports why runFiber stopped driving a context.
type fiberOutcomeKind int

const (
	fiberCompleted fiberOutcomeKind = iota
	fiberYielded
)

type fiberOutcome struct {
	kind    fiberOutcomeKind
	value   value.Value
	yielded []value.Value
}

// runFiber drives ctx one instruction at a time until it halts,
// returns from an empty frame stack, or yields. While a fiber is being
// driven it is pushed onto vm.liveContexts, so Collect can find its
// roots even though it only exists on this Go call stack (a suspended
// ancestor fiber, paused mid-ResumeCoroutine, is otherwise unreachable
// from any heap cell or from vm itself).
func (vm *VM) runFiber(ctx *Context) (fiberOutcome, error) {
	vm.liveContexts = append(vm.liveContexts, ctx)
	defer func() {
		vm.liveContexts = vm.liveContexts[:len(vm.liveContexts)-1]
	}()
	for {
		sig, err := vm.step(ctx)
		if err != nil {
			return fiberOutcome{}, err
		}
		switch sig {
		case sigContinue:
			continue
		case sigHalt, sigReturnTerminal:
			return fiberOutcome{kind: fiberCompleted, value: ctx.ReturnValue}, nil
		case sigYield:
			return fiberOutcome{kind: fiberYielded, yielded: ctx.YieldedValues}, nil
		default:
			return fiberOutcome{}, newError(ErrRuntimeError, ctx.IP, opcodes.OP_NOP, "unknown step signal")
		}
	}
}

// bundleValues turns a YieldCoroutine or completion result's value
// list into the single Value a ResumeCoroutine call pushes: the lone
// value itself for the common single-value case, Null for none, or a
// freshly allocated Vector for more than one.
func (vm *VM) bundleValues(vals []value.Value) value.Value {
	switch len(vals) {
	case 0:
		return value.NewNull()
	case 1:
		return vals[0]
	default:
		h := vm.allocate(&heap.VectorCell{Elems: append([]value.Value(nil), vals...)})
		return value.Of(value.Vector, h)
	}
}

// execCreateCoroutine implements OP_CREATE_COROUTINE: pop a Function
// and wrap it in a fresh Coroutine in the Initial state. Nothing runs
// yet — spec.md §4.5 only starts a coroutine's body on its first
// ResumeCoroutine.
func (vm *VM) execCreateCoroutine(ctx *Context, ip int, in opcodes.Instruction) error {
	fv, err := pop(ctx)
	if err != nil {
		return wrapAt(err, ip, in.Op)
	}
	if fv.Type() != value.Function {
		return newError(ErrTypeMismatch, ip, in.Op, "coroutine body must be a Function, found %s", fv.Type())
	}
	h := vm.allocate(&heap.CoroutineCell{TraceID: uuid.New().String(), State: heap.CoroutineInitial, FuncHandle: fv.Handle()})
	if err := vm.push(ctx, value.Of(value.Coroutine, h)); err != nil {
		return wrapAt(err, ip, in.Op)
	}
	return nil
}

// execResumeCoroutine implements OP_RESUME_COROUTINE. Operand A is the
// argument count, meaningful only when starting an Initial coroutine
// (it binds the body's parameters); resuming an already-Suspended
// coroutine with a nonzero count is rejected, since a plain resume has
// no defined injection point the way an effect's ResumeEffect does.
// A coroutine whose body fails internally transitions to Failed and
// that failure does NOT propagate to the resumer as a Go error —
// spec.md §4.5 states the resumer "may observe Failed state without
// itself failing" — so the resumer instead receives Null and can
// inspect the coroutine's State through its own tooling.
func (vm *VM) execResumeCoroutine(ctx *Context, ip int, in opcodes.Instruction) error {
	args, err := popN(ctx, in.A)
	if err != nil {
		return wrapAt(err, ip, in.Op)
	}
	cv, err := pop(ctx)
	if err != nil {
		return wrapAt(err, ip, in.Op)
	}
	if cv.Type() != value.Coroutine {
		return newError(ErrTypeMismatch, ip, in.Op, "cannot resume a %s", cv.Type())
	}
	cell, err := vm.heap.View(cv.Handle())
	if err != nil {
		return wrapAt(translateHeapError(err), ip, in.Op)
	}
	cc, ok := cell.(*heap.CoroutineCell)
	if !ok {
		return newError(ErrRuntimeError, ip, in.Op, "handle is not a coroutine")
	}

	fnCell, err := vm.heap.View(cc.FuncHandle)
	if err != nil {
		return wrapAt(translateHeapError(err), ip, in.Op)
	}
	fn, ok := fnCell.(*heap.FunctionCell)
	if !ok {
		return newError(ErrRuntimeError, ip, in.Op, "coroutine does not name a function")
	}

	if cc.State == heap.CoroutineSuspended && in.A != 0 {
		return newError(ErrRuntimeError, ip, in.Op, "resuming a suspended coroutine takes no arguments")
	}
	result, err := vm.driveCoroutine(cc, fn, args)
	if err != nil {
		return wrapAt(err, ip, in.Op)
	}
	if err := vm.push(ctx, result); err != nil {
		return wrapAt(err, ip, in.Op)
	}
	return nil
}

// driveCoroutine starts or resumes cc's body and reports the single
// value OP_RESUME_COROUTINE pushes back: the bundled yield, the completion result, or Null for a
// coroutine that just failed internally — spec.md §4.5's "the resumer
// may observe Failed state without itself failing".
func (vm *VM) driveCoroutine(cc *heap.CoroutineCell, fn *heap.FunctionCell, args []value.Value) (value.Value, error) {
	var fiberCtx *Context
	switch cc.State {
	case heap.CoroutineInitial:
		if len(args) != len(fn.Params) {
			return value.Value{}, &Error{Kind: ErrArgumentCountMismatch, Message: fmt.Sprintf("coroutine expected %d args, found %d", len(fn.Params), len(args))}
		}
		envHandle, err := newCallEnvironment(vm.heap, vm.globalEnv, fn.HasEnv, fn.Env, fn.Params, args)
		if err != nil {
			return value.Value{}, err
		}
		fiberCtx = newContext(envHandle, fn.Body, fn.Constants)
	case heap.CoroutineSuspended:
		fiberCtx = newContext(value.Handle(0), fn.Body, fn.Constants)
		fiberCtx.restore(cc.Snapshot)
	default:
		return value.Value{}, &Error{Kind: ErrCoroutineError, Message: fmt.Sprintf("coroutine is %s, cannot resume", cc.State)}
	}

	cc.State = heap.CoroutineRunning
	outcome, err := vm.runFiber(fiberCtx)
	if err != nil {
		cc.State = heap.CoroutineFailed
		cc.FailureMessage = err.Error()
		cc.HasSnapshot = false
		cc.Snapshot = heap.ContextSnapshot{}
		return value.NewNull(), nil
	}

	switch outcome.kind {
	case fiberYielded:
		cc.State = heap.CoroutineSuspended
		cc.HasSnapshot = true
		cc.Snapshot = fiberCtx.snapshot()
		return vm.bundleValues(outcome.yielded), nil
	default:
		cc.State = heap.CoroutineCompleted
		cc.HasSnapshot = false
		cc.Snapshot = heap.ContextSnapshot{}
		cc.HasResult = true
		cc.Result = outcome.value
		return outcome.value, nil
	}
}
