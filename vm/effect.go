package vm

import (
	"github.com/google/uuid"

	"github.com/nyar-lang/nyarvm/heap"
	"github.com/nyar-lang/nyarvm/opcodes"
	"github.com/nyar-lang/nyarvm/value"
)

// execHandleEffect implements OP_HANDLE_EFFECT: pop a handler function,
// install it on the dynamic handler chain. It stays installed until the
// installing frame returns (spec.md §3: "popped by RESUME or by scope
// exit") — "scope exit" is implemented at OP_RETURN by truncating
// ctx.HandlerChain back to the returning frame's HandlerChainBase.
func (vm *VM) execHandleEffect(ctx *Context, ip int, in opcodes.Instruction) error {
	name, err := vm.resolveConstantName(ctx, in.A)
	if err != nil {
		return err
	}
	fv, err := pop(ctx)
	if err != nil {
		return wrapAt(err, ip, in.Op)
	}
	if fv.Type() != value.Function {
		return newError(ErrTypeMismatch, ip, in.Op, "handler body must be a function, found %s", fv.Type())
	}
	hc := &heap.HandlerCell{
		TraceID:         uuid.New().String(),
		EffectName:      name,
		HandlerFunc:     fv.Handle(),
		InstallStackLen: len(ctx.Stack),
		InstallFrameLen: len(ctx.Frames),
		InstallEnvLen:   len(ctx.EnvChain),
		InstallReturnIP: ctx.IP,
	}
	h := vm.allocate(hc)
	ctx.HandlerChain = append(ctx.HandlerChain, h)
	return nil
}

// execRaiseEffect implements OP_RAISE_EFFECT: walk the handler chain
// leaves-first (innermost, the end of the slice, first) for a matching
// effect name. On a hit, it captures the raiser's continuation into
// the handler's resume point and transfers control into the handler
// body; a miss fails with UnhandledEffect.
func (vm *VM) execRaiseEffect(ctx *Context, ip int, in opcodes.Instruction) error {
	name, err := vm.resolveConstantName(ctx, in.A)
	if err != nil {
		return err
	}
	args, err := popN(ctx, in.B)
	if err != nil {
		return wrapAt(err, ip, in.Op)
	}

	var handlerHandle value.Handle
	var hc *heap.HandlerCell
	found := false
	for i := len(ctx.HandlerChain) - 1; i >= 0; i-- {
		cell, err := vm.heap.View(ctx.HandlerChain[i])
		if err != nil {
			return wrapAt(translateHeapError(err), ip, in.Op)
		}
		candidate, ok := cell.(*heap.HandlerCell)
		if !ok {
			return newError(ErrRuntimeError, ip, in.Op, "handler chain entry is not a HandlerCell")
		}
		if candidate.EffectName == name {
			handlerHandle = ctx.HandlerChain[i]
			hc = candidate
			found = true
			break
		}
	}
	if !found {
		return newError(ErrUnhandledEffect, ip, in.Op, "%s", name)
	}

	fnCell, err := vm.heap.View(hc.HandlerFunc)
	if err != nil {
		return wrapAt(translateHeapError(err), ip, in.Op)
	}
	fn, ok := fnCell.(*heap.FunctionCell)
	if !ok {
		return newError(ErrRuntimeError, ip, in.Op, "handler does not name a function")
	}
	if len(args) != len(fn.Params) {
		return newError(ErrArgumentCountMismatch, ip, in.Op, "handler %s expected %d args, found %d", name, len(fn.Params), len(args))
	}

	// Capture the raise site's full continuation before transferring
	// control: spec.md §4.6's deep resumption restores exactly this.
	hc.ResumePoint = ctx.snapshot()
	hc.HasResumePoint = true

	envHandle, err := newCallEnvironment(vm.heap, vm.globalEnv, fn.HasEnv, fn.Env, fn.Params, args)
	if err != nil {
		return wrapAt(err, ip, in.Op)
	}
	frame := heap.Frame{
		ReturnIP:         ctx.IP,
		BasePointer:      len(ctx.Stack),
		EnvChainBase:     len(ctx.EnvChain),
		HandlerChainBase: len(ctx.HandlerChain),
		IsHandlerFrame:   true,
		HandlingHandler:  handlerHandle,
	}
	ctx.Frames = append(ctx.Frames, frame)
	ctx.EnvChain = append(ctx.EnvChain, envHandle)
	ctx.IP = 0
	return nil
}

// execResumeEffect implements OP_RESUME_EFFECT: restore the raiser's
// captured continuation and push the handler-supplied values at the
// raise site, discarding the handler's own frames (deep resumption).
// A second call against the same raise fails with CoroutineError, the
// spec's chosen error kind for "resume used more than once" — the same
// rule a one-shot coroutine resume enforces.
func (vm *VM) execResumeEffect(ctx *Context, ip int, in opcodes.Instruction) error {
	if len(ctx.Frames) == 0 || !ctx.Frames[len(ctx.Frames)-1].IsHandlerFrame {
		return newError(ErrRuntimeError, ip, in.Op, "resume effect outside a handler body")
	}
	handlerHandle := ctx.Frames[len(ctx.Frames)-1].HandlingHandler
	cell, err := vm.heap.View(handlerHandle)
	if err != nil {
		return wrapAt(translateHeapError(err), ip, in.Op)
	}
	hc, ok := cell.(*heap.HandlerCell)
	if !ok {
		return newError(ErrRuntimeError, ip, in.Op, "handler frame does not name a HandlerCell")
	}
	if !hc.HasResumePoint {
		return newError(ErrCoroutineError, ip, in.Op, "cannot resume twice")
	}

	values, err := popN(ctx, in.A)
	if err != nil {
		return wrapAt(err, ip, in.Op)
	}

	snapshot := hc.ResumePoint
	hc.HasResumePoint = false
	ctx.restore(snapshot)
	for _, v := range values {
		if err := vm.push(ctx, v); err != nil {
			return wrapAt(err, ip, in.Op)
		}
	}
	return nil
}
