package vm

import (
	"github.com/nyar-lang/nyarvm/heap"
	"github.com/nyar-lang/nyarvm/opcodes"
	"github.com/nyar-lang/nyarvm/value"
)

// execCall implements OP_CALL: pop a Function and n arguments (stack
// order = call order), push a new frame binding parameters + closure,
// and jump into the callee's body. A native Function (no Body,
// Native non-nil) is invoked immediately instead — the path every
// host-provided primitive (arithmetic, collection builtins) uses,
// since the instruction set itself has no arithmetic opcodes.
func (vm *VM) execCall(ctx *Context, ip int, in opcodes.Instruction) error {
	args, err := popN(ctx, in.A)
	if err != nil {
		return wrapAt(err, ip, in.Op)
	}
	fv, err := pop(ctx)
	if err != nil {
		return wrapAt(err, ip, in.Op)
	}
	if fv.Type() != value.Function {
		return newError(ErrNotCallable, ip, in.Op, "cannot call a %s", fv.Type())
	}
	cell, err := vm.heap.View(fv.Handle())
	if err != nil {
		return wrapAt(translateHeapError(err), ip, in.Op)
	}
	fn, ok := cell.(*heap.FunctionCell)
	if !ok {
		return newError(ErrRuntimeError, ip, in.Op, "handle is not a function")
	}

	if fn.Native != nil {
		result, err := fn.Native(args)
		if err != nil {
			return newError(ErrRuntimeError, ip, in.Op, "%s", err.Error())
		}
		if err := vm.push(ctx, result); err != nil {
			return wrapAt(err, ip, in.Op)
		}
		return nil
	}

	if len(args) != len(fn.Params) {
		return newError(ErrArgumentCountMismatch, ip, in.Op, "expected %d, found %d", len(fn.Params), len(args))
	}
	if len(ctx.Frames) >= vm.maxCallDepth {
		return newError(ErrStackOverflow, ip, in.Op, "call depth exceeds %d", vm.maxCallDepth)
	}

	envHandle, err := newCallEnvironment(vm.heap, vm.globalEnv, fn.HasEnv, fn.Env, fn.Params, args)
	if err != nil {
		return wrapAt(err, ip, in.Op)
	}
	frame := heap.Frame{
		ReturnIP:         ctx.IP,
		BasePointer:      len(ctx.Stack),
		EnvChainBase:     len(ctx.EnvChain),
		HandlerChainBase: len(ctx.HandlerChain),
		HasFunc:          true,
		FuncHandle:       fv.Handle(),
	}
	ctx.Frames = append(ctx.Frames, frame)
	ctx.EnvChain = append(ctx.EnvChain, envHandle)
	ctx.IP = 0
	return nil
}

// execReturn implements OP_RETURN. With an empty frame stack this is
// the terminal exit for the fiber (Glossary). Returning out of a
// handler frame is the "handler returned without resuming" case:
// spec.md §8 requires control to unwind to the installing frame, not
// the raiser.
func (vm *VM) execReturn(ctx *Context, result value.Value) (stepSignal, error) {
	if len(ctx.Frames) == 0 {
		ctx.ReturnValue = result
		return sigReturnTerminal, nil
	}

	n := len(ctx.Frames) - 1
	f := ctx.Frames[n]
	ctx.Frames = ctx.Frames[:n]

	if f.IsHandlerFrame {
		cell, err := vm.heap.View(f.HandlingHandler)
		if err != nil {
			return sigContinue, translateHeapError(err)
		}
		hc, ok := cell.(*heap.HandlerCell)
		if !ok {
			return sigContinue, &Error{Kind: ErrRuntimeError, Message: "handler frame does not name a HandlerCell"}
		}
		hc.HasResumePoint = false
		ctx.Frames = ctx.Frames[:hc.InstallFrameLen]
		ctx.EnvChain = ctx.EnvChain[:hc.InstallEnvLen]
		ctx.Stack = ctx.Stack[:hc.InstallStackLen]
		ctx.IP = hc.InstallReturnIP
		if err := vm.push(ctx, result); err != nil {
			return sigContinue, err
		}
		return sigContinue, nil
	}

	ctx.EnvChain = ctx.EnvChain[:f.EnvChainBase]
	ctx.HandlerChain = ctx.HandlerChain[:f.HandlerChainBase]
	ctx.Stack = ctx.Stack[:f.BasePointer]
	ctx.IP = f.ReturnIP
	if err := vm.push(ctx, result); err != nil {
		return sigContinue, err
	}
	return sigContinue, nil
}
