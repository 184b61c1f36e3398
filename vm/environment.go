package vm

import (
	"github.com/nyar-lang/nyarvm/heap"
	"github.com/nyar-lang/nyarvm/value"
)

// currentFrameBase reports the ctx.EnvChain index the topmost frame's
// own scopes start at — 0 at the root of a fiber, or the base recorded
// when that frame (an ordinary call or a handler dispatch) was pushed.
// Variable lookup never crosses this boundary (other than the final
// fallback to the global environment); effect-handler lookup is not
// bounded by it and walks the whole handler chain. This is what keeps a
// callee lexically isolated from its
// caller's locals: spec.md §9 names nearest-scope-first lookup, but
// says nothing about call isolation, so this module treats "nearest
// scope" as bounded by the current activation the way every lexically
// scoped language requires.
func currentFrameBase(ctx *Context) int {
	if len(ctx.Frames) == 0 {
		return 0
	}
	return ctx.Frames[len(ctx.Frames)-1].EnvChainBase
}

// lookupVariable walks ctx.EnvChain from innermost to the current
// frame's base, chasing each entry's single parent hop (always the
// global environment, for ordinary environments), then falls back to
// the global environment itself so top-level declarations stay visible
// from inside any call.
func lookupVariable(h *heap.Heap, ctx *Context, name string) (value.Value, error) {
	base := currentFrameBase(ctx)
	for i := len(ctx.EnvChain) - 1; i >= base; i-- {
		if v, ok, err := lookupInChain(h, ctx.EnvChain[i], name); err != nil {
			return value.Value{}, err
		} else if ok {
			return v, nil
		}
	}
	if base > 0 {
		if v, ok, err := lookupInChain(h, ctx.EnvChain[0], name); err != nil {
			return value.Value{}, err
		} else if ok {
			return v, nil
		}
	}
	return value.Value{}, &Error{Kind: ErrUndefinedVariable, Message: name}
}

func lookupInChain(h *heap.Heap, start value.Handle, name string) (value.Value, bool, error) {
	env := start
	for {
		cell, err := h.View(env)
		if err != nil {
			return value.Value{}, false, translateHeapError(err)
		}
		ec, ok := cell.(*heap.EnvironmentCell)
		if !ok {
			return value.Value{}, false, &Error{Kind: ErrRuntimeError, Message: "handle does not name an environment"}
		}
		if v, ok := ec.Lookup(name); ok {
			return v, true, nil
		}
		if !ec.HasParent {
			return value.Value{}, false, nil
		}
		env = ec.Parent
	}
}

// storeVariable implements spec.md §9's resolved open question: mutate
// the nearest enclosing scope that already binds name, else declare it
// in the innermost scope of the current activation.
func storeVariable(h *heap.Heap, ctx *Context, name string, v value.Value) error {
	base := currentFrameBase(ctx)
	for i := len(ctx.EnvChain) - 1; i >= base; i-- {
		if ok, err := defineIfBound(h, ctx.EnvChain[i], name, v); err != nil {
			return err
		} else if ok {
			return nil
		}
	}
	if base > 0 {
		if ok, err := defineIfBound(h, ctx.EnvChain[0], name, v); err != nil {
			return err
		} else if ok {
			return nil
		}
	}
	return defineInEnv(h, ctx.EnvChain[len(ctx.EnvChain)-1], name, v)
}

func defineIfBound(h *heap.Heap, start value.Handle, name string, v value.Value) (bool, error) {
	env := start
	for {
		cell, err := h.View(env)
		if err != nil {
			return false, translateHeapError(err)
		}
		ec, ok := cell.(*heap.EnvironmentCell)
		if !ok {
			return false, &Error{Kind: ErrRuntimeError, Message: "handle does not name an environment"}
		}
		if _, ok := ec.Lookup(name); ok {
			ec.Define(name, v)
			return true, nil
		}
		if !ec.HasParent {
			return false, nil
		}
		env = ec.Parent
	}
}

func defineInEnv(h *heap.Heap, at value.Handle, name string, v value.Value) error {
	cell, err := h.View(at)
	if err != nil {
		return translateHeapError(err)
	}
	ec, ok := cell.(*heap.EnvironmentCell)
	if !ok {
		return &Error{Kind: ErrRuntimeError, Message: "handle does not name an environment"}
	}
	ec.Define(name, v)
	return nil
}

// flattenVisibleScope builds a new, parentless EnvironmentCell holding
// a copy of every binding visible to the current activation — the
// closure capture spec.md §3 describes as a function "snapshotting the
// variables that were in scope at the time of function creation",
// grounded on original_source's create_closure_environment, which
// copies named values into a fresh map rather than keeping a live link.
func flattenVisibleScope(h *heap.Heap, ctx *Context) (value.Handle, error) {
	base := currentFrameBase(ctx)
	flat := heap.NewEnvironmentCell(value.Handle(0), false)
	if base > 0 {
		if err := copyBindings(h, ctx.EnvChain[0], flat); err != nil {
			return 0, err
		}
	}
	for i := base; i < len(ctx.EnvChain); i++ {
		if err := copyBindings(h, ctx.EnvChain[i], flat); err != nil {
			return 0, err
		}
	}
	return h.Allocate(flat), nil
}

func copyBindings(h *heap.Heap, start value.Handle, into *heap.EnvironmentCell) error {
	env := start
	var chain []value.Handle
	for {
		cell, err := h.View(env)
		if err != nil {
			return translateHeapError(err)
		}
		ec, ok := cell.(*heap.EnvironmentCell)
		if !ok {
			return &Error{Kind: ErrRuntimeError, Message: "handle does not name an environment"}
		}
		chain = append(chain, env)
		if !ec.HasParent {
			break
		}
		env = ec.Parent
	}
	// Apply outermost-first so innermost bindings win on name collision.
	for i := len(chain) - 1; i >= 0; i-- {
		cell, _ := h.View(chain[i])
		ec := cell.(*heap.EnvironmentCell)
		for idx, n := range ec.Names {
			into.Define(n, ec.Vals[idx])
		}
	}
	return nil
}

// newCallEnvironment builds the single Environment a CALL or a handler
// dispatch pushes: a copy of the callee's captured closure (if any)
// with parameters bound on top, parented to the global environment so
// top-level declarations stay reachable in one hop.
func newCallEnvironment(h *heap.Heap, globalEnv value.Handle, hasClosure bool, closure value.Handle, paramNames []string, args []value.Value) (value.Handle, error) {
	env := heap.NewEnvironmentCell(globalEnv, true)
	if hasClosure {
		if err := copyBindings(h, closure, env); err != nil {
			return 0, err
		}
	}
	for i, n := range paramNames {
		env.Define(n, args[i])
	}
	return h.Allocate(env), nil
}
