package vm

import (
	"github.com/google/uuid"

	"github.com/nyar-lang/nyarvm/heap"
	"github.com/nyar-lang/nyarvm/opcodes"
	"github.com/nyar-lang/nyarvm/value"
)

// loopMarker is the runtime bookkeeping LoopStart pushes so Break and
// Continue can find their target without the instruction set itself
// carrying precomputed jump targets. It is an alias of heap.LoopMarker
// so a suspended fiber's loop state can ride inside a ContextSnapshot.
type loopMarker = heap.LoopMarker

// Context is the full mutable state of whichever fiber is currently
// live: the main fiber, or a coroutine that has been resumed into
// Running. Exactly one Context is ever live at a time, per spec.md
// §5 — this type is never shared across goroutines.
//
// Frames starts empty for every fiber, main or coroutine: Return
// executed with no frames to pop is the terminal exit for that fiber
// (Glossary: "Return with an empty frame stack is the terminal
// exit"), which is what lets a coroutine's own body run to completion
// using the exact same Return handling as ordinary function calls.
// rootInstructions is what that empty-frame state executes: the
// program's top-level instructions for the main fiber, or the
// coroutine function's own body for a coroutine fiber.
type Context struct {
	// TraceID identifies this Context for diagnostics — a uuid minted
	// when the Context is created, never touched again. A coroutine is
	// driven through a fresh Context on every resume, so each resume gets
	// its own id; the coroutine's stable identity is its CoroutineCell's
	// TraceID.
	TraceID          string
	IP               int
	Stack            []value.Value
	Frames           []heap.Frame
	EnvChain         []value.Handle
	HandlerChain     []value.Handle
	LoopStack        []loopMarker

	// ReturnValue is set by OP_HALT or by an OP_RETURN executed with an
	// empty frame stack — the two ways a fiber's drive loop terminates
	// normally (Glossary: "Return with an empty frame stack is the
	// terminal exit").
	ReturnValue value.Value
	// YieldedValues is set by OP_YIELD_COROUTINE; only meaningful
	// immediately after a step reports sigYield.
	YieldedValues []value.Value

	rootInstructions []opcodes.Instruction
	rootConstants    []opcodes.Constant
}

func newContext(globalEnv value.Handle, rootInstructions []opcodes.Instruction, rootConstants []opcodes.Constant) *Context {
	return &Context{
		TraceID:          uuid.New().String(),
		EnvChain:         []value.Handle{globalEnv},
		rootInstructions: rootInstructions,
		rootConstants:    rootConstants,
	}
}

// Roots returns every handle directly reachable from this context —
// the root set the collector marks from on top of the heap's pinned
// registry.
func (c *Context) Roots() []value.Handle {
	var out []value.Handle
	for _, v := range c.Stack {
		out = appendIfComposite(out, v)
	}
	for _, f := range c.Frames {
		if f.HasFunc {
			out = append(out, f.FuncHandle)
		}
		if f.IsHandlerFrame {
			out = append(out, f.HandlingHandler)
		}
	}
	out = append(out, c.EnvChain...)
	out = append(out, c.HandlerChain...)
	return out
}

// rewrite updates every handle this context holds through fwd, called
// from the Collect external-root callback.
func (c *Context) rewrite(fwd func(value.Handle) value.Handle) {
	for i, v := range c.Stack {
		c.Stack[i] = rewriteIfComposite(v, fwd)
	}
	for i, f := range c.Frames {
		if f.HasFunc {
			c.Frames[i].FuncHandle = fwd(f.FuncHandle)
		}
		if f.IsHandlerFrame {
			c.Frames[i].HandlingHandler = fwd(f.HandlingHandler)
		}
	}
	for i, h := range c.EnvChain {
		c.EnvChain[i] = fwd(h)
	}
	for i, h := range c.HandlerChain {
		c.HandlerChain[i] = fwd(h)
	}
}

// snapshot copies the context into a heap.ContextSnapshot for
// suspension (coroutine yield, or effect raise).
func (c *Context) snapshot() heap.ContextSnapshot {
	return heap.ContextSnapshot{
		IP:           c.IP,
		Stack:        append([]value.Value(nil), c.Stack...),
		Frames:       append([]heap.Frame(nil), c.Frames...),
		EnvChain:     append([]value.Handle(nil), c.EnvChain...),
		HandlerChain: append([]value.Handle(nil), c.HandlerChain...),
		LoopStack:    append([]loopMarker(nil), c.LoopStack...),
	}
}

// restore replaces the live context's state with a previously
// captured snapshot.
func (c *Context) restore(s heap.ContextSnapshot) {
	c.IP = s.IP
	c.Stack = append([]value.Value(nil), s.Stack...)
	c.Frames = append([]heap.Frame(nil), s.Frames...)
	c.EnvChain = append([]value.Handle(nil), s.EnvChain...)
	c.HandlerChain = append([]value.Handle(nil), s.HandlerChain...)
	c.LoopStack = append([]loopMarker(nil), s.LoopStack...)
}

func appendIfComposite(handles []value.Handle, v value.Value) []value.Handle {
	switch v.Type() {
	case value.Null, value.Boolean:
		return handles
	default:
		return append(handles, v.Handle())
	}
}

func rewriteIfComposite(v value.Value, fwd func(value.Handle) value.Handle) value.Value {
	switch v.Type() {
	case value.Null, value.Boolean:
		return v
	default:
		return value.Of(v.Type(), fwd(v.Handle()))
	}
}
