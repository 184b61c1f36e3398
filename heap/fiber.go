package heap

import (
	"fmt"

	"github.com/nyar-lang/nyarvm/value"
)

// Frame is one entry on a fiber's call stack: the IP to resume at in
// the caller, the value-stack depth the callee's frame started from,
// the environment- and handler-chain lengths to truncate back to on
// return, and the handle of the function it is executing.
//
// A frame with IsHandlerFrame true is not an ordinary call: it is the
// handler body a RaiseEffect dispatched into, and HandlingHandler
// names the HandlerCell it is servicing, so ResumeEffect can find the
// right resume point and the collector keeps that cell alive for as
// long as its handler body is running.
type Frame struct {
	ReturnIP         int
	BasePointer      int
	EnvChainBase     int
	HandlerChainBase int
	HasFunc          bool
	FuncHandle       value.Handle

	IsHandlerFrame  bool
	HandlingHandler value.Handle
}

// ContextSnapshot is a heap-resident copy of a fiber's full execution
// state: everything a suspended coroutine or an in-flight effect
// continuation needs to resume exactly where it left off. Both the
// coroutine engine and the effect engine reify into this single
// shape, per spec.md §9's instruction to factor a shared
// ContextSnapshot abstraction.
type ContextSnapshot struct {
	IP           int
	Stack        []value.Value
	Frames       []Frame
	EnvChain     []value.Handle
	HandlerChain []value.Handle
	// LoopStack is opaque runtime bookkeeping (labels and instruction
	// indices, no handles) carried along so a suspended fiber resumes
	// mid-loop correctly; the collector never needs to trace it.
	LoopStack []LoopMarker
}

// LoopMarker mirrors vm's internal loop bookkeeping so it can ride
// inside a ContextSnapshot without package heap depending on package
// vm.
type LoopMarker struct {
	HasLabel bool
	Label    string
	StartIdx int
	EndIdx   int
}

func (s *ContextSnapshot) trace(out []value.Handle) []value.Handle {
	for _, v := range s.Stack {
		out = appendIfComposite(out, v)
	}
	for _, f := range s.Frames {
		if f.HasFunc {
			out = append(out, f.FuncHandle)
		}
		if f.IsHandlerFrame {
			out = append(out, f.HandlingHandler)
		}
	}
	out = append(out, s.EnvChain...)
	out = append(out, s.HandlerChain...)
	return out
}

func (s *ContextSnapshot) rewrite(fwd func(value.Handle) value.Handle) {
	for i, v := range s.Stack {
		s.Stack[i] = rewriteIfComposite(v, fwd)
	}
	for i, f := range s.Frames {
		if f.HasFunc {
			s.Frames[i].FuncHandle = fwd(f.FuncHandle)
		}
		if f.IsHandlerFrame {
			s.Frames[i].HandlingHandler = fwd(f.HandlingHandler)
		}
	}
	for i, h := range s.EnvChain {
		s.EnvChain[i] = fwd(h)
	}
	for i, h := range s.HandlerChain {
		s.HandlerChain[i] = fwd(h)
	}
}

// CoroutineState is the five-state machine spec.md §4.5 describes.
type CoroutineState byte

const (
	CoroutineInitial CoroutineState = iota
	CoroutineRunning
	CoroutineSuspended
	CoroutineCompleted
	CoroutineFailed
)

func (s CoroutineState) String() string {
	switch s {
	case CoroutineInitial:
		return "initial"
	case CoroutineRunning:
		return "running"
	case CoroutineSuspended:
		return "suspended"
	case CoroutineCompleted:
		return "completed"
	case CoroutineFailed:
		return "failed"
	default:
		return fmt.Sprintf("coroutine-state(%d)", byte(s))
	}
}

// CoroutineCell backs the Coroutine variant. Initial coroutines carry
// no saved context; a Suspended coroutine's Snapshot is fully
// populated; a Completed one retains only its Result, a Failed one
// only its FailureMessage.
type CoroutineCell struct {
	// TraceID is a diagnostic identity assigned when the coroutine is
	// created (a uuid, per DESIGN.md) — never consulted by any control-
	// flow decision, only surfaced in Dump output and error messages so
	// an embedder can tell two Suspended coroutines apart in a log.
	TraceID     string
	State       CoroutineState
	FuncHandle  value.Handle
	HasSnapshot bool
	Snapshot    ContextSnapshot
	HasResult   bool
	Result      value.Value
	FailureMessage string
}

func (c *CoroutineCell) Trace() []value.Handle {
	out := []value.Handle{c.FuncHandle}
	if c.HasSnapshot {
		out = c.Snapshot.trace(out)
	}
	if c.HasResult {
		out = appendIfComposite(out, c.Result)
	}
	return out
}

func (c *CoroutineCell) Rewrite(fwd func(value.Handle) value.Handle) {
	c.FuncHandle = fwd(c.FuncHandle)
	if c.HasSnapshot {
		c.Snapshot.rewrite(fwd)
	}
	if c.HasResult {
		c.Result = rewriteIfComposite(c.Result, fwd)
	}
}

// HandlerCell backs the Handler variant: an effect name, the handler
// function, the context depths recorded when HandleEffect installed
// it (so a handler return without resuming can truncate back to
// exactly the installing frame), and — only while a raise this
// handler is servicing is in flight — the raiser's captured
// continuation.
type HandlerCell struct {
	// TraceID identifies this particular install of a handler (a uuid,
	// per DESIGN.md), distinct from EffectName since the same effect
	// name can be installed by nested or repeated HandleEffect calls.
	TraceID         string
	EffectName      string
	HandlerFunc     value.Handle
	InstallStackLen int
	InstallFrameLen int
	InstallEnvLen   int
	// InstallReturnIP is the instruction right after HandleEffect ran;
	// a handler body that returns without resuming unwinds here, into
	// the installing frame, not to the raiser (spec.md §8).
	InstallReturnIP int

	HasResumePoint bool
	ResumePoint    ContextSnapshot
}

func (c *HandlerCell) Trace() []value.Handle {
	out := []value.Handle{c.HandlerFunc}
	if c.HasResumePoint {
		out = c.ResumePoint.trace(out)
	}
	return out
}

func (c *HandlerCell) Rewrite(fwd func(value.Handle) value.Handle) {
	c.HandlerFunc = fwd(c.HandlerFunc)
	if c.HasResumePoint {
		c.ResumePoint.rewrite(fwd)
	}
}
