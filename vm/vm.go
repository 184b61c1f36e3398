// Package vm implements the Nyar interpreter: the tri-phase mark-compact
// heap's embedder, the instruction dispatch loop, and the coroutine and
// effect engines built on top of it.
package vm

import (
	"fmt"

	"github.com/nyar-lang/nyarvm/heap"
	"github.com/nyar-lang/nyarvm/value"
)

// VMState is the coarse lifecycle spec.md §6 assigns to a VM instance
// as a whole, distinct from any one coroutine's CoroutineState.
type VMState int

const (
	VMInitial VMState = iota
	VMRunning
	VMCompleted
	VMFailed
)

func (s VMState) String() string {
	switch s {
	case VMInitial:
		return "initial"
	case VMRunning:
		return "running"
	case VMCompleted:
		return "completed"
	case VMFailed:
		return "failed"
	default:
		return fmt.Sprintf("vm-state(%d)", int(s))
	}
}

// VM owns the heap, the global environment, and the table of
// top-level functions a loaded Program registers. It drives exactly
// one fiber at a time; nested fibers (coroutines) are driven
// recursively on the same goroutine, never concurrently (effect
// handlers run inside the raising fiber's own Context),
// matching spec.md §5's single-threaded execution model.
type VM struct {
	heap      *heap.Heap
	globalEnv value.Handle

	// functionValues holds one Function Value per Program.Functions
	// entry, indexed by ConstFunctionRef, and is pinned for the
	// lifetime of the VM so an as-yet-uncalled top-level function
	// always survives collection.
	functionValues []value.Value

	maxStackDepth int
	maxCallDepth  int
	gcThreshold   int
	allocCount    int

	// liveContexts is every Context currently being driven by a
	// runFiber call somewhere on this goroutine's stack — the main
	// program's root context plus one entry per nested
	// ResumeCoroutine still in flight. Collect roots
	// from all of them, not only the innermost, since a suspended
	// ancestor fiber holds references no heap cell traces.
	liveContexts []*Context

	state VMState
}

// New constructs a VM with an empty heap and a fresh, permanently
// pinned global environment, following the teacher's functional-options
// constructor pattern.
func New(opts ...Option) *VM {
	h := heap.New()
	globalEnv := h.Allocate(heap.NewEnvironmentCell(value.Handle(0), false))
	h.Pin(globalEnv)

	vm := &VM{
		heap:          h,
		globalEnv:     globalEnv,
		maxStackDepth: defaultMaxStackDepth,
		maxCallDepth:  defaultMaxCallDepth,
		gcThreshold:   defaultGCThreshold,
		state:         VMInitial,
	}
	for _, opt := range opts {
		opt(vm)
	}
	vm.registerIntrinsics()
	return vm
}

// State reports the VM's current lifecycle state.
func (vm *VM) State() VMState { return vm.state }

// Heap exposes the underlying heap for diagnostics and tests that want
// to assert on Stats or force a Collect between steps.
func (vm *VM) Heap() *heap.Heap { return vm.heap }

// allocate is every interpreter opcode's single path to the heap: it
// wraps heap.Allocate with the allocation counter that triggers a
// collection once gcThreshold is crossed, so garbage never
// accumulates past a bounded horizon (spec.md's Testable Property:
// "garbage is eventually collected"). The new cell isn't reachable
// from any context yet — the caller hasn't pushed or stored it — so
// it's passed to collect as an extra root; otherwise a threshold that
// fires on this very allocation would reclaim it out from under its
// own handle.
func (vm *VM) allocate(cell heap.Cell) value.Handle {
	h := vm.heap.Allocate(cell)
	vm.allocCount++
	if vm.allocCount >= vm.gcThreshold {
		vm.allocCount = 0
		h, _ = vm.collect(&h)
	}
	return h
}

// Allocate exposes the heap allocator at the VM boundary, per spec.md
// §6's "allocate(value) -> handle" — for test instrumentation and
// embedders that want to pre-populate composite values (e.g. a global)
// without going through an instruction stream. It shares the same
// GC-threshold bookkeeping as every opcode's internal allocation path.
func (vm *VM) Allocate(cell heap.Cell) value.Handle {
	return vm.allocate(cell)
}

// Collect runs one mark-compact cycle rooted at every live fiber this
// VM is currently driving, and fixes up the VM's own external
// references (the global environment handle and the pinned function
// table) the same way a Context fixes up its own.
func (vm *VM) Collect() heap.Stats {
	_, stats := vm.collect(nil)
	return stats
}

// collect is Collect's implementation, parameterized over one
// optional extra root not yet reachable through any live context.
func (vm *VM) collect(extra *value.Handle) (value.Handle, heap.Stats) {
	var roots []value.Handle
	if extra != nil {
		roots = append(roots, *extra)
	}
	for _, ctx := range vm.liveContexts {
		roots = append(roots, ctx.Roots()...)
	}
	stats := vm.heap.Collect(roots, func(fwd func(value.Handle) value.Handle) {
		if extra != nil {
			*extra = fwd(*extra)
		}
		vm.globalEnv = fwd(vm.globalEnv)
		for i, v := range vm.functionValues {
			vm.functionValues[i] = rewriteIfComposite(v, fwd)
		}
		for _, ctx := range vm.liveContexts {
			ctx.rewrite(fwd)
		}
	})
	var out value.Handle
	if extra != nil {
		out = *extra
	}
	return out, stats
}

// SetGlobal defines or overwrites a top-level binding, for an
// embedder wiring host values in before Execute runs.
func (vm *VM) SetGlobal(name string, v value.Value) error {
	ec, err := vm.globalEnvironment()
	if err != nil {
		return err
	}
	ec.Define(name, v)
	return nil
}

// GetGlobal reads a top-level binding, for an embedder inspecting
// state after Execute returns.
func (vm *VM) GetGlobal(name string) (value.Value, error) {
	ec, err := vm.globalEnvironment()
	if err != nil {
		return value.Value{}, err
	}
	v, ok := ec.Lookup(name)
	if !ok {
		return value.Value{}, &Error{Kind: ErrUndefinedVariable, Message: name}
	}
	return v, nil
}

func (vm *VM) globalEnvironment() (*heap.EnvironmentCell, error) {
	cell, err := vm.heap.View(vm.globalEnv)
	if err != nil {
		return nil, translateHeapError(err)
	}
	ec, ok := cell.(*heap.EnvironmentCell)
	if !ok {
		return nil, &Error{Kind: ErrRuntimeError, Message: "global environment corrupted"}
	}
	return ec, nil
}

// Execute loads program's top-level function table, then drives its
// instruction stream as the root fiber to completion. The root fiber
// never yields — OP_YIELD_COROUTINE is only reachable from a body a
// ResumeCoroutine is driving — so a yield signal reaching Execute
// itself means the program used a coroutine opcode outside any
// coroutine, which fails closed rather than silently returning Null.
func (vm *VM) Execute(program Program) (value.Value, error) {
	vm.functionValues = make([]value.Value, len(program.Functions))
	for i, tmpl := range program.Functions {
		h := vm.heap.Allocate(&heap.FunctionCell{
			Name:      tmpl.Name,
			Params:    tmpl.Params,
			Body:      tmpl.Body,
			Constants: tmpl.Constants,
		})
		vm.heap.Pin(h)
		vm.functionValues[i] = value.Of(value.Function, h)
	}

	vm.state = VMRunning
	ctx := newContext(vm.globalEnv, program.Instructions, program.Constants)
	outcome, err := vm.runFiber(ctx)
	if err != nil {
		vm.state = VMFailed
		return value.Value{}, err
	}
	if outcome.kind != fiberCompleted {
		vm.state = VMFailed
		return value.Value{}, &Error{Kind: ErrRuntimeError, Message: "top-level program yielded outside a coroutine"}
	}
	vm.state = VMCompleted
	return outcome.value, nil
}
