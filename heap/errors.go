package heap

import "fmt"

// UseAfterFreeError is returned by View when a handle names a cell
// that has been reclaimed — it is on the free-list, not a live
// structure, and dereferencing it is always a caller bug surfaced as
// a recoverable error rather than a panic, per spec.md §4.1's failure
// model.
type UseAfterFreeError struct {
	Index uint32
}

func (e *UseAfterFreeError) Error() string {
	return fmt.Sprintf("use after free: handle %d", e.Index)
}

// InvalidHandleError is returned by View when a handle's index falls
// outside the heap's current bounds.
type InvalidHandleError struct {
	Index uint32
}

func (e *InvalidHandleError) Error() string {
	return fmt.Sprintf("invalid handle: index %d out of bounds", e.Index)
}

// CorruptHeapError signals that a cell's concrete Go type did not
// match what its Value.Type() tag promised — an invariant violation
// inside the heap itself, not a recoverable embedder-facing condition
// (spec.md §7: "invariant violations inside the collector or the
// handle-resolution machinery are bugs, not recoverable errors").
// It is still returned rather than panicked so that tests can assert
// on it without crashing the process, but production callers should
// treat it as fatal.
type CorruptHeapError struct {
	Index   uint32
	Wanted  string
}

func (e *CorruptHeapError) Error() string {
	return fmt.Sprintf("corrupt heap: handle %d is not a %s cell", e.Index, e.Wanted)
}
