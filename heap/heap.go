// Package heap implements the dense, handle-indexed object store and
// the tri-phase stop-the-world mark-compact collector that backs
// every composite Value. No code outside this package ever holds a Go
// pointer into a cell; everything is addressed by value.Handle so the
// collector is free to move objects during compaction and rewrite
// every reference in lockstep.
package heap

import (
	"fmt"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"

	"github.com/nyar-lang/nyarvm/value"
)

type slot struct {
	dead bool
	obj  Cell
}

// Heap is the dense cell vector plus free list described by spec.md
// §4.1. It is not safe for concurrent use; the VM that owns it is
// itself single-threaded per spec.md §5.
type Heap struct {
	cells  []slot
	free   []uint32
	pinned map[value.Handle]struct{}
}

// New returns an empty heap.
func New() *Heap {
	return &Heap{pinned: make(map[value.Handle]struct{})}
}

// Allocate stores obj in the most recently freed slot on the free
// list, or appends a new one, and returns its handle. The handle is stable until the next
// Collect.
func (h *Heap) Allocate(obj Cell) value.Handle {
	if n := len(h.free); n > 0 {
		idx := h.free[n-1]
		h.free = h.free[:n-1]
		h.cells[idx] = slot{obj: obj}
		return value.Handle(idx)
	}
	idx := uint32(len(h.cells))
	h.cells = append(h.cells, slot{obj: obj})
	return value.Handle(idx)
}

// View resolves a handle to its cell, failing closed on an
// out-of-bounds index or a handle that names a reclaimed slot.
func (h *Heap) View(hd value.Handle) (Cell, error) {
	idx := int(hd)
	if idx < 0 || idx >= len(h.cells) {
		return nil, &InvalidHandleError{Index: uint32(hd)}
	}
	if h.cells[idx].dead {
		return nil, &UseAfterFreeError{Index: uint32(hd)}
	}
	return h.cells[idx].obj, nil
}

// ResolveString is a convenience used by the interpreter (and by
// DictCell.Set callers) to decode a String Value's backing text.
func (h *Heap) ResolveString(v value.Value) (string, error) {
	if v.Type() != value.String {
		return "", &value.TypeMismatchError{Expected: value.String, Found: v.Type()}
	}
	cell, err := h.View(v.Handle())
	if err != nil {
		return "", err
	}
	sc, ok := cell.(*StringCell)
	if !ok {
		return "", &CorruptHeapError{Index: uint32(v.Handle()), Wanted: "string"}
	}
	return sc.S, nil
}

// Pin marks a handle as a permanent GC root independent of the
// embedder-supplied root set passed to Collect — used for values a
// long-lived native caller holds outside of any VM context (e.g. a
// cached global).
func (h *Heap) Pin(hd value.Handle) {
	h.pinned[hd] = struct{}{}
}

// Unpin removes a handle from the pinned set.
func (h *Heap) Unpin(hd value.Handle) {
	delete(h.pinned, hd)
}

// Stats summarizes a heap's occupancy, formatted with go-humanize the
// way the teacher's own diagnostics format large counts.
type Stats struct {
	Live     int
	Capacity int
	Freed    int
}

func (s Stats) String() string {
	return fmt.Sprintf("%s live / %s capacity (%s freed)",
		humanize.Comma(int64(s.Live)), humanize.Comma(int64(s.Capacity)), humanize.Comma(int64(s.Freed)))
}

// Collect runs one full mark-compact cycle: mark from the pinned set
// and the caller-supplied roots, compute a forwarding table for every
// surviving cell, rewrite every surviving cell's internal references
// through that table, let the caller rewrite its own external
// references (frames, stacks, environments it holds outside the
// heap), then physically compact the cell vector so live cells occupy
// a contiguous prefix with no gaps — matching spec.md §4.1's three
// named phases exactly.
func (h *Heap) Collect(roots []value.Handle, rewriteExternal func(fwd func(value.Handle) value.Handle)) Stats {
	before := len(h.cells)

	// Phase 1: mark.
	marked := make([]bool, len(h.cells))
	var worklist []value.Handle
	for hd := range h.pinned {
		worklist = append(worklist, hd)
	}
	worklist = append(worklist, roots...)
	for len(worklist) > 0 {
		n := len(worklist) - 1
		hd := worklist[n]
		worklist = worklist[:n]
		idx := int(hd)
		if idx < 0 || idx >= len(h.cells) || h.cells[idx].dead || marked[idx] {
			continue
		}
		marked[idx] = true
		worklist = append(worklist, h.cells[idx].obj.Trace()...)
	}

	// Phase 2: compute forwarding addresses for every surviving cell,
	// in ascending index order, so compaction never reorders survivors
	// relative to each other.
	fwdTable := make([]uint32, len(h.cells))
	next := uint32(0)
	live := 0
	for idx := range h.cells {
		if marked[idx] {
			fwdTable[idx] = next
			next++
			live++
		}
	}
	fwd := func(hd value.Handle) value.Handle {
		idx := int(hd)
		if idx < 0 || idx >= len(fwdTable) {
			return hd
		}
		return value.Handle(fwdTable[idx])
	}

	// Phase 3: rewrite every surviving cell's internal references,
	// rewrite the pinned set and let the caller rewrite its own
	// external roots, then physically compact.
	for idx := range h.cells {
		if marked[idx] {
			h.cells[idx].obj.Rewrite(fwd)
		}
	}
	newPinned := make(map[value.Handle]struct{}, len(h.pinned))
	for hd := range h.pinned {
		newPinned[fwd(hd)] = struct{}{}
	}
	h.pinned = newPinned
	if rewriteExternal != nil {
		rewriteExternal(fwd)
	}

	newCells := make([]slot, next)
	for idx := range h.cells {
		if marked[idx] {
			newCells[fwdTable[idx]] = slot{obj: h.cells[idx].obj}
		}
	}
	h.cells = newCells
	h.free = nil

	return Stats{Live: live, Capacity: before, Freed: before - live}
}

// Dump renders the live heap for diagnostics, using go-spew the way
// the teacher's own debug tooling dumps interpreter state.
func (h *Heap) Dump() string {
	var b strings.Builder
	for idx, s := range h.cells {
		if s.dead {
			continue
		}
		fmt.Fprintf(&b, "#%d: %s\n", idx, spew.Sdump(s.obj))
	}
	return b.String()
}

// Len reports the heap's current capacity (live plus free slots),
// chiefly for tests asserting on compaction.
func (h *Heap) Len() int {
	return len(h.cells)
}
