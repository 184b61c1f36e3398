package main

import (
	"fmt"
	"strings"

	"github.com/nyar-lang/nyarvm/heap"
	"github.com/nyar-lang/nyarvm/value"
	"github.com/nyar-lang/nyarvm/vm"
)

// formatValue renders a terminal Value for the `run`/`debug`
// subcommands, resolving composite handles through the VM's heap
// (the only way to read a Vector/Object/String's contents — handles
// carry no payload of their own).
func formatValue(v *vm.VM, val value.Value) string {
	switch val.Type() {
	case value.Null:
		return "null"
	case value.Boolean:
		b, _ := val.AsBool()
		return fmt.Sprintf("%v", b)
	case value.Integer:
		cell, err := v.Heap().View(val.Handle())
		if err != nil {
			return fmt.Sprintf("<integer: %s>", err)
		}
		return cell.(*heap.IntegerCell).Big.String()
	case value.String:
		s, err := v.Heap().ResolveString(val)
		if err != nil {
			return fmt.Sprintf("<string: %s>", err)
		}
		return fmt.Sprintf("%q", s)
	case value.Vector:
		cell, err := v.Heap().View(val.Handle())
		if err != nil {
			return fmt.Sprintf("<vector: %s>", err)
		}
		vec := cell.(*heap.VectorCell)
		parts := make([]string, len(vec.Elems))
		for i, e := range vec.Elems {
			parts[i] = formatValue(v, e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("%s(#%d)", val.Type(), val.Handle())
	}
}
