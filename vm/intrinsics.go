package vm

import (
	"math/big"

	"github.com/nyar-lang/nyarvm/heap"
	"github.com/nyar-lang/nyarvm/value"
)

// registerIntrinsics installs the host-provided primitives every Nyar
// program needs but the instruction set itself has no opcode for:
// arithmetic over arbitrary-precision Integers, ordering comparisons,
// and the handful of String/Vector operations a front end can't build
// purely out of GET_INDEX/GET_PROPERTY. Each is an ordinary Function
// Value with Native set instead of Body, reachable only through
// OP_CALL, exactly as heap.FunctionCell's doc comment describes; a
// front end resolves these by the global names this function defines,
// the same way the teacher's compiler resolves calls to registered
// runtime builtins by name instead of by a dedicated opcode.
func (vm *VM) registerIntrinsics() {
	vm.registerNative("int_add", 2, vm.intBinOp(value.AddInt))
	vm.registerNative("int_sub", 2, vm.intBinOp(value.SubInt))
	vm.registerNative("int_mul", 2, vm.intBinOp(value.MulInt))
	vm.registerNative("int_neg", 1, vm.intUnaryOp(func(a *big.Int) *big.Int { return new(big.Int).Neg(a) }))
	vm.registerNative("int_div", 2, vm.intDivOp(func(q, r *big.Int) *big.Int { return q }))
	vm.registerNative("int_mod", 2, vm.intDivOp(func(q, r *big.Int) *big.Int { return r }))
	vm.registerNative("int_pow", 2, vm.intPowOp())

	vm.registerNative("int_eq", 2, vm.intCompareOp(func(c int) bool { return c == 0 }))
	vm.registerNative("int_lt", 2, vm.intCompareOp(func(c int) bool { return c < 0 }))
	vm.registerNative("int_lte", 2, vm.intCompareOp(func(c int) bool { return c <= 0 }))
	vm.registerNative("int_gt", 2, vm.intCompareOp(func(c int) bool { return c > 0 }))
	vm.registerNative("int_gte", 2, vm.intCompareOp(func(c int) bool { return c >= 0 }))

	vm.registerNativeFn("string_concat", func(args []value.Value) (value.Value, error) {
		if len(args) != 2 {
			return value.Value{}, &Error{Kind: ErrArgumentCountMismatch, Message: "string_concat expects 2 args"}
		}
		a, err := vm.heap.ResolveString(args[0])
		if err != nil {
			return value.Value{}, err
		}
		b, err := vm.heap.ResolveString(args[1])
		if err != nil {
			return value.Value{}, err
		}
		h := vm.allocate(&heap.StringCell{S: a + b})
		return value.Of(value.String, h), nil
	})
	vm.registerNativeFn("string_length", func(args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.Value{}, &Error{Kind: ErrArgumentCountMismatch, Message: "string_length expects 1 arg"}
		}
		s, err := vm.heap.ResolveString(args[0])
		if err != nil {
			return value.Value{}, err
		}
		h := vm.allocate(&heap.IntegerCell{Big: big.NewInt(int64(len([]rune(s))))})
		return value.Of(value.Integer, h), nil
	})
	vm.registerNativeFn("vector_length", func(args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.Value{}, &Error{Kind: ErrArgumentCountMismatch, Message: "vector_length expects 1 arg"}
		}
		if args[0].Type() != value.Vector {
			return value.Value{}, &value.TypeMismatchError{Expected: value.Vector, Found: args[0].Type()}
		}
		cell, err := vm.heap.View(args[0].Handle())
		if err != nil {
			return value.Value{}, err
		}
		vec, ok := cell.(*heap.VectorCell)
		if !ok {
			return value.Value{}, &Error{Kind: ErrRuntimeError, Message: "handle is not a vector"}
		}
		h := vm.allocate(&heap.IntegerCell{Big: big.NewInt(int64(len(vec.Elems)))})
		return value.Of(value.Integer, h), nil
	})
}

// registerNative defines a global bound to a native Function expecting
// exactly arity arguments; the wrapper it installs checks arity before
// calling fn, so a caller gets a precise ArgumentCountMismatch rather
// than an index-out-of-range panic.
func (vm *VM) registerNative(name string, arity int, fn func(args []value.Value) (value.Value, error)) {
	vm.registerNativeFn(name, func(args []value.Value) (value.Value, error) {
		if len(args) != arity {
			return value.Value{}, &Error{Kind: ErrArgumentCountMismatch, Message: name}
		}
		return fn(args)
	})
}

func (vm *VM) registerNativeFn(name string, fn func(args []value.Value) (value.Value, error)) {
	h := vm.heap.Allocate(&heap.FunctionCell{Name: name, Native: fn})
	vm.heap.Pin(h)
	_ = vm.SetGlobal(name, value.Of(value.Function, h))
}

func (vm *VM) asInteger(v value.Value) (*big.Int, error) {
	if v.Type() != value.Integer {
		return nil, &value.TypeMismatchError{Expected: value.Integer, Found: v.Type()}
	}
	cell, err := vm.heap.View(v.Handle())
	if err != nil {
		return nil, err
	}
	ic, ok := cell.(*heap.IntegerCell)
	if !ok {
		return nil, &Error{Kind: ErrRuntimeError, Message: "handle is not an integer"}
	}
	return ic.Big, nil
}

func (vm *VM) newInteger(i *big.Int) value.Value {
	h := vm.allocate(&heap.IntegerCell{Big: i})
	return value.Of(value.Integer, h)
}

func (vm *VM) intBinOp(op func(a, b *big.Int) *big.Int) func([]value.Value) (value.Value, error) {
	return func(args []value.Value) (value.Value, error) {
		a, err := vm.asInteger(args[0])
		if err != nil {
			return value.Value{}, err
		}
		b, err := vm.asInteger(args[1])
		if err != nil {
			return value.Value{}, err
		}
		return vm.newInteger(op(a, b)), nil
	}
}

func (vm *VM) intUnaryOp(op func(a *big.Int) *big.Int) func([]value.Value) (value.Value, error) {
	return func(args []value.Value) (value.Value, error) {
		a, err := vm.asInteger(args[0])
		if err != nil {
			return value.Value{}, err
		}
		return vm.newInteger(op(a)), nil
	}
}

func (vm *VM) intDivOp(pick func(q, r *big.Int) *big.Int) func([]value.Value) (value.Value, error) {
	return func(args []value.Value) (value.Value, error) {
		a, err := vm.asInteger(args[0])
		if err != nil {
			return value.Value{}, err
		}
		b, err := vm.asInteger(args[1])
		if err != nil {
			return value.Value{}, err
		}
		q, r, err := value.DivModInt(a, b)
		if err != nil {
			return value.Value{}, &Error{Kind: ErrRuntimeError, Message: err.Error()}
		}
		return vm.newInteger(pick(q, r)), nil
	}
}

func (vm *VM) intPowOp() func([]value.Value) (value.Value, error) {
	return func(args []value.Value) (value.Value, error) {
		a, err := vm.asInteger(args[0])
		if err != nil {
			return value.Value{}, err
		}
		e, err := vm.asInteger(args[1])
		if err != nil {
			return value.Value{}, err
		}
		if e.Sign() < 0 {
			return value.Value{}, &Error{Kind: ErrRuntimeError, Message: "int_pow: negative exponent"}
		}
		return vm.newInteger(value.PowInt(a, e.Uint64())), nil
	}
}

func (vm *VM) intCompareOp(accept func(cmp int) bool) func([]value.Value) (value.Value, error) {
	return func(args []value.Value) (value.Value, error) {
		a, err := vm.asInteger(args[0])
		if err != nil {
			return value.Value{}, err
		}
		b, err := vm.asInteger(args[1])
		if err != nil {
			return value.Value{}, err
		}
		return value.NewBool(accept(a.Cmp(b))), nil
	}
}
