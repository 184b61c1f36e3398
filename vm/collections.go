package vm

import (
	"github.com/nyar-lang/nyarvm/heap"
	"github.com/nyar-lang/nyarvm/opcodes"
	"github.com/nyar-lang/nyarvm/value"
)

// execGetIndex implements OP_GET_INDEX: index a Vector by the literal
// index carried in the instruction's A operand.
func (vm *VM) execGetIndex(ctx *Context, ip int, in opcodes.Instruction) error {
	target, err := pop(ctx)
	if err != nil {
		return wrapAt(err, ip, in.Op)
	}
	if target.Type() != value.Vector {
		return newError(ErrTypeMismatch, ip, in.Op, "cannot index a %s", target.Type())
	}
	cell, err := vm.heap.View(target.Handle())
	if err != nil {
		return wrapAt(translateHeapError(err), ip, in.Op)
	}
	vec, ok := cell.(*heap.VectorCell)
	if !ok {
		return newError(ErrRuntimeError, ip, in.Op, "handle is not a vector")
	}
	if int(in.A) >= len(vec.Elems) {
		return newError(ErrIndexOutOfBounds, ip, in.Op, "index %d, length %d", in.A, len(vec.Elems))
	}
	if err := vm.push(ctx, vec.Elems[in.A]); err != nil {
		return wrapAt(err, ip, in.Op)
	}
	return nil
}

// execSetIndex implements OP_SET_INDEX: pop a value, then a Vector, and
// assign into the literal index carried in A.
func (vm *VM) execSetIndex(ctx *Context, ip int, in opcodes.Instruction) error {
	v, err := pop(ctx)
	if err != nil {
		return wrapAt(err, ip, in.Op)
	}
	target, err := pop(ctx)
	if err != nil {
		return wrapAt(err, ip, in.Op)
	}
	if target.Type() != value.Vector {
		return newError(ErrTypeMismatch, ip, in.Op, "cannot index a %s", target.Type())
	}
	cell, err := vm.heap.View(target.Handle())
	if err != nil {
		return wrapAt(translateHeapError(err), ip, in.Op)
	}
	vec, ok := cell.(*heap.VectorCell)
	if !ok {
		return newError(ErrRuntimeError, ip, in.Op, "handle is not a vector")
	}
	if int(in.A) >= len(vec.Elems) {
		return newError(ErrIndexOutOfBounds, ip, in.Op, "index %d, length %d", in.A, len(vec.Elems))
	}
	vec.Elems[in.A] = v
	return nil
}

// execGetProperty implements OP_GET_PROPERTY: read a named field off an
// Object (DictCell).
func (vm *VM) execGetProperty(ctx *Context, ip int, in opcodes.Instruction) error {
	name, err := vm.resolveConstantName(ctx, in.A)
	if err != nil {
		return err
	}
	target, err := pop(ctx)
	if err != nil {
		return wrapAt(err, ip, in.Op)
	}
	if target.Type() != value.Object {
		return newError(ErrTypeMismatch, ip, in.Op, "cannot read a property of a %s", target.Type())
	}
	cell, err := vm.heap.View(target.Handle())
	if err != nil {
		return wrapAt(translateHeapError(err), ip, in.Op)
	}
	dict, ok := cell.(*heap.DictCell)
	if !ok {
		return newError(ErrRuntimeError, ip, in.Op, "handle is not an object")
	}
	v, ok := dict.Get(name)
	if !ok {
		return newError(ErrUndefinedProperty, ip, in.Op, "%s", name)
	}
	if err := vm.push(ctx, v); err != nil {
		return wrapAt(err, ip, in.Op)
	}
	return nil
}

// execSetProperty implements OP_SET_PROPERTY: pop a value then an
// Object, and assign or insert the named field.
func (vm *VM) execSetProperty(ctx *Context, ip int, in opcodes.Instruction) error {
	name, err := vm.resolveConstantName(ctx, in.A)
	if err != nil {
		return err
	}
	v, err := pop(ctx)
	if err != nil {
		return wrapAt(err, ip, in.Op)
	}
	target, err := pop(ctx)
	if err != nil {
		return wrapAt(err, ip, in.Op)
	}
	if target.Type() != value.Object {
		return newError(ErrTypeMismatch, ip, in.Op, "cannot set a property of a %s", target.Type())
	}
	cell, err := vm.heap.View(target.Handle())
	if err != nil {
		return wrapAt(translateHeapError(err), ip, in.Op)
	}
	dict, ok := cell.(*heap.DictCell)
	if !ok {
		return newError(ErrRuntimeError, ip, in.Op, "handle is not an object")
	}
	keyHandle := vm.allocate(&heap.StringCell{S: name})
	dict.Set(value.Of(value.String, keyHandle), name, v)
	return nil
}

// execCreateObject implements OP_CREATE_OBJECT: pop A key/value pairs
// (pushed as key,value,key,value,...) and build an Object.
func (vm *VM) execCreateObject(ctx *Context, ip int, in opcodes.Instruction) error {
	pairs, err := popN(ctx, in.A*2)
	if err != nil {
		return wrapAt(err, ip, in.Op)
	}
	dict := heap.NewDictCell()
	for i := 0; i < len(pairs); i += 2 {
		key := pairs[i]
		val := pairs[i+1]
		if key.Type() != value.String {
			return newError(ErrTypeMismatch, ip, in.Op, "object key must be a String, found %s", key.Type())
		}
		text, err := vm.heap.ResolveString(key)
		if err != nil {
			return wrapAt(translateHeapError(err), ip, in.Op)
		}
		dict.Set(key, text, val)
	}
	h := vm.allocate(dict)
	if err := vm.push(ctx, value.Of(value.Object, h)); err != nil {
		return wrapAt(err, ip, in.Op)
	}
	return nil
}
