package vm

import (
	"github.com/nyar-lang/nyarvm/heap"
	"github.com/nyar-lang/nyarvm/opcodes"
	"github.com/nyar-lang/nyarvm/value"
)

// execCreateFunction implements OP_CREATE_FUNCTION: pop B parameter
// names, capture the currently visible scope as the closure
// environment, and slice the next C instructions out of the enclosing
// instruction stream as the function's own body — the "body size"
// form spec.md's instruction set uses instead of a separate function
// table, matching how CREATE_FUNCTION's operand commentary describes
// the instructions being "skipped rather than executed in place."
func (vm *VM) execCreateFunction(ctx *Context, ip int, in opcodes.Instruction) error {
	name, err := vm.resolveConstantName(ctx, in.A)
	if err != nil {
		return err
	}
	paramVals, err := popN(ctx, in.B)
	if err != nil {
		return wrapAt(err, ip, in.Op)
	}
	params := make([]string, len(paramVals))
	for i, p := range paramVals {
		if p.Type() != value.String {
			return newError(ErrTypeMismatch, ip, in.Op, "parameter name must be a String, found %s", p.Type())
		}
		text, err := vm.heap.ResolveString(p)
		if err != nil {
			return wrapAt(translateHeapError(err), ip, in.Op)
		}
		params[i] = text
	}

	instrs, err := vm.currentInstructions(ctx)
	if err != nil {
		return err
	}
	constants, err := vm.currentConstants(ctx)
	if err != nil {
		return err
	}
	bodyStart := ctx.IP
	bodyEnd := bodyStart + int(in.C)
	if bodyEnd > len(instrs) {
		return newError(ErrRuntimeError, ip, in.Op, "function body runs past the end of its enclosing code")
	}
	body := append([]opcodes.Instruction(nil), instrs[bodyStart:bodyEnd]...)
	ctx.IP = bodyEnd

	envHandle, err := flattenVisibleScope(vm.heap, ctx)
	if err != nil {
		return wrapAt(err, ip, in.Op)
	}

	h := vm.allocate(&heap.FunctionCell{
		Name:      name,
		Params:    params,
		Body:      body,
		Constants: constants,
		HasEnv:    true,
		Env:       envHandle,
	})
	if err := vm.push(ctx, value.Of(value.Function, h)); err != nil {
		return wrapAt(err, ip, in.Op)
	}
	return nil
}

// execCreateClass implements OP_CREATE_CLASS: pop B (name, function)
// method pairs and, when in.Flag is set, one more Class Value beneath
// them as the parent.
func (vm *VM) execCreateClass(ctx *Context, ip int, in opcodes.Instruction) error {
	name, err := vm.resolveConstantName(ctx, in.A)
	if err != nil {
		return err
	}
	methodNames, methods, err := vm.popMethodPairs(ctx, ip, in)
	if err != nil {
		return err
	}
	cc := &heap.ClassCell{Name: name, MethodNames: methodNames, Methods: methods}
	if in.Flag {
		parent, err := pop(ctx)
		if err != nil {
			return wrapAt(err, ip, in.Op)
		}
		if parent.Type() != value.Class {
			return newError(ErrTypeMismatch, ip, in.Op, "parent must be a Class, found %s", parent.Type())
		}
		cc.HasParent = true
		cc.Parent = parent.Handle()
	}
	h := vm.allocate(cc)
	if err := vm.push(ctx, value.Of(value.Class, h)); err != nil {
		return wrapAt(err, ip, in.Op)
	}
	return nil
}

// execCreateTrait implements OP_CREATE_TRAIT: pop B (name, function)
// method pairs. Traits never carry a parent.
func (vm *VM) execCreateTrait(ctx *Context, ip int, in opcodes.Instruction) error {
	name, err := vm.resolveConstantName(ctx, in.A)
	if err != nil {
		return err
	}
	methodNames, methods, err := vm.popMethodPairs(ctx, ip, in)
	if err != nil {
		return err
	}
	h := vm.allocate(&heap.TraitCell{Name: name, MethodNames: methodNames, Methods: methods})
	if err := vm.push(ctx, value.Of(value.Trait, h)); err != nil {
		return wrapAt(err, ip, in.Op)
	}
	return nil
}

func (vm *VM) popMethodPairs(ctx *Context, ip int, in opcodes.Instruction) ([]string, []value.Value, error) {
	pairs, err := popN(ctx, in.B*2)
	if err != nil {
		return nil, nil, wrapAt(err, ip, in.Op)
	}
	names := make([]string, 0, in.B)
	funcs := make([]value.Value, 0, in.B)
	for i := 0; i < len(pairs); i += 2 {
		nameVal := pairs[i]
		fn := pairs[i+1]
		if nameVal.Type() != value.String {
			return nil, nil, newError(ErrTypeMismatch, ip, in.Op, "method name must be a String, found %s", nameVal.Type())
		}
		if fn.Type() != value.Function {
			return nil, nil, newError(ErrTypeMismatch, ip, in.Op, "method body must be a Function, found %s", fn.Type())
		}
		text, err := vm.heap.ResolveString(nameVal)
		if err != nil {
			return nil, nil, wrapAt(translateHeapError(err), ip, in.Op)
		}
		names = append(names, text)
		funcs = append(funcs, fn)
	}
	return names, funcs, nil
}

// execCreateEnum implements OP_CREATE_ENUM: pop B (name, value) case
// pairs. Unlike a class or trait's methods, a case's associated value
// may be any Value, not only a Function — Null for a unit variant.
func (vm *VM) execCreateEnum(ctx *Context, ip int, in opcodes.Instruction) error {
	name, err := vm.resolveConstantName(ctx, in.A)
	if err != nil {
		return err
	}
	pairs, err := popN(ctx, in.B*2)
	if err != nil {
		return wrapAt(err, ip, in.Op)
	}
	caseNames := make([]string, 0, in.B)
	cases := make([]value.Value, 0, in.B)
	for i := 0; i < len(pairs); i += 2 {
		nameVal := pairs[i]
		val := pairs[i+1]
		if nameVal.Type() != value.String {
			return newError(ErrTypeMismatch, ip, in.Op, "case name must be a String, found %s", nameVal.Type())
		}
		text, err := vm.heap.ResolveString(nameVal)
		if err != nil {
			return wrapAt(translateHeapError(err), ip, in.Op)
		}
		caseNames = append(caseNames, text)
		cases = append(cases, val)
	}
	h := vm.allocate(&heap.EnumCell{Name: name, CaseNames: caseNames, Cases: cases})
	if err := vm.push(ctx, value.Of(value.Enum, h)); err != nil {
		return wrapAt(err, ip, in.Op)
	}
	return nil
}
