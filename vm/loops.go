package vm

import (
	"github.com/nyar-lang/nyarvm/opcodes"
)

// execLoopStart implements OP_LOOP_START: scan forward for this loop's
// matching LoopEnd (tracking nesting so an inner loop's own End isn't
// mistaken for the outer one's) and push a loopMarker that Break and
// Continue resolve against. StartIdx is recorded as the instruction
// right after this one — already the value of ctx.IP, since step()
// advances past an instruction before dispatching it — so Continue can
// jump straight back to the loop's condition check without
// re-executing LoopStart itself and pushing a duplicate marker.
func (vm *VM) execLoopStart(ctx *Context, ip int, in opcodes.Instruction) error {
	name, err := vm.resolveConstantName(ctx, in.A)
	if err != nil {
		return err
	}
	instrs, err := vm.currentInstructions(ctx)
	if err != nil {
		return err
	}
	endIdx, ok := findMatchingLoopEnd(instrs, ctx.IP)
	if !ok {
		return newError(ErrInvalidJumpTarget, ip, in.Op, "loop start has no matching loop end")
	}
	ctx.LoopStack = append(ctx.LoopStack, loopMarker{
		HasLabel: in.A != opcodes.NoLabel,
		Label:    name,
		StartIdx: ctx.IP,
		EndIdx:   endIdx,
	})
	return nil
}

// execLoopEnd implements OP_LOOP_END: pop the marker this loop pushed.
// Reaching it by ordinary fallthrough (loop condition false) is the
// normal way a loop's marker is retired; Break retires it directly
// instead, by jumping past this instruction.
func (vm *VM) execLoopEnd(ctx *Context, ip int, in opcodes.Instruction) error {
	if len(ctx.LoopStack) == 0 {
		return newError(ErrInvalidJumpTarget, ip, in.Op, "loop end without a matching loop start")
	}
	ctx.LoopStack = ctx.LoopStack[:len(ctx.LoopStack)-1]
	return nil
}

// execBreak implements OP_BREAK: jump past the targeted loop's End,
// discarding its marker and every more-deeply-nested marker still open
// (a labeled break out of an outer loop also exits any inner loop the
// Break instruction is lexically inside).
func (vm *VM) execBreak(ctx *Context, ip int, in opcodes.Instruction) error {
	idx, err := vm.resolveLoopTarget(ctx, ip, in)
	if err != nil {
		return err
	}
	target := ctx.LoopStack[idx]
	ctx.LoopStack = ctx.LoopStack[:idx]
	ctx.IP = target.EndIdx + 1
	return nil
}

// execContinue implements OP_CONTINUE: jump back to the targeted
// loop's condition check, discarding any more-deeply-nested marker but
// keeping the target loop's own marker live.
func (vm *VM) execContinue(ctx *Context, ip int, in opcodes.Instruction) error {
	idx, err := vm.resolveLoopTarget(ctx, ip, in)
	if err != nil {
		return err
	}
	target := ctx.LoopStack[idx]
	ctx.LoopStack = ctx.LoopStack[:idx+1]
	ctx.IP = target.StartIdx
	return nil
}

// resolveLoopTarget finds the loopMarker a Break or Continue resolves
// against: the innermost one for NoLabel, or the named one, searching
// from innermost outward.
func (vm *VM) resolveLoopTarget(ctx *Context, ip int, in opcodes.Instruction) (int, error) {
	if len(ctx.LoopStack) == 0 {
		return 0, newError(ErrInvalidJumpTarget, ip, in.Op, "break/continue outside any loop")
	}
	if in.A == opcodes.NoLabel {
		return len(ctx.LoopStack) - 1, nil
	}
	name, err := vm.resolveConstantName(ctx, in.A)
	if err != nil {
		return 0, err
	}
	for i := len(ctx.LoopStack) - 1; i >= 0; i-- {
		if ctx.LoopStack[i].HasLabel && ctx.LoopStack[i].Label == name {
			return i, nil
		}
	}
	return 0, newError(ErrInvalidLabel, ip, in.Op, "%s", name)
}

// execMatchCase implements OP_MATCH_CASE: pop the case's guard result.
// A true guard (matched) falls through into the case body, which the
// compiler terminates with an explicit Jump past MatchEnd, the same
// way an ordinary Conditional's taken branch does. A false guard
// either continues scanning for the next case at this nesting depth
// (fall_through) or exits the match entirely (!fall_through) — Flag
// governs only this non-matching path.
func (vm *VM) execMatchCase(ctx *Context, ip int, in opcodes.Instruction) error {
	guard, err := pop(ctx)
	if err != nil {
		return wrapAt(err, ip, in.Op)
	}
	if guard.Truthy() {
		return nil
	}
	instrs, err := vm.currentInstructions(ctx)
	if err != nil {
		return err
	}
	if in.Flag {
		idx, ok := findNextCaseOrEnd(instrs, ctx.IP)
		if !ok {
			return newError(ErrInvalidJumpTarget, ip, in.Op, "match case has no following case or match end")
		}
		ctx.IP = idx
		return nil
	}
	idx, ok := findOwnMatchEnd(instrs, ctx.IP)
	if !ok {
		return newError(ErrInvalidJumpTarget, ip, in.Op, "match case has no matching match end")
	}
	ctx.IP = idx + 1
	return nil
}

func findMatchingLoopEnd(instrs []opcodes.Instruction, start int) (int, bool) {
	depth := 0
	for i := start; i < len(instrs); i++ {
		switch instrs[i].Op {
		case opcodes.OP_LOOP_START:
			depth++
		case opcodes.OP_LOOP_END:
			if depth == 0 {
				return i, true
			}
			depth--
		}
	}
	return 0, false
}

func findNextCaseOrEnd(instrs []opcodes.Instruction, start int) (int, bool) {
	depth := 0
	for i := start; i < len(instrs); i++ {
		switch instrs[i].Op {
		case opcodes.OP_MATCH_START:
			depth++
		case opcodes.OP_MATCH_CASE:
			if depth == 0 {
				return i, true
			}
		case opcodes.OP_MATCH_END:
			if depth == 0 {
				return i, true
			}
			depth--
		}
	}
	return 0, false
}

func findOwnMatchEnd(instrs []opcodes.Instruction, start int) (int, bool) {
	depth := 0
	for i := start; i < len(instrs); i++ {
		switch instrs[i].Op {
		case opcodes.OP_MATCH_START:
			depth++
		case opcodes.OP_MATCH_END:
			if depth == 0 {
				return i, true
			}
			depth--
		}
	}
	return 0, false
}
