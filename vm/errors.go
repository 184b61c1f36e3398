package vm

import (
	"errors"
	"fmt"

	"github.com/nyar-lang/nyarvm/heap"
	"github.com/nyar-lang/nyarvm/opcodes"
)

// Sentinel base errors, one per kind in spec.md §6's error taxonomy.
// Every *Error wraps exactly one of these, so callers match a kind
// with errors.Is(err, vm.ErrUndefinedVariable) the way the teacher's
// own vm/errors.go sentinels are matched.
var (
	ErrTypeMismatch          = errors.New("type mismatch")
	ErrUndefinedVariable     = errors.New("undefined variable")
	ErrUndefinedProperty     = errors.New("undefined property")
	ErrIndexOutOfBounds      = errors.New("index out of bounds")
	ErrInvalidHandle         = errors.New("invalid handle")
	ErrUseAfterFree          = errors.New("use after free")
	ErrNotCallable           = errors.New("not callable")
	ErrArgumentCountMismatch = errors.New("argument count mismatch")
	ErrUnhandledEffect       = errors.New("unhandled effect")
	ErrInvalidJumpTarget     = errors.New("invalid jump target")
	ErrInvalidLabel          = errors.New("invalid label")
	ErrStackOverflow         = errors.New("stack overflow")
	ErrStackUnderflow        = errors.New("stack underflow")
	ErrCoroutineError        = errors.New("coroutine error")
	ErrRuntimeError          = errors.New("runtime error")
)

// Error wraps a base sentinel with the context that produced it,
// mirroring the teacher's VMError{Type, Message, Context, Frame,
// Opcode, IP} wrapper.
type Error struct {
	Kind    error
	Message string
	IP      int
	Op      opcodes.Opcode
}

func (e *Error) Error() string {
	if e.Op == opcodes.OP_NOP && e.IP == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s at ip=%d (%s): %s", e.Kind, e.IP, e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Kind }

func (e *Error) Is(target error) bool { return errors.Is(e.Kind, target) }

func newError(kind error, ip int, op opcodes.Opcode, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), IP: ip, Op: op}
}

// translateHeapError maps package heap's own failure model onto this
// package's sentinel taxonomy, so callers never need to know heap's
// concrete error types.
func translateHeapError(err error) error {
	var uaf *heap.UseAfterFreeError
	if errors.As(err, &uaf) {
		return &Error{Kind: ErrUseAfterFree, Message: err.Error()}
	}
	var ih *heap.InvalidHandleError
	if errors.As(err, &ih) {
		return &Error{Kind: ErrInvalidHandle, Message: err.Error()}
	}
	return &Error{Kind: ErrRuntimeError, Message: err.Error()}
}
