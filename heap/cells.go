package heap

import (
	"math/big"

	"github.com/nyar-lang/nyarvm/opcodes"
	"github.com/nyar-lang/nyarvm/value"
)

// Cell is the interface every heap-resident object implements so the
// collector can discover its outgoing references and rewrite them
// after compaction, without the collector itself knowing anything
// about the object's domain shape.
type Cell interface {
	// Trace returns every handle this cell directly references. A cell
	// with no outgoing references (IntegerCell, StringCell) returns nil.
	Trace() []value.Handle
	// Rewrite replaces every handle this cell holds with fwd(handle),
	// called once per surviving cell during the compaction pass.
	Rewrite(fwd func(value.Handle) value.Handle)
}

// IntegerCell boxes an arbitrary-precision Integer value.
type IntegerCell struct {
	Big *big.Int
}

func (c *IntegerCell) Trace() []value.Handle                      { return nil }
func (c *IntegerCell) Rewrite(fwd func(value.Handle) value.Handle) {}

// StringCell boxes a String value's UTF-8 bytes.
type StringCell struct {
	S string
}

func (c *StringCell) Trace() []value.Handle                      { return nil }
func (c *StringCell) Rewrite(fwd func(value.Handle) value.Handle) {}

func appendIfComposite(handles []value.Handle, v value.Value) []value.Handle {
	switch v.Type() {
	case value.Null, value.Boolean:
		return handles
	default:
		return append(handles, v.Handle())
	}
}

func rewriteIfComposite(v value.Value, fwd func(value.Handle) value.Handle) value.Value {
	switch v.Type() {
	case value.Null, value.Boolean:
		return v
	default:
		return value.Of(v.Type(), fwd(v.Handle()))
	}
}

// VectorCell backs the Vector variant: an ordered, mutable sequence
// of Values.
type VectorCell struct {
	Elems []value.Value
}

func (c *VectorCell) Trace() []value.Handle {
	var out []value.Handle
	for _, e := range c.Elems {
		out = appendIfComposite(out, e)
	}
	return out
}

func (c *VectorCell) Rewrite(fwd func(value.Handle) value.Handle) {
	for i, e := range c.Elems {
		c.Elems[i] = rewriteIfComposite(e, fwd)
	}
}

// DictCell backs the Object variant: an insertion-ordered mapping
// from string keys to Values. Keys are themselves String Values (heap
// handles), per spec.md's Value Model table, so they must be traced
// like any other composite reference; KeyText caches each key's
// decoded Go string (supplied by Set's caller, which has heap access
// to resolve the StringCell) so lookups don't need to consult the heap
// on every access.
type DictCell struct {
	Keys    []value.Value
	KeyText []string
	Vals    []value.Value
	index   map[string]int
}

func NewDictCell() *DictCell {
	return &DictCell{index: make(map[string]int)}
}

// Set inserts or updates a field, given the key's already-decoded
// text (the caller resolved it via Heap.ResolveString).
func (c *DictCell) Set(key value.Value, keyText string, val value.Value) {
	if c.index == nil {
		c.index = make(map[string]int)
	}
	if i, ok := c.index[keyText]; ok {
		c.Keys[i] = key
		c.Vals[i] = val
		return
	}
	c.index[keyText] = len(c.Keys)
	c.Keys = append(c.Keys, key)
	c.KeyText = append(c.KeyText, keyText)
	c.Vals = append(c.Vals, val)
}

func (c *DictCell) Get(keyText string) (value.Value, bool) {
	i, ok := c.index[keyText]
	if !ok {
		return value.Value{}, false
	}
	return c.Vals[i], true
}

func (c *DictCell) Trace() []value.Handle {
	var out []value.Handle
	for i := range c.Keys {
		out = append(out, c.Keys[i].Handle())
		out = appendIfComposite(out, c.Vals[i])
	}
	return out
}

func (c *DictCell) Rewrite(fwd func(value.Handle) value.Handle) {
	for i := range c.Keys {
		c.Keys[i] = rewriteIfComposite(c.Keys[i], fwd)
		c.Vals[i] = rewriteIfComposite(c.Vals[i], fwd)
	}
}

// EnvironmentCell is a single link in the lexical environment chain a
// closure captures. It is not a Value variant in its own right — no
// opcode pushes an Environment directly onto the stack — but it is
// heap-resident and reachable from a FunctionCell, so the collector
// must be able to trace and rewrite it like any other cell.
type EnvironmentCell struct {
	HasParent bool
	Parent    value.Handle
	Names     []string
	Vals      []value.Value
	index     map[string]int
}

func NewEnvironmentCell(parent value.Handle, hasParent bool) *EnvironmentCell {
	return &EnvironmentCell{HasParent: hasParent, Parent: parent, index: make(map[string]int)}
}

func (c *EnvironmentCell) Define(name string, v value.Value) {
	if c.index == nil {
		c.index = make(map[string]int)
	}
	if i, ok := c.index[name]; ok {
		c.Vals[i] = v
		return
	}
	c.index[name] = len(c.Names)
	c.Names = append(c.Names, name)
	c.Vals = append(c.Vals, v)
}

func (c *EnvironmentCell) Lookup(name string) (value.Value, bool) {
	i, ok := c.index[name]
	if !ok {
		return value.Value{}, false
	}
	return c.Vals[i], true
}

func (c *EnvironmentCell) Trace() []value.Handle {
	var out []value.Handle
	if c.HasParent {
		out = append(out, c.Parent)
	}
	for _, v := range c.Vals {
		out = appendIfComposite(out, v)
	}
	return out
}

func (c *EnvironmentCell) Rewrite(fwd func(value.Handle) value.Handle) {
	if c.HasParent {
		c.Parent = fwd(c.Parent)
	}
	for i, v := range c.Vals {
		c.Vals[i] = rewriteIfComposite(v, fwd)
	}
}

// FunctionCell backs the Function variant for both user-defined
// closures (Body non-nil, Native nil) and native intrinsics (Native
// non-nil, Body nil) — the latter is how arithmetic and other
// host-provided operations are exposed to programs, since the
// instruction set itself has no arithmetic opcodes: a program calls a
// native Function the same way it calls any other one, via OP_CALL.
type FunctionCell struct {
	Name       string
	Params     []string
	Body       []opcodes.Instruction
	Constants  []opcodes.Constant
	HasEnv     bool
	Env        value.Handle
	Native     func(args []value.Value) (value.Value, error)
}

func (c *FunctionCell) Trace() []value.Handle {
	if c.HasEnv {
		return []value.Handle{c.Env}
	}
	return nil
}

func (c *FunctionCell) Rewrite(fwd func(value.Handle) value.Handle) {
	if c.HasEnv {
		c.Env = fwd(c.Env)
	}
}

// ClassCell backs the Class variant: a name, an optional parent, and
// a method table of Function handles.
type ClassCell struct {
	Name        string
	HasParent   bool
	Parent      value.Handle
	MethodNames []string
	Methods     []value.Value
}

func (c *ClassCell) Trace() []value.Handle {
	out := make([]value.Handle, 0, len(c.Methods)+1)
	if c.HasParent {
		out = append(out, c.Parent)
	}
	for _, m := range c.Methods {
		out = append(out, m.Handle())
	}
	return out
}

func (c *ClassCell) Rewrite(fwd func(value.Handle) value.Handle) {
	if c.HasParent {
		c.Parent = fwd(c.Parent)
	}
	for i, m := range c.Methods {
		c.Methods[i] = value.Of(m.Type(), fwd(m.Handle()))
	}
}

// TraitCell backs the Trait variant: a name and a method table, with
// no parent (traits do not inherit from each other in this model).
type TraitCell struct {
	Name        string
	MethodNames []string
	Methods     []value.Value
}

func (c *TraitCell) Trace() []value.Handle {
	out := make([]value.Handle, 0, len(c.Methods))
	for _, m := range c.Methods {
		out = append(out, m.Handle())
	}
	return out
}

func (c *TraitCell) Rewrite(fwd func(value.Handle) value.Handle) {
	for i, m := range c.Methods {
		c.Methods[i] = value.Of(m.Type(), fwd(m.Handle()))
	}
}

// EnumCell backs the Enum variant: a name and an ordered set of named
// variants, each carrying an associated Value (Null for a
// unit-variant).
type EnumCell struct {
	Name     string
	CaseNames []string
	Cases    []value.Value
}

func (c *EnumCell) Trace() []value.Handle {
	var out []value.Handle
	for _, v := range c.Cases {
		out = appendIfComposite(out, v)
	}
	return out
}

func (c *EnumCell) Rewrite(fwd func(value.Handle) value.Handle) {
	for i, v := range c.Cases {
		c.Cases[i] = rewriteIfComposite(v, fwd)
	}
}
