package bytecode

import (
	"fmt"
	"strings"
)

// ObjType tags the concrete kind of a heap object.
type ObjType uint8

const (
	ObjKindString ObjType = iota
	ObjKindFunction
	ObjKindNative
	ObjKindClosure
	ObjKindUpvalue
	ObjKindClass
	ObjKindInstance
	ObjKindBoundMethod
	ObjKindTable
	ObjKindTrait
)

// Obj is the interface every heap-allocated Ember value implements.
//
// Every concrete Obj embeds objHeader, which carries the GC mark bit and
// the intrusive "next" link used to thread the all-objects list rooted
// in the VM's Allocator.
type Obj interface {
	Kind() ObjType
	String() string
	header() *objHeader
	// Blacken invokes mark on every Obj this object directly references,
	// implementing the tracing collector's "blacken a gray object" step.
	// Objects with no outgoing references (String, Native) have an
	// empty body.
	Blacken(mark func(Obj))
}

// objHeader is embedded in every concrete Obj implementation.
type objHeader struct {
	kind   ObjType
	marked bool
	next   Obj // intrusive link in the allocator's all-objects list
}

func (h *objHeader) header() *objHeader { return h }
func (h *objHeader) Kind() ObjType      { return h.kind }

// ObjString is an immutable, interned byte string.
type ObjString struct {
	objHeader
	Chars string
	Hash  uint32
}

func (s *ObjString) String() string        { return s.Chars }
func (s *ObjString) Blacken(func(Obj)) {}

// fnvHash computes the FNV-1a hash used as the string's cached hash and
// as the intern table's bucket key.
func fnvHash(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// ObjUpvalue is the runtime handle for a variable captured by a closure.
//
// While Location points into a live VM stack slot the upvalue is "open".
// closeUpvalues (pkg/vm) redirects Location to point at the Closed field
// in place, after which the upvalue is "closed" and outlives its frame.
type ObjUpvalue struct {
	objHeader
	Location *Value
	Closed   Value
	NextOpen *ObjUpvalue // next node in the VM's open-upvalue list
}

func (u *ObjUpvalue) String() string { return "upvalue" }
func (u *ObjUpvalue) Blacken(mark func(Obj)) {
	if u.Closed.Type == ValObj {
		mark(u.Closed.o)
	}
}

// ObjFunction is a compiled function: its arity, how many upvalues it
// captures, its bytecode chunk, and an optional name (nil for the
// top-level script function).
type ObjFunction struct {
	objHeader
	Arity        int
	UpvalueCount int
	Chunk        Chunk
	Name         *ObjString
}

func (f *ObjFunction) String() string {
	if f.Name == nil {
		return "<script>"
	}
	return fmt.Sprintf("<function %s>", f.Name.Chars)
}
func (f *ObjFunction) Blacken(mark func(Obj)) {
	if f.Name != nil {
		mark(f.Name)
	}
	for _, c := range f.Chunk.Constants {
		if c.Type == ValObj {
			mark(c.o)
		}
	}
}

// NativeFn is the signature every built-in callable implements.
type NativeFn func(vm Interpreter, args []Value) (Value, error)

// Interpreter is the narrow slice of *vm.VM that native functions and
// the table/class runtime need, kept here (rather than importing pkg/vm)
// to avoid a bytecode<->vm import cycle. pkg/vm's *VM satisfies this.
type Interpreter interface {
	InternString(s string) *ObjString
	NewTable() *ObjTable
	CallValue(callee Value, args []Value) (Value, error)
	Stdout() (write func(string))
}

// ObjNative wraps a Go function exposed to Ember code as a global.
type ObjNative struct {
	objHeader
	Name string
	Fn   NativeFn
}

func (n *ObjNative) String() string        { return fmt.Sprintf("<native %s>", n.Name) }
func (n *ObjNative) Blacken(func(Obj)) {}

// ObjClosure pairs a compiled function with its captured upvalues.
type ObjClosure struct {
	objHeader
	Function *ObjFunction
	Upvalues []*ObjUpvalue
}

func (c *ObjClosure) String() string { return c.Function.String() }
func (c *ObjClosure) Blacken(mark func(Obj)) {
	mark(c.Function)
	for _, uv := range c.Upvalues {
		if uv != nil {
			mark(uv)
		}
	}
}

// ObjClass is a class: its name, optional superclass, method table, and
// the set of method names declared private (recorded, not enforced at
// call sites -- see DESIGN.md for why).
type ObjClass struct {
	objHeader
	Name       *ObjString
	Superclass *ObjClass
	Methods    map[string]*ObjClosure
	Privates   map[string]bool
}

func (c *ObjClass) String() string { return fmt.Sprintf("<class %s>", c.Name.Chars) }
func (c *ObjClass) Blacken(mark func(Obj)) {
	mark(c.Name)
	if c.Superclass != nil {
		mark(c.Superclass)
	}
	for _, m := range c.Methods {
		mark(m)
	}
}

// ObjTrait is a named bundle of methods copied into implementing classes
// at OP_IMPLEMENT time.
type ObjTrait struct {
	objHeader
	Name    *ObjString
	Methods map[string]*ObjClosure
}

func (t *ObjTrait) String() string { return fmt.Sprintf("<trait %s>", t.Name.Chars) }
func (t *ObjTrait) Blacken(mark func(Obj)) {
	mark(t.Name)
	for _, m := range t.Methods {
		mark(m)
	}
}

// ObjInstance is an instance of a class: a class reference plus a field
// table keyed by interned field name.
type ObjInstance struct {
	objHeader
	Class  *ObjClass
	Fields map[string]Value
}

func (i *ObjInstance) String() string { return fmt.Sprintf("<instance of %s>", i.Class.Name.Chars) }
func (i *ObjInstance) Blacken(mark func(Obj)) {
	mark(i.Class)
	for _, v := range i.Fields {
		if v.Type == ValObj {
			mark(v.o)
		}
	}
}

// ObjBoundMethod thunks a property-accessed method so that calling it
// injects Receiver as argument zero.
type ObjBoundMethod struct {
	objHeader
	Receiver Value
	Method   *ObjClosure
}

func (b *ObjBoundMethod) String() string { return b.Method.String() }
func (b *ObjBoundMethod) Blacken(mark func(Obj)) {
	if b.Receiver.Type == ValObj {
		mark(b.Receiver.o)
	}
	mark(b.Method)
}

// ObjTable is Ember's fused array+hash table: a dense, 1-indexed array
// part for positional/integer-keyed entries, and a hash part keyed by
// interned string.
type ObjTable struct {
	objHeader
	Array []Value
	Hash  map[string]Value
}

func (t *ObjTable) String() string {
	var b strings.Builder
	b.WriteString("<table>")
	return b.String()
}
func (t *ObjTable) Blacken(mark func(Obj)) {
	for _, v := range t.Array {
		if v.Type == ValObj {
			mark(v.o)
		}
	}
	for _, v := range t.Hash {
		if v.Type == ValObj {
			mark(v.o)
		}
	}
}

// Len returns the table's array-part length, the value of the `#`
// operator applied to a table.
func (t *ObjTable) Len() int { return len(t.Array) }
