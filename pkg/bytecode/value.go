// Package bytecode defines Ember's value representation, heap-object
// hierarchy, allocator, and compiled chunk format.
//
// Architecture:
//
// Ember values are a small tagged union (Nil, Bool, Number, Obj) rather
// than a bare interface{}. Keeping the tag explicit lets the VM and
// garbage collector answer "is this a number" or "is this a string"
// without a type switch on every access, and keeps equality rules
// (see Value.Equal) centralized in one place instead of scattered
// across every opcode handler that compares two values.
//
// Every heap-allocated thing (strings, functions, closures, classes,
// instances, tables, ...) implements the Obj interface and carries a
// GC header (mark bit + intrusive "next" link) so the collector in
// pkg/vm can walk every live allocation without a separate registry.
package bytecode

import (
	"fmt"
	"math"
)

// ValueType tags the active arm of a Value.
type ValueType uint8

const (
	ValNil ValueType = iota
	ValBool
	ValNumber
	ValObj
)

// Value is Ember's tagged union of runtime values.
//
// Numbers are always float64 (IEEE 754 double, including inf/-inf/NaN).
// Obj holds a reference to a heap object; nil Obj with type ValObj never
// occurs — constructors guarantee a non-nil pointer.
type Value struct {
	Type ValueType
	b    bool
	n    float64
	o    Obj
}

// Nil is the singleton nil value.
var Nil = Value{Type: ValNil}

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{Type: ValBool, b: b} }

// Number wraps a float64.
func Number(n float64) Value { return Value{Type: ValNumber, n: n} }

// ObjVal wraps a heap object reference.
func ObjVal(o Obj) Value { return Value{Type: ValObj, o: o} }

// IsNil reports whether v is the nil value.
func (v Value) IsNil() bool { return v.Type == ValNil }

// AsBool returns the boolean payload. Callers must check Type == ValBool.
func (v Value) AsBool() bool { return v.b }

// AsNumber returns the float64 payload. Callers must check Type == ValNumber.
func (v Value) AsNumber() float64 { return v.n }

// AsObj returns the heap object payload. Callers must check Type == ValObj.
func (v Value) AsObj() Obj { return v.o }

// IsObjType reports whether v holds a heap object of the given kind.
func (v Value) IsObjType(kind ObjType) bool {
	return v.Type == ValObj && v.o.Kind() == kind
}

// IsString reports whether v is a String object.
func (v Value) IsString() bool { return v.IsObjType(ObjKindString) }

// AsString returns the underlying Go string of a String object.
// Callers must check IsString first.
func (v Value) AsString() string { return v.o.(*ObjString).Chars }

// Falsy implements Ember's truthiness rule: nil and false are falsy,
// everything else (including 0 and the empty string) is truthy.
func (v Value) Falsy() bool {
	switch v.Type {
	case ValNil:
		return true
	case ValBool:
		return !v.b
	default:
		return false
	}
}

// Equal implements Value equality:
//
//	Nil == Nil; booleans by content; numbers by IEEE equality (so
//	+0 == -0, and NaN != NaN, falls straight out of Go's == on float64);
//	objects by identity, except strings, which are interned so identity
//	equality already implies content equality.
func (a Value) Equal(b Value) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case ValNil:
		return true
	case ValBool:
		return a.b == b.b
	case ValNumber:
		return a.n == b.n
	case ValObj:
		return a.o == b.o
	default:
		return false
	}
}

// String renders v for print/tostring and debug output.
func (v Value) String() string {
	switch v.Type {
	case ValNil:
		return "nil"
	case ValBool:
		if v.b {
			return "true"
		}
		return "false"
	case ValNumber:
		return formatNumber(v.n)
	case ValObj:
		return v.o.String()
	default:
		return "<invalid value>"
	}
}

// formatNumber renders a float64 the way user-facing output expects:
// integral values print without a trailing ".0", everything else uses
// Go's shortest round-tripping decimal form.
func formatNumber(n float64) string {
	if math.IsInf(n, 1) {
		return "inf"
	}
	if math.IsInf(n, -1) {
		return "-inf"
	}
	if math.IsNaN(n) {
		return "nan"
	}
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprintf("%g", n)
}

// TypeName returns Ember's user-visible type name for v, used by the
// `type` native and in runtime error messages.
func (v Value) TypeName() string {
	switch v.Type {
	case ValNil:
		return "nil"
	case ValBool:
		return "boolean"
	case ValNumber:
		return "number"
	case ValObj:
		switch v.o.Kind() {
		case ObjKindString:
			return "string"
		case ObjKindFunction, ObjKindClosure, ObjKindNative, ObjKindBoundMethod:
			return "function"
		case ObjKindClass:
			return "class"
		case ObjKindTrait:
			return "trait"
		case ObjKindInstance:
			return "instance"
		case ObjKindTable:
			return "table"
		case ObjKindUpvalue:
			return "upvalue"
		default:
			return "object"
		}
	default:
		return "unknown"
	}
}
