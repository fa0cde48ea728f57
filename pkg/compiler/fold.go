package compiler

import (
	"math"

	"github.com/kristofer/ember/pkg/bytecode"
)

// Constant folding: after parsing an operand, the
// compiler inspects the raw bytes of the last one or two emitted
// instructions. If they are CONSTANT loads of foldable operands, the
// fold replaces them with a single CONSTANT holding the computed result
// instead of emitting the operator at all. Because folding always
// happens bottom-up as each subexpression finishes, a nested
// expression's operands are already folded to single CONSTANTs by the
// time an enclosing operator looks at its trailing bytes, so the
// "exactly two CONSTANT instructions, back to back" check below also
// covers arbitrarily deep constant subtrees.
//
// Folding intentionally never touches OP_NIL/OP_TRUE/OP_FALSE operands:
// those are single-byte dedicated opcodes, not CONSTANT loads, and the
// peephole only ever inspects CONSTANT instructions by design.

// constantInstrAt reports whether the chunk has a CONSTANT instruction
// at byte offset and, if so, returns the constant it loads.
func (c *Compiler) constantInstrAt(offset int) (bytecode.Value, bool) {
	code := c.chunk().Code
	if offset < 0 || offset+1 >= len(code) {
		return bytecode.Nil, false
	}
	if bytecode.OpCode(code[offset]) != bytecode.OpConstant {
		return bytecode.Nil, false
	}
	return c.chunk().Constants[code[offset+1]], true
}

func (c *Compiler) truncate(n int) {
	ch := c.chunk()
	ch.Code = ch.Code[:n]
	ch.Lines = ch.Lines[:n]
}

// tryFoldUnary attempts to fold a unary operator against the single
// trailing CONSTANT instruction. Returns true if it folded (in which
// case the operator must not also be emitted).
func (c *Compiler) tryFoldUnary(op bytecode.OpCode) bool {
	n := c.chunk().Len()
	val, ok := c.constantInstrAt(n - 2)
	if !ok {
		return false
	}
	var result bytecode.Value
	switch op {
	case bytecode.OpNegate:
		if val.Type != bytecode.ValNumber {
			return false
		}
		result = bytecode.Number(-val.AsNumber())
	case bytecode.OpNot:
		result = bytecode.Bool(val.Falsy())
	default:
		return false
	}
	c.truncate(n - 2)
	c.emitConstant(result)
	return true
}

// tryFoldBinary attempts to fold a binary operator against two trailing,
// contiguous CONSTANT instructions. Returns true if it folded.
func (c *Compiler) tryFoldBinary(op bytecode.OpCode) bool {
	n := c.chunk().Len()
	right, rok := c.constantInstrAt(n - 2)
	left, lok := c.constantInstrAt(n - 4)
	if !rok || !lok {
		return false
	}
	result, ok := c.foldBinaryValues(op, left, right)
	if !ok {
		return false
	}
	c.truncate(n - 4)
	c.emitConstant(result)
	return true
}

func (c *Compiler) foldBinaryValues(op bytecode.OpCode, a, b bytecode.Value) (bytecode.Value, bool) {
	switch op {
	case bytecode.OpAdd, bytecode.OpSubtract, bytecode.OpMultiply, bytecode.OpDivide, bytecode.OpModulo:
		if a.Type != bytecode.ValNumber || b.Type != bytecode.ValNumber {
			return bytecode.Nil, false
		}
		x, y := a.AsNumber(), b.AsNumber()
		switch op {
		case bytecode.OpAdd:
			return bytecode.Number(x + y), true
		case bytecode.OpSubtract:
			return bytecode.Number(x - y), true
		case bytecode.OpMultiply:
			return bytecode.Number(x * y), true
		case bytecode.OpDivide:
			if y == 0 {
				return bytecode.Nil, false // never fold a division the VM should raise at runtime
			}
			return bytecode.Number(x / y), true
		case bytecode.OpModulo:
			if y == 0 {
				return bytecode.Nil, false
			}
			return bytecode.Number(x - math.Floor(x/y)*y), true
		}
	case bytecode.OpGreater:
		if a.Type != bytecode.ValNumber || b.Type != bytecode.ValNumber {
			return bytecode.Nil, false
		}
		return bytecode.Bool(a.AsNumber() > b.AsNumber()), true
	case bytecode.OpLess:
		if a.Type != bytecode.ValNumber || b.Type != bytecode.ValNumber {
			return bytecode.Nil, false
		}
		return bytecode.Bool(a.AsNumber() < b.AsNumber()), true
	case bytecode.OpEqual:
		return bytecode.Bool(a.Equal(b)), true
	case bytecode.OpConcat:
		if !a.IsString() || !b.IsString() {
			return bytecode.Nil, false
		}
		return bytecode.ObjVal(c.intern(a.AsString() + b.AsString())), true
	}
	return bytecode.Nil, false
}
