// Package disasm renders a compiled bytecode.Chunk as human-readable
// text, for the --dump-bytecode CLI flag (--trace prints its own line
// per instruction from pkg/vm).
//
// One function per section (header/instructions), one line
// per entry, with each opcode's operand width read directly off the
// chunk rather than guessed from a fixed instruction size.
package disasm

import (
	"fmt"
	"io"

	"github.com/kristofer/ember/pkg/bytecode"
)

// Chunk writes a full disassembly of chunk to w, labeled name (the
// function's name, or "<script>" for the top level).
func Chunk(w io.Writer, chunk *bytecode.Chunk, name string) {
	fmt.Fprintf(w, "== %s ==\n", name)
	offset := 0
	for offset < len(chunk.Code) {
		offset = Instruction(w, chunk, offset)
	}
}

// Function disassembles fn's own chunk and then, recursively, every
// nested function sitting in its constant pool -- the same walk clox's
// "dump everything reachable from the top-level script" debug mode does,
// since OP_CLOSURE only ever references a constant, never prints the
// nested chunk itself.
func Function(w io.Writer, fn *bytecode.ObjFunction) {
	name := "<script>"
	if fn.Name != nil {
		name = fn.Name.Chars
	}
	Chunk(w, &fn.Chunk, name)
	for _, c := range fn.Chunk.Constants {
		if c.Type == bytecode.ValObj {
			if nested, ok := c.AsObj().(*bytecode.ObjFunction); ok {
				fmt.Fprintln(w)
				Function(w, nested)
			}
		}
	}
}

// Instruction writes one disassembled instruction at offset and returns
// the offset of the next one.
func Instruction(w io.Writer, chunk *bytecode.Chunk, offset int) int {
	fmt.Fprintf(w, "%04d ", offset)
	if offset > 0 && chunk.Lines[offset] == chunk.Lines[offset-1] {
		fmt.Fprint(w, "   | ")
	} else {
		fmt.Fprintf(w, "%4d ", chunk.Lines[offset])
	}

	op := bytecode.OpCode(chunk.Code[offset])
	switch op {
	case bytecode.OpConstant, bytecode.OpGetGlobal, bytecode.OpDefineGlobal, bytecode.OpSetGlobal:
		return constantInstr(w, op, chunk, offset)
	case bytecode.OpGetLocal, bytecode.OpSetLocal, bytecode.OpGetUpvalue, bytecode.OpSetUpvalue,
		bytecode.OpCall, bytecode.OpNew, bytecode.OpPopN:
		return byteInstr(w, op, chunk, offset)
	case bytecode.OpJump, bytecode.OpJumpIfFalse:
		return jumpInstr(w, op, 1, chunk, offset)
	case bytecode.OpLoop:
		return jumpInstr(w, op, -1, chunk, offset)
	case bytecode.OpInvoke, bytecode.OpSuperInvoke:
		return invokeInstr(w, op, chunk, offset)
	case bytecode.OpClosure:
		return closureInstr(w, chunk, offset)
	case bytecode.OpClass, bytecode.OpTrait, bytecode.OpGetProperty, bytecode.OpSetProperty,
		bytecode.OpGetSuper, bytecode.OpTableSetField:
		return constantInstr(w, op, chunk, offset)
	case bytecode.OpMethod:
		return methodInstr(w, chunk, offset)
	default:
		fmt.Fprintf(w, "%s\n", op)
		return offset + 1
	}
}

func simpleOperandWidth(offset, n int) int { return offset + n }

func constantInstr(w io.Writer, op bytecode.OpCode, chunk *bytecode.Chunk, offset int) int {
	constIdx := chunk.Code[offset+1]
	fmt.Fprintf(w, "%-16s %4d '%s'\n", op, constIdx, chunk.Constants[constIdx].String())
	return simpleOperandWidth(offset, 2)
}

func byteInstr(w io.Writer, op bytecode.OpCode, chunk *bytecode.Chunk, offset int) int {
	slot := chunk.Code[offset+1]
	fmt.Fprintf(w, "%-16s %4d\n", op, slot)
	return simpleOperandWidth(offset, 2)
}

func jumpInstr(w io.Writer, op bytecode.OpCode, sign int, chunk *bytecode.Chunk, offset int) int {
	jump := int(chunk.ReadU16(offset + 1))
	target := offset + 3 + sign*jump
	fmt.Fprintf(w, "%-16s %4d -> %d\n", op, offset, target)
	return simpleOperandWidth(offset, 3)
}

func invokeInstr(w io.Writer, op bytecode.OpCode, chunk *bytecode.Chunk, offset int) int {
	constIdx := chunk.Code[offset+1]
	argCount := chunk.Code[offset+2]
	fmt.Fprintf(w, "%-16s (%d args) %4d '%s'\n", op, argCount, constIdx, chunk.Constants[constIdx].String())
	return simpleOperandWidth(offset, 3)
}

func methodInstr(w io.Writer, chunk *bytecode.Chunk, offset int) int {
	constIdx := chunk.Code[offset+1]
	private := chunk.Code[offset+2]
	tag := ""
	if private == 1 {
		tag = " (private)"
	}
	fmt.Fprintf(w, "%-16s %4d '%s'%s\n", bytecode.OpMethod, constIdx, chunk.Constants[constIdx].String(), tag)
	return simpleOperandWidth(offset, 3)
}

func closureInstr(w io.Writer, chunk *bytecode.Chunk, offset int) int {
	constIdx := chunk.Code[offset+1]
	fmt.Fprintf(w, "%-16s %4d '%s'\n", bytecode.OpClosure, constIdx, chunk.Constants[constIdx].String())
	offset += 2

	fn, ok := chunk.Constants[constIdx].AsObj().(*bytecode.ObjFunction)
	if !ok {
		return offset
	}
	for i := 0; i < fn.UpvalueCount; i++ {
		isLocal := chunk.Code[offset]
		index := chunk.Code[offset+1]
		kind := "upvalue"
		if isLocal == 1 {
			kind = "local"
		}
		fmt.Fprintf(w, "%04d      |                     %s %d\n", offset, kind, index)
		offset += 2
	}
	return offset
}
