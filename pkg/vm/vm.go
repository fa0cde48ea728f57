// Package vm implements Ember's bytecode virtual machine.
//
// The VM is a stack-based interpreter, the final stage of the pipeline:
//
//	Source -> Lexer -> Compiler -> Bytecode -> VM -> Execution
//
// Execution model: a CallFrame-based bytecode.Chunk interpreter. Each
// live function call owns a CallFrame (its closure, instruction pointer,
// and the base slot of its locals window into the shared value stack),
// and the dispatch loop keeps running until the frame count drops back
// to the caller's depth (run's exitFrameCount parameter), which is what
// lets CallValue re-enter the same loop for a native-triggered call
// without duplicating the switch.
package vm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/kristofer/ember/pkg/bytecode"
	"github.com/kristofer/ember/pkg/compiler"
	"github.com/kristofer/ember/pkg/diag"
)

// FramesMax bounds call depth; StackMax bounds the shared value stack
//.
const (
	FramesMax = 256
	StackMax  = FramesMax * 256
)

// ErrCompileFailed is returned by Interpret when compilation reported at
// least one error; diagnostics have already been flushed to the VM's
// output by the time this is returned.
var ErrCompileFailed = errors.New("ember: compile error")

// CallFrame is one active function call's window onto the value stack.
type CallFrame struct {
	closure   *bytecode.ObjClosure
	ip        int
	slotsBase int
}

func (f *CallFrame) readByte() byte {
	b := f.closure.Function.Chunk.Code[f.ip]
	f.ip++
	return b
}

func (f *CallFrame) readU16() uint16 {
	hi := f.readByte()
	lo := f.readByte()
	return uint16(hi)<<8 | uint16(lo)
}

func (f *CallFrame) readConstant() bytecode.Value {
	return f.closure.Function.Chunk.Constants[f.readByte()]
}

func (f *CallFrame) readString() *bytecode.ObjString {
	return f.readConstant().AsObj().(*bytecode.ObjString)
}

// VM holds all interpreter state. Create one with New and run source
// through it with Interpret; globals and the allocator persist across
// multiple Interpret calls on the same VM, so a REPL can keep reusing one
// instance across lines.
type VM struct {
	stack    [StackMax]bytecode.Value
	stackTop int

	frames     [FramesMax]CallFrame
	frameCount int

	globals      map[string]bytecode.Value
	openUpvalues *bytecode.ObjUpvalue

	alloc     *bytecode.Allocator
	grayStack []bytecode.Obj

	// compilerRoots is set for the duration of a Compile call (via
	// SetCompilerRoots, which satisfies compiler.RootRegistrar) so a
	// collection triggered mid-compile can still mark the compiler's
	// in-progress function objects.
	compilerRoots func(visit func(bytecode.Obj))

	out    io.Writer
	in     io.Reader
	stdin  *bufio.Reader // lazily wraps in on first `read` call
	trace  bool
	logGC  bool

	initString *bytecode.ObjString
	loaded     map[string]bool // require() cache, keyed by path
}

// Option configures a VM at construction time.
type Option func(*VM)

// WithTrace enables per-instruction execution tracing to the VM's output
//.
func WithTrace(enabled bool) Option { return func(vm *VM) { vm.trace = enabled } }

// WithLogGC enables before/after collection logging.
func WithLogGC(enabled bool) Option { return func(vm *VM) { vm.logGC = enabled } }

// WithStressGC forces a collection at every CollectIfNeeded call -- before
// each dispatched instruction and after each compiler string intern --
// regardless of the byte threshold, for exercising the collector in
// tests. Allocations made inside a single instruction are not each
// followed by a collection.
func WithStressGC(enabled bool) Option {
	return func(vm *VM) { vm.alloc.StressGC = enabled }
}

// WithStdin sets the reader the `read` native pulls lines from (defaults
// to nothing configured, in which case `read` reports an error).
func WithStdin(r io.Reader) Option { return func(vm *VM) { vm.in = r } }

// New creates a VM that writes program output and diagnostics to out.
func New(out io.Writer, opts ...Option) *VM {
	vm := &VM{
		alloc:   bytecode.NewAllocator(),
		globals: make(map[string]bytecode.Value),
		loaded:  make(map[string]bool),
		out:     out,
	}
	vm.initString = vm.alloc.InternString("init")
	for _, opt := range opts {
		opt(vm)
	}
	vm.defineNatives()
	return vm
}

func (vm *VM) push(v bytecode.Value) {
	vm.stack[vm.stackTop] = v
	vm.stackTop++
}

func (vm *VM) pop() bytecode.Value {
	vm.stackTop--
	return vm.stack[vm.stackTop]
}

func (vm *VM) peek(distance int) bytecode.Value {
	return vm.stack[vm.stackTop-1-distance]
}

// CollectIfNeeded runs a collection if the allocator's byte-accounting
// says one is due. It satisfies compiler.GCHook so the compiler's own
// string interning can trigger a collection without importing this
// package, and the dispatch loop also calls it once per instruction in
// place of a check at every allocation site.
func (vm *VM) CollectIfNeeded() {
	if !vm.alloc.StressGC && vm.alloc.BytesAllocated() < vm.alloc.NextGC() {
		return
	}
	vm.collectGarbage()
}

// SetCompilerRoots implements compiler.RootRegistrar.
func (vm *VM) SetCompilerRoots(mark func(visit func(bytecode.Obj))) {
	vm.compilerRoots = mark
}

// Interpret compiles and runs source. Compile diagnostics are written to
// the out writer the VM was built with; a runtime error is returned to
// the caller, not written.
func (vm *VM) Interpret(source, filename string) error {
	fn, ok := vm.Compile(source, filename)
	if !ok {
		return ErrCompileFailed
	}
	return vm.Run(fn)
}

// Run executes a compiled top-level function, as returned by Compile.
func (vm *VM) Run(fn *bytecode.ObjFunction) error {
	closure := vm.alloc.NewClosure(fn)
	vm.push(bytecode.ObjVal(closure))
	if err := vm.call(closure, 0); err != nil {
		return err
	}
	_, err := vm.run(0)
	return err
}

// Compile compiles source without running it, reporting diagnostics to
// vm.out through the same reporter Interpret uses. It is exposed
// separately so a caller (the CLI's --dump-bytecode path) can disassemble
// the result before deciding whether to execute it.
func (vm *VM) Compile(source, filename string) (*bytecode.ObjFunction, bool) {
	reporter := diag.NewReporter(vm.out, filename, source)
	fn, ok := compiler.Compile(source, vm.alloc, reporter, vm)
	reporter.Flush()
	return fn, ok
}

// run executes instructions until the frame count falls back to
// exitFrameCount, returning the value left on top of the stack by the
// frame that triggered the exit. Run calls run(0) for a top-level
// script; CallValue calls run(vm.frameCount-1) to drive a single
// natively-triggered call back to completion.
func (vm *VM) run(exitFrameCount int) (bytecode.Value, error) {
	for {
		vm.CollectIfNeeded()

		frame := &vm.frames[vm.frameCount-1]
		if vm.trace {
			vm.traceInstruction(frame)
		}
		op := bytecode.OpCode(frame.readByte())

		switch op {
		case bytecode.OpConstant:
			vm.push(frame.readConstant())

		case bytecode.OpNil:
			vm.push(bytecode.Nil)
		case bytecode.OpTrue:
			vm.push(bytecode.Bool(true))
		case bytecode.OpFalse:
			vm.push(bytecode.Bool(false))

		case bytecode.OpPop:
			vm.pop()
		case bytecode.OpPopN:
			n := int(frame.readByte())
			vm.stackTop -= n

		case bytecode.OpGetLocal:
			slot := frame.readByte()
			vm.push(vm.stack[frame.slotsBase+int(slot)])
		case bytecode.OpSetLocal:
			slot := frame.readByte()
			vm.stack[frame.slotsBase+int(slot)] = vm.peek(0)

		case bytecode.OpGetGlobal:
			name := frame.readString()
			val, ok := vm.globals[name.Chars]
			if !ok {
				return bytecode.Nil, vm.runtimeError("undefined variable '%s'", name.Chars)
			}
			vm.push(val)
		case bytecode.OpDefineGlobal:
			name := frame.readString()
			vm.globals[name.Chars] = vm.peek(0)
			vm.pop()
		case bytecode.OpSetGlobal:
			name := frame.readString()
			if _, ok := vm.globals[name.Chars]; !ok {
				return bytecode.Nil, vm.runtimeError("undefined variable '%s'", name.Chars)
			}
			vm.globals[name.Chars] = vm.peek(0)

		case bytecode.OpGetUpvalue:
			idx := frame.readByte()
			vm.push(*frame.closure.Upvalues[idx].Location)
		case bytecode.OpSetUpvalue:
			idx := frame.readByte()
			*frame.closure.Upvalues[idx].Location = vm.peek(0)
		case bytecode.OpCloseUpvalue:
			vm.closeUpvalues(&vm.stack[vm.stackTop-1])
			vm.pop()

		case bytecode.OpAdd:
			if err := vm.numericBinary(func(a, b float64) float64 { return a + b }); err != nil {
				return bytecode.Nil, err
			}
		case bytecode.OpSubtract:
			if err := vm.numericBinary(func(a, b float64) float64 { return a - b }); err != nil {
				return bytecode.Nil, err
			}
		case bytecode.OpMultiply:
			if err := vm.numericBinary(func(a, b float64) float64 { return a * b }); err != nil {
				return bytecode.Nil, err
			}
		case bytecode.OpDivide:
			b := vm.peek(0)
			if b.Type == bytecode.ValNumber && b.AsNumber() == 0 {
				return bytecode.Nil, vm.runtimeError("attempt to divide by zero")
			}
			if err := vm.numericBinary(func(a, b float64) float64 { return a / b }); err != nil {
				return bytecode.Nil, err
			}
		case bytecode.OpModulo:
			b := vm.peek(0)
			if b.Type == bytecode.ValNumber && b.AsNumber() == 0 {
				return bytecode.Nil, vm.runtimeError("attempt to perform 'n%%0'")
			}
			if err := vm.numericBinary(floorMod); err != nil {
				return bytecode.Nil, err
			}

		case bytecode.OpNegate:
			if vm.peek(0).Type != bytecode.ValNumber {
				return bytecode.Nil, vm.runtimeError("operand must be a number")
			}
			vm.push(bytecode.Number(-vm.pop().AsNumber()))

		case bytecode.OpNot:
			vm.push(bytecode.Bool(vm.pop().Falsy()))

		case bytecode.OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(bytecode.Bool(a.Equal(b)))

		case bytecode.OpGreater:
			if err := vm.comparisonBinary(func(a, b float64) bool { return a > b }); err != nil {
				return bytecode.Nil, err
			}
		case bytecode.OpLess:
			if err := vm.comparisonBinary(func(a, b float64) bool { return a < b }); err != nil {
				return bytecode.Nil, err
			}

		case bytecode.OpConcat:
			b := vm.peek(0)
			a := vm.peek(1)
			if !a.IsString() || !b.IsString() {
				return bytecode.Nil, vm.runtimeError("operands of '..' must be strings")
			}
			vm.pop()
			vm.pop()
			vm.push(bytecode.ObjVal(vm.alloc.InternString(a.AsString() + b.AsString())))

		case bytecode.OpLength:
			v := vm.pop()
			switch {
			case v.IsString():
				vm.push(bytecode.Number(float64(len(v.AsString()))))
			case v.IsObjType(bytecode.ObjKindTable):
				vm.push(bytecode.Number(float64(v.AsObj().(*bytecode.ObjTable).Len())))
			default:
				return bytecode.Nil, vm.runtimeError("attempt to get length of a %s value", v.TypeName())
			}

		case bytecode.OpJump:
			offset := frame.readU16()
			frame.ip += int(offset)
		case bytecode.OpJumpIfFalse:
			offset := frame.readU16()
			if vm.peek(0).Falsy() {
				frame.ip += int(offset)
			}
		case bytecode.OpLoop:
			offset := frame.readU16()
			frame.ip -= int(offset)

		case bytecode.OpCall:
			argCount := int(frame.readByte())
			if err := vm.callValue(vm.peek(argCount), argCount); err != nil {
				return bytecode.Nil, err
			}

		case bytecode.OpInvoke:
			name := frame.readString()
			argCount := int(frame.readByte())
			if err := vm.invoke(name, argCount); err != nil {
				return bytecode.Nil, err
			}
		case bytecode.OpSuperInvoke:
			name := frame.readString()
			argCount := int(frame.readByte())
			super := vm.pop().AsObj().(*bytecode.ObjClass)
			if err := vm.invokeFromClass(super, name, argCount); err != nil {
				return bytecode.Nil, err
			}

		case bytecode.OpClosure:
			fn := frame.readConstant().AsObj().(*bytecode.ObjFunction)
			closure := vm.alloc.NewClosure(fn)
			for i := 0; i < fn.UpvalueCount; i++ {
				isLocal := frame.readByte()
				index := frame.readByte()
				if isLocal == 1 {
					closure.Upvalues[i] = vm.captureUpvalue(&vm.stack[frame.slotsBase+int(index)])
				} else {
					closure.Upvalues[i] = frame.closure.Upvalues[index]
				}
			}
			vm.push(bytecode.ObjVal(closure))

		case bytecode.OpReturn:
			result := vm.pop()
			vm.closeUpvalues(&vm.stack[frame.slotsBase])
			vm.frameCount--
			if vm.frameCount == exitFrameCount {
				return result, nil
			}
			vm.stackTop = frame.slotsBase
			vm.push(result)

		case bytecode.OpNew:
			if err := vm.newInstance(frame); err != nil {
				return bytecode.Nil, err
			}

		case bytecode.OpClass:
			name := frame.readString()
			vm.push(bytecode.ObjVal(vm.alloc.NewClass(name)))
		case bytecode.OpTrait:
			name := frame.readString()
			vm.push(bytecode.ObjVal(vm.alloc.NewTrait(name)))

		case bytecode.OpInherit:
			if err := vm.inherit(); err != nil {
				return bytecode.Nil, err
			}
		case bytecode.OpImplement:
			if err := vm.implement(); err != nil {
				return bytecode.Nil, err
			}
		case bytecode.OpMethod:
			vm.bindMethodDecl(frame)

		case bytecode.OpGetProperty:
			if err := vm.getProperty(frame); err != nil {
				return bytecode.Nil, err
			}
		case bytecode.OpSetProperty:
			if err := vm.setProperty(frame); err != nil {
				return bytecode.Nil, err
			}
		case bytecode.OpGetSuper:
			if err := vm.getSuper(frame); err != nil {
				return bytecode.Nil, err
			}

		case bytecode.OpTable:
			vm.push(bytecode.ObjVal(vm.alloc.NewTable()))
		case bytecode.OpTableGet:
			if err := vm.tableGetOp(); err != nil {
				return bytecode.Nil, err
			}
		case bytecode.OpTableSet:
			if err := vm.tableSetOp(); err != nil {
				return bytecode.Nil, err
			}
		case bytecode.OpTableAdd:
			val := vm.pop()
			tbl := vm.peek(0).AsObj().(*bytecode.ObjTable)
			tbl.Array = append(tbl.Array, val)
		case bytecode.OpTableSetField:
			name := frame.readString()
			val := vm.pop()
			tbl := vm.peek(0).AsObj().(*bytecode.ObjTable)
			tbl.Hash[name.Chars] = val

		default:
			return bytecode.Nil, vm.runtimeError("unknown opcode %d", op)
		}
	}
}

func (vm *VM) numericBinary(f func(a, b float64) float64) error {
	b := vm.peek(0)
	a := vm.peek(1)
	if a.Type != bytecode.ValNumber || b.Type != bytecode.ValNumber {
		return vm.runtimeError("operands must be numbers")
	}
	vm.pop()
	vm.pop()
	vm.push(bytecode.Number(f(a.AsNumber(), b.AsNumber())))
	return nil
}

func (vm *VM) comparisonBinary(f func(a, b float64) bool) error {
	b := vm.peek(0)
	a := vm.peek(1)
	if a.Type != bytecode.ValNumber || b.Type != bytecode.ValNumber {
		return vm.runtimeError("operands must be numbers")
	}
	vm.pop()
	vm.pop()
	vm.push(bytecode.Bool(f(a.AsNumber(), b.AsNumber())))
	return nil
}

// floorMod must compute modulo exactly the way pkg/compiler/fold.go's
// peephole does, so a folded constant expression and its unfolded
// runtime equivalent never disagree.
func floorMod(a, b float64) float64 {
	return a - math.Floor(a/b)*b
}

func (vm *VM) traceInstruction(frame *CallFrame) {
	name := "script"
	if frame.closure.Function.Name != nil {
		name = frame.closure.Function.Name.Chars
	}
	op := bytecode.OpCode(frame.closure.Function.Chunk.Code[frame.ip])
	fmt.Fprintf(vm.out, "[%-12s ip=%04d] %s\n", name, frame.ip, op)
}
