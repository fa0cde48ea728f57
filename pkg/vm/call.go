package vm

import (
	"fmt"

	"github.com/kristofer/ember/pkg/bytecode"
)

// callValue dispatches a CALL/OP_NEW-adjacent invocation: callee sits at
// vm.stack[vm.stackTop-argCount-1] with its arguments above it. This is
// the single entry point every calling path funnels through (OP_CALL,
// OP_INVOKE's field-holds-a-closure fallback, CallValue), a unified
// dispatch path rather than separate loops per call kind.
func (vm *VM) callValue(callee bytecode.Value, argCount int) error {
	if !callee.IsObjType(bytecode.ObjKindClosure) &&
		!callee.IsObjType(bytecode.ObjKindNative) &&
		!callee.IsObjType(bytecode.ObjKindBoundMethod) {
		return vm.runtimeError("attempt to call a %s value", callee.TypeName())
	}

	switch callee.AsObj().Kind() {
	case bytecode.ObjKindClosure:
		return vm.call(callee.AsObj().(*bytecode.ObjClosure), argCount)
	case bytecode.ObjKindNative:
		return vm.callNative(callee.AsObj().(*bytecode.ObjNative), argCount)
	case bytecode.ObjKindBoundMethod:
		bound := callee.AsObj().(*bytecode.ObjBoundMethod)
		vm.stack[vm.stackTop-argCount-1] = bound.Receiver
		return vm.call(bound.Method, argCount)
	}
	return nil // unreachable: guarded above
}

// call pushes a new CallFrame for closure over the argCount arguments
// already sitting on the stack below the current top.
func (vm *VM) call(closure *bytecode.ObjClosure, argCount int) error {
	fn := closure.Function
	if argCount != fn.Arity {
		return vm.runtimeError("expected %d arguments but got %d", fn.Arity, argCount)
	}
	if vm.frameCount == FramesMax {
		return vm.runtimeError("stack overflow")
	}

	frame := &vm.frames[vm.frameCount]
	vm.frameCount++
	frame.closure = closure
	frame.ip = 0
	frame.slotsBase = vm.stackTop - argCount - 1
	return nil
}

func (vm *VM) callNative(native *bytecode.ObjNative, argCount int) error {
	args := make([]bytecode.Value, argCount)
	copy(args, vm.stack[vm.stackTop-argCount:vm.stackTop])

	result, err := native.Fn(vm, args)
	if err != nil {
		return vm.runtimeError("%s", err.Error())
	}
	vm.stackTop -= argCount + 1
	vm.push(result)
	return nil
}

// InternString implements bytecode.Interpreter.
func (vm *VM) InternString(s string) *bytecode.ObjString { return vm.alloc.InternString(s) }

// NewTable implements bytecode.Interpreter.
func (vm *VM) NewTable() *bytecode.ObjTable { return vm.alloc.NewTable() }

// Stdout implements bytecode.Interpreter.
func (vm *VM) Stdout() func(string) {
	return func(s string) { fmt.Fprint(vm.out, s) }
}

// CallValue implements bytecode.Interpreter, letting a native function
// call back into a script value (e.g. a callback passed to a sorting or
// iteration helper). It re-enters the same dispatch loop used for every
// other call, running only until the pushed call returns.
func (vm *VM) CallValue(callee bytecode.Value, args []bytecode.Value) (bytecode.Value, error) {
	vm.push(callee)
	for _, a := range args {
		vm.push(a)
	}

	if callee.IsObjType(bytecode.ObjKindNative) {
		native := callee.AsObj().(*bytecode.ObjNative)
		if err := vm.callNative(native, len(args)); err != nil {
			return bytecode.Nil, err
		}
		return vm.pop(), nil
	}

	exitFrameCount := vm.frameCount
	if err := vm.callValue(callee, len(args)); err != nil {
		return bytecode.Nil, err
	}
	return vm.run(exitFrameCount)
}
