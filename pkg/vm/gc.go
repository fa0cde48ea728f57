// Tri-color mark-sweep garbage collection layered over the Allocator's
// byte accounting. The VM owns both the root set and the
// mark phase because both need the live call stack, open upvalues, and
// globals -- the Allocator only tracks "how much have we allocated" and
// performs the mechanical sweep once told which objects survived.
package vm

import (
	"fmt"

	"github.com/kristofer/ember/pkg/bytecode"
)

func (vm *VM) collectGarbage() {
	if vm.logGC {
		before := vm.alloc.BytesAllocated()
		vm.markRoots()
		vm.traceReferences()
		freed := vm.alloc.Sweep()
		vm.alloc.GrowThreshold()
		fmt.Fprintf(vm.out, "-- gc collected %d objects, %d -> %d bytes, next at %d\n",
			freed, before, vm.alloc.BytesAllocated(), vm.alloc.NextGC())
		return
	}

	vm.markRoots()
	vm.traceReferences()
	vm.alloc.Sweep()
	vm.alloc.GrowThreshold()
}

// markRoots marks every object directly reachable from outside the
// heap: the value stack, each live frame's closure, open upvalues,
// globals, and -- when a collection happens mid-compile -- the
// compiler's own in-progress function objects.
func (vm *VM) markRoots() {
	for i := 0; i < vm.stackTop; i++ {
		vm.markValue(vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		vm.markObject(vm.frames[i].closure)
	}
	for up := vm.openUpvalues; up != nil; up = up.NextOpen {
		vm.markObject(up)
	}
	for _, v := range vm.globals {
		vm.markValue(v)
	}
	if vm.initString != nil {
		vm.markObject(vm.initString)
	}
	if vm.compilerRoots != nil {
		vm.compilerRoots(vm.markObject)
	}
}

func (vm *VM) markValue(v bytecode.Value) {
	if v.Type == bytecode.ValObj {
		vm.markObject(v.AsObj())
	}
}

// markObject grays o: if it was already marked this cycle, do nothing;
// otherwise flip its mark bit and queue it so traceReferences can
// blacken it (walk its own outgoing references) later.
func (vm *VM) markObject(o bytecode.Obj) {
	if o == nil {
		return
	}
	if bytecode.SetMarked(o) {
		return
	}
	vm.grayStack = append(vm.grayStack, o)
}

func (vm *VM) traceReferences() {
	for len(vm.grayStack) > 0 {
		o := vm.grayStack[len(vm.grayStack)-1]
		vm.grayStack = vm.grayStack[:len(vm.grayStack)-1]
		o.Blacken(vm.markObject)
	}
}
