package vm

import (
	"unsafe"

	"github.com/kristofer/ember/pkg/bytecode"
)

// addrOf gives stack slots a total order by address. Safe here because
// VM.stack is a fixed-size array field, never reallocated or moved for
// the lifetime of the VM, so pointers into it stay valid and comparable
// for as long as the slot they address is in scope.
func addrOf(v *bytecode.Value) uintptr { return uintptr(unsafe.Pointer(v)) }

// captureUpvalue returns the open upvalue for the stack slot addressed
// by local, inserting a new one into the VM's open-upvalue list (kept
// sorted by descending stack address) if none exists yet.
func (vm *VM) captureUpvalue(local *bytecode.Value) *bytecode.ObjUpvalue {
	var prev *bytecode.ObjUpvalue
	up := vm.openUpvalues
	for up != nil && addrOf(up.Location) > addrOf(local) {
		prev = up
		up = up.NextOpen
	}
	if up != nil && up.Location == local {
		return up
	}

	created := vm.alloc.NewUpvalue(local)
	created.NextOpen = up
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.NextOpen = created
	}
	return created
}

// closeUpvalues closes every open upvalue at or above the slot addressed
// by from, copying its current value into the upvalue itself so it
// survives the owning frame's locals being discarded.
func (vm *VM) closeUpvalues(from *bytecode.Value) {
	for vm.openUpvalues != nil && addrOf(vm.openUpvalues.Location) >= addrOf(from) {
		up := vm.openUpvalues
		up.Closed = *up.Location
		up.Location = &up.Closed
		vm.openUpvalues = up.NextOpen
		up.NextOpen = nil
	}
}
