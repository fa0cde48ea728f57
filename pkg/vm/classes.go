package vm

import "github.com/kristofer/ember/pkg/bytecode"

// newInstance implements OP_NEW: allocate an instance of the class that
// sits argCount slots below the top, replace the class reference with
// the new instance (so either a following init() call or the final
// pop-and-bind leaves the instance where the class used to be), and run
// init() if the class declares one.
func (vm *VM) newInstance(frame *CallFrame) error {
	argCount := int(frame.readByte())
	classVal := vm.peek(argCount)
	if !classVal.IsObjType(bytecode.ObjKindClass) {
		return vm.runtimeError("attempt to instantiate a %s value", classVal.TypeName())
	}
	class := classVal.AsObj().(*bytecode.ObjClass)
	instance := vm.alloc.NewInstance(class)
	vm.stack[vm.stackTop-argCount-1] = bytecode.ObjVal(instance)

	init, hasInit := class.Methods[vm.initString.Chars]
	if !hasInit {
		if argCount != 0 {
			return vm.runtimeError("expected 0 arguments but got %d", argCount)
		}
		return nil
	}
	return vm.call(init, argCount)
}

// inherit implements OP_INHERIT: the subclass (on top) copies every
// entry of the superclass's method table (left underneath, in the
// permanent `super` local slot) as its baseline, which later OP_METHOD
// and OP_IMPLEMENT instructions for the subclass body unconditionally
// overwrite, giving the normal override precedence for free.
func (vm *VM) inherit() error {
	subVal := vm.pop()
	superVal := vm.peek(0)
	if !superVal.IsObjType(bytecode.ObjKindClass) {
		return vm.runtimeError("superclass must be a class")
	}
	super := superVal.AsObj().(*bytecode.ObjClass)
	sub := subVal.AsObj().(*bytecode.ObjClass)
	sub.Superclass = super
	for name, m := range super.Methods {
		sub.Methods[name] = m
	}
	return nil
}

// implement implements OP_IMPLEMENT: merge a trait's methods into a
// class's method table, overwriting anything inherited (traits rank
// above superclasses but below the class's own declarations, which
// compile after and so overwrite these in turn).
func (vm *VM) implement() error {
	traitVal := vm.pop()
	classVal := vm.pop()
	if !traitVal.IsObjType(bytecode.ObjKindTrait) {
		return vm.runtimeError("can only implement a trait")
	}
	if !classVal.IsObjType(bytecode.ObjKindClass) {
		return vm.runtimeError("only a class can implement a trait")
	}
	trait := traitVal.AsObj().(*bytecode.ObjTrait)
	class := classVal.AsObj().(*bytecode.ObjClass)
	for name, m := range trait.Methods {
		class.Methods[name] = m
	}
	return nil
}

// bindMethodDecl implements OP_METHOD: pop the just-closed method and
// attach it to the class or trait sitting underneath, which stays on the
// stack for the next method declaration or the closing OP_POP.
func (vm *VM) bindMethodDecl(frame *CallFrame) {
	name := frame.readString()
	private := frame.readByte() == 1
	closure := vm.pop().AsObj().(*bytecode.ObjClosure)

	target := vm.peek(0)
	switch {
	case target.IsObjType(bytecode.ObjKindClass):
		class := target.AsObj().(*bytecode.ObjClass)
		class.Methods[name.Chars] = closure
		if private {
			class.Privates[name.Chars] = true
		}
	case target.IsObjType(bytecode.ObjKindTrait):
		trait := target.AsObj().(*bytecode.ObjTrait)
		trait.Methods[name.Chars] = closure
	}
}

// invokeFromClass looks up name directly in class's method table and
// calls it, skipping the instance-field shadowing check invoke() does --
// used by OP_SUPER_INVOKE, where the receiver's own fields must never
// shadow a superclass method call.
func (vm *VM) invokeFromClass(class *bytecode.ObjClass, name *bytecode.ObjString, argCount int) error {
	method, ok := class.Methods[name.Chars]
	if !ok {
		return vm.runtimeError("undefined method '%s'", name.Chars)
	}
	return vm.call(method, argCount)
}

// invoke implements OP_INVOKE: a combined GET_PROPERTY+CALL that never
// materializes the intermediate bound method, matching clox's fast path.
// A field holding a callable shadows a same-named method, as
// GET_PROPERTY does.
func (vm *VM) invoke(name *bytecode.ObjString, argCount int) error {
	receiver := vm.peek(argCount)
	if !receiver.IsObjType(bytecode.ObjKindInstance) {
		return vm.runtimeError("only instances have methods")
	}
	instance := receiver.AsObj().(*bytecode.ObjInstance)

	if field, ok := instance.Fields[name.Chars]; ok {
		vm.stack[vm.stackTop-argCount-1] = field
		return vm.callValue(field, argCount)
	}
	return vm.invokeFromClass(instance.Class, name, argCount)
}

// bindMethod wraps class's method named name together with the current
// top-of-stack receiver into a bound method, for use by GET_PROPERTY and
// GET_SUPER (the non-call-site property accesses).
func (vm *VM) bindMethod(class *bytecode.ObjClass, name *bytecode.ObjString) (bytecode.Value, bool) {
	method, ok := class.Methods[name.Chars]
	if !ok {
		return bytecode.Nil, false
	}
	bound := vm.alloc.NewBoundMethod(vm.peek(0), method)
	return bytecode.ObjVal(bound), true
}

func (vm *VM) getProperty(frame *CallFrame) error {
	name := frame.readString()
	if !vm.peek(0).IsObjType(bytecode.ObjKindInstance) {
		return vm.runtimeError("only instances have properties")
	}
	instance := vm.peek(0).AsObj().(*bytecode.ObjInstance)

	if val, ok := instance.Fields[name.Chars]; ok {
		vm.pop()
		vm.push(val)
		return nil
	}
	if bound, ok := vm.bindMethod(instance.Class, name); ok {
		vm.pop()
		vm.push(bound)
		return nil
	}
	return vm.runtimeError("undefined property '%s'", name.Chars)
}

func (vm *VM) setProperty(frame *CallFrame) error {
	name := frame.readString()
	if !vm.peek(1).IsObjType(bytecode.ObjKindInstance) {
		return vm.runtimeError("only instances have fields")
	}
	instance := vm.peek(1).AsObj().(*bytecode.ObjInstance)
	instance.Fields[name.Chars] = vm.peek(0)

	val := vm.pop()
	vm.pop()
	vm.push(val)
	return nil
}

// getSuper implements OP_GET_SUPER. The compiler leaves [..., self,
// super] on the stack; super is popped first, then bindMethod reads the
// receiver from what is now the top of stack (self).
func (vm *VM) getSuper(frame *CallFrame) error {
	name := frame.readString()
	super := vm.pop().AsObj().(*bytecode.ObjClass)

	bound, ok := vm.bindMethod(super, name)
	if !ok {
		return vm.runtimeError("undefined property '%s'", name.Chars)
	}
	vm.pop() // self
	vm.push(bound)
	return nil
}
