package vm

import (
	"fmt"
	"strings"
)

// StackFrame captures one call's identity at the moment a runtime error
// unwinds the call stack, grounded on pkg/vm/errors.go
// StackFrame, narrowed to what a bytecode CallFrame actually tracks
// (name and the source line the instruction pointer was on).
type StackFrame struct {
	Name string
	Line int
}

// RuntimeError is returned by VM.Interpret when execution fails after
// compiling successfully; its Error() renders its
// "message, then indented stack trace" layout (pkg/vm/errors.go).
type RuntimeError struct {
	Message    string
	StackTrace []StackFrame
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString("runtime error: ")
	b.WriteString(e.Message)
	for _, f := range e.StackTrace {
		fmt.Fprintf(&b, "\n  [line %d] in %s", f.Line, f.Name)
	}
	return b.String()
}

// runtimeError builds a RuntimeError from the VM's current call stack
// (innermost frame first, matching unwinding order) and
// resets the VM to an empty stack so a REPL session can keep going after
// reporting it.
func (vm *VM) runtimeError(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)

	frames := make([]StackFrame, 0, vm.frameCount)
	for i := vm.frameCount - 1; i >= 0; i-- {
		fr := vm.frames[i]
		fn := fr.closure.Function
		name := "script"
		if fn.Name != nil {
			name = fn.Name.Chars
		}
		line := 0
		if fr.ip-1 >= 0 && fr.ip-1 < len(fn.Chunk.Lines) {
			line = fn.Chunk.Lines[fr.ip-1]
		}
		frames = append(frames, StackFrame{Name: name, Line: line})
	}

	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil

	return &RuntimeError{Message: msg, StackTrace: frames}
}
