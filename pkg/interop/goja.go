// Package interop lets script code reach a host JavaScript runtime and
// back. pkg/vm imports neither goja nor this package; cmd/ember builds
// a Bridge and wires it to a VM, so the dependency stays confined to
// this package the way pkg/bytecode's Interpreter interface keeps pkg/vm
// out of pkg/bytecode.
package interop

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/kristofer/ember/pkg/bytecode"
)

// Bridge is the contract cmd/ember uses to cross values into and out of
// a host scripting runtime. CallJS invokes a named JS function with Ember
// arguments and converts its result back; Expose registers an Ember
// native so JS code can call back into the script.
type Bridge interface {
	CallJS(name string, args ...bytecode.Value) (bytecode.Value, error)
	Expose(name string, fn bytecode.NativeFn) error
	RunScript(name, source string) error
}

// GojaBridge implements Bridge over a single goja.Runtime. It is not
// safe for concurrent use by multiple goroutines, matching goja's own
// Runtime, which is single-threaded by design.
type GojaBridge struct {
	rt *goja.Runtime
	vm bytecode.Interpreter
}

// NewGojaBridge creates a Bridge backed by a fresh goja runtime. vm is
// the Ember interpreter natives exposed through Expose will run against.
func NewGojaBridge(vm bytecode.Interpreter) *GojaBridge {
	return &GojaBridge{rt: goja.New(), vm: vm}
}

// RunScript evaluates source in the host runtime under the given name
// (used for stack traces), discarding the result. Top-level host
// scripts that register functions for later CallJS use this.
func (b *GojaBridge) RunScript(name, source string) error {
	_, err := b.rt.RunScript(name, source)
	if err != nil {
		return fmt.Errorf("interop: %s: %w", name, err)
	}
	return nil
}

// CallJS looks up name as a global function in the host runtime, calls
// it with args converted to JS values, and converts the result back.
func (b *GojaBridge) CallJS(name string, args ...bytecode.Value) (bytecode.Value, error) {
	fnVal := b.rt.Get(name)
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return bytecode.Nil, fmt.Errorf("interop: %q is not a JS function", name)
	}

	jsArgs := make([]goja.Value, len(args))
	for i, a := range args {
		jsArgs[i] = toJS(b.rt, a)
	}

	result, err := fn(goja.Undefined(), jsArgs...)
	if err != nil {
		return bytecode.Nil, fmt.Errorf("interop: calling %q: %w", name, err)
	}
	return fromJS(b.vm, result), nil
}

// Expose registers fn as a global function callable from host JS code.
// Arguments and the return value are converted across the boundary the
// same way CallJS converts them in the other direction.
func (b *GojaBridge) Expose(name string, fn bytecode.NativeFn) error {
	wrapped := func(call goja.FunctionCall) goja.Value {
		args := make([]bytecode.Value, len(call.Arguments))
		for i, a := range call.Arguments {
			args[i] = fromJS(b.vm, a)
		}
		result, err := fn(b.vm, args)
		if err != nil {
			panic(b.rt.NewGoError(err))
		}
		return toJS(b.rt, result)
	}
	return b.rt.Set(name, wrapped)
}

// toJS converts a single Ember value to its goja equivalent. Functions,
// classes, instances and tables stay on the Ember side of the boundary;
// only the scalar types and strings are worth round-tripping for a
// first interop cut, keeping the bridge to simple values between
// runtimes.
func toJS(rt *goja.Runtime, v bytecode.Value) goja.Value {
	switch v.Type {
	case bytecode.ValNil:
		return goja.Null()
	case bytecode.ValBool:
		return rt.ToValue(v.AsBool())
	case bytecode.ValNumber:
		return rt.ToValue(v.AsNumber())
	case bytecode.ValObj:
		if v.IsString() {
			return rt.ToValue(v.AsString())
		}
		return rt.ToValue(v.String())
	default:
		return goja.Undefined()
	}
}

// fromJS converts a goja value back to an Ember value. Strings are
// interned through vm so they participate in Ember's normal string
// identity/equality rules once they cross back.
func fromJS(vm bytecode.Interpreter, v goja.Value) bytecode.Value {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return bytecode.Nil
	}
	switch e := v.Export().(type) {
	case bool:
		return bytecode.Bool(e)
	case int64:
		return bytecode.Number(float64(e))
	case float64:
		return bytecode.Number(e)
	case string:
		return bytecode.ObjVal(vm.InternString(e))
	default:
		return bytecode.ObjVal(vm.InternString(fmt.Sprint(e)))
	}
}
