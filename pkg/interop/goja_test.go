package interop_test

import (
	"bytes"
	"testing"

	"github.com/kristofer/ember/pkg/bytecode"
	"github.com/kristofer/ember/pkg/interop"
	"github.com/kristofer/ember/pkg/vm"
)

func TestCallJSRoundTripsScalarValues(t *testing.T) {
	machine := vm.New(&bytes.Buffer{})
	bridge := interop.NewGojaBridge(machine)

	if err := bridge.RunScript("<host>", "function double(n) { return n * 2; }"); err != nil {
		t.Fatalf("RunScript: %v", err)
	}

	result, err := bridge.CallJS("double", bytecode.Number(21))
	if err != nil {
		t.Fatalf("CallJS: %v", err)
	}
	if result.Type != bytecode.ValNumber || result.AsNumber() != 42 {
		t.Errorf("got %v, want 42", result)
	}
}

func TestExposeLetsHostCallBackIntoEmber(t *testing.T) {
	machine := vm.New(&bytes.Buffer{})
	bridge := interop.NewGojaBridge(machine)

	called := false
	err := bridge.Expose("shout", func(_ bytecode.Interpreter, args []bytecode.Value) (bytecode.Value, error) {
		called = true
		if len(args) != 1 || args[0].AsString() != "hi" {
			t.Errorf("unexpected args: %v", args)
		}
		return bytecode.Bool(true), nil
	})
	if err != nil {
		t.Fatalf("Expose: %v", err)
	}

	if err := bridge.RunScript("<host>", `shout("hi")`); err != nil {
		t.Fatalf("RunScript: %v", err)
	}
	if !called {
		t.Error("expected the exposed native to be invoked from host JS")
	}
}

func TestCallJSStringRoundTrip(t *testing.T) {
	machine := vm.New(&bytes.Buffer{})
	bridge := interop.NewGojaBridge(machine)

	if err := bridge.RunScript("<host>", `function greet(name) { return "hi " + name; }`); err != nil {
		t.Fatalf("RunScript: %v", err)
	}

	result, err := bridge.CallJS("greet", bytecode.ObjVal(machine.InternString("ember")))
	if err != nil {
		t.Fatalf("CallJS: %v", err)
	}
	if result.AsString() != "hi ember" {
		t.Errorf("got %q, want %q", result.AsString(), "hi ember")
	}
}
