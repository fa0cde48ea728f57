package compiler

import (
	"bytes"
	"testing"

	"github.com/kristofer/ember/pkg/bytecode"
	"github.com/kristofer/ember/pkg/diag"
)

// noopGCHook satisfies GCHook without pulling in pkg/vm, which would
// create an import cycle (pkg/vm imports pkg/compiler to drive Compile).
type noopGCHook struct{}

func (noopGCHook) CollectIfNeeded() {}

func compileSource(source string) (*bytecode.ObjFunction, *diag.Reporter) {
	alloc := bytecode.NewAllocator()
	var out bytes.Buffer
	reporter := diag.NewReporter(&out, "<test>", source)
	fn, ok := Compile(source, alloc, reporter, noopGCHook{})
	if !ok {
		return nil, reporter
	}
	return fn, reporter
}

func TestCompileSimpleExpressionSucceeds(t *testing.T) {
	fn, reporter := compileSource("print(1 + 2)")
	if fn == nil {
		t.Fatal("expected a non-nil compiled function")
	}
	if reporter.HasErrors() {
		t.Fatalf("unexpected compile errors: %d", reporter.ErrorCount())
	}
}

// TestConstantFoldingEmitsSingleConstant checks the constant-folding
// equivalence property: a fully constant expression must collapse to
// one CONSTANT instruction, not a chain of arithmetic ops.
func TestConstantFoldingEmitsSingleConstant(t *testing.T) {
	fn, _ := compileSource("print(1 + 2 * 3)")
	if fn == nil {
		t.Fatal("expected compilation to succeed")
	}

	// print's argument list folds to one constant; the chunk should
	// contain exactly one OpConstant and no arithmetic opcodes at all
	// for the literal expression (only the CALL to print remains).
	arithCount := 0
	constCount := 0
	for i := 0; i < len(fn.Chunk.Code); {
		op := bytecode.OpCode(fn.Chunk.Code[i])
		switch op {
		case bytecode.OpAdd, bytecode.OpMultiply, bytecode.OpSubtract, bytecode.OpDivide:
			arithCount++
		case bytecode.OpConstant:
			constCount++
		}
		i += opWidth(op)
	}
	if arithCount != 0 {
		t.Errorf("expected constant folding to eliminate arithmetic ops, found %d", arithCount)
	}
	if constCount != 1 {
		t.Errorf("expected exactly one folded CONSTANT instruction, found %d", constCount)
	}
}

// opWidth mirrors the operand widths pkg/disasm decodes, just enough to
// walk a chunk without a full disassembler in this test.
func opWidth(op bytecode.OpCode) int {
	switch op {
	case bytecode.OpConstant, bytecode.OpGetGlobal, bytecode.OpDefineGlobal, bytecode.OpSetGlobal,
		bytecode.OpGetLocal, bytecode.OpSetLocal, bytecode.OpGetUpvalue, bytecode.OpSetUpvalue,
		bytecode.OpCall, bytecode.OpNew, bytecode.OpPopN, bytecode.OpClass, bytecode.OpTrait,
		bytecode.OpGetProperty, bytecode.OpSetProperty, bytecode.OpGetSuper, bytecode.OpTableSetField:
		return 2
	case bytecode.OpJump, bytecode.OpJumpIfFalse, bytecode.OpLoop, bytecode.OpInvoke,
		bytecode.OpSuperInvoke, bytecode.OpMethod:
		return 3
	default:
		return 1
	}
}

func TestBreakOutsideLoopIsAnError(t *testing.T) {
	_, reporter := compileSource("break")
	if !reporter.HasErrors() {
		t.Error("expected 'break' outside a loop to report a diagnostic")
	}
}

func TestContinueOutsideLoopIsAnError(t *testing.T) {
	_, reporter := compileSource("continue")
	if !reporter.HasErrors() {
		t.Error("expected 'continue' outside a loop to report a diagnostic")
	}
}

func TestSelfOutsideClassIsAnError(t *testing.T) {
	_, reporter := compileSource("print(self)")
	if !reporter.HasErrors() {
		t.Error("expected 'self' outside a class to report a diagnostic")
	}
}

func TestReturnAtTopLevelIsAnError(t *testing.T) {
	_, reporter := compileSource("return 1")
	if !reporter.HasErrors() {
		t.Error("expected a top-level 'return' to report a diagnostic")
	}
}

func TestInheritSelfIsAnError(t *testing.T) {
	_, reporter := compileSource("class A extends A end")
	if !reporter.HasErrors() {
		t.Error("expected a class extending itself to report a diagnostic")
	}
}

// TestDiagnosticLimit checks the error cap: more than 8 distinct errors
// still produces exactly 8 diagnostics, no more.
func TestDiagnosticLimit(t *testing.T) {
	source := "return 1\nreturn 1\nreturn 1\nreturn 1\nreturn 1\nreturn 1\nreturn 1\nreturn 1\nreturn 1\nreturn 1\n"
	_, reporter := compileSource(source)
	if reporter.ErrorCount() != 8 {
		t.Errorf("expected exactly 8 reported diagnostics, got %d", reporter.ErrorCount())
	}
}

func TestValidClassCompiles(t *testing.T) {
	source := `
class Animal
  function init(name)
    self.name = name
  end
  function speak()
    return self.name .. " makes a sound"
  end
end
class Dog extends Animal
  function speak()
    return super.speak() .. " (woof)"
  end
end
print((new Dog("Rex")):speak())
`
	fn, reporter := compileSource(source)
	if fn == nil {
		t.Fatalf("expected compilation to succeed, errors: %d", reporter.ErrorCount())
	}
}
