package disasm_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kristofer/ember/pkg/bytecode"
	"github.com/kristofer/ember/pkg/compiler"
	"github.com/kristofer/ember/pkg/diag"
	"github.com/kristofer/ember/pkg/disasm"
)

type noopGCHook struct{}

func (noopGCHook) CollectIfNeeded() {}

func compile(t *testing.T, source string) *bytecode.ObjFunction {
	t.Helper()
	alloc := bytecode.NewAllocator()
	var errOut bytes.Buffer
	reporter := diag.NewReporter(&errOut, "<test>", source)
	fn, ok := compiler.Compile(source, alloc, reporter, noopGCHook{})
	if !ok {
		t.Fatalf("compile failed: %s", errOut.String())
	}
	return fn
}

func TestChunkPrintsOpcodeMnemonics(t *testing.T) {
	fn := compile(t, "print(1 + 2)")

	var out bytes.Buffer
	disasm.Chunk(&out, &fn.Chunk, "<script>")

	text := out.String()
	if !strings.HasPrefix(text, "== <script> ==\n") {
		t.Errorf("expected a header line, got %q", text)
	}
	if !strings.Contains(text, "OP_CALL") && !strings.Contains(text, "CALL") {
		t.Errorf("expected the call instruction to appear in the disassembly:\n%s", text)
	}
}

func TestFunctionRecursesIntoNestedClosures(t *testing.T) {
	fn := compile(t, "function f(x) return x + 1 end print(f(1))")

	var out bytes.Buffer
	disasm.Function(&out, fn)

	text := out.String()
	if strings.Count(text, "==") < 4 {
		t.Errorf("expected both the top-level script and the nested function to be disassembled, got:\n%s", text)
	}
}

func TestInstructionAdvancesOffsetByOperandWidth(t *testing.T) {
	fn := compile(t, "print(42)")

	var out bytes.Buffer
	next := disasm.Instruction(&out, &fn.Chunk, 0)
	if next <= 0 {
		t.Errorf("expected Instruction to advance past offset 0, got %d", next)
	}
}
