// Package test holds end-to-end scenarios that drive a full
// source-to-output round trip through the public vm.VM API, exercising
// the whole lexer-to-VM pipeline instead of any single package in
// isolation.
package test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kristofer/ember/pkg/vm"
)

func run(t *testing.T, source string) string {
	t.Helper()
	var out bytes.Buffer
	machine := vm.New(&out)
	if err := machine.Interpret(source, "<test>"); err != nil {
		t.Fatalf("interpret %q: %v", source, err)
	}
	return out.String()
}

func lines(s string) []string {
	trimmed := strings.TrimRight(s, "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

func TestArithmeticPrecedence(t *testing.T) {
	got := run(t, `print(1+2*3)`)
	if got != "7\n" {
		t.Errorf("got %q, want %q", got, "7\n")
	}
}

func TestFunctionCall(t *testing.T) {
	got := run(t, `function f(x) return x+1 end print(f(41))`)
	if got != "42\n" {
		t.Errorf("got %q, want %q", got, "42\n")
	}
}

func TestClosureSharedUpvalue(t *testing.T) {
	source := `
function mk(n)
  local c = 0
  function inc()
    c = c + n
    return c
  end
  return inc
end
local a = mk(10)
print(a())
print(a())
print(a())
`
	want := []string{"10", "20", "30"}
	got := lines(run(t, source))
	if len(got) != len(want) {
		t.Fatalf("got %d lines %v, want %v", len(got), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestClassInheritanceWithSuper(t *testing.T) {
	source := `
class A
  function greet()
    return "hi A"
  end
end
class B extends A
  function greet()
    return super.greet() .. "/B"
  end
end
print((new B()):greet())
`
	got := run(t, source)
	if got != "hi A/B\n" {
		t.Errorf("got %q, want %q", got, "hi A/B\n")
	}
}

func TestTableArrayHashAndLength(t *testing.T) {
	source := `
local t = {10, 20, key = "v"}
print(t[1])
print(t[2])
print(t["key"])
print(#t)
`
	want := []string{"10", "20", "v", "2"}
	got := lines(run(t, source))
	if len(got) != len(want) {
		t.Fatalf("got %d lines %v, want %v", len(got), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNumericForWithBreakAndContinue(t *testing.T) {
	source := `
for i=1,5 do
  if i==3 then continue end
  if i==5 then break end
  print(i)
end
`
	want := []string{"1", "2", "4"}
	got := lines(run(t, source))
	if len(got) != len(want) {
		t.Fatalf("got %d lines %v, want %v", len(got), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

// TestStressGCSurvivesAllScenarios is the GC-safety testable property:
// every scenario above must still succeed when stress mode forces a
// collection before every dispatched instruction.
func TestStressGCSurvivesAllScenarios(t *testing.T) {
	scenarios := []struct {
		name   string
		source string
		want   string
	}{
		{"arithmetic", `print(1+2*3)`, "7\n"},
		{"call", `function f(x) return x+1 end print(f(41))`, "42\n"},
		{"closure", "function mk(n)\n  local c = 0\n  function inc()\n    c = c + n\n    return c\n  end\n  return inc\nend\nlocal a = mk(10)\nprint(a())\nprint(a())\nprint(a())\n", "10\n20\n30\n"},
		{"inheritance", "class A\n  function greet()\n    return \"hi A\"\n  end\nend\nclass B extends A\n  function greet()\n    return super.greet() .. \"/B\"\n  end\nend\nprint((new B()):greet())\n", "hi A/B\n"},
		{"table", "local t = {10, 20, key = \"v\"}\nprint(t[1])\nprint(t[2])\nprint(t[\"key\"])\nprint(#t)\n", "10\n20\nv\n2\n"},
		{"for", "for i=1,5 do\n  if i==3 then continue end\n  if i==5 then break end\n  print(i)\nend\n", "1\n2\n4\n"},
	}

	for _, s := range scenarios {
		t.Run(s.name, func(t *testing.T) {
			var out bytes.Buffer
			machine := vm.New(&out, vm.WithStressGC(true))
			if err := machine.Interpret(s.source, "<stress>"); err != nil {
				t.Fatalf("interpret under stress GC: %v", err)
			}
			if out.String() != s.want {
				t.Errorf("got %q, want %q", out.String(), s.want)
			}
		})
	}
}
