package diag

import (
	"bytes"
	"strings"
	"testing"
)

func TestReportPrintsFourBlockFormat(t *testing.T) {
	var out bytes.Buffer
	r := NewReporter(&out, "main.ember", "local x = \n")
	r.Report(Diagnostic{
		Level:   LevelError,
		Code:    EExpectExpression,
		Message: "expected expression",
		Line:    1,
		Column:  11,
		Length:  1,
	})
	r.Flush()

	text := out.String()
	wantLines := []string{
		"error[E003]: expected expression",
		"--> main.ember:1:11",
	}
	for _, want := range wantLines {
		if !strings.Contains(text, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, text)
		}
	}
	if !strings.Contains(text, "1 | local x = ") {
		t.Errorf("expected the source line gutter block, got:\n%s", text)
	}
}

func TestReportCapsAtMaxErrors(t *testing.T) {
	var out bytes.Buffer
	r := NewReporter(&out, "main.ember", "")
	for i := 0; i < MaxErrors+5; i++ {
		r.Report(Diagnostic{Level: LevelError, Code: EUnexpectedChar, Message: "bad", Line: 1, Column: 1})
	}
	if r.ErrorCount() != MaxErrors {
		t.Errorf("got %d, want %d", r.ErrorCount(), MaxErrors)
	}
	r.Flush()
	if !strings.Contains(out.String(), "stopping after the first 8") {
		t.Errorf("expected a cutoff summary line, got:\n%s", out.String())
	}
}

func TestWarningsAreNeverCapped(t *testing.T) {
	r := NewReporter(&bytes.Buffer{}, "main.ember", "")
	for i := 0; i < MaxErrors+10; i++ {
		r.Report(Diagnostic{Level: LevelWarning, Code: WUnusedVariable, Message: "unused", Line: 1, Column: 1})
	}
	if r.ErrorCount() != 0 {
		t.Errorf("expected warnings to not count as errors, got %d", r.ErrorCount())
	}
	if r.HasErrors() {
		t.Error("expected HasErrors to be false when only warnings were reported")
	}
}

func TestDefaultCaretLengthIsOneWhenUnset(t *testing.T) {
	var out bytes.Buffer
	r := NewReporter(&out, "f.ember", "x\n")
	r.Report(Diagnostic{Level: LevelError, Code: EUnexpectedChar, Message: "oops", Line: 1, Column: 1})
	r.Flush()
	if !strings.Contains(out.String(), "^") {
		t.Errorf("expected a caret to be printed even with Length unset, got:\n%s", out.String())
	}
}
