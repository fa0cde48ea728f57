// Package diag implements Ember's source-context diagnostic reporter:
// compile errors and warnings are printed as four line blocks -- a
// colorized level/code/message header, a file:line:column pointer, a
// gutter-prefixed source line with a caret span, and an optional help
// suggestion.
//
// Like pkg/vm/errors.go's RuntimeError.Error(), the multi-line message
// is built in a strings.Builder rather than formatted eagerly; this
// package adds color on top of that for the four-block layout.
package diag

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Level distinguishes errors (which halt compilation past the cap) from
// warnings (which never do).
type Level int

const (
	LevelError Level = iota
	LevelWarning
)

func (l Level) String() string {
	if l == LevelWarning {
		return "warning"
	}
	return "error"
}

// Code is a stable numeric diagnostic identifier in Ember's E001../W001..
// ranges.
type Code string

const (
	EUnexpectedChar      Code = "E001"
	EUnterminatedString  Code = "E002"
	EExpectExpression    Code = "E003"
	EExpectToken         Code = "E004"
	EUndefinedVariable   Code = "E005"
	ERedeclaredVariable  Code = "E006"
	EInvalidAssignTarget Code = "E007"
	EBreakOutsideLoop    Code = "E008"
	ESelfOutsideClass    Code = "E009"
	ESuperWithoutSuper   Code = "E010"
	EReturnAtTopLevel    Code = "E011"
	ETooManyConstants    Code = "E012"
	ETooManyLocals       Code = "E013"
	ETooManyParams       Code = "E014"
	ETooManyArgs         Code = "E015"
	EInheritSelf         Code = "E016"
	EJumpTooFar          Code = "E017"
	EContinueOutsideLoop Code = "E018"

	WUnusedVariable   Code = "W001"
	WUnusedParameter  Code = "W002"
	WShadowedVariable Code = "W003"
)

// MaxErrors is the compile-time cap on accumulated errors before
// compilation aborts.
const MaxErrors = 8

// Diagnostic is a single reported problem with full source context.
type Diagnostic struct {
	Level   Level
	Code    Code
	Message string
	File    string
	Line    int
	Column  int
	Length  int // caret span width; defaults to 1 if zero
	Help    string
}

// Reporter accumulates diagnostics for one compilation and prints them
// in four-block format, capping at MaxErrors errors.
type Reporter struct {
	out     io.Writer
	source  string
	file    string
	diags   []Diagnostic
	errors  int
	color   bool
}

// NewReporter creates a reporter for one source file's compilation.
// Colorization is enabled automatically when out is a terminal.
func NewReporter(out io.Writer, file, source string) *Reporter {
	useColor := false
	if f, ok := out.(interface{ Fd() uintptr }); ok {
		useColor = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Reporter{out: out, source: source, file: file, color: useColor}
}

// Report records d. Once MaxErrors errors have been recorded, further
// errors are silently dropped (a summary line at Flush communicates the
// cutoff); warnings are never capped.
func (r *Reporter) Report(d Diagnostic) {
	if d.Level == LevelError {
		if r.errors >= MaxErrors {
			return
		}
		r.errors++
	}
	if d.Length <= 0 {
		d.Length = 1
	}
	r.diags = append(r.diags, d)
}

// ErrorCount returns the number of errors recorded (not counting ones
// dropped past MaxErrors).
func (r *Reporter) ErrorCount() int { return r.errors }

// HasErrors reports whether any error-level diagnostic was recorded.
func (r *Reporter) HasErrors() bool { return r.errors > 0 }

// Flush prints every recorded diagnostic followed by a summary line when
// the error cap was reached.
func (r *Reporter) Flush() {
	for _, d := range r.diags {
		r.print(d)
	}
	if r.errors >= MaxErrors {
		fmt.Fprintf(r.out, "%d errors reported; stopping after the first %d\n", r.errors, MaxErrors)
	}
}

func (r *Reporter) print(d Diagnostic) {
	var b strings.Builder

	header := fmt.Sprintf("%s[%s]: %s", d.Level, d.Code, d.Message)
	if r.color {
		c := color.New(color.FgRed, color.Bold)
		if d.Level == LevelWarning {
			c = color.New(color.FgYellow, color.Bold)
		}
		header = c.Sprint(header)
	}
	b.WriteString(header)
	b.WriteByte('\n')

	fmt.Fprintf(&b, "  --> %s:%d:%d\n", r.file, d.Line, d.Column)

	line := sourceLine(r.source, d.Line)
	gutter := fmt.Sprintf("%d", d.Line)
	fmt.Fprintf(&b, "%s | %s\n", gutter, line)
	caretLine := strings.Repeat(" ", len(gutter)) + " | " + strings.Repeat(" ", max(d.Column-1, 0)) + strings.Repeat("^", d.Length)
	if r.color {
		caretLine = color.New(color.FgCyan).Sprint(caretLine)
	}
	b.WriteString(caretLine)
	b.WriteByte('\n')

	if d.Help != "" {
		fmt.Fprintf(&b, "help: %s\n", d.Help)
	}

	fmt.Fprint(r.out, b.String())
}

func sourceLine(source string, line int) string {
	cur := 1
	start := 0
	for i := 0; i < len(source); i++ {
		if cur == line {
			end := strings.IndexByte(source[i:], '\n')
			if end < 0 {
				return source[i:]
			}
			return source[i : i+end]
		}
		if source[i] == '\n' {
			cur++
			start = i + 1
		}
	}
	if cur == line {
		return source[start:]
	}
	return ""
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
