// Package compiler implements Ember's single-pass Pratt compiler: a
// Pratt expression parser fused with recursive-descent statement
// parsing, emitting bytecode directly into a bytecode.Chunk as it goes
// (no intermediate AST), with a peephole constant-folding pass applied
// as each expression completes.
//
// The driving loop keeps a one-struct-owns-emission shape: one mutable
// Compiler struct, one emit path, plain Go errors surfaced through a
// diagnostic reporter instead of a bare error return. Single-pass
// compilation means the parser and the emitter are the same pass --
// there is no intermediate tree to walk.
package compiler

import (
	"fmt"

	"github.com/kristofer/ember/pkg/bytecode"
	"github.com/kristofer/ember/pkg/diag"
	"github.com/kristofer/ember/pkg/lexer"
)

// FunctionType distinguishes the kind of function currently being
// compiled, which changes what `return`/`self` mean.
type FunctionType int

const (
	TypeScript FunctionType = iota
	TypeFunction
	TypeMethod
	TypeInitializer
)

// maxLocals is the per-function cap on locals ").
const maxLocals = 256

// maxUpvalues mirrors maxLocals: a function cannot capture more
// variables than GET_UPVALUE's 8-bit operand can address.
const maxUpvalues = 256

// maxLoopBreaks bounds a single loop's pending break-patch list
//.
const maxLoopBreaks = 256

// local tracks one slot in a funcState's locals array.
type local struct {
	name       string
	depth      int // -1 until its initializer has fully run (markInitialized)
	captured   bool
	used       bool
	assigned   bool
	initStart  int // chunk offset where the initializer's bytecode begins
	initEnd    int // chunk offset where it ends, for dead-store analysis
	line       int
}

type upvalueRef struct {
	index   byte
	isLocal bool
}

// loopState threads the compiler's enclosing-loop stack so break/continue
// know their target and which locals to pop on the way out.
//
// continueTarget holds a known backward jump target (top of the loop
// for while/repeat) and starts at -1, meaning "not yet known": a
// numeric for's continue target is the increment section, which is
// compiled only after the body, so continue statements compiled during
// the body instead queue a forward jump in continueJumps, patched once
// the increment section's offset is known.
type loopState struct {
	enclosing         *loopState
	scopeDepthAtEntry int
	continueTarget    int
	continueJumps     []int
	breakJumps        []int
}

// classState threads the compiler's enclosing-class stack, tracking only
// what self/super resolution needs.
type classState struct {
	enclosing     *classState
	hasSuperclass bool
}

// funcState is one nested function's compilation frame.
type funcState struct {
	enclosing *funcState
	function  *bytecode.ObjFunction
	fnType    FunctionType

	locals     []local
	scopeDepth int
	upvalues   []upvalueRef
	loop       *loopState
}

// GCHook lets the VM be notified when the compiler's own allocations
// (interned strings, function objects) cross the collection threshold,
// without the compiler package importing pkg/vm. The VM satisfies this
// interface implicitly; the compiler only ever sees it through this
// narrow contract, matching general rule that collaborators
// are "defined only by their interfaces."
type GCHook interface {
	CollectIfNeeded()
}

// RootRegistrar is an optional extension of GCHook: a VM that implements
// it is handed a bound MarkRoots callback for the lifetime of Compile, so
// a collection triggered mid-compile (from inside intern, via GCHook) can
// still walk the compiler's own in-progress function objects as GC roots.
// Compile clears the callback again once compilation finishes.
type RootRegistrar interface {
	SetCompilerRoots(mark func(visit func(bytecode.Obj)))
}

// Compiler drives one compilation of a source string to a top-level
// bytecode.ObjFunction.
type Compiler struct {
	lex      *lexer.Lexer
	alloc    *bytecode.Allocator
	reporter *diag.Reporter
	gcHook   GCHook

	current  lexer.Token
	previous lexer.Token

	hadError  bool
	panicMode bool

	fn    *funcState
	class *classState
}

// Compile compiles source into a top-level script function. The second
// return value is false if any compile error was reported; in that case
// the returned function (if non-nil) must not be run.
func Compile(source string, alloc *bytecode.Allocator, reporter *diag.Reporter, gcHook GCHook) (*bytecode.ObjFunction, bool) {
	c := &Compiler{
		lex:      lexer.New(source),
		alloc:    alloc,
		reporter: reporter,
		gcHook:   gcHook,
	}
	if reg, ok := gcHook.(RootRegistrar); ok {
		reg.SetCompilerRoots(c.MarkRoots)
		defer reg.SetCompilerRoots(nil)
	}

	c.pushFunc(TypeScript, "")
	c.advance()
	for !c.match(lexer.TokenEOF) {
		c.declaration()
		if c.reporter != nil && c.reporter.ErrorCount() >= diag.MaxErrors {
			break
		}
	}
	fn := c.endFunc()
	return fn, !c.hadError
}

// MarkRoots invokes mark on every in-progress function object on the
// compiler's funcState chain; the VM's markRoots calls it while a
// Compile is running.
func (c *Compiler) MarkRoots(mark func(bytecode.Obj)) {
	for fs := c.fn; fs != nil; fs = fs.enclosing {
		mark(fs.function)
	}
}

// ---- token plumbing --------------------------------------------------

func (c *Compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.lex.NextToken()
		if c.current.Type != lexer.TokenError {
			break
		}
		c.errorAtCurrent(diag.EUnexpectedChar, c.current.Lexeme)
	}
}

func (c *Compiler) check(t lexer.TokenType) bool { return c.current.Type == t }

func (c *Compiler) match(t lexer.TokenType) bool {
	if !c.check(t) {
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) consume(t lexer.TokenType, msg string) {
	if c.current.Type == t {
		c.advance()
		return
	}
	c.errorAtCurrent(diag.EExpectToken, msg)
}

// ---- diagnostics -------------------------------------------------------

func (c *Compiler) errorAtCurrent(code diag.Code, msg string) { c.errorAt(c.current, code, msg) }
func (c *Compiler) error(code diag.Code, msg string)          { c.errorAt(c.previous, code, msg) }

func (c *Compiler) errorAt(tok lexer.Token, code diag.Code, msg string) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	c.hadError = true
	length := len(tok.Lexeme)
	if length == 0 {
		length = 1
	}
	if c.reporter != nil {
		c.reporter.Report(diag.Diagnostic{
			Level:   diag.LevelError,
			Code:    code,
			Message: msg,
			Line:    tok.Line,
			Column:  tok.Column,
			Length:  length,
		})
	}
}

func (c *Compiler) warn(code diag.Code, tok lexer.Token, msg string) {
	if c.reporter == nil {
		return
	}
	c.reporter.Report(diag.Diagnostic{
		Level:   diag.LevelWarning,
		Code:    code,
		Message: msg,
		Line:    tok.Line,
		Column:  tok.Column,
		Length:  len(tok.Lexeme),
	})
}

// synchronize skips tokens after a parse error until a likely statement
// boundary, so one malformed construct doesn't cascade into a diagnostic
// for every token that follows it.
func (c *Compiler) synchronize() {
	c.panicMode = false
	for c.current.Type != lexer.TokenEOF {
		switch c.current.Type {
		case lexer.TokenClass, lexer.TokenFunction, lexer.TokenLocal,
			lexer.TokenFor, lexer.TokenIf, lexer.TokenWhile, lexer.TokenReturn:
			return
		}
		c.advance()
	}
}

// ---- emission ------------------------------------------------------

func (c *Compiler) chunk() *bytecode.Chunk { return &c.fn.function.Chunk }

func (c *Compiler) emitByte(b byte) { c.chunk().Write(b, c.previous.Line) }

func (c *Compiler) emitOp(op bytecode.OpCode) { c.chunk().WriteOp(op, c.previous.Line) }

func (c *Compiler) emitOpByte(op bytecode.OpCode, operand byte) {
	c.emitOp(op)
	c.emitByte(operand)
}

// emitJump emits op followed by a placeholder 16-bit operand and returns
// the offset of that operand for patchJump to fill in later.
func (c *Compiler) emitJump(op bytecode.OpCode) int {
	c.emitOp(op)
	c.emitByte(0xff)
	c.emitByte(0xff)
	return c.chunk().Len() - 2
}

func (c *Compiler) patchJump(offset int) {
	jump := c.chunk().Len() - offset - 2
	if jump > bytecode.MaxJump {
		c.error(diag.EJumpTooFar, "too much code to jump over")
		return
	}
	ch := c.chunk()
	ch.Code[offset] = byte(uint16(jump) >> 8)
	ch.Code[offset+1] = byte(uint16(jump))
}

func (c *Compiler) emitLoop(loopStart int) {
	c.emitOp(bytecode.OpLoop)
	offset := c.chunk().Len() - loopStart + 2
	if offset > bytecode.MaxJump {
		c.error(diag.EJumpTooFar, "loop body too large")
	}
	c.chunk().WriteU16(uint16(offset), c.previous.Line)
}

func (c *Compiler) makeConstant(v bytecode.Value) byte {
	idx, err := c.chunk().AddConstant(v)
	if err != nil {
		c.error(diag.ETooManyConstants, err.Error())
		return 0
	}
	return idx
}

func (c *Compiler) emitConstant(v bytecode.Value) {
	c.emitOpByte(bytecode.OpConstant, c.makeConstant(v))
}

func (c *Compiler) identifierConstant(name string) byte {
	return c.makeConstant(bytecode.ObjVal(c.intern(name)))
}

func (c *Compiler) intern(s string) *bytecode.ObjString {
	str := c.alloc.InternString(s)
	if c.gcHook != nil {
		c.gcHook.CollectIfNeeded()
	}
	return str
}

func (c *Compiler) emitReturn() {
	if c.fn.fnType == TypeInitializer {
		c.emitOpByte(bytecode.OpGetLocal, 0)
	} else {
		c.emitOp(bytecode.OpNil)
	}
	c.emitOp(bytecode.OpReturn)
}

// ---- function frames -------------------------------------------------

func (c *Compiler) pushFunc(fnType FunctionType, name string) {
	fn := c.alloc.NewFunction()
	fn.Arity = 0
	if name != "" {
		fn.Name = c.alloc.InternString(name)
	}
	fs := &funcState{enclosing: c.fn, function: fn, fnType: fnType}
	// Slot 0 is reserved for the callee/self ; give it a
	// name so resolveLocal never confuses it with a user local.
	slotName := ""
	if fnType == TypeMethod || fnType == TypeInitializer {
		slotName = "self"
	}
	fs.locals = append(fs.locals, local{name: slotName, depth: 0})
	c.fn = fs
}

func (c *Compiler) endFunc() *bytecode.ObjFunction {
	c.emitReturn()
	fn := c.fn.function
	fn.UpvalueCount = len(c.fn.upvalues)
	c.fn = c.fn.enclosing
	return fn
}

// ---- scopes ------------------------------------------------------------

func (c *Compiler) beginScope() { c.fn.scopeDepth++ }

func (c *Compiler) endScope() {
	c.fn.scopeDepth--
	fs := c.fn
	for len(fs.locals) > 0 && fs.locals[len(fs.locals)-1].depth > fs.scopeDepth {
		loc := fs.locals[len(fs.locals)-1]
		if loc.captured {
			c.emitOp(bytecode.OpCloseUpvalue)
		} else {
			c.emitOp(bytecode.OpPop)
		}
		if !loc.used && !loc.captured && loc.name != "" {
			if c.initializerIsSideEffectFree(loc.initStart, loc.initEnd) {
				c.warn(diag.WUnusedVariable, lexer.Token{Line: loc.line}, fmt.Sprintf("unused variable %q", loc.name))
			}
		}
		fs.locals = fs.locals[:len(fs.locals)-1]
	}
}

// foldSafeOps is the fixed opcode whitelist allows an
// initializer to consist of entirely before its local is eligible for an
// "unused variable" warning. Anything outside this set (globals, calls,
// property access, closures, NEW) forbids the warning.
var foldSafeOps = map[bytecode.OpCode]bool{
	bytecode.OpConstant: true, bytecode.OpNil: true, bytecode.OpTrue: true,
	bytecode.OpFalse: true, bytecode.OpGetLocal: true,
	bytecode.OpAdd: true, bytecode.OpSubtract: true, bytecode.OpMultiply: true,
	bytecode.OpDivide: true, bytecode.OpModulo: true, bytecode.OpNegate: true,
	bytecode.OpNot: true, bytecode.OpEqual: true, bytecode.OpGreater: true,
	bytecode.OpLess: true, bytecode.OpConcat: true, bytecode.OpLength: true,
	bytecode.OpTable: true,
}

func (c *Compiler) initializerIsSideEffectFree(start, end int) bool {
	code := c.chunk().Code
	if start < 0 || end > len(code) || start >= end {
		return false
	}
	i := start
	for i < end {
		op := bytecode.OpCode(code[i])
		if !foldSafeOps[op] {
			return false
		}
		i += opOperandWidth(op) + 1
	}
	return true
}

func opOperandWidth(op bytecode.OpCode) int {
	switch op {
	case bytecode.OpConstant, bytecode.OpGetLocal:
		return 1
	default:
		return 0
	}
}

// ---- locals & upvalues -------------------------------------------------

func (c *Compiler) addLocal(name string) {
	if len(c.fn.locals) >= maxLocals {
		c.error(diag.ETooManyLocals, "too many local variables in function")
		return
	}
	c.fn.locals = append(c.fn.locals, local{name: name, depth: -1, line: c.previous.Line})
}

func (c *Compiler) declareVariable(name string) {
	if c.fn.scopeDepth == 0 {
		return
	}
	for i := len(c.fn.locals) - 1; i >= 0; i-- {
		l := c.fn.locals[i]
		if l.depth != -1 && l.depth < c.fn.scopeDepth {
			break
		}
		if l.name == name {
			c.error(diag.ERedeclaredVariable, fmt.Sprintf("variable %q already declared in this scope", name))
		}
	}
	c.addLocal(name)
}

func (c *Compiler) markInitialized() {
	if c.fn.scopeDepth == 0 {
		return
	}
	c.fn.locals[len(c.fn.locals)-1].depth = c.fn.scopeDepth
}

func (c *Compiler) defineVariable(global byte) {
	if c.fn.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitOpByte(bytecode.OpDefineGlobal, global)
}

func resolveLocal(fs *funcState, name string) int {
	for i := len(fs.locals) - 1; i >= 0; i-- {
		if fs.locals[i].name == name {
			return i
		}
	}
	return -1
}

func addUpvalue(fs *funcState, index byte, isLocal bool) int {
	for i, uv := range fs.upvalues {
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}
	if len(fs.upvalues) >= maxUpvalues {
		return -1
	}
	fs.upvalues = append(fs.upvalues, upvalueRef{index: index, isLocal: isLocal})
	return len(fs.upvalues) - 1
}

func resolveUpvalue(fs *funcState, name string) int {
	if fs.enclosing == nil {
		return -1
	}
	if local := resolveLocal(fs.enclosing, name); local != -1 {
		fs.enclosing.locals[local].captured = true
		return addUpvalue(fs, byte(local), true)
	}
	if up := resolveUpvalue(fs.enclosing, name); up != -1 {
		return addUpvalue(fs, byte(up), false)
	}
	return -1
}
