package compiler

import (
	"github.com/kristofer/ember/pkg/bytecode"
	"github.com/kristofer/ember/pkg/diag"
	"github.com/kristofer/ember/pkg/lexer"
)

// declaration parses one top-level-or-block declaration, recovering via
// synchronize() after an error.
func (c *Compiler) declaration() {
	switch {
	case c.match(lexer.TokenClass):
		c.classDeclaration()
	case c.match(lexer.TokenTrait):
		c.traitDeclaration()
	case c.match(lexer.TokenFunction):
		c.funcDeclaration()
	case c.match(lexer.TokenLocal):
		c.localDeclaration()
	default:
		c.statement()
	}
	if c.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) block() {
	for !c.check(lexer.TokenEnd) && !c.check(lexer.TokenEOF) &&
		!c.check(lexer.TokenElse) && !c.check(lexer.TokenElseif) && !c.check(lexer.TokenUntil) {
		c.declaration()
	}
}

func (c *Compiler) statement() {
	switch {
	case c.match(lexer.TokenIf):
		c.ifStatement()
	case c.match(lexer.TokenWhile):
		c.whileStatement()
	case c.match(lexer.TokenRepeat):
		c.repeatStatement()
	case c.match(lexer.TokenFor):
		c.forStatement()
	case c.match(lexer.TokenReturn):
		c.returnStatement()
	case c.match(lexer.TokenBreak):
		c.breakStatement()
	case c.match(lexer.TokenContinue):
		c.continueStatement()
	case c.match(lexer.TokenDo):
		c.beginScope()
		c.block()
		c.consume(lexer.TokenEnd, "expected 'end' after 'do' block")
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.emitOp(bytecode.OpPop)
}

// ---- local declarations ------------------------------------------------

func (c *Compiler) localDeclaration() {
	if c.match(lexer.TokenFunction) {
		c.localFunctionDeclaration()
		return
	}
	for {
		c.consume(lexer.TokenIdent, "expected variable name")
		name := c.previous.Lexeme
		c.declareVariable(name)
		if c.fn.scopeDepth == 0 {
			c.addLocal(name)
		}
		start := c.chunk().Len()
		if c.match(lexer.TokenEqual) {
			c.expression()
		} else {
			c.emitOp(bytecode.OpNil)
		}
		end := c.chunk().Len()
		if c.fn.scopeDepth > 0 {
			idx := len(c.fn.locals) - 1
			c.fn.locals[idx].initStart = start
			c.fn.locals[idx].initEnd = end
		}
		c.fn.locals[len(c.fn.locals)-1].depth = c.fn.scopeDepth
		if !c.match(lexer.TokenComma) {
			break
		}
	}
	c.consumeStatementEnd()
}

// localFunctionDeclaration binds the name before compiling the body, so
// the function can call itself recursively.
func (c *Compiler) localFunctionDeclaration() {
	c.consume(lexer.TokenIdent, "expected function name")
	name := c.previous.Lexeme
	c.declareVariable(name)
	if c.fn.scopeDepth == 0 {
		c.addLocal(name)
	}
	c.fn.locals[len(c.fn.locals)-1].depth = c.fn.scopeDepth
	c.functionBody(TypeFunction, name)
	c.consumeStatementEnd()
}

// funcDeclaration handles `function name(...) ... end`. At global scope
// this defines a global; nested inside a block it behaves exactly like
// `local function`.
func (c *Compiler) funcDeclaration() {
	c.consume(lexer.TokenIdent, "expected function name")
	name := c.previous.Lexeme
	nameConst := c.identifierConstant(name)
	c.declareVariable(name)
	if c.fn.scopeDepth > 0 {
		c.markInitialized()
	}
	c.functionBody(TypeFunction, name)
	c.defineVariable(nameConst)
}

// functionBody compiles `(params) block end` into a new funcState and
// emits OP_CLOSURE with its upvalue descriptor table.
func (c *Compiler) functionBody(fnType FunctionType, name string) {
	c.pushFunc(fnType, name)
	c.beginScope()

	c.consume(lexer.TokenLeftParen, "expected '(' after function name")
	if !c.check(lexer.TokenRightParen) {
		for {
			if c.fn.function.Arity == 255 {
				c.errorAtCurrent(diag.ETooManyParams, "too many parameters")
			}
			c.fn.function.Arity++
			c.consume(lexer.TokenIdent, "expected parameter name")
			pname := c.previous.Lexeme
			c.declareVariable(pname)
			c.markInitialized()
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightParen, "expected ')' after parameters")

	c.block()
	c.consume(lexer.TokenEnd, "expected 'end' after function body")

	enclosingUpvalues := c.fn.upvalues
	fn := c.endFunc()

	c.emitOpByte(bytecode.OpClosure, c.makeConstant(bytecode.ObjVal(fn)))
	for _, uv := range enclosingUpvalues {
		if uv.isLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(uv.index)
	}
}

// consumeStatementEnd allows an optional trailing ';' without requiring
// one; Ember statements are newline/keyword delimited like the source
// language's block grammar.
func (c *Compiler) consumeStatementEnd() {
	c.match(lexer.TokenSemicolon)
}

// ---- control flow -------------------------------------------------------

func (c *Compiler) ifStatement() {
	c.expression()
	c.consume(lexer.TokenThen, "expected 'then' after condition")

	thenJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.beginScope()
	c.block()
	c.endScope()

	elseJump := c.emitJump(bytecode.OpJump)
	c.patchJump(thenJump)
	c.emitOp(bytecode.OpPop)

	if c.match(lexer.TokenElseif) {
		c.ifStatement()
		c.patchJump(elseJump)
		return
	}
	if c.match(lexer.TokenElse) {
		c.beginScope()
		c.block()
		c.endScope()
	}
	c.consume(lexer.TokenEnd, "expected 'end' after if statement")
	c.patchJump(elseJump)
}

func (c *Compiler) pushLoop() *loopState {
	ls := &loopState{enclosing: c.fn.loop, scopeDepthAtEntry: c.fn.scopeDepth, continueTarget: -1}
	c.fn.loop = ls
	return ls
}

func (c *Compiler) popLoop() {
	c.fn.loop = c.fn.loop.enclosing
}

func (c *Compiler) whileStatement() {
	loopStart := c.chunk().Len()
	ls := c.pushLoop()
	ls.continueTarget = loopStart

	c.expression()
	c.consume(lexer.TokenDo, "expected 'do' after condition")
	exitJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)

	c.beginScope()
	c.block()
	c.endScope()
	c.consume(lexer.TokenEnd, "expected 'end' after while body")

	c.emitLoop(loopStart)
	c.patchJump(exitJump)
	c.emitOp(bytecode.OpPop)
	c.patchBreaks(ls)
	c.popLoop()
}

func (c *Compiler) repeatStatement() {
	loopStart := c.chunk().Len()
	ls := c.pushLoop()
	ls.continueTarget = loopStart

	c.beginScope()
	c.block()
	c.consume(lexer.TokenUntil, "expected 'until' after repeat body")
	c.expression()
	c.endScope()

	// Negate so the loop exits once the condition holds and repeats while
	// it is false.
	c.emitOp(bytecode.OpNot)
	exitJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.emitLoop(loopStart)
	c.patchJump(exitJump)
	c.emitOp(bytecode.OpPop)
	c.patchBreaks(ls)
	c.popLoop()
}

// forStatement compiles the simplified numeric for loop.
func (c *Compiler) forStatement() {
	c.beginScope()

	c.consume(lexer.TokenIdent, "expected loop variable name")
	varName := c.previous.Lexeme
	c.consume(lexer.TokenEqual, "expected '=' after loop variable")
	c.declareVariable(varName)
	c.expression() // initial value
	c.markInitialized()
	slot := byte(len(c.fn.locals) - 1)

	c.consume(lexer.TokenComma, "expected ',' after initial value")
	c.expression() // limit
	c.addLocal("") // synthetic slot, not user-addressable, no redeclaration check
	c.markInitialized()
	limitSlot := byte(len(c.fn.locals) - 1)

	hasStep := false
	if c.match(lexer.TokenComma) {
		c.expression()
		c.addLocal("")
		c.markInitialized()
		hasStep = true
	}
	var stepSlot byte
	if hasStep {
		stepSlot = byte(len(c.fn.locals) - 1)
	}

	c.consume(lexer.TokenDo, "expected 'do' after for range")

	loopStart := c.chunk().Len()
	ls := c.pushLoop()

	c.emitOpByte(bytecode.OpGetLocal, slot)
	c.emitOpByte(bytecode.OpGetLocal, limitSlot)
	c.emitOp(bytecode.OpGreater)
	c.emitOp(bytecode.OpNot)
	exitJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)

	c.block()
	c.consume(lexer.TokenEnd, "expected 'end' after for body")

	for _, j := range ls.continueJumps {
		c.patchJump(j)
	}
	c.emitOpByte(bytecode.OpGetLocal, slot)
	if hasStep {
		c.emitOpByte(bytecode.OpGetLocal, stepSlot)
	} else {
		c.emitConstant(bytecode.Number(1))
	}
	c.emitOp(bytecode.OpAdd)
	c.emitOpByte(bytecode.OpSetLocal, slot)
	c.emitOp(bytecode.OpPop)

	c.emitLoop(loopStart)
	c.patchJump(exitJump)
	c.emitOp(bytecode.OpPop)
	c.patchBreaks(ls)
	c.popLoop()

	c.endScope()
}

func (c *Compiler) patchBreaks(ls *loopState) {
	for _, j := range ls.breakJumps {
		c.patchJump(j)
	}
}

func (c *Compiler) breakStatement() {
	if c.fn.loop == nil {
		c.error(diag.EBreakOutsideLoop, "'break' outside a loop")
		return
	}
	ls := c.fn.loop
	c.popScopeLocalsForJump(ls.scopeDepthAtEntry)
	if len(ls.breakJumps) >= maxLoopBreaks {
		c.error(diag.EJumpTooFar, "too many break statements in one loop")
		return
	}
	ls.breakJumps = append(ls.breakJumps, c.emitJump(bytecode.OpJump))
	c.consumeStatementEnd()
}

func (c *Compiler) continueStatement() {
	if c.fn.loop == nil {
		c.error(diag.EContinueOutsideLoop, "'continue' outside a loop")
		return
	}
	ls := c.fn.loop
	c.popScopeLocalsForJump(ls.scopeDepthAtEntry)
	if ls.continueTarget >= 0 {
		c.emitLoop(ls.continueTarget)
	} else {
		if len(ls.continueJumps) >= maxLoopBreaks {
			c.error(diag.EJumpTooFar, "too many continue statements in one loop")
			return
		}
		ls.continueJumps = append(ls.continueJumps, c.emitJump(bytecode.OpJump))
	}
	c.consumeStatementEnd()
}

// popScopeLocalsForJump emits the POP/CLOSE_UPVALUE instructions needed
// to unwind locals declared since targetDepth, without touching the
// compiler's own locals bookkeeping (the jump leaves the lexical scope
// untouched; only the runtime stack needs cleaning).
func (c *Compiler) popScopeLocalsForJump(targetDepth int) {
	for i := len(c.fn.locals) - 1; i >= 0 && c.fn.locals[i].depth > targetDepth; i-- {
		if c.fn.locals[i].captured {
			c.emitOp(bytecode.OpCloseUpvalue)
		} else {
			c.emitOp(bytecode.OpPop)
		}
	}
}

func (c *Compiler) returnStatement() {
	if c.fn.fnType == TypeScript {
		c.error(diag.EReturnAtTopLevel, "cannot return from top-level code")
	}
	if c.check(lexer.TokenEnd) || c.check(lexer.TokenEOF) || c.check(lexer.TokenSemicolon) {
		c.emitReturn()
	} else {
		if c.fn.fnType == TypeInitializer {
			c.error(diag.EReturnAtTopLevel, "cannot return a value from an init method")
		}
		c.expression()
		c.emitOp(bytecode.OpReturn)
	}
	c.consumeStatementEnd()
}
