package compiler

import (
	"strconv"

	"github.com/kristofer/ember/pkg/bytecode"
	"github.com/kristofer/ember/pkg/diag"
	"github.com/kristofer/ember/pkg/lexer"
)

// precedence is the Pratt ladder, lowest first:
// Assignment < Or < And < Equality < Comparison < Concat < Term < Factor
// < Unary < Call < Primary.
type precedence int

const (
	precNone precedence = iota
	precAssignment
	precOr
	precAnd
	precEquality
	precComparison
	precConcat
	precTerm
	precFactor
	precUnary
	precCall
	precPrimary
)

type parseFn func(c *Compiler, canAssign bool)

type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence precedence
}

var rules map[lexer.TokenType]parseRule

func init() {
	rules = map[lexer.TokenType]parseRule{
		lexer.TokenLeftParen:   {prefix: (*Compiler).grouping, infix: (*Compiler).call, precedence: precCall},
		lexer.TokenLeftBracket: {infix: (*Compiler).subscript, precedence: precCall},
		lexer.TokenLeftBrace:   {prefix: (*Compiler).tableLiteral},
		lexer.TokenDot:         {infix: (*Compiler).property, precedence: precCall},
		lexer.TokenColon:       {infix: (*Compiler).property, precedence: precCall},
		lexer.TokenMinus:       {prefix: (*Compiler).unary, infix: (*Compiler).binary, precedence: precTerm},
		lexer.TokenPlus:        {infix: (*Compiler).binary, precedence: precTerm},
		lexer.TokenSlash:       {infix: (*Compiler).binary, precedence: precFactor},
		lexer.TokenStar:        {infix: (*Compiler).binary, precedence: precFactor},
		lexer.TokenPercent:     {infix: (*Compiler).binary, precedence: precFactor},
		lexer.TokenHash:        {prefix: (*Compiler).unary},
		lexer.TokenNot:         {prefix: (*Compiler).unary},
		lexer.TokenDotDot:      {infix: (*Compiler).binary, precedence: precConcat},
		lexer.TokenNotEqual:    {infix: (*Compiler).binary, precedence: precEquality},
		lexer.TokenEqualEqual:  {infix: (*Compiler).binary, precedence: precEquality},
		lexer.TokenGreater:     {infix: (*Compiler).binary, precedence: precComparison},
		lexer.TokenGreaterEqual: {infix: (*Compiler).binary, precedence: precComparison},
		lexer.TokenLess:        {infix: (*Compiler).binary, precedence: precComparison},
		lexer.TokenLessEqual:   {infix: (*Compiler).binary, precedence: precComparison},
		lexer.TokenAnd:         {infix: (*Compiler).and, precedence: precAnd},
		lexer.TokenOr:          {infix: (*Compiler).or, precedence: precOr},
		lexer.TokenIdent:       {prefix: (*Compiler).variable},
		lexer.TokenString:      {prefix: (*Compiler).stringLiteral},
		lexer.TokenNumber:      {prefix: (*Compiler).number},
		lexer.TokenTrue:        {prefix: (*Compiler).literal},
		lexer.TokenFalse:       {prefix: (*Compiler).literal},
		lexer.TokenNil:         {prefix: (*Compiler).literal},
		lexer.TokenSelf:        {prefix: (*Compiler).self},
		lexer.TokenSuper:       {prefix: (*Compiler).super},
		lexer.TokenNew:         {prefix: (*Compiler).newExpr},
	}
}

func (c *Compiler) getRule(t lexer.TokenType) parseRule { return rules[t] }

func (c *Compiler) expression() { c.parsePrecedence(precAssignment) }

func (c *Compiler) parsePrecedence(prec precedence) {
	c.advance()
	prefix := c.getRule(c.previous.Type).prefix
	if prefix == nil {
		c.error(diag.EExpectExpression, "expected expression")
		return
	}
	canAssign := prec <= precAssignment
	prefix(c, canAssign)

	for prec <= c.getRule(c.current.Type).precedence {
		c.advance()
		infix := c.getRule(c.previous.Type).infix
		infix(c, canAssign)
	}

	if canAssign && c.match(lexer.TokenEqual) {
		c.error(diag.EInvalidAssignTarget, "invalid assignment target")
	}
}

// ---- prefix rules -------------------------------------------------------

func (c *Compiler) grouping(canAssign bool) {
	c.expression()
	c.consume(lexer.TokenRightParen, "expected ')' after expression")
}

func (c *Compiler) number(canAssign bool) {
	v, err := strconv.ParseFloat(c.previous.Lexeme, 64)
	if err != nil {
		c.error(diag.EExpectExpression, "invalid number literal")
		return
	}
	c.emitConstant(bytecode.Number(v))
}

func (c *Compiler) stringLiteral(canAssign bool) {
	c.emitConstant(bytecode.ObjVal(c.intern(c.previous.StringLiteralValue())))
}

func (c *Compiler) literal(canAssign bool) {
	switch c.previous.Type {
	case lexer.TokenTrue:
		c.emitOp(bytecode.OpTrue)
	case lexer.TokenFalse:
		c.emitOp(bytecode.OpFalse)
	case lexer.TokenNil:
		c.emitOp(bytecode.OpNil)
	}
}

func (c *Compiler) unary(canAssign bool) {
	opType := c.previous.Type
	c.parsePrecedence(precUnary)
	switch opType {
	case lexer.TokenMinus:
		if !c.tryFoldUnary(bytecode.OpNegate) {
			c.emitOp(bytecode.OpNegate)
		}
	case lexer.TokenNot:
		if !c.tryFoldUnary(bytecode.OpNot) {
			c.emitOp(bytecode.OpNot)
		}
	case lexer.TokenHash:
		c.emitOp(bytecode.OpLength)
	}
}

func (c *Compiler) binary(canAssign bool) {
	opType := c.previous.Type
	rule := c.getRule(opType)
	c.parsePrecedence(rule.precedence + 1)

	switch opType {
	case lexer.TokenPlus:
		c.emitFoldable(bytecode.OpAdd)
	case lexer.TokenMinus:
		c.emitFoldable(bytecode.OpSubtract)
	case lexer.TokenStar:
		c.emitFoldable(bytecode.OpMultiply)
	case lexer.TokenSlash:
		c.emitFoldable(bytecode.OpDivide)
	case lexer.TokenPercent:
		c.emitFoldable(bytecode.OpModulo)
	case lexer.TokenDotDot:
		c.emitFoldable(bytecode.OpConcat)
	case lexer.TokenEqualEqual:
		c.emitFoldable(bytecode.OpEqual)
	case lexer.TokenNotEqual:
		c.emitComparisonNegated(bytecode.OpEqual)
	case lexer.TokenGreater:
		c.emitFoldable(bytecode.OpGreater)
	case lexer.TokenLess:
		c.emitFoldable(bytecode.OpLess)
	case lexer.TokenGreaterEqual:
		c.emitComparisonNegated(bytecode.OpLess)
	case lexer.TokenLessEqual:
		c.emitComparisonNegated(bytecode.OpGreater)
	}
}

// emitFoldable tries the peephole constant fold before falling back to
// actually emitting op.
func (c *Compiler) emitFoldable(op bytecode.OpCode) {
	if !c.tryFoldBinary(op) {
		c.emitOp(op)
	}
}

// emitComparisonNegated emits base then NOT, chaining the fold attempt
// across both so "1 >= 2" folds to a single constant while a real
// runtime comparison never gets its trailing NOT mistakenly folded
// against unrelated bytes (see tryFoldUnary's precondition in fold.go).
func (c *Compiler) emitComparisonNegated(base bytecode.OpCode) {
	if c.tryFoldBinary(base) {
		c.tryFoldUnary(bytecode.OpNot)
		return
	}
	c.emitOp(base)
	c.emitOp(bytecode.OpNot)
}

func (c *Compiler) and(canAssign bool) {
	endJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(precAnd)
	c.patchJump(endJump)
}

func (c *Compiler) or(canAssign bool) {
	elseJump := c.emitJump(bytecode.OpJumpIfFalse)
	endJump := c.emitJump(bytecode.OpJump)
	c.patchJump(elseJump)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(precOr)
	c.patchJump(endJump)
}

func (c *Compiler) variable(canAssign bool) {
	c.namedVariable(c.previous.Lexeme, canAssign)
}

func (c *Compiler) namedVariable(name string, canAssign bool) {
	var getOp, setOp bytecode.OpCode
	var arg int

	if arg = resolveLocal(c.fn, name); arg != -1 {
		getOp, setOp = bytecode.OpGetLocal, bytecode.OpSetLocal
		if c.fn.locals[arg].depth == -1 {
			c.error(diag.EUndefinedVariable, "cannot read local variable in its own initializer")
		}
	} else if arg = resolveUpvalue(c.fn, name); arg != -1 {
		getOp, setOp = bytecode.OpGetUpvalue, bytecode.OpSetUpvalue
	} else {
		arg = int(c.identifierConstant(name))
		getOp, setOp = bytecode.OpGetGlobal, bytecode.OpSetGlobal
	}

	if canAssign && c.match(lexer.TokenEqual) {
		c.expression()
		c.emitOpByte(setOp, byte(arg))
		if setOp == bytecode.OpSetLocal {
			c.fn.locals[arg].assigned = true
		}
		return
	}
	c.emitOpByte(getOp, byte(arg))
	if getOp == bytecode.OpGetLocal {
		c.fn.locals[arg].used = true
	}
}

func (c *Compiler) self(canAssign bool) {
	if c.class == nil {
		c.error(diag.ESelfOutsideClass, "cannot use 'self' outside a method")
		return
	}
	c.namedVariable("self", false)
}

func (c *Compiler) super(canAssign bool) {
	if c.class == nil {
		c.error(diag.ESuperWithoutSuper, "cannot use 'super' outside a class")
		return
	}
	if !c.class.hasSuperclass {
		c.error(diag.ESuperWithoutSuper, "cannot use 'super' in a class with no superclass")
	}
	c.consume(lexer.TokenDot, "expected '.' after 'super'")
	c.consume(lexer.TokenIdent, "expected superclass method name")
	name := c.identifierConstant(c.previous.Lexeme)

	c.namedVariable("self", false)
	if c.match(lexer.TokenLeftParen) {
		argc := c.argumentList()
		c.namedVariable("super", false)
		c.emitOpByte(bytecode.OpSuperInvoke, name)
		c.emitByte(argc)
		return
	}
	c.namedVariable("super", false)
	c.emitOpByte(bytecode.OpGetSuper, name)
}

// newExpr compiles `new Class(args)`.
func (c *Compiler) newExpr(canAssign bool) {
	c.consume(lexer.TokenIdent, "expected class name after 'new'")
	c.namedVariable(c.previous.Lexeme, false)
	c.consume(lexer.TokenLeftParen, "expected '(' after class name")
	argc := c.argumentList()
	c.emitOpByte(bytecode.OpNew, argc)
}

// ---- infix rules ---------------------------------------------------------

func (c *Compiler) call(canAssign bool) {
	argc := c.argumentList()
	c.emitOpByte(bytecode.OpCall, argc)
}

func (c *Compiler) argumentList() byte {
	var argc int
	if !c.check(lexer.TokenRightParen) {
		for {
			c.expression()
			if argc == 255 {
				c.error(diag.ETooManyArgs, "too many arguments")
			}
			argc++
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightParen, "expected ')' after arguments")
	return byte(argc)
}

// property compiles `.name`, `.name(args)`, `:name(args)`.
func (c *Compiler) property(canAssign bool) {
	c.consume(lexer.TokenIdent, "expected property name after '.'")
	name := c.identifierConstant(c.previous.Lexeme)

	switch {
	case c.match(lexer.TokenLeftParen):
		argc := c.argumentList()
		c.emitOpByte(bytecode.OpInvoke, name)
		c.emitByte(argc)
	case canAssign && c.match(lexer.TokenEqual):
		c.expression()
		c.emitOpByte(bytecode.OpSetProperty, name)
	default:
		c.emitOpByte(bytecode.OpGetProperty, name)
	}
}

// subscript compiles `t[key]` and `t[key] = value` against ObjTable's
// fused array+hash shape.
func (c *Compiler) subscript(canAssign bool) {
	c.expression()
	c.consume(lexer.TokenRightBracket, "expected ']' after subscript")
	if canAssign && c.match(lexer.TokenEqual) {
		c.expression()
		c.emitOp(bytecode.OpTableSet)
		return
	}
	c.emitOp(bytecode.OpTableGet)
}

// tableLiteral compiles `{ expr, expr, name = expr, ... }`.
func (c *Compiler) tableLiteral(canAssign bool) {
	c.emitOp(bytecode.OpTable)
	for !c.check(lexer.TokenRightBrace) {
		if c.check(lexer.TokenIdent) && c.peekIsFieldAssign() {
			c.consume(lexer.TokenIdent, "expected field name")
			name := c.identifierConstant(c.previous.Lexeme)
			c.consume(lexer.TokenEqual, "expected '=' in table field")
			c.expression()
			c.emitOpByte(bytecode.OpTableSetField, name)
		} else {
			c.expression()
			c.emitOp(bytecode.OpTableAdd)
		}
		if !c.match(lexer.TokenComma) {
			break
		}
	}
	c.consume(lexer.TokenRightBrace, "expected '}' after table literal")
}

// peekIsFieldAssign distinguishes `name = expr` table fields from a bare
// expression that happens to start with an identifier (e.g. a variable
// reference used as an array element), by checking whether the token
// after the identifier is '='. The lexer only gives one token of
// lookahead naturally through current/previous, so this scans ahead
// with a throwaway lexer copy over the same source position.
func (c *Compiler) peekIsFieldAssign() bool {
	saveLex := *c.lex
	saveCur := c.current
	tok := c.lex.NextToken()
	isAssign := tok.Type == lexer.TokenEqual
	*c.lex = saveLex
	c.current = saveCur
	return isAssign
}
