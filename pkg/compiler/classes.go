package compiler

import (
	"github.com/kristofer/ember/pkg/bytecode"
	"github.com/kristofer/ember/pkg/diag"
	"github.com/kristofer/ember/pkg/lexer"
)

// classDeclaration compiles:
//
//	class Name [extends Super] [implements T1, T2, ...]
//	  [private] function method(...) ... end
//	  ...
//	end
//
// following clox's classDeclaration shape: the class
// object is created and bound to its variable first, then re-read back
// onto the stack so extends/implements/method declarations can mutate it
// in place, and finally popped once the body is done.
func (c *Compiler) classDeclaration() {
	c.consume(lexer.TokenIdent, "expected class name")
	className := c.previous.Lexeme
	nameConst := c.identifierConstant(className)
	c.declareVariable(className)
	c.emitOpByte(bytecode.OpClass, nameConst)
	c.defineVariable(nameConst)

	cs := &classState{enclosing: c.class}
	c.class = cs

	if c.match(lexer.TokenExtends) {
		c.consume(lexer.TokenIdent, "expected superclass name")
		superName := c.previous.Lexeme
		if superName == className {
			c.error(diag.EInheritSelf, "a class cannot inherit from itself")
		}
		c.namedVariable(superName, false)
		c.beginScope()
		c.addLocal("super")
		c.markInitialized()
		c.namedVariable(className, false)
		c.emitOp(bytecode.OpInherit)
		cs.hasSuperclass = true
	}

	if c.match(lexer.TokenImplements) {
		for {
			c.consume(lexer.TokenIdent, "expected trait name")
			traitName := c.previous.Lexeme
			c.namedVariable(className, false)
			c.namedVariable(traitName, false)
			c.emitOp(bytecode.OpImplement)
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}

	c.namedVariable(className, false)
	for !c.check(lexer.TokenEnd) && !c.check(lexer.TokenEOF) {
		c.method()
	}
	c.consume(lexer.TokenEnd, "expected 'end' after class body")
	c.emitOp(bytecode.OpPop)

	if cs.hasSuperclass {
		c.endScope()
	}
	c.class = cs.enclosing
}

// traitDeclaration compiles a standalone method bag mixed into classes
// with `implements`.
func (c *Compiler) traitDeclaration() {
	c.consume(lexer.TokenIdent, "expected trait name")
	name := c.previous.Lexeme
	nameConst := c.identifierConstant(name)
	c.declareVariable(name)
	c.emitOpByte(bytecode.OpTrait, nameConst)
	c.defineVariable(nameConst)

	c.namedVariable(name, false)
	for !c.check(lexer.TokenEnd) && !c.check(lexer.TokenEOF) {
		c.method()
	}
	c.consume(lexer.TokenEnd, "expected 'end' after trait body")
	c.emitOp(bytecode.OpPop)
}

// method compiles one `[private] function name(...) ... end` entry
// inside a class or trait body. Privacy is recorded alongside the method
// name but, , is not enforced by the VM at call sites --
// OP_METHOD's second operand just threads the flag through to the
// runtime method table for introspection.
func (c *Compiler) method() {
	isPrivate := c.match(lexer.TokenPrivate)
	c.consume(lexer.TokenFunction, "expected 'function' in class body")
	c.consume(lexer.TokenIdent, "expected method name")
	name := c.previous.Lexeme
	nameConst := c.identifierConstant(name)

	fnType := TypeMethod
	if name == "init" {
		fnType = TypeInitializer
	}
	c.functionBody(fnType, name)

	c.emitOpByte(bytecode.OpMethod, nameConst)
	if isPrivate {
		c.emitByte(1)
	} else {
		c.emitByte(0)
	}
}
