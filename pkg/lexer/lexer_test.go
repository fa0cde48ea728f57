package lexer

import "testing"

func TestNextToken_BasicTokens(t *testing.T) {
	input := `+ - * / % # ( ) { } [ ] , ; :`

	tests := []struct {
		expectedType    TokenType
		expectedLiteral string
	}{
		{TokenPlus, "+"},
		{TokenMinus, "-"},
		{TokenStar, "*"},
		{TokenSlash, "/"},
		{TokenPercent, "%"},
		{TokenHash, "#"},
		{TokenLeftParen, "("},
		{TokenRightParen, ")"},
		{TokenLeftBrace, "{"},
		{TokenRightBrace, "}"},
		{TokenLeftBracket, "["},
		{TokenRightBracket, "]"},
		{TokenComma, ","},
		{TokenSemicolon, ";"},
		{TokenColon, ":"},
		{TokenEOF, ""},
	}

	l := New(input)
	for i, tt := range tests {
		tok := l.NextToken()
		if tok.Type != tt.expectedType {
			t.Fatalf("tests[%d] - tokentype wrong. expected=%v, got=%v", i, tt.expectedType, tok.Type)
		}
		if tok.Lexeme != tt.expectedLiteral {
			t.Fatalf("tests[%d] - literal wrong. expected=%q, got=%q", i, tt.expectedLiteral, tok.Lexeme)
		}
	}
}

func TestMaximalMunch(t *testing.T) {
	tests := []struct {
		input string
		types []TokenType
	}{
		{"..", []TokenType{TokenDotDot, TokenEOF}},
		{"...", []TokenType{TokenDotDotDot, TokenEOF}},
		{"....", []TokenType{TokenDotDotDot, TokenDot, TokenEOF}},
		{"~=", []TokenType{TokenNotEqual, TokenEOF}},
		{"==", []TokenType{TokenEqualEqual, TokenEOF}},
		{"<=", []TokenType{TokenLessEqual, TokenEOF}},
		{">=", []TokenType{TokenGreaterEqual, TokenEOF}},
	}

	for _, tt := range tests {
		l := New(tt.input)
		for i, want := range tt.types {
			got := l.NextToken()
			if got.Type != want {
				t.Fatalf("%q: token[%d] = %v, want %v", tt.input, i, got.Type, want)
			}
		}
	}
}

func TestNumberDotDisambiguation(t *testing.T) {
	l := New("123.abc")
	types := []TokenType{TokenNumber, TokenDot, TokenIdent, TokenEOF}
	for i, want := range types {
		got := l.NextToken()
		if got.Type != want {
			t.Fatalf("token[%d] = %v, want %v", i, got.Type, want)
		}
	}

	l = New("1..10")
	types = []TokenType{TokenNumber, TokenDotDot, TokenNumber, TokenEOF}
	for i, want := range types {
		got := l.NextToken()
		if got.Type != want {
			t.Fatalf("token[%d] = %v, want %v", i, got.Type, want)
		}
	}
}

func TestKeywordsAndIdentifiers(t *testing.T) {
	l := New("class classes iffy if")
	types := []TokenType{TokenClass, TokenIdent, TokenIdent, TokenIf, TokenEOF}
	for i, want := range types {
		got := l.NextToken()
		if got.Type != want {
			t.Fatalf("token[%d] = %v, want %v", i, got.Type, want)
		}
	}
}

func TestStrings(t *testing.T) {
	l := New(`"hi" 'lo' [[long
string]]`)

	tok := l.NextToken()
	if tok.Type != TokenString || tok.StringLiteralValue() != "hi" {
		t.Fatalf("got %v %q", tok.Type, tok.StringLiteralValue())
	}
	tok = l.NextToken()
	if tok.Type != TokenString || tok.StringLiteralValue() != "lo" {
		t.Fatalf("got %v %q", tok.Type, tok.StringLiteralValue())
	}
	tok = l.NextToken()
	if tok.Type != TokenString || tok.StringLiteralValue() != "long\nstring" {
		t.Fatalf("got %v %q", tok.Type, tok.StringLiteralValue())
	}
}

func TestUnterminatedStringError(t *testing.T) {
	l := New(`"unterminated`)
	tok := l.NextToken()
	if tok.Type != TokenError {
		t.Fatalf("expected error token, got %v", tok.Type)
	}
}

func TestUnterminatedLongStringError(t *testing.T) {
	l := New(`[[unterminated`)
	tok := l.NextToken()
	if tok.Type != TokenError {
		t.Fatalf("expected error token, got %v", tok.Type)
	}
}

func TestCommentsSkipped(t *testing.T) {
	l := New("-- line comment\n--[[ block\ncomment ]]\n42")
	tok := l.NextToken()
	if tok.Type != TokenNumber || tok.Lexeme != "42" {
		t.Fatalf("got %v %q", tok.Type, tok.Lexeme)
	}
}

func TestDeterminism(t *testing.T) {
	src := "local x = 1 + 2 * 3 -- comment\nif x then return x end"
	var first []TokenType
	l := New(src)
	for {
		tok := l.NextToken()
		first = append(first, tok.Type)
		if tok.Type == TokenEOF {
			break
		}
	}

	l2 := New(src)
	for i := 0; ; i++ {
		tok := l2.NextToken()
		if tok.Type != first[i] {
			t.Fatalf("nondeterministic scan at %d: %v vs %v", i, tok.Type, first[i])
		}
		if tok.Type == TokenEOF {
			break
		}
	}
}
