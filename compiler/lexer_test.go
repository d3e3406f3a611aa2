package compiler

import (
	"errors"
	"strings"
	"testing"
)

func tokenTypes(t *testing.T, src string) []TokenType {
	t.Helper()
	toks, err := Tokenize("test.tn", src)
	if err != nil {
		t.Fatalf("Tokenize(%q): %v", src, err)
	}
	types := make([]TokenType, len(toks))
	for i, tok := range toks {
		types[i] = tok.Type
	}
	return types
}

func sameTypes(a, b []TokenType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestLexerBasicTokens(t *testing.T) {
	input := `total = a + b * 2`
	expected := []struct {
		typ TokenType
		lit string
	}{
		{TokenIdentifier, "total"},
		{TokenAssign, "="},
		{TokenIdentifier, "a"},
		{TokenPlus, "+"},
		{TokenIdentifier, "b"},
		{TokenStar, "*"},
		{TokenInteger, "2"},
		{TokenEOL, ""},
		{TokenEOL, ""},
		{TokenEOF, ""},
	}

	l := NewLexer("test.tn", input)
	for i, exp := range expected {
		tok, err := l.Next()
		if err != nil {
			t.Fatalf("token[%d]: %v", i, err)
		}
		if tok.Type != exp.typ {
			t.Errorf("token[%d] type = %v, want %v", i, tok.Type, exp.typ)
		}
		if exp.lit != "" && tok.Literal != exp.lit {
			t.Errorf("token[%d] literal = %q, want %q", i, tok.Literal, exp.lit)
		}
	}
}

func TestLexerLongestOperator(t *testing.T) {
	got := tokenTypes(t, "<<<= <<< <<= << <= < >>>= >>> >>= >> >= > .. .")
	want := []TokenType{
		TokenRolAssign, TokenRol, TokenShlAssign, TokenShl, TokenLe, TokenLt,
		TokenRorAssign, TokenRor, TokenShrAssign, TokenShr, TokenGe, TokenGt,
		TokenDotDot, TokenDot,
		TokenEOL, TokenEOL, TokenEOF,
	}
	if !sameTypes(got, want) {
		t.Errorf("types = %v, want %v", got, want)
	}
}

func TestLexerNumbers(t *testing.T) {
	tests := []struct {
		input string
		typ   TokenType
		want  string
	}{
		{"42", TokenInteger, "42"},
		{"1_000", TokenInteger, "1_000"},
		{"0xFF", TokenInteger, "0xFF"},
		{"0b1010", TokenInteger, "0b1010"},
		{"1.5", TokenFloat, "1.5"},
		{"2.5e-3", TokenFloat, "2.5e-3"},
		{"3e4", TokenFloat, "3e4"},
	}

	for _, tc := range tests {
		toks, err := Tokenize("test.tn", tc.input)
		if err != nil {
			t.Errorf("Tokenize(%q): %v", tc.input, err)
			continue
		}
		if toks[0].Type != tc.typ {
			t.Errorf("Tokenize(%q): type = %v, want %v", tc.input, toks[0].Type, tc.typ)
		}
		if toks[0].Literal != tc.want {
			t.Errorf("Tokenize(%q): literal = %q, want %q", tc.input, toks[0].Literal, tc.want)
		}
	}
}

func TestLexerRangeIsNotFloat(t *testing.T) {
	got := tokenTypes(t, "0..5")
	want := []TokenType{TokenInteger, TokenDotDot, TokenInteger, TokenEOL, TokenEOL, TokenEOF}
	if !sameTypes(got, want) {
		t.Errorf("types = %v, want %v", got, want)
	}
}

func TestLexerKeywordsAndIdentifiers(t *testing.T) {
	got := tokenTypes(t, "if iffy while whileX i32 i32x string")
	want := []TokenType{
		TokenIf, TokenIdentifier, TokenWhile, TokenIdentifier,
		TokenI32, TokenIdentifier, TokenStringType,
		TokenEOL, TokenEOL, TokenEOF,
	}
	if !sameTypes(got, want) {
		t.Errorf("types = %v, want %v", got, want)
	}
}

func TestLexerStrings(t *testing.T) {
	toks, err := Tokenize("test.tn", `"a\tb\n\"q\"\\"`)
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if toks[0].Type != TokenString {
		t.Fatalf("type = %v, want STRING", toks[0].Type)
	}
	if want := "a\tb\n\"q\"\\"; toks[0].Literal != want {
		t.Errorf("literal = %q, want %q", toks[0].Literal, want)
	}
}

func TestLexerComments(t *testing.T) {
	src := "a // trailing\nb /* block /* nested */ still */\n"
	got := tokenTypes(t, src)
	want := []TokenType{TokenIdentifier, TokenEOL, TokenIdentifier, TokenEOL, TokenEOL, TokenEOF}
	if !sameTypes(got, want) {
		t.Errorf("types = %v, want %v", got, want)
	}
}

func TestLexerPositions(t *testing.T) {
	toks, err := Tokenize("pos.tn", "a\n\tb")
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	// a EOL INDENT b
	b := toks[3]
	if b.Literal != "b" {
		t.Fatalf("token 3 = %v, want b", b)
	}
	if b.Pos.Line != 2 || b.Pos.Column != 1+TabWidth {
		t.Errorf("b at %d:%d, want 2:%d", b.Pos.Line, b.Pos.Column, 1+TabWidth)
	}
	if b.Pos.File != "pos.tn" {
		t.Errorf("file = %q, want pos.tn", b.Pos.File)
	}
}

func TestLexerErrors(t *testing.T) {
	tests := []struct {
		input string
		kind  LexErrorKind
		msg   string
	}{
		{"a $ b", IllegalCharacter, "unexpected"},
		{`"open`, InvalidSyntax, "unterminated string"},
		{`"bad \q"`, InvalidSyntax, "unknown escape"},
		{`"nul \0"`, InvalidSyntax, "NUL escape"},
		{"0x", InvalidSyntax, "malformed hexadecimal"},
		{"0b102", InvalidSyntax, "malformed binary"},
		{"1.5e", InvalidSyntax, "malformed exponent"},
		{"12abc", InvalidSyntax, "malformed number"},
		{"/* open", InvalidSyntax, "unterminated block comment"},
		{"a \\ b", InvalidSyntax, "continuation must be the last"},
		{"a\n\\\n", InvalidSyntax, "continuation on an empty line"},
		{"a\n    b\n  c\n", InvalidSyntax, "unindent does not match"},
	}

	for _, tc := range tests {
		_, err := Tokenize("test.tn", tc.input)
		var lexErr *LexError
		if !errors.As(err, &lexErr) {
			t.Errorf("Tokenize(%q): err = %v, want *LexError", tc.input, err)
			continue
		}
		if lexErr.Kind != tc.kind {
			t.Errorf("Tokenize(%q): kind = %v, want %v", tc.input, lexErr.Kind, tc.kind)
		}
		if !strings.Contains(lexErr.Msg, tc.msg) {
			t.Errorf("Tokenize(%q): msg = %q, want it to contain %q", tc.input, lexErr.Msg, tc.msg)
		}
	}
}

func TestLexerIndentation(t *testing.T) {
	src := "f()\n    a\n    if b\n        c\n\n    // comment only\n    d\ne\n"
	got := tokenTypes(t, src)
	want := []TokenType{
		TokenIdentifier, TokenLParen, TokenRParen, TokenEOL,
		TokenIndent, TokenIdentifier, TokenEOL,
		TokenIf, TokenIdentifier, TokenEOL,
		TokenIndent, TokenIdentifier, TokenEOL,
		TokenUndent, TokenIdentifier, TokenEOL,
		TokenUndent, TokenIdentifier, TokenEOL,
		TokenEOL, TokenEOF,
	}
	if !sameTypes(got, want) {
		t.Errorf("types =\n  %v\nwant\n  %v", got, want)
	}
}

func TestLexerContinuation(t *testing.T) {
	got := tokenTypes(t, "x = 1 + \\\n        2\ny = 3\n")
	want := []TokenType{
		TokenIdentifier, TokenAssign, TokenInteger, TokenPlus, TokenInteger, TokenEOL,
		TokenIdentifier, TokenAssign, TokenInteger, TokenEOL,
		TokenEOL, TokenEOF,
	}
	if !sameTypes(got, want) {
		t.Errorf("types = %v, want %v", got, want)
	}
}

// Every Indent is matched by an Undent before EOF, however deep the
// source is nested when it ends.
func TestLexerIndentRoundTrip(t *testing.T) {
	sources := []string{
		"a\n",
		"a\n  b\n",
		"a\n  b\n    c\n      d",
		"a\n  b\n    c\n  d\n    e\nf\n  g\n",
		"a\n\tb\n\t\tc\n",
		"m\n    n\n        o\n            p\n    q\n",
	}
	for _, src := range sources {
		indents, undents := 0, 0
		for tok, err := range Lex("rt.tn", src) {
			if err != nil {
				t.Fatalf("Lex(%q): %v", src, err)
			}
			switch tok.Type {
			case TokenIndent:
				indents++
			case TokenUndent:
				undents++
			}
		}
		if indents != undents {
			t.Errorf("Lex(%q): %d indents, %d undents", src, indents, undents)
		}
		if indents == 0 && strings.Contains(src, "\n ") {
			t.Errorf("Lex(%q): no indents", src)
		}
	}
}

func TestLexStopsAtFirstError(t *testing.T) {
	n := 0
	var last error
	for _, err := range Lex("test.tn", "a b $ c d") {
		n++
		last = err
	}
	if last == nil {
		t.Fatal("expected the sequence to end with an error")
	}
	if n != 3 {
		t.Errorf("yielded %d items, want 3", n)
	}
}
