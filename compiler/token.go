package compiler

import (
	"fmt"
	"sort"

	"github.com/chazu/tern/pkg/diag"
)

// ---------------------------------------------------------------------------
// Token types for the Tern lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Layout and special tokens
	TokenEOF TokenType = iota
	TokenEOL
	TokenIndent
	TokenUndent
	TokenContinuation // trailing backslash, consumed by the indentation tracker

	// Literals
	TokenInteger    // 42, 1_000, 0xFF, 0b1010
	TokenFloat      // 1.5, 2.5e-3, 3e4
	TokenString     // "text"
	TokenIdentifier // total, Add

	// Keywords
	TokenImport
	TokenExport
	TokenConst
	TokenModule
	TokenEnum
	TokenTypeKw
	TokenIf
	TokenElif
	TokenElse
	TokenWhile
	TokenFor
	TokenIn
	TokenReturn
	TokenTrue
	TokenFalse
	TokenBool
	TokenByte
	TokenI32
	TokenF32
	TokenStringType

	// Operators
	TokenPlus      // +
	TokenMinus     // -
	TokenStar      // *
	TokenSlash     // /
	TokenPercent   // %
	TokenAmp       // &
	TokenPipe      // |
	TokenCaret     // ^
	TokenTilde     // ~
	TokenBang      // !
	TokenLt        // <
	TokenGt        // >
	TokenLe        // <=
	TokenGe        // >=
	TokenEq        // ==
	TokenNe        // !=
	TokenAndAnd    // &&
	TokenOrOr      // ||
	TokenShl       // <<
	TokenShr       // >>
	TokenRol       // <<<
	TokenRor       // >>>
	TokenAssign    // =
	TokenAddAssign // +=
	TokenSubAssign // -=
	TokenMulAssign // *=
	TokenDivAssign // /=
	TokenModAssign // %=
	TokenAndAssign // &=
	TokenOrAssign  // |=
	TokenXorAssign // ^=
	TokenShlAssign // <<=
	TokenShrAssign // >>=
	TokenRolAssign // <<<=
	TokenRorAssign // >>>=
	TokenDotDot    // ..

	// Delimiters
	TokenComma    // ,
	TokenDot      // .
	TokenColon    // :
	TokenAt       // @
	TokenLParen   // (
	TokenRParen   // )
	TokenLBracket // [
	TokenRBracket // ]
)

var tokenNames = map[TokenType]string{
	TokenEOF:          "EOF",
	TokenEOL:          "end of line",
	TokenIndent:       "INDENT",
	TokenUndent:       "UNDENT",
	TokenContinuation: "\\",
	TokenInteger:      "INTEGER",
	TokenFloat:        "FLOAT",
	TokenString:       "STRING",
	TokenIdentifier:   "IDENTIFIER",
	TokenImport:       "import",
	TokenExport:       "export",
	TokenConst:        "const",
	TokenModule:       "module",
	TokenEnum:         "enum",
	TokenTypeKw:       "type",
	TokenIf:           "if",
	TokenElif:         "elif",
	TokenElse:         "else",
	TokenWhile:        "while",
	TokenFor:          "for",
	TokenIn:           "in",
	TokenReturn:       "return",
	TokenTrue:         "true",
	TokenFalse:        "false",
	TokenBool:         "bool",
	TokenByte:         "byte",
	TokenI32:          "i32",
	TokenF32:          "f32",
	TokenStringType:   "string",
	TokenPlus:         "+",
	TokenMinus:        "-",
	TokenStar:         "*",
	TokenSlash:        "/",
	TokenPercent:      "%",
	TokenAmp:          "&",
	TokenPipe:         "|",
	TokenCaret:        "^",
	TokenTilde:        "~",
	TokenBang:         "!",
	TokenLt:           "<",
	TokenGt:           ">",
	TokenLe:           "<=",
	TokenGe:           ">=",
	TokenEq:           "==",
	TokenNe:           "!=",
	TokenAndAnd:       "&&",
	TokenOrOr:         "||",
	TokenShl:          "<<",
	TokenShr:          ">>",
	TokenRol:          "<<<",
	TokenRor:          ">>>",
	TokenAssign:       "=",
	TokenAddAssign:    "+=",
	TokenSubAssign:    "-=",
	TokenMulAssign:    "*=",
	TokenDivAssign:    "/=",
	TokenModAssign:    "%=",
	TokenAndAssign:    "&=",
	TokenOrAssign:     "|=",
	TokenXorAssign:    "^=",
	TokenShlAssign:    "<<=",
	TokenShrAssign:    ">>=",
	TokenRolAssign:    "<<<=",
	TokenRorAssign:    ">>>=",
	TokenDotDot:       "..",
	TokenComma:        ",",
	TokenDot:          ".",
	TokenColon:        ":",
	TokenAt:           "@",
	TokenLParen:       "(",
	TokenRParen:       ")",
	TokenLBracket:     "[",
	TokenRBracket:     "]",
}

// String returns the string representation of a token type.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TokenType(%d)", t)
}

// keywords maps reserved words to their token types.
var keywords = map[string]TokenType{
	"import": TokenImport,
	"export": TokenExport,
	"const":  TokenConst,
	"module": TokenModule,
	"enum":   TokenEnum,
	"type":   TokenTypeKw,
	"if":     TokenIf,
	"elif":   TokenElif,
	"else":   TokenElse,
	"while":  TokenWhile,
	"for":    TokenFor,
	"in":     TokenIn,
	"return": TokenReturn,
	"true":   TokenTrue,
	"false":  TokenFalse,
	"bool":   TokenBool,
	"byte":   TokenByte,
	"i32":    TokenI32,
	"f32":    TokenF32,
	"string": TokenStringType,
}

// operators lists multi and single character operators, longest first so
// the first prefix match is the longest one.
var operators = []struct {
	text string
	typ  TokenType
}{
	{"<<<=", TokenRolAssign},
	{">>>=", TokenRorAssign},
	{"<<<", TokenRol},
	{">>>", TokenRor},
	{"<<=", TokenShlAssign},
	{">>=", TokenShrAssign},
	{"<<", TokenShl},
	{">>", TokenShr},
	{"<=", TokenLe},
	{">=", TokenGe},
	{"==", TokenEq},
	{"!=", TokenNe},
	{"&&", TokenAndAnd},
	{"||", TokenOrOr},
	{"+=", TokenAddAssign},
	{"-=", TokenSubAssign},
	{"*=", TokenMulAssign},
	{"/=", TokenDivAssign},
	{"%=", TokenModAssign},
	{"&=", TokenAndAssign},
	{"|=", TokenOrAssign},
	{"^=", TokenXorAssign},
	{"..", TokenDotDot},
	{"+", TokenPlus},
	{"-", TokenMinus},
	{"*", TokenStar},
	{"/", TokenSlash},
	{"%", TokenPercent},
	{"&", TokenAmp},
	{"|", TokenPipe},
	{"^", TokenCaret},
	{"~", TokenTilde},
	{"!", TokenBang},
	{"<", TokenLt},
	{">", TokenGt},
	{"=", TokenAssign},
	{",", TokenComma},
	{".", TokenDot},
	{":", TokenColon},
	{"@", TokenAt},
	{"(", TokenLParen},
	{")", TokenRParen},
	{"[", TokenLBracket},
	{"]", TokenRBracket},
}

// IsKeyword reports whether the token type is a reserved word.
func (t TokenType) IsKeyword() bool {
	return t >= TokenImport && t <= TokenStringType
}

// IsPrimitiveType reports whether the token names a built-in type.
func (t TokenType) IsPrimitiveType() bool {
	return t >= TokenBool && t <= TokenStringType
}

// IsCompoundAssign reports whether the token is an operator-assignment.
func (t TokenType) IsCompoundAssign() bool {
	return t >= TokenAddAssign && t <= TokenRorAssign
}

// Position represents a location in source code.
type Position struct {
	File   string
	Offset int // byte offset from start
	Line   int // 1-based line number
	Column int // 1-based column number, tabs expanded
}

// String returns a string representation of the position.
func (p Position) String() string {
	if p.File != "" {
		return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Diag converts the position for diagnostics.
func (p Position) Diag() diag.Pos {
	return diag.Pos{File: p.File, Line: p.Line, Column: p.Column}
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string // source text; decoded contents for strings
	Pos     Position
}

// String returns a string representation of the token.
func (t Token) String() string {
	switch t.Type {
	case TokenInteger, TokenFloat, TokenIdentifier:
		return fmt.Sprintf("%s(%s)", t.Type, t.Literal)
	case TokenString:
		return fmt.Sprintf("STRING(%q)", t.Literal)
	}
	return t.Type.String()
}

// Describe renders the token for "expected X, found Y" messages.
func (t Token) Describe() string {
	switch t.Type {
	case TokenInteger, TokenFloat, TokenIdentifier:
		return fmt.Sprintf("%q", t.Literal)
	case TokenString:
		return "string literal"
	case TokenEOF, TokenEOL, TokenIndent, TokenUndent:
		return t.Type.String()
	}
	return fmt.Sprintf("%q", t.Type.String())
}

// Keywords returns the reserved words in sorted order.
func Keywords() []string {
	out := make([]string, 0, len(keywords))
	for k := range keywords {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
