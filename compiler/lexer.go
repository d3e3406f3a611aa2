package compiler

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer errors
// ---------------------------------------------------------------------------

// LexErrorKind classifies a fatal lexical error.
type LexErrorKind int

const (
	IllegalCharacter LexErrorKind = iota
	InvalidSyntax
)

func (k LexErrorKind) String() string {
	if k == IllegalCharacter {
		return "illegal character"
	}
	return "invalid syntax"
}

// LexError is a fatal lexical error. Lexing stops at the first one.
type LexError struct {
	Kind LexErrorKind
	Pos  Position
	Msg  string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Pos, e.Kind, e.Msg)
}

// TabWidth is the column multiple a tab advances to.
const TabWidth = 4

// ---------------------------------------------------------------------------
// scanner: raw tokens, before indentation tracking
// ---------------------------------------------------------------------------

type scanner struct {
	file string
	src  string
	pos  int
	line int
	col  int
}

func newScanner(file, src string) *scanner {
	return &scanner{file: file, src: src, line: 1, col: 1}
}

func (s *scanner) position() Position {
	return Position{File: s.file, Offset: s.pos, Line: s.line, Column: s.col}
}

func (s *scanner) peek(n int) byte {
	if s.pos+n >= len(s.src) {
		return 0
	}
	return s.src[s.pos+n]
}

func (s *scanner) hasPrefix(p string) bool {
	return strings.HasPrefix(s.src[s.pos:], p)
}

// advance consumes n bytes, keeping line and column current.
func (s *scanner) advance(n int) {
	for i := 0; i < n && s.pos < len(s.src); i++ {
		c := s.src[s.pos]
		s.pos++
		switch {
		case c == '\n':
			s.line++
			s.col = 1
		case c == '\r':
			if s.pos < len(s.src) && s.src[s.pos] == '\n' {
				continue
			}
			s.line++
			s.col = 1
		case c == '\t':
			s.col = ((s.col-1)/TabWidth+1)*TabWidth + 1
		case c&0xC0 != 0x80:
			s.col++
		}
	}
}

func (s *scanner) errorf(kind LexErrorKind, pos Position, format string, args ...interface{}) error {
	return &LexError{Kind: kind, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

type matchResult int

const (
	noMatch matchResult = iota
	skipMatch
	tokenMatch
)

// matcher tries to recognise one lexeme at the scanner position. A matcher
// that returns noMatch must not consume input.
type matcher func(s *scanner, start Position) (Token, matchResult, error)

// matchers in priority order. The first one that matches wins.
var matchers = []matcher{
	matchComment,
	matchEOL,
	matchContinuation,
	matchString,
	matchNumber,
	matchOperator,
	matchKeyword,
	matchWhitespace,
	matchIdentifier,
}

// next returns the next raw token. Every call either consumes at least one
// byte, returns EOF or fails.
func (s *scanner) next() (Token, error) {
	for {
		start := s.position()
		if s.pos >= len(s.src) {
			return Token{Type: TokenEOF, Pos: start}, nil
		}
		matched := false
		for _, m := range matchers {
			tok, res, err := m(s, start)
			if err != nil {
				return Token{}, err
			}
			if res == tokenMatch {
				return tok, nil
			}
			if res == skipMatch {
				matched = true
				break
			}
		}
		if !matched {
			r, _ := utf8.DecodeRuneInString(s.src[s.pos:])
			return Token{}, s.errorf(IllegalCharacter, start, "unexpected %q", r)
		}
	}
}

func matchComment(s *scanner, start Position) (Token, matchResult, error) {
	switch {
	case s.hasPrefix("//"):
		for s.pos < len(s.src) && s.src[s.pos] != '\n' && s.src[s.pos] != '\r' {
			s.advance(1)
		}
		return Token{}, skipMatch, nil
	case s.hasPrefix("/*"):
		depth := 0
		for s.pos < len(s.src) {
			switch {
			case s.hasPrefix("/*"):
				depth++
				s.advance(2)
			case s.hasPrefix("*/"):
				depth--
				s.advance(2)
				if depth == 0 {
					return Token{}, skipMatch, nil
				}
			default:
				s.advance(1)
			}
		}
		return Token{}, noMatch, s.errorf(InvalidSyntax, start, "unterminated block comment")
	}
	return Token{}, noMatch, nil
}

func matchEOL(s *scanner, start Position) (Token, matchResult, error) {
	switch {
	case s.hasPrefix("\r\n"):
		s.advance(2)
	case s.peek(0) == '\n' || s.peek(0) == '\r':
		s.advance(1)
	default:
		return Token{}, noMatch, nil
	}
	return Token{Type: TokenEOL, Literal: "\n", Pos: start}, tokenMatch, nil
}

func matchContinuation(s *scanner, start Position) (Token, matchResult, error) {
	if s.peek(0) != '\\' {
		return Token{}, noMatch, nil
	}
	s.advance(1)
	return Token{Type: TokenContinuation, Literal: "\\", Pos: start}, tokenMatch, nil
}

func matchString(s *scanner, start Position) (Token, matchResult, error) {
	if s.peek(0) != '"' {
		return Token{}, noMatch, nil
	}
	s.advance(1)
	var sb strings.Builder
	for {
		if s.pos >= len(s.src) || s.src[s.pos] == '\n' || s.src[s.pos] == '\r' {
			return Token{}, noMatch, s.errorf(InvalidSyntax, start, "unterminated string literal")
		}
		c := s.src[s.pos]
		switch c {
		case '"':
			s.advance(1)
			return Token{Type: TokenString, Literal: sb.String(), Pos: start}, tokenMatch, nil
		case '\\':
			esc := s.peek(1)
			switch esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '\\':
				sb.WriteByte('\\')
			case '"':
				sb.WriteByte('"')
			case '0':
				// NUL cannot be carried by link-table strings.
				return Token{}, noMatch, s.errorf(InvalidSyntax, s.position(), "NUL escape is not allowed in strings")
			default:
				return Token{}, noMatch, s.errorf(InvalidSyntax, s.position(), "unknown escape \\%c", esc)
			}
			s.advance(2)
		default:
			sb.WriteByte(c)
			s.advance(1)
		}
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isHexDigit(c byte) bool { return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') }
func isIdentStart(c byte) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isIdentChar(c byte) bool { return isIdentStart(c) || isDigit(c) }

// digits consumes a run of digits accepted by ok, allowing '_' separators,
// and returns how many real digits were seen.
func (s *scanner) digits(ok func(byte) bool) int {
	n := 0
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		if ok(c) {
			n++
		} else if c != '_' {
			break
		}
		s.advance(1)
	}
	return n
}

func matchNumber(s *scanner, start Position) (Token, matchResult, error) {
	if !isDigit(s.peek(0)) {
		return Token{}, noMatch, nil
	}
	typ := TokenInteger
	if s.peek(0) == '0' && (s.peek(1) == 'x' || s.peek(1) == 'X' || s.peek(1) == 'b' || s.peek(1) == 'B') {
		hex := s.peek(1) == 'x' || s.peek(1) == 'X'
		s.advance(2)
		ok := isHexDigit
		what := "hexadecimal"
		if !hex {
			ok = func(c byte) bool { return c == '0' || c == '1' }
			what = "binary"
		}
		if s.digits(ok) == 0 || isIdentChar(s.peek(0)) {
			return Token{}, noMatch, s.errorf(InvalidSyntax, start, "malformed %s literal", what)
		}
		return Token{Type: typ, Literal: s.src[start.Offset:s.pos], Pos: start}, tokenMatch, nil
	}

	s.digits(isDigit)
	// A '.' only belongs to the number when a digit follows, so "0..5"
	// is a range.
	if s.peek(0) == '.' && isDigit(s.peek(1)) {
		typ = TokenFloat
		s.advance(1)
		s.digits(isDigit)
	}
	if s.peek(0) == 'e' || s.peek(0) == 'E' {
		typ = TokenFloat
		s.advance(1)
		if s.peek(0) == '+' || s.peek(0) == '-' {
			s.advance(1)
		}
		if s.digits(isDigit) == 0 {
			return Token{}, noMatch, s.errorf(InvalidSyntax, start, "malformed exponent in %q", s.src[start.Offset:s.pos])
		}
	}
	if isIdentChar(s.peek(0)) {
		return Token{}, noMatch, s.errorf(InvalidSyntax, start, "malformed number %q", s.src[start.Offset:s.pos+1])
	}
	return Token{Type: typ, Literal: s.src[start.Offset:s.pos], Pos: start}, tokenMatch, nil
}

func matchOperator(s *scanner, start Position) (Token, matchResult, error) {
	for _, op := range operators {
		if s.hasPrefix(op.text) {
			s.advance(len(op.text))
			return Token{Type: op.typ, Literal: op.text, Pos: start}, tokenMatch, nil
		}
	}
	return Token{}, noMatch, nil
}

// identLen returns the length of the identifier-shaped run at the cursor.
func (s *scanner) identLen() int {
	if !isIdentStart(s.peek(0)) {
		return 0
	}
	n := 1
	for s.pos+n < len(s.src) && isIdentChar(s.src[s.pos+n]) {
		n++
	}
	return n
}

// matchKeyword matches a reserved word that is not followed by another
// identifier character.
func matchKeyword(s *scanner, start Position) (Token, matchResult, error) {
	n := s.identLen()
	if n == 0 {
		return Token{}, noMatch, nil
	}
	word := s.src[s.pos : s.pos+n]
	typ, ok := keywords[word]
	if !ok {
		return Token{}, noMatch, nil
	}
	s.advance(n)
	return Token{Type: typ, Literal: word, Pos: start}, tokenMatch, nil
}

func matchWhitespace(s *scanner, start Position) (Token, matchResult, error) {
	n := 0
	for s.pos+n < len(s.src) && (s.src[s.pos+n] == ' ' || s.src[s.pos+n] == '\t') {
		n++
	}
	if n == 0 {
		return Token{}, noMatch, nil
	}
	s.advance(n)
	return Token{}, skipMatch, nil
}

func matchIdentifier(s *scanner, start Position) (Token, matchResult, error) {
	n := s.identLen()
	if n == 0 {
		return Token{}, noMatch, nil
	}
	word := s.src[s.pos : s.pos+n]
	s.advance(n)
	return Token{Type: TokenIdentifier, Literal: word, Pos: start}, tokenMatch, nil
}
