package compiler

import "iter"

// ---------------------------------------------------------------------------
// Lexer: raw tokens plus layout
// ---------------------------------------------------------------------------

// Lexer produces the token stream the parser consumes. It wraps the raw
// scanner with an indentation tracker that turns leading columns into
// Indent and Undent tokens, drops blank and comment-only lines and folds
// backslash-continued lines into one logical line.
type Lexer struct {
	sc      *scanner
	levels  []int   // open indentation columns; levels[0] is the margin
	pending []Token // synthesized tokens waiting to be returned
	err     error

	lineStart bool // next token starts a logical line
	continued bool // a continuation was seen; the next EOL is swallowed
	done      bool
}

// NewLexer creates a lexer for the source text. file is used in positions.
func NewLexer(file, src string) *Lexer {
	return &Lexer{
		sc:        newScanner(file, src),
		levels:    []int{1},
		lineStart: true,
	}
}

// Next returns the next token. After EOF, it keeps returning EOF. After an
// error it keeps returning the same error.
func (l *Lexer) Next() (Token, error) {
	for {
		if l.err != nil {
			return Token{}, l.err
		}
		if len(l.pending) > 0 {
			tok := l.pending[0]
			l.pending = l.pending[1:]
			return tok, nil
		}
		if l.done {
			return Token{Type: TokenEOF, Pos: l.sc.position()}, nil
		}
		raw, err := l.sc.next()
		if err != nil {
			l.err = err
			continue
		}
		l.layout(raw)
	}
}

// layout feeds one raw token through the indentation tracker, appending
// zero or more tokens to pending.
func (l *Lexer) layout(tok Token) {
	if l.continued && tok.Type != TokenEOL && tok.Type != TokenEOF {
		l.err = &LexError{Kind: InvalidSyntax, Pos: tok.Pos, Msg: "line continuation must be the last token on its line"}
		return
	}
	switch tok.Type {
	case TokenContinuation:
		if l.lineStart {
			l.err = &LexError{Kind: InvalidSyntax, Pos: tok.Pos, Msg: "line continuation on an empty line"}
			return
		}
		l.continued = true

	case TokenEOL:
		if l.continued {
			l.continued = false
			return
		}
		if l.lineStart {
			return // blank or comment-only line
		}
		l.lineStart = true
		l.pending = append(l.pending, tok)

	case TokenEOF:
		if !l.lineStart {
			l.pending = append(l.pending, Token{Type: TokenEOL, Pos: tok.Pos})
		}
		for len(l.levels) > 1 {
			l.levels = l.levels[:len(l.levels)-1]
			l.pending = append(l.pending, Token{Type: TokenUndent, Pos: tok.Pos})
		}
		l.pending = append(l.pending, Token{Type: TokenEOL, Pos: tok.Pos})
		l.pending = append(l.pending, tok)
		l.done = true

	default:
		if l.lineStart {
			l.indent(tok)
			if l.err != nil {
				return
			}
		}
		l.lineStart = false
		l.pending = append(l.pending, tok)
	}
}

// indent compares the column of the first token of a logical line with the
// open levels.
func (l *Lexer) indent(tok Token) {
	col := tok.Pos.Column
	top := l.levels[len(l.levels)-1]
	switch {
	case col > top:
		l.levels = append(l.levels, col)
		l.pending = append(l.pending, Token{Type: TokenIndent, Pos: tok.Pos})
	case col < top:
		for len(l.levels) > 1 && l.levels[len(l.levels)-1] > col {
			l.levels = l.levels[:len(l.levels)-1]
			l.pending = append(l.pending, Token{Type: TokenUndent, Pos: tok.Pos})
		}
		if l.levels[len(l.levels)-1] != col {
			l.err = &LexError{Kind: InvalidSyntax, Pos: tok.Pos, Msg: "unindent does not match any outer indentation level"}
		}
	}
}

// Lex returns a lazy sequence of tokens for the source. Iteration stops
// after EOF or after the first error. Each call starts a fresh lexer.
func Lex(file, src string) iter.Seq2[Token, error] {
	return func(yield func(Token, error) bool) {
		l := NewLexer(file, src)
		for {
			tok, err := l.Next()
			if !yield(tok, err) || err != nil || tok.Type == TokenEOF {
				return
			}
		}
	}
}

// Tokenize lexes the whole source.
func Tokenize(file, src string) ([]Token, error) {
	var toks []Token
	for tok, err := range Lex(file, src) {
		if err != nil {
			return toks, err
		}
		toks = append(toks, tok)
	}
	return toks, nil
}
