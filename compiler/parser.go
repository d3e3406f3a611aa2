package compiler

import (
	"fmt"

	"github.com/chazu/tern/pkg/diag"
)

// ---------------------------------------------------------------------------
// Parser: backtracking recursive descent over a token slice
// ---------------------------------------------------------------------------

// Parser builds a Tree from tokens. Syntax errors go to the diagnostic sink;
// the parser resynchronises at the next line of the enclosing block and
// keeps going.
type Parser struct {
	toks         []Token
	pos          int
	tree         *Tree
	diags        *diag.Sink
	ignoreErrors int
}

// NewParser creates a parser over a token slice that ends with EOF. Nodes
// are allocated in tree.
func NewParser(toks []Token, tree *Tree, diags *diag.Sink) *Parser {
	if len(toks) == 0 || toks[len(toks)-1].Type != TokenEOF {
		toks = append(toks, Token{Type: TokenEOF})
	}
	return &Parser{toks: toks, tree: tree, diags: diags}
}

// Parse lexes and parses a source file into a new tree. A lexical error is
// reported through diags and yields a tree with an empty program.
func Parse(file, src string, diags *diag.Sink) *Tree {
	tree := NewTree()
	tree.Root = ParseInto(tree, file, src, diags)
	tree.LinkParents()
	return tree
}

// ParseInto parses a file into an existing tree and returns its Program
// node.
func ParseInto(tree *Tree, file, src string, diags *diag.Sink) NodeID {
	toks, err := Tokenize(file, src)
	if err != nil {
		if le, ok := err.(*LexError); ok {
			diags.Errorf(le.Pos.Diag(), "%s: %s", le.Kind, le.Msg)
		} else {
			diags.Errorf(diag.Pos{File: file}, "%v", err)
		}
		return tree.New(KindProgram, Token{Pos: Position{File: file, Line: 1, Column: 1}})
	}
	return NewParser(toks, tree, diags).ParseProgram()
}

func (p *Parser) cur() Token { return p.toks[p.pos] }

func (p *Parser) peek(n int) Token {
	if p.pos+n < len(p.toks) {
		return p.toks[p.pos+n]
	}
	return p.toks[len(p.toks)-1]
}

func (p *Parser) at(tt TokenType) bool { return p.cur().Type == tt }

func (p *Parser) advance() Token {
	t := p.cur()
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

// expect consumes a token of the given type or reports what was found.
func (p *Parser) expect(tt TokenType) (Token, bool) {
	if p.at(tt) {
		return p.advance(), true
	}
	p.errorf(p.cur().Pos, "expected %s, found %s", describeType(tt), p.cur().Describe())
	return Token{}, false
}

func describeType(tt TokenType) string {
	switch tt {
	case TokenIdentifier:
		return "identifier"
	case TokenString:
		return "string literal"
	case TokenEOL, TokenIndent, TokenUndent, TokenEOF:
		return tt.String()
	}
	return fmt.Sprintf("%q", tt.String())
}

// errorf records a syntax error unless a speculative attempt is running.
func (p *Parser) errorf(pos Position, format string, args ...interface{}) {
	if p.ignoreErrors > 0 {
		return
	}
	p.diags.Errorf(pos.Diag(), format, args...)
}

// ---------------------------------------------------------------------------
// Recovery
// ---------------------------------------------------------------------------

// skipLine discards the rest of the logical line, its EOL and any block
// nested under it.
func (p *Parser) skipLine() {
	depth := 0
	for !p.at(TokenEOF) {
		switch p.cur().Type {
		case TokenIndent:
			depth++
		case TokenUndent:
			if depth == 0 {
				return
			}
			depth--
		case TokenEOL:
			if depth == 0 {
				p.advance()
				if p.at(TokenIndent) {
					p.skipBlock()
				}
				return
			}
		}
		p.advance()
	}
}

// skipBlock discards an Indent ... Undent run.
func (p *Parser) skipBlock() {
	depth := 0
	for !p.at(TokenEOF) {
		switch p.advance().Type {
		case TokenIndent:
			depth++
		case TokenUndent:
			depth--
			if depth == 0 {
				return
			}
		}
	}
}

// recoverFrom reports a generic error when a failed construct produced
// none, then resynchronises.
func (p *Parser) recoverFrom(errorsBefore int, what string) {
	if p.diags.ErrorCount() == errorsBefore {
		p.errorf(p.cur().Pos, "expected %s, found %s", what, p.cur().Describe())
	}
	p.skipLine()
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// ParseProgram parses declarations until EOF.
func (p *Parser) ParseProgram() NodeID {
	first := p.cur()
	var decls []NodeID
	for !p.at(TokenEOF) {
		decls = append(decls, p.declarations()...)
		if p.at(TokenUndent) || p.at(TokenIndent) {
			p.errorf(p.cur().Pos, "unexpected indentation")
			p.advance()
		}
	}
	return p.tree.New(KindProgram, first, decls...)
}

// declarations parses declarations up to the end of the enclosing block.
func (p *Parser) declarations() []NodeID {
	var decls []NodeID
	for {
		switch p.cur().Type {
		case TokenEOF, TokenUndent:
			return decls
		case TokenEOL:
			p.advance()
			continue
		case TokenIndent:
			p.errorf(p.cur().Pos, "unexpected indentation")
			p.skipBlock()
			continue
		}
		before := p.diags.ErrorCount()
		if id, ok := p.declaration(); ok {
			decls = append(decls, id)
		} else {
			p.recoverFrom(before, "declaration")
		}
	}
}

// declaration dispatches on one or two tokens of lookahead.
func (p *Parser) declaration() (NodeID, bool) {
	switch p.cur().Type {
	case TokenAt:
		return p.seq(KindAttribute,
			tok(TokenAt), named(TokenIdentifier),
			when(TokenLParen, itemsOf(stringLiteral, 0, TokenComma), tok(TokenRParen)),
			tok(TokenEOL))
	case TokenImport:
		if p.peek(1).Type == TokenString {
			return p.seq(KindImport, tok(TokenImport), named(TokenString), tok(TokenEOL))
		}
	case TokenModule:
		return p.seq(KindModule,
			tok(TokenModule), named(TokenIdentifier), tok(TokenEOL),
			tok(TokenIndent), nestedDeclarations, tok(TokenUndent))
	case TokenEnum:
		return p.seq(KindEnum,
			tok(TokenEnum), named(TokenIdentifier), tok(TokenEOL),
			tok(TokenIndent), itemsOf(enumValue, 1, noDelimiter), tok(TokenUndent))
	case TokenTypeKw:
		return p.seq(KindTypeDecl,
			tok(TokenTypeKw), named(TokenIdentifier), tok(TokenEOL),
			tok(TokenIndent), itemsOf(memberDecl, 1, noDelimiter), tok(TokenUndent))
	}
	if p.funcAhead() {
		return funcDecl(p)
	}
	return varDecl(p)
}

func nestedDeclarations(p *Parser, b *builder) bool {
	b.children = append(b.children, p.declarations()...)
	return true
}

func stringLiteral(p *Parser) (NodeID, bool) {
	return p.seq(KindLiteral, named(TokenString))
}

func enumValue(p *Parser) (NodeID, bool) {
	return p.seq(KindEnumValue, named(TokenIdentifier), when(TokenAssign, child(expression)), tok(TokenEOL))
}

func memberDecl(p *Parser) (NodeID, bool) {
	return p.seq(KindVarDecl, child(typeRef), named(TokenIdentifier), listOf(dimension, 0, noDelimiter), tok(TokenEOL))
}

// funcAhead reports whether the tokens after any modifiers start a function:
// a parenthesised result list or an identifier followed by '('.
func (p *Parser) funcAhead() bool {
	i := 0
	for {
		switch p.peek(i).Type {
		case TokenImport, TokenExport, TokenConst:
			i++
			continue
		}
		break
	}
	return p.peek(i).Type == TokenLParen ||
		(p.peek(i).Type == TokenIdentifier && p.peek(i+1).Type == TokenLParen)
}

func funcDecl(p *Parser) (NodeID, bool) {
	return p.seq(KindFuncDecl,
		modifiers,
		resultTypes,
		named(TokenIdentifier),
		tok(TokenLParen), listOf(parameter, 0, TokenComma), tok(TokenRParen),
		tok(TokenEOL),
		functionBody)
}

func resultTypes(p *Parser, b *builder) bool {
	if !p.at(TokenLParen) {
		b.children = append(b.children, p.tree.New(KindList, p.cur()))
		return true
	}
	p.advance()
	id, ok := p.list(typeRef, 1, TokenComma)
	if !ok {
		return false
	}
	b.children = append(b.children, id)
	_, ok = p.expect(TokenRParen)
	return ok
}

func functionBody(p *Parser, b *builder) bool {
	if !p.at(TokenIndent) {
		return true
	}
	id, ok := block(p)
	if ok {
		b.children = append(b.children, id)
	}
	return ok
}

func parameter(p *Parser) (NodeID, bool) {
	return p.seq(KindVarDecl, child(typeRef), named(TokenIdentifier), listOf(dimension, 0, noDelimiter))
}

func varDecl(p *Parser) (NodeID, bool) {
	return p.seq(KindVarDecl,
		modifiers,
		child(typeRef),
		named(TokenIdentifier),
		listOf(dimension, 0, noDelimiter),
		when(TokenAssign, child(expression)),
		tok(TokenEOL))
}

func dimension(p *Parser) (NodeID, bool) {
	if !p.at(TokenLBracket) {
		return NoNode, false
	}
	p.advance()
	id, ok := expression(p)
	if !ok {
		return NoNode, false
	}
	if _, ok := p.expect(TokenRBracket); !ok {
		return NoNode, false
	}
	return id, true
}

// typeRef parses a primitive type keyword or a possibly qualified type
// name.
func typeRef(p *Parser) (NodeID, bool) {
	t := p.cur()
	if t.Type.IsPrimitiveType() {
		p.advance()
		id := p.tree.New(KindTypeRef, t)
		p.tree.Node(id).Text = t.Literal
		return id, true
	}
	if t.Type != TokenIdentifier {
		p.errorf(t.Pos, "expected type, found %s", t.Describe())
		return NoNode, false
	}
	p.advance()
	name := t.Literal
	for p.at(TokenDot) && p.peek(1).Type == TokenIdentifier {
		p.advance()
		name += "." + p.advance().Literal
	}
	id := p.tree.New(KindTypeRef, t)
	p.tree.Node(id).Text = name
	return id, true
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// block parses an indented statement block.
func block(p *Parser) (NodeID, bool) {
	return p.seq(KindBlock, tok(TokenIndent), statements, tok(TokenUndent))
}

func statements(p *Parser, b *builder) bool {
	for {
		switch p.cur().Type {
		case TokenEOF, TokenUndent:
			return true
		case TokenEOL:
			p.advance()
			continue
		case TokenIndent:
			p.errorf(p.cur().Pos, "unexpected indentation")
			p.skipBlock()
			continue
		}
		before := p.diags.ErrorCount()
		if id, ok := p.statement(); ok {
			b.children = append(b.children, id)
		} else {
			p.recoverFrom(before, "statement")
		}
	}
}

func (p *Parser) statement() (NodeID, bool) {
	switch p.cur().Type {
	case TokenIf:
		return p.seq(KindIf,
			tok(TokenIf), child(expression), tok(TokenEOL), child(block),
			elifClauses,
			when(TokenElse, tok(TokenEOL), child(block)))
	case TokenWhile:
		return p.seq(KindWhile, tok(TokenWhile), child(expression), tok(TokenEOL), child(block))
	case TokenFor:
		return p.seq(KindFor,
			tok(TokenFor), named(TokenIdentifier), tok(TokenIn), forRange, tok(TokenEOL), child(block))
	case TokenReturn:
		return p.seq(KindReturn, tok(TokenReturn), unless(TokenEOL, itemsOf(expression, 1, TokenComma)), tok(TokenEOL))
	case TokenConst, TokenBool, TokenByte, TokenI32, TokenF32, TokenStringType:
		if p.cur().Type.IsPrimitiveType() && p.peek(1).Type == TokenLParen {
			break // conversion call used as a statement
		}
		return varDecl(p)
	case TokenIdentifier:
		if p.varDeclAhead() {
			return varDecl(p)
		}
	}
	return p.alt(assignment, compoundAssignment, callStatement)
}

// varDeclAhead reports whether an identifier-led statement is a variable
// declaration of a user type: a qualified name followed by another name.
func (p *Parser) varDeclAhead() bool {
	i := 1
	for p.peek(i).Type == TokenDot && p.peek(i+1).Type == TokenIdentifier {
		i += 2
	}
	return p.peek(i).Type == TokenIdentifier
}

func elifClauses(p *Parser, b *builder) bool {
	for p.at(TokenElif) {
		p.advance()
		for _, s := range []step{child(expression), tok(TokenEOL), child(block)} {
			if !s(p, b) {
				return false
			}
		}
	}
	return true
}

// forRange parses "a, b[, step]" or "a..b[..step]" into a List.
func forRange(p *Parser, b *builder) bool {
	start := p.cur()
	first, ok := expression(p)
	if !ok {
		return false
	}
	items := []NodeID{first}
	var flags NodeFlags
	for len(items) < 3 && (p.at(TokenComma) || p.at(TokenDotDot)) {
		if p.at(TokenDotDot) {
			flags |= FlagRange
		}
		p.advance()
		id, ok := expression(p)
		if !ok {
			return false
		}
		items = append(items, id)
	}
	if len(items) < 2 {
		p.errorf(p.cur().Pos, "expected range end, found %s", p.cur().Describe())
		return false
	}
	list := p.tree.New(KindList, start, items...)
	p.tree.Node(list).Flags = flags
	b.children = append(b.children, list)
	return true
}

func assignment(p *Parser) (NodeID, bool) {
	return p.seq(KindAssign,
		listOf(postfix, 1, TokenComma), tok(TokenAssign), listOf(expression, 1, TokenComma), tok(TokenEOL))
}

func compoundAssignment(p *Parser) (NodeID, bool) {
	return p.seq(KindCompoundAssign, child(postfix), compoundOperator, child(expression), tok(TokenEOL))
}

func compoundOperator(p *Parser, b *builder) bool {
	if !p.cur().Type.IsCompoundAssign() {
		p.errorf(p.cur().Pos, "expected assignment operator, found %s", p.cur().Describe())
		return false
	}
	b.tok = p.advance()
	return true
}

func callStatement(p *Parser) (NodeID, bool) {
	return p.seq(KindExprStmt, child(callExpression), tok(TokenEOL))
}

func callExpression(p *Parser) (NodeID, bool) {
	id, ok := postfix(p)
	if !ok {
		return NoNode, false
	}
	if p.tree.Kind(id) != KindCall {
		p.errorf(p.tree.Node(id).Pos(), "expression is not a statement")
		return NoNode, false
	}
	return id, true
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// binaryLevels lists the binary operators from lowest to highest
// precedence.
var binaryLevels = [][]TokenType{
	{TokenOrOr},
	{TokenAndAnd},
	{TokenPipe},
	{TokenCaret},
	{TokenAmp},
	{TokenEq, TokenNe},
	{TokenLt, TokenLe, TokenGt, TokenGe},
	{TokenShl, TokenShr},
	{TokenRol, TokenRor},
	{TokenPlus, TokenMinus},
	{TokenStar, TokenSlash, TokenPercent},
}

func expression(p *Parser) (NodeID, bool) {
	return p.binary(0)
}

// binary parses one precedence level. The right operand recurses into the
// same level, so chains associate to the right: a - b - c is a - (b - c).
func (p *Parser) binary(level int) (NodeID, bool) {
	if level == len(binaryLevels) {
		return unary(p)
	}
	lhs, ok := p.binary(level + 1)
	if !ok {
		return NoNode, false
	}
	for _, op := range binaryLevels[level] {
		if !p.at(op) {
			continue
		}
		opTok := p.advance()
		rhs, ok := p.binary(level)
		if !ok {
			return NoNode, false
		}
		return p.tree.New(KindBinary, opTok, lhs, rhs), true
	}
	return lhs, true
}

func unary(p *Parser) (NodeID, bool) {
	switch p.cur().Type {
	case TokenMinus, TokenBang, TokenTilde:
		op := p.advance()
		operand, ok := unary(p)
		if !ok {
			return NoNode, false
		}
		return p.tree.New(KindUnary, op, operand), true
	}
	return postfix(p)
}

func postfix(p *Parser) (NodeID, bool) {
	id, ok := primary(p)
	if !ok {
		return NoNode, false
	}
	for {
		switch p.cur().Type {
		case TokenLParen:
			open := p.advance()
			args, ok := p.list(expression, 0, TokenComma)
			if !ok {
				return NoNode, false
			}
			if _, ok := p.expect(TokenRParen); !ok {
				return NoNode, false
			}
			id = p.tree.New(KindCall, open, id, args)
		case TokenLBracket:
			open := p.advance()
			idx, ok := expression(p)
			if !ok {
				return NoNode, false
			}
			if _, ok := p.expect(TokenRBracket); !ok {
				return NoNode, false
			}
			id = p.tree.New(KindIndex, open, id, idx)
		case TokenDot:
			p.advance()
			name, ok := p.expect(TokenIdentifier)
			if !ok {
				return NoNode, false
			}
			id = p.tree.New(KindMember, name, id)
		default:
			return id, true
		}
	}
}

func primary(p *Parser) (NodeID, bool) {
	t := p.cur()
	switch t.Type {
	case TokenInteger, TokenFloat, TokenString, TokenTrue, TokenFalse:
		p.advance()
		return p.tree.New(KindLiteral, t), true
	case TokenIdentifier:
		p.advance()
		return p.tree.New(KindIdent, t), true
	case TokenLParen:
		p.advance()
		id, ok := expression(p)
		if !ok {
			return NoNode, false
		}
		if _, ok := p.expect(TokenRParen); !ok {
			return NoNode, false
		}
		return id, true
	case TokenBool, TokenByte, TokenI32, TokenF32:
		if p.peek(1).Type == TokenLParen {
			return p.seq(KindConvert, named(t.Type), tok(TokenLParen), child(expression), tok(TokenRParen))
		}
	}
	p.errorf(t.Pos, "expected expression, found %s", t.Describe())
	return NoNode, false
}
