package compiler

// ---------------------------------------------------------------------------
// Backtracking combinators
// ---------------------------------------------------------------------------
//
// A production parses one construct and returns its node. A sequence runs a
// list of steps against a builder and only commits the node when every
// step succeeds; otherwise the token cursor and the node arena are rolled
// back to where the sequence started. Alternatives try productions in order
// under an ignore-errors scope and keep the first success.

// production parses one construct.
type production func(p *Parser) (NodeID, bool)

// builder accumulates the parts of a node during a sequence.
type builder struct {
	tok      Token
	text     string
	flags    NodeFlags
	children []NodeID
}

// step is one element of a sequence.
type step func(p *Parser, b *builder) bool

// cursor is a snapshot of the parser state.
type cursor struct {
	pos   int
	nodes int
}

func (p *Parser) mark() cursor {
	return cursor{pos: p.pos, nodes: p.tree.Len()}
}

func (p *Parser) reset(c cursor) {
	p.pos = c.pos
	p.tree.truncate(c.nodes)
}

// seq builds a node of the given kind from steps. The node token defaults
// to the first token of the sequence.
func (p *Parser) seq(kind NodeKind, steps ...step) (NodeID, bool) {
	start := p.mark()
	b := builder{tok: p.cur()}
	for _, s := range steps {
		if !s(p, &b) {
			p.reset(start)
			return NoNode, false
		}
	}
	id := p.tree.New(kind, b.tok, b.children...)
	n := p.tree.Node(id)
	n.Text = b.text
	n.Flags = b.flags
	return id, true
}

// alt tries each production speculatively and keeps the first success.
func (p *Parser) alt(alts ...production) (NodeID, bool) {
	for _, a := range alts {
		if id, ok := p.speculate(a); ok {
			return id, true
		}
	}
	return NoNode, false
}

// speculate runs a production with diagnostics suppressed, rolling back on
// failure.
func (p *Parser) speculate(prod production) (NodeID, bool) {
	start := p.mark()
	p.ignoreErrors++
	id, ok := prod(p)
	p.ignoreErrors--
	if !ok {
		p.reset(start)
	}
	return id, ok
}

// noDelimiter marks a list whose items follow each other directly.
const noDelimiter = TokenEOF

// list parses items into a List node. With a delimiter, an item is required
// after every delimiter. Without one, items are parsed until the next one
// fails. The first item is attempted speculatively when min is zero.
func (p *Parser) list(item production, min int, delim TokenType) (NodeID, bool) {
	items, ok := p.items(item, min, delim)
	if !ok {
		return NoNode, false
	}
	return p.tree.New(KindList, Token{Pos: p.cur().Pos}, items...), true
}

func (p *Parser) items(item production, min int, delim TokenType) ([]NodeID, bool) {
	var out []NodeID
	for {
		var id NodeID
		var ok bool
		required := len(out) < min || (delim != noDelimiter && len(out) > 0)
		if required {
			id, ok = item(p)
		} else {
			id, ok = p.speculate(item)
		}
		if !ok {
			if required {
				return nil, false
			}
			return out, true
		}
		out = append(out, id)
		if delim != noDelimiter {
			if !p.at(delim) {
				return out, len(out) >= min
			}
			p.advance()
		}
	}
}

// ---------------------------------------------------------------------------
// Steps
// ---------------------------------------------------------------------------

// tok requires a token and discards it.
func tok(tt TokenType) step {
	return func(p *Parser, b *builder) bool {
		_, ok := p.expect(tt)
		return ok
	}
}

// named requires a token and makes it the node token.
func named(tt TokenType) step {
	return func(p *Parser, b *builder) bool {
		t, ok := p.expect(tt)
		if ok {
			b.tok = t
		}
		return ok
	}
}

// child requires a production and appends its node.
func child(prod production) step {
	return func(p *Parser, b *builder) bool {
		id, ok := prod(p)
		if ok {
			b.children = append(b.children, id)
		}
		return ok
	}
}

// listOf appends a List node of items.
func listOf(item production, min int, delim TokenType) step {
	return func(p *Parser, b *builder) bool {
		id, ok := p.list(item, min, delim)
		if ok {
			b.children = append(b.children, id)
		}
		return ok
	}
}

// itemsOf appends items directly as children.
func itemsOf(item production, min int, delim TokenType) step {
	return func(p *Parser, b *builder) bool {
		ids, ok := p.items(item, min, delim)
		if ok {
			b.children = append(b.children, ids...)
		}
		return ok
	}
}

// when runs steps only if the current token is tt, consuming it first.
func when(tt TokenType, steps ...step) step {
	return func(p *Parser, b *builder) bool {
		if !p.at(tt) {
			return true
		}
		p.advance()
		for _, s := range steps {
			if !s(p, b) {
				return false
			}
		}
		return true
	}
}

// unless runs steps only if the current token is not tt.
func unless(tt TokenType, steps ...step) step {
	return func(p *Parser, b *builder) bool {
		if p.at(tt) {
			return true
		}
		for _, s := range steps {
			if !s(p, b) {
				return false
			}
		}
		return true
	}
}

// modifiers consumes any import/export/const prefix.
func modifiers(p *Parser, b *builder) bool {
	for {
		var f NodeFlags
		switch p.cur().Type {
		case TokenImport:
			f = FlagImport
		case TokenExport:
			f = FlagExport
		case TokenConst:
			f = FlagConst
		default:
			return true
		}
		if b.flags&f != 0 {
			p.errorf(p.cur().Pos, "duplicate modifier %q", p.cur().Literal)
			return false
		}
		b.flags |= f
		p.advance()
	}
}
