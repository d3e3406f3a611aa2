package compiler

import "github.com/chazu/tern/pkg/diag"

// ---------------------------------------------------------------------------
// Pass 3: usage marking and unused-symbol warnings
// ---------------------------------------------------------------------------

// MarkUsage flags every referenced symbol as used and warns about
// functions, imports and variables nothing refers to. Exported symbols
// count as used since the host may call or read them.
func MarkUsage(tree *Tree, syms *Symbols, diags *diag.Sink) {
	tree.Walk(tree.Root, func(id NodeID) bool {
		n := tree.Node(id)
		if (n.Kind == KindIdent || n.Kind == KindLiteral) && n.Symbol != NoSymbol {
			syms.Symbol(n.Symbol).Used = true
		}
		return true
	})
	for i := 0; i < syms.NumSymbols(); i++ {
		if s := syms.Symbol(SymbolID(i)); s.Has(AttrExport) {
			s.Used = true
		}
	}
	u := &usage{tree: tree, syms: syms, diags: diags, w: newScopeWalker(syms, tree, false)}
	u.visit(tree.Root)
	u.report(syms.Root())
}

type usage struct {
	tree  *Tree
	syms  *Symbols
	diags *diag.Sink
	w     *scopeWalker
}

// visit re-enters the scopes of the tree in declaration order and reports
// each scope as it is left.
func (u *usage) visit(id NodeID) {
	n := u.tree.Node(id)
	opened := true
	switch n.Kind {
	case KindModule:
		u.w.enter(ScopeModule, n.Tok.Literal, id)
	case KindEnum:
		u.w.enter(ScopeEnum, n.Tok.Literal, id)
	case KindTypeDecl:
		u.w.enter(ScopeRecord, n.Tok.Literal, id)
	case KindFuncDecl:
		u.w.enter(ScopeFunction, n.Tok.Literal, id)
	case KindBlock:
		if u.tree.Kind(n.Parent) == KindFuncDecl {
			opened = false
		} else {
			u.w.enter(ScopeBlock, "", id)
		}
	default:
		opened = false
	}
	for _, c := range u.tree.Children(id) {
		u.visit(c)
	}
	if opened {
		u.report(u.w.current())
		u.w.leave()
	}
}

func (u *usage) report(scope ScopeID) {
	for _, sid := range u.syms.Scope(scope).Symbols {
		s := u.syms.Symbol(sid)
		if s.Used {
			continue
		}
		pos := u.tree.Node(s.Node).Pos().Diag()
		switch {
		case s.Kind == SymFunction && s.Has(AttrImport):
			u.diags.Warningf(pos, "imported function %q is never called", s.Qualified)
		case s.Kind == SymFunction:
			u.diags.Warningf(pos, "function %q is never called", s.Qualified)
		case s.Kind == SymVariable && s.Storage == StorageLocal:
			u.diags.Warningf(pos, "local variable %q is never used", s.Name)
		case s.Kind == SymVariable && s.Storage == StorageGlobal:
			u.diags.Warningf(pos, "global variable %q is never used", s.Qualified)
		}
	}
}
