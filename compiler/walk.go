package compiler

import (
	"fmt"

	"github.com/chazu/tern/pkg/diag"
)

// ---------------------------------------------------------------------------
// scopeWalker: deterministic scope naming shared by every pass
// ---------------------------------------------------------------------------

// scopeWalker tracks the active scope while a pass walks the tree. The
// declaring pass creates scopes; later passes re-locate the same scopes by
// re-deriving their names, so a scope that cannot be found means two passes
// walked the tree differently.
type scopeWalker struct {
	syms   *Symbols
	tree   *Tree
	create bool
	blocks int
	stack  []ScopeID
}

func newScopeWalker(syms *Symbols, tree *Tree, create bool) *scopeWalker {
	return &scopeWalker{syms: syms, tree: tree, create: create, stack: []ScopeID{syms.Root()}}
}

func (w *scopeWalker) current() ScopeID {
	return w.stack[len(w.stack)-1]
}

// enter pushes the scope a node opens. Block scopes are named from a
// counter that advances once per block in walk order.
func (w *scopeWalker) enter(kind ScopeKind, name string, node NodeID) ScopeID {
	if kind == ScopeBlock {
		w.blocks++
		name = fmt.Sprintf("$block%d", w.blocks)
	}
	parent := w.current()
	var id ScopeID
	if w.create {
		id = w.syms.NewScope(parent, name, kind, node)
	} else {
		var ok bool
		id, ok = w.syms.LocateScope(parent, name, node)
		if !ok {
			w.tree.internalAt(node, "no scope %q under %q", name, w.syms.Scope(parent).Name)
		}
	}
	w.stack = append(w.stack, id)
	return id
}

func (w *scopeWalker) leave() {
	if len(w.stack) == 1 {
		panic(&InternalError{Msg: "scope stack underflow"})
	}
	w.stack = w.stack[:len(w.stack)-1]
}

// ---------------------------------------------------------------------------
// Pass 1: declare every named entity
// ---------------------------------------------------------------------------

type declarer struct {
	tree  *Tree
	syms  *Symbols
	diags *diag.Sink
	w     *scopeWalker
}

// Build creates the scope tree and declares every module, enum, type,
// variable, function and parameter of the program.
func Build(tree *Tree, syms *Symbols, diags *diag.Sink) {
	d := &declarer{tree: tree, syms: syms, diags: diags, w: newScopeWalker(syms, tree, true)}
	d.decls(tree.Children(tree.Root))
}

func (d *declarer) declare(id NodeID, kind SymbolKind, storage Storage) SymbolID {
	n := d.tree.Node(id)
	sym := d.syms.Declare(d.w.current(), Symbol{
		Name:    n.Tok.Literal,
		Kind:    kind,
		Storage: storage,
		Attrs:   attrsFromFlags(n.Flags),
		Node:    id,
	}, n.Pos().Diag(), d.diags)
	d.tree.Node(id).Symbol = sym
	return sym
}

// open enters the scope owned by sym.
func (d *declarer) open(sym SymbolID, kind ScopeKind, id NodeID) {
	sc := d.w.enter(kind, d.syms.Symbol(sym).Name, id)
	d.syms.Scope(sc).Owner = sym
	d.syms.Symbol(sym).Inner = sc
}

func (d *declarer) decls(ids []NodeID) {
	for _, id := range ids {
		switch d.tree.Kind(id) {
		case KindAttribute:
		case KindImport:
			d.decls(d.tree.Children(id))
		case KindModule:
			sym := d.declare(id, SymModule, StorageNone)
			d.open(sym, ScopeModule, id)
			d.decls(d.tree.Children(id))
			d.w.leave()
		case KindEnum:
			sym := d.declare(id, SymEnum, StorageNone)
			d.syms.Symbol(sym).Type = d.syms.Types.Enum(d.syms.Symbol(sym).Qualified)
			d.open(sym, ScopeEnum, id)
			for _, v := range d.tree.Children(id) {
				d.declare(v, SymEnumValue, StorageNone)
			}
			d.w.leave()
		case KindTypeDecl:
			sym := d.declare(id, SymType, StorageNone)
			d.syms.Symbol(sym).Type = d.syms.Types.Record(d.syms.Symbol(sym).Qualified)
			d.open(sym, ScopeRecord, id)
			for _, m := range d.tree.Children(id) {
				d.declare(m, SymVariable, StorageMember)
			}
			d.w.leave()
		case KindVarDecl:
			d.declare(id, SymVariable, StorageGlobal)
		case KindFuncDecl:
			d.function(id)
		default:
			d.tree.unhandled("declare", id)
		}
	}
}

func (d *declarer) function(id NodeID) {
	sym := d.declare(id, SymFunction, StorageNone)
	d.open(sym, ScopeFunction, id)
	n := d.tree.Node(id)
	for _, p := range d.tree.Children(n.Children[1]) {
		d.declare(p, SymVariable, StorageParam)
	}
	if body := n.Child(2); body != NoNode {
		d.stmts(d.tree.Children(body))
	}
	d.w.leave()
}

func (d *declarer) block(id NodeID) {
	d.w.enter(ScopeBlock, "", id)
	d.stmts(d.tree.Children(id))
	d.w.leave()
}

func (d *declarer) stmts(ids []NodeID) {
	for _, id := range ids {
		n := d.tree.Node(id)
		switch n.Kind {
		case KindVarDecl:
			d.declare(id, SymVariable, StorageLocal)
		case KindIf:
			for _, c := range n.Children {
				if d.tree.Kind(c) == KindBlock {
					d.block(c)
				}
			}
		case KindWhile:
			d.block(n.Children[1])
		case KindFor:
			body := n.Children[1]
			d.w.enter(ScopeBlock, "", body)
			sym := d.declare(id, SymVariable, StorageForSlot)
			d.syms.Symbol(sym).Type = d.syms.Types.I32
			d.stmts(d.tree.Children(body))
			d.w.leave()
		case KindReturn, KindAssign, KindCompoundAssign, KindExprStmt:
		default:
			d.tree.unhandled("declare", id)
		}
	}
}
