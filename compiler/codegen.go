package compiler

import (
	"fmt"

	"github.com/chazu/tern/pkg/bytecode"
	"github.com/chazu/tern/pkg/diag"
)

// ---------------------------------------------------------------------------
// Codegen: emit stack machine instructions from the checked tree
// ---------------------------------------------------------------------------

// initEndLabel marks where global initialisation stops.
const initEndLabel = "$init_end"

// FunctionLabel returns the code label of a function.
func FunctionLabel(qualified string) string { return "fn:" + qualified }

type generator struct {
	tree   *Tree
	syms   *Symbols
	code   []bytecode.Instruction
	labels int
	fn     *Symbol
	pos    diag.Pos
}

// Generate lays out memory and emits the whole program: global
// initialisers first, then every function with a body. It panics with an
// *InternalError on a tree shape it does not recognise; it must only run
// on a tree that analysed without errors.
func Generate(tree *Tree, syms *Symbols) *bytecode.Program {
	g := &generator{tree: tree, syms: syms}
	globals := Layout(syms)

	g.globals(tree.Children(tree.Root))
	initEnd := ""
	if len(g.code) > 0 {
		g.emit(bytecode.Label(initEndLabel))
		initEnd = initEndLabel
	}
	g.functions(tree.Children(tree.Root))

	p := &bytecode.Program{Code: g.code, InitEnd: initEnd, Globals: globals}
	p.Imports, p.Exports = linkEntries(syms)
	return p
}

// linkEntries lists imported functions and exported functions and
// variables in declaration order. Every export carries an attribute named
// after itself ahead of its bound @attributes.
func linkEntries(syms *Symbols) (imports, exports []bytecode.LinkEntry) {
	for i := 0; i < syms.NumSymbols(); i++ {
		s := syms.Symbol(SymbolID(i))
		switch {
		case s.Kind == SymFunction && s.Has(AttrImport):
			imports = append(imports, bytecode.LinkEntry{
				Name:  s.Qualified,
				Ret:   uint32(len(s.Type.Results)),
				Param: uint32(s.Params),
				Attrs: s.Bound,
			})
		case s.Kind == SymFunction && s.Has(AttrExport):
			exports = append(exports, bytecode.LinkEntry{
				Name:  s.Qualified,
				Ret:   uint32(len(s.Type.Results)),
				Param: uint32(s.Params),
				Attrs: append([]bytecode.Attribute{{Name: s.Qualified}}, s.Bound...),
				Label: FunctionLabel(s.Qualified),
			})
		case s.Kind == SymVariable && s.Storage == StorageGlobal && s.Has(AttrExport) && needsStorage(s):
			attrs := []bytecode.Attribute{{Name: bytecode.VarAttr, Params: []string{fmt.Sprint(s.Slots)}}}
			exports = append(exports, bytecode.LinkEntry{
				Name:    s.Qualified,
				Address: uint32(s.Address),
				Attrs:   append(attrs, s.Bound...),
			})
		}
	}
	return imports, exports
}

// DebugSymbols describes every global and function for the debug chunk.
func DebugSymbols(syms *Symbols) []bytecode.DebugSymbol {
	var out []bytecode.DebugSymbol
	for i := 0; i < syms.NumSymbols(); i++ {
		s := syms.Symbol(SymbolID(i))
		switch {
		case s.Kind == SymFunction && !s.Has(AttrImport):
			out = append(out, bytecode.DebugSymbol{Name: s.Qualified, Kind: "function", Type: s.Type.String(), Slots: int32(s.Frame)})
		case s.Kind == SymVariable && s.Storage == StorageGlobal && s.Address != NoAddress:
			out = append(out, bytecode.DebugSymbol{Name: s.Qualified, Kind: "global", Type: s.Type.String(), Address: int32(s.Address), Slots: int32(s.Slots)})
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Emission helpers
// ---------------------------------------------------------------------------

func (g *generator) emit(in bytecode.Instruction) {
	if !in.IsLabel() {
		in.Pos = g.pos
	}
	g.code = append(g.code, in)
}

func (g *generator) op(op bytecode.Opcode, w bytecode.Width, args ...int32) {
	g.emit(bytecode.NewInstr(op, w, bytecode.ModeNone, args...))
}

func (g *generator) pushInt(v int32) {
	g.emit(bytecode.NewInstr(bytecode.OpPush, bytecode.WidthInt, bytecode.ModeConst, v))
}

func (g *generator) newLabel() string {
	g.labels++
	return fmt.Sprintf("L%d", g.labels)
}

func (g *generator) at(id NodeID) {
	g.pos = g.tree.Node(id).Pos().Diag()
}

func (g *generator) sym(id NodeID) *Symbol {
	n := g.tree.Node(id)
	if n.Symbol == NoSymbol {
		g.tree.internalAt(id, "codegen: unresolved symbol")
	}
	return g.syms.Symbol(n.Symbol)
}

func storageMode(s *Symbol) bytecode.Mode {
	if s.Storage == StorageGlobal {
		return bytecode.ModeGlobal
	}
	return bytecode.ModeLocal
}

func slotWidth(s *Symbol) bytecode.Width {
	if s.Storage == StorageForSlot {
		return bytecode.WidthInt
	}
	return s.Type.Width()
}

func (g *generator) load(s *Symbol) {
	g.emit(bytecode.NewInstr(bytecode.OpLoad, slotWidth(s), storageMode(s), int32(s.Address)))
}

func (g *generator) store(s *Symbol) {
	g.emit(bytecode.NewInstr(bytecode.OpStore, slotWidth(s), storageMode(s), int32(s.Address)))
}

// addressOf pushes the absolute address of a variable. Compound
// parameters hold the address of the caller's variable.
func (g *generator) addressOf(s *Symbol) {
	if s.Storage == StorageParam && s.Type.IsCompound() {
		g.emit(bytecode.NewInstr(bytecode.OpLoad, bytecode.WidthInt, bytecode.ModeLocal, int32(s.Address)))
		return
	}
	g.emit(bytecode.NewInstr(bytecode.OpAddr, bytecode.WidthNone, storageMode(s), int32(s.Address)))
}

// headers stores the (stride, count) pairs of every array inside a value
// of type t placed at addr.
func (g *generator) headers(mode bytecode.Mode, addr int, t *Type) {
	switch t.Kind {
	case TypeArray:
		strides := t.Strides()
		for k, d := range t.Dims {
			g.pushInt(int32(strides[k]))
			g.emit(bytecode.NewInstr(bytecode.OpStore, bytecode.WidthInt, mode, int32(addr+2*k)))
			g.pushInt(int32(d))
			g.emit(bytecode.NewInstr(bytecode.OpStore, bytecode.WidthInt, mode, int32(addr+2*k+1)))
		}
	case TypeRecord:
		for _, f := range t.Fields {
			g.headers(mode, addr+f.Offset, f.Type)
		}
	}
}

// zeroLocal clears n frame slots from addr. Sibling blocks and loop
// iterations reuse the same slots, so compound locals are cleared where
// they are declared. The first slot is zeroed and then doubled by block
// copies.
func (g *generator) zeroLocal(addr, n int) {
	if n <= 0 {
		return
	}
	g.pushInt(0)
	g.emit(bytecode.NewInstr(bytecode.OpStore, bytecode.WidthInt, bytecode.ModeLocal, int32(addr)))
	for done := 1; done < n; done *= 2 {
		g.emit(bytecode.NewInstr(bytecode.OpAddr, bytecode.WidthNone, bytecode.ModeLocal, int32(addr+done)))
		g.emit(bytecode.NewInstr(bytecode.OpAddr, bytecode.WidthNone, bytecode.ModeLocal, int32(addr)))
		g.op(bytecode.OpCopyBlock, bytecode.WidthNone, int32(min(done, n-done)))
	}
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

func (g *generator) globals(ids []NodeID) {
	for _, id := range ids {
		n := g.tree.Node(id)
		switch n.Kind {
		case KindImport, KindModule:
			g.globals(n.Children)
		case KindVarDecl:
			s := g.sym(id)
			if !needsStorage(s) {
				continue
			}
			g.at(id)
			g.headers(bytecode.ModeGlobal, s.Address, s.Type)
			switch init := n.Child(2); {
			case s.Value != nil:
				g.emit(s.Value.Push())
				g.store(s)
			case init != NoNode:
				g.expr(init)
				g.store(s)
			}
		case KindAttribute, KindEnum, KindTypeDecl, KindFuncDecl:
		default:
			g.tree.unhandled("codegen", id)
		}
	}
}

func (g *generator) functions(ids []NodeID) {
	for _, id := range ids {
		n := g.tree.Node(id)
		switch n.Kind {
		case KindImport, KindModule:
			g.functions(n.Children)
		case KindFuncDecl:
			if n.Child(2) != NoNode {
				g.function(id)
			}
		}
	}
}

func (g *generator) function(id NodeID) {
	s := g.sym(id)
	body := g.tree.Node(id).Children[2]
	g.fn = s
	g.at(id)
	g.emit(bytecode.Label(FunctionLabel(s.Qualified)))
	if s.Frame > 0 {
		g.op(bytecode.OpReserve, bytecode.WidthNone, int32(s.Frame))
	}
	g.stmts(g.tree.Children(body))
	if !terminates(g.tree, body) {
		g.ret()
	}
	g.fn = nil
}

func (g *generator) ret() {
	g.op(bytecode.OpRet, bytecode.WidthNone,
		int32(len(g.fn.Type.Results)), int32(g.fn.Params), int32(g.fn.Frame))
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (g *generator) stmts(ids []NodeID) {
	for _, id := range ids {
		g.stmt(id)
	}
}

func (g *generator) stmt(id NodeID) {
	n := g.tree.Node(id)
	g.at(id)
	switch n.Kind {
	case KindVarDecl:
		s := g.sym(id)
		if !needsStorage(s) {
			return
		}
		if s.Type.IsCompound() {
			g.zeroLocal(s.Address, s.Type.Slots())
			g.headers(bytecode.ModeLocal, s.Address, s.Type)
			return
		}
		if init := n.Child(2); init != NoNode {
			g.expr(init)
		} else {
			g.emit(Value{Kind: valueKindOf(s.Type)}.Push())
		}
		g.store(s)
	case KindIf:
		g.ifChain(id)
	case KindWhile:
		top, end := g.newLabel(), g.newLabel()
		g.emit(bytecode.Label(top))
		g.expr(n.Children[0])
		g.emit(bytecode.Jump(bytecode.OpJumpFalse, end))
		g.stmts(g.tree.Children(n.Children[1]))
		g.emit(bytecode.Jump(bytecode.OpJump, top))
		g.emit(bytecode.Label(end))
	case KindFor:
		g.forLoop(id)
	case KindReturn:
		for _, v := range n.Children {
			g.expr(v)
		}
		g.ret()
	case KindAssign:
		g.assign(id)
	case KindCompoundAssign:
		target, rhs := n.Children[0], n.Children[1]
		op, ok := binaryOpcode(n.Tok.Type)
		if !ok {
			g.tree.internalAt(id, "codegen: no opcode for %s", n.Tok.Type)
		}
		w := g.tree.Node(target).Type.Width()
		g.address(target)
		g.op(bytecode.OpDup, bytecode.WidthNone)
		g.op(bytecode.OpLoadInd, w)
		g.expr(rhs)
		g.op(op, w)
		g.op(bytecode.OpSwap, bytecode.WidthNone)
		g.op(bytecode.OpStoreInd, w)
	case KindExprStmt:
		call := n.Children[0]
		g.call(call)
		if r := g.resultSlots(call); r > 0 {
			g.op(bytecode.OpPop, bytecode.WidthNone, int32(r))
		}
	default:
		g.tree.unhandled("codegen", id)
	}
}

// ifChain emits each (condition, body) pair as a test branching to the
// next clause, a body and a jump to the shared end label.
func (g *generator) ifChain(id NodeID) {
	kids := g.tree.Children(id)
	end := g.newLabel()
	i := 0
	for ; i+1 < len(kids); i += 2 {
		next := g.newLabel()
		g.expr(kids[i])
		g.emit(bytecode.Jump(bytecode.OpJumpFalse, next))
		g.stmts(g.tree.Children(kids[i+1]))
		g.emit(bytecode.Jump(bytecode.OpJump, end))
		g.emit(bytecode.Label(next))
	}
	if i < len(kids) {
		g.stmts(g.tree.Children(kids[i]))
	}
	g.emit(bytecode.Label(end))
}

// forLoop pushes start, end and step (0 when omitted, inferred at run
// time) and brackets the body with ForStart and ForLoop.
func (g *generator) forLoop(id NodeID) {
	n := g.tree.Node(id)
	s := g.sym(id)
	rng := g.tree.Children(n.Children[0])
	for _, r := range rng {
		g.expr(r)
	}
	if len(rng) == 2 {
		g.pushInt(0)
	}
	body, exit := g.newLabel(), g.newLabel()
	g.emit(bytecode.Instruction{Op: bytecode.OpForStart, Mode: bytecode.ModeLocal, Args: []int32{int32(s.Address)}, Target: exit})
	g.emit(bytecode.Label(body))
	g.stmts(g.tree.Children(n.Children[1]))
	g.at(id)
	g.emit(bytecode.Instruction{Op: bytecode.OpForLoop, Mode: bytecode.ModeLocal, Args: []int32{int32(s.Address)}, Target: body})
	g.emit(bytecode.Label(exit))
}

// assign copies whole compound values with one CopyBlock; everything else
// pushes all right-hand values and stores the targets in reverse.
func (g *generator) assign(id NodeID) {
	n := g.tree.Node(id)
	lhs := g.tree.Children(n.Children[0])
	rhs := g.tree.Children(n.Children[1])
	if len(lhs) == 1 && len(rhs) == 1 {
		lt, rt := g.tree.Node(lhs[0]).Type, g.tree.Node(rhs[0]).Type
		if lt.IsCompound() && lt == rt {
			g.address(lhs[0])
			g.address(rhs[0])
			g.op(bytecode.OpCopyBlock, bytecode.WidthNone, int32(lt.Slots()))
			return
		}
	}
	for _, r := range rhs {
		g.pushValues(r)
	}
	for i := len(lhs) - 1; i >= 0; i-- {
		g.storeTo(lhs[i])
	}
}

func (g *generator) pushValues(id NodeID) {
	t := g.tree.Node(id).Type
	if t.Kind == TypeRecord {
		g.address(id)
		g.op(bytecode.OpLoadBlock, bytecode.WidthNone, int32(t.Slots()))
		return
	}
	g.expr(id)
}

func (g *generator) storeTo(id NodeID) {
	n := g.tree.Node(id)
	t := n.Type
	switch {
	case t.Kind == TypeRecord:
		g.address(id)
		g.op(bytecode.OpStoreBlock, bytecode.WidthNone, int32(t.Slots()))
	case n.Kind == KindIdent:
		g.store(g.sym(id))
	default:
		g.address(id)
		g.op(bytecode.OpStoreInd, t.Width())
	}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// expr pushes the value of an expression. Compound values are pushed as
// their address.
func (g *generator) expr(id NodeID) {
	n := g.tree.Node(id)
	if n.Const != nil {
		g.emit(n.Const.Push())
		return
	}
	switch n.Kind {
	case KindIdent:
		s := g.sym(id)
		if s.Type.IsCompound() {
			g.addressOf(s)
		} else {
			g.load(s)
		}
	case KindIndex, KindMember:
		g.address(id)
		if !n.Type.IsCompound() {
			g.op(bytecode.OpLoadInd, n.Type.Width())
		}
	case KindBinary:
		g.binary(id)
	case KindUnary:
		g.expr(n.Children[0])
		switch n.Tok.Type {
		case TokenMinus:
			g.op(bytecode.OpNeg, n.Type.Width())
		case TokenTilde:
			g.op(bytecode.OpNot, n.Type.Width())
		case TokenBang:
			g.op(bytecode.OpLNot, bytecode.WidthNone)
		default:
			g.tree.internalAt(id, "codegen: unary operator %s", n.Tok.Type)
		}
	case KindConvert:
		operand := n.Children[0]
		g.expr(operand)
		from := g.tree.Node(operand).Type
		if n.Type.Kind == TypeBool && from.Kind == TypeF32 {
			g.emit(bytecode.PushFloat(0))
			g.op(bytecode.OpNe, bytecode.WidthFloat)
			return
		}
		ops, ok := conversionOps(from, n.Type)
		if !ok {
			g.tree.internalAt(id, "codegen: no conversion from %s to %s", from, n.Type)
		}
		for _, op := range ops {
			g.op(op, bytecode.WidthNone)
		}
	case KindCall:
		g.call(id)
	default:
		g.tree.unhandled("codegen", id)
	}
}

func (g *generator) binary(id NodeID) {
	n := g.tree.Node(id)
	lhs, rhs := n.Children[0], n.Children[1]
	switch n.Tok.Type {
	case TokenAndAnd, TokenOrOr:
		branch := bytecode.OpJumpFalse
		if n.Tok.Type == TokenOrOr {
			branch = bytecode.OpJumpTrue
		}
		end := g.newLabel()
		g.expr(lhs)
		g.op(bytecode.OpDup, bytecode.WidthNone)
		g.emit(bytecode.Jump(branch, end))
		g.op(bytecode.OpPop, bytecode.WidthNone, 1)
		g.expr(rhs)
		g.emit(bytecode.Label(end))
		return
	}
	op, ok := binaryOpcode(n.Tok.Type)
	if !ok {
		g.tree.internalAt(id, "codegen: binary operator %s", n.Tok.Type)
	}
	g.expr(lhs)
	g.expr(rhs)
	g.op(op, g.tree.Node(lhs).Type.Width())
}

// address pushes the absolute address of an lvalue or compound value.
func (g *generator) address(id NodeID) {
	n := g.tree.Node(id)
	switch n.Kind {
	case KindIdent:
		g.addressOf(g.sym(id))
	case KindMember:
		base := n.Children[0]
		g.address(base)
		f, ok := g.tree.Node(base).Type.Field(n.Tok.Literal)
		if !ok {
			g.tree.internalAt(id, "codegen: no field %q", n.Tok.Literal)
		}
		if f.Offset != 0 {
			g.pushInt(int32(f.Offset))
			g.op(bytecode.OpAdd, bytecode.WidthInt)
		}
	case KindIndex:
		var indices []NodeID
		root := id
		for g.tree.Kind(root) == KindIndex {
			indices = append([]NodeID{g.tree.Child(root, 1)}, indices...)
			root = g.tree.Child(root, 0)
		}
		arr := g.tree.Node(root).Type
		if arr == nil || arr.Kind != TypeArray {
			g.tree.internalAt(id, "codegen: indexing a non-array")
		}
		g.address(root)
		g.pushInt(int32(arr.HeaderSlots()))
		g.op(bytecode.OpAdd, bytecode.WidthInt)
		for _, ix := range indices {
			g.expr(ix)
		}
		g.op(bytecode.OpArray, bytecode.WidthNone, int32(len(arr.Dims)), int32(len(indices)))
	default:
		g.tree.internalAt(id, "codegen: %s is not addressable", n.Kind)
	}
}

func (g *generator) resultSlots(call NodeID) int {
	fn := g.sym(g.tree.Child(call, 0))
	return len(fn.Type.Results)
}

// call reserves the result slots, pushes the arguments left to right
// (compound arguments by address) and calls.
func (g *generator) call(id NodeID) {
	n := g.tree.Node(id)
	fn := g.sym(n.Children[0])
	if r := len(fn.Type.Results); r > 0 {
		g.op(bytecode.OpReserve, bytecode.WidthNone, int32(r))
	}
	for i, arg := range g.tree.Children(n.Children[1]) {
		if fn.Type.Elems[i].IsCompound() {
			g.address(arg)
		} else {
			g.expr(arg)
		}
	}
	if fn.Has(AttrImport) {
		g.emit(bytecode.Jump(bytecode.OpCallImport, bytecode.ImportPrefix+fn.Qualified))
	} else {
		g.emit(bytecode.Jump(bytecode.OpCall, FunctionLabel(fn.Qualified)))
	}
}
