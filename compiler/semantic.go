package compiler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/chazu/tern/pkg/bytecode"
	"github.com/chazu/tern/pkg/diag"
)

// ---------------------------------------------------------------------------
// Pass 2: resolution, type checking and constant folding
// ---------------------------------------------------------------------------

// maxSlots bounds the size of a single variable.
const maxSlots = 1 << 24

type analyzer struct {
	tree     *Tree
	syms     *Symbols
	types    *TypeManager
	diags    *diag.Sink
	w        *scopeWalker
	fn       SymbolID
	declared map[SymbolID]bool
}

// Analyze resolves every reference in the tree, attaches types and folded
// constants to expression nodes and binds @attributes to declarations. It
// re-locates the scopes created by Build.
func Analyze(tree *Tree, syms *Symbols, diags *diag.Sink) {
	a := &analyzer{
		tree:     tree,
		syms:     syms,
		types:    syms.Types,
		diags:    diags,
		w:        newScopeWalker(syms, tree, false),
		fn:       NoSymbol,
		declared: make(map[SymbolID]bool),
	}
	a.decls(tree.Children(tree.Root))
}

func (a *analyzer) errorf(id NodeID, format string, args ...interface{}) {
	a.diags.Errorf(a.tree.Node(id).Pos().Diag(), format, args...)
}

func (a *analyzer) warningf(id NodeID, format string, args ...interface{}) {
	a.diags.Warningf(a.tree.Node(id).Pos().Diag(), format, args...)
}

func (a *analyzer) sym(id SymbolID) *Symbol { return a.syms.Symbol(id) }

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

func (a *analyzer) decls(ids []NodeID) {
	var pending []NodeID
	for _, id := range ids {
		n := a.tree.Node(id)
		if n.Kind == KindAttribute {
			pending = append(pending, id)
			continue
		}
		if len(pending) > 0 {
			if n.Kind == KindFuncDecl || n.Kind == KindVarDecl {
				a.bind(n.Symbol, pending)
			} else {
				a.strayAttributes(pending)
			}
			pending = nil
		}
		switch n.Kind {
		case KindImport:
			a.decls(n.Children)
		case KindModule:
			a.w.enter(ScopeModule, n.Tok.Literal, id)
			a.decls(n.Children)
			a.w.leave()
		case KindEnum, KindTypeDecl:
			kind := ScopeEnum
			if n.Kind == KindTypeDecl {
				kind = ScopeRecord
			}
			a.resolve(n.Symbol)
			a.w.enter(kind, n.Tok.Literal, id)
			a.w.leave()
		case KindVarDecl:
			a.global(id)
		case KindFuncDecl:
			a.function(id)
		default:
			a.tree.unhandled("analyze", id)
		}
	}
	a.strayAttributes(pending)
}

func (a *analyzer) strayAttributes(ids []NodeID) {
	for _, id := range ids {
		a.errorf(id, "attribute @%s must precede a function or variable declaration", a.tree.Node(id).Tok.Literal)
	}
}

// bind attaches @attributes to the declaration that follows them.
func (a *analyzer) bind(sid SymbolID, attrs []NodeID) {
	s := a.sym(sid)
	for _, id := range attrs {
		n := a.tree.Node(id)
		if n.Tok.Literal == bytecode.VarAttr {
			a.errorf(id, "attribute name %q is reserved", n.Tok.Literal)
			continue
		}
		attr := bytecode.Attribute{Name: n.Tok.Literal}
		for _, p := range n.Children {
			a.tree.Node(p).Type = a.types.String
			attr.Params = append(attr.Params, a.tree.Node(p).Tok.Literal)
		}
		s.Bound = append(s.Bound, attr)
	}
	if !s.Has(AttrExport) && !s.Has(AttrImport) {
		a.warningf(attrs[0], "attributes on %q have no effect unless it is exported or imported", s.Name)
	}
}

func (a *analyzer) global(id NodeID) {
	sid := a.tree.Node(id).Symbol
	a.resolve(sid)
	s := a.sym(sid)
	if init := a.tree.Node(id).Child(2); init != NoNode && !s.Has(AttrConst) {
		a.initializer(a.w.current(), sid, init)
	}
}

func (a *analyzer) initializer(scope ScopeID, sid SymbolID, init NodeID) {
	s := a.sym(sid)
	t := a.value(scope, init)
	switch {
	case s.Type == nil || t == nil:
	case s.Type.IsCompound():
		a.errorf(init, "%s %q cannot have an initializer", s.Type, s.Name)
	case !a.assignable(t, s.Type, init):
		a.errorf(init, "cannot use %s as %s in initialization of %q", t, s.Type, s.Name)
	}
}

func (a *analyzer) function(id NodeID) {
	n := a.tree.Node(id)
	sid := n.Symbol
	a.resolve(sid)
	a.w.enter(ScopeFunction, n.Tok.Literal, id)
	a.fn = sid
	if body := n.Child(2); body != NoNode {
		a.stmts(a.tree.Children(body))
		s := a.sym(sid)
		if s.Type != nil && len(s.Type.Results) > 0 && !terminates(a.tree, body) {
			a.errorf(id, "missing return at end of function %q", s.Name)
		}
	}
	a.fn = NoSymbol
	a.w.leave()
}

// terminates reports whether control cannot fall off the end of a
// statement.
func terminates(t *Tree, id NodeID) bool {
	n := t.Node(id)
	switch n.Kind {
	case KindReturn:
		return true
	case KindBlock:
		return len(n.Children) > 0 && terminates(t, n.Children[len(n.Children)-1])
	case KindIf:
		if len(n.Children)%2 == 0 {
			return false
		}
		for i := 1; i < len(n.Children); i += 2 {
			if !terminates(t, n.Children[i]) {
				return false
			}
		}
		return terminates(t, n.Children[len(n.Children)-1])
	}
	return false
}

// ---------------------------------------------------------------------------
// Lazy symbol resolution
// ---------------------------------------------------------------------------

// resolve computes a symbol's type, and the value of constants and enum
// members, on first use. Declarations may be used before they appear.
func (a *analyzer) resolve(sid SymbolID) {
	if sid == NoSymbol {
		return
	}
	s := a.sym(sid)
	if s.resolved {
		return
	}
	if s.resolving {
		a.errorf(s.Node, "%s %q refers to itself", s.Kind, s.Name)
		return
	}
	s.resolving = true
	switch s.Kind {
	case SymVariable:
		if s.Storage != StorageForSlot {
			a.resolveVar(sid)
		}
	case SymFunction:
		a.resolveFunc(sid)
	case SymType:
		a.resolveRecord(sid)
	case SymEnum:
		a.resolveEnum(sid)
	case SymEnumValue:
		a.resolve(a.syms.Scope(s.Scope).Owner)
	}
	s = a.sym(sid)
	s.resolving = false
	s.resolved = true
}

func (a *analyzer) resolveVar(sid SymbolID) {
	s := a.sym(sid)
	n := a.tree.Node(s.Node)
	elem := a.typeOf(s.Scope, n.Children[0])
	dims := a.dims(s.Scope, n.Children[1])
	if elem == nil {
		return
	}
	if elem.Kind == TypeString {
		a.errorf(s.Node, "variable %q cannot have type string", s.Name)
		return
	}
	if elem.Kind == TypeRecord && len(dims) > 0 && hasArray(elem) {
		a.errorf(s.Node, "arrays of %s are not supported: the record contains arrays", elem)
		return
	}
	t := a.types.Array(elem, dims)
	if t.Slots() > maxSlots {
		a.errorf(s.Node, "variable %q is too large (%d slots)", s.Name, t.Slots())
		return
	}
	s.Type = t
	if t.Kind == TypeArray {
		s.Dims = t.Dims
	}
	if s.Has(AttrImport) {
		a.errorf(s.Node, "variable %q cannot be imported", s.Name)
	}
	if !s.Has(AttrConst) {
		return
	}
	init := n.Child(2)
	switch {
	case t.IsCompound():
		a.errorf(s.Node, "constant %q must have a primitive type", s.Name)
	case init == NoNode:
		a.errorf(s.Node, "constant %q needs a value", s.Name)
	default:
		it := a.value(s.Scope, init)
		if it == nil {
			return
		}
		if !a.assignable(it, t, init) {
			a.errorf(init, "cannot use %s as %s in initialization of %q", it, t, s.Name)
			return
		}
		c := a.tree.Node(init).Const
		if c == nil {
			a.errorf(init, "initializer of constant %q is not a constant expression", s.Name)
			return
		}
		v := coerce(*c, t)
		a.sym(sid).Value = &v
	}
}

func hasArray(t *Type) bool {
	switch t.Kind {
	case TypeArray:
		return true
	case TypeRecord:
		for _, f := range t.Fields {
			if hasArray(f.Type) {
				return true
			}
		}
	}
	return false
}

// dims folds the dimension expressions of a declaration. A bad dimension
// is reported and replaced by 1 so analysis can continue.
func (a *analyzer) dims(scope ScopeID, list NodeID) []int {
	var dims []int
	for _, e := range a.tree.Children(list) {
		t := a.value(scope, e)
		c := a.tree.Node(e).Const
		if t == nil {
			dims = append(dims, 1)
			continue
		}
		if !t.IsIntegral() || c == nil || c.Bits <= 0 {
			a.errorf(e, "array dimension must be a positive integer constant")
			dims = append(dims, 1)
			continue
		}
		dims = append(dims, int(c.Bits))
	}
	return dims
}

// typeOf resolves a type reference.
func (a *analyzer) typeOf(scope ScopeID, ref NodeID) *Type {
	n := a.tree.Node(ref)
	if t, ok := a.types.Primitive(n.Tok.Type); ok {
		n.Type = t
		return t
	}
	sid, ok := a.syms.LookupQualified(scope, n.Text)
	if !ok {
		a.errorf(ref, "undefined type %q", n.Text)
		return nil
	}
	s := a.sym(sid)
	if s.Kind != SymType && s.Kind != SymEnum {
		a.errorf(ref, "%q is a %s, not a type", n.Text, s.Kind)
		return nil
	}
	s.Used = true
	a.resolve(sid)
	t := a.sym(sid).Type
	if !t.Complete() {
		return nil
	}
	n = a.tree.Node(ref)
	n.Type = t
	n.Symbol = sid
	return t
}

func (a *analyzer) resolveFunc(sid SymbolID) {
	s := a.sym(sid)
	n := a.tree.Node(s.Node)
	ok := true
	var results []*Type
	for _, r := range a.tree.Children(n.Children[0]) {
		t := a.typeOf(s.Scope, r)
		if t == nil {
			ok = false
			continue
		}
		if !t.IsPrimitive() {
			a.errorf(r, "function results must be primitive or enum types, found %s", t)
			ok = false
			continue
		}
		results = append(results, t)
	}
	var params []*Type
	for _, p := range a.tree.Children(n.Children[1]) {
		ps := a.tree.Node(p).Symbol
		a.resolve(ps)
		pt := a.sym(ps).Type
		if pt == nil {
			ok = false
			continue
		}
		params = append(params, pt)
	}

	s = a.sym(sid)
	body := n.Child(2)
	switch {
	case s.Has(AttrImport) && s.Has(AttrExport):
		a.errorf(s.Node, "function %q cannot be both imported and exported", s.Name)
	case s.Has(AttrImport) && body != NoNode:
		a.errorf(s.Node, "imported function %q cannot have a body", s.Name)
	case !s.Has(AttrImport) && body == NoNode:
		a.errorf(s.Node, "function %q has no body", s.Name)
	}
	if s.Has(AttrConst) {
		a.errorf(s.Node, "function %q cannot be const", s.Name)
	}
	if !ok {
		return
	}
	s.Type = a.types.Func(params, results)
	s.Params = len(params)
}

func (a *analyzer) resolveRecord(sid SymbolID) {
	s := a.sym(sid)
	var fields []Field
	for _, m := range a.tree.Children(s.Node) {
		ms := a.tree.Node(m).Symbol
		a.resolve(ms)
		mt := a.sym(ms).Type
		if mt == nil {
			continue
		}
		fields = append(fields, Field{Name: a.sym(ms).Name, Type: mt})
	}
	a.types.SetFields(a.sym(sid).Type, fields)
}

// resolveEnum numbers enum values from 0, restarting after every explicit
// value.
func (a *analyzer) resolveEnum(sid SymbolID) {
	s := a.sym(sid)
	inner, typ := s.Inner, s.Type
	next := int32(0)
	for _, v := range a.tree.Children(s.Node) {
		if e := a.tree.Node(v).Child(0); e != NoNode {
			t := a.value(inner, e)
			c := a.tree.Node(e).Const
			switch {
			case t == nil:
			case (t.IsIntegral() || t.Kind == TypeEnum) && c != nil:
				next = c.Bits
			default:
				a.errorf(e, "enum value must be an integer constant")
			}
		}
		val := IntValue(next)
		vs := a.sym(a.tree.Node(v).Symbol)
		vs.Value = &val
		vs.Type = typ
		vs.resolved = true
		next++
	}
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (a *analyzer) block(id NodeID) {
	a.w.enter(ScopeBlock, "", id)
	a.stmts(a.tree.Children(id))
	a.w.leave()
}

func (a *analyzer) stmts(ids []NodeID) {
	for _, id := range ids {
		a.stmt(id)
	}
}

func (a *analyzer) stmt(id NodeID) {
	scope := a.w.current()
	n := a.tree.Node(id)
	switch n.Kind {
	case KindVarDecl:
		sid := n.Symbol
		a.resolve(sid)
		if init := n.Child(2); init != NoNode && !a.sym(sid).Has(AttrConst) {
			a.initializer(scope, sid, init)
		}
		if s := a.sym(sid); s.Has(AttrExport) || s.Has(AttrImport) {
			a.errorf(id, "local variable %q cannot be exported or imported", s.Name)
		}
		a.declared[sid] = true
	case KindIf:
		for i, c := range n.Children {
			if a.tree.Kind(c) == KindBlock {
				a.block(c)
			} else if i%2 == 0 {
				a.condition(scope, c)
			}
		}
	case KindWhile:
		a.condition(scope, n.Children[0])
		a.block(n.Children[1])
	case KindFor:
		for _, r := range a.tree.Children(n.Children[0]) {
			if t := a.value(scope, r); t != nil && !t.IsIntegral() {
				a.errorf(r, "for range values must be integers, found %s", t)
			}
		}
		a.block(n.Children[1])
	case KindReturn:
		a.ret(scope, id)
	case KindAssign:
		a.assign(scope, id)
	case KindCompoundAssign:
		t := a.lvalue(scope, n.Children[0])
		rt := a.value(scope, n.Children[1])
		if t == nil || rt == nil {
			return
		}
		op := compoundBase[n.Tok.Type]
		if res := a.checkBinary(id, op, t, rt, NoNode, n.Children[1]); res != nil && res != t {
			a.errorf(id, "cannot assign %s to %s", res, t)
		}
	case KindExprStmt:
		a.expr(scope, n.Children[0])
	default:
		a.tree.unhandled("analyze", id)
	}
}

// compoundBase maps a compound assignment to its binary operator.
var compoundBase = map[TokenType]TokenType{
	TokenAddAssign: TokenPlus,
	TokenSubAssign: TokenMinus,
	TokenMulAssign: TokenStar,
	TokenDivAssign: TokenSlash,
	TokenModAssign: TokenPercent,
	TokenAndAssign: TokenAmp,
	TokenOrAssign:  TokenPipe,
	TokenXorAssign: TokenCaret,
	TokenShlAssign: TokenShl,
	TokenShrAssign: TokenShr,
	TokenRolAssign: TokenRol,
	TokenRorAssign: TokenRor,
}

func (a *analyzer) condition(scope ScopeID, id NodeID) {
	if t := a.value(scope, id); t != nil && t.Kind != TypeBool {
		a.errorf(id, "condition must be bool, found %s", t)
	}
}

func (a *analyzer) ret(scope ScopeID, id NodeID) {
	vals := a.tree.Children(id)
	fs := a.sym(a.fn)
	types := make([]*Type, len(vals))
	for i, v := range vals {
		types[i] = a.value(scope, v)
	}
	if fs.Type == nil {
		return
	}
	results := fs.Type.Results
	if len(vals) != len(results) {
		a.errorf(id, "wrong number of return values: want %d, got %d", len(results), len(vals))
		return
	}
	for i, v := range vals {
		if types[i] != nil && !a.assignable(types[i], results[i], v) {
			a.errorf(v, "cannot return %s as %s", types[i], results[i])
		}
	}
}

// assign checks single, multiple and flattened assignments. Pairs are
// matched first; failing that, both sides are flattened into primitive
// slots and compared position by position.
func (a *analyzer) assign(scope ScopeID, id NodeID) {
	n := a.tree.Node(id)
	lhs := a.tree.Children(n.Children[0])
	rhs := a.tree.Children(n.Children[1])
	ok := true
	lt := make([]*Type, len(lhs))
	for i, l := range lhs {
		if lt[i] = a.lvalue(scope, l); lt[i] == nil {
			ok = false
		}
	}
	rt := make([]*Type, len(rhs))
	for i, r := range rhs {
		if rt[i] = a.values(scope, r); rt[i] == nil {
			ok = false
		}
	}
	if !ok {
		return
	}
	if len(lhs) == len(rhs) {
		paired := true
		for i := range lhs {
			if !a.assignable(rt[i], lt[i], rhs[i]) {
				paired = false
			}
		}
		if paired && (len(lhs) == 1 || !anyArray(lt)) {
			return
		}
	}
	if anyArray(lt) || anyArray(rt) {
		a.errorf(id, "arrays can only be assigned from an array of the same type")
		return
	}
	for _, t := range append(lt, rt...) {
		if t.Kind == TypeRecord && t.HasArray() {
			a.errorf(id, "record %s holds an array and cannot be spread across values", t)
			return
		}
	}
	var lf, rf []*Type
	for _, t := range lt {
		lf = t.Flatten(lf)
	}
	for _, t := range rt {
		rf = t.Flatten(rf)
	}
	same := len(lf) == len(rf)
	for i := 0; same && i < len(lf); i++ {
		same = lf[i] == rf[i]
	}
	if !same {
		a.errorf(id, "assignment mismatch: cannot assign (%s) to (%s)", joinTypes(rf), joinTypes(lf))
	}
}

func anyArray(ts []*Type) bool {
	for _, t := range ts {
		if t.Kind == TypeArray {
			return true
		}
	}
	return false
}

// assignable reports whether a value of type from can be stored in to.
// Integer constants are converted in place when they fit the target.
func (a *analyzer) assignable(from, to *Type, id NodeID) bool {
	if from == to {
		return true
	}
	if from.Kind != TypeI32 {
		return false
	}
	n := a.tree.Node(id)
	if n.Const == nil {
		return false
	}
	switch to.Kind {
	case TypeByte:
		if n.Const.Bits < 0 || n.Const.Bits > 255 {
			return false
		}
		v := ByteValue(n.Const.Bits)
		n.Const, n.Type = &v, to
		return true
	case TypeF32:
		v := FloatValue(float32(n.Const.Bits))
		n.Const, n.Type = &v, to
		return true
	}
	return false
}

// lvalue checks an assignment target.
func (a *analyzer) lvalue(scope ScopeID, id NodeID) *Type {
	t := a.expr(scope, id)
	if t == nil {
		return nil
	}
	root := a.rootVar(id)
	if root == NoSymbol {
		a.errorf(id, "cannot assign to %s", a.describe(id))
		return nil
	}
	rs := a.sym(root)
	switch {
	case rs.Has(AttrConst):
		a.errorf(id, "cannot assign to constant %q", rs.Name)
		return nil
	case rs.Storage == StorageForSlot:
		a.errorf(id, "cannot assign to loop variable %q", rs.Name)
		return nil
	case a.tree.Node(id).Flags&FlagPartial != 0:
		a.errorf(id, "cannot assign to partially indexed array %s", a.describe(id))
		return nil
	}
	return t
}

// rootVar returns the variable an Ident/Index/Member chain is rooted at.
func (a *analyzer) rootVar(id NodeID) SymbolID {
	for {
		n := a.tree.Node(id)
		switch n.Kind {
		case KindIndex, KindMember:
			id = n.Children[0]
		case KindIdent:
			if n.Symbol != NoSymbol && a.sym(n.Symbol).Kind == SymVariable {
				return n.Symbol
			}
			return NoSymbol
		default:
			return NoSymbol
		}
	}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// value analyses an expression used as a single value.
func (a *analyzer) value(scope ScopeID, id NodeID) *Type {
	t := a.values(scope, id)
	if t != nil && t.Kind == TypeTuple {
		a.errorf(id, "multiple-value %s in single-value context", a.describe(id))
		return nil
	}
	return t
}

// values analyses an expression that may produce several values.
func (a *analyzer) values(scope ScopeID, id NodeID) *Type {
	t := a.expr(scope, id)
	if t == nil {
		return nil
	}
	switch {
	case a.tree.Node(id).Flags&FlagPartial != 0:
		a.errorf(id, "array %s must be fully indexed to be used as a value", a.describe(id))
		return nil
	case t.IsVoid():
		a.errorf(id, "%s does not return a value", a.describe(id))
		return nil
	}
	return t
}

// expr analyses an expression and records its type on the node. It
// returns nil after reporting an error so callers stop checking.
func (a *analyzer) expr(scope ScopeID, id NodeID) *Type {
	t := a.exprKind(scope, id)
	if t != nil {
		a.tree.Node(id).Type = t
	}
	return t
}

func (a *analyzer) exprKind(scope ScopeID, id NodeID) *Type {
	n := a.tree.Node(id)
	switch n.Kind {
	case KindLiteral:
		return a.literal(id)
	case KindIdent:
		sid, ok := a.syms.Lookup(scope, n.Tok.Literal)
		if !ok {
			a.errorf(id, "undefined: %s", n.Tok.Literal)
			return nil
		}
		return a.bindIdent(id, sid)
	case KindMember:
		return a.member(scope, id)
	case KindIndex:
		return a.index(scope, id)
	case KindCall:
		return a.call(scope, id)
	case KindBinary:
		return a.binary(scope, id)
	case KindUnary:
		return a.unary(scope, id)
	case KindConvert:
		return a.convert(scope, id)
	}
	a.tree.unhandled("analyze", id)
	return nil
}

func (a *analyzer) literal(id NodeID) *Type {
	n := a.tree.Node(id)
	var v Value
	var t *Type
	switch n.Tok.Type {
	case TokenTrue, TokenFalse:
		v, t = BoolValue(n.Tok.Type == TokenTrue), a.types.Bool
	case TokenInteger:
		i, err := parseInteger(n.Tok.Literal)
		if err != nil {
			a.errorf(id, "integer literal %s: %v", n.Tok.Literal, err)
			return nil
		}
		v, t = IntValue(i), a.types.I32
	case TokenFloat:
		f, err := strconv.ParseFloat(strings.ReplaceAll(n.Tok.Literal, "_", ""), 32)
		if err != nil {
			a.errorf(id, "invalid float literal %s", n.Tok.Literal)
			return nil
		}
		v, t = FloatValue(float32(f)), a.types.F32
	case TokenString:
		a.errorf(id, "string literals are only allowed in attributes and imports")
		return nil
	default:
		a.tree.unhandled("analyze", id)
	}
	n.Const = &v
	return t
}

// parseInteger accepts decimal, 0x and 0b literals up to 0xFFFFFFFF;
// values above the int32 range wrap.
func parseInteger(lit string) (int32, error) {
	s := strings.ReplaceAll(lit, "_", "")
	base := 10
	switch {
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		s, base = s[2:], 16
	case strings.HasPrefix(s, "0b") || strings.HasPrefix(s, "0B"):
		s, base = s[2:], 2
	}
	u, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return 0, errOutOfRange
		}
		return 0, err
	}
	return int32(uint32(u)), nil
}

var errOutOfRange = errors.New("value does not fit in 32 bits")

// bindIdent resolves a name to a symbol. Enum members become literals.
func (a *analyzer) bindIdent(id NodeID, sid SymbolID) *Type {
	a.resolve(sid)
	s := a.sym(sid)
	n := a.tree.Node(id)
	n.Symbol = sid
	n.Text = s.Qualified
	switch s.Kind {
	case SymVariable:
		switch {
		case s.Storage == StorageMember:
			a.errorf(id, "record member %q used outside a record value", s.Name)
			return nil
		case s.Storage == StorageLocal && !a.declared[sid]:
			a.errorf(id, "%q used before its declaration", s.Name)
			return nil
		}
		if s.Value != nil {
			n.Const = s.Value
		}
		return s.Type
	case SymEnumValue:
		if s.Value == nil {
			a.errorf(id, "enum value %q used before it is defined", s.Name)
			return nil
		}
		n.Kind = KindLiteral
		n.Children = nil
		n.Const = s.Value
		return s.Type
	case SymFunction:
		a.errorf(id, "function %q used as a value", s.Name)
		return nil
	}
	a.errorf(id, "%q is a %s, not a value", s.Name, s.Kind)
	return nil
}

// namespaced resolves Module.Name and Enum.Value chains. The second
// result is false when the chain is not rooted at a module or enum; a
// NoSymbol first result with true means an error was reported.
func (a *analyzer) namespaced(scope ScopeID, id NodeID) (SymbolID, bool) {
	n := a.tree.Node(id)
	if n.Kind != KindMember {
		return NoSymbol, false
	}
	base := n.Children[0]
	var owner SymbolID
	switch a.tree.Kind(base) {
	case KindIdent:
		sid, ok := a.syms.Lookup(scope, a.tree.Node(base).Tok.Literal)
		if !ok {
			return NoSymbol, false
		}
		owner = sid
	case KindMember:
		sid, ok := a.namespaced(scope, base)
		if !ok || sid == NoSymbol {
			return sid, ok
		}
		owner = sid
	default:
		return NoSymbol, false
	}
	o := a.sym(owner)
	if o.Kind != SymModule && o.Kind != SymEnum {
		return NoSymbol, false
	}
	sid, ok := a.syms.LookupLocal(o.Inner, n.Tok.Literal)
	if !ok {
		a.errorf(id, "%s %s has no member %q", o.Kind, o.Qualified, n.Tok.Literal)
		return NoSymbol, true
	}
	return sid, true
}

func (a *analyzer) member(scope ScopeID, id NodeID) *Type {
	if sid, ok := a.namespaced(scope, id); ok {
		if sid == NoSymbol {
			return nil
		}
		n := a.tree.Node(id)
		n.Kind = KindIdent
		n.Children = nil
		return a.bindIdent(id, sid)
	}
	n := a.tree.Node(id)
	name := n.Tok.Literal
	bt := a.expr(scope, n.Children[0])
	if bt == nil {
		return nil
	}
	if bt.Kind != TypeRecord {
		a.errorf(id, "%s (type %s) has no member %q", a.describe(n.Children[0]), bt, name)
		return nil
	}
	f, ok := bt.Field(name)
	if !ok {
		a.errorf(id, "type %s has no member %q", bt, name)
		return nil
	}
	return f.Type
}

func (a *analyzer) index(scope ScopeID, id NodeID) *Type {
	n := a.tree.Node(id)
	base, idx := n.Children[0], n.Children[1]
	bt := a.expr(scope, base)
	it := a.value(scope, idx)
	if bt == nil {
		return nil
	}
	if bt.Kind != TypeArray {
		a.errorf(id, "cannot index %s of type %s", a.describe(base), bt)
		return nil
	}
	if it != nil && !it.IsIntegral() && it.Kind != TypeEnum {
		a.errorf(idx, "array index must be an integer, found %s", it)
	}
	if c := a.tree.Node(idx).Const; c != nil && (c.Bits < 0 || int(c.Bits) >= bt.Dims[0]) {
		a.errorf(idx, "index %d out of range [0, %d)", c.Bits, bt.Dims[0])
	}
	rt := a.types.Indexed(bt, 1)
	if rt.Kind == TypeArray {
		a.tree.Node(id).Flags |= FlagPartial
	}
	return rt
}

func (a *analyzer) callee(scope ScopeID, id NodeID) SymbolID {
	n := a.tree.Node(id)
	var sid SymbolID
	switch n.Kind {
	case KindIdent:
		s, ok := a.syms.Lookup(scope, n.Tok.Literal)
		if !ok {
			a.errorf(id, "undefined: %s", n.Tok.Literal)
			return NoSymbol
		}
		sid = s
	case KindMember:
		s, ok := a.namespaced(scope, id)
		if !ok {
			a.errorf(id, "%s is not a function", a.describe(id))
			return NoSymbol
		}
		if s == NoSymbol {
			return NoSymbol
		}
		sid = s
	default:
		a.errorf(id, "%s is not a function", a.describe(id))
		return NoSymbol
	}
	if k := a.sym(sid).Kind; k != SymFunction {
		a.errorf(id, "%s is a %s, not a function", a.describe(id), k)
		return NoSymbol
	}
	return sid
}

func (a *analyzer) call(scope ScopeID, id NodeID) *Type {
	n := a.tree.Node(id)
	cal := n.Children[0]
	args := a.tree.Children(n.Children[1])
	sid := a.callee(scope, cal)
	argTypes := make([]*Type, len(args))
	for i, arg := range args {
		argTypes[i] = a.value(scope, arg)
	}
	if sid == NoSymbol {
		return nil
	}
	a.resolve(sid)
	s := a.sym(sid)
	c := a.tree.Node(cal)
	c.Kind = KindIdent
	c.Children = nil
	c.Symbol = sid
	c.Text = s.Qualified
	if s.Type == nil {
		return nil
	}
	c.Type = s.Type
	params := s.Type.Elems
	if len(args) != len(params) {
		a.errorf(id, "wrong number of arguments in call to %s: want %d, got %d", s.Name, len(params), len(args))
		return nil
	}
	ok := true
	for i, arg := range args {
		at := argTypes[i]
		if at == nil {
			ok = false
			continue
		}
		if !a.assignable(at, params[i], arg) {
			a.errorf(arg, "cannot use %s as %s in argument %d to %s", at, params[i], i+1, s.Name)
			ok = false
			continue
		}
		if params[i].IsCompound() && a.rootVar(arg) == NoSymbol {
			a.errorf(arg, "argument %d to %s must be a variable", i+1, s.Name)
			ok = false
		}
	}
	if !ok {
		return nil
	}
	return a.types.Results(s.Type)
}

// checkBinary validates an operator against its operand types and returns
// the result type. Integer constants are converted to the other operand's
// type when needed. lhs may be NoNode for compound assignments.
func (a *analyzer) checkBinary(id NodeID, op TokenType, lt, rt *Type, lhs, rhs NodeID) *Type {
	shift := op == TokenShl || op == TokenShr || op == TokenRol || op == TokenRor
	if lt != rt && !shift {
		switch {
		case a.assignable(rt, lt, rhs):
			rt = lt
		case lhs != NoNode && a.assignable(lt, rt, lhs):
			lt = rt
		default:
			a.errorf(id, "mismatched types %s and %s for operator %s", lt, rt, op)
			return nil
		}
	}
	var ok bool
	res := lt
	switch op {
	case TokenAndAnd, TokenOrOr:
		ok = lt.Kind == TypeBool
	case TokenPlus, TokenMinus, TokenStar, TokenSlash:
		ok = lt.IsNumeric()
	case TokenPercent:
		ok = lt.IsIntegral()
	case TokenAmp, TokenPipe, TokenCaret:
		ok = lt.IsIntegral() || lt.Kind == TypeBool
	case TokenShl, TokenShr, TokenRol, TokenRor:
		ok = lt.IsIntegral() && rt.IsIntegral()
	case TokenEq, TokenNe:
		ok, res = lt.IsPrimitive(), a.types.Bool
	case TokenLt, TokenLe, TokenGt, TokenGe:
		ok, res = lt.IsNumeric() || lt.Kind == TypeEnum, a.types.Bool
	}
	if !ok {
		a.errorf(id, "operator %s not defined for %s", op, lt)
		return nil
	}
	return res
}

func (a *analyzer) binary(scope ScopeID, id NodeID) *Type {
	n := a.tree.Node(id)
	op := n.Tok.Type
	lhs, rhs := n.Children[0], n.Children[1]
	lt := a.value(scope, lhs)
	rt := a.value(scope, rhs)
	if lt == nil || rt == nil {
		return nil
	}
	res := a.checkBinary(id, op, lt, rt, lhs, rhs)
	if res == nil {
		return nil
	}
	l, r := a.tree.Node(lhs).Const, a.tree.Node(rhs).Const
	if l == nil || r == nil {
		return res
	}
	v, err := foldBinary(op, a.tree.Node(lhs).Type, *l, *r)
	if err != nil {
		if err == bytecode.ErrDivisionByZero {
			a.warningf(id, "division by zero")
		}
		return res
	}
	a.tree.Node(id).Const = &v
	return res
}

func (a *analyzer) unary(scope ScopeID, id NodeID) *Type {
	n := a.tree.Node(id)
	op := n.Tok.Type
	operand := n.Children[0]
	t := a.value(scope, operand)
	if t == nil {
		return nil
	}
	var ok bool
	switch op {
	case TokenMinus:
		ok = t.Kind == TypeI32 || t.Kind == TypeF32
	case TokenBang:
		ok = t.Kind == TypeBool
	case TokenTilde:
		ok = t.IsIntegral()
	}
	if !ok {
		a.errorf(id, "operator %s not defined for %s", op, t)
		return nil
	}
	if c := a.tree.Node(operand).Const; c != nil {
		if v, err := foldUnary(op, t, *c); err == nil {
			a.tree.Node(id).Const = &v
		}
	}
	return t
}

func (a *analyzer) convert(scope ScopeID, id NodeID) *Type {
	n := a.tree.Node(id)
	to, _ := a.types.Primitive(n.Tok.Type)
	operand := n.Children[0]
	from := a.value(scope, operand)
	if from == nil || to == nil {
		return nil
	}
	if _, ok := conversionOps(from, to); !ok {
		a.errorf(id, "cannot convert %s to %s", from, to)
		return nil
	}
	if c := a.tree.Node(operand).Const; c != nil {
		v := foldConvert(from, to, *c)
		a.tree.Node(id).Const = &v
	}
	return to
}

// describe renders an expression for diagnostics.
func (a *analyzer) describe(id NodeID) string {
	n := a.tree.Node(id)
	switch n.Kind {
	case KindIdent:
		return n.Tok.Literal
	case KindMember:
		return a.describe(n.Children[0]) + "." + n.Tok.Literal
	case KindIndex:
		return a.describe(n.Children[0]) + "[...]"
	case KindCall:
		return a.describe(n.Children[0]) + "()"
	case KindLiteral:
		return n.Tok.Literal
	}
	return "expression"
}
