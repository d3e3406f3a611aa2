package compiler

// ---------------------------------------------------------------------------
// Memory layout
// ---------------------------------------------------------------------------

// Frame layout seen from the base pointer bp:
//
//	bp-2-P .. bp-3   parameters, first to last
//	bp-2             return address
//	bp-1             caller's base pointer
//	bp+0 ..          locals and for-loop slot pairs
//
// Results are reserved by the caller below the parameters.
const (
	frameLink    = 2 // return address and saved base pointer
	forLoopSlots = 2 // running index and step
)

// needsStorage reports whether a variable occupies memory. Folded
// constants live only in the code unless they are exported.
func needsStorage(s *Symbol) bool {
	if s.Kind != SymVariable || s.Type == nil {
		return false
	}
	if s.Has(AttrConst) && s.Value != nil && !s.Has(AttrExport) {
		return false
	}
	return true
}

// Layout assigns an address to every global, parameter and local and
// returns the number of global slots. Globals are numbered from 0 in
// declaration order. Each function's frame size is the deepest nesting of
// its block scopes; sibling blocks share space.
func Layout(syms *Symbols) int {
	globals := 0
	for i := 0; i < syms.NumSymbols(); i++ {
		s := syms.Symbol(SymbolID(i))
		if s.Storage != StorageGlobal || !needsStorage(s) {
			continue
		}
		s.Address = globals
		s.Slots = s.Type.Slots()
		globals += s.Slots
	}
	for i := 0; i < syms.NumSymbols(); i++ {
		s := syms.Symbol(SymbolID(i))
		if s.Kind != SymFunction || s.Inner == NoScope {
			continue
		}
		layoutParams(syms, s)
		s.Frame = layoutScope(syms, s.Inner, 0)
	}
	return globals
}

func layoutParams(syms *Symbols, fn *Symbol) {
	var params []*Symbol
	for _, sid := range syms.Scope(fn.Inner).Symbols {
		if p := syms.Symbol(sid); p.Storage == StorageParam {
			params = append(params, p)
		}
	}
	for i, p := range params {
		p.Address = -frameLink - len(params) + i
		p.Slots = 1
	}
}

func layoutScope(syms *Symbols, scope ScopeID, base int) int {
	off := base
	for _, sid := range syms.Scope(scope).Symbols {
		s := syms.Symbol(sid)
		switch s.Storage {
		case StorageLocal:
			if !needsStorage(s) {
				continue
			}
			s.Address = off
			s.Slots = s.Type.Slots()
		case StorageForSlot:
			s.Address = off
			s.Slots = forLoopSlots
		default:
			continue
		}
		off += s.Slots
	}
	size := off
	for _, child := range syms.Scope(scope).Children {
		if end := layoutScope(syms, child, off); end > size {
			size = end
		}
	}
	return size
}
