package compiler

import (
	"fmt"
	"strings"

	"github.com/chazu/tern/pkg/bytecode"
	"github.com/chazu/tern/pkg/diag"
)

// ---------------------------------------------------------------------------
// Symbol table: arenas of scopes and symbols
// ---------------------------------------------------------------------------

// SymbolID indexes a symbol.
type SymbolID int32

// NoSymbol is the null SymbolID.
const NoSymbol SymbolID = -1

// ScopeID indexes a scope.
type ScopeID int32

// NoScope is the null ScopeID.
const NoScope ScopeID = -1

// SymbolKind classifies a symbol.
type SymbolKind uint8

const (
	SymVariable SymbolKind = iota
	SymFunction
	SymType
	SymEnum
	SymEnumValue
	SymModule
)

func (k SymbolKind) String() string {
	switch k {
	case SymVariable:
		return "variable"
	case SymFunction:
		return "function"
	case SymType:
		return "type"
	case SymEnum:
		return "enum"
	case SymEnumValue:
		return "enum value"
	case SymModule:
		return "module"
	}
	return fmt.Sprintf("SymbolKind(%d)", k)
}

// Storage is where a variable lives.
type Storage uint8

const (
	StorageNone Storage = iota
	StorageGlobal
	StorageLocal
	StorageParam
	StorageForSlot
	StorageMember
)

func (s Storage) String() string {
	switch s {
	case StorageGlobal:
		return "global"
	case StorageLocal:
		return "local"
	case StorageParam:
		return "param"
	case StorageForSlot:
		return "for"
	case StorageMember:
		return "member"
	}
	return "-"
}

// SymAttr is the const/import/export attribute set.
type SymAttr uint8

const (
	AttrConst SymAttr = 1 << iota
	AttrImport
	AttrExport
)

func attrsFromFlags(f NodeFlags) SymAttr {
	var a SymAttr
	if f&FlagConst != 0 {
		a |= AttrConst
	}
	if f&FlagImport != 0 {
		a |= AttrImport
	}
	if f&FlagExport != 0 {
		a |= AttrExport
	}
	return a
}

func (a SymAttr) String() string {
	var parts []string
	if a&AttrImport != 0 {
		parts = append(parts, "import")
	}
	if a&AttrExport != 0 {
		parts = append(parts, "export")
	}
	if a&AttrConst != 0 {
		parts = append(parts, "const")
	}
	return strings.Join(parts, ",")
}

// NoAddress marks a symbol without storage.
const NoAddress = -1 << 31

// Symbol is one named entity.
type Symbol struct {
	Name      string
	Qualified string
	Kind      SymbolKind
	Type      *Type
	Storage   Storage
	Attrs     SymAttr
	Bound     []bytecode.Attribute // @attributes bound by the semantic pass
	Dims      []int
	Address   int // global address or frame offset; NoAddress without storage
	Slots     int
	Used      bool
	Value     *Value // folded constant or enum value
	Node      NodeID
	Scope     ScopeID // declaring scope
	Inner     ScopeID // scope opened by modules, enums, types and functions
	Frame     int     // local slots, for functions
	Params    int     // parameter slots, for functions
	resolving bool
	resolved  bool
}

// Has reports whether the symbol carries an attribute.
func (s *Symbol) Has(a SymAttr) bool { return s.Attrs&a != 0 }

// ScopeKind classifies a scope.
type ScopeKind uint8

const (
	ScopeGlobal ScopeKind = iota
	ScopeModule
	ScopeEnum
	ScopeRecord
	ScopeFunction
	ScopeBlock
)

func (k ScopeKind) String() string {
	return [...]string{"global", "module", "enum", "record", "function", "block"}[k]
}

// Scope is one lexical scope.
type Scope struct {
	Name     string // qualified
	Kind     ScopeKind
	Parent   ScopeID
	Node     NodeID
	Owner    SymbolID
	Symbols  []SymbolID
	Children []ScopeID
}

// Symbols holds every scope and symbol of a compilation.
type Symbols struct {
	scopes  []Scope
	symbols []Symbol
	byName  map[string]ScopeID
	Types   *TypeManager
}

// NewSymbols returns a table holding only the global scope.
func NewSymbols(types *TypeManager) *Symbols {
	s := &Symbols{byName: make(map[string]ScopeID), Types: types}
	s.scopes = append(s.scopes, Scope{Name: "", Kind: ScopeGlobal, Parent: NoScope, Node: NoNode, Owner: NoSymbol})
	s.byName[""] = 0
	return s
}

// Root returns the global scope.
func (s *Symbols) Root() ScopeID { return 0 }

// Scope returns a scope.
func (s *Symbols) Scope(id ScopeID) *Scope { return &s.scopes[id] }

// Symbol returns a symbol.
func (s *Symbols) Symbol(id SymbolID) *Symbol { return &s.symbols[id] }

// NumScopes returns the number of scopes.
func (s *Symbols) NumScopes() int { return len(s.scopes) }

// NumSymbols returns the number of symbols.
func (s *Symbols) NumSymbols() int { return len(s.symbols) }

// childName derives a child scope's qualified name.
func (s *Symbols) childName(parent ScopeID, name string) string {
	if p := s.scopes[parent].Name; p != "" {
		return p + "." + name
	}
	return name
}

// NewScope creates a child scope. When the qualified name is taken, as
// happens for duplicate declarations, the scope gets the first free
// candidate name base~2, base~3, ...
func (s *Symbols) NewScope(parent ScopeID, name string, kind ScopeKind, node NodeID) ScopeID {
	base := s.childName(parent, name)
	q := base
	for i := 2; ; i++ {
		if _, taken := s.byName[q]; !taken {
			break
		}
		q = fmt.Sprintf("%s~%d", base, i)
	}
	id := ScopeID(len(s.scopes))
	s.scopes = append(s.scopes, Scope{Name: q, Kind: kind, Parent: parent, Node: node, Owner: NoSymbol})
	s.scopes[parent].Children = append(s.scopes[parent].Children, id)
	s.byName[q] = id
	return id
}

// LocateScope finds the scope created for node under parent by name,
// following the same candidate naming as NewScope.
func (s *Symbols) LocateScope(parent ScopeID, name string, node NodeID) (ScopeID, bool) {
	base := s.childName(parent, name)
	q := base
	for i := 2; ; i++ {
		id, ok := s.byName[q]
		if !ok {
			return NoScope, false
		}
		if s.scopes[id].Node == node {
			return id, true
		}
		q = fmt.Sprintf("%s~%d", base, i)
	}
}

// FindScope returns the scope with a qualified name.
func (s *Symbols) FindScope(qualified string) (ScopeID, bool) {
	id, ok := s.byName[qualified]
	return id, ok
}

// Declare adds a symbol to a scope. A name already declared in the same
// scope is an error; one declared in an enclosing scope is shadowed with a
// warning. The symbol is added in both cases.
func (s *Symbols) Declare(scope ScopeID, sym Symbol, pos diag.Pos, diags *diag.Sink) SymbolID {
	for _, other := range s.scopes[scope].Symbols {
		if s.symbols[other].Name == sym.Name {
			diags.Errorf(pos, "%q is already declared in this scope", sym.Name)
			break
		}
	}
	if k := s.scopes[scope].Kind; k != ScopeRecord && k != ScopeEnum {
		for p := s.scopes[scope].Parent; p != NoScope; p = s.scopes[p].Parent {
			if prev, ok := s.lookupIn(p, sym.Name); ok {
				diags.Warningf(pos, "%q shadows %s declared in an outer scope", sym.Name, s.symbols[prev].Kind)
				break
			}
		}
	}
	sym.Scope = scope
	sym.Qualified = s.childName(scope, sym.Name)
	sym.Inner = NoScope
	sym.Address = NoAddress
	id := SymbolID(len(s.symbols))
	s.symbols = append(s.symbols, sym)
	s.scopes[scope].Symbols = append(s.scopes[scope].Symbols, id)
	return id
}

func (s *Symbols) lookupIn(scope ScopeID, name string) (SymbolID, bool) {
	for _, id := range s.scopes[scope].Symbols {
		if s.symbols[id].Name == name {
			return id, true
		}
	}
	return NoSymbol, false
}

// LookupLocal finds a name in one scope only.
func (s *Symbols) LookupLocal(scope ScopeID, name string) (SymbolID, bool) {
	return s.lookupIn(scope, name)
}

// Lookup finds a name in scope or its ancestors. Record scopes are skipped
// when searching outward, since members are only reachable through a
// value.
func (s *Symbols) Lookup(scope ScopeID, name string) (SymbolID, bool) {
	for sc := scope; sc != NoScope; sc = s.scopes[sc].Parent {
		if s.scopes[sc].Kind == ScopeRecord && sc != scope {
			continue
		}
		if id, ok := s.lookupIn(sc, name); ok {
			return id, true
		}
	}
	return NoSymbol, false
}

// LookupQualified resolves a dotted name such as "Geo.Point" starting from
// scope.
func (s *Symbols) LookupQualified(scope ScopeID, name string) (SymbolID, bool) {
	parts := strings.Split(name, ".")
	id, ok := s.Lookup(scope, parts[0])
	for _, part := range parts[1:] {
		if !ok {
			return NoSymbol, false
		}
		inner := s.symbols[id].Inner
		if inner == NoScope {
			return NoSymbol, false
		}
		id, ok = s.lookupIn(inner, part)
	}
	return id, ok
}

// EnclosingFunction returns the function owning scope, or NoSymbol.
func (s *Symbols) EnclosingFunction(scope ScopeID) SymbolID {
	for sc := scope; sc != NoScope; sc = s.scopes[sc].Parent {
		if s.scopes[sc].Kind == ScopeFunction {
			return s.scopes[sc].Owner
		}
	}
	return NoSymbol
}
