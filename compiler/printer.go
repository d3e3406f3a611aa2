package compiler

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
)

// namedKinds are the node kinds whose token is part of the tree's meaning.
var namedKinds = map[NodeKind]bool{
	KindImport: true, KindModule: true, KindAttribute: true, KindEnum: true,
	KindEnumValue: true, KindTypeDecl: true, KindVarDecl: true, KindFuncDecl: true,
	KindFor: true, KindCompoundAssign: true, KindBinary: true, KindUnary: true,
	KindMember: true, KindIdent: true, KindLiteral: true, KindConvert: true,
}

// DumpAST renders the tree one node per line, indented by depth. Once the
// tree is analysed each expression also shows its type and folded value.
func DumpAST(t *Tree) string {
	if t.Root == NoNode {
		return ""
	}
	var sb strings.Builder
	var dump func(id NodeID, depth int)
	dump = func(id NodeID, depth int) {
		n := t.Node(id)
		sb.WriteString(strings.Repeat("  ", depth))
		sb.WriteString(n.Kind.String())
		if mods := n.Flags.Modifiers(); mods != 0 {
			sb.WriteString(" " + strings.TrimSpace(mods.String()))
		}
		switch {
		case n.Kind == KindTypeRef:
			sb.WriteString(" " + n.Text)
		case n.Kind == KindIdent && n.Text != "":
			sb.WriteString(" " + n.Text)
		case namedKinds[n.Kind]:
			sb.WriteString(" " + n.Tok.Literal)
		}
		if n.Flags&FlagRange != 0 {
			sb.WriteString(" ..")
		}
		if n.Type != nil && n.Kind != KindTypeRef {
			fmt.Fprintf(&sb, " : %s", n.Type)
		}
		if n.Const != nil && n.Kind != KindLiteral {
			fmt.Fprintf(&sb, " = %s", n.Const)
		}
		sb.WriteByte('\n')
		for _, c := range n.Children {
			dump(c, depth+1)
		}
	}
	dump(t.Root, 0)
	return sb.String()
}

// DumpSymbols renders the scope tree with each scope's symbols in
// declaration order.
func DumpSymbols(s *Symbols) string {
	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	var dump func(id ScopeID)
	dump = func(id ScopeID) {
		sc := s.Scope(id)
		name := sc.Name
		if name == "" {
			name = "<global>"
		}
		fmt.Fprintf(tw, "scope %s (%s)\n", name, sc.Kind)
		for _, sid := range sc.Symbols {
			sym := s.Symbol(sid)
			addr := "-"
			if sym.Address != NoAddress {
				addr = fmt.Sprint(sym.Address)
			}
			extra := ""
			switch {
			case sym.Value != nil:
				extra = "= " + sym.Value.String()
			case sym.Kind == SymFunction:
				extra = fmt.Sprintf("params=%d frame=%d", sym.Params, sym.Frame)
			}
			if !sym.Used {
				extra = strings.TrimSpace(extra + " unused")
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				sym.Name, sym.Kind, sym.Type, sym.Storage, sym.Attrs, addr, extra)
		}
		for _, c := range sc.Children {
			dump(c)
		}
	}
	dump(s.Root())
	tw.Flush()
	return sb.String()
}

// DumpTypes lists every interned type, sorted by name.
func DumpTypes(m *TypeManager) string {
	names := make([]string, 0, len(m.types))
	for _, t := range m.types {
		names = append(names, t.String())
	}
	sort.Strings(names)
	return strings.Join(names, "\n") + "\n"
}
