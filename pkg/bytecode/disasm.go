package bytecode

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Disassemble returns a human-readable listing of an image.
func Disassemble(img *Image) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "; Tern image v%d.%d\n", MajorVersion, MinorVersion)
	fmt.Fprintf(&sb, "; Code: %d bytes\n", len(img.Code))
	if img.Globals > 0 {
		fmt.Fprintf(&sb, "; Globals: %d slots\n", img.Globals)
	}
	if img.HasInit {
		fmt.Fprintf(&sb, "; Init ends at %04d\n", img.InitEnd)
	}

	if len(img.Link.Imports) > 0 {
		sb.WriteString("; Imports:\n")
		for i, e := range img.Link.Imports {
			fmt.Fprintf(&sb, ";   [%d] %s ret=%d param=%d%s\n", i, e.Name, e.Ret, e.Param, formatAttrs(e.Attrs))
		}
	}

	// Names for code addresses.
	names := make(map[int][]string)
	if len(img.Link.Exports) > 0 {
		sb.WriteString("; Exports:\n")
		for i, e := range img.Link.Exports {
			if e.IsVar() {
				fmt.Fprintf(&sb, ";   [%d] %s var @%d slots=%d\n", i, e.Name, e.Address, e.VarSlots())
				continue
			}
			fmt.Fprintf(&sb, ";   [%d] %s @%04d ret=%d param=%d%s\n", i, e.Name, e.Address, e.Ret, e.Param, formatAttrs(e.Attrs))
			names[int(e.Address)] = append(names[int(e.Address)], e.Name)
		}
	}
	sb.WriteString("\n")

	for off := 0; off < len(img.Code); {
		if img.HasInit && off == img.InitEnd {
			sb.WriteString("; -- end of init --\n")
		}
		if ns, ok := names[off]; ok {
			sort.Strings(ns)
			for _, n := range ns {
				fmt.Fprintf(&sb, "%s:\n", n)
			}
		}
		d, err := DecodeAt(img.Code, off)
		if err != nil {
			fmt.Fprintf(&sb, "%04d  ; %v\n", off, err)
			break
		}
		sb.WriteString(FormatDecoded(d, img))
		if pos := img.Debug.PosAt(off); pos.IsValid() && (off == 0 || img.Debug.PosAt(off-1) != pos) {
			fmt.Fprintf(&sb, "  ; %s", pos)
		}
		sb.WriteString("\n")
		off += d.Size
	}
	return sb.String()
}

// FormatDecoded renders one decoded instruction without a trailing newline.
// img may be nil; when set, import indices are shown with their names.
func FormatDecoded(d Decoded, img *Image) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%04d  %-20s", d.Offset, d.Enc.Name())
	for i := 0; i < d.NArgs; i++ {
		v := d.Args[i]
		switch d.Enc.Operands[i] {
		case OperandRelative, OperandAbsolute:
			fmt.Fprintf(&sb, " ->%04d", v)
		case OperandImport:
			if img != nil && int(v) >= 0 && int(v) < len(img.Link.Imports) {
				fmt.Fprintf(&sb, " %s", img.Link.Imports[v].Name)
			} else {
				fmt.Fprintf(&sb, " import#%d", v)
			}
		default:
			if d.Enc.Op == OpPush && d.Enc.Width == WidthFloat {
				fmt.Fprintf(&sb, " %g", math.Float32frombits(uint32(v)))
			} else {
				fmt.Fprintf(&sb, " %d", v)
			}
		}
	}
	return strings.TrimRight(sb.String(), " ")
}

func formatAttrs(attrs []Attribute) string {
	if len(attrs) == 0 {
		return ""
	}
	parts := make([]string, len(attrs))
	for i, a := range attrs {
		if len(a.Params) == 0 {
			parts[i] = "@" + a.Name
			continue
		}
		quoted := make([]string, len(a.Params))
		for j, p := range a.Params {
			quoted[j] = fmt.Sprintf("%q", p)
		}
		parts[i] = fmt.Sprintf("@%s(%s)", a.Name, strings.Join(quoted, ", "))
	}
	return " " + strings.Join(parts, " ")
}
