package bytecode

import (
	"strings"
)

// ImportPrefix marks a call target that names an import rather than a code
// label.
const ImportPrefix = "import:"

// Program is everything the encoder needs to produce an image.
type Program struct {
	Code    []Instruction
	Imports []LinkEntry
	// Exports with a Label get their Address from the resolved label.
	Exports []LinkEntry
	// InitEnd names the label where global initialisation stops. Empty
	// means the image has no init chunk.
	InitEnd string
	Globals int
	// Debug, when set, receives the line table. Files and Symbols are
	// kept as supplied.
	Debug *DebugInfo
}

type fixup struct {
	site   int
	kind   OperandKind
	target string
	instr  int
}

// Encoder turns instruction lists into an encoded code stream. It is a
// two-pass encoder: symbolic operands are written as zero-valued wide
// integers and patched once every label is known.
type Encoder struct {
	buf     []byte
	labels  map[string]int
	fixups  []fixup
	imports map[string]int
	debug   *DebugInfo
	last    LineEntry
}

// NewEncoder creates an encoder resolving "import:" references against the
// given import entries.
func NewEncoder(imports []LinkEntry, debug *DebugInfo) *Encoder {
	e := &Encoder{
		labels:  make(map[string]int),
		imports: make(map[string]int, len(imports)),
		debug:   debug,
	}
	for i, imp := range imports {
		e.imports[imp.Name] = i
	}
	return e
}

// Emit encodes one instruction.
func (e *Encoder) Emit(index int, in Instruction) {
	if in.Op == OpLabel {
		if _, dup := e.labels[in.Target]; dup {
			internalf("duplicate label %q", in.Target)
		}
		e.labels[in.Target] = len(e.buf)
		return
	}
	b, ok := Lookup(in.Op, in.Width, in.Mode)
	if !ok {
		internalf("no encoding for %s (instruction %d)", Encoding{Op: in.Op, Width: in.Width, Mode: in.Mode}.Name(), index)
	}
	e.line(in)
	e.buf = append(e.buf, b)

	enc := encodingTable[b]
	arg := 0
	symbolic := false
	for _, kind := range enc.Operands {
		if kind == OperandInt {
			if arg >= len(in.Args) {
				internalf("%s: missing operand %d (instruction %d)", enc.Name(), arg, index)
			}
			e.buf = AppendInt(e.buf, in.Args[arg])
			arg++
			continue
		}
		if symbolic {
			internalf("%s: more than one symbolic operand", enc.Name())
		}
		symbolic = true
		if in.Target == "" {
			internalf("%s: missing target (instruction %d)", enc.Name(), index)
		}
		e.fixups = append(e.fixups, fixup{site: len(e.buf), kind: kind, target: in.Target, instr: index})
		e.buf = AppendWide(e.buf, 0)
	}
	if arg != len(in.Args) {
		internalf("%s: %d operands supplied, %d encoded (instruction %d)", enc.Name(), len(in.Args), arg, index)
	}
}

func (e *Encoder) line(in Instruction) {
	if e.debug == nil || !in.Pos.IsValid() {
		return
	}
	le := LineEntry{
		Offset: uint32(len(e.buf)),
		File:   e.debug.FileIndex(in.Pos.File),
		Line:   uint32(in.Pos.Line),
		Column: uint32(in.Pos.Column),
	}
	if len(e.debug.Lines) > 0 && le.File == e.last.File && le.Line == e.last.Line && le.Column == e.last.Column {
		return
	}
	e.debug.Lines = append(e.debug.Lines, le)
	e.last = le
}

// LabelOffset returns the resolved code offset of a label.
func (e *Encoder) LabelOffset(name string) (int, bool) {
	off, ok := e.labels[name]
	return off, ok
}

// Finish patches every fixup and returns the code stream.
func (e *Encoder) Finish() []byte {
	for _, f := range e.fixups {
		var v int
		switch f.kind {
		case OperandRelative:
			target, ok := e.labels[f.target]
			if !ok {
				internalf("unresolved label %q (instruction %d)", f.target, f.instr)
			}
			v = target - f.site
		case OperandAbsolute:
			target, ok := e.labels[f.target]
			if !ok {
				internalf("unresolved label %q (instruction %d)", f.target, f.instr)
			}
			v = target
		case OperandImport:
			if !strings.HasPrefix(f.target, ImportPrefix) {
				internalf("import reference %q lacks %q prefix", f.target, ImportPrefix)
			}
			idx, ok := e.imports[strings.TrimPrefix(f.target, ImportPrefix)]
			if !ok {
				internalf("unknown import %q (instruction %d)", f.target, f.instr)
			}
			v = idx
		default:
			internalf("operand kind %d cannot be patched", f.kind)
		}
		PutWide(e.buf, f.site, int32(v))
	}
	return e.buf
}

// Assemble encodes a program into an image.
func Assemble(p *Program) *Image {
	enc := NewEncoder(p.Imports, p.Debug)
	for i, in := range p.Code {
		enc.Emit(i, in)
	}
	code := enc.Finish()

	img := &Image{
		Code:    code,
		Globals: p.Globals,
		Debug:   p.Debug,
		Link:    &LinkTable{Imports: append([]LinkEntry(nil), p.Imports...)},
	}
	for i := range img.Link.Imports {
		img.Link.Imports[i].ID = uint32(i)
	}
	for i, exp := range p.Exports {
		exp.ID = uint32(i)
		if exp.Label != "" {
			off, ok := enc.LabelOffset(exp.Label)
			if !ok {
				internalf("export %q refers to unknown label %q", exp.Name, exp.Label)
			}
			exp.Address = uint32(off)
		}
		img.Link.Exports = append(img.Link.Exports, exp)
	}
	if p.InitEnd != "" {
		off, ok := enc.LabelOffset(p.InitEnd)
		if !ok {
			internalf("unresolved init label %q", p.InitEnd)
		}
		img.HasInit = true
		img.InitEnd = off
	}
	return img
}
