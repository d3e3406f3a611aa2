package compiler

import (
	"fmt"
	"strings"

	"github.com/chazu/tern/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// TypeKind classifies a Type.
type TypeKind uint8

const (
	TypeBool TypeKind = iota
	TypeByte
	TypeI32
	TypeF32
	TypeString
	TypeEnum
	TypeRecord
	TypeArray
	TypeTuple
	TypeFunc
)

// Field is one member of a record type.
type Field struct {
	Name   string
	Type   *Type
	Offset int // slot offset from the start of the record
}

// Type is an interned type descriptor. Two structurally identical types
// are always the same *Type, so types compare with ==.
type Type struct {
	Kind TypeKind
	Name string // enum and record name, qualified

	Elem *Type // array element
	Dims []int // array dimensions, outermost first

	Fields []Field // record members, set once the declaration is analysed

	Elems   []*Type // tuple members; function parameters
	Results []*Type // function results

	key      string
	complete bool
}

// IsPrimitive reports whether values of t fit in one slot.
func (t *Type) IsPrimitive() bool {
	switch t.Kind {
	case TypeBool, TypeByte, TypeI32, TypeF32, TypeEnum:
		return true
	}
	return false
}

// IsIntegral reports whether t is byte or i32.
func (t *Type) IsIntegral() bool {
	return t.Kind == TypeByte || t.Kind == TypeI32
}

// IsNumeric reports whether t is byte, i32 or f32.
func (t *Type) IsNumeric() bool {
	return t.IsIntegral() || t.Kind == TypeF32
}

// IsCompound reports whether t is a record or an array.
func (t *Type) IsCompound() bool {
	return t.Kind == TypeRecord || t.Kind == TypeArray
}

// IsVoid reports whether t is the empty tuple.
func (t *Type) IsVoid() bool {
	return t.Kind == TypeTuple && len(t.Elems) == 0
}

// Width returns the instruction width used to load and store t.
func (t *Type) Width() bytecode.Width {
	switch t.Kind {
	case TypeBool, TypeByte:
		return bytecode.WidthByte
	case TypeF32:
		return bytecode.WidthFloat
	case TypeI32, TypeEnum:
		return bytecode.WidthInt
	}
	return bytecode.WidthNone
}

// Slots returns the number of memory slots a value of t occupies. Arrays
// carry a (stride, count) header pair per dimension ahead of their data.
func (t *Type) Slots() int {
	switch t.Kind {
	case TypeBool, TypeByte, TypeI32, TypeF32, TypeEnum, TypeString:
		return 1
	case TypeRecord:
		n := 0
		for _, f := range t.Fields {
			n += f.Type.Slots()
		}
		return n
	case TypeArray:
		return t.Elem.Slots()*t.Cells() + t.HeaderSlots()
	case TypeTuple:
		n := 0
		for _, e := range t.Elems {
			n += e.Slots()
		}
		return n
	}
	return 0
}

// Cells returns the number of elements of an array type.
func (t *Type) Cells() int {
	n := 1
	for _, d := range t.Dims {
		n *= d
	}
	return n
}

// HeaderSlots returns the size of an array's header.
func (t *Type) HeaderSlots() int {
	return 2 * len(t.Dims)
}

// Strides returns the per-dimension element strides in slots.
func (t *Type) Strides() []int {
	s := make([]int, len(t.Dims))
	stride := t.Elem.Slots()
	for k := len(t.Dims) - 1; k >= 0; k-- {
		s[k] = stride
		stride *= t.Dims[k]
	}
	return s
}

// Field returns the named record member.
func (t *Type) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// HasArray reports whether a record contains an array at any depth. The
// array headers of such a record are not part of its flattened value.
func (t *Type) HasArray() bool {
	switch t.Kind {
	case TypeArray:
		return true
	case TypeRecord:
		for _, f := range t.Fields {
			if f.Type.HasArray() {
				return true
			}
		}
	}
	return false
}

// Flatten appends the primitive types making up t, expanding records and
// arrays cell by cell.
func (t *Type) Flatten(out []*Type) []*Type {
	switch t.Kind {
	case TypeRecord:
		for _, f := range t.Fields {
			out = f.Type.Flatten(out)
		}
	case TypeArray:
		for i := 0; i < t.Cells(); i++ {
			out = t.Elem.Flatten(out)
		}
	case TypeTuple:
		for _, e := range t.Elems {
			out = e.Flatten(out)
		}
	default:
		out = append(out, t)
	}
	return out
}

func (t *Type) String() string {
	if t == nil {
		return "<unknown>"
	}
	switch t.Kind {
	case TypeBool:
		return "bool"
	case TypeByte:
		return "byte"
	case TypeI32:
		return "i32"
	case TypeF32:
		return "f32"
	case TypeString:
		return "string"
	case TypeEnum, TypeRecord:
		return t.Name
	case TypeArray:
		var sb strings.Builder
		sb.WriteString(t.Elem.String())
		for _, d := range t.Dims {
			fmt.Fprintf(&sb, "[%d]", d)
		}
		return sb.String()
	case TypeTuple:
		return "(" + joinTypes(t.Elems) + ")"
	case TypeFunc:
		return "(" + joinTypes(t.Results) + ") fn(" + joinTypes(t.Elems) + ")"
	}
	return fmt.Sprintf("TypeKind(%d)", t.Kind)
}

func joinTypes(ts []*Type) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}

// ---------------------------------------------------------------------------
// TypeManager
// ---------------------------------------------------------------------------

// TypeManager interns types by a structural key.
type TypeManager struct {
	types map[string]*Type

	Bool   *Type
	Byte   *Type
	I32    *Type
	F32    *Type
	String *Type
	Void   *Type
}

// NewTypeManager returns a manager holding the built-in types.
func NewTypeManager() *TypeManager {
	m := &TypeManager{types: make(map[string]*Type)}
	m.Bool = m.intern(&Type{Kind: TypeBool, key: "bool", complete: true})
	m.Byte = m.intern(&Type{Kind: TypeByte, key: "byte", complete: true})
	m.I32 = m.intern(&Type{Kind: TypeI32, key: "i32", complete: true})
	m.F32 = m.intern(&Type{Kind: TypeF32, key: "f32", complete: true})
	m.String = m.intern(&Type{Kind: TypeString, key: "string", complete: true})
	m.Void = m.Tuple(nil)
	return m
}

func (m *TypeManager) intern(t *Type) *Type {
	if existing, ok := m.types[t.key]; ok {
		return existing
	}
	m.types[t.key] = t
	return t
}

// Len returns the number of distinct types.
func (m *TypeManager) Len() int { return len(m.types) }

// Primitive returns the built-in type for a type keyword.
func (m *TypeManager) Primitive(tt TokenType) (*Type, bool) {
	switch tt {
	case TokenBool:
		return m.Bool, true
	case TokenByte:
		return m.Byte, true
	case TokenI32:
		return m.I32, true
	case TokenF32:
		return m.F32, true
	case TokenStringType:
		return m.String, true
	}
	return nil, false
}

// Enum returns the enum type with the qualified name.
func (m *TypeManager) Enum(name string) *Type {
	return m.intern(&Type{Kind: TypeEnum, Name: name, key: "enum:" + name, complete: true})
}

// Record returns the record type with the qualified name. Its fields are
// filled in later with SetFields.
func (m *TypeManager) Record(name string) *Type {
	return m.intern(&Type{Kind: TypeRecord, Name: name, key: "rec:" + name})
}

// SetFields completes a record type, assigning slot offsets.
func (m *TypeManager) SetFields(rec *Type, fields []Field) {
	off := 0
	for i := range fields {
		fields[i].Offset = off
		off += fields[i].Type.Slots()
	}
	rec.Fields = fields
	rec.complete = true
}

// Complete reports whether a record's fields are known.
func (t *Type) Complete() bool { return t.complete }

// Array returns the array of elem with the given dimensions. An array of
// arrays is flattened into one multi-dimensional array.
func (m *TypeManager) Array(elem *Type, dims []int) *Type {
	if len(dims) == 0 {
		return elem
	}
	if elem.Kind == TypeArray {
		dims = append(append([]int(nil), dims...), elem.Dims...)
		elem = elem.Elem
	}
	var sb strings.Builder
	sb.WriteString("arr:")
	sb.WriteString(elem.key)
	for _, d := range dims {
		fmt.Fprintf(&sb, "[%d]", d)
	}
	return m.intern(&Type{Kind: TypeArray, Elem: elem, Dims: append([]int(nil), dims...), key: sb.String(), complete: true})
}

// Tuple returns the tuple of the given types.
func (m *TypeManager) Tuple(elems []*Type) *Type {
	return m.intern(&Type{Kind: TypeTuple, Elems: append([]*Type(nil), elems...), key: "tup(" + typeKeys(elems) + ")", complete: true})
}

// Func returns the function type with the given parameters and results.
func (m *TypeManager) Func(params, results []*Type) *Type {
	return m.intern(&Type{
		Kind:     TypeFunc,
		Elems:    append([]*Type(nil), params...),
		Results:  append([]*Type(nil), results...),
		key:      "fn(" + typeKeys(params) + ")->(" + typeKeys(results) + ")",
		complete: true,
	})
}

// Indexed returns the type of an array after applying k indices.
func (m *TypeManager) Indexed(arr *Type, k int) *Type {
	if k >= len(arr.Dims) {
		return arr.Elem
	}
	return m.Array(arr.Elem, arr.Dims[k:])
}

// Results returns the type of a call's value: void, a single type or a
// tuple.
func (m *TypeManager) Results(fn *Type) *Type {
	switch len(fn.Results) {
	case 0:
		return m.Void
	case 1:
		return fn.Results[0]
	}
	return m.Tuple(fn.Results)
}

func typeKeys(ts []*Type) string {
	keys := make([]string, len(ts))
	for i, t := range ts {
		keys[i] = t.key
	}
	return strings.Join(keys, ",")
}
