package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Attribute is a named tag with string parameters attached to a link entry.
type Attribute struct {
	Name   string
	Params []string
}

// LinkEntry describes one imported or exported function or variable.
type LinkEntry struct {
	ID      uint32
	Address uint32
	Ret     uint32
	Param   uint32
	Name    string
	Attrs   []Attribute

	// Label is the code label the encoder resolves into Address. It is not
	// serialized.
	Label string
}

// HasAttr reports whether the entry carries an attribute with the name.
func (e *LinkEntry) HasAttr(name string) bool {
	_, ok := e.Attr(name)
	return ok
}

// Attr returns the first attribute with the given name.
func (e *LinkEntry) Attr(name string) (Attribute, bool) {
	for _, a := range e.Attrs {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// VarAttr is the attribute marking an exported global variable. Its single
// parameter is the slot count; the entry address is the global address.
const VarAttr = "var"

// IsVar reports whether the entry is an exported variable.
func (e *LinkEntry) IsVar() bool {
	return e.HasAttr(VarAttr)
}

// VarSlots returns the slot count of an exported variable.
func (e *LinkEntry) VarSlots() int {
	a, ok := e.Attr(VarAttr)
	if !ok || len(a.Params) == 0 {
		return 1
	}
	n, err := strconv.Atoi(a.Params[0])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// LinkTable holds the ordered import and export entries of an image.
type LinkTable struct {
	Imports []LinkEntry
	Exports []LinkEntry
}

// ImportIndex returns the index of the named import.
func (t *LinkTable) ImportIndex(name string) (int, bool) {
	for i := range t.Imports {
		if t.Imports[i].Name == name {
			return i, true
		}
	}
	return -1, false
}

// FindExport returns the first export carrying an attribute with the given
// name.
func (t *LinkTable) FindExport(attr string) (*LinkEntry, bool) {
	for i := range t.Exports {
		if t.Exports[i].HasAttr(attr) {
			return &t.Exports[i], true
		}
	}
	return nil, false
}

// Marshal encodes the table in the link chunk layout.
func (t *LinkTable) Marshal() []byte {
	var buf []byte
	buf = appendEntries(buf, t.Imports)
	buf = appendEntries(buf, t.Exports)
	return buf
}

func appendEntries(buf []byte, entries []LinkEntry) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(entries)))
	for _, e := range entries {
		buf = binary.BigEndian.AppendUint32(buf, e.ID)
		buf = binary.BigEndian.AppendUint32(buf, e.Address)
		buf = binary.BigEndian.AppendUint32(buf, e.Ret)
		buf = binary.BigEndian.AppendUint32(buf, e.Param)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(e.Attrs)))
		buf = appendCString(buf, e.Name)
		for _, a := range e.Attrs {
			buf = appendCString(buf, a.Name)
			buf = binary.BigEndian.AppendUint32(buf, uint32(len(a.Params)))
			for _, p := range a.Params {
				buf = appendCString(buf, p)
			}
		}
	}
	return buf
}

func appendCString(buf []byte, s string) []byte {
	if strings.IndexByte(s, 0) >= 0 {
		internalf("string %q contains NUL", s)
	}
	buf = append(buf, s...)
	return append(buf, 0)
}

// linkReader walks a link chunk.
type linkReader struct {
	data []byte
	off  int
}

func (r *linkReader) u32() (uint32, error) {
	if r.off+4 > len(r.data) {
		return 0, fmt.Errorf("%w: link table truncated at offset %d", ErrCorruptChunk, r.off)
	}
	v := binary.BigEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}

func (r *linkReader) cstring() (string, error) {
	i := bytes.IndexByte(r.data[r.off:], 0)
	if i < 0 {
		return "", fmt.Errorf("%w: unterminated string in link table at offset %d", ErrCorruptChunk, r.off)
	}
	s := string(r.data[r.off : r.off+i])
	r.off += i + 1
	return s, nil
}

// count reads an element count, rejecting values that could not possibly
// fit in the remaining bytes.
func (r *linkReader) count() (int, error) {
	n, err := r.u32()
	if err != nil {
		return 0, err
	}
	if int64(n) > int64(len(r.data)-r.off) {
		return 0, fmt.Errorf("%w: link count %d exceeds remaining %d bytes", ErrCorruptChunk, n, len(r.data)-r.off)
	}
	return int(n), nil
}

func (r *linkReader) entries() ([]LinkEntry, error) {
	n, err := r.count()
	if err != nil {
		return nil, err
	}
	out := make([]LinkEntry, 0, n)
	for i := 0; i < n; i++ {
		var e LinkEntry
		var fields [5]uint32
		for j := range fields {
			if fields[j], err = r.u32(); err != nil {
				return nil, err
			}
		}
		e.ID, e.Address, e.Ret, e.Param = fields[0], fields[1], fields[2], fields[3]
		if e.Name, err = r.cstring(); err != nil {
			return nil, err
		}
		if int64(fields[4]) > int64(len(r.data)-r.off) {
			return nil, fmt.Errorf("%w: attribute count %d too large", ErrCorruptChunk, fields[4])
		}
		for a := uint32(0); a < fields[4]; a++ {
			var attr Attribute
			if attr.Name, err = r.cstring(); err != nil {
				return nil, err
			}
			np, err := r.count()
			if err != nil {
				return nil, err
			}
			for p := 0; p < np; p++ {
				s, err := r.cstring()
				if err != nil {
					return nil, err
				}
				attr.Params = append(attr.Params, s)
			}
			e.Attrs = append(e.Attrs, attr)
		}
		out = append(out, e)
	}
	return out, nil
}

// UnmarshalLink decodes a link chunk.
func UnmarshalLink(data []byte) (*LinkTable, error) {
	r := &linkReader{data: data}
	imports, err := r.entries()
	if err != nil {
		return nil, err
	}
	exports, err := r.entries()
	if err != nil {
		return nil, err
	}
	return &LinkTable{Imports: imports, Exports: exports}, nil
}
