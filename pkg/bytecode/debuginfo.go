package bytecode

import (
	"fmt"
	"sort"

	"github.com/chazu/tern/pkg/diag"
	"github.com/fxamacker/cbor/v2"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// LineEntry maps the code offset where an instruction starts to its source
// position. Entries are sorted by Offset.
type LineEntry struct {
	Offset uint32 `cbor:"1,keyasint"`
	File   uint32 `cbor:"2,keyasint"`
	Line   uint32 `cbor:"3,keyasint"`
	Column uint32 `cbor:"4,keyasint"`
}

// DebugSymbol records where a named entity lives.
type DebugSymbol struct {
	Name    string `cbor:"1,keyasint"`
	Kind    string `cbor:"2,keyasint"`
	Type    string `cbor:"3,keyasint,omitempty"`
	Address int32  `cbor:"4,keyasint"`
	Slots   int32  `cbor:"5,keyasint"`
}

// DebugInfo is the content of the optional dbug chunk.
type DebugInfo struct {
	Files   []string      `cbor:"1,keyasint"`
	Lines   []LineEntry   `cbor:"2,keyasint,omitempty"`
	Symbols []DebugSymbol `cbor:"3,keyasint,omitempty"`
}

// MarshalDebugInfo serializes debug info to canonical CBOR.
func MarshalDebugInfo(d *DebugInfo) ([]byte, error) {
	return cborEncMode.Marshal(d)
}

// UnmarshalDebugInfo decodes a dbug chunk.
func UnmarshalDebugInfo(data []byte) (*DebugInfo, error) {
	var d DebugInfo
	if err := cbor.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal debug info: %w", err)
	}
	return &d, nil
}

// FileIndex returns the index of file in Files, appending it if needed.
func (d *DebugInfo) FileIndex(file string) uint32 {
	for i, f := range d.Files {
		if f == file {
			return uint32(i)
		}
	}
	d.Files = append(d.Files, file)
	return uint32(len(d.Files) - 1)
}

// PosAt returns the source position of the instruction covering offset.
func (d *DebugInfo) PosAt(offset int) diag.Pos {
	if d == nil || len(d.Lines) == 0 {
		return diag.Pos{}
	}
	i := sort.Search(len(d.Lines), func(i int) bool {
		return int(d.Lines[i].Offset) > offset
	})
	if i == 0 {
		return diag.Pos{}
	}
	le := d.Lines[i-1]
	pos := diag.Pos{Line: int(le.Line), Column: int(le.Column)}
	if int(le.File) < len(d.Files) {
		pos.File = d.Files[le.File]
	}
	return pos
}

// Symbol returns the debug symbol with the given name.
func (d *DebugInfo) Symbol(name string) (DebugSymbol, bool) {
	if d == nil {
		return DebugSymbol{}, false
	}
	for _, s := range d.Symbols {
		if s.Name == name {
			return s, true
		}
	}
	return DebugSymbol{}, false
}
