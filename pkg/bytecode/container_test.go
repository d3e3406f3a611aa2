package bytecode

import (
	"encoding/binary"
	"errors"
	"testing"
)

func sampleImage() *Image {
	return &Image{
		Code:    []byte{0, 1, 2},
		HasInit: true,
		InitEnd: 1,
		Globals: 4,
		Link: &LinkTable{
			Imports: []LinkEntry{{ID: 0, Ret: 1, Param: 2, Name: "Square"}},
			Exports: []LinkEntry{
				{ID: 0, Address: 1, Ret: 1, Param: 2, Name: "Add", Attrs: []Attribute{
					{Name: "Add"},
					{Name: "entry", Params: []string{"main", "fast"}},
				}},
				{ID: 1, Address: 0, Name: "total", Attrs: []Attribute{{Name: VarAttr, Params: []string{"1"}}}},
			},
		},
		Debug: &DebugInfo{
			Files: []string{"main.tn"},
			Lines: []LineEntry{{Offset: 0, Line: 1, Column: 1}, {Offset: 2, Line: 3, Column: 5}},
		},
	}
}

func TestImageRoundTrip(t *testing.T) {
	data, err := sampleImage().Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	img, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(img.Code) != string([]byte{0, 1, 2}) {
		t.Errorf("Code = %v", img.Code)
	}
	if !img.HasInit || img.InitEnd != 1 {
		t.Errorf("init = %v/%d, want true/1", img.HasInit, img.InitEnd)
	}
	if img.Globals != 4 {
		t.Errorf("Globals = %d, want 4", img.Globals)
	}
	exp, ok := img.Link.FindExport("entry")
	if !ok {
		t.Fatal("export with attribute entry not found")
	}
	if exp.Name != "Add" || exp.Param != 2 || exp.Ret != 1 {
		t.Errorf("export = %+v", exp)
	}
	a, _ := exp.Attr("entry")
	if len(a.Params) != 2 || a.Params[1] != "fast" {
		t.Errorf("entry params = %v", a.Params)
	}
	if idx, ok := img.Link.ImportIndex("Square"); !ok || idx != 0 {
		t.Errorf("ImportIndex = %d, %v", idx, ok)
	}
	if v := img.Link.Exports[1]; !v.IsVar() || v.VarSlots() != 1 {
		t.Errorf("var export = %+v", v)
	}
	if pos := img.Debug.PosAt(2); pos.Line != 3 || pos.File != "main.tn" {
		t.Errorf("PosAt(2) = %v", pos)
	}
}

func TestChunkPaddingAndLayout(t *testing.T) {
	data := WriteContainer([]Chunk{{Tag: TagCode, Data: []byte{9}}})
	// FORM len TERN 1 0 code len 9 pad
	if len(data) != 8+6+8+2 {
		t.Fatalf("len = %d, want 24", len(data))
	}
	if string(data[:4]) != "FORM" || string(data[8:12]) != "TERN" {
		t.Errorf("bad header %q", data[:12])
	}
	if binary.BigEndian.Uint32(data[4:8]) != uint32(len(data)-8) {
		t.Errorf("FORM length = %d", binary.BigEndian.Uint32(data[4:8]))
	}
	if binary.BigEndian.Uint32(data[18:22]) != 1 {
		t.Errorf("chunk length = %d, want 1 (unpadded)", binary.BigEndian.Uint32(data[18:22]))
	}
}

func TestUnknownChunkSkipped(t *testing.T) {
	link := (&LinkTable{}).Marshal()
	data := WriteContainer([]Chunk{
		{Tag: "xtra", Data: []byte{1, 2, 3}},
		{Tag: TagCode, Data: []byte{0}},
		{Tag: TagLink, Data: link},
	})
	img, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(img.Code) != 1 {
		t.Errorf("code = %v", img.Code)
	}
}

func TestDecodeErrors(t *testing.T) {
	good := WriteContainer([]Chunk{{Tag: TagCode, Data: []byte{0}}, {Tag: TagLink, Data: (&LinkTable{}).Marshal()}})

	badMagic := append([]byte(nil), good...)
	copy(badMagic[8:12], "NOPE")

	badVersion := append([]byte(nil), good...)
	badVersion[12] = 9

	noLink := WriteContainer([]Chunk{{Tag: TagCode, Data: []byte{0}}})

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short", []byte("FORM"), ErrUnexpectedEOF},
		{"magic", badMagic, ErrInvalidMagic},
		{"version", badVersion, ErrVersionMismatch},
		{"missing link", noLink, ErrMissingChunk},
		{"truncated", good[:len(good)-3], ErrUnexpectedEOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLinkTruncated(t *testing.T) {
	data := (&LinkTable{Exports: []LinkEntry{{Name: "f", Attrs: []Attribute{{Name: "a"}}}}}).Marshal()
	if _, err := UnmarshalLink(data[:len(data)-2]); !errors.Is(err, ErrCorruptChunk) {
		t.Errorf("err = %v, want ErrCorruptChunk", err)
	}
}
