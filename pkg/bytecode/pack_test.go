package bytecode

import (
	"math"
	"testing"
)

func TestPackSymmetry(t *testing.T) {
	values := []int32{
		0, 1, -1, 126, 127, -126, -127, 128, -128, 255, 256, -255,
		1 << 20, -(1 << 20), math.MaxInt32, math.MinInt32,
	}
	for _, v := range values {
		buf := AppendInt(nil, v)
		got, n, err := ReadInt(buf, 0)
		if err != nil {
			t.Fatalf("ReadInt(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %d = %d", v, got)
		}
		if n != len(buf) {
			t.Errorf("value %d: consumed %d bytes, encoded %d", v, n, len(buf))
		}
		if n != PackedSize(v) {
			t.Errorf("PackedSize(%d) = %d, want %d", v, PackedSize(v), n)
		}
	}
}

func TestPackForms(t *testing.T) {
	tests := []struct {
		v    int32
		want []byte
	}{
		{0, []byte{127}},
		{-127, []byte{0}},
		{127, []byte{254}},
		{128, []byte{255, 0, 0, 0, 128}},
		{-128, []byte{255, 0xFF, 0xFF, 0xFF, 0x80}},
	}
	for _, tt := range tests {
		got := AppendInt(nil, tt.v)
		if string(got) != string(tt.want) {
			t.Errorf("AppendInt(%d) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestPackSweep(t *testing.T) {
	for v := int32(-70000); v <= 70000; v += 7 {
		got, _, err := ReadInt(AppendInt(nil, v), 0)
		if err != nil || got != v {
			t.Fatalf("round trip %d = %d, %v", v, got, err)
		}
	}
}

func TestWideAlwaysFiveBytes(t *testing.T) {
	buf := AppendWide(nil, 3)
	if len(buf) != WideSize {
		t.Fatalf("len = %d, want %d", len(buf), WideSize)
	}
	PutWide(buf, 0, -40000)
	got, _, err := ReadInt(buf, 0)
	if err != nil || got != -40000 {
		t.Errorf("patched value = %d, %v", got, err)
	}
}

func TestReadIntTruncated(t *testing.T) {
	if _, _, err := ReadInt([]byte{255, 0, 0}, 0); err == nil {
		t.Error("expected error for truncated wide operand")
	}
	if _, _, err := ReadInt(nil, 0); err == nil {
		t.Error("expected error for empty buffer")
	}
}
