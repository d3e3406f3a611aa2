package bytecode

import "testing"

func TestLookupRoundTrip(t *testing.T) {
	for i := 0; i < TableSize(); i++ {
		e, ok := EncodingFor(byte(i))
		if !ok {
			t.Fatalf("EncodingFor(%d) failed", i)
		}
		b, ok := Lookup(e.Op, e.Width, e.Mode)
		if !ok || int(b) != i {
			t.Errorf("Lookup(%s) = %d, %v; want %d", e.Name(), b, ok, i)
		}
		if len(e.Operands) > MaxOperands {
			t.Errorf("%s has %d operands, max %d", e.Name(), len(e.Operands), MaxOperands)
		}
	}
}

func TestLabelHasNoEncoding(t *testing.T) {
	if _, ok := Lookup(OpLabel, WidthNone, ModeNone); ok {
		t.Error("label pseudo instruction must not be encodable")
	}
}

func TestEncodingName(t *testing.T) {
	tests := []struct {
		enc  Encoding
		want string
	}{
		{Encoding{Op: OpLoad, Width: WidthInt, Mode: ModeLocal}, "load.i32.local"},
		{Encoding{Op: OpAdd, Width: WidthFloat}, "add.f32"},
		{Encoding{Op: OpDup}, "dup"},
	}
	for _, tt := range tests {
		if got := tt.enc.Name(); got != tt.want {
			t.Errorf("Name() = %q, want %q", got, tt.want)
		}
	}
}
