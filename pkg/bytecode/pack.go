package bytecode

import (
	"encoding/binary"
	"fmt"
)

// Packed integers: a value in [-packBias, packBias] is written as the single
// byte value+packBias. Anything else is packWide followed by the 4-byte
// big-endian two's complement value.
const (
	packBias = 127
	packWide = 0xFF
)

// WideSize is the size of a packed integer written in the wide form.
const WideSize = 5

// AppendInt appends v in the shortest packed form.
func AppendInt(buf []byte, v int32) []byte {
	if v >= -packBias && v <= packBias {
		return append(buf, byte(v+packBias))
	}
	return AppendWide(buf, v)
}

// AppendWide appends v in the 5-byte form. Fixup sites always use it so the
// patched value never changes the instruction length.
func AppendWide(buf []byte, v int32) []byte {
	buf = append(buf, packWide)
	return binary.BigEndian.AppendUint32(buf, uint32(v))
}

// PutWide overwrites a wide packed integer at buf[off:off+WideSize].
func PutWide(buf []byte, off int, v int32) {
	buf[off] = packWide
	binary.BigEndian.PutUint32(buf[off+1:], uint32(v))
}

// ReadInt decodes a packed integer at buf[off:], returning the value and
// the number of bytes consumed.
func ReadInt(buf []byte, off int) (int32, int, error) {
	if off >= len(buf) {
		return 0, 0, fmt.Errorf("unexpected end of bytecode reading operand at offset %d", off)
	}
	b := buf[off]
	if b != packWide {
		return int32(b) - packBias, 1, nil
	}
	if off+WideSize > len(buf) {
		return 0, 0, fmt.Errorf("unexpected end of bytecode reading wide operand at offset %d", off)
	}
	return int32(binary.BigEndian.Uint32(buf[off+1:])), WideSize, nil
}

// PackedSize returns the encoded size of v in its shortest form.
func PackedSize(v int32) int {
	if v >= -packBias && v <= packBias {
		return 1
	}
	return WideSize
}
