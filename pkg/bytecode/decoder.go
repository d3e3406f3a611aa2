package bytecode

import "fmt"

// MaxOperands is the largest operand count of any table row.
const MaxOperands = 3

// Decoded is one instruction read back from a code stream. Relative branch
// operands are already converted to absolute code offsets.
type Decoded struct {
	Offset int
	Size   int
	Enc    Encoding
	NArgs  int
	Args   [MaxOperands]int32
}

// Arg returns operand i.
func (d *Decoded) Arg(i int) int32 { return d.Args[i] }

// DecodeAt decodes the instruction starting at code[off].
func DecodeAt(code []byte, off int) (Decoded, error) {
	d := Decoded{Offset: off}
	if off < 0 || off >= len(code) {
		return d, fmt.Errorf("unexpected end of bytecode at offset %d", off)
	}
	enc, ok := EncodingFor(code[off])
	if !ok {
		return d, fmt.Errorf("unknown opcode byte 0x%02X at offset %d", code[off], off)
	}
	d.Enc = enc
	pos := off + 1
	for i, kind := range enc.Operands {
		v, n, err := ReadInt(code, pos)
		if err != nil {
			return d, err
		}
		if kind == OperandRelative {
			v += int32(pos)
		}
		d.Args[i] = v
		pos += n
	}
	d.NArgs = len(enc.Operands)
	d.Size = pos - off
	return d, nil
}

// DecodeAll decodes a whole code stream.
func DecodeAll(code []byte) ([]Decoded, error) {
	var out []Decoded
	for off := 0; off < len(code); {
		d, err := DecodeAt(code, off)
		if err != nil {
			return out, err
		}
		out = append(out, d)
		off += d.Size
	}
	return out, nil
}
