package bytecode

import (
	"fmt"
	"math"
	"strings"

	"github.com/chazu/tern/pkg/diag"
)

// Instruction is one entry of the compiler's intermediate code list.
//
// Integer operands live in Args. An operand that refers to a code position
// or an import (branches, calls, loop exits) is carried symbolically in
// Target and resolved by the Encoder. For OpLabel, Target names the label.
type Instruction struct {
	Op     Opcode
	Width  Width
	Mode   Mode
	Args   []int32
	Target string
	Pos    diag.Pos
}

// NewInstr builds an instruction with integer operands.
func NewInstr(op Opcode, width Width, mode Mode, args ...int32) Instruction {
	return Instruction{Op: op, Width: width, Mode: mode, Args: args}
}

// Label returns a label pseudo instruction.
func Label(name string) Instruction {
	return Instruction{Op: OpLabel, Target: name}
}

// Jump returns a branch of the given kind to a label.
func Jump(op Opcode, label string) Instruction {
	return Instruction{Op: op, Target: label}
}

// PushFloat returns a Push of a float constant, stored as its IEEE bits.
func PushFloat(f float32) Instruction {
	return NewInstr(OpPush, WidthFloat, ModeConst, int32(math.Float32bits(f)))
}

// IsLabel reports whether the instruction is a label.
func (in Instruction) IsLabel() bool { return in.Op == OpLabel }

// IsBranch reports whether control may transfer to Target.
func (in Instruction) IsBranch() bool {
	switch in.Op {
	case OpJump, OpJumpFalse, OpJumpTrue, OpForStart, OpForLoop:
		return true
	}
	return false
}

// Encoding returns the opcode table row for the instruction.
func (in Instruction) Encoding() (Encoding, bool) {
	b, ok := Lookup(in.Op, in.Width, in.Mode)
	if !ok {
		return Encoding{}, false
	}
	return encodingTable[b], true
}

func (in Instruction) String() string {
	if in.Op == OpLabel {
		return in.Target + ":"
	}
	var sb strings.Builder
	sb.WriteString("    ")
	e := Encoding{Op: in.Op, Width: in.Width, Mode: in.Mode}
	sb.WriteString(e.Name())
	args := in.Args
	if in.Op == OpPush && in.Width == WidthFloat && len(args) == 1 {
		fmt.Fprintf(&sb, " %g", math.Float32frombits(uint32(args[0])))
		args = nil
	}
	for _, a := range args {
		fmt.Fprintf(&sb, " %d", a)
	}
	if in.Target != "" {
		sb.WriteString(" ")
		sb.WriteString(in.Target)
	}
	return sb.String()
}

// FormatCode renders an instruction list, one instruction per line.
func FormatCode(code []Instruction) string {
	var sb strings.Builder
	for _, in := range code {
		sb.WriteString(in.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
