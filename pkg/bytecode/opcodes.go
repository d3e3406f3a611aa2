package bytecode

import "fmt"

// Opcode identifies an instruction independently of its operand width and
// addressing mode.
type Opcode byte

const (
	// Stack manipulation
	OpNop  Opcode = iota
	OpPush        // push literal: Push <value>
	OpPop         // discard values: Pop <count>
	OpDup         // duplicate top of stack
	OpSwap        // swap top two values

	// Memory
	OpLoad       // push slot: Load <offset> (global or local)
	OpStore      // pop into slot: Store <offset>
	OpAddr       // push absolute address of slot: Addr <offset>
	OpLoadInd    // pop address, push mem[address]
	OpStoreInd   // pop address, pop value, mem[address] = value
	OpLoadBlock  // pop address, push <n> consecutive slots
	OpStoreBlock // pop address, pop <n> values into consecutive slots
	OpCopyBlock  // pop source, pop destination, copy <n> slots

	// Arithmetic
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg

	// Bitwise
	OpAnd
	OpOr
	OpXor
	OpNot
	OpShl
	OpShr
	OpRol
	OpRor

	// Logical
	OpLNot

	// Comparison (push 1 or 0)
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe

	// Conversion
	OpI2F    // i32 -> f32
	OpF2I    // f32 -> i32, truncating toward zero
	OpI2B    // i32 -> byte (mask)
	OpToBool // integral -> 0/1

	// Control flow
	OpJump       // Jump <label>
	OpJumpFalse  // pop condition, branch when zero
	OpJumpTrue   // pop condition, branch when non-zero
	OpCall       // Call <function>
	OpCallImport // CallImport <import index>
	OpRet        // Ret <result slots> <param slots> <local slots>
	OpReserve    // push <n> zero slots

	// Arrays and loops
	OpArray    // Array <dims> <indices>: pop indices and base, push element address
	OpForStart // ForStart <slot> <exit>: pop step, end, start; initialise loop slots
	OpForLoop  // ForLoop <slot> <body>: advance index, branch back while in range

	// OpLabel is a pseudo instruction marking a code position. It is never
	// encoded.
	OpLabel
)

var opcodeNames = [...]string{
	OpNop:        "nop",
	OpPush:       "push",
	OpPop:        "pop",
	OpDup:        "dup",
	OpSwap:       "swap",
	OpLoad:       "load",
	OpStore:      "store",
	OpAddr:       "addr",
	OpLoadInd:    "loadind",
	OpStoreInd:   "storeind",
	OpLoadBlock:  "loadblock",
	OpStoreBlock: "storeblock",
	OpCopyBlock:  "copyblock",
	OpAdd:        "add",
	OpSub:        "sub",
	OpMul:        "mul",
	OpDiv:        "div",
	OpMod:        "mod",
	OpNeg:        "neg",
	OpAnd:        "and",
	OpOr:         "or",
	OpXor:        "xor",
	OpNot:        "not",
	OpShl:        "shl",
	OpShr:        "shr",
	OpRol:        "rol",
	OpRor:        "ror",
	OpLNot:       "lnot",
	OpEq:         "eq",
	OpNe:         "ne",
	OpLt:         "lt",
	OpLe:         "le",
	OpGt:         "gt",
	OpGe:         "ge",
	OpI2F:        "i2f",
	OpF2I:        "f2i",
	OpI2B:        "i2b",
	OpToBool:     "tobool",
	OpJump:       "jump",
	OpJumpFalse:  "jumpfalse",
	OpJumpTrue:   "jumptrue",
	OpCall:       "call",
	OpCallImport: "callimport",
	OpRet:        "ret",
	OpReserve:    "reserve",
	OpArray:      "array",
	OpForStart:   "forstart",
	OpForLoop:    "forloop",
	OpLabel:      "label",
}

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) && opcodeNames[op] != "" {
		return opcodeNames[op]
	}
	return fmt.Sprintf("Opcode(%d)", byte(op))
}

// Width is the operand width of an instruction.
type Width uint8

const (
	WidthNone Width = iota
	WidthByte
	WidthInt
	WidthFloat
)

func (w Width) String() string {
	switch w {
	case WidthNone:
		return ""
	case WidthByte:
		return "u8"
	case WidthInt:
		return "i32"
	case WidthFloat:
		return "f32"
	default:
		return fmt.Sprintf("Width(%d)", w)
	}
}

// Mode is the addressing mode of an instruction's first operand.
type Mode uint8

const (
	ModeNone Mode = iota
	ModeConst
	ModeGlobal
	ModeLocal
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return ""
	case ModeConst:
		return "const"
	case ModeGlobal:
		return "global"
	case ModeLocal:
		return "local"
	default:
		return fmt.Sprintf("Mode(%d)", m)
	}
}

// OperandKind describes how an operand is encoded.
type OperandKind uint8

const (
	// OperandInt is a packed integer literal.
	OperandInt OperandKind = iota
	// OperandRelative is a label resolved to an offset relative to the
	// fixup site.
	OperandRelative
	// OperandAbsolute is a label resolved to a code offset.
	OperandAbsolute
	// OperandImport is an "import:" reference resolved to an import index.
	OperandImport
)

// Encoding is one row of the opcode table.
type Encoding struct {
	Op       Opcode
	Width    Width
	Mode     Mode
	Operands []OperandKind
}

// Name returns the mnemonic, e.g. "load.i32.local".
func (e Encoding) Name() string {
	name := e.Op.String()
	if e.Width != WidthNone {
		name += "." + e.Width.String()
	}
	if e.Mode != ModeNone {
		name += "." + e.Mode.String()
	}
	return name
}

var (
	noOperands = []OperandKind{}
	oneInt     = []OperandKind{OperandInt}
	twoInts    = []OperandKind{OperandInt, OperandInt}
	threeInts  = []OperandKind{OperandInt, OperandInt, OperandInt}
	branch     = []OperandKind{OperandRelative}
	loopSlot   = []OperandKind{OperandInt, OperandRelative}
)

// encodingTable is the fixed ordered opcode table. The row index is the
// encoded byte. Rows may only be appended.
var encodingTable = []Encoding{
	{OpNop, WidthNone, ModeNone, noOperands},

	{OpPush, WidthByte, ModeConst, oneInt},
	{OpPush, WidthInt, ModeConst, oneInt},
	{OpPush, WidthFloat, ModeConst, oneInt},
	{OpPop, WidthNone, ModeNone, oneInt},
	{OpDup, WidthNone, ModeNone, noOperands},
	{OpSwap, WidthNone, ModeNone, noOperands},

	{OpLoad, WidthByte, ModeGlobal, oneInt},
	{OpLoad, WidthInt, ModeGlobal, oneInt},
	{OpLoad, WidthFloat, ModeGlobal, oneInt},
	{OpLoad, WidthByte, ModeLocal, oneInt},
	{OpLoad, WidthInt, ModeLocal, oneInt},
	{OpLoad, WidthFloat, ModeLocal, oneInt},
	{OpStore, WidthByte, ModeGlobal, oneInt},
	{OpStore, WidthInt, ModeGlobal, oneInt},
	{OpStore, WidthFloat, ModeGlobal, oneInt},
	{OpStore, WidthByte, ModeLocal, oneInt},
	{OpStore, WidthInt, ModeLocal, oneInt},
	{OpStore, WidthFloat, ModeLocal, oneInt},
	{OpAddr, WidthNone, ModeGlobal, oneInt},
	{OpAddr, WidthNone, ModeLocal, oneInt},
	{OpLoadInd, WidthByte, ModeNone, noOperands},
	{OpLoadInd, WidthInt, ModeNone, noOperands},
	{OpLoadInd, WidthFloat, ModeNone, noOperands},
	{OpStoreInd, WidthByte, ModeNone, noOperands},
	{OpStoreInd, WidthInt, ModeNone, noOperands},
	{OpStoreInd, WidthFloat, ModeNone, noOperands},
	{OpLoadBlock, WidthNone, ModeNone, oneInt},
	{OpStoreBlock, WidthNone, ModeNone, oneInt},
	{OpCopyBlock, WidthNone, ModeNone, oneInt},

	{OpAdd, WidthByte, ModeNone, noOperands},
	{OpAdd, WidthInt, ModeNone, noOperands},
	{OpAdd, WidthFloat, ModeNone, noOperands},
	{OpSub, WidthByte, ModeNone, noOperands},
	{OpSub, WidthInt, ModeNone, noOperands},
	{OpSub, WidthFloat, ModeNone, noOperands},
	{OpMul, WidthByte, ModeNone, noOperands},
	{OpMul, WidthInt, ModeNone, noOperands},
	{OpMul, WidthFloat, ModeNone, noOperands},
	{OpDiv, WidthByte, ModeNone, noOperands},
	{OpDiv, WidthInt, ModeNone, noOperands},
	{OpDiv, WidthFloat, ModeNone, noOperands},
	{OpMod, WidthByte, ModeNone, noOperands},
	{OpMod, WidthInt, ModeNone, noOperands},
	{OpNeg, WidthInt, ModeNone, noOperands},
	{OpNeg, WidthFloat, ModeNone, noOperands},

	{OpAnd, WidthByte, ModeNone, noOperands},
	{OpAnd, WidthInt, ModeNone, noOperands},
	{OpOr, WidthByte, ModeNone, noOperands},
	{OpOr, WidthInt, ModeNone, noOperands},
	{OpXor, WidthByte, ModeNone, noOperands},
	{OpXor, WidthInt, ModeNone, noOperands},
	{OpNot, WidthByte, ModeNone, noOperands},
	{OpNot, WidthInt, ModeNone, noOperands},
	{OpShl, WidthByte, ModeNone, noOperands},
	{OpShl, WidthInt, ModeNone, noOperands},
	{OpShr, WidthByte, ModeNone, noOperands},
	{OpShr, WidthInt, ModeNone, noOperands},
	{OpRol, WidthByte, ModeNone, noOperands},
	{OpRol, WidthInt, ModeNone, noOperands},
	{OpRor, WidthByte, ModeNone, noOperands},
	{OpRor, WidthInt, ModeNone, noOperands},
	{OpLNot, WidthNone, ModeNone, noOperands},

	{OpEq, WidthByte, ModeNone, noOperands},
	{OpEq, WidthInt, ModeNone, noOperands},
	{OpEq, WidthFloat, ModeNone, noOperands},
	{OpNe, WidthByte, ModeNone, noOperands},
	{OpNe, WidthInt, ModeNone, noOperands},
	{OpNe, WidthFloat, ModeNone, noOperands},
	{OpLt, WidthByte, ModeNone, noOperands},
	{OpLt, WidthInt, ModeNone, noOperands},
	{OpLt, WidthFloat, ModeNone, noOperands},
	{OpLe, WidthByte, ModeNone, noOperands},
	{OpLe, WidthInt, ModeNone, noOperands},
	{OpLe, WidthFloat, ModeNone, noOperands},
	{OpGt, WidthByte, ModeNone, noOperands},
	{OpGt, WidthInt, ModeNone, noOperands},
	{OpGt, WidthFloat, ModeNone, noOperands},
	{OpGe, WidthByte, ModeNone, noOperands},
	{OpGe, WidthInt, ModeNone, noOperands},
	{OpGe, WidthFloat, ModeNone, noOperands},

	{OpI2F, WidthNone, ModeNone, noOperands},
	{OpF2I, WidthNone, ModeNone, noOperands},
	{OpI2B, WidthNone, ModeNone, noOperands},
	{OpToBool, WidthNone, ModeNone, noOperands},

	{OpJump, WidthNone, ModeNone, branch},
	{OpJumpFalse, WidthNone, ModeNone, branch},
	{OpJumpTrue, WidthNone, ModeNone, branch},
	{OpCall, WidthNone, ModeNone, []OperandKind{OperandAbsolute}},
	{OpCallImport, WidthNone, ModeNone, []OperandKind{OperandImport}},
	{OpRet, WidthNone, ModeNone, threeInts},
	{OpReserve, WidthNone, ModeNone, oneInt},

	{OpArray, WidthNone, ModeNone, twoInts},
	{OpForStart, WidthNone, ModeLocal, loopSlot},
	{OpForLoop, WidthNone, ModeLocal, loopSlot},
}

type encodingKey struct {
	op    Opcode
	width Width
	mode  Mode
}

var encodingIndex = func() map[encodingKey]byte {
	if len(encodingTable) > 255 {
		panic("bytecode: opcode table does not fit in one byte")
	}
	m := make(map[encodingKey]byte, len(encodingTable))
	for i, e := range encodingTable {
		k := encodingKey{e.Op, e.Width, e.Mode}
		if _, dup := m[k]; dup {
			panic(fmt.Sprintf("bytecode: duplicate opcode table row %s", e.Name()))
		}
		m[k] = byte(i)
	}
	return m
}()

// Lookup returns the encoded byte for an (opcode, width, mode) triple.
func Lookup(op Opcode, width Width, mode Mode) (byte, bool) {
	b, ok := encodingIndex[encodingKey{op, width, mode}]
	return b, ok
}

// EncodingFor returns the table row for an encoded byte.
func EncodingFor(b byte) (Encoding, bool) {
	if int(b) >= len(encodingTable) {
		return Encoding{}, false
	}
	return encodingTable[b], true
}

// TableSize returns the number of rows in the opcode table.
func TableSize() int {
	return len(encodingTable)
}
