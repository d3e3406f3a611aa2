package compiler

import (
	"fmt"
	"math"

	"github.com/chazu/tern/pkg/bytecode"
)

// ValueKind classifies a compile-time constant.
type ValueKind uint8

const (
	ValueBool ValueKind = iota
	ValueByte
	ValueInt
	ValueFloat
)

// Value is a compile-time constant in slot representation: bools are 0 or
// 1, bytes 0..255 and floats their IEEE bits.
type Value struct {
	Kind ValueKind
	Bits int32
}

func BoolValue(b bool) Value {
	if b {
		return Value{Kind: ValueBool, Bits: 1}
	}
	return Value{Kind: ValueBool}
}

func ByteValue(v int32) Value { return Value{Kind: ValueByte, Bits: v & 0xFF} }

func IntValue(v int32) Value { return Value{Kind: ValueInt, Bits: v} }

func FloatValue(f float32) Value {
	return Value{Kind: ValueFloat, Bits: int32(math.Float32bits(f))}
}

// Float returns the value of a float constant.
func (v Value) Float() float32 { return math.Float32frombits(uint32(v.Bits)) }

// Bool reports whether the slot is non-zero.
func (v Value) Bool() bool { return v.Bits != 0 }

// Width returns the instruction width that pushes the value.
func (v Value) Width() bytecode.Width {
	switch v.Kind {
	case ValueBool, ValueByte:
		return bytecode.WidthByte
	case ValueFloat:
		return bytecode.WidthFloat
	}
	return bytecode.WidthInt
}

func (v Value) String() string {
	switch v.Kind {
	case ValueBool:
		if v.Bool() {
			return "true"
		}
		return "false"
	case ValueFloat:
		return fmt.Sprintf("%g", v.Float())
	}
	return fmt.Sprintf("%d", v.Bits)
}

// Push returns the instruction pushing the value.
func (v Value) Push() bytecode.Instruction {
	return bytecode.NewInstr(bytecode.OpPush, v.Width(), bytecode.ModeConst, v.Bits)
}

func valueKindOf(t *Type) ValueKind {
	switch t.Kind {
	case TypeBool:
		return ValueBool
	case TypeByte:
		return ValueByte
	case TypeF32:
		return ValueFloat
	}
	return ValueInt
}

// binaryOps maps binary and compound assignment operator tokens to
// opcodes.
var binaryOps = map[TokenType]bytecode.Opcode{
	TokenPlus:    bytecode.OpAdd,
	TokenMinus:   bytecode.OpSub,
	TokenStar:    bytecode.OpMul,
	TokenSlash:   bytecode.OpDiv,
	TokenPercent: bytecode.OpMod,
	TokenAmp:     bytecode.OpAnd,
	TokenPipe:    bytecode.OpOr,
	TokenCaret:   bytecode.OpXor,
	TokenShl:     bytecode.OpShl,
	TokenShr:     bytecode.OpShr,
	TokenRol:     bytecode.OpRol,
	TokenRor:     bytecode.OpRor,
	TokenEq:      bytecode.OpEq,
	TokenNe:      bytecode.OpNe,
	TokenLt:      bytecode.OpLt,
	TokenLe:      bytecode.OpLe,
	TokenGt:      bytecode.OpGt,
	TokenGe:      bytecode.OpGe,

	TokenAddAssign: bytecode.OpAdd,
	TokenSubAssign: bytecode.OpSub,
	TokenMulAssign: bytecode.OpMul,
	TokenDivAssign: bytecode.OpDiv,
	TokenModAssign: bytecode.OpMod,
	TokenAndAssign: bytecode.OpAnd,
	TokenOrAssign:  bytecode.OpOr,
	TokenXorAssign: bytecode.OpXor,
	TokenShlAssign: bytecode.OpShl,
	TokenShrAssign: bytecode.OpShr,
	TokenRolAssign: bytecode.OpRol,
	TokenRorAssign: bytecode.OpRor,
}

// binaryOpcode returns the opcode for an operator token.
func binaryOpcode(tt TokenType) (bytecode.Opcode, bool) {
	op, ok := binaryOps[tt]
	return op, ok
}

func isComparison(op bytecode.Opcode) bool {
	return op >= bytecode.OpEq && op <= bytecode.OpGe
}

// foldBinary evaluates l op r for operands of type t.
func foldBinary(tt TokenType, t *Type, l, r Value) (Value, error) {
	switch tt {
	case TokenAndAnd:
		return BoolValue(l.Bool() && r.Bool()), nil
	case TokenOrOr:
		return BoolValue(l.Bool() || r.Bool()), nil
	}
	op, ok := binaryOpcode(tt)
	if !ok {
		return Value{}, fmt.Errorf("operator %s cannot be folded", tt)
	}
	bits, err := bytecode.Binary(op, t.Width(), l.Bits, r.Bits)
	if err != nil {
		return Value{}, err
	}
	if isComparison(op) {
		return BoolValue(bits != 0), nil
	}
	return Value{Kind: valueKindOf(t), Bits: bits}, nil
}

// foldUnary evaluates a unary operator on a value of type t.
func foldUnary(tt TokenType, t *Type, v Value) (Value, error) {
	var op bytecode.Opcode
	switch tt {
	case TokenMinus:
		op = bytecode.OpNeg
	case TokenTilde:
		op = bytecode.OpNot
	case TokenBang:
		op = bytecode.OpLNot
	default:
		return Value{}, fmt.Errorf("operator %s cannot be folded", tt)
	}
	bits, err := bytecode.Unary(op, t.Width(), v.Bits)
	if err != nil {
		return Value{}, err
	}
	return Value{Kind: valueKindOf(t), Bits: bits}, nil
}

// conversionOps returns the opcodes converting a value of type from into
// type to, and whether the conversion exists. bool(f32) is handled by the
// callers as a comparison against zero.
func conversionOps(from, to *Type) ([]bytecode.Opcode, bool) {
	src, dst := from.Kind, to.Kind
	if src == TypeEnum {
		src = TypeI32
	}
	if src == dst {
		return nil, true
	}
	switch dst {
	case TypeI32:
		switch src {
		case TypeBool, TypeByte:
			return nil, true
		case TypeF32:
			return []bytecode.Opcode{bytecode.OpF2I}, true
		}
	case TypeF32:
		switch src {
		case TypeBool, TypeByte, TypeI32:
			return []bytecode.Opcode{bytecode.OpI2F}, true
		}
	case TypeByte:
		switch src {
		case TypeBool:
			return nil, true
		case TypeI32:
			return []bytecode.Opcode{bytecode.OpI2B}, true
		case TypeF32:
			return []bytecode.Opcode{bytecode.OpF2I, bytecode.OpI2B}, true
		}
	case TypeBool:
		switch src {
		case TypeByte, TypeI32:
			return []bytecode.Opcode{bytecode.OpToBool}, true
		case TypeF32:
			return nil, true
		}
	}
	return nil, false
}

// foldConvert evaluates a conversion.
func foldConvert(from, to *Type, v Value) Value {
	if to.Kind == TypeBool && from.Kind == TypeF32 {
		return BoolValue(v.Float() != 0)
	}
	ops, _ := conversionOps(from, to)
	bits := v.Bits
	for _, op := range ops {
		bits, _ = bytecode.Unary(op, bytecode.WidthNone, bits)
	}
	return Value{Kind: valueKindOf(to), Bits: bits}
}

// coerce converts a constant to another primitive type of the same
// representation, as when an i32 literal initialises a byte.
func coerce(v Value, t *Type) Value {
	if t.Kind == TypeByte {
		return ByteValue(v.Bits)
	}
	return Value{Kind: valueKindOf(t), Bits: v.Bits}
}
