package bytecode

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
)

// ErrDivisionByZero is returned for a division or modulo by zero.
var ErrDivisionByZero = errors.New("division by zero")

// The functions below define the value semantics shared by the virtual
// machine and the compiler's constant folder. Slots hold int32; byte values
// are kept in 0..255, bools are 0 or 1 and f32 values are stored as their
// IEEE bits.

func f32(v int32) float32 { return math.Float32frombits(uint32(v)) }
func bitsOf(f float32) int32 { return int32(math.Float32bits(f)) }

func isNaN(f float32) bool { return math.IsNaN(float64(f)) }

func boolSlot(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// Binary applies a two-operand opcode.
func Binary(op Opcode, w Width, a, b int32) (int32, error) {
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return compare(op, w, a, b), nil
	}
	switch w {
	case WidthFloat:
		return binaryFloat(op, f32(a), f32(b))
	case WidthByte:
		r, err := binaryInt(op, a&0xFF, b, 8)
		return r & 0xFF, err
	case WidthInt:
		return binaryInt(op, a, b, 32)
	}
	return 0, fmt.Errorf("%s has no %q form", op, w)
}

func binaryInt(op Opcode, a, b int32, size int) (int32, error) {
	switch op {
	case OpAdd:
		return a + b, nil
	case OpSub:
		return a - b, nil
	case OpMul:
		return a * b, nil
	case OpDiv:
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a / b, nil
	case OpMod:
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a % b, nil
	case OpAnd:
		return a & b, nil
	case OpOr:
		return a | b, nil
	case OpXor:
		return a ^ b, nil
	case OpShl:
		return int32(uint32(a) << (uint32(b) & 31)), nil
	case OpShr:
		if size == 8 {
			return int32(uint32(a) >> (uint32(b) & 31)), nil
		}
		return a >> (uint32(b) & 31), nil
	case OpRol, OpRor:
		n := int(uint32(b) & 31)
		if op == OpRor {
			n = -n
		}
		if size == 8 {
			return int32(bits.RotateLeft8(uint8(a), n)), nil
		}
		return int32(bits.RotateLeft32(uint32(a), n)), nil
	}
	return 0, fmt.Errorf("%s is not an integer operation", op)
}

func binaryFloat(op Opcode, a, b float32) (int32, error) {
	switch op {
	case OpAdd:
		return bitsOf(a + b), nil
	case OpSub:
		return bitsOf(a - b), nil
	case OpMul:
		return bitsOf(a * b), nil
	case OpDiv:
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return bitsOf(a / b), nil
	}
	return 0, fmt.Errorf("%s is not a float operation", op)
}

func compare(op Opcode, w Width, a, b int32) int32 {
	var c int
	switch w {
	case WidthFloat:
		fa, fb := f32(a), f32(b)
		if isNaN(fa) || isNaN(fb) {
			// NaN compares unequal to everything.
			return boolSlot(op == OpNe)
		}
		switch {
		case fa < fb:
			c = -1
		case fa > fb:
			c = 1
		}
	case WidthByte:
		a, b = a&0xFF, b&0xFF
		fallthrough
	default:
		switch {
		case a < b:
			c = -1
		case a > b:
			c = 1
		}
	}
	switch op {
	case OpEq:
		return boolSlot(c == 0)
	case OpNe:
		return boolSlot(c != 0)
	case OpLt:
		return boolSlot(c < 0)
	case OpLe:
		return boolSlot(c <= 0)
	case OpGt:
		return boolSlot(c > 0)
	}
	return boolSlot(c >= 0)
}

// Unary applies a one-operand opcode, including conversions.
func Unary(op Opcode, w Width, a int32) (int32, error) {
	switch op {
	case OpNeg:
		if w == WidthFloat {
			return bitsOf(-f32(a)), nil
		}
		return -a, nil
	case OpNot:
		if w == WidthByte {
			return ^a & 0xFF, nil
		}
		return ^a, nil
	case OpLNot:
		return boolSlot(a == 0), nil
	case OpI2F:
		return bitsOf(float32(a)), nil
	case OpF2I:
		return FloatToInt(f32(a)), nil
	case OpI2B:
		return a & 0xFF, nil
	case OpToBool:
		return boolSlot(a != 0), nil
	}
	return 0, fmt.Errorf("%s is not a unary operation", op)
}

// FloatToInt truncates toward zero, saturating at the int32 range. NaN
// converts to 0.
func FloatToInt(f float32) int32 {
	switch {
	case isNaN(f):
		return 0
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	}
	return int32(f)
}
