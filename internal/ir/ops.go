package ir

import (
	"bytes"
	"errors"
	"fmt"
)

// Op is a unary or binary operator
type Op uint8

const (
	OpInvalid Op = iota
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpAndNot
	OpShl
	OpShr
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpLAnd
	OpLOr
	OpNeg
	OpNot
	OpLNot
)

var opNames = [...]string{
	OpInvalid: "?",
	OpAdd:     "+",
	OpSub:     "-",
	OpMul:     "*",
	OpDiv:     "/",
	OpRem:     "%",
	OpAnd:     "&",
	OpOr:      "|",
	OpXor:     "^",
	OpAndNot:  "&^",
	OpShl:     "<<",
	OpShr:     ">>",
	OpEq:      "==",
	OpNe:      "!=",
	OpLt:      "<",
	OpLe:      "<=",
	OpGt:      ">",
	OpGe:      ">=",
	OpLAnd:    "&&",
	OpLOr:     "||",
	OpNeg:     "-",
	OpNot:     "^",
	OpLNot:    "!",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return "?"
}

// IsComparison reports whether op yields a bool from two comparable operands
func (op Op) IsComparison() bool {
	return op >= OpEq && op <= OpGe
}

// IsShift reports whether op is a shift
func (op Op) IsShift() bool {
	return op == OpShl || op == OpShr
}

// IsLogical reports whether op is a short-circuit operator
func (op Op) IsLogical() bool {
	return op == OpLAnd || op == OpLOr
}

// Evaluation errors. These are the errors unprotected code raises, so every
// execution path (tree walker or bytecode) must surface the same values.
var (
	ErrDivideByZero  = errors.New("integer divide by zero")
	ErrNegativeShift = errors.New("negative shift amount")
	ErrTypeMismatch  = errors.New("type mismatch")
	ErrUndefined     = errors.New("undefined variable")
	ErrUnknownNative = errors.New("unknown native function")
	ErrBadDispatch   = errors.New("dispatch state has no case")
)

// Apply evaluates a binary operator on two values. Logical operators are
// evaluated eagerly here; short-circuiting is the caller's business.
func Apply(op Op, x, y Value) (Value, error) {
	switch x.T.Kind {
	case KindString:
		return applyString(op, x, y)
	case KindBool:
		return applyBool(op, x, y)
	case KindInt:
		return applyInt(op, x, y)
	}
	return Value{}, fmt.Errorf("%w: operator %s on %s", ErrTypeMismatch, op, x.T)
}

func applyString(op Op, x, y Value) (Value, error) {
	if y.T.Kind != KindString {
		return Value{}, mismatch(op.String(), x.T, y.T)
	}
	if op == OpAdd {
		out := make([]byte, 0, len(x.Bytes)+len(y.Bytes))
		out = append(out, x.Bytes...)
		return StringValue(append(out, y.Bytes...)), nil
	}
	c := bytes.Compare(x.Bytes, y.Bytes)
	switch op {
	case OpEq:
		return BoolValue(c == 0), nil
	case OpNe:
		return BoolValue(c != 0), nil
	case OpLt:
		return BoolValue(c < 0), nil
	case OpLe:
		return BoolValue(c <= 0), nil
	case OpGt:
		return BoolValue(c > 0), nil
	case OpGe:
		return BoolValue(c >= 0), nil
	}
	return Value{}, fmt.Errorf("%w: operator %s on string", ErrTypeMismatch, op)
}

func applyBool(op Op, x, y Value) (Value, error) {
	if y.T.Kind != KindBool {
		return Value{}, mismatch(op.String(), x.T, y.T)
	}
	a, b := x.Bits != 0, y.Bits != 0
	switch op {
	case OpEq:
		return BoolValue(a == b), nil
	case OpNe:
		return BoolValue(a != b), nil
	case OpLAnd:
		return BoolValue(a && b), nil
	case OpLOr:
		return BoolValue(a || b), nil
	}
	return Value{}, fmt.Errorf("%w: operator %s on bool", ErrTypeMismatch, op)
}

func applyInt(op Op, x, y Value) (Value, error) {
	if !y.T.IsInt() || (!op.IsShift() && x.T != y.T) {
		return Value{}, mismatch(op.String(), x.T, y.T)
	}

	t := x.T
	a, b := x.Bits, y.Bits

	switch op {
	case OpAdd:
		return IntValue(t, a+b), nil
	case OpSub:
		return IntValue(t, a-b), nil
	case OpMul:
		return IntValue(t, a*b), nil
	case OpDiv, OpRem:
		if b == 0 {
			return Value{}, ErrDivideByZero
		}
		if t.Signed {
			sa, sb := x.Int64(), y.Int64()
			if op == OpDiv {
				return SignedValue(t, sa/sb), nil
			}
			return SignedValue(t, sa%sb), nil
		}
		if op == OpDiv {
			return IntValue(t, a/b), nil
		}
		return IntValue(t, a%b), nil
	case OpAnd:
		return IntValue(t, a&b), nil
	case OpOr:
		return IntValue(t, a|b), nil
	case OpXor:
		return IntValue(t, a^b), nil
	case OpAndNot:
		return IntValue(t, a&^b), nil
	case OpShl, OpShr:
		if y.T.Signed && y.Int64() < 0 {
			return Value{}, ErrNegativeShift
		}
		return shift(op, x, b), nil
	case OpEq:
		return BoolValue(a == b), nil
	case OpNe:
		return BoolValue(a != b), nil
	}

	if t.Signed {
		sa, sb := x.Int64(), y.Int64()
		switch op {
		case OpLt:
			return BoolValue(sa < sb), nil
		case OpLe:
			return BoolValue(sa <= sb), nil
		case OpGt:
			return BoolValue(sa > sb), nil
		case OpGe:
			return BoolValue(sa >= sb), nil
		}
	} else {
		switch op {
		case OpLt:
			return BoolValue(a < b), nil
		case OpLe:
			return BoolValue(a <= b), nil
		case OpGt:
			return BoolValue(a > b), nil
		case OpGe:
			return BoolValue(a >= b), nil
		}
	}
	return Value{}, fmt.Errorf("%w: operator %s on %s", ErrTypeMismatch, op, t)
}

// shift follows Go: counts at or past the width clear the value, or fill it
// with the sign bit for arithmetic right shifts.
func shift(op Op, x Value, n uint64) Value {
	t := x.T
	if op == OpShl {
		if n >= uint64(t.Width) {
			return IntValue(t, 0)
		}
		return IntValue(t, x.Bits<<n)
	}
	if t.Signed {
		if n > 63 {
			n = 63
		}
		return SignedValue(t, x.Int64()>>n)
	}
	if n >= 64 {
		return IntValue(t, 0)
	}
	return IntValue(t, x.Bits>>n)
}

// ApplyUnary evaluates a unary operator
func ApplyUnary(op Op, x Value) (Value, error) {
	switch op {
	case OpNeg:
		if x.T.IsInt() {
			return IntValue(x.T, -x.Bits), nil
		}
	case OpNot:
		if x.T.IsInt() {
			return IntValue(x.T, ^x.Bits), nil
		}
	case OpLNot:
		if x.T.Kind == KindBool {
			return BoolValue(x.Bits == 0), nil
		}
	}
	return Value{}, fmt.Errorf("%w: unary %s on %s", ErrTypeMismatch, op, x.T)
}

// Cast converts an integer to another integer type with Go's truncation and
// sign-extension rules. Same-type conversions are the identity.
func Cast(x Value, t Type) (Value, error) {
	if x.T == t {
		return x, nil
	}
	if !x.T.IsInt() || !t.IsInt() {
		return Value{}, fmt.Errorf("%w: cannot convert %s to %s", ErrTypeMismatch, x.T, t)
	}
	if x.T.Signed {
		return SignedValue(t, x.Int64()), nil
	}
	return IntValue(t, x.Bits), nil
}
