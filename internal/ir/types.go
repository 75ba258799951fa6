// Package ir defines the intermediate representation protected regions are
// lowered into. Every pass consumes and produces this representation, and the
// reference evaluator in exec.go is what "native" execution of a region means.
package ir

import (
	"bytes"
	"fmt"
	"strconv"
)

// Kind is the broad class of a value
type Kind uint8

const (
	KindVoid Kind = iota
	KindInt
	KindBool
	KindString
)

// Type describes a fixed-width integer, a bool, a byte string or nothing
type Type struct {
	Kind   Kind
	Width  uint8 // bits, integers only
	Signed bool
}

// Predeclared types
var (
	Void   = Type{}
	Bool   = Type{Kind: KindBool, Width: 8}
	String = Type{Kind: KindString}

	Int8   = Type{Kind: KindInt, Width: 8, Signed: true}
	Int16  = Type{Kind: KindInt, Width: 16, Signed: true}
	Int32  = Type{Kind: KindInt, Width: 32, Signed: true}
	Int64  = Type{Kind: KindInt, Width: 64, Signed: true}
	Uint8  = Type{Kind: KindInt, Width: 8}
	Uint16 = Type{Kind: KindInt, Width: 16}
	Uint32 = Type{Kind: KindInt, Width: 32}
	Uint64 = Type{Kind: KindInt, Width: 64}
)

var typeNames = map[string]Type{
	"int8":   Int8,
	"int16":  Int16,
	"int32":  Int32,
	"rune":   Int32,
	"int64":  Int64,
	"int":    Int64,
	"uint8":  Uint8,
	"byte":   Uint8,
	"uint16": Uint16,
	"uint32": Uint32,
	"uint64": Uint64,
	"uint":   Uint64,
	"bool":   Bool,
	"string": String,
}

// TypeByName resolves a Go type name to its IR type
func TypeByName(name string) (Type, bool) {
	t, ok := typeNames[name]
	return t, ok
}

// IsInt reports whether t is a fixed-width integer type
func (t Type) IsInt() bool {
	return t.Kind == KindInt
}

// Mask returns the bit mask selecting t's width
func (t Type) Mask() uint64 {
	if t.Width >= 64 || t.Width == 0 {
		return ^uint64(0)
	}
	return (uint64(1) << t.Width) - 1
}

// String returns the Go spelling of the type
func (t Type) String() string {
	switch t.Kind {
	case KindInt:
		if t.Signed {
			return "int" + strconv.Itoa(int(t.Width))
		}
		return "uint" + strconv.Itoa(int(t.Width))
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	default:
		return "void"
	}
}

// Value is a run-time value. Integers keep their two's-complement bit pattern
// masked to the type width in Bits; strings keep their bytes in Bytes.
type Value struct {
	T     Type
	Bits  uint64
	Bytes []byte
}

// IntValue builds an integer value, truncating v to t's width
func IntValue(t Type, v uint64) Value {
	return Value{T: t, Bits: v & t.Mask()}
}

// SignedValue builds an integer value from a signed Go integer
func SignedValue(t Type, v int64) Value {
	return IntValue(t, uint64(v))
}

// BoolValue builds a bool value
func BoolValue(b bool) Value {
	if b {
		return Value{T: Bool, Bits: 1}
	}
	return Value{T: Bool}
}

// StringValue builds a string value; the slice is not copied
func StringValue(s []byte) Value {
	return Value{T: String, Bytes: s}
}

// Zero returns the zero value of t
func Zero(t Type) Value {
	return Value{T: t}
}

// ParseValue parses a command-line argument as a value of type t
func ParseValue(t Type, s string) (Value, error) {
	switch t.Kind {
	case KindInt:
		if t.Signed {
			n, err := strconv.ParseInt(s, 0, int(t.Width))
			if err != nil {
				return Value{}, fmt.Errorf("%w: %s argument %q", ErrTypeMismatch, t, s)
			}
			return SignedValue(t, n), nil
		}
		n, err := strconv.ParseUint(s, 0, int(t.Width))
		if err != nil {
			return Value{}, fmt.Errorf("%w: %s argument %q", ErrTypeMismatch, t, s)
		}
		return IntValue(t, n), nil
	case KindBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Value{}, fmt.Errorf("%w: bool argument %q", ErrTypeMismatch, s)
		}
		return BoolValue(b), nil
	case KindString:
		return StringValue([]byte(s)), nil
	}
	return Value{}, fmt.Errorf("%w: no %s arguments", ErrTypeMismatch, t)
}

// Int64 returns the value sign-extended (for signed types) to 64 bits
func (v Value) Int64() int64 {
	if !v.T.Signed || v.T.Width >= 64 {
		return int64(v.Bits)
	}
	shift := 64 - uint(v.T.Width)
	return int64(v.Bits<<shift) >> shift
}

// Uint64 returns the raw bit pattern
func (v Value) Uint64() uint64 {
	return v.Bits
}

// Truth reports whether the value is a true bool or a non-zero integer
func (v Value) Truth() bool {
	return v.Bits != 0
}

// Equal compares type and payload
func (v Value) Equal(o Value) bool {
	if v.T != o.T {
		return false
	}
	if v.T.Kind == KindString {
		return bytes.Equal(v.Bytes, o.Bytes)
	}
	return v.Bits == o.Bits
}

// Interface converts the value to the closest Go value, for natives
func (v Value) Interface() interface{} {
	switch v.T.Kind {
	case KindInt:
		if v.T.Signed {
			return v.Int64()
		}
		return v.Bits
	case KindBool:
		return v.Bits != 0
	case KindString:
		return string(v.Bytes)
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.T.Kind {
	case KindInt:
		if v.T.Signed {
			return strconv.FormatInt(v.Int64(), 10)
		}
		return strconv.FormatUint(v.Bits, 10)
	case KindBool:
		return strconv.FormatBool(v.Bits != 0)
	case KindString:
		return strconv.Quote(string(v.Bytes))
	default:
		return "<void>"
	}
}

// fits reports whether the signed or unsigned literal n is representable in t
func fits(t Type, n uint64, negative bool) bool {
	w := uint(t.Width)
	if !t.Signed {
		return !negative && (w >= 64 || n < uint64(1)<<w)
	}
	limit := uint64(1) << (w - 1)
	if negative {
		return n <= limit
	}
	return n < limit
}

func mismatch(op string, x, y Type) error {
	return fmt.Errorf("%w: %s %s %s", ErrTypeMismatch, x, op, y)
}
