package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyWraparound(t *testing.T) {
	tests := []struct {
		name string
		op   Op
		x, y Value
		want Value
	}{
		{"int8 add overflow", OpAdd, SignedValue(Int8, 127), SignedValue(Int8, 1), SignedValue(Int8, -128)},
		{"uint8 sub underflow", OpSub, IntValue(Uint8, 0), IntValue(Uint8, 1), IntValue(Uint8, 255)},
		{"int16 mul", OpMul, SignedValue(Int16, 300), SignedValue(Int16, 300), SignedValue(Int16, int64(int16(300*300&0xffff)))},
		{"min int32 div -1", OpDiv, SignedValue(Int32, math.MinInt32), SignedValue(Int32, -1), SignedValue(Int32, math.MinInt32)},
		{"min int64 div -1", OpDiv, SignedValue(Int64, math.MinInt64), SignedValue(Int64, -1), SignedValue(Int64, math.MinInt64)},
		{"signed rem sign", OpRem, SignedValue(Int32, -7), SignedValue(Int32, 2), SignedValue(Int32, -1)},
		{"unsigned div", OpDiv, IntValue(Uint32, 0xffffffff), IntValue(Uint32, 2), IntValue(Uint32, 0x7fffffff)},
		{"and not", OpAndNot, IntValue(Uint8, 0xff), IntValue(Uint8, 0x0f), IntValue(Uint8, 0xf0)},
		{"shl past width", OpShl, IntValue(Uint16, 1), IntValue(Uint64, 16), IntValue(Uint16, 0)},
		{"signed shr fills", OpShr, SignedValue(Int8, -64), IntValue(Uint64, 200), SignedValue(Int8, -1)},
		{"unsigned shr", OpShr, IntValue(Uint8, 0x80), IntValue(Uint8, 7), IntValue(Uint8, 1)},
		{"signed less", OpLt, SignedValue(Int8, -1), SignedValue(Int8, 1), BoolValue(true)},
		{"unsigned less", OpLt, IntValue(Uint8, 0xff), IntValue(Uint8, 1), BoolValue(false)},
		{"string concat", OpAdd, StringValue([]byte("ab")), StringValue([]byte("c")), StringValue([]byte("abc"))},
		{"string compare", OpLt, StringValue([]byte("a")), StringValue([]byte("b")), BoolValue(true)},
		{"bool eq", OpEq, BoolValue(true), BoolValue(true), BoolValue(true)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tt.op, tt.x, tt.y)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestApplyFaults(t *testing.T) {
	_, err := Apply(OpDiv, SignedValue(Int32, 1), SignedValue(Int32, 0))
	assert.ErrorIs(t, err, ErrDivideByZero)

	_, err = Apply(OpRem, IntValue(Uint8, 1), IntValue(Uint8, 0))
	assert.ErrorIs(t, err, ErrDivideByZero)

	_, err = Apply(OpShl, SignedValue(Int32, 1), SignedValue(Int32, -1))
	assert.ErrorIs(t, err, ErrNegativeShift)

	_, err = Apply(OpAdd, SignedValue(Int32, 1), SignedValue(Int64, 1))
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = Apply(OpMul, StringValue(nil), StringValue(nil))
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestUnaryAndCast(t *testing.T) {
	v, err := ApplyUnary(OpNeg, SignedValue(Int8, -128))
	require.NoError(t, err)
	assert.Equal(t, int64(-128), v.Int64())

	v, err = ApplyUnary(OpNot, IntValue(Uint16, 0))
	require.NoError(t, err)
	assert.Equal(t, uint64(0xffff), v.Uint64())

	v, err = ApplyUnary(OpLNot, BoolValue(false))
	require.NoError(t, err)
	assert.True(t, v.Truth())

	v, err = Cast(SignedValue(Int8, -1), Uint32)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xffffffff), v.Uint64())

	v, err = Cast(IntValue(Uint8, 0xff), Int64)
	require.NoError(t, err)
	assert.Equal(t, int64(255), v.Int64())

	v, err = Cast(SignedValue(Int64, 0x1ff), Int8)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), v.Int64())

	_, err = Cast(StringValue(nil), Int8)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestParseValue(t *testing.T) {
	v, err := ParseValue(Int8, "-128")
	require.NoError(t, err)
	assert.Equal(t, int64(-128), v.Int64())

	v, err = ParseValue(Uint16, "0xffff")
	require.NoError(t, err)
	assert.Equal(t, uint64(0xffff), v.Uint64())

	v, err = ParseValue(Bool, "true")
	require.NoError(t, err)
	assert.True(t, v.Equal(BoolValue(true)))

	v, err = ParseValue(String, "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(v.Bytes))

	_, err = ParseValue(Uint8, "256")
	assert.ErrorIs(t, err, ErrTypeMismatch)
	_, err = ParseValue(Int32, "x")
	assert.ErrorIs(t, err, ErrTypeMismatch)
	_, err = ParseValue(Void, "1")
	assert.ErrorIs(t, err, ErrTypeMismatch)
}
