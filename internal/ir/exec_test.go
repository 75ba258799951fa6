package ir

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type recorder struct {
	out bytes.Buffer
}

func (r *recorder) natives() Natives {
	return Natives{
		"print": func(args []Value) (Value, error) {
			for _, a := range args {
				if a.T.Kind == KindString {
					r.out.Write(a.Bytes)
				} else {
					r.out.WriteString(a.String())
				}
			}
			return Value{}, nil
		},
		"fail": func(args []Value) (Value, error) {
			return Value{}, errBoom
		},
		"id": func(args []Value) (Value, error) {
			return args[0], nil
		},
	}
}

var testSignatures = map[string]Type{
	"print": Void,
	"fail":  Void,
	"id":    Int64,
}

func parseOne(t *testing.T, src string) *Region {
	t.Helper()
	regions, err := ParseFile("test.go", []byte(src), Options{Profile: "light", Natives: testSignatures})
	require.NoError(t, err)
	require.Len(t, regions, 1)
	return regions[0]
}

func TestInvokeArithmetic(t *testing.T) {
	r := parseOne(t, `package p

//obf:protect
func sum(n int32) int32 {
	total := int32(0)
	for i := int32(1); i <= n; i++ {
		if i%2 == 0 {
			continue
		}
		total += i
	}
	return total
}
`)
	got, err := Invoke(r, nil, SignedValue(Int32, 9))
	require.NoError(t, err)
	assert.Equal(t, int64(1+3+5+7+9), got.Int64())
}

func TestInvokeLabeledLoops(t *testing.T) {
	r := parseOne(t, `package p

//obf:protect
func pairs() int {
	count := 0
outer:
	for i := 0; i < 5; i++ {
		for j := 0; j < 5; j++ {
			if j > i {
				continue outer
			}
			if i == 4 {
				break outer
			}
			count++
		}
	}
	return count
}
`)
	got, err := Invoke(r, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1+2+3+4), got.Int64())
}

func TestInvokeShadowing(t *testing.T) {
	r := parseOne(t, `package p

//obf:protect
func shadow() int {
	x := 1
	{
		x := 10
		x++
	}
	if x := 5; x > 2 {
		x = 7
	}
	return x
}
`)
	got, err := Invoke(r, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Int64())
}

func TestInvokeDefersAndNatives(t *testing.T) {
	rec := &recorder{}
	r := parseOne(t, `package p

//obf:protect
func greet(n int) {
	defer print("bye ", n, "\n")
	defer print("second\n")
	n = n + 1
	print("hello ", obf.Str("world"), "\n")
}
`)
	_, err := Invoke(r, rec.natives(), SignedValue(Int64, 1))
	require.NoError(t, err)
	assert.Equal(t, "hello world\nsecond\nbye 1\n", rec.out.String())
}

func TestInvokeNativeErrorPropagates(t *testing.T) {
	rec := &recorder{}
	r := parseOne(t, `package p

//obf:protect
func broken() int {
	defer print("cleanup\n")
	fail()
	return 1
}
`)
	_, err := Invoke(r, rec.natives())
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, "boom", err.Error())
	assert.Equal(t, "cleanup\n", rec.out.String())
}

func TestInvokeDivideByZero(t *testing.T) {
	r := parseOne(t, `package p

//obf:protect
func div(a, b int8) int8 {
	return a / b
}
`)
	got, err := Invoke(r, nil, SignedValue(Int8, -128), SignedValue(Int8, -1))
	require.NoError(t, err)
	assert.Equal(t, int64(-128), got.Int64())

	_, err = Invoke(r, nil, SignedValue(Int8, 1), SignedValue(Int8, 0))
	assert.ErrorIs(t, err, ErrDivideByZero)
}

func TestInvokeShortCircuit(t *testing.T) {
	rec := &recorder{}
	r := parseOne(t, `package p

//obf:protect
func sc(a int) bool {
	return a != 0 && id(10/a) > 1 || id(3) == 3
}
`)
	got, err := Invoke(r, rec.natives(), SignedValue(Int64, 0))
	require.NoError(t, err)
	assert.True(t, got.Truth())
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		msg  string
	}{
		{"goto", "L:\n\tgoto L", "labels are only supported"},
		{"switch", "switch {}", "switch statements"},
		{"closure", "f := func() {}\n\t_ = f", "closures"},
		{"composite", "x := []int{1}\n\t_ = x", "composite literals"},
		{"go", "go print()", "go statements"},
		{"undefined", "y = 1", "undefined: y"},
		{"mismatch", "var a int8 = 1\n\tvar b int16 = 2\n\t_ = a + b", "mismatched types"},
		{"overflow", "var a int8 = 200\n\t_ = a", "overflows"},
		{"unknown native", "nope()", "undefined function nope"},
		{"unknown annotation", "_ = obf.Div(1, 2)", "unknown annotation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := fmt.Sprintf("package p\n\n//obf:protect\nfunc bad() {\n\t%s\n}\n", tt.body)
			_, err := ParseFile("bad.go", []byte(src), Options{Natives: testSignatures})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
			var pe *ParseError
			if errors.As(err, &pe) {
				assert.Equal(t, "bad", pe.Region)
				assert.Contains(t, pe.Pos, "bad.go:")
			}
		})
	}
}

func TestParseDirective(t *testing.T) {
	regions, err := ParseFile("d.go", []byte(`package p

func plain() {}

//obf:protect profile=HEAVY
func one() {}

// two does things.
//
//obf:protect
func two() {}
`), Options{Profile: "medium"})
	require.NoError(t, err)
	require.Len(t, regions, 2)
	assert.Equal(t, "one", regions[0].Name)
	assert.Equal(t, "heavy", regions[0].Profile)
	assert.Equal(t, "medium", regions[1].Profile)
}

func TestParseMissingReturn(t *testing.T) {
	_, err := ParseFile("m.go", []byte(`package p

//obf:protect
func f(a int) int {
	if a > 0 {
		return 1
	}
}
`), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing return")
}

func TestFormatStable(t *testing.T) {
	r := parseOne(t, `package p

//obf:protect
func f(a int32) int32 {
	obf.Nop()
	return obf.Add(a, 2)
}
`)
	out := Format(r)
	assert.Contains(t, out, "func f(a int32) int32 {")
	assert.Contains(t, out, "obf.Nop()")
	assert.Contains(t, out, "return obf.Add(a, int32(2))")
	assert.Equal(t, out, Format(r))
}

func TestMapExprLeavesOriginal(t *testing.T) {
	r := parseOne(t, `package p

//obf:protect
func f(a int) int {
	return obf.Add(a, 1)
}
`)
	before := Format(r)
	body := MapStmts(r.Body, func(e Expr) Expr {
		if b, ok := e.(*Binary); ok && b.Protect {
			return &Binary{Op: OpSub, X: b.X, Y: &Unary{Op: OpNeg, X: b.Y}}
		}
		return e
	})
	changed := r.WithBody(body)

	assert.Equal(t, before, Format(r))
	got, err := Invoke(changed, nil, SignedValue(Int64, 41))
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Int64())
}
