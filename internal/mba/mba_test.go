package mba

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obfusk8/obfusk8/internal/ir"
)

func TestCatalogExhaustive8Bit(t *testing.T) {
	for _, id := range Catalog() {
		for _, typ := range []ir.Type{ir.Int8, ir.Uint8} {
			require.NoError(t, Verify(id, typ, rand.New(rand.NewSource(1)), 0))
		}
	}
}

func TestCatalogExhaustive16Bit(t *testing.T) {
	if testing.Short() {
		t.Skip("16-bit sweep is slow")
	}
	for _, id := range Catalog() {
		for _, typ := range []ir.Type{ir.Int16, ir.Uint16} {
			require.NoError(t, Verify(id, typ, rand.New(rand.NewSource(2)), 0), "%s on %s", id.Name, typ)
		}
	}
}

func TestSweepMatchesEvaluator(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	ys := []uint64{0, 1, 0x7fff, 0x8000, 0xffff, 0x1234}
	for _, typ := range []ir.Type{ir.Int16, ir.Uint16} {
		x := &ir.Var{Name: "x", T: typ}
		y := &ir.Var{Name: "y", T: typ}
		for _, id := range Catalog() {
			e := id.Build(x, y)
			if id.Op == ir.OpNeg || id.Op == ir.OpNot {
				e = id.Build(x, nil)
			}
			sw, err := compileSweep(e, "x", "y", ys)
			require.NoError(t, err, id.Name)

			fr := ir.NewFrame(nil, nil)
			for i := 0; i < 32; i++ {
				a := rng.Uint64() & typ.Mask()
				got := sw(a)
				for j, b := range ys {
					fr.Vars["x"] = ir.IntValue(typ, a)
					fr.Vars["y"] = ir.IntValue(typ, b)
					want, err := fr.Eval(e)
					require.NoError(t, err)
					assert.Equal(t, want.Bits, got[j]&typ.Mask(), "%s x=%#x y=%#x", id.Name, a, b)
				}
			}
		}
	}
}

func TestExhaustiveFindsMismatch(t *testing.T) {
	x := &ir.Var{Name: "x", T: ir.Uint16}
	y := &ir.Var{Name: "y", T: ir.Uint16}
	params := []ir.Param{{Name: "x", T: ir.Uint16}, {Name: "y", T: ir.Uint16}}
	sum := &ir.Binary{Op: ir.OpAdd, X: x, Y: y}

	// agrees with x+y unless x&y has bit 14 set
	wrong := &ir.Binary{Op: ir.OpAdd,
		X: &ir.Binary{Op: ir.OpXor, X: x, Y: y},
		Y: &ir.Binary{Op: ir.OpMul, X: &ir.Const{Val: ir.IntValue(ir.Uint16, 2)},
			Y: &ir.Binary{Op: ir.OpAnd, X: &ir.Binary{Op: ir.OpAnd, X: x, Y: y}, Y: &ir.Const{Val: ir.IntValue(ir.Uint16, 0x3fff)}}}}
	ok, err := exhaustive(sum, wrong, params)
	assert.True(t, ok)
	assert.ErrorIs(t, err, ErrNotEquivalent)

	ok, err = exhaustive(sum, sum, params)
	assert.True(t, ok)
	assert.NoError(t, err)

	// shifts have no lane form; Equivalent falls back to the sampled grid
	shl := &ir.Binary{Op: ir.OpShl, X: x, Y: &ir.Const{Val: ir.IntValue(ir.Uint16, 1)}}
	ok, _ = exhaustive(shl, shl, params)
	assert.False(t, ok)
	assert.NoError(t, Equivalent(shl, shl, params, rand.New(rand.NewSource(1)), 4))
}

func TestCatalogSampledWide(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for _, id := range Catalog() {
		for _, typ := range []ir.Type{ir.Int32, ir.Uint32, ir.Int64, ir.Uint64} {
			require.NoError(t, Verify(id, typ, rng, 2000))
		}
	}
}

func TestCatalogCoversOperators(t *testing.T) {
	for _, op := range []ir.Op{ir.OpAdd, ir.OpSub, ir.OpXor, ir.OpAnd, ir.OpOr, ir.OpMul} {
		assert.True(t, Supported(op), "no identity for %s", op)
	}
	assert.False(t, Supported(ir.OpDiv))
}

func TestRewriteEquivalence(t *testing.T) {
	tests := []struct {
		name  string
		typ   ir.Type
		build func(x, y ir.Expr) ir.Expr
	}{
		{"add", ir.Int32, func(x, y ir.Expr) ir.Expr { return &ir.Binary{Op: ir.OpAdd, X: x, Y: y, Protect: true} }},
		{"sub", ir.Uint64, func(x, y ir.Expr) ir.Expr { return &ir.Binary{Op: ir.OpSub, X: x, Y: y, Protect: true} }},
		{"mul const", ir.Int8, func(x, y ir.Expr) ir.Expr {
			return &ir.Binary{Op: ir.OpMul, X: x, Y: &ir.Const{Val: ir.SignedValue(ir.Int8, -7)}, Protect: true}
		}},
		{"nested", ir.Uint8, func(x, y ir.Expr) ir.Expr {
			inner := &ir.Binary{Op: ir.OpXor, X: x, Y: y, Protect: true}
			return &ir.Binary{Op: ir.OpOr, X: inner, Y: &ir.Binary{Op: ir.OpAnd, X: y, Y: x}, Protect: true}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for seed := int64(0); seed < 4; seed++ {
				x := &ir.Var{Name: "x", T: tt.typ}
				y := &ir.Var{Name: "y", T: tt.typ}
				orig := tt.build(x, y)

				rw := New(rand.New(rand.NewSource(seed)), Options{Depth: 2})
				got := rw.Rewrite(orig)
				assert.Greater(t, rw.Sites, 0)
				assert.NotEqual(t, ir.FormatExpr(orig), ir.FormatExpr(got))

				params := []ir.Param{{Name: "x", T: tt.typ}, {Name: "y", T: tt.typ}}
				require.NoError(t, Equivalent(orig, got, params, rand.New(rand.NewSource(seed)), 500))
			}
		})
	}
}

func TestConstantEncodings(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	rw := New(rng, Options{})
	fr := ir.NewFrame(nil, nil)
	for _, v := range []ir.Value{
		ir.SignedValue(ir.Int8, -128),
		ir.SignedValue(ir.Int16, -2),
		ir.IntValue(ir.Uint32, 0xdeadbeef),
		ir.SignedValue(ir.Int64, -1),
		ir.IntValue(ir.Uint64, 1<<63),
	} {
		for i := 0; i < 20; i++ {
			e := rw.Constant(&ir.Const{Val: v})
			got, err := fr.Eval(e)
			require.NoError(t, err)
			assert.True(t, v.Equal(got), "%s encoded as %s gave %s", v, ir.FormatExpr(e), got)
		}
	}
}

func TestRewriteEvaluatesEffectsOnce(t *testing.T) {
	src := `package p

//obf:protect
func f() int {
	return obf.Add(tick(1), obf.Mul(tick(2), 3))
}
`
	regions, err := ir.ParseFile("f.go", []byte(src), ir.Options{Natives: map[string]ir.Type{"tick": ir.Int64}})
	require.NoError(t, err)
	r := regions[0]

	var order []int64
	natives := ir.Natives{
		"tick": func(args []ir.Value) (ir.Value, error) {
			order = append(order, args[0].Int64())
			return ir.SignedValue(ir.Int64, int64(len(order)*10)), nil
		},
	}

	want, err := ir.Invoke(r, natives)
	require.NoError(t, err)
	wantOrder := order

	rw := New(rand.New(rand.NewSource(5)), Options{Depth: 3})
	protected := r.WithBody(rw.RewriteStmts(r.Body))
	assert.Equal(t, 2, rw.Sites)

	order = nil
	got, err := ir.Invoke(protected, natives)
	require.NoError(t, err)
	assert.Equal(t, want.Int64(), got.Int64())
	assert.Equal(t, wantOrder, order)
	assert.Equal(t, []int64{1, 2}, order)
}

func TestRewriteDeterministic(t *testing.T) {
	x := &ir.Var{Name: "x", T: ir.Int32}
	e := &ir.Binary{Op: ir.OpAdd, X: x, Y: &ir.Const{Val: ir.SignedValue(ir.Int32, 3)}, Protect: true}

	a := New(rand.New(rand.NewSource(11)), Options{}).Rewrite(e)
	b := New(rand.New(rand.NewSource(11)), Options{}).Rewrite(e)
	c := New(rand.New(rand.NewSource(12)), Options{}).Rewrite(e)

	assert.Equal(t, ir.FormatExpr(a), ir.FormatExpr(b))
	assert.NotEqual(t, ir.FormatExpr(a), ir.FormatExpr(c))
}

func TestCheckSite(t *testing.T) {
	x := &ir.Var{Name: "x", T: ir.Int16}
	y := &ir.Var{Name: "y", T: ir.Int16}
	e := &ir.Binary{Op: ir.OpSub, X: &ir.Binary{Op: ir.OpAdd, X: x, Y: y, Protect: true}, Y: x, Protect: true}

	rw := New(rand.New(rand.NewSource(9)), Options{Depth: 2})
	rw.Rewrite(e)
	require.Len(t, rw.Rewrites, 2)
	for _, s := range rw.Rewrites {
		checked, err := CheckSite(s, rand.New(rand.NewSource(1)), 500)
		assert.True(t, checked)
		assert.NoError(t, err)
	}

	broken := Site{Orig: rw.Rewrites[0].Orig, Out: &ir.Binary{Op: ir.OpXor, X: x, Y: y}}
	_, err := CheckSite(broken, rand.New(rand.NewSource(1)), 500)
	assert.ErrorIs(t, err, ErrNotEquivalent)

	call := Site{Orig: &ir.Binary{Op: ir.OpAdd, X: &ir.Call{Func: "f", T: ir.Int16}, Y: y, Protect: true}, Out: y}
	checked, err := CheckSite(call, rand.New(rand.NewSource(1)), 10)
	assert.False(t, checked)
	assert.NoError(t, err)
}
