package mba

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/obfusk8/obfusk8/internal/ir"
)

// ErrNotEquivalent is returned when a rewrite disagrees with the original
var ErrNotEquivalent = errors.New("mba: rewrite not equivalent")

// boundaries are operand values every check includes, masked to the width
var boundaries = []uint64{0, 1, 2, 3, 0x7f, 0x80, 0xff, 0x7fff, 0x8000, 0xffff,
	0x7fffffff, 0x80000000, 0xffffffff, 1<<63 - 1, 1 << 63, ^uint64(0)}

// Verify checks an identity against the plain operator on type t. 8-bit and
// 16-bit types are checked exhaustively over every operand pair; wider types
// on the boundary grid plus samples random pairs.
func Verify(id Identity, t ir.Type, rng *rand.Rand, samples int) error {
	x := &ir.Var{Name: "x", T: t}
	y := &ir.Var{Name: "y", T: t}
	var want, got ir.Expr
	if id.Op == ir.OpNeg || id.Op == ir.OpNot {
		want = &ir.Unary{Op: id.Op, X: x}
		got = id.Build(x, nil)
	} else {
		want = &ir.Binary{Op: id.Op, X: x, Y: y}
		got = id.Build(x, y)
	}
	if err := Equivalent(want, got, []ir.Param{{Name: "x", T: t}, {Name: "y", T: t}}, rng, samples); err != nil {
		return fmt.Errorf("%s on %s: %w", id.Name, t, err)
	}
	return nil
}

// Equivalent compares two expressions over two integer variables of the
// same type, using the coverage rules of Verify. At 16 bits, expressions
// using operators beyond the ring and bitwise ones are checked on every x
// against the boundary values plus samples random y.
func Equivalent(want, got ir.Expr, params []ir.Param, rng *rand.Rand, samples int) error {
	if len(params) != 2 || params[0].T != params[1].T {
		return fmt.Errorf("equivalent: want two parameters of one type")
	}
	t := params[0].T
	fr := ir.NewFrame(nil, nil)

	check := func(a, b uint64) error {
		fr.Vars[params[0].Name] = ir.IntValue(t, a)
		fr.Vars[params[1].Name] = ir.IntValue(t, b)
		w, werr := fr.Eval(want)
		g, gerr := fr.Eval(got)
		if werr != nil || gerr != nil {
			if errors.Is(gerr, werr) || (werr != nil && gerr != nil && werr.Error() == gerr.Error()) {
				return nil
			}
			return fmt.Errorf("%w: x=%#x y=%#x: errors %v / %v", ErrNotEquivalent, a, b, werr, gerr)
		}
		if !w.Equal(g) {
			return fmt.Errorf("%w: x=%#x y=%#x: want %s, got %s", ErrNotEquivalent, a, b, w, g)
		}
		return nil
	}

	mask := t.Mask()
	switch {
	case t.Width <= 8:
		for a := uint64(0); a <= mask; a++ {
			for b := uint64(0); b <= mask; b++ {
				if err := check(a, b); err != nil {
					return err
				}
			}
		}
	case t.Width <= 16:
		if ok, err := exhaustive(want, got, params); ok {
			return err
		}
		ys := make([]uint64, 0, len(boundaries)+samples)
		for _, b := range boundaries {
			ys = append(ys, b&mask)
		}
		for i := 0; i < samples; i++ {
			ys = append(ys, rng.Uint64()&mask)
		}
		for a := uint64(0); a <= mask; a++ {
			for _, b := range ys {
				if err := check(a, b); err != nil {
					return err
				}
			}
		}
	default:
		for _, a := range boundaries {
			for _, b := range boundaries {
				if err := check(a&mask, b&mask); err != nil {
					return err
				}
			}
		}
		for i := 0; i < samples; i++ {
			if err := check(rng.Uint64()&mask, rng.Uint64()&mask); err != nil {
				return err
			}
		}
	}
	return nil
}

// CheckSite evaluates a rewritten site against its original under samples
// random assignments of the variables it reads. Sites that call natives or
// read the string table cannot be evaluated in isolation; for those it
// returns false and no error.
func CheckSite(s Site, rng *rand.Rand, samples int) (bool, error) {
	vars := map[string]ir.Type{}
	closed := true
	ir.InspectExpr(s.Orig, func(e ir.Expr) bool {
		switch x := e.(type) {
		case *ir.Call, *ir.StrRef:
			closed = false
		case *ir.Var:
			vars[x.Name] = x.T
		}
		return closed
	})
	if !closed {
		return false, nil
	}

	fr := ir.NewFrame(nil, nil)
	for i := 0; i < samples; i++ {
		for name, t := range vars {
			fr.Vars[name] = sample(t, rng)
		}
		w, werr := fr.Eval(s.Orig)
		g, gerr := fr.Eval(s.Out)
		if werr != nil || gerr != nil {
			if werr != nil && gerr != nil && werr.Error() == gerr.Error() {
				continue
			}
			return true, fmt.Errorf("%w: %s: errors %v / %v", ErrNotEquivalent, ir.FormatExpr(s.Orig), werr, gerr)
		}
		if !w.Equal(g) {
			return true, fmt.Errorf("%w: %s: want %s, got %s", ErrNotEquivalent, ir.FormatExpr(s.Orig), w, g)
		}
	}
	return true, nil
}

func sample(t ir.Type, rng *rand.Rand) ir.Value {
	switch t.Kind {
	case ir.KindBool:
		return ir.BoolValue(rng.Intn(2) == 1)
	case ir.KindString:
		b := make([]byte, rng.Intn(8))
		rng.Read(b)
		return ir.StringValue(b)
	}
	if rng.Intn(4) == 0 {
		return ir.IntValue(t, boundaries[rng.Intn(len(boundaries))])
	}
	return ir.IntValue(t, rng.Uint64())
}
