package mba

import (
	"context"
	"errors"
	"fmt"

	"github.com/obfusk8/obfusk8/internal/ir"
	"github.com/obfusk8/obfusk8/internal/parallel"
)

// lanes is the number of y values a sweep evaluates per call
const lanes = 4096

// xChunks is how many pieces the x range of an exhaustive check is split
// into across the worker pool
const xChunks = 64

var errNoSweep = errors.New("mba: expression has no lane form")

// sweep evaluates a compiled expression for one x against every y in the
// lane buffer it was compiled with. Results are not masked: it only covers
// the ring and bitwise operators, whose low n bits depend only on the low n
// bits of their operands, so one uint64 lane serves every width and
// signedness.
type sweep func(x uint64) []uint64

func compileSweep(e ir.Expr, xn, yn string, ys []uint64) (sweep, error) {
	switch e := e.(type) {
	case *ir.Var:
		switch e.Name {
		case xn:
			buf := make([]uint64, len(ys))
			return func(x uint64) []uint64 {
				for i := range buf {
					buf[i] = x
				}
				return buf
			}, nil
		case yn:
			return func(uint64) []uint64 { return ys }, nil
		}

	case *ir.Const:
		if e.Val.T.IsInt() {
			buf := make([]uint64, len(ys))
			for i := range buf {
				buf[i] = e.Val.Bits
			}
			return func(uint64) []uint64 { return buf }, nil
		}

	case *ir.Unary:
		inner, err := compileSweep(e.X, xn, yn, ys)
		if err != nil {
			return nil, err
		}
		buf := make([]uint64, len(ys))
		switch e.Op {
		case ir.OpNeg:
			return func(x uint64) []uint64 {
				a := inner(x)
				for i := range buf {
					buf[i] = -a[i]
				}
				return buf
			}, nil
		case ir.OpNot:
			return func(x uint64) []uint64 {
				a := inner(x)
				for i := range buf {
					buf[i] = ^a[i]
				}
				return buf
			}, nil
		}

	case *ir.Binary:
		l, err := compileSweep(e.X, xn, yn, ys)
		if err != nil {
			return nil, err
		}
		r, err := compileSweep(e.Y, xn, yn, ys)
		if err != nil {
			return nil, err
		}
		if f := binaryLanes(e.Op, l, r, make([]uint64, len(ys))); f != nil {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", errNoSweep, ir.FormatExpr(e))
}

func binaryLanes(op ir.Op, l, r sweep, buf []uint64) sweep {
	switch op {
	case ir.OpAdd:
		return func(x uint64) []uint64 {
			a, b := l(x), r(x)
			for i := range buf {
				buf[i] = a[i] + b[i]
			}
			return buf
		}
	case ir.OpSub:
		return func(x uint64) []uint64 {
			a, b := l(x), r(x)
			for i := range buf {
				buf[i] = a[i] - b[i]
			}
			return buf
		}
	case ir.OpMul:
		return func(x uint64) []uint64 {
			a, b := l(x), r(x)
			for i := range buf {
				buf[i] = a[i] * b[i]
			}
			return buf
		}
	case ir.OpAnd:
		return func(x uint64) []uint64 {
			a, b := l(x), r(x)
			for i := range buf {
				buf[i] = a[i] & b[i]
			}
			return buf
		}
	case ir.OpOr:
		return func(x uint64) []uint64 {
			a, b := l(x), r(x)
			for i := range buf {
				buf[i] = a[i] | b[i]
			}
			return buf
		}
	case ir.OpXor:
		return func(x uint64) []uint64 {
			a, b := l(x), r(x)
			for i := range buf {
				buf[i] = a[i] ^ b[i]
			}
			return buf
		}
	case ir.OpAndNot:
		return func(x uint64) []uint64 {
			a, b := l(x), r(x)
			for i := range buf {
				buf[i] = a[i] &^ b[i]
			}
			return buf
		}
	}
	return nil
}

func reads(e ir.Expr, name string) bool {
	found := false
	ir.InspectExpr(e, func(e ir.Expr) bool {
		if v, ok := e.(*ir.Var); ok && v.Name == name {
			found = true
		}
		return !found
	})
	return found
}

// exhaustive compares want and got on every (x, y) pair of a 16-bit or
// narrower type. It returns false when either expression has no lane form.
// When neither reads y only x is swept.
func exhaustive(want, got ir.Expr, params []ir.Param) (bool, error) {
	xn, yn := params[0].Name, params[1].Name
	probe := make([]uint64, 1)
	if _, err := compileSweep(want, xn, yn, probe); err != nil {
		return false, nil
	}
	if _, err := compileSweep(got, xn, yn, probe); err != nil {
		return false, nil
	}

	mask := params[0].T.Mask()
	size := mask + 1
	width, yEnd := uint64(lanes), size
	if !reads(want, yn) && !reads(got, yn) {
		width, yEnd = 1, 1
	} else if size < width {
		width = size
	}
	chunks := uint64(xChunks)
	if size < chunks {
		chunks = size
	}
	span := size / chunks

	pool, err := parallel.NewWorkerPool(nil)
	if err != nil {
		return true, err
	}
	defer pool.Shutdown()

	errs := pool.Map(context.Background(), int(chunks), func(_ context.Context, c int) error {
		ys := make([]uint64, width)
		w, _ := compileSweep(want, xn, yn, ys)
		g, _ := compileSweep(got, xn, yn, ys)
		for base := uint64(0); base < yEnd; base += width {
			for i := range ys {
				ys[i] = base + uint64(i)
			}
			for a := uint64(c) * span; a < uint64(c+1)*span; a++ {
				wv, gv := w(a), g(a)
				for i := range wv {
					if (wv[i]^gv[i])&mask != 0 {
						return fmt.Errorf("%w: x=%#x y=%#x: want %#x, got %#x",
							ErrNotEquivalent, a, ys[i], wv[i]&mask, gv[i]&mask)
					}
				}
			}
		}
		return nil
	})
	for _, err := range errs {
		if err != nil {
			return true, err
		}
	}
	return true, nil
}
