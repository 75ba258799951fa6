package labyrinth

import (
	"math/rand"

	"github.com/obfusk8/obfusk8/internal/ir"
)

// invariant builds a comparison that holds for every value of v at any
// integer width of two bits or more
type invariant func(v ir.Expr) (lhs ir.Expr, op ir.Op, rhs uint64)

var invariants = []invariant{
	// x*(x+1) is even
	func(v ir.Expr) (ir.Expr, ir.Op, uint64) {
		return bin(ir.OpAnd, bin(ir.OpMul, v, bin(ir.OpAdd, v, lit(v, 1))), lit(v, 1)), ir.OpEq, 0
	},
	// x|1 is never zero
	func(v ir.Expr) (ir.Expr, ir.Op, uint64) {
		return bin(ir.OpOr, v, lit(v, 1)), ir.OpNe, 0
	},
	// x*x+x+1 is odd
	func(v ir.Expr) (ir.Expr, ir.Op, uint64) {
		sum := bin(ir.OpAdd, bin(ir.OpAdd, bin(ir.OpMul, v, v), v), lit(v, 1))
		return bin(ir.OpAnd, sum, lit(v, 1)), ir.OpEq, 1
	},
	// squares are 0 or 1 mod 4
	func(v ir.Expr) (ir.Expr, ir.Op, uint64) {
		return bin(ir.OpAnd, bin(ir.OpMul, v, v), lit(v, 3)), ir.OpNe, 2
	},
	// x and ^x share no bits
	func(v ir.Expr) (ir.Expr, ir.Op, uint64) {
		return bin(ir.OpAnd, v, &ir.Unary{Op: ir.OpNot, X: v}), ir.OpEq, 0
	},
}

var narrow = []ir.Type{ir.Uint8, ir.Uint16, ir.Uint32, ir.Int8, ir.Int32}

// opaque builds predicates from variables that are defined at every point
// of a flattened run
type opaque struct {
	rng  *rand.Rand
	vars []*ir.Var
}

// predicate returns an expression that always evaluates to want
func (o *opaque) predicate(want bool) ir.Expr {
	var v ir.Expr = o.vars[o.rng.Intn(len(o.vars))]
	if o.rng.Intn(3) == 0 {
		v = &ir.Conv{X: v, T: narrow[o.rng.Intn(len(narrow))]}
	}
	lhs, op, rhs := invariants[o.rng.Intn(len(invariants))](v)
	if !want {
		op = negate(op)
	}
	return bin(op, lhs, lit(v, rhs))
}

func negate(op ir.Op) ir.Op {
	if op == ir.OpEq {
		return ir.OpNe
	}
	return ir.OpEq
}

func bin(op ir.Op, x, y ir.Expr) ir.Expr {
	return &ir.Binary{Op: op, X: x, Y: y}
}

func lit(like ir.Expr, n uint64) ir.Expr {
	return &ir.Const{Val: ir.IntValue(like.Type(), n)}
}
