// Package mba rewrites integer arithmetic into mixed boolean-arithmetic
// expressions. Every identity holds over the whole of Z/2^n for n in
// {8, 16, 32, 64}, signed or unsigned, so rewritten code computes the same
// bits as the original for every input.
package mba

import "github.com/obfusk8/obfusk8/internal/ir"

// Identity is a closed-form replacement for x op y (or op x for unary ops,
// where y is nil)
type Identity struct {
	Name  string
	Op    ir.Op
	Build func(x, y ir.Expr) ir.Expr
}

func bin(op ir.Op, x, y ir.Expr) ir.Expr { return &ir.Binary{Op: op, X: x, Y: y} }
func not(x ir.Expr) ir.Expr              { return &ir.Unary{Op: ir.OpNot, X: x} }
func neg(x ir.Expr) ir.Expr              { return &ir.Unary{Op: ir.OpNeg, X: x} }

func lit(t ir.Type, v uint64) ir.Expr {
	return &ir.Const{Val: ir.IntValue(t, v)}
}

func twice(x ir.Expr) ir.Expr {
	return bin(ir.OpMul, lit(x.Type(), 2), x)
}

var catalog = map[ir.Op][]Identity{
	ir.OpAdd: {
		{"add/xor-and", ir.OpAdd, func(x, y ir.Expr) ir.Expr {
			// (x ^ y) + 2*(x & y)
			return bin(ir.OpAdd, bin(ir.OpXor, x, y), twice(bin(ir.OpAnd, x, y)))
		}},
		{"add/or-and", ir.OpAdd, func(x, y ir.Expr) ir.Expr {
			return bin(ir.OpAdd, bin(ir.OpOr, x, y), bin(ir.OpAnd, x, y))
		}},
		{"add/or-xor", ir.OpAdd, func(x, y ir.Expr) ir.Expr {
			return bin(ir.OpSub, twice(bin(ir.OpOr, x, y)), bin(ir.OpXor, x, y))
		}},
	},
	ir.OpSub: {
		{"sub/xor-notand", ir.OpSub, func(x, y ir.Expr) ir.Expr {
			return bin(ir.OpSub, bin(ir.OpXor, x, y), twice(bin(ir.OpAnd, not(x), y)))
		}},
		{"sub/andnot", ir.OpSub, func(x, y ir.Expr) ir.Expr {
			return bin(ir.OpSub, bin(ir.OpAndNot, x, y), bin(ir.OpAnd, not(x), y))
		}},
		{"sub/complement", ir.OpSub, func(x, y ir.Expr) ir.Expr {
			return bin(ir.OpAdd, bin(ir.OpAdd, x, not(y)), lit(x.Type(), 1))
		}},
	},
	ir.OpXor: {
		{"xor/or-and", ir.OpXor, func(x, y ir.Expr) ir.Expr {
			return bin(ir.OpSub, bin(ir.OpOr, x, y), bin(ir.OpAnd, x, y))
		}},
		{"xor/or-andnot", ir.OpXor, func(x, y ir.Expr) ir.Expr {
			return bin(ir.OpAndNot, bin(ir.OpOr, x, y), bin(ir.OpAnd, x, y))
		}},
	},
	ir.OpAnd: {
		{"and/add-or", ir.OpAnd, func(x, y ir.Expr) ir.Expr {
			return bin(ir.OpSub, bin(ir.OpAdd, x, y), bin(ir.OpOr, x, y))
		}},
		{"and/demorgan", ir.OpAnd, func(x, y ir.Expr) ir.Expr {
			return not(bin(ir.OpOr, not(x), not(y)))
		}},
	},
	ir.OpOr: {
		{"or/andnot-add", ir.OpOr, func(x, y ir.Expr) ir.Expr {
			return bin(ir.OpAdd, bin(ir.OpAndNot, x, y), y)
		}},
		{"or/xor-and", ir.OpOr, func(x, y ir.Expr) ir.Expr {
			return bin(ir.OpAdd, bin(ir.OpXor, x, y), bin(ir.OpAnd, x, y))
		}},
	},
	ir.OpMul: {
		{"mul/and-or", ir.OpMul, func(x, y ir.Expr) ir.Expr {
			// (x&y)*(x|y) + (x&^y)*(^x&y)
			return bin(ir.OpAdd,
				bin(ir.OpMul, bin(ir.OpAnd, x, y), bin(ir.OpOr, x, y)),
				bin(ir.OpMul, bin(ir.OpAndNot, x, y), bin(ir.OpAnd, not(x), y)))
		}},
	},
	ir.OpNeg: {
		{"neg/not-inc", ir.OpNeg, func(x, _ ir.Expr) ir.Expr {
			return bin(ir.OpAdd, not(x), lit(x.Type(), 1))
		}},
	},
	ir.OpNot: {
		{"not/neg-dec", ir.OpNot, func(x, _ ir.Expr) ir.Expr {
			return bin(ir.OpSub, neg(x), lit(x.Type(), 1))
		}},
	},
}

// Identities returns the catalog entries rewriting op
func Identities(op ir.Op) []Identity {
	return catalog[op]
}

// Catalog returns every identity, grouped by operator in a fixed order
func Catalog() []Identity {
	var out []Identity
	for _, op := range []ir.Op{ir.OpAdd, ir.OpSub, ir.OpXor, ir.OpAnd, ir.OpOr, ir.OpMul, ir.OpNeg, ir.OpNot} {
		out = append(out, catalog[op]...)
	}
	return out
}

// Supported reports whether op has at least one identity
func Supported(op ir.Op) bool {
	return len(catalog[op]) > 0
}
