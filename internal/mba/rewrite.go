package mba

import (
	"fmt"
	"math/rand"

	"github.com/obfusk8/obfusk8/internal/ir"
)

// DefaultDepth is how many levels of identities are stacked on a site
const DefaultDepth = 2

// Options configures a Rewriter
type Options struct {
	Depth int
	// TempPrefix names the temporaries operands are bound to
	TempPrefix string
	// NoConstants leaves integer constants inside rewritten sites alone
	NoConstants bool
}

// Rewriter substitutes protected arithmetic with MBA expressions. Choices
// come from rng, so a seeded generator replays the same output.
type Rewriter struct {
	rng   *rand.Rand
	opts  Options
	temps int

	// Sites counts rewritten source operations
	Sites int
	// Rewrites pairs every rewritten operation with its replacement
	Rewrites []Site
}

// Site is one rewritten operation
type Site struct {
	Orig *ir.Binary
	Out  ir.Expr
}

// New returns a Rewriter drawing from rng
func New(rng *rand.Rand, opts Options) *Rewriter {
	if opts.Depth <= 0 {
		opts.Depth = DefaultDepth
	}
	if opts.TempPrefix == "" {
		opts.TempPrefix = "$m"
	}
	return &Rewriter{rng: rng, opts: opts}
}

// Rewrite returns e with every protected binary node replaced. Operands with
// effects are bound to temporaries first, so they still run exactly once
// and in source order.
func (rw *Rewriter) Rewrite(e ir.Expr) ir.Expr {
	return ir.MapExpr(e, rw.site)
}

// RewriteStmts applies Rewrite to every expression of a statement list
func (rw *Rewriter) RewriteStmts(stmts []ir.Stmt) []ir.Stmt {
	return ir.MapStmts(stmts, rw.site)
}

func (rw *Rewriter) site(x ir.Expr) ir.Expr {
	b, ok := x.(*ir.Binary)
	if !ok || !b.Protect || !Supported(b.Op) || !b.X.Type().IsInt() {
		return x
	}
	rw.Sites++
	out := rw.expand(b.Op, b.X, b.Y, rw.opts.Depth)
	rw.Rewrites = append(rw.Rewrites, Site{Orig: b, Out: out})
	return out
}

func (rw *Rewriter) temp() string {
	rw.temps++
	return fmt.Sprintf("%s%d", rw.opts.TempPrefix, rw.temps)
}

type binding struct {
	name string
	x    ir.Expr
}

// operand makes x safe to duplicate: leaves stay, constants get encoded,
// anything else is bound to a temporary
func (rw *Rewriter) operand(x ir.Expr, lets *[]binding) ir.Expr {
	if x == nil {
		return nil
	}
	if c, ok := x.(*ir.Const); ok {
		if rw.opts.NoConstants {
			return c
		}
		return rw.Constant(c)
	}
	if ir.Leaf(x) {
		return x
	}
	name := rw.temp()
	*lets = append(*lets, binding{name: name, x: x})
	return &ir.Var{Name: name, T: x.Type()}
}

func (rw *Rewriter) expand(op ir.Op, x, y ir.Expr, depth int) ir.Expr {
	ids := Identities(op)
	if depth <= 0 || len(ids) == 0 {
		if y == nil {
			return &ir.Unary{Op: op, X: x}
		}
		return &ir.Binary{Op: op, X: x, Y: y}
	}

	var lets []binding
	x = rw.operand(x, &lets)
	y = rw.operand(y, &lets)

	out := ids[rw.rng.Intn(len(ids))].Build(x, y)
	if depth > 1 {
		out = rw.deepen(out, depth-1)
	}

	for i := len(lets) - 1; i >= 0; i-- {
		out = &ir.Let{Name: lets[i].name, X: lets[i].x, Body: out}
	}
	return out
}

// deepen rewrites the nodes an identity produced, one level down
func (rw *Rewriter) deepen(e ir.Expr, depth int) ir.Expr {
	return ir.MapExpr(e, func(x ir.Expr) ir.Expr {
		switch n := x.(type) {
		case *ir.Binary:
			if Supported(n.Op) && n.X.Type().IsInt() {
				return rw.expand(n.Op, n.X, n.Y, depth)
			}
		case *ir.Unary:
			if Supported(n.Op) && n.X.Type().IsInt() && rw.rng.Intn(2) == 0 {
				return rw.expand(n.Op, n.X, nil, depth)
			}
		}
		return x
	})
}

// Constant hides an integer constant behind an expression that computes it:
// either (c^k)^k for a random key k or a rotation pair rotl(rotr(c, r), r).
func (rw *Rewriter) Constant(c *ir.Const) ir.Expr {
	t := c.Val.T
	if !t.IsInt() {
		return c
	}
	v := c.Val.Bits
	if rw.rng.Intn(2) == 0 {
		k := rw.rng.Uint64() & t.Mask()
		return bin(ir.OpXor, lit(t, v^k), lit(t, k))
	}
	return rotation(t, v, 1+uint(rw.rng.Intn(int(t.Width)-1)))
}

// rotation renders v as (r << s) | (r >> (w - s)) where r = rotr(v, s). The
// shifts run on the unsigned type of the same width so signed values do not
// sign-fill.
func rotation(t ir.Type, v uint64, s uint) ir.Expr {
	w := uint(t.Width)
	mask := t.Mask()
	r := ((v >> s) | (v << (w - s))) & mask

	u := ir.Type{Kind: ir.KindInt, Width: t.Width}
	var out ir.Expr = bin(ir.OpOr,
		bin(ir.OpShl, lit(u, r), lit(ir.Uint64, uint64(s))),
		bin(ir.OpShr, lit(u, r), lit(ir.Uint64, uint64(w-s))))
	if t.Signed {
		out = &ir.Conv{X: out, T: t}
	}
	return out
}
