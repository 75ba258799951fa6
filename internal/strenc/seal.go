package strenc

import (
	"math/rand"

	"github.com/obfusk8/obfusk8/internal/ir"
	"github.com/obfusk8/obfusk8/pkg/types"
)

// Mode selects which literals a Sealer encrypts
type Mode int

const (
	// Annotated encrypts obf.Str arguments only
	Annotated Mode = iota
	// AllLiterals encrypts every string constant in the region
	AllLiterals
)

// Sealer moves string literals of a region into an encrypted Table
type Sealer struct {
	Table *Table

	rng  *rand.Rand
	mode Mode
	pos  string
	err  error

	Sites        int
	Degradations []types.Degradation
}

// NewSealer returns a Sealer that adds entries to table. pos labels
// degradations.
func NewSealer(table *Table, rng *rand.Rand, mode Mode, pos string) *Sealer {
	return &Sealer{Table: table, rng: rng, mode: mode, pos: pos}
}

// Seal returns stmts with eligible literals replaced by string table reads.
// A non-constant obf.Str argument is left in place and recorded.
func (s *Sealer) Seal(stmts []ir.Stmt) ([]ir.Stmt, error) {
	out := ir.MapStmts(stmts, s.rewrite)
	if s.err != nil {
		return nil, s.err
	}
	return out, nil
}

func (s *Sealer) rewrite(e ir.Expr) ir.Expr {
	if s.err != nil {
		return e
	}
	switch x := e.(type) {
	case *ir.Const:
		if s.mode == AllLiterals && x.Val.T == ir.String {
			return s.encrypt(x)
		}
	case *ir.Seal:
		switch inner := x.X.(type) {
		case *ir.StrRef:
			return inner
		case *ir.Const:
			return s.encrypt(inner)
		}
		s.Degradations = append(s.Degradations, types.Degradation{
			Pass:   types.PassStrings,
			Pos:    s.pos,
			Reason: "obf.Str argument is not a constant: " + ir.FormatExpr(x.X),
		})
		return x.X
	}
	return e
}

func (s *Sealer) encrypt(c *ir.Const) ir.Expr {
	idx, err := s.Table.Add(c.Val.Bytes, s.rng.Uint64())
	if err != nil {
		s.err = err
		return c
	}
	s.Sites++
	return &ir.StrRef{Index: idx}
}
