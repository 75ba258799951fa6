package vm

import (
	"math/rand"

	"github.com/obfusk8/obfusk8/internal/ir"
	"github.com/obfusk8/obfusk8/pkg/types"
)

// Virtualizer replaces maximal runs of compilable top-level statements with
// bytecode programs
type Virtualizer struct {
	rng  *rand.Rand
	opts Options

	Sites        int
	Programs     []*Program
	Degradations []types.Degradation
}

// NewVirtualizer returns a Virtualizer drawing permutations and pads from rng
func NewVirtualizer(rng *rand.Rand, opts Options) *Virtualizer {
	return &Virtualizer{rng: rng, opts: opts}
}

// Virtualize returns r's body with compilable runs replaced by ir.Virtual
// statements
func (v *Virtualizer) Virtualize(r *ir.Region) ([]ir.Stmt, error) {
	var out, run []ir.Stmt
	flush := func() error {
		if len(run) == 0 {
			return nil
		}
		p, err := Compile(run, v.rng, v.opts)
		if err != nil {
			return err
		}
		v.Programs = append(v.Programs, p)
		v.Sites++
		out = append(out, &ir.Virtual{Code: p})
		run = nil
		return nil
	}

	for _, s := range r.Body {
		if err := Check(s, v.opts); err != nil {
			if ferr := flush(); ferr != nil {
				return nil, ferr
			}
			v.Degradations = append(v.Degradations, types.Degradation{
				Pass:   types.PassVM,
				Pos:    r.Pos,
				Reason: err.Error(),
			})
			out = append(out, s)
			continue
		}
		run = append(run, s)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}
