package labyrinth

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/obfusk8/obfusk8/internal/ir"
	"github.com/obfusk8/obfusk8/internal/keystore"
	"github.com/obfusk8/obfusk8/pkg/types"
)

// DefaultDecoyRatio is the number of decoy cases per real case when the
// region has no obf.Labyrinth() marker. The marker raises it to one.
const DefaultDecoyRatio = 0.5

// Options configures a Flattener
type Options struct {
	DecoyRatio float64
}

// Flattener turns maximal runs of top-level statements into dispatch loops.
// Statements it cannot lower are kept in place and recorded.
type Flattener struct {
	labels *keystore.Range
	rng    *rand.Rand
	opts   Options
	pos    string

	Sites        int
	Degradations []types.Degradation
	Graphs       []*Graph
}

// New returns a Flattener drawing case labels from labels
func New(labels *keystore.Range, rng *rand.Rand, opts Options) *Flattener {
	if opts.DecoyRatio <= 0 {
		opts.DecoyRatio = DefaultDecoyRatio
	}
	return &Flattener{labels: labels, rng: rng, opts: opts}
}

// MaxDecoyRatio bounds Options.DecoyRatio
const MaxDecoyRatio = 8.0

// Labels returns how many labels flattening body with the given decoy
// ratio can consume at most. A statement opens at most four blocks and
// every run adds its entry block, so a body of n statements has at most
// 5n blocks; each run then rounds its decoy count up by one.
func Labels(body []ir.Stmt, ratio float64) uint64 {
	var n uint64
	ir.InspectStmts(body, func(ir.Stmt) bool {
		n++
		return true
	})
	if ratio <= 0 {
		ratio = DefaultDecoyRatio
	}
	ratio = math.Max(ratio, 1)
	blocks := 5*n + 1
	return blocks + uint64(math.Ceil(float64(blocks)*ratio)) + n + 4
}

// Flatten returns r's body with every flattenable run replaced by a
// dispatch loop
func (f *Flattener) Flatten(r *ir.Region) ([]ir.Stmt, error) {
	f.pos = r.Pos
	var out, run []ir.Stmt

	flush := func() error {
		if len(run) == 0 {
			return nil
		}
		d, err := f.run(run, r.Params)
		if err != nil {
			return err
		}
		out = append(out, d)
		run = nil
		return nil
	}

	for _, s := range r.Body {
		if err := check(s); err != nil {
			if ferr := flush(); ferr != nil {
				return nil, ferr
			}
			f.degrade(err)
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

func (f *Flattener) degrade(err error) {
	f.Degradations = append(f.Degradations, types.Degradation{
		Pass:   types.PassControlFlow,
		Pos:    f.pos,
		Reason: err.Error(),
	})
}

func (f *Flattener) run(stmts []ir.Stmt, params []ir.Param) (*ir.Dispatch, error) {
	b := newBuilder()
	if err := b.lower(stmts); err != nil {
		return nil, err
	}
	blocks := b.finish()

	n := len(f.Graphs)
	d := &ir.Dispatch{
		State:     fmt.Sprintf("$st%d", n),
		Ghost:     fmt.Sprintf("$gh%d", n),
		GhostSeed: f.rng.Uint64(),
	}
	state := &ir.Var{Name: d.State, T: ir.Uint64}
	ghost := &ir.Var{Name: d.Ghost, T: ir.Uint64}

	op := &opaque{rng: f.rng, vars: []*ir.Var{ghost, state}}
	for _, p := range params {
		if p.T.IsInt() {
			op.vars = append(op.vars, &ir.Var{Name: p.Name, T: p.T})
		}
	}

	label := make(map[*block]uint64, len(blocks))
	for _, blk := range blocks {
		l, err := f.labels.NextScrambled()
		if err != nil {
			return nil, err
		}
		label[blk] = l
	}

	ratio := f.opts.DecoyRatio
	if b.dense && ratio < 1 {
		ratio = 1
	}
	decoys := make([]uint64, int(math.Max(1, math.Ceil(float64(len(blocks))*ratio))))
	for i := range decoys {
		l, err := f.labels.NextScrambled()
		if err != nil {
			return nil, err
		}
		decoys[i] = l
	}
	decoy := func() uint64 { return decoys[f.rng.Intn(len(decoys))] }

	d.Entry = label[blocks[0]]
	g := newGraph(d.Entry)
	g.Blocks = len(blocks)

	for _, blk := range blocks {
		body := append(append([]ir.Stmt(nil), blk.stmts...), f.mutateGhost(ghost, state))
		next, edges := f.transfer(blk.term, label, op, decoy)
		d.Cases = append(d.Cases, &ir.Case{Label: label[blk], Body: body, Next: next})
		g.add(label[blk], false, edges)
	}

	all := make([]uint64, 0, len(blocks)+len(decoys))
	for _, blk := range blocks {
		all = append(all, label[blk])
	}
	all = append(all, decoys...)
	for _, l := range decoys {
		c := f.decoy(l, blocks, ghost, state, op, all)
		d.Cases = append(d.Cases, c)
		var edges []Edge
		if c.Next.Kind == ir.TransferCond {
			edges = []Edge{{To: c.Next.Then}, {To: c.Next.Else}}
		} else {
			edges = []Edge{{To: c.Next.Then}}
		}
		g.add(l, true, edges)
	}

	f.rng.Shuffle(len(d.Cases), func(i, j int) { d.Cases[i], d.Cases[j] = d.Cases[j], d.Cases[i] })
	f.Graphs = append(f.Graphs, g)
	f.Sites++
	return d, nil
}

// transfer encodes a block terminator. Plain jumps are mostly routed
// through an opaque predicate with a decoy on the dead side.
func (f *Flattener) transfer(t term, label map[*block]uint64, op *opaque, decoy func() uint64) (ir.Transfer, []Edge) {
	switch t.kind {
	case termJump:
		to := label[t.then]
		if f.rng.Intn(4) == 0 {
			return ir.Transfer{Kind: ir.TransferJump, Then: to}, []Edge{{To: to}}
		}
		dead := decoy()
		if f.rng.Intn(2) == 0 {
			return ir.Transfer{Kind: ir.TransferCond, Cond: op.predicate(true), Then: to, Else: dead},
				[]Edge{{To: to}, {To: dead, Dead: true}}
		}
		return ir.Transfer{Kind: ir.TransferCond, Cond: op.predicate(false), Then: dead, Else: to},
			[]Edge{{To: dead, Dead: true}, {To: to}}

	case termCond:
		cond := t.cond
		switch f.rng.Intn(3) {
		case 1:
			cond = bin(ir.OpLAnd, cond, op.predicate(true))
		case 2:
			cond = bin(ir.OpLOr, cond, op.predicate(false))
		}
		then, els := label[t.then], label[t.els]
		return ir.Transfer{Kind: ir.TransferCond, Cond: cond, Then: then, Else: els},
			[]Edge{{To: then}, {To: els}}

	case termReturn:
		return ir.Transfer{Kind: ir.TransferReturn, X: t.x}, nil
	}
	return ir.Transfer{Kind: ir.TransferExit}, nil
}

// mutateGhost keeps the ghost variable changing on every real case
func (f *Flattener) mutateGhost(ghost, state *ir.Var) ir.Stmt {
	k := &ir.Const{Val: ir.IntValue(ir.Uint64, f.rng.Uint64()|1)}
	c := &ir.Const{Val: ir.IntValue(ir.Uint64, f.rng.Uint64())}
	var x ir.Expr
	if f.rng.Intn(2) == 0 {
		x = bin(ir.OpAdd, bin(ir.OpMul, ghost, k), c)
	} else {
		x = bin(ir.OpXor, ghost, bin(ir.OpMul, state, k))
	}
	return &ir.Assign{Name: ghost.Name, T: ir.Uint64, X: x}
}

// decoy builds a case no live edge reaches. Its body borrows statements
// from a real block so it reads like one.
func (f *Flattener) decoy(l uint64, blocks []*block, ghost, state *ir.Var, op *opaque, all []uint64) *ir.Case {
	var body []ir.Stmt
	if src := blocks[f.rng.Intn(len(blocks))]; len(src.stmts) > 0 && f.rng.Intn(2) == 0 {
		for _, s := range src.stmts {
			if a, ok := s.(*ir.Assign); ok {
				body = append(body, &ir.Assign{Name: a.Name, T: a.T, X: a.X})
				continue
			}
			body = append(body, s)
		}
	}
	body = append(body, f.mutateGhost(ghost, state))

	pick := func() uint64 { return all[f.rng.Intn(len(all))] }
	next := ir.Transfer{Kind: ir.TransferJump, Then: pick()}
	if f.rng.Intn(2) == 0 {
		next = ir.Transfer{Kind: ir.TransferCond, Cond: op.predicate(f.rng.Intn(2) == 0), Then: pick(), Else: pick()}
	}
	return &ir.Case{Label: l, Body: body, Next: next}
}

// IsUnsupported reports whether err is a construct the flattener skips
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupported)
}
