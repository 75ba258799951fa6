// Package labyrinth flattens structured control flow into a dispatcher loop
// over scrambled case labels, padded with decoy cases that opaque
// predicates never select.
package labyrinth

import (
	"errors"
	"fmt"

	"github.com/obfusk8/obfusk8/internal/ir"
)

// ErrUnsupported marks statements the flattener leaves alone
var ErrUnsupported = errors.New("unsupported construct")

type termKind uint8

const (
	termNone termKind = iota
	termJump
	termCond
	termExit
	termReturn
)

type term struct {
	kind      termKind
	cond      ir.Expr
	then, els *block
	x         ir.Expr
}

type block struct {
	id    int
	stmts []ir.Stmt
	term  term
}

type loopCtx struct {
	label     string
	brk, cont *block
}

// builder lowers a statement run into basic blocks
type builder struct {
	blocks []*block
	cur    *block
	loops  []loopCtx
	dense  bool
}

func newBuilder() *builder {
	b := &builder{}
	b.cur = b.newBlock()
	return b
}

func (b *builder) newBlock() *block {
	blk := &block{id: len(b.blocks)}
	b.blocks = append(b.blocks, blk)
	return blk
}

// jump ends the current block with a jump unless it already ended
func (b *builder) jump(to *block) {
	if b.cur.term.kind == termNone {
		b.cur.term = term{kind: termJump, then: to}
	}
}

func (b *builder) lower(stmts []ir.Stmt) error {
	for _, s := range stmts {
		if err := b.stmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) stmt(s ir.Stmt) error {
	switch s := s.(type) {
	case *ir.Assign, *ir.ExprStmt:
		b.cur.stmts = append(b.cur.stmts, s)

	case *ir.Marker:
		if s.Kind == ir.MarkLabyrinth {
			b.dense = true
			return nil
		}
		next := b.newBlock()
		b.jump(next)
		b.cur = next

	case *ir.If:
		then, join := b.newBlock(), b.newBlock()
		els := join
		if len(s.Else) > 0 {
			els = b.newBlock()
		}
		b.cur.term = term{kind: termCond, cond: s.Cond, then: then, els: els}

		b.cur = then
		if err := b.lower(s.Then); err != nil {
			return err
		}
		b.jump(join)

		if len(s.Else) > 0 {
			b.cur = els
			if err := b.lower(s.Else); err != nil {
				return err
			}
			b.jump(join)
		}
		b.cur = join

	case *ir.Loop:
		head, body, post, exit := b.newBlock(), b.newBlock(), b.newBlock(), b.newBlock()
		b.jump(head)
		if s.Cond == nil {
			head.term = term{kind: termJump, then: body}
		} else {
			head.term = term{kind: termCond, cond: s.Cond, then: body, els: exit}
		}

		b.loops = append(b.loops, loopCtx{label: s.Label, brk: exit, cont: post})
		b.cur = body
		err := b.lower(s.Body)
		b.loops = b.loops[:len(b.loops)-1]
		if err != nil {
			return err
		}
		b.jump(post)

		b.cur = post
		if err := b.lower(s.Post); err != nil {
			return err
		}
		b.jump(head)
		b.cur = exit

	case *ir.Branch:
		target, err := b.resolve(s)
		if err != nil {
			return err
		}
		b.jump(target)
		b.cur = b.newBlock()

	case *ir.Return:
		if b.cur.term.kind == termNone {
			b.cur.term = term{kind: termReturn, x: s.X}
		}
		b.cur = b.newBlock()

	case *ir.Defer:
		return fmt.Errorf("%w: defer statement", ErrUnsupported)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupported, s)
	}
	return nil
}

func (b *builder) resolve(br *ir.Branch) (*block, error) {
	for i := len(b.loops) - 1; i >= 0; i-- {
		l := b.loops[i]
		if br.Label != "" && br.Label != l.label {
			continue
		}
		if br.Continue {
			return l.cont, nil
		}
		return l.brk, nil
	}
	return nil, fmt.Errorf("%w: branch to %q escapes the run", ErrUnsupported, br.Label)
}

// finish closes open blocks and drops blocks unreachable from the entry.
// Dead code after break or return disappears here.
func (b *builder) finish() []*block {
	for _, blk := range b.blocks {
		if blk.term.kind == termNone {
			blk.term = term{kind: termExit}
		}
	}

	seen := make(map[*block]bool)
	var order []*block
	work := []*block{b.blocks[0]}
	for len(work) > 0 {
		blk := work[0]
		work = work[1:]
		if seen[blk] {
			continue
		}
		seen[blk] = true
		order = append(order, blk)
		if blk.term.then != nil {
			work = append(work, blk.term.then)
		}
		if blk.term.els != nil {
			work = append(work, blk.term.els)
		}
	}
	return order
}

// check reports why a top-level statement cannot be flattened, or nil
func check(s ir.Stmt) error {
	var err error
	labels := map[string]bool{}
	ir.InspectStmts([]ir.Stmt{s}, func(n ir.Stmt) bool {
		if err != nil {
			return false
		}
		switch n := n.(type) {
		case *ir.Defer:
			err = fmt.Errorf("%w: defer statement", ErrUnsupported)
		case *ir.Dispatch, *ir.Virtual:
			err = fmt.Errorf("%w: already transformed", ErrUnsupported)
		case *ir.Loop:
			if n.Label != "" {
				labels[n.Label] = true
			}
		case *ir.Branch:
			if n.Label != "" && !labels[n.Label] {
				err = fmt.Errorf("%w: branch to %q escapes the run", ErrUnsupported, n.Label)
			}
		}
		return true
	})
	return err
}
