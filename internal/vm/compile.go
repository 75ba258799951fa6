// Package vm compiles statement runs of a region into bytecode for a small
// stack machine and runs them against the region's frame.
package vm

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/obfusk8/obfusk8/internal/ir"
)

// ErrUnsupported marks statements the compiler leaves native
var ErrUnsupported = errors.New("unsupported construct")

// Options configures the compiler
type Options struct {
	// RejectPlainStrings refuses string literals that did not go through
	// the string table
	RejectPlainStrings bool
}

// CallSite is a native call an opCall instruction refers to
type CallSite struct {
	Func string
	Argc int
	Void bool
}

// SwitchTable maps dispatch labels to code offsets. Labels are sorted.
type SwitchTable struct {
	Labels []uint64
	PCs    []uint32
}

func (t *SwitchTable) lookup(label uint64) (uint32, bool) {
	i := sort.Search(len(t.Labels), func(i int) bool { return t.Labels[i] >= label })
	if i < len(t.Labels) && t.Labels[i] == label {
		return t.PCs[i], true
	}
	return 0, false
}

type loopPatch struct {
	label  string
	breaks []int
	conts  []int
}

type constKey struct {
	t    ir.Type
	bits uint64
	s    string
}

type compiler struct {
	opts Options
	prog *Program
	code []uint32

	slots  map[string]uint32
	consts map[constKey]uint32
	types  map[ir.Type]uint32
	calls  map[CallSite]uint32

	depth int
	loops []*loopPatch
	err   error
}

// Compile lowers stmts into a program. The opcode permutation and the code
// pad are drawn from rng.
func Compile(stmts []ir.Stmt, rng *rand.Rand, opts Options) (*Program, error) {
	c := &compiler{
		opts:   opts,
		prog:   &Program{Perm: permutation(rng), Seed1: rng.Uint64(), Seed2: rng.Uint64()},
		slots:  make(map[string]uint32),
		consts: make(map[constKey]uint32),
		types:  make(map[ir.Type]uint32),
		calls:  make(map[CallSite]uint32),
	}
	c.stmts(stmts)
	c.emit(opExit, 0, 0)
	if c.err != nil {
		return nil, c.err
	}

	p := c.prog
	p.pad = pad(p.Seed1, p.Seed2, len(c.code))
	p.Code = make([]uint32, len(c.code))
	for pc, w := range c.code {
		p.Code[pc] = word(p.Perm[byte(w)], w>>8) ^ p.pad[pc]
	}
	return p, nil
}

func (c *compiler) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

// emit appends an instruction and tracks the operand stack depth
func (c *compiler) emit(op opcode, arg uint32, delta int) int {
	if arg > maxOperand {
		c.fail(fmt.Errorf("vm: operand %d of %s out of range", arg, op))
	}
	c.code = append(c.code, word(byte(op), arg))
	c.depth += delta
	if c.depth > c.prog.MaxStack {
		c.prog.MaxStack = c.depth
	}
	return len(c.code) - 1
}

// patch points the jump at pc to target
func (c *compiler) patch(pc int, target int) {
	c.code[pc] = c.code[pc]&0xff | uint32(target)<<8
}

func (c *compiler) here() int { return len(c.code) }

func (c *compiler) slot(name string) uint32 {
	if s, ok := c.slots[name]; ok {
		return s
	}
	s := uint32(len(c.prog.Names))
	c.prog.Names = append(c.prog.Names, name)
	c.slots[name] = s
	return s
}

func (c *compiler) constant(v ir.Value) uint32 {
	k := constKey{t: v.T, bits: v.Bits, s: string(v.Bytes)}
	if i, ok := c.consts[k]; ok {
		return i
	}
	i := uint32(len(c.prog.Consts))
	c.prog.Consts = append(c.prog.Consts, v)
	c.consts[k] = i
	return i
}

func (c *compiler) typ(t ir.Type) uint32 {
	if i, ok := c.types[t]; ok {
		return i
	}
	i := uint32(len(c.prog.Types))
	c.prog.Types = append(c.prog.Types, t)
	c.types[t] = i
	return i
}

func (c *compiler) call(site CallSite) uint32 {
	if i, ok := c.calls[site]; ok {
		return i
	}
	i := uint32(len(c.prog.Calls))
	c.prog.Calls = append(c.prog.Calls, site)
	c.calls[site] = i
	return i
}

func (c *compiler) stmts(stmts []ir.Stmt) {
	for _, s := range stmts {
		c.stmt(s)
	}
}

func (c *compiler) stmt(s ir.Stmt) {
	switch s := s.(type) {
	case *ir.Assign:
		c.expr(s.X)
		c.emit(opStore, c.slot(s.Name), -1)

	case *ir.ExprStmt:
		c.expr(s.Call)
		c.emit(opPop, 0, -1)

	case *ir.If:
		c.expr(s.Cond)
		jz := c.emit(opJz, 0, -1)
		c.stmts(s.Then)
		if len(s.Else) == 0 {
			c.patch(jz, c.here())
			return
		}
		jmp := c.emit(opJmp, 0, 0)
		c.patch(jz, c.here())
		c.stmts(s.Else)
		c.patch(jmp, c.here())

	case *ir.Loop:
		head := c.here()
		lp := &loopPatch{label: s.Label}
		if s.Cond != nil {
			c.expr(s.Cond)
			lp.breaks = append(lp.breaks, c.emit(opJz, 0, -1))
		}
		c.loops = append(c.loops, lp)
		c.stmts(s.Body)
		c.loops = c.loops[:len(c.loops)-1]

		cont := c.here()
		c.stmts(s.Post)
		c.patch(c.emit(opJmp, 0, 0), head)
		for _, pc := range lp.conts {
			c.patch(pc, cont)
		}
		for _, pc := range lp.breaks {
			c.patch(pc, c.here())
		}

	case *ir.Branch:
		lp := c.resolve(s)
		if lp == nil {
			return
		}
		pc := c.emit(opJmp, 0, 0)
		if s.Continue {
			lp.conts = append(lp.conts, pc)
		} else {
			lp.breaks = append(lp.breaks, pc)
		}

	case *ir.Return:
		if s.X == nil {
			c.emit(opRetVoid, 0, 0)
			return
		}
		c.expr(s.X)
		c.emit(opRet, 0, -1)

	case *ir.Marker:
		if s.Kind == ir.MarkNop {
			c.emit(opNop, 0, 0)
		}

	case *ir.Dispatch:
		c.dispatch(s)

	case *ir.Defer:
		c.fail(fmt.Errorf("%w: defer statement", ErrUnsupported))
	default:
		c.fail(fmt.Errorf("%w: %T", ErrUnsupported, s))
	}
}

func (c *compiler) resolve(br *ir.Branch) *loopPatch {
	for i := len(c.loops) - 1; i >= 0; i-- {
		if br.Label == "" || br.Label == c.loops[i].label {
			return c.loops[i]
		}
	}
	c.fail(fmt.Errorf("%w: branch to %q escapes the run", ErrUnsupported, br.Label))
	return nil
}

// dispatch lowers a flattened loop onto a switch table. The state variable
// holds the current case label while its body runs.
func (c *compiler) dispatch(d *ir.Dispatch) {
	state, ghost := c.slot(d.State), c.slot(d.Ghost)
	c.emit(opConst, c.constant(ir.IntValue(ir.Uint64, d.GhostSeed)), 1)
	c.emit(opStore, ghost, -1)
	c.emit(opConst, c.constant(ir.IntValue(ir.Uint64, d.Entry)), 1)
	c.emit(opStore, state, -1)

	head := c.here()
	c.emit(opLoad, state, 1)
	table := uint32(len(c.prog.Tables))
	c.prog.Tables = append(c.prog.Tables, SwitchTable{})
	c.emit(opSwitch, table, -1)

	var exits []int
	entries := make(map[uint64]uint32, len(d.Cases))
	goTo := func(label uint64) {
		c.emit(opConst, c.constant(ir.IntValue(ir.Uint64, label)), 1)
		c.emit(opStore, state, -1)
		c.patch(c.emit(opJmp, 0, 0), head)
	}
	for _, cs := range d.Cases {
		entries[cs.Label] = uint32(c.here())
		c.stmts(cs.Body)
		switch cs.Next.Kind {
		case ir.TransferJump:
			goTo(cs.Next.Then)
		case ir.TransferCond:
			c.expr(cs.Next.Cond)
			jz := c.emit(opJz, 0, -1)
			goTo(cs.Next.Then)
			c.patch(jz, c.here())
			goTo(cs.Next.Else)
		case ir.TransferExit:
			exits = append(exits, c.emit(opJmp, 0, 0))
		case ir.TransferReturn:
			c.stmt(&ir.Return{X: cs.Next.X})
		default:
			c.fail(fmt.Errorf("%w: case %#x", ir.ErrBadDispatch, cs.Label))
		}
	}
	for _, pc := range exits {
		c.patch(pc, c.here())
	}

	t := &c.prog.Tables[table]
	for l := range entries {
		t.Labels = append(t.Labels, l)
	}
	sort.Slice(t.Labels, func(i, j int) bool { return t.Labels[i] < t.Labels[j] })
	for _, l := range t.Labels {
		t.PCs = append(t.PCs, entries[l])
	}
}

func (c *compiler) expr(e ir.Expr) {
	switch e := e.(type) {
	case *ir.Const:
		if e.Val.T == ir.String && c.opts.RejectPlainStrings {
			c.fail(fmt.Errorf("%w: plain string literal %q", ErrUnsupported, e.Val.Bytes))
		}
		c.emit(opConst, c.constant(e.Val), 1)
	case *ir.Var:
		c.emit(opLoad, c.slot(e.Name), 1)
	case *ir.Unary:
		c.expr(e.X)
		c.emit(opUnary, uint32(e.Op), 0)
	case *ir.Binary:
		if e.Op == ir.OpLAnd || e.Op == ir.OpLOr {
			c.logical(e)
			return
		}
		c.expr(e.X)
		c.expr(e.Y)
		c.emit(opBin, uint32(e.Op), -1)
	case *ir.Conv:
		c.expr(e.X)
		c.emit(opConv, c.typ(e.T), 0)
	case *ir.Call:
		for _, a := range e.Args {
			c.expr(a)
		}
		site := CallSite{Func: e.Func, Argc: len(e.Args), Void: e.T == ir.Void}
		c.emit(opCall, c.call(site), 1-len(e.Args))
	case *ir.Let:
		c.expr(e.X)
		c.emit(opStore, c.slot(e.Name), -1)
		c.expr(e.Body)
	case *ir.Seal:
		c.expr(e.X)
	case *ir.StrRef:
		c.emit(opStr, uint32(e.Index), 1)
	default:
		c.fail(fmt.Errorf("%w: expression %T", ErrUnsupported, e))
	}
}

// logical keeps && and || short-circuiting: the left value decides whether
// the right side runs at all
func (c *compiler) logical(e *ir.Binary) {
	c.expr(e.X)
	c.emit(opDup, 0, 1)
	jump := opJz
	if e.Op == ir.OpLOr {
		jump = opJnz
	}
	skip := c.emit(jump, 0, -1)
	c.emit(opPop, 0, -1)
	c.expr(e.Y)
	c.patch(skip, c.here())
}

// Check reports why a top-level statement cannot be compiled, or nil
func Check(s ir.Stmt, opts Options) error {
	c := &compiler{
		opts:   opts,
		prog:   &Program{},
		slots:  make(map[string]uint32),
		consts: make(map[constKey]uint32),
		types:  make(map[ir.Type]uint32),
		calls:  make(map[CallSite]uint32),
	}
	c.stmt(s)
	return c.err
}
