package vm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/obfusk8/obfusk8/internal/ir"
)

// Errors raised by the machine itself
var (
	ErrInvalidInstruction = errors.New("invalid instruction")
	ErrStack              = errors.New("operand stack out of bounds")
)

// checkEvery is how many instructions run between context checks
const checkEvery = 1024

// Program is compiled bytecode. It is immutable after Compile and safe for
// concurrent Run calls; every call gets its own machine.
type Program struct {
	// Code holds permuted opcodes XORed with the rolling key pad
	Code  []uint32
	Perm  [256]byte
	Seed1 uint64
	Seed2 uint64

	Consts   []ir.Value
	Names    []string
	Types    []ir.Type
	Calls    []CallSite
	Tables   []SwitchTable
	MaxStack int

	once     sync.Once
	pad      []uint32
	handlers [256]handler
}

// State is the lifecycle of one invocation
type State uint8

const (
	StateInit State = iota
	StateRunning
	StateReturned
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateReturned:
		return "returned"
	case StateFaulted:
		return "faulted"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Fault is a failed invocation. It reads and compares as the error that
// caused it.
type Fault struct {
	PC  int
	Err error
}

func (f *Fault) Error() string { return f.Err.Error() }

func (f *Fault) Unwrap() error { return f.Err }

type handler func(m *machine, arg uint32) error

var logical = [numOpcodes]handler{
	opNop: func(*machine, uint32) error { return nil },
	opConst: func(m *machine, arg uint32) error {
		return m.push(m.p.Consts[arg])
	},
	opLoad: func(m *machine, arg uint32) error {
		v, err := m.fr.Get(m.p.Names[arg])
		if err != nil {
			return err
		}
		return m.push(v)
	},
	opStore: func(m *machine, arg uint32) error {
		v, err := m.pop()
		if err != nil {
			return err
		}
		m.fr.Set(m.p.Names[arg], v)
		return nil
	},
	opBin: func(m *machine, arg uint32) error {
		y, err := m.pop()
		if err != nil {
			return err
		}
		x, err := m.pop()
		if err != nil {
			return err
		}
		v, err := ir.Apply(ir.Op(arg), x, y)
		if err != nil {
			return err
		}
		return m.push(v)
	},
	opUnary: func(m *machine, arg uint32) error {
		x, err := m.pop()
		if err != nil {
			return err
		}
		v, err := ir.ApplyUnary(ir.Op(arg), x)
		if err != nil {
			return err
		}
		return m.push(v)
	},
	opConv: func(m *machine, arg uint32) error {
		x, err := m.pop()
		if err != nil {
			return err
		}
		v, err := ir.Cast(x, m.p.Types[arg])
		if err != nil {
			return err
		}
		return m.push(v)
	},
	opCall: func(m *machine, arg uint32) error {
		site := m.p.Calls[arg]
		if m.sp < site.Argc {
			return ErrStack
		}
		args := make([]ir.Value, site.Argc)
		copy(args, m.stack[m.sp-site.Argc:m.sp])
		m.sp -= site.Argc
		v, err := m.fr.Call(site.Func, args)
		if err != nil {
			return err
		}
		if site.Void {
			v = ir.Value{}
		}
		return m.push(v)
	},
	opStr: func(m *machine, arg uint32) error {
		v, err := m.fr.String(int(arg))
		if err != nil {
			return err
		}
		return m.push(v)
	},
	opPop: func(m *machine, _ uint32) error {
		_, err := m.pop()
		return err
	},
	opDup: func(m *machine, _ uint32) error {
		if m.sp == 0 {
			return ErrStack
		}
		return m.push(m.stack[m.sp-1])
	},
	opJmp: func(m *machine, arg uint32) error {
		m.ip = int(arg)
		return nil
	},
	opJz: func(m *machine, arg uint32) error {
		v, err := m.pop()
		if err != nil {
			return err
		}
		if !v.Truth() {
			m.ip = int(arg)
		}
		return nil
	},
	opJnz: func(m *machine, arg uint32) error {
		v, err := m.pop()
		if err != nil {
			return err
		}
		if v.Truth() {
			m.ip = int(arg)
		}
		return nil
	},
	opSwitch: func(m *machine, arg uint32) error {
		v, err := m.pop()
		if err != nil {
			return err
		}
		pc, ok := m.p.Tables[arg].lookup(v.Uint64())
		if !ok {
			return fmt.Errorf("%w: %#x", ir.ErrBadDispatch, v.Uint64())
		}
		m.ip = int(pc)
		return nil
	},
	opRet: func(m *machine, _ uint32) error {
		v, err := m.pop()
		if err != nil {
			return err
		}
		m.state = StateReturned
		m.done = ir.Completion{Returned: true, Value: v}
		return nil
	},
	opRetVoid: func(m *machine, _ uint32) error {
		m.state = StateReturned
		m.done = ir.Completion{Returned: true}
		return nil
	},
	opExit: func(m *machine, _ uint32) error {
		m.state = StateReturned
		return nil
	},
}

// prepare rebuilds the pad and the physical dispatch table. Programs
// decoded from an artifact only carry the exported fields.
func (p *Program) prepare() {
	p.once.Do(func() {
		if len(p.pad) != len(p.Code) {
			p.pad = pad(p.Seed1, p.Seed2, len(p.Code))
		}
		for op, h := range logical {
			p.handlers[p.Perm[op]] = h
		}
	})
}

type machine struct {
	p     *Program
	fr    *ir.Frame
	stack []ir.Value
	sp    int
	ip    int
	state State
	done  ir.Completion
}

func (m *machine) push(v ir.Value) error {
	if m.sp >= len(m.stack) {
		return ErrStack
	}
	m.stack[m.sp] = v
	m.sp++
	return nil
}

func (m *machine) pop() (ir.Value, error) {
	if m.sp == 0 {
		return ir.Value{}, ErrStack
	}
	m.sp--
	v := m.stack[m.sp]
	m.stack[m.sp] = ir.Value{}
	return v, nil
}

// Run executes the program against fr. It implements ir.Runner.
func (p *Program) Run(fr *ir.Frame) (ir.Completion, error) {
	return p.Exec(context.Background(), fr)
}

// Exec executes the program against fr until it returns, leaves the run or
// faults. Variables live in fr so native code before and after the run
// sees the same bindings.
func (p *Program) Exec(ctx context.Context, fr *ir.Frame) (ir.Completion, error) {
	p.prepare()
	m := &machine{p: p, fr: fr, stack: make([]ir.Value, p.MaxStack)}
	return m.run(ctx)
}

func (m *machine) run(ctx context.Context) (ir.Completion, error) {
	m.state = StateRunning
	code, pad := m.p.Code, m.p.pad
	for steps := 0; m.state == StateRunning; steps++ {
		if steps%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return m.fault(err)
			}
		}
		if m.ip < 0 || m.ip >= len(code) {
			return m.fault(fmt.Errorf("%w: pc %d out of range", ErrInvalidInstruction, m.ip))
		}
		w := code[m.ip] ^ pad[m.ip]
		h := m.p.handlers[byte(w)]
		if h == nil {
			return m.fault(fmt.Errorf("%w: opcode %#02x at pc %d", ErrInvalidInstruction, byte(w), m.ip))
		}
		m.ip++
		if err := h(m, w>>8); err != nil {
			m.ip--
			return m.fault(err)
		}
	}
	return m.done, nil
}

func (m *machine) fault(err error) (ir.Completion, error) {
	m.state = StateFaulted
	return ir.Completion{}, &Fault{PC: m.ip, Err: err}
}

// String summarizes the program for region listings
func (p *Program) String() string {
	return fmt.Sprintf("vm{%d words, %d consts, %d slots}", len(p.Code), len(p.Consts), len(p.Names))
}
