package vm

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/obfusk8/obfusk8/internal/ir"
)

// opcode is a logical instruction. The byte stored in code is its image
// under the program's permutation.
type opcode uint8

const (
	opNop opcode = iota
	opConst
	opLoad
	opStore
	opBin
	opUnary
	opConv
	opCall
	opStr
	opPop
	opDup
	opJmp
	opJz
	opJnz
	opSwitch
	opRet
	opRetVoid
	opExit
	numOpcodes
)

var opcodeNames = [numOpcodes]string{
	opNop:     "nop",
	opConst:   "const",
	opLoad:    "load",
	opStore:   "store",
	opBin:     "bin",
	opUnary:   "unary",
	opConv:    "conv",
	opCall:    "call",
	opStr:     "str",
	opPop:     "pop",
	opDup:     "dup",
	opJmp:     "jmp",
	opJz:      "jz",
	opJnz:     "jnz",
	opSwitch:  "switch",
	opRet:     "ret",
	opRetVoid: "retvoid",
	opExit:    "exit",
}

func (o opcode) String() string {
	if o < numOpcodes {
		return opcodeNames[o]
	}
	return fmt.Sprintf("op%d", uint8(o))
}

// maxOperand is the largest operand a word can carry
const maxOperand = 1<<24 - 1

func word(op byte, arg uint32) uint32 {
	return uint32(op) | arg<<8
}

// permutation shuffles the opcode byte space for one program
func permutation(rng *rand.Rand) [256]byte {
	var p [256]byte
	for i, j := range rng.Perm(256) {
		p[i] = byte(j)
	}
	return p
}

// RollingKey produces the pad the code words are XORed with: each byte is
// the sum of the previous two plus the position.
type RollingKey struct {
	a, b uint64
	pos  uint64
}

// NewRollingKey starts a key stream from two seeds
func NewRollingKey(seed1, seed2 uint64) *RollingKey {
	return &RollingKey{a: seed1, b: seed2}
}

// Next returns the next key byte
func (rk *RollingKey) Next() uint8 {
	next := (rk.a + rk.b + rk.pos) % 256
	rk.a, rk.b = rk.b, next
	rk.pos++
	return uint8(next)
}

// pad returns n words of key stream
func pad(seed1, seed2 uint64, n int) []uint32 {
	rk := NewRollingKey(seed1, seed2)
	out := make([]uint32, n)
	for i := range out {
		out[i] = uint32(rk.Next()) | uint32(rk.Next())<<8 | uint32(rk.Next())<<16 | uint32(rk.Next())<<24
	}
	return out
}

// Disassemble renders the program's decoded instructions one per line
func (p *Program) Disassemble() string {
	p.prepare()
	var inv [256]opcode
	for i := range inv {
		inv[i] = numOpcodes
	}
	for op := opcode(0); op < numOpcodes; op++ {
		inv[p.Perm[op]] = op
	}

	var sb strings.Builder
	for pc := range p.Code {
		w := p.Code[pc] ^ p.pad[pc]
		op, arg := inv[byte(w)], w>>8
		fmt.Fprintf(&sb, "%04d  %-8s", pc, op)
		switch op {
		case opConst:
			fmt.Fprintf(&sb, "%s", p.Consts[arg])
		case opLoad, opStore:
			fmt.Fprintf(&sb, "%s", p.Names[arg])
		case opBin, opUnary:
			fmt.Fprintf(&sb, "%s", ir.Op(arg))
		case opConv:
			fmt.Fprintf(&sb, "%s", p.Types[arg])
		case opCall:
			fmt.Fprintf(&sb, "%s/%d", p.Calls[arg].Func, p.Calls[arg].Argc)
		case opStr:
			fmt.Fprintf(&sb, "strtab[%d]", arg)
		case opJmp, opJz, opJnz:
			fmt.Fprintf(&sb, "%04d", arg)
		case opSwitch:
			fmt.Fprintf(&sb, "table %d (%d cases)", arg, len(p.Tables[arg].Labels))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
