package vm

import (
	"fmt"

	"github.com/vlox-lang/vlox/utils"
)

//go:generate stringer -type=OpCode
type OpCode byte

const (
	OpReturn OpCode = iota
	OpConst
	OpNil
	OpTrue
	OpFalse
	OpPop
	OpGetLocal
	OpSetLocal
	OpGetGlobal
	OpDefGlobal
	OpSetGlobal
	OpGetUpval
	OpSetUpval
	OpGetProp
	OpSetProp
	OpGetSuper
	OpEqual
	OpGreater
	OpLess
	OpNot
	OpNeg
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpPrint
	OpJump
	OpJumpIfFalse
	OpLoop
	OpCall
	OpInvoke
	OpSuperInvoke
	OpClosure
	OpCloseUpval
	OpClass
	OpInherit
	OpMethod
)

type Chunk struct {
	code []byte
	// Contract: len(lines) == len(code)
	lines  []int
	consts []Value
}

func NewChunk() *Chunk { return &Chunk{} }

func (c *Chunk) Write(b byte, line int) {
	c.code = append(c.code, b)
	c.lines = append(c.lines, line)
}

func (c *Chunk) AddConst(const_ Value) (idx int) {
	idx = len(c.consts)
	c.consts = append(c.consts, const_)
	return
}

func (c *Chunk) readShort(offset int) uint16 {
	return uint16(c.code[offset])<<8 | uint16(c.code[offset+1])
}

func (c *Chunk) DisassembleInst(offset int) (res string, newOffset int) {
	sprintf := func(format string, a ...any) { res += fmt.Sprintf(format, a...) }

	sprintf("%04d ", offset)
	if offset > 0 && c.lines[offset] == c.lines[offset-1] {
		sprintf("   | ")
	} else {
		sprintf("%4d ", c.lines[offset])
	}

	switch inst := OpCode(c.code[offset]); inst {
	// Constant-pool operand.
	case OpConst, OpGetGlobal, OpDefGlobal, OpSetGlobal,
		OpGetProp, OpSetProp, OpGetSuper, OpClass, OpMethod:
		const_ := c.code[offset+1]
		sprintf("%-16s %4d '%s'", inst, const_, c.consts[const_])
		return res, offset + 2

	// Plain byte operand.
	case OpGetLocal, OpSetLocal, OpGetUpval, OpSetUpval, OpCall:
		sprintf("%-16s %4d", inst, c.code[offset+1])
		return res, offset + 2

	// Constant-pool operand plus argument count.
	case OpInvoke, OpSuperInvoke:
		const_, argc := c.code[offset+1], c.code[offset+2]
		sprintf("%-16s (%d args) %4d '%s'", inst, argc, const_, c.consts[const_])
		return res, offset + 3

	case OpJump, OpJumpIfFalse:
		target := offset + 3 + int(c.readShort(offset+1))
		sprintf("%-16s %4d -> %d", inst, offset, target)
		return res, offset + 3

	case OpLoop:
		target := offset + 3 - int(c.readShort(offset+1))
		sprintf("%-16s %4d -> %d", inst, offset, target)
		return res, offset + 3

	case OpClosure:
		newOffset = offset + 1
		const_ := c.code[newOffset]
		newOffset++
		sprintf("%-16s %4d %s", inst, const_, c.consts[const_])
		fun := c.consts[const_].(*VFun)
		for i := 0; i < fun.UpvalCount; i++ {
			kind := "upvalue"
			if utils.IntToBool(c.code[newOffset]) {
				kind = "local"
			}
			sprintf("\n%04d      |                     %s %d",
				newOffset, kind, c.code[newOffset+1])
			newOffset += 2
		}
		return res, newOffset

	// Nullary operators.
	default:
		sprintf("%s", inst)
		return res, offset + 1
	}
}

func (c *Chunk) Disassemble(name string) (res string) {
	res = fmt.Sprintf("== %s ==\n", name)
	for i := 0; i < len(c.code); {
		var delta string
		delta, i = c.DisassembleInst(i)
		res += delta + "\n"
	}
	return res
}
