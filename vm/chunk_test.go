package vm

import (
	"testing"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/stretchr/testify/assert"
)

func TestDisassembleHandWritten(t *testing.T) {
	t.Parallel()
	c := NewChunk()
	n := c.AddConst(VNum(1.2))
	c.Write(byte(OpConst), 123)
	c.Write(byte(n), 123)
	c.Write(byte(OpReturn), 123)

	assert.Equal(t, heredoc.Doc(`
        == test ==
        0000  123 OpConst             0 '1.2'
        0002    | OpReturn
    `), c.Disassemble("test"))
}

func TestDisassembleCompiled(t *testing.T) {
	t.Parallel()
	vm_ := NewVM()
	fun, err := NewParser(vm_, false).Compile("print 1 + 2;\n")
	assert.Nil(t, err)
	assert.Equal(t, heredoc.Doc(`
        == <script> ==
        0000    1 OpConst             0 '1'
        0002    | OpConst             1 '2'
        0004    | OpAdd
        0005    | OpPrint
        0006    2 OpNil
        0007    | OpReturn
    `), fun.Chunk.Disassemble(fun.String()))
}

func TestDisassembleJumps(t *testing.T) {
	t.Parallel()
	vm_ := NewVM()
	fun, err := NewParser(vm_, false).Compile("if (true) print 1;\n")
	assert.Nil(t, err)
	assert.Equal(t, heredoc.Doc(`
        == <script> ==
        0000    1 OpTrue
        0001    | OpJumpIfFalse       1 -> 11
        0004    | OpPop
        0005    | OpConst             0 '1'
        0007    | OpPrint
        0008    | OpJump              8 -> 12
        0011    | OpPop
        0012    2 OpNil
        0013    | OpReturn
    `), fun.Chunk.Disassemble(fun.String()))
}

// Compiling the same source must yield the same bytecode, byte for
// byte; the disassembly doubles as a regression anchor for the
// emitter's instruction ordering (inheritance included).
func TestCompileDeterministic(t *testing.T) {
	t.Parallel()
	src := heredoc.Doc(`
        class A { init(n) { this.n = n; } }
        class B < A {
            init(n) { super.init(n + 1); }
            show() { return this.n; }
        }
        fun run() {
            var total = 0;
            for (var i = 0; i < 3; i = i + 1) {
                total = total + B(i).show();
            }
            return total;
        }
        print run();
    `)
	disasm := func() string {
		fun, err := NewParser(NewVM(), false).Compile(src)
		assert.Nil(t, err)
		return fun.Chunk.Disassemble(fun.String())
	}
	first := disasm()
	assert.NotEmpty(t, first)
	assert.Equal(t, first, disasm())
}

// The class value is popped before the hidden super scope closes: the
// tail of a subclass declaration is Pop (class), then Pop (super
// local). The full golden pins the instruction ordering around
// OpInherit too.
func TestInheritanceStackOrder(t *testing.T) {
	t.Parallel()
	vm_ := NewVM()
	fun, err := NewParser(vm_, false).Compile("class A {} class B < A {}\n")
	assert.Nil(t, err)
	assert.Equal(t, heredoc.Doc(`
        == <script> ==
        0000    1 OpClass             0 'A'
        0002    | OpDefGlobal         0 'A'
        0004    | OpGetGlobal         1 'A'
        0006    | OpPop
        0007    | OpClass             2 'B'
        0009    | OpDefGlobal         2 'B'
        0011    | OpGetGlobal         3 'A'
        0013    | OpGetGlobal         4 'B'
        0015    | OpInherit
        0016    | OpGetGlobal         5 'B'
        0018    | OpPop
        0019    | OpPop
        0020    2 OpNil
        0021    | OpReturn
    `), fun.Chunk.Disassemble(fun.String()))
}
