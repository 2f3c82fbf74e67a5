package vm

import (
	"fmt"
	"math"
	"strconv"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/vlox-lang/vlox/debug"
	e "github.com/vlox-lang/vlox/errors"
	"github.com/vlox-lang/vlox/utils"
)

type Parser struct {
	*Scanner
	*Compiler
	// The owning VM, borrowed so string constants intern through its
	// table and obey identity equality.
	vm         *VM
	prev, curr Token
	currClass  *ClassCompiler
	// In REPL mode a trailing expression becomes the script's result.
	repl bool

	errors *multierror.Error
	// Whether the parser is trying to sync, i.e. in the error recovery process.
	panicMode bool
}

func NewParser(vm *VM, repl bool) *Parser { return &Parser{vm: vm, repl: repl} }

//go:generate stringer -type=FunKind
type FunKind int

const (
	FunScript FunKind = iota
	FunFun
	FunMethod
	FunInit
)

// Compiler holds the per-function compilation state. Nested function
// bodies push a fresh Compiler whose enclosing link is the outer one.
type Compiler struct {
	enclosing *Compiler
	fun       *VFun
	kind      FunKind
	locals    []Local
	upvals    []Upval
	depth     int
	loop      *loopCompiler
}

const (
	GlobalSlot = -1 - iota
	UninitDepth
)

func NewCompiler(enclosing *Compiler, kind FunKind) *Compiler {
	c := &Compiler{enclosing: enclosing, fun: NewVFun(), kind: kind}
	// Slot 0 belongs to the callee, or to the receiver inside methods,
	// where resolving `this` must find it as an ordinary local.
	slot0 := ""
	if kind == FunMethod || kind == FunInit {
		slot0 = "this"
	}
	c.locals = append(c.locals, Local{name: syntheticToken(slot0), depth: 0})
	return c
}

type Local struct {
	name       Token
	depth      int
	isCaptured bool
}

type Upval struct {
	index   byte
	isLocal bool
}

type ClassCompiler struct {
	enclosing *ClassCompiler
	hasSuper  bool
}

// loopCompiler tracks the innermost enclosing loop of the current
// function, for break/continue.
type loopCompiler struct {
	enclosing *loopCompiler
	// Jump target of `continue`; moves to the increment clause in `for`.
	start int
	// Scope depth at loop entry: break/continue pop locals above it.
	depth  int
	breaks []int
}

/* Single-pass compilation */

func (p *Parser) emitReturn() {
	if p.kind == FunInit {
		// An initializer always returns its receiver.
		p.emitBytes(byte(OpGetLocal), 0)
	} else {
		p.emitBytes(byte(OpNil))
	}
	p.emitBytes(byte(OpReturn))
}

func (p *Parser) emitConst(val Value) { p.emitBytes(byte(OpConst), p.makeConst(val)) }

func (p *Parser) makeConst(val Value) byte {
	const_ := p.currentChunk().AddConst(val)
	if const_ > math.MaxUint8 {
		p.Error("Too many constants in one chunk.")
		return 0
	}
	return byte(const_)
}

func (p *Parser) emitJump(inst OpCode) (operandOffset int) {
	p.emitBytes(byte(inst), 0xff, 0xff)
	return len(p.currentChunk().code) - 2
}

func (p *Parser) patchJump(operandOffset int) {
	c := p.currentChunk()
	// -2 to adjust for the operand itself.
	jump := len(c.code) - operandOffset - 2
	if jump > math.MaxUint16 {
		p.Error("Too much code to jump over.")
	}
	c.code[operandOffset] = byte(jump >> 8)
	c.code[operandOffset+1] = byte(jump)
}

func (p *Parser) emitLoop(start int) {
	p.emitBytes(byte(OpLoop))
	// +2 to hop over the operand itself.
	offset := len(p.currentChunk().code) - start + 2
	if offset > math.MaxUint16 {
		p.Error("Loop body too large.")
	}
	p.emitBytes(byte(offset>>8), byte(offset))
}

func (p *Parser) num(_canAssign bool) {
	val, err := strconv.ParseFloat(p.prev.String(), 64)
	p.errors = multierror.Append(p.errors, err)
	p.emitConst(VNum(val))
}

func (p *Parser) grouping(_canAssign bool) {
	p.expr()
	p.consume(TRParen, "Expect ')' after expression.")
}

func (p *Parser) lit(_canAssign bool) {
	switch p.prev.Type {
	case TFalse:
		p.emitBytes(byte(OpFalse))
	case TNil:
		p.emitBytes(byte(OpNil))
	case TTrue:
		p.emitBytes(byte(OpTrue))
	default:
		panic(e.Unreachable)
	}
}

func (p *Parser) str(_canAssign bool) {
	runes := p.prev.Runes
	// The lexeme inside the quotes, interned through the VM.
	unquoted := string(runes[1 : len(runes)-1])
	p.emitConst(p.vm.NewStr(unquoted))
}

func (p *Parser) var_(canAssign bool) { p.namedVar(p.prev, canAssign) }

func (p *Parser) namedVar(name Token, canAssign bool) {
	var arg byte
	var get, set OpCode
	if slot := p.resolveLocal(p.Compiler, name); slot != GlobalSlot {
		arg, get, set = byte(slot), OpGetLocal, OpSetLocal
	} else if slot := p.resolveUpval(p.Compiler, name); slot != GlobalSlot {
		arg, get, set = byte(slot), OpGetUpval, OpSetUpval
	} else {
		arg, get, set = p.identConst(&name), OpGetGlobal, OpSetGlobal
	}

	switch {
	case canAssign && p.match(TEqual):
		p.expr()
		p.emitBytes(byte(set), arg)
	default:
		p.emitBytes(byte(get), arg)
	}
}

func (p *Parser) this(_canAssign bool) {
	if p.currClass == nil {
		p.Error("Can't use 'this' outside of a class.")
		return
	}
	p.var_(false)
}

func (p *Parser) super(_canAssign bool) {
	switch {
	case p.currClass == nil:
		p.Error("Can't use 'super' outside of a class.")
	case !p.currClass.hasSuper:
		p.Error("Can't use 'super' in a class with no superclass.")
	}

	p.consume(TDot, "Expect '.' after 'super'.")
	name := p.consume(TIdent, "Expect superclass method name.")
	if name == nil {
		return
	}
	nameConst := p.identConst(name)

	p.namedVar(syntheticToken("this"), false)
	if p.match(TLParen) {
		argc := p.argList()
		p.namedVar(syntheticToken("super"), false)
		p.emitBytes(byte(OpSuperInvoke), nameConst, argc)
	} else {
		p.namedVar(syntheticToken("super"), false)
		p.emitBytes(byte(OpGetSuper), nameConst)
	}
}

func (p *Parser) unary(_canAssign bool) {
	op := p.prev.Type

	// Compile the RHS.
	p.parsePrec(PrecUnary)

	// Emit the operator instruction.
	switch op {
	case TBang:
		p.emitBytes(byte(OpNot))
	case TMinus:
		p.emitBytes(byte(OpNeg))
	default:
		panic(e.Unreachable)
	}
}

func (p *Parser) binary(_canAssign bool) {
	op := p.prev.Type
	rule := parseRules[op]

	// Compile the RHS.
	p.parsePrec(rule.Prec + 1)

	// Emit the operator instruction.
	switch op {
	case TBangEqual:
		p.emitBytes(byte(OpEqual), byte(OpNot))
	case TEqualEqual:
		p.emitBytes(byte(OpEqual))
	case TGreater:
		p.emitBytes(byte(OpGreater))
	case TGreaterEqual:
		p.emitBytes(byte(OpLess), byte(OpNot))
	case TLess:
		p.emitBytes(byte(OpLess))
	case TLessEqual:
		p.emitBytes(byte(OpGreater), byte(OpNot))
	case TPlus:
		p.emitBytes(byte(OpAdd))
	case TMinus:
		p.emitBytes(byte(OpSub))
	case TStar:
		p.emitBytes(byte(OpMul))
	case TSlash:
		p.emitBytes(byte(OpDiv))
	default:
		panic(e.Unreachable)
	}
}

// and short-circuits: with a falsey LHS the RHS is skipped and the LHS
// remains as the result.
func (p *Parser) and(_canAssign bool) {
	end := p.emitJump(OpJumpIfFalse)
	p.emitBytes(byte(OpPop))
	p.parsePrec(PrecAnd)
	p.patchJump(end)
}

func (p *Parser) or(_canAssign bool) {
	else_ := p.emitJump(OpJumpIfFalse)
	end := p.emitJump(OpJump)
	p.patchJump(else_)
	p.emitBytes(byte(OpPop))
	p.parsePrec(PrecOr)
	p.patchJump(end)
}

func (p *Parser) call(_canAssign bool) {
	argc := p.argList()
	p.emitBytes(byte(OpCall), argc)
}

func (p *Parser) dot(canAssign bool) {
	name := p.consume(TIdent, "Expect property name after '.'.")
	if name == nil {
		return
	}
	nameConst := p.identConst(name)

	switch {
	case canAssign && p.match(TEqual):
		p.expr()
		p.emitBytes(byte(OpSetProp), nameConst)
	case p.match(TLParen):
		// Fuse `obj.name(...)` into a single instruction.
		argc := p.argList()
		p.emitBytes(byte(OpInvoke), nameConst, argc)
	default:
		p.emitBytes(byte(OpGetProp), nameConst)
	}
}

func (p *Parser) argList() (argc byte) {
	if !p.check(TRParen) {
		for {
			p.expr()
			if argc == math.MaxUint8 {
				p.Error("Can't have more than 255 arguments.")
			}
			argc++
			if !p.match(TComma) {
				break
			}
		}
	}
	p.consume(TRParen, "Expect ')' after arguments.")
	return
}

func (p *Parser) expr() { p.parsePrec(PrecAssign) }

func (p *Parser) exprStmt() {
	p.expr()
	if p.repl && p.check(TEOF) && p.Compiler.kind == FunScript {
		// REPL convenience: a trailing expression is the line's value.
		p.emitBytes(byte(OpReturn))
		return
	}
	p.consume(TSemi, "Expect ';' after expression.")
	p.emitBytes(byte(OpPop))
}

func (p *Parser) printStmt() {
	p.expr()
	p.consume(TSemi, "Expect ';' after value.")
	p.emitBytes(byte(OpPrint))
}

func (p *Parser) ifStmt() {
	p.consume(TLParen, "Expect '(' after 'if'.")
	p.expr()
	p.consume(TRParen, "Expect ')' after condition.")

	thenJump := p.emitJump(OpJumpIfFalse)
	p.emitBytes(byte(OpPop))
	p.stmt()
	elseJump := p.emitJump(OpJump)
	p.patchJump(thenJump)
	p.emitBytes(byte(OpPop))
	if p.match(TElse) {
		p.stmt()
	}
	p.patchJump(elseJump)
}

func (p *Parser) whileStmt() {
	p.beginLoop(len(p.currentChunk().code))
	p.consume(TLParen, "Expect '(' after 'while'.")
	p.expr()
	p.consume(TRParen, "Expect ')' after condition.")

	exitJump := p.emitJump(OpJumpIfFalse)
	p.emitBytes(byte(OpPop))
	p.stmt()
	p.emitLoop(p.loop.start)

	p.patchJump(exitJump)
	p.emitBytes(byte(OpPop))
	p.endLoop()
}

func (p *Parser) forStmt() {
	p.beginScope()
	p.consume(TLParen, "Expect '(' after 'for'.")
	switch {
	case p.match(TSemi): // No initializer.
	case p.match(TVar):
		p.varDecl()
	default:
		p.exprStmt()
	}

	p.beginLoop(len(p.currentChunk().code))
	exitJump := -1
	if !p.match(TSemi) {
		p.expr()
		p.consume(TSemi, "Expect ';' after loop condition.")
		exitJump = p.emitJump(OpJumpIfFalse)
		p.emitBytes(byte(OpPop))
	}

	if !p.match(TRParen) {
		// The increment clause runs after the body, so it is compiled
		// out of order: hop over it now, loop back to it later.
		bodyJump := p.emitJump(OpJump)
		incrStart := len(p.currentChunk().code)
		p.expr()
		p.emitBytes(byte(OpPop))
		p.consume(TRParen, "Expect ')' after for clauses.")

		p.emitLoop(p.loop.start)
		p.loop.start = incrStart
		p.patchJump(bodyJump)
	}

	p.stmt()
	p.emitLoop(p.loop.start)

	if exitJump != -1 {
		p.patchJump(exitJump)
		p.emitBytes(byte(OpPop))
	}
	p.endLoop()
	p.endScope()
}

func (p *Parser) beginLoop(start int) {
	p.loop = &loopCompiler{enclosing: p.loop, start: start, depth: p.depth}
}

// endLoop lands every pending break right here.
func (p *Parser) endLoop() {
	for _, jump := range p.loop.breaks {
		p.patchJump(jump)
	}
	p.loop = p.loop.enclosing
}

func (p *Parser) breakStmt() {
	p.consume(TSemi, "Expect ';' after 'break'.")
	if p.loop == nil {
		p.Error("Can't use 'break' outside of a loop.")
		return
	}
	p.popToDepth(p.loop.depth)
	p.loop.breaks = append(p.loop.breaks, p.emitJump(OpJump))
}

func (p *Parser) continueStmt() {
	p.consume(TSemi, "Expect ';' after 'continue'.")
	if p.loop == nil {
		p.Error("Can't use 'continue' outside of a loop.")
		return
	}
	p.popToDepth(p.loop.depth)
	p.emitLoop(p.loop.start)
}

// popToDepth emits the pops for locals above depth without discarding
// the compiler's record of them: the jump leaves the scopes, the
// surrounding code does not.
func (p *Parser) popToDepth(depth int) {
	for i := len(p.locals) - 1; i >= 0 && p.locals[i].depth > depth; i-- {
		if p.locals[i].isCaptured {
			p.emitBytes(byte(OpCloseUpval))
		} else {
			p.emitBytes(byte(OpPop))
		}
	}
}

func (p *Parser) returnStmt() {
	if p.kind == FunScript {
		p.Error("Can't return from top-level code.")
	}
	if p.match(TSemi) {
		p.emitReturn()
		return
	}
	if p.kind == FunInit {
		p.Error("Can't return a value from an initializer.")
	}
	p.expr()
	p.consume(TSemi, "Expect ';' after return value.")
	p.emitBytes(byte(OpReturn))
}

func (p *Parser) block() {
	for !p.check(TRBrace) && !p.check(TEOF) {
		p.decl()
	}
	p.consume(TRBrace, "Expect '}' after block.")
}

func (p *Parser) function(kind FunKind) {
	name := p.prev
	inner := NewCompiler(p.Compiler, kind)
	inner.fun.Name = p.vm.NewStr(name.String())
	p.Compiler = inner
	p.beginScope()

	p.consume(TLParen, "Expect '(' after function name.")
	if !p.check(TRParen) {
		for {
			p.fun.Arity++
			if p.fun.Arity > math.MaxUint8 {
				p.ErrorAtCurr("Can't have more than 255 parameters.")
			}
			global := p.parseVar("Expect parameter name.")
			p.defVar(global)
			if !p.match(TComma) {
				break
			}
		}
	}
	p.consume(TRParen, "Expect ')' after parameters.")
	p.consume(TLBrace, "Expect '{' before function body.")
	p.block()

	fun := p.endCompiler()
	p.emitBytes(byte(OpClosure), p.makeConst(fun))
	for _, uv := range inner.upvals {
		p.emitBytes(utils.BoolToInt[byte](uv.isLocal), uv.index)
	}
}

func (p *Parser) funDecl() {
	global := p.parseVar("Expect function name.")
	// A function may refer to itself; mark it usable before the body.
	p.markInit()
	p.function(FunFun)
	p.defVar(global)
}

func (p *Parser) method() {
	name := p.consume(TIdent, "Expect method name.")
	if name == nil {
		return
	}
	nameTok := *name
	nameConst := p.identConst(&nameTok)
	kind := FunMethod
	if nameTok.String() == "init" {
		kind = FunInit
	}
	p.function(kind)
	p.emitBytes(byte(OpMethod), nameConst)
}

func (p *Parser) classDecl() {
	name := p.consume(TIdent, "Expect class name.")
	if name == nil {
		return
	}
	nameTok := *name
	nameConst := p.identConst(&nameTok)
	p.declVar()
	p.emitBytes(byte(OpClass), nameConst)
	p.defVar(&nameConst)

	p.currClass = &ClassCompiler{enclosing: p.currClass}
	defer func() { p.currClass = p.currClass.enclosing }()

	if p.match(TLess) {
		p.consume(TIdent, "Expect superclass name.")
		p.var_(false)
		if nameTok.Eq(p.prev) {
			p.Error("A class can't inherit from itself.")
		}

		// The superclass value lives in a hidden `super` local so that
		// method closures can capture it.
		p.beginScope()
		p.addLocal(syntheticToken("super"))
		p.defVar(nil)

		p.namedVar(nameTok, false)
		p.emitBytes(byte(OpInherit))
		p.currClass.hasSuper = true
	}

	p.namedVar(nameTok, false)
	p.consume(TLBrace, "Expect '{' before class body.")
	for !p.check(TRBrace) && !p.check(TEOF) {
		p.method()
	}
	p.consume(TRBrace, "Expect '}' after class body.")
	p.emitBytes(byte(OpPop))

	if p.currClass.hasSuper {
		p.endScope()
	}
}

func (p *Parser) stmt() {
	switch {
	case p.match(TPrint):
		p.printStmt()
	case p.match(TIf):
		p.ifStmt()
	case p.match(TReturn):
		p.returnStmt()
	case p.match(TWhile):
		p.whileStmt()
	case p.match(TFor):
		p.forStmt()
	case p.match(TBreak):
		p.breakStmt()
	case p.match(TContinue):
		p.continueStmt()
	case p.match(TLBrace):
		p.beginScope()
		p.block()
		p.endScope()
	default:
		p.exprStmt()
	}
}

func (p *Parser) decl() {
	switch {
	case p.match(TClass):
		p.classDecl()
	case p.match(TFun):
		p.funDecl()
	case p.match(TVar):
		p.varDecl()
	default:
		p.stmt()
	}
	if p.panicMode {
		p.sync()
	}
}

type ParseFn = func(p *Parser, canAssign bool)

type ParseRule struct {
	Prefix, Infix ParseFn
	Prec
}

var parseRules []ParseRule

func init() {
	parseRules = []ParseRule{
		TLParen:       {(*Parser).grouping, (*Parser).call, PrecCall},
		TDot:          {nil, (*Parser).dot, PrecCall},
		TMinus:        {(*Parser).unary, (*Parser).binary, PrecTerm},
		TPlus:         {nil, (*Parser).binary, PrecTerm},
		TSlash:        {nil, (*Parser).binary, PrecFactor},
		TStar:         {nil, (*Parser).binary, PrecFactor},
		TBang:         {(*Parser).unary, nil, PrecNone},
		TBangEqual:    {nil, (*Parser).binary, PrecEqual},
		TEqualEqual:   {nil, (*Parser).binary, PrecEqual},
		TGreater:      {nil, (*Parser).binary, PrecComp},
		TGreaterEqual: {nil, (*Parser).binary, PrecComp},
		TLess:         {nil, (*Parser).binary, PrecComp},
		TLessEqual:    {nil, (*Parser).binary, PrecComp},
		TIdent:        {(*Parser).var_, nil, PrecNone},
		TStr:          {(*Parser).str, nil, PrecNone},
		TNum:          {(*Parser).num, nil, PrecNone},
		TAnd:          {nil, (*Parser).and, PrecAnd},
		TOr:           {nil, (*Parser).or, PrecOr},
		TFalse:        {(*Parser).lit, nil, PrecNone},
		TNil:          {(*Parser).lit, nil, PrecNone},
		TTrue:         {(*Parser).lit, nil, PrecNone},
		TThis:         {(*Parser).this, nil, PrecNone},
		TSuper:        {(*Parser).super, nil, PrecNone},
		TEOF:          {},
	}
}

func (p *Parser) parsePrec(prec Prec) {
	p.advance()

	// Parse LHS.
	prefix := parseRules[p.prev.Type].Prefix
	if prefix == nil {
		p.Error("Expect expression.")
		return
	}
	canAssign := prec <= PrecAssign
	prefix(p, canAssign)

	// Parse RHS if there's one maintaining rule.Prec >= prec.
	for {
		rule := parseRules[p.curr.Type]
		if rule.Prec < prec {
			break
		}
		p.advance()
		if rule.Infix == nil {
			panic(e.Unreachable)
		}
		rule.Infix(p, canAssign)
	}

	if canAssign && p.match(TEqual) {
		p.Error("Invalid assignment target.")
		p.advance()
	}
}

/* Parsing helpers */

func (p *Parser) check(ty TokenType) bool     { return p.curr.Type == ty }
func (p *Parser) checkPrev(ty TokenType) bool { return p.prev.Type == ty }

func (p *Parser) advance() {
	p.prev = p.curr
	for {
		// Skip until the first non-TErr token.
		if p.curr = p.ScanToken(); !p.check(TErr) {
			break
		}
		p.ErrorAtCurr(p.curr.String())
	}
}

func (p *Parser) match(ty TokenType) (matched bool) {
	if !p.check(ty) {
		return false
	}
	p.advance()
	return true
}

func (p *Parser) consume(ty TokenType, errorMsg string) *Token {
	if !p.check(ty) {
		p.ErrorAtCurr(errorMsg)
		return nil
	}
	p.advance()
	return &p.prev
}

/* Compiling helpers */

func (p *Parser) Compile(src string) (*VFun, error) {
	p.Scanner = NewScanner(src)
	p.Compiler = NewCompiler(nil, FunScript)

	p.advance()
	for !p.match(TEOF) {
		p.decl()
	}
	fun := p.endCompiler()
	if err := p.errors.ErrorOrNil(); err != nil {
		return nil, err
	}
	return fun, nil
}

func (p *Parser) currentChunk() *Chunk { return p.fun.Chunk }

func (p *Parser) emitBytes(bs ...byte) {
	for _, b := range bs {
		p.currentChunk().Write(b, p.prev.Line)
	}
}

func (p *Parser) endCompiler() *VFun {
	p.emitReturn()
	fun := p.fun
	if debug.DEBUG {
		logrus.Debugln(fun.Chunk.Disassemble(fun.String()))
	}
	p.Compiler = p.enclosing
	return fun
}

func (p *Parser) identConst(name *Token) byte { return p.makeConst(p.vm.NewStr(name.String())) }

func (p *Parser) markInit() {
	if p.depth == 0 {
		return
	}
	p.locals[len(p.locals)-1].depth = p.depth
}

func (p *Parser) defVar(global *byte) {
	if global == nil || p.depth > 0 {
		// Local vars. Mark it as initialized.
		p.markInit()
		return
	}
	p.emitBytes(byte(OpDefGlobal), *global)
}

func (p *Parser) parseVar(errorMsg string) *byte {
	target := p.consume(TIdent, errorMsg)
	if target == nil {
		p.advance()
		return nil // Early return if the assignee is not valid.
	}
	p.declVar()
	if p.depth > 0 {
		return nil // Local vars are not resolved using `identConst`, but stay on the stack.
	}
	res := p.identConst(target)
	return &res
}

func (p *Parser) declVar() {
	if p.depth == 0 {
		return
	}
	name := p.prev
	// Search for the latest variable declaration of the same name.
	for i := len(p.locals) - 1; i >= 0; i-- {
		local := p.locals[i]
		if local.depth != UninitDepth && local.depth < p.depth {
			break // Variable shadowing in a deeper scope is allowed.
		}
		if name.Eq(local.name) {
			p.Error("Already a variable with this name in this scope.")
		}
	}
	p.addLocal(name)
}

func (p *Parser) addLocal(name Token) {
	if len(p.locals) > math.MaxUint8 {
		p.Error("Too many local variables in function.")
		return
	}
	p.locals = append(p.locals, Local{name: name, depth: UninitDepth})
}

func (p *Parser) varDecl() {
	global := p.parseVar("Expect variable name.")
	validName := p.checkPrev(TIdent)
	switch {
	case p.match(TEqual):
		p.expr()
	default:
		p.emitBytes(byte(OpNil))
	}
	p.consume(TSemi, "Expect ';' after variable declaration.")
	if validName {
		p.defVar(global)
	}
}

func (p *Parser) beginScope() { p.depth++ }

func (p *Parser) endScope() {
	p.depth--
	for len(p.locals) > 0 && p.locals[len(p.locals)-1].depth > p.depth {
		if p.locals[len(p.locals)-1].isCaptured {
			// The local escapes; move it to the heap.
			p.emitBytes(byte(OpCloseUpval))
		} else {
			p.emitBytes(byte(OpPop))
		}
		p.locals = p.locals[:len(p.locals)-1]
	}
}

func (p *Parser) resolveLocal(c *Compiler, name Token) (slot int) {
	// Search for the latest variable declaration of the same name.
	for i := len(c.locals) - 1; i >= 0; i-- {
		local := c.locals[i]
		if name.Eq(local.name) {
			if local.depth == UninitDepth {
				p.Error("Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return GlobalSlot // Global variable.
}

// resolveUpval walks the enclosing compilers for name. A direct hit
// marks the owning local captured; every compiler in between records
// an indirect upvalue chaining to its enclosing one.
func (p *Parser) resolveUpval(c *Compiler, name Token) (slot int) {
	if c.enclosing == nil {
		return GlobalSlot
	}
	if slot := p.resolveLocal(c.enclosing, name); slot != GlobalSlot {
		c.enclosing.locals[slot].isCaptured = true
		return p.addUpval(c, byte(slot), true)
	}
	if slot := p.resolveUpval(c.enclosing, name); slot != GlobalSlot {
		return p.addUpval(c, byte(slot), false)
	}
	return GlobalSlot
}

func (p *Parser) addUpval(c *Compiler, index byte, isLocal bool) (slot int) {
	// Reuse an existing upvalue for the same variable.
	for i, uv := range c.upvals {
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}
	if len(c.upvals) > math.MaxUint8 {
		p.Error("Too many closure variables in function.")
		return 0
	}
	c.upvals = append(c.upvals, Upval{index: index, isLocal: isLocal})
	c.fun.UpvalCount = len(c.upvals)
	return len(c.upvals) - 1
}

/* Precedence */

//go:generate stringer -type=Prec
type Prec int

const (
	PrecNone   Prec = iota
	PrecAssign      // =
	PrecOr          // or
	PrecAnd         // and
	PrecEqual       // == !=
	PrecComp        // < > <= >=
	PrecTerm        // + -
	PrecFactor      // * /
	PrecUnary       // ! -
	PrecCall        // . ()
	PrecPrimary
)

/* Error handling */

func (p *Parser) sync() {
	p.panicMode = false
	for !p.check(TEOF) {
		if p.checkPrev(TSemi) {
			return
		}
		switch p.curr.Type {
		case TClass, TFun, TVar, TFor, TIf, TWhile, TPrint, TReturn:
			return
		}
		p.advance()
	}
}

func (p *Parser) ErrorAt(tk Token, reason string) {
	// Don't collect error when we're syncing.
	if p.panicMode {
		return
	}
	p.panicMode = true

	reason1 := reason
	switch tk.Type {
	case TErr: // The lexeme is the message itself.
	case TEOF:
		reason1 = fmt.Sprintf("at end, %s", reason)
	case TIdent:
		reason1 = fmt.Sprintf("at identifier `%v`, %s", tk, reason)
	default:
		reason1 = fmt.Sprintf("at `%v`, %s", tk, reason)
	}
	err := &e.CompilationError{Line: tk.Line, Reason: reason1}

	if debug.DEBUG {
		logrus.Debugln(p.currentChunk().Disassemble("ErrorAt"))
		logrus.Debugln(err)
	}

	p.errors = multierror.Append(p.errors, err)
}

func (p *Parser) Error(reason string)       { p.ErrorAt(p.prev, reason) }
func (p *Parser) ErrorAtCurr(reason string) { p.ErrorAt(p.curr, reason) }
func (p *Parser) HadError() bool            { return p.errors.ErrorOrNil() != nil }
