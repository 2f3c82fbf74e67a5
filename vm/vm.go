package vm

import (
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/chzyer/readline"
	"github.com/sirupsen/logrus"
	"github.com/vlox-lang/vlox/debug"
	e "github.com/vlox-lang/vlox/errors"
	"github.com/vlox-lang/vlox/utils"
)

const (
	FramesMax = 64
	StackMax  = FramesMax * (math.MaxUint8 + 1)
)

// CallFrame is one active invocation: the closure being run, the
// instruction pointer into its chunk, and the stack slot its window
// starts at (slot 0 holds the callee, or the receiver for methods).
type CallFrame struct {
	closure *VClosure
	ip      int
	slots   int
}

type VM struct {
	stack  []Value
	frames []CallFrame

	globals *Table
	// The intern set: every live VStr appears here exactly once.
	strings *Table
	// "init" is looked up on every class instantiation; intern it once.
	initStr *VStr

	// Open upvalues, in decreasing stack-slot order.
	openUpvals *VUpval

	out     io.Writer
	started time.Time
}

func NewVM() *VM {
	vm := &VM{
		stack:   make([]Value, 0, StackMax),
		frames:  make([]CallFrame, 0, FramesMax),
		globals: NewTable(),
		strings: NewTable(),
		out:     os.Stdout,
		started: time.Now(),
	}
	vm.initStr = vm.NewStr("init")
	vm.defineNatives()
	return vm
}

// SetOut redirects the print sink, mainly for tests.
func (vm *VM) SetOut(w io.Writer) { vm.out = w }

func (vm *VM) push(val Value) {
	vm.stack = append(vm.stack, val)
}

func (vm *VM) pop() (last Value) {
	len_ := len(vm.stack)
	vm.stack, last = vm.stack[:len_-1], vm.stack[len_-1]
	return
}

func (vm *VM) peek(distance int) Value {
	return vm.stack[len(vm.stack)-1-distance]
}

func (vm *VM) frame() *CallFrame { return &vm.frames[len(vm.frames)-1] }

func (vm *VM) resetStack() {
	vm.stack = vm.stack[:0]
	vm.frames = vm.frames[:0]
	vm.openUpvals = nil
}

func (vm *VM) REPL() error {
	reader, err := readline.New(">> ")
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		line, err := reader.Readline()
		switch err {
		case nil:
			if line == "" {
				continue
			}
		case readline.ErrInterrupt: // ^C
			continue
		case io.EOF: // ^D
			return nil
		default:
			return err
		}

		val, err := vm.Interpret(line, true)
		if err != nil {
			logrus.Error(err)
			continue
		}
		if _, isNil := val.(VNil); !isNil {
			fmt.Fprintf(vm.out, "%s\n", val)
		}
	}
}

// Interpret compiles and runs src as one script. In REPL mode a
// trailing expression becomes the returned value; otherwise the result
// is nil. Globals and interned strings persist across calls.
func (vm *VM) Interpret(src string, repl bool) (Value, error) {
	fun, err := NewParser(vm, repl).Compile(src)
	if err != nil {
		return VNil{}, err
	}

	closure := NewVClosure(fun)
	vm.push(closure)
	if err := vm.call(closure, 0); err != nil {
		vm.resetStack()
		return VNil{}, err
	}

	res, err := vm.run()
	if err != nil {
		vm.resetStack()
		return VNil{}, err
	}
	return res, nil
}

func (vm *VM) run() (Value, error) {
	frame := vm.frame()

	readByte := func() (res byte) {
		res = frame.closure.Fun.Chunk.code[frame.ip]
		frame.ip++
		return
	}
	readShort := func() (res uint16) {
		res = frame.closure.Fun.Chunk.readShort(frame.ip)
		frame.ip += 2
		return
	}
	readConst := func() Value {
		return frame.closure.Fun.Chunk.consts[readByte()]
	}
	readStr := func() *VStr { return readConst().(*VStr) }

	for {
		if debug.DEBUG {
			logrus.Debugln(vm.stackDump())
			instDump, _ := frame.closure.Fun.Chunk.DisassembleInst(frame.ip)
			logrus.Debugln(instDump)
		}

		switch inst := OpCode(readByte()); inst {
		case OpConst:
			vm.push(readConst())
		case OpNil:
			vm.push(VNil{})
		case OpTrue:
			vm.push(VBool(true))
		case OpFalse:
			vm.push(VBool(false))
		case OpPop:
			vm.pop()

		case OpGetLocal:
			slot := int(readByte())
			vm.push(vm.stack[frame.slots+slot])
		case OpSetLocal:
			slot := int(readByte())
			vm.stack[frame.slots+slot] = vm.peek(0)

		case OpGetGlobal:
			name := readStr()
			val, ok := vm.globals.Get(name)
			if !ok {
				return VNil{}, vm.Error("Undefined variable '%s'.", name.Chars)
			}
			vm.push(val)
		case OpDefGlobal:
			vm.globals.Set(readStr(), vm.peek(0))
			vm.pop()
		case OpSetGlobal:
			name := readStr()
			if vm.globals.Set(name, vm.peek(0)) {
				// Assignment must not define: undo the insert.
				vm.globals.Delete(name)
				return VNil{}, vm.Error("Undefined variable '%s'.", name.Chars)
			}

		case OpGetUpval:
			slot := int(readByte())
			vm.push(vm.readUpval(frame.closure.Upvals[slot]))
		case OpSetUpval:
			slot := int(readByte())
			vm.writeUpval(frame.closure.Upvals[slot], vm.peek(0))

		case OpGetProp:
			inst_, ok := vm.peek(0).(*VInstance)
			if !ok {
				return VNil{}, vm.Error("Only instances have properties.")
			}
			name := readStr()
			if val, ok := inst_.Fields.Get(name); ok {
				vm.pop() // Instance.
				vm.push(val)
			} else if err := vm.bindMethod(inst_.Class, name); err != nil {
				return VNil{}, err
			}
		case OpSetProp:
			inst_, ok := vm.peek(1).(*VInstance)
			if !ok {
				return VNil{}, vm.Error("Only instances have fields.")
			}
			inst_.Fields.Set(readStr(), vm.peek(0))
			val := vm.pop()
			vm.pop() // Instance.
			vm.push(val)
		case OpGetSuper:
			name := readStr()
			super := vm.pop().(*VClass)
			if err := vm.bindMethod(super, name); err != nil {
				return VNil{}, err
			}

		case OpEqual:
			rhs := vm.pop()
			vm.push(VEq(vm.pop(), rhs))
		case OpGreater:
			rhs := vm.pop()
			res, ok := VGreater(vm.pop(), rhs)
			if !ok {
				return VNil{}, vm.Error("Operands must be numbers.")
			}
			vm.push(res)
		case OpLess:
			rhs := vm.pop()
			res, ok := VLess(vm.pop(), rhs)
			if !ok {
				return VNil{}, vm.Error("Operands must be numbers.")
			}
			vm.push(res)
		case OpNot:
			vm.push(!VTruthy(vm.pop()))
		case OpNeg:
			res, ok := VNeg(vm.pop())
			if !ok {
				return VNil{}, vm.Error("Operand must be a number.")
			}
			vm.push(res)

		case OpAdd:
			lhsStr, lhsOk := vm.peek(1).(*VStr)
			rhsStr, rhsOk := vm.peek(0).(*VStr)
			if lhsOk && rhsOk {
				res := vm.NewStr(lhsStr.Chars + rhsStr.Chars)
				vm.pop()
				vm.pop()
				vm.push(res)
				break
			}
			rhs := vm.pop()
			res, ok := VAdd(vm.pop(), rhs)
			if !ok {
				return VNil{}, vm.Error("Operands must be two numbers or two strings.")
			}
			vm.push(res)
		case OpSub:
			rhs := vm.pop()
			res, ok := VSub(vm.pop(), rhs)
			if !ok {
				return VNil{}, vm.Error("Operands must be numbers.")
			}
			vm.push(res)
		case OpMul:
			rhs := vm.pop()
			res, ok := VMul(vm.pop(), rhs)
			if !ok {
				return VNil{}, vm.Error("Operands must be numbers.")
			}
			vm.push(res)
		case OpDiv:
			rhs := vm.pop()
			res, ok := VDiv(vm.pop(), rhs)
			if !ok {
				return VNil{}, vm.Error("Operands must be numbers.")
			}
			vm.push(res)

		case OpPrint:
			fmt.Fprintf(vm.out, "%s\n", vm.pop())

		case OpJump:
			offset := readShort()
			frame.ip += int(offset)
		case OpJumpIfFalse:
			offset := readShort()
			if !VTruthy(vm.peek(0)) {
				frame.ip += int(offset)
			}
		case OpLoop:
			frame.ip -= int(readShort())

		case OpCall:
			argc := int(readByte())
			if err := vm.callValue(vm.peek(argc), argc); err != nil {
				return VNil{}, err
			}
			frame = vm.frame()
		case OpInvoke:
			name := readStr()
			argc := int(readByte())
			if err := vm.invoke(name, argc); err != nil {
				return VNil{}, err
			}
			frame = vm.frame()
		case OpSuperInvoke:
			name := readStr()
			argc := int(readByte())
			super := vm.pop().(*VClass)
			if err := vm.invokeFromClass(super, name, argc); err != nil {
				return VNil{}, err
			}
			frame = vm.frame()

		case OpClosure:
			fun := readConst().(*VFun)
			closure := NewVClosure(fun)
			vm.push(closure)
			for i := range closure.Upvals {
				isLocal, index := utils.IntToBool(readByte()), int(readByte())
				if isLocal {
					closure.Upvals[i] = vm.captureUpval(frame.slots + index)
				} else {
					closure.Upvals[i] = frame.closure.Upvals[index]
				}
			}
		case OpCloseUpval:
			vm.closeUpvals(len(vm.stack) - 1)
			vm.pop()

		case OpReturn:
			result := vm.pop()
			vm.closeUpvals(frame.slots)
			slots := frame.slots
			vm.frames = vm.frames[:len(vm.frames)-1]
			if len(vm.frames) == 0 {
				vm.stack = vm.stack[:0]
				return result, nil
			}
			vm.stack = vm.stack[:slots]
			vm.push(result)
			frame = vm.frame()

		case OpClass:
			vm.push(NewVClass(readStr()))
		case OpInherit:
			super, ok := vm.peek(1).(*VClass)
			if !ok {
				return VNil{}, vm.Error("Superclass must be a class.")
			}
			sub := vm.peek(0).(*VClass)
			// Copy-down inheritance: subclass methods added later
			// override these entries.
			sub.Methods.AddAll(super.Methods)
			vm.pop() // Subclass.
		case OpMethod:
			name := readStr()
			method := vm.peek(0).(*VClosure)
			class := vm.peek(1).(*VClass)
			class.Methods.Set(name, method)
			vm.pop()

		default:
			return VNil{}, vm.Error("unknown instruction '%d'", inst)
		}
	}
}

// callValue dispatches on the callee's type.
func (vm *VM) callValue(callee Value, argc int) error {
	switch callee := callee.(type) {
	case *VClosure:
		return vm.call(callee, argc)
	case *VNative:
		res := callee.Fn(vm.stack[len(vm.stack)-argc:])
		vm.stack = vm.stack[:len(vm.stack)-argc-1]
		vm.push(res)
		return nil
	case *VClass:
		// Instantiation: the callee slot becomes the receiver.
		vm.stack[len(vm.stack)-argc-1] = NewVInstance(callee)
		if init, ok := callee.Methods.Get(vm.initStr); ok {
			return vm.call(init.(*VClosure), argc)
		}
		if argc != 0 {
			return vm.Error("Expected 0 arguments but got %d.", argc)
		}
		return nil
	case *VBoundMethod:
		vm.stack[len(vm.stack)-argc-1] = callee.Recv
		return vm.call(callee.Method, argc)
	}
	return vm.Error("Can only call functions and classes.")
}

func (vm *VM) call(closure *VClosure, argc int) error {
	if argc != closure.Fun.Arity {
		return vm.Error("Expected %d arguments but got %d.", closure.Fun.Arity, argc)
	}
	if len(vm.frames) == FramesMax {
		return vm.Error("Stack overflow.")
	}
	vm.frames = append(vm.frames, CallFrame{
		closure: closure,
		slots:   len(vm.stack) - argc - 1,
	})
	return nil
}

func (vm *VM) invoke(name *VStr, argc int) error {
	inst, ok := vm.peek(argc).(*VInstance)
	if !ok {
		return vm.Error("Only instances have methods.")
	}
	// A field holding a callable shadows any method of the same name.
	if field, ok := inst.Fields.Get(name); ok {
		vm.stack[len(vm.stack)-argc-1] = field
		return vm.callValue(field, argc)
	}
	return vm.invokeFromClass(inst.Class, name, argc)
}

func (vm *VM) invokeFromClass(class *VClass, name *VStr, argc int) error {
	method, ok := class.Methods.Get(name)
	if !ok {
		return vm.Error("Undefined property '%s'.", name.Chars)
	}
	return vm.call(method.(*VClosure), argc)
}

// bindMethod replaces the receiver on stack top with a bound method
// pairing it with class's method named name.
func (vm *VM) bindMethod(class *VClass, name *VStr) error {
	method, ok := class.Methods.Get(name)
	if !ok {
		return vm.Error("Undefined property '%s'.", name.Chars)
	}
	bound := &VBoundMethod{Recv: vm.peek(0), Method: method.(*VClosure)}
	vm.pop()
	vm.push(bound)
	return nil
}

// captureUpval returns the open upvalue for slot, creating it in its
// sorted position if no closure has captured that variable yet.
func (vm *VM) captureUpval(slot int) *VUpval {
	var prev *VUpval
	curr := vm.openUpvals
	for curr != nil && curr.slot > slot {
		prev, curr = curr, curr.next
	}
	if curr != nil && curr.slot == slot {
		return curr
	}

	created := &VUpval{slot: slot, next: curr}
	if prev == nil {
		vm.openUpvals = created
	} else {
		prev.next = created
	}
	return created
}

// closeUpvals closes every open upvalue pointing at slot last or
// above: the value moves off the stack into the upvalue itself.
func (vm *VM) closeUpvals(last int) {
	for vm.openUpvals != nil && vm.openUpvals.slot >= last {
		u := vm.openUpvals
		val := vm.stack[u.slot]
		u.closed = &val
		vm.openUpvals = u.next
		u.next = nil
	}
}

func (vm *VM) Error(format string, a ...any) *e.RuntimeError {
	err := &e.RuntimeError{Reason: fmt.Sprintf(format, a...)}
	for i := len(vm.frames) - 1; i >= 0; i-- {
		frame := &vm.frames[i]
		fun := frame.closure.Fun
		name := "script"
		if fun.Name != nil {
			name = fun.Name.Chars + "()"
		}
		ip := frame.ip
		if ip > 0 {
			ip--
		}
		err.Trace = append(err.Trace, fmt.Sprintf("[line %d] in %s", fun.Chunk.lines[ip], name))
	}
	if len(vm.frames) > 0 {
		frame := vm.frame()
		ip := frame.ip
		if ip > 0 {
			ip--
		}
		err.Line = frame.closure.Fun.Chunk.lines[ip]
	}
	return err
}

func (vm *VM) stackDump() string {
	res := "          "
	for _, slot := range vm.stack {
		res += fmt.Sprintf("[ %s ]", slot)
	}
	return res
}
