package vm

import (
	"fmt"

	"github.com/josharian/intern"
)

/* Heap objects. All of them are pointer-shaped, so VEq's identity
   comparison is exactly Lox object equality. */

type VStr struct {
	Chars string
	// FNV-1a of Chars, memoized for table probing.
	Hash uint32
}

func (_ *VStr) isValue()       {}
func (s *VStr) String() string { return s.Chars }

func hashString(s string) uint32 {
	hash := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= 16777619
	}
	return hash
}

// NewStr returns the canonical string object for chars, creating and
// registering it on first sight. Equal contents always yield the same
// pointer, which is what makes identity work as string equality.
func (vm *VM) NewStr(chars string) *VStr {
	chars = intern.String(chars)
	hash := hashString(chars)
	if s := vm.strings.FindString(chars, hash); s != nil {
		return s
	}
	s := &VStr{Chars: chars, Hash: hash}
	vm.strings.Set(s, VNil{})
	return s
}

type VFun struct {
	Arity      int
	UpvalCount int
	Chunk      *Chunk
	// Name is nil for the top-level script.
	Name *VStr
}

func (_ *VFun) isValue() {}
func (f *VFun) String() string {
	if f.Name == nil {
		return "<script>"
	}
	return fmt.Sprintf("<fn %s>", f.Name.Chars)
}

func NewVFun() *VFun { return &VFun{Chunk: NewChunk()} }

// VUpval is a captured variable: open while the variable still lives
// on the value stack (slot indexes into it), closed once the value has
// been moved into the upvalue itself.
type VUpval struct {
	slot   int
	closed *Value
	// Next open upvalue, in decreasing slot order.
	next *VUpval
}

func (_ *VUpval) isValue()       {}
func (u *VUpval) String() string { return "upvalue" }

func (vm *VM) readUpval(u *VUpval) Value {
	if u.closed != nil {
		return *u.closed
	}
	return vm.stack[u.slot]
}

func (vm *VM) writeUpval(u *VUpval, val Value) {
	if u.closed != nil {
		*u.closed = val
		return
	}
	vm.stack[u.slot] = val
}

type VClosure struct {
	Fun    *VFun
	Upvals []*VUpval
}

func (_ *VClosure) isValue()       {}
func (c *VClosure) String() string { return c.Fun.String() }

func NewVClosure(fun *VFun) *VClosure {
	return &VClosure{Fun: fun, Upvals: make([]*VUpval, fun.UpvalCount)}
}

type NativeFn = func(args []Value) Value

type VNative struct{ Fn NativeFn }

func (_ *VNative) isValue()       {}
func (n *VNative) String() string { return "<native fn>" }

type VClass struct {
	Name    *VStr
	Methods *Table
}

func (_ *VClass) isValue()       {}
func (c *VClass) String() string { return c.Name.Chars }

func NewVClass(name *VStr) *VClass { return &VClass{Name: name, Methods: NewTable()} }

type VInstance struct {
	Class  *VClass
	Fields *Table
}

func (_ *VInstance) isValue()       {}
func (i *VInstance) String() string { return i.Class.Name.Chars + " instance" }

func NewVInstance(class *VClass) *VInstance {
	return &VInstance{Class: class, Fields: NewTable()}
}

type VBoundMethod struct {
	Recv   Value
	Method *VClosure
}

func (_ *VBoundMethod) isValue()       {}
func (b *VBoundMethod) String() string { return b.Method.String() }
