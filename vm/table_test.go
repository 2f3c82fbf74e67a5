package vm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableRoundTrip(t *testing.T) {
	t.Parallel()
	vm_ := NewVM()
	tbl := NewTable()
	k := vm_.NewStr("key")

	assert.True(t, tbl.Set(k, VNum(1)))
	val, ok := tbl.Get(k)
	assert.True(t, ok)
	assert.Equal(t, VNum(1), val)

	// Overwriting is not a new logical entry.
	assert.False(t, tbl.Set(k, VNum(2)))
	val, _ = tbl.Get(k)
	assert.Equal(t, VNum(2), val)

	assert.True(t, tbl.Delete(k))
	_, ok = tbl.Get(k)
	assert.False(t, ok)
	assert.False(t, tbl.Delete(k))
}

func TestTableTombstoneReuse(t *testing.T) {
	t.Parallel()
	vm_ := NewVM()
	tbl := NewTable()
	keys := make([]*VStr, 32)
	for i := range keys {
		keys[i] = vm_.NewStr(fmt.Sprintf("k%d", i))
		tbl.Set(keys[i], VNum(float64(i)))
	}

	// Punch holes, then make sure probing still walks past them.
	for i := 0; i < len(keys); i += 2 {
		assert.True(t, tbl.Delete(keys[i]))
	}
	for i := 1; i < len(keys); i += 2 {
		val, ok := tbl.Get(keys[i])
		assert.True(t, ok)
		assert.Equal(t, VNum(float64(i)), val)
	}

	// Re-inserting a deleted key recycles its tombstone.
	countBefore := tbl.count
	assert.True(t, tbl.Set(keys[0], VNum(-1)))
	assert.Equal(t, countBefore, tbl.count)
}

func TestTableGrowth(t *testing.T) {
	t.Parallel()
	vm_ := NewVM()
	tbl := NewTable()
	const n = 200
	for i := 0; i < n; i++ {
		tbl.Set(vm_.NewStr(fmt.Sprintf("key-%d", i)), VNum(float64(i)))
	}
	for i := 0; i < n; i++ {
		val, ok := tbl.Get(vm_.NewStr(fmt.Sprintf("key-%d", i)))
		assert.True(t, ok)
		assert.Equal(t, VNum(float64(i)), val)
	}
	// Power-of-two capacity, load factor respected.
	assert.Equal(t, 0, len(tbl.entries)&(len(tbl.entries)-1))
	assert.LessOrEqual(t, float64(tbl.count), float64(len(tbl.entries))*tableMaxLoad)
}

func TestTableFindString(t *testing.T) {
	t.Parallel()
	vm_ := NewVM()
	s := vm_.NewStr("canonical")
	found := vm_.strings.FindString("canonical", hashString("canonical"))
	assert.Same(t, s, found)
	assert.Nil(t, vm_.strings.FindString("missing", hashString("missing")))
}

func TestInterning(t *testing.T) {
	t.Parallel()
	vm_ := NewVM()
	a := vm_.NewStr("foo")
	b := vm_.NewStr("foo")
	assert.Same(t, a, b)
	// The runtime concatenation path must intern too.
	c := vm_.NewStr("foobar")
	d := vm_.NewStr("foo" + "bar")
	assert.Same(t, c, d)
	// Two VMs do not share an intern table.
	assert.NotSame(t, a, NewVM().NewStr("foo"))
}

func TestStackSettlesAfterRun(t *testing.T) {
	t.Parallel()
	vm_ := NewVM()
	for _, src := range []string{
		"var a = 1;\n",
		"fun f(x) { return x + 1; } f(f(f(1)));\n",
		"class A { init() { this.n = 0; } } A();\n",
	} {
		_, err := vm_.Interpret(src, false)
		assert.Nil(t, err)
		assert.Empty(t, vm_.stack)
		assert.Empty(t, vm_.frames)
		assert.Nil(t, vm_.openUpvals)
	}
}

func TestCaptureUpvalOrder(t *testing.T) {
	t.Parallel()
	vm_ := NewVM()
	vm_.push(VNum(0))
	vm_.push(VNum(1))
	vm_.push(VNum(2))

	u0 := vm_.captureUpval(0)
	u2 := vm_.captureUpval(2)
	u1 := vm_.captureUpval(1)

	// Decreasing slot order, no duplicates.
	assert.Same(t, u2, vm_.openUpvals)
	assert.Same(t, u1, vm_.openUpvals.next)
	assert.Same(t, u0, vm_.openUpvals.next.next)
	assert.Same(t, u1, vm_.captureUpval(1))

	vm_.closeUpvals(1)
	assert.Same(t, u0, vm_.openUpvals)
	assert.Nil(t, vm_.openUpvals.next)
	// Closed upvalues keep the value they had on the stack.
	assert.Equal(t, VNum(1), vm_.readUpval(u1))
	assert.Equal(t, VNum(2), vm_.readUpval(u2))
	vm_.writeUpval(u1, VNum(9))
	assert.Equal(t, VNum(9), vm_.readUpval(u1))

	vm_.resetStack()
}
