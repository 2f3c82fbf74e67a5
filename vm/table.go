package vm

// Table is an open-addressed hash map from interned strings to values.
// Capacity is always a power of two so probing can wrap with a mask.
// Deleted slots leave a tombstone (nil key, true value) behind; truly
// empty slots are (nil key, nil value).

const (
	tableMaxLoad = 0.75
	tableMinCap  = 8
)

type entry struct {
	key *VStr
	val Value
}

func (e *entry) isTombstone() bool {
	if e.key != nil {
		return false
	}
	_, empty := e.val.(VNil)
	return !empty
}

type Table struct {
	// count includes tombstones, so the load factor bounds the probe
	// sequence length even after heavy deletion.
	count   int
	entries []entry
}

func NewTable() *Table { return &Table{} }

// findEntry returns the slot for key: its current entry if present,
// otherwise the first tombstone on the probe path (so Set can recycle
// it), otherwise the empty slot that terminated the probe.
func findEntry(entries []entry, key *VStr) *entry {
	var tombstone *entry
	for i := key.Hash & uint32(len(entries)-1); ; i = (i + 1) & uint32(len(entries)-1) {
		e := &entries[i]
		switch {
		case e.key == key:
			return e
		case e.key == nil && !e.isTombstone():
			if tombstone != nil {
				return tombstone
			}
			return e
		case e.key == nil && tombstone == nil:
			tombstone = e
		}
	}
}

func (t *Table) adjust(cap_ int) {
	entries := make([]entry, cap_)
	for i := range entries {
		entries[i].val = VNil{}
	}
	t.count = 0
	for i := range t.entries {
		e := &t.entries[i]
		if e.key == nil {
			continue // Tombstones are not carried over.
		}
		dst := findEntry(entries, e.key)
		dst.key, dst.val = e.key, e.val
		t.count++
	}
	t.entries = entries
}

func (t *Table) Get(key *VStr) (val Value, ok bool) {
	if t.count == 0 {
		return
	}
	e := findEntry(t.entries, key)
	if e.key == nil {
		return
	}
	return e.val, true
}

// Set stores val under key and reports whether a new logical entry was
// created.
func (t *Table) Set(key *VStr, val Value) (isNew bool) {
	if float64(t.count+1) > float64(len(t.entries))*tableMaxLoad {
		cap_ := tableMinCap
		if len(t.entries) > 0 {
			cap_ = len(t.entries) * 2
		}
		t.adjust(cap_)
	}

	e := findEntry(t.entries, key)
	isNew = e.key == nil
	if isNew && !e.isTombstone() {
		t.count++
	}
	e.key, e.val = key, val
	return
}

// Delete replaces key's entry with a tombstone so later probes keep
// walking past it.
func (t *Table) Delete(key *VStr) bool {
	if t.count == 0 {
		return false
	}
	e := findEntry(t.entries, key)
	if e.key == nil {
		return false
	}
	e.key, e.val = nil, VBool(true)
	return true
}

// AddAll copies every entry of from into t. Used for method
// inheritance.
func (t *Table) AddAll(from *Table) {
	for i := range from.entries {
		e := &from.entries[i]
		if e.key != nil {
			t.Set(e.key, e.val)
		}
	}
}

// FindString probes by content rather than identity. Only the intern
// set needs this: it is how a candidate string that is not yet
// canonical finds its canonical twin.
func (t *Table) FindString(chars string, hash uint32) *VStr {
	if t.count == 0 {
		return nil
	}
	for i := hash & uint32(len(t.entries)-1); ; i = (i + 1) & uint32(len(t.entries)-1) {
		e := &t.entries[i]
		switch {
		case e.key == nil:
			if !e.isTombstone() {
				return nil
			}
		case e.key.Hash == hash && e.key.Chars == chars:
			return e.key
		}
	}
}
