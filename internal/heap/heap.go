package heap

import "fmt"

// Manager is the heap: allocation, interning, free lists, concatenation,
// and property access (§4.3). It owns three maps keyed by Ptr — the
// interned-strings table, the live-objects/arrays table, and (implicitly,
// via the arena) the layout registry — plus the byte arena backing every
// allocation. There is no garbage collector here: collect is driven
// externally by package gc, which only needs Manager's exported accessors.
type Manager struct {
	arena map[Ptr][]byte

	// InternedStrings maps a live string Ptr to whether it is a
	// compile-constant (exempt from GC). Exported for package gc.
	InternedStrings map[Ptr]bool

	// Objects maps a live object/array Ptr to a transient GC mark bit.
	// Outside of a collection pass the bit is meaningless.
	Objects map[Ptr]bool

	nextPtr Ptr

	AllocatedMemory int
	MaxHeapSize     int
}

// OOMError is a fatal language-level error: out of memory is never
// recoverable within a Pantera program (§4.3, §7).
type OOMError struct{ MaxHeapSize int }

func (e *OOMError) Error() string {
	return fmt.Sprintf("RuntimeError: OOM: max heap size of %d bytes has been reached", e.MaxHeapSize)
}

func New(maxHeapSize int) *Manager {
	return &Manager{
		arena:           make(map[Ptr][]byte),
		InternedStrings: make(map[Ptr]bool),
		Objects:         make(map[Ptr]bool),
		nextPtr:         1,
		MaxHeapSize:     maxHeapSize,
	}
}

func (m *Manager) alloc(buf []byte) Ptr {
	p := m.nextPtr
	m.nextPtr++
	m.arena[p] = buf
	m.AllocatedMemory += len(buf)
	return p
}

// checkOOM mirrors the original's fatal, non-recoverable OOM check: it is
// performed after every allocation bumps AllocatedMemory, never before.
func (m *Manager) checkOOM() error {
	if m.AllocatedMemory >= m.MaxHeapSize {
		return &OOMError{MaxHeapSize: m.MaxHeapSize}
	}
	return nil
}

// Free deallocates the region at ptr. Notably (and faithfully to the
// reference heap), this does not reduce AllocatedMemory — the allocator's
// high-water mark only ever grows within one execute() call, so a
// max-heap-size budget must account for total bytes ever allocated, not
// just the live set, under sustained churn (see §8 scenario 7).
func (m *Manager) Free(p Ptr) {
	delete(m.arena, p)
}

// --- Objects ---

func (m *Manager) AllocateObject(pairs []Entry) (Ptr, error) {
	buf := newObjectBuf()
	table := asHashTable(buf)
	for _, pr := range pairs {
		table.set(pr.Key, pr.Value)
	}
	p := m.alloc(buf)
	m.Objects[p] = false
	return p, m.checkOOM()
}

func (m *Manager) FreeObject(p Ptr) {
	delete(m.Objects, p)
	m.Free(p)
}

func (m *Manager) objectBuf(p Ptr) hashTable {
	buf, ok := m.arena[p]
	if !ok {
		panic("pantera: dangling object pointer")
	}
	return asHashTable(buf)
}

func (m *Manager) GetObjectEntries(p Ptr) []Entry {
	return m.objectBuf(p).getAll()
}

func (m *Manager) GetObjectEntryAt(p Ptr, i int) (Entry, bool) {
	return m.objectBuf(p).entryAt(i)
}

func (m *Manager) GetProperty(container Ptr, key Ptr) Value {
	v, ok := m.objectBuf(container).get(key)
	if !ok {
		return Null()
	}
	return v
}

func (m *Manager) SetProperty(container Ptr, key Ptr, val Value) {
	m.objectBuf(container).set(key, val)
}

func CompareObjects(a, b Ptr) bool { return a == b }

func (m *Manager) ConcatenateObjects(a, b Ptr) Ptr {
	dst := m.objectBuf(a)
	for _, e := range m.objectBuf(b).getAll() {
		dst.set(e.Key, e.Value)
	}
	return a
}

// --- Arrays ---

// AllocateArray builds an array from values in reverse: the last element
// of `values` lands at index 0. The VM passes the popped values in push
// order, so the topmost stack value ends up at the front of the array.
func (m *Manager) AllocateArray(values []Value) (Ptr, error) {
	buf := newArrayBuf()
	arr := asArray(buf)
	n := len(values)
	for i, v := range values {
		arr.set(n-1-i, v)
	}
	p := m.alloc(buf)
	m.Objects[p] = false
	return p, m.checkOOM()
}

func (m *Manager) FreeArray(p Ptr) {
	m.FreeObject(p)
}

func (m *Manager) arrayBuf(p Ptr) arrayBody {
	buf, ok := m.arena[p]
	if !ok {
		panic("pantera: dangling array pointer")
	}
	return asArray(buf)
}

func (m *Manager) GetArrayValues(p Ptr) []Value {
	return m.arrayBuf(p).getAll()
}

func (m *Manager) GetArrayElement(p Ptr, index int) Value {
	v, ok := m.arrayBuf(p).get(index)
	if !ok {
		return Null()
	}
	return v
}

func (m *Manager) SetArrayElement(p Ptr, index int, val Value) {
	m.arrayBuf(p).set(index, val)
}

func (m *Manager) ArrayLength(p Ptr) int {
	return int(m.arrayBuf(p).length())
}

// --- Strings ---

func (m *Manager) stringBytes(p Ptr) []byte {
	buf, ok := m.arena[p]
	if !ok {
		panic("pantera: dangling string pointer")
	}
	return buf
}

// GetString decodes the UTF-8 content of the string at p (tag byte and
// trailing NUL stripped).
func (m *Manager) GetString(p Ptr) string {
	buf := m.stringBytes(p)
	return string(buf[1 : len(buf)-1])
}

func (m *Manager) AllocateString(s string) (Ptr, error) {
	return m.allocateStringInternal(s, false)
}

// AllocateCompiledString interns a compile-constant string: one allocated
// while compiling source literals or identifier hashes, exempt from GC for
// the lifetime of the execute() call (§3, §8 "compile-constant survival").
func (m *Manager) AllocateCompiledString(s string) (Ptr, error) {
	return m.allocateStringInternal(s, true)
}

func (m *Manager) findInterned(s string) (Ptr, bool) {
	for p := range m.InternedStrings {
		if m.GetString(p) == s {
			return p, true
		}
	}
	return 0, false
}

func (m *Manager) allocateStringInternal(s string, compileConstant bool) (Ptr, error) {
	if existing, ok := m.findInterned(s); ok {
		return existing, nil
	}

	buf := make([]byte, 1+len(s)+1)
	buf[0] = byte(TypeString)
	copy(buf[1:], s)
	buf[len(buf)-1] = 0

	p := m.alloc(buf)
	m.InternedStrings[p] = compileConstant
	return p, m.checkOOM()
}

func (m *Manager) FreeString(p Ptr) {
	delete(m.InternedStrings, p)
	m.Free(p)
}

func CompareStrings(a, b Ptr) bool { return a == b }

func (m *Manager) ConcatenateStrings(a, b Ptr) (Ptr, error) {
	return m.AllocateString(m.GetString(a) + m.GetString(b))
}
