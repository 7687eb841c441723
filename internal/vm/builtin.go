package vm

import (
	"strconv"
	"strings"
	"time"

	"pantera/internal/heap"
	"pantera/internal/perrors"
)

// builtinFuncs returns the 5 fixed builtins in their required
// registration order (§4.9) — this order must match
// compiler.BuiltinGlobals exactly, since slot ids are shared between the
// compiler's globals map and this table.
func builtinFuncs() []BuiltinFunc {
	return []BuiltinFunc{
		builtinLen,
		builtinSleep,
		builtinInput,
		builtinAtoi,
		builtinIterableGet,
	}
}

// builtinLen mirrors pantera-std's len.rs, which only accepts Array and
// Object (not String — the original panics on any other type).
func builtinLen(m *VM) error {
	v, err := m.pop()
	if err != nil {
		return err
	}
	switch v.Kind {
	case heap.KindArray:
		m.stack.Push(heap.Number(float32(m.heap.ArrayLength(v.Ptr))))
	case heap.KindObject:
		m.stack.Push(heap.Number(float32(len(m.heap.GetObjectEntries(v.Ptr)))))
	default:
		return perrors.NewRuntime("object is not a collection to have a length")
	}
	return nil
}

// builtinSleep pops one Number and blocks the host thread for n seconds
// (pantera-std's sleep.rs), the interpreter's only observable blocking
// point besides input() (§5).
func builtinSleep(m *VM) error {
	v, err := m.pop()
	if err != nil {
		return err
	}
	if v.Kind != heap.KindNumber {
		return perrors.NewRuntime("sleep() requires a number")
	}
	sleepFor(time.Duration(v.Num * float32(time.Second)))
	m.stack.Push(heap.Null())
	return nil
}

func builtinInput(m *VM) error {
	line, err := m.Stdin.ReadString('\n')
	if err != nil && line == "" {
		p, allocErr := m.heap.AllocateString("")
		if allocErr != nil {
			return allocErr
		}
		m.stack.Push(heap.String(p))
		return nil
	}
	line = strings.TrimRight(line, "\r\n")
	p, err := m.heap.AllocateString(line)
	if err != nil {
		return err
	}
	m.stack.Push(heap.String(p))
	return nil
}

func builtinAtoi(m *VM) error {
	v, err := m.pop()
	if err != nil {
		return err
	}
	if v.Kind != heap.KindString {
		return perrors.NewRuntime("atoi() requires a string")
	}
	n, parseErr := strconv.ParseFloat(strings.TrimSpace(m.heap.GetString(v.Ptr)), 32)
	if parseErr != nil {
		n = 0
	}
	m.stack.Push(heap.Number(float32(n)))
	return nil
}

// builtinIterableGet pops the index first, then the collection
// (pantera-std's internal_iterate_get.rs) — the reverse of left-to-right
// reading order, since both were pushed by a `Call` whose Args are
// [collection, index]. For an Object it returns a 2-element [key, value]
// array, the primitive `for`/`loop`-over-object iteration builds on.
// AllocateArray reverses its input slice, so the two values are passed in
// as [value, key] to land at [key@0, value@1] once allocated.
func builtinIterableGet(m *VM) error {
	index, err := m.pop()
	if err != nil {
		return err
	}
	collection, err := m.pop()
	if err != nil {
		return err
	}
	if index.Kind != heap.KindNumber {
		return perrors.NewRuntime("internal_iterable_get() requires a numeric index")
	}
	i := int(index.Num)

	switch collection.Kind {
	case heap.KindArray:
		if i < 0 || i >= m.heap.ArrayLength(collection.Ptr) {
			return perrors.NewRuntime("list index %d out of range", i)
		}
		m.stack.Push(m.heap.GetArrayElement(collection.Ptr, i))
		return nil
	case heap.KindObject:
		entry, ok := m.heap.GetObjectEntryAt(collection.Ptr, i)
		if !ok {
			m.stack.Push(heap.Null())
			return nil
		}
		pair, allocErr := m.heap.AllocateArray([]heap.Value{entry.Value, heap.String(entry.Key)})
		if allocErr != nil {
			return allocErr
		}
		m.stack.Push(heap.Array(pair))
		return nil
	}
	return perrors.NewRuntime("type of object is not iterable")
}
