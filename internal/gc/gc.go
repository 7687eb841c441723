// Package gc implements Pantera's mark-and-sweep collector (§4.8). It
// depends only on package heap — never on the compiler or VM — so the VM
// can own both without a cycle.
package gc

import "pantera/internal/heap"

// bypassThreshold is the small-heap bypass: a collection is skipped
// entirely when there are this many or fewer live objects/arrays and
// interned strings (compile-constant ones included) combined.
const bypassThreshold = 10

// Roots is the external root set a Collector scans: every Value live in
// the globals table and every Value on the operand stack (§4.8). The VM
// supplies both without the collector needing to know their storage.
type Roots struct {
	Globals []heap.Value
	Stack   *heap.Stack
}

// Collector runs mark-and-sweep passes over a shared heap.Manager.
type Collector struct {
	heap *heap.Manager
}

func New(h *heap.Manager) *Collector {
	return &Collector{heap: h}
}

// Collect runs one mark-and-sweep pass if the heap is past the bypass
// threshold, and is a no-op otherwise. It is meant to be called after
// every allocating instruction (ALLOCATE, ALLOCATE_ARRAY, string/object
// ADD), synchronously between instructions (§4.8).
func (c *Collector) Collect(roots Roots) {
	if len(c.heap.Objects)+len(c.heap.InternedStrings) <= bypassThreshold {
		return
	}

	objectMarks := make(map[heap.Ptr]bool, len(c.heap.Objects))
	for p := range c.heap.Objects {
		objectMarks[p] = false
	}
	stringMarks := make(map[heap.Ptr]bool)
	for p, isCompileConstant := range c.heap.InternedStrings {
		if !isCompileConstant {
			stringMarks[p] = false
		}
	}

	for _, v := range roots.Globals {
		c.markValue(v, objectMarks, stringMarks)
	}
	for i := 0; i < roots.Stack.Top(); i++ {
		c.markValue(roots.Stack.At(i), objectMarks, stringMarks)
	}

	for p, marked := range objectMarks {
		if !marked {
			c.heap.FreeObject(p)
		}
	}
	for p, marked := range stringMarks {
		if !marked {
			c.heap.FreeString(p)
		}
	}
}

// markValue recursively marks a reachable Value, descending into object
// and array contents (§4.8's traversal rules).
func (c *Collector) markValue(v heap.Value, objectMarks, stringMarks map[heap.Ptr]bool) {
	switch v.Kind {
	case heap.KindString:
		if _, tracked := stringMarks[v.Ptr]; tracked {
			stringMarks[v.Ptr] = true
		}
	case heap.KindObject:
		if objectMarks[v.Ptr] {
			return // already visited, break potential cycles
		}
		objectMarks[v.Ptr] = true
		for _, entry := range c.heap.GetObjectEntries(v.Ptr) {
			c.markValue(entry.Value, objectMarks, stringMarks)
		}
	case heap.KindArray:
		if objectMarks[v.Ptr] {
			return
		}
		objectMarks[v.Ptr] = true
		for _, elem := range c.heap.GetArrayValues(v.Ptr) {
			c.markValue(elem, objectMarks, stringMarks)
		}
	}
}
