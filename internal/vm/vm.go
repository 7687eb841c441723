// Package vm is the bytecode interpreter (§4.7): a single operand stack,
// frame offsets, a global-slot table, and the call/return protocol. It is
// grounded in original_source's pantera-vm/src/lib.rs, whose OP_PUSH
// dispatch peeks the immediately-following byte to disambiguate a bare
// immediate from the two-or-three-byte PUSH+GET / PUSH+GET_GLOBAL forms
// the compiler actually emits.
package vm

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"pantera/internal/bytecode"
	"pantera/internal/gc"
	"pantera/internal/heap"
	"pantera/internal/perrors"
)

// VM owns the byte array, the operand stack, the global-slot table, and
// shares the heap and collector with the compiler that produced this code.
type VM struct {
	code    []byte
	ip      int
	stack   *heap.Stack
	globals []heap.Value
	heap    *heap.Manager
	gc      *gc.Collector

	builtins []BuiltinFunc

	Stdout io.Writer
	Stdin  *bufio.Reader
}

// BuiltinFunc is the stack-based ABI host functions use (§4.9): it reads
// its own arguments off the top of the stack and pushes exactly one
// result. It closes over the VM rather than just stack+heap so that
// `input` can read from the VM's configured Stdin.
type BuiltinFunc func(m *VM) error

// New constructs a VM ready to run chunk's code. globalCount is the final
// size of the compiler's globals map — the VM pre-sizes its slot table to
// it and seeds the first slots with the fixed builtin functions in
// registration order (§4.9), as many of them as fit in globalCount.
func New(chunk *bytecode.Chunk, h *heap.Manager, globalCount int) *VM {
	m := &VM{
		code:    chunk.Code,
		stack:   heap.NewStack(),
		globals: make([]heap.Value, globalCount),
		heap:    h,
		Stdout:  io.Discard,
		Stdin:   bufio.NewReader(strings.NewReader("")),
	}
	m.gc = gc.New(h)
	m.builtins = builtinFuncs()
	for i := 0; i < len(m.builtins) && i < globalCount; i++ {
		m.globals[i] = heap.BuiltinFunction(uint16(i))
	}
	return m
}

func (m *VM) readByte() byte {
	b := m.code[m.ip]
	m.ip++
	return b
}

func (m *VM) readU16() uint16 {
	v := bytecode.ReadU16(m.code, m.ip)
	m.ip += 2
	return v
}

func (m *VM) readF32() float32 {
	v := bytecode.ReadF32(m.code, m.ip)
	m.ip += 4
	return v
}

func (m *VM) readU64() uint64 {
	v := bytecode.ReadU64(m.code, m.ip)
	m.ip += 8
	return v
}

// Run executes from the current ip until ip reaches the end of the code.
func (m *VM) Run() error {
	for m.ip < len(m.code) {
		op := bytecode.Op(m.readByte())
		if err := m.step(op); err != nil {
			return err
		}
	}
	return nil
}

// ResetWithChunk swaps in freshly compiled code and grows the globals
// table to globalCount, preserving every slot already in use — the REPL's
// one-line-at-a-time loop (internal/repl) calls this so declared globals
// and heap allocations survive from line to line, mirroring sentra's
// internal/repl/repl.go swapping chunks into one long-lived VM.
func (m *VM) ResetWithChunk(chunk *bytecode.Chunk, globalCount int) {
	m.code = chunk.Code
	m.ip = 0
	if globalCount > len(m.globals) {
		grown := make([]heap.Value, globalCount)
		copy(grown, m.globals)
		m.globals = grown
	}
}

func (m *VM) collectGarbage() {
	m.gc.Collect(gc.Roots{Globals: m.globals, Stack: m.stack})
}

func (m *VM) pop() (heap.Value, error) {
	v, ok := m.stack.Pop()
	if !ok {
		return heap.Value{}, perrors.NewRuntime("operand stack underflow")
	}
	return v, nil
}

func (m *VM) step(op bytecode.Op) error {
	switch op {
	case bytecode.OpPush:
		return m.opPush()
	case bytecode.OpPop:
		_, err := m.pop()
		return err
	case bytecode.OpAdd:
		return m.opAdd()
	case bytecode.OpSub:
		return m.numericBinary(func(a, b float32) float32 { return a - b })
	case bytecode.OpMul:
		return m.numericBinary(func(a, b float32) float32 { return a * b })
	case bytecode.OpDiv:
		return m.numericBinary(func(a, b float32) float32 { return a / b })
	case bytecode.OpPow:
		return m.opPow()
	case bytecode.OpEq:
		return m.opEq(false)
	case bytecode.OpNe:
		return m.opEq(true)
	case bytecode.OpGe:
		return m.comparisonBinary(func(a, b float32) bool { return a >= b })
	case bytecode.OpGr:
		return m.comparisonBinary(func(a, b float32) bool { return a > b })
	case bytecode.OpLe:
		return m.comparisonBinary(func(a, b float32) bool { return a <= b })
	case bytecode.OpLs:
		return m.comparisonBinary(func(a, b float32) bool { return a < b })
	case bytecode.OpAnd:
		return m.boolBinary(func(a, b bool) bool { return a && b })
	case bytecode.OpOr:
		return m.boolBinary(func(a, b bool) bool { return a || b })
	case bytecode.OpUnarySub:
		return m.opUnarySub()
	case bytecode.OpUnaryNot:
		return m.opUnaryNot()
	case bytecode.OpDeclare:
		m.stack.Push(heap.Null())
		return nil
	case bytecode.OpDeclareGlobal:
		id := m.readU16()
		v, err := m.pop()
		if err != nil {
			return err
		}
		m.globals[id] = v
		return nil
	case bytecode.OpSet:
		slot := m.readByte()
		v, err := m.pop()
		if err != nil {
			return err
		}
		m.stack.Set(int(slot), v)
		m.stack.Push(v)
		return nil
	case bytecode.OpSetGlobal:
		id := m.readU16()
		v, err := m.pop()
		if err != nil {
			return err
		}
		m.globals[id] = v
		m.stack.Push(v)
		return nil
	case bytecode.OpGet:
		slot := m.readByte()
		v, ok := m.stack.Get(int(slot))
		if !ok {
			return perrors.NewRuntime("read of undefined local slot %d", slot)
		}
		m.stack.Push(v)
		return nil
	case bytecode.OpGetGlobal:
		id := m.readU16()
		m.stack.Push(m.globals[id])
		return nil
	case bytecode.OpJump:
		target := m.readF32()
		m.ip = int(target)
		return nil
	case bytecode.OpJumpIfFalse:
		target := m.readF32()
		v, err := m.pop()
		if err != nil {
			return err
		}
		if v.Kind == heap.KindBool && !v.Bool {
			m.ip = int(target)
		}
		return nil
	case bytecode.OpCall:
		return m.opCall()
	case bytecode.OpReturn:
		v, err := m.pop()
		if err != nil {
			return err
		}
		m.stack.Set(-2, v)
		return nil
	case bytecode.OpEndFunction:
		return m.opEndFunction()
	case bytecode.OpAllocate:
		return m.opAllocate()
	case bytecode.OpAllocateArray:
		return m.opAllocateArray()
	case bytecode.OpAccess:
		return m.opAccess()
	case bytecode.OpSetProperty:
		return m.opSetProperty()
	case bytecode.OpPrint:
		return m.opPrint()
	}
	return perrors.NewRuntime("unknown opcode %d", op)
}

// opPush implements both a bare immediate PUSH and the two-and-three-byte
// PUSH+GET / PUSH+GET_GLOBAL forms the compiler emits for identifier reads:
// the byte right after OP_PUSH is checked against OP_GET's and
// OP_GET_GLOBAL's raw values before falling back to decoding it as an
// ImmType tag.
func (m *VM) opPush() error {
	tag := m.readByte()
	switch bytecode.Op(tag) {
	case bytecode.OpGet:
		slot := m.readByte()
		v, ok := m.stack.Get(int(slot))
		if !ok {
			return perrors.NewRuntime("read of undefined local slot %d", slot)
		}
		m.stack.Push(v)
		return nil
	case bytecode.OpGetGlobal:
		id := m.readU16()
		m.stack.Push(m.globals[id])
		return nil
	}

	switch bytecode.ImmType(tag) {
	case bytecode.ImmNull:
		m.stack.Push(heap.Null())
	case bytecode.ImmBool:
		b := m.readByte()
		m.stack.Push(heap.Bool(b == 1))
	case bytecode.ImmNumber:
		n := m.readF32()
		m.stack.Push(heap.Number(n))
	case bytecode.ImmString:
		p := m.readU64()
		m.stack.Push(heap.String(heap.Ptr(p)))
	case bytecode.ImmFunction:
		offset := m.readF32()
		arity := m.readByte()
		m.stack.Push(heap.UserFunction(uint32(offset), arity))
	default:
		return perrors.NewRuntime("unknown PUSH immediate tag %d", tag)
	}
	return nil
}

func (m *VM) opAdd() error {
	b, err := m.pop()
	if err != nil {
		return err
	}
	a, err := m.pop()
	if err != nil {
		return err
	}
	if a.Kind != b.Kind {
		return perrors.NewRuntime("cannot add mismatched types")
	}
	switch a.Kind {
	case heap.KindNumber:
		m.stack.Push(heap.Number(a.Num + b.Num))
		return nil
	case heap.KindString:
		p, err := m.heap.ConcatenateStrings(a.Ptr, b.Ptr)
		if err != nil {
			return err
		}
		m.stack.Push(heap.String(p))
		m.collectGarbage()
		return nil
	case heap.KindObject:
		// Mirrors the original VM's ADD dispatch exactly: the right-hand
		// operand is the base that survives, the left-hand operand's
		// entries are merged into it (asymmetric with string +, where the
		// left operand leads) — grounded in pantera-vm/src/lib.rs's OP_ADD.
		p := m.heap.ConcatenateObjects(b.Ptr, a.Ptr)
		m.stack.Push(heap.Object(p))
		m.collectGarbage()
		return nil
	}
	return perrors.NewRuntime("+ is not defined for this type")
}

func (m *VM) numericBinary(f func(a, b float32) float32) error {
	b, err := m.pop()
	if err != nil {
		return err
	}
	a, err := m.pop()
	if err != nil {
		return err
	}
	if a.Kind != heap.KindNumber || b.Kind != heap.KindNumber {
		return perrors.NewRuntime("arithmetic operator requires two numbers")
	}
	m.stack.Push(heap.Number(f(a.Num, b.Num)))
	return nil
}

func (m *VM) comparisonBinary(f func(a, b float32) bool) error {
	b, err := m.pop()
	if err != nil {
		return err
	}
	a, err := m.pop()
	if err != nil {
		return err
	}
	if a.Kind != heap.KindNumber || b.Kind != heap.KindNumber {
		return perrors.NewRuntime("comparison operator requires two numbers")
	}
	m.stack.Push(heap.Bool(f(a.Num, b.Num)))
	return nil
}

func (m *VM) boolBinary(f func(a, b bool) bool) error {
	b, err := m.pop()
	if err != nil {
		return err
	}
	a, err := m.pop()
	if err != nil {
		return err
	}
	if a.Kind != heap.KindBool || b.Kind != heap.KindBool {
		return perrors.NewRuntime("logical operator requires two booleans")
	}
	m.stack.Push(heap.Bool(f(a.Bool, b.Bool)))
	return nil
}

func (m *VM) opEq(negate bool) error {
	b, err := m.pop()
	if err != nil {
		return err
	}
	a, err := m.pop()
	if err != nil {
		return err
	}
	result := heap.Equal(a, b)
	if negate {
		result = !result
	}
	m.stack.Push(heap.Bool(result))
	return nil
}

func (m *VM) opUnarySub() error {
	a, err := m.pop()
	if err != nil {
		return err
	}
	if a.Kind != heap.KindNumber {
		return perrors.NewRuntime("unary - requires a number")
	}
	m.stack.Push(heap.Number(-a.Num))
	return nil
}

func (m *VM) opUnaryNot() error {
	a, err := m.pop()
	if err != nil {
		return err
	}
	if a.Kind != heap.KindBool {
		return perrors.NewRuntime("unary not requires a boolean")
	}
	m.stack.Push(heap.Bool(!a.Bool))
	return nil
}

// opCall implements the call protocol of §4.7.
func (m *VM) opCall() error {
	callee, err := m.pop()
	if err != nil {
		return err
	}
	if callee.Kind != heap.KindFunction {
		return perrors.NewRuntime("attempt to call a non-function value")
	}

	if callee.FuncKind == heap.FuncBuiltin {
		if int(callee.BuiltinID) >= len(m.builtins) {
			return perrors.NewRuntime("unknown builtin id %d", callee.BuiltinID)
		}
		return m.builtins[callee.BuiltinID](m)
	}

	arity := int(callee.Arity)
	args := make([]heap.Value, arity)
	for i := 0; i < arity; i++ {
		v, err := m.pop()
		if err != nil {
			return err
		}
		args[i] = v
	}

	m.stack.Push(heap.Null())           // return-value placeholder, written by RETURN via set(-2, v)
	m.stack.Push(heap.Number(float32(m.ip))) // saved return address

	oldOffset := m.stack.Offset
	m.stack.Offset = m.stack.Top()
	m.stack.Push(heap.Number(float32(oldOffset))) // __offset__ pseudo-local at slot 0

	for i := arity - 1; i >= 0; i-- {
		m.stack.Push(args[i])
	}

	m.ip = int(callee.CodeOffset)
	return nil
}

// opEndFunction tears down the current frame (§4.7).
func (m *VM) opEndFunction() error {
	m.stack.ResetTo(1)

	savedOffset, err := m.pop()
	if err != nil {
		return err
	}
	m.stack.Offset = int(savedOffset.Num)

	savedIP, err := m.pop()
	if err != nil {
		return err
	}
	m.ip = int(savedIP.Num)
	return nil
}

func (m *VM) opAllocate() error {
	nVal, err := m.pop()
	if err != nil {
		return err
	}
	n := int(nVal.Num)

	values := make([]heap.Value, n)
	for i := n - 1; i >= 0; i-- {
		v, err := m.pop()
		if err != nil {
			return err
		}
		values[i] = v
	}
	keys := make([]heap.Value, n)
	for i := n - 1; i >= 0; i-- {
		k, err := m.pop()
		if err != nil {
			return err
		}
		keys[i] = k
	}

	pairs := make([]heap.Entry, n)
	for i := 0; i < n; i++ {
		if keys[i].Kind != heap.KindString {
			return perrors.NewRuntime("object keys must be strings")
		}
		pairs[i] = heap.Entry{Key: keys[i].Ptr, Value: values[i]}
	}

	p, err := m.heap.AllocateObject(pairs)
	if err != nil {
		return err
	}
	m.stack.Push(heap.Object(p))
	m.collectGarbage()
	return nil
}

func (m *VM) opAllocateArray() error {
	nVal, err := m.pop()
	if err != nil {
		return err
	}
	n := int(nVal.Num)

	values := make([]heap.Value, n)
	for i := n - 1; i >= 0; i-- {
		v, err := m.pop()
		if err != nil {
			return err
		}
		values[i] = v
	}

	p, err := m.heap.AllocateArray(values)
	if err != nil {
		return err
	}
	m.stack.Push(heap.Array(p))
	m.collectGarbage()
	return nil
}

func (m *VM) opAccess() error {
	container, err := m.pop()
	if err != nil {
		return err
	}
	key, err := m.pop()
	if err != nil {
		return err
	}
	switch container.Kind {
	case heap.KindObject:
		if key.Kind != heap.KindString {
			return perrors.NewRuntime("object index must be a string")
		}
		m.stack.Push(m.heap.GetProperty(container.Ptr, key.Ptr))
	case heap.KindArray:
		if key.Kind != heap.KindNumber {
			return perrors.NewRuntime("array index must be a number")
		}
		m.stack.Push(m.heap.GetArrayElement(container.Ptr, int(key.Num)))
	default:
		return perrors.NewRuntime("cannot index this type")
	}
	return nil
}

func (m *VM) opSetProperty() error {
	key, err := m.pop()
	if err != nil {
		return err
	}
	container, err := m.pop()
	if err != nil {
		return err
	}
	value, err := m.pop()
	if err != nil {
		return err
	}
	switch container.Kind {
	case heap.KindObject:
		if key.Kind != heap.KindString {
			return perrors.NewRuntime("object index must be a string")
		}
		m.heap.SetProperty(container.Ptr, key.Ptr, value)
	case heap.KindArray:
		if key.Kind != heap.KindNumber {
			return perrors.NewRuntime("array index must be a number")
		}
		m.heap.SetArrayElement(container.Ptr, int(key.Num), value)
	default:
		return perrors.NewRuntime("cannot index this type")
	}
	m.stack.Push(value)
	return nil
}

func (m *VM) opPrint() error {
	v, err := m.pop()
	if err != nil {
		return err
	}
	fmt.Fprintln(m.Stdout, m.Format(v))
	return nil
}

// Format renders a Value the way PRINT does: strings bare, everything else
// via its literal surface form.
func (m *VM) Format(v heap.Value) string {
	switch v.Kind {
	case heap.KindNull:
		return "null"
	case heap.KindBool:
		return strconv.FormatBool(v.Bool)
	case heap.KindNumber:
		return strconv.FormatFloat(float64(v.Num), 'g', -1, 32)
	case heap.KindString:
		return m.heap.GetString(v.Ptr)
	case heap.KindObject:
		return m.formatObject(v.Ptr)
	case heap.KindArray:
		return m.formatArray(v.Ptr)
	case heap.KindFunction:
		return "[function]"
	}
	return "<unknown>"
}

// formatObject renders `{ k1: v1, k2: v2, ... }` (§6's exact spacing:
// a space after '{' and before '}', ", " between pairs).
func (m *VM) formatObject(p heap.Ptr) string {
	entries := m.heap.GetObjectEntries(p)
	if len(entries) == 0 {
		return "{ }"
	}
	s := "{ "
	for i, e := range entries {
		if i > 0 {
			s += ", "
		}
		s += m.heap.GetString(e.Key) + ": " + m.Format(e.Value)
	}
	return s + " }"
}

// formatArray renders `[ v1, v2, ... ]` with the same bracket spacing.
func (m *VM) formatArray(p heap.Ptr) string {
	values := m.heap.GetArrayValues(p)
	if len(values) == 0 {
		return "[ ]"
	}
	s := "[ "
	for i, v := range values {
		if i > 0 {
			s += ", "
		}
		s += m.Format(v)
	}
	return s + " ]"
}

// opPow mirrors the original VM's pow_numbers/power: only integer exponents
// are supported (a fractional exponent is a runtime error), computed by
// recursive exponentiation-by-squaring rather than math.Pow's f64 round-trip.
func (m *VM) opPow() error {
	b, err := m.pop()
	if err != nil {
		return err
	}
	a, err := m.pop()
	if err != nil {
		return err
	}
	if a.Kind != heap.KindNumber || b.Kind != heap.KindNumber {
		return perrors.NewRuntime("pow of anything but numbers is not supported")
	}
	if b.Num != float32(int32(b.Num)) {
		return perrors.NewRuntime("pow being a float number is not supported")
	}
	pw := int32(b.Num)
	if pw < 0 {
		m.stack.Push(heap.Number(1 / power(a.Num, uint32(-pw))))
		return nil
	}
	m.stack.Push(heap.Number(power(a.Num, uint32(pw))))
	return nil
}

func power(base float32, pow uint32) float32 {
	if pow == 0 {
		return 1
	}
	if pow == 1 {
		return base
	}
	half := power(base, pow/2)
	if pow%2 == 0 {
		return half * half
	}
	return half * half * base
}

// sleepFor is a small indirection so tests can stub out real time.Sleep.
var sleepFor = time.Sleep
