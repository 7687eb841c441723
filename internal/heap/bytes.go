package heap

import (
	"encoding/binary"
	"math"
)

// Raw reads/writes into a heap-managed byte region (§2 component 2). Every
// object, array, and string allocation is backed by a plain []byte buffer in
// the arena; these helpers are the only code that pokes at byte offsets
// directly, matching the byte-buffer primitives the heap manager and hash
// table build on.

func writeByte(buf []byte, off int, b byte) {
	buf[off] = b
}

func readByte(buf []byte, off int) byte {
	return buf[off]
}

func writeU64(buf []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(buf[off:off+8], v)
}

func readU64(buf []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(buf[off : off+8])
}

func writePtr(buf []byte, off int, p Ptr) {
	writeU64(buf, off, uint64(p))
}

func readPtr(buf []byte, off int) Ptr {
	return Ptr(readU64(buf, off))
}

func writeF32(buf []byte, off int, f float32) {
	binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(f))
}

func readF32(buf []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
}

// writeValuePayload writes a Value's heap.Type tag and payload starting at
// off. This is the encoding hash-table entries and array entries share; it
// is not the PUSH immediate layout, whose tags and function encoding differ.
func writeValuePayload(buf []byte, off int, v Value) {
	writeByte(buf, off, byte(valueType(v)))
	off++
	switch v.Kind {
	case KindNull:
	case KindBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		writeByte(buf, off, b)
	case KindNumber:
		// Entries reserve 8 bytes for the payload; numbers still only use 4.
		writeF32(buf, off, v.Num)
	case KindString:
		writePtr(buf, off, v.Ptr)
	case KindObject:
		writePtr(buf, off, v.Ptr)
	case KindArray:
		writePtr(buf, off, v.Ptr)
	case KindFunction:
		if v.FuncKind == FuncBuiltin {
			writeByte(buf, off, 1)
			binary.LittleEndian.PutUint16(buf[off+1:off+3], v.BuiltinID)
		} else {
			writeByte(buf, off, 0)
			binary.LittleEndian.PutUint32(buf[off+1:off+5], v.CodeOffset)
			writeByte(buf, off+5, v.Arity)
		}
	}
}

func readValuePayload(buf []byte, off int) Value {
	typ := Type(readByte(buf, off))
	off++
	switch typ {
	case TypeEmpty:
		return Value{}
	case TypeNull:
		return Null()
	case TypeBool:
		return Bool(readByte(buf, off) == 1)
	case TypeNumber:
		return Number(readF32(buf, off))
	case TypeString:
		return String(readPtr(buf, off))
	case TypeObject:
		return Object(readPtr(buf, off))
	case TypeArray:
		return Array(readPtr(buf, off))
	case TypeFunction:
		if readByte(buf, off) == 1 {
			return BuiltinFunction(binary.LittleEndian.Uint16(buf[off+1 : off+3]))
		}
		offset := binary.LittleEndian.Uint32(buf[off+1 : off+5])
		arity := readByte(buf, off+5)
		return UserFunction(offset, arity)
	}
	return Value{}
}

func valueType(v Value) Type {
	switch v.Kind {
	case KindNull:
		return TypeNull
	case KindBool:
		return TypeBool
	case KindNumber:
		return TypeNumber
	case KindString:
		return TypeString
	case KindObject:
		return TypeObject
	case KindArray:
		return TypeArray
	case KindFunction:
		return TypeFunction
	}
	return TypeEmpty
}
