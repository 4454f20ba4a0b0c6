// Package buf contains bounds-checked slice helpers and the little-endian
// accessors used to read and write boundary tags inside arena memory.
package buf

import "encoding/binary"

// U32LE reads a little-endian uint32 at b[off:]. Returns 0, false when out of range.
func U32LE(b []byte, off int) (uint32, bool) {
	s, ok := Slice(b, off, 4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(s), true
}

// U64LE reads a little-endian uint64 at b[off:]. Returns 0, false when out of range.
func U64LE(b []byte, off int) (uint64, bool) {
	s, ok := Slice(b, off, 8)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint64(s), true
}

// PutU32LE writes v little-endian at b[off:]. Returns false without writing when out of range.
func PutU32LE(b []byte, off int, v uint32) bool {
	s, ok := Slice(b, off, 4)
	if !ok {
		return false
	}
	binary.LittleEndian.PutUint32(s, v)
	return true
}

// PutU64LE writes v little-endian at b[off:]. Returns false without writing when out of range.
func PutU64LE(b []byte, off int, v uint64) bool {
	s, ok := Slice(b, off, 8)
	if !ok {
		return false
	}
	binary.LittleEndian.PutUint64(s, v)
	return true
}
