package alloc

import (
	"github.com/joshuapare/vfscache/internal/buf"
)

// Boundary tag layout. The header sits at the start of a free region, the
// footer in its last footerSize bytes.
const (
	headerID uint32 = 'C' | 'M'<<8 | 'A'<<16 | 'H'<<24
	footerID uint32 = 'C' | 'M'<<8 | 'A'<<16 | 'F'<<24
	tagMagic uint32 = 0xFF | 0x55<<8 | 0xAA<<16 | 0x01<<24

	hdrPrev    = 0
	hdrNext    = 8
	hdrSize    = 16
	hdrID      = 24
	hdrMagic   = 28
	headerSize = 32

	ftrMagic   = 0
	ftrID      = 4
	ftrSize    = 8
	footerSize = 16

	// wipeByte overwrites tags of regions leaving a freelist.
	wipeByte = 0xEE
)

// The smallest free region must hold both tags.
var _ = [Quantum - headerSize - footerSize]struct{}{}

type header struct {
	prev, next int
	size       int
	id, magic  uint32
}

type footer struct {
	size      int
	id, magic uint32
}

func encodeOff(off int) uint64 { return uint64(int64(off)) }
func decodeOff(v uint64) int   { return int(int64(v)) }

// readHeader decodes the header at off. ok is false if it does not fit in the arena.
func (a *Allocator) readHeader(off int) (h header, ok bool) {
	mem := a.pool.Bytes()
	if !buf.Has(mem, off, headerSize) {
		return header{}, false
	}
	prev, _ := buf.U64LE(mem, off+hdrPrev)
	next, _ := buf.U64LE(mem, off+hdrNext)
	size, _ := buf.U64LE(mem, off+hdrSize)
	h.id, _ = buf.U32LE(mem, off+hdrID)
	h.magic, _ = buf.U32LE(mem, off+hdrMagic)
	h.prev, h.next, h.size = decodeOff(prev), decodeOff(next), decodeOff(size)
	return h, true
}

func (a *Allocator) writeHeader(off int, h header) {
	mem := a.pool.Bytes()
	buf.PutU64LE(mem, off+hdrPrev, encodeOff(h.prev))
	buf.PutU64LE(mem, off+hdrNext, encodeOff(h.next))
	buf.PutU64LE(mem, off+hdrSize, encodeOff(h.size))
	buf.PutU32LE(mem, off+hdrID, h.id)
	buf.PutU32LE(mem, off+hdrMagic, h.magic)
}

// readFooter decodes the footer that ends at end.
func (a *Allocator) readFooter(end int) (f footer, ok bool) {
	mem := a.pool.Bytes()
	off := end - footerSize
	if !buf.Has(mem, off, footerSize) {
		return footer{}, false
	}
	f.magic, _ = buf.U32LE(mem, off+ftrMagic)
	f.id, _ = buf.U32LE(mem, off+ftrID)
	size, _ := buf.U64LE(mem, off+ftrSize)
	f.size = decodeOff(size)
	return f, true
}

func (a *Allocator) writeFooter(end int, f footer) {
	mem := a.pool.Bytes()
	off := end - footerSize
	buf.PutU32LE(mem, off+ftrMagic, f.magic)
	buf.PutU32LE(mem, off+ftrID, f.id)
	buf.PutU64LE(mem, off+ftrSize, encodeOff(f.size))
}

func (a *Allocator) setPrev(off, prev int) {
	buf.PutU64LE(a.pool.Bytes(), off+hdrPrev, encodeOff(prev))
}

func (a *Allocator) setNext(off, next int) {
	buf.PutU64LE(a.pool.Bytes(), off+hdrNext, encodeOff(next))
}

// validTag reports whether id, magic and size are consistent with a tag of
// kind expectedID. The magic value is all that separates a tag from user
// data, so size is also checked for plausibility.
func (a *Allocator) validTag(expectedID, id, magic uint32, size int) bool {
	if id != expectedID || magic != tagMagic {
		return false
	}
	return size > 0 && size%Quantum == 0 && size <= a.pool.Capacity()
}

func (a *Allocator) validHeader(off int) (header, bool) {
	h, ok := a.readHeader(off)
	if !ok || !a.validTag(headerID, h.id, h.magic, h.size) {
		return header{}, false
	}
	return h, true
}

func (a *Allocator) validFooter(end int) (footer, bool) {
	f, ok := a.readFooter(end)
	if !ok || !a.validTag(footerID, f.id, f.magic, f.size) {
		return footer{}, false
	}
	return f, true
}

// wipeTags overwrites both tags of the region [off, off+size) so stale
// tags can never be mistaken for live ones.
func (a *Allocator) wipeTags(off, size int) {
	mem := a.pool.Bytes()
	if s, ok := buf.Slice(mem, off, headerSize); ok {
		buf.Fill(s, wipeByte)
	}
	if s, ok := buf.Slice(mem, off+size-footerSize, footerSize); ok {
		buf.Fill(s, wipeByte)
	}
}
