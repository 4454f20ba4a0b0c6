// Package pool implements the arena that backs the cache allocators: one
// fixed, page-aligned region carved out with a bump pointer.
//
// A Pool never reuses memory on its own. Allocation only advances the bump
// pointer; callers that want reuse build a freelist on top (see fcache/alloc)
// or hand out fixed slots once (see fcache/block). Truncate lets such a
// caller give a region at the very end of the committed range back to the
// untouched tail.
//
// Pools are not thread-safe.
package pool

import (
	"errors"
	"fmt"

	"github.com/joshuapare/vfscache/internal/buf"
	"github.com/joshuapare/vfscache/internal/pagemem"
)

var (
	// ErrBadCapacity indicates a zero, negative or unaligned capacity.
	ErrBadCapacity = errors.New("pool: capacity must be a positive multiple of the quantum")

	// ErrBadQuantum indicates a quantum that is not a power of two.
	ErrBadQuantum = errors.New("pool: quantum must be a power of two")

	// ErrClosed indicates use after Destroy.
	ErrClosed = errors.New("pool: use after destroy")
)

// Pool is a bump allocator over a fixed region of capacity bytes.
type Pool struct {
	mem     []byte
	release func() error
	quantum int

	// cur is the bump pointer: [0, cur) is committed, [cur, len(mem)) is the
	// untouched tail.
	cur int
}

// New reserves capacity bytes of page-aligned memory. Every allocation is
// rounded up to a multiple of quantum, which must be a power of two.
func New(capacity, quantum int) (*Pool, error) {
	if quantum <= 0 || quantum&(quantum-1) != 0 {
		return nil, ErrBadQuantum
	}
	if capacity <= 0 || capacity%quantum != 0 {
		return nil, ErrBadCapacity
	}
	mem, release, err := pagemem.Map(capacity)
	if err != nil {
		return nil, fmt.Errorf("pool: reserve %d bytes: %w", capacity, err)
	}
	return &Pool{mem: mem, release: release, quantum: quantum}, nil
}

// Alloc bumps the pointer by size (rounded up to the quantum; 0 means one
// quantum) and returns the offset of the new range. ok is false when the
// tail is too small.
func (p *Pool) Alloc(size int) (off int, ok bool) {
	if p.mem == nil || size < 0 {
		return 0, false
	}
	if size == 0 {
		size = p.quantum
	}
	size = buf.RoundUp(size, p.quantum)
	if size > len(p.mem)-p.cur {
		return 0, false
	}
	off = p.cur
	p.cur += size
	return off, true
}

// Contains reports whether off lies in the committed range.
func (p *Pool) Contains(off int) bool {
	return off >= 0 && off < p.cur
}

// Truncate returns the last n committed bytes to the tail. n must be a
// multiple of the quantum and no larger than the committed size.
func (p *Pool) Truncate(n int) error {
	if n < 0 || n > p.cur || n%p.quantum != 0 {
		return fmt.Errorf("pool: truncate %d of %d committed bytes", n, p.cur)
	}
	p.cur -= n
	return nil
}

// FreeAll discards every allocation. Memory contents are left as they are.
func (p *Pool) FreeAll() {
	p.cur = 0
}

// Destroy releases the backing memory. The pool is unusable afterwards.
func (p *Pool) Destroy() error {
	if p.mem == nil {
		return ErrClosed
	}
	p.mem = nil
	p.cur = 0
	return p.release()
}

// Bytes returns the whole backing region. Callers index it by offset.
func (p *Pool) Bytes() []byte { return p.mem }

// Slice returns [off, off+n) of the backing region, or nil when out of range.
func (p *Pool) Slice(off, n int) []byte {
	s, ok := buf.Slice(p.mem, off, n)
	if !ok {
		return nil
	}
	return s
}

// Committed returns the number of bytes below the bump pointer.
func (p *Pool) Committed() int { return p.cur }

// Capacity returns the size of the backing region.
func (p *Pool) Capacity() int { return len(p.mem) }

// Quantum returns the allocation granularity.
func (p *Pool) Quantum() int { return p.quantum }
