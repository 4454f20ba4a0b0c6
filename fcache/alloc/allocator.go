package alloc

import (
	"fmt"

	"github.com/joshuapare/vfscache/fcache/pool"
	"github.com/joshuapare/vfscache/internal/logger"
	"github.com/joshuapare/vfscache/internal/pagemem"
)

// Allocator is the segregated-freelist allocator over one fixed arena.
type Allocator struct {
	pool    *pool.Pool
	protect bool

	// heads[c] is the lowest-addressed free region of class c, or nilOff.
	heads [numClasses]int

	// bitmap bit c is set iff heads[c] != nilOff.
	bitmap uint64

	freeBytes   int // bytes on freelists (excludes the tail)
	freeRegions int

	stats Stats
}

// Stats holds allocator counters for testing and instrumentation.
type Stats struct {
	AllocCalls       int // Total Alloc() calls
	ClassFit         int // Satisfied from the ideal size class
	TailFit          int // Satisfied by bumping into the untouched tail
	LargerClassFit   int // Satisfied by splitting a region of a larger class
	Failures         int // Returned ErrNoSpace
	FreeCalls        int // Successful Free() calls
	Splits           int // Remainders re-filed after a split
	CoalesceBackward int // Merges with the preceding region
	CoalesceForward  int // Merges with the following region
	TailReturns      int // Frees that shrank the committed range
}

// New creates an allocator over a fresh arena of capacity bytes.
// opts may be nil.
func New(capacity int, opts *Options) (*Allocator, error) {
	if capacity <= 0 || capacity%Quantum != 0 {
		return nil, ErrBadCapacity
	}
	p, err := pool.New(capacity, Quantum)
	if err != nil {
		return nil, fmt.Errorf("alloc: %w", err)
	}
	a := &Allocator{pool: p}
	if opts != nil {
		a.protect = opts.ProtectReadOnly
	}
	a.clearFreelists()
	return a, nil
}

// Alloc reserves size bytes (rounded up to Quantum; 0 yields one quantum)
// and returns the arena offset of the buffer.
//
// ErrNoSpace is an expected outcome: the caller should release something
// and try again.
func (a *Allocator) Alloc(size int) (int, error) {
	if size < 0 || size > MaxSize {
		return 0, ErrBadSize
	}
	a.stats.AllocCalls++
	sizePA := roundSize(size)
	class := sizeClass(sizePA)

	// reuse a freed region of about the right size
	if off, ok := a.allocFromClass(class, sizePA); ok {
		a.stats.ClassFit++
		return off, nil
	}

	// use fresh memory before splitting big regions
	if off, ok := a.pool.Alloc(sizePA); ok {
		a.stats.TailFit++
		return off, nil
	}

	// last resort
	if off, ok := a.allocFromLargerClass(class, sizePA); ok {
		a.stats.LargerClassFit++
		return off, nil
	}

	a.stats.Failures++
	return 0, ErrNoSpace
}

// Free returns the buffer at off, which was allocated with size bytes.
// The whole rounded range must lie in the committed arena and must not
// overlap a free region (ErrDoubleFree); nothing changes on error.
func (a *Allocator) Free(off, size int) error {
	if size < 0 || size > MaxSize {
		return ErrBadSize
	}
	sizePA := roundSize(size)
	if off%Quantum != 0 || !a.pool.Contains(off) || !a.pool.Contains(off+sizePA-1) {
		logger.Warn("alloc: free of invalid range", "off", off, "size", size,
			"committed", a.pool.Committed())
		return fmt.Errorf("%w: off=%d size=%d", ErrBadRange, off, size)
	}

	// Any overlap with a free region means part of the range was freed
	// already, possibly merged into a neighbor since.
	if r, free := a.freeRegionOverlapping(off, sizePA); free {
		logger.Warn("alloc: double free", "off", off, "size", size,
			"free_off", r.Off, "free_size", r.Size)
		return fmt.Errorf("%w: off=%d", ErrDoubleFree, off)
	}

	// Tags are written into the freed memory, so it must be writable again.
	if a.protect {
		if err := pagemem.Protect(a.pool.Slice(off, sizePA), false); err != nil {
			logger.Warn("alloc: cannot restore write access", "off", off, "err", err)
		}
	}

	a.coalesceAndFree(off, sizePA)
	a.stats.FreeCalls++
	return nil
}

// MakeReadOnly write-protects a buffer so accidental mutation of cached
// content faults. It is a no-op unless Options.ProtectReadOnly was set.
func (a *Allocator) MakeReadOnly(off, size int) error {
	if !a.protect {
		return nil
	}
	s := a.pool.Slice(off, roundSize(size))
	if s == nil {
		return fmt.Errorf("%w: off=%d size=%d", ErrBadRange, off, size)
	}
	return pagemem.Protect(s, true)
}

// Reset returns the allocator to its freshly constructed state. Only the
// free-region tags are wiped; other memory contents are left as they are.
func (a *Allocator) Reset() {
	if a.protect {
		if err := pagemem.Protect(a.pool.Bytes(), false); err != nil {
			logger.Warn("alloc: cannot restore write access on reset", "err", err)
		}
	}
	// Tags left behind could later be mistaken for live neighbors.
	for _, r := range a.FreeRegions() {
		a.wipeTags(r.Off, r.Size)
	}
	a.pool.FreeAll()
	a.clearFreelists()
	a.stats = Stats{}
}

// Close releases the arena.
func (a *Allocator) Close() error {
	return a.pool.Destroy()
}

func (a *Allocator) clearFreelists() {
	for i := range a.heads {
		a.heads[i] = nilOff
	}
	a.bitmap = 0
	a.freeBytes = 0
	a.freeRegions = 0
}

// Bytes returns the n bytes at off, aliasing the arena, or nil when out of range.
func (a *Allocator) Bytes(off, n int) []byte {
	return a.pool.Slice(off, n)
}

// Contains reports whether off lies in the committed part of the arena.
func (a *Allocator) Contains(off int) bool { return a.pool.Contains(off) }

// Capacity returns the arena size.
func (a *Allocator) Capacity() int { return a.pool.Capacity() }

// Committed returns the size of the arena prefix that has ever been handed out
// and not given back to the tail.
func (a *Allocator) Committed() int { return a.pool.Committed() }

// FreeBytes returns freelist bytes plus the untouched tail.
func (a *Allocator) FreeBytes() int {
	return a.freeBytes + a.pool.Capacity() - a.pool.Committed()
}

// Stats returns a snapshot of the allocator counters.
func (a *Allocator) Stats() Stats { return a.stats }

// FreeRegions lists every region on every freelist, by class then address.
func (a *Allocator) FreeRegions() []Region {
	regions := make([]Region, 0, a.freeRegions)
	for class, head := range a.heads {
		for cur := head; cur != nilOff; {
			h, ok := a.validHeader(cur)
			if !ok {
				break
			}
			regions = append(regions, Region{Off: cur, Size: h.size, Class: class})
			cur = h.next
		}
	}
	return regions
}

// Check verifies the freelist invariants: valid and matching tags, correct
// class, ascending addresses, consistent back links and bitmap, no two
// adjacent free regions, and no free region touching the tail.
func (a *Allocator) Check() error {
	var total, count int
	ends := make(map[int]bool, a.freeRegions)
	starts := make(map[int]bool, a.freeRegions)

	for class, head := range a.heads {
		if (head != nilOff) != (a.bitmap&(1<<class) != 0) {
			return fmt.Errorf("%w: bitmap bit %d disagrees with list head", ErrCorrupt, class)
		}
		prev := nilOff
		for cur := head; cur != nilOff; {
			h, ok := a.validHeader(cur)
			if !ok {
				return fmt.Errorf("%w: invalid header at %d", ErrCorrupt, cur)
			}
			f, ok := a.validFooter(cur + h.size)
			if !ok || f.size != h.size {
				return fmt.Errorf("%w: footer mismatch for region at %d", ErrCorrupt, cur)
			}
			if sizeClass(h.size) != class {
				return fmt.Errorf("%w: region at %d (size %d) filed in class %d", ErrCorrupt, cur, h.size, class)
			}
			if h.prev != prev {
				return fmt.Errorf("%w: back link of %d is %d, want %d", ErrCorrupt, cur, h.prev, prev)
			}
			if prev != nilOff && cur <= prev {
				return fmt.Errorf("%w: class %d not address ordered at %d", ErrCorrupt, class, cur)
			}
			if cur+h.size >= a.pool.Committed() {
				return fmt.Errorf("%w: free region at %d reaches the tail", ErrCorrupt, cur)
			}
			starts[cur] = true
			ends[cur+h.size] = true
			total += h.size
			count++
			prev = cur
			cur = h.next
		}
	}

	for end := range ends {
		if starts[end] {
			return fmt.Errorf("%w: adjacent free regions at %d were not merged", ErrCorrupt, end)
		}
	}
	if total != a.freeBytes || count != a.freeRegions {
		return fmt.Errorf("%w: accounting says %d bytes in %d regions, lists hold %d in %d",
			ErrCorrupt, a.freeBytes, a.freeRegions, total, count)
	}
	return nil
}
