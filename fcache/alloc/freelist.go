package alloc

import (
	"math/bits"

	"github.com/joshuapare/vfscache/internal/logger"
)

// freelistAdd writes fresh tags for [off, off+size) and links it into its
// class in address order.
func (a *Allocator) freelistAdd(off, size int) {
	class := sizeClass(size)

	// Find the last node below off; the new node goes right after it.
	prev := nilOff
	next := a.heads[class]
	for next != nilOff && next < off {
		prev = next
		h, _ := a.readHeader(next)
		next = h.next
	}

	a.writeHeader(off, header{
		prev:  prev,
		next:  next,
		size:  size,
		id:    headerID,
		magic: tagMagic,
	})
	a.writeFooter(off+size, footer{size: size, id: footerID, magic: tagMagic})

	if next != nilOff {
		a.setPrev(next, off)
	}
	if prev == nilOff {
		a.heads[class] = off
	} else {
		a.setNext(prev, off)
	}

	a.bitmap |= 1 << class
	a.freeBytes += size
	a.freeRegions++
}

// freelistRemove unlinks the free region at off and wipes its tags.
// Returns false, leaving everything untouched, if the tags do not validate.
func (a *Allocator) freelistRemove(off int) bool {
	h, ok := a.validHeader(off)
	if !ok {
		logger.Warn("alloc: freelist node has invalid header", "off", off)
		return false
	}
	f, ok := a.validFooter(off + h.size)
	if !ok || f.size != h.size {
		logger.Warn("alloc: freelist node has invalid footer",
			"off", off, "header_size", h.size, "footer_size", f.size)
		return false
	}
	if !a.linked(off, h) {
		logger.Warn("alloc: tagged region is not on its freelist", "off", off, "size", h.size)
		return false
	}

	class := sizeClass(h.size)
	if h.prev == nilOff {
		a.heads[class] = h.next
	} else {
		a.setNext(h.prev, h.next)
	}
	if h.next != nilOff {
		a.setPrev(h.next, h.prev)
	}
	if a.heads[class] == nilOff {
		a.bitmap &^= 1 << class
	}

	a.wipeTags(off, h.size)
	a.freeBytes -= h.size
	a.freeRegions--
	return true
}

// allocFromClass returns the first region of class that holds size bytes,
// splitting off and re-filing any remainder.
func (a *Allocator) allocFromClass(class, size int) (int, bool) {
	for cur := a.heads[class]; cur != nilOff; {
		h, ok := a.validHeader(cur)
		if !ok {
			logger.Warn("alloc: freelist walk hit an invalid header", "class", class, "off", cur)
			return 0, false
		}
		if h.size >= size {
			if !a.freelistRemove(cur) {
				return 0, false
			}
			if remnant := h.size - size; remnant > 0 {
				a.freelistAdd(cur+size, remnant)
				a.stats.Splits++
			}
			return cur, true
		}
		cur = h.next
	}
	return 0, false
}

// allocFromLargerClass tries the occupied classes strictly above class,
// lowest first. Any region there is at least 2^(class+1) > size bytes.
func (a *Allocator) allocFromLargerClass(class, size int) (int, bool) {
	candidates := a.bitmap &^ (uint64(1)<<(class+1) - 1)
	for candidates != 0 {
		c := bits.TrailingZeros64(candidates)
		candidates &^= 1 << c
		if off, ok := a.allocFromClass(c, size); ok {
			return off, true
		}
	}
	return 0, false
}

// coalesceAndFree merges [off, off+size) with free neighbors and files the
// result. [off, off+size) is trusted to lie in the committed range.
func (a *Allocator) coalesceAndFree(off, size int) {
	// Previous region, unless off is the arena base.
	if off != 0 {
		if f, ok := a.validFooter(off); ok {
			prevOff := off - f.size
			if prevOff < 0 {
				logger.Warn("alloc: predecessor footer points before arena base", "off", off, "size", f.size)
			} else if sz, live := a.freeRegionAt(prevOff); !live || sz != f.size {
				// Either corruption or a stale tag surviving Reset.
				logger.Debug("alloc: ignoring footer without a matching free region", "off", off, "size", f.size)
			} else if a.freelistRemove(prevOff) {
				off = prevOff
				size += f.size
				a.stats.CoalesceBackward++
			}
		}
	}

	// Following region, unless it starts at or beyond the committed end.
	if end := off + size; end < a.pool.Committed() {
		if h, ok := a.validHeader(end); ok {
			switch {
			case !a.linked(end, h):
				logger.Debug("alloc: ignoring header without a live free region", "off", end)
			case a.freelistRemove(end):
				size += h.size
				a.stats.CoalesceForward++
			}
		}
	}

	if off+size == a.pool.Committed() {
		if err := a.pool.Truncate(size); err == nil {
			a.stats.TailReturns++
			return
		}
	}
	a.freelistAdd(off, size)
}

// linked reports whether the region at off, with header h, is actually
// threaded into its class list. Stale tags left in memory by Reset pass
// validation but fail this check.
func (a *Allocator) linked(off int, h header) bool {
	class := sizeClass(h.size)
	if h.prev == nilOff {
		if a.heads[class] != off {
			return false
		}
	} else if ph, ok := a.validHeader(h.prev); !ok || ph.next != off {
		return false
	}
	if h.next != nilOff {
		if nh, ok := a.validHeader(h.next); !ok || nh.prev != off {
			return false
		}
	}
	return true
}

// freeRegionOverlapping returns a free region intersecting [off, off+size).
// Class lists are address ordered, so each walk stops at the range end.
func (a *Allocator) freeRegionOverlapping(off, size int) (Region, bool) {
	end := off + size
	for occupied := a.bitmap; occupied != 0; {
		class := bits.TrailingZeros64(occupied)
		occupied &^= 1 << class
		for cur := a.heads[class]; cur != nilOff && cur < end; {
			h, ok := a.validHeader(cur)
			if !ok {
				break
			}
			if cur+h.size > off {
				return Region{Off: cur, Size: h.size, Class: class}, true
			}
			cur = h.next
		}
	}
	return Region{}, false
}

// freeRegionAt returns the size of the live free region starting at off.
func (a *Allocator) freeRegionAt(off int) (int, bool) {
	h, ok := a.validHeader(off)
	if !ok || !a.linked(off, h) {
		return 0, false
	}
	return h.size, true
}
