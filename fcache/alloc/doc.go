// Package alloc provides the variable-size buffer allocator behind the file cache.
//
// # Overview
//
// Allocator carves buffers out of one fixed arena (a pool.Pool) and never
// moves a live allocation: callers receive slices that alias the arena and
// may hold on to them for as long as they like. Fragmentation is therefore
// controlled purely by allocation and free policy.
//
// # Policy
//
//   - All sizes are rounded up to Quantum (4 KiB, one page), so a buffer can be
//     write-protected without affecting its neighbors.
//   - Allocation: first fit in the ideal size class, then the untouched arena
//     tail, then the lowest occupied larger class. The remainder of a split is
//     always returned to its own class.
//   - Free: immediate coalescing with both neighbors. A merged region that
//     reaches the end of the committed range goes back to the tail.
//
// Pairing this with a cache whose eviction order approximates insertion
// order groups allocations of similar lifetime, which keeps holes
// mergeable.
//
// # Size Classes
//
// Free regions are kept on 64 segregated lists, one per power of two:
//
//	Class 12:   4 -   8 KB
//	Class 13:   8 -  16 KB
//	Class 14:  16 -  32 KB
//	...
//	Class 26:  64 - 128 MB
//
// Each list is doubly linked and ordered by ascending address. A 64-bit
// bitmap records which lists are non-empty.
//
// # Boundary Tags
//
// A free region stores its own bookkeeping in the freed bytes:
//
//	offset 0          32                                   size-16      size
//	| header (32 B)   | ... stale user data ...            | footer (16 B) |
//	  prev next size 'CMAH' magic                            magic 'CMAF' size
//
// Links are arena offsets, not pointers. All reads and writes go through
// bounds-checked helpers, and a tag is trusted only if its id, magic and
// size all validate. On Free the footer just before the region and the
// header just after it identify free neighbors.
//
// # Usage Example
//
//	a, err := alloc.New(64<<20, nil)
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//
//	off, err := a.Alloc(10000) // 12 KiB reserved
//	if errors.Is(err, alloc.ErrNoSpace) {
//	    // evict something and retry
//	}
//	data := a.Bytes(off, 10000)
//	...
//	err = a.Free(off, 10000)
//
// # Thread Safety
//
// Allocator instances are not thread-safe. Callers must synchronize access
// externally.
package alloc
