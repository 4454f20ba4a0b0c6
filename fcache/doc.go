// Package fcache is a file-content buffer cache for a virtual file system.
//
// # Overview
//
// A Manager hands out buffers carved from one fixed arena and keeps recently
// read files cached in that same arena. Buffers are never copied: callers
// receive slices that alias the arena, and the arena never moves a live
// buffer.
//
// The Manager combines four parts:
//
//   - alloc.Allocator: segregated-freelist suballocator over the arena
//   - extant.Registry: reference counts for buffers held by callers
//   - landlord.Cache: cost-aware map from file identity to cached buffer
//   - block.Manager: small ring of raw archive blocks
//
// # Buffer Lifecycle
//
//	buf, err := m.Allocate(size, id, false)
//	if err != nil {
//	    return err
//	}
//	n, err := f.ReadAt(buf.Data, 0)
//	// ...
//	m.CacheInsert(buf.Addr, n, id)
//	m.Release(buf.Addr)
//
// Later readers of the same file get the cached buffer back:
//
//	if buf, ok := m.CacheRetrieve(id); ok {
//	    defer m.Release(buf.Addr)
//	    use(buf.Data)
//	}
//
// A released buffer stays in the arena for as long as the cache holds it.
// When Allocate runs out of space it evicts the least valuable cached files
// and retries a bounded number of times.
//
// # Errors
//
// Running out of memory is an ordinary outcome reported as ErrNoSpace (or
// block.ErrAllLocked for the block ring). A request larger than the whole
// arena fails up front with ErrTooLarge, leaving the cache intact. Misuse such as releasing an unknown
// buffer is logged through the package logger and otherwise ignored.
//
// # Thread Safety
//
// A Manager is not safe for concurrent use. All calls must come from one
// goroutine or be serialized by the caller.
package fcache
