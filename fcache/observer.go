package fcache

// Observer receives cache events for statistics. Calls are fire-and-forget.
// A nil Observer disables reporting.
//
// See fcache/metrics for a Prometheus implementation.
type Observer interface {
	// BufAlloc records a successful Allocate of size bytes, which occupied
	// alignedSize bytes of arena.
	BufAlloc(size, alignedSize int)

	// BufFree records a buffer going back to the allocator.
	BufFree(size int)

	// BufRef records a reference taken on a cached buffer.
	BufRef()

	// CacheAccess records a CacheRetrieve hit or miss.
	CacheAccess(hit bool, size int)

	// BlockAccess records a BlockFind hit or miss.
	BlockAccess(hit bool)

	// Evict records a cached file evicted to make room.
	Evict(size int)
}
