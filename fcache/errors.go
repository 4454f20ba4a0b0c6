package fcache

import "errors"

var (
	// ErrNoSpace indicates that an allocation failed and nothing was left in
	// the cache to evict.
	ErrNoSpace = errors.New("fcache: arena exhausted and cache empty")

	// ErrTooLarge indicates a request that could not fit even in an empty
	// arena. Nothing is evicted for it.
	ErrTooLarge = errors.New("fcache: request larger than the arena")

	// ErrEvictionStalled indicates that the evict-and-retry loop hit its
	// bound without making room. This points at a bug: eviction should
	// either free space or empty the cache.
	ErrEvictionStalled = errors.New("fcache: eviction made no progress")

	// ErrInvalidConfig indicates a configuration that failed validation.
	ErrInvalidConfig = errors.New("fcache: invalid configuration")
)
