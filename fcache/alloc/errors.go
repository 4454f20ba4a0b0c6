package alloc

import "errors"

var (
	// ErrNoSpace indicates that neither the freelists nor the arena tail can
	// satisfy the request. Callers are expected to evict and retry.
	ErrNoSpace = errors.New("alloc: no free region large enough")

	// ErrBadRange indicates a free of a range that is not inside the committed arena.
	ErrBadRange = errors.New("alloc: range outside arena")

	// ErrDoubleFree indicates a free of a region that is already on a freelist.
	ErrDoubleFree = errors.New("alloc: region already free")

	// ErrBadSize indicates a negative request size or one above MaxSize.
	ErrBadSize = errors.New("alloc: size out of range")

	// ErrBadCapacity indicates an arena capacity that is not a positive multiple of Quantum.
	ErrBadCapacity = errors.New("alloc: capacity must be a positive multiple of the quantum")

	// ErrCorrupt is returned by Check when a freelist invariant does not hold.
	ErrCorrupt = errors.New("alloc: freelist corrupt")
)
