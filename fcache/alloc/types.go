package alloc

import (
	"math"
	"math/bits"

	"github.com/joshuapare/vfscache/internal/buf"
)

const (
	// Quantum is the allocation granularity. It is at least the storage
	// sector size and exactly one page, so cached buffers can be made
	// read-only without touching their neighbors.
	Quantum = 4 << 10

	// MaxSize is the largest request whose rounded size still fits an int.
	MaxSize = math.MaxInt &^ (Quantum - 1)

	// numClasses is one freelist per bit of a size.
	numClasses = 64

	// nilOff marks the absence of a link.
	nilOff = -1
)

// Options tunes an Allocator.
type Options struct {
	// ProtectReadOnly makes MakeReadOnly actually mprotect buffers.
	// Free and Reset restore write access before touching the memory.
	ProtectReadOnly bool
}

// Region describes one free region on a freelist.
type Region struct {
	Off   int
	Size  int
	Class int
}

// sizeClass returns floor(log2(size)).
func sizeClass(size int) int {
	return bits.Len(uint(size)) - 1
}

// roundSize applies the allocator's size policy: 0 becomes 1, then the
// result is rounded up to the quantum.
func roundSize(size int) int {
	if size == 0 {
		size = 1
	}
	return buf.RoundUp(size, Quantum)
}
