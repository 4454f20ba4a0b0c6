package alloc

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	KiB = 1 << 10
	MiB = 1 << 20
)

// newTestAllocator creates an allocator that is closed with the test.
func newTestAllocator(t testing.TB, capacity int, opts *Options) *Allocator {
	t.Helper()
	a, err := New(capacity, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// mustAlloc allocates size bytes and fails the test on error.
func mustAlloc(t testing.TB, a *Allocator, size int) int {
	t.Helper()
	off, err := a.Alloc(size)
	require.NoError(t, err, "Alloc(%d)", size)
	return off
}

// span is an outstanding allocation in tests.
type span struct {
	off, size int
}

// requireDisjoint checks that outstanding spans do not overlap and lie in the arena.
func requireDisjoint(t testing.TB, a *Allocator, spans []span) {
	t.Helper()
	sorted := append([]span(nil), spans...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].off < sorted[j].off })
	for i, s := range sorted {
		end := s.off + roundSize(s.size)
		require.GreaterOrEqual(t, s.off, 0)
		require.LessOrEqual(t, end, a.Capacity(), "span at %d exceeds arena", s.off)
		if i > 0 {
			prev := sorted[i-1]
			require.LessOrEqual(t, prev.off+roundSize(prev.size), s.off,
				"spans at %d and %d overlap", prev.off, s.off)
		}
	}
}
