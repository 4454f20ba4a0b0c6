package alloc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsBadCapacity(t *testing.T) {
	for _, c := range []int{0, -Quantum, Quantum + 1} {
		_, err := New(c, nil)
		require.ErrorIs(t, err, ErrBadCapacity, "capacity %d", c)
	}
}

func TestSizeClass(t *testing.T) {
	tests := []struct {
		size  int
		class int
	}{
		{4 * KiB, 12},
		{8 * KiB, 13},
		{12 * KiB, 13},
		{16 * KiB, 14},
		{4 * MiB, 22},
		{64 * MiB, 26},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.class, sizeClass(tt.size), "sizeClass(%d)", tt.size)
	}
}

// TestAlloc_ZeroSize verifies that 0-byte requests get a distinct quantum each.
func TestAlloc_ZeroSize(t *testing.T) {
	a := newTestAllocator(t, 16*Quantum, nil)

	off1 := mustAlloc(t, a, 0)
	off2 := mustAlloc(t, a, 0)

	assert.NotEqual(t, off1, off2)
	assert.Equal(t, Quantum, off2-off1)
	assert.Equal(t, 2*Quantum, a.Committed())

	require.NoError(t, a.Free(off1, 0))
	require.NoError(t, a.Free(off2, 0))
	assert.Equal(t, a.Capacity(), a.FreeBytes())
}

func TestAlloc_RoundsToQuantum(t *testing.T) {
	a := newTestAllocator(t, 16*Quantum, nil)

	off1 := mustAlloc(t, a, 1)
	off2 := mustAlloc(t, a, Quantum+1)
	off3 := mustAlloc(t, a, 10)

	assert.Equal(t, 0, off1)
	assert.Equal(t, Quantum, off2)
	assert.Equal(t, 3*Quantum, off3)
}

func TestAlloc_SizeOutOfRange(t *testing.T) {
	a := newTestAllocator(t, 4*Quantum, nil)
	for _, size := range []int{-1, MaxSize + 1, math.MaxInt} {
		_, err := a.Alloc(size)
		require.ErrorIs(t, err, ErrBadSize, "size %d", size)
		require.ErrorIs(t, a.Free(0, size), ErrBadSize, "size %d", size)
	}
	assert.Zero(t, a.Stats().Failures)
}

// TestAlloc_ScenarioFillAndReuse fills a 64 MiB arena with sixteen 4 MiB
// buffers, checks the 17th fails, then frees #3 and retries.
func TestAlloc_ScenarioFillAndReuse(t *testing.T) {
	a := newTestAllocator(t, 64*MiB, nil)

	offs := make([]int, 16)
	for i := range offs {
		offs[i] = mustAlloc(t, a, 4*MiB)
	}
	assert.Equal(t, a.Capacity(), a.Committed())

	_, err := a.Alloc(4 * MiB)
	require.ErrorIs(t, err, ErrNoSpace)

	third := offs[2]
	require.NoError(t, a.Free(third, 4*MiB))

	off, err := a.Alloc(4 * MiB)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, off, third)
	assert.Less(t, off, third+4*MiB)
	require.NoError(t, a.Check())
}

// TestCoalesce_AdjacentBothOrders frees two neighbors in either order and
// expects a single merged region that an exact-size request reuses via the
// ideal class.
func TestCoalesce_AdjacentBothOrders(t *testing.T) {
	tests := []struct {
		name      string
		freeFirst int // 0 or 1
	}{
		{"lower first", 0},
		{"upper first", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAllocator(t, 64*Quantum, nil)

			regions := []int{mustAlloc(t, a, 8*KiB), mustAlloc(t, a, 8*KiB)}
			guard := mustAlloc(t, a, Quantum) // keeps the pair off the tail
			require.Equal(t, 16*KiB, guard)

			require.NoError(t, a.Free(regions[tt.freeFirst], 8*KiB))
			require.NoError(t, a.Free(regions[1-tt.freeFirst], 8*KiB))
			require.NoError(t, a.Check())

			free := a.FreeRegions()
			require.Len(t, free, 1)
			assert.Equal(t, Region{Off: 0, Size: 16 * KiB, Class: 14}, free[0])

			before := a.Stats()
			off := mustAlloc(t, a, 16*KiB)
			after := a.Stats()

			assert.Equal(t, 0, off)
			assert.Equal(t, before.ClassFit+1, after.ClassFit, "should use the exact-fit path")
			assert.Equal(t, before.LargerClassFit, after.LargerClassFit)
			assert.Empty(t, a.FreeRegions())
		})
	}
}

func TestCoalesce_BothNeighbors(t *testing.T) {
	a := newTestAllocator(t, 64*Quantum, nil)

	x := mustAlloc(t, a, Quantum)
	y := mustAlloc(t, a, 2*Quantum)
	z := mustAlloc(t, a, Quantum)
	mustAlloc(t, a, Quantum) // guard

	require.NoError(t, a.Free(x, Quantum))
	require.NoError(t, a.Free(z, Quantum))
	require.Len(t, a.FreeRegions(), 2)

	require.NoError(t, a.Free(y, 2*Quantum))
	require.NoError(t, a.Check())

	free := a.FreeRegions()
	require.Len(t, free, 1)
	assert.Equal(t, 0, free[0].Off)
	assert.Equal(t, 4*Quantum, free[0].Size)

	st := a.Stats()
	assert.Equal(t, 1, st.CoalesceBackward)
	assert.Equal(t, 1, st.CoalesceForward)
}

// TestAlloc_SplitFromLargerClass covers the last-resort path.
func TestAlloc_SplitFromLargerClass(t *testing.T) {
	a := newTestAllocator(t, 16*Quantum, nil)

	big := mustAlloc(t, a, 8*Quantum)
	mustAlloc(t, a, 8*Quantum)
	require.NoError(t, a.Free(big, 8*Quantum))

	off := mustAlloc(t, a, Quantum)
	assert.Equal(t, big, off)

	st := a.Stats()
	assert.Equal(t, 1, st.LargerClassFit)
	assert.Equal(t, 1, st.Splits)

	free := a.FreeRegions()
	require.Len(t, free, 1)
	assert.Equal(t, Region{Off: Quantum, Size: 7 * Quantum, Class: 14}, free[0])
	require.NoError(t, a.Check())
}

// TestAlloc_ClassFirstFitIsAddressOrdered checks that the lowest fitting
// address in the ideal class wins.
func TestAlloc_ClassFirstFitIsAddressOrdered(t *testing.T) {
	a := newTestAllocator(t, 64*Quantum, nil)

	var offs []int
	for range 6 {
		offs = append(offs, mustAlloc(t, a, 2*Quantum))
	}
	// free 4 and 0 (non-adjacent), in descending order
	require.NoError(t, a.Free(offs[4], 2*Quantum))
	require.NoError(t, a.Free(offs[0], 2*Quantum))
	require.NoError(t, a.Check())

	off := mustAlloc(t, a, 2*Quantum)
	assert.Equal(t, offs[0], off)
}

func TestAlloc_PrefersTailOverSplitting(t *testing.T) {
	a := newTestAllocator(t, 64*Quantum, nil)

	big := mustAlloc(t, a, 16*Quantum)
	mustAlloc(t, a, Quantum)
	require.NoError(t, a.Free(big, 16*Quantum))

	off := mustAlloc(t, a, Quantum)
	assert.Equal(t, 17*Quantum, off, "fresh tail memory should be used before splitting")
	assert.Zero(t, a.Stats().LargerClassFit)
	assert.Zero(t, a.Stats().Splits)
}

func TestFree_BadRange(t *testing.T) {
	a := newTestAllocator(t, 16*Quantum, nil)
	off := mustAlloc(t, a, Quantum)

	tests := []struct {
		name      string
		off, size int
	}{
		{"beyond committed", 4 * Quantum, Quantum},
		{"negative", -Quantum, Quantum},
		{"unaligned", off + 100, 10},
		{"overruns committed", off, 2 * Quantum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, a.Free(tt.off, tt.size), ErrBadRange)
		})
	}
	require.NoError(t, a.Check())
	assert.Equal(t, Quantum, a.Committed())
}

func TestFree_DoubleFree(t *testing.T) {
	a := newTestAllocator(t, 16*Quantum, nil)
	mustAlloc(t, a, Quantum)
	b := mustAlloc(t, a, Quantum)
	mustAlloc(t, a, Quantum)

	require.NoError(t, a.Free(b, Quantum))
	require.ErrorIs(t, a.Free(b, Quantum), ErrDoubleFree)
	require.NoError(t, a.Check())
	assert.Len(t, a.FreeRegions(), 1)
}

func TestFree_DoubleFreeAfterMerge(t *testing.T) {
	a := newTestAllocator(t, 16*Quantum, nil)
	x := mustAlloc(t, a, Quantum)
	y := mustAlloc(t, a, Quantum)
	mustAlloc(t, a, Quantum) // keeps y off the tail

	require.NoError(t, a.Free(x, Quantum))
	require.NoError(t, a.Free(y, Quantum))
	require.Equal(t, []Region{{Off: x, Size: 2 * Quantum, Class: sizeClass(2 * Quantum)}}, a.FreeRegions())

	// y now lies inside the merged region
	require.ErrorIs(t, a.Free(y, Quantum), ErrDoubleFree)
	// a range straddling the free region and live memory
	require.ErrorIs(t, a.Free(y, 2*Quantum), ErrDoubleFree)

	require.NoError(t, a.Check())
	assert.Equal(t, 2*Quantum, a.FreeBytes()-(a.Capacity()-a.Committed()))
	assert.Equal(t, x, mustAlloc(t, a, 2*Quantum), "merged region is still usable")
	require.NoError(t, a.Check())
}

func TestFree_TailReturn(t *testing.T) {
	a := newTestAllocator(t, 16*Quantum, nil)
	x := mustAlloc(t, a, Quantum)
	y := mustAlloc(t, a, 2*Quantum)

	require.NoError(t, a.Free(x, Quantum))
	assert.Equal(t, 3*Quantum, a.Committed(), "x is not at the tail")

	require.NoError(t, a.Free(y, 2*Quantum))
	assert.Zero(t, a.Committed(), "y merges with x and both go back to the tail")
	assert.Empty(t, a.FreeRegions())
	assert.Equal(t, 1, a.Stats().TailReturns)
}

func TestBytes_AliasesArena(t *testing.T) {
	a := newTestAllocator(t, 16*Quantum, nil)
	off := mustAlloc(t, a, 100)

	b := a.Bytes(off, 100)
	require.Len(t, b, 100)
	b[0] = 0x42
	assert.Equal(t, byte(0x42), a.Bytes(off, 1)[0])
	assert.Nil(t, a.Bytes(a.Capacity(), 1))
}

// TestFree_DoesNotTouchNeighbors checks that tags stay inside the freed region.
func TestFree_DoesNotTouchNeighbors(t *testing.T) {
	a := newTestAllocator(t, 16*Quantum, nil)
	left := mustAlloc(t, a, Quantum)
	mid := mustAlloc(t, a, Quantum)
	right := mustAlloc(t, a, Quantum)

	for _, off := range []int{left, right} {
		b := a.Bytes(off, Quantum)
		for i := range b {
			b[i] = 0xAA
		}
	}

	require.NoError(t, a.Free(mid, Quantum))

	for _, off := range []int{left, right} {
		for i, v := range a.Bytes(off, Quantum) {
			require.Equal(t, byte(0xAA), v, "neighbor at %d corrupted at byte %d", off, i)
		}
	}
}

// TestReset_StaleTagsIgnored frees next to a region that was free before a
// Reset and expects it not to be merged.
func TestReset_StaleTagsIgnored(t *testing.T) {
	a := newTestAllocator(t, 32*Quantum, nil)

	var offs []int
	for range 4 {
		offs = append(offs, mustAlloc(t, a, 2*Quantum))
	}
	require.NoError(t, a.Free(offs[1], 2*Quantum))
	require.Len(t, a.FreeRegions(), 1)

	a.Reset()
	assert.Zero(t, a.Committed())
	assert.Equal(t, a.Capacity(), a.FreeBytes())
	assert.Equal(t, Stats{}, a.Stats())

	var again []int
	for range 4 {
		again = append(again, mustAlloc(t, a, 2*Quantum))
	}
	assert.Equal(t, offs, again, "bump order is reproduced after reset")

	require.NoError(t, a.Free(again[0], 2*Quantum))
	require.NoError(t, a.Check())
	require.NoError(t, a.Free(again[2], 2*Quantum))
	require.NoError(t, a.Check())
	assert.Len(t, a.FreeRegions(), 2, "stale tags of the old region 1 must not be merged")
}

func TestMakeReadOnly_FreeRestoresWriteAccess(t *testing.T) {
	a := newTestAllocator(t, 16*Quantum, &Options{ProtectReadOnly: true})

	off := mustAlloc(t, a, 3*Quantum)
	mustAlloc(t, a, Quantum)
	copy(a.Bytes(off, 5), "hello")

	require.NoError(t, a.MakeReadOnly(off, 3*Quantum))
	assert.Equal(t, "hello", string(a.Bytes(off, 5)), "protected memory stays readable")

	require.NoError(t, a.Free(off, 3*Quantum))
	again := mustAlloc(t, a, 3*Quantum)
	require.Equal(t, off, again)

	// freed content is not preserved; the memory only has to be writable
	copy(a.Bytes(again, 5), "jello")
	assert.Equal(t, "jello", string(a.Bytes(again, 5)))
	last := a.Bytes(again, 3*Quantum)
	last[len(last)-1] = 'z'
	assert.Equal(t, byte('z'), last[len(last)-1])
}

func TestMakeReadOnly_DisabledIsNoop(t *testing.T) {
	a := newTestAllocator(t, 4*Quantum, nil)
	off := mustAlloc(t, a, Quantum)
	require.NoError(t, a.MakeReadOnly(off, Quantum))
	a.Bytes(off, 1)[0] = 1
}
