package alloc

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRandomOps_NoOverlap interleaves random allocations and frees and
// verifies the outstanding buffers never overlap and the freelists stay
// consistent.
func TestRandomOps_NoOverlap(t *testing.T) {
	for _, seed := range []uint64{1, 7, 42} {
		rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		a := newTestAllocator(t, 4*MiB, nil)

		var live []span
		for i := range 2000 {
			if len(live) > 0 && rng.IntN(3) == 0 {
				j := rng.IntN(len(live))
				s := live[j]
				require.NoError(t, a.Free(s.off, s.size))
				live[j] = live[len(live)-1]
				live = live[:len(live)-1]
			} else {
				size := rng.IntN(256 * KiB)
				off, err := a.Alloc(size)
				if err != nil {
					require.ErrorIs(t, err, ErrNoSpace)
					continue
				}
				live = append(live, span{off, size})
			}
			if i%50 == 0 {
				requireDisjoint(t, a, live)
				require.NoError(t, a.Check(), "seed %d step %d", seed, i)
			}
		}
		requireDisjoint(t, a, live)
		require.NoError(t, a.Check())
	}
}

// TestRoundTrip_FullCapacity frees everything in shuffled order and expects
// one allocation of the full capacity to succeed afterwards.
func TestRoundTrip_FullCapacity(t *testing.T) {
	const capacity = 2 * MiB
	rng := rand.New(rand.NewPCG(3, 5))
	a := newTestAllocator(t, capacity, nil)

	for round := range 3 {
		var live []span
		for {
			size := 1 + rng.IntN(64*KiB)
			off, err := a.Alloc(size)
			if err != nil {
				break
			}
			live = append(live, span{off, size})
		}
		require.NotEmpty(t, live)

		rng.Shuffle(len(live), func(i, j int) { live[i], live[j] = live[j], live[i] })
		for _, s := range live {
			require.NoError(t, a.Free(s.off, s.size))
		}

		require.NoError(t, a.Check(), "round %d", round)
		assert.Equal(t, capacity, a.FreeBytes(), "round %d", round)
		assert.Empty(t, a.FreeRegions(), "round %d", round)

		off, err := a.Alloc(capacity)
		require.NoError(t, err, "round %d", round)
		assert.Equal(t, 0, off)
		require.NoError(t, a.Free(off, capacity))
	}
}

// TestStress_ManyTimesCapacity churns through several times the arena size
// with random sizes, evicting a random buffer whenever an allocation fails.
func TestStress_ManyTimesCapacity(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test")
	}
	const capacity = 16 * MiB
	rng := rand.New(rand.NewPCG(11, 13))
	a := newTestAllocator(t, capacity, nil)

	var live []span
	total := 0
	for total < 4*capacity {
		size := 1 + rng.IntN(2*MiB)
		for {
			off, err := a.Alloc(size)
			if err == nil {
				live = append(live, span{off, size})
				break
			}
			require.ErrorIs(t, err, ErrNoSpace)
			require.NotEmpty(t, live, "empty arena cannot satisfy %d bytes", size)
			j := rng.IntN(len(live))
			require.NoError(t, a.Free(live[j].off, live[j].size))
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
		}
		total += size
	}
	requireDisjoint(t, a, live)
	require.NoError(t, a.Check())

	for _, s := range live {
		require.NoError(t, a.Free(s.off, s.size))
	}
	assert.Equal(t, capacity, a.FreeBytes())
	_, err := a.Alloc(capacity)
	require.NoError(t, err)
}
