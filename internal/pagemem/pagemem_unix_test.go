//go:build unix

package pagemem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMap_AlignedAndZeroed(t *testing.T) {
	size := 4 * PageSize()
	data, release, err := Map(size)
	require.NoError(t, err)
	defer func() { require.NoError(t, release()) }()

	require.Len(t, data, size)
	require.True(t, Aligned(data), "mapping should start on a page boundary")
	for i := 0; i < size; i += 512 {
		require.Zero(t, data[i])
	}

	data[0] = 0xAB
	data[size-1] = 0xCD
	require.Equal(t, byte(0xAB), data[0])
}

func TestMap_ReleaseTwice(t *testing.T) {
	_, release, err := Map(PageSize())
	require.NoError(t, err)
	require.NoError(t, release())
	require.NoError(t, release(), "second release should be a no-op")
}

func TestMap_InvalidSize(t *testing.T) {
	_, _, err := Map(0)
	require.Error(t, err)
}

func TestProtect_RoundTrip(t *testing.T) {
	page := PageSize()
	data, release, err := Map(2 * page)
	require.NoError(t, err)
	defer release()

	require.NoError(t, Protect(data[:page], true))
	require.Equal(t, byte(0), data[0], "read-only page should stay readable")
	require.NoError(t, Protect(data[:page], false))
	data[0] = 1
	require.Equal(t, byte(1), data[0])
}

func TestProtect_Unaligned(t *testing.T) {
	data, release, err := Map(2 * PageSize())
	require.NoError(t, err)
	defer release()

	require.ErrorIs(t, Protect(data[1:16], true), ErrUnaligned)
	require.NoError(t, Protect(nil, true))
}
