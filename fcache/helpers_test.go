package fcache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/vfscache/fcache/alloc"
	"github.com/joshuapare/vfscache/fcache/ident"
)

const q = alloc.Quantum

// newTestManager creates a manager with an arena of quanta pages.
func newTestManager(t *testing.T, quanta int, obs Observer) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ArenaSize = quanta * q
	m, err := New(cfg, obs)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown() })
	return m
}

// cacheFile loads a file of size bytes the way a reader would: allocate,
// fill, insert into the cache, release.
func cacheFile(t *testing.T, m *Manager, name string, size int) (ident.ID, Buf) {
	t.Helper()
	id := m.Intern(name)
	b, err := m.Allocate(size, id, false)
	require.NoError(t, err)
	for i := range b.Data {
		b.Data[i] = byte(id)
	}
	m.CacheInsert(b.Addr, size, id)
	m.Release(b.Addr)
	return id, b
}

// recorder is an Observer that counts events.
type recorder struct {
	allocs, frees, refs, evicts int
	allocBytes, alignedBytes    int
	hits, misses                int
	blockHits, blockMisses      int
}

func (r *recorder) BufAlloc(size, aligned int) {
	r.allocs++
	r.allocBytes += size
	r.alignedBytes += aligned
}

func (r *recorder) BufFree(int) { r.frees++ }
func (r *recorder) BufRef()     { r.refs++ }
func (r *recorder) Evict(int)   { r.evicts++ }

func (r *recorder) CacheAccess(hit bool, _ int) {
	if hit {
		r.hits++
	} else {
		r.misses++
	}
}

func (r *recorder) BlockAccess(hit bool) {
	if hit {
		r.blockHits++
	} else {
		r.blockMisses++
	}
}
