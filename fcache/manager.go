package fcache

import (
	"errors"
	"fmt"

	"github.com/joshuapare/vfscache/fcache/alloc"
	"github.com/joshuapare/vfscache/fcache/block"
	"github.com/joshuapare/vfscache/fcache/extant"
	"github.com/joshuapare/vfscache/fcache/ident"
	"github.com/joshuapare/vfscache/fcache/landlord"
	"github.com/joshuapare/vfscache/internal/buf"
	"github.com/joshuapare/vfscache/internal/logger"
)

// Buf is a buffer in the arena. Data aliases the arena and is only valid
// until the buffer is released and no longer cached.
type Buf struct {
	Addr int // arena offset; the handle passed back to Release
	Size int
	Data []byte
}

// Counters holds Manager-level event counts.
type Counters struct {
	Allocs      int // Successful Allocate calls
	Releases    int // Release calls that matched a buffer
	Frees       int // Buffers returned to the allocator
	Evictions   int // Cached files evicted by Allocate
	Flushed     int // Cached files dropped by Flush
	CacheHits   int
	CacheMisses int
	Inserts     int
}

// Stats is a snapshot of every component's state.
type Stats struct {
	Counters

	Alloc  alloc.Stats
	Block  block.Stats
	Extant extant.Stats

	ArenaCapacity  int
	ArenaCommitted int
	ArenaFree      int
	CachedFiles    int
	CachedBytes    int
	Outstanding    int // buffers checked out to callers
}

// Manager coordinates the arena allocator, the file cache, the extant
// buffer registry and the block ring. Not safe for concurrent use.
type Manager struct {
	cfg    Config
	alloc  *alloc.Allocator
	blocks *block.Manager
	extant *extant.Registry
	cache  *landlord.Cache
	idents *ident.Table
	obs    Observer

	// cachedAt maps the address of every cached buffer to its cache key.
	cachedAt map[int]ident.ID

	counters Counters
}

// New builds a Manager. cfg is validated after defaults are applied; obs
// may be nil.
func New(cfg Config, obs Observer) (*Manager, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a, err := alloc.New(cfg.ArenaSize, &alloc.Options{ProtectReadOnly: cfg.ProtectCached})
	if err != nil {
		return nil, fmt.Errorf("fcache: create allocator: %w", err)
	}
	blocks, err := block.New(cfg.BlockSize)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("fcache: create block ring: %w", err)
	}

	logger.Debug("fcache: manager created",
		"arena_size", cfg.ArenaSize, "block_size", cfg.BlockSize,
		"evict_attempts", cfg.EvictAttempts, "protect_cached", cfg.ProtectCached)

	return &Manager{
		cfg:      cfg,
		alloc:    a,
		blocks:   blocks,
		extant:   extant.New(),
		cache:    landlord.New(),
		idents:   ident.NewTable(),
		obs:      obs,
		cachedAt: make(map[int]ident.ID),
	}, nil
}

// Shutdown reports leaked buffers and releases all memory. The Manager must
// not be used afterwards.
func (m *Manager) Shutdown() error {
	if n := m.extant.ReportLeaks(m.idents.Name); n > 0 {
		logger.Warn("fcache: buffers still referenced at shutdown", "count", n)
	}
	return errors.Join(m.blocks.Close(), m.alloc.Close())
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Intern returns the identity for a file path.
func (m *Manager) Intern(path string) ident.ID { return m.idents.Intern(path) }

// Name returns the canonical path of an identity.
func (m *Manager) Name(id ident.ID) string { return m.idents.Name(id) }

// Bytes returns n bytes of arena at addr, or nil when out of range.
func (m *Manager) Bytes(addr, n int) []byte { return m.alloc.Bytes(addr, n) }

func (m *Manager) bufAt(addr, size int) Buf {
	return Buf{Addr: addr, Size: size, Data: m.alloc.Bytes(addr, size)}
}

// Allocate returns a buffer of size bytes registered to owner with one
// reference. Long-lived buffers are exempt from the late-release
// diagnostic.
//
// When the arena is full, cached files are evicted least valuable first and
// the allocation retried, at most Config.EvictAttempts times.
func (m *Manager) Allocate(size int, owner ident.ID, longLived bool) (Buf, error) {
	// Capacity is a quantum multiple, so this also bounds the rounded size.
	if size > m.alloc.Capacity() {
		return Buf{}, fmt.Errorf("%w: %d bytes, arena holds %d", ErrTooLarge, size, m.alloc.Capacity())
	}
	for evictions := 0; ; evictions++ {
		addr, err := m.alloc.Alloc(size)
		if err == nil {
			m.extant.Add(addr, size, owner, longLived)
			m.counters.Allocs++
			if m.obs != nil {
				m.obs.BufAlloc(size, alignedSize(size))
			}
			return m.bufAt(addr, size), nil
		}
		if !errors.Is(err, alloc.ErrNoSpace) {
			return Buf{}, fmt.Errorf("fcache: allocate %d bytes: %w", size, err)
		}

		if evictions >= m.cfg.EvictAttempts {
			logger.Error("fcache: failed to make room in cache",
				"size", size, "evictions", evictions, "cached", m.cache.Len(),
				"free", m.alloc.FreeBytes())
			return Buf{}, fmt.Errorf("%w: %d bytes after %d evictions",
				ErrEvictionStalled, size, evictions)
		}
		if !m.evictOne() {
			return Buf{}, fmt.Errorf("%w: %d bytes", ErrNoSpace, size)
		}
	}
}

// evictOne drops the least valuable cached file. Its memory is freed unless
// a caller still holds it; the last Release frees it then.
func (m *Manager) evictOne() bool {
	key, v, ok := m.cache.RemoveLeastValuable()
	if !ok {
		return false
	}
	delete(m.cachedAt, v.Addr)
	m.counters.Evictions++
	if m.obs != nil {
		m.obs.Evict(v.Size)
	}
	logger.Debug("fcache: evicted", "file", m.idents.Name(key), "addr", v.Addr, "size", v.Size)
	m.freeIfUnused(v.Addr, v.Size)
	return true
}

// freeIfUnused frees the buffer at addr unless a caller still holds it.
func (m *Manager) freeIfUnused(addr, size int) {
	if m.extant.Contains(addr) {
		return
	}
	m.free(addr, size)
}

func (m *Manager) free(addr, size int) {
	if err := m.alloc.Free(addr, size); err != nil {
		logger.Warn("fcache: free failed", "addr", addr, "size", size, "err", err)
		return
	}
	m.counters.Frees++
	if m.obs != nil {
		m.obs.BufFree(size)
	}
}

// Release drops one reference to the buffer containing addr. On the last
// reference the memory is freed, unless the cache holds the buffer.
func (m *Manager) Release(addr int) {
	b, released, ok := m.extant.FindAndRemove(addr)
	if !ok {
		return
	}
	m.counters.Releases++
	if !released {
		return
	}
	if _, cached := m.cachedAt[b.Addr]; cached {
		return
	}
	m.free(b.Addr, b.Size)
}

// SetRealOwner changes the owner of an outstanding buffer, e.g. from an
// archive to the archive member that was read into it.
func (m *Manager) SetRealOwner(addr int, owner ident.ID) {
	m.extant.ReplaceOwner(addr, owner)
}

// CacheInsert caches the buffer at addr as the content of owner. The buffer
// should come from Allocate; size is the number of valid content bytes.
// A buffer previously cached for owner is dropped.
func (m *Manager) CacheInsert(addr, size int, owner ident.ID) {
	// Freeing must cover the whole allocation, which may span more quanta
	// than the content.
	if b, ok := m.extant.Lookup(addr); ok && b.Addr == addr && alignedSize(b.Size) > alignedSize(size) {
		size = b.Size
	}

	if err := m.alloc.MakeReadOnly(addr, size); err != nil {
		logger.Warn("fcache: cannot protect cached buffer", "addr", addr, "err", err)
	}

	// One buffer belongs to at most one cache entry.
	if prev, ok := m.cachedAt[addr]; ok && prev != owner {
		m.cache.Remove(prev)
	}

	old, replaced := m.cache.Add(owner, landlord.Value{Addr: addr, Size: size}, m.cfg.CacheCost)
	m.cachedAt[addr] = owner
	m.counters.Inserts++
	if replaced && old.Addr != addr {
		delete(m.cachedAt, old.Addr)
		m.freeIfUnused(old.Addr, old.Size)
	}
}

// CacheFind returns the buffer cached for owner without touching any
// state. It is meant for diagnostics and tracing.
func (m *Manager) CacheFind(owner ident.ID) (Buf, bool) {
	v, ok := m.cache.Retrieve(owner, false)
	if !ok {
		return Buf{}, false
	}
	return m.bufAt(v.Addr, v.Size), true
}

// CacheRetrieve returns the buffer cached for owner and takes a reference
// on it. Every hit must be paired with a Release.
func (m *Manager) CacheRetrieve(owner ident.ID) (Buf, bool) {
	v, ok := m.cache.Retrieve(owner, true)
	if !ok {
		m.counters.CacheMisses++
		if m.obs != nil {
			m.obs.CacheAccess(false, 0)
		}
		return Buf{}, false
	}

	m.extant.AddRef(v.Addr, v.Size, owner)
	m.counters.CacheHits++
	if m.obs != nil {
		m.obs.BufRef()
		m.obs.CacheAccess(true, v.Size)
	}
	return m.bufAt(v.Addr, v.Size), true
}

// Invalidate discards everything cached for owner: its raw blocks and its
// cached buffer. Used when a file is reloaded.
func (m *Manager) Invalidate(owner ident.ID) {
	m.blocks.Invalidate(owner)

	v, ok := m.cache.Remove(owner)
	if !ok {
		return
	}
	delete(m.cachedAt, v.Addr)
	m.freeIfUnused(v.Addr, v.Size)
}

// Flush drops every cached file and returns how many there were.
func (m *Manager) Flush() int {
	n := 0
	for {
		_, v, ok := m.cache.RemoveLeastValuable()
		if !ok {
			break
		}
		delete(m.cachedAt, v.Addr)
		m.freeIfUnused(v.Addr, v.Size)
		n++
	}
	m.counters.Flushed += n
	return n
}

// Blocks returns the block ring.
func (m *Manager) Blocks() *block.Manager { return m.blocks }

// BlockAlloc claims a block ring slot for id.
func (m *Manager) BlockAlloc(id block.ID) ([]byte, error) { return m.blocks.Alloc(id) }

// BlockMarkCompleted marks the slot for id as filled.
func (m *Manager) BlockMarkCompleted(id block.ID) { m.blocks.MarkCompleted(id) }

// BlockFind returns a completed block and takes a reference on it.
func (m *Manager) BlockFind(id block.ID) ([]byte, bool) {
	mem, ok := m.blocks.Find(id)
	if m.obs != nil {
		m.obs.BlockAccess(ok)
	}
	return mem, ok
}

// BlockRelease drops a reference taken by BlockFind.
func (m *Manager) BlockRelease(id block.ID) { m.blocks.Release(id) }

// Stats returns a snapshot of all counters and occupancy figures.
func (m *Manager) Stats() Stats {
	cachedBytes := 0
	for _, key := range m.cache.Keys() {
		if v, ok := m.cache.Retrieve(key, false); ok {
			cachedBytes += v.Size
		}
	}
	return Stats{
		Counters:       m.counters,
		Alloc:          m.alloc.Stats(),
		Block:          m.blocks.Stats(),
		Extant:         m.extant.Stats(),
		ArenaCapacity:  m.alloc.Capacity(),
		ArenaCommitted: m.alloc.Committed(),
		ArenaFree:      m.alloc.FreeBytes(),
		CachedFiles:    m.cache.Len(),
		CachedBytes:    cachedBytes,
		Outstanding:    m.extant.Len(),
	}
}

func alignedSize(size int) int {
	return buf.RoundUp(max(size, 1), alloc.Quantum)
}
