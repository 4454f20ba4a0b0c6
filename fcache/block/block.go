// Package block caches raw archive blocks in a small fixed ring.
//
// Files inside an archive are not block aligned, so reading one file usually
// drags in the tail of the previous file and the head of the next. Keeping the
// last few raw blocks around lets a sequential reader avoid reading those
// shared blocks twice.
//
// The ring holds MaxBlocks slots whose memory is carved out of one pool at
// construction and never moves. Slots are recycled oldest first; a slot that
// is still pending or referenced is skipped, which happens whenever several
// reads are in flight at once.
//
// Managers are not thread-safe.
package block

import (
	"errors"
	"fmt"

	"github.com/joshuapare/vfscache/fcache/ident"
	"github.com/joshuapare/vfscache/fcache/pool"
	"github.com/joshuapare/vfscache/internal/logger"
	"github.com/joshuapare/vfscache/internal/pagemem"
)

const (
	// MaxBlocks is the number of slots in the ring. A linear scan over this
	// many slots is cheaper than maintaining an index.
	MaxBlocks = 32

	// DefaultBlockSize is the archive read granularity.
	DefaultBlockSize = 32 << 10
)

var (
	// ErrAllLocked indicates that every slot is pending or referenced.
	ErrAllLocked = errors.New("block: all blocks are locked")

	// ErrInUse indicates an Alloc for a block that is still pending or referenced.
	ErrInUse = errors.New("block: block already allocated and not released")

	// ErrBadBlockSize indicates a block size that is not a power-of-two
	// multiple of the page size.
	ErrBadBlockSize = errors.New("block: block size must be a power-of-two multiple of the page size")

	// ErrClosed indicates use after Close.
	ErrClosed = errors.New("block: manager closed")
)

// ID names one block of one file.
type ID struct {
	File  ident.ID
	Index uint32
}

// MakeID returns the ID of the block containing byte offset off of file.
// Index is truncated to 32 bits, which covers files up to 2^32 blocks.
func MakeID(file ident.ID, off int64, blockSize int) ID {
	return ID{File: file, Index: uint32(off / int64(blockSize))}
}

func (id ID) String() string {
	return fmt.Sprintf("%d:%d", id.File, id.Index)
}

// Status is the lifecycle state of a slot.
type Status uint8

const (
	Invalid  Status = iota // free for reuse; content is meaningless
	Pending                // being filled by a read
	Complete               // holds the block's content
)

func (s Status) String() string {
	switch s {
	case Invalid:
		return "invalid"
	case Pending:
		return "pending"
	case Complete:
		return "complete"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

type slot struct {
	id     ID
	status Status
	refs   int
	mem    []byte
}

// Stats holds block cache counters.
type Stats struct {
	Allocs      int // Slots handed out for new content
	Hits        int // Find calls that returned a complete block
	Misses      int // Find calls that found nothing usable
	LockedSkips int // Slots skipped during Alloc because they were busy
	Failures    int // Alloc calls that found every slot busy
}

// Manager is the block ring.
type Manager struct {
	pool      *pool.Pool
	blockSize int
	slots     [MaxBlocks]slot

	// oldest is the ring cursor: the next slot Alloc considers.
	oldest int

	stats Stats
}

// New creates a manager whose slots are blockSize bytes each.
func New(blockSize int) (*Manager, error) {
	if blockSize <= 0 || blockSize&(blockSize-1) != 0 || blockSize%pagemem.PageSize() != 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadBlockSize, blockSize)
	}
	p, err := pool.New(MaxBlocks*blockSize, blockSize)
	if err != nil {
		return nil, fmt.Errorf("block: %w", err)
	}

	m := &Manager{pool: p, blockSize: blockSize}
	for i := range m.slots {
		off, ok := p.Alloc(0)
		if !ok {
			_ = p.Destroy()
			return nil, fmt.Errorf("block: pool exhausted at slot %d", i)
		}
		m.slots[i].mem = p.Slice(off, blockSize)
	}
	return m, nil
}

// Close releases the slot memory. Slices handed out earlier become invalid.
func (m *Manager) Close() error {
	if m.pool == nil {
		return ErrClosed
	}
	err := m.pool.Destroy()
	m.pool = nil
	for i := range m.slots {
		m.slots[i] = slot{}
	}
	return err
}

// BlockSize returns the size of each slot.
func (m *Manager) BlockSize() int { return m.blockSize }

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats { return m.stats }

// lookup returns the valid slot holding id, or nil.
func (m *Manager) lookup(id ID) *slot {
	for i := range m.slots {
		s := &m.slots[i]
		if s.status != Invalid && s.id == id {
			return s
		}
	}
	return nil
}

// Alloc claims a slot for id and marks it Pending. The caller fills the
// returned memory and then calls MarkCompleted.
func (m *Manager) Alloc(id ID) ([]byte, error) {
	if m.pool == nil {
		return nil, ErrClosed
	}

	if s := m.lookup(id); s != nil {
		if s.status == Pending || s.refs > 0 {
			logger.Warn("block: allocating block that is already in use",
				"block", id, "status", s.status, "refs", s.refs)
			return nil, fmt.Errorf("%w: %s", ErrInUse, id)
		}
		// The new content supersedes the cached copy.
		s.status = Invalid
	}

	for range MaxBlocks {
		i := m.oldest
		s := &m.slots[i]
		m.oldest = (m.oldest + 1) % MaxBlocks

		if s.status != Pending && s.refs == 0 {
			s.id = id
			s.status = Pending
			m.stats.Allocs++
			return s.mem, nil
		}

		m.stats.LockedSkips++
		// A referenced complete block is expected with several reads in
		// flight. Anything else means a read was never completed.
		if s.status != Complete {
			logger.Warn("block: skipping slot in unexpected state",
				"slot", i, "block", s.id, "status", s.status, "refs", s.refs)
		}
	}

	m.stats.Failures++
	logger.Warn("block: all blocks are locked", "requested", id)
	return nil, ErrAllLocked
}

// MarkCompleted records that the read for id has filled its slot.
func (m *Manager) MarkCompleted(id ID) {
	s := m.lookup(id)
	if s == nil {
		logger.Warn("block: mark completed of unknown block", "block", id)
		return
	}
	if s.status != Pending {
		logger.Warn("block: mark completed of block that is not pending",
			"block", id, "status", s.status)
	}
	s.status = Complete
}

// Find returns the content of a complete block and takes a reference on it.
// Every successful Find must be paired with a Release.
func (m *Manager) Find(id ID) ([]byte, bool) {
	s := m.lookup(id)
	if s == nil {
		m.stats.Misses++
		return nil, false
	}
	if s.status != Complete {
		logger.Warn("block: block referenced while still in progress", "block", id)
		m.stats.Misses++
		return nil, false
	}
	s.refs++
	m.stats.Hits++
	return s.mem, true
}

// Release drops a reference taken by Find. A slot invalidated while
// referenced is still found here so its count can drain.
func (m *Manager) Release(id ID) {
	var s *slot
	for i := range m.slots {
		c := &m.slots[i]
		if c.id != id || (c.status == Invalid && c.refs == 0) {
			continue
		}
		// prefer a slot that still holds references
		if s == nil || c.refs > s.refs {
			s = c
		}
	}
	if s == nil || s.refs == 0 {
		logger.Warn("block: release of unreferenced block", "block", id)
		return
	}
	s.refs--
}

// Invalidate discards every cached block of file, for example because the
// file was reloaded. It returns the number of slots invalidated.
func (m *Manager) Invalidate(file ident.ID) int {
	n := 0
	for i := range m.slots {
		s := &m.slots[i]
		if s.status == Invalid || s.id.File != file {
			continue
		}
		if s.refs > 0 {
			logger.Warn("block: invalidating block that is in use", "block", s.id, "refs", s.refs)
		}
		s.status = Invalid
		n++
	}
	return n
}
