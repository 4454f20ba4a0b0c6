// Package extant tracks the buffers currently checked out to callers.
//
// Every buffer handed out by the cache is registered here with a reference
// count. Releases look the buffer up by containment, so a caller may hand
// back any address inside the buffer, not only its start.
//
// The registry also keeps an allocation epoch. Short-lived buffers are
// expected to be released before the next one is allocated; a release that
// arrives later is logged, since buffers held across allocations are the main
// source of arena fragmentation. Long-lived buffers are exempt.
package extant

import (
	"github.com/joshuapare/vfscache/fcache/ident"
	"github.com/joshuapare/vfscache/internal/logger"
)

// Buf is one registered buffer.
type Buf struct {
	Addr  int      // arena offset of the first byte
	Size  int      // bytes; at least 1
	Owner ident.ID // file the content belongs to
	Refs  int      // outstanding check-outs; 0 marks a reusable slot
	Epoch uint64   // allocation epoch; 0 for long-lived buffers
}

func (b *Buf) contains(addr int) bool {
	return b.Refs > 0 && b.Addr <= addr && addr < b.Addr+b.Size
}

// Stats holds registry counters.
type Stats struct {
	Adds            int // New registrations
	AddRefs         int // References added to an existing entry
	Releases        int // Successful FindAndRemove calls
	LateReleases    int // Releases of short-lived buffers after another allocation
	UnknownReleases int // FindAndRemove of an untracked address
}

// Registry is the set of extant buffers. Not safe for concurrent use.
type Registry struct {
	bufs  []Buf
	epoch uint64
	stats Stats
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{epoch: 1}
}

func (r *Registry) find(addr int) *Buf {
	for i := range r.bufs {
		if r.bufs[i].contains(addr) {
			return &r.bufs[i]
		}
	}
	return nil
}

// Add registers a buffer with one reference.
func (r *Registry) Add(addr, size int, owner ident.ID, longLived bool) {
	// Zero-length buffers still occupy an address, and must match it.
	if size <= 0 {
		size = 1
	}
	var epoch uint64
	if !longLived {
		epoch = r.epoch
		r.epoch++
	}
	r.stats.Adds++

	b := Buf{Addr: addr, Size: size, Owner: owner, Refs: 1, Epoch: epoch}
	for i := range r.bufs {
		if r.bufs[i].Refs == 0 {
			r.bufs[i] = b
			return
		}
	}
	r.bufs = append(r.bufs, b)
}

// AddRef adds a reference to the entry containing addr, or registers a new
// short-lived entry if there is none.
func (r *Registry) AddRef(addr, size int, owner ident.ID) {
	if b := r.find(addr); b != nil {
		b.Refs++
		r.stats.AddRefs++
		return
	}
	r.Add(addr, size, owner, false)
}

// FindAndRemove drops one reference from the entry containing addr and
// returns a copy of it as it was before the release. released is true when
// that was the last reference. ok is false for untracked addresses.
func (r *Registry) FindAndRemove(addr int) (b Buf, released, ok bool) {
	e := r.find(addr)
	if e == nil {
		r.stats.UnknownReleases++
		logger.Warn("extant: release of untracked buffer, double free?", "addr", addr)
		return Buf{}, false, false
	}

	b = *e
	e.Refs--
	released = e.Refs == 0
	if released {
		*e = Buf{}
	}

	if b.Epoch != 0 && b.Epoch != r.epoch-1 {
		r.stats.LateReleases++
		logger.Debug("extant: buffer not released immediately",
			"addr", b.Addr, "size", b.Size, "owner", b.Owner,
			"alloc_epoch", b.Epoch, "epoch", r.epoch)
	}
	r.epoch++
	r.stats.Releases++
	return b, released, true
}

// ReplaceOwner changes the owner of the entry containing addr. It is used
// when the logical file of a buffer is only known after the read.
func (r *Registry) ReplaceOwner(addr int, owner ident.ID) bool {
	b := r.find(addr)
	if b == nil {
		logger.Warn("extant: owner change for untracked buffer", "addr", addr, "owner", owner)
		return false
	}
	b.Owner = owner
	return true
}

// Lookup returns a copy of the entry containing addr.
func (r *Registry) Lookup(addr int) (Buf, bool) {
	if b := r.find(addr); b != nil {
		return *b, true
	}
	return Buf{}, false
}

// Owner returns the owner of the entry containing addr.
func (r *Registry) Owner(addr int) (ident.ID, bool) {
	if b := r.find(addr); b != nil {
		return b.Owner, true
	}
	return ident.None, false
}

// Contains reports whether addr lies in a checked-out buffer.
func (r *Registry) Contains(addr int) bool { return r.find(addr) != nil }

// Len returns the number of checked-out buffers.
func (r *Registry) Len() int {
	n := 0
	for i := range r.bufs {
		if r.bufs[i].Refs > 0 {
			n++
		}
	}
	return n
}

// Leaked returns every buffer that still has references.
func (r *Registry) Leaked() []Buf {
	var out []Buf
	for _, b := range r.bufs {
		if b.Refs > 0 {
			out = append(out, b)
		}
	}
	return out
}

// ReportLeaks logs every buffer that still has references and returns how
// many there were. name resolves owners for the log; it may be nil.
func (r *Registry) ReportLeaks(name func(ident.ID) string) int {
	leaked := r.Leaked()
	for _, b := range leaked {
		owner := ""
		if name != nil {
			owner = name(b.Owner)
		}
		logger.Warn("extant: leaked buffer",
			"addr", b.Addr, "size", b.Size, "refs", b.Refs, "owner", owner)
	}
	return len(leaked)
}

// Stats returns a snapshot of the counters.
func (r *Registry) Stats() Stats { return r.stats }
