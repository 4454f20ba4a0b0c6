// Package landlord implements a cost-aware cache of file buffers using the
// Landlord replacement policy.
//
// Every entry holds credit, initially its replacement cost. Eviction finds
// the entry with the least credit per byte, charges every entry that rate
// times its size, and removes the victim. A hit restores an entry's credit
// to its full cost. With equal costs this degenerates to LRU, which keeps
// buffers of similar age together in the arena.
//
// Ties are broken by recency: the least recently inserted or refreshed
// entry goes first.
//
// The cache only tracks buffers; it never frees them. Callers free what
// Remove and RemoveLeastValuable hand back.
package landlord

import (
	"container/list"

	"github.com/joshuapare/vfscache/fcache/ident"
)

// Value is a cached buffer.
type Value struct {
	Addr int
	Size int
}

type entry struct {
	key    ident.ID
	val    Value
	cost   float64
	credit float64
}

// Cache maps file identities to buffers. Not safe for concurrent use.
type Cache struct {
	items map[ident.ID]*list.Element
	order *list.List // front = least recently used
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		items: make(map[ident.ID]*list.Element),
		order: list.New(),
	}
}

// Add caches val under key with the given replacement cost (values <= 0
// count as 1). An existing entry for key is replaced and returned.
func (c *Cache) Add(key ident.ID, val Value, cost float64) (old Value, replaced bool) {
	if cost <= 0 {
		cost = 1
	}
	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry)
		old, replaced = e.val, true
		e.val, e.cost, e.credit = val, cost, cost
		c.order.MoveToBack(elem)
		return old, replaced
	}
	e := &entry{key: key, val: val, cost: cost, credit: cost}
	c.items[key] = c.order.PushBack(e)
	return Value{}, false
}

// Retrieve returns the buffer cached under key. With refresh set a hit
// restores the entry's credit and recency; without it the cache is not
// modified.
func (c *Cache) Retrieve(key ident.ID, refresh bool) (Value, bool) {
	elem, ok := c.items[key]
	if !ok {
		return Value{}, false
	}
	e := elem.Value.(*entry)
	if refresh {
		e.credit = e.cost
		c.order.MoveToBack(elem)
	}
	return e.val, true
}

// Remove drops the entry for key and returns its buffer.
func (c *Cache) Remove(key ident.ID) (Value, bool) {
	elem, ok := c.items[key]
	if !ok {
		return Value{}, false
	}
	e := c.order.Remove(elem).(*entry)
	delete(c.items, key)
	return e.val, true
}

// RemoveLeastValuable evicts the entry with the lowest credit per byte and
// charges every other entry accordingly. ok is false when the cache is empty.
func (c *Cache) RemoveLeastValuable() (key ident.ID, val Value, ok bool) {
	var victim *list.Element
	minDensity := 0.0
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		e := elem.Value.(*entry)
		d := e.credit / float64(sizeOf(e))
		if victim == nil || d < minDensity {
			victim, minDensity = elem, d
		}
	}
	if victim == nil {
		return ident.None, Value{}, false
	}

	if minDensity > 0 {
		for elem := c.order.Front(); elem != nil; elem = elem.Next() {
			e := elem.Value.(*entry)
			e.credit -= minDensity * float64(sizeOf(e))
			if e.credit < 0 {
				e.credit = 0
			}
		}
	}

	e := c.order.Remove(victim).(*entry)
	delete(c.items, e.key)
	return e.key, e.val, true
}

// Empty reports whether the cache holds no entries.
func (c *Cache) Empty() bool { return c.order.Len() == 0 }

// Len returns the number of entries.
func (c *Cache) Len() int { return c.order.Len() }

// Keys returns the cached identities from least to most recently used.
func (c *Cache) Keys() []ident.ID {
	keys := make([]ident.ID, 0, c.order.Len())
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*entry).key)
	}
	return keys
}

func sizeOf(e *entry) int {
	if e.val.Size <= 0 {
		return 1
	}
	return e.val.Size
}
