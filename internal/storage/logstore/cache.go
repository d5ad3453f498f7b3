package logstore

import (
	"container/list"
	"sync"
)

// recordCache is a bounded LRU cache of decoded records keyed by address.
type recordCache struct {
	mu       sync.Mutex
	capacity int
	list     *list.List                // front is most recently used
	entries  map[Address]*list.Element // for O(1) lookup
}

func newRecordCache(capacity int) *recordCache {
	return &recordCache{
		capacity: capacity,
		list:     list.New(),
		entries:  make(map[Address]*list.Element),
	}
}

// get returns the cached record at addr, marking it recently used.
func (c *recordCache) get(addr Address) (Loggable, bool) {
	if c == nil {
		return Loggable{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[addr]
	if !ok {
		return Loggable{}, false
	}
	c.list.MoveToFront(elem)
	return elem.Value.(Loggable), true
}

// put caches a record, evicting the least recently used one when full.
func (c *recordCache) put(rec Loggable) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[rec.Address]; ok {
		elem.Value = rec
		c.list.MoveToFront(elem)
		return
	}
	c.entries[rec.Address] = c.list.PushFront(rec)
	for c.list.Len() > c.capacity {
		back := c.list.Back()
		c.list.Remove(back)
		delete(c.entries, back.Value.(Loggable).Address)
	}
}

// removeRange drops every cached record in [from, to).
func (c *recordCache) removeRange(from, to Address) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for addr, elem := range c.entries {
		if addr >= from && addr < to {
			c.list.Remove(elem)
			delete(c.entries, addr)
		}
	}
}

func (c *recordCache) len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}
