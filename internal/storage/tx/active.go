package tx

import (
	"sync"
	"time"

	"github.com/google/btree"
)

// Entry is one running transaction as seen by the active set.
type Entry struct {
	ID      uint64
	Version uint64
	Started time.Time
}

func entryLess(a, b Entry) bool {
	if a.Version != b.Version {
		return a.Version < b.Version
	}
	return a.ID < b.ID
}

// ActiveSet orders running transactions by pinned version, then by id.
// It is safe for concurrent use.
type ActiveSet struct {
	mu    sync.RWMutex
	items *btree.BTreeG[Entry]
}

// NewActiveSet returns an empty set.
func NewActiveSet() *ActiveSet {
	return &ActiveSet{items: btree.NewG(16, entryLess)}
}

// Add registers e. It replaces an entry with the same id and version.
func (s *ActiveSet) Add(e Entry) {
	s.mu.Lock()
	s.items.ReplaceOrInsert(e)
	s.mu.Unlock()
}

// Remove deregisters e and reports whether it was present.
func (s *ActiveSet) Remove(e Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items.Delete(e)
	return ok
}

// Update moves old to the position of next, typically after the
// transaction pinned a newer version.
func (s *ActiveSet) Update(old, next Entry) {
	s.mu.Lock()
	s.items.Delete(old)
	s.items.ReplaceOrInsert(next)
	s.mu.Unlock()
}

// Oldest returns the entry with the lowest pinned version.
func (s *ActiveSet) Oldest() (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items.Min()
}

// Newest returns the entry with the highest pinned version.
func (s *ActiveSet) Newest() (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items.Max()
}

// Count returns the number of running transactions.
func (s *ActiveSet) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items.Len()
}

// Entries returns every entry in order.
func (s *ActiveSet) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, s.items.Len())
	s.items.Ascend(func(e Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// OlderThan returns the entries started before the given time.
func (s *ActiveSet) OlderThan(t time.Time) []Entry {
	var out []Entry
	for _, e := range s.Entries() {
		if e.Started.Before(t) {
			out = append(out, e)
		}
	}
	return out
}
