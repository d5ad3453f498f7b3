package tree

import (
	"sync"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
)

// ExpiredLoggable is one superseded record.
type ExpiredLoggable struct {
	Address logstore.Address
	Length  int64
}

// ExpiredLoggables accumulates superseded records. It is safe for concurrent
// use so nested duplicate sub-trees and the transaction can share one set.
type ExpiredLoggables struct {
	mu      sync.Mutex
	entries []ExpiredLoggable
	size    int64
}

// NewExpiredLoggables returns an empty collection.
func NewExpiredLoggables() *ExpiredLoggables {
	return &ExpiredLoggables{}
}

// Add records one expired record. Null addresses are ignored.
func (e *ExpiredLoggables) Add(addr logstore.Address, length int64) {
	if addr == logstore.NullAddress {
		return
	}
	e.mu.Lock()
	e.entries = append(e.entries, ExpiredLoggable{Address: addr, Length: length})
	e.size += length
	e.mu.Unlock()
}

// Merge moves every entry of other into e and clears other.
func (e *ExpiredLoggables) Merge(other *ExpiredLoggables) {
	if other == nil || other == e {
		return
	}
	entries, size := other.take()
	e.mu.Lock()
	e.entries = append(e.entries, entries...)
	e.size += size
	e.mu.Unlock()
}

func (e *ExpiredLoggables) take() ([]ExpiredLoggable, int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entries, size := e.entries, e.size
	e.entries, e.size = nil, 0
	return entries, size
}

// Take returns the entries and empties the collection.
func (e *ExpiredLoggables) Take() []ExpiredLoggable {
	entries, _ := e.take()
	return entries
}

// Len returns the number of entries.
func (e *ExpiredLoggables) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

// Size returns the total length of all entries.
func (e *ExpiredLoggables) Size() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.size
}

// Contains reports whether addr was expired.
func (e *ExpiredLoggables) Contains(addr logstore.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, en := range e.entries {
		if en.Address == addr {
			return true
		}
	}
	return false
}

// Clear empties the collection.
func (e *ExpiredLoggables) Clear() {
	e.take()
}
