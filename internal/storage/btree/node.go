package btree

import (
	"bytes"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
)

// node is a page, either decoded from a record or created in memory.
type node struct {
	leaf    bool
	entries []entry

	// addr is the record this node was loaded from or last saved to.
	addr   logstore.Address
	length int64

	// dirty nodes differ from addr and are written on the next save.
	dirty bool
}

// entry is one slot of a page.
//
// In a leaf, value holds the value of key, unless dup is set, in which case
// ref is the root of the key's duplicates sub-tree. In an internal page key
// is the minimum key of the child at ref.
type entry struct {
	key   []byte
	value []byte
	dup   bool
	ref   logstore.Address

	// child is the loaded child page of an internal entry.
	child *node
	// sub is the loaded duplicates sub-tree of a leaf entry.
	sub *core
}

func newLeaf() *node {
	return &node{leaf: true, addr: logstore.NullAddress, dirty: true}
}

// findKeyIndex returns the index of key or the index it would be inserted at.
func (n *node) findKeyIndex(key []byte) (int, bool) {
	low, high := 0, len(n.entries)
	for low < high {
		mid := (low + high) / 2
		cmp := bytes.Compare(n.entries[mid].key, key)
		if cmp < 0 {
			low = mid + 1
		} else if cmp > 0 {
			high = mid
		} else {
			return mid, true
		}
	}
	return low, false
}

// childIndex returns the index of the child whose key range holds key.
func (n *node) childIndex(key []byte) int {
	i, found := n.findKeyIndex(key)
	if found || i == 0 {
		return i
	}
	return i - 1
}

func (n *node) minKey() []byte {
	if len(n.entries) == 0 {
		return nil
	}
	return n.entries[0].key
}

func (n *node) insertAt(i int, e entry) {
	n.entries = append(n.entries, entry{})
	copy(n.entries[i+1:], n.entries[i:])
	n.entries[i] = e
}

func (n *node) removeAt(i int) {
	copy(n.entries[i:], n.entries[i+1:])
	n.entries[len(n.entries)-1] = entry{}
	n.entries = n.entries[:len(n.entries)-1]
}

// split moves the entries from position at onwards into a new sibling.
func (n *node) split(at int) *node {
	sib := &node{
		leaf:    n.leaf,
		entries: make([]entry, len(n.entries)-at),
		addr:    logstore.NullAddress,
		dirty:   true,
	}
	copy(sib.entries, n.entries[at:])
	for i := at; i < len(n.entries); i++ {
		n.entries[i] = entry{}
	}
	n.entries = n.entries[:at]
	return sib
}

// splitPoint returns where an overflowing page of size total is divided.
func splitPoint(total int, atEnd bool) int {
	at := total / 2
	if atEnd {
		at = total * 7 / 8
	}
	if at < 1 {
		at = 1
	}
	if at > total-1 {
		at = total - 1
	}
	return at
}
