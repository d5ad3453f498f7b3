package btree

import (
	"bytes"
	"fmt"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree"
)

// MutableBTree stages edits over an immutable version. It is not safe for
// concurrent use.
type MutableBTree struct {
	c *core
}

var _ tree.MutableTree = (*MutableBTree)(nil)

// StructureID returns the structure id the records of the tree are tagged with.
func (m *MutableBTree) StructureID() uint64 { return m.c.sid }

// Size returns the number of key/value pairs.
func (m *MutableBTree) Size() int64 { return m.c.size }

// Duplicates reports whether a key may hold several values.
func (m *MutableBTree) Duplicates() bool { return m.c.dups }

// Changed reports whether the tree was modified since it was copied.
func (m *MutableBTree) Changed() bool { return m.c.changed }

// Expired returns the records superseded by this overlay.
func (m *MutableBTree) Expired() *tree.ExpiredLoggables { return m.c.expired }

// Get returns the value of key, the smallest one when key has duplicates.
func (m *MutableBTree) Get(key []byte) ([]byte, error) {
	return m.c.get(key)
}

// HasKey reports whether key is present.
func (m *MutableBTree) HasKey(key []byte) (bool, error) {
	_, _, found, err := m.c.findLeaf(key)
	return found, err
}

// HasPair reports whether key holds value.
func (m *MutableBTree) HasPair(key, value []byte) (bool, error) {
	return m.c.hasPair(key, value)
}

// OpenCursor returns a cursor that survives edits made through this tree.
func (m *MutableBTree) OpenCursor() tree.Cursor {
	return newCursor(m.c, m)
}

// Put stores the pair and reports whether the tree changed. Without duplicates it replaces the old value.
func (m *MutableBTree) Put(key, value []byte) (bool, error) {
	c := m.c
	return c.insert(key, func(n *node, idx int, found bool) (bool, error) {
		if !found {
			n.insertAt(idx, entry{key: tree.Clone(key), value: tree.Clone(value), ref: logstore.NullAddress})
			c.size++
			return true, nil
		}
		if c.dups {
			return c.addDup(n, idx, value)
		}
		e := &n.entries[idx]
		if bytes.Equal(e.value, value) {
			return false, nil
		}
		e.value = tree.Clone(value)
		return true, nil
	})
}

// Add stores the pair only if key is absent and reports whether it did.
func (m *MutableBTree) Add(key, value []byte) (bool, error) {
	c := m.c
	return c.insert(key, func(n *node, idx int, found bool) (bool, error) {
		if !found {
			n.insertAt(idx, entry{key: tree.Clone(key), value: tree.Clone(value), ref: logstore.NullAddress})
			c.size++
			return true, nil
		}
		if !c.dups {
			return false, nil
		}
		return c.addDup(n, idx, value)
	})
}

// PutRight appends a pair greater than every existing pair.
func (m *MutableBTree) PutRight(key, value []byte) error {
	c := m.c
	n, i, err := c.edge(true)
	if err != nil {
		return err
	}
	if n != nil {
		last := &n.entries[i]
		cmp := bytes.Compare(key, last.key)
		if cmp < 0 || (cmp == 0 && !c.dups) {
			return fmt.Errorf("%w: %q after %q", tree.ErrPutRightOrder, key, last.key)
		}
		if cmp == 0 {
			maxValue := last.value
			if last.dup {
				sub, err := c.subAt(n, i)
				if err != nil {
					return err
				}
				sn, si, err := sub.edge(true)
				if err != nil {
					return err
				}
				maxValue = sn.entries[si].key
			}
			if bytes.Compare(value, maxValue) <= 0 {
				return fmt.Errorf("%w: value of %q", tree.ErrPutRightOrder, key)
			}
		}
	}
	_, err = m.Put(key, value)
	return err
}

// Delete removes key with all of its values.
func (m *MutableBTree) Delete(key []byte) (bool, error) {
	c := m.c
	return c.remove(key, func(n *node, idx int) (bool, error) {
		if n.entries[idx].dup {
			sub, err := c.subAt(n, idx)
			if err != nil {
				return false, err
			}
			c.size -= sub.size
			if err := sub.retireTree(); err != nil {
				return false, err
			}
		} else {
			c.size--
		}
		n.removeAt(idx)
		return true, nil
	})
}

// DeletePair removes a single key/value pair.
func (m *MutableBTree) DeletePair(key, value []byte) (bool, error) {
	c := m.c
	return c.remove(key, func(n *node, idx int) (bool, error) {
		e := &n.entries[idx]
		if !e.dup {
			if !bytes.Equal(e.value, value) {
				return false, nil
			}
			c.size--
			n.removeAt(idx)
			return true, nil
		}
		sub, err := c.subAt(n, idx)
		if err != nil {
			return false, err
		}
		changed, err := sub.removeKey(value)
		if err != nil || !changed {
			return false, err
		}
		c.size--
		if sub.size > 1 {
			return true, nil
		}
		// a single value left, fold it back into the entry
		sn, si, err := sub.edge(false)
		if err != nil {
			return false, err
		}
		last := sn.entries[si].key
		if err := sub.retireTree(); err != nil {
			return false, err
		}
		e.dup, e.sub, e.ref, e.value = false, nil, logstore.NullAddress, last
		return true, nil
	})
}

// Save writes the staged pages and returns the new root address.
func (m *MutableBTree) Save() (logstore.Address, error) {
	return m.c.save()
}

// Snapshot returns the immutable version last written by Save.
func (m *MutableBTree) Snapshot() *BTree {
	return &BTree{
		log:      m.c.log,
		sid:      m.c.sid,
		cfg:      m.c.cfg,
		dups:     m.c.dups,
		rootAddr: m.c.rootAddr,
		size:     m.c.size,
	}
}

// Verify checks the structural invariants of the staged tree.
func (m *MutableBTree) Verify() error {
	return m.c.verify()
}

// addDup adds value to the key at leaf slot idx of a duplicates tree.
func (c *core) addDup(n *node, idx int, value []byte) (bool, error) {
	e := &n.entries[idx]
	if !e.dup {
		if bytes.Equal(e.value, value) {
			return false, nil
		}
		sub := c.newSub(e.key, logstore.NullAddress)
		if _, err := sub.addKey(e.value); err != nil {
			return false, err
		}
		if _, err := sub.addKey(value); err != nil {
			return false, err
		}
		e.dup, e.value, e.sub, e.ref = true, nil, sub, logstore.NullAddress
		c.size++
		return true, nil
	}
	sub, err := c.subAt(n, idx)
	if err != nil {
		return false, err
	}
	changed, err := sub.addKey(value)
	if err != nil || !changed {
		return false, err
	}
	c.size++
	return true, nil
}

// addKey inserts a key into a duplicates sub-tree.
func (c *core) addKey(key []byte) (bool, error) {
	return c.insert(key, func(n *node, idx int, found bool) (bool, error) {
		if found {
			return false, nil
		}
		n.insertAt(idx, entry{key: tree.Clone(key), ref: logstore.NullAddress})
		c.size++
		return true, nil
	})
}

// removeKey deletes a key from a duplicates sub-tree.
func (c *core) removeKey(key []byte) (bool, error) {
	return c.remove(key, func(n *node, idx int) (bool, error) {
		n.removeAt(idx)
		c.size--
		return true, nil
	})
}
