package patricia

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree"
)

// Patricia is an immutable trie version. It is safe for concurrent use.
type Patricia struct {
	log      tree.Log
	sid      uint64
	rootAddr logstore.Address
	size     int64
}

var _ tree.Tree = (*Patricia)(nil)

// New returns an empty trie.
func New(log tree.Log, structureID uint64) *Patricia {
	return &Patricia{log: log, sid: structureID, rootAddr: logstore.NullAddress}
}

// Open returns the trie whose root node is at rootAddr.
func Open(log tree.Log, structureID uint64, rootAddr logstore.Address) (*Patricia, error) {
	t := New(log, structureID)
	if rootAddr == logstore.NullAddress {
		return t, nil
	}
	t.rootAddr = rootAddr
	c := t.reader()
	if _, err := c.rootNode(); err != nil {
		return nil, fmt.Errorf("open trie %d at %d: %w", structureID, rootAddr, err)
	}
	t.size = c.size
	return t, nil
}

func (t *Patricia) reader() *core {
	return newCore(t.log, t.sid, t.rootAddr, t.size)
}

// StructureID returns the structure id the records of the tree are tagged with.
func (t *Patricia) StructureID() uint64 { return t.sid }

// Size returns the number of key/value pairs.
func (t *Patricia) Size() int64 { return t.size }

// Duplicates reports whether a key may hold several values.
func (t *Patricia) Duplicates() bool { return false }

// RootAddress returns the address of the saved root, or NullAddress if the
// tree was never saved.
func (t *Patricia) RootAddress() logstore.Address { return t.rootAddr }

// Get returns the value of key, the smallest one when key has duplicates.
func (t *Patricia) Get(key []byte) ([]byte, error) {
	return t.reader().get(key)
}

// HasKey reports whether key is present.
func (t *Patricia) HasKey(key []byte) (bool, error) {
	_, err := t.reader().get(key)
	return found(err)
}

// HasPair reports whether key holds value.
func (t *Patricia) HasPair(key, value []byte) (bool, error) {
	return hasPair(t.reader(), key, value)
}

// OpenCursor returns a cursor positioned before the first pair.
func (t *Patricia) OpenCursor() tree.Cursor {
	return newCursor(t.reader(), nil)
}

// MutableCopy returns a mutable copy sharing the saved nodes.
func (t *Patricia) MutableCopy() tree.MutableTree {
	return t.Mutable()
}

// Mutable is MutableCopy with the concrete result type.
func (t *Patricia) Mutable() *MutablePatricia {
	c := t.reader()
	c.retain = true
	c.expired = tree.NewExpiredLoggables()
	return &MutablePatricia{c: c}
}

// ForEachAddress calls fn for every record reachable from the root.
func (t *Patricia) ForEachAddress(fn func(addr logstore.Address, length int64) error) error {
	c := t.reader()
	root, err := c.rootNode()
	if err != nil || root == nil {
		return err
	}
	return c.forEachAddress(root, fn)
}

// Verify checks child order, the single-child rule and the stored size.
func (t *Patricia) Verify() error {
	return t.reader().verify()
}

func found(err error) (bool, error) {
	if errors.Is(err, tree.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func hasPair(c *core, key, value []byte) (bool, error) {
	v, err := c.get(key)
	if ok, err := found(err); !ok {
		return false, err
	}
	return bytes.Equal(v, value), nil
}

// MutablePatricia stages edits over an immutable trie version. It is not
// safe for concurrent use.
type MutablePatricia struct {
	c *core
}

var _ tree.MutableTree = (*MutablePatricia)(nil)

// StructureID returns the structure id the records of the tree are tagged with.
func (m *MutablePatricia) StructureID() uint64 { return m.c.sid }

// Size returns the number of key/value pairs.
func (m *MutablePatricia) Size() int64 { return m.c.size }

// Duplicates reports whether a key may hold several values.
func (m *MutablePatricia) Duplicates() bool { return false }

// Changed reports whether the tree was modified since it was copied.
func (m *MutablePatricia) Changed() bool { return m.c.changed }

// Expired returns the records made obsolete by changes to the tree.
func (m *MutablePatricia) Expired() *tree.ExpiredLoggables { return m.c.expired }

// Get returns the value of key, the smallest one when key has duplicates.
func (m *MutablePatricia) Get(key []byte) ([]byte, error) {
	return m.c.get(key)
}

// HasKey reports whether key is present.
func (m *MutablePatricia) HasKey(key []byte) (bool, error) {
	_, err := m.c.get(key)
	return found(err)
}

// HasPair reports whether key holds value.
func (m *MutablePatricia) HasPair(key, value []byte) (bool, error) {
	return hasPair(m.c, key, value)
}

// OpenCursor returns a cursor positioned before the first pair.
func (m *MutablePatricia) OpenCursor() tree.Cursor {
	return newCursor(m.c, m)
}

// Cursor is OpenCursor with the concrete result type.
func (m *MutablePatricia) Cursor() *Cursor {
	return newCursor(m.c, m)
}

// Put stores the pair and reports whether the tree changed. Without duplicates it replaces the old value.
func (m *MutablePatricia) Put(key, value []byte) (bool, error) {
	return m.c.insert(key, value, true)
}

// Add stores the pair only if key is absent and reports whether it did.
func (m *MutablePatricia) Add(key, value []byte) (bool, error) {
	return m.c.insert(key, value, false)
}

// PutRight appends a pair whose key is greater than every key in the tree.
func (m *MutablePatricia) PutRight(key, value []byte) error {
	last, ok, err := m.c.lastKey()
	if err != nil {
		return err
	}
	if ok && bytes.Compare(key, last) <= 0 {
		return fmt.Errorf("%w: %q after %q", tree.ErrPutRightOrder, key, last)
	}
	_, err = m.c.insert(key, value, true)
	return err
}

// Delete removes key with all of its values.
func (m *MutablePatricia) Delete(key []byte) (bool, error) {
	return m.c.remove(key)
}

// DeletePair removes key only when it holds value.
func (m *MutablePatricia) DeletePair(key, value []byte) (bool, error) {
	ok, err := hasPair(m.c, key, value)
	if err != nil || !ok {
		return false, err
	}
	return m.c.remove(key)
}

// Save writes the changed nodes depth first and returns the new root address.
func (m *MutablePatricia) Save() (logstore.Address, error) {
	return m.c.save()
}

// Snapshot returns the immutable version last written by Save.
func (m *MutablePatricia) Snapshot() *Patricia {
	return &Patricia{log: m.c.log, sid: m.c.sid, rootAddr: m.c.rootAddr, size: m.c.size}
}

// Verify checks the structural invariants of the tree.
func (m *MutablePatricia) Verify() error {
	return m.c.verify()
}
