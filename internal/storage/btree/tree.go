package btree

import (
	"bytes"
	"fmt"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree"
)

// BTree is an immutable tree version. It is safe for concurrent use.
type BTree struct {
	log      tree.Log
	sid      uint64
	cfg      Config
	dups     bool
	rootAddr logstore.Address
	size     int64
}

var _ tree.Tree = (*BTree)(nil)

// New returns an empty tree.
func New(log tree.Log, structureID uint64, dups bool, cfg Config) *BTree {
	return &BTree{
		log:      log,
		sid:      structureID,
		cfg:      cfg.normalized(),
		dups:     dups,
		rootAddr: logstore.NullAddress,
	}
}

// Open returns the tree whose root page is at rootAddr. NullAddress opens an
// empty tree.
func Open(log tree.Log, structureID uint64, rootAddr logstore.Address, dups bool, cfg Config) (*BTree, error) {
	t := New(log, structureID, dups, cfg)
	if rootAddr == logstore.NullAddress {
		return t, nil
	}
	t.rootAddr = rootAddr
	c := t.reader()
	if _, err := c.rootNode(); err != nil {
		return nil, fmt.Errorf("open tree %d at %d: %w", structureID, rootAddr, err)
	}
	t.size = c.size
	return t, nil
}

// reader returns a transient core over this version.
func (t *BTree) reader() *core {
	return newCore(t.log, t.sid, t.dups, t.cfg, t.rootAddr, t.size)
}

// StructureID returns the structure id the records of the tree are tagged with.
func (t *BTree) StructureID() uint64 { return t.sid }

// Size returns the number of key/value pairs.
func (t *BTree) Size() int64 { return t.size }

// Duplicates reports whether a key may hold several values.
func (t *BTree) Duplicates() bool { return t.dups }

// RootAddress returns the address of the saved root, or NullAddress if the
// tree was never saved.
func (t *BTree) RootAddress() logstore.Address { return t.rootAddr }

// Get returns the value of key, the smallest one when key has duplicates.
func (t *BTree) Get(key []byte) ([]byte, error) {
	return t.reader().get(key)
}

// HasKey reports whether key is present.
func (t *BTree) HasKey(key []byte) (bool, error) {
	_, _, found, err := t.reader().findLeaf(key)
	return found, err
}

// HasPair reports whether key holds value.
func (t *BTree) HasPair(key, value []byte) (bool, error) {
	return t.reader().hasPair(key, value)
}

// OpenCursor returns a cursor positioned before the first pair.
func (t *BTree) OpenCursor() tree.Cursor {
	return newCursor(t.reader(), nil)
}

// MutableCopy returns an overlay whose edits never touch this version.
func (t *BTree) MutableCopy() tree.MutableTree {
	return t.Mutable()
}

// Mutable is MutableCopy with the concrete result type.
func (t *BTree) Mutable() *MutableBTree {
	c := t.reader()
	c.retain = true
	c.expired = tree.NewExpiredLoggables()
	return &MutableBTree{c: c}
}

// ForEachAddress calls fn for every record reachable from the root.
func (t *BTree) ForEachAddress(fn func(addr logstore.Address, length int64) error) error {
	c := t.reader()
	root, err := c.rootNode()
	if err != nil || root == nil {
		return err
	}
	return c.forEachAddress(root, fn)
}

// Verify checks ordering, page sizes, separator keys and the stored size.
func (t *BTree) Verify() error {
	return t.reader().verify()
}

func (c *core) get(key []byte) ([]byte, error) {
	n, i, found, err := c.findLeaf(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, tree.ErrKeyNotFound
	}
	if !n.entries[i].dup {
		return n.entries[i].value, nil
	}
	sub, err := c.subAt(n, i)
	if err != nil {
		return nil, err
	}
	sn, si, err := sub.edge(false)
	if err != nil {
		return nil, err
	}
	if sn == nil {
		return nil, fmt.Errorf("%w: empty duplicates of %q", tree.ErrCorruptedNode, key)
	}
	return sn.entries[si].key, nil
}

func (c *core) hasPair(key, value []byte) (bool, error) {
	n, i, found, err := c.findLeaf(key)
	if err != nil || !found {
		return false, err
	}
	if !n.entries[i].dup {
		return bytes.Equal(n.entries[i].value, value), nil
	}
	sub, err := c.subAt(n, i)
	if err != nil {
		return false, err
	}
	_, _, found, err = sub.findLeaf(value)
	return found, err
}
