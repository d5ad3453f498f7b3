// Package btree implements the copy-on-write multi-way tree of cowdb.
//
// # Overview
//
// Pages are log records. An immutable BTree is identified by the address of
// its root page; a MutableBTree loads pages lazily, stages edits in memory
// and, on Save, writes changed pages bottom-up:
//
//   - Leaf pages hold keys and either a value or the root address of a
//     duplicates sub-tree
//   - Internal pages hold, for every child, the child's minimum key and its
//     address
//   - Root pages additionally carry the size of the whole tree
//
// # Balance Policy
//
// A page holds at most PageMaxSize entries (DupPageMaxSize inside a
// duplicates sub-tree). An overflowing page is split in half, or at 7/8 when
// the entry was inserted at the last slot, which keeps append-heavy loads
// dense. After a deletion a page is merged with a neighbour when either is
// empty or both fit in 7/8 of a page.
//
// # Duplicates
//
// When duplicates are enabled the second value of a key turns the entry into
// a nested tree keyed by value. Its pages record the owning key so the
// garbage collector can locate them; the sub-tree collapses back into a plain
// value when a single value remains.
//
// # Usage
//
//	t := btree.New(log, structureID, true, btree.DefaultConfig())
//	m := t.MutableCopy()
//	m.Put([]byte("k"), []byte("a"))
//	root, err := m.Save()
package btree
