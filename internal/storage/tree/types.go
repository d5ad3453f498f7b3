package tree

import (
	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
)

// Record types. Zero is reserved by the log for padding.
const (
	TypeDatabaseRoot byte = 1

	TypeBTreeLeaf         byte = 2
	TypeBTreeInternal     byte = 3
	TypeBTreeLeafRoot     byte = 4
	TypeBTreeInternalRoot byte = 5
	TypeDupLeaf           byte = 6
	TypeDupInternal       byte = 7
	TypeDupLeafRoot       byte = 8
	TypeDupInternalRoot   byte = 9

	TypePatriciaNode byte = 10
	TypePatriciaRoot byte = 11
)

// IsBTreeType reports whether t is a multi-way tree page type.
func IsBTreeType(t byte) bool {
	return t >= TypeBTreeLeaf && t <= TypeDupInternalRoot
}

// IsDupType reports whether t is a page of a duplicates sub-tree.
func IsDupType(t byte) bool {
	return t >= TypeDupLeaf && t <= TypeDupInternalRoot
}

// IsPatriciaType reports whether t is a trie node type.
func IsPatriciaType(t byte) bool {
	return t == TypePatriciaNode || t == TypePatriciaRoot
}

// IsRootType reports whether t carries the size of a whole tree.
func IsRootType(t byte) bool {
	switch t {
	case TypeBTreeLeafRoot, TypeBTreeInternalRoot, TypeDupLeafRoot, TypeDupInternalRoot, TypePatriciaRoot:
		return true
	}
	return false
}

// TypeName returns a short human-readable name for a record type.
func TypeName(t byte) string {
	switch t {
	case TypeDatabaseRoot:
		return "database-root"
	case TypeBTreeLeaf:
		return "btree-leaf"
	case TypeBTreeInternal:
		return "btree-internal"
	case TypeBTreeLeafRoot:
		return "btree-leaf-root"
	case TypeBTreeInternalRoot:
		return "btree-internal-root"
	case TypeDupLeaf:
		return "dup-leaf"
	case TypeDupInternal:
		return "dup-internal"
	case TypeDupLeafRoot:
		return "dup-leaf-root"
	case TypeDupInternalRoot:
		return "dup-internal-root"
	case TypePatriciaNode:
		return "patricia-node"
	case TypePatriciaRoot:
		return "patricia-root"
	default:
		return "unknown"
	}
}

// Log is the subset of the record log used by trees.
type Log interface {
	Read(addr logstore.Address) (logstore.Loggable, error)
	Append(typ byte, structureID uint64, payload []byte) (logstore.Loggable, error)
}

// Reader is the read contract shared by immutable and mutable trees.
type Reader interface {
	// StructureID returns the permanent identity of the tree.
	StructureID() uint64
	// Size returns the number of key/value pairs.
	Size() int64
	// Duplicates reports whether a key may carry several values.
	Duplicates() bool
	// Get returns the value of key, or its smallest value when the key has
	// duplicates. It returns ErrKeyNotFound when the key is absent.
	Get(key []byte) ([]byte, error)
	// HasKey reports whether key is present.
	HasKey(key []byte) (bool, error)
	// HasPair reports whether the exact pair is present.
	HasPair(key, value []byte) (bool, error)
	// OpenCursor returns a cursor positioned before the first pair.
	OpenCursor() Cursor
}

// Tree is an immutable tree version.
type Tree interface {
	Reader
	// RootAddress returns the address of the root record, or
	// logstore.NullAddress for an empty tree.
	RootAddress() logstore.Address
	// MutableCopy returns an overlay that stages edits on top of this version.
	MutableCopy() MutableTree
	// ForEachAddress calls fn for every record reachable from the root.
	ForEachAddress(fn func(addr logstore.Address, length int64) error) error
}

// MutableTree is a copy-on-write overlay over an immutable tree.
type MutableTree interface {
	Reader
	// Put inserts or overwrites key. With duplicates it adds the pair unless
	// present. It reports whether the tree changed.
	Put(key, value []byte) (bool, error)
	// PutRight appends a pair that must sort after every existing pair.
	PutRight(key, value []byte) error
	// Add inserts the pair unless the key (or, with duplicates, the pair)
	// already exists.
	Add(key, value []byte) (bool, error)
	// Delete removes key and all its values.
	Delete(key []byte) (bool, error)
	// DeletePair removes one pair.
	DeletePair(key, value []byte) (bool, error)
	// Changed reports whether the overlay holds unsaved edits.
	Changed() bool
	// Save writes every changed node and returns the new root address.
	// The overlay then continues on top of the saved version.
	Save() (logstore.Address, error)
	// Expired returns the records superseded by this overlay so far.
	Expired() *ExpiredLoggables
	// Reclaim marks every still-reachable node among records, which all
	// belong to this tree, so that the next Save copies it forward.
	Reclaim(records []logstore.Loggable) error
}

// Cursor is a bidirectional iterator over key/value pairs in key order,
// with duplicates ordered by value.
//
// A new cursor is positioned before the first pair: Next moves to the first
// pair and Prev to the last. Failed seeks leave the position unchanged.
type Cursor interface {
	Next() bool
	Prev() bool
	// NextDup moves to the next value of the current key.
	NextDup() bool
	// PrevDup moves to the previous value of the current key.
	PrevDup() bool
	// NextNoDup moves to the first value of the next key.
	NextNoDup() bool
	// PrevNoDup moves to the last value of the previous key.
	PrevNoDup() bool

	Key() []byte
	Value() []byte

	// SeekKey positions at the first value of key.
	SeekKey(key []byte) bool
	// SeekRange positions at the first pair whose key is >= key.
	SeekRange(key []byte) bool
	// SeekBoth positions at the exact pair.
	SeekBoth(key, value []byte) bool
	// SeekBothRange positions at the first value >= value of key.
	SeekBothRange(key, value []byte) bool

	// Count returns the number of values of the current key.
	Count() int
	// DeleteCurrent removes the current pair. Only mutable trees support it;
	// the next call to Next moves to the pair that followed it.
	DeleteCurrent() (bool, error)

	// Err returns the first error met while moving.
	Err() error
	Close()
}
