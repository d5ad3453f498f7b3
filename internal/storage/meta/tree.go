package meta

import (
	"errors"
	"fmt"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/patricia"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree"
)

// Log is the subset of the record log used by the meta-tree.
type Log interface {
	tree.Log
	LastRecordOfType(typ byte, valid func(logstore.Loggable) bool) (logstore.Loggable, bool, error)
}

// Tree is one immutable meta-tree generation. It is safe for concurrent use.
type Tree struct {
	log     tree.Log
	trie    *patricia.Patricia
	record  logstore.Loggable
	lastID  uint64
	version uint64
}

// Store describes a named store of a generation.
type Store struct {
	Name string
	Meta StoreMeta
	Root logstore.Address
}

// Create opens the newest generation anchored in log. A database root
// record is accepted when its check holds and its trie can be opened. When
// none is found an empty generation is written, unless the log is
// read-only.
func Create(log Log) (*Tree, error) {
	rec, ok, err := log.LastRecordOfType(tree.TypeDatabaseRoot, func(rec logstore.Loggable) bool {
		_, _, err := openGeneration(log, rec)
		return err == nil
	})
	if err != nil {
		return nil, fmt.Errorf("find database root: %w", err)
	}
	if ok {
		trie, root, err := openGeneration(log, rec)
		if err != nil {
			return nil, err
		}
		return &Tree{log: log, trie: trie, record: rec, lastID: root.LastStructureID}, nil
	}

	t := &Tree{
		log:    log,
		trie:   patricia.New(log, StructureID),
		record: logstore.Loggable{Address: logstore.NullAddress},
		lastID: StructureID,
	}
	rec, err = log.Append(tree.TypeDatabaseRoot, StructureID, encodeDatabaseRoot(logstore.NullAddress, t.lastID))
	if err != nil {
		if errors.Is(err, logstore.ErrReadOnly) {
			return t, nil
		}
		return nil, fmt.Errorf("write initial database root: %w", err)
	}
	t.record = rec
	return t, nil
}

func openGeneration(log tree.Log, rec logstore.Loggable) (*patricia.Patricia, DatabaseRoot, error) {
	root, err := DecodeDatabaseRoot(rec)
	if err != nil {
		return nil, root, err
	}
	trie, err := patricia.Open(log, StructureID, root.MetaRoot)
	if err != nil {
		return nil, root, fmt.Errorf("%w: %v", ErrInvalidDatabaseRoot, err)
	}
	return trie, root, nil
}

// Version is the in-memory generation counter, starting at zero on open.
func (t *Tree) Version() uint64 { return t.version }

// LastStructureID returns the highest structure id allocated so far.
func (t *Tree) LastStructureID() uint64 { return t.lastID }

// DatabaseRoot returns the record anchoring this generation. Its address is
// logstore.NullAddress when the generation was never written.
func (t *Tree) DatabaseRoot() logstore.Loggable { return t.record }

// Trie returns the underlying trie.
func (t *Tree) Trie() *patricia.Patricia { return t.trie }

// Store returns the metadata of a named store.
func (t *Tree) Store(name string) (StoreMeta, bool, error) {
	return lookupStore(t.trie, name)
}

// RootAddress returns the root address of a structure, or
// logstore.NullAddress when it has none.
func (t *Tree) RootAddress(id uint64) (logstore.Address, error) {
	return lookupRoot(t.trie, id)
}

// StoreNames returns the names of all stores in key order.
func (t *Tree) StoreNames() ([]string, error) {
	stores, err := t.Stores()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(stores))
	for i, s := range stores {
		names[i] = s.Name
	}
	return names, nil
}

// Stores returns every store with its metadata and root address.
func (t *Tree) Stores() ([]Store, error) {
	var stores []Store
	cur := t.trie.OpenCursor()
	defer cur.Close()
	for cur.Next() {
		key := cur.Key()
		if len(key) == 0 || key[len(key)-1] != 0 {
			continue
		}
		sm, err := decodeStoreMeta(cur.Value())
		if err != nil {
			return nil, fmt.Errorf("store %q: %w", key[:len(key)-1], err)
		}
		root, err := t.RootAddress(sm.StructureID)
		if err != nil {
			return nil, err
		}
		stores = append(stores, Store{Name: string(key[:len(key)-1]), Meta: sm, Root: root})
	}
	return stores, cur.Err()
}

// Clone returns a mutable copy of the generation.
func (t *Tree) Clone() *Mutable {
	return &Mutable{base: t, trie: t.trie.Mutable(), lastID: t.lastID}
}

type reader interface {
	Get(key []byte) ([]byte, error)
}

func lookupStore(r reader, name string) (StoreMeta, bool, error) {
	if name == "" {
		return StoreMeta{}, false, ErrInvalidStoreName
	}
	v, err := r.Get(NameKey(name))
	if errors.Is(err, tree.ErrKeyNotFound) {
		return StoreMeta{}, false, nil
	}
	if err != nil {
		return StoreMeta{}, false, err
	}
	sm, err := decodeStoreMeta(v)
	if err != nil {
		return StoreMeta{}, false, fmt.Errorf("store %q: %w", name, err)
	}
	return sm, true, nil
}

func lookupRoot(r reader, id uint64) (logstore.Address, error) {
	v, err := r.Get(IDKey(id))
	if errors.Is(err, tree.ErrKeyNotFound) {
		return logstore.NullAddress, nil
	}
	if err != nil {
		return logstore.NullAddress, err
	}
	addr, err := decodeRoot(v)
	if err != nil {
		return logstore.NullAddress, fmt.Errorf("%w: root of structure %d: %v", ErrInvalidStructureID, id, err)
	}
	return addr, nil
}

// Mutable stages changes to a meta-tree generation. It is not safe for
// concurrent use.
type Mutable struct {
	base   *Tree
	trie   *patricia.MutablePatricia
	lastID uint64
}

// Base returns the generation the copy was cloned from.
func (m *Mutable) Base() *Tree { return m.base }

// Changed reports whether the copy differs from its base.
func (m *Mutable) Changed() bool {
	return m.trie.Changed() || m.lastID != m.base.lastID
}

// Expired returns the trie records superseded so far.
func (m *Mutable) Expired() *tree.ExpiredLoggables { return m.trie.Expired() }

// LastStructureID returns the highest structure id allocated so far.
func (m *Mutable) LastStructureID() uint64 { return m.lastID }

// AllocateStructureID reserves a new structure id.
func (m *Mutable) AllocateStructureID() uint64 {
	m.lastID = NextStructureID(m.lastID)
	return m.lastID
}

// Store returns the metadata of the named store.
func (m *Mutable) Store(name string) (StoreMeta, bool, error) {
	return lookupStore(m.trie, name)
}

// PutStore records the metadata of a named store.
func (m *Mutable) PutStore(name string, sm StoreMeta) error {
	if name == "" {
		return ErrInvalidStoreName
	}
	if !ValidStructureID(sm.StructureID) {
		return fmt.Errorf("%w: %d", ErrInvalidStructureID, sm.StructureID)
	}
	b, err := encodeStoreMeta(sm)
	if err != nil {
		return err
	}
	_, err = m.trie.Put(NameKey(name), b)
	return err
}

// RemoveStore deletes a named store and its root entry.
func (m *Mutable) RemoveStore(name string) (bool, error) {
	sm, ok, err := m.Store(name)
	if err != nil || !ok {
		return false, err
	}
	if _, err := m.trie.Delete(NameKey(name)); err != nil {
		return false, err
	}
	if _, err := m.trie.Delete(IDKey(sm.StructureID)); err != nil {
		return false, err
	}
	return true, nil
}

// RootAddress returns the root address of the store with structure id id.
func (m *Mutable) RootAddress(id uint64) (logstore.Address, error) {
	return lookupRoot(m.trie, id)
}

// SetRoot records the root address of a structure. The null address
// removes the entry.
func (m *Mutable) SetRoot(id uint64, addr logstore.Address) error {
	if !ValidStructureID(id) {
		return fmt.Errorf("%w: %d", ErrInvalidStructureID, id)
	}
	if addr == logstore.NullAddress {
		_, err := m.trie.Delete(IDKey(id))
		return err
	}
	_, err := m.trie.Put(IDKey(id), encodeRoot(addr))
	return err
}

// Reclaim thaws the live meta-tree nodes among records.
func (m *Mutable) Reclaim(records []logstore.Loggable) error {
	return m.trie.Reclaim(records)
}

// Save writes the changed trie nodes followed by a new database root
// record, and returns the resulting generation. The previous database root
// record is added to the expired collection.
func (m *Mutable) Save() (*Tree, error) {
	root, err := m.trie.Save()
	if err != nil {
		return nil, fmt.Errorf("save meta-tree: %w", err)
	}
	rec, err := m.base.log.Append(tree.TypeDatabaseRoot, StructureID, encodeDatabaseRoot(root, m.lastID))
	if err != nil {
		return nil, fmt.Errorf("write database root: %w", err)
	}
	if prev := m.base.record; prev.Address != logstore.NullAddress {
		m.trie.Expired().Add(prev.Address, prev.Length)
	}
	return &Tree{
		log:     m.base.log,
		trie:    m.trie.Snapshot(),
		record:  rec,
		lastID:  m.lastID,
		version: m.base.version + 1,
	}, nil
}
