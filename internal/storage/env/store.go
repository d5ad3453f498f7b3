package env

import (
	"fmt"
	"sort"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/btree"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/meta"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/patricia"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree"
)

// StoreConfig selects the tree behind a store.
type StoreConfig struct {
	// Duplicates allows several values per key.
	Duplicates bool
	// Prefixing stores keys in a Patricia trie instead of a multi-way tree.
	Prefixing bool
	// UseExisting opens a store with whatever configuration it has and
	// fails if it does not exist.
	UseExisting bool
}

// Common store configurations.
var (
	WithoutDuplicates              = StoreConfig{}
	WithDuplicates                 = StoreConfig{Duplicates: true}
	WithoutDuplicatesWithPrefixing = StoreConfig{Prefixing: true}
	WithDuplicatesWithPrefixing    = StoreConfig{Duplicates: true, Prefixing: true}
	UseExisting                    = StoreConfig{UseExisting: true}
)

func configOf(sm meta.StoreMeta) StoreConfig {
	return StoreConfig{Duplicates: sm.Duplicates, Prefixing: sm.Prefixing}
}

// storeState is the view of one store inside a transaction.
type storeState struct {
	name    string
	meta    meta.StoreMeta
	tree    tree.Tree
	mutable tree.MutableTree
	created bool
	removed bool
}

func (st *storeState) reader() tree.Reader {
	if st.mutable != nil {
		return st.mutable
	}
	return st.tree
}

func (st *storeState) writable() tree.MutableTree {
	if st.mutable == nil {
		st.mutable = st.tree.MutableCopy()
	}
	return st.mutable
}

// openTree opens the tree of a store at root.
func (e *Environment) openTree(sm meta.StoreMeta, root logstore.Address) (tree.Tree, error) {
	if sm.Prefixing {
		t, err := patricia.Open(e.log, sm.StructureID, root)
		if err != nil {
			return nil, err
		}
		if sm.Duplicates {
			return patricia.WithDuplicates(t), nil
		}
		return t, nil
	}
	t, err := btree.Open(e.log, sm.StructureID, root, sm.Duplicates, e.opts.Tree)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// lookup returns the state of a store, or nil when it does not exist in
// the transaction.
func (t *Transaction) lookup(name string) (*storeState, error) {
	if st, ok := t.stores[name]; ok {
		if st.removed {
			return nil, nil
		}
		return st, nil
	}
	sm, ok, err := t.snapshot.Store(name)
	if err != nil || !ok {
		return nil, t.env.fail(err)
	}
	root, err := t.snapshot.RootAddress(sm.StructureID)
	if err != nil {
		return nil, t.env.fail(err)
	}
	tr, err := t.env.openTree(sm, root)
	if err != nil {
		return nil, t.env.fail(fmt.Errorf("open store %q: %w", name, err))
	}
	st := &storeState{name: name, meta: sm, tree: tr}
	t.putState(st)
	return st, nil
}

func (t *Transaction) putState(st *storeState) {
	if t.stores == nil {
		t.stores = make(map[string]*storeState)
	}
	t.stores[st.name] = st
}

// lookupID returns the state of the store with the given structure id.
func (t *Transaction) lookupID(id uint64) (*storeState, error) {
	if t.byID == nil {
		stores, err := t.snapshot.Stores()
		if err != nil {
			return nil, t.env.fail(err)
		}
		t.byID = make(map[uint64]string, len(stores))
		for _, s := range stores {
			t.byID[s.Meta.StructureID] = s.Name
		}
	}
	name, ok := t.byID[id]
	if !ok {
		return nil, nil
	}
	st, err := t.lookup(name)
	if err != nil || st == nil || st.meta.StructureID != id {
		return nil, err
	}
	return st, nil
}

func (t *Transaction) createStore(name string, cfg StoreConfig) (*storeState, error) {
	mm := t.metaMutable()
	sm := meta.StoreMeta{
		StructureID: mm.AllocateStructureID(),
		Duplicates:  cfg.Duplicates,
		Prefixing:   cfg.Prefixing,
	}
	if err := mm.PutStore(name, sm); err != nil {
		return nil, err
	}
	tr, err := t.env.openTree(sm, logstore.NullAddress)
	if err != nil {
		return nil, err
	}
	st := &storeState{name: name, meta: sm, tree: tr, created: true}
	t.putState(st)
	return st, nil
}

func (t *Transaction) removeStore(name string) (*storeState, error) {
	st, err := t.lookup(name)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("%w: %q", ErrStoreNotFound, name)
	}
	if _, err := t.metaMutable().RemoveStore(name); err != nil {
		return nil, err
	}
	if !st.created {
		t.removed = append(t.removed, st.tree)
	}
	st.removed = true
	return st, nil
}

func (t *Transaction) truncateStore(name string) error {
	st, err := t.removeStore(name)
	if err != nil {
		return err
	}
	_, err = t.createStore(name, configOf(st.meta))
	return err
}

func (e *Environment) own(t *Transaction) error {
	if t == nil || t.env != e {
		return ErrForeignTransaction
	}
	return nil
}

// OpenStore opens the named store, creating it when it does not exist and
// cfg.UseExisting is false. Creation requires a read-write transaction.
func (e *Environment) OpenStore(name string, cfg StoreConfig, t *Transaction) (*Store, error) {
	if err := e.own(t); err != nil {
		return nil, err
	}
	if err := t.checkActive(); err != nil {
		return nil, err
	}
	st, err := t.lookup(name)
	if err != nil {
		return nil, err
	}
	if st != nil {
		if !cfg.UseExisting && (cfg.Duplicates != st.meta.Duplicates || cfg.Prefixing != st.meta.Prefixing) {
			return nil, fmt.Errorf("%w: %q has %+v", ErrStoreConfigMismatch, name, configOf(st.meta))
		}
		return &Store{env: e, name: name, config: configOf(st.meta)}, nil
	}
	if cfg.UseExisting {
		return nil, fmt.Errorf("%w: %q", ErrStoreNotFound, name)
	}
	if err := t.checkWritable(); err != nil {
		return nil, err
	}
	cfg.UseExisting = false
	if _, err := t.createStore(name, cfg); err != nil {
		return nil, err
	}
	t.record(op{kind: opCreateStore, store: name, config: cfg})
	e.logger.Debug("created store", "name", name, "duplicates", cfg.Duplicates, "prefixing", cfg.Prefixing)
	return &Store{env: e, name: name, config: cfg}, nil
}

// RemoveStore deletes the named store and all its records.
func (e *Environment) RemoveStore(name string, t *Transaction) error {
	if err := e.own(t); err != nil {
		return err
	}
	if err := t.checkWritable(); err != nil {
		return err
	}
	if _, err := t.removeStore(name); err != nil {
		return err
	}
	t.record(op{kind: opRemoveStore, store: name})
	return nil
}

// TruncateStore empties the named store. The store gets a new structure
// id.
func (e *Environment) TruncateStore(name string, t *Transaction) error {
	if err := e.own(t); err != nil {
		return err
	}
	if err := t.checkWritable(); err != nil {
		return err
	}
	if err := t.truncateStore(name); err != nil {
		return err
	}
	t.record(op{kind: opTruncateStore, store: name})
	return nil
}

// StoreExists reports whether the named store exists in t.
func (e *Environment) StoreExists(name string, t *Transaction) (bool, error) {
	if err := e.own(t); err != nil {
		return false, err
	}
	if err := t.checkActive(); err != nil {
		return false, err
	}
	st, err := t.lookup(name)
	return st != nil, err
}

// StoreNames returns the names of the stores visible in t, sorted.
func (e *Environment) StoreNames(t *Transaction) ([]string, error) {
	if err := e.own(t); err != nil {
		return nil, err
	}
	if err := t.checkActive(); err != nil {
		return nil, err
	}
	names, err := t.snapshot.StoreNames()
	if err != nil {
		return nil, e.fail(err)
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	for name, st := range t.stores {
		set[name] = !st.removed
	}
	out := make([]string, 0, len(set))
	for name, ok := range set {
		if ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Store is a handle on a named store. It is bound to its environment, not
// to a transaction, and stays valid across transactions.
type Store struct {
	env    *Environment
	name   string
	config StoreConfig
}

// Name returns the store name.
func (s *Store) Name() string { return s.name }

// Config returns the configuration the store was opened with.
func (s *Store) Config() StoreConfig { return s.config }

// Environment returns the environment owning the store.
func (s *Store) Environment() *Environment { return s.env }

func (s *Store) state(t *Transaction) (*storeState, error) {
	if err := s.env.own(t); err != nil {
		return nil, err
	}
	if err := t.checkActive(); err != nil {
		return nil, err
	}
	st, err := t.lookup(s.name)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("%w: %q", ErrStoreNotFound, s.name)
	}
	return st, nil
}

func (s *Store) writableState(t *Transaction) (tree.MutableTree, error) {
	st, err := s.state(t)
	if err != nil {
		return nil, err
	}
	if t.readOnly {
		return nil, ErrReadOnlyTransaction
	}
	return st.writable(), nil
}

// Get returns the value of key, or its smallest value in a store with
// duplicates. It returns ErrKeyNotFound when the key is absent.
func (s *Store) Get(t *Transaction, key []byte) ([]byte, error) {
	st, err := s.state(t)
	if err != nil {
		return nil, err
	}
	v, err := st.reader().Get(key)
	return v, s.env.fail(err)
}

// Exists reports whether the pair is present.
func (s *Store) Exists(t *Transaction, key, value []byte) (bool, error) {
	st, err := s.state(t)
	if err != nil {
		return false, err
	}
	ok, err := st.reader().HasPair(key, value)
	return ok, s.env.fail(err)
}

// HasKey reports whether key is present.
func (s *Store) HasKey(t *Transaction, key []byte) (bool, error) {
	st, err := s.state(t)
	if err != nil {
		return false, err
	}
	ok, err := st.reader().HasKey(key)
	return ok, s.env.fail(err)
}

// Count returns the number of pairs.
func (s *Store) Count(t *Transaction) (int64, error) {
	st, err := s.state(t)
	if err != nil {
		return 0, err
	}
	return st.reader().Size(), nil
}

// Put inserts or overwrites key; with duplicates it adds the pair. It
// reports whether the store changed.
func (s *Store) Put(t *Transaction, key, value []byte) (bool, error) {
	return s.mutate(t, op{kind: opPut, store: s.name, key: key, value: value})
}

// Add inserts the pair unless the key, or with duplicates the pair, is
// already present.
func (s *Store) Add(t *Transaction, key, value []byte) (bool, error) {
	return s.mutate(t, op{kind: opAdd, store: s.name, key: key, value: value})
}

// PutRight appends a pair that sorts after every pair of the store.
func (s *Store) PutRight(t *Transaction, key, value []byte) error {
	_, err := s.mutate(t, op{kind: opPutRight, store: s.name, key: key, value: value})
	return err
}

// Delete removes key with all its values.
func (s *Store) Delete(t *Transaction, key []byte) (bool, error) {
	return s.mutate(t, op{kind: opDelete, store: s.name, key: key})
}

// DeletePair removes one pair.
func (s *Store) DeletePair(t *Transaction, key, value []byte) (bool, error) {
	return s.mutate(t, op{kind: opDeletePair, store: s.name, key: key, value: value})
}

func (s *Store) mutate(t *Transaction, o op) (bool, error) {
	if err := t.checkWritable(); err != nil {
		return false, err
	}
	if _, err := s.writableState(t); err != nil {
		return false, err
	}
	o.key = tree.Clone(o.key)
	o.value = tree.Clone(o.value)
	changed, err := t.applyData(o)
	if err != nil {
		return false, s.env.fail(err)
	}
	if changed {
		t.record(o)
	}
	return changed, nil
}

// OpenCursor opens a cursor over the store as seen by t. Cursors of a
// read-write transaction see its own changes.
func (s *Store) OpenCursor(t *Transaction) (*Cursor, error) {
	st, err := s.state(t)
	if err != nil {
		return nil, err
	}
	var cur tree.Cursor
	if t.readOnly {
		cur = st.tree.OpenCursor()
	} else {
		cur = st.writable().OpenCursor()
	}
	return &Cursor{txn: t, store: s, dups: st.meta.Duplicates, generation: t.generation, cur: cur}, nil
}
