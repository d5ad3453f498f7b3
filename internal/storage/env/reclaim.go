package env

import (
	"fmt"
	"sort"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/meta"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree"
)

// Reclaim hands records of a log span to the trees they belong to, which
// thaw the nodes still reachable so that the next flush copies them
// forward. Records of structures that no longer exist are skipped. The
// next flush always writes a new database root record.
func (t *Transaction) Reclaim(records []logstore.Loggable) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.forceSave = true

	groups := make(map[uint64][]logstore.Loggable)
	for _, rec := range records {
		if rec.Type == tree.TypeDatabaseRoot {
			continue
		}
		groups[rec.StructureID] = append(groups[rec.StructureID], rec)
	}
	ids := make([]uint64, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if id == meta.StructureID {
			if err := t.metaMutable().Reclaim(groups[id]); err != nil {
				return t.env.fail(fmt.Errorf("reclaim meta-tree: %w", err))
			}
			continue
		}
		st, err := t.lookupID(id)
		if err != nil {
			return err
		}
		if st == nil {
			continue
		}
		if err := st.writable().Reclaim(groups[id]); err != nil {
			return t.env.fail(fmt.Errorf("reclaim store %q: %w", st.name, err))
		}
	}
	return nil
}

// ForEachAddress calls fn for every record reachable from the pinned
// generation: the database root record, the meta-tree and every store.
func (t *Transaction) ForEachAddress(fn func(addr logstore.Address, length int64) error) error {
	if err := t.checkActive(); err != nil {
		return err
	}
	snap := t.snapshot
	if rec := snap.DatabaseRoot(); rec.Address != logstore.NullAddress {
		if err := fn(rec.Address, rec.Length); err != nil {
			return err
		}
	}
	if err := snap.Trie().ForEachAddress(fn); err != nil {
		return t.env.fail(err)
	}
	stores, err := snap.Stores()
	if err != nil {
		return t.env.fail(err)
	}
	for _, s := range stores {
		tr, err := t.env.openTree(s.Meta, s.Root)
		if err != nil {
			return t.env.fail(fmt.Errorf("open store %q: %w", s.Name, err))
		}
		if err := tr.ForEachAddress(fn); err != nil {
			return t.env.fail(fmt.Errorf("walk store %q: %w", s.Name, err))
		}
	}
	return nil
}

// Verify checks the structural invariants of every store of the pinned
// generation.
func (t *Transaction) Verify() error {
	if err := t.checkActive(); err != nil {
		return err
	}
	type verifier interface{ Verify() error }
	if err := t.snapshot.Trie().Verify(); err != nil {
		return fmt.Errorf("meta-tree: %w", err)
	}
	stores, err := t.snapshot.Stores()
	if err != nil {
		return err
	}
	for _, s := range stores {
		tr, err := t.env.openTree(s.Meta, s.Root)
		if err != nil {
			return fmt.Errorf("open store %q: %w", s.Name, err)
		}
		if v, ok := tr.(verifier); ok {
			if err := v.Verify(); err != nil {
				return fmt.Errorf("store %q: %w", s.Name, err)
			}
		}
	}
	return nil
}
