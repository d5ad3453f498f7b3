package btree

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree/treetest"
)

func smallConfig() Config {
	return DefaultConfig().WithPageMaxSize(8).WithDupPageMaxSize(4)
}

func key(i int) []byte {
	return []byte(fmt.Sprintf("key-%05d", i))
}

func val(i int) []byte {
	return []byte(fmt.Sprintf("val-%05d", i))
}

// model mirrors a tree with duplicates as key -> set of values.
type model map[string]map[string]bool

func (m model) put(k, v []byte, dups bool) {
	if !dups || m[string(k)] == nil {
		m[string(k)] = map[string]bool{}
	}
	m[string(k)][string(v)] = true
}

func (m model) deletePair(k, v []byte) {
	vals := m[string(k)]
	delete(vals, string(v))
	if len(vals) == 0 {
		delete(m, string(k))
	}
}

func (m model) pairs() [][2]string {
	var out [][2]string
	for k, vals := range m {
		for v := range vals {
			out = append(out, [2]string{k, v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

func collect(t *testing.T, r tree.Reader) [][2]string {
	t.Helper()
	c := r.OpenCursor()
	defer c.Close()
	var out [][2]string
	for c.Next() {
		out = append(out, [2]string{string(c.Key()), string(c.Value())})
	}
	require.NoError(t, c.Err())
	return out
}

func collectBackward(t *testing.T, r tree.Reader) [][2]string {
	t.Helper()
	c := r.OpenCursor()
	defer c.Close()
	var out [][2]string
	for c.Prev() {
		out = append([][2]string{{string(c.Key()), string(c.Value())}}, out...)
	}
	require.NoError(t, c.Err())
	return out
}

func TestEmptyTree(t *testing.T) {
	log := treetest.NewMemLog()
	tr := New(log, 5, false, smallConfig())

	assert.Equal(t, logstore.NullAddress, tr.RootAddress())
	assert.Equal(t, int64(0), tr.Size())
	_, err := tr.Get([]byte("a"))
	assert.ErrorIs(t, err, tree.ErrKeyNotFound)
	assert.Empty(t, collect(t, tr))

	m := tr.Mutable()
	assert.False(t, m.Changed())
	root, err := m.Save()
	require.NoError(t, err)
	assert.Equal(t, logstore.NullAddress, root)
	assert.Equal(t, 0, log.Len())
}

func TestPutGetSaveOpen(t *testing.T) {
	log := treetest.NewMemLog()
	m := New(log, 5, false, smallConfig()).Mutable()

	perm := rand.New(rand.NewSource(7)).Perm(1000)
	for _, i := range perm {
		changed, err := m.Put(key(i), val(i))
		require.NoError(t, err)
		require.True(t, changed)
	}
	require.NoError(t, m.Verify())
	assert.Equal(t, int64(1000), m.Size())
	assert.True(t, m.Changed())

	root, err := m.Save()
	require.NoError(t, err)
	assert.False(t, m.Changed())

	tr, err := Open(log, 5, root, false, smallConfig())
	require.NoError(t, err)
	require.NoError(t, tr.Verify())
	assert.Equal(t, int64(1000), tr.Size())
	for i := 0; i < 1000; i++ {
		v, err := tr.Get(key(i))
		require.NoError(t, err)
		assert.Equal(t, val(i), v)
	}
	ok, err := tr.HasKey(key(1000))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = tr.HasPair(key(3), val(3))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = tr.HasPair(key(3), val(4))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutOverwrite(t *testing.T) {
	m := New(treetest.NewMemLog(), 5, false, smallConfig()).Mutable()

	changed, err := m.Put([]byte("a"), []byte("1"))
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = m.Put([]byte("a"), []byte("1"))
	require.NoError(t, err)
	assert.False(t, changed)
	changed, err = m.Put([]byte("a"), []byte("2"))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = m.Add([]byte("a"), []byte("3"))
	require.NoError(t, err)
	assert.False(t, changed)

	v, err := m.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)
	assert.Equal(t, int64(1), m.Size())
}

func TestOpenErrors(t *testing.T) {
	log := treetest.NewMemLog()
	m := New(log, 5, false, smallConfig()).Mutable()
	for i := 0; i < 100; i++ {
		_, err := m.Put(key(i), val(i))
		require.NoError(t, err)
	}
	root, err := m.Save()
	require.NoError(t, err)

	_, err = Open(log, 6, root, false, smallConfig())
	assert.ErrorIs(t, err, tree.ErrStructureDiffer)

	first := log.Records()[0]
	require.NotEqual(t, root, first.Address)
	_, err = Open(log, 5, first.Address, false, smallConfig())
	assert.ErrorIs(t, err, tree.ErrCorruptedNode)

	_, err = Open(log, 5, root, true, smallConfig())
	assert.NoError(t, err)
}

func TestCopyOnWrite(t *testing.T) {
	log := treetest.NewMemLog()
	m := New(log, 5, false, smallConfig()).Mutable()
	for i := 0; i < 200; i++ {
		_, err := m.Put(key(i), val(i))
		require.NoError(t, err)
	}
	_, err := m.Save()
	require.NoError(t, err)
	v1 := m.Snapshot()

	m2 := v1.Mutable()
	for i := 0; i < 200; i += 2 {
		deleted, err := m2.Delete(key(i))
		require.NoError(t, err)
		require.True(t, deleted)
	}
	_, err = m2.Put(key(1), []byte("changed"))
	require.NoError(t, err)

	// the base version is untouched before and after the save
	assert.Equal(t, int64(200), v1.Size())
	got, err := v1.Get(key(1))
	require.NoError(t, err)
	assert.Equal(t, val(1), got)

	_, err = m2.Save()
	require.NoError(t, err)
	v2 := m2.Snapshot()

	assert.Equal(t, int64(200), v1.Size())
	assert.Len(t, collect(t, v1), 200)
	require.NoError(t, v1.Verify())
	assert.Equal(t, int64(100), v2.Size())
	assert.Len(t, collect(t, v2), 100)
	require.NoError(t, v2.Verify())
	assert.True(t, m2.Expired().Contains(v1.RootAddress()))
}

func TestRandomOpsAgainstModel(t *testing.T) {
	for _, dups := range []bool{false, true} {
		t.Run(fmt.Sprintf("dups=%v", dups), func(t *testing.T) {
			log := treetest.NewMemLog()
			m := New(log, 9, dups, smallConfig()).Mutable()
			want := model{}
			rng := rand.New(rand.NewSource(42))

			for round := 0; round < 6; round++ {
				for i := 0; i < 400; i++ {
					k, v := key(rng.Intn(120)), val(rng.Intn(12))
					switch rng.Intn(4) {
					case 0:
						if dups {
							_, err := m.DeletePair(k, v)
							require.NoError(t, err)
							if want[string(k)][string(v)] {
								want.deletePair(k, v)
							}
						} else {
							_, err := m.Delete(k)
							require.NoError(t, err)
							delete(want, string(k))
						}
					default:
						_, err := m.Put(k, v)
						require.NoError(t, err)
						want.put(k, v, dups)
					}
				}
				require.NoError(t, m.Verify())
				_, err := m.Save()
				require.NoError(t, err)

				snap := m.Snapshot()
				require.NoError(t, snap.Verify())
				assert.Equal(t, want.pairs(), collect(t, snap))
				assert.Equal(t, want.pairs(), collectBackward(t, snap))
				assert.Equal(t, int64(len(want.pairs())), snap.Size())
			}
		})
	}
}

func TestDeleteToEmpty(t *testing.T) {
	log := treetest.NewMemLog()
	m := New(log, 5, false, smallConfig()).Mutable()
	rng := rand.New(rand.NewSource(3))
	for _, i := range rng.Perm(500) {
		_, err := m.Put(key(i), val(i))
		require.NoError(t, err)
	}
	_, err := m.Save()
	require.NoError(t, err)

	for n, i := range rng.Perm(500) {
		deleted, err := m.Delete(key(i))
		require.NoError(t, err)
		require.True(t, deleted)
		if n%50 == 0 {
			require.NoError(t, m.Verify())
		}
	}
	deleted, err := m.Delete(key(1))
	require.NoError(t, err)
	assert.False(t, deleted)

	root, err := m.Save()
	require.NoError(t, err)
	assert.Equal(t, logstore.NullAddress, root)
	assert.Equal(t, int64(0), m.Size())
	// every page written by the first save is gone
	assert.Equal(t, log.Len(), m.Expired().Len())
}

func TestExpiredAccounting(t *testing.T) {
	log := treetest.NewMemLog()
	m := New(log, 7, true, smallConfig()).Mutable()
	rng := rand.New(rand.NewSource(11))
	expired := map[logstore.Address]bool{}

	for round := 0; round < 5; round++ {
		for i := 0; i < 300; i++ {
			k, v := key(rng.Intn(60)), val(rng.Intn(10))
			var err error
			switch rng.Intn(5) {
			case 0:
				_, err = m.DeletePair(k, v)
			case 1:
				_, err = m.Delete(k)
			default:
				_, err = m.Put(k, v)
			}
			require.NoError(t, err)
		}
		_, err := m.Save()
		require.NoError(t, err)

		for _, e := range m.Expired().Take() {
			require.False(t, expired[e.Address], "expired twice: %d", e.Address)
			expired[e.Address] = true
		}
		reachable := map[logstore.Address]bool{}
		require.NoError(t, m.Snapshot().ForEachAddress(func(a logstore.Address, _ int64) error {
			reachable[a] = true
			return nil
		}))
		for _, rec := range log.Records() {
			require.True(t, expired[rec.Address] != reachable[rec.Address],
				"record %d expired=%v reachable=%v", rec.Address, expired[rec.Address], reachable[rec.Address])
		}
	}
}

func TestDuplicates(t *testing.T) {
	log := treetest.NewMemLog()
	m := New(log, 5, true, smallConfig()).Mutable()
	k := []byte("k")

	for i := 99; i >= 0; i-- {
		changed, err := m.Put(k, val(i))
		require.NoError(t, err)
		require.True(t, changed)
	}
	changed, err := m.Add(k, val(5))
	require.NoError(t, err)
	assert.False(t, changed)
	_, err = m.Put([]byte("j"), []byte("x"))
	require.NoError(t, err)
	require.NoError(t, m.Verify())
	assert.Equal(t, int64(101), m.Size())

	got, err := m.Get(k)
	require.NoError(t, err)
	assert.Equal(t, val(0), got)

	_, err = m.Save()
	require.NoError(t, err)
	snap := m.Snapshot()
	ok, err := snap.HasPair(k, val(42))
	require.NoError(t, err)
	assert.True(t, ok)

	c := snap.OpenCursor()
	require.True(t, c.SeekKey(k))
	assert.Equal(t, 100, c.Count())
	c.Close()

	for i := 0; i < 99; i++ {
		deleted, err := m.DeletePair(k, val(i))
		require.NoError(t, err)
		require.True(t, deleted)
	}
	require.NoError(t, m.Verify())
	assert.Equal(t, int64(2), m.Size())
	got, err = m.Get(k)
	require.NoError(t, err)
	assert.Equal(t, val(99), got)

	_, err = m.Save()
	require.NoError(t, err)
	// the sub-tree collapsed back into a plain value: only one page remains
	pages := 0
	require.NoError(t, m.Snapshot().ForEachAddress(func(logstore.Address, int64) error {
		pages++
		return nil
	}))
	assert.Equal(t, 1, pages)

	deleted, err := m.DeletePair(k, val(98))
	require.NoError(t, err)
	assert.False(t, deleted)
	deleted, err = m.Delete(k)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, int64(1), m.Size())
}

func TestPutRight(t *testing.T) {
	log := treetest.NewMemLog()
	m := New(log, 5, false, smallConfig()).Mutable()
	for i := 0; i < 1000; i++ {
		require.NoError(t, m.PutRight(key(i), val(i)))
	}
	require.NoError(t, m.Verify())

	err := m.PutRight(key(999), val(0))
	assert.True(t, errors.Is(err, tree.ErrPutRightOrder))
	err = m.PutRight(key(5), val(0))
	assert.ErrorIs(t, err, tree.ErrPutRightOrder)

	_, err = m.Save()
	require.NoError(t, err)
	leaves := 0
	require.NoError(t, m.Snapshot().ForEachAddress(func(a logstore.Address, _ int64) error {
		rec, err := log.Read(a)
		if err != nil {
			return err
		}
		if rec.Type == tree.TypeBTreeLeaf || rec.Type == tree.TypeBTreeLeafRoot {
			leaves++
		}
		return nil
	}))
	// appends fill pages to 7/8 instead of half
	assert.LessOrEqual(t, leaves, 150)
}

func TestPutRightDuplicates(t *testing.T) {
	m := New(treetest.NewMemLog(), 5, true, smallConfig()).Mutable()
	require.NoError(t, m.PutRight([]byte("a"), []byte("1")))
	require.NoError(t, m.PutRight([]byte("a"), []byte("2")))
	require.NoError(t, m.PutRight([]byte("b"), []byte("0")))
	assert.ErrorIs(t, m.PutRight([]byte("b"), []byte("0")), tree.ErrPutRightOrder)
	assert.ErrorIs(t, m.PutRight([]byte("a"), []byte("3")), tree.ErrPutRightOrder)
	assert.Equal(t, int64(3), m.Size())
}

func cursorFixture(t *testing.T) *BTree {
	t.Helper()
	m := New(treetest.NewMemLog(), 5, true, smallConfig()).Mutable()
	for _, p := range [][2]string{{"a", "1"}, {"a", "2"}, {"a", "3"}, {"b", "1"}, {"c", "1"}, {"c", "2"}} {
		_, err := m.Put([]byte(p[0]), []byte(p[1]))
		require.NoError(t, err)
	}
	_, err := m.Save()
	require.NoError(t, err)
	return m.Snapshot()
}

func at(c tree.Cursor) string {
	return string(c.Key()) + "=" + string(c.Value())
}

func TestCursorNavigation(t *testing.T) {
	tr := cursorFixture(t)
	assert.Equal(t, [][2]string{{"a", "1"}, {"a", "2"}, {"a", "3"}, {"b", "1"}, {"c", "1"}, {"c", "2"}}, collect(t, tr))

	c := tr.OpenCursor()
	defer c.Close()
	assert.Nil(t, c.Key())
	require.True(t, c.Prev())
	assert.Equal(t, "c=2", at(c))

	require.True(t, c.SeekKey([]byte("b")))
	assert.Equal(t, "b=1", at(c))
	assert.Equal(t, 1, c.Count())
	assert.False(t, c.NextDup())
	require.True(t, c.NextNoDup())
	assert.Equal(t, "c=1", at(c))
	assert.Equal(t, 2, c.Count())
	require.True(t, c.PrevNoDup())
	assert.Equal(t, "b=1", at(c))
	require.True(t, c.PrevNoDup())
	assert.Equal(t, "a=3", at(c))
	require.True(t, c.PrevDup())
	assert.Equal(t, "a=2", at(c))
	require.True(t, c.NextDup())
	assert.Equal(t, "a=3", at(c))
	assert.False(t, c.NextDup())
	assert.Equal(t, "a=3", at(c))
}

func TestCursorSeeks(t *testing.T) {
	tr := cursorFixture(t)
	c := tr.OpenCursor()
	defer c.Close()

	require.True(t, c.SeekBoth([]byte("a"), []byte("2")))
	assert.Equal(t, "a=2", at(c))
	assert.False(t, c.SeekBoth([]byte("a"), []byte("4")))
	assert.Equal(t, "a=2", at(c))
	require.True(t, c.SeekBothRange([]byte("a"), []byte("25")))
	assert.Equal(t, "a=3", at(c))
	assert.False(t, c.SeekBothRange([]byte("b"), []byte("2")))
	require.True(t, c.SeekBothRange([]byte("b"), []byte("0")))
	assert.Equal(t, "b=1", at(c))

	require.True(t, c.SeekRange([]byte("bb")))
	assert.Equal(t, "c=1", at(c))
	assert.False(t, c.SeekKey([]byte("z")))
	assert.False(t, c.SeekRange([]byte("z")))
	assert.False(t, c.SeekKey([]byte("bb")))
	assert.Equal(t, "c=1", at(c))

	require.True(t, c.SeekRange(nil))
	assert.Equal(t, "a=1", at(c))
	assert.False(t, c.Prev())
	assert.Equal(t, "a=1", at(c))
	assert.NoError(t, c.Err())
}

func TestCursorSeekAcrossLeaves(t *testing.T) {
	m := New(treetest.NewMemLog(), 5, false, smallConfig()).Mutable()
	for i := 0; i < 300; i += 2 {
		_, err := m.Put(key(i), val(i))
		require.NoError(t, err)
	}
	c := m.OpenCursor()
	defer c.Close()
	for i := 1; i < 299; i += 2 {
		require.True(t, c.SeekRange(key(i)), "seek %d", i)
		require.Equal(t, key(i+1), c.Key())
	}
	assert.False(t, c.SeekRange(key(299)))
}

func TestCursorReadOnlyDelete(t *testing.T) {
	c := cursorFixture(t).OpenCursor()
	defer c.Close()
	require.True(t, c.Next())
	_, err := c.DeleteCurrent()
	assert.ErrorIs(t, err, tree.ErrReadOnlyCursor)
}

func TestCursorDeleteCurrent(t *testing.T) {
	m := New(treetest.NewMemLog(), 5, false, smallConfig()).Mutable()
	for i := 0; i < 100; i++ {
		_, err := m.Put(key(i), val(i))
		require.NoError(t, err)
	}
	c := m.OpenCursor()
	defer c.Close()

	_, err := c.DeleteCurrent()
	assert.ErrorIs(t, err, tree.ErrNotPositioned)

	var seen []string
	for c.Next() {
		seen = append(seen, string(c.Key()))
		var i int
		_, err := fmt.Sscanf(string(c.Key()), "key-%05d", &i)
		require.NoError(t, err)
		if i%2 == 0 || i == 99 {
			deleted, err := c.DeleteCurrent()
			require.NoError(t, err)
			require.True(t, deleted)
		}
	}
	require.NoError(t, c.Err())
	assert.Len(t, seen, 100)
	require.NoError(t, m.Verify())
	assert.Equal(t, int64(49), m.Size())

	// the last pair was deleted: the cursor sits just behind it
	require.True(t, c.Prev())
	assert.Equal(t, key(97), c.Key())
}

func TestCursorDeleteCurrentDuplicates(t *testing.T) {
	m := New(treetest.NewMemLog(), 5, true, smallConfig()).Mutable()
	for i := 0; i < 20; i++ {
		_, err := m.Put([]byte("k"), val(i))
		require.NoError(t, err)
		_, err = m.Put([]byte("m"), val(i))
		require.NoError(t, err)
	}
	c := m.OpenCursor()
	defer c.Close()
	n := 0
	for c.Next() {
		n++
		if string(c.Key()) == "k" {
			_, err := c.DeleteCurrent()
			require.NoError(t, err)
		}
	}
	require.NoError(t, c.Err())
	assert.Equal(t, 40, n)
	assert.Equal(t, int64(20), m.Size())
	require.NoError(t, m.Verify())
	ok, err := m.HasKey([]byte("k"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCursorSurvivesForeignEdits(t *testing.T) {
	m := New(treetest.NewMemLog(), 5, false, smallConfig()).Mutable()
	for i := 0; i < 50; i++ {
		_, err := m.Put(key(i), val(i))
		require.NoError(t, err)
	}
	c := m.OpenCursor()
	defer c.Close()
	require.True(t, c.SeekKey(key(10)))

	for i := 0; i < 50; i++ {
		if i != 10 {
			_, err := m.Delete(key(i))
			require.NoError(t, err)
		}
	}
	_, err := m.Put(key(60), val(60))
	require.NoError(t, err)

	require.True(t, c.Next())
	assert.Equal(t, key(60), c.Key())
	require.True(t, c.Prev())
	assert.Equal(t, key(10), c.Key())
	assert.False(t, c.Prev())
}

func TestReclaimMovesLivePages(t *testing.T) {
	for _, dups := range []bool{false, true} {
		t.Run(fmt.Sprintf("dups=%v", dups), func(t *testing.T) {
			log := treetest.NewMemLog()
			m := New(log, 5, dups, smallConfig()).Mutable()
			for i := 0; i < 200; i++ {
				_, err := m.Put(key(i%40), val(i))
				require.NoError(t, err)
			}
			root1, err := m.Save()
			require.NoError(t, err)
			snap := m.Snapshot()
			before := collect(t, snap)
			old := log.Records()
			high := log.High()

			m2 := snap.Mutable()
			require.NoError(t, m2.Reclaim(old))
			assert.True(t, m2.Changed())
			root2, err := m2.Save()
			require.NoError(t, err)
			assert.NotEqual(t, root1, root2)

			moved := m2.Snapshot()
			require.NoError(t, moved.ForEachAddress(func(a logstore.Address, _ int64) error {
				assert.GreaterOrEqual(t, a, high)
				return nil
			}))
			assert.Equal(t, len(old), m2.Expired().Len())
			assert.Equal(t, before, collect(t, moved))
			require.NoError(t, moved.Verify())

			// the old records are unreachable now
			m3 := moved.Mutable()
			require.NoError(t, m3.Reclaim(old))
			assert.False(t, m3.Changed())
			assert.Equal(t, 0, m3.Expired().Len())
		})
	}
}

func TestReclaimSingleLeaf(t *testing.T) {
	log := treetest.NewMemLog()
	m := New(log, 5, false, smallConfig()).Mutable()
	for i := 0; i < 100; i++ {
		_, err := m.Put(key(i), val(i))
		require.NoError(t, err)
	}
	root, err := m.Save()
	require.NoError(t, err)

	var leaf logstore.Loggable
	for _, rec := range log.Records() {
		if rec.Type == tree.TypeBTreeLeaf {
			leaf = rec
			break
		}
	}
	require.Equal(t, tree.TypeBTreeLeaf, leaf.Type)

	m2 := m.Snapshot().Mutable()
	require.NoError(t, m2.Reclaim([]logstore.Loggable{leaf}))
	assert.True(t, m2.Expired().Contains(leaf.Address))
	assert.True(t, m2.Expired().Contains(root))
	assert.Less(t, m2.Expired().Len(), 5)
	_, err = m2.Save()
	require.NoError(t, err)
	require.NoError(t, m2.Verify())
}
