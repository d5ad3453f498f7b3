package env

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
)

func TestDuplicateStores(t *testing.T) {
	for _, cfg := range []StoreConfig{WithDuplicates, WithDuplicatesWithPrefixing} {
		t.Run(fmt.Sprintf("prefixing=%v", cfg.Prefixing), func(t *testing.T) {
			e := openEnv(t, t.TempDir(), testOptions())
			txn := mustBegin(t, e)
			s, err := e.OpenStore("dups", cfg, txn)
			require.NoError(t, err)

			for _, kv := range [][2]string{{"k", "b"}, {"k", "a"}, {"x", "1"}} {
				changed, err := s.Put(txn, []byte(kv[0]), []byte(kv[1]))
				require.NoError(t, err)
				assert.True(t, changed)
			}
			changed, err := s.Put(txn, []byte("k"), []byte("b"))
			require.NoError(t, err)
			assert.False(t, changed, "existing pair")
			added, err := s.Add(txn, []byte("k"), []byte("c"))
			require.NoError(t, err)
			assert.True(t, added)

			n, err := s.Count(txn)
			require.NoError(t, err)
			assert.Equal(t, int64(4), n)
			v, err := s.Get(txn, []byte("k"))
			require.NoError(t, err)
			assert.Equal(t, "a", string(v))
			ok, err := s.Exists(txn, []byte("k"), []byte("c"))
			require.NoError(t, err)
			assert.True(t, ok)
			mustCommit(t, txn)

			ro := mustBegin(t, e, ReadOnly())
			defer ro.Abort()
			c, err := s.OpenCursor(ro)
			require.NoError(t, err)
			defer c.Close()
			require.True(t, c.SeekKey([]byte("k")))
			assert.Equal(t, 3, c.Count())
			assert.Equal(t, "a", string(c.Value()))
			require.True(t, c.NextDup())
			assert.Equal(t, "b", string(c.Value()))
			require.True(t, c.SeekBothRange([]byte("k"), []byte("bb")))
			assert.Equal(t, "c", string(c.Value()))
			assert.False(t, c.NextDup())
			require.True(t, c.NextNoDup())
			assert.Equal(t, "x", string(c.Key()))
			require.NoError(t, c.Err())
		})
	}
}

func TestAddAndDelete(t *testing.T) {
	e := openEnv(t, t.TempDir(), testOptions())
	txn := mustBegin(t, e)
	defer txn.Abort()
	s, err := e.OpenStore("s", WithoutDuplicatesWithPrefixing, txn)
	require.NoError(t, err)

	added, err := s.Add(txn, []byte("key"), []byte("1"))
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.Add(txn, []byte("key"), []byte("2"))
	require.NoError(t, err)
	assert.False(t, added)

	changed, err := s.Put(txn, []byte("key"), []byte("2"))
	require.NoError(t, err)
	assert.True(t, changed)
	ok, err := s.HasKey(txn, []byte("key"))
	require.NoError(t, err)
	assert.True(t, ok)

	deleted, err := s.Delete(txn, []byte("key"))
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = s.Delete(txn, []byte("key"))
	require.NoError(t, err)
	assert.False(t, deleted)
	_, err = s.Get(txn, []byte("key"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestPutRight(t *testing.T) {
	e := openEnv(t, t.TempDir(), testOptions())
	txn := mustBegin(t, e)
	defer txn.Abort()
	s, err := e.OpenStore("log", WithoutDuplicates, txn)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, s.PutRight(txn, []byte(fmt.Sprintf("%05d", i)), []byte("v")))
	}
	err = s.PutRight(txn, []byte("00050"), []byte("v"))
	assert.ErrorIs(t, err, ErrPutRightOrder)
	assert.NoError(t, e.Err(), "ordering errors are not fatal")

	n, err := s.Count(txn)
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)
}

func TestCursorSeesOwnWrites(t *testing.T) {
	e := openEnv(t, t.TempDir(), testOptions())
	putAll(t, e, "s", WithoutDuplicates, "a", "1", "c", "3")

	txn := mustBegin(t, e)
	defer txn.Abort()
	s, err := e.OpenStore("s", UseExisting, txn)
	require.NoError(t, err)
	_, err = s.Put(txn, []byte("b"), []byte("2"))
	require.NoError(t, err)

	c, err := s.OpenCursor(txn)
	require.NoError(t, err)
	defer c.Close()
	var keys []string
	for c.Next() {
		keys = append(keys, string(c.Key())+"="+string(c.Value()))
	}
	require.NoError(t, c.Err())
	assert.Equal(t, []string{"a=1", "b=2", "c=3"}, keys)

	assert.Equal(t, "c", string(c.Key()), "the cursor stays on the last pair")
	require.True(t, c.Prev())
	assert.Equal(t, "b", string(c.Key()))
	require.True(t, c.SeekRange([]byte("bb")))
	assert.Equal(t, "c", string(c.Key()))
	assert.False(t, c.SeekKey([]byte("zz")))
	assert.Equal(t, "c", string(c.Key()), "failed seek keeps position")
}

func TestStaleCursor(t *testing.T) {
	e := openEnv(t, t.TempDir(), testOptions())
	putAll(t, e, "s", WithoutDuplicates, "a", "1", "b", "2")

	txn := mustBegin(t, e)
	s, err := e.OpenStore("s", UseExisting, txn)
	require.NoError(t, err)
	c, err := s.OpenCursor(txn)
	require.NoError(t, err)
	require.True(t, c.Next())

	_, err = s.Put(txn, []byte("c"), []byte("3"))
	require.NoError(t, err)
	mustCommit(t, txn)

	assert.False(t, c.Next())
	assert.ErrorIs(t, c.Err(), ErrStaleCursor)
	assert.Nil(t, c.Key())
	_, err = c.DeleteCurrent()
	assert.ErrorIs(t, err, ErrStaleCursor)
	c.Close()
}

func TestCursorDeleteCurrentReplays(t *testing.T) {
	e := openEnv(t, t.TempDir(), testOptions())
	putAll(t, e, "s", WithoutDuplicates, "a", "1", "b", "2", "c", "3")

	txn := mustBegin(t, e)
	s, err := e.OpenStore("s", UseExisting, txn)
	require.NoError(t, err)
	c, err := s.OpenCursor(txn)
	require.NoError(t, err)
	require.True(t, c.SeekKey([]byte("b")))
	deleted, err := c.DeleteCurrent()
	require.NoError(t, err)
	assert.True(t, deleted)
	require.True(t, c.Next())
	assert.Equal(t, "c", string(c.Key()))
	c.Close()

	putAll(t, e, "s", WithoutDuplicates, "d", "4")
	ok, err := txn.Flush()
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, txn.Revert())
	mustCommit(t, txn)

	ro := mustBegin(t, e, ReadOnly())
	defer ro.Abort()
	assert.Equal(t, "", get(t, e, ro, "s", "b"))
	assert.Equal(t, "4", get(t, e, ro, "s", "d"))
	n, err := s.Count(ro)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestRemoveStore(t *testing.T) {
	e := openEnv(t, t.TempDir(), testOptions())
	putAll(t, e, "gone", WithoutDuplicates, "a", "1")
	putAll(t, e, "kept", WithDuplicates, "a", "1")
	expiredBefore := e.Stats().ExpiredRecords

	txn := mustBegin(t, e)
	require.NoError(t, e.RemoveStore("gone", txn))
	exists, err := e.StoreExists("gone", txn)
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = e.OpenStore("gone", UseExisting, txn)
	assert.ErrorIs(t, err, ErrStoreNotFound)
	assert.ErrorIs(t, e.RemoveStore("gone", txn), ErrStoreNotFound)
	mustCommit(t, txn)
	assert.Greater(t, e.Stats().ExpiredRecords, expiredBefore)

	ro := mustBegin(t, e, ReadOnly())
	defer ro.Abort()
	names, err := e.StoreNames(ro)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, names)
}

func TestTruncateStore(t *testing.T) {
	e := openEnv(t, t.TempDir(), testOptions())
	putAll(t, e, "s", WithDuplicatesWithPrefixing, "a", "1", "a", "2", "b", "3")
	before, ok, err := e.Snapshot().Store("s")
	require.NoError(t, err)
	require.True(t, ok)

	txn := mustBegin(t, e)
	require.NoError(t, e.TruncateStore("s", txn))
	s, err := e.OpenStore("s", WithDuplicatesWithPrefixing, txn)
	require.NoError(t, err)
	n, err := s.Count(txn)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = s.Put(txn, []byte("z"), []byte("9"))
	require.NoError(t, err)
	mustCommit(t, txn)

	after, ok, err := e.Snapshot().Store("s")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, before.StructureID, after.StructureID)
	assert.True(t, after.Duplicates)
	assert.True(t, after.Prefixing)

	ro := mustBegin(t, e, ReadOnly())
	defer ro.Abort()
	assert.Equal(t, "", get(t, e, ro, "s", "a"))
	assert.Equal(t, "9", get(t, e, ro, "s", "z"))
}

func TestStoreConfigMismatch(t *testing.T) {
	e := openEnv(t, t.TempDir(), testOptions())
	putAll(t, e, "s", WithDuplicates, "a", "1")

	txn := mustBegin(t, e)
	defer txn.Abort()
	_, err := e.OpenStore("s", WithoutDuplicates, txn)
	assert.ErrorIs(t, err, ErrStoreConfigMismatch)
	_, err = e.OpenStore("s", WithDuplicatesWithPrefixing, txn)
	assert.ErrorIs(t, err, ErrStoreConfigMismatch)
	s, err := e.OpenStore("s", UseExisting, txn)
	require.NoError(t, err)
	assert.Equal(t, WithDuplicates, s.Config())
}

func TestReclaimMovesLiveRecords(t *testing.T) {
	opts := testOptions().WithLog(logstore.DefaultOptions().WithFileSize(64 * 1024).WithCompressionThreshold(0))
	e := openEnv(t, t.TempDir(), opts)
	value := strings.Repeat("v", 200)
	for _, cfg := range []StoreConfig{WithoutDuplicates, WithDuplicatesWithPrefixing} {
		name := fmt.Sprintf("s-%v", cfg.Prefixing)
		err := e.ExecuteInTransaction(func(txn *Transaction) error {
			s, err := e.OpenStore(name, cfg, txn)
			if err != nil {
				return err
			}
			for i := 0; i < 400; i++ {
				if _, err := s.Put(txn, []byte(fmt.Sprintf("key-%04d", i)), []byte(value)); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)
	}
	log := e.Log()
	files := log.Files()
	require.Greater(t, len(files), 2)
	first := files[0]

	var records []logstore.Loggable
	it := log.FileIterator(first)
	for it.Next() {
		records = append(records, it.Loggable())
	}
	require.NoError(t, it.Err())
	require.NotEmpty(t, records)

	txn := mustBegin(t, e, Exclusive())
	require.NoError(t, txn.Reclaim(records))
	assert.False(t, txn.IsIdempotent())
	mustCommit(t, txn)

	ro := mustBegin(t, e, ReadOnly())
	defer ro.Abort()
	err := ro.ForEachAddress(func(addr logstore.Address, _ int64) error {
		assert.NotEqual(t, first, log.FileAddress(addr), "record %d still lives in the first file", addr)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, ro.Verify())
	for _, cfg := range []StoreConfig{WithoutDuplicates, WithDuplicatesWithPrefixing} {
		s, err := e.OpenStore(fmt.Sprintf("s-%v", cfg.Prefixing), UseExisting, ro)
		require.NoError(t, err)
		n, err := s.Count(ro)
		require.NoError(t, err)
		assert.Equal(t, int64(400), n)
	}
}
