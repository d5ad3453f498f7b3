package meta

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree/treetest"
)

type readOnlyLog struct {
	*treetest.MemLog
}

func (readOnlyLog) Append(byte, uint64, []byte) (logstore.Loggable, error) {
	return logstore.Loggable{}, logstore.ErrReadOnly
}

func TestStructureIDs(t *testing.T) {
	assert.Equal(t, uint64(2), NextStructureID(StructureID))
	assert.Equal(t, uint64(257), NextStructureID(255))
	assert.Equal(t, uint64(513), NextStructureID(511))
	assert.False(t, ValidStructureID(StructureID))
	assert.False(t, ValidStructureID(256))
	assert.True(t, ValidStructureID(257))

	assert.Equal(t, []byte{2}, IDKey(2))
	assert.Equal(t, []byte{1, 2}, IDKey(0x0102))
	assert.Equal(t, []byte{1, 0, 0, 0, 0, 0, 0, 1}, IDKey(1<<56|1))

	id := StructureID
	for i := 0; i < 5000; i++ {
		id = NextStructureID(id)
		k := IDKey(id)
		require.NotZero(t, k[len(k)-1], "id %d", id)
	}
	assert.Equal(t, []byte("users\x00"), NameKey("users"))
}

func TestCreateEmpty(t *testing.T) {
	log := treetest.NewMemLog()
	gen, err := Create(log)
	require.NoError(t, err)
	assert.Equal(t, 1, log.Len())
	assert.Equal(t, uint64(0), gen.Version())
	assert.Equal(t, StructureID, gen.LastStructureID())
	assert.Equal(t, logstore.Address(0), gen.DatabaseRoot().Address)

	names, err := gen.StoreNames()
	require.NoError(t, err)
	assert.Empty(t, names)

	again, err := Create(log)
	require.NoError(t, err)
	assert.Equal(t, 1, log.Len())
	assert.Equal(t, gen.DatabaseRoot().Address, again.DatabaseRoot().Address)
}

func TestCreateReadOnly(t *testing.T) {
	gen, err := Create(readOnlyLog{treetest.NewMemLog()})
	require.NoError(t, err)
	assert.Equal(t, logstore.NullAddress, gen.DatabaseRoot().Address)
	assert.Equal(t, StructureID, gen.LastStructureID())
}

func TestCloneSaveReopen(t *testing.T) {
	log := treetest.NewMemLog()
	gen, err := Create(log)
	require.NoError(t, err)
	first := gen.DatabaseRoot()

	m := gen.Clone()
	assert.False(t, m.Changed())
	id := m.AllocateStructureID()
	assert.True(t, m.Changed())
	require.NoError(t, m.PutStore("users", StoreMeta{StructureID: id, Duplicates: true}))
	require.NoError(t, m.SetRoot(id, 1234))

	next, err := m.Save()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), next.Version())
	assert.True(t, m.Expired().Contains(first.Address))

	names, err := gen.StoreNames()
	require.NoError(t, err)
	assert.Empty(t, names, "base generation must not change")

	reopened, err := Create(log)
	require.NoError(t, err)
	assert.Equal(t, next.DatabaseRoot().Address, reopened.DatabaseRoot().Address)
	assert.Equal(t, id, reopened.LastStructureID())

	sm, ok, err := reopened.Store("users")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StoreMeta{StructureID: id, Duplicates: true}, sm)

	root, err := reopened.RootAddress(id)
	require.NoError(t, err)
	assert.Equal(t, logstore.Address(1234), root)

	stores, err := reopened.Stores()
	require.NoError(t, err)
	assert.Equal(t, []Store{{Name: "users", Meta: sm, Root: 1234}}, stores)
}

func TestManyStores(t *testing.T) {
	log := treetest.NewMemLog()
	gen, err := Create(log)
	require.NoError(t, err)

	m := gen.Clone()
	var want []string
	for i := 0; i < 300; i++ {
		name := fmt.Sprintf("store-%03d", i)
		id := m.AllocateStructureID()
		require.NoError(t, m.PutStore(name, StoreMeta{StructureID: id, Prefixing: i%2 == 0}))
		require.NoError(t, m.SetRoot(id, logstore.Address(i*100)))
		want = append(want, name)
	}
	gen, err = m.Save()
	require.NoError(t, err)
	require.NoError(t, gen.Trie().Verify())

	names, err := gen.StoreNames()
	require.NoError(t, err)
	assert.Equal(t, want, names)
	assert.Equal(t, uint64(302), gen.LastStructureID(), "256 is skipped")

	sm, ok, err := gen.Store("store-254")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(257), sm.StructureID)
}

func TestRemoveStoreAndNullRoot(t *testing.T) {
	log := treetest.NewMemLog()
	gen, err := Create(log)
	require.NoError(t, err)

	m := gen.Clone()
	a, b := m.AllocateStructureID(), m.AllocateStructureID()
	require.NoError(t, m.PutStore("a", StoreMeta{StructureID: a}))
	require.NoError(t, m.PutStore("b", StoreMeta{StructureID: b}))
	require.NoError(t, m.SetRoot(a, 10))
	require.NoError(t, m.SetRoot(b, 20))
	gen, err = m.Save()
	require.NoError(t, err)

	m = gen.Clone()
	ok, err := m.RemoveStore("a")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = m.RemoveStore("missing")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, m.SetRoot(b, logstore.NullAddress))
	gen, err = m.Save()
	require.NoError(t, err)

	stores, err := gen.Stores()
	require.NoError(t, err)
	assert.Equal(t, []Store{{Name: "b", Meta: StoreMeta{StructureID: b}, Root: logstore.NullAddress}}, stores)
	root, err := gen.RootAddress(a)
	require.NoError(t, err)
	assert.Equal(t, logstore.NullAddress, root)
}

func TestInvalidArguments(t *testing.T) {
	gen, err := Create(treetest.NewMemLog())
	require.NoError(t, err)
	m := gen.Clone()

	assert.ErrorIs(t, m.PutStore("", StoreMeta{StructureID: 2}), ErrInvalidStoreName)
	assert.ErrorIs(t, m.PutStore("x", StoreMeta{StructureID: 256}), ErrInvalidStructureID)
	assert.ErrorIs(t, m.SetRoot(StructureID, 5), ErrInvalidStructureID)
	_, _, err = gen.Store("")
	assert.ErrorIs(t, err, ErrInvalidStoreName)

	_, err = decodeStoreMeta([]byte{0xff, 0x00})
	assert.ErrorIs(t, err, ErrInvalidStoreMeta)
}

func TestRecoveryFallsBack(t *testing.T) {
	log := treetest.NewMemLog()
	gen, err := Create(log)
	require.NoError(t, err)

	m := gen.Clone()
	id := m.AllocateStructureID()
	require.NoError(t, m.PutStore("kept", StoreMeta{StructureID: id}))
	good, err := m.Save()
	require.NoError(t, err)

	m = good.Clone()
	require.NoError(t, m.PutStore("lost", StoreMeta{StructureID: m.AllocateStructureID()}))
	bad, err := m.Save()
	require.NoError(t, err)

	var enc tree.Encoder
	enc.Address(bad.Trie().RootAddress())
	enc.Uvarint(bad.LastStructureID())
	enc.Uvarint(0)
	log.Corrupt(bad.DatabaseRoot().Address, enc.Bytes())

	recovered, err := Create(log)
	require.NoError(t, err)
	assert.Equal(t, good.DatabaseRoot().Address, recovered.DatabaseRoot().Address)
	names, err := recovered.StoreNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, names)
}

func TestDecodeDatabaseRoot(t *testing.T) {
	rec := logstore.Loggable{Address: 100, Type: tree.TypeDatabaseRoot, Data: encodeDatabaseRoot(40, 7)}
	root, err := DecodeDatabaseRoot(rec)
	require.NoError(t, err)
	assert.Equal(t, DatabaseRoot{MetaRoot: 40, LastStructureID: 7}, root)

	wrongType := rec
	wrongType.Type = tree.TypePatriciaRoot
	_, err = DecodeDatabaseRoot(wrongType)
	assert.ErrorIs(t, err, ErrInvalidDatabaseRoot)

	trailing := rec
	trailing.Data = append(append([]byte(nil), rec.Data...), 0)
	_, err = DecodeDatabaseRoot(trailing)
	assert.ErrorIs(t, err, ErrInvalidDatabaseRoot)

	ahead := rec
	ahead.Data = encodeDatabaseRoot(100, 7)
	_, err = DecodeDatabaseRoot(ahead)
	assert.ErrorIs(t, err, ErrInvalidDatabaseRoot)

	empty := rec
	empty.Data = encodeDatabaseRoot(logstore.NullAddress, 1)
	root, err = DecodeDatabaseRoot(empty)
	require.NoError(t, err)
	assert.Equal(t, logstore.NullAddress, root.MetaRoot)
}

func TestReclaimMovesMetaTree(t *testing.T) {
	log := treetest.NewMemLog()
	gen, err := Create(log)
	require.NoError(t, err)

	m := gen.Clone()
	for i := 0; i < 20; i++ {
		id := m.AllocateStructureID()
		require.NoError(t, m.PutStore(fmt.Sprintf("s%02d", i), StoreMeta{StructureID: id}))
	}
	gen, err = m.Save()
	require.NoError(t, err)
	high := log.High()

	m = gen.Clone()
	require.NoError(t, m.Reclaim(log.Records()))
	assert.True(t, m.Changed())
	gen, err = m.Save()
	require.NoError(t, err)

	err = gen.Trie().ForEachAddress(func(addr logstore.Address, _ int64) error {
		assert.GreaterOrEqual(t, addr, high)
		return nil
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, gen.DatabaseRoot().Address, high)

	names, err := gen.StoreNames()
	require.NoError(t, err)
	assert.Len(t, names, 20)
}
