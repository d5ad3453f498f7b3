package patricia

import (
	"bytes"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree/treetest"
)

func TestEscapeRoundTrip(t *testing.T) {
	for _, in := range [][]byte{nil, {0}, {1}, {0, 1, 2}, []byte("plain"), {1, 1, 0, 0}} {
		esc := escape(nil, in)
		assert.NotContains(t, string(esc), "\x00")
		out, err := unescape(esc)
		require.NoError(t, err)
		assert.Equal(t, string(in), string(out))
	}
	_, err := unescape([]byte{1})
	assert.ErrorIs(t, err, tree.ErrCorruptedNode)
	_, err = unescape([]byte{1, 3})
	assert.ErrorIs(t, err, tree.ErrCorruptedNode)
}

func TestCompositeKeyOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	randBytes := func() []byte {
		b := make([]byte, rng.Intn(4))
		for i := range b {
			b[i] = byte(rng.Intn(4))
		}
		return b
	}
	type pair struct{ k, v []byte }
	pairs := make([]pair, 200)
	for i := range pairs {
		pairs[i] = pair{randBytes(), randBytes()}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if c := bytes.Compare(pairs[i].k, pairs[j].k); c != 0 {
			return c < 0
		}
		return bytes.Compare(pairs[i].v, pairs[j].v) < 0
	})
	for i := 1; i < len(pairs); i++ {
		a := compositeKey(pairs[i-1].k, pairs[i-1].v)
		b := compositeKey(pairs[i].k, pairs[i].v)
		assert.LessOrEqual(t, bytes.Compare(a, b), 0)

		key, value, err := splitComposite(b, keyLength(pairs[i].k))
		require.NoError(t, err)
		assert.Equal(t, string(pairs[i].k), string(key))
		assert.Equal(t, string(pairs[i].v), string(value))
	}
}

func dupFixture(t *testing.T) *DupMutablePatricia {
	t.Helper()
	d := WithDuplicates(New(treetest.NewMemLog(), 4)).Mutable()
	for _, p := range [][2]string{{"k", "a"}, {"k", "b"}, {"k", "a"}, {"k\x00", "z"}, {"j", "1"}, {"l", "\x01"}} {
		_, err := d.Put([]byte(p[0]), []byte(p[1]))
		require.NoError(t, err)
	}
	return d
}

func TestDuplicatesSemantics(t *testing.T) {
	d := dupFixture(t)
	assert.Equal(t, int64(5), d.Size())

	changed, err := d.Add([]byte("k"), []byte("b"))
	require.NoError(t, err)
	assert.False(t, changed)

	v, err := d.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "a", string(v))
	ok, err := d.HasPair([]byte("k"), []byte("b"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = d.HasKey([]byte("m"))
	require.NoError(t, err)
	assert.False(t, ok)

	c := d.OpenCursor()
	defer c.Close()
	require.True(t, c.SeekKey([]byte("k")))
	assert.Equal(t, 2, c.Count())
	require.True(t, c.NextDup())
	assert.Equal(t, "b", string(c.Value()))
	assert.False(t, c.NextDup())
	assert.Equal(t, "b", string(c.Value()))

	require.True(t, c.SeekKey([]byte("k")))
	require.True(t, c.NextNoDup())
	assert.Equal(t, "k\x00", string(c.Key()))
	require.True(t, c.NextNoDup())
	assert.Equal(t, "l", string(c.Key()))
	assert.Equal(t, "\x01", string(c.Value()))
	assert.False(t, c.NextNoDup())

	require.True(t, c.PrevNoDup())
	assert.Equal(t, "k\x00", string(c.Key()))
	require.True(t, c.PrevNoDup())
	assert.Equal(t, "k", string(c.Key()))
	assert.Equal(t, "b", string(c.Value()))
	require.True(t, c.PrevDup())
	assert.Equal(t, "a", string(c.Value()))
	assert.False(t, c.PrevDup())
	require.True(t, c.PrevNoDup())
	assert.Equal(t, "j", string(c.Key()))
	assert.False(t, c.PrevNoDup())
	assert.Equal(t, "j", string(c.Key()))

	require.True(t, c.SeekBothRange([]byte("k"), []byte("aa")))
	assert.Equal(t, "b", string(c.Value()))
	assert.False(t, c.SeekBothRange([]byte("k"), []byte("c")))
	require.True(t, c.SeekBoth([]byte("k"), []byte("a")))
	require.True(t, c.SeekRange([]byte("ka")))
	assert.Equal(t, "l", string(c.Key()))
	require.NoError(t, c.Err())
}

func TestDuplicatesDeleteAndSave(t *testing.T) {
	d := dupFixture(t)
	root, err := d.Save()
	require.NoError(t, err)
	assert.Equal(t, root, d.Snapshot().RootAddress())
	require.NoError(t, d.Snapshot().Verify())
	assert.Equal(t, []string{"j=1", "k=a", "k=b", "k\x00=z", "l=\x01"}, collect(t, d.Snapshot()))

	deleted, err := d.DeletePair([]byte("k"), []byte("b"))
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = d.Delete([]byte("k"))
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = d.Delete([]byte("k"))
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Equal(t, int64(3), d.Size())
	assert.Equal(t, []string{"j=1", "k\x00=z", "l=\x01"}, collect(t, d))

	require.NoError(t, d.PutRight([]byte("l"), []byte("\x02")))
	assert.ErrorIs(t, d.PutRight([]byte("l"), []byte("\x02")), tree.ErrPutRightOrder)
	assert.ErrorIs(t, d.PutRight([]byte("a"), []byte("x")), tree.ErrPutRightOrder)
}

func TestDuplicatesCursorDelete(t *testing.T) {
	d := dupFixture(t)
	c := d.OpenCursor()
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
	assert.Equal(t, 5, n)
	assert.Equal(t, int64(3), d.Size())
}
