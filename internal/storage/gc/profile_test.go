package gc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree"
)

func TestUtilization(t *testing.T) {
	tests := []struct {
		length, expired int64
		want            int
	}{
		{0, 0, 100},
		{logstore.FileHeaderSize, 0, 100},
		{logstore.FileHeaderSize + 100, 0, 100},
		{logstore.FileHeaderSize + 100, 25, 75},
		{logstore.FileHeaderSize + 100, 100, 0},
		{logstore.FileHeaderSize + 100, 150, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, utilization(tt.length, tt.expired), "length %d expired %d", tt.length, tt.expired)
	}
}

func TestProfileFetch(t *testing.T) {
	log, err := logstore.Open(t.TempDir(), logstore.DefaultOptions().WithFileSize(4096))
	require.NoError(t, err)
	defer log.Close()

	var recs []logstore.Loggable
	log.BeginWrite()
	for i := 0; i < 20; i++ {
		rec, err := log.Append(tree.TypeDatabaseRoot, 1, make([]byte, 400))
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	require.NoError(t, log.EndWrite())
	require.Greater(t, len(log.Files()), 1)

	p := NewUtilizationProfile(log)
	first := log.Files()[0]
	var expired []tree.ExpiredLoggable
	var size int64
	for _, rec := range recs {
		if log.FileAddress(rec.Address) == first {
			expired = append(expired, tree.ExpiredLoggable{Address: rec.Address, Length: rec.Length})
			size += rec.Length
		}
	}
	p.Fetch(expired)
	assert.Equal(t, size, p.Expired(first))
	assert.Less(t, p.Utilization(first), 10)

	files := p.Files()
	require.Len(t, files, len(log.Files()))
	assert.Equal(t, first, files[0].File)
	assert.Equal(t, size, files[0].Expired)
	assert.Equal(t, 100, files[1].Utilization)

	p.RemoveFile(first)
	assert.Zero(t, p.Expired(first))
}

func TestComputeFromScratch(t *testing.T) {
	e := newTestEnv(t, t.TempDir())
	writeRounds(t, e, 10)

	incremental := newTestCollector(t, e, testCollectorOptions())
	assert.Zero(t, incremental.Profile().Expired(e.Log().Files()[0]), "not attached while writing")

	p := NewUtilizationProfile(e.Log())
	require.NoError(t, p.ComputeFromScratch(context.Background(), e, 0.001))
	files := p.Files()
	require.Greater(t, len(files), 2)
	assert.Less(t, files[0].Utilization, 50)
	newest := files[len(files)-1]
	assert.Greater(t, newest.Utilization, files[0].Utilization)

	c := newTestCollector(t, e, testCollectorOptions().WithUtilizationFromScratch(true, 0.001))
	assert.Equal(t, files[0].Expired, c.Profile().Expired(files[0].File))
	require.NoError(t, c.Clean(context.Background()))
	assert.NotContains(t, e.Log().Files(), files[0].File)
}
