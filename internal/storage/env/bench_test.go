package env

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

const benchKeys = 10000

func benchEnv(b *testing.B, fill int) *Environment {
	b.Helper()
	e, err := Open(b.TempDir(), DefaultOptions())
	require.NoError(b, err)
	b.Cleanup(func() { e.Close() })

	err = e.ExecuteInTransaction(func(txn *Transaction) error {
		s, err := e.OpenStore("bench", WithoutDuplicates, txn)
		if err != nil {
			return err
		}
		for i := 0; i < fill; i++ {
			if _, err := s.Put(txn, benchKey(i), []byte("value")); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(b, err)
	return e
}

func benchKey(i int) []byte { return []byte(fmt.Sprintf("key%08d", i)) }

func BenchmarkGet(b *testing.B) {
	e := benchEnv(b, benchKeys)
	txn, err := e.BeginReadonlyTransaction()
	require.NoError(b, err)
	defer txn.Abort()
	s, err := e.OpenStore("bench", UseExisting, txn)
	require.NoError(b, err)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Get(txn, benchKey(i%benchKeys)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCursorScan(b *testing.B) {
	e := benchEnv(b, benchKeys)
	txn, err := e.BeginReadonlyTransaction()
	require.NoError(b, err)
	defer txn.Abort()
	s, err := e.OpenStore("bench", UseExisting, txn)
	require.NoError(b, err)

	b.ReportAllocs()
	b.ResetTimer()
	c, err := s.OpenCursor(txn)
	require.NoError(b, err)
	for i := 0; i < b.N; i++ {
		if !c.Next() {
			c.Close()
			c, err = s.OpenCursor(txn)
			require.NoError(b, err)
		}
	}
	c.Close()
}

func BenchmarkPutCommit(b *testing.B) {
	e := benchEnv(b, 0)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		err := e.ExecuteInTransaction(func(txn *Transaction) error {
			s, err := e.OpenStore("bench", UseExisting, txn)
			if err != nil {
				return err
			}
			_, err = s.Put(txn, benchKey(i), []byte("value"))
			return err
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPutBatch(b *testing.B) {
	e := benchEnv(b, 0)
	txn, err := e.BeginTransaction()
	require.NoError(b, err)
	s, err := e.OpenStore("bench", UseExisting, txn)
	require.NoError(b, err)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Put(txn, benchKey(i), []byte("value")); err != nil {
			b.Fatal(err)
		}
		if i%1000 == 999 {
			if _, err := txn.Flush(); err != nil {
				b.Fatal(err)
			}
		}
	}
	_, err = txn.Commit()
	require.NoError(b, err)
}
