package tx

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActiveSetOrdering(t *testing.T) {
	s := NewActiveSet()
	_, ok := s.Oldest()
	assert.False(t, ok)

	now := time.Now()
	s.Add(Entry{ID: 3, Version: 5, Started: now})
	s.Add(Entry{ID: 1, Version: 7, Started: now})
	s.Add(Entry{ID: 2, Version: 5, Started: now.Add(-time.Hour)})
	assert.Equal(t, 3, s.Count())

	oldest, ok := s.Oldest()
	require.True(t, ok)
	assert.Equal(t, uint64(2), oldest.ID)
	newest, _ := s.Newest()
	assert.Equal(t, uint64(1), newest.ID)

	s.Update(Entry{ID: 2, Version: 5}, Entry{ID: 2, Version: 8, Started: now})
	oldest, _ = s.Oldest()
	assert.Equal(t, uint64(3), oldest.ID)

	var ids []uint64
	for _, e := range s.Entries() {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []uint64{3, 1, 2}, ids)

	assert.True(t, s.Remove(Entry{ID: 3, Version: 5}))
	assert.False(t, s.Remove(Entry{ID: 3, Version: 5}))
	assert.Equal(t, 2, s.Count())
}

func TestActiveSetOlderThan(t *testing.T) {
	s := NewActiveSet()
	now := time.Now()
	s.Add(Entry{ID: 1, Version: 1, Started: now.Add(-time.Minute)})
	s.Add(Entry{ID: 2, Version: 1, Started: now})
	old := s.OlderThan(now.Add(-time.Second))
	require.Len(t, old, 1)
	assert.Equal(t, uint64(1), old[0].ID)
}

func TestActiveSetConcurrent(t *testing.T) {
	s := NewActiveSet()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				e := Entry{ID: uint64(g*1000 + i), Version: uint64(i)}
				s.Add(e)
				s.Oldest()
				s.Remove(e)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 0, s.Count())
}

func TestDeferredQueue(t *testing.T) {
	q := NewDeferredQueue()
	active := NewActiveSet()
	var ran []int
	q.Add(5, func() { ran = append(ran, 5) })
	q.Add(3, func() { ran = append(ran, 3) })
	q.Add(5, func() { ran = append(ran, 51) })
	q.Add(9, func() { ran = append(ran, 9) })

	active.Add(Entry{ID: 1, Version: 4})
	assert.Equal(t, 1, q.Run(active))
	assert.Equal(t, []int{3}, ran)

	active.Update(Entry{ID: 1, Version: 4}, Entry{ID: 1, Version: 5})
	assert.Equal(t, 2, q.Run(active))
	assert.Equal(t, []int{3, 5, 51}, ran)
	assert.Equal(t, 1, q.Len())

	active.Remove(Entry{ID: 1, Version: 5})
	assert.Equal(t, 1, q.Run(active))
	assert.Equal(t, []int{3, 5, 51, 9}, ran)
	assert.Equal(t, 0, q.Run(active))
}

func TestDeferredQueueDrain(t *testing.T) {
	q := NewDeferredQueue()
	active := NewActiveSet()
	active.Add(Entry{ID: 1, Version: 0})
	count := 0
	q.Add(10, func() { count++ })
	q.Add(20, func() { count++ })
	assert.Equal(t, 0, q.Run(active))
	assert.Equal(t, 2, q.Drain())
	assert.Equal(t, 2, count)
	assert.Equal(t, 0, q.Len())
}
