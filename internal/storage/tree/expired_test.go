package tree

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
)

func TestExpiredLoggables(t *testing.T) {
	e := NewExpiredLoggables()
	e.Add(logstore.NullAddress, 10)
	e.Add(100, 20)
	e.Add(200, 30)

	assert.Equal(t, 2, e.Len())
	assert.Equal(t, int64(50), e.Size())
	assert.True(t, e.Contains(100))
	assert.False(t, e.Contains(300))

	other := NewExpiredLoggables()
	other.Add(300, 5)
	e.Merge(other)
	e.Merge(e)
	e.Merge(nil)
	assert.Equal(t, 3, e.Len())
	assert.Equal(t, 0, other.Len())

	taken := e.Take()
	assert.Len(t, taken, 3)
	assert.Equal(t, ExpiredLoggable{Address: 300, Length: 5}, taken[2])
	assert.Equal(t, 0, e.Len())
	assert.Equal(t, int64(0), e.Size())
}

func TestExpiredLoggablesConcurrent(t *testing.T) {
	e := NewExpiredLoggables()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				e.Add(logstore.Address(g*1000+i), 1)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 800, e.Len())
	e.Clear()
	assert.Equal(t, 0, e.Len())
}
