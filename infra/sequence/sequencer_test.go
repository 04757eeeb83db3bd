package sequence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextContinuesFromSeed(t *testing.T) {
	s := New(41)
	assert.Equal(t, uint64(42), s.Next())
	assert.Equal(t, uint64(42), s.Current())
}

func TestAdvanceNeverRewinds(t *testing.T) {
	s := New(10)
	s.Advance(5)
	assert.Equal(t, uint64(10), s.Current())
	s.Advance(20)
	assert.Equal(t, uint64(21), s.Next())
}

func TestNextIsUniqueUnderContention(t *testing.T) {
	s := New(0)
	seen := make([]uint64, 1000)
	var wg sync.WaitGroup
	for i := range seen {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seen[i] = s.Next()
		}(i)
	}
	wg.Wait()

	uniq := make(map[uint64]struct{}, len(seen))
	for _, v := range seen {
		uniq[v] = struct{}{}
	}
	assert.Len(t, uniq, len(seen))
	assert.Equal(t, uint64(len(seen)), s.Current())
}
