package live

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClock_StartsAtZero(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current())
}

func TestClock_NextIncrements(t *testing.T) {
	c := NewClock()

	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(3), c.Next())
	assert.Equal(t, int64(3), c.Current())
}

func TestClock_CurrentDoesNotAdvance(t *testing.T) {
	c := NewClock()
	c.Next()

	assert.Equal(t, int64(1), c.Current())
	assert.Equal(t, int64(1), c.Current())
}

func TestClock_ConcurrentNextUnique(t *testing.T) {
	c := NewClock()
	const n = 1000

	var wg sync.WaitGroup
	seqs := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seqs <- c.Next()
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for seq := range seqs {
		assert.False(t, seen[seq], "seq %d generated twice", seq)
		seen[seq] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, int64(n), c.Current())
}
