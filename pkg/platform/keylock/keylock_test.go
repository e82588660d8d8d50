package keylock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockSerialisesSameKey(t *testing.T) {
	l := New()
	counter := 0
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("NODE-1")
			defer unlock()
			v := counter
			v++
			counter = v
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, l.Len(), "released keys are dropped from the table")
}

func TestLockAllOverlappingSets(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var unlock func()
			if i%2 == 0 {
				unlock = l.LockAll("a", "b", "c")
			} else {
				unlock = l.LockAll("c", "b", "a", "a")
			}
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, l.Len())
}
