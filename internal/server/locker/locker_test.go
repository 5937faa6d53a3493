package locker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocker_MutualExclusion(t *testing.T) {
	l := New()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Lock("key")
			counter++
			l.Unlock("key")
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

func TestLocker_EntryFreedAfterRelease(t *testing.T) {
	l := New()

	for _, key := range []string{"a", "b", "c"} {
		l.Lock(key)
		l.Unlock(key)
	}

	assert.Equal(t, 0, l.Len())
}

func TestLocker_IndependentKeys(t *testing.T) {
	l := New()

	l.Lock("a")
	// A different key must not block behind "a".
	done := make(chan struct{})
	go func() {
		l.Lock("b")
		l.Unlock("b")
		close(done)
	}()
	<-done

	assert.Equal(t, 1, l.Len())
	l.Unlock("a")
	assert.Equal(t, 0, l.Len())
}
