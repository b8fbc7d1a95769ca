package engine

import (
	"errors"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedLocks_SerializesSameID(t *testing.T) {
	k := newKeyedLocks()
	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(7)
			defer unlock()
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			runtime.Gosched()
			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Equal(t, 0, k.size())
}

func TestKeyedLocks_IndependentIDs(t *testing.T) {
	k := newKeyedLocks()
	unlockA := k.Lock(1)
	done := make(chan struct{})
	go func() {
		unlock := k.Lock(2)
		unlock()
		close(done)
	}()
	<-done
	assert.Equal(t, 1, k.size())
	unlockA()
	assert.Equal(t, 0, k.size())
}

func TestUndoStack_UnwindsNewestFirst(t *testing.T) {
	var order []string
	var u undoStack
	u.push("first", func() error { order = append(order, "first"); return nil })
	u.push("second", func() error { order = append(order, "second"); return errors.New("stuck") })

	err := u.unwind()
	assert.Equal(t, []string{"second", "first"}, order)
	assert.ErrorContains(t, err, "second: stuck")
}
