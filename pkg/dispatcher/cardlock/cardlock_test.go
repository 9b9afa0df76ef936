package cardlock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_SerializesSameKey(t *testing.T) {
	r := NewRegistry()
	var running int32
	var maxConcurrent int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := r.Lock("card-1")
			defer unlock()

			n := atomic.AddInt32(&running, 1)
			for {
				max := atomic.LoadInt32(&maxConcurrent)
				if n <= max || atomic.CompareAndSwapInt32(&maxConcurrent, max, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&running, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxConcurrent)
}

func TestRegistry_DifferentKeysRunConcurrently(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	start := make(chan struct{})
	held := make(chan struct{}, 2)
	results := make(chan bool, 2)

	for _, key := range []string{"card-a", "card-b"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			unlock := r.Lock(key)
			defer unlock()
			held <- struct{}{}
			<-start
			results <- true
		}(key)
	}
	// Both locks must be held at the same time before either is released.
	for i := 0; i < 2; i++ {
		select {
		case <-held:
		case <-time.After(time.Second):
			t.Fatal("locks on different keys were not held concurrently")
		}
	}
	close(start)
	wg.Wait()
	close(results)

	count := 0
	for range results {
		count++
	}
	assert.Equal(t, 2, count)
}

func TestRegistry_CleansUpAfterRelease(t *testing.T) {
	r := NewRegistry()
	unlock := r.Lock("card-1")
	assert.Equal(t, 1, r.Len())
	unlock()
	assert.Equal(t, 0, r.Len())
}
