package history

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyLock_SerializesSameKey(t *testing.T) {
	locks := NewKeyLock()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(1)
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
	assert.Equal(t, 0, locks.Held())
}

func TestKeyLock_DifferentKeysRunInParallel(t *testing.T) {
	locks := NewKeyLock()

	unlockA := locks.Lock(1)
	done := make(chan struct{})
	go func() {
		unlock := locks.Lock(2)
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("key 2 blocked behind key 1")
	}
	assert.Equal(t, 1, locks.Held())
	unlockA()
	assert.Equal(t, 0, locks.Held())
}

func TestKeyLock_UnlockTwiceIsSafe(t *testing.T) {
	locks := NewKeyLock()
	unlock := locks.Lock(3)
	unlock()
	unlock()
	assert.Equal(t, 0, locks.Held())
}
