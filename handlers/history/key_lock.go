package history

import "sync"

// KeyLock serializes work per user key while letting different keys proceed
// in parallel. Entries are reference counted and dropped once unused, so the
// map only holds keys with an exchange in flight.
type KeyLock struct {
	mu    sync.Mutex
	locks map[int64]*keyEntry
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyLock() *KeyLock {
	return &KeyLock{locks: make(map[int64]*keyEntry)}
}

// Lock blocks until the caller holds the key. The returned func releases it
// and must be called exactly once.
func (l *KeyLock) Lock(key int64) (unlock func()) {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &keyEntry{}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()

			l.mu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(l.locks, key)
			}
			l.mu.Unlock()
		})
	}
}

// Held returns the number of keys with a holder or waiter.
func (l *KeyLock) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
