package scheduler

import "sync"

// keyLock serializes work per admission key. Admission is a read-then-write
// sequence (count or lookup, then create/transition), so two submissions for
// the same key must not interleave; submissions for different keys may.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLock() *keyLock {
	return &keyLock{
		locks: make(map[string]*sync.Mutex),
	}
}

// lock acquires the mutex for key and returns its unlock func. Mutexes are
// kept for the process lifetime; the key space (job class x owner/target) is
// small and bounded by configuration.
func (k *keyLock) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
