package engine

import (
	"sync"

	"github.com/roach88/voicerank/internal/model"
)

// keyLocks is a lock table scoped to SessionKey.
//
// Entries are reference counted and dropped when the last holder or waiter
// releases, so the table only holds keys with work in flight.
type keyLocks struct {
	mu    sync.Mutex
	locks map[model.SessionKey]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[model.SessionKey]*keyLock)}
}

// Lock blocks until key is held and returns the matching unlock function.
func (l *keyLocks) Lock(key model.SessionKey) (unlock func()) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()

	return func() {
		kl.mu.Unlock()

		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// Len returns the number of keys currently held or awaited.
func (l *keyLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
