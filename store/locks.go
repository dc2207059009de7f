package store

import (
	"hash/fnv"
	"sync"
)

const defaultStripes = 64

// KeyLocks is a fixed set of mutexes striped by key hash.
// Operations on one key are serialized; unrelated keys rarely contend.
type KeyLocks struct {
	stripes []sync.Mutex
}

// NewKeyLocks creates a lock set with n stripes (64 if n <= 0).
func NewKeyLocks(n int) *KeyLocks {
	if n <= 0 {
		n = defaultStripes
	}
	return &KeyLocks{stripes: make([]sync.Mutex, n)}
}

func (l *KeyLocks) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.stripes[h.Sum32()%uint32(len(l.stripes))]
}

// Lock acquires the lock for key.
func (l *KeyLocks) Lock(key string) { l.stripe(key).Lock() }

// Unlock releases the lock for key.
func (l *KeyLocks) Unlock(key string) { l.stripe(key).Unlock() }

// LockAll acquires every stripe in a fixed order.
func (l *KeyLocks) LockAll() {
	for i := range l.stripes {
		l.stripes[i].Lock()
	}
}

// UnlockAll releases every stripe.
func (l *KeyLocks) UnlockAll() {
	for i := len(l.stripes) - 1; i >= 0; i-- {
		l.stripes[i].Unlock()
	}
}
