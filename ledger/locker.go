package ledger

import (
	"context"
	"sync"
)

// KeyLocker hands out one mutual-exclusion scope per user. Different users
// never contend; entries are dropped once nobody holds or waits on them.
type KeyLocker struct {
	mu    sync.Mutex
	locks map[UserID]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int // holders + waiters
}

func NewKeyLocker() *KeyLocker {
	return &KeyLocker{locks: make(map[UserID]*keyLock)}
}

// Lock blocks until the scope for key is free or ctx is done.
// The returned unlock func is safe to call more than once.
func (l *KeyLocker) Lock(ctx context.Context, key UserID) (unlock func(), err error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.sem
			l.release(key, kl)
		})
	}, nil
}

func (l *KeyLocker) release(key UserID, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// Len returns the number of keys currently held or waited on.
func (l *KeyLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
