package cache

import (
	"context"
	"sync"
)

// KeyedLock provides mutual exclusion per string key.
//
// For a given key, at most one function passed to WithLock executes at a
// time process-wide; concurrent callers for the same key queue and run one
// after another in roughly arrival order. Callers for different keys never
// block each other.
//
// Lock state for a key is released entirely once no caller holds or waits
// for it, so the registry does not grow with the key space.
type KeyedLock struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// keyLock is the lock state for a single key. Holding the token in slot is
// holding the lock; refs counts holders plus waiters so the entry can be
// dropped when it reaches zero.
type keyLock struct {
	slot chan struct{}
	refs int
}

// NewKeyedLock creates an empty lock registry.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: make(map[string]*keyLock)}
}

// WithLock runs fn while holding the lock for key.
//
// Acquisition respects ctx: a caller still waiting when ctx is cancelled
// gives up and returns ctx.Err() without ever holding the lock. Once fn is
// running it is not interrupted; cancellation mid-fn is fn's own concern.
//
// Parameters:
//   - ctx: Context bounding the wait for the lock
//   - key: The lock key (e.g., a door key)
//   - fn: The critical section
//
// Returns:
//   - error: ctx.Err() if acquisition was abandoned, otherwise fn's error
func (l *KeyedLock) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	kl := l.enter(key)

	select {
	case kl.slot <- struct{}{}:
	case <-ctx.Done():
		l.leave(key, kl)
		return ctx.Err()
	}

	defer func() {
		<-kl.slot
		l.leave(key, kl)
	}()

	return fn(ctx)
}

// enter registers interest in a key's lock, creating it on first use.
func (l *KeyedLock) enter(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{slot: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

// leave drops interest in a key's lock, removing it when unused.
func (l *KeyedLock) leave(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}
