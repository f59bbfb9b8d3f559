package cache

import (
	"context"
	"sync"
	"time"
)

// TTLPolicy computes the lifetime of a cache entry from the value being
// stored. It runs after the value is known, so "how long is this worth
// keeping" can depend on what was fetched.
type TTLPolicy[V any] func(value V) time.Duration

// ConstantTTL returns a policy that ignores the value and always uses d.
func ConstantTTL[V any](d time.Duration) TTLPolicy[V] {
	return func(V) time.Duration { return d }
}

// entry is a stored value with its expiry instant.
type entry[V any] struct {
	value  V
	expiry time.Time
}

// Cache is a keyed TTL cache with single-flight compute-if-absent semantics.
//
// An entry is visible to readers only while now < expiry; expired entries
// are treated as absent and dropped lazily on the next read.
//
// Thread Safety: all methods are safe for concurrent use.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	flight  *KeyedLock

	// now is indirected for expiry tests.
	now func() time.Time
}

// New creates an empty cache.
func New[V any]() *Cache[V] {
	return &Cache[V]{
		entries: make(map[string]entry[V]),
		flight:  NewKeyedLock(),
		now:     time.Now,
	}
}

// Get returns the live value for key, if any.
//
// Returns:
//   - V: The cached value (zero value when absent)
//   - bool: Whether a live entry was found
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.now().Before(e.expiry) {
		// Expired entries are absent; drop eagerly so the map stays small.
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key for ttl. A non-positive ttl stores nothing:
// the value would already be expired.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expiry: c.now().Add(ttl)}
}

// Delete removes the entry for key immediately, regardless of remaining
// TTL. Used to invalidate state right after a command known to have
// changed it.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of stored entries, including any not yet reaped.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Wrap returns the live value for key if one exists; otherwise it invokes
// compute, stores the result with ttl(result), and returns it.
//
// The whole check-compute-store sequence holds the per-key flight lock, so
// concurrent Wrap calls for the same key collapse into a single compute and
// all callers receive its result. A failed compute caches nothing and the
// failure propagates to every caller that triggered or joined that flight's
// turn; queued callers retry the cache and may compute afresh.
//
// Parameters:
//   - ctx: Context for the compute function and lock acquisition
//   - key: The cache key
//   - compute: Produces the value on a cache miss; may fail
//   - ttl: Computes the entry lifetime from the produced value
//
// Returns:
//   - V: The cached or freshly computed value
//   - error: compute's error, or ctx.Err() if lock acquisition was abandoned
func (c *Cache[V]) Wrap(ctx context.Context, key string, compute func(ctx context.Context) (V, error), ttl TTLPolicy[V]) (V, error) {
	var result V
	err := c.flight.WithLock(ctx, key, func(ctx context.Context) error {
		if v, ok := c.Get(key); ok {
			result = v
			return nil
		}
		v, err := compute(ctx)
		if err != nil {
			return err
		}
		c.Set(key, v, ttl(v))
		result = v
		return nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return result, nil
}
