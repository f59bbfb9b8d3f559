// Package cache provides the keyed TTL cache and per-key mutual exclusion
// primitives that gatesync builds its state synchronisation on.
//
// # Key Types
//
//   - Cache: a generic keyed cache whose entry lifetimes are computed from
//     the cached value itself (a transitioning door caches briefly, a settled
//     door caches longer)
//   - KeyedLock: per-key mutual exclusion with context-aware acquisition,
//     used so a status poll can never interleave with a command for the
//     same door
//
// # Single-flight
//
// Cache.Wrap holds the per-key lock across the check-compute-store sequence,
// so N concurrent callers for the same key perform exactly one underlying
// computation and all observe its result. Different keys proceed
// independently.
//
// # Usage
//
//	c := cache.New[*gate.DeviceState]()
//	state, err := c.Wrap(ctx, door.Key(), fetch, func(s *gate.DeviceState) time.Duration {
//	    if s.Status.Transitioning() {
//	        return transitioningTTL
//	    }
//	    return stationaryTTL
//	})
//
// Thread Safety: all types in this package are safe for concurrent use.
package cache
