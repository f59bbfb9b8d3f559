// Package gate provides the door-state domain model and synchronisation
// service for gatesync.
//
// The service is the seam between local consumers (poller, REST API, MQTT
// bridge) and the remote controller backend. It owns the caching and
// mutual-exclusion policy: per-door single-flight fetches, value-dependent
// cache lifetimes, and command-triggered invalidation.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│                            Service                              │
//	│                                                                 │
//	│  ┌───────────────┐   ┌───────────────┐   ┌──────────────────┐   │
//	│  │  KeyedLock    │   │  Cache[...]   │   │     Backend      │   │
//	│  │  per-door     │──▶│  TTL from     │──▶│  (HTTP adapter)  │   │
//	│  │  exclusion    │   │  fetched value│   │                  │   │
//	│  └───────────────┘   └───────────────┘   └──────────────────┘   │
//	│          │                                        │             │
//	└──────────│────────────────────────────────────────│─────────────┘
//	           │                                        │
//	           ▼                                        ▼
//	┌──────────────────────┐              ┌──────────────────────────┐
//	│ Poller / API / MQTT  │              │  Remote controller API   │
//	└──────────────────────┘              └──────────────────────────┘
//
// # Key Types
//
//   - Device: a discovered door (identity, name, owning gateway, slot)
//   - DeviceState: one observation of a door (status, desired, battery, fault)
//   - Status / DesiredStatus: closed enumerations with exhaustive derivation
//   - Service: ListDevices / GetState / SetState with the caching contract
//   - StateHistoryRepository / DeviceRepository: SQLite persistence
//
// # Caching Contract
//
// GetState holds the per-door lock across "check cache, else fetch, else
// cache", so concurrent pollers never trigger duplicate remote fetches and a
// read can never interleave with a command for the same door. A door that is
// opening or closing caches briefly (it will change soon); a settled door
// caches longer. SetState always deletes the cached entry so the next read
// refetches.
//
// Thread Safety: Service is safe for concurrent use.
package gate
