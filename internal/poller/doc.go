// Package poller maintains subscription-driven polling loops for door
// state.
//
// Consumers subscribe to a door with a callback; the poller keeps exactly
// one polling loop per door with live subscribers and fans each observation
// out to them. The gate service underneath deduplicates the actual backend
// traffic, so many subscribers to one door still cost one remote read per
// interval.
//
// State machine per door key:
//
//	Idle ──(first subscribe)──▶ Polling ──(last unsubscribe + next tick)──▶ Idle
//
// See Poller for the timing and shutdown contract.
package poller
