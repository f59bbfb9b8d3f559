// Package api provides the local HTTP REST API and WebSocket server for
// gatesync.
//
// It exposes the discovered doors, their cached state, the command surface
// and the local state-change history to UI clients on the local network.
// All reads go through the gate service, so the caching contract (TTLs,
// single-flight, per-door locking) applies to HTTP callers exactly as it
// does to the poller and the MQTT bridge.
//
// # Routes
//
//	GET  /api/v1/health
//	GET  /api/v1/doors
//	GET  /api/v1/doors/{gatewayID}/{doorID}/state
//	PUT  /api/v1/doors/{gatewayID}/{doorID}/desired
//	GET  /api/v1/doors/{gatewayID}/{doorID}/history
//	GET  /api/v1/ws
//
// # WebSocket
//
// Clients subscribe to channels of the form "door:{gatewayID}/{doorID}".
// The first subscriber for a door attaches a poller subscription, so a door
// is only polled while someone is actually watching it; the last
// unsubscribe (or disconnect) releases it again. State changes are pushed
// as "event" messages.
//
// The server follows the same lifecycle pattern as the other components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: all methods are safe for concurrent use.
package api
