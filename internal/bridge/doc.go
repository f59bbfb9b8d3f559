// Package bridge mirrors door state between the poller and an MQTT broker.
//
// State flows out as retained messages per door, availability flows out per
// poll cycle, and desired-state commands flow back in through a wildcard
// command subscription. The bridge owns no polling or caching of its own;
// it is a thin adapter over the poller and the gate service.
package bridge
