package mqtt

import "fmt"

// Topic prefixes for the gatesync MQTT surface.
//
// All topics use the flat scheme: gatesync/{category}/{gateway}/{door}.
const (
	// TopicPrefix is the base for all gatesync topics.
	TopicPrefix = "gatesync"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "gatesync/system"
)

// Topics provides builders for gatesync MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DoorState("gw-1", "front-gate")
//	// Returns: "gatesync/state/gw-1/front-gate"
type Topics struct{}

// DoorState returns the retained state topic for a door.
//
// Example: gatesync/state/gw-1/front-gate
func (Topics) DoorState(gatewayID, doorID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, gatewayID, doorID)
}

// DoorCommand returns the command topic for a door. External publishers
// request a state change by writing a desired status here.
//
// Example: gatesync/command/gw-1/front-gate
func (Topics) DoorCommand(gatewayID, doorID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, gatewayID, doorID)
}

// DoorAvailability returns the availability topic for a door, set when the
// backend reports the door as absent or resolvable again.
//
// Example: gatesync/availability/gw-1/front-gate
func (Topics) DoorAvailability(gatewayID, doorID string) string {
	return fmt.Sprintf("%s/availability/%s/%s", TopicPrefix, gatewayID, doorID)
}

// SystemStatus returns the system status topic carrying the online/offline
// payloads and the LWT.
//
// Example: gatesync/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDoorCommands returns a pattern matching every door command topic.
//
// Pattern: gatesync/command/+/+
func (Topics) AllDoorCommands() string {
	return fmt.Sprintf("%s/command/+/+", TopicPrefix)
}

// AllDoorStates returns a pattern matching every door state topic.
//
// Pattern: gatesync/state/+/+
func (Topics) AllDoorStates() string {
	return fmt.Sprintf("%s/state/+/+", TopicPrefix)
}

// AllTopics returns a pattern matching all gatesync topics.
// Use with caution, this receives all traffic.
//
// Pattern: gatesync/#
func (Topics) AllTopics() string {
	return "gatesync/#"
}
