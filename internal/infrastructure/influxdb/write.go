package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// statusCodes maps door status names to numeric codes so dashboards can
// graph position over time. Codes are stable; new statuses append.
var statusCodes = map[string]int{
	"unknown":        0,
	"open":           1,
	"opening":        2,
	"open_timeout":   3,
	"closed":         4,
	"closing":        5,
	"closed_timeout": 6,
	"not_configured": 7,
}

// WriteDoorState writes one door observation to InfluxDB.
//
// This is the primary telemetry write, recorded once per published state
// change. The write is non-blocking; data is batched and sent
// asynchronously.
//
// Parameters:
//   - gatewayID: The owning gateway
//   - doorID: The door identifier
//   - status: Canonical status name (e.g., "closed", "opening")
//   - desired: Canonical desired-status name
//   - battery: Battery percentage, or nil when the hardware has none
//   - fault: Whether the gateway reported a fault
//   - observedAt: When the state was fetched from the backend
//
// Example:
//
//	client.WriteDoorState("gw-1", "front-gate", "closing", "closed", &battery, false, time.Now())
func (c *Client) WriteDoorState(gatewayID, doorID, status, desired string, battery *int, fault bool, observedAt time.Time) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"status_code": statusCodes[status],
		"fault":       fault,
	}
	if battery != nil {
		fields["battery"] = *battery
	}

	point := write.NewPoint(
		"door_state",
		map[string]string{
			"gateway_id": gatewayID,
			"door_id":    doorID,
			"status":     status,
			"desired":    desired,
		},
		fields,
		observedAt,
	)

	c.writer.WritePoint(point)
}

// WritePollMetric records the outcome of one poll tick.
//
// Used for tracking backend reliability: success rate and fetch latency
// per door.
//
// Parameters:
//   - doorKey: Composite door key (gateway/id)
//   - durationMs: Poll round-trip time in milliseconds
//   - success: Whether the poll produced a state
func (c *Client) WritePollMetric(doorKey string, durationMs float64, success bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"poll",
		map[string]string{
			"door": doorKey,
		},
		map[string]interface{}{
			"duration_ms": durationMs,
			"success":     success,
		},
		time.Now(),
	)

	c.writer.WritePoint(point)
}
