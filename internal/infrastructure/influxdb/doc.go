// Package influxdb stores gatesync telemetry in InfluxDB v2.
//
// Two measurements are written:
//   - door_state: one point per published state change (position code,
//     battery, fault), tagged by gateway, door, status, and desired status
//   - poll: one point per poll tick (latency, success) for backend
//     reliability tracking
//
// Writes are non-blocking and batched per the config.yaml batch_size and
// flush_interval settings; batch failures surface through the SetOnError
// callback rather than as return values. All methods are safe for
// concurrent use.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteDoorState("gw-1", "front-gate", "closed", "closed", nil, false, time.Now())
package influxdb
