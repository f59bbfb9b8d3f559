// Package mqtt provides MQTT client connectivity for gatesync.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// gatesync publishes each door's observed state as a retained message, so
// home-automation consumers that connect late immediately see the current
// position without waiting for a poll tick. A command topic per door lets
// external publishers request state changes through the same broker.
//
//	gatesync ──state (retained)──▶ MQTT Broker ──▶ consumers
//	gatesync ◀──────command────── MQTT Broker ◀── publishers
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Publish a door state (retained)
//	topic := mqtt.Topics{}.DoorState("gw-1", "front-gate")
//	client.PublishRetained(topic, []byte(`{"status":"closed"}`))
//
//	// Accept commands
//	err = client.Subscribe(mqtt.Topics{}.AllDoorCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        return handleCommand(topic, payload)
//	    })
package mqtt
