package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/halwright/gatesync/internal/gate"
	"github.com/halwright/gatesync/internal/infrastructure/mqtt"
)

// Publisher is the subset of the MQTT client the bridge publishes through.
type Publisher interface {
	PublishRetained(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Subscriber registers door-state callbacks, typically the poller.
type Subscriber interface {
	Subscribe(device gate.Device, callback func(gate.Device, *gate.DeviceState)) string
	Unsubscribe(token string)
}

// Commander submits desired-state changes, typically the gate service.
type Commander interface {
	SetState(ctx context.Context, device gate.Device, desired gate.DesiredStatus) (bool, error)
}

// Logger is the logging interface used by the Bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// statePayload is the JSON shape published to a door's state topic.
type statePayload struct {
	Status     gate.Status        `json:"status"`
	Desired    gate.DesiredStatus `json:"desired"`
	Battery    *int               `json:"battery,omitempty"`
	BatteryLow bool               `json:"battery_low"`
	Fault      bool               `json:"fault"`
	ObservedAt time.Time          `json:"observed_at"`
}

// commandPayload is the JSON shape accepted on a door's command topic.
type commandPayload struct {
	Desired string `json:"desired"`
}

// Bridge mirrors door state onto MQTT and accepts desired-state commands
// back from it.
//
// Each watched door gets a poller subscription whose observations publish
// as retained messages, so consumers that connect late immediately see the
// last known position. Unchanged observations are not republished. A
// wildcard subscription on the command topics turns inbound messages into
// SetState calls.
//
// Thread Safety: safe for concurrent use after Start.
type Bridge struct {
	publisher  Publisher
	subscriber Subscriber
	commander  Commander
	logger     Logger

	// batteryThreshold feeds the battery_low convenience field.
	batteryThreshold int

	mu      sync.Mutex
	devices map[string]gate.Device // door key -> device, for command routing
	tokens  []string
	last    map[string]*gate.DeviceState
}

// New creates a bridge over the given MQTT publisher, poller and command
// sink.
func New(publisher Publisher, subscriber Subscriber, commander Commander, batteryThreshold int) *Bridge {
	return &Bridge{
		publisher:        publisher,
		subscriber:       subscriber,
		commander:        commander,
		logger:           noopLogger{},
		batteryThreshold: batteryThreshold,
		devices:          make(map[string]gate.Device),
		last:             make(map[string]*gate.DeviceState),
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// Start watches the given doors and begins accepting commands.
//
// Parameters:
//   - ctx: Context governing inbound command execution
//   - devices: The doors to mirror onto MQTT
//
// Returns:
//   - error: The subscribe failure when the command topic cannot be attached
func (b *Bridge) Start(ctx context.Context, devices []gate.Device) error {
	b.mu.Lock()
	for _, device := range devices {
		b.devices[device.Key()] = device
		token := b.subscriber.Subscribe(device, b.publishState)
		b.tokens = append(b.tokens, token)
	}
	b.mu.Unlock()

	topic := mqtt.Topics{}.AllDoorCommands()
	if err := b.publisher.Subscribe(topic, 1, func(topic string, payload []byte) error {
		return b.handleCommand(ctx, topic, payload)
	}); err != nil {
		return fmt.Errorf("attaching command topic: %w", err)
	}

	b.logger.Debug("bridge started", "doors", len(devices))
	return nil
}

// Stop removes all poller subscriptions. Retained state messages stay on
// the broker; the system status topic tells consumers the publisher is
// gone.
func (b *Bridge) Stop() {
	b.mu.Lock()
	tokens := b.tokens
	b.tokens = nil
	b.mu.Unlock()

	for _, token := range tokens {
		b.subscriber.Unsubscribe(token)
	}
}

// publishState mirrors one observation onto the door's retained state
// topic. Publishing failures are logged and swallowed; MQTT is a mirror,
// not a dependency.
func (b *Bridge) publishState(device gate.Device, state *gate.DeviceState) {
	if state == nil {
		// Absent doors are reported on the availability topic so the
		// retained last-known state survives transient gateway reboots.
		b.publishAvailability(device, false)
		return
	}

	b.mu.Lock()
	previous := b.last[device.Key()]
	unchanged := state.Equal(previous)
	if !unchanged {
		b.last[device.Key()] = state
	}
	b.mu.Unlock()

	b.publishAvailability(device, true)
	if unchanged {
		return
	}

	payload, err := json.Marshal(statePayload{
		Status:     state.Status,
		Desired:    state.Desired,
		Battery:    state.Battery,
		BatteryLow: state.BatteryLow(b.batteryThreshold),
		Fault:      state.Fault,
		ObservedAt: state.ObservedAt,
	})
	if err != nil {
		b.logger.Error("marshalling state payload", "door", device.Key(), "error", err)
		return
	}

	topic := mqtt.Topics{}.DoorState(device.GatewayID, device.ID)
	if err := b.publisher.PublishRetained(topic, payload); err != nil {
		b.logger.Warn("publishing door state", "door", device.Key(), "error", err)
	}
}

// publishAvailability mirrors whether the door resolved this cycle.
func (b *Bridge) publishAvailability(device gate.Device, online bool) {
	payload := []byte(`"offline"`)
	if online {
		payload = []byte(`"online"`)
	}
	topic := mqtt.Topics{}.DoorAvailability(device.GatewayID, device.ID)
	if err := b.publisher.PublishRetained(topic, payload); err != nil {
		b.logger.Warn("publishing door availability", "door", device.Key(), "error", err)
	}
}

// handleCommand routes an inbound command message to the gate service.
func (b *Bridge) handleCommand(ctx context.Context, topic string, payload []byte) error {
	gatewayID, doorID, err := parseCommandTopic(topic)
	if err != nil {
		return err
	}

	b.mu.Lock()
	device, ok := b.devices[gatewayID+"/"+doorID]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("command for unknown door %s/%s", gatewayID, doorID)
	}

	var cmd commandPayload
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("parsing command payload: %w", err)
	}

	desired := gate.DesiredStatus(cmd.Desired)
	ok, err = b.commander.SetState(ctx, device, desired)
	if err != nil {
		return fmt.Errorf("executing command for %s: %w", device.Key(), err)
	}
	if !ok {
		b.logger.Warn("command reported partial success", "door", device.Key(), "desired", desired)
	}
	return nil
}

// parseCommandTopic extracts gateway and door from a command topic.
func parseCommandTopic(topic string) (gatewayID, doorID string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != mqtt.TopicPrefix || parts[1] != "command" {
		return "", "", fmt.Errorf("unexpected command topic %q", topic)
	}
	return parts[2], parts[3], nil
}
