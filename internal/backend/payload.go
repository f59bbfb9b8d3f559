package backend

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/halwright/gatesync/internal/gate"
)

// The controller API has shipped several payload revisions over the years.
// Everything in this file exists to fold those revisions into the canonical
// gate.Device / gate.DeviceState shapes; no other package sees the raw
// fields.
//
// Observed variations:
//   - door listings arrive bare ([...]) or wrapped ({"doors": [...]})
//   - door identifiers under "id" or "door_id", names under "name" or
//     "door_name", gateways under "gateway_id" or "gateway"
//   - statuses as strings ("open") or numeric codes (legacy firmware)
//   - battery under "battery", "battery_level" or "batteryLevel"

// doorListEnvelope is the wrapped listing shape.
type doorListEnvelope struct {
	Doors []doorPayload `json:"doors"`
}

// doorPayload is a door entry in any listing revision.
type doorPayload struct {
	ID        string          `json:"id"`
	DoorID    string          `json:"door_id"`
	Name      string          `json:"name"`
	DoorName  string          `json:"door_name"`
	GatewayID string          `json:"gateway_id"`
	Gateway   string          `json:"gateway"`
	Slot      int             `json:"slot"`
	Shared    bool            `json:"shared"`
	Status    json.RawMessage `json:"status,omitempty"`
}

// statePayload is a state read in any revision.
type statePayload struct {
	Status       json.RawMessage `json:"status"`
	Desired      json.RawMessage `json:"desired,omitempty"`
	Battery      *int            `json:"battery,omitempty"`
	BatteryLevel *int            `json:"battery_level,omitempty"`
	BatteryCamel *int            `json:"batteryLevel,omitempty"`
	Fault        bool            `json:"fault,omitempty"`
}

// legacyStatusCodes maps numeric status codes from pre-2019 firmware.
var legacyStatusCodes = map[int]gate.Status{
	0: gate.StatusUnknown,
	1: gate.StatusOpen,
	2: gate.StatusOpening,
	3: gate.StatusOpenTimeout,
	4: gate.StatusClosed,
	5: gate.StatusClosing,
	6: gate.StatusClosedTimeout,
	7: gate.StatusNotConfigured,
}

// decodeDoorList accepts both the bare and the wrapped listing shapes.
func decodeDoorList(body []byte) ([]doorPayload, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var doors []doorPayload
		if err := json.Unmarshal(body, &doors); err != nil {
			return nil, fmt.Errorf("%w: door listing: %w", ErrMalformedPayload, err)
		}
		return doors, nil
	}

	var envelope doorListEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: door listing: %w", ErrMalformedPayload, err)
	}
	return envelope.Doors, nil
}

// normalize folds a door payload into the canonical Device shape.
func (p doorPayload) normalize() (gate.Device, error) {
	id := firstNonEmpty(p.ID, p.DoorID)
	if id == "" {
		return gate.Device{}, fmt.Errorf("%w: door entry carries no identifier", ErrMalformedPayload)
	}
	return gate.Device{
		ID:        id,
		Name:      firstNonEmpty(p.Name, p.DoorName),
		GatewayID: firstNonEmpty(p.GatewayID, p.Gateway),
		Slot:      p.Slot,
		Shared:    p.Shared,
	}, nil
}

// normalize folds a state payload into the canonical DeviceState shape.
//
// Battery readings are only meaningful when the hardware declares a sensor;
// mains-powered units on some firmware report 0 rather than omitting the
// field, so the capability flag decides, never the value.
func (p statePayload) normalize(hasBattery bool, observedAt time.Time) (*gate.DeviceState, error) {
	status, err := parseStatus(p.Status)
	if err != nil {
		return nil, err
	}

	desired := gate.DesiredNone
	if len(p.Desired) > 0 {
		var raw string
		if err := json.Unmarshal(p.Desired, &raw); err == nil && raw != "" {
			desired = gate.DesiredStatus(raw)
		}
	}
	if !desired.Valid() || desired == gate.DesiredNone {
		desired = gate.DeriveDesired(status)
	}

	state := &gate.DeviceState{
		Status:     status,
		Desired:    desired,
		Fault:      p.Fault,
		ObservedAt: observedAt,
	}
	if hasBattery {
		state.Battery = firstBattery(p.Battery, p.BatteryLevel, p.BatteryCamel)
	}
	return state, nil
}

// parseStatus accepts a status as either a string name or a legacy numeric
// code. Unrecognised values are an error, not a silent unknown: a new
// firmware status must be looked at, not papered over.
func parseStatus(raw json.RawMessage) (gate.Status, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("%w: state carries no status", ErrMalformedPayload)
	}

	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		status := gate.Status(strings.ToLower(strings.ReplaceAll(name, "-", "_")))
		if !status.Valid() {
			return "", fmt.Errorf("%w: %w: %q", ErrMalformedPayload, gate.ErrInvalidStatus, name)
		}
		return status, nil
	}

	if code, err := strconv.Atoi(strings.TrimSpace(string(raw))); err == nil {
		if status, ok := legacyStatusCodes[code]; ok {
			return status, nil
		}
		return "", fmt.Errorf("%w: %w: code %d", ErrMalformedPayload, gate.ErrInvalidStatus, code)
	}

	return "", fmt.Errorf("%w: status is neither a name nor a code: %s", ErrMalformedPayload, raw)
}

// firstNonEmpty returns the first non-empty string.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// firstBattery returns the first present battery reading.
func firstBattery(values ...*int) *int {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
