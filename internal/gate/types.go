package gate

import (
	"fmt"
	"time"
)

// Status is the observed position of a door. It is a closed enumeration:
// status-derivation logic switches exhaustively over these values so an
// unrecognised status fails loudly instead of silently defaulting.
type Status string

const (
	// StatusUnknown means the backend could not determine the position.
	StatusUnknown Status = "unknown"

	// StatusOpen means the door is fully open.
	StatusOpen Status = "open"

	// StatusOpening means the door is moving towards open.
	StatusOpening Status = "opening"

	// StatusOpenTimeout means the door stopped before reaching open.
	StatusOpenTimeout Status = "open_timeout"

	// StatusClosed means the door is fully closed.
	StatusClosed Status = "closed"

	// StatusClosing means the door is moving towards closed.
	StatusClosing Status = "closing"

	// StatusClosedTimeout means the door stopped before reaching closed.
	StatusClosedTimeout Status = "closed_timeout"

	// StatusNotConfigured means the slot exists on the gateway but has no
	// door wired to it.
	StatusNotConfigured Status = "not_configured"
)

// Valid reports whether s is a recognised status.
func (s Status) Valid() bool {
	switch s {
	case StatusUnknown, StatusOpen, StatusOpening, StatusOpenTimeout,
		StatusClosed, StatusClosing, StatusClosedTimeout, StatusNotConfigured:
		return true
	}
	return false
}

// Transitioning reports whether s represents an in-progress mechanical
// action rather than a settled position. Transitioning doors are cached
// briefly and polled more often.
func (s Status) Transitioning() bool {
	return s == StatusOpening || s == StatusClosing
}

// DesiredStatus is the target position a caller has requested, distinct
// from the last-observed actual status.
type DesiredStatus string

const (
	// DesiredOpen requests the door to open.
	DesiredOpen DesiredStatus = "open"

	// DesiredClosed requests the door to close.
	DesiredClosed DesiredStatus = "closed"

	// DesiredNone means no explicit target; the effective target is derived
	// from the current status via DeriveDesired.
	DesiredNone DesiredStatus = "none"
)

// Valid reports whether d is a recognised desired status.
func (d DesiredStatus) Valid() bool {
	switch d {
	case DesiredOpen, DesiredClosed, DesiredNone:
		return true
	}
	return false
}

// DeriveDesired maps an observed status to the desired status it implies.
// A door moving towards (or resting at) a position is presumed to want that
// position; positions the door cannot express map to DesiredNone.
//
// The switch is exhaustive over Status so a new status fails here at review
// time rather than defaulting silently.
func DeriveDesired(current Status) DesiredStatus {
	switch current {
	case StatusOpen, StatusOpening, StatusOpenTimeout:
		return DesiredOpen
	case StatusClosed, StatusClosing, StatusClosedTimeout:
		return DesiredClosed
	case StatusUnknown, StatusNotConfigured:
		return DesiredNone
	default:
		return DesiredNone
	}
}

// Device identifies a controllable door. Devices are immutable once
// discovered; rediscovery replaces them wholesale, never mutates in place.
type Device struct {
	// ID is the backend's stable identifier for the door.
	ID string `json:"id"`

	// Name is the human-readable door name from the backend. Empty when the
	// backend could not resolve it this cycle.
	Name string `json:"name"`

	// GatewayID identifies the controller unit the door belongs to.
	GatewayID string `json:"gateway_id"`

	// Slot is the door's position index on its gateway.
	Slot int `json:"slot"`

	// Shared marks doors visible through another account's share.
	Shared bool `json:"shared"`
}

// Key returns the cache/lock key for the device. Door IDs are only unique
// within a gateway on some firmware revisions, so the key is composite.
func (d Device) Key() string {
	return fmt.Sprintf("%s/%s", d.GatewayID, d.ID)
}

// DeviceState is one observation of a door's status. It is produced fresh
// on every successful fetch and copied across component boundaries; it is
// never partially updated.
type DeviceState struct {
	// Status is the observed position.
	Status Status `json:"status"`

	// Desired is the target position implied by the backend, or derived
	// from Status when the backend reports none.
	Desired DesiredStatus `json:"desired"`

	// Battery is the battery percentage, or nil when the hardware reports
	// no battery sensor (see config backend.has_battery_level).
	Battery *int `json:"battery,omitempty"`

	// Fault is set when the gateway reports a sensor or motor fault.
	Fault bool `json:"fault"`

	// ObservedAt is when this state was fetched from the backend (UTC).
	ObservedAt time.Time `json:"observed_at"`
}

// BatteryLow reports whether the state carries a battery reading at or
// below threshold.
func (s *DeviceState) BatteryLow(threshold int) bool {
	return s.Battery != nil && *s.Battery <= threshold
}

// Equal reports whether two observations describe the same door condition,
// ignoring observation time. Used to suppress duplicate history records and
// MQTT publishes.
func (s *DeviceState) Equal(o *DeviceState) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Status != o.Status || s.Desired != o.Desired || s.Fault != o.Fault {
		return false
	}
	if (s.Battery == nil) != (o.Battery == nil) {
		return false
	}
	return s.Battery == nil || *s.Battery == *o.Battery
}
