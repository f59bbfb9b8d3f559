package backend

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/halwright/gatesync/internal/gate"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    gate.Status
		wantErr bool
	}{
		{"string name", `"open"`, gate.StatusOpen, false},
		{"mixed case", `"Closing"`, gate.StatusClosing, false},
		{"hyphenated legacy name", `"open-timeout"`, gate.StatusOpenTimeout, false},
		{"numeric code closed", `4`, gate.StatusClosed, false},
		{"numeric code unknown", `0`, gate.StatusUnknown, false},
		{"numeric code not configured", `7`, gate.StatusNotConfigured, false},
		{"unrecognised name", `"ajar"`, "", true},
		{"unrecognised code", `99`, "", true},
		{"missing", ``, "", true},
		{"wrong type", `{"a":1}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseStatus(json.RawMessage(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedPayload) {
					t.Errorf("parseStatus(%s) error = %v, want ErrMalformedPayload", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseStatus(%s) error = %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("parseStatus(%s) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseStatus_UnrecognisedValuesWrapInvalidStatus(t *testing.T) {
	for _, raw := range []string{`"ajar"`, `99`} {
		_, err := parseStatus(json.RawMessage(raw))
		if !errors.Is(err, gate.ErrInvalidStatus) {
			t.Errorf("parseStatus(%s) error = %v, want ErrInvalidStatus", raw, err)
		}
		if !errors.Is(err, ErrMalformedPayload) {
			t.Errorf("parseStatus(%s) error = %v, want ErrMalformedPayload", raw, err)
		}
	}
}

func TestDecodeDoorList(t *testing.T) {
	bare := `[{"id":"1","name":"front"},{"door_id":"2","door_name":"side"}]`
	wrapped := `{"doors":[{"id":"1","name":"front"}]}`

	doors, err := decodeDoorList([]byte(bare))
	if err != nil {
		t.Fatalf("decodeDoorList(bare) error = %v", err)
	}
	if len(doors) != 2 {
		t.Fatalf("bare listing decoded %d doors, want 2", len(doors))
	}

	doors, err = decodeDoorList([]byte(wrapped))
	if err != nil {
		t.Fatalf("decodeDoorList(wrapped) error = %v", err)
	}
	if len(doors) != 1 {
		t.Fatalf("wrapped listing decoded %d doors, want 1", len(doors))
	}

	if _, err := decodeDoorList([]byte(`not json`)); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("decodeDoorList(garbage) error = %v, want ErrMalformedPayload", err)
	}
}

func TestDoorPayload_Normalize(t *testing.T) {
	current := doorPayload{ID: "1", Name: "front", GatewayID: "gw-1", Slot: 2, Shared: true}
	device, err := current.normalize()
	if err != nil {
		t.Fatalf("normalize() error = %v", err)
	}
	want := gate.Device{ID: "1", Name: "front", GatewayID: "gw-1", Slot: 2, Shared: true}
	if device != want {
		t.Errorf("normalize() = %+v, want %+v", device, want)
	}

	legacy := doorPayload{DoorID: "2", DoorName: "side", Gateway: "gw-1"}
	device, err = legacy.normalize()
	if err != nil {
		t.Fatalf("normalize(legacy) error = %v", err)
	}
	if device.ID != "2" || device.Name != "side" || device.GatewayID != "gw-1" {
		t.Errorf("legacy field aliases not folded: %+v", device)
	}

	if _, err := (doorPayload{Name: "nameless"}).normalize(); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("normalize() without identifier error = %v, want ErrMalformedPayload", err)
	}
}

func TestStatePayload_Normalize(t *testing.T) {
	now := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	battery := 55

	t.Run("explicit desired", func(t *testing.T) {
		p := statePayload{Status: json.RawMessage(`"closing"`), Desired: json.RawMessage(`"closed"`)}
		state, err := p.normalize(false, now)
		if err != nil {
			t.Fatalf("normalize() error = %v", err)
		}
		if state.Status != gate.StatusClosing || state.Desired != gate.DesiredClosed {
			t.Errorf("normalize() = %+v", state)
		}
		if !state.ObservedAt.Equal(now) {
			t.Errorf("ObservedAt = %v, want %v", state.ObservedAt, now)
		}
	})

	t.Run("desired derived when omitted", func(t *testing.T) {
		p := statePayload{Status: json.RawMessage(`"opening"`)}
		state, err := p.normalize(false, now)
		if err != nil {
			t.Fatalf("normalize() error = %v", err)
		}
		if state.Desired != gate.DesiredOpen {
			t.Errorf("Desired = %q, want derived %q", state.Desired, gate.DesiredOpen)
		}
	})

	t.Run("battery kept when hardware has sensor", func(t *testing.T) {
		p := statePayload{Status: json.RawMessage(`"closed"`), BatteryLevel: &battery}
		state, err := p.normalize(true, now)
		if err != nil {
			t.Fatalf("normalize() error = %v", err)
		}
		if state.Battery == nil || *state.Battery != battery {
			t.Errorf("Battery = %v, want %d", state.Battery, battery)
		}
	})

	t.Run("battery discarded without sensor", func(t *testing.T) {
		zero := 0
		p := statePayload{Status: json.RawMessage(`"closed"`), Battery: &zero}
		state, err := p.normalize(false, now)
		if err != nil {
			t.Fatalf("normalize() error = %v", err)
		}
		if state.Battery != nil {
			t.Errorf("Battery = %v, want nil (no sensor, 0 is mains-powered noise)", state.Battery)
		}
	})

	t.Run("fault propagates", func(t *testing.T) {
		p := statePayload{Status: json.RawMessage(`"unknown"`), Fault: true}
		state, err := p.normalize(false, now)
		if err != nil {
			t.Fatalf("normalize() error = %v", err)
		}
		if !state.Fault {
			t.Error("Fault = false, want true")
		}
	})
}
