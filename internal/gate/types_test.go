package gate

import (
	"testing"
	"time"
)

func TestStatus_Valid(t *testing.T) {
	valid := []Status{
		StatusUnknown, StatusOpen, StatusOpening, StatusOpenTimeout,
		StatusClosed, StatusClosing, StatusClosedTimeout, StatusNotConfigured,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("Status(%q).Valid() = false, want true", s)
		}
	}
	for _, s := range []Status{"", "ajar", "OPEN"} {
		if s.Valid() {
			t.Errorf("Status(%q).Valid() = true, want false", s)
		}
	}
}

func TestStatus_Transitioning(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusOpening, true},
		{StatusClosing, true},
		{StatusOpen, false},
		{StatusClosed, false},
		{StatusOpenTimeout, false},
		{StatusClosedTimeout, false},
		{StatusUnknown, false},
		{StatusNotConfigured, false},
	}
	for _, tt := range tests {
		if got := tt.status.Transitioning(); got != tt.want {
			t.Errorf("Status(%q).Transitioning() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestDeriveDesired(t *testing.T) {
	tests := []struct {
		status Status
		want   DesiredStatus
	}{
		{StatusOpen, DesiredOpen},
		{StatusOpening, DesiredOpen},
		{StatusOpenTimeout, DesiredOpen},
		{StatusClosed, DesiredClosed},
		{StatusClosing, DesiredClosed},
		{StatusClosedTimeout, DesiredClosed},
		{StatusUnknown, DesiredNone},
		{StatusNotConfigured, DesiredNone},
		{Status("garbage"), DesiredNone},
	}
	for _, tt := range tests {
		if got := DeriveDesired(tt.status); got != tt.want {
			t.Errorf("DeriveDesired(%q) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestDevice_Key(t *testing.T) {
	d := Device{ID: "7", GatewayID: "gw-42"}
	if got := d.Key(); got != "gw-42/7" {
		t.Errorf("Key() = %q, want %q", got, "gw-42/7")
	}
}

func TestDeviceState_BatteryLow(t *testing.T) {
	level := 15
	withBattery := &DeviceState{Battery: &level}
	if !withBattery.BatteryLow(20) {
		t.Error("BatteryLow(20) = false for battery 15, want true")
	}
	if withBattery.BatteryLow(10) {
		t.Error("BatteryLow(10) = true for battery 15, want false")
	}

	noBattery := &DeviceState{}
	if noBattery.BatteryLow(100) {
		t.Error("BatteryLow() = true without a battery reading, want false")
	}
}

func TestDeviceState_Equal(t *testing.T) {
	level := 80
	otherLevel := 79
	base := func() *DeviceState {
		return &DeviceState{
			Status:     StatusClosed,
			Desired:    DesiredClosed,
			Battery:    &level,
			ObservedAt: time.Now(),
		}
	}

	tests := []struct {
		name   string
		mutate func(*DeviceState)
		want   bool
	}{
		{"identical", func(*DeviceState) {}, true},
		{"observed at differs", func(s *DeviceState) { s.ObservedAt = s.ObservedAt.Add(time.Hour) }, true},
		{"status differs", func(s *DeviceState) { s.Status = StatusOpen }, false},
		{"desired differs", func(s *DeviceState) { s.Desired = DesiredOpen }, false},
		{"fault differs", func(s *DeviceState) { s.Fault = true }, false},
		{"battery differs", func(s *DeviceState) { s.Battery = &otherLevel }, false},
		{"battery missing", func(s *DeviceState) { s.Battery = nil }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := base(), base()
			tt.mutate(b)
			if got := a.Equal(b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}

	var nilState *DeviceState
	if !nilState.Equal(nil) {
		t.Error("nil.Equal(nil) = false, want true")
	}
	if nilState.Equal(base()) {
		t.Error("nil.Equal(non-nil) = true, want false")
	}
}
