package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/halwright/gatesync/internal/gate"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// maxParamLen bounds path and query parameters; backend identifiers are
	// short, so anything longer is not a legitimate request.
	maxParamLen = 128
)

// stateResponse is the JSON shape for a door state. Absent doors (the
// backend could not resolve them this cycle) report absent=true with no
// state fields.
type stateResponse struct {
	Door       string             `json:"door"`
	Absent     bool               `json:"absent"`
	Status     gate.Status        `json:"status,omitempty"`
	Desired    gate.DesiredStatus `json:"desired,omitempty"`
	Battery    *int               `json:"battery,omitempty"`
	BatteryLow bool               `json:"battery_low"`
	Fault      bool               `json:"fault"`
	ObservedAt *time.Time         `json:"observed_at,omitempty"`
}

// desiredRequest is the JSON shape accepted by the desired-state endpoint.
type desiredRequest struct {
	Desired string `json:"desired"`
}

// handleListDoors returns all doors visible to the account.
func (s *Server) handleListDoors(w http.ResponseWriter, r *http.Request) {
	devices, err := s.doors.ListDevices(r.Context())
	if err != nil {
		writeBadGateway(w, "device discovery failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"doors": devices,
		"count": len(devices),
	})
}

// handleGetDoorState returns the current (possibly cached) state of a door.
func (s *Server) handleGetDoorState(w http.ResponseWriter, r *http.Request) {
	device, ok := s.resolveDoor(w, r)
	if !ok {
		return
	}

	state, err := s.doors.GetState(r.Context(), device)
	if err != nil {
		writeBadGateway(w, "state fetch failed")
		return
	}

	resp := stateResponse{Door: device.Key()}
	if state == nil {
		resp.Absent = true
	} else {
		resp.Status = state.Status
		resp.Desired = state.Desired
		resp.Battery = state.Battery
		resp.BatteryLow = state.BatteryLow(s.batteryThreshold)
		resp.Fault = state.Fault
		resp.ObservedAt = &state.ObservedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSetDoorDesired requests a door state change.
//
// A desired value of "none" (or an omitted body field) lets the service
// derive the target from the last observed status.
func (s *Server) handleSetDoorDesired(w http.ResponseWriter, r *http.Request) {
	device, ok := s.resolveDoor(w, r)
	if !ok {
		return
	}

	var req desiredRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Desired == "" {
		req.Desired = string(gate.DesiredNone)
	}

	commanded, err := s.doors.SetState(r.Context(), device, gate.DesiredStatus(req.Desired))
	if err != nil {
		if errors.Is(err, gate.ErrInvalidDesired) {
			writeBadRequest(w, fmt.Sprintf("invalid desired status %q", req.Desired))
			return
		}
		writeBadGateway(w, "command delivery failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"door": device.Key(),
		"ok":   commanded,
	})
}

// handleGetDoorHistory returns recorded state changes for a door.
func (s *Server) handleGetDoorHistory(w http.ResponseWriter, r *http.Request) {
	device, ok := s.resolveDoor(w, r)
	if !ok {
		return
	}

	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "state history unavailable")
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	entries, err := s.history.GetHistory(r.Context(), device.Key(), limit)
	if err != nil {
		writeInternalError(w, "failed to load door history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"door":    device.Key(),
		"history": entries,
		"count":   len(entries),
	})
}

// resolveDoor maps the path parameters to a discovered device. On failure
// it writes the error response and returns ok=false.
func (s *Server) resolveDoor(w http.ResponseWriter, r *http.Request) (gate.Device, bool) {
	gatewayID := chi.URLParam(r, "gatewayID")
	doorID := chi.URLParam(r, "doorID")
	if gatewayID == "" || doorID == "" || len(gatewayID) > maxParamLen || len(doorID) > maxParamLen {
		writeBadRequest(w, "invalid door identifier")
		return gate.Device{}, false
	}

	device, err := s.doors.FindDevice(r.Context(), gatewayID, doorID)
	if err != nil {
		if errors.Is(err, gate.ErrDeviceNotFound) {
			writeNotFound(w, "door not found")
		} else {
			writeBadGateway(w, "device discovery failed")
		}
		return gate.Device{}, false
	}
	return device, true
}

// parseHistoryLimit parses the limit query parameter with bounds enforcement.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxHistoryLimit {
		return 0, fmt.Errorf("limit exceeds maximum")
	}

	return limit, nil
}
