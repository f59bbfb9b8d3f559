package gate

import (
	"context"
	"time"
)

// State history source values.
const (
	StateHistorySourcePoll    = "poll"
	StateHistorySourceCommand = "command"
)

// StateHistoryEntry represents a single recorded door state change.
//
// Each entry stores the full observation at the time the change was seen, so
// the local audit trail is useful even when the time-series database is
// unavailable.
type StateHistoryEntry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// DoorKey is the composite door key (gateway/id) the entry belongs to.
	DoorKey string `json:"door_key"`

	// Status is the observed position at the time of the change.
	Status Status `json:"status"`

	// Desired is the target position at the time of the change.
	Desired DesiredStatus `json:"desired"`

	// Battery is the battery percentage, nil when the hardware has none.
	Battery *int `json:"battery,omitempty"`

	// Fault records whether the gateway reported a fault.
	Fault bool `json:"fault"`

	// Source identifies how the change was recorded (poll, command).
	Source string `json:"source"`

	// CreatedAt is the timestamp of the state change (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// StateHistoryRepository stores and retrieves door state change history.
//
// Implementations must be thread-safe and use UTC timestamps.
type StateHistoryRepository interface {
	// RecordStateChange records a door state change.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - doorKey: Composite door key (gateway/id)
	//   - state: Observation to persist
	//   - source: Origin of the change (poll, command)
	//
	// Returns:
	//   - error: nil on success, otherwise the underlying persistence error
	RecordStateChange(ctx context.Context, doorKey string, state DeviceState, source string) error

	// GetHistory returns recent state change history for the door.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - doorKey: Composite door key (gateway/id)
	//   - limit: Maximum entries to return (implementation may clamp bounds)
	//
	// Returns:
	//   - []StateHistoryEntry: Ordered newest-first history entries (may be empty)
	//   - error: nil on success, otherwise the underlying query error
	GetHistory(ctx context.Context, doorKey string, limit int) ([]StateHistoryEntry, error)
}
