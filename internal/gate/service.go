package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/halwright/gatesync/internal/cache"
)

// accountCacheKey is the cache key for the device listing; there is exactly
// one account per process.
const accountCacheKey = "account"

// Backend is the interface the service needs from the remote controller
// adapter. Implementations normalise vendor payloads into the Device and
// DeviceState shapes; nothing backend-specific leaks past this boundary.
type Backend interface {
	// ListDevices fetches all doors visible to the account.
	ListDevices(ctx context.Context) ([]Device, error)

	// ReadState fetches the current state of one door. A nil state with a
	// nil error means the door could not be resolved this cycle ("absent"),
	// which is a valid, cacheable outcome rather than an error.
	ReadState(ctx context.Context, device Device) (*DeviceState, error)

	// WriteCommand requests a state change. The boolean reports whether all
	// constituent sub-commands succeeded; an error means the command could
	// not be delivered at all.
	WriteCommand(ctx context.Context, device Device, desired DesiredStatus) (bool, error)
}

// Logger defines the logging interface used by the Service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config contains the service's cache lifetimes. Values are expected to be
// pre-clamped by the config package.
type Config struct {
	// StationaryTTL is the state cache lifetime for settled doors.
	StationaryTTL time.Duration

	// TransitioningTTL is the state cache lifetime for doors mid-movement.
	TransitioningTTL time.Duration

	// AccountTTL is the device listing cache lifetime.
	AccountTTL time.Duration
}

// Service synchronises door state between the remote backend and local
// consumers. See the package documentation for the caching contract.
type Service struct {
	backend Backend
	cfg     Config

	// locks serialises getState/setState per door key so a poll can never
	// interleave with a command for the same door.
	locks *cache.KeyedLock

	// states caches one observation per door key; devices caches the
	// account's device listing under a single key.
	states  *cache.Cache[*DeviceState]
	devices *cache.Cache[[]Device]

	// lastObserved tracks the previous state per door for change detection;
	// pendingCommand marks doors whose next observed change was caused by a
	// command we issued. Both share lastObservedMu.
	lastObserved   map[string]*DeviceState
	pendingCommand map[string]struct{}
	lastObservedMu sync.Mutex

	history HistoryRecorder
	store   DeviceRepository
	logger  Logger
}

// HistoryRecorder is the subset of StateHistoryRepository the service
// writes to.
type HistoryRecorder interface {
	RecordStateChange(ctx context.Context, doorKey string, state DeviceState, source string) error
}

// NewService creates a door-state service over the given backend.
func NewService(backend Backend, cfg Config) *Service {
	return &Service{
		backend:        backend,
		cfg:            cfg,
		locks:          cache.NewKeyedLock(),
		states:         cache.New[*DeviceState](),
		devices:        cache.New[[]Device](),
		lastObserved:   make(map[string]*DeviceState),
		pendingCommand: make(map[string]struct{}),
		logger:         noopLogger{},
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetHistory wires a state-history recorder. Recording failures are logged,
// never propagated: history is an audit trail, not a dependency.
func (s *Service) SetHistory(h HistoryRecorder) {
	s.history = h
}

// SetStore wires the persisted device cache. When set, a successful
// discovery refreshes it and a failed discovery falls back to it.
func (s *Service) SetStore(store DeviceRepository) {
	s.store = store
}

// ListDevices returns all doors visible to the account, cached with the
// account TTL.
//
// On a backend failure the persisted device cache (if wired) serves the
// last known listing uncached, so the next call retries the backend.
//
// Returns:
//   - []Device: The discovered doors
//   - error: The backend failure when no fallback listing exists
func (s *Service) ListDevices(ctx context.Context) ([]Device, error) {
	devices, err := s.devices.Wrap(ctx, accountCacheKey, func(ctx context.Context) ([]Device, error) {
		listed, err := s.backend.ListDevices(ctx)
		if err != nil {
			return nil, err
		}
		if s.store != nil {
			if storeErr := s.store.ReplaceAll(ctx, listed); storeErr != nil {
				s.logger.Warn("persisting device listing failed", "error", storeErr)
			}
		}
		return listed, nil
	}, cache.ConstantTTL[[]Device](s.cfg.AccountTTL))
	if err == nil {
		return devices, nil
	}

	if s.store != nil {
		stored, storeErr := s.store.List(ctx)
		if storeErr == nil && len(stored) > 0 {
			s.logger.Warn("discovery failed, serving persisted device listing",
				"devices", len(stored), "error", err)
			return stored, nil
		}
	}
	return nil, err
}

// FindDevice resolves a door by gateway and door identifier against the
// cached listing.
//
// Returns:
//   - Device: The matching door
//   - error: ErrDeviceNotFound when no door matches, or the listing failure
func (s *Service) FindDevice(ctx context.Context, gatewayID, doorID string) (Device, error) {
	devices, err := s.ListDevices(ctx)
	if err != nil {
		return Device{}, err
	}
	for _, d := range devices {
		if d.GatewayID == gatewayID && d.ID == doorID {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("%w: %s/%s", ErrDeviceNotFound, gatewayID, doorID)
}

// GetState returns the current state of a door.
//
// The per-door lock is held across the cache consultation and any remote
// fetch, so concurrent callers for the same door collapse into one backend
// read and commands cannot interleave. A nil state with nil error means the
// door could not be resolved this cycle; that outcome is cached like any
// other.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - device: The door to read
//
// Returns:
//   - *DeviceState: The observed state, or nil when absent
//   - error: The backend failure, propagated uncached
func (s *Service) GetState(ctx context.Context, device Device) (*DeviceState, error) {
	var state *DeviceState
	err := s.locks.WithLock(ctx, device.Key(), func(ctx context.Context) error {
		var err error
		state, err = s.states.Wrap(ctx, device.Key(), func(ctx context.Context) (*DeviceState, error) {
			fetched, err := s.backend.ReadState(ctx, device)
			if err != nil {
				return nil, err
			}
			s.recordIfChanged(ctx, device, fetched)
			return fetched, nil
		}, s.stateTTL)
		return err
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// SetState requests a door state change.
//
// The cached state entry for the door is deleted whether or not the command
// reports full success: the door's real state is unknown after any write,
// so the next read must refetch. A delivered command also marks the door so
// the next observed change is attributed to the command in the history.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - device: The door to command
//   - desired: The target status; DesiredNone derives the target from the
//     last observed status
//
// Returns:
//   - bool: Whether all constituent sub-commands reported success
//   - error: ErrInvalidDesired, or the backend failure after retries
func (s *Service) SetState(ctx context.Context, device Device, desired DesiredStatus) (bool, error) {
	if !desired.Valid() {
		return false, ErrInvalidDesired
	}
	if desired == DesiredNone {
		desired = s.deriveFromLastObserved(device)
	}

	var ok bool
	err := s.locks.WithLock(ctx, device.Key(), func(ctx context.Context) error {
		// The entry dies regardless of the command's outcome.
		defer s.states.Delete(device.Key())

		var err error
		ok, err = s.backend.WriteCommand(ctx, device, desired)
		if err == nil {
			s.markCommanded(device)
		}
		return err
	})
	if err != nil {
		return false, err
	}
	if !ok {
		s.logger.Warn("command reported partial success",
			"door", device.Key(), "desired", desired)
	}
	return ok, nil
}

// InvalidateState drops the cached state for a door, forcing the next read
// to refetch. Exposed for consumers that learn out-of-band that a door
// moved (e.g., an MQTT retained message from another instance).
func (s *Service) InvalidateState(device Device) {
	s.states.Delete(device.Key())
}

// stateTTL is the value-dependent TTL policy for door states: a door that
// is mid-movement will change soon, so its observation is only briefly
// useful. Absent doors cache with the stationary TTL.
func (s *Service) stateTTL(state *DeviceState) time.Duration {
	if state != nil && state.Status.Transitioning() {
		return s.cfg.TransitioningTTL
	}
	return s.cfg.StationaryTTL
}

// deriveFromLastObserved resolves DesiredNone against the most recent
// observation; with no observation at all the safe target is closed.
func (s *Service) deriveFromLastObserved(device Device) DesiredStatus {
	s.lastObservedMu.Lock()
	last := s.lastObserved[device.Key()]
	s.lastObservedMu.Unlock()

	if last == nil {
		return DesiredClosed
	}
	if derived := DeriveDesired(last.Status); derived != DesiredNone {
		return derived
	}
	return DesiredClosed
}

// markCommanded flags a door so its next observed state change is recorded
// with the command source rather than poll.
func (s *Service) markCommanded(device Device) {
	s.lastObservedMu.Lock()
	s.pendingCommand[device.Key()] = struct{}{}
	s.lastObservedMu.Unlock()
}

// recordIfChanged writes a history entry when the observation differs from
// the previous one for this door. nil (absent) observations update the
// change tracker but are not recorded. The first change observed after a
// delivered command is attributed to that command; the flag is consumed
// whether or not the observation actually changed, since an unchanged read
// means the command had no visible effect.
func (s *Service) recordIfChanged(ctx context.Context, device Device, state *DeviceState) {
	s.lastObservedMu.Lock()
	previous := s.lastObserved[device.Key()]
	s.lastObserved[device.Key()] = state
	source := StateHistorySourcePoll
	if _, commanded := s.pendingCommand[device.Key()]; commanded {
		source = StateHistorySourceCommand
		delete(s.pendingCommand, device.Key())
	}
	s.lastObservedMu.Unlock()

	if state == nil || state.Equal(previous) {
		return
	}
	if s.history == nil {
		return
	}
	if err := s.history.RecordStateChange(ctx, device.Key(), *state, source); err != nil {
		s.logger.Warn("recording state history failed",
			"door", device.Key(), "error", err)
	}
}
