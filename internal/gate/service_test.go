package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeBackend is a controllable Backend for service tests.
type fakeBackend struct {
	listCalls  atomic.Int64
	readCalls  atomic.Int64
	writeCalls atomic.Int64

	mu         sync.Mutex
	devices    []Device
	listErr    error
	state      *DeviceState
	readErr    error
	writeOK    bool
	writeErr   error
	lastWrite  DesiredStatus
	readGate   chan struct{} // when set, ReadState blocks until closed
	readActive chan struct{} // when set, signalled once a read is in flight
}

func (f *fakeBackend) ListDevices(context.Context) ([]Device, error) {
	f.listCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices, f.listErr
}

func (f *fakeBackend) ReadState(context.Context, Device) (*DeviceState, error) {
	f.readCalls.Add(1)
	f.mu.Lock()
	block, active := f.readGate, f.readActive
	f.mu.Unlock()
	if active != nil {
		select {
		case active <- struct{}{}:
		default:
		}
	}
	if block != nil {
		<-block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.readErr
}

func (f *fakeBackend) WriteCommand(_ context.Context, _ Device, desired DesiredStatus) (bool, error) {
	f.writeCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastWrite = desired
	return f.writeOK, f.writeErr
}

func (f *fakeBackend) setState(s *DeviceState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
}

func testConfig() Config {
	return Config{
		StationaryTTL:    time.Hour,
		TransitioningTTL: 20 * time.Millisecond,
		AccountTTL:       time.Hour,
	}
}

func closedState() *DeviceState {
	return &DeviceState{Status: StatusClosed, Desired: DesiredClosed, ObservedAt: time.Now().UTC()}
}

var testDoor = Device{ID: "1", Name: "front gate", GatewayID: "gw-1", Slot: 0}

func TestService_GetState_CachesStationary(t *testing.T) {
	backend := &fakeBackend{state: closedState(), writeOK: true}
	svc := NewService(backend, testConfig())

	for range 3 {
		state, err := svc.GetState(context.Background(), testDoor)
		if err != nil {
			t.Fatalf("GetState() error = %v", err)
		}
		if state == nil || state.Status != StatusClosed {
			t.Fatalf("GetState() = %+v, want closed state", state)
		}
	}

	if got := backend.readCalls.Load(); got != 1 {
		t.Errorf("backend reads = %d, want 1 (settled state should be cached)", got)
	}
}

func TestService_GetState_TransitioningExpiresQuickly(t *testing.T) {
	backend := &fakeBackend{
		state: &DeviceState{Status: StatusOpening, Desired: DesiredOpen},
	}
	svc := NewService(backend, testConfig())

	if _, err := svc.GetState(context.Background(), testDoor); err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if _, err := svc.GetState(context.Background(), testDoor); err != nil {
		t.Fatalf("GetState() error = %v", err)
	}

	if got := backend.readCalls.Load(); got != 2 {
		t.Errorf("backend reads = %d, want 2 (transitioning state must expire fast)", got)
	}
}

func TestService_GetState_AbsentIsCached(t *testing.T) {
	backend := &fakeBackend{state: nil}
	svc := NewService(backend, testConfig())

	state, err := svc.GetState(context.Background(), testDoor)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state != nil {
		t.Fatalf("GetState() = %+v, want nil (absent)", state)
	}

	if _, err := svc.GetState(context.Background(), testDoor); err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if got := backend.readCalls.Load(); got != 1 {
		t.Errorf("backend reads = %d, want 1 (absent outcome should be cached)", got)
	}
}

func TestService_GetState_ErrorNotCached(t *testing.T) {
	backend := &fakeBackend{readErr: errors.New("backend down")}
	svc := NewService(backend, testConfig())

	if _, err := svc.GetState(context.Background(), testDoor); err == nil {
		t.Fatal("GetState() error = nil, want backend error")
	}

	backend.mu.Lock()
	backend.readErr = nil
	backend.state = closedState()
	backend.mu.Unlock()

	state, err := svc.GetState(context.Background(), testDoor)
	if err != nil {
		t.Fatalf("GetState() after recovery error = %v", err)
	}
	if state == nil {
		t.Fatal("GetState() after recovery = nil, want state")
	}
	if got := backend.readCalls.Load(); got != 2 {
		t.Errorf("backend reads = %d, want 2 (errors must not cache)", got)
	}
}

func TestService_GetState_SingleFlight(t *testing.T) {
	block := make(chan struct{})
	active := make(chan struct{}, 1)
	backend := &fakeBackend{state: closedState(), readGate: block, readActive: active}
	svc := NewService(backend, testConfig())

	const callers = 6
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.GetState(context.Background(), testDoor); err != nil {
				t.Errorf("GetState() error = %v", err)
			}
		}()
	}

	// Wait until one fetch is in flight, give the rest time to queue, then
	// release. Exactly one backend read should have served everyone.
	<-active
	time.Sleep(20 * time.Millisecond)
	close(block)
	wg.Wait()

	if got := backend.readCalls.Load(); got != 1 {
		t.Errorf("backend reads = %d, want 1 (concurrent reads must collapse)", got)
	}
}

func TestService_SetState_InvalidatesCache(t *testing.T) {
	backend := &fakeBackend{state: closedState(), writeOK: true}
	svc := NewService(backend, testConfig())

	if _, err := svc.GetState(context.Background(), testDoor); err != nil {
		t.Fatalf("GetState() error = %v", err)
	}

	ok, err := svc.SetState(context.Background(), testDoor, DesiredOpen)
	if err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	if !ok {
		t.Fatal("SetState() ok = false, want true")
	}

	backend.setState(&DeviceState{Status: StatusOpening, Desired: DesiredOpen})
	state, err := svc.GetState(context.Background(), testDoor)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Status != StatusOpening {
		t.Errorf("post-command status = %q, want %q (cache must be invalidated)", state.Status, StatusOpening)
	}
	if got := backend.readCalls.Load(); got != 2 {
		t.Errorf("backend reads = %d, want 2", got)
	}
}

func TestService_SetState_InvalidatesEvenOnError(t *testing.T) {
	backend := &fakeBackend{state: closedState(), writeErr: errors.New("timeout")}
	svc := NewService(backend, testConfig())

	if _, err := svc.GetState(context.Background(), testDoor); err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if _, err := svc.SetState(context.Background(), testDoor, DesiredOpen); err == nil {
		t.Fatal("SetState() error = nil, want backend error")
	}

	// The command may have reached the door before failing; the cached
	// state is stale either way.
	if _, err := svc.GetState(context.Background(), testDoor); err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if got := backend.readCalls.Load(); got != 2 {
		t.Errorf("backend reads = %d, want 2 (failed command must still invalidate)", got)
	}
}

func TestService_SetState_RejectsInvalidDesired(t *testing.T) {
	backend := &fakeBackend{writeOK: true}
	svc := NewService(backend, testConfig())

	if _, err := svc.SetState(context.Background(), testDoor, DesiredStatus("sideways")); !errors.Is(err, ErrInvalidDesired) {
		t.Errorf("SetState() error = %v, want ErrInvalidDesired", err)
	}
	if got := backend.writeCalls.Load(); got != 0 {
		t.Errorf("backend writes = %d, want 0", got)
	}
}

func TestService_SetState_DerivesDesiredNone(t *testing.T) {
	backend := &fakeBackend{
		state:   &DeviceState{Status: StatusOpen, Desired: DesiredOpen},
		writeOK: true,
	}
	svc := NewService(backend, testConfig())

	// Observe the open door first so DesiredNone has something to derive from.
	if _, err := svc.GetState(context.Background(), testDoor); err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if _, err := svc.SetState(context.Background(), testDoor, DesiredNone); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}

	backend.mu.Lock()
	got := backend.lastWrite
	backend.mu.Unlock()
	if got != DesiredOpen {
		t.Errorf("derived desired = %q, want %q (door was observed open)", got, DesiredOpen)
	}
}

func TestService_SetState_DesiredNoneWithoutObservationClosesDoor(t *testing.T) {
	backend := &fakeBackend{writeOK: true}
	svc := NewService(backend, testConfig())

	if _, err := svc.SetState(context.Background(), testDoor, DesiredNone); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}

	backend.mu.Lock()
	got := backend.lastWrite
	backend.mu.Unlock()
	if got != DesiredClosed {
		t.Errorf("derived desired = %q, want %q (no observation defaults to closed)", got, DesiredClosed)
	}
}

func TestService_ListDevices_Caches(t *testing.T) {
	backend := &fakeBackend{devices: []Device{testDoor}}
	svc := NewService(backend, testConfig())

	for range 3 {
		devices, err := svc.ListDevices(context.Background())
		if err != nil {
			t.Fatalf("ListDevices() error = %v", err)
		}
		if len(devices) != 1 {
			t.Fatalf("ListDevices() returned %d devices, want 1", len(devices))
		}
	}
	if got := backend.listCalls.Load(); got != 1 {
		t.Errorf("backend lists = %d, want 1", got)
	}
}

func TestService_FindDevice(t *testing.T) {
	backend := &fakeBackend{devices: []Device{testDoor, {ID: "2", GatewayID: "gw-2"}}}
	svc := NewService(backend, testConfig())

	device, err := svc.FindDevice(context.Background(), "gw-1", "1")
	if err != nil {
		t.Fatalf("FindDevice() error = %v", err)
	}
	if device.ID != testDoor.ID || device.GatewayID != testDoor.GatewayID {
		t.Errorf("FindDevice() = %+v, want %+v", device, testDoor)
	}

	// Door ID alone is not enough; the gateway must match too.
	if _, err := svc.FindDevice(context.Background(), "gw-2", "1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("FindDevice() error = %v, want ErrDeviceNotFound", err)
	}
	if _, err := svc.FindDevice(context.Background(), "gw-9", "nobody"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("FindDevice() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestService_FindDevice_PropagatesListingFailure(t *testing.T) {
	backend := &fakeBackend{listErr: errors.New("backend unreachable")}
	svc := NewService(backend, testConfig())

	if _, err := svc.FindDevice(context.Background(), "gw-1", "1"); err == nil || errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("FindDevice() error = %v, want the listing failure", err)
	}
}

// memoryDeviceStore is an in-memory DeviceRepository for fallback tests.
type memoryDeviceStore struct {
	mu      sync.Mutex
	devices []Device
	err     error
}

func (m *memoryDeviceStore) ReplaceAll(_ context.Context, devices []Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.devices = append([]Device(nil), devices...)
	return nil
}

func (m *memoryDeviceStore) List(context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Device(nil), m.devices...), m.err
}

func TestService_ListDevices_FallsBackToStore(t *testing.T) {
	backend := &fakeBackend{devices: []Device{testDoor}}
	store := &memoryDeviceStore{}
	svc := NewService(backend, Config{AccountTTL: time.Millisecond, StationaryTTL: time.Hour, TransitioningTTL: time.Second})
	svc.SetStore(store)

	// First discovery succeeds and seeds the store.
	if _, err := svc.ListDevices(context.Background()); err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	backend.mu.Lock()
	backend.listErr = errors.New("backend unreachable")
	backend.mu.Unlock()

	devices, err := svc.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices() with fallback error = %v", err)
	}
	if len(devices) != 1 || devices[0].ID != testDoor.ID {
		t.Fatalf("fallback listing = %+v, want stored door", devices)
	}
}

func TestService_ListDevices_NoFallbackPropagatesError(t *testing.T) {
	backend := &fakeBackend{listErr: errors.New("backend unreachable")}
	svc := NewService(backend, testConfig())

	if _, err := svc.ListDevices(context.Background()); err == nil {
		t.Fatal("ListDevices() error = nil, want backend error")
	}
}

// recordingHistory captures RecordStateChange calls.
type recordingHistory struct {
	mu      sync.Mutex
	entries []StateHistoryEntry
}

func (r *recordingHistory) RecordStateChange(_ context.Context, doorKey string, state DeviceState, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, StateHistoryEntry{
		DoorKey: doorKey,
		Status:  state.Status,
		Desired: state.Desired,
		Battery: state.Battery,
		Fault:   state.Fault,
		Source:  source,
	})
	return nil
}

func TestService_GetState_RecordsChangesOnly(t *testing.T) {
	backend := &fakeBackend{state: closedState()}
	history := &recordingHistory{}
	svc := NewService(backend, Config{
		StationaryTTL:    time.Millisecond,
		TransitioningTTL: time.Millisecond,
		AccountTTL:       time.Hour,
	})
	svc.SetHistory(history)

	// Same state observed twice: one history entry.
	for range 2 {
		if _, err := svc.GetState(context.Background(), testDoor); err != nil {
			t.Fatalf("GetState() error = %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	backend.setState(&DeviceState{Status: StatusOpening, Desired: DesiredOpen})
	if _, err := svc.GetState(context.Background(), testDoor); err != nil {
		t.Fatalf("GetState() error = %v", err)
	}

	history.mu.Lock()
	defer history.mu.Unlock()
	if len(history.entries) != 2 {
		t.Fatalf("history entries = %d, want 2 (closed, then opening)", len(history.entries))
	}
	if history.entries[0].Status != StatusClosed || history.entries[1].Status != StatusOpening {
		t.Errorf("history = %+v, want closed then opening", history.entries)
	}
	if history.entries[0].Source != StateHistorySourcePoll {
		t.Errorf("history source = %q, want %q", history.entries[0].Source, StateHistorySourcePoll)
	}
	if history.entries[0].DoorKey != testDoor.Key() {
		t.Errorf("history door key = %q, want %q", history.entries[0].DoorKey, testDoor.Key())
	}
}

func TestService_SetState_AttributesNextChangeToCommand(t *testing.T) {
	backend := &fakeBackend{state: closedState(), writeOK: true}
	history := &recordingHistory{}
	svc := NewService(backend, Config{
		StationaryTTL:    time.Millisecond,
		TransitioningTTL: time.Millisecond,
		AccountTTL:       time.Hour,
	})
	svc.SetHistory(history)

	// Baseline observation arrives via polling.
	if _, err := svc.GetState(context.Background(), testDoor); err != nil {
		t.Fatalf("GetState() error = %v", err)
	}

	if _, err := svc.SetState(context.Background(), testDoor, DesiredOpen); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	backend.setState(&DeviceState{Status: StatusOpening, Desired: DesiredOpen})
	if _, err := svc.GetState(context.Background(), testDoor); err != nil {
		t.Fatalf("GetState() error = %v", err)
	}

	// A later change with no command in between reverts to poll.
	time.Sleep(5 * time.Millisecond)
	backend.setState(&DeviceState{Status: StatusOpen, Desired: DesiredOpen})
	if _, err := svc.GetState(context.Background(), testDoor); err != nil {
		t.Fatalf("GetState() error = %v", err)
	}

	history.mu.Lock()
	defer history.mu.Unlock()
	if len(history.entries) != 3 {
		t.Fatalf("history entries = %d, want 3 (closed, opening, open)", len(history.entries))
	}
	want := []string{StateHistorySourcePoll, StateHistorySourceCommand, StateHistorySourcePoll}
	for i, entry := range history.entries {
		if entry.Source != want[i] {
			t.Errorf("entry %d source = %q, want %q", i, entry.Source, want[i])
		}
	}
}

func TestService_SetState_FailedCommandNotAttributed(t *testing.T) {
	backend := &fakeBackend{state: closedState(), writeErr: errors.New("timeout")}
	history := &recordingHistory{}
	svc := NewService(backend, Config{
		StationaryTTL:    time.Millisecond,
		TransitioningTTL: time.Millisecond,
		AccountTTL:       time.Hour,
	})
	svc.SetHistory(history)

	if _, err := svc.GetState(context.Background(), testDoor); err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if _, err := svc.SetState(context.Background(), testDoor, DesiredOpen); err == nil {
		t.Fatal("SetState() error = nil, want backend error")
	}

	backend.setState(&DeviceState{Status: StatusOpening, Desired: DesiredOpen})
	if _, err := svc.GetState(context.Background(), testDoor); err != nil {
		t.Fatalf("GetState() error = %v", err)
	}

	history.mu.Lock()
	defer history.mu.Unlock()
	if len(history.entries) != 2 {
		t.Fatalf("history entries = %d, want 2", len(history.entries))
	}
	if got := history.entries[1].Source; got != StateHistorySourcePoll {
		t.Errorf("source after undelivered command = %q, want %q", got, StateHistorySourcePoll)
	}
}

func TestService_InvalidateState(t *testing.T) {
	backend := &fakeBackend{state: closedState()}
	svc := NewService(backend, testConfig())

	if _, err := svc.GetState(context.Background(), testDoor); err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	svc.InvalidateState(testDoor)
	if _, err := svc.GetState(context.Background(), testDoor); err != nil {
		t.Fatalf("GetState() error = %v", err)
	}

	if got := backend.readCalls.Load(); got != 2 {
		t.Errorf("backend reads = %d, want 2 after invalidation", got)
	}
}
