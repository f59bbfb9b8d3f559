package poller

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/halwright/gatesync/internal/gate"
)

// Callback receives a door's state after each successful poll tick.
// Callbacks run synchronously on the polling goroutine; slow consumers delay
// that door's next tick, never other doors'.
type Callback func(device gate.Device, state *gate.DeviceState)

// StateReader is the interface the poller needs from the door-state service.
type StateReader interface {
	GetState(ctx context.Context, device gate.Device) (*gate.DeviceState, error)
}

// Logger is the logging interface used by the Poller.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// subscription is one registered callback.
type subscription struct {
	token    string
	device   gate.Device
	callback Callback
}

// deviceLoop is the per-door polling state. Subscriptions keep registration
// order so fan-out is deterministic.
type deviceLoop struct {
	device  gate.Device
	subs    []*subscription
	polling bool
}

// Poller drives periodic state reads for doors that have at least one
// subscriber.
//
// Each door key runs its own loop: Idle while nobody listens, Polling while
// at least one subscription exists. The 0 to 1 transition schedules an
// immediate first poll; the interval is measured from the end of each poll
// so a door's polling never overlaps itself. When the last subscriber
// leaves, the loop notices at its next tick and winds down on its own, so
// polling stops within one interval of the last unsubscribe.
//
// Thread Safety: all methods are safe for concurrent use.
type Poller struct {
	reader   StateReader
	interval time.Duration
	logger   Logger

	mu     sync.Mutex
	loops  map[string]*deviceLoop
	tokens map[string]string // subscription token -> device key

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a poller over the given state reader.
//
// Parameters:
//   - reader: Source of door states, typically the gate service
//   - interval: Delay between the end of one poll and the start of the next
func New(reader StateReader, interval time.Duration) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		reader:   reader,
		interval: interval,
		logger:   noopLogger{},
		loops:    make(map[string]*deviceLoop),
		tokens:   make(map[string]string),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetLogger sets the logger for the poller.
func (p *Poller) SetLogger(logger Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// Subscribe registers a callback for a door and returns an opaque token for
// later removal. The first subscription for a door triggers an immediate
// poll.
//
// Parameters:
//   - device: The door to watch
//   - callback: Invoked with each polled state; must not be nil
//
// Returns:
//   - string: Subscription token for Unsubscribe
func (p *Poller) Subscribe(device gate.Device, callback func(device gate.Device, state *gate.DeviceState)) string {
	token := uuid.NewString()
	sub := &subscription{token: token, device: device, callback: callback}
	key := device.Key()

	p.mu.Lock()
	loop, ok := p.loops[key]
	if !ok {
		loop = &deviceLoop{device: device}
		p.loops[key] = loop
	}
	loop.subs = append(loop.subs, sub)
	p.tokens[token] = key

	start := !loop.polling
	if start {
		loop.polling = true
		p.wg.Add(1)
	}
	p.mu.Unlock()

	if start {
		p.logger.Debug("polling started", "door", key)
		go p.run(device)
	}
	return token
}

// Unsubscribe removes a subscription. An unknown token is a no-op: the
// subscription may already have been removed, and removal is idempotent.
//
// Removing the last subscriber does not cancel a poll already in flight;
// its result is simply delivered to nobody, and the loop stops at its next
// tick.
func (p *Poller) Unsubscribe(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key, ok := p.tokens[token]
	if !ok {
		return
	}
	delete(p.tokens, token)

	loop, ok := p.loops[key]
	if !ok {
		return
	}
	for i, sub := range loop.subs {
		if sub.token == token {
			loop.subs = append(loop.subs[:i], loop.subs[i+1:]...)
			break
		}
	}
}

// Close stops all polling loops and waits for them to finish. In-flight
// state reads are cancelled.
func (p *Poller) Close() {
	p.cancel()
	p.wg.Wait()
}

// run is the per-door polling loop. It polls immediately, then waits the
// interval measured from the end of each poll.
func (p *Poller) run(device gate.Device) {
	defer p.wg.Done()
	key := device.Key()

	for {
		if p.stopIfIdle(key) {
			return
		}

		p.poll(device)

		select {
		case <-p.ctx.Done():
			p.retire(key)
			return
		case <-time.After(p.interval):
		}
	}
}

// poll performs one state read and fans the result out to the door's
// current subscribers in registration order. A failed read is logged and
// swallowed; one bad tick must not stop future ticks.
func (p *Poller) poll(device gate.Device) {
	state, err := p.reader.GetState(p.ctx, device)
	if err != nil {
		if p.ctx.Err() == nil {
			p.logger.Warn("poll tick failed", "door", device.Key(), "error", err)
		}
		return
	}

	p.mu.Lock()
	var callbacks []Callback
	if loop, ok := p.loops[device.Key()]; ok {
		callbacks = make([]Callback, len(loop.subs))
		for i, sub := range loop.subs {
			callbacks[i] = sub.callback
		}
	}
	p.mu.Unlock()

	// Delivery to an empty subscriber set is a harmless no-op.
	for _, cb := range callbacks {
		cb(device, state)
	}
}

// stopIfIdle retires the loop if its door has no subscribers left. The
// check-and-retire is atomic with Subscribe's 0 to 1 transition, so a
// resubscribe racing the wind-down either keeps this loop alive or starts a
// fresh one, never both.
func (p *Poller) stopIfIdle(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	loop, ok := p.loops[key]
	if !ok {
		return true
	}
	if len(loop.subs) > 0 {
		return false
	}
	delete(p.loops, key)
	p.logger.Debug("polling stopped", "door", key)
	return true
}

// retire removes the loop entry on shutdown so its polling flag does not
// outlive the goroutine.
func (p *Poller) retire(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.loops, key)
}
