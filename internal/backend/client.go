package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/halwright/gatesync/internal/cache"
	"github.com/halwright/gatesync/internal/gate"
	"github.com/halwright/gatesync/internal/infrastructure/httpclient"
)

// Config contains settings for the controller adapter.
type Config struct {
	// BaseURL is the root URL of the controller API, without a trailing
	// slash.
	BaseURL string

	// Username and Password are exchanged for a bearer token.
	Username string
	Password string

	// IncludeShared controls whether doors shared from other accounts are
	// included in discovery results.
	IncludeShared bool

	// HasBatteryLevel declares whether the hardware reports a battery
	// sensor. When false, battery values (including 0) are discarded.
	HasBatteryLevel bool
}

// Logger is the logging interface used by the Client.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Client talks to the remote gate controller API. It implements
// gate.Backend.
type Client struct {
	cfg      Config
	executor *httpclient.Executor
	tokens   *cache.Cache[credential]
	logger   Logger

	// now is indirected for JWT lifetime arithmetic in tests.
	now func() time.Time
}

// New creates a controller client over the given request executor.
func New(cfg Config, executor *httpclient.Executor) *Client {
	return &Client{
		cfg:      cfg,
		executor: executor,
		tokens:   cache.New[credential](),
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// commandResponse is the controller's answer to a desired-state command.
// The controller fans a command out to the gateway's relays; Results
// carries one outcome per relay actuation.
type commandResponse struct {
	OK      bool `json:"ok"`
	Results []struct {
		OK bool `json:"ok"`
	} `json:"results"`
}

// ListDevices fetches all doors visible to the account.
//
// Shared doors are filtered out unless configured otherwise. The listing
// endpoint is idempotent and retried per the executor's GET policy.
//
// Returns:
//   - []gate.Device: The discovered doors
//   - error: ErrAuthFailed, or the transport/status failure
func (c *Client) ListDevices(ctx context.Context) ([]gate.Device, error) {
	resp, err := c.authorizedDo(ctx, httpclient.Request{
		Method: http.MethodGet,
		URL:    c.cfg.BaseURL + "/api/v1/doors",
	})
	if err != nil {
		return nil, fmt.Errorf("listing doors: %w", err)
	}

	payloads, err := decodeDoorList(resp.Body)
	if err != nil {
		return nil, err
	}

	devices := make([]gate.Device, 0, len(payloads))
	for _, p := range payloads {
		device, err := p.normalize()
		if err != nil {
			c.logger.Warn("skipping unparseable door", "error", err)
			continue
		}
		if device.Shared && !c.cfg.IncludeShared {
			continue
		}
		devices = append(devices, device)
	}
	return devices, nil
}

// ReadState fetches the current state of one door.
//
// A 404 means the door could not be resolved this cycle and is reported as
// absent (nil, nil), not as an error: doors vanish transiently when their
// gateway reboots.
//
// Returns:
//   - *gate.DeviceState: The observed state, or nil when absent
//   - error: ErrAuthFailed, ErrMalformedPayload, or the transport failure
func (c *Client) ReadState(ctx context.Context, device gate.Device) (*gate.DeviceState, error) {
	absent := false
	resp, err := c.authorizedDo(ctx, httpclient.Request{
		Method: http.MethodGet,
		URL:    c.doorURL(device, "state"),
		Expected: map[int]httpclient.ExpectedHandler{
			http.StatusNotFound: func(r *httpclient.Response) (*httpclient.Response, error) {
				absent = true
				return r, nil
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("reading state of %s: %w", device.Key(), err)
	}
	if absent {
		return nil, nil
	}

	var payload statePayload
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("%w: state of %s: %w", ErrMalformedPayload, device.Key(), err)
	}

	state, err := payload.normalize(c.cfg.HasBatteryLevel, c.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("state of %s: %w", device.Key(), err)
	}
	return state, nil
}

// commandAttempts is the retry budget for the desired-state write. A
// retryable status (5xx, 429, 408) means the controller rejected the
// command before actuating anything, so a resend cannot double-toggle the
// relay; transport timeouts remain terminal in the executor because a
// timed-out command may have actuated.
const commandAttempts = 3

// WriteCommand requests a state change for one door.
//
// The write carries its own bounded retry (3 attempts) on retryable
// statuses; see commandAttempts for why that is safe for an actuator.
//
// Returns:
//   - bool: Whether the controller reported success for every relay
//   - error: ErrAuthFailed, or the transport/status failure after retries
func (c *Client) WriteCommand(ctx context.Context, device gate.Device, desired gate.DesiredStatus) (bool, error) {
	body, err := json.Marshal(map[string]string{"desired": string(desired)})
	if err != nil {
		return false, fmt.Errorf("marshalling command: %w", err)
	}

	resp, err := c.authorizedDo(ctx, httpclient.Request{
		Method: http.MethodPut,
		URL:    c.doorURL(device, "desired"),
		Header: jsonHeader(),
		Body:   body,
		Retry:  &httpclient.RetryPolicy{MaxAttempts: commandAttempts},
	})
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", gate.ErrCommandFailed, device.Key(), err)
	}

	var result commandResponse
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return false, fmt.Errorf("%w: command response for %s: %w", ErrMalformedPayload, device.Key(), err)
	}

	// Older firmware reports only the per-relay results, newer firmware
	// adds the top-level ok. Success means nothing reported failure.
	ok := result.OK || len(result.Results) > 0
	for _, r := range result.Results {
		ok = ok && r.OK
	}
	return ok, nil
}

// authorizedDo attaches a bearer token to the request and executes it. A
// 401 invalidates the cached token and surfaces ErrAuthFailed; the caller's
// next attempt will log in afresh.
func (c *Client) authorizedDo(ctx context.Context, req httpclient.Request) (*httpclient.Response, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return nil, err
	}

	if req.Header == nil {
		req.Header = http.Header{}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.executor.Do(ctx, req)
	if err != nil {
		if httpclient.IsStatus(err, http.StatusUnauthorized) {
			c.invalidateToken()
			return nil, fmt.Errorf("%w: %w", ErrAuthFailed, err)
		}
		return nil, err
	}
	return resp, nil
}

// doorURL builds the endpoint URL for a door-scoped resource.
func (c *Client) doorURL(device gate.Device, resource string) string {
	return fmt.Sprintf("%s/api/v1/doors/%s/%s", c.cfg.BaseURL, url.PathEscape(device.ID), resource)
}

// jsonHeader returns headers for a JSON request body.
func jsonHeader() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return h
}
