package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Executor defaults.
const (
	// defaultTimeout is the per-request timeout when the caller does not
	// specify one.
	defaultTimeout = 5 * time.Second

	// defaultBackoffBase is the base delay for exponential backoff.
	defaultBackoffBase = 500 * time.Millisecond

	// defaultBackoffCap bounds both computed delays and Retry-After values.
	defaultBackoffCap = 30 * time.Second

	// defaultIdempotentAttempts is the attempt budget for GET/HEAD requests.
	defaultIdempotentAttempts = 3

	// maxBodySize limits how much of a response body is read into memory.
	maxBodySize = 1 << 20 // 1MB

	// statusErrorBodyLimit truncates bodies embedded in StatusError values.
	statusErrorBodyLimit = 512
)

// DefaultRetryableStatuses are the statuses retried when the caller does not
// override the policy: request timeout, rate limiting, and transient 5xx.
func DefaultRetryableStatuses() []int {
	return []int{
		http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
	}
}

// RetryPolicy controls how an unsuccessful request is retried.
type RetryPolicy struct {
	// MaxAttempts is the total attempt budget, including the first attempt.
	// Must be at least 1.
	MaxAttempts int

	// RetryableStatusCodes lists the statuses worth retrying. A status not
	// in this list fails immediately.
	RetryableStatusCodes []int

	// BackoffBase is the delay before the second attempt; subsequent delays
	// double. Zero means the executor default.
	BackoffBase time.Duration

	// BackoffCap bounds computed delays and honoured Retry-After values.
	// Zero means the executor default.
	BackoffCap time.Duration
}

// ExpectedHandler converts a response with a caller-declared status into a
// valid outcome. The executor returns the handler's result verbatim, with no
// retry and no error classification.
type ExpectedHandler func(resp *Response) (*Response, error)

// Request describes a single logical HTTP call.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte

	// Timeout overrides the executor's per-call timeout. Zero means default.
	Timeout time.Duration

	// Retry overrides the method-derived default policy. Nil means default.
	Retry *RetryPolicy

	// Expected maps specific statuses to handlers that turn them into valid
	// outcomes instead of failures (e.g., treating 404 as "door absent").
	Expected map[int]ExpectedHandler

	// OnClientError and OnServerError are generic fallbacks for 4xx/5xx
	// statuses without an entry in Expected. Nil means not handled.
	OnClientError ExpectedHandler
	OnServerError ExpectedHandler
}

// Response is the normalized result of a request: status, headers and a
// fully-read body. The body is read eagerly so callers never manage
// connection lifetimes.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Logger is the logging interface used by the Executor.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Config contains executor settings.
type Config struct {
	// Timeout is the default per-call timeout. Zero means 5s.
	Timeout time.Duration

	// MaxAttempts is the default attempt budget for idempotent requests.
	// Zero means 3.
	MaxAttempts int

	// BackoffBase and BackoffCap tune the default backoff schedule.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// LogResponses enables debug logging of response bodies.
	LogResponses bool

	// Transport overrides the HTTP transport (used in tests). Nil means
	// http.DefaultTransport.
	Transport http.RoundTripper
}

// Executor issues HTTP requests with timeout, retry and backoff handling.
//
// Thread Safety: all methods are safe for concurrent use.
type Executor struct {
	client       *http.Client
	timeout      time.Duration
	maxAttempts  int
	backoffBase  time.Duration
	backoffCap   time.Duration
	logResponses bool
	logger       Logger

	// sleep is indirected so tests can observe and skip real delays.
	sleep func(ctx context.Context, d time.Duration) error

	// now is indirected for Retry-After date arithmetic in tests.
	now func() time.Time
}

// New creates a request executor with the given configuration.
func New(cfg Config) *Executor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultIdempotentAttempts
	}
	base := cfg.BackoffBase
	if base <= 0 {
		base = defaultBackoffBase
	}
	backoffCap := cfg.BackoffCap
	if backoffCap <= 0 {
		backoffCap = defaultBackoffCap
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &Executor{
		// The client carries no timeout of its own; each attempt gets a
		// fresh context deadline so the budget never spans attempts.
		client:       &http.Client{Transport: transport},
		timeout:      timeout,
		maxAttempts:  maxAttempts,
		backoffBase:  base,
		backoffCap:   backoffCap,
		logResponses: cfg.LogResponses,
		logger:       noopLogger{},
		sleep:        sleepContext,
		now:          time.Now,
	}
}

// SetLogger sets the logger for the executor.
func (e *Executor) SetLogger(logger Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Do executes the request, retrying per policy until it succeeds, fails
// non-retryably, or exhausts the attempt budget.
//
// Parameters:
//   - ctx: Context for cancellation; each attempt additionally gets the
//     per-call timeout
//   - req: The request description
//
// Returns:
//   - *Response: The successful (or expected-handler) response
//   - error: ErrTimeout, ErrRetryAfterTooLong, *StatusError, or a transport
//     error after the final attempt
func (e *Executor) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" || req.URL == "" {
		return nil, fmt.Errorf("%w: method and URL are required", ErrInvalidRequest)
	}

	policy := e.policyFor(req)

	for attempt := 1; ; attempt++ {
		resp, err := e.attempt(ctx, req)
		if err != nil {
			// Transport timeouts are terminal: retrying them amplifies
			// load on a backend that is already in distress.
			if isTimeout(err) {
				return nil, fmt.Errorf("%w: %s %s: %w", ErrTimeout, req.Method, req.URL, err)
			}
			if attempt >= policy.MaxAttempts {
				return nil, fmt.Errorf("httpclient: %s %s: %w", req.Method, req.URL, err)
			}
			// Other transport failures (refused, reset) share the retry
			// budget and backoff schedule.
			delay := backoffDelay(policy, attempt)
			e.logger.Warn("transport error, retrying",
				"method", req.Method, "url", req.URL,
				"attempt", attempt, "delay", delay, "error", err,
			)
			if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}

		if e.logResponses {
			e.logger.Debug("backend response",
				"method", req.Method, "url", req.URL,
				"status", resp.StatusCode, "body", string(resp.Body),
			)
		}

		// Caller-declared statuses are outcomes, not failures.
		if handler := expectedHandler(req, resp.StatusCode); handler != nil {
			return handler(resp)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		if !statusRetryable(policy, resp.StatusCode) || attempt >= policy.MaxAttempts {
			return nil, &StatusError{
				StatusCode: resp.StatusCode,
				Body:       truncate(string(resp.Body), statusErrorBodyLimit),
				Attempts:   attempt,
			}
		}

		delay, err := e.retryDelay(policy, resp, attempt)
		if err != nil {
			return nil, err
		}

		e.logger.Warn("retryable backend status",
			"method", req.Method, "url", req.URL,
			"status", resp.StatusCode, "attempt", attempt, "delay", delay,
		)

		if err := e.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// policyFor resolves the effective retry policy for a request.
// GET and HEAD default to the executor's attempt budget; mutating methods
// default to a single attempt.
func (e *Executor) policyFor(req Request) RetryPolicy {
	if req.Retry != nil {
		p := *req.Retry
		if p.MaxAttempts < 1 {
			p.MaxAttempts = 1
		}
		if p.BackoffBase <= 0 {
			p.BackoffBase = e.backoffBase
		}
		if p.BackoffCap <= 0 {
			p.BackoffCap = e.backoffCap
		}
		if p.RetryableStatusCodes == nil {
			p.RetryableStatusCodes = DefaultRetryableStatuses()
		}
		return p
	}

	attempts := 1
	if req.Method == http.MethodGet || req.Method == http.MethodHead {
		attempts = e.maxAttempts
	}
	return RetryPolicy{
		MaxAttempts:          attempts,
		RetryableStatusCodes: DefaultRetryableStatuses(),
		BackoffBase:          e.backoffBase,
		BackoffCap:           e.backoffCap,
	}
}

// attempt performs a single HTTP exchange with the per-call timeout applied.
func (e *Executor) attempt(ctx context.Context, req Request) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close() //nolint:errcheck // Read side only

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}

// retryDelay computes the delay before the next attempt. A valid Retry-After
// header is honoured verbatim unless it exceeds the backoff cap, in which
// case the request is aborted rather than slept through.
func (e *Executor) retryDelay(policy RetryPolicy, resp *Response, attempt int) (time.Duration, error) {
	if after, ok := e.parseRetryAfter(resp.Header.Get("Retry-After")); ok {
		if after > policy.BackoffCap {
			return 0, fmt.Errorf("%w: %v > %v", ErrRetryAfterTooLong, after, policy.BackoffCap)
		}
		return after, nil
	}
	return backoffDelay(policy, attempt), nil
}

// backoffDelay returns min(cap, base * 2^(attempt-1)).
func backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	delay := policy.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= policy.BackoffCap {
			return policy.BackoffCap
		}
	}
	if delay > policy.BackoffCap {
		return policy.BackoffCap
	}
	return delay
}

// parseRetryAfter interprets a Retry-After header value, which may be a
// delay in seconds or an HTTP-date.
func (e *Executor) parseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(value); err == nil {
		d := t.Sub(e.now())
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// expectedHandler resolves the handler for a status, if the caller declared
// one: exact match first, then the generic 4xx/5xx fallbacks.
func expectedHandler(req Request, status int) ExpectedHandler {
	if h, ok := req.Expected[status]; ok {
		return h
	}
	if status >= 400 && status < 500 && req.OnClientError != nil {
		return req.OnClientError
	}
	if status >= 500 && status < 600 && req.OnServerError != nil {
		return req.OnServerError
	}
	return nil
}

// statusRetryable reports whether the policy lists the status as retryable.
func statusRetryable(policy RetryPolicy, status int) bool {
	for _, s := range policy.RetryableStatusCodes {
		if s == status {
			return true
		}
	}
	return false
}

// isTimeout classifies transport errors that represent a timed-out exchange.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// sleepContext waits for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// truncate limits s to n bytes for embedding in error messages.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
