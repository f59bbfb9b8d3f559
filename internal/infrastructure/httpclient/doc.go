// Package httpclient provides the resilient HTTP request executor used for
// all communication with the remote gate controller API.
//
// This package manages:
//   - Per-request timeouts independent of the retry budget
//   - Classification of failures (timeout, retryable, non-retryable)
//   - Exponential backoff with a hard cap, honouring Retry-After
//   - Caller-declared "expected" statuses that are outcomes, not failures
//
// # Retry Behaviour
//
// Idempotent requests (GET, HEAD) default to 3 attempts; mutating methods
// default to a single attempt unless the caller overrides the policy. A
// transport-level timeout is never retried, regardless of policy: retrying
// timeouts amplifies load on a backend that is already struggling.
//
// # Usage
//
//	exec := httpclient.New(httpclient.Config{Timeout: 5 * time.Second})
//	resp, err := exec.Do(ctx, httpclient.Request{
//	    Method: http.MethodGet,
//	    URL:    "https://api.example-gates.com/api/v1/doors",
//	})
//
// Thread Safety: the Executor is safe for concurrent use from multiple
// goroutines; it owns no mutable state beyond the shared http.Client.
package httpclient
