package httpclient

import (
	"errors"
	"fmt"
)

// Errors returned by the request executor.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, httpclient.ErrTimeout) {
//	    // hard failure, do not retry at a higher level either
//	}
var (
	// ErrTimeout is returned when a request exceeds its per-call timeout.
	// Timeouts are never retried.
	ErrTimeout = errors.New("httpclient: request timed out")

	// ErrRetryAfterTooLong is returned when the backend's Retry-After
	// directive exceeds the configured backoff cap. The executor aborts
	// rather than sleeping that long.
	ErrRetryAfterTooLong = errors.New("httpclient: Retry-After exceeds backoff cap")

	// ErrInvalidRequest is returned when the request cannot be constructed.
	ErrInvalidRequest = errors.New("httpclient: invalid request")
)

// StatusError is returned when the backend answers with an unsuccessful
// status that is neither expected nor recoverable within the retry budget.
// It carries the final status code and response body for diagnostics.
type StatusError struct {
	// StatusCode is the HTTP status of the final attempt.
	StatusCode int

	// Body is the response body of the final attempt, possibly truncated.
	Body string

	// Attempts is the number of attempts performed.
	Attempts int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("httpclient: request failed with status %d after %d attempt(s): %s",
		e.StatusCode, e.Attempts, e.Body)
}

// IsStatus reports whether err is a StatusError with the given status code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
