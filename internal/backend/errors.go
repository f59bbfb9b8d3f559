package backend

import "errors"

// Adapter errors for the backend package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, backend.ErrAuthFailed) {
//	    // credentials rejected, do not retry blindly
//	}
var (
	// ErrAuthFailed is returned when the credential exchange is rejected or
	// a previously issued token stops being accepted.
	ErrAuthFailed = errors.New("backend: authentication failed")

	// ErrMissingCredentials is returned when no username or password is
	// configured.
	ErrMissingCredentials = errors.New("backend: username and password are required")

	// ErrMalformedPayload is returned when a response body cannot be
	// normalised into the canonical device or state shape.
	ErrMalformedPayload = errors.New("backend: malformed payload")
)
