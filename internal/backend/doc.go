// Package backend is the HTTP adapter for the remote gate controller API.
//
// It implements gate.Backend: device discovery, per-door state reads and
// desired-state commands, plus the credential exchange those calls depend
// on. All vendor-specific payload shapes are normalised here into the
// gate.Device and gate.DeviceState value objects; nothing backend-specific
// leaks past this package.
//
// # Credential Handling
//
// Calls authenticate with a short-lived bearer token obtained from the
// login endpoint and cached until shortly before expiry (a 30 second
// safety margin avoids serving a token that dies mid-request). When the
// login response omits a lifetime, the token's own exp claim is used if
// the token happens to be a JWT; otherwise a conservative default applies.
// A 401 from any endpoint invalidates the cached token so the next call
// logs in afresh.
//
// # Payload Normalisation
//
// The controller API has shipped several payload revisions: statuses as
// strings or numeric codes, battery under different field names, door
// listings bare or wrapped. The decode helpers in payload.go accept all
// observed shapes and produce one canonical form.
//
// Thread Safety: Client is safe for concurrent use.
package backend
