package entities

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the pipeline. Adapters map backend-specific
// failures onto these so callers can branch without knowing the transport.
var (
	// ErrNotConfigured means the remote backend credential is absent. Fatal
	// only for remote-backend calls, not for the whole system.
	ErrNotConfigured = errors.New("remote backend not configured")

	// ErrIndexUnavailable means the embedding/retrieval path is down.
	// Analysis mode degrades to ungrounded completion.
	ErrIndexUnavailable = errors.New("log index unavailable")

	// ErrTimeout means no response arrived within the backend-specific timeout.
	ErrTimeout = errors.New("backend timed out")

	// ErrNetwork is a transport-level failure reaching a backend.
	ErrNetwork = errors.New("backend unreachable")

	// ErrMalformedResponse means the backend answered with unparseable output.
	ErrMalformedResponse = errors.New("backend returned malformed response")

	// ErrSessionBusy rejects a second generation for a session that already
	// has one in flight.
	ErrSessionBusy = errors.New("session already has a generation in flight")
)

// BackendError is a remote call rejected by the service itself, e.g. an
// authentication or rate-limit response.
type BackendError struct {
	Status  int
	Message string
}

func (e *BackendError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend rejected request (status %d)", e.Status)
	}
	return fmt.Sprintf("backend rejected request (status %d): %s", e.Status, e.Message)
}

// IsAuth reports whether the rejection was credential-related.
func (e *BackendError) IsAuth() bool {
	return e.Status == 401 || e.Status == 403
}

// IsRateLimit reports whether the backend asked us to slow down.
func (e *BackendError) IsRateLimit() bool {
	return e.Status == 429
}
