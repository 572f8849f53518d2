package session

import "errors"

var (
	// ErrBackendUnavailable indicates a transport-level failure reaching the
	// remote generation service (connection refused, timeout, non-2xx,
	// malformed body). The underlying cause is wrapped for logging.
	ErrBackendUnavailable = errors.New("generation backend unavailable")

	// ErrGenerationRejected indicates the backend responded but declined to
	// produce a result (success:false).
	ErrGenerationRejected = errors.New("generation rejected by backend")

	// ErrRequestInFlight indicates a second remote call was attempted while
	// one is still outstanding. One logical request at a time per session.
	ErrRequestInFlight = errors.New("request already in flight")

	// ErrSessionNotOpen indicates a remote call before Open.
	ErrSessionNotOpen = errors.New("session not open")

	// ErrSessionAlreadyOpen indicates a second Open on the same client.
	// The session identity is allocated once per run and never regenerated.
	ErrSessionAlreadyOpen = errors.New("session already open")
)
