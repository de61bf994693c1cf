// Package errs defines the error kinds shared across the session core.
// Handlers map these to HTTP statuses; services return them wrapped with
// context via fmt.Errorf("...: %w", ...).
package errs

import "errors"

var (
	// ErrInvalidTransition is returned when a lifecycle edge is not allowed
	// from the current state (session status or question status).
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrStaleTransition is returned when a legal transition loses a
	// compare-and-swap race because the state moved underneath the caller.
	ErrStaleTransition = errors.New("stale transition")

	// ErrTokenNotFound is returned for unknown, malformed or already-redeemed tokens.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenExpired is returned when a token resolves to a session outside
	// its validity window.
	ErrTokenExpired = errors.New("token expired")

	// ErrAssetNotFound is returned when a share id was not produced by the
	// most recent content scan, or is syntactically malformed.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrContentParse is returned when a document cannot be scanned at all.
	ErrContentParse = errors.New("content parse failed")

	// ErrShareInProgress is returned when a broadcast for the same asset is
	// already in flight.
	ErrShareInProgress = errors.New("share already in progress")

	// ErrEmptyQuestion is returned for blank or whitespace-only question text.
	ErrEmptyQuestion = errors.New("empty question")

	// ErrSessionNotActive is returned when an operation requires a live session.
	ErrSessionNotActive = errors.New("session not active")

	// ErrMalformedPayload is returned when a boundary payload fails typed
	// coercion. Fail closed instead of casting.
	ErrMalformedPayload = errors.New("malformed payload")
)

// Retryable reports whether the caller is expected to retry rather than treat
// the error as a failure.
func Retryable(err error) bool {
	return errors.Is(err, ErrShareInProgress) || errors.Is(err, ErrStaleTransition)
}
