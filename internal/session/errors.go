package session

import "errors"

// Error taxonomy. Handlers resolve these at the boundary into direct
// rejections to the originator; they are never broadcast.
var (
	// ErrMalformed: schema or shape violation; the single message is
	// rejected, no state changes.
	ErrMalformed = errors.New("malformed message")

	// ErrNotFound: the target session, track, or note is absent.
	ErrNotFound = errors.New("not found")

	// ErrForbidden: a capability check failed, e.g. a non-admin attempted an
	// admin-only mutation.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict: an id collision under a concurrent counter race; the
	// client should retry or roll back.
	ErrConflict = errors.New("conflict")

	// ErrInfra: the durable store was unavailable; the transaction was
	// aborted with no partial state visible.
	ErrInfra = errors.New("infrastructure failure")

	// ErrStopped: the session's engine has shut down (session deleted).
	ErrStopped = errors.New("session engine stopped")
)
