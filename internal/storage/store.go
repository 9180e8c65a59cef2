package storage

import (
	"context"
	"errors"

	"github.com/cadenzalab/ensemble-backend/internal/models"
)

// ErrNotFound is returned when a session does not exist in the store.
var ErrNotFound = errors.New("storage: session not found")

// Store is the durable side of the session engine. The engine serializes all
// mutating calls for one session, so implementations only need cross-session
// safety plus an atomic event-id reservation.
type Store interface {
	// CreateSession persists a fresh session.
	CreateSession(ctx context.Context, session *models.Session) error

	// GetSession loads a session by id, ErrNotFound if absent.
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)

	// SaveSession persists the full current state of a session after a
	// committed mutation. The engine treats a failure as an infrastructure
	// error and rolls the mutation back before anyone observes it.
	SaveSession(ctx context.Context, session *models.Session) error

	// DeleteSession removes a session and its membership index entries.
	DeleteSession(ctx context.Context, sessionID string) error

	// SessionsForUser lists the sessions a user created or was invited to.
	SessionsForUser(ctx context.Context, userID string) ([]*models.Session, error)

	// ReserveEventIDs atomically advances the track's event-id counter by n
	// and returns the first id of the reserved run. Two concurrent
	// reservations on the same track never overlap.
	ReserveEventIDs(ctx context.Context, sessionID string, trackID, n int) (int, error)
}
