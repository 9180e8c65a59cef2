package ws

import (
	"sync"

	"github.com/rs/zerolog"
)

// Registry tracks live connections keyed by (session, participant). Exactly
// one connection per pair: registering over an existing entry returns the
// prior connection so the caller can close it with CloseReplaced, and the
// caller announces a fresh join only when no prior connection existed.
//
// Injected into handlers rather than held as process-wide state, so tests can
// run isolated sessions side by side and shutdown stays clean.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]Connection // sessionID -> userID -> conn
	logger   zerolog.Logger
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]map[string]Connection),
		logger:   logger,
	}
}

// Register puts conn on file for (sessionID, userID) and returns the
// connection it displaced, if any.
func (r *Registry) Register(sessionID, userID string, conn Connection) Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.sessions[sessionID]
	if conns == nil {
		conns = make(map[string]Connection)
		r.sessions[sessionID] = conns
	}
	prior := conns[userID]
	conns[userID] = conn
	if prior != nil {
		r.logger.Info().Str("session", sessionID).Str("user", userID).
			Str("prior", prior.ID()).Str("conn", conn.ID()).Msg("connection replaced")
	}
	return prior
}

// Unregister removes conn, but only if it is still the connection on file for
// the pair: a stale close must not clobber a newer connection for the same
// participant. Returns whether an entry was removed. Dropping the last
// connection of a session drops the session's presence entry; session data is
// untouched.
func (r *Registry) Unregister(sessionID, userID string, conn Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	current, ok := conns[userID]
	if !ok || current.ID() != conn.ID() {
		return false
	}
	delete(conns, userID)
	if len(conns) == 0 {
		delete(r.sessions, sessionID)
	}
	return true
}

// DropSession removes a session's entire presence entry. Used when the
// session itself is deleted: every connection is already closing, and no
// per-connection unregister will run once the session's engine has stopped.
func (r *Registry) DropSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Connections snapshots every live connection for a session.
func (r *Registry) Connections(sessionID string) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.sessions[sessionID]
	out := make([]Connection, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// Get returns the live connection for (sessionID, userID), nil if offline.
func (r *Registry) Get(sessionID, userID string) Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID][userID]
}

// Online reports whether the participant has a live connection.
func (r *Registry) Online(sessionID, userID string) bool {
	return r.Get(sessionID, userID) != nil
}
