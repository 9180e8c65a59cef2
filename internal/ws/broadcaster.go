package ws

import (
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cadenzalab/ensemble-backend/internal/protocol"
)

// Broadcaster fans a message out to every live connection in a session.
// Delivery is best-effort per connection and never waits for acknowledgement.
type Broadcaster struct {
	registry *Registry
	logger   zerolog.Logger
}

func NewBroadcaster(registry *Registry, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{registry: registry, logger: logger}
}

// Broadcast delivers env to all connections registered for sessionID,
// skipping exclude (normally the originator) when non-nil. A failed send
// closes only that connection; the remaining deliveries still happen.
func (b *Broadcaster) Broadcast(sessionID string, env *protocol.Envelope, exclude Connection) {
	for _, conn := range b.registry.Connections(sessionID) {
		if exclude != nil && conn.ID() == exclude.ID() {
			continue
		}
		if err := conn.Send(env); err != nil {
			b.logger.Warn().Err(err).Str("session", sessionID).Str("user", conn.UserID()).
				Str("action", env.Action).Msg("broadcast delivery failed, closing connection")
			conn.Close(websocket.CloseInternalServerErr, "delivery failed")
		}
	}
}

// CloseSession closes every live connection of a session with the same code
// and reason, then drops the session's presence entry. Used on session
// deletion so no participant sees a spurious peer-left cascade; dropping the
// entry here matters because the unwinding read loops cannot unregister
// through an engine that has already stopped.
func (b *Broadcaster) CloseSession(sessionID string, code int, reason string) {
	for _, conn := range b.registry.Connections(sessionID) {
		conn.Close(code, reason)
	}
	b.registry.DropSession(sessionID)
}
