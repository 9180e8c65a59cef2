package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cadenzalab/ensemble-backend/internal/models"
	"github.com/cadenzalab/ensemble-backend/internal/storage"
	"github.com/cadenzalab/ensemble-backend/internal/ws"
)

// Manager owns one engine per live session. Engines for different sessions
// run fully in parallel; all mutations for one session funnel through its
// engine. Lifetime-scoped and injected, not process-global, so tests can run
// isolated managers side by side.
type Manager struct {
	store       storage.Store
	registry    *ws.Registry
	broadcaster *ws.Broadcaster
	logger      zerolog.Logger

	mu      sync.Mutex
	engines map[string]*Engine
}

func NewManager(store storage.Store, registry *ws.Registry, broadcaster *ws.Broadcaster, logger zerolog.Logger) *Manager {
	return &Manager{
		store:       store,
		registry:    registry,
		broadcaster: broadcaster,
		logger:      logger,
		engines:     make(map[string]*Engine),
	}
}

// CreateSession persists a fresh session with the creator as its accepted
// admin and returns it.
func (m *Manager) CreateSession(ctx context.Context, name, creatorID, creatorName string) (*models.Session, error) {
	session := &models.Session{
		ID:        uuid.NewString(),
		Name:      name,
		CreatorID: creatorID,
		Tempo:     models.DefaultTempo,
		PPQ:       models.DefaultPPQ,
		Participants: []*models.Participant{
			{UserID: creatorID, Username: creatorName, IsAdmin: true, Accepted: true},
		},
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfra, err)
	}
	m.logger.Info().Str("session", session.ID).Str("creator", creatorID).Str("name", name).Msg("session created")
	return session, nil
}

// Engine returns the live engine for sessionID, spawning one (and loading
// its authoritative state from the store) on first use.
func (m *Manager) Engine(ctx context.Context, sessionID string) (*Engine, error) {
	m.mu.Lock()
	if e, ok := m.engines[sessionID]; ok {
		m.mu.Unlock()
		return e, nil
	}
	m.mu.Unlock()

	state, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("%w: %v", ErrInfra, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.engines[sessionID]; ok {
		return e, nil
	}
	e := newEngine(context.Background(), state, m.store, m.registry, m.broadcaster, m.logger)
	m.engines[sessionID] = e
	go m.reapWhenStopped(e)
	return e, nil
}

// reapWhenStopped drops the engine from the table once it halts (session
// deleted), so a stale entry cannot serve a dead session.
func (m *Manager) reapWhenStopped(e *Engine) {
	<-e.stopped
	m.mu.Lock()
	if current, ok := m.engines[e.sessionID]; ok && current == e {
		delete(m.engines, e.sessionID)
	}
	m.mu.Unlock()
}

// Shutdown halts every live engine.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	engines := make([]*Engine, 0, len(m.engines))
	for _, e := range m.engines {
		engines = append(engines, e)
	}
	m.mu.Unlock()
	for _, e := range engines {
		e.halt()
		<-e.stopped
	}
}
