package memory

import (
	"context"
	"sync"

	"github.com/cadenzalab/ensemble-backend/internal/models"
	"github.com/cadenzalab/ensemble-backend/internal/storage"
)

// SessionStore keeps sessions in process memory. Used by tests and
// single-node development runs.
type SessionStore struct {
	mu               sync.RWMutex
	sessions         map[string]*models.Session // sessionID -> stored state
	userSessionIndex map[string][]string        // userID -> []sessionID
}

// NewSessionStore creates an empty in-memory store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions:         make(map[string]*models.Session),
		userSessionIndex: make(map[string][]string),
	}
}

func (s *SessionStore) CreateSession(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.ID] = session.Clone()
	s.indexLocked(session)
	return nil
}

func (s *SessionStore) GetSession(_ context.Context, sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return session.Clone(), nil
}

func (s *SessionStore) SaveSession(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; !ok {
		return storage.ErrNotFound
	}
	s.sessions[session.ID] = session.Clone()
	s.indexLocked(session)
	return nil
}

func (s *SessionStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return storage.ErrNotFound
	}
	delete(s.sessions, sessionID)
	for _, p := range session.Participants {
		s.userSessionIndex[p.UserID] = removeID(s.userSessionIndex[p.UserID], sessionID)
	}
	return nil
}

func (s *SessionStore) SessionsForUser(_ context.Context, userID string) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Session
	for _, sessionID := range s.userSessionIndex[userID] {
		if session, ok := s.sessions[sessionID]; ok {
			out = append(out, session.Clone())
		}
	}
	return out, nil
}

func (s *SessionStore) ReserveEventIDs(_ context.Context, sessionID string, trackID, n int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return 0, storage.ErrNotFound
	}
	track := session.Track(trackID)
	if track == nil {
		return 0, storage.ErrNotFound
	}
	first := track.LastEventID + 1
	track.LastEventID += n
	return first, nil
}

// indexLocked refreshes the user index for every participant of session.
// Caller holds the write lock.
func (s *SessionStore) indexLocked(session *models.Session) {
	for _, p := range session.Participants {
		ids := s.userSessionIndex[p.UserID]
		found := false
		for _, id := range ids {
			if id == session.ID {
				found = true
				break
			}
		}
		if !found {
			s.userSessionIndex[p.UserID] = append(ids, session.ID)
		}
	}
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
