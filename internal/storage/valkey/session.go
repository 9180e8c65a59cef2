package valkey

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/cadenzalab/ensemble-backend/internal/models"
	"github.com/cadenzalab/ensemble-backend/internal/storage"
)

// SessionStore persists sessions in Valkey: one JSON blob per session, a
// per-session counter hash for event-id reservation, and a set per user
// indexing session membership.
type SessionStore struct {
	client valkeygo.Client
	logger zerolog.Logger
}

// NewSessionStore connects to Valkey at addr.
func NewSessionStore(addr, password string, logger zerolog.Logger) (*SessionStore, error) {
	client, err := valkeygo.NewClient(valkeygo.ClientOption{
		InitAddress: []string{addr},
		Password:    password,
	})
	if err != nil {
		return nil, fmt.Errorf("valkey connect: %w", err)
	}
	logger.Info().Str("addr", addr).Msg("connected to valkey")
	return &SessionStore{client: client, logger: logger}, nil
}

func sessionKey(id string) string  { return "session:" + id }
func countersKey(id string) string { return "session:" + id + ":counters" }
func userKey(userID string) string { return "user:" + userID + ":sessions" }
func trackField(trackID int) string {
	return fmt.Sprintf("track:%d:lastEventID", trackID)
}

func (s *SessionStore) CreateSession(ctx context.Context, session *models.Session) error {
	return s.SaveSession(ctx, session)
}

func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	raw, err := s.client.Do(ctx, s.client.B().Get().Key(sessionKey(sessionID)).Build()).ToString()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("valkey get session %s: %w", sessionID, err)
	}
	var session models.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &session, nil
}

func (s *SessionStore) SaveSession(ctx context.Context, session *models.Session) error {
	// Correlation ids are client-local and never persisted.
	stored := session.Clone()
	for _, t := range stored.Tracks {
		for _, e := range t.Events {
			e.ClientNoteID = 0
		}
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.ID, err)
	}

	cmds := make(valkeygo.Commands, 0, 1+len(session.Participants))
	cmds = append(cmds, s.client.B().Set().Key(sessionKey(session.ID)).Value(string(raw)).Build())
	for _, p := range session.Participants {
		cmds = append(cmds, s.client.B().Sadd().Key(userKey(p.UserID)).Member(session.ID).Build())
	}
	for _, resp := range s.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("valkey save session %s: %w", session.ID, err)
		}
	}
	return nil
}

func (s *SessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	cmds := make(valkeygo.Commands, 0, 1+len(session.Participants))
	cmds = append(cmds, s.client.B().Del().Key(sessionKey(sessionID), countersKey(sessionID)).Build())
	for _, p := range session.Participants {
		cmds = append(cmds, s.client.B().Srem().Key(userKey(p.UserID)).Member(sessionID).Build())
	}
	for _, resp := range s.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("valkey delete session %s: %w", sessionID, err)
		}
	}
	return nil
}

func (s *SessionStore) SessionsForUser(ctx context.Context, userID string) ([]*models.Session, error) {
	ids, err := s.client.Do(ctx, s.client.B().Smembers().Key(userKey(userID)).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("valkey sessions for user %s: %w", userID, err)
	}
	var out []*models.Session
	for _, id := range ids {
		session, err := s.GetSession(ctx, id)
		if err == storage.ErrNotFound {
			// Stale index entry; drop it lazily.
			s.client.Do(ctx, s.client.B().Srem().Key(userKey(userID)).Member(id).Build())
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, nil
}

// ReserveEventIDs advances the durable counter with HINCRBY, which is atomic
// on the server, so two reservations on the same track never hand out
// overlapping runs even across processes. A later rollback leaves a gap in
// the id space, never a reuse.
func (s *SessionStore) ReserveEventIDs(ctx context.Context, sessionID string, trackID, n int) (int, error) {
	last, err := s.client.Do(ctx, s.client.B().
		Hincrby().Key(countersKey(sessionID)).Field(trackField(trackID)).Increment(int64(n)).
		Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("valkey reserve event ids session %s track %d: %w", sessionID, trackID, err)
	}
	return int(last) - n + 1, nil
}

// Close releases the client.
func (s *SessionStore) Close() {
	s.client.Close()
}
