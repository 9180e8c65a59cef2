package memory

import (
	"context"
	"testing"

	"github.com/cadenzalab/ensemble-backend/internal/models"
	"github.com/cadenzalab/ensemble-backend/internal/storage"
)

func seedSession(t *testing.T, s *SessionStore, id string) *models.Session {
	t.Helper()
	session := &models.Session{
		ID:    id,
		Name:  "Jam",
		Tempo: models.DefaultTempo,
		Participants: []*models.Participant{
			{UserID: "alice", Username: "Alice", IsAdmin: true, Accepted: true},
		},
		LastTrackID: 1,
		Tracks: []*models.Track{
			{ID: 1, Name: "Lead", Instrument: "piano", Volume: 1},
		},
	}
	if err := s.CreateSession(context.Background(), session); err != nil {
		t.Fatal(err)
	}
	return session
}

func TestGetReturnsIsolatedCopy(t *testing.T) {
	s := NewSessionStore()
	seedSession(t, s, "s1")

	got, err := s.GetSession(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	got.Name = "Mutated"
	got.Tracks[0].Name = "Mutated"

	again, err := s.GetSession(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if again.Name != "Jam" || again.Tracks[0].Name != "Lead" {
		t.Fatalf("stored state shared with caller: %+v", again)
	}
}

func TestSaveUnknownSessionFails(t *testing.T) {
	s := NewSessionStore()
	err := s.SaveSession(context.Background(), &models.Session{ID: "nope"})
	if err != storage.ErrNotFound {
		t.Fatalf("save unknown: %v", err)
	}
}

func TestReserveEventIDsMonotonic(t *testing.T) {
	s := NewSessionStore()
	seedSession(t, s, "s1")
	ctx := context.Background()

	first, err := s.ReserveEventIDs(ctx, "s1", 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if first != 1 {
		t.Fatalf("first reservation %d, want 1", first)
	}
	batch, err := s.ReserveEventIDs(ctx, "s1", 1, 5)
	if err != nil {
		t.Fatal(err)
	}
	if batch != 2 {
		t.Fatalf("batch start %d, want 2", batch)
	}
	next, err := s.ReserveEventIDs(ctx, "s1", 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if next != 7 {
		t.Fatalf("reservation after batch %d, want 7", next)
	}

	if _, err := s.ReserveEventIDs(ctx, "s1", 9, 1); err != storage.ErrNotFound {
		t.Fatalf("unknown track: %v", err)
	}
	if _, err := s.ReserveEventIDs(ctx, "nope", 1, 1); err != storage.ErrNotFound {
		t.Fatalf("unknown session: %v", err)
	}
}

func TestSessionsForUserTracksMembershipChanges(t *testing.T) {
	s := NewSessionStore()
	session := seedSession(t, s, "s1")
	seedSession(t, s, "s2")
	ctx := context.Background()

	sessions, err := s.SessionsForUser(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("alice sessions: %d, want 2", len(sessions))
	}

	session.Participants = append(session.Participants,
		&models.Participant{UserID: "bob", Username: "Bob", Accepted: true})
	if err := s.SaveSession(ctx, session); err != nil {
		t.Fatal(err)
	}
	sessions, err = s.SessionsForUser(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].ID != "s1" {
		t.Fatalf("bob sessions: %+v", sessions)
	}

	if err := s.DeleteSession(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	sessions, err = s.SessionsForUser(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 0 {
		t.Fatalf("bob sessions after delete: %+v", sessions)
	}
	if _, err := s.GetSession(ctx, "s1"); err != storage.ErrNotFound {
		t.Fatalf("get after delete: %v", err)
	}
}
