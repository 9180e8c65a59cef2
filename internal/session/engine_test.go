package session

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cadenzalab/ensemble-backend/internal/models"
	"github.com/cadenzalab/ensemble-backend/internal/protocol"
	"github.com/cadenzalab/ensemble-backend/internal/storage"
	"github.com/cadenzalab/ensemble-backend/internal/storage/memory"
	"github.com/cadenzalab/ensemble-backend/internal/ws"
)

// testConn implements ws.Connection and records everything.
type testConn struct {
	id     string
	userID string

	mu        sync.Mutex
	sent      []*protocol.Envelope
	closed    bool
	closeCode int
	closeWhy  string
}

func newTestConn(id, userID string) *testConn {
	return &testConn{id: id, userID: userID}
}

func (c *testConn) ID() string     { return c.id }
func (c *testConn) UserID() string { return c.userID }

func (c *testConn) Send(env *protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ws.ErrConnClosed
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *testConn) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCode = code
	c.closeWhy = reason
}

func (c *testConn) envelopes() []*protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*protocol.Envelope, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *testConn) actions() []string {
	envs := c.envelopes()
	out := make([]string, len(envs))
	for i, env := range envs {
		out[i] = env.Action
	}
	return out
}

func (c *testConn) lastEnvelope(t *testing.T) *protocol.Envelope {
	t.Helper()
	envs := c.envelopes()
	if len(envs) == 0 {
		t.Fatal("no envelopes received")
	}
	return envs[len(envs)-1]
}

// flakyStore wraps a real store and fails the next n SaveSession calls.
type flakyStore struct {
	storage.Store
	mu        sync.Mutex
	failSaves int
}

func (f *flakyStore) SaveSession(ctx context.Context, s *models.Session) error {
	f.mu.Lock()
	fail := f.failSaves > 0
	if fail {
		f.failSaves--
	}
	f.mu.Unlock()
	if fail {
		return errors.New("store unavailable")
	}
	return f.Store.SaveSession(ctx, s)
}

type fixture struct {
	store    *flakyStore
	registry *ws.Registry
	manager  *Manager
	engine   *Engine

	admin     *testConn // "alice", session admin
	peer      *testConn // "bob", plain member
	sessionID string
}

// newFixture builds a session with an admin (alice, connected), a member
// (bob, connected), and one empty track.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := &flakyStore{Store: memory.NewSessionStore()}
	registry := ws.NewRegistry(zerolog.Nop())
	broadcaster := ws.NewBroadcaster(registry, zerolog.Nop())
	manager := NewManager(store, registry, broadcaster, zerolog.Nop())
	t.Cleanup(manager.Shutdown)

	created, err := manager.CreateSession(ctx, "Test Jam", "alice", "Alice")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	eng, err := manager.Engine(ctx, created.ID)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if err := eng.Invite(ctx, "alice", "bob", "Bob", false); err != nil {
		t.Fatalf("invite: %v", err)
	}
	if err := eng.Join(ctx, "bob"); err != nil {
		t.Fatalf("join: %v", err)
	}

	f := &fixture{
		store:     store,
		registry:  registry,
		manager:   manager,
		engine:    eng,
		admin:     newTestConn("conn-alice", "alice"),
		peer:      newTestConn("conn-bob", "bob"),
		sessionID: created.ID,
	}
	if err := eng.Connect(ctx, f.admin); err != nil {
		t.Fatalf("connect alice: %v", err)
	}
	if err := eng.Connect(ctx, f.peer); err != nil {
		t.Fatalf("connect bob: %v", err)
	}
	f.send(t, f.admin, protocol.ActionAddTrack, protocol.AddTrackPayload{Name: "Lead", Instrument: "piano"})
	f.admin.mu.Lock()
	f.admin.sent = nil
	f.admin.mu.Unlock()
	f.peer.mu.Lock()
	f.peer.sent = nil
	f.peer.mu.Unlock()
	return f
}

// send marshals a request envelope and pushes it through the engine as if it
// arrived on conn.
func (f *fixture) send(t *testing.T, conn *testConn, action string, data any) {
	t.Helper()
	env, err := protocol.Request(action, data)
	if err != nil {
		t.Fatalf("build %s: %v", action, err)
	}
	raw, err := env.Encode()
	if err != nil {
		t.Fatalf("encode %s: %v", action, err)
	}
	f.engine.Handle(context.Background(), conn, raw)
}

func (f *fixture) snapshot(t *testing.T) *models.Session {
	t.Helper()
	snap, err := f.engine.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

func noteInput(corrID, pitch int, start, duration float64) protocol.NoteInput {
	return protocol.NoteInput{ClientNoteID: corrID, Pitch: pitch, Start: start, Duration: duration, Velocity: 100}
}

func TestAddNoteConfirmsAndBroadcasts(t *testing.T) {
	f := newFixture(t)

	f.send(t, f.admin, protocol.ActionAddNote, protocol.AddNotePayload{TrackID: 1, Note: noteInput(42, 60, 0, 1)})

	direct := f.admin.lastEnvelope(t)
	if !direct.Success || direct.Action != protocol.ActionAddNote {
		t.Fatalf("unexpected direct response: %+v", direct)
	}
	var result protocol.AddNoteResult
	if err := direct.DecodeData(&result); err != nil {
		t.Fatal(err)
	}
	if result.ClientNoteID != 42 || result.NoteID != 1 || result.TrackID != 1 {
		t.Fatalf("unexpected confirmation data: %+v", result)
	}

	peerEnv := f.peer.lastEnvelope(t)
	if peerEnv.Action != protocol.ActionAddNote || peerEnv.Source != "alice" {
		t.Fatalf("unexpected peer broadcast: %+v", peerEnv)
	}
	var b protocol.NoteBroadcast
	if err := peerEnv.DecodeData(&b); err != nil {
		t.Fatal(err)
	}
	if b.Note.ID != 1 || b.Note.ClientNoteID != 0 {
		t.Fatalf("peer payload leaked correlation id: %+v", b.Note)
	}
}

func TestConcurrentAddsGetDistinctConsecutiveIDs(t *testing.T) {
	f := newFixture(t)

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(corrID int) {
			defer wg.Done()
			f.send(t, f.admin, protocol.ActionAddNote, protocol.AddNotePayload{
				TrackID: 1,
				Note:    noteInput(corrID, 60, float64(corrID), 1),
			})
		}(i + 1)
	}
	wg.Wait()

	var ids []int
	for _, env := range f.admin.envelopes() {
		if env.Action != protocol.ActionAddNote || !env.Success {
			continue
		}
		var result protocol.AddNoteResult
		if err := env.DecodeData(&result); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, result.NoteID)
	}
	if len(ids) != n {
		t.Fatalf("expected %d confirmations, got %d", n, len(ids))
	}
	sort.Ints(ids)
	for i, id := range ids {
		if id != i+1 {
			t.Fatalf("ids not consecutive from 1: %v", ids)
		}
	}

	track := f.snapshot(t).Track(1)
	if track.LastEventID != n || len(track.Events) != n {
		t.Fatalf("counter %d, events %d; want %d", track.LastEventID, len(track.Events), n)
	}
}

func TestRejectedMutationNeverBroadcast(t *testing.T) {
	f := newFixture(t)

	// Out-of-range pitch: malformed, rejected at the boundary.
	f.send(t, f.admin, protocol.ActionAddNote, protocol.AddNotePayload{TrackID: 1, Note: noteInput(7, 200, 0, 1)})

	direct := f.admin.lastEnvelope(t)
	if direct.Success {
		t.Fatal("expected rejection")
	}
	var rej protocol.NoteReject
	if err := direct.DecodeData(&rej); err != nil {
		t.Fatal(err)
	}
	if rej.TrackID != 1 || rej.ClientNoteID != 7 {
		t.Fatalf("rejection lacks identifying data: %+v", rej)
	}
	if got := f.peer.actions(); len(got) != 0 {
		t.Fatalf("peers observed a rejected mutation: %v", got)
	}
}

func TestAddNoteUnknownTrackIsNotFound(t *testing.T) {
	f := newFixture(t)

	f.send(t, f.admin, protocol.ActionAddNote, protocol.AddNotePayload{TrackID: 99, Note: noteInput(1, 60, 0, 1)})
	direct := f.admin.lastEnvelope(t)
	if direct.Success {
		t.Fatal("expected not-found rejection")
	}
	if len(f.peer.actions()) != 0 {
		t.Fatal("not-found leaked to peers")
	}
}

func TestBatchAddIsAllOrNothing(t *testing.T) {
	f := newFixture(t)

	f.store.mu.Lock()
	f.store.failSaves = 1
	f.store.mu.Unlock()

	f.send(t, f.admin, protocol.ActionAddNotes, protocol.AddNotesPayload{
		TrackID: 1,
		Notes:   []protocol.NoteInput{noteInput(1, 60, 0, 1), noteInput(2, 64, 1, 1), noteInput(3, 67, 2, 1)},
	})

	direct := f.admin.lastEnvelope(t)
	if direct.Success {
		t.Fatal("expected infrastructure rejection")
	}
	if len(f.peer.actions()) != 0 {
		t.Fatal("partial batch visible to peers")
	}
	if track := f.snapshot(t).Track(1); len(track.Events) != 0 {
		t.Fatalf("partial state applied: %d events", len(track.Events))
	}

	// The store is healthy again; the retried batch commits whole with
	// consecutive ids (the failed attempt may have burned a run).
	f.send(t, f.admin, protocol.ActionAddNotes, protocol.AddNotesPayload{
		TrackID: 1,
		Notes:   []protocol.NoteInput{noteInput(4, 60, 0, 1), noteInput(5, 64, 1, 1)},
	})
	direct = f.admin.lastEnvelope(t)
	if !direct.Success {
		t.Fatalf("retry rejected: %s", direct.Msg)
	}
	var result protocol.AddNotesResult
	if err := direct.DecodeData(&result); err != nil {
		t.Fatal(err)
	}
	if len(result.Notes) != 2 || result.Notes[1].NoteID != result.Notes[0].NoteID+1 {
		t.Fatalf("batch ids not consecutive: %+v", result.Notes)
	}
}

func TestDeleteMissingNoteRejectsDirectlyWithoutBroadcast(t *testing.T) {
	f := newFixture(t)

	f.send(t, f.admin, protocol.ActionDeleteNote, protocol.DeleteNotePayload{TrackID: 1, NoteID: 12})
	direct := f.admin.lastEnvelope(t)
	if direct.Success {
		t.Fatal("expected not-found on the direct path")
	}
	if len(f.peer.actions()) != 0 {
		t.Fatal("no-op delete broadcast to peers")
	}
}

func TestTrackMutationsRequireAdmin(t *testing.T) {
	f := newFixture(t)

	f.send(t, f.peer, protocol.ActionDeleteTrack, protocol.DeleteTrackPayload{TrackID: 1})
	direct := f.peer.lastEnvelope(t)
	if direct.Success {
		t.Fatal("non-admin deleted a track")
	}

	f.send(t, f.peer, protocol.ActionUpdateTrack, protocol.UpdateTrackPayload{TrackID: 1, Name: "Hijacked", Volume: 1})
	direct = f.peer.lastEnvelope(t)
	if direct.Success {
		t.Fatal("non-admin updated a track")
	}
	if got := f.snapshot(t).Track(1).Name; got != "Lead" {
		t.Fatalf("track renamed by non-admin: %s", got)
	}
	if len(f.admin.actions()) != 0 {
		t.Fatal("forbidden mutation reached peers")
	}
}

func TestTempoChangeRescalesAllEvents(t *testing.T) {
	f := newFixture(t)

	f.send(t, f.admin, protocol.ActionAddNotes, protocol.AddNotesPayload{
		TrackID: 1,
		Notes:   []protocol.NoteInput{noteInput(1, 60, 2, 1), noteInput(2, 64, 4, 0.5)},
	})

	tempo := 90.0
	f.send(t, f.admin, protocol.ActionUpdateProject, protocol.UpdateProjectPayload{Tempo: &tempo})
	direct := f.admin.lastEnvelope(t)
	if !direct.Success {
		t.Fatalf("tempo change rejected: %s", direct.Msg)
	}

	snap := f.snapshot(t)
	if snap.Tempo != 90 {
		t.Fatalf("tempo %v, want 90", snap.Tempo)
	}
	factor := 120.0 / 90.0
	track := snap.Track(1)
	wantStarts := []float64{2 * factor, 4 * factor}
	wantDurs := []float64{1 * factor, 0.5 * factor}
	for i, note := range track.Events {
		if diff := note.Start - wantStarts[i]; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("note %d start %v, want %v", i, note.Start, wantStarts[i])
		}
		if diff := note.Duration - wantDurs[i]; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("note %d duration %v, want %v", i, note.Duration, wantDurs[i])
		}
	}

	// Playback schedule moved with the notes.
	for _, e := range f.engine.Timeline().Snapshot() {
		if e.NoteID == 1 {
			if diff := e.Start - 2*factor; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("schedule entry not rescaled: %v", e.Start)
			}
		}
	}
}

func TestTempoChangeWithNoEventsJustSetsTempo(t *testing.T) {
	f := newFixture(t)

	tempo := 90.0
	f.send(t, f.admin, protocol.ActionUpdateProject, protocol.UpdateProjectPayload{Tempo: &tempo})
	if direct := f.admin.lastEnvelope(t); !direct.Success {
		t.Fatalf("tempo change rejected: %s", direct.Msg)
	}
	if got := f.snapshot(t).Tempo; got != 90 {
		t.Fatalf("tempo %v, want 90", got)
	}
}

func TestTempoOutOfRangeRejected(t *testing.T) {
	f := newFixture(t)
	for _, bad := range []float64{0, -10, 301} {
		tempo := bad
		f.send(t, f.admin, protocol.ActionUpdateProject, protocol.UpdateProjectPayload{Tempo: &tempo})
		if direct := f.admin.lastEnvelope(t); direct.Success {
			t.Fatalf("tempo %v accepted", bad)
		}
	}
	if got := f.snapshot(t).Tempo; got != 120 {
		t.Fatalf("tempo moved to %v", got)
	}
}

func TestTempoRescaleAbortsCleanlyOnStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.send(t, f.admin, protocol.ActionAddNote, protocol.AddNotePayload{TrackID: 1, Note: noteInput(1, 60, 2, 1)})

	f.store.mu.Lock()
	f.store.failSaves = 1
	f.store.mu.Unlock()

	tempo := 60.0
	f.send(t, f.admin, protocol.ActionUpdateProject, protocol.UpdateProjectPayload{Tempo: &tempo})
	if direct := f.admin.lastEnvelope(t); direct.Success {
		t.Fatal("expected infrastructure rejection")
	}

	snap := f.snapshot(t)
	if snap.Tempo != 120 {
		t.Fatalf("tempo changed despite abort: %v", snap.Tempo)
	}
	if got := snap.Track(1).Events[0].Start; got != 2 {
		t.Fatalf("event rescaled despite abort: %v", got)
	}
}

func TestCommitOrderMatchesBroadcastOrder(t *testing.T) {
	f := newFixture(t)

	f.send(t, f.admin, protocol.ActionAddNote, protocol.AddNotePayload{TrackID: 1, Note: noteInput(1, 60, 0, 1)})
	f.send(t, f.admin, protocol.ActionDeleteNote, protocol.DeleteNotePayload{TrackID: 1, NoteID: 1})
	f.send(t, f.admin, protocol.ActionAddTrack, protocol.AddTrackPayload{Name: "Bass", Instrument: "bass"})

	want := []string{protocol.ActionAddNote, protocol.ActionDeleteNote, protocol.ActionAddTrack}
	got := f.peer.actions()
	if len(got) != len(want) {
		t.Fatalf("peer saw %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("broadcast order %v, want %v", got, want)
		}
	}
}

func TestReconnectReplacesWithoutOfflineNotice(t *testing.T) {
	f := newFixture(t)

	replacement := newTestConn("conn-alice-2", "alice")
	if err := f.engine.Connect(context.Background(), replacement); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	if !f.admin.closed || f.admin.closeCode != ws.CloseReplaced {
		t.Fatalf("prior connection closed=%v code=%d, want replaced", f.admin.closed, f.admin.closeCode)
	}
	for _, action := range f.peer.actions() {
		if action == protocol.ActionUserOffline || action == protocol.ActionUserOnline {
			t.Fatalf("reconnect produced a presence notice: %v", f.peer.actions())
		}
	}

	// The replaced connection's read loop unregisters late; stale, no notice.
	f.engine.Disconnect(f.admin)
	for _, action := range f.peer.actions() {
		if action == protocol.ActionUserOffline {
			t.Fatal("stale disconnect broadcast an offline notice")
		}
	}
}

func TestOrdinaryDisconnectNotifiesPeers(t *testing.T) {
	f := newFixture(t)

	f.engine.Disconnect(f.admin)
	peerEnv := f.peer.lastEnvelope(t)
	if peerEnv.Action != protocol.ActionUserOffline {
		t.Fatalf("expected userOffline, got %s", peerEnv.Action)
	}
	var p protocol.PresencePayload
	if err := peerEnv.DecodeData(&p); err != nil {
		t.Fatal(err)
	}
	if p.UserID != "alice" {
		t.Fatalf("offline notice for %s", p.UserID)
	}
}

func TestDeleteSessionClosesEveryConnectionWithoutPeerNotices(t *testing.T) {
	f := newFixture(t)

	third := newTestConn("conn-carol", "carol")
	if err := f.engine.Invite(context.Background(), "alice", "carol", "Carol", false); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.Join(context.Background(), "carol"); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.Connect(context.Background(), third); err != nil {
		t.Fatal(err)
	}
	// Clear the join notices before the deletion.
	for _, c := range []*testConn{f.admin, f.peer, third} {
		c.mu.Lock()
		c.sent = nil
		c.mu.Unlock()
	}

	f.send(t, f.admin, protocol.ActionDeleteProject, struct{}{})

	for _, c := range []*testConn{f.admin, f.peer, third} {
		if !c.closed || c.closeCode != ws.CloseSessionDeleted {
			t.Fatalf("conn %s closed=%v code=%d, want session deleted", c.id, c.closed, c.closeCode)
		}
		for _, action := range c.actions() {
			if action == protocol.ActionUserOffline || action == protocol.ActionUserRemoved {
				t.Fatalf("conn %s observed %s during session deletion", c.id, action)
			}
		}
	}

	if _, err := f.store.GetSession(context.Background(), f.sessionID); err != storage.ErrNotFound {
		t.Fatalf("session still stored: %v", err)
	}
	// The presence entry goes with the session: a deleted session must not
	// keep handing out its dead connections.
	if conns := f.registry.Connections(f.sessionID); len(conns) != 0 {
		t.Fatalf("registry still holds %d connections for a deleted session", len(conns))
	}
	// Late disconnects from unwinding read loops are silent no-ops and leave
	// nothing behind either.
	f.engine.Disconnect(f.peer)
	if conns := f.registry.Connections(f.sessionID); len(conns) != 0 {
		t.Fatalf("late disconnect resurrected %d registry entries", len(conns))
	}
}

func TestMutationAfterEngineStopRejected(t *testing.T) {
	f := newFixture(t)

	f.manager.Shutdown()

	f.send(t, f.admin, protocol.ActionAddNote, protocol.AddNotePayload{
		TrackID: 1,
		Note:    protocol.NoteInput{Pitch: 60, Start: 0, Duration: 1, Velocity: 100},
	})
	direct := f.admin.lastEnvelope(t)
	if direct.Success {
		t.Fatal("mutation accepted after engine stop")
	}
	if got := f.peer.actions(); len(got) != 0 {
		t.Fatalf("peer observed %v after engine stop", got)
	}
}

func TestDisconnectAfterEngineStopClearsRegistry(t *testing.T) {
	f := newFixture(t)

	// Shutdown stops the engine without closing connections, so the read
	// loops' disconnects arrive after the serialized loop is gone.
	f.manager.Shutdown()

	f.engine.Disconnect(f.admin)
	f.engine.Disconnect(f.peer)

	if conns := f.registry.Connections(f.sessionID); len(conns) != 0 {
		t.Fatalf("registry still holds %d connections after stop-time disconnects", len(conns))
	}
	if got := f.admin.actions(); len(got) != 0 {
		t.Fatalf("offline notices sent after engine stop: %v", got)
	}
}

func TestDeleteSessionRequiresAdmin(t *testing.T) {
	f := newFixture(t)

	f.send(t, f.peer, protocol.ActionDeleteProject, struct{}{})
	if direct := f.peer.lastEnvelope(t); direct.Success {
		t.Fatal("non-admin deleted the session")
	}
	if _, err := f.store.GetSession(context.Background(), f.sessionID); err != nil {
		t.Fatalf("session gone: %v", err)
	}
}

func TestSoleAdminCannotLeave(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.LeaveProject(context.Background(), "alice"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("sole admin leave: %v", err)
	}

	// A second admin unblocks the first.
	if err := f.engine.Invite(context.Background(), "alice", "dana", "Dana", true); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.Join(context.Background(), "dana"); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.LeaveProject(context.Background(), "alice"); err != nil {
		t.Fatalf("leave with another admin present: %v", err)
	}

	if f.admin.closeCode != ws.CloseRemoved {
		t.Fatalf("leaver closed with %d, want removed", f.admin.closeCode)
	}
	peerEnv := f.peer.lastEnvelope(t)
	if peerEnv.Action != protocol.ActionUserRemoved {
		t.Fatalf("peers saw %s, want userRemoved", peerEnv.Action)
	}
	// The removal close is not followed by an offline notice.
	f.engine.Disconnect(f.admin)
	for _, action := range f.peer.actions() {
		if action == protocol.ActionUserOffline {
			t.Fatal("offline notice after removal")
		}
	}
}

func TestMemberLeaveViaWebsocketAction(t *testing.T) {
	f := newFixture(t)

	f.send(t, f.peer, protocol.ActionLeaveProject, struct{}{})
	if f.peer.closeCode != ws.CloseRemoved {
		t.Fatalf("leaver close code %d", f.peer.closeCode)
	}
	if snap := f.snapshot(t); snap.Participant("bob") != nil {
		t.Fatal("participant still on the session after leave")
	}
}

func TestInviteAndJoinRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.engine.Invite(ctx, "bob", "carol", "Carol", false); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-admin invite: %v", err)
	}
	if err := f.engine.Invite(ctx, "alice", "bob", "Bob", false); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate invite: %v", err)
	}
	if err := f.engine.Join(ctx, "mallory"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("join without invite: %v", err)
	}

	// Invited but not yet joined: no live connection allowed.
	if err := f.engine.Invite(ctx, "alice", "carol", "Carol", false); err != nil {
		t.Fatal(err)
	}
	carol := newTestConn("conn-carol", "carol")
	if err := f.engine.Connect(ctx, carol); !errors.Is(err, ErrForbidden) {
		t.Fatalf("connect before join: %v", err)
	}
	if err := f.engine.Join(ctx, "carol"); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.Connect(ctx, carol); err != nil {
		t.Fatalf("connect after join: %v", err)
	}
}

func TestNonMemberCannotConnect(t *testing.T) {
	f := newFixture(t)

	stranger := newTestConn("conn-eve", "eve")
	err := f.engine.Connect(context.Background(), stranger)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger connect: %v", err)
	}
}

func TestMalformedFrameRejectedWithoutStateChange(t *testing.T) {
	f := newFixture(t)

	f.engine.Handle(context.Background(), f.admin, []byte("{broken"))
	direct := f.admin.lastEnvelope(t)
	if direct.Success {
		t.Fatal("malformed frame accepted")
	}

	raw, _ := json.Marshal(map[string]any{"action": "addNote", "data": map[string]any{"trackID": "five"}})
	f.engine.Handle(context.Background(), f.admin, raw)
	if direct := f.admin.lastEnvelope(t); direct.Success {
		t.Fatal("mistyped payload accepted")
	}
	if track := f.snapshot(t).Track(1); len(track.Events) != 0 {
		t.Fatal("malformed message changed state")
	}
}

func TestFocusTrackBroadcastToPeers(t *testing.T) {
	f := newFixture(t)

	f.send(t, f.admin, protocol.ActionFocusTrack, protocol.FocusTrackPayload{TrackID: 1})
	peerEnv := f.peer.lastEnvelope(t)
	if peerEnv.Action != protocol.ActionFocusTrack {
		t.Fatalf("expected focus broadcast, got %s", peerEnv.Action)
	}
	var b protocol.FocusBroadcast
	if err := peerEnv.DecodeData(&b); err != nil {
		t.Fatal(err)
	}
	if b.UserID != "alice" || b.TrackID != 1 {
		t.Fatalf("unexpected focus payload: %+v", b)
	}
	if got := f.snapshot(t).Participant("alice").FocusTrackID; got != 1 {
		t.Fatalf("focus not recorded: %d", got)
	}
}

func TestRegionsFromLiveEngine(t *testing.T) {
	f := newFixture(t)

	// measureLength at 120 bpm with 4 beats per measure is 2 seconds.
	f.send(t, f.admin, protocol.ActionAddNotes, protocol.AddNotesPayload{
		TrackID: 1,
		Notes:   []protocol.NoteInput{noteInput(1, 60, 0, 1), noteInput(2, 64, 1.5, 1)},
	})

	regs, err := f.engine.Regions(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(regs) != 1 {
		t.Fatalf("expected one region, got %d", len(regs))
	}
	if regs[0].Start != 0 || regs[0].End != 2.5 {
		t.Fatalf("region [%v, %v), want [0, 2.5)", regs[0].Start, regs[0].End)
	}

	if _, err := f.engine.Regions(context.Background(), 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing track: %v", err)
	}
}

func TestUpdateNote(t *testing.T) {
	f := newFixture(t)

	f.send(t, f.admin, protocol.ActionAddNote, protocol.AddNotePayload{TrackID: 1, Note: noteInput(1, 60, 0, 1)})
	f.send(t, f.admin, protocol.ActionUpdateNote, protocol.UpdateNotePayload{
		TrackID: 1, NoteID: 1, Pitch: 72, Start: 3, Duration: 2, Velocity: 90,
	})

	direct := f.admin.lastEnvelope(t)
	if !direct.Success {
		t.Fatalf("update rejected: %s", direct.Msg)
	}
	note := f.snapshot(t).Track(1).Event(1)
	if note.Pitch != 72 || note.Start != 3 || note.Duration != 2 || note.Velocity != 90 {
		t.Fatalf("update not applied: %+v", note)
	}
}
