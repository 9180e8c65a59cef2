package client

import (
	"fmt"
	"sync"

	"github.com/cadenzalab/ensemble-backend/internal/models"
	"github.com/cadenzalab/ensemble-backend/internal/protocol"
	"github.com/cadenzalab/ensemble-backend/internal/timeline"
)

// State is a participant's local replica of a session plus the
// pending-mutation table that reconciles speculative edits against server
// outcomes. Every mutating action gets a process-local correlation id, is
// applied immediately, and is later resolved by exactly one of two
// operations: confirm-and-remap or reject-and-undo. Broadcasts that carry a
// Source are peer mutations with no speculative counterpart and apply
// directly.
type State struct {
	mu       sync.Mutex
	session  *models.Session
	schedule *timeline.Timeline
	pending  map[pendingKey][]*pending
	nextCorr int
	tempID   int // distinct negative id space for tentative notes and tracks
}

// pendingKey locates a speculative mutation from a direct server response.
// Adds are matched by the correlation id; updates and deletes by the
// server-assigned id they target; track and project mutations resolve in
// submit order per action.
type pendingKey struct {
	action string
	id     int
}

type pending struct {
	confirm func(env *protocol.Envelope)
	undo    func()
}

// New builds a local replica around a session snapshot. tl may be nil when
// the client is not driving playback.
func New(session *models.Session, tl *timeline.Timeline) *State {
	if tl == nil {
		tl = timeline.New(nil)
	}
	return &State{
		session:  session,
		schedule: tl,
		pending:  make(map[pendingKey][]*pending),
	}
}

// Reload replaces the local replica with a fresh server snapshot, as after a
// reconnect. Pending speculative mutations are dropped: whatever the server
// decided about them is already folded into the snapshot.
func (s *State) Reload(session *models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
	s.pending = make(map[pendingKey][]*pending)
	var entries []timeline.Entry
	for _, track := range session.Tracks {
		for _, note := range track.Events {
			entries = append(entries, timeline.Entry{TrackID: track.ID, NoteID: note.ID, Start: note.Start, Duration: note.Duration})
		}
	}
	s.schedule.Replace(entries)
}

// Session returns a deep copy of the current local state.
func (s *State) Session() *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Clone()
}

// PendingCount reports how many speculative mutations await resolution.
func (s *State) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, list := range s.pending {
		n += len(list)
	}
	return n
}

// NextCorrelationID hands out the process-local id that ties a speculative
// mutation to its eventual server outcome. Never persisted, never shared.
func (s *State) NextCorrelationID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextCorrIDLocked()
}

func (s *State) nextCorrIDLocked() int {
	s.nextCorr++
	return s.nextCorr
}

func (s *State) nextTempIDLocked() int {
	s.tempID--
	return s.tempID
}

func (s *State) push(key pendingKey, p *pending) {
	s.pending[key] = append(s.pending[key], p)
}

func (s *State) pop(key pendingKey) *pending {
	list := s.pending[key]
	if len(list) == 0 {
		return nil
	}
	p := list[0]
	if len(list) == 1 {
		delete(s.pending, key)
	} else {
		s.pending[key] = list[1:]
	}
	return p
}

// HandleServer feeds one server-to-client envelope through the reconciliation
// state machine. Direct responses (no Source) resolve a pending mutation;
// envelopes with a Source are peer broadcasts and apply as-is.
func (s *State) HandleServer(env *protocol.Envelope) error {
	if env.Source != "" {
		return s.applyPeer(env)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := directKey(env)
	if err != nil {
		return err
	}
	p := s.pop(key)
	if p == nil {
		return fmt.Errorf("client: no pending mutation for %s (id %d)", env.Action, key.id)
	}
	if env.Success {
		p.confirm(env)
		return nil
	}
	// Reject-and-undo: exactly the one tentative change goes away, nothing
	// else is touched.
	p.undo()
	return nil
}

// directKey extracts the pending-table key from a direct response.
func directKey(env *protocol.Envelope) (pendingKey, error) {
	switch env.Action {
	case protocol.ActionAddNote:
		var data protocol.AddNoteResult
		if !env.Success {
			var rej protocol.NoteReject
			if err := env.DecodeData(&rej); err != nil {
				return pendingKey{}, err
			}
			return pendingKey{env.Action, rej.ClientNoteID}, nil
		}
		if err := env.DecodeData(&data); err != nil {
			return pendingKey{}, err
		}
		return pendingKey{env.Action, data.ClientNoteID}, nil
	case protocol.ActionAddNotes:
		// One batch resolves as one unit; batches complete in submit order.
		return pendingKey{env.Action, 0}, nil
	case protocol.ActionUpdateNote, protocol.ActionDeleteNote:
		var data protocol.NoteReject
		if err := env.DecodeData(&data); err != nil {
			return pendingKey{}, err
		}
		if data.NoteID != 0 {
			return pendingKey{env.Action, data.NoteID}, nil
		}
		var nb protocol.NoteBroadcast
		if err := env.DecodeData(&nb); err == nil && nb.Note != nil {
			return pendingKey{env.Action, nb.Note.ID}, nil
		}
		return pendingKey{env.Action, 0}, nil
	default:
		// Track and project level mutations resolve in submit order.
		return pendingKey{env.Action, 0}, nil
	}
}
