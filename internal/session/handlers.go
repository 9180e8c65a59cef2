package session

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/cadenzalab/ensemble-backend/internal/models"
	"github.com/cadenzalab/ensemble-backend/internal/protocol"
	"github.com/cadenzalab/ensemble-backend/internal/timeline"
	"github.com/cadenzalab/ensemble-backend/internal/ws"
)

// Handle decodes one inbound frame from conn and dispatches it. Decoding and
// field validation run on the connection's worker; everything that touches
// session state runs inside the serialized loop.
func (e *Engine) Handle(ctx context.Context, conn ws.Connection, raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		e.logger.Debug().Err(err).Str("user", conn.UserID()).Msg("malformed frame")
		e.reject(conn, "", nil, fmt.Errorf("%w: %v", ErrMalformed, err))
		return
	}

	switch env.Action {
	case protocol.ActionAddNote:
		e.handleAddNote(ctx, conn, env)
	case protocol.ActionAddNotes:
		e.handleAddNotes(ctx, conn, env)
	case protocol.ActionUpdateNote:
		e.handleUpdateNote(ctx, conn, env)
	case protocol.ActionDeleteNote:
		e.handleDeleteNote(ctx, conn, env)
	case protocol.ActionAddTrack:
		e.handleAddTrack(ctx, conn, env)
	case protocol.ActionUpdateTrack:
		e.handleUpdateTrack(ctx, conn, env)
	case protocol.ActionDeleteTrack:
		e.handleDeleteTrack(ctx, conn, env)
	case protocol.ActionUpdateProject:
		e.handleUpdateProject(ctx, conn, env)
	case protocol.ActionDeleteProject:
		e.handleDeleteProject(ctx, conn, env)
	case protocol.ActionLeaveProject:
		e.handleLeaveProject(ctx, conn, env)
	case protocol.ActionFocusTrack:
		e.handleFocusTrack(ctx, conn, env)
	default:
		e.reject(conn, env.Action, nil, fmt.Errorf("%w: unknown action %q", ErrMalformed, env.Action))
	}
}

// Connect registers conn as the participant's live connection. A prior
// connection for the same participant is closed as replaced, and in that case
// no fresh-join notice goes out.
func (e *Engine) Connect(ctx context.Context, conn ws.Connection) error {
	var denied error
	err := e.exec(ctx, func() {
		p := e.state.Participant(conn.UserID())
		if p == nil || !p.Accepted {
			denied = fmt.Errorf("%w: not a session member", ErrForbidden)
			return
		}
		prior := e.registry.Register(e.sessionID, conn.UserID(), conn)
		p.Online = true
		if prior != nil {
			prior.Close(ws.CloseReplaced, "replaced by newer connection")
			return
		}
		e.notifyPeers(protocol.ActionUserOnline, conn, protocol.PresencePayload{UserID: p.UserID, Username: p.Username})
	})
	if err != nil {
		return err
	}
	return denied
}

// Disconnect handles a connection going away. Stale connections (already
// replaced or removed) unregister as a no-op and produce no peer notice; only
// an ordinary drop of the live connection broadcasts "went offline".
func (e *Engine) Disconnect(conn ws.Connection) {
	err := e.exec(e.ctx, func() {
		if !e.registry.Unregister(e.sessionID, conn.UserID(), conn) {
			return
		}
		p := e.state.Participant(conn.UserID())
		if p == nil {
			return
		}
		p.Online = false
		p.FocusTrackID = 0
		e.notifyPeers(protocol.ActionUserOffline, conn, protocol.PresencePayload{UserID: p.UserID, Username: p.Username})
	})
	if err != nil {
		// Engine already stopped: the session was deleted and every peer is
		// disconnecting at once, so no notice is wanted anyway. The registry
		// entry can still be live if the stop raced ahead of this read loop,
		// so drop it directly rather than leaking it.
		e.registry.Unregister(e.sessionID, conn.UserID(), conn)
		e.logger.Debug().Str("user", conn.UserID()).Msg("disconnect after engine stop")
	}
}

func (e *Engine) handleAddNote(ctx context.Context, conn ws.Connection, env *protocol.Envelope) {
	var p protocol.AddNotePayload
	if err := env.DecodeData(&p); err != nil {
		e.reject(conn, env.Action, protocol.NoteReject{TrackID: p.TrackID, ClientNoteID: p.Note.ClientNoteID},
			fmt.Errorf("%w: %v", ErrMalformed, err))
		return
	}
	rejectData := protocol.NoteReject{TrackID: p.TrackID, ClientNoteID: p.Note.ClientNoteID}
	if err := p.Validate(); err != nil {
		e.reject(conn, env.Action, rejectData, fmt.Errorf("%w: %v", ErrMalformed, err))
		return
	}

	if err := e.exec(ctx, func() {
		track := e.state.Track(p.TrackID)
		if track == nil {
			e.reject(conn, env.Action, rejectData, fmt.Errorf("%w: track %d", ErrNotFound, p.TrackID))
			return
		}

		id, err := e.store.ReserveEventIDs(e.ctx, e.sessionID, p.TrackID, 1)
		if err != nil {
			e.reject(conn, env.Action, rejectData, fmt.Errorf("%w: %v", ErrInfra, err))
			return
		}

		prev := e.state.Clone()
		note := &models.NoteEvent{
			ID:       id,
			Pitch:    p.Note.Pitch,
			Start:    p.Note.Start,
			Duration: p.Note.Duration,
			Velocity: p.Note.Velocity,
		}
		track.LastEventID = id
		track.Events = append(track.Events, note)

		if err := e.store.SaveSession(e.ctx, e.state); err != nil {
			e.state = prev
			e.reject(conn, env.Action, rejectData, fmt.Errorf("%w: %v", ErrInfra, err))
			return
		}

		e.timeline.Schedule(timeline.Entry{TrackID: track.ID, NoteID: note.ID, Start: note.Start, Duration: note.Duration})
		e.confirm(conn, env.Action, protocol.AddNoteResult{
			TrackID: track.ID,
			NoteRef: protocol.NoteRef{ClientNoteID: p.Note.ClientNoteID, NoteID: note.ID},
		})
		e.notifyPeers(env.Action, conn, protocol.NoteBroadcast{TrackID: track.ID, Note: note})
	}); err != nil {
		e.reject(conn, env.Action, rejectData, err)
	}
}

func (e *Engine) handleAddNotes(ctx context.Context, conn ws.Connection, env *protocol.Envelope) {
	var p protocol.AddNotesPayload
	if err := env.DecodeData(&p); err != nil {
		e.reject(conn, env.Action, protocol.NoteReject{TrackID: p.TrackID}, fmt.Errorf("%w: %v", ErrMalformed, err))
		return
	}
	rejectData := protocol.NoteReject{TrackID: p.TrackID}
	if err := p.Validate(); err != nil {
		e.reject(conn, env.Action, rejectData, fmt.Errorf("%w: %v", ErrMalformed, err))
		return
	}

	if err := e.exec(ctx, func() {
		track := e.state.Track(p.TrackID)
		if track == nil {
			e.reject(conn, env.Action, rejectData, fmt.Errorf("%w: track %d", ErrNotFound, p.TrackID))
			return
		}

		// One reservation for the whole batch: ids come out consecutive and
		// either the whole batch commits or none of it does.
		first, err := e.store.ReserveEventIDs(e.ctx, e.sessionID, p.TrackID, len(p.Notes))
		if err != nil {
			e.reject(conn, env.Action, rejectData, fmt.Errorf("%w: %v", ErrInfra, err))
			return
		}

		prev := e.state.Clone()
		refs := make([]protocol.NoteRef, len(p.Notes))
		added := make([]*models.NoteEvent, len(p.Notes))
		for i, in := range p.Notes {
			note := &models.NoteEvent{
				ID:       first + i,
				Pitch:    in.Pitch,
				Start:    in.Start,
				Duration: in.Duration,
				Velocity: in.Velocity,
			}
			added[i] = note
			refs[i] = protocol.NoteRef{ClientNoteID: in.ClientNoteID, NoteID: note.ID}
			track.Events = append(track.Events, note)
		}
		track.LastEventID = first + len(p.Notes) - 1

		if err := e.store.SaveSession(e.ctx, e.state); err != nil {
			e.state = prev
			e.reject(conn, env.Action, rejectData, fmt.Errorf("%w: %v", ErrInfra, err))
			return
		}

		for _, note := range added {
			e.timeline.Schedule(timeline.Entry{TrackID: track.ID, NoteID: note.ID, Start: note.Start, Duration: note.Duration})
		}
		e.confirm(conn, env.Action, protocol.AddNotesResult{TrackID: track.ID, Notes: refs})
		e.notifyPeers(env.Action, conn, protocol.NotesBroadcast{TrackID: track.ID, Notes: added})
	}); err != nil {
		e.reject(conn, env.Action, rejectData, err)
	}
}

func (e *Engine) handleUpdateNote(ctx context.Context, conn ws.Connection, env *protocol.Envelope) {
	var p protocol.UpdateNotePayload
	if err := env.DecodeData(&p); err != nil {
		e.reject(conn, env.Action, protocol.NoteReject{TrackID: p.TrackID, NoteID: p.NoteID},
			fmt.Errorf("%w: %v", ErrMalformed, err))
		return
	}
	rejectData := protocol.NoteReject{TrackID: p.TrackID, NoteID: p.NoteID}
	if err := p.Validate(); err != nil {
		e.reject(conn, env.Action, rejectData, fmt.Errorf("%w: %v", ErrMalformed, err))
		return
	}

	if err := e.exec(ctx, func() {
		track := e.state.Track(p.TrackID)
		if track == nil {
			e.reject(conn, env.Action, rejectData, fmt.Errorf("%w: track %d", ErrNotFound, p.TrackID))
			return
		}
		note := track.Event(p.NoteID)
		if note == nil {
			e.reject(conn, env.Action, rejectData, fmt.Errorf("%w: note %d", ErrNotFound, p.NoteID))
			return
		}

		prev := e.state.Clone()
		note.Pitch = p.Pitch
		note.Start = p.Start
		note.Duration = p.Duration
		note.Velocity = p.Velocity

		if err := e.store.SaveSession(e.ctx, e.state); err != nil {
			e.state = prev
			e.reject(conn, env.Action, rejectData, fmt.Errorf("%w: %v", ErrInfra, err))
			return
		}

		e.timeline.Schedule(timeline.Entry{TrackID: track.ID, NoteID: note.ID, Start: note.Start, Duration: note.Duration})
		e.confirm(conn, env.Action, protocol.NoteBroadcast{TrackID: track.ID, Note: note})
		e.notifyPeers(env.Action, conn, protocol.NoteBroadcast{TrackID: track.ID, Note: note})
	}); err != nil {
		e.reject(conn, env.Action, rejectData, err)
	}
}

func (e *Engine) handleDeleteNote(ctx context.Context, conn ws.Connection, env *protocol.Envelope) {
	var p protocol.DeleteNotePayload
	if err := env.DecodeData(&p); err != nil {
		e.reject(conn, env.Action, protocol.NoteReject{TrackID: p.TrackID, NoteID: p.NoteID},
			fmt.Errorf("%w: %v", ErrMalformed, err))
		return
	}
	rejectData := protocol.NoteReject{TrackID: p.TrackID, NoteID: p.NoteID}
	if err := p.Validate(); err != nil {
		e.reject(conn, env.Action, rejectData, fmt.Errorf("%w: %v", ErrMalformed, err))
		return
	}

	if err := e.exec(ctx, func() {
		track := e.state.Track(p.TrackID)
		if track == nil {
			e.reject(conn, env.Action, rejectData, fmt.Errorf("%w: track %d", ErrNotFound, p.TrackID))
			return
		}
		idx := -1
		for i, n := range track.Events {
			if n.ID == p.NoteID {
				idx = i
				break
			}
		}
		if idx < 0 {
			// Deleting an already-gone note: no state change, nothing to
			// broadcast, but the direct path reports not-found.
			e.reject(conn, env.Action, rejectData, fmt.Errorf("%w: note %d", ErrNotFound, p.NoteID))
			return
		}

		prev := e.state.Clone()
		track.Events = append(track.Events[:idx], track.Events[idx+1:]...)

		if err := e.store.SaveSession(e.ctx, e.state); err != nil {
			e.state = prev
			e.reject(conn, env.Action, rejectData, fmt.Errorf("%w: %v", ErrInfra, err))
			return
		}

		e.timeline.Cancel(track.ID, p.NoteID)
		e.confirm(conn, env.Action, protocol.DeleteNotePayload{TrackID: track.ID, NoteID: p.NoteID})
		e.notifyPeers(env.Action, conn, protocol.DeleteNotePayload{TrackID: track.ID, NoteID: p.NoteID})
	}); err != nil {
		e.reject(conn, env.Action, rejectData, err)
	}
}

func (e *Engine) handleAddTrack(ctx context.Context, conn ws.Connection, env *protocol.Envelope) {
	var p protocol.AddTrackPayload
	if err := env.DecodeData(&p); err != nil {
		e.reject(conn, env.Action, nil, fmt.Errorf("%w: %v", ErrMalformed, err))
		return
	}
	if err := p.Validate(); err != nil {
		e.reject(conn, env.Action, nil, fmt.Errorf("%w: %v", ErrMalformed, err))
		return
	}

	if err := e.exec(ctx, func() {
		prev := e.state.Clone()
		track := &models.Track{
			ID:         e.state.LastTrackID + 1,
			Name:       p.Name,
			Instrument: p.Instrument,
			Volume:     1,
		}
		e.state.LastTrackID = track.ID
		e.state.Tracks = append(e.state.Tracks, track)

		if err := e.store.SaveSession(e.ctx, e.state); err != nil {
			e.state = prev
			e.reject(conn, env.Action, nil, fmt.Errorf("%w: %v", ErrInfra, err))
			return
		}

		e.confirm(conn, env.Action, protocol.TrackBroadcast{Track: track})
		e.notifyPeers(env.Action, conn, protocol.TrackBroadcast{Track: track})
	}); err != nil {
		e.reject(conn, env.Action, nil, err)
	}
}

func (e *Engine) handleUpdateTrack(ctx context.Context, conn ws.Connection, env *protocol.Envelope) {
	var p protocol.UpdateTrackPayload
	if err := env.DecodeData(&p); err != nil {
		e.reject(conn, env.Action, nil, fmt.Errorf("%w: %v", ErrMalformed, err))
		return
	}
	if err := p.Validate(); err != nil {
		e.reject(conn, env.Action, nil, fmt.Errorf("%w: %v", ErrMalformed, err))
		return
	}

	if err := e.exec(ctx, func() {
		if err := e.requireAdmin(conn.UserID()); err != nil {
			e.reject(conn, env.Action, nil, err)
			return
		}
		track := e.state.Track(p.TrackID)
		if track == nil {
			e.reject(conn, env.Action, nil, fmt.Errorf("%w: track %d", ErrNotFound, p.TrackID))
			return
		}

		prev := e.state.Clone()
		track.Name = p.Name
		track.Instrument = p.Instrument
		track.Volume = p.Volume
		track.Pan = p.Pan
		track.Muted = p.Muted
		track.Solo = p.Solo

		if err := e.store.SaveSession(e.ctx, e.state); err != nil {
			e.state = prev
			e.reject(conn, env.Action, nil, fmt.Errorf("%w: %v", ErrInfra, err))
			return
		}

		e.confirm(conn, env.Action, protocol.TrackBroadcast{Track: track})
		e.notifyPeers(env.Action, conn, protocol.TrackBroadcast{Track: track})
	}); err != nil {
		e.reject(conn, env.Action, nil, err)
	}
}

func (e *Engine) handleDeleteTrack(ctx context.Context, conn ws.Connection, env *protocol.Envelope) {
	var p protocol.DeleteTrackPayload
	if err := env.DecodeData(&p); err != nil {
		e.reject(conn, env.Action, nil, fmt.Errorf("%w: %v", ErrMalformed, err))
		return
	}
	if err := p.Validate(); err != nil {
		e.reject(conn, env.Action, nil, fmt.Errorf("%w: %v", ErrMalformed, err))
		return
	}

	if err := e.exec(ctx, func() {
		if err := e.requireAdmin(conn.UserID()); err != nil {
			e.reject(conn, env.Action, nil, err)
			return
		}
		idx := -1
		for i, t := range e.state.Tracks {
			if t.ID == p.TrackID {
				idx = i
				break
			}
		}
		if idx < 0 {
			e.reject(conn, env.Action, nil, fmt.Errorf("%w: track %d", ErrNotFound, p.TrackID))
			return
		}

		// No tombstone: the track is simply removed from the collection.
		prev := e.state.Clone()
		e.state.Tracks = append(e.state.Tracks[:idx], e.state.Tracks[idx+1:]...)

		if err := e.store.SaveSession(e.ctx, e.state); err != nil {
			e.state = prev
			e.reject(conn, env.Action, nil, fmt.Errorf("%w: %v", ErrInfra, err))
			return
		}

		e.timeline.CancelTrack(p.TrackID)
		e.confirm(conn, env.Action, protocol.DeleteTrackPayload{TrackID: p.TrackID})
		e.notifyPeers(env.Action, conn, protocol.DeleteTrackPayload{TrackID: p.TrackID})
	}); err != nil {
		e.reject(conn, env.Action, nil, err)
	}
}

func (e *Engine) handleUpdateProject(ctx context.Context, conn ws.Connection, env *protocol.Envelope) {
	var p protocol.UpdateProjectPayload
	if err := env.DecodeData(&p); err != nil {
		e.reject(conn, env.Action, nil, fmt.Errorf("%w: %v", ErrMalformed, err))
		return
	}
	if err := p.Validate(); err != nil {
		e.reject(conn, env.Action, nil, fmt.Errorf("%w: %v", ErrMalformed, err))
		return
	}

	if err := e.exec(ctx, func() {
		prev := e.state.Clone()
		if p.Name != nil {
			e.state.Name = *p.Name
		}

		factor := 1.0
		if p.Tempo != nil && *p.Tempo != e.state.Tempo {
			// Events stay at the same musical position: seconds scale by
			// oldTempo/newTempo. A session without tracks still gets the new
			// tempo, there is just nothing to rescale.
			factor = e.state.Tempo / *p.Tempo
			for _, track := range e.state.Tracks {
				for _, note := range track.Events {
					note.Start *= factor
					note.Duration *= factor
				}
			}
			e.state.Tempo = *p.Tempo
		}

		if err := e.store.SaveSession(e.ctx, e.state); err != nil {
			e.state = prev
			e.reject(conn, env.Action, nil, fmt.Errorf("%w: %v", ErrInfra, err))
			return
		}

		if factor != 1.0 {
			e.timeline.Rescale(factor)
		}
		result := protocol.ProjectBroadcast{Name: e.state.Name, Tempo: e.state.Tempo}
		e.confirm(conn, env.Action, result)
		e.notifyPeers(env.Action, conn, result)
	}); err != nil {
		e.reject(conn, env.Action, nil, err)
	}
}

func (e *Engine) handleDeleteProject(ctx context.Context, conn ws.Connection, env *protocol.Envelope) {
	err := e.DeleteProject(ctx, conn.UserID(), func() {
		e.confirm(conn, env.Action, nil)
	})
	if err != nil {
		e.reject(conn, env.Action, nil, err)
	}
}

// DeleteProject removes the session for good: durable state first, then every
// live connection is closed with the session-deleted code so peers do not
// mistake the shutdown for individual departures. beforeClose, when non-nil,
// runs after the durable delete and before the connections drop (the ws path
// uses it to get the originator's confirmation out). Shared by the websocket
// action and the HTTP delete endpoint.
func (e *Engine) DeleteProject(ctx context.Context, userID string, beforeClose func()) error {
	var failure error
	err := e.exec(ctx, func() {
		if err := e.requireAdmin(userID); err != nil {
			failure = err
			return
		}
		if err := e.store.DeleteSession(e.ctx, e.sessionID); err != nil {
			failure = fmt.Errorf("%w: %v", ErrInfra, err)
			return
		}
		if beforeClose != nil {
			beforeClose()
		}
		e.broadcaster.CloseSession(e.sessionID, ws.CloseSessionDeleted, "session deleted")
		e.logger.Info().Str("by", userID).Msg("session deleted")
		e.halt()
	})
	if err != nil {
		return err
	}
	return failure
}

func (e *Engine) handleLeaveProject(ctx context.Context, conn ws.Connection, env *protocol.Envelope) {
	if err := e.LeaveProject(ctx, conn.UserID()); err != nil {
		e.reject(conn, env.Action, nil, err)
		return
	}
	// The leaver's connection was already unregistered and closed with the
	// removed code inside LeaveProject; nothing more to send on it.
}

// LeaveProject removes the participant from the session. The sole remaining
// admin cannot leave: that would orphan the session with nobody able to
// manage it. One rule for both the websocket self-leave and the HTTP leave
// endpoint.
func (e *Engine) LeaveProject(ctx context.Context, userID string) error {
	var failure error
	err := e.exec(ctx, func() {
		idx := -1
		for i, p := range e.state.Participants {
			if p.UserID == userID {
				idx = i
				break
			}
		}
		if idx < 0 {
			failure = fmt.Errorf("%w: participant %s", ErrNotFound, userID)
			return
		}
		leaving := e.state.Participants[idx]
		if leaving.IsAdmin && e.state.AdminCount() == 1 {
			failure = fmt.Errorf("%w: sole admin cannot leave the session", ErrForbidden)
			return
		}

		prev := e.state.Clone()
		e.state.Participants = append(e.state.Participants[:idx], e.state.Participants[idx+1:]...)

		if err := e.store.SaveSession(e.ctx, e.state); err != nil {
			e.state = prev
			failure = fmt.Errorf("%w: %v", ErrInfra, err)
			return
		}

		// Unregister before closing so the read loop's disconnect is stale
		// and cannot add a spurious offline notice on top of the removal.
		conn := e.registry.Get(e.sessionID, userID)
		if conn != nil {
			e.registry.Unregister(e.sessionID, userID, conn)
		}
		e.notifyPeers(protocol.ActionUserRemoved, conn, protocol.PresencePayload{UserID: leaving.UserID, Username: leaving.Username})
		if conn != nil {
			conn.Close(ws.CloseRemoved, "left session")
		}
	})
	if err != nil {
		return err
	}
	return failure
}

func (e *Engine) handleFocusTrack(ctx context.Context, conn ws.Connection, env *protocol.Envelope) {
	var p protocol.FocusTrackPayload
	if err := env.DecodeData(&p); err != nil {
		e.reject(conn, env.Action, nil, fmt.Errorf("%w: %v", ErrMalformed, err))
		return
	}

	if err := e.exec(ctx, func() {
		participant := e.state.Participant(conn.UserID())
		if participant == nil {
			e.reject(conn, env.Action, nil, fmt.Errorf("%w: participant %s", ErrNotFound, conn.UserID()))
			return
		}
		if p.TrackID != 0 && e.state.Track(p.TrackID) == nil {
			e.reject(conn, env.Action, nil, fmt.Errorf("%w: track %d", ErrNotFound, p.TrackID))
			return
		}
		// Focus is presence state, not timeline state; no durable write.
		participant.FocusTrackID = p.TrackID
		e.notifyPeers(env.Action, conn, protocol.FocusBroadcast{UserID: conn.UserID(), TrackID: p.TrackID})
	}); err != nil {
		e.reject(conn, env.Action, nil, err)
	}
}

// requireAdmin enforces the session-admin capability. Runs inside the loop.
func (e *Engine) requireAdmin(userID string) error {
	p := e.state.Participant(userID)
	if p == nil {
		return fmt.Errorf("%w: participant %s", ErrNotFound, userID)
	}
	if !p.IsAdmin {
		return fmt.Errorf("%w: session admin required", ErrForbidden)
	}
	return nil
}

// confirm sends a direct success response to the originator. A dead
// originator is not an error: the mutation is already committed.
func (e *Engine) confirm(conn ws.Connection, action string, data any) {
	env, err := protocol.Confirmation(action, data)
	if err != nil {
		e.logger.Error().Err(err).Str("action", action).Msg("encode confirmation")
		return
	}
	if err := conn.Send(env); err != nil {
		e.logger.Debug().Err(err).Str("action", action).Msg("confirmation not delivered")
		conn.Close(websocket.CloseInternalServerErr, "delivery failed")
	}
}

// reject sends a direct failure response to the originator. Nothing reaches
// the peers.
func (e *Engine) reject(conn ws.Connection, action string, data any, cause error) {
	env, err := protocol.Rejection(action, data, cause.Error())
	if err != nil {
		e.logger.Error().Err(err).Str("action", action).Msg("encode rejection")
		return
	}
	if err := conn.Send(env); err != nil {
		e.logger.Debug().Err(err).Str("action", action).Msg("rejection not delivered")
	}
}

// notifyPeers broadcasts a committed mutation to everyone but the
// originator, inside the serialized loop: commit order is observation order.
func (e *Engine) notifyPeers(action string, origin ws.Connection, data any) {
	source := ""
	if origin != nil {
		source = origin.UserID()
	}
	env, err := protocol.Broadcast(action, source, data)
	if err != nil {
		e.logger.Error().Err(err).Str("action", action).Msg("encode broadcast")
		return
	}
	e.broadcaster.Broadcast(e.sessionID, env, origin)
}
