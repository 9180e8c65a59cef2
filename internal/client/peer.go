package client

import (
	"fmt"

	"github.com/cadenzalab/ensemble-backend/internal/protocol"
	"github.com/cadenzalab/ensemble-backend/internal/timeline"
)

// applyPeer applies a broadcast that originated with another participant.
// There is no speculative version of it locally, so no reconciliation step:
// the mutation lands directly.
func (s *State) applyPeer(env *protocol.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch env.Action {
	case protocol.ActionAddNote:
		var data protocol.NoteBroadcast
		if err := env.DecodeData(&data); err != nil {
			return err
		}
		track := s.session.Track(data.TrackID)
		if track == nil {
			return fmt.Errorf("client: peer note for unknown track %d", data.TrackID)
		}
		note := data.Note
		track.Events = append(track.Events, note)
		if note.ID > track.LastEventID {
			track.LastEventID = note.ID
		}
		s.schedule.Schedule(timeline.Entry{TrackID: track.ID, NoteID: note.ID, Start: note.Start, Duration: note.Duration})

	case protocol.ActionAddNotes:
		var data protocol.NotesBroadcast
		if err := env.DecodeData(&data); err != nil {
			return err
		}
		track := s.session.Track(data.TrackID)
		if track == nil {
			return fmt.Errorf("client: peer batch for unknown track %d", data.TrackID)
		}
		for _, note := range data.Notes {
			track.Events = append(track.Events, note)
			if note.ID > track.LastEventID {
				track.LastEventID = note.ID
			}
			s.schedule.Schedule(timeline.Entry{TrackID: track.ID, NoteID: note.ID, Start: note.Start, Duration: note.Duration})
		}

	case protocol.ActionUpdateNote:
		var data protocol.NoteBroadcast
		if err := env.DecodeData(&data); err != nil {
			return err
		}
		note := s.findNoteLocked(data.TrackID, data.Note.ID)
		if note == nil {
			return fmt.Errorf("client: peer update for unknown note %d", data.Note.ID)
		}
		*note = *data.Note
		s.schedule.Schedule(timeline.Entry{TrackID: data.TrackID, NoteID: note.ID, Start: note.Start, Duration: note.Duration})

	case protocol.ActionDeleteNote:
		var data protocol.DeleteNotePayload
		if err := env.DecodeData(&data); err != nil {
			return err
		}
		// Tolerated as a no-op when the note is already gone locally.
		s.removeNoteLocked(data.TrackID, data.NoteID)

	case protocol.ActionAddTrack, protocol.ActionUpdateTrack:
		var data protocol.TrackBroadcast
		if err := env.DecodeData(&data); err != nil {
			return err
		}
		if existing := s.session.Track(data.Track.ID); existing != nil {
			events := existing.Events
			*existing = *data.Track
			if data.Track.Events == nil {
				existing.Events = events
			}
			return nil
		}
		s.session.Tracks = append(s.session.Tracks, data.Track)
		if data.Track.ID > s.session.LastTrackID {
			s.session.LastTrackID = data.Track.ID
		}

	case protocol.ActionDeleteTrack:
		var data protocol.DeleteTrackPayload
		if err := env.DecodeData(&data); err != nil {
			return err
		}
		s.removeTrackLocked(data.TrackID)

	case protocol.ActionUpdateProject:
		var data protocol.ProjectBroadcast
		if err := env.DecodeData(&data); err != nil {
			return err
		}
		s.session.Name = data.Name
		if data.Tempo != s.session.Tempo && data.Tempo > 0 {
			factor := s.session.Tempo / data.Tempo
			for _, track := range s.session.Tracks {
				for _, note := range track.Events {
					note.Start *= factor
					note.Duration *= factor
				}
			}
			s.session.Tempo = data.Tempo
			s.schedule.Rescale(factor)
		}

	case protocol.ActionFocusTrack:
		var data protocol.FocusBroadcast
		if err := env.DecodeData(&data); err != nil {
			return err
		}
		if p := s.session.Participant(data.UserID); p != nil {
			p.FocusTrackID = data.TrackID
		}

	case protocol.ActionUserOnline, protocol.ActionUserOffline:
		var data protocol.PresencePayload
		if err := env.DecodeData(&data); err != nil {
			return err
		}
		if p := s.session.Participant(data.UserID); p != nil {
			p.Online = env.Action == protocol.ActionUserOnline
			if !p.Online {
				p.FocusTrackID = 0
			}
		}

	case protocol.ActionUserRemoved:
		var data protocol.PresencePayload
		if err := env.DecodeData(&data); err != nil {
			return err
		}
		for i, p := range s.session.Participants {
			if p.UserID == data.UserID {
				s.session.Participants = append(s.session.Participants[:i], s.session.Participants[i+1:]...)
				break
			}
		}

	default:
		return fmt.Errorf("client: unhandled peer action %q", env.Action)
	}
	return nil
}
