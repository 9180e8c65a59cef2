package client

import (
	"fmt"

	"github.com/cadenzalab/ensemble-backend/internal/models"
	"github.com/cadenzalab/ensemble-backend/internal/protocol"
	"github.com/cadenzalab/ensemble-backend/internal/timeline"
)

// AddNote applies a note speculatively under a temporary id, schedules its
// playback, and returns the request envelope plus the correlation id that
// will resolve it. On rejection the note (and its scheduling) vanishes; on
// confirmation only the id is remapped.
func (s *State) AddNote(trackID int, note protocol.NoteInput) (*protocol.Envelope, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	track := s.session.Track(trackID)
	if track == nil {
		return nil, 0, fmt.Errorf("client: no track %d", trackID)
	}

	corrID := s.nextCorrIDLocked()
	note.ClientNoteID = corrID
	tempID := s.nextTempIDLocked()
	tentative := &models.NoteEvent{
		ID:           tempID,
		ClientNoteID: corrID,
		Pitch:        note.Pitch,
		Start:        note.Start,
		Duration:     note.Duration,
		Velocity:     note.Velocity,
	}
	track.Events = append(track.Events, tentative)
	s.schedule.Schedule(timeline.Entry{TrackID: trackID, NoteID: tempID, Start: note.Start, Duration: note.Duration})

	s.push(pendingKey{protocol.ActionAddNote, corrID}, &pending{
		confirm: func(env *protocol.Envelope) {
			var result protocol.AddNoteResult
			if err := env.DecodeData(&result); err != nil {
				return
			}
			s.remapNoteLocked(trackID, tempID, result.NoteID)
		},
		undo: func() {
			s.removeNoteLocked(trackID, tempID)
		},
	})

	env, err := protocol.Request(protocol.ActionAddNote, protocol.AddNotePayload{TrackID: trackID, Note: note})
	if err != nil {
		return nil, 0, err
	}
	return env, corrID, nil
}

// AddNotes is the batch form of AddNote: all notes commit or none do, and
// the whole batch resolves as one pending unit.
func (s *State) AddNotes(trackID int, notes []protocol.NoteInput) (*protocol.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	track := s.session.Track(trackID)
	if track == nil {
		return nil, fmt.Errorf("client: no track %d", trackID)
	}

	tempIDs := make(map[int]int, len(notes)) // correlation id -> temp id
	for i := range notes {
		corrID := s.nextCorrIDLocked()
		notes[i].ClientNoteID = corrID
		tempID := s.nextTempIDLocked()
		tempIDs[corrID] = tempID
		track.Events = append(track.Events, &models.NoteEvent{
			ID:           tempID,
			ClientNoteID: corrID,
			Pitch:        notes[i].Pitch,
			Start:        notes[i].Start,
			Duration:     notes[i].Duration,
			Velocity:     notes[i].Velocity,
		})
		s.schedule.Schedule(timeline.Entry{TrackID: trackID, NoteID: tempID, Start: notes[i].Start, Duration: notes[i].Duration})
	}

	s.push(pendingKey{protocol.ActionAddNotes, 0}, &pending{
		confirm: func(env *protocol.Envelope) {
			var result protocol.AddNotesResult
			if err := env.DecodeData(&result); err != nil {
				return
			}
			for _, ref := range result.Notes {
				if tempID, ok := tempIDs[ref.ClientNoteID]; ok {
					s.remapNoteLocked(trackID, tempID, ref.NoteID)
				}
			}
		},
		undo: func() {
			for _, tempID := range tempIDs {
				s.removeNoteLocked(trackID, tempID)
			}
		},
	})

	return protocol.Request(protocol.ActionAddNotes, protocol.AddNotesPayload{TrackID: trackID, Notes: notes})
}

// UpdateNote applies new note fields speculatively; rejection restores the
// previous values and scheduling.
func (s *State) UpdateNote(p protocol.UpdateNotePayload) (*protocol.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	track := s.session.Track(p.TrackID)
	if track == nil {
		return nil, fmt.Errorf("client: no track %d", p.TrackID)
	}
	note := track.Event(p.NoteID)
	if note == nil {
		return nil, fmt.Errorf("client: no note %d on track %d", p.NoteID, p.TrackID)
	}

	before := *note
	note.Pitch = p.Pitch
	note.Start = p.Start
	note.Duration = p.Duration
	note.Velocity = p.Velocity
	s.schedule.Schedule(timeline.Entry{TrackID: p.TrackID, NoteID: p.NoteID, Start: p.Start, Duration: p.Duration})

	s.push(pendingKey{protocol.ActionUpdateNote, p.NoteID}, &pending{
		confirm: func(*protocol.Envelope) {},
		undo: func() {
			if cur := s.findNoteLocked(p.TrackID, p.NoteID); cur != nil {
				*cur = before
				s.schedule.Schedule(timeline.Entry{TrackID: p.TrackID, NoteID: p.NoteID, Start: before.Start, Duration: before.Duration})
			}
		},
	})

	return protocol.Request(protocol.ActionUpdateNote, p)
}

// DeleteNote removes a note speculatively; rejection reinserts it at its old
// position with its old scheduling.
func (s *State) DeleteNote(trackID, noteID int) (*protocol.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	track := s.session.Track(trackID)
	if track == nil {
		return nil, fmt.Errorf("client: no track %d", trackID)
	}
	idx := -1
	for i, n := range track.Events {
		if n.ID == noteID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("client: no note %d on track %d", noteID, trackID)
	}

	removed := track.Events[idx]
	at := idx
	track.Events = append(track.Events[:idx], track.Events[idx+1:]...)
	s.schedule.Cancel(trackID, noteID)

	s.push(pendingKey{protocol.ActionDeleteNote, noteID}, &pending{
		confirm: func(*protocol.Envelope) {},
		undo: func() {
			t := s.session.Track(trackID)
			if t == nil {
				return
			}
			if at > len(t.Events) {
				at = len(t.Events)
			}
			t.Events = append(t.Events[:at], append([]*models.NoteEvent{removed}, t.Events[at:]...)...)
			s.schedule.Schedule(timeline.Entry{TrackID: trackID, NoteID: noteID, Start: removed.Start, Duration: removed.Duration})
		},
	})

	return protocol.Request(protocol.ActionDeleteNote, protocol.DeleteNotePayload{TrackID: trackID, NoteID: noteID})
}

// AddTrack creates a track speculatively under a temporary id; confirmation
// remaps it to the server-assigned id.
func (s *State) AddTrack(name, instrument string) (*protocol.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tempID := s.nextTempIDLocked()
	track := &models.Track{ID: tempID, Name: name, Instrument: instrument, Volume: 1}
	s.session.Tracks = append(s.session.Tracks, track)

	s.push(pendingKey{protocol.ActionAddTrack, 0}, &pending{
		confirm: func(env *protocol.Envelope) {
			var result protocol.TrackBroadcast
			if err := env.DecodeData(&result); err != nil || result.Track == nil {
				return
			}
			if t := s.session.Track(tempID); t != nil {
				t.ID = result.Track.ID
			}
		},
		undo: func() {
			s.removeTrackLocked(tempID)
		},
	})

	return protocol.Request(protocol.ActionAddTrack, protocol.AddTrackPayload{Name: name, Instrument: instrument})
}

// UpdateTrack applies track settings speculatively.
func (s *State) UpdateTrack(p protocol.UpdateTrackPayload) (*protocol.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	track := s.session.Track(p.TrackID)
	if track == nil {
		return nil, fmt.Errorf("client: no track %d", p.TrackID)
	}
	before := *track

	track.Name = p.Name
	track.Instrument = p.Instrument
	track.Volume = p.Volume
	track.Pan = p.Pan
	track.Muted = p.Muted
	track.Solo = p.Solo

	s.push(pendingKey{protocol.ActionUpdateTrack, 0}, &pending{
		confirm: func(*protocol.Envelope) {},
		undo: func() {
			if t := s.session.Track(p.TrackID); t != nil {
				events := t.Events
				*t = before
				t.Events = events
			}
		},
	})

	return protocol.Request(protocol.ActionUpdateTrack, p)
}

// DeleteTrack removes a track speculatively, cancelling its scheduling;
// rejection restores it wholesale.
func (s *State) DeleteTrack(trackID int) (*protocol.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, t := range s.session.Tracks {
		if t.ID == trackID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("client: no track %d", trackID)
	}

	removed := s.session.Tracks[idx]
	at := idx
	s.session.Tracks = append(s.session.Tracks[:idx], s.session.Tracks[idx+1:]...)
	s.schedule.CancelTrack(trackID)

	s.push(pendingKey{protocol.ActionDeleteTrack, 0}, &pending{
		confirm: func(*protocol.Envelope) {},
		undo: func() {
			if at > len(s.session.Tracks) {
				at = len(s.session.Tracks)
			}
			s.session.Tracks = append(s.session.Tracks[:at], append([]*models.Track{removed}, s.session.Tracks[at:]...)...)
			for _, n := range removed.Events {
				s.schedule.Schedule(timeline.Entry{TrackID: trackID, NoteID: n.ID, Start: n.Start, Duration: n.Duration})
			}
		},
	})

	return protocol.Request(protocol.ActionDeleteTrack, protocol.DeleteTrackPayload{TrackID: trackID})
}

// UpdateProject applies a rename and/or tempo change speculatively. A tempo
// change rescales every local note and the playback schedule immediately;
// rejection puts back the exact timings recorded at submit time, so any
// speculative mutation applied in between keeps its state and its pending
// entry.
func (s *State) UpdateProject(p protocol.UpdateProjectPayload) (*protocol.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := p.Validate(); err != nil {
		return nil, err
	}

	prevName := s.session.Name
	prevTempo := s.session.Tempo
	var prevTimings []timeline.Entry
	if p.Name != nil {
		s.session.Name = *p.Name
	}
	if p.Tempo != nil && *p.Tempo != s.session.Tempo {
		factor := s.session.Tempo / *p.Tempo
		for _, track := range s.session.Tracks {
			for _, note := range track.Events {
				prevTimings = append(prevTimings, timeline.Entry{TrackID: track.ID, NoteID: note.ID, Start: note.Start, Duration: note.Duration})
				note.Start *= factor
				note.Duration *= factor
			}
		}
		s.session.Tempo = *p.Tempo
		s.schedule.Rescale(factor)
	}

	s.push(pendingKey{protocol.ActionUpdateProject, 0}, &pending{
		confirm: func(*protocol.Envelope) {},
		undo: func() {
			s.session.Name = prevName
			if s.session.Tempo == prevTempo {
				return
			}
			s.session.Tempo = prevTempo
			// Restore the recorded timings note by note; notes that appeared
			// after the submit are not in the record and stay untouched.
			for _, entry := range prevTimings {
				if note := s.findNoteLocked(entry.TrackID, entry.NoteID); note != nil {
					note.Start = entry.Start
					note.Duration = entry.Duration
					s.schedule.Schedule(entry)
				}
			}
		},
	})

	return protocol.Request(protocol.ActionUpdateProject, p)
}

// findNoteLocked returns the live note pointer, nil if gone.
func (s *State) findNoteLocked(trackID, noteID int) *models.NoteEvent {
	track := s.session.Track(trackID)
	if track == nil {
		return nil
	}
	return track.Event(noteID)
}

// remapNoteLocked swaps a tentative note's temporary id for the canonical
// server-assigned one, rescheduling under the new key. The rest of the
// optimistic state stays as it is.
func (s *State) remapNoteLocked(trackID, tempID, canonicalID int) {
	note := s.findNoteLocked(trackID, tempID)
	if note == nil {
		return
	}
	note.ID = canonicalID
	note.ClientNoteID = 0
	s.schedule.Cancel(trackID, tempID)
	s.schedule.Schedule(timeline.Entry{TrackID: trackID, NoteID: canonicalID, Start: note.Start, Duration: note.Duration})
}

// removeNoteLocked drops exactly one note and its in-flight scheduling.
func (s *State) removeNoteLocked(trackID, noteID int) {
	track := s.session.Track(trackID)
	if track == nil {
		return
	}
	for i, n := range track.Events {
		if n.ID == noteID {
			track.Events = append(track.Events[:i], track.Events[i+1:]...)
			break
		}
	}
	s.schedule.Cancel(trackID, noteID)
}

func (s *State) removeTrackLocked(trackID int) {
	for i, t := range s.session.Tracks {
		if t.ID == trackID {
			s.session.Tracks = append(s.session.Tracks[:i], s.session.Tracks[i+1:]...)
			break
		}
	}
	s.schedule.CancelTrack(trackID)
}
