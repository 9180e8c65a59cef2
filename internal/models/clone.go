package models

// Clone returns a deep copy of the session. Stores hand out and accept
// copies so the engine's working state never aliases stored state.
func (s *Session) Clone() *Session {
	out := *s
	out.Tracks = make([]*Track, len(s.Tracks))
	for i, t := range s.Tracks {
		out.Tracks[i] = t.Clone()
	}
	out.Participants = make([]*Participant, len(s.Participants))
	for i, p := range s.Participants {
		cp := *p
		out.Participants[i] = &cp
	}
	return &out
}

// Clone returns a deep copy of the track and its events.
func (t *Track) Clone() *Track {
	out := *t
	out.Events = make([]*NoteEvent, len(t.Events))
	for i, e := range t.Events {
		ce := *e
		out.Events[i] = &ce
	}
	return &out
}
