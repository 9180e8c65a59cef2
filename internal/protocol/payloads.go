package protocol

import (
	"fmt"

	"github.com/cadenzalab/ensemble-backend/internal/models"
)

// NoteInput is the client-supplied shape of one note. ClientNoteID is the
// process-local correlation id the originator uses to reconcile the
// confirmation; it is never persisted.
type NoteInput struct {
	ClientNoteID int     `json:"clientNoteID"`
	Pitch        int     `json:"pitch"`
	Start        float64 `json:"start"`
	Duration     float64 `json:"duration"`
	Velocity     int     `json:"velocity"`
}

// Validate checks field bounds before the note reaches any state.
func (n *NoteInput) Validate() error {
	if n.Pitch < 0 || n.Pitch > models.MaxPitch {
		return fmt.Errorf("pitch %d out of range 0..%d", n.Pitch, models.MaxPitch)
	}
	if n.Velocity < 0 || n.Velocity > models.MaxVelocity {
		return fmt.Errorf("velocity %d out of range 0..%d", n.Velocity, models.MaxVelocity)
	}
	if n.Start < 0 {
		return fmt.Errorf("negative start %v", n.Start)
	}
	if n.Duration < 0 {
		return fmt.Errorf("negative duration %v", n.Duration)
	}
	return nil
}

// AddNote request data.
type AddNotePayload struct {
	TrackID int       `json:"trackID"`
	Note    NoteInput `json:"note"`
}

func (p *AddNotePayload) Validate() error {
	if p.TrackID <= 0 {
		return fmt.Errorf("bad trackID %d", p.TrackID)
	}
	return p.Note.Validate()
}

// AddNotes carries a batch that commits atomically or not at all.
type AddNotesPayload struct {
	TrackID int         `json:"trackID"`
	Notes   []NoteInput `json:"notes"`
}

func (p *AddNotesPayload) Validate() error {
	if p.TrackID <= 0 {
		return fmt.Errorf("bad trackID %d", p.TrackID)
	}
	if len(p.Notes) == 0 {
		return fmt.Errorf("empty note batch")
	}
	for i := range p.Notes {
		if err := p.Notes[i].Validate(); err != nil {
			return fmt.Errorf("note %d: %w", i, err)
		}
	}
	return nil
}

// NoteRef identifies one committed note in the direct confirmation: the
// correlation id the client sent paired with the id the server assigned.
type NoteRef struct {
	ClientNoteID int `json:"clientNoteID"`
	NoteID       int `json:"noteID"`
}

// AddNoteResult is the direct confirmation data for addNote.
type AddNoteResult struct {
	TrackID int `json:"trackID"`
	NoteRef
}

// AddNotesResult is the direct confirmation data for a batch add.
type AddNotesResult struct {
	TrackID int       `json:"trackID"`
	Notes   []NoteRef `json:"notes"`
}

// NoteReject is the direct rejection data for note mutations: just enough for
// the originator to find and drop its tentative change.
type NoteReject struct {
	TrackID      int `json:"trackID"`
	ClientNoteID int `json:"clientNoteID,omitempty"`
	NoteID       int `json:"noteID,omitempty"`
}

// UpdateNote request data; the note is addressed by its server-assigned id.
type UpdateNotePayload struct {
	TrackID  int     `json:"trackID"`
	NoteID   int     `json:"noteID"`
	Pitch    int     `json:"pitch"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Velocity int     `json:"velocity"`
}

func (p *UpdateNotePayload) Validate() error {
	if p.TrackID <= 0 || p.NoteID <= 0 {
		return fmt.Errorf("bad trackID %d / noteID %d", p.TrackID, p.NoteID)
	}
	n := NoteInput{Pitch: p.Pitch, Start: p.Start, Duration: p.Duration, Velocity: p.Velocity}
	return n.Validate()
}

// DeleteNote request data.
type DeleteNotePayload struct {
	TrackID int `json:"trackID"`
	NoteID  int `json:"noteID"`
}

func (p *DeleteNotePayload) Validate() error {
	if p.TrackID <= 0 || p.NoteID <= 0 {
		return fmt.Errorf("bad trackID %d / noteID %d", p.TrackID, p.NoteID)
	}
	return nil
}

// AddTrack request data.
type AddTrackPayload struct {
	Name       string `json:"name"`
	Instrument string `json:"instrument"`
}

func (p *AddTrackPayload) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("empty track name")
	}
	return nil
}

// UpdateTrack request data: a full replacement of the track's settings.
// Admin-only.
type UpdateTrackPayload struct {
	TrackID    int     `json:"trackID"`
	Name       string  `json:"name"`
	Instrument string  `json:"instrument"`
	Volume     float64 `json:"volume"`
	Pan        float64 `json:"pan"`
	Muted      bool    `json:"muted"`
	Solo       bool    `json:"solo"`
}

func (p *UpdateTrackPayload) Validate() error {
	if p.TrackID <= 0 {
		return fmt.Errorf("bad trackID %d", p.TrackID)
	}
	if p.Name == "" {
		return fmt.Errorf("empty track name")
	}
	if p.Volume < 0 || p.Volume > 1 {
		return fmt.Errorf("volume %v out of range 0..1", p.Volume)
	}
	if p.Pan < -1 || p.Pan > 1 {
		return fmt.Errorf("pan %v out of range -1..1", p.Pan)
	}
	return nil
}

// DeleteTrack request data. Admin-only.
type DeleteTrackPayload struct {
	TrackID int `json:"trackID"`
}

func (p *DeleteTrackPayload) Validate() error {
	if p.TrackID <= 0 {
		return fmt.Errorf("bad trackID %d", p.TrackID)
	}
	return nil
}

// UpdateProjectPayload renames the session and/or changes the shared tempo.
// Nil fields are left untouched.
type UpdateProjectPayload struct {
	Name  *string  `json:"name,omitempty"`
	Tempo *float64 `json:"tempo,omitempty"`
}

func (p *UpdateProjectPayload) Validate() error {
	if p.Name == nil && p.Tempo == nil {
		return fmt.Errorf("nothing to update")
	}
	if p.Name != nil && *p.Name == "" {
		return fmt.Errorf("empty project name")
	}
	if p.Tempo != nil && (*p.Tempo <= 0 || *p.Tempo > models.MaxTempo) {
		return fmt.Errorf("tempo %v out of range (0, %v]", *p.Tempo, models.MaxTempo)
	}
	return nil
}

// FocusTrackPayload announces which track the participant is editing;
// trackID 0 clears the focus.
type FocusTrackPayload struct {
	TrackID int `json:"trackID"`
}

// PresencePayload is the data of userOnline/userOffline/userRemoved
// notifications.
type PresencePayload struct {
	UserID   string `json:"userID"`
	Username string `json:"username,omitempty"`
}

// NoteBroadcast is the peer-facing payload of a committed single-note
// mutation. The note carries its server-assigned id; the originator's
// correlation id is not included, it means nothing to peers.
type NoteBroadcast struct {
	TrackID int               `json:"trackID"`
	Note    *models.NoteEvent `json:"note"`
}

// NotesBroadcast is the peer-facing payload of a committed batch add.
type NotesBroadcast struct {
	TrackID int                 `json:"trackID"`
	Notes   []*models.NoteEvent `json:"notes"`
}

// TrackBroadcast carries a full track on addTrack/updateTrack.
type TrackBroadcast struct {
	Track *models.Track `json:"track"`
}

// ProjectBroadcast carries the resolved session settings after an
// updateProject commit.
type ProjectBroadcast struct {
	Name  string  `json:"name"`
	Tempo float64 `json:"tempo"`
}

// FocusBroadcast announces a participant's current focus track to peers.
type FocusBroadcast struct {
	UserID  string `json:"userID"`
	TrackID int    `json:"trackID"`
}
