package models

// Pitch and velocity share the MIDI 0..127 range.
const (
	MaxPitch    = 127
	MaxVelocity = 127
)

// Track is an ordered voice/instrument lane within a session.
type Track struct {
	ID          int          `json:"id"`          // Numeric id, unique within the session
	Name        string       `json:"name"`        // Display name
	Instrument  string       `json:"instrument"`  // Instrument selector for the client's synth
	Volume      float64      `json:"volume"`      // 0..1
	Pan         float64      `json:"pan"`         // -1..1
	Muted       bool         `json:"muted"`       // Mute control
	Solo        bool         `json:"solo"`        // Solo control
	LastEventID int          `json:"lastEventID"` // Monotonically increasing note id counter
	Events      []*NoteEvent `json:"events"`      // Notes in insertion order
}

// Event finds a note by its server-assigned id, nil if absent.
func (t *Track) Event(eventID int) *NoteEvent {
	for _, e := range t.Events {
		if e.ID == eventID {
			return e
		}
	}
	return nil
}

// NoteEvent is a single timed note within a track. Start and Duration are in
// absolute seconds and stay non-negative; after a tempo rescale both carry the
// same time unit.
type NoteEvent struct {
	ID           int     `json:"id"`                     // Server-assigned id, unique per track
	ClientNoteID int     `json:"clientNoteID,omitempty"` // Correlation id, only meaningful to the originator, never persisted
	Pitch        int     `json:"pitch"`                  // 0..127
	Start        float64 `json:"start"`                  // Offset in seconds from session start
	Duration     float64 `json:"duration"`               // Length in seconds
	Velocity     int     `json:"velocity"`               // 0..127
}
