package models

// DefaultTempo is the tempo a freshly created session starts at.
const DefaultTempo = 120.0

// MaxTempo is the upper bound of the accepted tempo range; a tempo change
// outside (0, MaxTempo] is rejected.
const MaxTempo = 300.0

// DefaultPPQ is the pulses-per-quarter-note resolution new sessions use.
const DefaultPPQ = 96

// Session represents one shared collaborative timeline ("project"): an ordered
// set of tracks, the shared tempo, and the participants invited to edit it.
type Session struct {
	ID           string         `json:"id"`           // Unique identifier for the session (UUID)
	Name         string         `json:"name"`         // Display name of the session
	CreatorID    string         `json:"creatorID"`    // The ID of the participant who created this session
	Tempo        float64        `json:"tempo"`        // Shared tempo in beats per minute, applies to every track
	PPQ          int            `json:"ppq"`          // Pulses-per-quarter-note resolution
	LastTrackID  int            `json:"lastTrackID"`  // Monotonically increasing track id counter
	Tracks       []*Track       `json:"tracks"`       // Ordered track collection; track ids are unique within the session
	Participants []*Participant `json:"participants"` // Invited and joined members
}

// Track finds a track by id in the session's ordered collection, nil if
// absent.
func (s *Session) Track(trackID int) *Track {
	for _, t := range s.Tracks {
		if t.ID == trackID {
			return t
		}
	}
	return nil
}

// Participant finds a session member by user id, nil if absent.
func (s *Session) Participant(userID string) *Participant {
	for _, p := range s.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// AdminCount reports how many accepted members hold the session admin
// capability. A session must never drop to zero admins while it still exists.
func (s *Session) AdminCount() int {
	n := 0
	for _, p := range s.Participants {
		if p.IsAdmin {
			n++
		}
	}
	return n
}

// Participant is a session member. Exactly one live connection per participant
// per session exists at a time; a reconnect silently supersedes the old one.
type Participant struct {
	UserID       string `json:"userID"`       // Stable participant identifier (UUID)
	Username     string `json:"username"`     // Display name
	IsAdmin      bool   `json:"isAdmin"`      // Session admin capability (update/delete track, delete session)
	Accepted     bool   `json:"accepted"`     // false = invited but not yet joined
	Online       bool   `json:"online"`       // Live-connection presence flag
	FocusTrackID int    `json:"focusTrackID"` // Track the participant is currently editing; 0 = none
}
